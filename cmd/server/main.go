package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"chatsync/internal/api"
	"chatsync/internal/config"
	"chatsync/internal/database"
	"chatsync/internal/server"
	"chatsync/internal/stats"
)

type stringSliceFlag []string

func (f *stringSliceFlag) String() string {
	return strings.Join(*f, ",")
}

func (f *stringSliceFlag) Set(value string) error {
	*f = append(*f, value)
	return nil
}

var (
	addr       = flag.String("addr", "localhost:8000", "server address")
	dsn        = flag.String("dsn", os.Getenv("CHATSYNC_DSN"), "database DSN (postgres URL or sqlite path)")
	signingKey = flag.String("signing-key", os.Getenv("CHATSYNC_SIGNING_KEY"), "base64-encoded token signing secret")

	allowedOrigins stringSliceFlag
)

func main() {
	flag.Var(&allowedOrigins, "allowed-origin", "allowed CORS origin, may be repeated")
	flag.Parse()

	logger := log.New(os.Stderr, "[chatsync] ", log.LstdFlags)

	cfg, err := config.NewConfig(*addr, *dsn, *signingKey, allowedOrigins)
	if err != nil {
		logger.Fatalln("config:", err)
	}

	db, err := database.NewRepository(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatalln("database:", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Println("db close:", err)
		}
	}()

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)
	statsUpdater.Run()
	defer statsUpdater.Stop()

	chatServer, err := server.NewChatServer(logger, db, statsUpdater, nil)
	if err != nil {
		logger.Fatalln("chat server:", err)
	}
	go chatServer.Run()

	app := api.NewChatSyncApp(mux, logger, chatServer, db, cfg)

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := app.Shutdown(shutDownCtx); err != nil {
		logger.Println("shutdown:", err)
	}

	if err := chatServer.Shutdown(shutDownCtx); err != nil {
		logger.Println("chat server shutdown:", err)
	}

	logger.Println("shutdown complete")
}
