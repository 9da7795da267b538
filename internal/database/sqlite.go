package database

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const sqliteBusyTimeout = 5000

// SqliteRepository is the embedded single-node backend. The connection
// pool is pinned to one connection so writes serialize at the driver
// level instead of returning SQLITE_BUSY.
type SqliteRepository struct {
	conn *sql.DB
}

func NewSqliteRepository(dsn string) (*SqliteRepository, error) {
	db, err := sql.Open("sqlite", sqliteDSN(dsn))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	repo := &SqliteRepository{conn: db}
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return repo, nil
}

func sqliteDSN(path string) string {
	switch {
	case strings.HasPrefix(path, "sqlite://"):
		path = "file:" + path[len("sqlite://"):]
	case strings.HasPrefix(path, "sqlite:"):
		path = "file:" + path[len("sqlite:"):]
	case strings.HasPrefix(path, "file:"), path == ":memory:":
		// already usable
	default:
		path = "file:" + path
	}
	separator := "?"
	if strings.Contains(path, "?") {
		separator = "&"
	}
	return fmt.Sprintf("%s%s_pragma=busy_timeout=%d&_pragma=foreign_keys=ON", path, separator, sqliteBusyTimeout)
}

func (db *SqliteRepository) Ping() error {
	return db.conn.Ping()
}

func (db *SqliteRepository) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

func (db *SqliteRepository) CreateRoom(params CreateRoomParams) (Room, error) {
	now := time.Now().UTC()
	res := db.conn.QueryRow(
		"INSERT INTO rooms (external_id, name, password_hash, created_by, seq_id, created_at, updated_at) "+
			"VALUES (?, ?, ?, ?, 0, ?, ?) "+
			"RETURNING id, external_id, name, password_hash, created_by, seq_id, created_at, updated_at",
		params.ExternalId,
		params.Name,
		params.PasswordHash,
		params.CreatedBy,
		now,
		now,
	)

	var room Room
	err := res.Scan(
		&room.Id,
		&room.ExternalId,
		&room.Name,
		&room.PasswordHash,
		&room.CreatedBy,
		&room.SeqId,
		&room.CreatedAt,
		&room.UpdatedAt,
	)

	return room, err
}

func (db *SqliteRepository) GetRoomByExternalId(externalId string) (Room, error) {
	row := db.conn.QueryRow(
		"SELECT id, external_id, name, password_hash, created_by, seq_id, created_at, updated_at "+
			"FROM rooms WHERE external_id = ? LIMIT 1",
		externalId,
	)

	var room Room
	err := row.Scan(
		&room.Id,
		&room.ExternalId,
		&room.Name,
		&room.PasswordHash,
		&room.CreatedBy,
		&room.SeqId,
		&room.CreatedAt,
		&room.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Room{}, ErrNotFound
	}

	return room, err
}

func (db *SqliteRepository) ListRooms(filter string) ([]Room, error) {
	rows, err := db.conn.Query(
		"SELECT id, external_id, name, password_hash, created_by, seq_id, created_at, updated_at "+
			"FROM rooms WHERE LOWER(name) LIKE '%' || LOWER(?) || '%' "+
			"ORDER BY created_at DESC, external_id",
		filter,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rooms = make([]Room, 0)
	for rows.Next() {
		var room Room
		if err = rows.Scan(
			&room.Id,
			&room.ExternalId,
			&room.Name,
			&room.PasswordHash,
			&room.CreatedBy,
			&room.SeqId,
			&room.CreatedAt,
			&room.UpdatedAt,
		); err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}

	return rooms, rows.Err()
}

func (db *SqliteRepository) DeleteRoom(id int) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	_, err = tx.Exec("DELETE FROM subscriptions WHERE room_id = ?", id)
	if err != nil {
		return err
	}

	_, err = tx.Exec("DELETE FROM rooms WHERE id = ?", id)
	if err != nil {
		return err
	}

	return tx.Commit()
}

func (db *SqliteRepository) CreateSubscription(accountId string, roomId int) (Subscription, error) {
	now := time.Now().UTC()
	res := db.conn.QueryRow(
		"INSERT INTO subscriptions (account_id, room_id, last_read_seq_id, created_at, updated_at) "+
			"VALUES (?, ?, 0, ?, ?) "+
			"ON CONFLICT (account_id, room_id) DO UPDATE SET updated_at = excluded.updated_at "+
			"RETURNING id, account_id, room_id, last_read_seq_id",
		accountId,
		roomId,
		now,
		now,
	)

	var sub Subscription
	err := res.Scan(
		&sub.Id,
		&sub.AccountId,
		&sub.RoomId,
		&sub.LastReadSeqId,
	)

	return sub, err
}

func (db *SqliteRepository) SubscriptionExists(accountId string, roomId int) bool {
	res := db.conn.QueryRow(
		"SELECT id FROM subscriptions WHERE account_id = ? AND room_id = ? LIMIT 1",
		accountId,
		roomId,
	)

	var id int
	return res.Scan(&id) == nil
}

func (db *SqliteRepository) ListSubscriptions(accountId string) ([]Subscription, error) {
	rows, err := db.conn.Query(
		"SELECT s.id, s.account_id, s.last_read_seq_id, s.created_at, s.updated_at, "+
			"r.id, r.external_id, r.name, r.password_hash, r.created_by, r.seq_id, r.created_at, r.updated_at "+
			"FROM subscriptions s JOIN rooms r ON r.id = s.room_id "+
			"WHERE s.account_id = ? ORDER BY r.created_at DESC, r.external_id",
		accountId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []Subscription
	for rows.Next() {
		var sub Subscription
		if err = rows.Scan(
			&sub.Id,
			&sub.AccountId,
			&sub.LastReadSeqId,
			&sub.CreatedAt,
			&sub.UpdatedAt,
			&sub.Room.Id,
			&sub.Room.ExternalId,
			&sub.Room.Name,
			&sub.Room.PasswordHash,
			&sub.Room.CreatedBy,
			&sub.Room.SeqId,
			&sub.Room.CreatedAt,
			&sub.Room.UpdatedAt,
		); err != nil {
			return nil, err
		}
		sub.RoomId = sub.Room.Id
		subs = append(subs, sub)
	}

	return subs, rows.Err()
}

func (db *SqliteRepository) ListSubscribersByRoomId(roomId int) ([]Subscription, error) {
	rows, err := db.conn.Query(
		"SELECT id, account_id, room_id, last_read_seq_id FROM subscriptions WHERE room_id = ?",
		roomId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs = make([]Subscription, 0)
	for rows.Next() {
		var sub Subscription
		if err = rows.Scan(&sub.Id, &sub.AccountId, &sub.RoomId, &sub.LastReadSeqId); err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}

	return subs, rows.Err()
}

func (db *SqliteRepository) DeleteSubscription(accountId string, roomId int) error {
	_, err := db.conn.Exec(
		"DELETE FROM subscriptions WHERE account_id = ? AND room_id = ?",
		accountId,
		roomId,
	)

	return err
}

func (db *SqliteRepository) UpdateLastReadSeqId(accountId string, roomId, seqId int) error {
	_, err := db.conn.Exec(
		"UPDATE subscriptions SET last_read_seq_id = ?, updated_at = ? "+
			"WHERE account_id = ? AND room_id = ? AND last_read_seq_id < ?",
		seqId,
		time.Now().UTC(),
		accountId,
		roomId,
		seqId,
	)

	return err
}

func (db *SqliteRepository) CreateMessage(params CreateMessageParams) (Message, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return Message{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	_, err = tx.Exec(
		"UPDATE rooms SET seq_id = ?, updated_at = ? WHERE id = ?",
		params.SeqId,
		time.Now().UTC(),
		params.RoomId,
	)
	if err != nil {
		return Message{}, err
	}

	res := tx.QueryRow(
		"INSERT INTO messages (room_id, seq_id, author_id, author_name, kind, content, created_at) "+
			"VALUES (?, ?, ?, ?, ?, ?, ?) "+
			"RETURNING id, room_id, seq_id, author_id, author_name, kind, content, created_at",
		params.RoomId,
		params.SeqId,
		params.AuthorId,
		params.AuthorName,
		params.Kind,
		params.Content,
		params.CreatedAt,
	)

	var msg Message
	err = res.Scan(
		&msg.Id,
		&msg.RoomId,
		&msg.SeqId,
		&msg.AuthorId,
		&msg.AuthorName,
		&msg.Kind,
		&msg.Content,
		&msg.CreatedAt,
	)
	if err != nil {
		return Message{}, err
	}

	if err = tx.Commit(); err != nil {
		return Message{}, err
	}

	return msg, nil
}

func (db *SqliteRepository) GetMessages(roomId, sinceSeq, limit int) ([]Message, error) {
	query := "SELECT id, room_id, seq_id, author_id, author_name, kind, content, created_at " +
		"FROM messages WHERE room_id = ? AND seq_id > ? ORDER BY seq_id"
	args := []any{roomId, sinceSeq}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages = make([]Message, 0)
	for rows.Next() {
		var msg Message
		if err = rows.Scan(
			&msg.Id,
			&msg.RoomId,
			&msg.SeqId,
			&msg.AuthorId,
			&msg.AuthorName,
			&msg.Kind,
			&msg.Content,
			&msg.CreatedAt,
		); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

func (db *SqliteRepository) LastMessageTime(roomId int) (int64, bool, error) {
	row := db.conn.QueryRow(
		"SELECT created_at FROM messages WHERE room_id = ? ORDER BY seq_id DESC LIMIT 1",
		roomId,
	)

	var t time.Time
	err := row.Scan(&t)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}

	return t.UnixMilli(), true, nil
}

func (db *SqliteRepository) CountMessages(roomId int) (int, error) {
	row := db.conn.QueryRow("SELECT COUNT(*) FROM messages WHERE room_id = ?", roomId)

	var count int
	err := row.Scan(&count)
	return count, err
}

func (db *SqliteRepository) DeleteAllMessages(roomId int) (int, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	_, err = tx.Exec("DELETE FROM message_receipts WHERE room_id = ?", roomId)
	if err != nil {
		return 0, err
	}

	res, err := tx.Exec("DELETE FROM messages WHERE room_id = ?", roomId)
	if err != nil {
		return 0, err
	}

	count, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	if err = tx.Commit(); err != nil {
		return 0, err
	}

	return int(count), nil
}

func (db *SqliteRepository) DeleteMessagesBatch(roomId, limit int) (int, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	_, err = tx.Exec(
		"DELETE FROM message_receipts WHERE room_id = ? AND seq_id IN "+
			"(SELECT seq_id FROM messages WHERE room_id = ? ORDER BY seq_id LIMIT ?)",
		roomId,
		roomId,
		limit,
	)
	if err != nil {
		return 0, err
	}

	res, err := tx.Exec(
		"DELETE FROM messages WHERE room_id = ? AND seq_id IN "+
			"(SELECT seq_id FROM messages WHERE room_id = ? ORDER BY seq_id LIMIT ?)",
		roomId,
		roomId,
		limit,
	)
	if err != nil {
		return 0, err
	}

	count, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	if err = tx.Commit(); err != nil {
		return 0, err
	}

	return int(count), nil
}

func (db *SqliteRepository) ListMessageSeqIds(roomId int) ([]int, error) {
	rows, err := db.conn.Query(
		"SELECT seq_id FROM messages WHERE room_id = ? ORDER BY seq_id",
		roomId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var seqIds = make([]int, 0)
	for rows.Next() {
		var seqId int
		if err = rows.Scan(&seqId); err != nil {
			return nil, err
		}
		seqIds = append(seqIds, seqId)
	}

	return seqIds, rows.Err()
}

func (db *SqliteRepository) CreateReceipt(roomId, seqId int, readerId string) error {
	_, err := db.conn.Exec(
		"INSERT INTO message_receipts (room_id, seq_id, reader_id, created_at) "+
			"VALUES (?, ?, ?, ?) ON CONFLICT (room_id, seq_id, reader_id) DO NOTHING",
		roomId,
		seqId,
		readerId,
		time.Now().UTC(),
	)

	return err
}

func (db *SqliteRepository) GetReceipts(roomId, sinceSeq int) ([]Receipt, error) {
	rows, err := db.conn.Query(
		"SELECT room_id, seq_id, reader_id, created_at FROM message_receipts "+
			"WHERE room_id = ? AND seq_id > ? ORDER BY seq_id",
		roomId,
		sinceSeq,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var receipts = make([]Receipt, 0)
	for rows.Next() {
		var rc Receipt
		if err = rows.Scan(&rc.RoomId, &rc.SeqId, &rc.ReaderId, &rc.CreatedAt); err != nil {
			return nil, err
		}
		receipts = append(receipts, rc)
	}

	return receipts, rows.Err()
}
