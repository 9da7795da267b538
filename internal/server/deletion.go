package server

import (
	"fmt"
	"log"
	"time"

	"chatsync/internal/database"
)

const (
	storageRetries    = 3
	storageRetryDelay = 50 * time.Millisecond
)

// retryStorage runs fn with bounded backoff. It is the internal retry
// for transient storage failures; terminal errors are never routed
// through it.
func retryStorage(fn func() error) error {
	var err error
	for attempt := 0; attempt < storageRetries; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		time.Sleep(storageRetryDelay * time.Duration(attempt+1))
	}

	return fmt.Errorf("%w: %v", ErrStorage, err)
}

type deletionState int

const (
	deletionRequested deletionState = iota
	deletionClearing
	deletionRemovingRoom
	deletionDone
	deletionFailed
)

func (s deletionState) String() string {
	switch s {
	case deletionRequested:
		return "Requested"
	case deletionClearing:
		return "MessagesClearing"
	case deletionRemovingRoom:
		return "RoomRemoving"
	case deletionDone:
		return "Done"
	case deletionFailed:
		return "Failed"
	}
	return "Unknown"
}

// DeletionCoordinator removes a room's messages in batches, then the
// room record, in that order. The room row is only deleted after the
// message sweep reports zero remaining, so a reported success never
// leaves orphaned messages and a failure never leaves a half-deleted
// room: the room survives and the caller learns exactly which seq ids
// are still present.
type DeletionCoordinator struct {
	db        database.Repository
	log       *log.Logger
	batchSize int
}

func NewDeletionCoordinator(db database.Repository, logger *log.Logger) *DeletionCoordinator {
	return &DeletionCoordinator{
		db:        db,
		log:       logger,
		batchSize: 200,
	}
}

func (dc *DeletionCoordinator) Run(room database.Room) error {
	state := deletionRequested
	dc.log.Printf("deleting room %q: %s", room.ExternalId, state)

	state = deletionClearing
	if err := dc.clearMessages(room); err != nil {
		dc.log.Printf("deleting room %q: %s -> %s: %v", room.ExternalId, state, deletionFailed, err)
		return err
	}

	state = deletionRemovingRoom
	if err := retryStorage(func() error { return dc.db.DeleteRoom(room.Id) }); err != nil {
		dc.log.Printf("deleting room %q: %s -> %s: %v", room.ExternalId, state, deletionFailed, err)
		return err
	}

	state = deletionDone
	dc.log.Printf("deleting room %q: %s", room.ExternalId, state)
	return nil
}

func (dc *DeletionCoordinator) clearMessages(room database.Room) error {
	for {
		var deleted int
		err := retryStorage(func() error {
			var err error
			deleted, err = dc.db.DeleteMessagesBatch(room.Id, dc.batchSize)
			return err
		})
		if err != nil {
			return dc.partialFailure(room, err)
		}

		if deleted == 0 {
			break
		}
	}

	// the sweep claims the log is empty; verify before the room record
	// is allowed to go
	count, err := dc.db.CountMessages(room.Id)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if count > 0 {
		return dc.partialFailure(room, fmt.Errorf("%d messages survived the sweep", count))
	}

	return nil
}

func (dc *DeletionCoordinator) partialFailure(room database.Room, cause error) error {
	remaining, err := dc.db.ListMessageSeqIds(room.Id)
	if err != nil {
		dc.log.Println("ListMessageSeqIds:", err)
	}

	return &PartialFailure{
		RoomId:    room.ExternalId,
		Remaining: remaining,
		Cause:     cause,
	}
}
