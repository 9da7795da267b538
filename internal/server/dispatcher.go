package server

import "log"

// Dispatcher receives a "new message in room R" event for every
// subscriber without a live connection. Implementations hand the event
// to a push-notification service out-of-band; a dispatcher error is
// logged and never fails the append that triggered it.
type Dispatcher interface {
	NewMessage(roomId string, seqId int, recipients []string) error
}

// LogDispatcher is the default dispatcher: it only records the event.
type LogDispatcher struct {
	log *log.Logger
}

func NewLogDispatcher(logger *log.Logger) *LogDispatcher {
	return &LogDispatcher{log: logger}
}

func (d *LogDispatcher) NewMessage(roomId string, seqId int, recipients []string) error {
	d.log.Printf("notify: message %d in room %q for %d offline subscribers", seqId, roomId, len(recipients))
	return nil
}
