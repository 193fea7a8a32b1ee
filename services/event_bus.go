package services

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// maxRecentEntries bounds the ring of entries kept for the log endpoint.
const maxRecentEntries = 100

// LogCallback receives one formatted event-bus entry.
type LogCallback func(entry string)

// EventBus fans timestamped log entries out to display subscribers. Error
// entries are prefixed with "ERROR:" after the timestamp; the display side
// relies on that literal marker to drive its status banner, so the format is
// part of the contract.
type EventBus struct {
	mu          sync.Mutex
	subscribers map[int]LogCallback
	nextID      int
	recent      []string
	logger      *logrus.Logger
	now         func() time.Time
}

// NewEventBus creates an event bus backed by a logrus logger.
func NewEventBus() *EventBus {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	return &EventBus{
		subscribers: make(map[int]LogCallback),
		logger:      logger,
		now:         time.Now,
	}
}

// Subscribe registers a display callback and returns an unsubscribe func.
func (b *EventBus) Subscribe(cb LogCallback) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.subscribers[id] = cb

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subscribers, id)
	}
}

// Logf publishes an informational entry.
func (b *EventBus) Logf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	b.logger.Info(msg)
	b.publish(fmt.Sprintf("[%s] %s", b.now().Format("15:04:05"), msg))
}

// Errorf publishes an error entry carrying the "ERROR:" marker.
func (b *EventBus) Errorf(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	b.logger.Error(msg)
	b.publish(fmt.Sprintf("[%s] ERROR: %s", b.now().Format("15:04:05"), msg))
}

// Recent returns a copy of the buffered entries, oldest first.
func (b *EventBus) Recent() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]string, len(b.recent))
	copy(out, b.recent)
	return out
}

func (b *EventBus) publish(entry string) {
	b.mu.Lock()
	b.recent = append(b.recent, entry)
	if len(b.recent) > maxRecentEntries {
		b.recent = b.recent[len(b.recent)-maxRecentEntries:]
	}
	cbs := make([]LogCallback, 0, len(b.subscribers))
	for _, cb := range b.subscribers {
		cbs = append(cbs, cb)
	}
	b.mu.Unlock()

	for _, cb := range cbs {
		cb(entry)
	}
}
