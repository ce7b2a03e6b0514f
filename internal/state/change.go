package state

import (
	"context"
	"sync"
	"time"
)

// ChangeKind classifies a state change.
type ChangeKind string

const (
	// ChangeUpdate is a merge of device-reported fields.
	ChangeUpdate ChangeKind = "update"

	// ChangeOffline is a disconnect that marked the record offline.
	ChangeOffline ChangeKind = "offline"
)

// Change describes one mutation of the store.
type Change struct {
	DeviceID string
	Kind     ChangeKind
	Delta    Fields // fields carried by the update; nil for ChangeOffline
	Record   Record // record immediately after the change
	At       time.Time
}

// Observer is notified after every state change.
//
// OnChange runs on the goroutine that made the change, which is a device's
// read loop. Implementations must not block; wrap slow sinks in a Queue.
type Observer interface {
	OnChange(c Change)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(c Change)

// OnChange implements Observer.
func (f ObserverFunc) OnChange(c Change) { f(c) }

// Fanout delivers each change to a list of observers in registration order.
type Fanout struct {
	mu        sync.RWMutex
	observers []Observer
}

// Add registers an observer.
func (f *Fanout) Add(o Observer) {
	f.mu.Lock()
	f.observers = append(f.observers, o)
	f.mu.Unlock()
}

// OnChange implements Observer.
func (f *Fanout) OnChange(c Change) {
	f.mu.RLock()
	observers := f.observers
	f.mu.RUnlock()

	for _, o := range observers {
		o.OnChange(c)
	}
}

// Logger is the logging interface used by Queue.
type Logger interface {
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Queue decouples a slow observer (database, broker) from the device read
// loops. Changes are buffered and delivered by a single goroutine in order;
// when the buffer is full the change is dropped and logged.
type Queue struct {
	name    string
	target  Observer
	changes chan Change
	logger  Logger
	done    chan struct{}
	once    sync.Once
}

// NewQueue creates a queue of the given capacity in front of target.
// Run must be called to start delivery.
func NewQueue(name string, target Observer, size int) *Queue {
	if size <= 0 {
		size = 256
	}
	return &Queue{
		name:    name,
		target:  target,
		changes: make(chan Change, size),
		logger:  noopLogger{},
		done:    make(chan struct{}),
	}
}

// SetLogger sets the logger used for dropped changes and sink panics.
func (q *Queue) SetLogger(logger Logger) {
	q.logger = logger
}

// OnChange implements Observer. It never blocks.
func (q *Queue) OnChange(c Change) {
	select {
	case <-q.done:
		return
	default:
	}

	select {
	case q.changes <- c:
	default:
		q.logger.Warn("state change queue full, dropping change",
			"queue", q.name,
			"device_id", c.DeviceID,
			"kind", c.Kind,
		)
	}
}

// Run delivers queued changes until ctx is cancelled, then drains what is
// already buffered and returns.
func (q *Queue) Run(ctx context.Context) {
	defer q.once.Do(func() { close(q.done) })

	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case c := <-q.changes:
					q.deliver(c)
				default:
					return
				}
			}
		case c := <-q.changes:
			q.deliver(c)
		}
	}
}

// deliver calls the target, isolating panics so one bad sink cannot stop the queue.
func (q *Queue) deliver(c Change) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("state change observer panic recovered",
				"queue", q.name,
				"device_id", c.DeviceID,
				"panic", r,
			)
		}
	}()
	q.target.OnChange(c)
}
