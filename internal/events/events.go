// Package events is an explicit observer set: callers register plain
// handler functions per event kind rather than Queue/Worker inheriting
// from an emitter base type. The Bus keeps a mutex-protected handler
// map per kind and copies the slice before dispatch, so a slow handler
// never holds the lock during delivery.
package events

import (
	"sync"
	"time"

	"github.com/manish-singh-bisht/Remote-Job-Executor/internal/entity"
)

// Kind names one lifecycle event a Queue or worker Pool can emit.
type Kind string

const (
	JobStarted   Kind = "jobStarted"
	JobCompleted Kind = "jobCompleted"
	JobFailed    Kind = "jobFailed"
	JobStalled   Kind = "jobStalled"
	Paused       Kind = "paused"
	Resumed      Kind = "resumed"
)

// Event is the envelope delivered to observers. Only the fields
// relevant to Kind are populated.
type Event struct {
	Kind      Kind
	At        time.Time
	QueueName string
	Job       *entity.Job
	Jobs      []entity.Job // JobStalled carries the whole swept batch
	Err       error        // JobFailed
}

// Handler observes one event.
type Handler func(Event)

// Bus is a process-local, in-memory fan-out of Events to registered
// Handlers. It is not a source of truth for anything; losing an event
// (e.g. no handlers registered) has no effect on queue correctness.
type Bus struct {
	mu       sync.RWMutex
	handlers map[Kind][]Handler
}

func NewBus() *Bus {
	return &Bus{handlers: make(map[Kind][]Handler)}
}

// On registers h to be called for every future Event of kind.
func (b *Bus) On(kind Kind, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[kind] = append(b.handlers[kind], h)
}

// Emit dispatches ev to every handler registered for ev.Kind.
// Handlers run synchronously on the caller's goroutine, in
// registration order; a slow handler slows the emitter.
func (b *Bus) Emit(ev Event) {
	b.mu.RLock()
	hs := append([]Handler(nil), b.handlers[ev.Kind]...)
	b.mu.RUnlock()

	for _, h := range hs {
		h(ev)
	}
}
