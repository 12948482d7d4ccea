// Package audit records what the daemon did to external sinks: Timestream
// for the mission's data-flow dashboards, Slack for operator alerts. Sinks
// are best effort; a sink failure never touches the mirror itself.
package audit

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const (
	queueSize     = 256
	recordTimeout = 10 * time.Second
)

// Kind distinguishes operation records from daemon lifecycle marks.
type Kind string

const (
	KindOperation Kind = "operation"
	KindLifecycle Kind = "lifecycle"
)

// Lifecycle action names.
const (
	ActionStarted   = "STARTED"
	ActionBacktrack = "BACKTRACK"
	ActionShutdown  = "SHUTDOWN"
)

// Event is one audit record: a terminal operation result or a daemon
// lifecycle mark.
type Event struct {
	Kind     Kind
	Action   string // CREATE, UPDATE, PUT, DELETE, or a lifecycle action
	Path     string // local path, operation events only
	Key      string // remote key, operation events only
	Outcome  string
	Err      error
	Size     int64
	Duration time.Duration
	Detail   string // lifecycle text
	At       time.Time
}

// Lifecycle builds a daemon lifecycle event.
func Lifecycle(action, detail string) Event {
	return Event{Kind: KindLifecycle, Action: action, Detail: detail, At: time.Now()}
}

// Sink receives audit events. Implementations do their own I/O; the emitter
// logs their errors and moves on.
type Sink interface {
	Name() string
	Record(ctx context.Context, ev Event) error
}

// Emitter fans events out to all sinks from a single dispatch goroutine.
// Emit never blocks: when the queue is full the event is dropped with a
// warning. With zero sinks the emitter is a no-op.
type Emitter struct {
	sinks []Sink
	ch    chan Event

	mu     sync.Mutex
	closed bool

	wg sync.WaitGroup
}

func NewEmitter(sinks ...Sink) *Emitter {
	return &Emitter{
		sinks: sinks,
		ch:    make(chan Event, queueSize),
	}
}

func (e *Emitter) Start() {
	if len(e.sinks) == 0 {
		slog.Info("audit disabled, no sinks configured")
		return
	}

	names := make([]string, len(e.sinks))
	for i, s := range e.sinks {
		names[i] = s.Name()
	}
	slog.Info("audit start", "sinks", strings.Join(names, ","))

	e.wg.Add(1)
	go e.run()
}

// Emit queues ev for delivery. Safe to call from any goroutine.
func (e *Emitter) Emit(ev Event) {
	if len(e.sinks) == 0 {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	select {
	case e.ch <- ev:
	default:
		slog.Warn("audit queue full, dropping event", "action", ev.Action, "key", ev.Key)
	}
}

// Close stops intake, delivers everything already queued, and waits for the
// dispatch goroutine to finish.
func (e *Emitter) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	close(e.ch)
	e.wg.Wait()
}

func (e *Emitter) run() {
	defer e.wg.Done()
	for ev := range e.ch {
		e.record(ev)
	}
}

func (e *Emitter) record(ev Event) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	for _, sink := range e.sinks {
		if err := sink.Record(ctx, ev); err != nil {
			slog.Warn("audit sink failed", "sink", sink.Name(), "action", ev.Action, "error", err)
		}
	}
}
