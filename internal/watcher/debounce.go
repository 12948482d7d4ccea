package watcher

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Debouncer collapses bursts of events for the same path into one. Writers
// produce storms of Modified events while a file fills up; only the last
// event within the quiet window survives. A final Deleted wins over any
// earlier Created/Modified in the window, so a short-lived file produces a
// single delete downstream instead of an upload of a vanished path.
type Debouncer struct {
	window  time.Duration
	in      <-chan FileEvent
	out     chan FileEvent
	pending map[string]FileEvent
	timers  map[string]*time.Timer
	mu      sync.Mutex
	closed  bool
	done    chan struct{}
	wg      sync.WaitGroup
}

func NewDebouncer(in <-chan FileEvent, window time.Duration) *Debouncer {
	return &Debouncer{
		window:  window,
		in:      in,
		out:     make(chan FileEvent, eventBufferSize),
		pending: make(map[string]FileEvent),
		timers:  make(map[string]*time.Timer),
		done:    make(chan struct{}),
	}
}

func (d *Debouncer) Start(ctx context.Context) {
	d.wg.Add(1)
	go d.run(ctx)
}

// Stop ends debouncing. Pending events are flushed downstream before the
// output channel closes.
func (d *Debouncer) Stop() {
	close(d.done)
	d.wg.Wait()
}

func (d *Debouncer) Events() <-chan FileEvent {
	return d.out
}

func (d *Debouncer) run(ctx context.Context) {
	defer func() {
		d.drain()
		close(d.out)
		d.wg.Done()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.done:
			return
		case ev, ok := <-d.in:
			if !ok {
				return
			}
			d.debounce(ev)
		}
	}
}

// debounce restarts the quiet window for the event's path. The stored event
// is replaced, so whatever arrives last wins the window.
func (d *Debouncer) debounce(ev FileEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if timer, exists := d.timers[ev.Path]; exists {
		timer.Stop()
	}

	d.pending[ev.Path] = ev

	path := ev.Path
	d.timers[path] = time.AfterFunc(d.window, func() {
		d.flush(path)
	})
}

// flush sends the pending event for a path once its window has elapsed.
func (d *Debouncer) flush(path string) {
	d.mu.Lock()
	ev, exists := d.pending[path]
	if !exists || d.closed {
		d.mu.Unlock()
		return
	}
	delete(d.pending, path)
	delete(d.timers, path)
	d.mu.Unlock()

	d.emit(ev)
}

// drain cancels all timers and pushes whatever is still pending downstream.
// Called once on the way out; timer callbacks racing with this see the
// closed flag and back off.
func (d *Debouncer) drain() {
	d.mu.Lock()
	d.closed = true
	var remaining []FileEvent
	for path, timer := range d.timers {
		timer.Stop()
		if ev, exists := d.pending[path]; exists {
			remaining = append(remaining, ev)
		}
	}
	d.pending = make(map[string]FileEvent)
	d.timers = make(map[string]*time.Timer)
	d.mu.Unlock()

	for _, ev := range remaining {
		d.emit(ev)
	}
}

func (d *Debouncer) emit(ev FileEvent) {
	select {
	case d.out <- ev:
		slog.Debug("debounce flush", "kind", ev.Kind, "path", ev.Path)
	default:
		slog.Warn("debounce dropped event", "reason", "channel full", "path", ev.Path)
	}
}
