package watcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectEvents(t *testing.T, ch <-chan FileEvent, wait time.Duration) []FileEvent {
	t.Helper()
	var got []FileEvent
	timeout := time.After(wait)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return got
			}
			got = append(got, ev)
		case <-timeout:
			return got
		}
	}
}

func TestDebouncer_CollapsesBurst(t *testing.T) {
	in := make(chan FileEvent, 16)
	d := NewDebouncer(in, 50*time.Millisecond)
	d.Start(context.Background())
	defer d.Stop()

	// a writer filling a file produces a storm of modifies
	for range 10 {
		in <- FileEvent{Path: "/w/data.bin", Kind: Modified, ObservedAt: time.Now(), Size: 42}
	}

	got := collectEvents(t, d.Events(), 300*time.Millisecond)
	require.Len(t, got, 1)
	assert.Equal(t, Modified, got[0].Kind)
	assert.Equal(t, "/w/data.bin", got[0].Path)
}

func TestDebouncer_LastEventWins(t *testing.T) {
	in := make(chan FileEvent, 16)
	d := NewDebouncer(in, 50*time.Millisecond)
	d.Start(context.Background())
	defer d.Stop()

	// created, modified, then deleted before the window elapses: only the
	// delete survives
	in <- FileEvent{Path: "/w/tmp.txt", Kind: Created, ObservedAt: time.Now()}
	in <- FileEvent{Path: "/w/tmp.txt", Kind: Modified, ObservedAt: time.Now()}
	in <- FileEvent{Path: "/w/tmp.txt", Kind: Deleted, ObservedAt: time.Now()}

	got := collectEvents(t, d.Events(), 300*time.Millisecond)
	require.Len(t, got, 1)
	assert.Equal(t, Deleted, got[0].Kind)
}

func TestDebouncer_PathsAreIndependent(t *testing.T) {
	in := make(chan FileEvent, 16)
	d := NewDebouncer(in, 50*time.Millisecond)
	d.Start(context.Background())
	defer d.Stop()

	in <- FileEvent{Path: "/w/a.txt", Kind: Created, ObservedAt: time.Now()}
	in <- FileEvent{Path: "/w/b.txt", Kind: Modified, ObservedAt: time.Now()}

	got := collectEvents(t, d.Events(), 300*time.Millisecond)
	require.Len(t, got, 2)

	kinds := map[string]EventKind{}
	for _, ev := range got {
		kinds[ev.Path] = ev.Kind
	}
	assert.Equal(t, Created, kinds["/w/a.txt"])
	assert.Equal(t, Modified, kinds["/w/b.txt"])
}

func TestDebouncer_SeparatedEventsBothPass(t *testing.T) {
	in := make(chan FileEvent, 16)
	d := NewDebouncer(in, 30*time.Millisecond)
	d.Start(context.Background())
	defer d.Stop()

	in <- FileEvent{Path: "/w/a.txt", Kind: Created, ObservedAt: time.Now()}
	time.Sleep(100 * time.Millisecond)
	in <- FileEvent{Path: "/w/a.txt", Kind: Modified, ObservedAt: time.Now()}

	got := collectEvents(t, d.Events(), 300*time.Millisecond)
	require.Len(t, got, 2)
	assert.Equal(t, Created, got[0].Kind)
	assert.Equal(t, Modified, got[1].Kind)
}

func TestDebouncer_StopFlushesPending(t *testing.T) {
	in := make(chan FileEvent, 16)
	d := NewDebouncer(in, 10*time.Second) // window far longer than the test
	d.Start(context.Background())

	in <- FileEvent{Path: "/w/a.txt", Kind: Created, ObservedAt: time.Now()}

	// give the run loop a beat to pick the event up
	time.Sleep(50 * time.Millisecond)
	d.Stop()

	got := collectEvents(t, d.Events(), 300*time.Millisecond)
	require.Len(t, got, 1)
	assert.Equal(t, "/w/a.txt", got[0].Path)

	// output channel closes after the flush
	_, ok := <-d.Events()
	assert.False(t, ok)
}

func TestDebouncer_ClosedInputEndsOutput(t *testing.T) {
	in := make(chan FileEvent)
	d := NewDebouncer(in, 20*time.Millisecond)
	d.Start(context.Background())

	close(in)

	select {
	case _, ok := <-d.Events():
		assert.False(t, ok, "output should close once input ends")
	case <-time.After(2 * time.Second):
		assert.FailNow(t, "timeout waiting for output channel to close")
	}
}
