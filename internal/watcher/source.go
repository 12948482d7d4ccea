package watcher

import (
	"context"
	"errors"
	"time"
)

const (
	eventBufferSize = 64

	// how often the native source confirms the root still exists
	defaultRootCheckInterval = 5 * time.Second
)

// ErrWatchRootUnavailable reports that the watch root is missing or cannot
// be observed. It is fatal: the daemon stops rather than silently watching
// nothing.
var ErrWatchRootUnavailable = errors.New("watch root unavailable")

// Source produces raw file events for a directory tree. Exactly one source
// runs per daemon; the polling source is selected by configuration, never by
// silent degradation at runtime.
type Source interface {
	// Start begins watching. It fails fast when the root cannot be watched.
	Start(ctx context.Context) error

	// Events streams raw file events. The channel closes when the source
	// stops.
	Events() <-chan FileEvent

	// Errors reports failures that make further watching impossible, such
	// as the root vanishing mid-run.
	Errors() <-chan error

	// Stop ends watching and waits for the source goroutines to exit.
	Stop()
}

// NewSource picks the event source for root: native filesystem notifications
// by default, the polling source when the fallback is requested.
func NewSource(root string, ignore *IgnoreList, useFallback bool, pollInterval time.Duration) Source {
	if useFallback {
		return NewPollSource(root, ignore, pollInterval)
	}
	return NewNotifySource(root, ignore)
}
