package watcher

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/swxsoc/fswatcher/internal/utils"
)

// PollSource watches a tree by walking it on a fixed interval and diffing
// (size, mtime) snapshots. It is the fallback for filesystems where native
// notifications do not work, such as network mounts.
type PollSource struct {
	root     string
	ignore   *IgnoreList
	interval time.Duration
	events   chan FileEvent
	errs     chan error
	last     map[string]pollEntry
	done     chan struct{}
	wg       sync.WaitGroup
}

type pollEntry struct {
	size    int64
	modTime time.Time
}

// NewPollSource allocates the event channels up front so callers can wire
// consumers before Start.
func NewPollSource(root string, ignore *IgnoreList, interval time.Duration) *PollSource {
	return &PollSource{
		root:     root,
		ignore:   ignore,
		interval: interval,
		events:   make(chan FileEvent, eventBufferSize),
		errs:     make(chan error, 1),
		done:     make(chan struct{}),
	}
}

func (s *PollSource) Start(ctx context.Context) error {
	if !utils.DirExists(s.root) {
		return fmt.Errorf("%w: %s", ErrWatchRootUnavailable, s.root)
	}

	// the initial snapshot is silent: files already present are the
	// backtrack pass's business
	snap, err := s.snapshot()
	if err != nil {
		return fmt.Errorf("%w: %s", ErrWatchRootUnavailable, err)
	}
	s.last = snap

	slog.Info("watch start", "source", "poll", "dir", s.root, "interval", s.interval)

	s.wg.Add(1)
	go s.run(ctx)

	return nil
}

func (s *PollSource) Stop() {
	slog.Info("watch stopping", "source", "poll")
	close(s.done)
	s.wg.Wait()
	slog.Info("watch stopped", "source", "poll")
}

func (s *PollSource) Events() <-chan FileEvent {
	return s.events
}

func (s *PollSource) Errors() <-chan error {
	return s.errs
}

func (s *PollSource) run(ctx context.Context) {
	defer func() {
		s.wg.Done()
		close(s.events)
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			curr, err := s.snapshot()
			if err != nil {
				s.fail(fmt.Errorf("%w: %s", ErrWatchRootUnavailable, err))
				return
			}
			s.diff(s.last, curr)
			s.last = curr
		}
	}
}

// snapshot walks the tree and records (size, mtime) for every regular file
// that is not ignored.
func (s *PollSource) snapshot() (map[string]pollEntry, error) {
	snap := make(map[string]pollEntry, len(s.last))

	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == s.root {
				return err
			}
			// an entry vanished mid-walk; the next pass settles it
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if s.ignore != nil && s.ignore.Match(path) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		snap[path] = pollEntry{size: info.Size(), modTime: info.ModTime()}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return snap, nil
}

// diff emits the events separating two snapshots.
func (s *PollSource) diff(prev, curr map[string]pollEntry) {
	now := time.Now()

	for path, entry := range curr {
		old, ok := prev[path]
		if !ok {
			s.send(FileEvent{Path: path, Kind: Created, ObservedAt: now, Size: entry.size})
			continue
		}
		if old.size != entry.size || !old.modTime.Equal(entry.modTime) {
			s.send(FileEvent{Path: path, Kind: Modified, ObservedAt: now, Size: entry.size})
		}
	}

	for path := range prev {
		if _, ok := curr[path]; !ok {
			s.send(FileEvent{Path: path, Kind: Deleted, ObservedAt: now})
		}
	}
}

func (s *PollSource) fail(err error) {
	select {
	case s.errs <- err:
	default:
	}
}

func (s *PollSource) send(ev FileEvent) {
	select {
	case s.events <- ev:
		slog.Debug("watch event", "kind", ev.Kind, "path", ev.Path)
	default:
		slog.Warn("watch dropped event", "reason", "channel full", "path", ev.Path)
	}
}

var _ Source = (*PollSource)(nil)
