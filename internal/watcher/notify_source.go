package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rjeczalik/notify"

	"github.com/swxsoc/fswatcher/internal/utils"
)

// NotifySource watches a tree through native filesystem notifications
// (inotify, FSEvents, ReadDirectoryChangesW).
type NotifySource struct {
	root      string
	ignore    *IgnoreList
	raw       chan notify.EventInfo
	events    chan FileEvent
	errs      chan error
	done      chan struct{}
	wg        sync.WaitGroup
	rootCheck time.Duration
}

// NewNotifySource allocates the event channels up front so callers can wire
// consumers before Start.
func NewNotifySource(root string, ignore *IgnoreList) *NotifySource {
	return &NotifySource{
		root:      root,
		ignore:    ignore,
		raw:       make(chan notify.EventInfo, eventBufferSize),
		events:    make(chan FileEvent, eventBufferSize),
		errs:      make(chan error, 1),
		done:      make(chan struct{}),
		rootCheck: defaultRootCheckInterval,
	}
}

// SetRootCheckInterval tunes how often the root existence check runs.
func (s *NotifySource) SetRootCheckInterval(interval time.Duration) {
	s.rootCheck = interval
}

func (s *NotifySource) Start(ctx context.Context) error {
	if !utils.DirExists(s.root) {
		return fmt.Errorf("%w: %s", ErrWatchRootUnavailable, s.root)
	}

	recursivePath := s.root + "/..."
	if err := notify.Watch(recursivePath, s.raw, notify.Create|notify.Write|notify.Remove|notify.Rename); err != nil {
		return fmt.Errorf("%w: %s", ErrWatchRootUnavailable, err)
	}

	slog.Info("watch start", "source", "notify", "dir", s.root)

	s.wg.Add(2)
	go s.translate(ctx)
	go s.checkRoot(ctx)

	return nil
}

func (s *NotifySource) Stop() {
	slog.Info("watch stopping", "source", "notify")
	close(s.done)
	notify.Stop(s.raw)
	s.wg.Wait()
	slog.Info("watch stopped", "source", "notify")
}

func (s *NotifySource) Events() <-chan FileEvent {
	return s.events
}

func (s *NotifySource) Errors() <-chan error {
	return s.errs
}

// translate turns notify events into FileEvents until the source stops.
func (s *NotifySource) translate(ctx context.Context) {
	defer func() {
		s.wg.Done()
		close(s.events)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case ei, ok := <-s.raw:
			if !ok {
				return
			}
			s.handle(ei)
		}
	}
}

func (s *NotifySource) handle(ei notify.EventInfo) {
	path := ei.Path()
	if s.ignore != nil && s.ignore.Match(path) {
		return
	}

	now := time.Now()
	switch ei.Event() {
	case notify.Remove, notify.Rename:
		// a rename-away leaves the tree the same way a delete does; the new
		// name arrives as its own create event
		s.send(FileEvent{Path: path, Kind: Deleted, ObservedAt: now})
		return
	}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// stat lost the race with a delete
			s.send(FileEvent{Path: path, Kind: Deleted, ObservedAt: now})
		} else {
			slog.Warn("watch stat", "path", path, "error", err)
		}
		return
	}
	if info.IsDir() {
		if ei.Event() == notify.Create {
			// the recursive watch attaches to a new directory after it
			// appears; files written in that window never notify, so pick
			// them up here
			s.scanNewDir(path)
		}
		return
	}

	kind := Modified
	if ei.Event() == notify.Create {
		kind = Created
	}
	s.send(FileEvent{Path: path, Kind: kind, ObservedAt: now, Size: info.Size()})
}

// scanNewDir synthesizes Created events for regular files already inside a
// just-created directory. Duplicates with real notifications are fine, the
// debouncer collapses them.
func (s *NotifySource) scanNewDir(dir string) {
	now := time.Now()
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if s.ignore != nil && s.ignore.Match(path) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		s.send(FileEvent{Path: path, Kind: Created, ObservedAt: now, Size: info.Size()})
		return nil
	})
}

func (s *NotifySource) send(ev FileEvent) {
	select {
	case s.events <- ev:
		slog.Debug("watch event", "kind", ev.Kind, "path", ev.Path)
	default:
		slog.Warn("watch dropped event", "reason", "channel full", "path", ev.Path)
	}
}

// checkRoot periodically confirms the watch root still exists. Native
// notifications go quiet when the root itself is removed, so this is the
// only way the daemon notices.
func (s *NotifySource) checkRoot(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.rootCheck)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			if !utils.DirExists(s.root) {
				s.fail(fmt.Errorf("%w: %s", ErrWatchRootUnavailable, s.root))
				return
			}
		}
	}
}

func (s *NotifySource) fail(err error) {
	select {
	case s.errs <- err:
	default:
	}
}

var _ Source = (*NotifySource)(nil)
