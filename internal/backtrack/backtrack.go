// Package backtrack reconciles the remote store with files that appeared or
// changed while the watcher was not running. It runs once at startup, before
// live events are considered caught up.
package backtrack

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/swxsoc/fswatcher/internal/scheduler"
	"github.com/swxsoc/fswatcher/internal/store"
	"github.com/swxsoc/fswatcher/internal/watcher"
)

// Queue receives the upload operations a reconciliation pass produces.
type Queue interface {
	Enqueue(ctx context.Context, op *scheduler.Operation) error
}

// Lister is the slice of the store a pass needs when store checking is on.
type Lister interface {
	List(ctx context.Context, prefix string) ([]*store.ObjectInfo, error)
}

// Config describes one reconciliation pass.
type Config struct {
	// Root is the watched directory.
	Root string

	// Ignore filters the walk; nil means nothing is ignored.
	Ignore *watcher.IgnoreList

	// After keeps only files modified after it. Zero means no cutoff.
	After time.Time

	// CheckStore compares local files against remote state instead of
	// queueing everything.
	CheckStore bool
}

// Summary is what a pass did, for logging and the audit trail.
type Summary struct {
	Scanned        int
	Queued         int
	SkippedCutoff  int
	SkippedCurrent int
	Took           time.Duration
}

// Reconciler walks the local tree and queues uploads for files the remote
// store is missing or holds stale copies of.
type Reconciler struct {
	root       string
	ignore     *watcher.IgnoreList
	after      time.Time
	checkStore bool
	remote     Lister
	queue      Queue
}

func New(cfg Config, remote Lister, queue Queue) *Reconciler {
	return &Reconciler{
		root:       cfg.Root,
		ignore:     cfg.Ignore,
		after:      cfg.After,
		checkStore: cfg.CheckStore,
		remote:     remote,
		queue:      queue,
	}
}

type localFile struct {
	path    string
	key     string
	modTime time.Time
}

// Run performs one pass. Live events may be queueing concurrently; the
// scheduler's per-path serialization keeps the two from clashing.
func (r *Reconciler) Run(ctx context.Context) (Summary, error) {
	start := time.Now()
	if r.after.IsZero() {
		slog.Info("backtrack start", "root", r.root, "check_store", r.checkStore)
	} else {
		slog.Info("backtrack start", "root", r.root, "check_store", r.checkStore,
			"cutoff", r.after.Format(time.DateOnly))
	}

	files, err := r.scan()
	if err != nil {
		return Summary{}, fmt.Errorf("backtrack scan: %w", err)
	}
	sum := Summary{Scanned: len(files)}

	if !r.after.IsZero() {
		kept := files[:0]
		for _, f := range files {
			if f.modTime.After(r.after) {
				kept = append(kept, f)
			} else {
				sum.SkippedCutoff++
			}
		}
		files = kept
	}

	if r.checkStore && len(files) > 0 {
		files, err = r.dropCurrent(ctx, files, &sum)
		if err != nil {
			return sum, err
		}
	}

	for _, f := range files {
		op := &scheduler.Operation{
			Path:    f.path,
			Key:     f.key,
			Action:  scheduler.ActionUpload,
			Trigger: scheduler.TriggerBacktrack,
		}
		if err := r.queue.Enqueue(ctx, op); err != nil {
			return sum, fmt.Errorf("backtrack enqueue %q: %w", f.key, err)
		}
		sum.Queued++
	}

	sum.Took = time.Since(start)
	slog.Info("backtrack done", "scanned", sum.Scanned, "queued", sum.Queued,
		"skipped_cutoff", sum.SkippedCutoff, "skipped_current", sum.SkippedCurrent,
		"took", sum.Took.Round(time.Millisecond))
	return sum, nil
}

func (r *Reconciler) scan() ([]localFile, error) {
	var files []localFile
	err := filepath.WalkDir(r.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == r.root {
				return err
			}
			// entries can vanish mid-walk
			slog.Debug("backtrack skip", "path", path, "error", err)
			return nil
		}
		if d.IsDir() {
			if path != r.root && r.ignore != nil && r.ignore.Match(path) {
				return fs.SkipDir
			}
			return nil
		}
		if r.ignore != nil && r.ignore.Match(path) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(r.root, path)
		if err != nil {
			return nil
		}
		files = append(files, localFile{
			path:    path,
			key:     filepath.ToSlash(rel),
			modTime: info.ModTime(),
		})
		return nil
	})
	return files, err
}

// dropCurrent removes files whose remote copy already matches: the key
// exists and is at least as new as the local file.
func (r *Reconciler) dropCurrent(ctx context.Context, files []localFile, sum *Summary) ([]localFile, error) {
	remote, err := r.remote.List(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("backtrack list remote: %w", err)
	}

	byKey := make(map[string]*store.ObjectInfo, len(remote))
	remoteKeys := mapset.NewThreadUnsafeSet[string]()
	for _, obj := range remote {
		byKey[obj.Key] = obj
		remoteKeys.Add(obj.Key)
	}

	localKeys := mapset.NewThreadUnsafeSet[string]()
	for _, f := range files {
		localKeys.Add(f.key)
	}
	missing := localKeys.Difference(remoteKeys)

	kept := files[:0]
	for _, f := range files {
		if missing.Contains(f.key) {
			kept = append(kept, f)
			continue
		}
		if obj := byKey[f.key]; obj != nil && f.modTime.After(obj.LastModified) {
			kept = append(kept, f)
			continue
		}
		sum.SkippedCurrent++
	}
	return kept, nil
}
