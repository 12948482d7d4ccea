// Package daemon assembles the watcher, debouncer, scheduler, store, and
// audit trail into one long-running process.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"github.com/swxsoc/fswatcher/internal/audit"
	"github.com/swxsoc/fswatcher/internal/backtrack"
	"github.com/swxsoc/fswatcher/internal/config"
	"github.com/swxsoc/fswatcher/internal/scheduler"
	"github.com/swxsoc/fswatcher/internal/store"
	"github.com/swxsoc/fswatcher/internal/utils"
	"github.com/swxsoc/fswatcher/internal/watcher"
)

const (
	// LockFileName sits inside the watch directory so two daemons cannot
	// mirror the same tree. The ignore defaults exclude it from syncing.
	LockFileName = ".fswatcher.lock"

	shutdownGrace = 10 * time.Second
)

// ErrAlreadyRunning reports that another daemon holds the watch directory.
var ErrAlreadyRunning = errors.New("another fswatcher instance is already watching this directory")

// Daemon owns the full pipeline for one watch directory.
type Daemon struct {
	cfg       *config.Config
	store     store.Store
	audit     *audit.Emitter
	sched     *scheduler.Scheduler
	source    watcher.Source
	debounce  *watcher.Debouncer
	reconcile *backtrack.Reconciler
	lock      *flock.Flock
	counts    tally
}

// New builds a daemon from validated configuration, connecting to S3 and
// whatever audit sinks are configured.
func New(ctx context.Context, cfg *config.Config) (*Daemon, error) {
	st, err := store.NewS3Store(ctx, &store.S3Config{
		Bucket:          cfg.BucketName,
		Prefix:          cfg.KeyPrefix,
		Region:          cfg.Region,
		Endpoint:        cfg.EndpointURL,
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
	})
	if err != nil {
		return nil, err
	}

	sinks, err := buildSinks(ctx, cfg)
	if err != nil {
		return nil, err
	}

	return assemble(cfg, st, sinks...)
}

// assemble wires the collaborators around an existing store. It takes the
// watch directory lock; Run releases it.
func assemble(cfg *config.Config, st store.Store, sinks ...audit.Sink) (*Daemon, error) {
	if !utils.DirExists(cfg.WatchDir) {
		return nil, fmt.Errorf("%w: %s", watcher.ErrWatchRootUnavailable, cfg.WatchDir)
	}

	lock := flock.New(filepath.Join(cfg.WatchDir, LockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("watch directory lock: %w", err)
	}
	if !locked {
		return nil, ErrAlreadyRunning
	}

	ignore := watcher.NewIgnoreList(cfg.WatchDir)
	source := watcher.NewSource(cfg.WatchDir, ignore, cfg.UseFallback, cfg.PollInterval)
	sched := scheduler.New(st, scheduler.Options{
		Workers:     cfg.ConcurrencyLimit,
		MaxAttempts: cfg.MaxAttempts,
	})

	d := &Daemon{
		cfg:      cfg,
		store:    st,
		audit:    audit.NewEmitter(sinks...),
		sched:    sched,
		source:   source,
		debounce: watcher.NewDebouncer(source.Events(), cfg.DebounceWindow),
		lock:     lock,
	}
	d.reconcile = backtrack.New(backtrack.Config{
		Root:       cfg.WatchDir,
		Ignore:     ignore,
		After:      cfg.BacktrackAfter,
		CheckStore: cfg.CheckStore,
	}, st, sched)
	return d, nil
}

func buildSinks(ctx context.Context, cfg *config.Config) ([]audit.Sink, error) {
	var sinks []audit.Sink
	if cfg.TimestreamEnabled() {
		ts, err := audit.NewTimestreamSink(ctx, audit.TimestreamConfig{
			Database: cfg.TimestreamDB,
			Table:    cfg.TimestreamTable,
			Region:   cfg.Region,
			Bucket:   cfg.BucketName,
		})
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, ts)
	}
	if cfg.SlackEnabled() {
		sinks = append(sinks, audit.NewSlackSink(cfg.SlackToken, cfg.SlackChannel, cfg.BucketName))
	}
	return sinks, nil
}

// Run drives the pipeline until ctx is cancelled or the watch root becomes
// unwatchable. A cancelled ctx is a clean shutdown, not an error.
func (d *Daemon) Run(ctx context.Context) error {
	defer d.lock.Unlock()

	if d.cfg.TestIAMPolicy {
		if err := d.probeAccess(ctx); err != nil {
			return err
		}
	}

	if err := d.source.Start(ctx); err != nil {
		return fmt.Errorf("watch source: %w", err)
	}

	d.audit.Start()
	d.sched.Start()

	slog.Info("daemon running",
		"watch_dir", d.cfg.WatchDir,
		"bucket", d.cfg.Bucket,
		"workers", d.cfg.ConcurrencyLimit,
		"allow_delete", d.cfg.AllowDelete)
	d.audit.Emit(audit.Lifecycle(audit.ActionStarted,
		fmt.Sprintf("started watching %s -> s3://%s", d.cfg.WatchDir, d.cfg.Bucket)))

	// the forwarder ends when the scheduler closes its results channel, not
	// when ctx does, so every accepted operation is still accounted for
	forwarderDone := make(chan struct{})
	go func() {
		defer close(forwarderDone)
		for res := range d.sched.Results() {
			d.counts.observe(res)
			d.audit.Emit(resultEvent(res))
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	d.debounce.Start(gctx)

	if d.cfg.Backtrack {
		g.Go(func() error { return d.runBacktrack(gctx) })
	}
	g.Go(func() error { return d.watchLoop(gctx) })
	g.Go(func() error { return d.dispatchLoop(gctx) })

	err := g.Wait()

	d.source.Stop()
	d.debounce.Stop()
	d.sched.Shutdown(shutdownGrace)
	<-forwarderDone

	d.reportShutdown()
	d.audit.Close()

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (d *Daemon) runBacktrack(ctx context.Context) error {
	sum, err := d.reconcile.Run(ctx)
	if err != nil {
		return err
	}
	d.audit.Emit(audit.Lifecycle(audit.ActionBacktrack,
		fmt.Sprintf("backtrack queued %d of %d files in %s",
			sum.Queued, sum.Scanned, sum.Took.Round(time.Millisecond))))
	return nil
}

// watchLoop turns a source failure into a daemon-fatal error.
func (d *Daemon) watchLoop(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-d.source.Errors():
		return fmt.Errorf("watch source: %w", err)
	}
}

// dispatchLoop turns debounced file events into scheduler operations.
func (d *Daemon) dispatchLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-d.debounce.Events():
			if !ok {
				return nil
			}
			if err := d.dispatch(ctx, ev); err != nil {
				return err
			}
		}
	}
}

func (d *Daemon) dispatch(ctx context.Context, ev watcher.FileEvent) error {
	rel, err := filepath.Rel(d.cfg.WatchDir, ev.Path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		slog.Warn("event outside watch root", "path", ev.Path)
		return nil
	}

	op := &scheduler.Operation{Path: ev.Path, Key: filepath.ToSlash(rel)}
	switch ev.Kind {
	case watcher.Deleted:
		if !d.cfg.AllowDelete {
			slog.Debug("delete propagation disabled", "key", op.Key)
			return nil
		}
		op.Action = scheduler.ActionDelete
		op.Trigger = scheduler.TriggerDelete
	case watcher.Created:
		op.Action = scheduler.ActionUpload
		op.Trigger = scheduler.TriggerCreate
	default:
		op.Action = scheduler.ActionUpload
		op.Trigger = scheduler.TriggerUpdate
	}

	err = d.sched.Enqueue(ctx, op)
	if errors.Is(err, scheduler.ErrStopped) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (d *Daemon) reportShutdown() {
	detail := "daemon stopped, " + d.counts.String()

	dead := d.sched.DeadOperations()
	if len(dead) > 0 {
		detail += fmt.Sprintf(", %d dead-lettered", len(dead))
		for _, op := range dead {
			slog.Error("unrecovered operation",
				"key", op.Key, "action", op.Action, "attempts", op.Attempts, "error", op.Err)
		}
	}

	slog.Info("daemon stopped", "summary", d.counts.String(), "dead_letters", len(dead))
	d.audit.Emit(audit.Lifecycle(audit.ActionShutdown, detail))
}

func resultEvent(res scheduler.Result) audit.Event {
	return audit.Event{
		Kind:     audit.KindOperation,
		Action:   string(res.Trigger),
		Path:     res.Path,
		Key:      res.Key,
		Outcome:  res.Outcome.String(),
		Err:      res.Err,
		Size:     res.Size,
		Duration: res.Duration,
	}
}

// tally counts terminal outcomes for the shutdown summary.
type tally struct {
	mu        sync.Mutex
	uploaded  int
	deleted   int
	failed    int
	skipped   int
	cancelled int
}

func (t *tally) observe(res scheduler.Result) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch res.Outcome {
	case scheduler.Succeeded:
		if res.Action == scheduler.ActionDelete {
			t.deleted++
		} else {
			t.uploaded++
		}
	case scheduler.Failed:
		t.failed++
	case scheduler.Skipped:
		t.skipped++
	case scheduler.Cancelled:
		t.cancelled++
	}
}

func (t *tally) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return fmt.Sprintf("%d uploaded, %d deleted, %d failed, %d skipped, %d cancelled",
		t.uploaded, t.deleted, t.failed, t.skipped, t.cancelled)
}
