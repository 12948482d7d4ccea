package scheduler

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"math/rand/v2"
	"os"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/swxsoc/fswatcher/internal/store"
)

const (
	defaultQueueSize   = 1024
	defaultRetryDelay  = 500 * time.Millisecond
	maxRetryDelay      = 30 * time.Second
	resultsBufferSize  = 256
	recentCacheSize    = 4096
	deadLetterCapacity = 256
)

// ErrStopped is returned by Enqueue once intake has been shut off.
var ErrStopped = errors.New("scheduler stopped")

// Options tune a Scheduler. Workers and MaxAttempts come from the validated
// config; zero values for the rest fall back to defaults.
type Options struct {
	Workers     int
	MaxAttempts int
	RetryDelay  time.Duration
	QueueSize   int
}

// Scheduler drains a queue of operations through a fixed pool of workers.
// Operations for the same path never overlap: a worker that dequeues a busy
// path parks the operation, and whoever holds the path runs it next. Every
// accepted operation reports exactly one Result.
type Scheduler struct {
	store       store.Store
	workers     int
	maxAttempts int
	retryDelay  time.Duration

	queue   chan *Operation
	results chan Result
	recent  *recentCache

	mu      sync.Mutex
	active  map[string]bool
	parked  map[string]*Operation
	dead    []DeadOperation
	stopped bool

	runCtx    context.Context
	cancelRun context.CancelFunc
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

func New(st store.Store, opts Options) *Scheduler {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = defaultRetryDelay
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}

	runCtx, cancelRun := context.WithCancel(context.Background())
	return &Scheduler{
		store:       st,
		workers:     opts.Workers,
		maxAttempts: opts.MaxAttempts,
		retryDelay:  opts.RetryDelay,
		queue:       make(chan *Operation, opts.QueueSize),
		results:     make(chan Result, resultsBufferSize),
		recent:      newRecentCache(recentCacheSize),
		active:      make(map[string]bool),
		parked:      make(map[string]*Operation),
		runCtx:      runCtx,
		cancelRun:   cancelRun,
		stopCh:      make(chan struct{}),
	}
}

// Start launches the worker pool.
func (s *Scheduler) Start() {
	slog.Info("scheduler start", "workers", s.workers, "max_attempts", s.maxAttempts)
	s.wg.Add(s.workers)
	for range s.workers {
		go s.worker()
	}
}

// Results streams exactly one Result per accepted operation. The channel
// closes after Shutdown; consumers must drain it to the end.
func (s *Scheduler) Results() <-chan Result {
	return s.results
}

// Enqueue hands an operation to the pool, blocking while the queue is full.
func (s *Scheduler) Enqueue(ctx context.Context, op *Operation) error {
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return ErrStopped
	}

	op.EnqueuedAt = time.Now()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case s.queue <- op:
		return nil
	}
}

// Shutdown stops intake, gives in-flight operations the grace period, then
// cancels whatever is still running and reports everything left in the
// queue as Cancelled. The results channel closes once every accepted
// operation has reported.
func (s *Scheduler) Shutdown(grace time.Duration) {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	close(s.stopCh)

	workersDone := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(workersDone)
	}()

	select {
	case <-workersDone:
	case <-time.After(grace):
		slog.Warn("scheduler grace expired, cancelling in-flight operations")
		s.cancelRun()
		<-workersDone
	}
	s.cancelRun()

	// whatever is still queued never started
	for {
		select {
		case op := <-s.queue:
			s.emit(op, Cancelled, "shutdown", nil, 0, time.Time{})
		default:
			close(s.results)
			slog.Info("scheduler stopped")
			return
		}
	}
}

// DeadOperations returns the operations that exhausted their retries,
// oldest first.
func (s *Scheduler) DeadOperations() []DeadOperation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]DeadOperation, len(s.dead))
	copy(out, s.dead)
	return out
}

func (s *Scheduler) worker() {
	defer s.wg.Done()
	for {
		// check the stop signal first so a closed stopCh always wins over a
		// non-empty queue
		select {
		case <-s.stopCh:
			return
		default:
		}

		select {
		case <-s.stopCh:
			return
		case op := <-s.queue:
			s.runSerialized(op)
		}
	}
}

// runSerialized executes op unless another worker already has its path in
// flight, in which case the op is parked and the path's current holder runs
// it next. A freshly parked op replaces a previously parked one; the mirror
// only ever needs the newest state of a path.
func (s *Scheduler) runSerialized(op *Operation) {
	if !s.acquire(op) {
		return
	}
	for op != nil {
		s.execute(op)
		op = s.release(op.Path)
	}
}

func (s *Scheduler) acquire(op *Operation) bool {
	s.mu.Lock()
	if s.active[op.Path] {
		superseded := s.parked[op.Path]
		s.parked[op.Path] = op
		s.mu.Unlock()
		if superseded != nil {
			s.emit(superseded, Skipped, "superseded", nil, 0, time.Time{})
		}
		return false
	}
	s.active[op.Path] = true
	s.mu.Unlock()
	return true
}

func (s *Scheduler) release(path string) *Operation {
	s.mu.Lock()
	defer s.mu.Unlock()
	if next, ok := s.parked[path]; ok {
		delete(s.parked, path)
		return next
	}
	delete(s.active, path)
	return nil
}

func (s *Scheduler) execute(op *Operation) {
	start := time.Now()

	if s.runCtx.Err() != nil {
		s.emit(op, Cancelled, "shutdown", nil, 0, start)
		return
	}

	if op.Action == ActionDelete {
		s.executeDelete(op, start)
		return
	}
	s.executeUpload(op, start)
}

func (s *Scheduler) executeUpload(op *Operation, start time.Time) {
	info, err := os.Stat(op.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.emit(op, Skipped, "vanished", nil, 0, start)
		} else {
			s.emit(op, Failed, "", err, 0, start)
		}
		return
	}
	if s.recent.Unchanged(op.Path, info) {
		s.emit(op, Skipped, "unchanged", nil, info.Size(), start)
		return
	}

	for {
		op.Attempt++
		uploaded, err := s.uploadOnce(op)
		if err == nil {
			s.recent.Remember(op.Path, uploaded)
			s.emit(op, Succeeded, "", nil, uploaded.Size(), start)
			return
		}
		if errors.Is(err, context.Canceled) {
			s.emit(op, Cancelled, "shutdown", nil, 0, start)
			return
		}
		if errors.Is(err, fs.ErrNotExist) {
			// deleted while queued or between retries
			s.emit(op, Skipped, "vanished", nil, 0, start)
			return
		}
		if !store.IsTransient(err) {
			s.emit(op, Failed, "", err, 0, start)
			return
		}
		if op.Attempt >= s.maxAttempts {
			s.bury(op, err)
			s.emit(op, Failed, "", err, 0, start)
			return
		}
		slog.Debug("sched retry", "key", op.Key, "attempt", op.Attempt, "error", err)
		if !s.sleep(backoff(s.retryDelay, op.Attempt)) {
			s.emit(op, Cancelled, "shutdown", nil, 0, start)
			return
		}
	}
}

// uploadOnce opens the file fresh for each attempt so retries pick up the
// current contents and a vanished file is noticed.
func (s *Scheduler) uploadOnce(op *Operation) (fs.FileInfo, error) {
	f, err := os.Open(op.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	_, err = s.store.Put(s.runCtx, op.Key, f, store.PutOptions{
		Size:    info.Size(),
		Tagging: store.ObjectTags(info),
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

func (s *Scheduler) executeDelete(op *Operation, start time.Time) {
	for {
		op.Attempt++
		err := s.store.Delete(s.runCtx, op.Key)
		if err == nil {
			s.recent.Forget(op.Path)
			s.emit(op, Succeeded, "", nil, 0, start)
			return
		}
		if errors.Is(err, context.Canceled) {
			s.emit(op, Cancelled, "shutdown", nil, 0, start)
			return
		}
		if !store.IsTransient(err) {
			s.emit(op, Failed, "", err, 0, start)
			return
		}
		if op.Attempt >= s.maxAttempts {
			s.bury(op, err)
			s.emit(op, Failed, "", err, 0, start)
			return
		}
		slog.Debug("sched retry", "key", op.Key, "attempt", op.Attempt, "error", err)
		if !s.sleep(backoff(s.retryDelay, op.Attempt)) {
			s.emit(op, Cancelled, "shutdown", nil, 0, start)
			return
		}
	}
}

// sleep waits for d unless the run context ends first.
func (s *Scheduler) sleep(d time.Duration) bool {
	select {
	case <-s.runCtx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// bury records an operation that exhausted its retries.
func (s *Scheduler) bury(op *Operation, err error) {
	s.mu.Lock()
	if len(s.dead) >= deadLetterCapacity {
		s.dead = s.dead[1:]
	}
	s.dead = append(s.dead, DeadOperation{
		Key:      op.Key,
		Action:   op.Action,
		Attempts: op.Attempt,
		Err:      err,
		At:       time.Now(),
	})
	s.mu.Unlock()

	slog.Error("sched dead letter", "key", op.Key, "action", op.Action, "attempts", op.Attempt, "error", err)
}

func (s *Scheduler) emit(op *Operation, outcome Outcome, reason string, err error, size int64, start time.Time) {
	res := Result{
		Path:     op.Path,
		Key:      op.Key,
		Action:   op.Action,
		Trigger:  op.Trigger,
		Outcome:  outcome,
		Err:      err,
		Reason:   reason,
		Attempts: op.Attempt,
		Size:     size,
	}
	if !start.IsZero() {
		res.Duration = time.Since(start)
	}

	switch outcome {
	case Succeeded:
		if op.Action == ActionUpload {
			slog.Info("sched", "op", op.Action, "key", op.Key, "size", humanize.Bytes(uint64(size)), "attempts", res.Attempts)
		} else {
			slog.Info("sched", "op", op.Action, "key", op.Key, "attempts", res.Attempts)
		}
	case Failed:
		slog.Error("sched", "op", op.Action, "key", op.Key, "attempts", res.Attempts, "error", err)
	case Skipped:
		slog.Debug("sched", "op", op.Action, "key", op.Key, "skip", reason)
	case Cancelled:
		slog.Debug("sched", "op", op.Action, "key", op.Key, "outcome", "cancelled")
	}

	s.results <- res
}

// backoff doubles the base delay per attempt, capped, with up to 25% jitter
// so a burst of failures doesn't retry in lockstep.
func backoff(base time.Duration, attempt int) time.Duration {
	d := base << (attempt - 1)
	if d <= 0 || d > maxRetryDelay {
		d = maxRetryDelay
	}
	return d + rand.N(d/4+1)
}
