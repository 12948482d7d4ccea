package daemon

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swxsoc/fswatcher/internal/config"
	"github.com/swxsoc/fswatcher/internal/store"
	"github.com/swxsoc/fswatcher/internal/watcher"
)

type memStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    map[string]int
	deletes map[string]int
	putErr  error
}

func newMemStore() *memStore {
	return &memStore{
		objects: make(map[string][]byte),
		puts:    make(map[string]int),
		deletes: make(map[string]int),
	}
}

func (m *memStore) Put(ctx context.Context, key string, src io.Reader, opts store.PutOptions) (*store.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putErr != nil {
		return nil, m.putErr
	}
	data, err := io.ReadAll(src)
	if err != nil {
		return nil, err
	}
	m.objects[key] = data
	m.puts[key]++
	return &store.ObjectInfo{Key: key, Size: int64(len(data)), LastModified: time.Now()}, nil
}

func (m *memStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	m.deletes[key]++
	return nil
}

func (m *memStore) List(ctx context.Context, prefix string) ([]*store.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.ObjectInfo
	for key, data := range m.objects {
		out = append(out, &store.ObjectInfo{Key: key, Size: int64(len(data))})
	}
	return out, nil
}

func (m *memStore) Head(ctx context.Context, key string) (*store.ObjectInfo, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, false, nil
	}
	return &store.ObjectInfo{Key: key, Size: int64(len(data))}, true, nil
}

func (m *memStore) has(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[key]
	return ok
}

func (m *memStore) deleteCount(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deletes[key]
}

func testConfig(t *testing.T, dir string) *config.Config {
	t.Helper()
	root, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	return &config.Config{
		Bucket:           "sandbox-bucket",
		BucketName:       "sandbox-bucket",
		WatchDir:         root,
		ConcurrencyLimit: 2,
		MaxAttempts:      2,
		DebounceWindow:   40 * time.Millisecond,
		PollInterval:     50 * time.Millisecond,
	}
}

func startDaemon(t *testing.T, d *Daemon) (context.CancelFunc, chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	return cancel, done
}

func stopDaemon(t *testing.T, cancel context.CancelFunc, done chan error) {
	t.Helper()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("daemon did not stop")
	}
}

func TestDaemonMirrorsNewFile(t *testing.T) {
	ms := newMemStore()
	cfg := testConfig(t, t.TempDir())
	d, err := assemble(cfg, ms)
	require.NoError(t, err)

	cancel, done := startDaemon(t, d)
	defer stopDaemon(t, cancel, done)

	// give the source a moment to arm before producing events
	time.Sleep(100 * time.Millisecond)
	path := filepath.Join(cfg.WatchDir, "hello.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello s3"), 0o644))

	require.Eventually(t, func() bool {
		return ms.has("hello.txt")
	}, 5*time.Second, 20*time.Millisecond, "file should be mirrored")
}

func TestDaemonMirrorsNestedPathsWithSlashKeys(t *testing.T) {
	ms := newMemStore()
	cfg := testConfig(t, t.TempDir())
	d, err := assemble(cfg, ms)
	require.NoError(t, err)

	cancel, done := startDaemon(t, d)
	defer stopDaemon(t, cancel, done)

	time.Sleep(100 * time.Millisecond)
	sub := filepath.Join(cfg.WatchDir, "l0", "2024")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "obs.bin"), []byte{1, 2, 3}, 0o644))

	require.Eventually(t, func() bool {
		return ms.has("l0/2024/obs.bin")
	}, 5*time.Second, 20*time.Millisecond)
}

func TestDaemonSuppressesDeleteByDefault(t *testing.T) {
	ms := newMemStore()
	cfg := testConfig(t, t.TempDir())
	d, err := assemble(cfg, ms)
	require.NoError(t, err)

	cancel, done := startDaemon(t, d)
	defer stopDaemon(t, cancel, done)

	time.Sleep(100 * time.Millisecond)
	path := filepath.Join(cfg.WatchDir, "keep.txt")
	require.NoError(t, os.WriteFile(path, []byte("keep me"), 0o644))
	require.Eventually(t, func() bool {
		return ms.has("keep.txt")
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, os.Remove(path))
	time.Sleep(300 * time.Millisecond)

	assert.True(t, ms.has("keep.txt"), "remote copy must survive a local delete")
	assert.Equal(t, 0, ms.deleteCount("keep.txt"))
}

func TestDaemonPropagatesDeleteWhenAllowed(t *testing.T) {
	ms := newMemStore()
	cfg := testConfig(t, t.TempDir())
	cfg.AllowDelete = true
	d, err := assemble(cfg, ms)
	require.NoError(t, err)

	cancel, done := startDaemon(t, d)
	defer stopDaemon(t, cancel, done)

	time.Sleep(100 * time.Millisecond)
	path := filepath.Join(cfg.WatchDir, "gone.txt")
	require.NoError(t, os.WriteFile(path, []byte("short lived"), 0o644))
	require.Eventually(t, func() bool {
		return ms.has("gone.txt")
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, os.Remove(path))
	require.Eventually(t, func() bool {
		return !ms.has("gone.txt")
	}, 5*time.Second, 20*time.Millisecond, "remote copy should follow the local delete")
}

func TestDaemonBacktracksExistingTree(t *testing.T) {
	ms := newMemStore()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "b.txt"), []byte("b"), 0o644))

	cfg := testConfig(t, dir)
	cfg.Backtrack = true
	d, err := assemble(cfg, ms)
	require.NoError(t, err)

	cancel, done := startDaemon(t, d)
	defer stopDaemon(t, cancel, done)

	require.Eventually(t, func() bool {
		return ms.has("a.txt") && ms.has("sub/b.txt")
	}, 5*time.Second, 20*time.Millisecond, "pre-existing files should be caught up")
}

func TestSecondDaemonRefusesSameWatchDir(t *testing.T) {
	cfg := testConfig(t, t.TempDir())

	first, err := assemble(cfg, newMemStore())
	require.NoError(t, err)
	defer first.lock.Unlock()

	_, err = assemble(cfg, newMemStore())
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestAssembleRejectsMissingWatchDir(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	cfg.WatchDir = filepath.Join(cfg.WatchDir, "does-not-exist")

	_, err := assemble(cfg, newMemStore())
	assert.ErrorIs(t, err, watcher.ErrWatchRootUnavailable)
}

func TestProbeFailureAbortsStartup(t *testing.T) {
	ms := newMemStore()
	ms.putErr = &store.PermanentError{Op: "put", Key: "probe", Err: assert.AnError}

	cfg := testConfig(t, t.TempDir())
	cfg.TestIAMPolicy = true
	d, err := assemble(cfg, ms)
	require.NoError(t, err)

	err = d.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "iam probe")
}

func TestProbeCleansUpWhenDeleteAllowed(t *testing.T) {
	ms := newMemStore()
	cfg := testConfig(t, t.TempDir())
	cfg.AllowDelete = true
	d, err := assemble(cfg, ms)
	require.NoError(t, err)
	defer d.lock.Unlock()

	require.NoError(t, d.probeAccess(context.Background()))

	ms.mu.Lock()
	defer ms.mu.Unlock()
	assert.Empty(t, ms.objects, "probe object should be removed")
	assert.Len(t, ms.deletes, 1)
}
