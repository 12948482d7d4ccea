package scheduler

import (
	"io/fs"

	lru "github.com/hashicorp/golang-lru/v2"
)

// recentCache remembers the (size, mtime) of successful uploads so a path
// observed again without changing skips the store round trip. Bounded, so a
// long-running daemon over a huge tree cannot grow without limit.
type recentCache struct {
	entries *lru.Cache[string, fileStamp]
}

type fileStamp struct {
	size  int64
	mtime int64
}

func newRecentCache(size int) *recentCache {
	entries, err := lru.New[string, fileStamp](size)
	if err != nil {
		// lru.New only fails on a non-positive size
		panic(err)
	}
	return &recentCache{entries: entries}
}

func stampOf(info fs.FileInfo) fileStamp {
	return fileStamp{size: info.Size(), mtime: info.ModTime().UnixNano()}
}

// Unchanged reports whether path was already uploaded with this exact
// (size, mtime).
func (c *recentCache) Unchanged(path string, info fs.FileInfo) bool {
	stamp, ok := c.entries.Get(path)
	return ok && stamp == stampOf(info)
}

func (c *recentCache) Remember(path string, info fs.FileInfo) {
	c.entries.Add(path, stampOf(info))
}

func (c *recentCache) Forget(path string) {
	c.entries.Remove(path)
}
