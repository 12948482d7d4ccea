// Package watcher turns filesystem activity under a root directory into a
// debounced stream of file events.
package watcher

import (
	"fmt"
	"time"
)

type EventKind int

const (
	Created EventKind = iota
	Modified
	Deleted
)

func (k EventKind) String() string {
	switch k {
	case Created:
		return "created"
	case Modified:
		return "modified"
	case Deleted:
		return "deleted"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// FileEvent is one observed change to a file under the watch root.
type FileEvent struct {
	// Path is absolute.
	Path string
	Kind EventKind

	// ObservedAt is when the change was noticed, not when it happened.
	ObservedAt time.Time

	// Size is the file size at stat time. Only meaningful while the file
	// still existed, never for Deleted.
	Size int64
}

func (e FileEvent) String() string {
	return fmt.Sprintf("%s %s", e.Kind, e.Path)
}
