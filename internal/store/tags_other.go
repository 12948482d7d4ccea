//go:build !linux && !darwin

package store

import (
	"io/fs"
	"net/url"
)

func addPlatformTags(v url.Values, info fs.FileInfo) {
	// size and mtime only on platforms without unix stat details
}
