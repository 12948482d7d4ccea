package store

import (
	"io/fs"
	"net/url"
	"strconv"
)

// ObjectTags builds the URL-encoded tag set recorded on every uploaded
// object: the file's size and timestamps, plus mode, ownership and inode
// where the platform exposes them. Keys follow the stat field names so the
// tags read the same as the source file's metadata.
func ObjectTags(info fs.FileInfo) string {
	v := url.Values{}
	v.Set("st_size", strconv.FormatInt(info.Size(), 10))
	v.Set("st_mtime", strconv.FormatInt(info.ModTime().Unix(), 10))
	addPlatformTags(v, info)
	return v.Encode()
}
