package utils

import (
	"mime"
	"path/filepath"
	"strings"
)

// DetectContentType guesses the MIME type stored on an uploaded object from
// its key. Config and log files are served as plain text so a browser shows
// them instead of forcing a download.
func DetectContentType(key string) string {
	if isTextLike(key) {
		return "text/plain; charset=utf-8"
	}
	if mimeType := mime.TypeByExtension(filepath.Ext(key)); mimeType != "" {
		return mimeType
	}
	return "application/octet-stream"
}

func isTextLike(key string) bool {
	return strings.HasSuffix(key, ".yaml") ||
		strings.HasSuffix(key, ".yml") ||
		strings.HasSuffix(key, ".toml") ||
		strings.HasSuffix(key, ".log") ||
		strings.HasSuffix(key, ".md")
}
