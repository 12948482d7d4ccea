package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectContentType(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{key: "telemetry/frame.json", want: "application/json"},
		{key: "notes/readme.md", want: "text/plain; charset=utf-8"},
		{key: "config/settings.yaml", want: "text/plain; charset=utf-8"},
		{key: "daily/run.log", want: "text/plain; charset=utf-8"},
		{key: "data/capture.bin", want: "application/octet-stream"},
		{key: "no-extension", want: "application/octet-stream"},
	}

	for _, test := range tests {
		t.Run(test.key, func(t *testing.T) {
			assert.Equal(t, test.want, DetectContentType(test.key))
		})
	}
}
