// Package config holds the validated runtime configuration for the FSWatcher
// daemon. All knobs are collected into a single Config struct that is built
// once at startup, validated, and passed read-only to every component.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/swxsoc/fswatcher/internal/utils"
)

var (
	home, _            = os.UserHomeDir()
	DefaultLogFilePath = filepath.Join(home, ".fswatcher", "logs", "fswatcher.log")
)

const (
	// DefaultConcurrencyLimit caps simultaneous store operations when the
	// limit is not configured.
	DefaultConcurrencyLimit = 20

	// DefaultMaxAttempts is how many times a transient store failure is
	// attempted before the operation is declared dead.
	DefaultMaxAttempts = 5

	// DefaultDebounceWindow is the per-path quiet window before a burst of
	// filesystem events collapses into one operation.
	DefaultDebounceWindow = 500 * time.Millisecond

	// DefaultPollInterval is the scan cadence of the polling event source.
	DefaultPollInterval = 10 * time.Second

	// backtrackDateLayout is the accepted BACKTRACK_DATE format.
	backtrackDateLayout = "2006-01-02"
)

// ValidationError reports a config field that failed validation. It is fatal
// at startup; the daemon never runs with a partially valid config.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Field, e.Reason)
}

type Config struct {
	// Bucket is the raw bucket setting. It may carry a key prefix after the
	// first slash ("my-bucket/some/prefix"). Validate splits it into
	// BucketName and KeyPrefix.
	Bucket string
	Region string

	// EndpointURL points the store at an S3-compatible endpoint. Empty means
	// the real AWS endpoint for Region.
	EndpointURL     string
	AccessKeyID     string
	SecretAccessKey string

	// WatchDir is the root of the watched tree.
	WatchDir string

	// UseFallback selects the polling event source instead of native
	// filesystem notifications.
	UseFallback    bool
	PollInterval   time.Duration
	DebounceWindow time.Duration

	ConcurrencyLimit int
	MaxAttempts      int

	// AllowDelete propagates local deletions to the store.
	AllowDelete bool

	// Backtrack reconciles local files against the store at startup.
	// BacktrackDate optionally limits the pass to files modified on or after
	// the given day (YYYY-MM-DD). CheckStore consults the store instead of
	// re-uploading everything.
	Backtrack     bool
	BacktrackDate string
	CheckStore    bool

	// TestIAMPolicy probes the store with a marker object at startup to fail
	// fast on missing permissions.
	TestIAMPolicy bool

	TimestreamDB    string
	TimestreamTable string

	SlackToken   string
	SlackChannel string

	LogFile string

	// Derived by Validate.
	BucketName     string
	KeyPrefix      string
	BacktrackAfter time.Time
}

// Validate checks the config and normalizes derived fields in place. It
// returns a *ValidationError describing the first problem found.
func (c *Config) Validate() error {
	if c.Bucket == "" {
		return &ValidationError{Field: "bucket", Reason: "bucket name is required"}
	}
	c.BucketName, c.KeyPrefix = splitBucket(c.Bucket)
	if c.BucketName == "" {
		return &ValidationError{Field: "bucket", Reason: fmt.Sprintf("no bucket name in %q", c.Bucket)}
	}

	if c.WatchDir == "" {
		return &ValidationError{Field: "watch_dir", Reason: "watch directory is required"}
	}
	watchDir, err := utils.ResolvePath(c.WatchDir)
	if err != nil {
		return &ValidationError{Field: "watch_dir", Reason: err.Error()}
	}
	if !utils.DirExists(watchDir) {
		return &ValidationError{Field: "watch_dir", Reason: fmt.Sprintf("directory does not exist: %s", watchDir)}
	}
	c.WatchDir = watchDir

	if c.ConcurrencyLimit <= 0 {
		return &ValidationError{Field: "concurrency_limit", Reason: fmt.Sprintf("must be > 0, got %d", c.ConcurrencyLimit)}
	}
	if c.MaxAttempts <= 0 {
		return &ValidationError{Field: "max_attempts", Reason: fmt.Sprintf("must be > 0, got %d", c.MaxAttempts)}
	}
	if c.DebounceWindow <= 0 {
		return &ValidationError{Field: "debounce_window", Reason: "must be a positive duration"}
	}
	if c.UseFallback && c.PollInterval <= 0 {
		return &ValidationError{Field: "poll_interval", Reason: "must be a positive duration"}
	}

	if c.BacktrackDate != "" {
		if !c.Backtrack {
			return &ValidationError{Field: "backtrack_date", Reason: "requires backtrack to be enabled"}
		}
		after, err := time.ParseInLocation(backtrackDateLayout, c.BacktrackDate, time.Local)
		if err != nil {
			return &ValidationError{Field: "backtrack_date", Reason: fmt.Sprintf("want YYYY-MM-DD, got %q", c.BacktrackDate)}
		}
		c.BacktrackAfter = after
	}

	if (c.TimestreamDB == "") != (c.TimestreamTable == "") {
		return &ValidationError{Field: "timestream", Reason: "timestream_db and timestream_table must both be set"}
	}
	if (c.SlackToken == "") != (c.SlackChannel == "") {
		return &ValidationError{Field: "slack", Reason: "slack_token and slack_channel must both be set"}
	}

	if c.LogFile == "" {
		c.LogFile = DefaultLogFilePath
	}

	return nil
}

// TimestreamEnabled reports whether audit records go to a Timestream table.
func (c *Config) TimestreamEnabled() bool {
	return c.TimestreamDB != "" && c.TimestreamTable != ""
}

// SlackEnabled reports whether notifications go to a Slack channel.
func (c *Config) SlackEnabled() bool {
	return c.SlackToken != "" && c.SlackChannel != ""
}

// String renders the config for startup logging with secrets masked.
func (c *Config) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "bucket=%s", c.BucketName)
	if c.KeyPrefix != "" {
		fmt.Fprintf(&sb, " prefix=%s", c.KeyPrefix)
	}
	if c.Region != "" {
		fmt.Fprintf(&sb, " region=%s", c.Region)
	}
	if c.EndpointURL != "" {
		fmt.Fprintf(&sb, " endpoint=%s", c.EndpointURL)
	}
	fmt.Fprintf(&sb, " watch_dir=%s concurrency=%d allow_delete=%t backtrack=%t check_store=%t fallback=%t",
		c.WatchDir, c.ConcurrencyLimit, c.AllowDelete, c.Backtrack, c.CheckStore, c.UseFallback)
	if c.BacktrackDate != "" {
		fmt.Fprintf(&sb, " backtrack_date=%s", c.BacktrackDate)
	}
	if c.TimestreamEnabled() {
		fmt.Fprintf(&sb, " timestream=%s/%s", c.TimestreamDB, c.TimestreamTable)
	}
	if c.SlackEnabled() {
		fmt.Fprintf(&sb, " slack_channel=%s slack_token=%s", c.SlackChannel, utils.MaskSecret(c.SlackToken))
	}
	return sb.String()
}

// splitBucket separates "bucket/key/prefix/" into the bucket name and a
// cleaned key prefix without surrounding slashes.
func splitBucket(raw string) (name, prefix string) {
	name, prefix, _ = strings.Cut(raw, "/")
	return name, strings.Trim(prefix, "/")
}
