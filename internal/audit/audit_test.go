package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	tstypes "github.com/aws/aws-sdk-go-v2/service/timestreamwrite/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureSink struct {
	name string
	err  error

	mu     sync.Mutex
	events []Event
}

func (s *captureSink) Name() string { return s.name }

func (s *captureSink) Record(_ context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return s.err
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestEmitterDeliversToAllSinks(t *testing.T) {
	a := &captureSink{name: "a"}
	b := &captureSink{name: "b"}
	e := NewEmitter(a, b)
	e.Start()

	e.Emit(Event{Kind: KindOperation, Action: "CREATE", Key: "one.txt", Outcome: "succeeded"})
	e.Emit(Event{Kind: KindOperation, Action: "UPDATE", Key: "two.txt", Outcome: "failed"})
	e.Emit(Lifecycle(ActionStarted, "watching /data"))
	e.Close()

	require.Equal(t, 3, a.count())
	require.Equal(t, 3, b.count())
	assert.False(t, a.events[0].At.IsZero(), "emit should stamp the event time")
	assert.Equal(t, "two.txt", a.events[1].Key)
	assert.Equal(t, KindLifecycle, a.events[2].Kind)
}

func TestSinkErrorDoesNotStopOthers(t *testing.T) {
	bad := &captureSink{name: "bad", err: errors.New("sink down")}
	good := &captureSink{name: "good"}
	e := NewEmitter(bad, good)
	e.Start()

	e.Emit(Event{Kind: KindOperation, Action: "CREATE", Key: "a.txt", Outcome: "succeeded"})
	e.Close()

	assert.Equal(t, 1, bad.count())
	assert.Equal(t, 1, good.count())
}

func TestEmitAfterCloseIsDropped(t *testing.T) {
	sink := &captureSink{name: "only"}
	e := NewEmitter(sink)
	e.Start()
	e.Close()

	e.Emit(Event{Kind: KindOperation, Action: "CREATE", Key: "late.txt"})
	assert.Equal(t, 0, sink.count())

	// repeated close is harmless
	e.Close()
}

func TestZeroSinksIsNoop(t *testing.T) {
	e := NewEmitter()
	e.Start()
	e.Emit(Event{Kind: KindOperation, Action: "CREATE", Key: "a.txt"})
	e.Close()
}

func TestSlackMessageText(t *testing.T) {
	sink := &SlackSink{bucket: "swsoc-incoming"}

	tests := []struct {
		name string
		ev   Event
		want string
	}{
		{
			name: "upload succeeded",
			ev:   Event{Kind: KindOperation, Action: "CREATE", Key: "l0/a.bin", Outcome: "succeeded"},
			want: "FSWatcher: File successfully uploaded to swsoc-incoming - (l0/a.bin) :file_folder:",
		},
		{
			name: "delete succeeded",
			ev:   Event{Kind: KindOperation, Action: "DELETE", Key: "l0/a.bin", Outcome: "succeeded"},
			want: "FSWatcher: File deleted from watch directory - (l0/a.bin) :file_folder:",
		},
		{
			name: "upload failed",
			ev:   Event{Kind: KindOperation, Action: "PUT", Key: "l0/a.bin", Outcome: "failed"},
			want: "FSWatcher: Error uploading file to swsoc-incoming - (l0/a.bin) :file_folder:",
		},
		{
			name: "delete failed",
			ev:   Event{Kind: KindOperation, Action: "DELETE", Key: "l0/a.bin", Outcome: "failed"},
			want: "FSWatcher: Error deleting file from swsoc-incoming - (l0/a.bin) :file_folder:",
		},
		{
			name: "skipped stays quiet",
			ev:   Event{Kind: KindOperation, Action: "UPDATE", Key: "l0/a.bin", Outcome: "skipped"},
			want: "",
		},
		{
			name: "cancelled stays quiet",
			ev:   Event{Kind: KindOperation, Action: "UPDATE", Key: "l0/a.bin", Outcome: "cancelled"},
			want: "",
		},
		{
			name: "lifecycle",
			ev:   Lifecycle(ActionShutdown, "daemon stopped, 4 uploads, 0 failures"),
			want: "FSWatcher: daemon stopped, 4 uploads, 0 failures",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, sink.messageText(tt.ev))
		})
	}
}

func dimValue(rec tstypes.Record, name string) (string, bool) {
	for _, d := range rec.Dimensions {
		if aws.ToString(d.Name) == name {
			return aws.ToString(d.Value), true
		}
	}
	return "", false
}

func TestTimestreamRecordDimensions(t *testing.T) {
	sink := &TimestreamSink{
		cfg:     TimestreamConfig{Database: "swsoc", Table: "fswatcher", Bucket: "swsoc-incoming"},
		host:    "sdc-host-1",
		watcher: "watcher-abc",
	}

	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := sink.buildRecord(Event{
		Kind:     KindOperation,
		Action:   "CREATE",
		Path:     "/data/l0/a.bin",
		Key:      "l0/a.bin",
		Outcome:  "succeeded",
		Duration: 1500 * time.Millisecond,
		At:       at,
	})

	assert.Equal(t, "duration_ms", aws.ToString(rec.MeasureName))
	assert.Equal(t, "1500", aws.ToString(rec.MeasureValue))
	assert.Equal(t, tstypes.MeasureValueTypeBigint, rec.MeasureValueType)
	assert.Equal(t, "1709294400000", aws.ToString(rec.Time))

	for name, want := range map[string]string{
		"action_type":        "CREATE",
		"source_bucket":      "External Server",
		"destination_bucket": "swsoc-incoming",
		"file_key":           "/data/l0/a.bin",
		"new_file_key":       "l0/a.bin",
		"source_host":        "sdc-host-1",
		"watcher_id":         "watcher-abc",
		"outcome":            "succeeded",
	} {
		got, ok := dimValue(rec, name)
		require.True(t, ok, "missing dimension %s", name)
		assert.Equal(t, want, got, "dimension %s", name)
	}
}

func TestTimestreamDeleteHasNoDestination(t *testing.T) {
	sink := &TimestreamSink{
		cfg: TimestreamConfig{Database: "swsoc", Table: "fswatcher", Bucket: "swsoc-incoming"},
	}

	rec := sink.buildRecord(Event{Kind: KindOperation, Action: "DELETE", Key: "l0/a.bin", At: time.Now()})
	_, ok := dimValue(rec, "destination_bucket")
	assert.False(t, ok)
}
