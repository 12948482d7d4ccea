package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/imroc/req/v3"
)

const slackPostMessageURL = "https://slack.com/api/chat.postMessage"

// SlackSink posts operator-facing messages to a channel. Quiet outcomes
// (skipped, cancelled) produce no message.
type SlackSink struct {
	client  *req.Client
	channel string
	bucket  string
}

func NewSlackSink(token, channel, bucket string) *SlackSink {
	client := req.C().
		SetTimeout(10 * time.Second).
		SetCommonBearerAuthToken(token).
		SetCommonRetryCount(2).
		SetCommonRetryBackoffInterval(500*time.Millisecond, 5*time.Second).
		SetJsonMarshal(json.Marshal).
		SetJsonUnmarshal(json.Unmarshal)

	return &SlackSink{client: client, channel: channel, bucket: bucket}
}

func (s *SlackSink) Name() string { return "slack" }

type slackMessage struct {
	Channel string `json:"channel"`
	Text    string `json:"text"`
}

type slackResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

func (s *SlackSink) Record(ctx context.Context, ev Event) error {
	text := s.messageText(ev)
	if text == "" {
		return nil
	}

	var out slackResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(&slackMessage{Channel: s.channel, Text: text}).
		SetSuccessResult(&out).
		Post(slackPostMessageURL)
	if err != nil {
		return fmt.Errorf("slack post: %w", err)
	}
	if resp.IsErrorState() {
		return fmt.Errorf("slack post: status %s", resp.Status)
	}
	if !out.OK {
		return fmt.Errorf("slack post: %s", out.Error)
	}
	return nil
}

func (s *SlackSink) messageText(ev Event) string {
	if ev.Kind == KindLifecycle {
		return fmt.Sprintf("FSWatcher: %s", ev.Detail)
	}

	switch ev.Outcome {
	case "succeeded":
		if ev.Action == "DELETE" {
			return fmt.Sprintf("FSWatcher: File deleted from watch directory - (%s) :file_folder:", ev.Key)
		}
		return fmt.Sprintf("FSWatcher: File successfully uploaded to %s - (%s) :file_folder:", s.bucket, ev.Key)
	case "failed":
		if ev.Action == "DELETE" {
			return fmt.Sprintf("FSWatcher: Error deleting file from %s - (%s) :file_folder:", s.bucket, ev.Key)
		}
		return fmt.Sprintf("FSWatcher: Error uploading file to %s - (%s) :file_folder:", s.bucket, ev.Key)
	}
	return ""
}
