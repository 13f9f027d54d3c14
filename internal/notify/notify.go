// Package notify posts run progress to a Slack incoming webhook. With no
// webhook configured every call is a silent no-op, so the pipeline never
// depends on notification delivery.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Slack posts messages to an incoming webhook.
type Slack struct {
	webhookURL string
	client     *http.Client
}

// NewSlack creates a notifier. An empty URL disables it.
func NewSlack(webhookURL string) *Slack {
	return &Slack{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Enabled reports whether a webhook is configured.
func (s *Slack) Enabled() bool {
	return s.webhookURL != ""
}

// Post sends one message. Failures are returned but callers treat them as
// advisory.
func (s *Slack) Post(ctx context.Context, text string) error {
	if !s.Enabled() {
		return nil
	}
	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("slack post failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack post failed: status %d", resp.StatusCode)
	}
	return nil
}

// TaskCompleted reports one finished document.
func (s *Slack) TaskCompleted(ctx context.Context, fileName string, inTokens, outTokens int64) error {
	return s.Post(ctx, fmt.Sprintf(
		":white_check_mark: Translated *%s* (tokens in %d / out %d)",
		fileName, inTokens, outTokens))
}

// TaskFailed reports one failed document.
func (s *Slack) TaskFailed(ctx context.Context, fileName string, taskErr error) error {
	return s.Post(ctx, fmt.Sprintf(":x: Failed *%s*: %v", fileName, taskErr))
}

// VerifySummary reports the end-of-verification tallies.
func (s *Slack) VerifySummary(ctx context.Context, promoted, retranslated, failed int) error {
	return s.Post(ctx, fmt.Sprintf(
		"Verification finished: %d promoted, %d retranslated, %d failed",
		promoted, retranslated, failed))
}

// RunSummary reports the end-of-run tallies.
func (s *Slack) RunSummary(ctx context.Context, completed, failed int, elapsed time.Duration) error {
	return s.Post(ctx, fmt.Sprintf(
		"Translation run finished: %d completed, %d failed in %s",
		completed, failed, elapsed.Round(time.Second)))
}
