package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/voiceguard-lab/internal/config"
	"github.com/voiceguard-lab/internal/detect"
	"github.com/voiceguard-lab/internal/logging"
)

// PostWithRetries posts JSON to url with retry/backoff and returns the
// response. Transport errors and 5xx responses are retried with 200ms*2^i
// backoff. Caller must close resp.Body.
func PostWithRetries(ctx context.Context, client *http.Client, url string, body []byte, authToken string, timeout time.Duration, attempts int, correlationID string) (*http.Response, error) {
	if attempts <= 0 {
		attempts = 1
	}
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(200*(1<<(i-1))) * time.Millisecond):
			}
		}
		reqCtx, cancel := context.WithTimeout(ctx, timeout)
		req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			cancel()
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if authToken != "" {
			req.Header.Set("Authorization", "Bearer "+authToken)
		}
		resp, err := client.Do(req)
		if err != nil {
			cancel()
			lastErr = err
			logging.Debugw("postWithRetries: POST attempt failed", "attempt", i+1, "err", err, "correlation_id", correlationID)
			continue
		}
		if resp.StatusCode >= 500 && i < attempts-1 {
			_, _ = io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			cancel()
			lastErr = fmt.Errorf("status %d", resp.StatusCode)
			logging.Debugw("postWithRetries: server error", "attempt", i+1, "status", resp.StatusCode, "correlation_id", correlationID)
			continue
		}
		resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
		return resp, nil
	}
	return nil, fmt.Errorf("post %s failed after %d attempts: %w", url, attempts, lastErr)
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

// AlertPayload is the JSON body posted for every detection event.
type AlertPayload struct {
	Edge        string    `json:"edge"`
	Consecutive int       `json:"consecutive"`
	ChunkID     int       `json:"chunk_id"`
	AIPercent   float64   `json:"ai_percent"`
	RealPercent float64   `json:"real_percent"`
	IsAI        bool      `json:"is_ai"`
	Timestamp   time.Time `json:"timestamp"`
}

// EventForwarder posts detection events to a webhook.
type EventForwarder struct {
	URL       string
	AuthToken string
	Timeout   time.Duration
	Attempts  int
	Client    *http.Client
}

// NewEventForwarder returns nil when no webhook URL is configured.
func NewEventForwarder(s config.WebhookSettings) *EventForwarder {
	if s.URL == "" {
		return nil
	}
	return &EventForwarder{URL: s.URL, AuthToken: s.AuthToken, Timeout: s.Timeout, Attempts: s.Attempts}
}

// Forward delivers ev. A nil forwarder does nothing.
func (f *EventForwarder) Forward(ctx context.Context, ev detect.Event) error {
	if f == nil {
		return nil
	}
	b, err := json.Marshal(AlertPayload{
		Edge:        ev.Edge.String(),
		Consecutive: ev.Consecutive,
		ChunkID:     ev.Result.ChunkID,
		AIPercent:   ev.Result.AIPercent,
		RealPercent: ev.Result.RealPercent,
		IsAI:        ev.Result.IsAI,
		Timestamp:   ev.Result.Timestamp,
	})
	if err != nil {
		return err
	}
	timeout := f.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	cid := fmt.Sprintf("chunk-%d", ev.Result.ChunkID)
	resp, err := PostWithRetries(ctx, f.Client, f.URL, b, f.AuthToken, timeout, f.Attempts, cid)
	if err != nil {
		logging.Warnw("forward: webhook delivery failed", "url", f.URL, "edge", ev.Edge.String(), "err", err)
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logging.Warnw("forward: webhook rejected event", "url", f.URL, "status", resp.StatusCode)
		return fmt.Errorf("webhook status %d", resp.StatusCode)
	}
	logging.Debugw("forward: event delivered", "url", f.URL, "edge", ev.Edge.String(), "correlation_id", cid)
	return nil
}
