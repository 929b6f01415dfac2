// Package inference drives the remote classifier's upload, submit and poll
// protocol.
package inference

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/voiceguard-lab/internal/config"
	"github.com/voiceguard-lab/internal/logging"
)

const maxResponseBytes = 1 << 20

// Client is a stateless protocol driver. A Client may be shared by
// concurrent jobs.
type Client struct {
	BaseURL      string
	APIName      string
	AuthToken    string
	PollAttempts int
	PollDelay    time.Duration
	HTTP         *http.Client
}

// NewClient builds a client from inference settings.
func NewClient(s config.InferenceSettings) *Client {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		BaseURL:      strings.TrimRight(s.BaseURL, "/"),
		APIName:      s.APIName,
		AuthToken:    s.AuthToken,
		PollAttempts: s.PollAttempts,
		PollDelay:    s.PollDelay,
		HTTP:         &http.Client{Timeout: timeout},
	}
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}

func (c *Client) apiName() string {
	if c.APIName == "" {
		return "predict"
	}
	return c.APIName
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	if c.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.AuthToken)
	}
	return c.httpClient().Do(req)
}

// wrap attributes err to phase unless the context ended, in which case the
// job counts as cancelled.
func wrap(ctx context.Context, phase error, format string, args ...any) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
	}
	return fmt.Errorf("%w: %s", phase, fmt.Sprintf(format, args...))
}

// Classify runs upload, submit and poll for job and returns the raw result
// text. job's status follows each phase.
func (c *Client) Classify(ctx context.Context, job *Job) (string, error) {
	start := time.Now()
	job.advance(StatusUploading)
	path, err := c.Upload(ctx, job.Payload)
	if err != nil {
		return "", c.finish(job, err, start)
	}
	job.mu.Lock()
	job.uploadedPath = path
	job.mu.Unlock()

	eventID, err := c.Submit(ctx, path)
	if err != nil {
		return "", c.finish(job, err, start)
	}
	job.mu.Lock()
	job.eventID = eventID
	job.mu.Unlock()
	job.advance(StatusSubmitted)

	job.advance(StatusPolling)
	text, err := c.Poll(ctx, eventID)
	if err != nil {
		return "", c.finish(job, err, start)
	}
	job.advance(StatusCompleted)
	logging.Debugw("classification complete", logging.JobFields(job.ID, job.ChunkID, string(StatusCompleted))...)
	return text, nil
}

func (c *Client) finish(job *Job, err error, start time.Time) error {
	status := StatusFailed
	switch {
	case errors.Is(err, ErrCancelled):
		status = StatusCancelled
	case errors.Is(err, ErrPollTimeout):
		status = StatusTimedOut
	}
	job.advance(status)
	fields := append(logging.JobFields(job.ID, job.ChunkID, string(status)), "error", err, "elapsed_ms", time.Since(start).Milliseconds())
	logging.Debugw("classification ended without result", fields...)
	return err
}

// Upload posts payload as the multipart file field "files" and returns the
// server-side path.
func (c *Client) Upload(ctx context.Context, payload []byte) (string, error) {
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	part, err := mw.CreateFormFile("files", "chunk.wav")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpload, err)
	}
	if _, err := part.Write(payload); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpload, err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpload, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/upload", body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpload, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := c.do(req)
	if err != nil {
		return "", wrap(ctx, ErrUpload, "%v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", wrap(ctx, ErrUpload, "status %d", resp.StatusCode)
	}

	var paths []string
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&paths); err != nil {
		return "", wrap(ctx, ErrUpload, "decode response: %v", err)
	}
	if len(paths) == 0 || paths[0] == "" {
		return "", fmt.Errorf("%w: response carried no path", ErrUpload)
	}
	return paths[0], nil
}

type fileData struct {
	Path string            `json:"path"`
	Meta map[string]string `json:"meta"`
}

type submitRequest struct {
	Data []fileData `json:"data"`
}

type submitResponse struct {
	EventID string `json:"event_id"`
}

// Submit starts a prediction for an uploaded path and returns its event id.
func (c *Client) Submit(ctx context.Context, path string) (string, error) {
	b, err := json.Marshal(submitRequest{Data: []fileData{{
		Path: path,
		Meta: map[string]string{"_type": "gradio.FileData"},
	}}})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSubmit, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/call/"+c.apiName(), bytes.NewReader(b))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSubmit, err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.do(req)
	if err != nil {
		return "", wrap(ctx, ErrSubmit, "%v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", wrap(ctx, ErrSubmit, "status %d", resp.StatusCode)
	}

	var out submitResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&out); err != nil {
		return "", wrap(ctx, ErrSubmit, "decode response: %v", err)
	}
	if out.EventID == "" {
		return "", fmt.Errorf("%w: response missing event_id", ErrSubmit)
	}
	return out.EventID, nil
}

// Poll fetches the event stream for eventID until a result line appears or
// the attempt budget runs out.
func (c *Client) Poll(ctx context.Context, eventID string) (string, error) {
	attempts := c.PollAttempts
	if attempts <= 0 {
		attempts = 1
	}
	endpoint := c.BaseURL + "/call/" + c.apiName() + "/" + url.PathEscape(eventID)

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 && c.PollDelay > 0 {
			t := time.NewTimer(c.PollDelay)
			select {
			case <-ctx.Done():
				t.Stop()
				return "", fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
			case <-t.C:
			}
		}
		if ctx.Err() != nil {
			return "", fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
		}

		text, ok, err := c.pollOnce(ctx, endpoint)
		if err != nil {
			if ctx.Err() != nil {
				return "", fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())
			}
			lastErr = err
			logging.Debugw("poll attempt failed", "event_id", eventID, "attempt", i+1, "error", err)
			continue
		}
		if ok {
			return text, nil
		}
	}
	if lastErr != nil {
		return "", fmt.Errorf("%w after %d attempts: %v", ErrPollTimeout, attempts, lastErr)
	}
	return "", fmt.Errorf("%w after %d attempts", ErrPollTimeout, attempts)
}

func (c *Client) pollOnce(ctx context.Context, endpoint string) (string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return "", false, err
	}
	resp, err := c.do(req)
	if err != nil {
		return "", false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", false, fmt.Errorf("status %d", resp.StatusCode)
	}
	text, ok := ScanResult(io.LimitReader(resp.Body, maxResponseBytes))
	return text, ok, nil
}

// ScanResult reads an event stream and returns the first "data: " line whose
// JSON array starts with a non-empty string. Malformed lines are skipped.
func ScanResult(r io.Reader) (string, bool) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxResponseBytes)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		rest, found := strings.CutPrefix(line, "data:")
		if !found {
			continue
		}
		var arr []json.RawMessage
		if err := json.Unmarshal([]byte(strings.TrimSpace(rest)), &arr); err != nil || len(arr) == 0 {
			continue
		}
		var text string
		if err := json.Unmarshal(arr[0], &text); err != nil || text == "" {
			continue
		}
		return text, true
	}
	if err := sc.Err(); err != nil {
		logging.Debugw("event stream scan stopped", "error", err)
	}
	return "", false
}
