package mcp

import (
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voiceguard-lab/internal/detect"
	"github.com/voiceguard-lab/internal/inference"
	"github.com/voiceguard-lab/internal/voice"
)

type staticDetector struct {
	status  string
	running bool
	history []detect.Result
}

func (d staticDetector) Status() string           { return d.status }
func (d staticDetector) Running() bool            { return d.running }
func (d staticDetector) History() []detect.Result { return d.history }

type textClassifier struct {
	text string
	err  error
}

func (c textClassifier) Classify(context.Context, *inference.Job) (string, error) {
	return c.text, c.err
}

func serve(t *testing.T, tools Tools) *Client {
	t.Helper()
	srv := httptest.NewServer(Handler(NewServer(tools, "test")))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := Dial(ctx, srv.URL, "test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func writeClip(t *testing.T) string {
	t.Helper()
	samples := make([]float32, 1600)
	for i := range samples {
		samples[i] = 0.25
	}
	path := filepath.Join(t.TempDir(), "clip.wav")
	require.NoError(t, os.WriteFile(path, voice.EncodeWAV(samples, 16000), 0o644))
	return path
}

func TestStatusTool(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	det := staticDetector{
		status:  "analyzing chunk #3",
		running: true,
		history: []detect.Result{detect.NewResult(2, 81, 19, 30, ts), detect.NewResult(1, 10, 90, 30, ts)},
	}
	c := serve(t, Tools{Detector: det})

	rep, err := c.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "analyzing chunk #3", rep.Status)
	assert.True(t, rep.Running)
	require.Len(t, rep.History, 2)
	assert.Equal(t, 2, rep.History[0].ChunkID)
	assert.True(t, rep.History[0].IsAI)
	assert.False(t, rep.History[1].IsAI)
}

func TestAnalyzeClipTool(t *testing.T) {
	c := serve(t, Tools{Classifier: textClassifier{text: "AI Generated: 72.5%\nReal Voice: 27.5%"}, ClipThreshold: 50})

	path := writeClip(t)
	rep, err := c.AnalyzeClip(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, path, rep.File)
	assert.InDelta(t, 72.5, rep.AIPercent, 1e-9)
	assert.InDelta(t, 27.5, rep.RealPercent, 1e-9)
	assert.True(t, rep.IsAI)
	assert.InDelta(t, 50, rep.Threshold, 0)
}

func TestAnalyzeClipToolErrors(t *testing.T) {
	c := serve(t, Tools{Classifier: textClassifier{err: errors.New("classifier down")}, ClipThreshold: 50})

	_, err := c.AnalyzeClip(context.Background(), writeClip(t))
	assert.Error(t, err)

	_, err = c.AnalyzeClip(context.Background(), filepath.Join(t.TempDir(), "missing.wav"))
	assert.Error(t, err)
}

func TestUnregisteredToolFails(t *testing.T) {
	c := serve(t, Tools{Detector: staticDetector{status: "idle"}})

	_, err := c.AnalyzeClip(context.Background(), "clip.wav")
	assert.Error(t, err)
}

func TestDialRejectsScheme(t *testing.T) {
	_, err := Dial(context.Background(), "ftp://example.com/mcp", "test")
	assert.Error(t, err)
}
