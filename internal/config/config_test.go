package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultsAreValid(t *testing.T) {
	d := Defaults()
	require.NoError(t, d.Validate())
	assert.Equal(t, 22050, d.Audio.SampleRate)
	assert.InDelta(t, 30.0, d.Stream.AIThreshold, 0)
	assert.InDelta(t, 50.0, d.Stream.ClipAIThreshold, 0)
	assert.Equal(t, 10, d.Inference.PollAttempts)
	assert.Equal(t, 200*time.Millisecond, d.Inference.PollDelay)
	assert.Equal(t, 44100, d.ChunkSamples())
	assert.Equal(t, 220500, d.BufferSamples())
}

func TestLoadFileEnvAndFlags(t *testing.T) {
	path := writeConfig(t, `
stream:
  chunkduration: 1500ms
  aithreshold: 40
inference:
  baseurl: http://classifier.local/gradio_api
  pollattempts: 4
`)
	t.Setenv("VOICEGUARD_STREAM_MINVOLUME", "0.05")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("endpoint", "", "")
	require.NoError(t, flags.Parse([]string{"--endpoint", "http://override/api"}))

	s, err := Load(path, flags)
	require.NoError(t, err)

	assert.Equal(t, 1500*time.Millisecond, s.Stream.ChunkDuration)
	assert.InDelta(t, 40.0, s.Stream.AIThreshold, 0)
	assert.InDelta(t, 0.05, s.Stream.MinVolume, 1e-9)
	assert.Equal(t, 4, s.Inference.PollAttempts)
	assert.Equal(t, "http://override/api", s.Inference.BaseURL)
	// untouched keys keep their defaults
	assert.Equal(t, "predict", s.Inference.APIName)
	assert.Equal(t, 20, s.Stream.HistoryCapacity)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	require.Error(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"zero sample rate", func(s *Settings) { s.Audio.SampleRate = 0 }},
		{"stereo", func(s *Settings) { s.Audio.Channels = 2 }},
		{"zero chunk", func(s *Settings) { s.Stream.ChunkDuration = 0 }},
		{"buffer shorter than chunk", func(s *Settings) { s.Audio.BufferDuration = time.Second }},
		{"threshold above 100", func(s *Settings) { s.Stream.AIThreshold = 101 }},
		{"negative clip threshold", func(s *Settings) { s.Stream.ClipAIThreshold = -1 }},
		{"zero history", func(s *Settings) { s.Stream.HistoryCapacity = 0 }},
		{"no endpoint", func(s *Settings) { s.Inference.BaseURL = " " }},
		{"zero poll attempts", func(s *Settings) { s.Inference.PollAttempts = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Defaults()
			tt.mutate(s)
			assert.Error(t, s.Validate())
		})
	}
}

func TestDurationSamplesRoundsUp(t *testing.T) {
	assert.Equal(t, 2205, DurationSamples(100*time.Millisecond, 22050))
	assert.Equal(t, 3, DurationSamples(time.Millisecond, 2500))
	assert.Equal(t, 0, DurationSamples(0, 22050))
}
