// Package config loads voiceguard settings from defaults, an optional YAML
// file, VOICEGUARD_* environment variables and command line flags.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// VOICEGUARD_INFERENCE_BASEURL.
const EnvPrefix = "VOICEGUARD"

// Settings is the full configuration surface.
type Settings struct {
	LogLevel  string            `mapstructure:"loglevel"`
	Audio     AudioSettings     `mapstructure:"audio"`
	Stream    StreamSettings    `mapstructure:"stream"`
	Inference InferenceSettings `mapstructure:"inference"`
	Archive   ArchiveSettings   `mapstructure:"archive"`
	Webhook   WebhookSettings   `mapstructure:"webhook"`
	Metrics   MetricsSettings   `mapstructure:"metrics"`
	Discord   DiscordSettings   `mapstructure:"discord"`
}

// AudioSettings describes the captured sample stream.
type AudioSettings struct {
	SampleRate     int           `mapstructure:"samplerate"`
	Channels       int           `mapstructure:"channels"`
	BufferDuration time.Duration `mapstructure:"bufferduration"`
	Device         string        `mapstructure:"device"`
}

// StreamSettings tunes chunk extraction and detection.
type StreamSettings struct {
	ChunkDuration    time.Duration `mapstructure:"chunkduration"`
	Interval         time.Duration `mapstructure:"interval"`
	MinChunkInterval time.Duration `mapstructure:"minchunkinterval"`
	MinVolume        float64       `mapstructure:"minvolume"`
	// AIThreshold is the per-chunk cutoff used while streaming.
	AIThreshold float64 `mapstructure:"aithreshold"`
	// ClipAIThreshold is the cutoff for single clip analysis.
	ClipAIThreshold float64 `mapstructure:"clipaithreshold"`
	HistoryCapacity int     `mapstructure:"historycapacity"`
}

// InferenceSettings points at the remote classifier.
type InferenceSettings struct {
	BaseURL      string        `mapstructure:"baseurl"`
	APIName      string        `mapstructure:"apiname"`
	AuthToken    string        `mapstructure:"authtoken"`
	Timeout      time.Duration `mapstructure:"timeout"`
	PollAttempts int           `mapstructure:"pollattempts"`
	PollDelay    time.Duration `mapstructure:"polldelay"`
}

// ArchiveSettings controls saving dispatched chunks to disk. Empty Dir
// disables the archive.
type ArchiveSettings struct {
	Dir       string        `mapstructure:"dir"`
	Retention time.Duration `mapstructure:"retention"`
	Interval  time.Duration `mapstructure:"interval"`
	MaxFiles  int           `mapstructure:"maxfiles"`
}

// WebhookSettings configures the optional alert forwarder.
type WebhookSettings struct {
	URL       string        `mapstructure:"url"`
	AuthToken string        `mapstructure:"authtoken"`
	Timeout   time.Duration `mapstructure:"timeout"`
	Attempts  int           `mapstructure:"attempts"`
}

// MetricsSettings configures the Prometheus endpoint. Empty Listen disables it.
type MetricsSettings struct {
	Listen string `mapstructure:"listen"`
}

// DiscordSettings configures the Discord voice source.
type DiscordSettings struct {
	Token     string `mapstructure:"token"`
	GuildID   string `mapstructure:"guildid"`
	ChannelID string `mapstructure:"channelid"`
}

// Defaults returns the built-in settings.
func Defaults() *Settings {
	return &Settings{
		LogLevel: "info",
		Audio: AudioSettings{
			SampleRate:     22050,
			Channels:       1,
			BufferDuration: 10 * time.Second,
		},
		Stream: StreamSettings{
			ChunkDuration:    2 * time.Second,
			Interval:         500 * time.Millisecond,
			MinChunkInterval: 2 * time.Second,
			MinVolume:        0.01,
			AIThreshold:      30,
			ClipAIThreshold:  50,
			HistoryCapacity:  20,
		},
		Inference: InferenceSettings{
			BaseURL:      "http://127.0.0.1:7860/gradio_api",
			APIName:      "predict",
			Timeout:      10 * time.Second,
			PollAttempts: 10,
			PollDelay:    200 * time.Millisecond,
		},
		Archive: ArchiveSettings{
			Retention: 24 * time.Hour,
			Interval:  10 * time.Minute,
			MaxFiles:  500,
		},
		Webhook: WebhookSettings{
			Timeout:  5 * time.Second,
			Attempts: 3,
		},
	}
}

// flagKeys maps command line flag names to configuration keys.
var flagKeys = map[string]string{
	"log-level":      "loglevel",
	"endpoint":       "inference.baseurl",
	"api-name":       "inference.apiname",
	"device":         "audio.device",
	"sample-rate":    "audio.samplerate",
	"archive-dir":    "archive.dir",
	"webhook-url":    "webhook.url",
	"metrics-listen": "metrics.listen",
	"guild":          "discord.guildid",
	"channel":        "discord.channelid",
}

func setDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("loglevel", d.LogLevel)

	v.SetDefault("audio.samplerate", d.Audio.SampleRate)
	v.SetDefault("audio.channels", d.Audio.Channels)
	v.SetDefault("audio.bufferduration", d.Audio.BufferDuration)
	v.SetDefault("audio.device", d.Audio.Device)

	v.SetDefault("stream.chunkduration", d.Stream.ChunkDuration)
	v.SetDefault("stream.interval", d.Stream.Interval)
	v.SetDefault("stream.minchunkinterval", d.Stream.MinChunkInterval)
	v.SetDefault("stream.minvolume", d.Stream.MinVolume)
	v.SetDefault("stream.aithreshold", d.Stream.AIThreshold)
	v.SetDefault("stream.clipaithreshold", d.Stream.ClipAIThreshold)
	v.SetDefault("stream.historycapacity", d.Stream.HistoryCapacity)

	v.SetDefault("inference.baseurl", d.Inference.BaseURL)
	v.SetDefault("inference.apiname", d.Inference.APIName)
	v.SetDefault("inference.authtoken", d.Inference.AuthToken)
	v.SetDefault("inference.timeout", d.Inference.Timeout)
	v.SetDefault("inference.pollattempts", d.Inference.PollAttempts)
	v.SetDefault("inference.polldelay", d.Inference.PollDelay)

	v.SetDefault("archive.dir", d.Archive.Dir)
	v.SetDefault("archive.retention", d.Archive.Retention)
	v.SetDefault("archive.interval", d.Archive.Interval)
	v.SetDefault("archive.maxfiles", d.Archive.MaxFiles)

	v.SetDefault("webhook.url", d.Webhook.URL)
	v.SetDefault("webhook.authtoken", d.Webhook.AuthToken)
	v.SetDefault("webhook.timeout", d.Webhook.Timeout)
	v.SetDefault("webhook.attempts", d.Webhook.Attempts)

	v.SetDefault("metrics.listen", d.Metrics.Listen)

	v.SetDefault("discord.token", d.Discord.Token)
	v.SetDefault("discord.guildid", d.Discord.GuildID)
	v.SetDefault("discord.channelid", d.Discord.ChannelID)
}

// Load resolves settings. An empty path searches ./config.yaml and
// $HOME/.config/voiceguard/config.yaml and tolerates neither existing; an
// explicit path must exist. flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/voiceguard")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	s := &Settings{}
	if err := v.Unmarshal(s); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate rejects settings the detector cannot run with.
func (s *Settings) Validate() error {
	var problems []string
	if s.Audio.SampleRate <= 0 {
		problems = append(problems, fmt.Sprintf("audio.samplerate must be > 0, got %d", s.Audio.SampleRate))
	}
	if s.Audio.Channels != 1 {
		problems = append(problems, fmt.Sprintf("audio.channels must be 1, got %d", s.Audio.Channels))
	}
	if s.Stream.ChunkDuration <= 0 {
		problems = append(problems, "stream.chunkduration must be > 0")
	}
	if s.Stream.Interval <= 0 {
		problems = append(problems, "stream.interval must be > 0")
	}
	if s.Stream.MinChunkInterval < 0 {
		problems = append(problems, "stream.minchunkinterval must be >= 0")
	}
	if s.Audio.BufferDuration < s.Stream.ChunkDuration {
		problems = append(problems, "audio.bufferduration must be >= stream.chunkduration")
	}
	if s.Stream.MinVolume < 0 {
		problems = append(problems, "stream.minvolume must be >= 0")
	}
	for name, th := range map[string]float64{
		"stream.aithreshold":     s.Stream.AIThreshold,
		"stream.clipaithreshold": s.Stream.ClipAIThreshold,
	} {
		if th < 0 || th > 100 {
			problems = append(problems, fmt.Sprintf("%s must be within [0,100], got %v", name, th))
		}
	}
	if s.Stream.HistoryCapacity <= 0 {
		problems = append(problems, "stream.historycapacity must be > 0")
	}
	if strings.TrimSpace(s.Inference.BaseURL) == "" {
		problems = append(problems, "inference.baseurl is required")
	}
	if s.Inference.PollAttempts <= 0 {
		problems = append(problems, "inference.pollattempts must be > 0")
	}
	if s.Inference.PollDelay < 0 {
		problems = append(problems, "inference.polldelay must be >= 0")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// ChunkSamples is the window length in samples: ceil(ChunkDuration * R).
func (s *Settings) ChunkSamples() int {
	return DurationSamples(s.Stream.ChunkDuration, s.Audio.SampleRate)
}

// BufferSamples is the accumulator cap in samples.
func (s *Settings) BufferSamples() int {
	return DurationSamples(s.Audio.BufferDuration, s.Audio.SampleRate)
}

// DurationSamples returns ceil(d * rate) using integer arithmetic so exact
// durations never round up by a float error.
func DurationSamples(d time.Duration, rate int) int {
	if d <= 0 || rate <= 0 {
		return 0
	}
	n := int64(d) * int64(rate)
	return int((n + int64(time.Second) - 1) / int64(time.Second))
}
