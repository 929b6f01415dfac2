package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/voiceguard-lab/internal/capture"
	"github.com/voiceguard-lab/internal/config"
	"github.com/voiceguard-lab/internal/detect"
	"github.com/voiceguard-lab/internal/inference"
	"github.com/voiceguard-lab/internal/logging"
	"github.com/voiceguard-lab/internal/mcp"
	"github.com/voiceguard-lab/internal/metrics"
	"github.com/voiceguard-lab/internal/voice"
)

type streamFlags struct {
	source   string
	file     string
	realtime bool
}

func newStreamCmd(a *app) *cobra.Command {
	f := &streamFlags{}
	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Listen continuously and alert on AI generated voice",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runStream(ctx, a.settings, f)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.source, "source", "mic", "audio source: mic, file or discord")
	fl.StringVar(&f.file, "file", "", "WAV file for --source file")
	fl.BoolVar(&f.realtime, "realtime", true, "pace --source file at its natural rate")
	fl.String("device", "", "capture device name substring")
	fl.Int("sample-rate", 0, "capture sample rate in Hz")
	fl.String("archive-dir", "", "save dispatched chunks and sidecars here")
	fl.String("webhook-url", "", "POST detection events to this URL")
	fl.String("metrics-listen", "", "serve /metrics, /health and the /mcp/ws tool endpoint on this address, e.g. :9464")
	fl.String("guild", "", "Discord guild id for --source discord")
	fl.String("channel", "", "Discord voice channel id for --source discord")
	return cmd
}

func buildSource(s *config.Settings, f *streamFlags) (voice.Source, error) {
	switch f.source {
	case "mic", "":
		return capture.NewMicrophone(s.Audio.SampleRate, s.Audio.Device), nil
	case "file":
		if f.file == "" {
			return nil, errors.New("--file is required with --source file")
		}
		return capture.NewWAVFile(f.file, s.Audio.SampleRate, f.realtime), nil
	case "discord":
		if s.Audio.SampleRate != capture.DiscordSampleRate {
			return nil, fmt.Errorf("discord audio is %d Hz; set audio.samplerate to match", capture.DiscordSampleRate)
		}
		token := s.Discord.Token
		if token == "" {
			token = os.Getenv("DISCORD_BOT_TOKEN")
		}
		return capture.NewDiscord(token, s.Discord.GuildID, s.Discord.ChannelID), nil
	default:
		return nil, fmt.Errorf("unknown source %q", f.source)
	}
}

func runStream(ctx context.Context, s *config.Settings, f *streamFlags) error {
	src, err := buildSource(s, f)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	if err != nil {
		return err
	}

	fwd := voice.NewEventForwarder(s.Webhook)
	var fwdWG sync.WaitGroup
	defer fwdWG.Wait()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	opts := voice.OptionsFromSettings(s)
	opts.Classifier = inference.NewClient(s.Inference)
	opts.Archive = voice.NewArchive(s.Archive.Dir)
	opts.Metrics = m
	opts.OnStatus = func(st string) { logging.Debugw("status", "status", st) }
	opts.OnResult = func(r detect.Result) {
		logging.Infow("chunk result", "chunk.id", r.ChunkID, "ai_percent", r.AIPercent, "real_percent", r.RealPercent, "is_ai", r.IsAI)
	}
	opts.OnAlert = func(ev detect.Event) {
		if ev.Edge == detect.EdgeRising {
			logging.Warnw("AI generated voice detected", "chunk.id", ev.Result.ChunkID, "ai_percent", ev.Result.AIPercent)
		} else {
			logging.Infow("AI generated voice no longer detected", "chunk.id", ev.Result.ChunkID)
		}
		if fwd == nil {
			return
		}
		fwdWG.Add(1)
		go func() {
			defer fwdWG.Done()
			_ = fwd.Forward(context.WithoutCancel(runCtx), ev)
		}()
	}
	opts.OnCaptureError = func(err error) { logging.Errorw("capture stopped the session", "error", err) }

	det, err := voice.NewDetector(opts)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(runCtx)
	if s.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("ok")) })
		mux.Handle("/mcp/ws", mcp.Handler(mcp.NewServer(mcp.Tools{
			Detector:      det,
			Classifier:    opts.Classifier,
			ClipThreshold: s.Stream.ClipAIThreshold,
		}, version)))
		srv := &http.Server{Addr: s.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		g.Go(func() error {
			logging.Infow("control server listening", "addr", s.Metrics.Listen, "paths", "/metrics /health /mcp/ws")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("control server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			return srv.Shutdown(shutdownCtx)
		})
	}
	if opts.Archive != nil {
		g.Go(func() error {
			var wg sync.WaitGroup
			wg.Add(1)
			opts.Archive.StartCleaner(gctx, &wg, s.Archive.Retention, s.Archive.Interval, s.Archive.MaxFiles)
			wg.Wait()
			return nil
		})
	}

	if err := det.Start(gctx, src); err != nil {
		cancel()
		_ = g.Wait()
		return err
	}
	g.Go(func() error {
		defer cancel()
		select {
		case <-gctx.Done():
			if err := det.Stop(); err != nil {
				return err
			}
			<-det.Done()
			return nil
		case <-det.Done():
			return det.Err()
		}
	})

	err = g.Wait()
	logging.Infow("stream finished", "results", len(det.History()), "status", det.Status())
	return err
}
