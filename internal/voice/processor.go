// Package voice turns a live sample stream into per-chunk AI-voice
// classifications and detection events.
package voice

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voiceguard-lab/internal/config"
	"github.com/voiceguard-lab/internal/detect"
	"github.com/voiceguard-lab/internal/inference"
	"github.com/voiceguard-lab/internal/logging"
	"github.com/voiceguard-lab/internal/metrics"
)

// Classifier runs one remote classification. *inference.Client implements it.
type Classifier interface {
	Classify(ctx context.Context, job *inference.Job) (string, error)
}

// Options configures a Detector. Callbacks run on the detector's own
// goroutines, one at a time and in chunk order; they must not call Stop.
type Options struct {
	SampleRate       int
	ChunkSamples     int
	BufferSamples    int
	Interval         time.Duration
	MinChunkInterval time.Duration
	MinVolume        float64
	AIThreshold      float64
	HistoryCapacity  int

	Classifier Classifier
	Archive    *Archive
	Metrics    *metrics.Metrics

	OnResult       func(detect.Result)
	OnAlert        func(detect.Event)
	OnStatus       func(string)
	OnCaptureError func(error)
}

// OptionsFromSettings fills the tuning fields of Options from s.
func OptionsFromSettings(s *config.Settings) Options {
	return Options{
		SampleRate:       s.Audio.SampleRate,
		ChunkSamples:     s.ChunkSamples(),
		BufferSamples:    s.BufferSamples(),
		Interval:         s.Stream.Interval,
		MinChunkInterval: s.Stream.MinChunkInterval,
		MinVolume:        s.Stream.MinVolume,
		AIThreshold:      s.Stream.AIThreshold,
		HistoryCapacity:  s.Stream.HistoryCapacity,
	}
}

// Detector owns the chunk scheduler for one session at a time. The result
// history outlives sessions.
type Detector struct {
	opts    Options
	history *detect.History
	now     func() time.Time

	mu     sync.Mutex
	sess   *session
	done   chan struct{}
	status string
	err    error
}

type session struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	src    Source
	acc    *Accumulator
	sm     *detect.StateMachine
	done   chan struct{}

	// guarded by Detector.mu
	nextID          int
	inFlight        *inference.Job
	lastDispatch    time.Time
	dispatchedTotal int64
	ended           bool
	stopped         bool
}

// NewDetector validates opts and returns an idle detector. The history is
// created here and outlives every session.
func NewDetector(opts Options) (*Detector, error) {
	if opts.Classifier == nil {
		return nil, errors.New("voice: classifier is required")
	}
	if opts.SampleRate <= 0 || opts.ChunkSamples <= 0 {
		return nil, fmt.Errorf("voice: invalid sample rate %d or chunk size %d", opts.SampleRate, opts.ChunkSamples)
	}
	if opts.BufferSamples < opts.ChunkSamples {
		opts.BufferSamples = opts.ChunkSamples
	}
	if opts.Interval <= 0 {
		opts.Interval = 500 * time.Millisecond
	}
	done := make(chan struct{})
	close(done)
	return &Detector{
		opts:    opts,
		history: detect.NewHistory(opts.HistoryCapacity),
		now:     time.Now,
		done:    done,
		status:  "idle",
	}, nil
}

// Start opens src and begins scheduling. It fails with ErrAlreadyRunning
// while a session is active and with a *CaptureError when src cannot open.
func (d *Detector) Start(ctx context.Context, src Source) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sess != nil {
		return ErrAlreadyRunning
	}
	if err := src.Open(); err != nil {
		cerr := &CaptureError{Op: "open", Err: err}
		d.err = cerr
		return cerr
	}

	sctx, cancel := context.WithCancel(ctx)
	sess := &session{
		id:     uuid.NewString(),
		cancel: cancel,
		src:    src,
		acc:    NewAccumulator(d.opts.BufferSamples),
		sm:     detect.NewStateMachine(),
		done:   make(chan struct{}),
	}
	sess.ctx = logging.WithFields(sctx, logging.SessionFields(sess.id)...)
	d.sess = sess
	d.done = sess.done
	d.err = nil
	d.status = "listening"

	sess.wg.Add(2)
	go d.capture(sess)
	go d.schedule(sess)
	logging.InfowCtx(sess.ctx, "voice: session started",
		"sample_rate", d.opts.SampleRate, "chunk_samples", d.opts.ChunkSamples, "interval", d.opts.Interval.String())
	return nil
}

// Stop ends the active session: no further ticks fire, the in-flight job is
// cancelled and its late result discarded, and the source is closed. Stop
// without a session is a no-op.
func (d *Detector) Stop() error {
	d.mu.Lock()
	sess := d.sess
	d.mu.Unlock()
	if sess == nil {
		return nil
	}
	return d.stopSession(sess, nil)
}

func (d *Detector) stopSession(sess *session, cause error) error {
	d.mu.Lock()
	if d.sess != sess || sess.stopped {
		d.mu.Unlock()
		return nil
	}
	sess.stopped = true
	job := sess.inFlight
	d.mu.Unlock()

	if job != nil && job.Cancel() {
		logging.InfowCtx(sess.ctx, "voice: cancelled in-flight job", logging.JobFields(job.ID, job.ChunkID, string(inference.StatusCancelled))...)
	}
	sess.cancel()
	sess.wg.Wait()

	var closeErr error
	if err := sess.src.Close(); err != nil {
		closeErr = &CaptureError{Op: "close", Err: err}
	}

	d.mu.Lock()
	d.sess = nil
	switch {
	case cause != nil:
		d.err = cause
		d.status = "capture failed"
	case closeErr != nil:
		d.err = closeErr
		d.status = "stopped"
	default:
		d.status = "stopped"
	}
	status := d.status
	close(sess.done)
	d.mu.Unlock()

	d.notifyStatus(status)
	logging.InfowCtx(sess.ctx, "voice: session stopped", "chunks", sess.nextID, "error", d.Err())
	return closeErr
}

func (d *Detector) capture(sess *session) {
	defer sess.wg.Done()
	err := sess.src.Run(sess.ctx, sess.acc.Append)
	if sess.ctx.Err() != nil {
		return
	}
	if err != nil {
		cerr := &CaptureError{Op: "run", Err: err}
		logging.Errorw("voice: capture failed", "error", err, "session.id", sess.id)
		go func() {
			_ = d.stopSession(sess, cerr)
			if d.opts.OnCaptureError != nil {
				d.opts.OnCaptureError(cerr)
			}
		}()
		return
	}
	// The source ran dry: let the current job finish, then end the session.
	d.mu.Lock()
	sess.ended = true
	d.mu.Unlock()
	logging.InfowCtx(sess.ctx, "voice: source ended")
}

func (d *Detector) schedule(sess *session) {
	defer sess.wg.Done()
	ticker := time.NewTicker(d.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-sess.ctx.Done():
			// parent context ended without Stop
			go func() { _ = d.stopSession(sess, nil) }()
			return
		case <-ticker.C:
			d.tick(sess)
		}
	}
}

// tick decides whether to dispatch a window. At most one job is ever in
// flight: ticks that arrive during a flight are dropped, not queued. Sample
// work runs without d.mu so a panic there cannot leave it held.
func (d *Detector) tick(sess *session) {
	defer func() {
		if r := recover(); r != nil {
			logging.Errorw("voice: tick panic", "panic", r, "session.id", sess.id)
			d.mu.Lock()
			d.setStatusLocked("internal error")
			d.mu.Unlock()
		}
	}()

	d.mu.Lock()
	if sess.stopped {
		d.mu.Unlock()
		return
	}
	if sess.inFlight != nil {
		d.mu.Unlock()
		d.opts.Metrics.Skipped("inflight")
		return
	}
	if sess.ended && sess.acc.Total() == sess.dispatchedTotal {
		d.finishLocked(sess)
		return
	}
	now := d.now()
	if !sess.lastDispatch.IsZero() && now.Sub(sess.lastDispatch) < d.opts.MinChunkInterval {
		d.mu.Unlock()
		d.opts.Metrics.Skipped("interval")
		return
	}
	d.mu.Unlock()

	total := sess.acc.Total()
	window := sess.acc.SnapshotTail(d.opts.ChunkSamples)
	if len(window) < d.opts.ChunkSamples {
		d.skip(sess, ErrBuffering, "buffering")
		return
	}
	rms := RMS(window)
	if rms < d.opts.MinVolume {
		d.skip(sess, ErrQuietAudio, "quiet")
		return
	}
	payload := EncodeWAV(window, d.opts.SampleRate)

	d.mu.Lock()
	if sess.stopped || sess.inFlight != nil {
		d.mu.Unlock()
		return
	}
	sess.nextID++
	job := inference.NewJob(sess.nextID, payload)
	sess.inFlight = job
	sess.lastDispatch = now
	sess.dispatchedTotal = total
	status := fmt.Sprintf("analyzing chunk #%d", job.ChunkID)
	d.setStatusLocked(status)
	sess.wg.Add(1)
	d.mu.Unlock()

	d.notifyStatus(status)
	d.opts.Metrics.Dispatched()
	logging.DebugwCtx(sess.ctx, "voice: dispatching chunk", logging.ChunkFields(job.ChunkID, len(window), rms)...)
	if err := d.opts.Archive.SaveChunk(job, rms, len(window), d.opts.SampleRate, now); err != nil {
		logging.WarnwCtx(sess.ctx, "voice: archive chunk failed", "chunk.id", job.ChunkID, "error", err)
	}
	go d.process(sess, job)
}

// skip records a gated tick. Once the source has ended a gated window is
// final and the session finishes instead.
func (d *Detector) skip(sess *session, reason error, label string) {
	d.mu.Lock()
	if sess.stopped {
		d.mu.Unlock()
		return
	}
	if sess.ended {
		d.finishLocked(sess)
		return
	}
	changed := d.setStatusLocked(reason.Error())
	d.mu.Unlock()
	d.opts.Metrics.Skipped(label)
	if changed {
		d.notifyStatus(reason.Error())
	}
}

// finishLocked releases d.mu and ends the session in the background.
func (d *Detector) finishLocked(sess *session) {
	d.mu.Unlock()
	go func() { _ = d.stopSession(sess, nil) }()
}

func (d *Detector) process(sess *session, job *inference.Job) {
	defer sess.wg.Done()
	start := time.Now()
	text, err := d.opts.Classifier.Classify(sess.ctx, job)
	d.complete(sess, job, text, err, time.Since(start))
}

// complete applies one round trip's outcome. Outcomes that arrive after the
// session stopped are discarded.
func (d *Detector) complete(sess *session, job *inference.Job, text string, err error, elapsed time.Duration) {
	d.mu.Lock()
	if sess.inFlight == job {
		sess.inFlight = nil
	}
	if sess.stopped || sess.ctx.Err() != nil {
		d.mu.Unlock()
		job.Cancel()
		d.opts.Metrics.Completed(elapsed, "cancelled")
		logging.DebugwCtx(sess.ctx, "voice: discarding late outcome", logging.JobFields(job.ID, job.ChunkID, string(job.Status()))...)
		d.archiveOutcome(sess, job, nil, "")
		return
	}
	if err != nil {
		status := fmt.Sprintf("chunk #%d failed: %v", job.ChunkID, err)
		d.setStatusLocked(status)
		d.mu.Unlock()
		d.opts.Metrics.Completed(elapsed, inference.Phase(err))
		logging.WarnwCtx(sess.ctx, "voice: chunk dropped", append(logging.JobFields(job.ID, job.ChunkID, string(job.Status())), "error", err)...)
		d.notifyStatus(status)
		d.archiveOutcome(sess, job, nil, "")
		return
	}

	res := detect.FromText(job.ChunkID, text, d.opts.AIThreshold, d.now())
	d.history.Push(res)
	ev := sess.sm.Observe(res)
	status := fmt.Sprintf("chunk #%d: %.1f%% AI", res.ChunkID, res.AIPercent)
	d.setStatusLocked(status)
	d.mu.Unlock()

	d.opts.Metrics.Completed(elapsed, "")
	d.opts.Metrics.Result(res.IsAI)
	logging.InfowCtx(sess.ctx, "voice: chunk classified",
		"chunk.id", res.ChunkID, "ai_percent", res.AIPercent, "real_percent", res.RealPercent, "is_ai", res.IsAI)
	d.notifyStatus(status)
	if d.opts.OnResult != nil {
		d.opts.OnResult(res)
	}
	if ev.Edge != detect.EdgeNone {
		d.opts.Metrics.Alert(ev.Edge.String())
		logging.InfowCtx(sess.ctx, "voice: detection event", "edge", ev.Edge.String(), "consecutive", ev.Consecutive, "chunk.id", res.ChunkID)
		if d.opts.OnAlert != nil {
			d.opts.OnAlert(ev)
		}
	}
	d.archiveOutcome(sess, job, &res, text)
}

func (d *Detector) archiveOutcome(sess *session, job *inference.Job, res *detect.Result, raw string) {
	if err := d.opts.Archive.Complete(job, res, raw); err != nil {
		logging.DebugwCtx(sess.ctx, "voice: archive update failed", "chunk.id", job.ChunkID, "error", err)
	}
}

// setStatusLocked reports whether the status changed. d.mu must be held.
func (d *Detector) setStatusLocked(s string) bool {
	if d.status == s {
		return false
	}
	d.status = s
	return true
}

func (d *Detector) notifyStatus(s string) {
	if d.opts.OnStatus != nil {
		d.opts.OnStatus(s)
	}
}

// Done is closed when the current (or last) session has fully stopped.
func (d *Detector) Done() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.done
}

// Err is the error that ended the last session, if any.
func (d *Detector) Err() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.err
}

// Status returns the latest human-readable status line.
func (d *Detector) Status() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

// History returns results most recent first.
func (d *Detector) History() []detect.Result {
	return d.history.Snapshot()
}

// Running reports whether a session is active and not yet stopping.
func (d *Detector) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sess != nil && !d.sess.stopped
}
