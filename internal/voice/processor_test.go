package voice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/voiceguard-lab/internal/detect"
	"github.com/voiceguard-lab/internal/inference"
)

func TestTicksDuringFlightDispatchOnce(t *testing.T) {
	c := newFakeClassifier("AI Generated: 10% | Real Voice: 90%")
	c.block = make(chan struct{})
	rec := newRecorder()
	opts := testOptions(c)
	rec.wire(&opts)
	d, src := startDetector(t, opts)
	sess := currentSession(d)

	src.feed(t, constant(100, 0.5))
	d.tick(sess)
	d.tick(sess)
	d.tick(sess)

	require.Eventually(t, func() bool { return c.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "analyzing chunk #1", d.Status())

	close(c.block)
	res := rec.nextResult(t)
	assert.Equal(t, 1, res.ChunkID)
	assert.InDelta(t, 10.0, res.AIPercent, 1e-9)
	assert.False(t, res.IsAI)
	assert.EqualValues(t, 1, c.calls.Load())
}

func TestQuietWindowSkippedWithoutConsumingID(t *testing.T) {
	c := newFakeClassifier("AI Generated: 55% | Real Voice: 45%")
	rec := newRecorder()
	opts := testOptions(c)
	rec.wire(&opts)
	d, src := startDetector(t, opts)
	sess := currentSession(d)

	src.feed(t, constant(100, 0))
	d.tick(sess)
	assert.Equal(t, ErrQuietAudio.Error(), d.Status())
	assert.Zero(t, c.calls.Load())

	src.feed(t, constant(100, 0.2))
	d.tick(sess)
	res := rec.nextResult(t)
	assert.Equal(t, 1, res.ChunkID)
	assert.True(t, res.IsAI)
	log := rec.statusLog()
	require.GreaterOrEqual(t, len(log), 2)
	assert.Equal(t, ErrQuietAudio.Error(), log[0])
	assert.Equal(t, "analyzing chunk #1", log[1])
}

func TestBufferingUntilWindowFilled(t *testing.T) {
	c := newFakeClassifier("AI Generated: 1% | Real Voice: 99%")
	d, src := startDetector(t, testOptions(c))
	sess := currentSession(d)

	d.tick(sess)
	assert.Equal(t, ErrBuffering.Error(), d.Status())

	src.feed(t, constant(60, 0.3))
	d.tick(sess)
	assert.Equal(t, ErrBuffering.Error(), d.Status())
	assert.Zero(t, c.calls.Load())
}

func TestMinChunkIntervalGatesDispatch(t *testing.T) {
	c := newFakeClassifier("AI Generated: 1% | Real Voice: 99%")
	rec := newRecorder()
	opts := testOptions(c)
	opts.MinChunkInterval = 2 * time.Second
	rec.wire(&opts)
	d, src := startDetector(t, opts)
	sess := currentSession(d)

	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return clock }

	src.feed(t, constant(100, 0.3))
	d.tick(sess)
	rec.nextResult(t)

	clock = clock.Add(time.Second)
	d.tick(sess)
	assert.EqualValues(t, 1, c.calls.Load())

	clock = clock.Add(time.Second)
	d.tick(sess)
	res := rec.nextResult(t)
	assert.Equal(t, 2, res.ChunkID)
}

func TestStopDiscardsOutstandingPoll(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	c := newFakeClassifier("AI Generated: 99% | Real Voice: 1%")
	c.block = make(chan struct{})
	rec := newRecorder()
	opts := testOptions(c)
	rec.wire(&opts)
	d, err := NewDetector(opts)
	require.NoError(t, err)
	src := newFakeSource()
	require.NoError(t, d.Start(context.Background(), src))
	sess := currentSession(d)

	src.feed(t, constant(100, 0.5))
	d.tick(sess)
	job := <-c.jobs

	require.NoError(t, d.Stop())
	<-d.Done()

	assert.False(t, d.Running())
	assert.Empty(t, d.History())
	assert.Len(t, rec.results, 0)
	assert.Len(t, rec.alerts, 0)
	assert.Equal(t, inference.StatusCancelled, job.Status())
	assert.EqualValues(t, 1, src.closed.Load())
	assert.NoError(t, d.Err())

	// a late tick after stop is a no-op
	d.tick(sess)
	assert.EqualValues(t, 1, c.calls.Load())
}

func TestHysteresisThroughSession(t *testing.T) {
	c := newFakeClassifier(
		"AI Generated: 80% | Real Voice: 20%",
		"AI Generated: 90% | Real Voice: 10%",
		"AI Generated: 12% | Real Voice: 88%",
	)
	rec := newRecorder()
	opts := testOptions(c)
	rec.wire(&opts)
	d, src := startDetector(t, opts)
	sess := currentSession(d)

	for i := 0; i < 3; i++ {
		src.feed(t, constant(100, 0.4))
		d.tick(sess)
		rec.nextResult(t)
	}

	rising := rec.nextAlert(t)
	falling := rec.nextAlert(t)
	assert.Equal(t, detect.EdgeRising, rising.Edge)
	assert.Equal(t, 1, rising.Result.ChunkID)
	assert.Equal(t, detect.EdgeFalling, falling.Edge)
	assert.Equal(t, 3, falling.Result.ChunkID)

	hist := d.History()
	require.Len(t, hist, 3)
	assert.Equal(t, []int{3, 2, 1}, []int{hist[0].ChunkID, hist[1].ChunkID, hist[2].ChunkID})
}

func TestChunkFailureKeepsSessionAlive(t *testing.T) {
	c := newFakeClassifier("unused")
	c.err = fmt.Errorf("%w after 10 attempts", inference.ErrPollTimeout)
	d, src := startDetector(t, testOptions(c))
	sess := currentSession(d)

	src.feed(t, constant(100, 0.4))
	d.tick(sess)
	require.Eventually(t, func() bool {
		return strings.HasPrefix(d.Status(), "chunk #1 failed")
	}, time.Second, 5*time.Millisecond)

	d.tick(sess)
	require.Eventually(t, func() bool { return c.calls.Load() == 2 }, time.Second, 5*time.Millisecond)
	assert.True(t, d.Running())
	assert.Empty(t, d.History())
}

func TestStartOpenFailure(t *testing.T) {
	d, err := NewDetector(testOptions(newFakeClassifier("x")))
	require.NoError(t, err)
	src := newFakeSource()
	src.openErr = errors.New("no device")

	err = d.Start(context.Background(), src)
	var cerr *CaptureError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "open", cerr.Op)
	assert.ErrorIs(t, err, ErrCapture)
	assert.False(t, d.Running())
}

func TestStartTwice(t *testing.T) {
	d, _ := startDetector(t, testOptions(newFakeClassifier("x")))
	assert.ErrorIs(t, d.Start(context.Background(), newFakeSource()), ErrAlreadyRunning)
}

func TestCaptureFailureStopsSession(t *testing.T) {
	captureErrs := make(chan error, 1)
	opts := testOptions(newFakeClassifier("x"))
	opts.OnCaptureError = func(err error) { captureErrs <- err }
	d, err := NewDetector(opts)
	require.NoError(t, err)
	src := newFakeSource()
	src.runErr = errors.New("device unplugged")
	require.NoError(t, d.Start(context.Background(), src))

	select {
	case <-d.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not stop")
	}
	assert.ErrorIs(t, d.Err(), ErrCapture)
	assert.Equal(t, "capture failed", d.Status())
	assert.EqualValues(t, 1, src.closed.Load())
	select {
	case got := <-captureErrs:
		assert.ErrorIs(t, got, ErrCapture)
	case <-time.After(2 * time.Second):
		t.Fatal("OnCaptureError not called")
	}
}

func TestStopCloseFailure(t *testing.T) {
	d, err := NewDetector(testOptions(newFakeClassifier("x")))
	require.NoError(t, err)
	src := newFakeSource()
	src.closeErr = errors.New("busy")
	require.NoError(t, d.Start(context.Background(), src))

	err = d.Stop()
	var cerr *CaptureError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "close", cerr.Op)
	assert.NoError(t, d.Stop())
}

func TestSourceEndFinishesSession(t *testing.T) {
	d, err := NewDetector(testOptions(newFakeClassifier("x")))
	require.NoError(t, err)
	src := newFakeSource()
	src.endAtOnce = true
	require.NoError(t, d.Start(context.Background(), src))
	sess := currentSession(d)

	require.Eventually(t, func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		return sess.ended
	}, time.Second, 5*time.Millisecond)
	d.tick(sess)

	select {
	case <-d.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not finish")
	}
	assert.NoError(t, d.Err())
	assert.Equal(t, "stopped", d.Status())
}

func TestEndedSourceFlushesTail(t *testing.T) {
	c := newFakeClassifier("AI Generated: 70% | Real Voice: 30%")
	rec := newRecorder()
	opts := testOptions(c)
	rec.wire(&opts)
	d, err := NewDetector(opts)
	require.NoError(t, err)
	src := newFakeSource()
	src.endAtOnce = true
	src.preload = constant(250, 0.3)
	require.NoError(t, d.Start(context.Background(), src))
	sess := currentSession(d)

	require.Eventually(t, func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		return sess.ended
	}, time.Second, 5*time.Millisecond)

	d.tick(sess)
	res := rec.nextResult(t)
	assert.Equal(t, 1, res.ChunkID)

	// nothing new since the last dispatch: the session finishes
	d.tick(sess)
	select {
	case <-d.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not finish")
	}
	assert.EqualValues(t, 1, c.calls.Load())
	assert.Len(t, d.History(), 1)
}

func TestHistorySurvivesRestart(t *testing.T) {
	c := newFakeClassifier("AI Generated: 40% | Real Voice: 60%")
	rec := newRecorder()
	opts := testOptions(c)
	rec.wire(&opts)
	d, err := NewDetector(opts)
	require.NoError(t, err)

	for round := 0; round < 2; round++ {
		src := newFakeSource()
		require.NoError(t, d.Start(context.Background(), src))
		src.feed(t, constant(100, 0.4))
		d.tick(currentSession(d))
		res := rec.nextResult(t)
		assert.Equal(t, 1, res.ChunkID)
		require.NoError(t, d.Stop())
	}
	assert.Len(t, d.History(), 2)
}

func TestAlertStateResetsPerSession(t *testing.T) {
	c := newFakeClassifier("AI Generated: 90% | Real Voice: 10%")
	rec := newRecorder()
	opts := testOptions(c)
	rec.wire(&opts)
	d, err := NewDetector(opts)
	require.NoError(t, err)

	// first session ends while alerting
	src := newFakeSource()
	require.NoError(t, d.Start(context.Background(), src))
	sess := currentSession(d)
	for i := 0; i < 2; i++ {
		src.feed(t, constant(100, 0.4))
		d.tick(sess)
		rec.nextResult(t)
	}
	require.NoError(t, d.Stop())
	assert.Equal(t, detect.EdgeRising, rec.nextAlert(t).Edge)
	assert.Empty(t, rec.alerts, "a second AI chunk in the same session does not re-alert")

	src = newFakeSource()
	require.NoError(t, d.Start(context.Background(), src))
	src.feed(t, constant(100, 0.4))
	d.tick(currentSession(d))
	res := rec.nextResult(t)
	ev := rec.nextAlert(t)
	assert.Equal(t, detect.EdgeRising, ev.Edge)
	assert.Equal(t, res.ChunkID, ev.Result.ChunkID)
	assert.Equal(t, 1, ev.Result.ChunkID)
	require.NoError(t, d.Stop())
}

func TestNewDetectorValidation(t *testing.T) {
	_, err := NewDetector(Options{SampleRate: 1000, ChunkSamples: 10})
	assert.Error(t, err)
	_, err = NewDetector(Options{Classifier: newFakeClassifier("x")})
	assert.Error(t, err)
}
