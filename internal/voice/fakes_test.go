package voice

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/voiceguard-lab/internal/detect"
	"github.com/voiceguard-lab/internal/inference"
)

type fakeSource struct {
	openErr  error
	runErr   error
	closeErr error
	// endAtOnce makes Run return nil immediately, like a file at EOF.
	endAtOnce bool
	// preload is delivered by Run before anything else.
	preload []float32

	mu     sync.Mutex
	sink   func([]float32)
	ready  chan struct{}
	closed atomic.Int32
}

func newFakeSource() *fakeSource { return &fakeSource{ready: make(chan struct{})} }

func (s *fakeSource) Open() error { return s.openErr }

func (s *fakeSource) Run(ctx context.Context, sink func([]float32)) error {
	s.mu.Lock()
	s.sink = sink
	s.mu.Unlock()
	close(s.ready)
	if len(s.preload) > 0 {
		sink(s.preload)
	}
	if s.runErr != nil {
		return s.runErr
	}
	if s.endAtOnce {
		return nil
	}
	<-ctx.Done()
	return nil
}

func (s *fakeSource) Close() error {
	s.closed.Add(1)
	return s.closeErr
}

func (s *fakeSource) feed(t *testing.T, samples []float32) {
	t.Helper()
	select {
	case <-s.ready:
	case <-time.After(2 * time.Second):
		t.Fatal("source never started")
	}
	s.mu.Lock()
	sink := s.sink
	s.mu.Unlock()
	sink(samples)
}

// fakeClassifier returns texts in order, repeating the last one. With block
// set it waits for a release or for ctx; a cancelled call still returns text
// to mimic a late network response.
type fakeClassifier struct {
	texts []string
	err   error
	block chan struct{}

	calls atomic.Int32
	jobs  chan *inference.Job
}

func newFakeClassifier(texts ...string) *fakeClassifier {
	return &fakeClassifier{texts: texts, jobs: make(chan *inference.Job, 16)}
}

func (f *fakeClassifier) Classify(ctx context.Context, job *inference.Job) (string, error) {
	n := int(f.calls.Add(1))
	f.jobs <- job
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
		}
	}
	if f.err != nil {
		return "", f.err
	}
	if n > len(f.texts) {
		n = len(f.texts)
	}
	return f.texts[n-1], nil
}

type recorder struct {
	results chan detect.Result
	alerts  chan detect.Event

	mu       sync.Mutex
	statuses []string
}

func newRecorder() *recorder {
	return &recorder{results: make(chan detect.Result, 16), alerts: make(chan detect.Event, 16)}
}

func (r *recorder) wire(o *Options) {
	o.OnResult = func(res detect.Result) { r.results <- res }
	o.OnAlert = func(ev detect.Event) { r.alerts <- ev }
	o.OnStatus = func(s string) {
		r.mu.Lock()
		r.statuses = append(r.statuses, s)
		r.mu.Unlock()
	}
}

func (r *recorder) statusLog() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.statuses...)
}

func (r *recorder) nextResult(t *testing.T) detect.Result {
	t.Helper()
	select {
	case res := <-r.results:
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("no result delivered")
		return detect.Result{}
	}
}

func (r *recorder) nextAlert(t *testing.T) detect.Event {
	t.Helper()
	select {
	case ev := <-r.alerts:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no alert delivered")
		return detect.Event{}
	}
}

func testOptions(c Classifier) Options {
	return Options{
		SampleRate:      1000,
		ChunkSamples:    100,
		BufferSamples:   500,
		Interval:        time.Hour, // tests drive tick directly
		MinVolume:       0.01,
		AIThreshold:     30,
		HistoryCapacity: 5,
		Classifier:      c,
	}
}

func constant(n int, v float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func startDetector(t *testing.T, opts Options) (*Detector, *fakeSource) {
	t.Helper()
	d, err := NewDetector(opts)
	require.NoError(t, err)
	src := newFakeSource()
	require.NoError(t, d.Start(context.Background(), src))
	t.Cleanup(func() { _ = d.Stop() })
	return d, src
}

func currentSession(d *Detector) *session {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sess
}
