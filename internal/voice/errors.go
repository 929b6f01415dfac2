package voice

import (
	"errors"
	"fmt"
)

// Tick outcomes that skip a window. They only ever surface as status text.
var (
	ErrBuffering  = errors.New("buffering")
	ErrQuietAudio = errors.New("too quiet")
)

var (
	ErrAlreadyRunning = errors.New("detector already running")
	// ErrCapture matches every *CaptureError via errors.Is.
	ErrCapture = errors.New("capture failed")
)

// CaptureError is fatal to a session: the audio source failed to open, run
// or close.
type CaptureError struct {
	Op  string
	Err error
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("capture %s: %v", e.Op, e.Err)
}

func (e *CaptureError) Unwrap() error { return e.Err }

func (e *CaptureError) Is(target error) bool { return target == ErrCapture }
