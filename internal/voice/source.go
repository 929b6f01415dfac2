package voice

import "context"

// Source supplies live mono samples in [-1,1] at the detector's sample rate.
//
// Open acquires the device or file. Run delivers blocks to sink until ctx is
// done or the source ends; it returns nil at a clean end of input. Close
// releases whatever Open acquired and is called exactly once per successful
// Open.
type Source interface {
	Open() error
	Run(ctx context.Context, sink func([]float32)) error
	Close() error
}
