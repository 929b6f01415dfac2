package inference

import "errors"

// Chunk-level failures. All of them are recoverable: the chunk is dropped
// and the session continues.
var (
	ErrUpload      = errors.New("upload failed")
	ErrSubmit      = errors.New("submit failed")
	ErrPollTimeout = errors.New("no result within poll budget")
	ErrCancelled   = errors.New("job cancelled")
)

// Phase names the protocol step an error belongs to, for metrics labels.
func Phase(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCancelled):
		return "cancelled"
	case errors.Is(err, ErrUpload):
		return "upload"
	case errors.Is(err, ErrSubmit):
		return "submit"
	case errors.Is(err, ErrPollTimeout):
		return "poll"
	default:
		return "other"
	}
}
