package inference

import (
	"sync"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle stage of one classifier round trip.
type JobStatus string

const (
	StatusUploading JobStatus = "uploading"
	StatusSubmitted JobStatus = "submitted"
	StatusPolling   JobStatus = "polling"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusTimedOut  JobStatus = "timed-out"
	StatusCancelled JobStatus = "cancelled"
)

// Job is one in-flight classification of a single chunk. A Job belongs to
// exactly one chunk and is never reused.
type Job struct {
	ID      string
	ChunkID int
	Payload []byte

	mu           sync.Mutex
	uploadedPath string
	eventID      string
	status       JobStatus
}

// NewJob wraps an encoded WAV payload for chunkID.
func NewJob(chunkID int, payload []byte) *Job {
	return &Job{ID: uuid.NewString(), ChunkID: chunkID, Payload: payload, status: StatusUploading}
}

func (j *Job) Status() JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// UploadedPath is the server-side handle returned by the upload phase.
func (j *Job) UploadedPath() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.uploadedPath
}

// EventID is the handle returned by the submit phase.
func (j *Job) EventID() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.eventID
}

// advance moves the job to s unless it already reached a terminal state.
func (j *Job) advance(s JobStatus) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.Terminal() {
		return
	}
	j.status = s
}

// Cancel marks the job cancelled unless it already reached a terminal state.
// It reports whether the status changed.
func (j *Job) Cancel() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status.Terminal() {
		return false
	}
	j.status = StatusCancelled
	return true
}

// Terminal reports whether no further transitions are expected.
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimedOut, StatusCancelled:
		return true
	}
	return false
}
