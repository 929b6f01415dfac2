// Package detect turns per-chunk classifier scores into detection results,
// alert transitions and a bounded display history.
package detect

import "time"

// Result is the immutable outcome of one classified chunk.
type Result struct {
	ChunkID     int       `json:"chunk_id"`
	AIPercent   float64   `json:"ai_percent"`
	RealPercent float64   `json:"real_percent"`
	IsAI        bool      `json:"is_ai"`
	Timestamp   time.Time `json:"timestamp"`
}

// IsAI reports whether aiPercent crosses threshold. The comparison is
// strict: a score equal to the threshold is not AI.
func IsAI(aiPercent, threshold float64) bool {
	return aiPercent > threshold
}

// NewResult builds a Result, deriving IsAI from threshold.
func NewResult(chunkID int, aiPercent, realPercent, threshold float64, ts time.Time) Result {
	return Result{
		ChunkID:     chunkID,
		AIPercent:   aiPercent,
		RealPercent: realPercent,
		IsAI:        IsAI(aiPercent, threshold),
		Timestamp:   ts,
	}
}

// FromText parses raw classifier output into a Result.
func FromText(chunkID int, raw string, threshold float64, ts time.Time) Result {
	aiPct, realPct := ParseScores(raw)
	return NewResult(chunkID, aiPct, realPct, threshold, ts)
}
