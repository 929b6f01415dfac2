package voice

import (
	"context"
	"errors"
	"time"

	"github.com/voiceguard-lab/internal/detect"
	"github.com/voiceguard-lab/internal/inference"
	"github.com/voiceguard-lab/internal/logging"
)

// ClipReport is the printable outcome of a whole-clip analysis.
type ClipReport struct {
	File string `json:"file"`
	detect.Result
	Threshold float64 `json:"threshold"`
}

// AnalyzeClip classifies a whole recording in one round trip and applies
// threshold to the AI score.
func AnalyzeClip(ctx context.Context, c Classifier, samples []float32, sampleRate int, threshold float64) (detect.Result, error) {
	if len(samples) == 0 {
		return detect.Result{}, errors.New("voice: empty clip")
	}
	job := inference.NewJob(1, EncodeWAV(samples, sampleRate))
	logging.Infow("voice: analyzing clip", "job.id", job.ID, "samples", len(samples), "rms", RMS(samples))
	text, err := c.Classify(ctx, job)
	if err != nil {
		return detect.Result{}, err
	}
	res := detect.FromText(job.ChunkID, text, threshold, time.Now())
	logging.Infow("voice: clip classified", "job.id", job.ID, "ai_percent", res.AIPercent, "real_percent", res.RealPercent, "is_ai", res.IsAI)
	return res, nil
}
