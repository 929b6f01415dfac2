package voice

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/voiceguard-lab/internal/detect"
	"github.com/voiceguard-lab/internal/inference"
	"github.com/voiceguard-lab/internal/logging"
)

// Archive saves dispatched chunks as WAV files with JSON sidecars. A nil
// Archive saves nothing.
type Archive struct {
	Dir      string
	sidecars *SidecarManager
}

// NewArchive returns nil when dir is blank.
func NewArchive(dir string) *Archive {
	sm := NewSidecarManager(dir)
	if sm == nil {
		return nil
	}
	return &Archive{Dir: dir, sidecars: sm}
}

type chunkSidecar struct {
	CorrelationID string  `json:"correlation_id"`
	ChunkID       int     `json:"chunk_id"`
	RMS           float64 `json:"rms"`
	Samples       int     `json:"samples"`
	SampleRate    int     `json:"sample_rate"`
	DispatchedUTC string  `json:"dispatched_utc"`
	WavPath       string  `json:"wav_path"`
	Status        string  `json:"status"`
}

// SaveChunk writes <ts>_chunk<N>_cid<jobID>.wav and its sidecar.
func (a *Archive) SaveChunk(job *inference.Job, rms float64, samples, sampleRate int, at time.Time) error {
	if a == nil {
		return nil
	}
	base := fmt.Sprintf("%s_chunk%d_cid%s", at.UTC().Format("20060102T150405.000Z"), job.ChunkID, job.ID)
	wavPath := filepath.Join(a.Dir, base+".wav")
	if err := SaveFileAtomic(wavPath, job.Payload, 0o644); err != nil {
		return fmt.Errorf("archive wav: %w", err)
	}
	sc := chunkSidecar{
		CorrelationID: job.ID,
		ChunkID:       job.ChunkID,
		RMS:           rms,
		Samples:       samples,
		SampleRate:    sampleRate,
		DispatchedUTC: at.UTC().Format(time.RFC3339Nano),
		WavPath:       wavPath,
		Status:        string(job.Status()),
	}
	b, err := json.MarshalIndent(sc, "", "  ")
	if err != nil {
		return fmt.Errorf("archive sidecar: %w", err)
	}
	if err := SaveFileAtomic(filepath.Join(a.Dir, base+".json"), b, 0o644); err != nil {
		return fmt.Errorf("archive sidecar: %w", err)
	}
	return nil
}

// Complete records the outcome of job in its sidecar. res is nil when the
// job produced no result.
func (a *Archive) Complete(job *inference.Job, res *detect.Result, raw string) error {
	if a == nil {
		return nil
	}
	updates := map[string]interface{}{"status": string(job.Status())}
	if res != nil {
		updates["ai_percent"] = res.AIPercent
		updates["real_percent"] = res.RealPercent
		updates["is_ai"] = res.IsAI
		updates["raw_result"] = raw
	}
	return a.sidecars.MergeUpdatesForCID(job.ID, updates)
}

// StartCleaner periodically removes archived pairs older than retention and
// keeps at most maxFiles pairs. Caller must call wg.Add(1) first; the
// goroutine calls wg.Done() on exit.
func (a *Archive) StartCleaner(ctx context.Context, wg *sync.WaitGroup, retention, interval time.Duration, maxFiles int) {
	if a == nil {
		wg.Done()
		return
	}
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := cleanArchive(a.Dir, retention, maxFiles, time.Now()); n > 0 {
					logging.Debugw("archive: cleanup removed pairs", "dir", a.Dir, "removed", n)
				}
			}
		}
	}()
}

// cleanArchive deletes expired and excess sidecar/wav pairs, oldest first,
// and returns how many pairs it removed.
func cleanArchive(dir string, retention time.Duration, maxFiles int, now time.Time) int {
	files, err := os.ReadDir(dir)
	if err != nil {
		logging.Debugw("archive: cleanup readDir failed", "err", err)
		return 0
	}
	type pairInfo struct {
		jsonPath string
		wavPath  string
		mod      time.Time
	}
	var pairs []pairInfo
	for _, fi := range files {
		name := fi.Name()
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		jsonPath := filepath.Join(dir, name)
		st, err := os.Stat(jsonPath)
		if err != nil {
			continue
		}
		wavPath := strings.TrimSuffix(jsonPath, ".json") + ".wav"
		if b, err := os.ReadFile(jsonPath); err == nil {
			var sc map[string]interface{}
			if json.Unmarshal(b, &sc) == nil {
				if v, ok := sc["wav_path"].(string); ok && v != "" {
					wavPath = v
				}
			}
		}
		pairs = append(pairs, pairInfo{jsonPath: jsonPath, wavPath: wavPath, mod: st.ModTime()})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].mod.Before(pairs[j].mod) })

	remove := func(p pairInfo) {
		_ = os.Remove(p.jsonPath)
		_ = os.Remove(p.wavPath)
	}
	cutoff := now.Add(-retention)
	removed := 0
	for _, p := range pairs {
		if retention > 0 && p.mod.Before(cutoff) {
			remove(p)
			removed++
		}
	}
	if maxFiles > 0 {
		for _, p := range pairs[removed:] {
			if len(pairs)-removed <= maxFiles {
				break
			}
			remove(p)
			removed++
		}
	}
	return removed
}
