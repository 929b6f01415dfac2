package voice

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/voiceguard-lab/internal/logging"
)

// SidecarManager finds and updates the JSON sidecars stored next to archived
// chunks. A nil manager is a no-op.
type SidecarManager struct {
	Dir string
	// Locking takes an advisory flock on <sidecar>.lock around merges so
	// external tools can read consistent files.
	Locking bool

	mu sync.Mutex
}

func NewSidecarManager(dir string) *SidecarManager {
	if strings.TrimSpace(dir) == "" {
		return nil
	}
	return &SidecarManager{Dir: dir}
}

// FindByCID returns the sidecar path for correlation id cid, or "" when none
// exists. File names are checked first; file contents are the fallback.
func (s *SidecarManager) FindByCID(cid string) string {
	if s == nil || s.Dir == "" || cid == "" {
		return ""
	}
	files, err := os.ReadDir(s.Dir)
	if err != nil {
		logging.Warnw("sidecar: failed to list dir", "dir", s.Dir, "err", err)
		return ""
	}
	for _, fi := range files {
		name := fi.Name()
		if strings.HasSuffix(name, ".json") && strings.Contains(name, "_cid"+cid) {
			return filepath.Join(s.Dir, name)
		}
	}
	for _, fi := range files {
		name := fi.Name()
		if !strings.HasSuffix(name, ".json") {
			continue
		}
		path := filepath.Join(s.Dir, name)
		b, err := os.ReadFile(path)
		if err != nil {
			logging.Debugw("sidecar: failed to read file while searching by cid", "path", path, "err", err, "correlation_id", cid)
			continue
		}
		var sc map[string]interface{}
		if json.Unmarshal(b, &sc) == nil {
			if v, ok := sc["correlation_id"].(string); ok && v == cid {
				return path
			}
		}
	}
	return ""
}

// MergeUpdatesForCID merges updates into the sidecar for cid and writes it
// back atomically.
func (s *SidecarManager) MergeUpdatesForCID(cid string, updates map[string]interface{}) error {
	if s == nil {
		return fmt.Errorf("sidecar manager not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.FindByCID(cid)
	if path == "" {
		return fmt.Errorf("sidecar not found for cid=%s (searched dir=%s)", cid, s.Dir)
	}
	if s.Locking {
		unlock, err := flockPath(path + ".lock")
		if err != nil {
			logging.Warnw("sidecar: failed to lock", "path", path, "err", err, "correlation_id", cid)
			return err
		}
		defer unlock()
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read sidecar %s: %w", path, err)
	}
	var sc map[string]interface{}
	if err := json.Unmarshal(b, &sc); err != nil {
		return fmt.Errorf("invalid sidecar JSON %s: %w", path, err)
	}
	for k, v := range updates {
		sc[k] = v
	}
	nb, err := json.MarshalIndent(sc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal updated sidecar JSON for %s: %w", path, err)
	}
	if err := SaveFileAtomic(path, nb, 0o644); err != nil {
		logging.Warnw("sidecar: failed to write", "path", path, "err", err, "correlation_id", cid)
		return fmt.Errorf("failed to write sidecar %s: %w", path, err)
	}
	logging.Debugw("sidecar: saved updates", "path", path, "correlation_id", cid)
	return nil
}

func flockPath(lockPath string) (func(), error) {
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", lockPath, err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to lock file %s: %w", lockPath, err)
	}
	return func() {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		_ = f.Close()
		_ = os.Remove(lockPath)
	}, nil
}
