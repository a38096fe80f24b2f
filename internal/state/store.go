// Package state implements the two-file persistent state store of
// spec.md §4.2: a processed-delivery/fingerprint set and a follow-up task
// map, loaded and saved atomically.
//
// Access is serialized in-process (spec.md §5): a single mutex guards each
// file's in-memory structure, which is held as a write-through cache rather
// than re-read on every request, per the "two concentric dedup stores"
// design note in spec.md §9.
package state

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	natomic "github.com/natefinch/atomic"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	processedFileName = "processed_deliveries.json"
	followupFileName  = "review_followups.json"
	dirPerm           = 0o755
	filePerm          = 0o644
)

// Store is the persistent state store. All public methods are safe for
// concurrent use.
type Store struct {
	dir    string
	log    *zap.Logger
	now    func() time.Time
	procMu sync.Mutex
	proc   *ProcessedState

	followupMu sync.Mutex
	followups  map[string]*FollowupTask

	keyLocksMu sync.Mutex
	keyLocks   map[string]*sync.Mutex
}

// Open loads both persisted files from dir, tolerating absent or malformed
// files by yielding empty defaults (spec.md §4.2).
func Open(dir string, log *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, errors.Wrapf(err, "creating state dir %s", dir)
	}

	s := &Store{
		dir:      dir,
		log:      log,
		now:      time.Now,
		keyLocks: map[string]*sync.Mutex{},
	}

	s.proc = s.loadProcessedState()
	s.followups = s.loadFollowups()

	return s, nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name)
}

func (s *Store) loadProcessedState() *ProcessedState {
	data, err := os.ReadFile(s.path(processedFileName))
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn("failed to read processed-deliveries file, starting empty", zap.Error(err))
		}
		return newProcessedState()
	}

	var state ProcessedState
	if err := json.Unmarshal(data, &state); err == nil && (state.Deliveries != nil || state.Fingerprints != nil) {
		if state.Deliveries == nil {
			state.Deliveries = map[string]bool{}
		}
		if state.Fingerprints == nil {
			state.Fingerprints = map[string]bool{}
		}
		return &state
	}

	// Backward-compatible read of a legacy delivery-only flat map
	// (spec.md §4.2): {"<delivery-id>": true, ...}.
	var legacy map[string]bool
	if err := json.Unmarshal(data, &legacy); err == nil {
		normalized := newProcessedState()
		for id, ok := range legacy {
			if ok {
				normalized.Deliveries[id] = true
			}
		}
		s.log.Info("normalized legacy processed-deliveries file", zap.Int("deliveries", len(normalized.Deliveries)))
		return normalized
	}

	s.log.Warn("processed-deliveries file is malformed, starting empty")
	return newProcessedState()
}

func (s *Store) loadFollowups() map[string]*FollowupTask {
	data, err := os.ReadFile(s.path(followupFileName))
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn("failed to read review-followups file, starting empty", zap.Error(err))
		}
		return map[string]*FollowupTask{}
	}

	var file followupFile
	if err := json.Unmarshal(data, &file); err != nil || file.Tasks == nil {
		s.log.Warn("review-followups file is malformed, starting empty", zap.Error(err))
		return map[string]*FollowupTask{}
	}

	now := s.now()
	for _, task := range file.Tasks {
		task.Backfill(now)
	}
	return file.Tasks
}

func writeJSONAtomic(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshaling state")
	}
	data = append(data, '\n')

	if err := natomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return errors.Wrapf(err, "atomically writing %s", path)
	}
	return nil
}

// HasDelivery reports whether the given delivery id has already been
// processed.
func (s *Store) HasDelivery(id string) bool {
	if id == "" {
		return false
	}
	s.procMu.Lock()
	defer s.procMu.Unlock()
	return s.proc.Deliveries[id]
}

// HasFingerprint reports whether the given content fingerprint has already
// been processed.
func (s *Store) HasFingerprint(hash string) bool {
	if hash == "" {
		return false
	}
	s.procMu.Lock()
	defer s.procMu.Unlock()
	return s.proc.Fingerprints[hash]
}

// MarkProcessed records a delivery id and content fingerprint as seen and
// persists the processed-deliveries file. Per spec.md §3's invariant, once
// either key is recorded no further dispatch is attempted for it.
func (s *Store) MarkProcessed(deliveryID, fp string) error {
	s.procMu.Lock()
	defer s.procMu.Unlock()

	if deliveryID != "" {
		s.proc.Deliveries[deliveryID] = true
	}
	if fp != "" {
		s.proc.Fingerprints[fp] = true
	}

	if err := writeJSONAtomic(s.path(processedFileName), s.proc); err != nil {
		return fmt.Errorf("persisting processed state: %w", err)
	}
	return nil
}

// GetFollowup returns a copy of the task for key, or nil if none exists.
func (s *Store) GetFollowup(key string) *FollowupTask {
	s.followupMu.Lock()
	defer s.followupMu.Unlock()

	task, ok := s.followups[key]
	if !ok {
		return nil
	}
	clone := *task
	return &clone
}

// SaveFollowup upserts a task and persists the full follow-up file.
func (s *Store) SaveFollowup(key string, task *FollowupTask) error {
	s.followupMu.Lock()
	defer s.followupMu.Unlock()

	s.followups[key] = task

	if err := writeJSONAtomic(s.path(followupFileName), followupFile{Tasks: s.followups}); err != nil {
		return fmt.Errorf("persisting follow-up tasks: %w", err)
	}
	return nil
}

// LockKey returns an unlock function after acquiring the per-key lock that
// serializes load-modify-save cycles for a single pull request
// (spec.md §5).
func (s *Store) LockKey(key string) func() {
	s.keyLocksMu.Lock()
	mu, ok := s.keyLocks[key]
	if !ok {
		mu = &sync.Mutex{}
		s.keyLocks[key] = mu
	}
	s.keyLocksMu.Unlock()

	mu.Lock()
	return mu.Unlock
}
