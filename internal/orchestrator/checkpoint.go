// Tastemesh - Adaptive Personalization Backend
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tastemesh

package orchestrator

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// ErrCorruptCheckpoint marks a recovery file that no longer decodes.
var ErrCorruptCheckpoint = errors.New("recovery checkpoint is corrupt")

// Checkpoint is the recovery file layout.
type Checkpoint struct {
	Metrics   AdaptiveMetrics `json:"metrics"`
	Timestamp time.Time       `json:"timestamp"`
}

// checkpointFile is a single JSON document replaced atomically on write.
// Writes are serialized and each uses its own temp file; a snapshot older
// than the one already on disk is not written. An empty path disables
// checkpointing.
type checkpointFile struct {
	path string

	mu      sync.Mutex
	written time.Time
}

func (f *checkpointFile) write(m AdaptiveMetrics, at time.Time) error {
	if f.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(Checkpoint{Metrics: m, Timestamp: at}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if at.Before(f.written) {
		return nil
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create checkpoint directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp checkpoint: %w", err)
	}
	tmpPath := tmp.Name()
	_, err = tmp.Write(data)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write temp checkpoint: %w", err)
	}
	if err := os.Rename(tmpPath, f.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replace checkpoint: %w", err)
	}
	f.written = at
	return nil
}

// read reports false when no checkpoint exists yet.
func (f *checkpointFile) read() (Checkpoint, bool, error) {
	if f.path == "" {
		return Checkpoint{}, false, nil
	}
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return Checkpoint{}, false, nil
	}
	if err != nil {
		return Checkpoint{}, false, fmt.Errorf("read checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, false, fmt.Errorf("%w: %v", ErrCorruptCheckpoint, err)
	}
	return cp, true, nil
}
