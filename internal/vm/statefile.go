package vm

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// RunRecord holds facts about past runs that survive restarts.
type RunRecord struct {
	// LastBoot is when the VM last reached Running.
	LastBoot time.Time `json:"last_boot,omitempty"`

	// LastShutdown is when the last run finished.
	LastShutdown time.Time `json:"last_shutdown,omitempty"`

	// BootCount is the number of successful starts.
	BootCount int `json:"boot_count"`

	// RootDiskSize is the configured root disk size in bytes.
	RootDiskSize int64 `json:"root_disk_size,omitempty"`

	// LastTrigger names what ended the last run.
	LastTrigger string `json:"last_trigger,omitempty"`

	// CleanShutdown indicates the last run ended without a forced stop.
	CleanShutdown bool `json:"clean_shutdown"`
}

// StateFile stores a RunRecord as JSON in the VM home.
type StateFile struct {
	path string
}

// NewStateFile creates a state file manager for dataDir/run.json.
func NewStateFile(dataDir string) *StateFile {
	return &StateFile{
		path: filepath.Join(dataDir, "run.json"),
	}
}

// Load reads the record from disk. A missing file yields an empty record.
func (s *StateFile) Load() (*RunRecord, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return &RunRecord{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}

	var rec RunRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse state file: %w", err)
	}

	return &rec, nil
}

// Save writes the record to disk.
func (s *StateFile) Save(rec *RunRecord) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	// Write atomically
	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}

	return os.Rename(tmpPath, s.path)
}

// RecordBoot updates the record for a new boot.
func (s *StateFile) RecordBoot(rootDiskSize int64) error {
	rec, err := s.Load()
	if err != nil {
		return err
	}

	rec.LastBoot = time.Now()
	rec.BootCount++
	rec.CleanShutdown = false
	if rootDiskSize > 0 {
		rec.RootDiskSize = rootDiskSize
	}

	return s.Save(rec)
}

// RecordShutdown updates the record when a run ends.
func (s *StateFile) RecordShutdown(trigger string, clean bool) error {
	rec, err := s.Load()
	if err != nil {
		return err
	}

	rec.LastShutdown = time.Now()
	rec.LastTrigger = trigger
	rec.CleanShutdown = clean

	return s.Save(rec)
}

// Path returns the state file path.
func (s *StateFile) Path() string {
	return s.path
}
