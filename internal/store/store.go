// Package store provides crash-safe position persistence and a risk-event
// journal using plain files on disk.
//
// Each outcome token's position is stored as a separate JSON file:
// pos_<tokenID>.json. Writes use atomic file replacement (write to .tmp,
// then rename) to prevent corruption from partial writes or crashes
// mid-save. The engine calls SavePosition for every held token once per
// reconciliation cycle and LoadAll on startup to restore inventory state for
// every token it already held.
//
// Kill-switch trips and sell-only windows are appended to a single
// risk_journal.yaml file, grounded on risk_manager.py's practice of writing
// every stop-loss trip to a durable log so a restart doesn't forget why a
// market was put in sell-only mode.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"polymarket-mm/internal/strategy"
)

// RiskJournalEntry records one kill-switch trip: which market (empty for a
// global trip), why, and how long it stayed in sell-only mode.
type RiskJournalEntry struct {
	ConditionID string    `yaml:"condition_id"`
	Reason      string    `yaml:"reason"`
	TrippedAt   time.Time `yaml:"tripped_at"`
	SleepTill   time.Time `yaml:"sleep_till"`
}

// Store persists positions and the risk journal under a designated
// directory. All operations are mutex-protected to prevent concurrent file
// corruption.
type Store struct {
	dir string     // directory containing pos_*.json and risk_journal.yaml
	mu  sync.Mutex // serializes all file operations
}

// Open creates a store backed by the given directory.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Close is a no-op for file-based storage.
func (s *Store) Close() error {
	return nil
}

// SavePosition atomically persists the current position for an outcome
// token. It writes to a .tmp file first, then renames over the target to
// ensure the file is never left in a partial state (crash-safe).
func (s *Store) SavePosition(tokenID string, pos strategy.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(pos)
	if err != nil {
		return fmt.Errorf("marshal position: %w", err)
	}

	path := s.positionPath(tokenID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write position: %w", err)
	}
	return os.Rename(tmp, path)
}

// LoadPosition restores one token's position from disk. Returns nil, nil if
// no saved position exists (a token never held before).
func (s *Store) LoadPosition(tokenID string) (*strategy.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.positionPath(tokenID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read position: %w", err)
	}

	var pos strategy.Position
	if err := json.Unmarshal(data, &pos); err != nil {
		return nil, fmt.Errorf("unmarshal position: %w", err)
	}
	return &pos, nil
}

// LoadAll restores every previously-persisted position, keyed by token ID,
// so a restarting engine can re-seed its PositionBook before the first scan
// result tells it which markets are active again.
func (s *Store) LoadAll() (map[string]strategy.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read store dir: %w", err)
	}

	out := make(map[string]strategy.Position)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "pos_") || !strings.HasSuffix(name, ".json") {
			continue
		}
		tokenID := strings.TrimSuffix(strings.TrimPrefix(name, "pos_"), ".json")

		data, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			return nil, fmt.Errorf("read position %s: %w", name, err)
		}
		var pos strategy.Position
		if err := json.Unmarshal(data, &pos); err != nil {
			return nil, fmt.Errorf("unmarshal position %s: %w", name, err)
		}
		out[tokenID] = pos
	}
	return out, nil
}

func (s *Store) positionPath(tokenID string) string {
	return filepath.Join(s.dir, "pos_"+tokenID+".json")
}

func (s *Store) journalPath() string {
	return filepath.Join(s.dir, "risk_journal.yaml")
}

// AppendRiskJournal adds one kill-switch trip to the on-disk journal,
// preserving every prior entry.
func (s *Store) AppendRiskJournal(entry RiskJournalEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := s.readJournalLocked()
	if err != nil {
		return err
	}
	entries = append(entries, entry)

	data, err := yaml.Marshal(entries)
	if err != nil {
		return fmt.Errorf("marshal risk journal: %w", err)
	}

	path := s.journalPath()
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write risk journal: %w", err)
	}
	return os.Rename(tmp, path)
}

// LoadRiskJournal returns every kill-switch trip recorded so far.
func (s *Store) LoadRiskJournal() ([]RiskJournalEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readJournalLocked()
}

func (s *Store) readJournalLocked() ([]RiskJournalEntry, error) {
	data, err := os.ReadFile(s.journalPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read risk journal: %w", err)
	}
	var entries []RiskJournalEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("unmarshal risk journal: %w", err)
	}
	return entries, nil
}
