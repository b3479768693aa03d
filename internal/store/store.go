package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/thatsimonsguy/sprinkler-controller/internal/model"
)

const (
	SettingsFile  = "config.json"
	SchedulesFile = "schedules.json"
)

// ErrNotFound is returned when a document has never been saved.
var ErrNotFound = errors.New("document not found")

// Store keeps the settings object and the schedule array as two JSON files in one
// directory. Each save rewrites the whole document.
type Store struct {
	dir string
	mu  sync.Mutex
}

func New(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) LoadSettings() (*model.Settings, error) {
	var settings model.Settings
	if err := s.load(SettingsFile, &settings); err != nil {
		return nil, err
	}
	return &settings, nil
}

func (s *Store) SaveSettings(settings *model.Settings) error {
	return s.save(SettingsFile, settings)
}

func (s *Store) LoadSchedules() ([]model.ScheduleEntry, error) {
	var entries []model.ScheduleEntry
	if err := s.load(SchedulesFile, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) SaveSchedules(entries []model.ScheduleEntry) error {
	if entries == nil {
		entries = []model.ScheduleEntry{}
	}
	return s.save(SchedulesFile, entries)
}

func (s *Store) load(name string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.Open(filepath.Join(s.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	defer file.Close()

	if err := json.NewDecoder(file).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}

func (s *Store) save(name string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}

	path := filepath.Join(s.dir, name)
	tmpPath := path + ".tmp"

	file, err := os.Create(tmpPath)
	if err != nil {
		return err
	}
	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		file.Close()
		return err
	}
	file.Sync()
	file.Close()

	return os.Rename(tmpPath, path)
}
