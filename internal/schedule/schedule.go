package schedule

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/sprinkler-controller/internal/model"
	"github.com/thatsimonsguy/sprinkler-controller/internal/store"
	"github.com/thatsimonsguy/sprinkler-controller/internal/trigger"
)

var (
	ErrConflict     = errors.New("schedule conflicts with an existing entry for the same zone")
	ErrInvalidEntry = errors.New("invalid schedule entry")
)

type Persister interface {
	LoadSchedules() ([]model.ScheduleEntry, error)
	SaveSchedules(entries []model.ScheduleEntry) error
}

// AddResult describes what Add did. Indices refer to positions before the call.
type AddResult struct {
	Stored    bool  `json:"stored"`
	Duplicate bool  `json:"duplicate"`
	Replaced  []int `json:"replaced"`
	Conflicts []int `json:"conflicts"`
}

// Store is the ordered schedule list. Every mutation is persisted before it returns, and
// onChange receives a copy of the new list afterwards. hookMu spans a whole mutation
// including its onChange call, so snapshots are delivered in mutation order.
type Store struct {
	hookMu   sync.Mutex
	mu       sync.Mutex
	entries  []model.ScheduleEntry
	db       Persister
	onChange func([]model.ScheduleEntry)
}

func New(db Persister, onChange func([]model.ScheduleEntry)) *Store {
	if onChange == nil {
		onChange = func([]model.ScheduleEntry) {}
	}
	return &Store{db: db, onChange: onChange}
}

// Load replaces the in-memory list with the persisted one. Entries that no longer validate
// are kept so indices stay stable; the dispatcher skips them.
func (s *Store) Load() error {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()

	entries, err := s.db.LoadSchedules()
	if errors.Is(err, store.ErrNotFound) {
		entries = nil
	} else if err != nil {
		return fmt.Errorf("load schedules: %w", err)
	}

	for i, e := range entries {
		if err := Validate(e); err != nil {
			log.Warn().Err(err).Int("index", i).Msg("Persisted schedule entry is invalid")
		}
	}

	s.mu.Lock()
	s.entries = entries
	snapshot := s.snapshot()
	s.mu.Unlock()

	log.Info().Int("entries", len(snapshot)).Msg("Schedules loaded")
	s.onChange(snapshot)
	return nil
}

func (s *Store) List() []model.ScheduleEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

func Validate(e model.ScheduleEntry) error {
	if e.Zone < 1 {
		return fmt.Errorf("%w: zone %d must be >= 1", ErrInvalidEntry, e.Zone)
	}
	if !(e.Minutes > 0 && e.Minutes <= model.MaxMinutes) {
		return fmt.Errorf("%w: minutes %g must be > 0 and <= %d", ErrInvalidEntry, e.Minutes, model.MaxMinutes)
	}
	if _, err := trigger.Parse(e.Cron); err != nil {
		return err
	}
	return nil
}

// Add stores entry. An exact duplicate is a successful no-op. When entry overlaps other
// entries for the same zone it is rejected with ErrConflict unless override is set, in which
// case exactly those entries are replaced.
func (s *Store) Add(entry model.ScheduleEntry, override bool) (AddResult, error) {
	entry.Cron = strings.TrimSpace(entry.Cron)
	if err := Validate(entry); err != nil {
		return AddResult{}, err
	}
	newTrigger := trigger.MustParse(entry.Cron)

	s.hookMu.Lock()
	defer s.hookMu.Unlock()

	s.mu.Lock()

	for _, existing := range s.entries {
		if existing == entry {
			s.mu.Unlock()
			log.Info().Int("zone", entry.Zone).Str("cron", entry.Cron).Msg("Schedule already present")
			return AddResult{Duplicate: true}, nil
		}
	}

	var conflicts []int
	for i, existing := range s.entries {
		if existing.Zone != entry.Zone {
			continue
		}
		t, err := trigger.Parse(existing.Cron)
		if err != nil {
			continue
		}
		if t.Overlaps(newTrigger) {
			conflicts = append(conflicts, i)
		}
	}

	if len(conflicts) > 0 && !override {
		s.mu.Unlock()
		return AddResult{Conflicts: conflicts}, ErrConflict
	}

	next := make([]model.ScheduleEntry, 0, len(s.entries)+1)
	for i, existing := range s.entries {
		if !slices.Contains(conflicts, i) {
			next = append(next, existing)
		}
	}
	next = append(next, entry)

	if err := s.db.SaveSchedules(next); err != nil {
		s.mu.Unlock()
		return AddResult{}, fmt.Errorf("save schedules: %w", err)
	}
	s.entries = next
	snapshot := s.snapshot()
	s.mu.Unlock()

	log.Info().
		Int("zone", entry.Zone).
		Float64("minutes", entry.Minutes).
		Str("cron", entry.Cron).
		Ints("replaced", conflicts).
		Msg("Schedule added")

	s.onChange(snapshot)
	return AddResult{Stored: true, Replaced: conflicts}, nil
}

// Delete removes the entry at index. It reports false when index is out of range.
func (s *Store) Delete(index int) (bool, error) {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()

	s.mu.Lock()
	if index < 0 || index >= len(s.entries) {
		s.mu.Unlock()
		return false, nil
	}

	removed := s.entries[index]
	next := make([]model.ScheduleEntry, 0, len(s.entries)-1)
	next = append(next, s.entries[:index]...)
	next = append(next, s.entries[index+1:]...)

	if err := s.db.SaveSchedules(next); err != nil {
		s.mu.Unlock()
		return false, fmt.Errorf("save schedules: %w", err)
	}
	s.entries = next
	snapshot := s.snapshot()
	s.mu.Unlock()

	log.Info().Int("index", index).Int("zone", removed.Zone).Str("cron", removed.Cron).Msg("Schedule deleted")
	s.onChange(snapshot)
	return true, nil
}

// ClearZone removes every entry for zone and returns their former indices.
func (s *Store) ClearZone(zone int) ([]int, error) {
	s.hookMu.Lock()
	defer s.hookMu.Unlock()

	s.mu.Lock()
	removed := []int{}
	next := make([]model.ScheduleEntry, 0, len(s.entries))
	for i, e := range s.entries {
		if e.Zone == zone {
			removed = append(removed, i)
			continue
		}
		next = append(next, e)
	}
	if len(removed) == 0 {
		s.mu.Unlock()
		return removed, nil
	}

	if err := s.db.SaveSchedules(next); err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("save schedules: %w", err)
	}
	s.entries = next
	snapshot := s.snapshot()
	s.mu.Unlock()

	log.Info().Int("zone", zone).Ints("removed", removed).Msg("Zone schedules cleared")
	s.onChange(snapshot)
	return removed, nil
}

func (s *Store) snapshot() []model.ScheduleEntry {
	return append([]model.ScheduleEntry(nil), s.entries...)
}
