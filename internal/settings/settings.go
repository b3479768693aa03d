package settings

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/sprinkler-controller/internal/model"
	"github.com/thatsimonsguy/sprinkler-controller/internal/store"
)

var ErrInvalid = errors.New("invalid settings")

type Persister interface {
	LoadSettings() (*model.Settings, error)
	SaveSettings(settings *model.Settings) error
}

// Manager owns the current settings. Reads return copies.
type Manager struct {
	mu      sync.RWMutex
	current model.Settings
	db      Persister
}

func New(db Persister) *Manager {
	return &Manager{current: model.DefaultSettings(), db: db}
}

// Load reads the persisted settings, falling back to defaults when none exist. Values that
// fail validation are repaired rather than rejected so the daemon can still start.
func (m *Manager) Load() error {
	loaded, err := m.db.LoadSettings()
	if errors.Is(err, store.ErrNotFound) {
		log.Info().Msg("No settings saved yet, using defaults")
		m.mu.Lock()
		m.current = model.DefaultSettings()
		m.mu.Unlock()
		return nil
	}
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	repaired, fixes := Repair(*loaded)
	if len(fixes) > 0 {
		log.Warn().Strs("fixes", fixes).Msg("Repaired persisted settings")
	}

	m.mu.Lock()
	m.current = repaired
	m.mu.Unlock()
	return nil
}

func (m *Manager) Get() model.Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.Clone()
}

func (m *Manager) Address() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return strings.TrimSpace(m.current.BlossomIP)
}

// Save validates and persists s, then makes it current.
func (m *Manager) Save(s model.Settings) error {
	s.BlossomIP = strings.TrimSpace(s.BlossomIP)
	if err := Validate(s); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s = s.Clone()
	if err := m.db.SaveSettings(&s); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	m.current = s

	log.Info().
		Str("blossom_ip", s.BlossomIP).
		Bool("use_master", s.UseMaster).
		Int("master_valve", s.MasterValve).
		Ints("zones", s.Zones).
		Bool("weather_skip", s.EnableWeatherSkip).
		Int("threshold", s.RainProbThreshold).
		Msg("Settings saved")
	return nil
}

func Validate(s model.Settings) error {
	var problems []string

	if s.RainProbThreshold < 0 || s.RainProbThreshold > 100 {
		problems = append(problems, fmt.Sprintf("rain_prob_threshold %d outside 0-100", s.RainProbThreshold))
	}
	if s.MasterValve < 0 {
		problems = append(problems, fmt.Sprintf("master_valve %d is negative", s.MasterValve))
	}
	if len(s.Zones) == 0 {
		problems = append(problems, "zones is empty")
	}
	seen := map[int]bool{}
	for _, z := range s.Zones {
		if z < 1 {
			problems = append(problems, fmt.Sprintf("zone %d must be >= 1", z))
		}
		if seen[z] {
			problems = append(problems, fmt.Sprintf("zone %d listed twice", z))
		}
		seen[z] = true
	}
	if !validCoordinates(s.Latitude, s.Longitude) {
		problems = append(problems, fmt.Sprintf("coordinates %.4f,%.4f out of range", s.Latitude, s.Longitude))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// Repair returns s with out-of-range values replaced, plus a description of each fix.
func Repair(s model.Settings) (model.Settings, []string) {
	var fixes []string
	defaults := model.DefaultSettings()

	s.BlossomIP = strings.TrimSpace(s.BlossomIP)

	switch {
	case s.RainProbThreshold < 0:
		fixes = append(fixes, fmt.Sprintf("threshold %d clamped to 0", s.RainProbThreshold))
		s.RainProbThreshold = 0
	case s.RainProbThreshold > 100:
		fixes = append(fixes, fmt.Sprintf("threshold %d clamped to 100", s.RainProbThreshold))
		s.RainProbThreshold = 100
	}

	if s.MasterValve < 0 {
		fixes = append(fixes, fmt.Sprintf("master_valve %d reset to %d", s.MasterValve, defaults.MasterValve))
		s.MasterValve = defaults.MasterValve
	}

	var zones []int
	seen := map[int]bool{}
	for _, z := range s.Zones {
		if z < 1 || seen[z] {
			fixes = append(fixes, fmt.Sprintf("dropped zone %d", z))
			continue
		}
		seen[z] = true
		zones = append(zones, z)
	}
	if len(zones) == 0 {
		fixes = append(fixes, "empty zone list replaced with defaults")
		zones = defaults.Zones
	}
	s.Zones = zones

	if !validCoordinates(s.Latitude, s.Longitude) {
		fixes = append(fixes, "coordinates reset to defaults")
		s.Latitude = defaults.Latitude
		s.Longitude = defaults.Longitude
	}

	return s, fixes
}

func validCoordinates(lat, lon float64) bool {
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}
