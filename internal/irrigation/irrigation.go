package irrigation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/sprinkler-controller/internal/dispatcher"
	"github.com/thatsimonsguy/sprinkler-controller/internal/events"
	"github.com/thatsimonsguy/sprinkler-controller/internal/model"
	"github.com/thatsimonsguy/sprinkler-controller/internal/schedule"
	"github.com/thatsimonsguy/sprinkler-controller/internal/weather"
)

var (
	ErrUnknownZone     = errors.New("zone is not configured")
	ErrInvalidDuration = errors.New("minutes must be greater than zero and at most one day")
)

type Actuator interface {
	Ready() error
	Run(ctx context.Context, zone int, durationSeconds int, useMaster bool, masterValveID int) error
	AllOff(ctx context.Context)
}

type Schedules interface {
	List() []model.ScheduleEntry
	Add(entry model.ScheduleEntry, override bool) (schedule.AddResult, error)
	Delete(index int) (bool, error)
	ClearZone(zone int) ([]int, error)
}

type Settings interface {
	Get() model.Settings
	Save(s model.Settings) error
}

type Discoverer interface {
	Discover(ctx context.Context) ([]string, error)
}

type JobLister interface {
	Jobs() []dispatcher.Job
}

type Deps struct {
	Schedules  Schedules
	Settings   Settings
	Actuator   Actuator
	Forecaster dispatcher.Forecaster
	Jobs       JobLister
	Discoverer Discoverer
	Publisher  events.Publisher
}

// WeatherReport is the result of an on-demand rain gate evaluation.
type WeatherReport struct {
	Enabled   bool                  `json:"enabled"`
	Threshold int                   `json:"threshold"`
	Skip      bool                  `json:"skip"`
	Reason    string                `json:"reason"`
	TodayProb *int                  `json:"today_prob"`
	Forecast  []model.ForecastPoint `json:"forecast"`
}

// Service is the operator-facing surface shared by the HTTP API and the debug CLI.
type Service struct {
	deps Deps
	now func() time.Time
	wg  sync.WaitGroup
}

func New(deps Deps) *Service {
	if deps.Publisher == nil {
		deps.Publisher = events.Nop{}
	}
	return &Service{deps: deps, now: time.Now}
}

func (s *Service) ListSchedules() []model.ScheduleEntry {
	return s.deps.Schedules.List()
}

func (s *Service) AddSchedule(zone int, minutes float64, cron string, override bool) (schedule.AddResult, error) {
	if !s.deps.Settings.Get().HasZone(zone) {
		return schedule.AddResult{}, fmt.Errorf("%w: %d", ErrUnknownZone, zone)
	}
	return s.deps.Schedules.Add(model.ScheduleEntry{Zone: zone, Minutes: minutes, Cron: cron}, override)
}

func (s *Service) DeleteSchedule(index int) (bool, error) {
	return s.deps.Schedules.Delete(index)
}

func (s *Service) ClearZone(zone int) ([]int, error) {
	return s.deps.Schedules.ClearZone(zone)
}

// RunZoneManually starts a run in the background and returns once it has been accepted.
// It bypasses the rain gate.
func (s *Service) RunZoneManually(zone int, minutes float64) error {
	cfg := s.deps.Settings.Get()
	if !cfg.HasZone(zone) {
		return fmt.Errorf("%w: %d", ErrUnknownZone, zone)
	}
	if !(minutes > 0 && minutes <= model.MaxMinutes) {
		return ErrInvalidDuration
	}
	if err := s.deps.Actuator.Ready(); err != nil {
		return err
	}

	seconds := int(minutes * 60)
	log.Info().Int("zone", zone).Int("seconds", seconds).Msg("Manual run requested")
	s.deps.Publisher.Publish(events.Event{
		Kind:    events.KindRunStarted,
		Source:  events.SourceManual,
		Zone:    zone,
		Seconds: seconds,
		At:      s.now(),
	})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.deps.Actuator.Run(context.Background(), zone, seconds, cfg.UseMaster, cfg.MasterValve); err != nil {
			log.Error().Err(err).Int("zone", zone).Msg("Manual run failed")
			s.deps.Publisher.Publish(events.Event{Kind: events.KindRunFailed, Source: events.SourceManual, Zone: zone, Error: err.Error(), At: s.now()})
			return
		}
		s.deps.Publisher.Publish(events.Event{Kind: events.KindRunFinished, Source: events.SourceManual, Zone: zone, Seconds: seconds, At: s.now()})
	}()
	return nil
}

// Wait blocks until every manual run started so far has finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) AllOff(ctx context.Context) error {
	if err := s.deps.Actuator.Ready(); err != nil {
		return err
	}
	log.Info().Msg("All off requested")
	s.deps.Actuator.AllOff(ctx)
	s.deps.Publisher.Publish(events.Event{Kind: events.KindAllOff, Source: events.SourceManual, At: s.now()})
	return nil
}

func (s *Service) CheckWeatherNow(ctx context.Context) WeatherReport {
	cfg := s.deps.Settings.Get()
	forecast := s.deps.Forecaster.Forecast(ctx, cfg.Latitude, cfg.Longitude)
	decision := weather.Decide(forecast, cfg.EnableWeatherSkip, cfg.RainProbThreshold)

	report := WeatherReport{
		Enabled:   cfg.EnableWeatherSkip,
		Threshold: cfg.RainProbThreshold,
		Skip:      decision.Skip,
		Reason:    decision.Reason,
		Forecast:  forecast,
	}
	if report.Forecast == nil {
		report.Forecast = []model.ForecastPoint{}
	}
	if len(forecast) > 0 {
		p := forecast[0].RainProbability
		report.TodayProb = &p
	}
	return report
}

func (s *Service) GetSettings() model.Settings {
	return s.deps.Settings.Get()
}

func (s *Service) SaveSettings(settings model.Settings) error {
	return s.deps.Settings.Save(settings)
}

func (s *Service) Discover(ctx context.Context) ([]string, error) {
	return s.deps.Discoverer.Discover(ctx)
}

func (s *Service) UpcomingRuns() []dispatcher.Job {
	return s.deps.Jobs.Jobs()
}
