package dispatcher

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/sprinkler-controller/internal/datadog"
	"github.com/thatsimonsguy/sprinkler-controller/internal/events"
	"github.com/thatsimonsguy/sprinkler-controller/internal/model"
	"github.com/thatsimonsguy/sprinkler-controller/internal/trigger"
	"github.com/thatsimonsguy/sprinkler-controller/internal/valve"
	"github.com/thatsimonsguy/sprinkler-controller/internal/weather"
)

type Forecaster interface {
	Forecast(ctx context.Context, lat, lon float64) []model.ForecastPoint
}

type SettingsSource interface {
	Get() model.Settings
}

type Runner interface {
	Run(ctx context.Context, zone int, durationSeconds int, useMaster bool, masterValveID int) error
}

// Job is a snapshot of one installed timer.
type Job struct {
	Index int                 `json:"index"`
	Entry model.ScheduleEntry `json:"entry"`
	Next  time.Time           `json:"next"`
}

type installed struct {
	id      cron.EntryID
	index   int
	entry   model.ScheduleEntry
	trigger trigger.Trigger

	mu        sync.Mutex
	lastFired time.Time
}

// claim reports whether the job may fire for minute; each minute fires at most once.
func (j *installed) claim(minute time.Time) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.lastFired.Equal(minute) {
		return false
	}
	j.lastFired = minute
	return true
}

// Dispatcher owns one timer per schedule entry. Firings run on their own goroutines and
// are never preempted by Rebuild or Stop.
type Dispatcher struct {
	mu   sync.Mutex
	cron *cron.Cron
	jobs []*installed

	forecaster Forecaster
	settings   SettingsSource
	runner     Runner
	publisher  events.Publisher

	loc *time.Location
	now func() time.Time
	wg  sync.WaitGroup
}

type Option func(*Dispatcher)

func WithLocation(loc *time.Location) Option {
	return func(d *Dispatcher) { d.loc = loc }
}

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

func WithPublisher(p events.Publisher) Option {
	return func(d *Dispatcher) { d.publisher = p }
}

func New(forecaster Forecaster, settings SettingsSource, runner Runner, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		forecaster: forecaster,
		settings:   settings,
		runner:     runner,
		publisher:  events.Nop{},
		loc:        time.Local,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.cron = cron.New(cron.WithLocation(d.loc))
	return d
}

// Rebuild cancels every installed timer and installs one per entry. Entries whose trigger
// does not parse are logged and skipped.
func (d *Dispatcher) Rebuild(entries []model.ScheduleEntry) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, j := range d.jobs {
		d.cron.Remove(j.id)
	}
	d.jobs = nil

	for i, entry := range entries {
		t, err := trigger.Parse(entry.Cron)
		if err != nil {
			log.Error().Err(err).Int("index", i).Int("zone", entry.Zone).Msg("Skipping schedule with invalid trigger")
			continue
		}
		if !(entry.Minutes > 0 && entry.Minutes <= model.MaxMinutes) {
			log.Error().Int("index", i).Int("zone", entry.Zone).Float64("minutes", entry.Minutes).Msg("Skipping schedule with out-of-range duration")
			continue
		}
		j := &installed{index: i, entry: entry, trigger: t}
		j.id = d.cron.Schedule(t, cron.FuncJob(func() { d.fire(j, d.now().In(d.loc)) }))
		d.jobs = append(d.jobs, j)
	}

	log.Info().Int("installed", len(d.jobs)).Int("entries", len(entries)).Msg("Schedule timers rebuilt")
}

func (d *Dispatcher) Start() {
	d.cron.Start()
	log.Info().Str("tz", d.loc.String()).Msg("Dispatcher started")
}

// Stop halts the timers. In-flight firings keep running; use Wait to drain them.
func (d *Dispatcher) Stop(ctx context.Context) {
	select {
	case <-d.cron.Stop().Done():
	case <-ctx.Done():
	}
	log.Info().Msg("Dispatcher stopped")
}

// Wait blocks until every firing started so far has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// RunDue fires every installed job whose trigger matches now and returns how many fired.
func (d *Dispatcher) RunDue(now time.Time) int {
	d.mu.Lock()
	jobs := append([]*installed(nil), d.jobs...)
	d.mu.Unlock()

	fired := 0
	for _, j := range jobs {
		if j.trigger.Matches(now) && d.fire(j, now) {
			fired++
		}
	}
	return fired
}

func (d *Dispatcher) Jobs() []Job {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now().In(d.loc)
	out := make([]Job, 0, len(d.jobs))
	for _, j := range d.jobs {
		out = append(out, Job{Index: j.index, Entry: j.entry, Next: j.trigger.Next(now)})
	}
	return out
}

func (d *Dispatcher) fire(j *installed, at time.Time) bool {
	minute := at.Truncate(time.Minute)
	if !j.claim(minute) {
		log.Debug().Int("index", j.index).Time("minute", minute).Msg("Job already fired this minute")
		return false
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.execute(j.entry, at)
	}()
	return true
}

func (d *Dispatcher) execute(entry model.ScheduleEntry, at time.Time) {
	ctx := context.Background()
	s := d.settings.Get()

	var forecast []model.ForecastPoint
	if s.EnableWeatherSkip {
		forecast = d.forecaster.Forecast(ctx, s.Latitude, s.Longitude)
		if len(forecast) > 0 {
			datadog.Gauge("weather.rain_probability", float64(forecast[0].RainProbability))
		}
	}

	decision := weather.Decide(forecast, s.EnableWeatherSkip, s.RainProbThreshold)
	zoneTag := "zone:" + strconv.Itoa(entry.Zone)

	if decision.Skip {
		log.Info().
			Int("zone", entry.Zone).
			Str("cron", entry.Cron).
			Str("reason", decision.Reason).
			Msg("Skipping scheduled run")
		datadog.Incr("dispatch.skipped", zoneTag)
		d.publisher.Publish(events.Event{
			Kind:   events.KindSkipped,
			Source: events.SourceSchedule,
			Zone:   entry.Zone,
			Cron:   entry.Cron,
			Reason: decision.Reason,
			At:     at,
		})
		return
	}

	seconds := entry.Seconds()
	log.Info().
		Int("zone", entry.Zone).
		Int("seconds", seconds).
		Str("cron", entry.Cron).
		Str("reason", decision.Reason).
		Msg("Scheduled run firing")
	datadog.Incr("dispatch.fired", zoneTag)
	d.publisher.Publish(events.Event{
		Kind:    events.KindRunStarted,
		Source:  events.SourceSchedule,
		Zone:    entry.Zone,
		Seconds: seconds,
		Cron:    entry.Cron,
		Reason:  decision.Reason,
		At:      at,
	})

	err := d.runner.Run(ctx, entry.Zone, seconds, s.UseMaster, s.MasterValve)
	if err != nil {
		if errors.Is(err, valve.ErrControllerUnset) {
			log.Warn().Int("zone", entry.Zone).Msg("Scheduled run skipped: controller address not set")
		} else {
			log.Error().Err(err).Int("zone", entry.Zone).Msg("Scheduled run failed")
		}
		d.publisher.Publish(events.Event{
			Kind:   events.KindRunFailed,
			Source: events.SourceSchedule,
			Zone:   entry.Zone,
			Cron:   entry.Cron,
			Error:  err.Error(),
			At:     d.now(),
		})
		return
	}

	d.publisher.Publish(events.Event{
		Kind:    events.KindRunFinished,
		Source:  events.SourceSchedule,
		Zone:    entry.Zone,
		Seconds: seconds,
		Cron:    entry.Cron,
		At:      d.now(),
	})
}
