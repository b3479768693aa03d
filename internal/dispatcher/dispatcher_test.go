package dispatcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/sprinkler-controller/internal/events"
	"github.com/thatsimonsguy/sprinkler-controller/internal/model"
	"github.com/thatsimonsguy/sprinkler-controller/internal/schedule"
	"github.com/thatsimonsguy/sprinkler-controller/internal/store"
	"github.com/thatsimonsguy/sprinkler-controller/internal/valve"
)

// Monday 2 June 2025, 06:00.
var monday6am = time.Date(2025, 6, 2, 6, 0, 0, 0, time.UTC)

type fakeForecaster struct {
	mu     sync.Mutex
	points []model.ForecastPoint
	calls  int
}

func (f *fakeForecaster) Forecast(context.Context, float64, float64) []model.ForecastPoint {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.points
}

type fixedSettings struct{ s model.Settings }

func (f fixedSettings) Get() model.Settings { return f.s.Clone() }

type runCall struct {
	Zone      int
	Seconds   int
	UseMaster bool
	Master    int
}

type fakeRunner struct {
	mu    sync.Mutex
	calls []runCall
	err   error
}

func (r *fakeRunner) Run(_ context.Context, zone, seconds int, useMaster bool, master int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, runCall{zone, seconds, useMaster, master})
	return r.err
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(e events.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
}

func (p *recordingPublisher) kinds() []events.Kind {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.Kind
	for _, e := range p.events {
		out = append(out, e.Kind)
	}
	return out
}

type fixture struct {
	d          *Dispatcher
	forecaster *fakeForecaster
	runner     *fakeRunner
	published  *recordingPublisher
}

func newFixture(settings model.Settings, prob ...int) *fixture {
	f := &fixture{
		forecaster: &fakeForecaster{},
		runner:     &fakeRunner{},
		published:  &recordingPublisher{},
	}
	for i, p := range prob {
		f.forecaster.points = append(f.forecaster.points, model.ForecastPoint{
			Date:            monday6am.AddDate(0, 0, i),
			RainProbability: p,
		})
	}
	f.d = New(f.forecaster, fixedSettings{settings}, f.runner,
		WithLocation(time.UTC),
		WithClock(func() time.Time { return monday6am }),
		WithPublisher(f.published),
	)
	return f
}

func TestRunDue_DryForecastRuns(t *testing.T) {
	f := newFixture(model.DefaultSettings(), 10)
	f.d.Rebuild([]model.ScheduleEntry{{Zone: 1, Minutes: 5, Cron: "0 6 * * *"}})

	assert.Equal(t, 1, f.d.RunDue(monday6am))
	f.d.Wait()

	assert.Equal(t, []runCall{{Zone: 1, Seconds: 300, UseMaster: false, Master: 13}}, f.runner.calls)
	assert.Equal(t, []events.Kind{events.KindRunStarted, events.KindRunFinished}, f.published.kinds())
}

func TestRunDue_RainSkips(t *testing.T) {
	f := newFixture(model.DefaultSettings(), 80)
	f.d.Rebuild([]model.ScheduleEntry{{Zone: 2, Minutes: 5, Cron: "0 6 * * *"}})

	f.d.RunDue(monday6am)
	f.d.Wait()

	assert.Empty(t, f.runner.calls)
	require.Len(t, f.published.events, 1)
	assert.Equal(t, events.KindSkipped, f.published.events[0].Kind)
	assert.Equal(t, "rain prob 80% ≥ 50%", f.published.events[0].Reason)
}

func TestRunDue_ThresholdIsInclusive(t *testing.T) {
	f := newFixture(model.DefaultSettings(), 50)
	f.d.Rebuild([]model.ScheduleEntry{{Zone: 2, Minutes: 5, Cron: "0 6 * * *"}})

	f.d.RunDue(monday6am)
	f.d.Wait()

	assert.Empty(t, f.runner.calls)
}

func TestRunDue_NoForecastFailsOpen(t *testing.T) {
	f := newFixture(model.DefaultSettings())
	f.d.Rebuild([]model.ScheduleEntry{{Zone: 3, Minutes: 1.5, Cron: "0 6 * * 1"}})

	f.d.RunDue(monday6am)
	f.d.Wait()

	require.Len(t, f.runner.calls, 1)
	assert.Equal(t, 90, f.runner.calls[0].Seconds)
}

func TestRunDue_WeatherSkipDisabled(t *testing.T) {
	settings := model.DefaultSettings()
	settings.EnableWeatherSkip = false
	settings.UseMaster = true
	f := newFixture(settings, 100)
	f.d.Rebuild([]model.ScheduleEntry{{Zone: 4, Minutes: 2, Cron: "0 6 * * *"}})

	f.d.RunDue(monday6am)
	f.d.Wait()

	assert.Equal(t, 0, f.forecaster.calls)
	assert.Equal(t, []runCall{{Zone: 4, Seconds: 120, UseMaster: true, Master: 13}}, f.runner.calls)
}

func TestRunDue_OnlyMatchingJobs(t *testing.T) {
	f := newFixture(model.DefaultSettings(), 0)
	f.d.Rebuild([]model.ScheduleEntry{
		{Zone: 1, Minutes: 1, Cron: "0 6 * * *"},
		{Zone: 2, Minutes: 1, Cron: "0 6 * * 2"},
		{Zone: 3, Minutes: 1, Cron: "1 6 * * *"},
		{Zone: 4, Minutes: 1, Cron: "0 6 * * 1-5"},
	})

	assert.Equal(t, 2, f.d.RunDue(monday6am))
	f.d.Wait()

	zones := map[int]bool{}
	for _, c := range f.runner.calls {
		zones[c.Zone] = true
	}
	assert.Equal(t, map[int]bool{1: true, 4: true}, zones)
}

func TestRunDue_SameMinuteFiresOnce(t *testing.T) {
	f := newFixture(model.DefaultSettings(), 0)
	f.d.Rebuild([]model.ScheduleEntry{{Zone: 1, Minutes: 1, Cron: "0 6 * * *"}})

	assert.Equal(t, 1, f.d.RunDue(monday6am))
	assert.Equal(t, 0, f.d.RunDue(monday6am.Add(30*time.Second)))
	assert.Equal(t, 1, f.d.RunDue(monday6am.AddDate(0, 0, 1)))
	f.d.Wait()

	assert.Len(t, f.runner.calls, 2)
}

func TestRebuild_SkipsInvalidTriggers(t *testing.T) {
	f := newFixture(model.DefaultSettings(), 0)
	f.d.Rebuild([]model.ScheduleEntry{
		{Zone: 1, Minutes: 1, Cron: "0 6 * * *"},
		{Zone: 2, Minutes: 1, Cron: "not a cron"},
		{Zone: 3, Minutes: 1, Cron: "0 6 1 * *"},
		{Zone: 4, Minutes: 1, Cron: "30 7 * * 0,6"},
	})

	jobs := f.d.Jobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, 0, jobs[0].Index)
	assert.Equal(t, 3, jobs[1].Index)
	assert.Len(t, f.d.cron.Entries(), 2)
}

func TestRebuild_ReplacesPreviousTimers(t *testing.T) {
	f := newFixture(model.DefaultSettings(), 0)
	f.d.Rebuild([]model.ScheduleEntry{
		{Zone: 1, Minutes: 1, Cron: "0 6 * * *"},
		{Zone: 2, Minutes: 1, Cron: "0 6 * * *"},
	})
	f.d.Rebuild([]model.ScheduleEntry{{Zone: 5, Minutes: 1, Cron: "0 6 * * *"}})

	assert.Len(t, f.d.cron.Entries(), 1)
	assert.Equal(t, 1, f.d.RunDue(monday6am))
	f.d.Wait()

	require.Len(t, f.runner.calls, 1)
	assert.Equal(t, 5, f.runner.calls[0].Zone)
}

func TestRebuild_CapturesEntryValues(t *testing.T) {
	f := newFixture(model.DefaultSettings(), 0)
	entries := []model.ScheduleEntry{{Zone: 1, Minutes: 5, Cron: "0 6 * * *"}}
	f.d.Rebuild(entries)

	entries[0].Zone = 9
	entries[0].Minutes = 60

	f.d.RunDue(monday6am)
	f.d.Wait()

	assert.Equal(t, []runCall{{Zone: 1, Seconds: 300, Master: 13}}, f.runner.calls)
}

func TestRebuild_SkipsOutOfRangeDuration(t *testing.T) {
	f := newFixture(model.DefaultSettings(), 0)
	f.d.Rebuild([]model.ScheduleEntry{
		{Zone: 1, Minutes: 1e18, Cron: "0 6 * * *"},
		{Zone: 2, Minutes: 0, Cron: "0 6 * * *"},
		{Zone: 3, Minutes: model.MaxMinutes, Cron: "0 6 * * *"},
	})

	jobs := f.d.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, 2, jobs[0].Index)
}

func TestRebuild_FollowsConcurrentScheduleChanges(t *testing.T) {
	f := newFixture(model.DefaultSettings())
	entered := make(chan struct{})
	release := make(chan struct{})

	var once sync.Once
	schedules := schedule.New(store.New(t.TempDir()), func(entries []model.ScheduleEntry) {
		once.Do(func() {
			close(entered)
			<-release
		})
		f.d.Rebuild(entries)
	})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := schedules.Add(model.ScheduleEntry{Zone: 1, Minutes: 5, Cron: "0 6 * * *"}, false)
		assert.NoError(t, err)
	}()
	<-entered
	go func() {
		defer wg.Done()
		_, err := schedules.Add(model.ScheduleEntry{Zone: 2, Minutes: 5, Cron: "0 7 * * *"}, false)
		assert.NoError(t, err)
	}()
	close(release)
	wg.Wait()

	assert.Len(t, schedules.List(), 2)
	assert.Len(t, f.d.Jobs(), len(schedules.List()))
}

func TestRunDue_ControllerUnsetIsReported(t *testing.T) {
	f := newFixture(model.DefaultSettings(), 0)
	f.runner.err = valve.ErrControllerUnset
	f.d.Rebuild([]model.ScheduleEntry{{Zone: 1, Minutes: 5, Cron: "0 6 * * *"}})

	f.d.RunDue(monday6am)
	f.d.Wait()

	assert.Equal(t, []events.Kind{events.KindRunStarted, events.KindRunFailed}, f.published.kinds())
}

func TestJobs_NextFire(t *testing.T) {
	f := newFixture(model.DefaultSettings())
	f.d.Rebuild([]model.ScheduleEntry{
		{Zone: 1, Minutes: 5, Cron: "0 6 * * *"},
		{Zone: 2, Minutes: 5, Cron: "15 5 * * 3"},
	})

	jobs := f.d.Jobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, time.Date(2025, 6, 3, 6, 0, 0, 0, time.UTC), jobs[0].Next)
	assert.Equal(t, time.Date(2025, 6, 4, 5, 15, 0, 0, time.UTC), jobs[1].Next)
}

func TestStartStop(t *testing.T) {
	f := newFixture(model.DefaultSettings())
	f.d.Rebuild([]model.ScheduleEntry{{Zone: 1, Minutes: 5, Cron: "0 6 * * *"}})

	f.d.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	f.d.Stop(ctx)

	assert.Empty(t, f.runner.calls)
}
