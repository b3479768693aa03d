package weather

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thatsimonsguy/sprinkler-controller/internal/model"
)

func day(d int, prob int) model.ForecastPoint {
	return model.ForecastPoint{Date: time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC), RainProbability: prob}
}

func TestDecide(t *testing.T) {
	tests := []struct {
		name     string
		forecast []model.ForecastPoint
		enabled  bool
		want     Decision
	}{
		{"no data fails open", nil, true, Decision{false, "weather data unavailable"}},
		{"above threshold skips", []model.ForecastPoint{day(1, 80)}, true, Decision{true, "rain prob 80% ≥ 50%"}},
		{"at threshold skips", []model.ForecastPoint{day(1, 50)}, true, Decision{true, "rain prob 50% ≥ 50%"}},
		{"below threshold runs", []model.ForecastPoint{day(1, 30)}, true, Decision{false, "rain prob 30% < 50%"}},
		{"disabled never skips", []model.ForecastPoint{day(1, 90)}, false, Decision{false, "weather skip disabled"}},
		{"only today counts", []model.ForecastPoint{day(1, 10), day(2, 100)}, true, Decision{false, "rain prob 10% < 50%"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Decide(tt.forecast, tt.enabled, 50))
		})
	}
}

func TestAlignToday(t *testing.T) {
	points := []model.ForecastPoint{day(1, 10), day(2, 20), day(3, 30), day(4, 40)}

	same := AlignToday(points, time.Date(2024, 1, 1, 15, 0, 0, 0, time.Local))
	assert.Equal(t, points, same)

	rotated := AlignToday(points, time.Date(2024, 1, 3, 8, 0, 0, 0, time.Local))
	require.Len(t, rotated, 4)
	assert.Equal(t, 30, rotated[0].RainProbability)
	assert.Equal(t, 40, rotated[1].RainProbability)
	assert.Equal(t, 10, rotated[2].RainProbability)

	assert.Equal(t, points, AlignToday(points, time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC)), "provider ahead of us")
	assert.Equal(t, points, AlignToday(points, time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC)), "stale forecast")
	assert.Empty(t, AlignToday(nil, time.Now()))
}

func TestClientForecast(t *testing.T) {
	var gotQuery, gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		gotUA = r.UserAgent()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"daily":{"time":["2024-01-01","2024-01-02","2024-01-03"],
			"precipitation_probability_max":[15,null,90]}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithClock(func() time.Time {
		return time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	}))
	points := c.Forecast(context.Background(), 43.826, -111.7897)

	require.Len(t, points, 3)
	assert.Equal(t, 15, points[0].RainProbability)
	assert.Equal(t, 0, points[1].RainProbability)
	assert.Equal(t, 90, points[2].RainProbability)
	assert.Equal(t, time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC), points[2].Date)
	assert.Contains(t, gotQuery, "daily=precipitation_probability_max")
	assert.Contains(t, gotQuery, "forecast_days=7")
	assert.Contains(t, gotQuery, "latitude=43.826")
	assert.Equal(t, userAgent, gotUA)
}

func TestClientForecast_TruncatesMismatchedArrays(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"daily":{"time":["2024-01-01","2024-01-02","2024-01-03","2024-01-04","2024-01-05","2024-01-06","2024-01-07","2024-01-08"],
			"precipitation_probability_max":[1,2,3,4,5,6,7,8]}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithClock(func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }))
	assert.Len(t, c.Forecast(context.Background(), 0, 0), 7)
}

func TestClientForecast_FailuresAreEmpty(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithRetries(1))
	assert.Empty(t, c.Forecast(context.Background(), 0, 0))
	assert.Equal(t, int32(2), calls.Load(), "one retry on server errors")
}

func TestClientForecast_MalformedIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"daily":{}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithRetries(3))
	assert.Empty(t, c.Forecast(context.Background(), 0, 0))
	assert.Equal(t, int32(1), calls.Load())
}

func TestClientForecast_BreakerOpens(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithRetries(0))
	for i := 0; i < 5; i++ {
		assert.Empty(t, c.Forecast(context.Background(), 0, 0))
	}
	assert.Equal(t, int32(3), calls.Load(), "breaker stops calling after three consecutive failures")
}

func TestClientForecast_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewClient(url, WithRetries(0))
	assert.Empty(t, c.Forecast(context.Background(), 0, 0))
}
