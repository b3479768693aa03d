package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/thatsimonsguy/sprinkler-controller/internal/model"
)

const (
	DefaultBaseURL = "https://api.open-meteo.com/v1/forecast"
	forecastDays   = 7
	userAgent      = "SprinklerController/1.0 (+local)"
)

type dailyResponse struct {
	Daily struct {
		Time                        []string   `json:"time"`
		PrecipitationProbabilityMax []*float64 `json:"precipitation_probability_max"`
	} `json:"daily"`
}

// Client fetches daily precipitation probabilities from Open-Meteo.
// Any failure yields an empty forecast.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	retries    uint64
	now        func() time.Time
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

func WithRetries(n uint64) Option {
	return func(cl *Client) { cl.retries = n }
}

func WithClock(now func() time.Time) Option {
	return func(cl *Client) { cl.now = now }
}

func NewClient(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		retries:    2,
		now:        time.Now,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     "open-meteo",
		Interval: 10 * time.Minute,
		Timeout:  5 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Forecast provider circuit breaker changed state")
		},
	})
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Forecast returns up to seven points aligned so index 0 is today.
func (c *Client) Forecast(ctx context.Context, lat, lon float64) []model.ForecastPoint {
	res, err := c.breaker.Execute(func() (interface{}, error) {
		var points []model.ForecastPoint
		op := func() error {
			var err error
			points, err = c.fetch(ctx, lat, lon)
			return err
		}
		b := backoff.WithContext(backoff.WithMaxRetries(newBackOff(), c.retries), ctx)
		if err := backoff.Retry(op, b); err != nil {
			return nil, err
		}
		return points, nil
	})
	if err != nil {
		log.Warn().Err(err).
			Float64("latitude", lat).
			Float64("longitude", lon).
			Msg("Forecast fetch failed")
		return nil
	}

	points, _ := res.([]model.ForecastPoint)
	return AlignToday(points, c.now())
}

func newBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 250 * time.Millisecond
	bo.MaxElapsedTime = 10 * time.Second
	return bo
}

func (c *Client) fetch(ctx context.Context, lat, lon float64) ([]model.ForecastPoint, error) {
	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("longitude", strconv.FormatFloat(lon, 'f', -1, 64))
	q.Set("daily", "precipitation_probability_max")
	q.Set("forecast_days", strconv.Itoa(forecastDays))
	q.Set("timezone", "auto")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("build forecast request: %w", err))
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("forecast request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		err := fmt.Errorf("forecast status %d: %s", resp.StatusCode, string(b))
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	var out dailyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("decode forecast: %w", err))
	}
	return toPoints(out)
}

func toPoints(out dailyResponse) ([]model.ForecastPoint, error) {
	n := min(forecastDays, len(out.Daily.Time), len(out.Daily.PrecipitationProbabilityMax))
	if n == 0 {
		return nil, backoff.Permanent(errors.New("forecast response has no daily data"))
	}

	points := make([]model.ForecastPoint, 0, n)
	for i := 0; i < n; i++ {
		date, err := time.Parse(time.DateOnly, out.Daily.Time[i])
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("forecast date %q: %w", out.Daily.Time[i], err))
		}
		prob := 0
		if p := out.Daily.PrecipitationProbabilityMax[i]; p != nil {
			prob = int(*p)
		}
		points = append(points, model.ForecastPoint{Date: date, RainProbability: prob})
	}
	return points, nil
}
