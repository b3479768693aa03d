package model

import (
	"encoding/json"
	"time"
)

// MaxMinutes bounds a single watering run.
const MaxMinutes = 24 * 60

type ScheduleEntry struct {
	Zone    int     `json:"zone"`
	Minutes float64 `json:"minutes"`
	Cron    string  `json:"cron"`
}

// Seconds is the watering duration handed to the valve sequencer.
func (e ScheduleEntry) Seconds() int {
	return int(e.Minutes * 60)
}

type Settings struct {
	BlossomIP         string  `json:"blossom_ip"`
	UseMaster         bool    `json:"use_master"`
	MasterValve       int     `json:"master_valve"`
	Zones             []int   `json:"zones"`
	EnableWeatherSkip bool    `json:"enable_weather_skip"`
	RainProbThreshold int     `json:"rain_prob_threshold"`
	Latitude          float64 `json:"latitude"`
	Longitude         float64 `json:"longitude"`
}

type ForecastPoint struct {
	Date            time.Time `json:"date"`
	RainProbability int       `json:"precip_prob"`
}

type forecastPointJSON struct {
	Date            string `json:"date"`
	RainProbability int    `json:"precip_prob"`
}

// MarshalJSON writes the date as YYYY-MM-DD.
func (p ForecastPoint) MarshalJSON() ([]byte, error) {
	return json.Marshal(forecastPointJSON{
		Date:            p.Date.Format(time.DateOnly),
		RainProbability: p.RainProbability,
	})
}

func (p *ForecastPoint) UnmarshalJSON(data []byte) error {
	var raw forecastPointJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	date, err := time.Parse(time.DateOnly, raw.Date)
	if err != nil {
		return err
	}
	p.Date = date
	p.RainProbability = raw.RainProbability
	return nil
}

// DefaultSettings mirrors what a fresh install starts with (Rexburg, ID).
func DefaultSettings() Settings {
	return Settings{
		BlossomIP:         "",
		UseMaster:         false,
		MasterValve:       13,
		Zones:             []int{1, 2, 3, 4, 5, 6, 7, 8},
		EnableWeatherSkip: true,
		RainProbThreshold: 50,
		Latitude:          43.8260,
		Longitude:         -111.7897,
	}
}

// UnmarshalJSON starts from DefaultSettings so fields missing from the document keep their
// default. A zones list in the document replaces the default list.
func (s *Settings) UnmarshalJSON(data []byte) error {
	type plain Settings
	decoded := plain(DefaultSettings())
	decoded.Zones = nil
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	if decoded.Zones == nil {
		decoded.Zones = DefaultSettings().Zones
	}
	*s = Settings(decoded)
	return nil
}

func (s Settings) HasZone(zone int) bool {
	for _, z := range s.Zones {
		if z == zone {
			return true
		}
	}
	return false
}

// Clone returns a copy that does not share the zone slice.
func (s Settings) Clone() Settings {
	out := s
	out.Zones = append([]int(nil), s.Zones...)
	return out
}
