package weather

import (
	"fmt"

	"github.com/thatsimonsguy/sprinkler-controller/internal/model"
)

const (
	ReasonDisabled    = "weather skip disabled"
	ReasonUnavailable = "weather data unavailable"
)

type Decision struct {
	Skip   bool
	Reason string
}

// Decide applies the rain gate to today's forecast. Missing data never blocks watering.
func Decide(forecast []model.ForecastPoint, enabled bool, thresholdPercent int) Decision {
	if !enabled {
		return Decision{Skip: false, Reason: ReasonDisabled}
	}
	if len(forecast) == 0 {
		return Decision{Skip: false, Reason: ReasonUnavailable}
	}

	p := forecast[0].RainProbability
	if p >= thresholdPercent {
		return Decision{Skip: true, Reason: fmt.Sprintf("rain prob %d%% ≥ %d%%", p, thresholdPercent)}
	}
	return Decision{Skip: false, Reason: fmt.Sprintf("rain prob %d%% < %d%%", p, thresholdPercent)}
}
