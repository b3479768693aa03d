package weather

import (
	"time"

	"github.com/thatsimonsguy/sprinkler-controller/internal/model"
)

// AlignToday rotates the forecast so index 0 is today's date. The provider's "today"
// can lag the local calendar; offsets outside 0..6 leave the order untouched.
func AlignToday(points []model.ForecastPoint, today time.Time) []model.ForecastPoint {
	if len(points) == 0 {
		return points
	}

	first := civilDate(points[0].Date)
	now := civilDate(today)
	offset := int(now.Sub(first).Hours() / 24)
	if offset <= 0 || offset > 6 || offset >= len(points) {
		return points
	}

	out := make([]model.ForecastPoint, 0, len(points))
	out = append(out, points[offset:]...)
	out = append(out, points[:offset]...)
	return out
}

func civilDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
