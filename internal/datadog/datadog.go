package datadog

import (
	"github.com/DataDog/datadog-go/statsd"
	"github.com/rs/zerolog/log"
)

var dogstatsd *statsd.Client

// InitMetrics connects to a DogStatsD agent. An empty address leaves metrics disabled.
func InitMetrics(addr, namespace string, tags []string) {
	if addr == "" {
		log.Debug().Msg("Datadog agent address not configured - metrics disabled")
		return
	}

	var err error
	dogstatsd, err = statsd.New(addr)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to create DogStatsD client")
		return
	}

	dogstatsd.Namespace = namespace
	dogstatsd.Tags = tags

	log.Info().
		Str("addr", addr).
		Str("namespace", namespace).
		Strs("tags", tags).
		Msg("Datadog metrics initialized")
}

func Close() {
	if dogstatsd != nil {
		_ = dogstatsd.Close()
		dogstatsd = nil
	}
}

func Gauge(name string, value float64, tags ...string) {
	if dogstatsd != nil {
		if err := dogstatsd.Gauge(name, value, tags, 1); err != nil {
			log.Warn().Err(err).Str("metric", name).Msg("Failed to emit gauge metric")
		}
	}
}

func Incr(name string, tags ...string) {
	if dogstatsd != nil {
		if err := dogstatsd.Incr(name, tags, 1); err != nil {
			log.Warn().Err(err).Str("metric", name).Msg("Failed to emit count metric")
		}
	}
}
