package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/sprinkler-controller/db"
	"github.com/thatsimonsguy/sprinkler-controller/internal/blossom"
	"github.com/thatsimonsguy/sprinkler-controller/internal/config"
	"github.com/thatsimonsguy/sprinkler-controller/internal/discovery"
	"github.com/thatsimonsguy/sprinkler-controller/internal/dispatcher"
	"github.com/thatsimonsguy/sprinkler-controller/internal/events"
	"github.com/thatsimonsguy/sprinkler-controller/internal/irrigation"
	"github.com/thatsimonsguy/sprinkler-controller/internal/notifications"
	"github.com/thatsimonsguy/sprinkler-controller/internal/schedule"
	"github.com/thatsimonsguy/sprinkler-controller/internal/settings"
	"github.com/thatsimonsguy/sprinkler-controller/internal/store"
	"github.com/thatsimonsguy/sprinkler-controller/internal/valve"
	"github.com/thatsimonsguy/sprinkler-controller/internal/weather"
)

const mqttConnectRetries = 4

type persister interface {
	settings.Persister
	schedule.Persister
}

// App is the wired component graph shared by the daemon and the debug CLI.
type App struct {
	Service    *irrigation.Service
	Dispatcher *dispatcher.Dispatcher
	Actuator   *valve.Actuator
	Settings   *settings.Manager
	Schedules  *schedule.Store

	conn   *sql.DB
	closer interface{ Close() }
}

// Build opens the document store, loads settings and schedules, and installs the timers.
// The dispatcher is not started.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	a := &App{}

	var docs persister
	if cfg.DBPath != "" {
		conn, err := db.Open(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		a.conn = conn
		docs = db.NewDocumentStore(conn)
		log.Info().Str("db", cfg.DBPath).Msg("Using SQLite document store")
	} else {
		docs = store.New(cfg.DataDir)
		log.Info().Str("data_dir", cfg.DataDir).Msg("Using JSON document store")
	}

	a.Settings = settings.New(docs)
	if err := a.Settings.Load(); err != nil {
		a.Close()
		return nil, err
	}

	a.Actuator = valve.NewActuator(blossom.NewClient(a.Settings.Address))
	forecaster := weather.NewClient(cfg.ForecastURL)
	publisher := a.newPublisher(ctx, cfg)

	a.Dispatcher = dispatcher.New(forecaster, a.Settings, a.Actuator,
		dispatcher.WithLocation(cfg.Location()),
		dispatcher.WithPublisher(publisher),
	)

	a.Schedules = schedule.New(docs, a.Dispatcher.Rebuild)
	if err := a.Schedules.Load(); err != nil {
		a.Close()
		return nil, fmt.Errorf("startup: %w", err)
	}

	a.Service = irrigation.New(irrigation.Deps{
		Schedules:  a.Schedules,
		Settings:   a.Settings,
		Actuator:   a.Actuator,
		Forecaster: forecaster,
		Jobs:       a.Dispatcher,
		Discoverer: discovery.NewScanner(cfg.DiscoveryRatePerSec),
		Publisher:  publisher,
	})
	return a, nil
}

func (a *App) newPublisher(ctx context.Context, cfg config.Config) events.Publisher {
	publishers := events.Multi{}

	if cfg.MQTT.Broker != "" {
		client, err := events.Connect(ctx, cfg.MQTT, mqttConnectRetries)
		if err != nil {
			log.Warn().Err(err).Msg("MQTT event publishing disabled")
		} else {
			mqttPublisher := events.NewMQTTPublisher(client, cfg.MQTT.Topic)
			a.closer = mqttPublisher
			publishers = append(publishers, mqttPublisher)
		}
	}
	if n := notifications.New(cfg.Ntfy); n != nil {
		publishers = append(publishers, n)
	}

	if len(publishers) == 0 {
		return events.Nop{}
	}
	return publishers
}

func (a *App) Close() {
	if a.closer != nil {
		a.closer.Close()
	}
	if a.conn != nil {
		a.conn.Close()
	}
}
