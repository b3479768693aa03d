package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/thatsimonsguy/sprinkler-controller/internal/events"
	"github.com/thatsimonsguy/sprinkler-controller/internal/notifications"
	"github.com/thatsimonsguy/sprinkler-controller/internal/weather"
)

type Datadog struct {
	Addr      string   `yaml:"addr"`
	Namespace string   `yaml:"namespace"`
	Tags      []string `yaml:"tags"`
}

// Config holds process options. Irrigation settings and schedules live in the data store.
type Config struct {
	DataDir    string        `yaml:"-"`
	DBPath     string        `yaml:"-"`
	Host       string        `yaml:"-"`
	Port       int           `yaml:"-"`
	LogLevel   zerolog.Level `yaml:"-"`
	LogFile    string        `yaml:"-"`
	ConfigFile string        `yaml:"-"`

	ForecastURL         string               `yaml:"forecast_url"`
	Timezone            string               `yaml:"timezone"`
	DiscoveryRatePerSec int                  `yaml:"discovery_rate_per_sec"`
	Datadog             Datadog              `yaml:"datadog"`
	MQTT                events.MQTTConfig    `yaml:"mqtt"`
	Ntfy                notifications.Config `yaml:"ntfy"`
}

func Load() Config {
	cfg, err := Parse(os.Args[0], os.Args[1:])
	if err != nil {
		panic("Failed to load config: " + err.Error())
	}
	return cfg
}

// Parse reads flags from args, then overlays the YAML config file when it exists.
func Parse(name string, args []string) (Config, error) {
	cfg := Config{
		ForecastURL:         weather.DefaultBaseURL,
		DiscoveryRatePerSec: 100,
		Datadog:             Datadog{Namespace: "sprinkler."},
		MQTT:                events.MQTTConfig{Topic: "sprinkler/events", ClientID: "sprinkler-controller"},
	}
	var logLevel string

	flags := flag.NewFlagSet(name, flag.ContinueOnError)
	flags.StringVar(&cfg.DataDir, "data-dir", "data", "Directory for settings and schedule documents")
	flags.StringVar(&cfg.DBPath, "db", "", "SQLite database path (overrides the JSON files in -data-dir)")
	flags.StringVar(&cfg.Host, "host", "127.0.0.1", "Bind host")
	flags.IntVar(&cfg.Port, "port", 5000, "Bind port")
	flags.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flags.StringVar(&cfg.LogFile, "log-file", "", "Append logs to this file as well as stderr")
	flags.StringVar(&cfg.ConfigFile, "config-file", "sprinkler.yaml", "Path to YAML config file")
	if err := flags.Parse(args); err != nil {
		return Config{}, err
	}

	cfg.LogLevel = parseLogLevel(logLevel)

	if err := cfg.loadFile(); err != nil {
		return Config{}, err
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) loadFile() error {
	file, err := os.Open(cfg.ConfigFile)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer file.Close()

	if err := yaml.NewDecoder(file).Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config file %s: %w", cfg.ConfigFile, err)
	}
	return nil
}

func parseLogLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Addr is the API listen address.
func (cfg Config) Addr() string {
	return fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
}

// Location resolves Timezone, defaulting to the host's local zone.
func (cfg Config) Location() *time.Location {
	if cfg.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func (cfg *Config) validate() error {
	var problems []string

	if cfg.Port < 1 || cfg.Port > 65535 {
		problems = append(problems, fmt.Sprintf("port %d out of range", cfg.Port))
	}
	if u, err := url.Parse(cfg.ForecastURL); err != nil || u.Scheme == "" || u.Host == "" {
		problems = append(problems, fmt.Sprintf("forecast_url %q is not an absolute URL", cfg.ForecastURL))
	}
	if cfg.Timezone != "" {
		if _, err := time.LoadLocation(cfg.Timezone); err != nil {
			problems = append(problems, fmt.Sprintf("timezone %q: %v", cfg.Timezone, err))
		}
	}
	if cfg.DiscoveryRatePerSec < 0 {
		problems = append(problems, "discovery_rate_per_sec must not be negative")
	}
	if cfg.MQTT.Broker != "" && cfg.MQTT.Topic == "" {
		problems = append(problems, "mqtt.topic is required when mqtt.broker is set")
	}

	if len(problems) > 0 {
		return errors.New("invalid config: " + strings.Join(problems, "; "))
	}
	return nil
}
