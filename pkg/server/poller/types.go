package poller

import (
	"context"
	"log/slog"
	"time"

	"github.com/KyleBrandon/hydro-exporter/internal/sensor"
	"github.com/KyleBrandon/hydro-exporter/internal/weather"
)

const (
	READER_AMBIENT   = "ambient"
	READER_LIGHT     = "light"
	READER_RESERVOIR = "reservoir"
	READER_WEATHER   = "weather"

	DEFAULT_POLL_INTERVAL    = 10 * time.Second
	DEFAULT_WEATHER_INTERVAL = 60 * time.Second
)

type (
	// ReaderConfig holds the enable flag of every reader. It is fixed at startup.
	ReaderConfig struct {
		Ambient   bool
		Light     bool
		Reservoir bool
		Weather   bool
	}

	WeatherSource interface {
		Current(ctx context.Context) (weather.Current, error)
	}

	MetricsPublisher interface {
		sensor.Publisher
		RecordReadError(reader string)
	}

	PollerOptions struct {
		Interval  time.Duration
		Readers   ReaderConfig
		Sensors   sensor.Sensors
		Weather   WeatherSource
		Metrics   MetricsPublisher
		Telemetry sensor.Publisher
		Logger    *slog.Logger
		Now       func() time.Time
	}

	// Poller drives the enabled readers on a fixed tick and publishes what
	// they produce. It owns all of the loop's mutable state.
	Poller struct {
		interval  time.Duration
		readers   ReaderConfig
		sensors   sensor.Sensors
		weather   WeatherSource
		gate      *RateGate
		metrics   MetricsPublisher
		telemetry sensor.Publisher
		logger    *slog.Logger
	}

	// RateGate lets a call through at most once per interval. The timestamp
	// is of the last attempt, not the last success.
	RateGate struct {
		interval time.Duration
		last     time.Time
		now      func() time.Time
	}
)
