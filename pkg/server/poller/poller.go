package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/KyleBrandon/hydro-exporter/internal/sensor"
)

func NewPoller(opts PollerOptions) (*Poller, error) {
	if opts.Metrics == nil {
		return nil, errors.New("poller requires a metrics publisher")
	}

	if opts.Sensors == nil && (opts.Readers.Ambient || opts.Readers.Light || opts.Readers.Reservoir) {
		return nil, errors.New("poller requires sensors when a sensor reader is enabled")
	}

	if opts.Weather == nil && opts.Readers.Weather {
		return nil, errors.New("poller requires a weather source when the weather reader is enabled")
	}

	if opts.Interval <= 0 {
		opts.Interval = DEFAULT_POLL_INTERVAL
	}

	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Poller{
		interval:  opts.Interval,
		readers:   opts.Readers,
		sensors:   opts.Sensors,
		weather:   opts.Weather,
		gate:      NewRateGate(DEFAULT_WEATHER_INTERVAL, opts.Now),
		metrics:   opts.Metrics,
		telemetry: opts.Telemetry,
		logger:    opts.Logger,
	}, nil
}

// Run polls immediately and then once per interval until ctx is done.
func (p *Poller) Run(ctx context.Context) {
	p.logger.Debug(">>Run")
	defer p.logger.Debug("<<Run")

	p.logger.Info("Starting main loop", "interval", p.interval, "readers", p.readers)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.PollOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			p.logger.Debug("poller: context done")
			return

		case <-ticker.C:
			p.PollOnce(ctx)
		}
	}
}

// PollOnce runs every enabled reader once. A failing reader never stops the
// ones after it.
func (p *Poller) PollOnce(ctx context.Context) {
	p.logger.Debug("Polling sensors")

	if p.readers.Weather {
		p.poll(READER_WEATHER, func() error { return p.FetchWeather(ctx) })
	}

	if p.readers.Ambient {
		p.poll(READER_AMBIENT, p.ReadAmbient)
	}

	if p.readers.Light {
		p.poll(READER_LIGHT, p.ReadLightIntensity)
	}

	if p.readers.Reservoir {
		p.poll(READER_RESERVOIR, p.ReadReservoirTemp)
	}
}

func (p *Poller) poll(reader string, read func() error) {
	defer func() {
		// a driver panic is just another failed read
		if r := recover(); r != nil {
			p.metrics.RecordReadError(reader)
			p.logger.Error("reader panicked", "reader", reader, "panic", r)
		}
	}()

	err := read()
	if err == nil {
		return
	}

	p.metrics.RecordReadError(reader)

	if reader == READER_WEATHER {
		p.logger.Warn("Error updating weather", "error", err)
		return
	}

	p.logger.Error("failed to read sensor", "reader", reader, "error", err)
}

// FetchWeather fetches the current weather when the rate gate allows it.
// A rate limited call is not an error.
func (p *Poller) FetchWeather(ctx context.Context) error {
	if !p.gate.Allow() {
		p.logger.Debug("weather fetch skipped, fetched less than a minute ago")
		return nil
	}

	current, err := p.weather.Current(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch the current weather: %w", err)
	}

	readings := current.Readings()
	p.logger.Info("weather", "readings", readings)

	return p.publish(readings...)
}

func (p *Poller) ReadAmbient() error {
	reading, err := p.sensors.ReadAmbient()
	if err != nil {
		return fmt.Errorf("failed to retrieve data from humidity sensor: %w", err)
	}

	temperatureF := sensor.CelsiusToFahrenheit(reading.TemperatureC)
	p.logger.Info("ambient",
		"temperature_f", temperatureF,
		"temperature_c", reading.TemperatureC,
		"humidity", reading.Humidity)

	return p.publish(
		sensor.Reading{Name: sensor.READING_AMBIENT_TEMP_F, Value: temperatureF},
		sensor.Reading{Name: sensor.READING_HUMIDITY_PCT, Value: reading.Humidity},
	)
}

func (p *Poller) ReadLightIntensity() error {
	value, err := p.sensors.ReadLightIntensity()
	if err != nil {
		return err
	}

	p.logger.Debug("Light intensity", "value", value)

	return p.publish(sensor.Reading{Name: sensor.READING_LIGHT_INTENSITY, Value: float64(value)})
}

// ReadReservoirTemp publishes the reservoir temperature. A reading that
// fails its CRC is reported as an error and leaves the gauge untouched.
func (p *Poller) ReadReservoirTemp() error {
	celsius, err := p.sensors.ReadReservoirTemperature()
	if err != nil {
		return err
	}

	p.logger.Debug("Reservoir temp", "temperature_c", celsius)

	return p.publish(sensor.Reading{Name: sensor.READING_RESERVOIR_TEMP_C, Value: celsius})
}

func (p *Poller) publish(readings ...sensor.Reading) error {
	err := p.metrics.Publish(readings...)

	if p.telemetry != nil {
		if terr := p.telemetry.Publish(readings...); terr != nil {
			p.logger.Warn("failed to publish telemetry", "error", terr)
		}
	}

	return err
}
