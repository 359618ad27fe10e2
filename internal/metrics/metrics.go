package metrics

import (
	"errors"
	"fmt"
	"math"
	"net/http"

	"github.com/KyleBrandon/hydro-exporter/internal/sensor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var ErrUnknownGauge = errors.New("gauge is not registered")

type GaugeDef struct {
	Name string
	Help string
}

// Gauge groups, one per reader. Only the groups of enabled readers are
// registered so a disabled reader never shows up in a scrape.
var (
	AmbientGauges = []GaugeDef{
		{sensor.READING_AMBIENT_TEMP_F, "Ambient temperature (F)"},
		{sensor.READING_HUMIDITY_PCT, "% Humidity"},
	}

	LightGauges = []GaugeDef{
		{sensor.READING_LIGHT_INTENSITY, "Light intensity, raw 10 bit ADC value"},
	}

	ReservoirGauges = []GaugeDef{
		{sensor.READING_RESERVOIR_TEMP_C, "Reservoir temperature (C)"},
	}

	WeatherGauges = []GaugeDef{
		{sensor.READING_WEATHER_TEMP_F, "Weather - Temperature (F)"},
		{sensor.READING_WEATHER_PRESSURE, "Weather - Atmospheric pressure (on the sea level, if there is no sea_level or grnd_level data), hPa"},
		{sensor.READING_WEATHER_HUMIDITY, "Weather - Humidity %"},
		{sensor.READING_WEATHER_WIND, "Weather - Wind speed meter/sec"},
		{sensor.READING_WEATHER_CLOUDS, "Weather - Cloudiness %"},
		{sensor.READING_WEATHER_SUNRISE, "Weather - Sunrise time, unix, UTC"},
		{sensor.READING_WEATHER_SUNSET, "Weather - Sunset time, unix, UTC"},
	}
)

type Registry struct {
	registry   *prometheus.Registry
	gauges     map[string]prometheus.Gauge
	readErrors *prometheus.CounterVec
}

// NewRegistry creates a registry holding the given gauge groups, the read
// error counter and the Go/process collectors.
func NewRegistry(groups ...[]GaugeDef) (*Registry, error) {
	r := &Registry{
		registry: prometheus.NewRegistry(),
		gauges:   make(map[string]prometheus.Gauge),
		readErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sensor_read_errors_total",
			Help: "Total number of failed reads, by reader",
		}, []string{"reader"}),
	}

	err := r.registry.Register(r.readErrors)
	if err != nil {
		return nil, err
	}

	err = r.registry.Register(collectors.NewGoCollector())
	if err != nil {
		return nil, err
	}

	err = r.registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err != nil {
		return nil, err
	}

	for _, group := range groups {
		for _, def := range group {
			gauge := prometheus.NewGauge(prometheus.GaugeOpts{
				Name: def.Name,
				Help: def.Help,
			})

			err = r.registry.Register(gauge)
			if err != nil {
				return nil, fmt.Errorf("failed to register gauge %s: %w", def.Name, err)
			}

			r.gauges[def.Name] = gauge
		}
	}

	return r, nil
}

// Publish sets the gauge for each reading. NaN values are never stored, the
// gauge keeps its last good value instead.
func (r *Registry) Publish(readings ...sensor.Reading) error {
	var errs []error
	for _, reading := range readings {
		gauge, ok := r.gauges[reading.Name]
		if !ok {
			errs = append(errs, fmt.Errorf("%w: %s", ErrUnknownGauge, reading.Name))
			continue
		}

		if math.IsNaN(reading.Value) {
			errs = append(errs, fmt.Errorf("refusing to publish NaN to %s", reading.Name))
			continue
		}

		gauge.Set(reading.Value)
	}

	return errors.Join(errs...)
}

func (r *Registry) RecordReadError(reader string) {
	r.readErrors.WithLabelValues(reader).Inc()
}

// Handler serves the registry in the Prometheus text exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
		Registry:      r.registry,
	})
}
