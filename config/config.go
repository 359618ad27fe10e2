package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/KyleBrandon/hydro-exporter/internal/sensor"
	"gopkg.in/yaml.v3"
)

const (
	DefaultLogLevel       = slog.LevelInfo
	DefaultPollInterval   = 10 * time.Second
	DefaultWeatherTimeout = 5 * time.Second
	DefaultOpenWeatherURL = "http://api.openweathermap.org/data/2.5/weather"
)

var ErrMissingSetting = errors.New("missing required config setting")

type (
	OpenWeatherConfig struct {
		APIKey         string   `yaml:"apikey"`
		Lat            *float64 `yaml:"lat"`
		Lon            *float64 `yaml:"lon"`
		URL            string   `yaml:"url"`
		TimeoutSeconds int      `yaml:"timeout_seconds"`
	}

	Config struct {
		OpenWeather         OpenWeatherConfig   `yaml:"openweather"`
		Sensors             sensor.SensorConfig `yaml:"sensors"`
		PollIntervalSeconds int                 `yaml:"poll_interval_seconds"`
	}
)

// LoadConfigSettings reads and validates the YAML config file. Any missing
// openweather setting is an error, there are no silent defaults for them.
func LoadConfigSettings(filename string) (Config, error) {
	var config Config
	file, err := os.Open(filename)
	if err != nil {
		return config, err
	}

	defer file.Close()

	bytes, err := io.ReadAll(file)
	if err != nil {
		return config, err
	}

	err = yaml.Unmarshal(bytes, &config)
	if err != nil {
		return config, fmt.Errorf("failed to parse %s: %w", filename, err)
	}

	err = config.validate()
	if err != nil {
		return config, fmt.Errorf("invalid config %s: %w", filename, err)
	}

	return config, nil
}

func (c *Config) validate() error {
	if len(c.OpenWeather.APIKey) == 0 {
		return fmt.Errorf("%w: openweather.apikey", ErrMissingSetting)
	}

	if c.OpenWeather.Lat == nil {
		return fmt.Errorf("%w: openweather.lat", ErrMissingSetting)
	}

	if c.OpenWeather.Lon == nil {
		return fmt.Errorf("%w: openweather.lon", ErrMissingSetting)
	}

	if *c.OpenWeather.Lat < -90 || *c.OpenWeather.Lat > 90 {
		return fmt.Errorf("openweather.lat %v is out of range", *c.OpenWeather.Lat)
	}

	if *c.OpenWeather.Lon < -180 || *c.OpenWeather.Lon > 180 {
		return fmt.Errorf("openweather.lon %v is out of range", *c.OpenWeather.Lon)
	}

	if c.OpenWeather.TimeoutSeconds < 0 {
		return fmt.Errorf("openweather.timeout_seconds must not be negative, got %d", c.OpenWeather.TimeoutSeconds)
	}

	if c.PollIntervalSeconds < 0 {
		return fmt.Errorf("poll_interval_seconds must not be negative, got %d", c.PollIntervalSeconds)
	}

	return nil
}

func (c *Config) PollInterval() time.Duration {
	if c.PollIntervalSeconds == 0 {
		return DefaultPollInterval
	}

	return time.Duration(c.PollIntervalSeconds) * time.Second
}

func (c *OpenWeatherConfig) Timeout() time.Duration {
	if c.TimeoutSeconds == 0 {
		return DefaultWeatherTimeout
	}

	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c *OpenWeatherConfig) BaseURL() string {
	if len(c.URL) == 0 {
		return DefaultOpenWeatherURL
	}

	return c.URL
}
