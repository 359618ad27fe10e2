package sensor

import (
	"errors"
	"time"
)

const (
	READING_AMBIENT_TEMP_F   string = "ambient_temp_f"
	READING_HUMIDITY_PCT     string = "humidity_pct"
	READING_RESERVOIR_TEMP_C string = "reservoir_temp_c"
	READING_LIGHT_INTENSITY  string = "light_intensity"
	READING_WEATHER_TEMP_F   string = "weather_temp_f"
	READING_WEATHER_PRESSURE string = "weather_pressure_hpa"
	READING_WEATHER_HUMIDITY string = "weather_humidity_pct"
	READING_WEATHER_WIND     string = "weather_wind_speed"
	READING_WEATHER_CLOUDS   string = "weather_clouds_pct"
	READING_WEATHER_SUNRISE  string = "weather_sunrise_unix"
	READING_WEATHER_SUNSET   string = "weather_sunset_unix"
)

const (
	DEFAULT_AMBIENT_PIN     = 4
	DEFAULT_AMBIENT_RETRIES = 5
	DEFAULT_RETRY_DELAY     = 2 * time.Second
	DEFAULT_W1_DEVICES_DIR  = "/sys/bus/w1/devices"
	DS18B20_FAMILY_PREFIX   = "28-"
	DS18B20_MILLIDEGREES    = 1000.0
	MCP3008_MAX_CHANNEL     = 7
	MCP3008_SPI_CLOCK_HZ    = 1350000
)

var (
	// ErrInvalidReading is returned when a sensor answered but the frame failed its integrity check.
	ErrInvalidReading = errors.New("sensor returned an invalid reading")

	// ErrNoData is returned when a sensor did not answer at all.
	ErrNoData = errors.New("sensor returned no data")
)

type (
	// Reading is a single named value produced by one poll of a source.
	Reading struct {
		Name  string  `json:"name"`
		Value float64 `json:"value"`
	}

	AmbientReading struct {
		TemperatureC float64 `json:"temperature_c"`
		Humidity     float64 `json:"humidity"`
	}

	AmbientConfig struct {
		Pin     int `yaml:"pin"`
		Retries int `yaml:"retries"`
	}

	LightConfig struct {
		Channel    int `yaml:"channel"`
		ChipSelect int `yaml:"chip_select"`
	}

	ReservoirConfig struct {
		DevicePath string `yaml:"device_path"`
		DeviceID   string `yaml:"device_id"`
	}

	// SensorConfig is the hardware section of the config file. Light and
	// reservoir are optional and nil when the rig doesn't have them.
	SensorConfig struct {
		Ambient   AmbientConfig    `yaml:"ambient"`
		Light     *LightConfig     `yaml:"light"`
		Reservoir *ReservoirConfig `yaml:"reservoir"`
	}

	Sensors interface {
		ReadAmbient() (AmbientReading, error)
		ReadLightIntensity() (int, error)
		ReadReservoirTemperature() (float64, error)
	}

	// Publisher receives each batch of readings as soon as it is produced.
	Publisher interface {
		Publish(readings ...Reading) error
	}

	HardwareSensors struct {
		config        SensorConfig
		ambient       ambientReader
		retryDelay    time.Duration
		reservoirPath string
	}

	MockSensors struct {
		config SensorConfig
	}

	ambientReader interface {
		read() (AmbientReading, error)
	}
)
