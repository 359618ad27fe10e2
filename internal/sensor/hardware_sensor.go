package sensor

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// NewSensors returns the hardware backed sensors, or fixed mock readings when
// running off-device.
func NewSensors(config SensorConfig, useMockSensor bool) (Sensors, error) {
	slog.Debug(">>NewSensors")
	defer slog.Debug("<<NewSensors")

	if config.Ambient.Pin == 0 {
		config.Ambient.Pin = DEFAULT_AMBIENT_PIN
	}

	if config.Ambient.Retries <= 0 {
		config.Ambient.Retries = DEFAULT_AMBIENT_RETRIES
	}

	if config.Light != nil && (config.Light.Channel < 0 || config.Light.Channel > MCP3008_MAX_CHANNEL) {
		return nil, fmt.Errorf("light sensor channel %d is out of range 0-%d", config.Light.Channel, MCP3008_MAX_CHANNEL)
	}

	if useMockSensor {
		slog.Info("using mock sensors")
		return &MockSensors{config: config}, nil
	}

	return &HardwareSensors{
		config:     config,
		ambient:    &dht22{pin: config.Ambient.Pin},
		retryDelay: DEFAULT_RETRY_DELAY,
	}, nil
}

// ReadAmbient reads the DHT22, retrying a bounded number of times since
// single reads fail regularly.
func (s *HardwareSensors) ReadAmbient() (AmbientReading, error) {
	slog.Debug(">>ReadAmbient")
	defer slog.Debug("<<ReadAmbient")

	return readWithRetry(s.ambient, s.config.Ambient.Retries, s.retryDelay)
}

func (s *HardwareSensors) ReadLightIntensity() (int, error) {
	slog.Debug(">>ReadLightIntensity")
	defer slog.Debug("<<ReadLightIntensity")

	if s.config.Light == nil {
		return 0, errors.New("light sensor is not configured")
	}

	return readMCP3008(s.config.Light.Channel, s.config.Light.ChipSelect)
}

func (s *HardwareSensors) ReadReservoirTemperature() (float64, error) {
	slog.Debug(">>ReadReservoirTemperature")
	defer slog.Debug("<<ReadReservoirTemperature")

	if s.config.Reservoir == nil {
		return 0, errors.New("reservoir sensor is not configured")
	}

	// resolve once, discovery walks the bus
	if len(s.reservoirPath) == 0 {
		path, err := reservoirDevicePath(s.config.Reservoir, DEFAULT_W1_DEVICES_DIR)
		if err != nil {
			return 0, err
		}
		s.reservoirPath = path
	}

	return ReadW1Slave(s.reservoirPath)
}

func readWithRetry(reader ambientReader, attempts int, delay time.Duration) (AmbientReading, error) {
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		var reading AmbientReading
		reading, err = reader.read()
		if err == nil {
			return reading, nil
		}

		slog.Debug("ambient sensor read failed", "attempt", attempt, "error", err)
		if attempt < attempts {
			time.Sleep(delay)
		}
	}

	return AmbientReading{}, fmt.Errorf("ambient sensor failed after %d attempts: %w", attempts, err)
}
