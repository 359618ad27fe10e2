package sensor

import (
	"log/slog"
)

func (m *MockSensors) ReadAmbient() (AmbientReading, error) {
	slog.Debug(">>ReadAmbient")
	defer slog.Debug("<<ReadAmbient")

	return AmbientReading{
		TemperatureC: 21.0,
		Humidity:     55.0,
	}, nil
}

func (m *MockSensors) ReadLightIntensity() (int, error) {
	slog.Debug(">>ReadLightIntensity")
	defer slog.Debug("<<ReadLightIntensity")

	return 512, nil
}

func (m *MockSensors) ReadReservoirTemperature() (float64, error) {
	slog.Debug(">>ReadReservoirTemperature")
	defer slog.Debug("<<ReadReservoirTemperature")

	return 19.5, nil
}
