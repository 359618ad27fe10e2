package sensor

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/yryz/ds18b20"
)

// ParseW1Slave parses the content of a DS18B20 w1_slave file.
//
//	5d 01 4b 46 7f ff 0c 10 94 : crc=94 YES
//	5d 01 4b 46 7f ff 0c 10 94 t=21812
//
// The first line must end with YES; the second carries the temperature in
// millidegrees Celsius.
func ParseW1Slave(lines []string) (float64, error) {
	if len(lines) < 2 {
		return 0, fmt.Errorf("%w: expected 2 lines, found %d", ErrNoData, len(lines))
	}

	if !strings.HasSuffix(strings.TrimSpace(lines[0]), "YES") {
		return 0, fmt.Errorf("%w: crc check failed", ErrInvalidReading)
	}

	pos := strings.Index(lines[1], "t=")
	if pos == -1 {
		return 0, fmt.Errorf("%w: temperature field missing", ErrInvalidReading)
	}

	milli, err := strconv.Atoi(strings.TrimSpace(lines[1][pos+2:]))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidReading, err)
	}

	return float64(milli) / DS18B20_MILLIDEGREES, nil
}

// ReadW1Slave reads and parses a w1_slave device file.
func ReadW1Slave(path string) (float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")

	return ParseW1Slave(lines)
}

// reservoirDevicePath resolves the w1_slave file to read. An explicit path
// wins, then a configured device id, then the first DS18B20 on the bus.
func reservoirDevicePath(config *ReservoirConfig, devicesDir string) (string, error) {
	if len(config.DevicePath) != 0 {
		return config.DevicePath, nil
	}

	if len(config.DeviceID) != 0 {
		return filepath.Join(devicesDir, config.DeviceID, "w1_slave"), nil
	}

	ids, err := ds18b20.Sensors()
	if err != nil {
		return "", fmt.Errorf("failed to list 1-wire devices: %w", err)
	}

	for _, id := range ids {
		if strings.HasPrefix(id, DS18B20_FAMILY_PREFIX) {
			slog.Info("discovered reservoir sensor", "device_id", id)
			return filepath.Join(devicesDir, id, "w1_slave"), nil
		}
	}

	return "", fmt.Errorf("%w: no DS18B20 found on the 1-wire bus", ErrNoData)
}
