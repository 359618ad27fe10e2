package sensor

import (
	"fmt"
	"runtime"
	"time"

	"github.com/stianeikeland/go-rpio/v4"
)

const (
	dhtFrameBits      = 40
	dhtMaxPulses      = 45
	dhtStartHold      = 2 * time.Millisecond
	dhtCaptureTimeout = 10 * time.Millisecond

	// a zero bit holds the line high for ~26us, a one bit for ~70us
	dhtOneThreshold = 48 * time.Microsecond
)

// dht22 bit-bangs a DHT22/AM2302 on a single GPIO pin. Go scheduling makes
// individual reads unreliable, callers are expected to retry.
type dht22 struct {
	pin int
}

func (d *dht22) read() (AmbientReading, error) {
	if err := rpio.Open(); err != nil {
		return AmbientReading{}, err
	}

	defer rpio.Close()

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	pin := rpio.Pin(d.pin)

	// start signal: pull the line low, then release it to the sensor
	pin.Output()
	pin.Low()
	time.Sleep(dhtStartHold)
	pin.High()
	pin.Input()
	pin.PullUp()

	pulses := capturePulses(pin, dhtCaptureTimeout)

	frame, err := decodePulses(pulses)
	if err != nil {
		return AmbientReading{}, err
	}

	return decodeFrame(frame)
}

// capturePulses records the length of every high level on the pin until the
// timeout elapses or the frame is complete.
func capturePulses(pin rpio.Pin, timeout time.Duration) []time.Duration {
	pulses := make([]time.Duration, 0, dhtMaxPulses)

	start := time.Now()
	edge := start
	last := pin.Read()
	for len(pulses) < dhtMaxPulses {
		now := time.Now()
		if now.Sub(start) > timeout {
			break
		}

		state := pin.Read()
		if state == last {
			continue
		}

		if last == rpio.High {
			pulses = append(pulses, now.Sub(edge))
		}

		last = state
		edge = now
	}

	return pulses
}

// decodePulses turns the trailing 40 high pulses into the 5 byte frame.
// Leading pulses belong to the host release and the sensor's response.
func decodePulses(pulses []time.Duration) ([5]byte, error) {
	var frame [5]byte
	if len(pulses) < dhtFrameBits {
		return frame, fmt.Errorf("%w: captured %d of %d bits", ErrNoData, len(pulses), dhtFrameBits)
	}

	bits := pulses[len(pulses)-dhtFrameBits:]
	for i, p := range bits {
		if p > dhtOneThreshold {
			frame[i/8] |= 1 << (7 - uint(i%8))
		}
	}

	return frame, nil
}

func decodeFrame(frame [5]byte) (AmbientReading, error) {
	sum := frame[0] + frame[1] + frame[2] + frame[3]
	if sum != frame[4] {
		return AmbientReading{}, fmt.Errorf("%w: checksum %#02x, expected %#02x", ErrInvalidReading, sum, frame[4])
	}

	humidity := float64(uint16(frame[0])<<8|uint16(frame[1])) / 10
	temperature := float64(uint16(frame[2]&0x7f)<<8|uint16(frame[3])) / 10
	if frame[2]&0x80 != 0 {
		temperature = -temperature
	}

	// DHT22 operating range
	if humidity > 100 || temperature < -40 || temperature > 80 {
		return AmbientReading{}, fmt.Errorf("%w: %.1fC %.1f%% out of range", ErrInvalidReading, temperature, humidity)
	}

	return AmbientReading{
		TemperatureC: temperature,
		Humidity:     humidity,
	}, nil
}
