package sensor

import (
	"fmt"

	"github.com/stianeikeland/go-rpio/v4"
)

// mcp3008Request builds the 3 byte single-ended conversion request: start
// bit, then single/diff + channel in the upper nibble of the second byte.
func mcp3008Request(channel int) []byte {
	return []byte{0x01, byte(0x08|channel) << 4, 0x00}
}

// mcp3008Result extracts the 10 bit conversion from the exchanged buffer.
func mcp3008Result(buf []byte) int {
	return int(buf[1]&0x03)<<8 | int(buf[2])
}

func readMCP3008(channel int, chipSelect int) (int, error) {
	if channel < 0 || channel > MCP3008_MAX_CHANNEL {
		return 0, fmt.Errorf("invalid mcp3008 channel %d", channel)
	}

	if err := rpio.Open(); err != nil {
		return 0, err
	}

	defer rpio.Close()

	if err := rpio.SpiBegin(rpio.Spi0); err != nil {
		return 0, err
	}

	defer rpio.SpiEnd(rpio.Spi0)

	rpio.SpiSpeed(MCP3008_SPI_CLOCK_HZ)
	rpio.SpiChipSelect(uint8(chipSelect))

	buf := mcp3008Request(channel)
	rpio.SpiExchange(buf)

	return mcp3008Result(buf), nil
}
