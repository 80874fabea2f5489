package channel

import (
	"flag"
	"strings"
)

// SimPort is the port name selecting the simulated device.
const SimPort = "sim"

// Config specifies which port to open.
type Config struct {
	// Port is the serial device (e.g. /dev/ttyACM0, COM3) or SimPort.
	Port string `toml:"port"`
	// Baud is the baud rate of a hardware port.
	Baud int `toml:"baud"`
	// SimMode selects the behavior of the simulated device.
	SimMode string `toml:"sim_mode"`
}

var defaultConfig = Config{
	Port:    SimPort,
	Baud:    115200,
	SimMode: "pong",
}

// SetupFlags sets command line flags.
func SetupFlags() {
	flag.StringVar(&defaultConfig.Port, "port", defaultConfig.Port, "Serial port, or \""+SimPort+"\" for the simulated device.")
	flag.IntVar(&defaultConfig.Baud, "baud", defaultConfig.Baud, "Baud rate.")
	flag.StringVar(&defaultConfig.SimMode, "sim-mode", defaultConfig.SimMode, "Simulated device mode.")
}

// Default gets default config.
func Default() *Config {
	return &defaultConfig
}

// NewConfig creates a config with defaults.
func NewConfig() *Config {
	conf := defaultConfig
	return &conf
}

// IsSim indicates the config selects the simulated device.
// "dummy" is accepted as an alias.
func (c Config) IsSim() bool {
	switch strings.ToLower(c.Port) {
	case SimPort, "dummy":
		return true
	}
	return false
}

// Name returns a readable name of the port.
func (c Config) Name() string {
	if c.IsSim() {
		return SimPort + ":" + c.SimMode
	}
	return c.Port
}
