package liveness

import (
	"flag"
	"time"
)

// Config defines the wire tokens and timings of the controller.
type Config struct {
	PingToken    string `toml:"ping_token"`
	PongToken    string `toml:"pong_token"`
	RequestToken string `toml:"request_token"`
	// Terminator is appended to every token written.
	Terminator string `toml:"terminator"`

	PingInterval   time.Duration `toml:"ping_interval"`
	PingTimeout    time.Duration `toml:"ping_timeout"`
	RequestTimeout time.Duration `toml:"request_timeout"`
	// Settle is how long a response may stay quiet before it is
	// considered complete.
	Settle time.Duration `toml:"settle"`
	// ResetSettle is the delay after each DTR transition of a reset.
	ResetSettle time.Duration `toml:"reset_settle"`
}

var defaultConfig = Config{
	PingToken:      "ping",
	PongToken:      "pong",
	RequestToken:   "frame",
	Terminator:     "\n",
	PingInterval:   time.Second,
	PingTimeout:    500 * time.Millisecond,
	RequestTimeout: 5 * time.Second,
	Settle:         20 * time.Millisecond,
	ResetSettle:    500 * time.Millisecond,
}

// SetupFlags sets command line flags.
func SetupFlags() {
	flag.StringVar(&defaultConfig.PingToken, "ping-token", defaultConfig.PingToken, "Token sent as ping.")
	flag.StringVar(&defaultConfig.PongToken, "pong-token", defaultConfig.PongToken, "Token expected as pong.")
	flag.StringVar(&defaultConfig.RequestToken, "request-token", defaultConfig.RequestToken, "Token requesting a frame.")
	flag.DurationVar(&defaultConfig.PingInterval, "ping-interval", defaultConfig.PingInterval, "Interval between pings.")
	flag.DurationVar(&defaultConfig.PingTimeout, "ping-timeout", defaultConfig.PingTimeout, "Time to wait for a ping response.")
	flag.DurationVar(&defaultConfig.RequestTimeout, "request-timeout", defaultConfig.RequestTimeout, "Time to wait for a frame.")
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

func (c *Config) pingBytes() []byte {
	return []byte(c.PingToken + c.Terminator)
}

func (c *Config) requestBytes() []byte {
	return []byte(c.RequestToken + c.Terminator)
}
