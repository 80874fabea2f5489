package station

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/denisbrodbeck/machineid"

	"github.com/spaceworks/sw2/pkg/channel"
	"github.com/spaceworks/sw2/pkg/liveness"
)

// Config provides the options of a station.
type Config struct {
	// ID identifies the station on MQTT topics.
	ID string `toml:"id"`
	// MQTTBrokerURL specifies the MQTT broker to publish to.
	// e.g. mqtt://host:port/topic-prefix
	MQTTBrokerURL string `toml:"mqtt"`
	// FeedAddr is the listen address of the websocket feed.
	FeedAddr string `toml:"feed"`
	// ReconnectDelay is the delay before reopening a lost channel.
	ReconnectDelay time.Duration `toml:"reconnect_delay"`

	Channel  channel.Config  `toml:"channel"`
	Liveness liveness.Config `toml:"liveness"`
}

var (
	defaultConfig = Config{
		MQTTBrokerURL:  "mqtt://localhost:1883/sw2/",
		ReconnectDelay: 2 * time.Second,
	}
	configFile string
)

func init() {
	if val := os.Getenv("SW2_MQTT_URL"); val != "" {
		defaultConfig.MQTTBrokerURL = val
	}
	if id, err := machineid.ProtectedID("sw2"); err == nil && len(id) >= 12 {
		defaultConfig.ID = id[:12]
	} else {
		defaultConfig.ID = "station"
	}
}

// SetupFlags sets command line flags, including those of the channel
// and the liveness controller.
func SetupFlags() {
	channel.SetupFlags()
	liveness.SetupFlags()
	flag.StringVar(&configFile, "config", configFile, "TOML config file, its keys override flags.")
	flag.StringVar(&defaultConfig.ID, "id", defaultConfig.ID, "Station ID")
	flag.StringVar(&defaultConfig.MQTTBrokerURL, "mqtt", defaultConfig.MQTTBrokerURL, "MQTT broker URL, empty to disable.")
	flag.StringVar(&defaultConfig.FeedAddr, "feed", defaultConfig.FeedAddr, "Websocket feed listen address, empty to disable.")
	flag.DurationVar(&defaultConfig.ReconnectDelay, "reconnect-delay", defaultConfig.ReconnectDelay, "Delay before reconnecting.")
}

// Default gets default config.
func Default() *Config {
	return &defaultConfig
}

// NewConfig creates a Config from the defaults of all packages.
func NewConfig() *Config {
	conf := defaultConfig
	conf.Channel = *channel.NewConfig()
	conf.Liveness = *liveness.NewConfig()
	return &conf
}

// LoadFile decodes a TOML file over the config.
func (c *Config) LoadFile(path string) error {
	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return fmt.Errorf("config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("config %s: unknown key %s", path, undecoded[0])
	}
	return nil
}

// MustNewConfig creates the config from flags and the config file.
// flag.Parse must have been called.
func MustNewConfig() *Config {
	conf := NewConfig()
	if configFile != "" {
		if err := conf.LoadFile(configFile); err != nil {
			log.Fatalln(err)
		}
	}
	return conf
}
