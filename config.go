package raknet

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v2"
)

// Duration is a time.Duration read from config files as "1s", "250ms" etc.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}

type Config struct {
	// Address is the UDP address a Server listens on.
	Address string `toml:"address" yaml:"address"`
	// MOTD is answered to unconnected pings.
	MOTD string `toml:"motd" yaml:"motd"`
	// MTU is the largest MTU accepted by a Server or proposed by a Client.
	MTU             int  `toml:"mtu" yaml:"mtu"`
	ProtocolVersion byte `toml:"protocol_version" yaml:"protocol_version"`

	TickInterval   Duration `toml:"tick_interval" yaml:"tick_interval"`
	ResendInterval Duration `toml:"resend_interval" yaml:"resend_interval"`
	PingInterval   Duration `toml:"ping_interval" yaml:"ping_interval"`
	ReceiveTimeout Duration `toml:"receive_timeout" yaml:"receive_timeout"`
	ConnectTimeout Duration `toml:"connect_timeout" yaml:"connect_timeout"`

	// EventBuffer is the capacity of each connection's event channel.
	EventBuffer int `toml:"event_buffer" yaml:"event_buffer"`
	// RecoveryBuffer caps the events parked while the channel is full.
	RecoveryBuffer int `toml:"recovery_buffer" yaml:"recovery_buffer"`

	// BanDB is the path of the sqlite ban database used by raknetd.
	BanDB string `toml:"ban_db" yaml:"ban_db"`
}

func DefaultConfig() Config {
	return Config{
		Address:         ":19132",
		MTU:             DefaultMTU,
		ProtocolVersion: ProtocolVersion,
		TickInterval:    Duration{20 * time.Millisecond},
		ResendInterval:  Duration{time.Second},
		PingInterval:    Duration{5 * time.Second},
		ReceiveTimeout:  Duration{10 * time.Second},
		ConnectTimeout:  Duration{10 * time.Second},
		EventBuffer:     256,
		RecoveryBuffer:  1024,
	}
}

// withDefaults fills every zero field from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MTU == 0 {
		c.MTU = d.MTU
	}
	if c.MTU < minMTU {
		c.MTU = minMTU
	}
	if c.ProtocolVersion == 0 {
		c.ProtocolVersion = d.ProtocolVersion
	}
	for _, pair := range []struct{ v, def *Duration }{
		{&c.TickInterval, &d.TickInterval},
		{&c.ResendInterval, &d.ResendInterval},
		{&c.PingInterval, &d.PingInterval},
		{&c.ReceiveTimeout, &d.ReceiveTimeout},
		{&c.ConnectTimeout, &d.ConnectTimeout},
	} {
		if pair.v.Duration <= 0 {
			*pair.v = *pair.def
		}
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = d.EventBuffer
	}
	if c.RecoveryBuffer <= 0 {
		c.RecoveryBuffer = d.RecoveryBuffer
	}
	// every frame of the largest datagram read may turn into an event
	if minEvents := readBufferSize/4 + reservedEvents; c.EventBuffer+c.RecoveryBuffer < minEvents {
		c.RecoveryBuffer = minEvents - c.EventBuffer
	}
	return c
}

// LoadConfig reads a TOML or YAML file, chosen by extension, on top of
// DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("unable to parse %v: %w", path, err)
		}
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
			return cfg, fmt.Errorf("unable to parse %v: %w", path, err)
		}
	default:
		return cfg, fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
	return cfg.withDefaults(), nil
}
