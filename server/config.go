package server

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every tunable of the relay server. Values come from defaults,
// an optional YAML file, and CRATECRYPT_* environment variables, in
// increasing precedence.
type Config struct {
	// Addr is the HTTP listen address, e.g. ":8080".
	Addr string `mapstructure:"addr"`

	Log       LogConfig       `mapstructure:"log"`
	Heartbeat HeartbeatConfig `mapstructure:"heartbeat"`
	Room      RoomConfig      `mapstructure:"room"`

	// SendBuffer is the per-session outbound queue capacity. A full queue
	// drops frames rather than block the broadcaster.
	SendBuffer int `mapstructure:"send_buffer"`
}

type LogConfig struct {
	// File is the rolling log file path.
	File string `mapstructure:"file"`
	// Level is the minimum level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Stdout additionally mirrors log output to stdout.
	Stdout bool `mapstructure:"stdout"`
}

type HeartbeatConfig struct {
	// Interval is how often the server pings the peer.
	Interval time.Duration `mapstructure:"interval"`
	// Timeout closes the session when no liveness signal arrived within it.
	Timeout time.Duration `mapstructure:"timeout"`
}

type RoomConfig struct {
	// SweepInterval is how often empty rooms are scanned for eviction.
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	// IdleTTL is how long an empty room survives before eviction.
	IdleTTL time.Duration `mapstructure:"idle_ttl"`
}

// LoadConfig reads configuration, optionally from the given file path. An
// empty path skips the file and uses defaults plus environment overrides; a
// non-empty path must exist.
func LoadConfig(path string) (Config, error) {
	v := viper.New()

	v.SetDefault("addr", ":8080")
	v.SetDefault("log.file", "app.log")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.stdout", false)
	v.SetDefault("heartbeat.interval", 5*time.Second)
	v.SetDefault("heartbeat.timeout", 10*time.Second)
	v.SetDefault("room.sweep_interval", time.Minute)
	v.SetDefault("room.idle_ttl", 5*time.Minute)
	v.SetDefault("send_buffer", 64)

	v.SetEnvPrefix("CRATECRYPT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Heartbeat.Interval <= 0 || c.Heartbeat.Timeout <= 0 {
		return errors.New("heartbeat interval and timeout must be positive")
	}
	if c.Heartbeat.Timeout <= c.Heartbeat.Interval {
		return fmt.Errorf("heartbeat timeout %s must exceed interval %s", c.Heartbeat.Timeout, c.Heartbeat.Interval)
	}
	if c.SendBuffer <= 0 {
		return errors.New("send_buffer must be positive")
	}
	if c.Room.SweepInterval <= 0 || c.Room.IdleTTL <= 0 {
		return errors.New("room sweep_interval and idle_ttl must be positive")
	}
	return nil
}
