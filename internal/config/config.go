// Package config provides Viper-based configuration loading for the game server.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// WebSocketConfig holds the client-facing WebSocket acceptor settings.
type WebSocketConfig struct {
	// Host is the bind address for the HTTP listener.
	Host string `mapstructure:"host"`
	// Port is the TCP port for the HTTP listener.
	Port int `mapstructure:"port"`
	// ReadTimeout is how long a connection may stay silent (including pongs)
	// before it is considered dead.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`
	// WriteTimeout bounds every frame write.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// PingInterval is the keepalive period. Must be shorter than ReadTimeout.
	PingInterval time.Duration `mapstructure:"ping_interval"`
	// SendBuffer is the per-connection outbound event queue length.
	SendBuffer int `mapstructure:"send_buffer"`
	// MaxMessageBytes caps the size of a single inbound frame.
	MaxMessageBytes int64 `mapstructure:"max_message_bytes"`
}

// Addr returns the "host:port" listen address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (w WebSocketConfig) Addr() string {
	return fmt.Sprintf("%s:%d", w.Host, w.Port)
}

// GameServerConfig holds game rules and the health-check gRPC endpoint.
type GameServerConfig struct {
	// GRPCHost is the bind address for the gRPC health service.
	GRPCHost string `mapstructure:"grpc_host"`
	// GRPCPort is the TCP port for the gRPC health service.
	GRPCPort int `mapstructure:"grpc_port"`
	// MeetingDuration is how long a meeting stays open before it auto-resolves.
	MeetingDuration time.Duration `mapstructure:"meeting_duration"`
	// MinPlayers is the smallest room that may start a game.
	MinPlayers int `mapstructure:"min_players"`
	// MapFile is the YAML map definition providing the spawn point.
	// Empty means the built-in default map.
	MapFile string `mapstructure:"map_file"`
	// ShutdownTimeout bounds how long each service may take to stop.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns the "host:port" gRPC address.
//
// Postcondition: Returns a non-empty string in "host:port" format.
func (g GameServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", g.GRPCHost, g.GRPCPort)
}

// Config is the top-level application configuration.
type Config struct {
	Logging    LoggingConfig    `mapstructure:"logging"`
	WebSocket  WebSocketConfig  `mapstructure:"websocket"`
	GameServer GameServerConfig `mapstructure:"gameserver"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error describing all violations.
func (c Config) Validate() error {
	var errs []string

	if err := validateLogging(c.Logging); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateWebSocket(c.WebSocket); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateGameServer(c.GameServer); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

func validateWebSocket(w WebSocketConfig) error {
	var errs []string
	if w.Port < 0 || w.Port > 65535 {
		errs = append(errs, fmt.Sprintf("websocket.port must be 0-65535, got %d", w.Port))
	}
	if w.ReadTimeout <= 0 {
		errs = append(errs, "websocket.read_timeout must be positive")
	}
	if w.WriteTimeout <= 0 {
		errs = append(errs, "websocket.write_timeout must be positive")
	}
	if w.PingInterval <= 0 || w.PingInterval >= w.ReadTimeout {
		errs = append(errs, fmt.Sprintf("websocket.ping_interval must be positive and below read_timeout (%s), got %s", w.ReadTimeout, w.PingInterval))
	}
	if w.SendBuffer < 1 {
		errs = append(errs, fmt.Sprintf("websocket.send_buffer must be >= 1, got %d", w.SendBuffer))
	}
	if w.MaxMessageBytes < 1 {
		errs = append(errs, fmt.Sprintf("websocket.max_message_bytes must be >= 1, got %d", w.MaxMessageBytes))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateGameServer(g GameServerConfig) error {
	var errs []string
	if g.GRPCHost == "" {
		errs = append(errs, "gameserver.grpc_host must not be empty")
	}
	if g.GRPCPort < 0 || g.GRPCPort > 65535 {
		errs = append(errs, fmt.Sprintf("gameserver.grpc_port must be 0-65535, got %d", g.GRPCPort))
	}
	if g.MeetingDuration <= 0 {
		errs = append(errs, fmt.Sprintf("gameserver.meeting_duration must be positive, got %s", g.MeetingDuration))
	}
	if g.MinPlayers < 1 {
		errs = append(errs, fmt.Sprintf("gameserver.min_players must be >= 1, got %d", g.MinPlayers))
	}
	if g.ShutdownTimeout <= 0 {
		errs = append(errs, "gameserver.shutdown_timeout must be positive")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// Load reads configuration from the given file path, applies environment variable
// overrides, and validates the result.
//
// Precondition: path must be a valid file path to a YAML configuration file.
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	// Environment variable overrides with SUS_ prefix
	v.SetEnvPrefix("SUS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	return LoadFromViper(v)
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// SetDefaults installs the default value for every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("websocket.host", "0.0.0.0")
	v.SetDefault("websocket.port", 3000)
	v.SetDefault("websocket.read_timeout", "60s")
	v.SetDefault("websocket.write_timeout", "10s")
	v.SetDefault("websocket.ping_interval", "54s")
	v.SetDefault("websocket.send_buffer", 256)
	v.SetDefault("websocket.max_message_bytes", 4096)

	v.SetDefault("gameserver.grpc_host", "127.0.0.1")
	v.SetDefault("gameserver.grpc_port", 50051)
	v.SetDefault("gameserver.meeting_duration", "10s")
	v.SetDefault("gameserver.min_players", 2)
	v.SetDefault("gameserver.map_file", "")
	v.SetDefault("gameserver.shutdown_timeout", "5s")
}
