// Package config handles configuration loading, validation and persistence
// for the Spile daemon.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog/log"
)

const (
	DefaultConfigPath = "config/spile.toml"

	DefaultGamePort  = 25565
	DefaultRCONPort  = 25575
	DefaultQueryPort = 25585
)

// Config is the root configuration for the daemon.
type Config struct {
	path string

	Server   ServerConfig   `toml:"server"`
	Network  NetworkConfig  `toml:"network"`
	Database DatabaseConfig `toml:"database"`
	API      APIConfig      `toml:"api"`
	MQTT     MQTTConfig     `toml:"mqtt"`
	Logging  LoggingConfig  `toml:"logging"`
}

// ServerConfig is the game-facing identity of the server.
type ServerConfig struct {
	Name            string `toml:"name"`
	MOTD            string `toml:"motd"`
	MaxPlayers      int    `toml:"max_players"`
	Version         string `toml:"version"`
	ProtocolVersion int32  `toml:"protocol_version"`
}

// NetworkConfig holds the three listener addresses and wire settings.
type NetworkConfig struct {
	GameAddr  string `toml:"game_addr"`
	RCONAddr  string `toml:"rcon_addr"`
	QueryAddr string `toml:"query_addr"`

	RCONPassword string `toml:"rcon_password"`

	// CompressionThreshold is the smallest payload the game protocol
	// compresses once the compression stage is negotiated. Negative
	// disables compression entirely.
	CompressionThreshold int32 `toml:"compression_threshold"`
}

// DatabaseConfig locates the SQLite store for operators and bans.
type DatabaseConfig struct {
	Path string `toml:"path"`
}

// APIConfig controls the admin REST server.
type APIConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
}

// MQTTConfig controls the optional telemetry publisher.
type MQTTConfig struct {
	Enabled  bool   `toml:"enabled"`
	Broker   string `toml:"broker"`
	Port     int    `toml:"port"`
	ClientID string `toml:"client_id"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	UseTLS   bool   `toml:"use_tls"`
	CertFile string `toml:"cert_file"`
	KeyFile  string `toml:"key_file"`
}

// LoggingConfig mirrors util.LogConfig in the config file.
type LoggingConfig struct {
	Level      string `toml:"level"`
	Directory  string `toml:"directory"`
	MaxBackups int    `toml:"max_backups"`
	Console    bool   `toml:"console"`
}

// Default returns the configuration a fresh install starts from.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Name:            "Spile",
			MOTD:            "A Spile server",
			MaxPlayers:      20,
			Version:         "1.16.5",
			ProtocolVersion: 754,
		},
		Network: NetworkConfig{
			GameAddr:             fmt.Sprintf("0.0.0.0:%d", DefaultGamePort),
			RCONAddr:             fmt.Sprintf("127.0.0.1:%d", DefaultRCONPort),
			QueryAddr:            fmt.Sprintf("0.0.0.0:%d", DefaultQueryPort),
			CompressionThreshold: 256,
		},
		Database: DatabaseConfig{
			Path: "config/spile.db",
		},
		API: APIConfig{
			Enabled: true,
			Addr:    "127.0.0.1:8080",
		},
		MQTT: MQTTConfig{
			Port: 8883,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Directory:  "logs",
			MaxBackups: 5,
			Console:    true,
		},
	}
}

// Load reads the configuration at path. A missing file is a first run: the
// defaults are written there and returned.
func Load(path string) (*Config, error) {
	cfg := Default()
	cfg.path = path

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		log.Info().Str("path", path).Msg("no config file found, writing defaults")
		if err := cfg.Save(); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	log.Info().Str("path", path).Msg("configuration loaded")
	return cfg, nil
}

// Save writes the configuration back to the path it was loaded from.
func (c *Config) Save() error {
	if c.path == "" {
		return errors.New("config has no backing file")
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	f, err := os.Create(c.path)
	if err != nil {
		return fmt.Errorf("create config file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(c); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return nil
}

// Path returns the backing file path.
func (c *Config) Path() string { return c.path }
