package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWritesDefaultsOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spile.toml")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, Default().Server, cfg.Server)
	assert.FileExists(t, path)
}

func TestLoadSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spile.toml")

	cfg, err := Load(path)
	require.NoError(t, err)

	cfg.Server.MOTD = "changed motd"
	cfg.Network.CompressionThreshold = 1024
	require.NoError(t, cfg.Save())

	reloaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "changed motd", reloaded.Server.MOTD)
	assert.Equal(t, int32(1024), reloaded.Network.CompressionThreshold)
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spile.toml")
	require.NoError(t, os.WriteFile(path, []byte("[server]\nmotd = \"partial\"\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "partial", cfg.Server.MOTD)
	assert.Equal(t, Default().Network.GameAddr, cfg.Network.GameAddr)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		valid   bool
		touches string
	}{
		{"defaults are valid", func(*Config) {}, true, ""},
		{
			"empty game addr",
			func(c *Config) { c.Network.GameAddr = "" },
			false, "network.game_addr",
		},
		{
			"addr without port",
			func(c *Config) { c.Network.RCONAddr = "localhost" },
			false, "network.rcon_addr",
		},
		{
			"duplicate addresses",
			func(c *Config) { c.Network.QueryAddr = c.Network.GameAddr },
			false, "",
		},
		{
			"zero max players",
			func(c *Config) { c.Server.MaxPlayers = 0 },
			false, "server.max_players",
		},
		{
			"api enabled without addr",
			func(c *Config) { c.API.Enabled = true; c.API.Addr = "" },
			false, "api.addr",
		},
		{
			"mqtt enabled without broker",
			func(c *Config) { c.MQTT.Enabled = true },
			false, "mqtt.broker",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			result := Validate(cfg)
			assert.Equal(t, tt.valid, result.IsValid())

			if tt.touches != "" {
				found := false
				for _, e := range result.Errors {
					if e.Field == tt.touches {
						found = true
					}
				}
				assert.True(t, found, "expected an error on %s, got %+v", tt.touches, result.Errors)
			}
		})
	}
}

func TestValidateWarnsOnEmptyRCONPassword(t *testing.T) {
	result := Validate(Default())
	require.True(t, result.IsValid())
	assert.NotEmpty(t, result.Warnings)
}
