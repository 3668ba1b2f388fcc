package config

import (
	"net"

	"github.com/rs/zerolog"
)

// ValidationIssue is one problem found in a configuration.
type ValidationIssue struct {
	Field   string
	Message string
}

// ValidationResult separates hard errors from warnings the daemon can run
// with.
type ValidationResult struct {
	Errors   []ValidationIssue
	Warnings []ValidationIssue
}

// IsValid reports whether the configuration has no hard errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

func (r *ValidationResult) addError(field, message string) {
	r.Errors = append(r.Errors, ValidationIssue{Field: field, Message: message})
}

func (r *ValidationResult) addWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationIssue{Field: field, Message: message})
}

// Validate checks a configuration for problems that would prevent or
// degrade a boot.
func Validate(cfg *Config) ValidationResult {
	var result ValidationResult

	checkAddr := func(field, addr string) {
		if addr == "" {
			result.addError(field, "listener address must not be empty")
			return
		}
		if _, _, err := net.SplitHostPort(addr); err != nil {
			result.addError(field, "listener address must be host:port")
		}
	}
	checkAddr("network.game_addr", cfg.Network.GameAddr)
	checkAddr("network.rcon_addr", cfg.Network.RCONAddr)
	checkAddr("network.query_addr", cfg.Network.QueryAddr)

	seen := map[string]string{}
	for field, addr := range map[string]string{
		"network.game_addr":  cfg.Network.GameAddr,
		"network.rcon_addr":  cfg.Network.RCONAddr,
		"network.query_addr": cfg.Network.QueryAddr,
	} {
		if other, dup := seen[addr]; dup {
			result.addError(field, "address already used by "+other)
		}
		seen[addr] = field
	}

	if cfg.Network.RCONPassword == "" {
		result.addWarning("network.rcon_password", "RCON password is empty; remote authentication will always fail")
	}

	if cfg.Server.MaxPlayers <= 0 {
		result.addError("server.max_players", "max_players must be positive")
	}

	if _, err := zerolog.ParseLevel(cfg.Logging.Level); err != nil {
		result.addWarning("logging.level", "unknown log level, falling back to info")
	}

	if cfg.API.Enabled && cfg.API.Addr == "" {
		result.addError("api.addr", "API is enabled but has no address")
	}
	if cfg.MQTT.Enabled && cfg.MQTT.Broker == "" {
		result.addError("mqtt.broker", "MQTT is enabled but has no broker")
	}

	return result
}
