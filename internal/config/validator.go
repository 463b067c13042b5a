package config

import (
	"fmt"
	"net"
	"slices"
	"strings"
	"time"

	"github.com/moeru-ai/airi-sub003/internal/protocol"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Validate performs comprehensive validation of the configuration.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	if !slices.Contains(protocol.SupportedVersions(), cfg.Version) {
		result.AddError("version", fmt.Sprintf("unsupported version %q (supported: %s)",
			cfg.Version, strings.Join(protocol.SupportedVersions(), ", ")))
	}
	if cfg.CompressionThreshold < -1 {
		result.AddError("compression_threshold", "must be -1 (disabled) or a non-negative byte count")
	}

	validateListener(cfg.Observer.Listener(), "observer", result)
	validateListener(cfg.Controller.Listener(), "controller", result)
	if cfg.Observer.Port == cfg.Controller.Port && cfg.Observer.Port != 0 {
		result.AddError("controller.port",
			fmt.Sprintf("observer and controller listeners share port %d", cfg.Observer.Port))
	}
	if strings.TrimSpace(cfg.Controller.Username) == "" {
		result.AddError("controller.username", "controller username is required")
	}

	validateUpstream(&cfg.Upstream, result)

	if cfg.DumpPackets && strings.TrimSpace(cfg.DumpDir) == "" {
		result.AddError("dump_dir", "dump directory is required when packet dumps are enabled")
	}

	if cfg.API.Enabled {
		validatePort(cfg.API.Port, "api.port", result)
		if ip := net.ParseIP(cfg.API.Host); ip != nil && !ip.IsLoopback() {
			result.AddWarning("api.host", "status API is exposed beyond localhost without authentication")
		}
	}

	if cfg.MQTT.Enabled {
		if strings.TrimSpace(cfg.MQTT.BrokerURL) == "" {
			result.AddError("mqtt.broker_url", "MQTT broker is required when MQTT is enabled")
		}
		validatePort(cfg.MQTT.Port, "mqtt.port", result)
		if (cfg.MQTT.CertFile == "") != (cfg.MQTT.KeyFile == "") {
			result.AddError("mqtt.cert_file", "client certificate and key must be set together")
		}
	}

	if cfg.Audit.Enabled && strings.TrimSpace(cfg.Audit.Path) == "" {
		result.AddError("audit.path", "audit database path is required when auditing is enabled")
	}
	if cfg.Audit.RetentionDays < 0 {
		result.AddError("audit.retention_days", "must be 0 (keep all) or a positive number of days")
	}

	m := cfg.Maintenance
	if m.HeartbeatInterval < 0 {
		result.AddError("maintenance.heartbeat_interval", "must not be negative")
	}
	if m.DiskCheckInterval < 0 {
		result.AddError("maintenance.disk_check_interval", "must not be negative")
	}
	if _, err := time.Parse("15:04", m.CleanupTime); err != nil {
		result.AddError("maintenance.cleanup_time", fmt.Sprintf("invalid time %q, expected HH:MM", m.CleanupTime))
	}
	if m.DumpRetentionDays < 0 {
		result.AddError("maintenance.dump_retention_days", "must be 0 (keep all) or a positive number of days")
	}

	return result
}

func validateListener(l ListenerConfig, prefix string, result *ValidationResult) {
	validatePort(l.Port, prefix+".port", result)
	if l.OnlineMode {
		result.AddWarning(prefix+".online_mode",
			"online mode is not verified by the hub; connecting identities are only checked by name")
	}
}

func validateUpstream(u *UpstreamConfig, result *ValidationResult) {
	if strings.TrimSpace(u.Host) == "" {
		result.AddError("upstream.host", "upstream host is required")
	}
	validatePort(u.Port, "upstream.port", result)
	if strings.TrimSpace(u.Username) == "" {
		result.AddError("upstream.username", "upstream username is required")
	} else if len(u.Username) > 16 {
		result.AddError("upstream.username", "usernames are at most 16 characters")
	}

	switch u.Auth {
	case AuthOffline:
	case AuthMojang, AuthMicrosoft:
		result.AddError("upstream.auth",
			fmt.Sprintf("auth mode %q needs encryption, only %q is supported", u.Auth, AuthOffline))
	default:
		result.AddError("upstream.auth", fmt.Sprintf("unknown auth mode %q", u.Auth))
	}
}

func validatePort(port int, field string, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %d (must be 1-65535)", port))
		return
	}
	if port < 1024 {
		result.AddWarning(field,
			fmt.Sprintf("port %d is a privileged port, may require elevated permissions", port))
	}
}
