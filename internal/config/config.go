// Package config handles configuration loading and validation for the hub.
// Values are layered: built-in defaults, an optional YAML file, HUB_*
// environment variables, then command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

const (
	DefaultVersion              = "1.20.4"
	DefaultMOTD                 = "AIRI Minecraft Hub"
	DefaultObserverPort         = 25566
	DefaultControllerPort       = 25567
	DefaultUpstreamPort         = 25565
	DefaultControllerUsername   = "airi-bot-mineflayer"
	DefaultUpstreamUsername     = "airi-bot"
	DefaultCompressionThreshold = 256
	DefaultAPIPort              = 8088
)

// Upstream authentication modes.
const (
	AuthOffline   = "offline"
	AuthMojang    = "mojang"
	AuthMicrosoft = "microsoft"
)

// Config is the root configuration of the hub. It is immutable once the
// hub is running.
type Config struct {
	path string

	Version              string `json:"version" yaml:"version" env:"HUB_VERSION"`
	MOTD                 string `json:"motd" yaml:"motd" env:"HUB_MOTD"`
	CompressionThreshold int    `json:"compression_threshold" yaml:"compression_threshold" env:"HUB_COMPRESSION_THRESHOLD"`

	Observer   ObserverConfig   `json:"observer" yaml:"observer"`
	Controller ControllerConfig `json:"controller" yaml:"controller"`
	Upstream   UpstreamConfig   `json:"upstream" yaml:"upstream"`

	RewriteIdentity bool   `json:"rewrite_identity" yaml:"rewrite_identity" env:"HUB_REWRITE_IDENTITY"`
	MirrorMovement  bool   `json:"mirror_movement" yaml:"mirror_movement" env:"HUB_MIRROR_MOVEMENT"`
	MirrorActions   bool   `json:"mirror_actions" yaml:"mirror_actions" env:"HUB_MIRROR_ACTIONS"`
	DebugPackets    bool   `json:"debug_packets" yaml:"debug_packets" env:"HUB_DEBUG_PACKETS"`
	DumpPackets     bool   `json:"dump_packets" yaml:"dump_packets" env:"HUB_DUMP_PACKETS"`
	DumpDir         string `json:"dump_dir" yaml:"dump_dir" env:"HUB_DUMP_DIR"`

	API         APIConfig         `json:"api" yaml:"api"`
	MQTT        MQTTConfig        `json:"mqtt" yaml:"mqtt"`
	Audit       AuditConfig       `json:"audit" yaml:"audit"`
	Logging     LoggingConfig     `json:"logging" yaml:"logging"`
	Maintenance MaintenanceConfig `json:"maintenance" yaml:"maintenance"`
	Console     bool              `json:"console" yaml:"console" env:"HUB_CONSOLE"`
}

// ListenerConfig is the role-neutral view of a downstream listener.
type ListenerConfig struct {
	Host       string
	Port       int
	OnlineMode bool
	Username   string
}

// Addr returns host:port.
func (l ListenerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", l.Host, l.Port)
}

// ObserverConfig is the observer ("viewer") listener.
type ObserverConfig struct {
	Host       string `json:"host" yaml:"host" env:"HUB_VIEWER_LISTEN_HOST"`
	Port       int    `json:"port" yaml:"port" env:"HUB_VIEWER_LISTEN_PORT"`
	OnlineMode bool   `json:"online_mode" yaml:"online_mode" env:"HUB_VIEWER_ONLINE_MODE"`
	// Username is optional; observers fall back to the upstream username.
	Username string `json:"username" yaml:"username" env:"HUB_VIEWER_USERNAME"`
}

// Listener returns the role-neutral listener settings.
func (o ObserverConfig) Listener() ListenerConfig {
	return ListenerConfig(o)
}

// ControllerConfig is the controller ("bot") listener.
type ControllerConfig struct {
	Host       string `json:"host" yaml:"host" env:"HUB_BOT_LISTEN_HOST"`
	Port       int    `json:"port" yaml:"port" env:"HUB_BOT_LISTEN_PORT"`
	OnlineMode bool   `json:"online_mode" yaml:"online_mode" env:"HUB_BOT_ONLINE_MODE"`
	Username   string `json:"username" yaml:"username" env:"HUB_BOT_USERNAME"`
}

// Listener returns the role-neutral listener settings.
func (c ControllerConfig) Listener() ListenerConfig {
	return ListenerConfig(c)
}

// UpstreamConfig is the real server the hub logs into.
type UpstreamConfig struct {
	Host     string `json:"host" yaml:"host" env:"HUB_UPSTREAM_HOST"`
	Port     int    `json:"port" yaml:"port" env:"HUB_UPSTREAM_PORT"`
	Auth     string `json:"auth" yaml:"auth" env:"HUB_UPSTREAM_AUTH"`
	Username string `json:"username" yaml:"username" env:"HUB_UPSTREAM_USERNAME"`
}

// Addr returns host:port.
func (u UpstreamConfig) Addr() string {
	return fmt.Sprintf("%s:%d", u.Host, u.Port)
}

// APIConfig holds the status REST API settings.
type APIConfig struct {
	Enabled        bool     `json:"enabled" yaml:"enabled" env:"HUB_API_ENABLED"`
	Host           string   `json:"host" yaml:"host" env:"HUB_API_HOST"`
	Port           int      `json:"port" yaml:"port" env:"HUB_API_PORT"`
	AllowedOrigins []string `json:"allowed_origins" yaml:"allowed_origins" env:"HUB_API_ALLOWED_ORIGINS"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled" env:"HUB_MQTT_ENABLED"`
	BrokerURL string `json:"broker_url" yaml:"broker_url" env:"HUB_MQTT_BROKER_URL"`
	Port      int    `json:"port" yaml:"port" env:"HUB_MQTT_PORT"`
	UseTLS    bool   `json:"use_tls" yaml:"use_tls" env:"HUB_MQTT_USE_TLS"`
	CertFile  string `json:"cert_file" yaml:"cert_file" env:"HUB_MQTT_CERT_FILE"`
	KeyFile   string `json:"key_file" yaml:"key_file" env:"HUB_MQTT_KEY_FILE"`
	CAFile    string `json:"ca_file" yaml:"ca_file" env:"HUB_MQTT_CA_FILE"`
	ClientID  string `json:"client_id" yaml:"client_id" env:"HUB_MQTT_CLIENT_ID"`
}

// AuditConfig holds the session audit database settings.
type AuditConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled" env:"HUB_AUDIT_ENABLED"`
	Path    string `json:"path" yaml:"path" env:"HUB_AUDIT_PATH"`

	// RetentionDays prunes older events during housekeeping; 0 keeps everything.
	RetentionDays int `json:"retention_days" yaml:"retention_days" env:"HUB_AUDIT_RETENTION_DAYS"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level" yaml:"level" env:"HUB_LOG_LEVEL"`
	Directory  string `json:"directory" yaml:"directory" env:"HUB_LOG_DIR"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups" env:"HUB_LOG_MAX_BACKUPS"`
	Console    bool   `json:"console" yaml:"console" env:"HUB_LOG_CONSOLE"`
}

// MaintenanceConfig schedules the health checks and daily housekeeping.
// A zero interval disables that check.
type MaintenanceConfig struct {
	HeartbeatInterval time.Duration `json:"heartbeat_interval" yaml:"heartbeat_interval" env:"HUB_HEARTBEAT_INTERVAL"`
	DiskCheckInterval time.Duration `json:"disk_check_interval" yaml:"disk_check_interval" env:"HUB_DISK_CHECK_INTERVAL"`

	// CleanupTime is the local HH:MM at which housekeeping runs daily.
	CleanupTime       string `json:"cleanup_time" yaml:"cleanup_time" env:"HUB_CLEANUP_TIME"`
	DumpRetentionDays int    `json:"dump_retention_days" yaml:"dump_retention_days" env:"HUB_DUMP_RETENTION_DAYS"`
}

// DefaultConfig returns a configuration with the stock defaults.
func DefaultConfig() *Config {
	return &Config{
		Version:              DefaultVersion,
		MOTD:                 DefaultMOTD,
		CompressionThreshold: DefaultCompressionThreshold,
		Observer: ObserverConfig{
			Host:       "0.0.0.0",
			Port:       DefaultObserverPort,
			OnlineMode: true,
		},
		Controller: ControllerConfig{
			Host:     "0.0.0.0",
			Port:     DefaultControllerPort,
			Username: DefaultControllerUsername,
		},
		Upstream: UpstreamConfig{
			Host:     "localhost",
			Port:     DefaultUpstreamPort,
			Auth:     AuthOffline,
			Username: DefaultUpstreamUsername,
		},
		DumpDir: "./packet-dumps",
		API: APIConfig{
			Host: "127.0.0.1",
			Port: DefaultAPIPort,
		},
		MQTT: MQTTConfig{
			Port:     8883,
			UseTLS:   true,
			ClientID: "mchub",
		},
		Audit: AuditConfig{
			Path:          filepath.Join("data", "hub.db"),
			RetentionDays: 30,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Directory:  "logs",
			MaxBackups: 5,
			Console:    true,
		},
		Maintenance: MaintenanceConfig{
			HeartbeatInterval: time.Minute,
			DiskCheckInterval: 5 * time.Minute,
			CleanupTime:       "04:00",
			DumpRetentionDays: 7,
		},
	}
}

// ObserverUsername is the identity an observer must log in with.
func (c *Config) ObserverUsername() string {
	if c.Observer.Username != "" {
		return c.Observer.Username
	}
	return c.Upstream.Username
}

// Path returns the file the configuration was loaded from, if any.
func (c *Config) Path() string {
	return c.path
}

// LoadFile overlays a YAML file onto cfg.
func LoadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	cfg.path = path
	log.Info().Str("path", path).Msg("configuration file loaded")
	return nil
}

// LoadEnv overlays HUB_* environment variables onto cfg. Unset variables
// leave the current value in place.
func LoadEnv(cfg *Config) error {
	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return fmt.Errorf("failed to decode environment: %w", err)
	}
	return nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", path).Msg("configuration saved")
	return nil
}
