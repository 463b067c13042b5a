package config

import (
	"fmt"
	"io"

	"github.com/spf13/pflag"
)

// Load builds the effective configuration from defaults, the YAML file
// named by --config (if any), the environment and the remaining flags.
// It returns pflag.ErrHelp when --help was requested.
func Load(name string, args []string, output io.Writer) (*Config, error) {
	// First pass only finds the config file.
	pre := pflag.NewFlagSet(name, pflag.ContinueOnError)
	pre.ParseErrorsWhitelist.UnknownFlags = true
	pre.SetOutput(io.Discard)
	pre.Usage = func() {}
	configPath := pre.StringP("config", "c", "", "")
	_ = pre.Parse(args)

	cfg := DefaultConfig()
	if *configPath != "" {
		if err := LoadFile(cfg, *configPath); err != nil {
			return nil, err
		}
	}
	if err := LoadEnv(cfg); err != nil {
		return nil, err
	}

	fs := NewFlagSet(name, cfg)
	fs.SetOutput(output)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return cfg, nil
}

// NewFlagSet binds every flag to cfg, using cfg's current values as the
// defaults so that only flags given on the command line override them.
func NewFlagSet(name string, cfg *Config) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SortFlags = false

	fs.StringP("config", "c", cfg.path, "YAML configuration file")

	fs.StringVar(&cfg.Version, "version", cfg.Version, "Minecraft protocol version served and spoken upstream")
	fs.StringVar(&cfg.MOTD, "motd", cfg.MOTD, "server list description")
	fs.IntVar(&cfg.CompressionThreshold, "compression-threshold", cfg.CompressionThreshold, "downstream compression threshold (-1 disables)")

	fs.StringVar(&cfg.Observer.Host, "observer-host", cfg.Observer.Host, "observer listen host")
	fs.IntVar(&cfg.Observer.Port, "observer-port", cfg.Observer.Port, "observer listen port")
	fs.BoolVar(&cfg.Observer.OnlineMode, "observer-online-mode", cfg.Observer.OnlineMode, "observer listener online mode")
	fs.StringVar(&cfg.Observer.Username, "observer-username", cfg.Observer.Username, "observer username (defaults to the upstream username)")

	fs.StringVar(&cfg.Controller.Host, "controller-host", cfg.Controller.Host, "controller listen host")
	fs.IntVar(&cfg.Controller.Port, "controller-port", cfg.Controller.Port, "controller listen port")
	fs.BoolVar(&cfg.Controller.OnlineMode, "controller-online-mode", cfg.Controller.OnlineMode, "controller listener online mode")
	fs.StringVar(&cfg.Controller.Username, "controller-username", cfg.Controller.Username, "controller username")

	fs.StringVar(&cfg.Upstream.Host, "upstream-host", cfg.Upstream.Host, "upstream server host")
	fs.IntVar(&cfg.Upstream.Port, "upstream-port", cfg.Upstream.Port, "upstream server port")
	fs.StringVar(&cfg.Upstream.Auth, "upstream-auth", cfg.Upstream.Auth, "upstream auth mode")
	fs.StringVar(&cfg.Upstream.Username, "upstream-username", cfg.Upstream.Username, "upstream username")

	fs.BoolVar(&cfg.RewriteIdentity, "rewrite-identity", cfg.RewriteIdentity, "rewrite the hub identity to each session's own")
	fs.BoolVar(&cfg.MirrorMovement, "mirror-movement", cfg.MirrorMovement, "mirror controller movement to observers")
	fs.BoolVar(&cfg.MirrorActions, "mirror-actions", cfg.MirrorActions, "mirror controller actions to observers")
	fs.BoolVar(&cfg.DebugPackets, "debug-packets", cfg.DebugPackets, "log every packet at debug level")
	fs.BoolVar(&cfg.DumpPackets, "dump-packets", cfg.DumpPackets, "write every packet to a dump file")
	fs.StringVar(&cfg.DumpDir, "dump-dir", cfg.DumpDir, "packet dump directory")

	fs.BoolVar(&cfg.API.Enabled, "api", cfg.API.Enabled, "enable the status API")
	fs.StringVar(&cfg.API.Host, "api-host", cfg.API.Host, "status API host")
	fs.IntVar(&cfg.API.Port, "api-port", cfg.API.Port, "status API port")

	fs.BoolVar(&cfg.MQTT.Enabled, "mqtt", cfg.MQTT.Enabled, "enable MQTT telemetry")
	fs.StringVar(&cfg.MQTT.BrokerURL, "mqtt-broker", cfg.MQTT.BrokerURL, "MQTT broker host")
	fs.IntVar(&cfg.MQTT.Port, "mqtt-port", cfg.MQTT.Port, "MQTT broker port")

	fs.BoolVar(&cfg.Audit.Enabled, "audit", cfg.Audit.Enabled, "record session events in the audit database")
	fs.StringVar(&cfg.Audit.Path, "audit-path", cfg.Audit.Path, "audit database path")
	fs.IntVar(&cfg.Audit.RetentionDays, "audit-retention-days", cfg.Audit.RetentionDays, "prune audit events older than this many days (0 keeps all)")

	fs.StringVar(&cfg.Logging.Level, "log-level", cfg.Logging.Level, "log level")
	fs.StringVar(&cfg.Logging.Directory, "log-dir", cfg.Logging.Directory, "log directory")

	fs.DurationVar(&cfg.Maintenance.HeartbeatInterval, "heartbeat-interval", cfg.Maintenance.HeartbeatInterval, "hub heartbeat interval (0 disables)")
	fs.DurationVar(&cfg.Maintenance.DiskCheckInterval, "disk-check-interval", cfg.Maintenance.DiskCheckInterval, "disk utilization check interval (0 disables)")
	fs.StringVar(&cfg.Maintenance.CleanupTime, "cleanup-time", cfg.Maintenance.CleanupTime, "daily housekeeping time (HH:MM)")
	fs.IntVar(&cfg.Maintenance.DumpRetentionDays, "dump-retention-days", cfg.Maintenance.DumpRetentionDays, "delete packet dumps older than this many days (0 keeps all)")

	fs.BoolVar(&cfg.Console, "console", cfg.Console, "read operator commands from stdin")

	return fs
}
