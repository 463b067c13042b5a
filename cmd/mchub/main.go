// mchub - Minecraft session-multiplexing hub.
//
// mchub holds one connection to an upstream Minecraft server and fans it
// out to a controller client, which drives the session, and any number of
// observer clients, which watch it.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/moeru-ai/airi-sub003/internal/api"
	"github.com/moeru-ai/airi-sub003/internal/cli"
	"github.com/moeru-ai/airi-sub003/internal/config"
	"github.com/moeru-ai/airi-sub003/internal/db"
	"github.com/moeru-ai/airi-sub003/internal/dump"
	"github.com/moeru-ai/airi-sub003/internal/events"
	"github.com/moeru-ai/airi-sub003/internal/health"
	"github.com/moeru-ai/airi-sub003/internal/hub"
	"github.com/moeru-ai/airi-sub003/internal/network"
	"github.com/moeru-ai/airi-sub003/internal/scheduler"
	"github.com/moeru-ai/airi-sub003/internal/telemetry"
	"github.com/moeru-ai/airi-sub003/internal/util"
)

const (
	AppName    = "mchub"
	AppVersion = "1.0.0"
	Banner     = `
                 _           _
  _ __ ___   ___| |__  _   _| |__
 | '_ ' _ \ / __| '_ \| | | | '_ \
 | | | | | | (__| | | | |_| | |_) |
 |_| |_| |_|\___|_| |_|\__,_|_.__/  v%s
 Minecraft session hub
`
	shutdownTimeout = 15 * time.Second
)

func main() {
	os.Exit(run())
}

func run() int {
	fmt.Printf(Banner, AppVersion)
	fmt.Println()

	// Defaults first, reconfigured after the config is loaded.
	if err := util.InitLogger(util.DefaultLogConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		return 1
	}

	cfg, err := config.Load(AppName, os.Args[1:], os.Stderr)
	if errors.Is(err, pflag.ErrHelp) {
		return 0
	}
	if err != nil {
		log.Error().Err(err).Msg("failed to load configuration")
		return 2
	}

	logCfg := util.LogConfig{
		Level:      cfg.Logging.Level,
		Directory:  cfg.Logging.Directory,
		MaxBackups: cfg.Logging.MaxBackups,
		Console:    cfg.Logging.Console,
	}
	if err := util.InitLogger(logCfg); err != nil {
		log.Warn().Err(err).Msg("failed to reconfigure logger, using defaults")
	}

	log.Info().
		Str("version", AppVersion).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Str("config", cfg.Path()).
		Msg("starting mchub")

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		log.Error().Msg("configuration validation failed, please fix the errors above")
		return 2
	}

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("cpu", sysInfo.CPUModel).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("system information")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eventBus := events.NewEventBus()

	// Interfaces stay nil when a side component is disabled.
	var history cli.HistorySource
	var pruner scheduler.Pruner
	var auditLog *db.AuditLog
	if cfg.Audit.Enabled {
		auditLog, err = db.NewAuditLog(cfg.Audit.Path)
		if err != nil {
			log.Warn().Err(err).Msg("failed to open audit log, auditing disabled")
			auditLog = nil
		} else {
			auditLog.Subscribe(eventBus)
			history = auditLog
			pruner = auditLog
		}
	}

	var mqttHandler *telemetry.MQTTHandler
	if cfg.MQTT.Enabled {
		mqttHandler, err = telemetry.NewMQTTHandler(cfg, eventBus)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize MQTT, telemetry disabled")
			mqttHandler = nil
		}
	}

	var dumper hub.Dumper
	if cfg.DumpPackets {
		sink, err := dump.Open(cfg.DumpDir, time.Now())
		if err != nil {
			log.Warn().Err(err).Msg("failed to open packet dump, dumping disabled")
		} else {
			log.Info().Str("path", sink.Path()).Msg("packet dump enabled")
			dumper = sink
		}
	}

	h := hub.New(cfg, eventBus, dumper)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := h.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("hub loop stopped")
		}
	}()

	if mqttHandler != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Msg("starting MQTT telemetry")
			if err := mqttHandler.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("MQTT telemetry failed")
			}
		}()
	}

	// Listeners first, so a controller or observer can connect while the
	// upstream is still configuring.
	for _, role := range []hub.Role{hub.RoleObserver, hub.RoleController} {
		l, err := network.NewListener(role, cfg, h)
		if err == nil {
			err = l.Start(ctx)
		}
		if err != nil {
			log.Error().Err(err).Str("role", string(role)).Msg("failed to start listener")
			shutdown(cancel, h, eventBus, auditLog, &wg)
			return 1
		}
		h.AttachListener(string(role)+" listener", l)
	}

	upstream, err := network.NewUpstream(cfg, h)
	if err == nil {
		err = upstream.Connect(ctx)
	}
	if err != nil {
		log.Error().Err(err).Msg("failed to connect upstream")
		shutdown(cancel, h, eventBus, auditLog, &wg)
		return 1
	}

	if cfg.API.Enabled {
		apiServer := api.NewServer(cfg, h, history)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := startWithRetry(ctx, "API server", apiServer.Start, 5); err != nil && !errors.Is(err, context.Canceled) {
				log.Warn().Err(err).Msg("API server failed after retries (non-fatal)")
			}
		}()
	}

	healthMgr := health.NewManager(cfg, eventBus, h)
	sched := scheduler.NewScheduler(cfg, pruner)

	wg.Add(2)
	go func() {
		defer wg.Done()
		healthMgr.Start(ctx)
	}()
	go func() {
		defer wg.Done()
		sched.Start(ctx)
	}()

	quit := make(chan struct{}, 1)
	if cfg.Console {
		eventBus.Subscribe(events.EventShutdown, "main", func(_ context.Context, ev events.Event) error {
			if ev.Source == cli.ShutdownSource {
				select {
				case quit <- struct{}{}:
				default:
				}
			}
			return nil
		})
		console := cli.NewCLI(eventBus, h, history, os.Stdin, os.Stdout)
		// Not tracked by wg: a blocked stdin read must not hold up shutdown.
		go console.Start(ctx)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case err := <-h.Fatal():
		log.Error().Err(err).Msg("relay can no longer continue, shutting down")
		exitCode = 1
	case <-quit:
		log.Info().Msg("shutdown requested from console")
	}

	shutdown(cancel, h, eventBus, auditLog, &wg)
	log.Info().Msg("mchub stopped")
	return exitCode
}

// shutdown closes the hub before cancelling the root context, so the
// shutdown notification still reaches the audit log and telemetry.
func shutdown(cancel context.CancelFunc, h *hub.Hub, bus *events.EventBus, auditLog *db.AuditLog, wg *sync.WaitGroup) {
	log.Info().Msg("initiating graceful shutdown...")
	h.Close()
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(shutdownTimeout):
		log.Warn().Dur("timeout", shutdownTimeout).Msg("shutdown timed out, forcing exit")
	}

	bus.Stop()
	if auditLog != nil {
		if err := auditLog.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close audit log")
		}
	}
}

// startWithRetry retries startFn on bind errors at a fixed interval.
func startWithRetry(ctx context.Context, name string, startFn func(context.Context) error, maxRetries int) error {
	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = startFn(ctx)
		if lastErr == nil {
			return nil
		}
		if i < maxRetries {
			log.Warn().Err(lastErr).Str("component", name).Int("retry", i+1).Int("max", maxRetries).Msg("bind failed, retrying in 3s...")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(3 * time.Second):
			}
		}
	}
	return lastErr
}
