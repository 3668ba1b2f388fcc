// Spile - a game server network daemon.
//
// Spile terminates three protocols on independent listeners: the stateful
// game protocol, the remote console protocol and the lightweight query
// protocol. An orchestrator owns the listeners' shared lifecycle; an
// admin REST server, an interactive console and optional MQTT telemetry
// ride alongside.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"

	"github.com/spile-project/spile/internal/api"
	"github.com/spile-project/spile/internal/cli"
	"github.com/spile-project/spile/internal/config"
	"github.com/spile-project/spile/internal/db"
	"github.com/spile-project/spile/internal/events"
	"github.com/spile-project/spile/internal/game"
	"github.com/spile-project/spile/internal/network"
	"github.com/spile-project/spile/internal/protocol"
	"github.com/spile-project/spile/internal/query"
	"github.com/spile-project/spile/internal/rcon"
	"github.com/spile-project/spile/internal/scheduler"
	"github.com/spile-project/spile/internal/server"
	"github.com/spile-project/spile/internal/telemetry"
	"github.com/spile-project/spile/internal/util"
)

const (
	AppName    = "Spile"
	AppVersion = "1.0.0"
	Banner     = `
   _____       _ _
  / ____|     (_) |
 | (___  _ __  _| | ___
  \___ \| '_ \| | |/ _ \
  ____) | |_) | | |  __/
 |_____/| .__/|_|_|\___|
        | |
        |_|  v%s
 Game Server Network Daemon
`
)

func main() {
	configPath := pflag.String("config", config.DefaultConfigPath, "path to the configuration file")
	logLevel := pflag.String("log-level", "", "override the configured log level")
	noConsole := pflag.Bool("no-console", false, "disable the interactive admin console")
	pflag.Parse()

	fmt.Printf(Banner, AppVersion)
	fmt.Println()

	// Defaults first; reconfigured once the config file is read.
	if err := util.InitLogger(util.DefaultLogConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	log.Info().
		Str("version", AppVersion).
		Str("platform", runtime.GOOS).
		Str("arch", runtime.GOARCH).
		Int("cpus", runtime.NumCPU()).
		Msg("starting Spile")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
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

	validation := config.Validate(cfg)
	for _, w := range validation.Warnings {
		log.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !validation.IsValid() {
		for _, e := range validation.Errors {
			log.Error().Str("field", e.Field).Msg(e.Message)
		}
		log.Fatal().Msg("configuration validation failed, please fix the errors above")
	}

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("cpu", sysInfo.CPUModel).
		Int("cores", sysInfo.CPUCores).
		Uint64("memory_mb", sysInfo.TotalMemory).
		Msg("system information")

	store, err := db.Open(cfg.Database.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := events.NewBus()

	// The game listener reports its own session count as the online player
	// figure; the variable is bound before any connection is accepted.
	var gameListener *network.Listener
	online := func() int {
		if gameListener == nil {
			return 0
		}
		return gameListener.Sessions().Count()
	}

	gameListener = network.NewListener(network.Config{
		Proto:   "game",
		Addr:    cfg.Network.GameAddr,
		Framing: game.Framing(),
		Pipeline: protocol.Pipeline{
			CompressionThreshold: cfg.Network.CompressionThreshold,
			Decompress:           protocol.ZlibDecompress(),
		},
		NewHandler: game.NewHandlerFactory(cfg, store, online),
	}, bus)

	rconListener := network.NewListener(network.Config{
		Proto:      "rcon",
		Addr:       cfg.Network.RCONAddr,
		Framing:    rcon.Framing(),
		NewHandler: rcon.NewHandlerFactory(cfg, store, bus, online),
	}, bus)

	queryListener := network.NewListener(network.Config{
		Proto:      "query",
		Addr:       cfg.Network.QueryAddr,
		Framing:    query.Framing(),
		NewHandler: query.NewHandlerFactory(cfg, online),
	}, bus)

	orch := server.New(bus, gameListener, rconListener, queryListener)

	if err := orch.Bootstrap(ctx); err != nil {
		log.Fatal().Err(err).Msg("bootstrap failed")
	}

	var wg sync.WaitGroup

	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer = api.NewServer(cfg, bus, orch, store)
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Str("addr", cfg.API.Addr).Msg("starting admin api server")
			if err := apiServer.Start(ctx); err != nil {
				log.Warn().Err(err).Msg("admin api server failed")
			}
		}()
	}

	if cfg.MQTT.Enabled {
		mqttHandler, err := telemetry.NewMQTTHandler(cfg, bus)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize mqtt, telemetry disabled")
		} else {
			wg.Add(1)
			go func() {
				defer wg.Done()
				log.Info().Msg("starting mqtt telemetry")
				if err := mqttHandler.Start(ctx); err != nil {
					log.Warn().Err(err).Msg("mqtt telemetry failed")
				}
			}()
		}
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		scheduler.NewScheduler(orch, store).Start(ctx)
	}()

	if !*noConsole {
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info().Msg("starting admin console")
			cli.NewConsole(cfg, bus, orch, store, os.Stdin, os.Stdout).Run(ctx)
		}()
	}

	// Block until a signal arrives or any component requests shutdown.
	shutdownCh := make(chan events.Event, 1)
	bus.Subscribe(events.EventShutdown, "main", func(ctx context.Context, ev events.Event) error {
		select {
		case shutdownCh <- ev:
		default:
		}
		return nil
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case ev := <-shutdownCh:
		log.Info().Str("source", ev.Source).Msg("shutdown requested")
	}

	log.Info().Msg("initiating graceful shutdown...")

	stopErr := orch.Stop()
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Info().Msg("all tasks stopped gracefully")
	case <-time.After(30 * time.Second):
		log.Warn().Msg("shutdown timed out after 30 seconds, forcing exit")
	}

	bus.Stop()

	if stopErr != nil {
		fmt.Fprintln(os.Stderr, "shutdown error:", stopErr)
		os.Exit(1)
	}

	log.Info().Msg("Spile stopped")
}
