package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/davin/stateshim/internal/config"
	"github.com/davin/stateshim/internal/logger"
	"github.com/davin/stateshim/internal/tracing"
	"github.com/davin/stateshim/pkg/protocol"
	"github.com/davin/stateshim/pkg/proxy"
	"github.com/davin/stateshim/pkg/session"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the shim in the foreground",
	Long: `Run the shim in the foreground. The server keeps running until it
receives SIGINT or SIGTERM, then drains in-flight requests and exits.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	log, err := logger.New(logger.Config{
		Level:   cfg.Logging.Level,
		File:    cfg.Logging.File,
		Console: cfg.Logging.Console,
		Pretty:  cfg.Logging.Pretty,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Close()
	zlog := log.GetZerolog()

	if err := tracing.Init("stateshim", cfg.Tracing.SampleRatio); err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		tracing.Shutdown(ctx)
	}()

	interceptor, cleanup, err := buildSessions(cfg, zlog)
	if err != nil {
		return err
	}
	defer cleanup()

	server, err := proxy.NewServer(proxy.ServerOptions{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		EngineURL:      cfg.Engine.URL,
		DefaultTimeout: time.Duration(cfg.Engine.TimeoutSeconds) * time.Second,
	}, interceptor, zlog)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		zlog.Info().Str("signal", sig.String()).Msg("Shutting down")
		return server.Stop()
	case err := <-errCh:
		return err
	}
}

// buildSessions wires the session subsystem when it is enabled. The returned
// interceptor is always usable; with sessions disabled it rejects any request
// that carries session fields or headers.
func buildSessions(cfg *config.Config, zlog zerolog.Logger) (*protocol.Interceptor, func(), error) {
	if !cfg.Sessions.Enabled {
		zlog.Info().Msg("Stateful sessions disabled")
		interceptor := protocol.New(protocol.Config{Logger: zlog})
		return interceptor, func() {}, nil
	}

	manager, err := session.NewManager(session.Options{
		StoragePath: cfg.Sessions.Path,
		Expiration:  time.Duration(cfg.Sessions.Expiration) * time.Second,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize session manager: %w", err)
	}

	var stops []func()

	if cfg.Sessions.SweepInterval > 0 {
		sweeper, err := session.NewSweeper(manager, time.Duration(cfg.Sessions.SweepInterval)*time.Second)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create sweeper: %w", err)
		}
		if err := sweeper.Start(); err != nil {
			return nil, nil, fmt.Errorf("failed to start sweeper: %w", err)
		}
		stops = append(stops, func() {
			if err := sweeper.Stop(); err != nil {
				zlog.Warn().Err(err).Msg("Failed to stop sweeper")
			}
		})
	}

	watcher, err := session.NewStorageWatcher(manager, zlog)
	if err != nil {
		zlog.Warn().Err(err).Msg("Storage watcher unavailable")
	} else {
		stops = append(stops, func() {
			if err := watcher.Stop(); err != nil {
				zlog.Warn().Err(err).Msg("Failed to stop storage watcher")
			}
		})
	}

	interceptor := protocol.New(protocol.Config{
		Manager:       manager,
		SessionIDPath: cfg.Sessions.SessionIDPath,
		Logger:        zlog,
	})

	cleanup := func() {
		for i := len(stops) - 1; i >= 0; i-- {
			stops[i]()
		}
	}
	return interceptor, cleanup, nil
}
