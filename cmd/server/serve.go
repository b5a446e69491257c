package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/Tyrowin/voicehub/internal/metrics"
	"github.com/Tyrowin/voicehub/internal/relay"
	"github.com/Tyrowin/voicehub/internal/server"
)

type serveOptions struct {
	port      string
	origins   []string
	logLevel  string
	logFormat string
	envFile   string
}

var serveOpts serveOptions

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the hub",
	Long: `Start the HTTP server with the /ws/voice and /ws/call endpoints.

Settings come from the environment (and an optional .env file). Flags
override the environment.

Examples:
  voicehub serve
  voicehub serve --port :9000 --origins https://app.example.com
  voicehub serve --log-format json --log-level debug`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	addServeFlags(serveCmd)
}

func addServeFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&serveOpts.port, "port", "", "listen address, e.g. :8080 (overrides SERVER_PORT)")
	cmd.Flags().StringSliceVar(&serveOpts.origins, "origins", nil, "allowed WebSocket origins (overrides ALLOWED_ORIGINS)")
	cmd.Flags().StringVar(&serveOpts.logLevel, "log-level", "", "debug, info, warn or error (overrides LOG_LEVEL)")
	cmd.Flags().StringVar(&serveOpts.logFormat, "log-format", "", "text or json (overrides LOG_FORMAT)")
	cmd.Flags().StringVar(&serveOpts.envFile, "env-file", ".env", "dotenv file to load before reading the environment")
}

// loadConfig merges the dotenv file, the environment and the flags.
func loadConfig(opts serveOptions) (*server.Config, error) {
	if opts.envFile != "" {
		if err := godotenv.Load(opts.envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", opts.envFile, err)
		}
	}

	cfg := server.NewConfigFromEnv()
	if opts.port != "" {
		cfg.Port = opts.port
	}
	if len(opts.origins) > 0 {
		cfg.AllowedOrigins = opts.origins
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	if opts.logFormat != "" {
		cfg.Log.Format = opts.logFormat
	}
	return cfg, nil
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}

	cfg, err := loadConfig(serveOpts)
	if err != nil {
		return err
	}

	logger, err := server.NewLogger(*cfg)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	if _, err := server.ICEServers(cfg.ICE); err != nil {
		return fmt.Errorf("ice servers: %w", err)
	}

	server.SetConfig(cfg)
	active := server.CurrentConfig()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	hub := server.NewHub(relay.NewDispatcher(logger, metrics.New(reg)), logger)
	go hub.Run()

	httpServer := server.CreateServer(active.Port, server.SetupRoutes(hub, reg))

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.StartServer(httpServer)
	}()

	logger.Info("voicehub.started",
		"port", active.Port,
		"origins", active.AllowedOrigins,
		"max_message_size", active.MaxMessageSize,
	)

	select {
	case err := <-serveErr:
		_ = hub.Shutdown(active.ShutdownTimeout)
		return err
	case <-ctx.Done():
	}

	logger.Info("voicehub.stopping")
	if err := server.ShutdownServer(httpServer, active.ShutdownTimeout); err != nil {
		logger.Warn("http.shutdown", "error", err)
	}
	if err := hub.Shutdown(active.ShutdownTimeout); err != nil {
		logger.Warn("hub.shutdown", "error", err)
	}
	return <-serveErr
}
