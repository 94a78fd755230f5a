package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-liveness/internal/config"
	"github.com/teslashibe/go-liveness/internal/log"
	"github.com/teslashibe/go-liveness/pkg/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the liveness server",
	Long: `Start the liveness WebSocket server.

Clients connect to /ws/session, stream face measurements and receive task
prompts until the challenge completes. Dashboards can watch every session
on /ws/events. Settings come from LIVENESS_* environment variables, an
optional .env file and LIVENESS_CHALLENGE_FILE; flags override them.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("port", "", "Port to listen on (overrides LIVENESS_PORT)")
	serveCmd.Flags().Float64("max-fps", 0, "Per-connection measurement limit (overrides LIVENESS_MAX_FPS)")
	serveCmd.Flags().String("challenge", "", "YAML challenge file (overrides LIVENESS_CHALLENGE_FILE)")
	serveCmd.Flags().String("locale", "", "Prompt locale (overrides LIVENESS_LOCALE)")
}

// loadConfig reads the environment and applies the command's flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if v := mustGetString(cmd, "log-level"); v != "" {
		cfg.LogLevel = v
	}
	if v := mustGetString(cmd, "log-format"); v != "" {
		cfg.LogFormat = v
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if v := mustGetString(cmd, "port"); v != "" {
		cfg.Port = v
	}
	if v := mustGetFloat64(cmd, "max-fps"); v > 0 {
		cfg.MaxFPS = v
	}
	if v := mustGetString(cmd, "locale"); v != "" {
		cfg.Challenge.Locale = v
	}
	if path := mustGetString(cmd, "challenge"); path != "" {
		if err := cfg.Challenge.LoadFile(path); err != nil {
			return err
		}
	}

	log.Init(cfg.LogLevel, cfg.LogFormat)

	def, err := cfg.Challenge.Build()
	if err != nil {
		return fmt.Errorf("challenge: %w", err)
	}
	log.Info("challenge loaded",
		"tasks", def.TaskCount(),
		"hold", def.Hold(),
		"locale", cfg.Challenge.Locale,
		"file", cfg.Challenge.File,
	)

	srvCfg := server.DefaultConfig()
	srvCfg.MaxFPS = cfg.MaxFPS
	srv := server.New(def,
		server.WithConfig(srvCfg),
		server.WithLogger(log.L()),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return srv.Run(ctx, ":"+cfg.Port)
}
