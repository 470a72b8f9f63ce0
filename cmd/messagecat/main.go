package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sambigeara/messagecat/pkg/config"
	"github.com/sambigeara/messagecat/pkg/observability/logging"
	"github.com/sambigeara/messagecat/pkg/server"
	"github.com/sambigeara/messagecat/pkg/workspace"
)

func main() {
	rootCmd := &cobra.Command{Use: "messagecat"}
	rootCmd.PersistentFlags().String("dir", workspace.DefaultDir(), "Directory where server state is persisted")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the messaging server",
		RunE:  runServe,
	}
	serveCmd.Flags().Int("port", 0, "Listening TCP port (overrides config)")
	serveCmd.Flags().Int("workers", 0, "Handler pool size (overrides config)")
	serveCmd.Flags().Int("queue-capacity", 0, "Maximum queued connections (overrides config)")
	serveCmd.Flags().String("database", "", "SQLite database path (overrides config)")
	serveCmd.Flags().String("metrics-addr", "", "Address to expose Prometheus metrics on")
	serveCmd.Flags().String("log-level", "", "Log level (debug, info, warn, error)")

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the server configuration",
	}
	configInitCmd := &cobra.Command{
		Use:   "init",
		Short: "Write the effective configuration to the state directory",
		RunE:  runConfigInit,
	}
	configCmd.AddCommand(configInitCmd)

	rootCmd.AddCommand(serveCmd, configCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("failed to execute command: %q", err)
	}
}

func loadConfig(cmd *cobra.Command) (string, *config.Config, error) {
	dirFlag, _ := cmd.Flags().GetString("dir")
	dir, err := workspace.EnsureDir(dirFlag)
	if err != nil {
		return "", nil, err
	}
	cfg, err := config.Load(dir)
	if err != nil {
		return "", nil, err
	}
	return dir, cfg, nil
}

func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("workers") {
		cfg.Workers, _ = flags.GetInt("workers")
	}
	if flags.Changed("queue-capacity") {
		cfg.QueueCapacity, _ = flags.GetInt("queue-capacity")
	}
	if flags.Changed("database") {
		cfg.Database, _ = flags.GetString("database")
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr, _ = flags.GetString("metrics-addr")
	}
	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	dir, cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	applyFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	logging.Init(cfg.Level())
	defer zap.S().Sync() //nolint:errcheck

	logger := zap.S()
	logger.Infow("starting messagecat...", "dir", dir, "port", cfg.ListenPort())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := server.New(cfg, dir)
	if err != nil {
		return err
	}
	defer func() {
		if err := srv.Close(); err != nil {
			logger.Warnw("close server", "err", err)
		}
	}()

	ln, err := srv.Listen(ctx)
	if err != nil {
		return err
	}

	if err := srv.Serve(ctx, ln); err != nil {
		logger.Errorw("server stopped", "err", err)
		return err
	}
	logger.Info("shut down")
	return nil
}

func runConfigInit(cmd *cobra.Command, _ []string) error {
	dir, cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := config.Save(dir, cfg.WithDefaults()); err != nil {
		return err
	}
	cmd.Printf("wrote configuration to %s\n", dir)
	return nil
}
