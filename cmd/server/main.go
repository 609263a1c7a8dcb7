package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"proctor/internal/realtime"
	"proctor/internal/sandbox"
	"proctor/internal/shell"
	"proctor/internal/terminal"
	"proctor/internal/watcher"

	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"
)

const terminalID = "terminal"

// Config holds server configuration, loaded from PROCTOR_* environment
// variables.
type Config struct {
	Port         int    `default:"8420"`
	StaticDir    string `split_words:"true" default:"./frontend/dist"`
	WorkspaceDir string `split_words:"true"`
	InternalDir  string `split_words:"true"`
	Shell        string
	AdminKey     string `split_words:"true" default:"1915"`
	Debug        bool
}

func loadConfig() (Config, error) {
	var cfg Config
	if err := envconfig.Process("proctor", &cfg); err != nil {
		return cfg, err
	}

	if cfg.WorkspaceDir == "" || cfg.InternalDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return cfg, fmt.Errorf("resolve home directory: %w", err)
		}
		if cfg.WorkspaceDir == "" {
			cfg.WorkspaceDir = filepath.Join(home, ".proctor_workspace")
		}
		if cfg.InternalDir == "" {
			cfg.InternalDir = filepath.Join(home, ".proctor_internal")
		}
	}

	return cfg, nil
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	// Set up the workspace and internal directories; fresh history and
	// session log every session start.
	layout := sandbox.Layout{
		WorkspaceDir: cfg.WorkspaceDir,
		InternalDir:  cfg.InternalDir,
	}
	if err := layout.Ensure(); err != nil {
		logger.Fatal("workspace setup failed", zap.Error(err))
	}

	files, err := sandbox.NewWorkspace(layout.WorkspaceDir)
	if err != nil {
		logger.Fatal("workspace setup failed", zap.Error(err))
	}

	// Compose the supervised shell command for the detected shell family.
	strategy := shell.Detect(cfg.Shell)
	command, args, err := strategy.Compose(layout)
	if err != nil {
		logger.Fatal("shell composition failed",
			zap.String("strategy", strategy.Name()), zap.Error(err))
	}
	logger.Info("shell composed", zap.String("strategy", strategy.Name()))

	// Terminal registry and realtime server reference each other: the
	// server pushes input into the registry, the registry streams output
	// back through the server.
	registry := terminal.NewRegistry(cfg.AdminKey, logger)
	rtServer := realtime.New(registry, files, cfg.StaticDir, logger)
	registry.SetSink(rtServer)

	if err := registry.Spawn(terminalID, command, args, layout.WorkspaceDir, nil); err != nil {
		logger.Fatal("terminal spawn failed", zap.Error(err))
	}

	// Activity watcher: a failed start degrades observability but does not
	// take the session down.
	activity := watcher.New(layout, rtServer, logger)
	if err := activity.Start(); err != nil {
		logger.Warn("activity watcher unavailable", zap.Error(err))
		activity = nil
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: rtServer.Handler(),
	}

	// Graceful shutdown on signals.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		logger.Info("shutting down")
		if activity != nil {
			activity.Close()
		}
		registry.Shutdown()
		httpServer.Close()
	}()

	logger.Info("proctor server running", zap.String("addr", addr))
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		logger.Fatal("http server error", zap.Error(err))
	}
}
