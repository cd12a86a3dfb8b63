package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/siid-ide/update-agent/internal/bridge"
	"github.com/siid-ide/update-agent/internal/config"
	"github.com/siid-ide/update-agent/internal/driver"
	"github.com/siid-ide/update-agent/internal/logging"
	"github.com/siid-ide/update-agent/internal/scheduler"
	"github.com/siid-ide/update-agent/internal/telemetry"
	"github.com/siid-ide/update-agent/internal/update"
)

func runDaemon() {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logging.Init(cfg.LogFormat, cfg.LogLevel, os.Stderr)
	log := logging.L("daemon")

	for _, err := range cfg.Validate() {
		log.Warn("config value clamped", "error", err)
	}

	cachePath := cfg.CachePath
	if cachePath == "" {
		cachePath = config.DefaultCacheDir(cfg.Quality)
	}

	drv := driver.New(driver.Options{
		CachePath:   cachePath,
		InstallPath: cfg.InstallPath,
		Target:      cfg.Target,
	})

	sched, err := scheduler.New()
	if err != nil {
		log.Error("could not create scheduler", "error", err)
		os.Exit(1)
	}

	machine := update.NewMachine(update.Options{
		Config:         cfg,
		Driver:         drv,
		Report:         telemetry.NewReporter(),
		Sched:          sched,
		CurrentVersion: cfg.CurrentVersion,
		DevBuild:       release == "",
	})
	machine.Initialize()

	listener, err := bridge.Listen(socket())
	if err != nil {
		log.Error("could not bind bridge socket", "error", err)
		os.Exit(1)
	}

	server := bridge.NewServer(machine, listener)
	serveErr := make(chan error, 1)
	go func() { serveErr <- server.Serve() }()

	log.Info("update daemon started",
		"version", version,
		"quality", cfg.Quality,
		"mode", cfg.Mode,
		"platform", drv.Platform(),
		"cache", cachePath)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info("shutting down", "signal", sig.String())
	case err := <-serveErr:
		if err != nil {
			log.Error("bridge server failed", "error", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Warn("bridge shutdown incomplete", "error", err)
	}
	if err := sched.Shutdown(); err != nil {
		log.Warn("scheduler shutdown incomplete", "error", err)
	}
}
