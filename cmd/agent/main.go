package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/D0cNet/SiemCore/internal/agent"
	"github.com/D0cNet/SiemCore/internal/bootstrap"
	"github.com/D0cNet/SiemCore/internal/logging"
)

func main() {
	settings, err := bootstrap.Load()
	if err != nil {
		fmt.Printf("Failed to load bootstrap settings: %v\n", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(settings.WorkingDir, 0o750); err != nil {
		fmt.Printf("Failed to create working directory: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(settings.LogLevel, "unconfigured-agent", settings.WorkingDir)
	if err != nil {
		fmt.Printf("Failed to set up logging: %v\n", err)
		os.Exit(1)
	}

	logger.LogSystemEvent("agent_bootstrapped",
		"workingDir", settings.WorkingDir,
		"adminListenAddr", settings.AdminListenAddr)

	agentInstance, err := agent.New(settings, logger)
	if err != nil {
		logger.Error("failed to construct agent", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.LogSystemEvent("shutdown_signal_received", "signal", sig.String())
		cancel()
	}()

	if err := agentInstance.Run(ctx); err != nil {
		logger.Error("agent run failed", "error", err)
		os.Exit(1)
	}
}
