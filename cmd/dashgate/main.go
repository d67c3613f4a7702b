package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/TONwisdomyang/crypto-stock-tracker/datafetch"
	"github.com/TONwisdomyang/crypto-stock-tracker/internal/config"
)

func main() {
	configPath := flag.String("config", os.Getenv(config.EnvConfigPath), "path to the YAML configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(datafetch.GetVersion())
		return
	}

	root, err := NewCompositionRoot(*configPath)
	if err != nil {
		fmt.Printf("Failed to initialize application: %v\n", err)
		os.Exit(1)
	}

	defer func() {
		if err := root.Cleanup(); err != nil {
			root.Logger.Error("Failed to cleanup resources", zap.Error(err))
		}
	}()

	root.Logger.Info("Starting dashgate", zap.Any("version", datafetch.GetVersionInfo()))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go root.Preloader.Start(ctx)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- root.HTTPServer.Start()
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			root.Logger.Error("Server failed", zap.Error(err))
		}
	}

	root.Logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), root.Config.Server.ShutdownTimeout)
	defer cancel()

	if err := root.HTTPServer.Stop(shutdownCtx); err != nil {
		root.Logger.Error("HTTP server forced to shutdown", zap.Error(err))
	}

	root.Logger.Info("Server exited")
}
