package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/acme/voice-dialer/internal/api"
	"github.com/acme/voice-dialer/internal/api/handlers"
	"github.com/acme/voice-dialer/internal/app"
	"github.com/acme/voice-dialer/internal/telemetry"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	configPath := flag.String("config", getEnv("CONFIG_FILE", "configs/config.yaml"), "path to configuration file")
	flag.Parse()

	container, err := app.Build(ctx, *configPath)
	if err != nil {
		log.Fatalf("failed to bootstrap application: %v", err)
	}
	defer container.Close(context.Background())

	shutdown, err := telemetry.Setup(ctx, container.Config.Telemetry, container.Config.App.Name+"-api")
	if err != nil {
		log.Fatalf("failed to initialize telemetry: %v", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	if err := container.EnsureTopics(ctx); err != nil {
		log.Fatalf("failed to ensure kafka topics: %v", err)
	}

	services := container.Services()
	handlerSet := handlers.NewHandlerSet(handlers.Deps{
		Campaigns: services.Campaign,
		Calls:     services.Call,
		Ingress:   container.Ingress(),
		Checks:    container.HealthChecks(),
		Gatherer:  container.Metrics,
		Logger:    container.Logger.Named("http"),
	})

	server := api.NewServer(container.Config.HTTP, handlerSet)
	container.Logger.Info("api listening", zap.Int("port", container.Config.HTTP.Port))
	if err := server.Start(ctx); err != nil {
		container.Logger.Error("server terminated", zap.Error(err))
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
