package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/acme/voice-dialer/internal/app"
	"github.com/acme/voice-dialer/internal/realtime"
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

	shutdown, err := telemetry.Setup(ctx, container.Config.Telemetry, container.Config.App.Name+"-realtime")
	if err != nil {
		log.Fatalf("failed to initialize telemetry: %v", err)
	}
	defer func() { _ = shutdown(context.Background()) }()

	if err := container.EnsureTopics(ctx); err != nil {
		log.Fatalf("failed to ensure kafka topics: %v", err)
	}

	cfg := container.Config
	auth, err := realtime.NewAuthenticator(cfg.Realtime)
	if err != nil {
		log.Fatalf("failed to build authenticator: %v", err)
	}
	policy, err := realtime.NewPolicy()
	if err != nil {
		log.Fatalf("failed to load room policy: %v", err)
	}

	lg := container.Logger.Named("realtime")
	hub := realtime.NewHub(realtime.HubDeps{
		Policy:  policy,
		Events:  container.Events(),
		Metrics: realtime.NewMetrics(container.Metrics),
		Config:  cfg.Realtime,
		Logger:  lg,
	})

	// Every replica tails the whole topic so each socket sees every event.
	reader := container.Kafka.NewTailReader(cfg.Kafka.EventsTopic, consumerGroup(cfg.Kafka.ConsumerGroupID))
	consumer := realtime.NewConsumer(reader, hub, lg)
	server := realtime.NewServer(cfg.Realtime, hub, auth, container.Metrics, lg)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return hub.Run(gctx) })
	g.Go(func() error { return consumer.Run(gctx) })
	g.Go(func() error { return server.Run(gctx) })

	if err := g.Wait(); err != nil {
		lg.Error("realtime terminated", zap.Error(err))
	}
}

func consumerGroup(base string) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "local"
	}
	return base + "-realtime-" + host
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
