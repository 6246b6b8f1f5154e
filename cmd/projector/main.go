package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/ariefcatur/go-restaurant-backend/internal/config"
	"github.com/ariefcatur/go-restaurant-backend/internal/events"
	kafkax "github.com/ariefcatur/go-restaurant-backend/internal/kafka"
	"github.com/ariefcatur/go-restaurant-backend/internal/logx"
	"github.com/ariefcatur/go-restaurant-backend/internal/projector"
	"github.com/ariefcatur/go-restaurant-backend/internal/redisx"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		boot := logx.New("restaurant-projector", "info")
		boot.Fatal().Err(err).Msg("config")
	}
	name := cfg.ServiceName + "-projector"
	log := logx.New(name, cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("redis ping")
	}

	svc := &projector.Service{
		Redis:       rdb,
		Cache:       redisx.NewStatusCache(rdb),
		Log:         log,
		ServiceName: name,
	}

	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.ProjectorGroup, events.StatusTopics, cfg.ProjectorWorkers, log)
	done := make(chan struct{})
	go func() {
		defer close(done)
		log.Info().Str("group", cfg.ProjectorGroup).Strs("topics", events.StatusTopics).
			Int("workers", cfg.ProjectorWorkers).Msg("projector started")
		if err := cons.Start(ctx, svc.Handle); err != nil {
			log.Error().Err(err).Msg("consumer exit")
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	log.Info().Msg("shutting down consumer")
	cancel()
	<-done
}
