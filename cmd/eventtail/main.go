// Command eventtail prints LancerPay domain events from Redis as JSON lines.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"lancerpay/internal/config"
	"lancerpay/internal/events"
	"lancerpay/internal/logging"
)

func main() {
	stream := flag.String("stream", events.Stream, "pub/sub channel to follow")
	only := flag.String("type", "", "only print events of this type")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	if cfg.Storage.RedisURL == "" {
		log.Fatal("REDIS_URL is required")
	}

	logger, err := logging.New(cfg.Service.LogLevel)
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	redisOpts, err := redis.ParseURL(cfg.Storage.RedisURL)
	if err != nil {
		logger.Fatal("redis url", zap.Error(err))
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	enc := json.NewEncoder(os.Stdout)
	sub := events.NewRedisSubscriber(rdb, logger)
	err = sub.Subscribe(ctx, *stream, func(e events.Event) {
		if *only != "" && e.Type != *only {
			return
		}
		_ = enc.Encode(e)
	})
	if err != nil {
		logger.Fatal("subscribe", zap.String("stream", *stream), zap.Error(err))
	}
	logger.Info("following events", zap.String("stream", *stream))

	<-ctx.Done()
}
