package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"lancerpay/internal/config"
	"lancerpay/internal/escrow"
	"lancerpay/internal/events"
	"lancerpay/internal/idempotency"
	"lancerpay/internal/lancerpay"
	"lancerpay/internal/logging"
	"lancerpay/internal/network"
	"lancerpay/internal/server"
	"lancerpay/internal/wallet"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger, err := logging.New(cfg.Service.LogLevel)
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer func() { _ = logger.Sync() }()
	cfg.Validate(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := lancerpay.Options{
		Bridge: cfg.Bridge,
		Retry:  cfg.Retry,
		Log:    logger,
	}

	var idemStore idempotency.Store
	if cfg.Storage.PostgresDSN != "" {
		pool, err := pgxpool.New(ctx, cfg.Storage.PostgresDSN)
		if err != nil {
			logger.Fatal("postgres pool", zap.Error(err))
		}
		defer pool.Close()

		walletStore, err := wallet.NewPostgresStore(ctx, pool)
		if err != nil {
			logger.Fatal("wallet store", zap.Error(err))
		}
		escrowStore, err := escrow.NewPostgresStore(ctx, pool)
		if err != nil {
			logger.Fatal("escrow store", zap.Error(err))
		}
		pgIdem, err := idempotency.NewPostgresStore(ctx, pool)
		if err != nil {
			logger.Fatal("idempotency store", zap.Error(err))
		}
		opts.Wallets = walletStore
		opts.Escrows = escrowStore
		idemStore = pgIdem
	} else {
		fileStore, err := idempotency.NewFileStore(cfg.Service.IdempotencyStorePath)
		if err != nil {
			logger.Fatal("idempotency store", zap.Error(err))
		}
		idemStore = fileStore
	}
	opts.Idempotency = idemStore

	if cfg.Storage.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.Storage.RedisURL)
		if err != nil {
			logger.Fatal("redis url", zap.Error(err))
		}
		rdb := redis.NewClient(redisOpts)
		defer rdb.Close()
		opts.Publisher = events.NewRedisPublisher(rdb, logger.Named("events"))
	}

	net, err := newNetwork(ctx, cfg.Chain)
	if err != nil {
		logger.Fatal("network client", zap.Error(err))
	}
	opts.Network = net

	svc := lancerpay.New(opts)
	if err := svc.Initialize(ctx); err != nil {
		logger.Fatal("initialize", zap.Error(err))
	}

	apiServer := server.NewServer(cfg.Service, svc, idemStore, logger.Named("http"))

	go func() {
		if err := apiServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Service.ShutdownTimeout)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", zap.Error(err))
		os.Exit(1)
	}
}

func newNetwork(ctx context.Context, chain config.ChainConfig) (network.Client, error) {
	if chain.Mode != "rpc" {
		return network.NewSimClient(chain.ConfirmAfter), nil
	}
	return network.NewEthClient(ctx, network.EthClientConfig{
		RPCURL:  chain.RPCURL,
		Timeout: chain.RPCTimeout,
		Network: network.DefaultConfig(),
	})
}
