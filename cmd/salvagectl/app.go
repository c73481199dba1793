package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	amqp "github.com/rabbitmq/amqp091-go"
	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/salvage"
	"github.com/xraph/salvage/dlq"
	"github.com/xraph/salvage/kv"
	"github.com/xraph/salvage/kv/natskv"
	redisstore "github.com/xraph/salvage/kv/redis"
	salvageamqp "github.com/xraph/salvage/runtime/amqp"
)

// app holds global flags and the backend factories commands use.
type app struct {
	configPath string
	backend    string
	verbose    bool

	openStore      func(ctx context.Context, cfg salvage.Config, logger *slog.Logger) (kv.Store, func(), error)
	openDispatcher func(ctx context.Context, cfg salvage.Config, logger *slog.Logger) (dlq.Dispatcher, func(), error)
}

func newApp() *app {
	a := &app{}
	a.openStore = a.dialStore
	a.openDispatcher = dialDispatcher
	return a
}

func (a *app) logger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if a.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func (a *app) config() (salvage.Config, error) {
	return salvage.LoadConfig(a.configPath)
}

// session opens the configured store and returns a dlq.Store over it.
func (a *app) session(ctx context.Context, errOut io.Writer) (*dlq.Store, salvage.Config, *slog.Logger, func(), error) {
	cfg, err := a.config()
	if err != nil {
		return nil, cfg, nil, nil, err
	}
	logger := a.logger(errOut)
	store, closeFn, err := a.openStore(ctx, cfg, logger)
	if err != nil {
		return nil, cfg, nil, nil, err
	}
	return dlq.New(store, cfg, dlq.WithLogger(logger)), cfg, logger, closeFn, nil
}

func (a *app) dialStore(ctx context.Context, cfg salvage.Config, logger *slog.Logger) (kv.Store, func(), error) {
	switch a.backend {
	case "redis":
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("connect redis %s: %w", cfg.Redis.Addr, err)
		}
		return redisstore.New(client, redisstore.WithLogger(logger)), func() { _ = client.Close() }, nil

	case "nats":
		nc, err := nats.Connect(cfg.NATS.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect nats %s: %w", cfg.NATS.URL, err)
		}
		js, err := jetstream.New(nc)
		if err != nil {
			nc.Close()
			return nil, nil, fmt.Errorf("jetstream: %w", err)
		}
		store, err := natskv.New(ctx, js, cfg.NATS.Bucket, cfg.RecordTTL, natskv.WithLogger(logger))
		if err != nil {
			nc.Close()
			return nil, nil, err
		}
		return store, nc.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown backend %q (want redis or nats)", a.backend)
	}
}

func dialDispatcher(ctx context.Context, cfg salvage.Config, logger *slog.Logger) (dlq.Dispatcher, func(), error) {
	if cfg.AMQP.URL == "" {
		return nil, nil, fmt.Errorf("%w: amqp.url is required for retry", salvage.ErrNoRuntime)
	}
	conn, err := amqp.Dial(cfg.AMQP.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect amqp: %w", err)
	}
	pub, err := salvageamqp.New(ctx, conn, cfg.AMQP.Exchange, cfg.AMQP.KnownJobs, salvageamqp.WithLogger(logger))
	if err != nil {
		_ = conn.Close()
		return nil, nil, err
	}
	return pub, func() {
		_ = pub.Close()
		_ = conn.Close()
	}, nil
}

