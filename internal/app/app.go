// Package app opens the configured stores, queue and services for a process.
package app

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/michaelbrown/crucible/internal/blob"
	"github.com/michaelbrown/crucible/internal/config"
	"github.com/michaelbrown/crucible/internal/lang"
	"github.com/michaelbrown/crucible/internal/logging"
	"github.com/michaelbrown/crucible/internal/metrics"
	"github.com/michaelbrown/crucible/internal/queue"
	"github.com/michaelbrown/crucible/internal/sandbox"
	"github.com/michaelbrown/crucible/internal/storage"
	"github.com/michaelbrown/crucible/internal/storage/postgres"
	"github.com/michaelbrown/crucible/internal/storage/sqlite"
	"github.com/michaelbrown/crucible/internal/submission"
	"github.com/michaelbrown/crucible/internal/worker"
)

// App holds everything a command needs, opened from config.
type App struct {
	Config    *config.Config
	Log       *logrus.Logger
	Store     storage.Store
	Blobs     blob.Store
	Queue     queue.Queue
	Languages *lang.Registry
	Metrics   *metrics.Metrics
	Service   *submission.Service

	closers []func() error
}

// Open loads config from configPath and connects every backend. consumer
// names this process in the queue consumer group when config leaves it
// empty; a random name is used when both are empty.
func Open(ctx context.Context, configPath, consumer string) (*App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	log, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	if cfg.Queue.Consumer == "" {
		cfg.Queue.Consumer = consumer
	}

	a := &App{
		Config:    cfg,
		Log:       log,
		Languages: lang.Default(),
		Metrics:   metrics.New(),
	}
	if err := a.open(ctx); err != nil {
		a.Close()
		return nil, err
	}
	a.Service = submission.NewService(a.Store, a.Blobs, a.Queue, a.Languages, a.Metrics, log)
	return a, nil
}

func (a *App) open(ctx context.Context) error {
	switch a.Config.Storage.Driver {
	case "postgres":
		store, err := postgres.Open(ctx, a.Config.Storage.PostgresDSN, a.Config.Storage.MaxConns)
		if err != nil {
			return fmt.Errorf("opening postgres: %w", err)
		}
		a.Store = store
	default:
		store, err := sqlite.Open(a.Config.Storage.SQLitePath)
		if err != nil {
			return fmt.Errorf("opening sqlite: %w", err)
		}
		a.Store = store
	}
	a.closers = append(a.closers, a.Store.Close)

	switch a.Config.Blob.Driver {
	case "redis":
		rdb, err := a.redisClient(a.Config.Blob.RedisURL)
		if err != nil {
			return fmt.Errorf("blob store: %w", err)
		}
		a.Blobs = blob.NewRedis(rdb, a.Config.Blob.Prefix)
	default:
		blobs, err := blob.NewFS(a.Config.Blob.Dir)
		if err != nil {
			return err
		}
		a.Blobs = blobs
	}

	switch a.Config.Queue.Driver {
	case "memory":
		a.Queue = queue.NewMemory()
	default:
		rdb, err := a.redisClient(a.Config.Queue.RedisURL)
		if err != nil {
			return fmt.Errorf("queue: %w", err)
		}
		consumer := a.Config.Queue.Consumer
		if consumer == "" {
			consumer = "worker-" + uuid.NewString()
		}
		q, err := queue.NewRedis(ctx, rdb, a.Config.Queue.Stream, a.Config.Queue.Group, consumer)
		if err != nil {
			return err
		}
		q.ClaimIdle = a.Config.Queue.ClaimIdle
		a.Queue = q
	}
	return nil
}

func (a *App) redisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	a.closers = append(a.closers, rdb.Close)
	return rdb, nil
}

// NewWorker builds a worker running jobs in the configured docker sandbox.
func (a *App) NewWorker() *worker.Worker {
	sb := sandbox.NewDockerSandbox(a.Config.Sandbox.Policy(), a.Config.Sandbox.Docker, a.Log)
	return worker.New(worker.Config{
		BatchSize:    a.Config.Worker.BatchSize,
		WaitTime:     a.Config.Worker.WaitTime,
		ErrorBackoff: a.Config.Worker.ErrorBackoff,
		ScratchDir:   a.Config.Worker.ScratchDir,
		Image:        a.Config.Sandbox.Image,
	}, worker.Deps{
		Queue:     a.Queue,
		Blobs:     a.Blobs,
		Store:     a.Store,
		Languages: a.Languages,
		Sandbox:   sb,
		Metrics:   a.Metrics,
		Log:       a.Log,
	})
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Log.WithError(err).Warn("close failed")
		}
	}
}
