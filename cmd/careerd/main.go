// careerd is the HTTP intake and status service. It persists jobs and
// enqueues start messages; the orchestratord process does the actual work.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/careerassist-ai/careerassist/internal/common"
	"github.com/careerassist-ai/careerassist/internal/metrics"
	"github.com/careerassist-ai/careerassist/internal/queue"
	"github.com/careerassist-ai/careerassist/internal/repository"
	"github.com/careerassist-ai/careerassist/internal/server"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	cfg := common.LoadConfig()
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := repository.Open(ctx, cfg.Database, log)
	if err != nil {
		log.Error("open database failed", "error", err)
		os.Exit(1)
	}
	defer repository.Close(pool, log)
	if err := repository.HealthCheck(ctx, pool, cfg.Database.HealthTimeout, log); err != nil {
		log.Error("database health check failed", "error", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	m := metrics.New(reg)

	q, err := queue.NewRedisQueue(ctx, cfg.Queue, log, m)
	if err != nil {
		log.Error("connect queue failed", "error", err)
		os.Exit(1)
	}
	defer q.Close()

	store := repository.NewJobStore(pool, log)
	health := server.HealthFunc(func(ctx context.Context) error {
		return repository.HealthCheck(ctx, pool, cfg.Database.HealthTimeout, log)
	})
	srv := server.New(cfg.Server, store, q, health, log, reg)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if err != nil {
			log.Error("http server failed", "error", err)
			os.Exit(1)
		}
	case <-ctx.Done():
		log.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("http shutdown failed", "error", err)
		}
	}
	log.Info("careerd stopped")
}
