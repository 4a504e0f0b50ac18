// orchestratord consumes job-start messages and runs jobs through their
// worker plans. Scale out by running more instances; the consumer group
// splits deliveries between them.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/careerassist-ai/careerassist/internal/common"
	"github.com/careerassist-ai/careerassist/internal/llm"
	"github.com/careerassist-ai/careerassist/internal/metrics"
	"github.com/careerassist-ai/careerassist/internal/orchestrator"
	"github.com/careerassist-ai/careerassist/internal/queue"
	"github.com/careerassist-ai/careerassist/internal/reconciler"
	"github.com/careerassist-ai/careerassist/internal/repository"
	"github.com/careerassist-ai/careerassist/internal/workers"
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
	client := llm.NewClientFromConfig(cfg.LLM, log)

	orch := orchestrator.New(store, q, orchestrator.Workers{
		Extractor:   workers.NewLLMExtractor(client, log),
		Analyzer:    workers.NewLLMAnalyzer(client, log),
		Interviewer: workers.NewLLMInterviewer(client, log),
		Charter:     workers.NewAggregatingCharter(log),
	}, log,
		orchestrator.WithConsumers(cfg.Orchestrator.Consumers),
		orchestrator.WithStageTimeout(cfg.Orchestrator.StageTimeout),
		orchestrator.WithMetrics(m),
	)

	sweeper := reconciler.NewSweeper(store, log, m, cfg.Orchestrator.SweepInterval, cfg.Orchestrator.SweepAfter)
	go sweeper.Run(ctx)

	// Metrics-only listener; this process has no API surface.
	metricsSrv := &http.Server{Addr: cfg.Orchestrator.MetricsAddr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics listener failed", "error", err)
		}
	}()
	defer metricsSrv.Close()

	log.Info("orchestrator starting",
		"consumers", cfg.Orchestrator.Consumers,
		"consumer_id", q.ConsumerID(),
		"stream", cfg.Queue.Stream,
	)
	orch.Run(ctx)
	log.Info("orchestratord stopped")
}
