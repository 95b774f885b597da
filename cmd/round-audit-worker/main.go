package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/radieske/pooled-bet-round/internal/round-audit/consumer"
	"github.com/radieske/pooled-bet-round/internal/round-audit/repository"
	"github.com/radieske/pooled-bet-round/internal/shared/config"
	"github.com/radieske/pooled-bet-round/internal/shared/db"
	"github.com/radieske/pooled-bet-round/internal/shared/kafka"
	"github.com/radieske/pooled-bet-round/internal/shared/logger"
	"github.com/radieske/pooled-bet-round/internal/shared/metrics"
)

func main() {
	cfg, cfgErr := config.Load()
	if cfg.ServiceName == "" {
		cfg.ServiceName = "round-audit-worker"
	}
	log, err := logger.New(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	if err != nil {
		panic(fmt.Errorf("logger init: %w", err))
	}
	defer log.Sync()
	if cfgErr != nil {
		log.Fatal("invalid configuration", zap.Error(cfgErr))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pg, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("postgres connect", zap.Error(err))
	}
	defer pg.Close()

	// consumer group round-audit, commit manual após gravar
	reader := kafka.NewReader(cfg.KafkaBrokers, cfg.TopicRoundClosed, "round-audit")
	defer reader.Close()
	dlq := kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicRoundClosedDLQ)
	defer dlq.Close()

	// Métricas Prometheus para monitoramento do processamento
	reg := prometheus.NewRegistry()
	consumed := prometheus.NewCounter(prometheus.CounterOpts{Name: "round_audit_messages_consumed_total", Help: "mensagens consumidas"})
	persist := prometheus.NewCounter(prometheus.CounterOpts{Name: "round_audit_db_writes_total", Help: "rodadas gravadas"})
	dupes := prometheus.NewCounter(prometheus.CounterOpts{Name: "round_audit_duplicates_total", Help: "eventos já gravados"})
	errorsBy := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "round_audit_errors_total", Help: "erros por estágio"}, []string{"stage"})
	reg.MustRegister(consumed, persist, dupes, errorsBy)

	proc := &consumer.Processor{
		Log:         log,
		Reader:      reader,
		Repo:        repository.NewPostgresRepo(pg),
		DLQ:         dlq,
		OnConsumed:  func() { consumed.Inc() },
		OnPersist:   func() { persist.Inc() },
		OnDuplicate: func() { dupes.Inc() },
		OnError:     func(stage string) { errorsBy.WithLabelValues(stage).Inc() },
	}

	msrv := metrics.StartMetricsServer(log, cfg.MetricsPort, reg,
		metrics.HealthCheck{Name: "postgres", Check: pg.PingContext},
	)
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer scancel()
		_ = msrv.Shutdown(sctx)
	}()

	log.Info("round-audit-worker started", zap.String("topic", cfg.TopicRoundClosed))
	if err := proc.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatal("processor stopped with error", zap.Error(err))
	}
	log.Info("round-audit-worker stopped")
}
