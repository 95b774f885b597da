package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/coder/quartz"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/radieske/pooled-bet-round/internal/round-service/closer"
	rhttp "github.com/radieske/pooled-bet-round/internal/round-service/http"
	"github.com/radieske/pooled-bet-round/internal/round-service/ledger"
	rmetrics "github.com/radieske/pooled-bet-round/internal/round-service/metrics"
	"github.com/radieske/pooled-bet-round/internal/round-service/producer"
	"github.com/radieske/pooled-bet-round/internal/round-service/snapshot"
	"github.com/radieske/pooled-bet-round/internal/round-service/state"
	"github.com/radieske/pooled-bet-round/internal/round-service/ws"
	"github.com/radieske/pooled-bet-round/internal/shared/cache"
	"github.com/radieske/pooled-bet-round/internal/shared/config"
	"github.com/radieske/pooled-bet-round/internal/shared/kafka"
	"github.com/radieske/pooled-bet-round/internal/shared/logger"
	"github.com/radieske/pooled-bet-round/internal/shared/metrics"
)

func main() {
	cfg, cfgErr := config.Load()
	if cfg.ServiceName == "" {
		cfg.ServiceName = "round-service"
	}
	log, err := logger.New(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	if err != nil {
		panic(fmt.Errorf("logger init: %w", err))
	}
	defer log.Sync()
	if cfgErr != nil {
		log.Fatal("invalid configuration", zap.Error(cfgErr))
	}

	// Sinalização para shutdown gracioso (SIGINT/SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Redis guarda o snapshot
	rdb, err := cache.ConnectRedis(ctx, cfg.RedisAddr)
	if err != nil {
		log.Fatal("redis connect", zap.Error(err))
	}
	defer rdb.Close()
	store := snapshot.NewRedisStore(rdb, cfg.SnapshotKey)

	// Kafka writer (topic round_closed)
	writer := kafka.NewWriter(cfg.KafkaBrokers, cfg.TopicRoundClosed)
	defer writer.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := rmetrics.New(reg)

	clock := quartz.NewReal()
	app := state.New(log, clock, snapshot.Config{
		ControllerID: ledger.ParticipantID(cfg.ControllerID),
		FeeRatio:     cfg.FeeRatio,
	})

	// WebSocket para resultados ao vivo
	hub := ws.NewHub(func(r *http.Request) bool { return true })

	c := &closer.Closer{
		Log:     log,
		App:     app,
		Store:   store,
		Clock:   clock,
		Metrics: m,
		Notifiers: map[string]closer.Notifier{
			"kafka": producer.NewKafkaPublisher(writer, cfg.TopicRoundClosed),
			"ws":    hub,
		},
		RoundInterval:      cfg.RoundInterval,
		CheckpointInterval: cfg.CheckpointInterval,
	}
	if err := c.Restore(ctx, cfg.ControllerID); err != nil {
		log.Fatal("snapshot restore", zap.Error(err))
	}
	if app.Config().ControllerID == "" {
		log.Warn("no controller configured, privileged routes will reject every caller")
	}

	msrv := metrics.StartMetricsServer(log, cfg.MetricsPort, reg,
		metrics.HealthCheck{Name: "redis", Check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() }},
	)

	// HTTP público
	api := rhttp.NewServer(log, app, c, hub, m)
	apiSrv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.HTTPPort),
		Handler:           api.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("round-service listening", zap.String("addr", apiSrv.Addr))
		if err := apiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("api", zap.Error(err))
			cancel()
		}
	}()

	log.Info("round closer started",
		zap.Duration("round_interval", cfg.RoundInterval),
		zap.Duration("checkpoint_interval", cfg.CheckpointInterval),
	)
	runErr := c.Run(ctx)

	// para de aceitar requisições depois do checkpoint final
	sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer scancel()
	_ = apiSrv.Shutdown(sctx)
	_ = msrv.Shutdown(sctx)

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Fatal("closer stopped with error", zap.Error(runErr))
	}
	log.Info("round-service stopped")
}
