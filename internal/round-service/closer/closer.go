package closer

import (
	"context"
	"errors"
	"time"

	"github.com/coder/quartz"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/radieske/pooled-bet-round/internal/round-service/ledger"
	"github.com/radieske/pooled-bet-round/internal/round-service/metrics"
	"github.com/radieske/pooled-bet-round/internal/round-service/round"
	"github.com/radieske/pooled-bet-round/internal/round-service/snapshot"
	"github.com/radieske/pooled-bet-round/internal/round-service/state"
	"github.com/radieske/pooled-bet-round/pkg/contracts/events"
)

// Notifier recebe o resultado de cada rodada fechada (Kafka, WebSocket...)
type Notifier interface {
	PublishRoundClosed(ctx context.Context, e events.RoundClosed) error
}

// Closer fecha rodadas e grava checkpoints do snapshot.
// Garante no máximo um fechamento por vez; o App serializa o resto.
type Closer struct {
	Log       *zap.Logger
	App       *state.App
	Store     snapshot.Store
	Clock     quartz.Clock
	Metrics   *metrics.Metrics
	Notifiers map[string]Notifier // nome do destino -> notifier

	RoundInterval      time.Duration // 0 = só fecha sob demanda
	CheckpointInterval time.Duration // 0 = só no shutdown
}

// CloseRound fecha a rodada, grava o checkpoint e só então propaga o resultado.
// Falhas de checkpoint ou de propagação são logadas e não desfazem o fechamento.
func (c *Closer) CloseRound(ctx context.Context) (events.RoundClosed, error) {
	st, err := c.App.CloseRound()
	if err != nil {
		return events.RoundClosed{}, err
	}

	// o store precisa ter o estado liquidado antes de qualquer anúncio
	if err := c.Checkpoint(ctx); err != nil {
		c.Log.Error("checkpoint after close failed", zap.Error(err))
	}

	ev := ToEvent(st, c.Clock.Now())
	if c.Metrics != nil {
		c.Metrics.RoundsClosed.Inc()
		c.Metrics.PaidOut.Add(float64(ev.PaidOut))
		c.Metrics.Supply.Set(float64(c.App.Supply()))
		c.Metrics.TotalStaked.Set(0)
	}

	for name, n := range c.Notifiers {
		if err := n.PublishRoundClosed(ctx, ev); err != nil {
			c.Log.Warn("round_closed publish failed", zap.String("sink", name), zap.Error(err))
			if c.Metrics != nil {
				c.Metrics.NotifyErrors.WithLabelValues(name).Inc()
			}
		}
	}
	return ev, nil
}

// Checkpoint grava o snapshot corrente no store
func (c *Closer) Checkpoint(ctx context.Context) error {
	blob, err := c.App.SnapshotSave()
	if err == nil {
		err = c.Store.Save(ctx, blob)
	}
	if c.Metrics != nil {
		result := "ok"
		if err != nil {
			result = "error"
		}
		c.Metrics.Checkpoints.WithLabelValues(result).Inc()
	}
	if err != nil {
		return err
	}
	c.Log.Debug("checkpoint saved", zap.Int("bytes", len(blob)))
	return nil
}

// Restore carrega o snapshot do store na subida.
// Ausente ou corrompido: segue com estado vazio. Sem config: restaura o resto,
// loga em nível de erro e reestabelece o controlador de boot.
func (c *Closer) Restore(ctx context.Context, bootController string) error {
	blob, err := c.Store.Load(ctx)
	if err != nil && !errors.Is(err, snapshot.ErrMissingSnapshot) {
		// store indisponível: não dá para distinguir de "sem snapshot", recusa subir
		return err
	}

	err = c.App.SnapshotRestore(blob)
	switch {
	case err == nil:
	case errors.Is(err, snapshot.ErrMissingSnapshot):
		c.Log.Info("no snapshot found, starting empty")
	case errors.Is(err, snapshot.ErrMissingConfig):
		c.Log.Error("controller lost from snapshot", zap.String("bootstrap_controller", bootController))
	default:
		c.Log.Error("snapshot unreadable, starting empty", zap.Error(err))
	}

	if c.App.EnsureController(ledger.ParticipantID(bootController)) {
		c.Log.Info("controller established", zap.String("controller", bootController))
	}
	if c.Metrics != nil {
		c.Metrics.Supply.Set(float64(c.App.Supply()))
		c.Metrics.TotalStaked.Set(float64(c.App.TotalStaked()))
	}
	return nil
}

// Run fecha rodadas a cada RoundInterval e grava checkpoints a cada CheckpointInterval.
// Ao cancelar ctx grava um checkpoint final antes de sair.
func (c *Closer) Run(ctx context.Context) error {
	var roundC, checkpointC <-chan time.Time
	if c.RoundInterval > 0 {
		t := c.Clock.NewTicker(c.RoundInterval, "closer", "round")
		defer t.Stop()
		roundC = t.C
	}
	if c.CheckpointInterval > 0 {
		t := c.Clock.NewTicker(c.CheckpointInterval, "closer", "checkpoint")
		defer t.Stop()
		checkpointC = t.C
	}

	for {
		select {
		case <-ctx.Done():
			// contexto novo: o de Run já foi cancelado
			fctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := c.Checkpoint(fctx); err != nil {
				c.Log.Error("final checkpoint failed", zap.Error(err))
				return err
			}
			c.Log.Info("final checkpoint saved")
			return ctx.Err()
		case <-roundC:
			if _, err := c.CloseRound(ctx); err != nil {
				c.Log.Error("round close failed", zap.Error(err))
			}
		case <-checkpointC:
			if err := c.Checkpoint(ctx); err != nil {
				c.Log.Warn("checkpoint failed", zap.Error(err))
			}
		}
	}
}

// ToEvent converte o fechamento no contrato publicado
func ToEvent(st round.Settlement, closedAt time.Time) events.RoundClosed {
	ev := events.RoundClosed{
		EventID:      uuid.NewString(),
		Winner:       uint8(st.Winner),
		StartedAtMs:  st.StartedAt,
		TotalStaked:  st.TotalStaked,
		WinnersTotal: st.WinnersTotal,
		LosersTotal:  st.LosersTotal,
		PaidOut:      st.PaidOut(),
		Payouts:      make([]events.Payout, 0, len(st.Payouts)),
		ClosedAt:     closedAt.UTC(),
	}
	for _, p := range st.Payouts {
		ev.Payouts = append(ev.Payouts, events.Payout{ParticipantID: string(p.Participant), Stake: p.Stake, Amount: p.Amount})
	}
	return ev
}
