package consumer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/radieske/pooled-bet-round/pkg/contracts/events"
)

// MessageReader é o subconjunto de *kafka.Reader usado pelo processor
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Repo persiste uma rodada; inserted=false quando o evento já existia
type Repo interface {
	SaveRound(ctx context.Context, e events.RoundClosed) (inserted bool, err error)
}

// DLQ recebe mensagens que não puderam ser decodificadas
type DLQ interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Processor consome round_closed do Kafka e grava o histórico no Postgres
// Callbacks de métricas podem ser usadas para monitoramento de cada etapa
type Processor struct {
	Log    *zap.Logger
	Reader MessageReader
	Repo   Repo
	DLQ    DLQ // opcional

	OnConsumed  func()       // métricas (counter++)
	OnPersist   func()       // métricas
	OnDuplicate func()       // métricas
	OnError     func(string) // métricas por fase

	RetryDelay time.Duration
}

// Run inicia o loop principal de consumo. O offset só é commitado depois de gravar
// (ou mandar para a DLQ), então uma falha de banco reprocessa a mensagem.
func (p *Processor) Run(ctx context.Context) error {
	for {
		m, err := p.Reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err() // encerra se o contexto for cancelado
			}
			p.Log.Warn("kafka fetch failed", zap.Error(err))
			p.fail("read")
			p.sleep(ctx)
			continue
		}

		if err := p.Handle(ctx, m); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// não commita: a mensagem volta na próxima busca após rebalance/restart
			p.sleep(ctx)
			continue
		}

		if err := p.Reader.CommitMessages(ctx, m); err != nil {
			p.Log.Warn("kafka commit failed", zap.Error(err))
			p.fail("commit")
		}
	}
}

// Handle processa uma mensagem. Retorna erro somente quando ela deve ser reprocessada.
func (p *Processor) Handle(ctx context.Context, m kafka.Message) error {
	if p.OnConsumed != nil {
		p.OnConsumed() // callback de métrica: mensagem consumida
	}

	var ev events.RoundClosed
	if err := json.Unmarshal(m.Value, &ev); err != nil || ev.EventID == "" {
		p.Log.Warn("invalid round_closed message", zap.Error(err), zap.Int64("offset", m.Offset))
		p.fail("decode")
		if p.DLQ != nil {
			if derr := p.DLQ.WriteMessages(ctx, kafka.Message{Key: m.Key, Value: m.Value}); derr != nil {
				p.Log.Error("dlq write failed", zap.Error(derr))
				p.fail("dlq")
				return derr
			}
		}
		return nil // descarta: reprocessar não vai ajudar
	}

	inserted, err := p.Repo.SaveRound(ctx, ev)
	if err != nil {
		p.Log.Warn("db save round failed", zap.String("event_id", ev.EventID), zap.Error(err))
		p.fail("db")
		return err
	}
	if !inserted {
		p.Log.Debug("round already recorded", zap.String("event_id", ev.EventID))
		if p.OnDuplicate != nil {
			p.OnDuplicate()
		}
		return nil
	}

	p.Log.Info("round recorded",
		zap.String("event_id", ev.EventID),
		zap.Uint8("winner", ev.Winner),
		zap.Int("payouts", len(ev.Payouts)),
	)
	if p.OnPersist != nil {
		p.OnPersist() // callback de métrica: persistência concluída
	}
	return nil
}

func (p *Processor) fail(stage string) {
	if p.OnError != nil {
		p.OnError(stage)
	}
}

func (p *Processor) sleep(ctx context.Context) {
	d := p.RetryDelay
	if d == 0 {
		d = 500 * time.Millisecond
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
