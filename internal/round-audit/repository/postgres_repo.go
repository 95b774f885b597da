package repository

import (
	"context"
	"database/sql"

	"github.com/radieske/pooled-bet-round/pkg/contracts/events"
)

// PostgresRepo persiste o histórico de rodadas fechadas
// DB: conexão com o banco de dados
type PostgresRepo struct {
	DB *sql.DB
}

// NewPostgresRepo retorna uma instância de repositório Postgres
func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{DB: db}
}

// SaveRound grava o resultado e os prêmios em uma transação.
// Idempotente por event_id: reentregas do Kafka não duplicam linhas.
func (r *PostgresRepo) SaveRound(ctx context.Context, e events.RoundClosed) (inserted bool, err error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	// uint64 não cabe em BIGINT; colunas de valor são NUMERIC(20,0)
	const qRound = `
		INSERT INTO round_results
		  (event_id, winner, started_at_ms, total_staked, winners_total, losers_total, paid_out, closed_at)
		VALUES
		  ($1,$2,$3,$4::numeric,$5::numeric,$6::numeric,$7::numeric,$8)
		ON CONFLICT (event_id) DO NOTHING
	`
	res, err := tx.ExecContext(ctx, qRound,
		e.EventID, int(e.Winner), u64(e.StartedAtMs),
		u64(e.TotalStaked), u64(e.WinnersTotal), u64(e.LosersTotal), u64(e.PaidOut),
		e.ClosedAt,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil // já gravado
	}

	const qPayout = `
		INSERT INTO round_payouts (event_id, participant_id, stake, amount)
		VALUES ($1,$2,$3::numeric,$4::numeric)
	`
	for _, p := range e.Payouts {
		if _, err = tx.ExecContext(ctx, qPayout, e.EventID, p.ParticipantID, u64(p.Stake), u64(p.Amount)); err != nil {
			return false, err
		}
	}

	if err = tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}
