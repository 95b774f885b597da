package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics agrupa os coletores do round-service
type Metrics struct {
	BetsPlaced   prometheus.Counter
	BetsRejected *prometheus.CounterVec // por motivo
	AmountStaked prometheus.Counter
	RoundsClosed prometheus.Counter
	PaidOut      prometheus.Counter
	Supply       prometheus.Gauge
	TotalStaked  prometheus.Gauge
	Checkpoints  *prometheus.CounterVec // por resultado
	NotifyErrors *prometheus.CounterVec // por destino
}

// New cria e registra os coletores em reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BetsPlaced:   prometheus.NewCounter(prometheus.CounterOpts{Name: "round_bets_placed_total", Help: "apostas aceitas"}),
		BetsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{Name: "round_bets_rejected_total", Help: "apostas rejeitadas por motivo"}, []string{"reason"}),
		AmountStaked: prometheus.NewCounter(prometheus.CounterOpts{Name: "round_amount_staked_total", Help: "valor apostado acumulado"}),
		RoundsClosed: prometheus.NewCounter(prometheus.CounterOpts{Name: "round_closed_total", Help: "rodadas fechadas"}),
		PaidOut:      prometheus.NewCounter(prometheus.CounterOpts{Name: "round_paid_out_total", Help: "valor creditado em prêmios"}),
		Supply:       prometheus.NewGauge(prometheus.GaugeOpts{Name: "ledger_supply", Help: "supply corrente do ledger"}),
		TotalStaked:  prometheus.NewGauge(prometheus.GaugeOpts{Name: "round_total_staked", Help: "total apostado na rodada corrente"}),
		Checkpoints:  prometheus.NewCounterVec(prometheus.CounterOpts{Name: "round_checkpoints_total", Help: "checkpoints de snapshot por resultado"}, []string{"result"}),
		NotifyErrors: prometheus.NewCounterVec(prometheus.CounterOpts{Name: "round_notify_errors_total", Help: "falhas ao propagar fechamento"}, []string{"sink"}),
	}
	reg.MustRegister(
		m.BetsPlaced, m.BetsRejected, m.AmountStaked, m.RoundsClosed, m.PaidOut,
		m.Supply, m.TotalStaked, m.Checkpoints, m.NotifyErrors,
	)
	return m
}
