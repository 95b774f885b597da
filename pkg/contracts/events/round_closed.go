package events

import "time"

// Payout é o crédito de uma aposta vencedora
type Payout struct {
	ParticipantID string `json:"participant_id"`
	Stake         uint64 `json:"stake"`
	Amount        uint64 `json:"amount"`
}

// Evento publicado no tópico "round_closed" após cada fechamento
type RoundClosed struct {
	EventID      string    `json:"event_id"`
	Winner       uint8     `json:"winner"`
	StartedAtMs  uint64    `json:"started_at_ms"` // 0 quando a rodada fechou sem apostas
	TotalStaked  uint64    `json:"total_staked"`
	WinnersTotal uint64    `json:"winners_total"`
	LosersTotal  uint64    `json:"losers_total"`
	PaidOut      uint64    `json:"paid_out"`
	Payouts      []Payout  `json:"payouts"`
	ClosedAt     time.Time `json:"closed_at"`
}
