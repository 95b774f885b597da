package ws

import "github.com/radieske/pooled-bet-round/pkg/contracts/events"

// ClientMsg representa uma mensagem recebida do cliente WebSocket
// Type: subscribe | unsubscribe | ping
// Topic: "*" para todas as rodadas ou o próprio participantId (X-Participant-Id do upgrade)
type ClientMsg struct {
	Type  string `json:"type"`
	Topic string `json:"topic"`
}

// AllRounds recebe o resultado completo de cada rodada
const AllRounds = "*"

// ServerMsg é enviado aos clientes inscritos
type ServerMsg struct {
	Type   string              `json:"type"` // round_closed | payout | pong | error
	Round  *events.RoundClosed `json:"round,omitempty"`
	Payout *events.Payout      `json:"payout,omitempty"`
	Winner *uint8              `json:"winner,omitempty"`
	Error  string              `json:"error,omitempty"`
}
