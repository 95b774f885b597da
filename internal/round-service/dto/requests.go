package dto

// PlaceBetRequest: o participante vem do header X-Participant-Id
type PlaceBetRequest struct {
	Outcome int    `json:"outcome"` // 0..255
	Amount  uint64 `json:"amount"`
}

type DepositRequest struct {
	ParticipantID string `json:"participantId"`
	Amount        uint64 `json:"amount"`
}

type WithdrawRequest struct {
	Amount uint64 `json:"amount"`
}
