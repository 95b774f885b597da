package dto

type WalletResponse struct {
	ParticipantID string `json:"participantId"`
	Balance       uint64 `json:"balance"`
}

type SupplyResponse struct {
	Supply uint64 `json:"supply"`
}

type RoundResponse struct {
	StartedAt   uint64 `json:"startedAt"` // ms; 0 = rodada sem apostas
	TotalStaked uint64 `json:"totalStaked"`
}

type BetResponse struct {
	Status      string `json:"status"` // ACCEPTED
	TotalStaked uint64 `json:"totalStaked"`
}

type CloseResponse struct {
	EventID string `json:"eventId"`
	Winner  uint8  `json:"winner"`
	PaidOut uint64 `json:"paidOut"`
	Winners int    `json:"winners"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
