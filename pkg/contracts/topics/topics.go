package topics

const (
	// Rodadas
	RoundClosed = "round_closed"

	// DLQs
	RoundClosedDLQ = "round_closed_dlq"
)
