package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/radieske/pooled-bet-round/internal/round-service/ledger"
	"github.com/radieske/pooled-bet-round/internal/round-service/round"
)

// Version do formato gravado
const Version = 1

var (
	ErrMissingSnapshot = errors.New("snapshot missing")
	ErrCorruptSnapshot = errors.New("snapshot corrupt")
	// ErrMissingConfig indica snapshot válido sem o registro de configuração
	// (controlador perdido). Ledger e rodada continuam utilizáveis.
	ErrMissingConfig = errors.New("snapshot config missing")
)

// Config é o registro de configuração persistido junto com o estado
type Config struct {
	ControllerID ledger.ParticipantID `json:"controllerId"`
	FeeRatio     float64              `json:"feeRatio"`
}

// DefaultFeeRatio é o valor usado quando nenhum é configurado
const DefaultFeeRatio = 4.0

// Snapshot é o estado durável completo. O digest da rodada nunca faz parte dele.
type Snapshot struct {
	Config   *Config
	Supply   uint64
	Balances map[ledger.ParticipantID]uint64
	Round    round.State
}

type record struct {
	Version int          `json:"version"`
	Config  *Config      `json:"config,omitempty"`
	Ledger  ledgerRecord `json:"ledger"`
	Round   roundRecord  `json:"round"`
}

type ledgerRecord struct {
	Supply   uint64                          `json:"supply"`
	Balances map[ledger.ParticipantID]uint64 `json:"balances"`
}

type roundRecord struct {
	StartedAt     uint64           `json:"startedAt"`
	TotalStaked   uint64           `json:"totalStaked"`
	Stakes        []stakeRecord    `json:"stakes"`
	OutcomeTotals map[uint8]uint64 `json:"outcomeTotals"`
}

type stakeRecord struct {
	Participant ledger.ParticipantID `json:"participant"`
	Outcome     uint8                `json:"outcome"`
	Amount      uint64               `json:"amount"`
}

// Encode serializa o snapshot em JSON; as apostas saem ordenadas
func Encode(s Snapshot) ([]byte, error) {
	rec := record{
		Version: Version,
		Config:  s.Config,
		Ledger:  ledgerRecord{Supply: s.Supply, Balances: s.Balances},
		Round: roundRecord{
			StartedAt:     s.Round.StartedAt,
			TotalStaked:   s.Round.TotalStaked,
			Stakes:        make([]stakeRecord, 0, len(s.Round.Stakes)),
			OutcomeTotals: make(map[uint8]uint64, len(s.Round.OutcomeTotals)),
		},
	}
	if rec.Ledger.Balances == nil {
		rec.Ledger.Balances = map[ledger.ParticipantID]uint64{}
	}
	for k, v := range s.Round.Stakes {
		rec.Round.Stakes = append(rec.Round.Stakes, stakeRecord{Participant: k.Participant, Outcome: uint8(k.Outcome), Amount: v})
	}
	sort.Slice(rec.Round.Stakes, func(i, j int) bool {
		a, b := rec.Round.Stakes[i], rec.Round.Stakes[j]
		if a.Participant != b.Participant {
			return a.Participant < b.Participant
		}
		return a.Outcome < b.Outcome
	})
	for o, v := range s.Round.OutcomeTotals {
		rec.Round.OutcomeTotals[uint8(o)] = v
	}

	b, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return b, nil
}

// Decode lê e valida um snapshot.
// Sem config (ou sem controlador) retorna o snapshot junto com ErrMissingConfig.
func Decode(data []byte) (Snapshot, error) {
	if len(data) == 0 {
		return Snapshot{}, ErrMissingSnapshot
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	if rec.Version != Version {
		return Snapshot{}, fmt.Errorf("%w: unsupported version %d", ErrCorruptSnapshot, rec.Version)
	}

	var sum uint64
	for _, b := range rec.Ledger.Balances {
		if sum > math.MaxUint64-b {
			return Snapshot{}, fmt.Errorf("%w: balances overflow", ErrCorruptSnapshot)
		}
		sum += b
	}
	if sum != rec.Ledger.Supply {
		return Snapshot{}, fmt.Errorf("%w: supply %d != balances %d", ErrCorruptSnapshot, rec.Ledger.Supply, sum)
	}

	st := round.State{
		StartedAt:     rec.Round.StartedAt,
		TotalStaked:   rec.Round.TotalStaked,
		Stakes:        make(map[round.StakeKey]uint64, len(rec.Round.Stakes)),
		OutcomeTotals: make(map[round.Outcome]uint64, len(rec.Round.OutcomeTotals)),
	}
	for _, s := range rec.Round.Stakes {
		k := round.StakeKey{Participant: s.Participant, Outcome: round.Outcome(s.Outcome)}
		if _, dup := st.Stakes[k]; dup {
			return Snapshot{}, fmt.Errorf("%w: duplicate stake %s/%d", ErrCorruptSnapshot, s.Participant, s.Outcome)
		}
		st.Stakes[k] = s.Amount
	}
	for o, v := range rec.Round.OutcomeTotals {
		st.OutcomeTotals[round.Outcome(o)] = v
	}
	if err := st.Validate(); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}

	snap := Snapshot{
		Config:   rec.Config,
		Supply:   rec.Ledger.Supply,
		Balances: rec.Ledger.Balances,
		Round:    st,
	}
	if snap.Balances == nil {
		snap.Balances = map[ledger.ParticipantID]uint64{}
	}
	if snap.Config == nil || snap.Config.ControllerID == "" {
		snap.Config = nil
		return snap, ErrMissingConfig
	}
	return snap, nil
}
