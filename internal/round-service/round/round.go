package round

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"hash"
	"math"
	"math/bits"
	"sort"

	"github.com/coder/quartz"

	"github.com/radieske/pooled-bet-round/internal/round-service/ledger"
)

// Outcome é uma das 256 opções de aposta
type Outcome uint8

// StakeKey identifica a aposta acumulada de um participante em um resultado
type StakeKey struct {
	Participant ledger.ParticipantID
	Outcome     Outcome
}

var ErrArithmeticOverflow = ledger.ErrArithmeticOverflow

// Dicas de capacidade para os mapas da rodada
const (
	DefaultStakesCapacity   = 1000
	DefaultOutcomesCapacity = 256
)

// Ledger é o destino dos prêmios pagos no fechamento
type Ledger interface {
	Deposit(p ledger.ParticipantID, amount uint64) error
	Supply() uint64
}

// Payout é o crédito de uma aposta vencedora
type Payout struct {
	Participant ledger.ParticipantID
	Stake       uint64
	Amount      uint64
}

// Settlement resume o fechamento de uma rodada
type Settlement struct {
	Winner       Outcome
	StartedAt    uint64
	TotalStaked  uint64
	WinnersTotal uint64
	LosersTotal  uint64
	Payouts      []Payout
}

// PaidOut soma os valores creditados
func (s Settlement) PaidOut() uint64 {
	var total uint64
	for _, p := range s.Payouts {
		total += p.Amount
	}
	return total
}

// State é a parte durável da rodada (sem o digest)
type State struct {
	StartedAt     uint64
	TotalStaked   uint64
	Stakes        map[StakeKey]uint64
	OutcomeTotals map[Outcome]uint64
}

// Round acumula as apostas da rodada corrente e decide o vencedor a partir de um
// digest SHA-224 de todos os pares (participante, resultado) na ordem em que chegaram.
//
// O resultado é imprevisível só para quem não vê as apostas anteriores: o último
// apostador antes do fechamento consegue calcular e influenciar o vencedor. Em
// implantações que exigem confiança, trocar por commit-reveal ou aleatoriedade externa.
//
// Invariante: totalStaked == soma(stakes) == soma(outcomeTotals).
type Round struct {
	clock         quartz.Clock
	startedAt     uint64
	totalStaked   uint64
	digest        hash.Hash
	stakes        map[StakeKey]uint64
	outcomeTotals map[Outcome]uint64
}

// New cria uma rodada vazia
func New(clock quartz.Clock) *Round {
	if clock == nil {
		clock = quartz.NewReal()
	}
	return &Round{
		clock:         clock,
		digest:        sha256.New224(),
		stakes:        make(map[StakeKey]uint64, DefaultStakesCapacity),
		outcomeTotals: make(map[Outcome]uint64, DefaultOutcomesCapacity),
	}
}

// Restore recria a rodada a partir do estado persistido. O digest começa vazio.
func Restore(clock quartz.Clock, st State) *Round {
	r := New(clock)
	r.startedAt = st.StartedAt
	r.totalStaked = st.TotalStaked
	if len(st.Stakes) > DefaultStakesCapacity {
		r.stakes = make(map[StakeKey]uint64, len(st.Stakes))
	}
	for k, v := range st.Stakes {
		r.stakes[k] = v
	}
	for o, v := range st.OutcomeTotals {
		r.outcomeTotals[o] = v
	}
	return r
}

// Bet registra amount de p em o. Valor zero é aceito e ainda entra no digest.
func (r *Round) Bet(p ledger.ParticipantID, o Outcome, amount uint64) error {
	// stakes[k] <= outcomeTotals[o] <= totalStaked: checar o total cobre os três
	if r.totalStaked > math.MaxUint64-amount {
		return ErrArithmeticOverflow
	}

	if r.startedAt == 0 {
		r.startedAt = uint64(r.clock.Now().UnixMilli())
	}

	r.digest.Write([]byte(p))
	r.digest.Write([]byte{byte(o)})

	r.totalStaked += amount
	r.stakes[StakeKey{Participant: p, Outcome: o}] += amount
	r.outcomeTotals[o] += amount
	return nil
}

// Close sorteia o vencedor, paga os prêmios via l e reabre a rodada.
// Prêmio = floor(stake * winnersTotal / losersTotal). Se algum valor não couber em
// uint64 nada é alterado (nem o digest) e ErrArithmeticOverflow é retornado.
func (r *Round) Close(l Ledger) (Settlement, error) {
	sum := r.digest.Sum(nil)
	winner := Outcome(sum[0])

	winnersTotal := r.outcomeTotals[winner]
	losersTotal := r.totalStaked - winnersTotal

	st := Settlement{
		Winner:       winner,
		StartedAt:    r.startedAt,
		TotalStaked:  r.totalStaked,
		WinnersTotal: winnersTotal,
		LosersTotal:  losersTotal,
	}

	if winnersTotal > 0 && losersTotal > 0 {
		var paid uint64
		for k, stake := range r.stakes {
			if k.Outcome != winner {
				continue
			}
			hi, lo := bits.Mul64(stake, winnersTotal)
			if hi >= losersTotal {
				return Settlement{}, fmt.Errorf("payout for %s: %w", k.Participant, ErrArithmeticOverflow)
			}
			award, _ := bits.Div64(hi, lo, losersTotal)
			if paid > math.MaxUint64-award {
				return Settlement{}, ErrArithmeticOverflow
			}
			paid += award
			st.Payouts = append(st.Payouts, Payout{Participant: k.Participant, Stake: stake, Amount: award})
		}
		if l.Supply() > math.MaxUint64-paid {
			return Settlement{}, fmt.Errorf("ledger supply: %w", ErrArithmeticOverflow)
		}

		sort.Slice(st.Payouts, func(i, j int) bool { return st.Payouts[i].Participant < st.Payouts[j].Participant })
		for _, p := range st.Payouts {
			if err := l.Deposit(p.Participant, p.Amount); err != nil {
				// não deveria acontecer após a checagem do supply
				return st, fmt.Errorf("deposit payout: %w", err)
			}
		}
	}

	r.digest = sha256.New224()
	r.digest.Write(sum)

	r.startedAt = 0
	r.totalStaked = 0
	clear(r.stakes)
	clear(r.outcomeTotals)

	return st, nil
}

func (r *Round) TotalStaked() uint64 { return r.totalStaked }

// StartedAt retorna o início da rodada em ms (0 = sem apostas ainda)
func (r *Round) StartedAt() uint64 { return r.startedAt }

func (r *Round) Stake(p ledger.ParticipantID, o Outcome) uint64 {
	return r.stakes[StakeKey{Participant: p, Outcome: o}]
}

func (r *Round) OutcomeTotal(o Outcome) uint64 { return r.outcomeTotals[o] }

// State devolve uma cópia do estado durável
func (r *Round) State() State {
	st := State{
		StartedAt:     r.startedAt,
		TotalStaked:   r.totalStaked,
		Stakes:        make(map[StakeKey]uint64, len(r.stakes)),
		OutcomeTotals: make(map[Outcome]uint64, len(r.outcomeTotals)),
	}
	for k, v := range r.stakes {
		st.Stakes[k] = v
	}
	for o, v := range r.outcomeTotals {
		st.OutcomeTotals[o] = v
	}
	return st
}

// Validate confere a invariante de somas do estado
func (st State) Validate() error {
	var stakes, totals uint64
	for _, v := range st.Stakes {
		if stakes > math.MaxUint64-v {
			return ErrArithmeticOverflow
		}
		stakes += v
	}
	for _, v := range st.OutcomeTotals {
		if totals > math.MaxUint64-v {
			return ErrArithmeticOverflow
		}
		totals += v
	}
	if stakes != st.TotalStaked || totals != st.TotalStaked {
		return errors.New("round totals do not match stakes")
	}
	perOutcome := make(map[Outcome]uint64, len(st.OutcomeTotals))
	for k, v := range st.Stakes {
		perOutcome[k.Outcome] += v
	}
	for o, v := range st.OutcomeTotals {
		if perOutcome[o] != v {
			return fmt.Errorf("outcome %d total mismatch", o)
		}
	}
	return nil
}
