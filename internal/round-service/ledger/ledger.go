package ledger

import (
	"errors"
	"math"
)

// ParticipantID identifica uma conta de forma opaca
type ParticipantID string

var (
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrArithmeticOverflow = errors.New("arithmetic overflow")
)

// DefaultBalancesCapacity é a dica de capacidade aplicada ao criar/restaurar o ledger
const DefaultBalancesCapacity = 10000

// Ledger guarda o saldo de cada participante e o supply agregado.
// Invariante: supply == soma de todos os saldos após cada operação.
// Não é seguro para uso concorrente; o serializador de chamadas fica em state.App.
type Ledger struct {
	supply   uint64
	balances map[ParticipantID]uint64
}

// New cria um ledger vazio
func New() *Ledger {
	return &Ledger{balances: make(map[ParticipantID]uint64, DefaultBalancesCapacity)}
}

// Restore reconstrói o ledger a partir de dados persistidos
func Restore(supply uint64, balances map[ParticipantID]uint64) *Ledger {
	l := &Ledger{
		supply:   supply,
		balances: make(map[ParticipantID]uint64, max(len(balances), DefaultBalancesCapacity)),
	}
	for p, b := range balances {
		l.balances[p] = b
	}
	return l
}

// Balance retorna o saldo do participante (0 se não existir)
func (l *Ledger) Balance(p ParticipantID) uint64 { return l.balances[p] }

func (l *Ledger) Supply() uint64 { return l.supply }

// Accounts retorna o número de contas com entrada no ledger
func (l *Ledger) Accounts() int { return len(l.balances) }

// Deposit cria moeda e credita ao participante. É o único caminho de emissão.
// Valor zero não cria entrada.
func (l *Ledger) Deposit(p ParticipantID, amount uint64) error {
	if amount == 0 {
		return nil
	}
	// saldo <= supply, então basta checar o supply
	if l.supply > math.MaxUint64-amount {
		return ErrArithmeticOverflow
	}
	l.supply += amount
	l.balances[p] += amount
	return nil
}

// Withdraw debita o participante; tudo ou nada
func (l *Ledger) Withdraw(p ParticipantID, amount uint64) error {
	bal, ok := l.balances[p]
	switch {
	case !ok && amount == 0:
		return nil
	case !ok:
		return ErrInsufficientFunds
	case bal < amount:
		return ErrInsufficientFunds
	}
	l.supply -= amount
	l.balances[p] = bal - amount
	return nil
}

// Snapshot devolve uma cópia dos saldos para serialização
func (l *Ledger) Snapshot() (supply uint64, balances map[ParticipantID]uint64) {
	balances = make(map[ParticipantID]uint64, len(l.balances))
	for p, b := range l.balances {
		balances[p] = b
	}
	return l.supply, balances
}
