package round

import (
	"crypto/sha256"
	"math"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radieske/pooled-bet-round/internal/round-service/ledger"
)

type placed struct {
	who    ledger.ParticipantID
	on     Outcome
	amount uint64
}

// expectedWinner recalcula o vencedor de uma rodada iniciada com seed
func expectedWinner(seed []byte, bets []placed) (Outcome, []byte) {
	h := sha256.New224()
	h.Write(seed)
	for _, b := range bets {
		h.Write([]byte(b.who))
		h.Write([]byte{byte(b.on)})
	}
	sum := h.Sum(nil)
	return Outcome(sum[0]), sum
}

// layout procura dois resultados a != b tais que a sequência
// p1->a, p2->a, p3->b sorteie a.
func layout(t *testing.T) (Outcome, Outcome) {
	t.Helper()
	for a := 0; a < 256; a++ {
		for b := 0; b < 256; b++ {
			if a == b {
				continue
			}
			w, _ := expectedWinner(nil, []placed{{"p1", Outcome(a), 0}, {"p2", Outcome(a), 0}, {"p3", Outcome(b), 0}})
			if w == Outcome(a) {
				return Outcome(a), Outcome(b)
			}
		}
	}
	t.Fatal("no layout found")
	return 0, 0
}

func place(t *testing.T, r *Round, bets []placed) {
	t.Helper()
	for _, b := range bets {
		require.NoError(t, r.Bet(b.who, b.on, b.amount))
	}
}

func TestBetAccumulates(t *testing.T) {
	r := New(quartz.NewMock(t))
	l := ledger.New()

	require.NoError(t, r.Bet("alice", 3, 10))
	require.NoError(t, r.Bet("alice", 3, 5))
	require.NoError(t, r.Bet("bob", 3, 1))
	require.NoError(t, r.Bet("bob", 9, 4))

	assert.Equal(t, uint64(20), r.TotalStaked())
	assert.Equal(t, uint64(15), r.Stake("alice", 3))
	assert.Equal(t, uint64(16), r.OutcomeTotal(3))
	assert.Equal(t, uint64(4), r.OutcomeTotal(9))
	assert.Equal(t, uint64(0), l.Supply())
	require.NoError(t, r.State().Validate())
}

func TestBetSetsStartedAtOnce(t *testing.T) {
	clock := quartz.NewMock(t)
	r := New(clock)
	assert.Equal(t, uint64(0), r.StartedAt())

	start := uint64(clock.Now().UnixMilli())
	require.NoError(t, r.Bet("alice", 1, 1))
	assert.Equal(t, start, r.StartedAt())

	clock.Advance(5 * time.Second)
	require.NoError(t, r.Bet("bob", 1, 1))
	assert.Equal(t, start, r.StartedAt())

	_, err := r.Close(ledger.New())
	require.NoError(t, err)
	assert.Equal(t, uint64(0), r.StartedAt())
}

func TestBetOverflowRejected(t *testing.T) {
	r := New(quartz.NewMock(t))
	require.NoError(t, r.Bet("alice", 1, math.MaxUint64))

	err := r.Bet("bob", 2, 1)
	require.ErrorIs(t, err, ErrArithmeticOverflow)
	assert.Equal(t, uint64(math.MaxUint64), r.TotalStaked())
	assert.Equal(t, uint64(0), r.Stake("bob", 2))

	// o digest não recebeu a aposta rejeitada
	want, _ := expectedWinner(nil, []placed{{"alice", 1, 0}})
	st, err := r.Close(ledger.New())
	require.NoError(t, err)
	assert.Equal(t, want, st.Winner)
}

func TestCloseWithoutBets(t *testing.T) {
	r := New(quartz.NewMock(t))
	l := ledger.New()
	require.NoError(t, l.Deposit("alice", 42))

	st, err := r.Close(l)
	require.NoError(t, err)

	want, _ := expectedWinner(nil, nil)
	assert.Equal(t, want, st.Winner)
	assert.Empty(t, st.Payouts)
	assert.Equal(t, uint64(0), r.TotalStaked())
	assert.Equal(t, uint64(42), l.Supply())
	assert.Equal(t, uint64(42), l.Balance("alice"))
}

func TestCloseConservationScenario(t *testing.T) {
	a, b := layout(t)
	r := New(quartz.NewMock(t))
	l := ledger.New()

	place(t, r, []placed{{"p1", a, 10}, {"p2", a, 20}, {"p3", b, 30}})
	assert.Equal(t, uint64(60), r.TotalStaked())
	assert.Equal(t, uint64(30), r.OutcomeTotal(a))
	assert.Equal(t, uint64(30), r.OutcomeTotal(b))

	st, err := r.Close(l)
	require.NoError(t, err)

	assert.Equal(t, a, st.Winner)
	assert.Equal(t, uint64(30), st.WinnersTotal)
	assert.Equal(t, uint64(30), st.LosersTotal)
	assert.Equal(t, []Payout{
		{Participant: "p1", Stake: 10, Amount: 10},
		{Participant: "p2", Stake: 20, Amount: 20},
	}, st.Payouts)
	assert.Equal(t, uint64(30), st.PaidOut())

	assert.Equal(t, uint64(10), l.Balance("p1"))
	assert.Equal(t, uint64(20), l.Balance("p2"))
	assert.Equal(t, uint64(0), l.Balance("p3"))
	assert.Equal(t, uint64(30), l.Supply())

	assert.Equal(t, uint64(0), r.TotalStaked())
	assert.Equal(t, uint64(0), r.Stake("p1", a))
	assert.Equal(t, uint64(0), r.OutcomeTotal(a))
	assert.Empty(t, r.State().Stakes)
	assert.Empty(t, r.State().OutcomeTotals)
}

func TestClosePayoutUsesWinnersOverLosers(t *testing.T) {
	a, b := layout(t)
	r := New(quartz.NewMock(t))
	l := ledger.New()

	// vencedores 30, perdedores 7: prêmio = stake * 30 / 7
	place(t, r, []placed{{"p1", a, 10}, {"p2", a, 20}, {"p3", b, 7}})
	st, err := r.Close(l)
	require.NoError(t, err)

	assert.Equal(t, uint64(42), l.Balance("p1")) // 300/7
	assert.Equal(t, uint64(85), l.Balance("p2")) // 600/7
	assert.Equal(t, uint64(127), st.PaidOut())
}

func TestCloseSkipsPayoutWhenNoLosers(t *testing.T) {
	a, _ := layout(t)
	r := New(quartz.NewMock(t))
	l := ledger.New()

	// todas as apostas no vencedor: losersTotal == 0
	place(t, r, []placed{{"p1", a, 10}, {"p2", a, 20}, {"p3", a, 0}})
	w, _ := expectedWinner(nil, []placed{{"p1", a, 0}, {"p2", a, 0}, {"p3", a, 0}})
	st, err := r.Close(l)
	require.NoError(t, err)

	assert.Equal(t, w, st.Winner)
	assert.Empty(t, st.Payouts)
	assert.Equal(t, uint64(0), l.Supply())
}

func TestCloseOverflowLeavesRoundIntact(t *testing.T) {
	a, b := layout(t)
	r := New(quartz.NewMock(t))
	l := ledger.New()

	place(t, r, []placed{{"p1", a, math.MaxUint64 / 2}, {"p2", a, 0}, {"p3", b, 1}})
	before := r.State()

	_, err := r.Close(l)
	require.ErrorIs(t, err, ErrArithmeticOverflow)
	assert.Equal(t, before, r.State())
	assert.Equal(t, uint64(0), l.Supply())

	// digest intacto: o novo fechamento sorteia o mesmo resultado e falha de novo
	_, err = r.Close(l)
	require.ErrorIs(t, err, ErrArithmeticOverflow)
}

func TestCloseRejectsWhenLedgerWouldOverflow(t *testing.T) {
	a, b := layout(t)
	r := New(quartz.NewMock(t))
	l := ledger.New()
	require.NoError(t, l.Deposit("whale", math.MaxUint64-5))

	place(t, r, []placed{{"p1", a, 10}, {"p2", a, 0}, {"p3", b, 10}})
	_, err := r.Close(l)
	require.ErrorIs(t, err, ErrArithmeticOverflow)
	assert.Equal(t, uint64(20), r.TotalStaked())
	assert.Equal(t, uint64(0), l.Balance("p1"))
}

func TestDeterministicAcrossInstances(t *testing.T) {
	rounds := [][]placed{
		{{"alice", 7, 10}, {"bob", 200, 5}, {"carol", 7, 0}},
		{{"bob", 1, 3}},
		{},
	}

	run := func() []Outcome {
		r := New(quartz.NewMock(t))
		l := ledger.New()
		var out []Outcome
		for _, bets := range rounds {
			place(t, r, bets)
			st, err := r.Close(l)
			require.NoError(t, err)
			out = append(out, st.Winner)
		}
		return out
	}

	first := run()
	assert.Equal(t, first, run())

	// cada rodada é semeada com o hash final da anterior
	var seed []byte
	for i, bets := range rounds {
		var w Outcome
		w, seed = expectedWinner(seed, bets)
		assert.Equal(t, w, first[i], "round %d", i)
	}
}

func TestRestoreStartsWithFreshDigest(t *testing.T) {
	r := New(quartz.NewMock(t))
	place(t, r, []placed{{"alice", 4, 9}, {"bob", 5, 1}})

	restored := Restore(quartz.NewMock(t), r.State())
	assert.Equal(t, r.State(), restored.State())

	want, _ := expectedWinner(nil, nil)
	st, err := restored.Close(ledger.New())
	require.NoError(t, err)
	assert.Equal(t, want, st.Winner)
}

func TestStateValidate(t *testing.T) {
	good := State{
		TotalStaked:   5,
		Stakes:        map[StakeKey]uint64{{"a", 1}: 2, {"b", 1}: 3},
		OutcomeTotals: map[Outcome]uint64{1: 5},
	}
	require.NoError(t, good.Validate())

	bad := State{
		TotalStaked:   5,
		Stakes:        map[StakeKey]uint64{{"a", 1}: 2, {"b", 2}: 3},
		OutcomeTotals: map[Outcome]uint64{1: 5},
	}
	require.Error(t, bad.Validate())

	wrongTotal := good
	wrongTotal.TotalStaked = 6
	require.Error(t, wrongTotal.Validate())
}
