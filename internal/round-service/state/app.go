package state

import (
	"errors"
	"sync"

	"github.com/coder/quartz"
	"go.uber.org/zap"

	"github.com/radieske/pooled-bet-round/internal/round-service/ledger"
	"github.com/radieske/pooled-bet-round/internal/round-service/round"
	"github.com/radieske/pooled-bet-round/internal/round-service/snapshot"
)

var ErrUnauthorized = errors.New("only the controller is allowed to call this method")

// RoundInfo é a visão pública da rodada corrente
type RoundInfo struct {
	StartedAt   uint64
	TotalStaked uint64
}

// App concentra config, ledger e rodada e serializa todas as chamadas.
// Cada operação roda inteira sob o mutex; nenhuma fica suspensa no meio de uma mutação.
type App struct {
	mu     sync.Mutex
	log    *zap.Logger
	clock  quartz.Clock
	cfg    snapshot.Config
	ledger *ledger.Ledger
	round  *round.Round
}

// New cria o estado vazio com a configuração de boot
func New(log *zap.Logger, clock quartz.Clock, cfg snapshot.Config) *App {
	if clock == nil {
		clock = quartz.NewReal()
	}
	if cfg.FeeRatio == 0 {
		cfg.FeeRatio = snapshot.DefaultFeeRatio
	}
	return &App{
		log:    log,
		clock:  clock,
		cfg:    cfg,
		ledger: ledger.New(),
		round:  round.New(clock),
	}
}

// Config retorna uma cópia da configuração corrente
func (a *App) Config() snapshot.Config {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// EnsureController define o controlador apenas se ainda não houver um
func (a *App) EnsureController(p ledger.ParticipantID) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cfg.ControllerID != "" || p == "" {
		return false
	}
	a.cfg.ControllerID = p
	return true
}

// Authorize barra chamadas privilegiadas de quem não é o controlador
func (a *App) Authorize(caller ledger.ParticipantID) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cfg.ControllerID == "" || caller != a.cfg.ControllerID {
		return ErrUnauthorized
	}
	return nil
}

func (a *App) PlaceBet(p ledger.ParticipantID, o round.Outcome, amount uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.round.Bet(p, o, amount)
}

// CloseRound sorteia o vencedor e credita os prêmios no ledger
func (a *App) CloseRound() (round.Settlement, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	st, err := a.round.Close(a.ledger)
	if err != nil {
		return round.Settlement{}, err
	}
	a.log.Info("round closed",
		zap.Uint8("winner", uint8(st.Winner)),
		zap.Uint64("total_staked", st.TotalStaked),
		zap.Uint64("paid_out", st.PaidOut()),
		zap.Int("winners", len(st.Payouts)),
	)
	return st, nil
}

func (a *App) TotalStaked() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.round.TotalStaked()
}

func (a *App) Round() RoundInfo {
	a.mu.Lock()
	defer a.mu.Unlock()
	return RoundInfo{StartedAt: a.round.StartedAt(), TotalStaked: a.round.TotalStaked()}
}

func (a *App) Balance(p ledger.ParticipantID) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ledger.Balance(p)
}

func (a *App) Supply() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ledger.Supply()
}

func (a *App) Deposit(p ledger.ParticipantID, amount uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ledger.Deposit(p, amount)
}

func (a *App) Withdraw(p ledger.ParticipantID, amount uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ledger.Withdraw(p, amount)
}

// SnapshotSave serializa config, ledger e rodada (sem o digest)
func (a *App) SnapshotSave() ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	cfg := a.cfg
	supply, balances := a.ledger.Snapshot()
	return snapshot.Encode(snapshot.Snapshot{
		Config:   &cfg,
		Supply:   supply,
		Balances: balances,
		Round:    a.round.State(),
	})
}

// SnapshotRestore substitui o estado pelo conteúdo de data.
// Dados ausentes ou ilegíveis: ledger e rodada voltam ao vazio e o erro é retornado.
// Sem config: ledger e rodada são restaurados, a config de boot é mantida e
// snapshot.ErrMissingConfig é retornado para quem chamou decidir.
// Em todos os casos o digest recomeça vazio.
func (a *App) SnapshotRestore(data []byte) error {
	snap, err := snapshot.Decode(data)

	a.mu.Lock()
	defer a.mu.Unlock()

	switch {
	case err == nil:
		a.cfg = *snap.Config
		if a.cfg.FeeRatio == 0 {
			a.cfg.FeeRatio = snapshot.DefaultFeeRatio
		}
	case errors.Is(err, snapshot.ErrMissingConfig):
		a.log.Error("snapshot restored without config record; controller must be re-established",
			zap.String("boot_controller", string(a.cfg.ControllerID)),
		)
	default:
		a.log.Warn("snapshot restore failed, starting empty", zap.Error(err))
		a.ledger = ledger.New()
		a.round = round.New(a.clock)
		return err
	}

	a.ledger = ledger.Restore(snap.Supply, snap.Balances)
	a.round = round.Restore(a.clock, snap.Round)
	a.log.Info("snapshot restored",
		zap.Uint64("supply", snap.Supply),
		zap.Int("accounts", len(snap.Balances)),
		zap.Uint64("total_staked", snap.Round.TotalStaked),
	)
	return err
}
