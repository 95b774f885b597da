package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/radieske/pooled-bet-round/internal/round-service/dto"
	"github.com/radieske/pooled-bet-round/internal/round-service/ledger"
	"github.com/radieske/pooled-bet-round/internal/round-service/metrics"
	"github.com/radieske/pooled-bet-round/internal/round-service/round"
	"github.com/radieske/pooled-bet-round/internal/round-service/state"
	"github.com/radieske/pooled-bet-round/internal/round-service/ws"
	"github.com/radieske/pooled-bet-round/pkg/contracts/events"
)

// CallerHeader carrega a identidade já autenticada pela borda (o mesmo usado no /ws)
const CallerHeader = ws.CallerHeader

// RoundCloser fecha a rodada propagando o resultado e grava checkpoints
type RoundCloser interface {
	CloseRound(ctx context.Context) (events.RoundClosed, error)
	Checkpoint(ctx context.Context) error
}

// Server expõe a rodada e o ledger via HTTP
type Server struct {
	log     *zap.Logger
	app     *state.App
	closer  RoundCloser
	ws      http.Handler
	metrics *metrics.Metrics
}

// NewServer instancia o servidor HTTP; ws e m podem ser nil
func NewServer(log *zap.Logger, app *state.App, c RoundCloser, ws http.Handler, m *metrics.Metrics) *Server {
	return &Server{log: log, app: app, closer: c, ws: ws, metrics: m}
}

// Router retorna o roteador HTTP com as rotas da rodada e da carteira
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Post("/bets", s.placeBet)
	r.Get("/round", s.getRound)
	r.Get("/wallet", s.getWallet) // ?participantId=...
	r.Get("/supply", s.getSupply)
	r.Post("/wallet/withdraw", s.withdraw)

	// Rotas privilegiadas: somente o controlador
	r.Group(func(r chi.Router) {
		r.Use(s.controllerOnly)
		r.Post("/round/close", s.closeRound)
		r.Post("/wallet/deposit", s.deposit)
		r.Post("/snapshot", s.checkpoint)
	})

	if s.ws != nil {
		r.Handle("/ws", s.ws)
	}
	return r
}

func caller(r *http.Request) ledger.ParticipantID {
	return ledger.ParticipantID(r.Header.Get(CallerHeader))
}

// controllerOnly aplica o guard do controlador
func (s *Server) controllerOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := s.app.Authorize(caller(r)); err != nil {
			s.log.Warn("unauthorized call", zap.String("path", r.URL.Path), zap.String("caller", string(caller(r))))
			writeError(w, http.StatusForbidden, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// placeBet registra a aposta do chamador na rodada corrente
func (s *Server) placeBet(w http.ResponseWriter, r *http.Request) {
	p := caller(r)
	if p == "" {
		writeError(w, http.StatusUnauthorized, errors.New(CallerHeader+" required"))
		return
	}
	var req dto.PlaceBetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("bad json"))
		return
	}
	if req.Outcome < 0 || req.Outcome > 255 {
		s.rejected("invalid_outcome")
		writeError(w, http.StatusBadRequest, errors.New("outcome must be in [0,255]"))
		return
	}

	if err := s.app.PlaceBet(p, round.Outcome(req.Outcome), req.Amount); err != nil {
		s.rejected("overflow")
		writeError(w, statusFor(err), err)
		return
	}

	total := s.app.TotalStaked()
	if s.metrics != nil {
		s.metrics.BetsPlaced.Inc()
		s.metrics.AmountStaked.Add(float64(req.Amount))
		s.metrics.TotalStaked.Set(float64(total))
	}
	writeJSON(w, http.StatusOK, dto.BetResponse{Status: "ACCEPTED", TotalStaked: total})
}

func (s *Server) getRound(w http.ResponseWriter, r *http.Request) {
	info := s.app.Round()
	writeJSON(w, http.StatusOK, dto.RoundResponse{StartedAt: info.StartedAt, TotalStaked: info.TotalStaked})
}

// getWallet retorna o saldo do participante (0 se não existir)
func (s *Server) getWallet(w http.ResponseWriter, r *http.Request) {
	p := r.URL.Query().Get("participantId")
	if p == "" {
		p = string(caller(r))
	}
	if p == "" {
		writeError(w, http.StatusBadRequest, errors.New("participantId required"))
		return
	}
	writeJSON(w, http.StatusOK, dto.WalletResponse{ParticipantID: p, Balance: s.app.Balance(ledger.ParticipantID(p))})
}

func (s *Server) getSupply(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, dto.SupplyResponse{Supply: s.app.Supply()})
}

// deposit emite saldo para um participante
func (s *Server) deposit(w http.ResponseWriter, r *http.Request) {
	var req dto.DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("bad json"))
		return
	}
	if req.ParticipantID == "" {
		writeError(w, http.StatusBadRequest, errors.New("invalid payload"))
		return
	}
	p := ledger.ParticipantID(req.ParticipantID)
	if err := s.app.Deposit(p, req.Amount); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	s.observeSupply()
	writeJSON(w, http.StatusOK, dto.WalletResponse{ParticipantID: req.ParticipantID, Balance: s.app.Balance(p)})
}

// withdraw debita o chamador; tudo ou nada
func (s *Server) withdraw(w http.ResponseWriter, r *http.Request) {
	p := caller(r)
	if p == "" {
		writeError(w, http.StatusUnauthorized, errors.New(CallerHeader+" required"))
		return
	}
	var req dto.WithdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("bad json"))
		return
	}
	if err := s.app.Withdraw(p, req.Amount); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	s.observeSupply()
	writeJSON(w, http.StatusOK, dto.WalletResponse{ParticipantID: string(p), Balance: s.app.Balance(p)})
}

// closeRound fecha a rodada sob demanda
func (s *Server) closeRound(w http.ResponseWriter, r *http.Request) {
	ev, err := s.closer.CloseRound(r.Context())
	if err != nil {
		s.log.Error("close round", zap.Error(err))
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, dto.CloseResponse{EventID: ev.EventID, Winner: ev.Winner, PaidOut: ev.PaidOut, Winners: len(ev.Payouts)})
}

// checkpoint força a gravação do snapshot
func (s *Server) checkpoint(w http.ResponseWriter, r *http.Request) {
	if err := s.closer.Checkpoint(r.Context()); err != nil {
		s.log.Error("checkpoint", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) rejected(reason string) {
	if s.metrics != nil {
		s.metrics.BetsRejected.WithLabelValues(reason).Inc()
	}
}

func (s *Server) observeSupply() {
	if s.metrics != nil {
		s.metrics.Supply.Set(float64(s.app.Supply()))
	}
}

// statusFor mapeia os erros de domínio para status HTTP
func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrArithmeticOverflow):
		return http.StatusUnprocessableEntity
	case errors.Is(err, state.ErrUnauthorized):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, dto.ErrorResponse{Error: err.Error()})
}

// writeJSON serializa a resposta em JSON e define o status HTTP
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
