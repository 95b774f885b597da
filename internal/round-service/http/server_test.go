package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/coder/quartz"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/radieske/pooled-bet-round/internal/round-service/dto"
	"github.com/radieske/pooled-bet-round/internal/round-service/metrics"
	"github.com/radieske/pooled-bet-round/internal/round-service/snapshot"
	"github.com/radieske/pooled-bet-round/internal/round-service/state"
	"github.com/radieske/pooled-bet-round/pkg/contracts/events"
)

type stubCloser struct {
	app           *state.App
	checkpoints   int
	checkpointErr error
}

func (s *stubCloser) CloseRound(context.Context) (events.RoundClosed, error) {
	st, err := s.app.CloseRound()
	if err != nil {
		return events.RoundClosed{}, err
	}
	return events.RoundClosed{EventID: "ev", Winner: uint8(st.Winner), PaidOut: st.PaidOut()}, nil
}

func (s *stubCloser) Checkpoint(context.Context) error {
	s.checkpoints++
	return s.checkpointErr
}

type fixture struct {
	app     *state.App
	closer  *stubCloser
	metrics *metrics.Metrics
	handler http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := zaptest.NewLogger(t)
	app := state.New(log, quartz.NewMock(t), snapshot.Config{ControllerID: "root"})
	c := &stubCloser{app: app}
	m := metrics.New(prometheus.NewRegistry())
	return &fixture{app: app, closer: c, metrics: m, handler: NewServer(log, app, c, nil, m).Router()}
}

func (f *fixture) do(t *testing.T, method, path, caller, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if caller != "" {
		req.Header.Set(CallerHeader, caller)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func TestPlaceBet(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/bets", "alice", `{"outcome":7,"amount":15}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, dto.BetResponse{Status: "ACCEPTED", TotalStaked: 15}, decode[dto.BetResponse](t, rec))
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.BetsPlaced))

	rec = f.do(t, http.MethodGet, "/round", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, uint64(15), decode[dto.RoundResponse](t, rec).TotalStaked)
}

func TestPlaceBetValidation(t *testing.T) {
	tests := []struct {
		name   string
		caller string
		body   string
		want   int
	}{
		{name: "no caller", body: `{"outcome":1,"amount":1}`, want: http.StatusUnauthorized},
		{name: "bad json", caller: "alice", body: `{`, want: http.StatusBadRequest},
		{name: "outcome too large", caller: "alice", body: `{"outcome":256,"amount":1}`, want: http.StatusBadRequest},
		{name: "negative outcome", caller: "alice", body: `{"outcome":-1,"amount":1}`, want: http.StatusBadRequest},
		{name: "zero amount accepted", caller: "alice", body: `{"outcome":0,"amount":0}`, want: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			rec := f.do(t, http.MethodPost, "/bets", tt.caller, tt.body)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestPlaceBetOverflow(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/bets", "alice", `{"outcome":1,"amount":18446744073709551615}`).Code)

	rec := f.do(t, http.MethodPost, "/bets", "bob", `{"outcome":2,"amount":1}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, uint64(18446744073709551615), f.app.TotalStaked())
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.BetsRejected.WithLabelValues("overflow")))
}

func TestDepositRequiresController(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/wallet/deposit", "mallory", `{"participantId":"mallory","amount":100}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, uint64(0), f.app.Supply())

	rec = f.do(t, http.MethodPost, "/wallet/deposit", "root", `{"participantId":"alice","amount":100}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, dto.WalletResponse{ParticipantID: "alice", Balance: 100}, decode[dto.WalletResponse](t, rec))

	rec = f.do(t, http.MethodGet, "/supply", "", "")
	assert.Equal(t, uint64(100), decode[dto.SupplyResponse](t, rec).Supply)
}

func TestWithdraw(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.app.Deposit("alice", 50))

	rec := f.do(t, http.MethodPost, "/wallet/withdraw", "alice", `{"amount":51}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, uint64(50), f.app.Balance("alice"))

	rec = f.do(t, http.MethodPost, "/wallet/withdraw", "alice", `{"amount":20}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, uint64(30), decode[dto.WalletResponse](t, rec).Balance)

	rec = f.do(t, http.MethodPost, "/wallet/withdraw", "ghost", `{"amount":0}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/wallet?participantId=alice", "", "")
	assert.Equal(t, uint64(30), decode[dto.WalletResponse](t, rec).Balance)

	rec = f.do(t, http.MethodGet, "/wallet", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCloseRound(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.app.PlaceBet("alice", 1, 5))

	rec := f.do(t, http.MethodPost, "/round/close", "alice", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, uint64(5), f.app.TotalStaked())

	rec = f.do(t, http.MethodPost, "/round/close", "root", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ev", decode[dto.CloseResponse](t, rec).EventID)
	assert.Equal(t, uint64(0), f.app.TotalStaked())
}

func TestCheckpoint(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/snapshot", "root", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 1, f.closer.checkpoints)

	f.closer.checkpointErr = errors.New("redis down")
	rec = f.do(t, http.MethodPost, "/snapshot", "root", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
