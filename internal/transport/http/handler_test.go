package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ecocash/internal/causes"
	"ecocash/internal/community"
	"ecocash/internal/energy"
	"ecocash/internal/estimate"
	"ecocash/internal/ledger"
	"ecocash/internal/market"
	"ecocash/internal/model"
	"ecocash/internal/route"
	"ecocash/internal/service"
	"ecocash/internal/store"
)

type nopBus struct{}

func (nopBus) Publish(string, []byte) error { return nil }

func newTestServer(t *testing.T) (*httptest.Server, *ledger.Ledger) {
	t.Helper()
	m, err := store.NewMirror(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	log := zap.NewNop()
	led := ledger.New(m, nopBus{}, log)
	reg := service.Registry{
		Accounts:     led,
		Declarations: market.NewMaterials(m, led, estimate.WithFallback(nil, log), route.NearestNeighbor{}, log),
		Services:     market.NewNegotiations(m, led, log),
		Energy:       energy.New(m, led, energy.Pricing{Default: 0.40}, "", log),
		Causes:       causes.New(m, led, log),
		Community:    community.New(m, log),
	}

	mux := http.NewServeMux()
	NewHandler(reg).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, led
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAccountEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/accounts", model.Account{ID: "u1", Balance: 50})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := doJSON(t, http.MethodGet, srv.URL+"/accounts/u1", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "u1", body["id"])
	assert.InDelta(t, 50, body["balance"].(float64), 1e-9)

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/accounts/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Duplicate create maps to conflict.
	resp, body = doJSON(t, http.MethodPost, srv.URL+"/accounts", model.Account{ID: "u1"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, false, body["retryable"], "business refusals are not retryable")
}

func TestTransferEndpoint(t *testing.T) {
	srv, led := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, led.CreateAccount(ctx, model.Account{ID: "a", Balance: 100}))
	require.NoError(t, led.CreateAccount(ctx, model.Account{ID: "b"}))

	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/transfer", map[string]any{
		"from_id": "a", "to_id": "b", "amount": 30,
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	b, err := led.Account(ctx, "b")
	require.NoError(t, err)
	assert.InDelta(t, 30, b.Balance, 1e-9)

	resp, _ = doJSON(t, http.MethodPost, srv.URL+"/transfer", map[string]any{
		"from_id": "a", "to_id": "a", "amount": 30,
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDeclarationEndpoints(t *testing.T) {
	srv, led := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, led.CreateAccount(ctx, model.Account{ID: "resident-1"}))
	require.NoError(t, led.CreateAccount(ctx, model.Account{ID: "collector-1"}))
	require.NoError(t, led.CreateAccount(ctx, model.Account{ID: "point-1", Balance: 100}))

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/declarations", market.CreateDeclarationInput{
		ResidentID: "resident-1", Material: "plastic", Quantity: 10,
		EstimatedWeight: 5, EstimatedValue: 14,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	declID := body["id"].(string)

	resp, _ = doJSON(t, http.MethodPost, fmt.Sprintf("%s/declarations/%s/accept", srv.URL, declID),
		map[string]string{"collector_id": "collector-1"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = doJSON(t, http.MethodPost, fmt.Sprintf("%s/declarations/%s/weight", srv.URL, declID),
		map[string]float64{"actual_weight": 7})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.InDelta(t, 19.6, body["estimated_value"].(float64), 1e-9)

	resp, _ = doJSON(t, http.MethodPost, fmt.Sprintf("%s/declarations/%s/liquidate", srv.URL, declID),
		map[string]string{"point_id": "point-1"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// A second liquidation maps to conflict.
	resp, _ = doJSON(t, http.MethodPost, fmt.Sprintf("%s/declarations/%s/liquidate", srv.URL, declID),
		map[string]string{"point_id": "point-1"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestServiceEscrowInsufficientFunds(t *testing.T) {
	srv, led := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, led.CreateAccount(ctx, model.Account{ID: "requester-1", Balance: 10}))

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/services", market.CreateServiceInput{
		RequesterID: "requester-1", Title: "garden cleanup", RequesterOffer: 100,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	svcID := body["id"].(string)

	resp, _ = doJSON(t, http.MethodPost, fmt.Sprintf("%s/services/%s/bind", srv.URL, svcID),
		map[string]string{"provider_id": "provider-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, fmt.Sprintf("%s/services/%s/accept-price", srv.URL, svcID), struct{}{})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = doJSON(t, http.MethodPost, fmt.Sprintf("%s/services/%s/escrow", srv.URL, svcID),
		map[string]string{"payer_id": "requester-1"})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, false, body["retryable"])
}

func TestVoteEndpoint(t *testing.T) {
	srv, led := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, led.CreateAccount(ctx, model.Account{ID: "voter-1", Points: 100}))

	resp, body := doJSON(t, http.MethodPost, srv.URL+"/causes", map[string]any{
		"title": "river cleanup", "target_points": 500,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	causeID := body["id"].(string)

	resp, _ = doJSON(t, http.MethodPost, fmt.Sprintf("%s/causes/%s/vote", srv.URL, causeID),
		map[string]any{"user_id": "voter-1", "points": 60})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, fmt.Sprintf("%s/causes/%s/vote", srv.URL, causeID),
		map[string]any{"user_id": "voter-1", "points": 60})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestInvalidJSON(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/accounts", "application/json", bytes.NewReader([]byte("{not json")))
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, statusFor(model.ErrEntityNotFound))
	assert.Equal(t, http.StatusBadRequest, statusFor(model.ErrValidation))
	assert.Equal(t, http.StatusUnprocessableEntity, statusFor(model.ErrInsufficientFunds))
	assert.Equal(t, http.StatusUnprocessableEntity, statusFor(model.ErrInsufficientPoints))
	assert.Equal(t, http.StatusConflict, statusFor(model.ErrAlreadyExists))
	assert.Equal(t, http.StatusConflict, statusFor(model.ErrAlreadySettled))
	assert.Equal(t, http.StatusConflict, statusFor(model.ErrInvalidTransition))
	assert.Equal(t, http.StatusConflict, statusFor(model.ErrStaleWrite))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(model.ErrBackendUnavailable))
	assert.Equal(t, http.StatusInternalServerError, statusFor(fmt.Errorf("boom")))
}
