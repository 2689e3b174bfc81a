package market

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ecocash/internal/estimate"
	"ecocash/internal/ledger"
	"ecocash/internal/model"
	"ecocash/internal/route"
	"ecocash/internal/store"
)

type nopBus struct{}

func (nopBus) Publish(string, []byte) error { return nil }

func newTestMaterials(t *testing.T) (*Materials, *ledger.Ledger) {
	t.Helper()
	m, err := store.NewMirror(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	log := zap.NewNop()
	led := ledger.New(m, nopBus{}, log)
	est := estimate.WithFallback(nil, log)
	mats := NewMaterials(m, led, est, route.NearestNeighbor{}, log)
	return mats, led
}

func seedAccounts(t *testing.T, led *ledger.Ledger, accts ...model.Account) {
	t.Helper()
	for _, acct := range accts {
		require.NoError(t, led.CreateAccount(context.Background(), acct))
	}
}

func TestDeclarationLifecycle(t *testing.T) {
	mats, led := newTestMaterials(t)
	ctx := context.Background()
	seedAccounts(t, led,
		model.Account{ID: "resident-1"},
		model.Account{ID: "collector-1"},
		model.Account{ID: "point-1", Balance: 100},
	)

	decl, err := mats.CreateDeclaration(ctx, CreateDeclarationInput{
		ResidentID:      "resident-1",
		Material:        "plastic",
		Quantity:        10,
		EstimatedWeight: 5,
		EstimatedValue:  14,
	})
	require.NoError(t, err)
	assert.Equal(t, model.DeclarationPending, decl.Status)

	require.NoError(t, mats.AcceptByCollector(ctx, decl.ID, "collector-1"))

	got, err := mats.Declaration(ctx, decl.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DeclarationCollectorAssigned, got.Status)
	assert.Equal(t, "collector-1", got.CollectorID)

	// Confirming 7kg against a 5kg estimate re-scales the value by 7/5.
	confirmed, err := mats.ConfirmWeight(ctx, decl.ID, 7)
	require.NoError(t, err)
	assert.Equal(t, model.DeclarationCollected, confirmed.Status)
	assert.InDelta(t, 7, confirmed.ActualWeight, 1e-9)
	assert.InDelta(t, 19.6, confirmed.EstimatedValue, 1e-9)

	require.NoError(t, mats.LiquidateAtPoint(ctx, "point-1", decl.ID))

	final, err := mats.Declaration(ctx, decl.ID)
	require.NoError(t, err)
	assert.Equal(t, model.DeclarationCompleted, final.Status)
	assert.Equal(t, "point-1", final.PointID)

	resident, err := led.Account(ctx, "resident-1")
	require.NoError(t, err)
	collector, err := led.Account(ctx, "collector-1")
	require.NoError(t, err)
	point, err := led.Account(ctx, "point-1")
	require.NoError(t, err)

	assert.InDelta(t, 19.6*0.70, resident.Balance, 1e-9)
	assert.InDelta(t, 19.6*0.30, collector.Balance, 1e-9)
	assert.InDelta(t, 100-19.6, point.Balance, 1e-9)
	assert.InDelta(t, 7, resident.RecycledKg, 1e-9, "confirmed mass accrues to the resident")
}

func TestLiquidateTwice(t *testing.T) {
	mats, led := newTestMaterials(t)
	ctx := context.Background()
	seedAccounts(t, led,
		model.Account{ID: "resident-1"},
		model.Account{ID: "point-1", Balance: 100},
	)

	decl, err := mats.CreateDeclaration(ctx, CreateDeclarationInput{
		ResidentID: "resident-1", Material: "glass", Quantity: 1,
		EstimatedWeight: 2, EstimatedValue: 50,
	})
	require.NoError(t, err)

	require.NoError(t, mats.LiquidateAtPoint(ctx, "point-1", decl.ID))
	err = mats.LiquidateAtPoint(ctx, "point-1", decl.ID)
	assert.ErrorIs(t, err, model.ErrAlreadySettled)

	resident, getErr := led.Account(ctx, "resident-1")
	require.NoError(t, getErr)
	assert.InDelta(t, 35, resident.Balance, 1e-9, "a repeat liquidation must not pay twice")
}

func TestLiquidateWithoutCollector(t *testing.T) {
	mats, led := newTestMaterials(t)
	ctx := context.Background()
	seedAccounts(t, led,
		model.Account{ID: "resident-1"},
		model.Account{ID: "point-1", Balance: 100},
	)

	decl, err := mats.CreateDeclaration(ctx, CreateDeclarationInput{
		ResidentID: "resident-1", Material: "paper", Quantity: 1,
		EstimatedWeight: 1, EstimatedValue: 50,
	})
	require.NoError(t, err)

	require.NoError(t, mats.LiquidateAtPoint(ctx, "point-1", decl.ID))

	resident, getErr := led.Account(ctx, "resident-1")
	require.NoError(t, getErr)
	point, getErr := led.Account(ctx, "point-1")
	require.NoError(t, getErr)
	assert.InDelta(t, 35, resident.Balance, 1e-9)
	assert.InDelta(t, 65, point.Balance, 1e-9, "only the resident leg runs without a collector")
}

func TestCreateDeclarationUsesEstimator(t *testing.T) {
	mats, led := newTestMaterials(t)
	ctx := context.Background()
	seedAccounts(t, led, model.Account{ID: "resident-1"})

	decl, err := mats.CreateDeclaration(ctx, CreateDeclarationInput{
		ResidentID: "resident-1",
		Material:   "plastic",
		Quantity:   3,
	})
	require.NoError(t, err)

	// Missing weight and value come from the deterministic fallback over the
	// default description "3 x plastic".
	want := estimate.Fallback("3 x plastic", "plastic")
	assert.InDelta(t, want.Weight, decl.EstimatedWeight, 1e-9)
	assert.InDelta(t, want.Price, decl.EstimatedValue, 1e-9)
}

func TestCreateDeclarationValidation(t *testing.T) {
	mats, _ := newTestMaterials(t)
	ctx := context.Background()

	_, err := mats.CreateDeclaration(ctx, CreateDeclarationInput{Material: "paper", Quantity: 1})
	assert.ErrorIs(t, err, model.ErrValidation)

	_, err = mats.CreateDeclaration(ctx, CreateDeclarationInput{ResidentID: "r", Material: "paper"})
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestAcceptByCollectorInvalidTransition(t *testing.T) {
	mats, led := newTestMaterials(t)
	ctx := context.Background()
	seedAccounts(t, led, model.Account{ID: "resident-1"})

	decl, err := mats.CreateDeclaration(ctx, CreateDeclarationInput{
		ResidentID: "resident-1", Material: "metal", Quantity: 1,
		EstimatedWeight: 1, EstimatedValue: 1,
	})
	require.NoError(t, err)

	require.NoError(t, mats.AcceptByCollector(ctx, decl.ID, "collector-1"))
	err = mats.AcceptByCollector(ctx, decl.ID, "collector-2")
	assert.ErrorIs(t, err, model.ErrInvalidTransition)
}

func TestConfirmWeightRequiresAssignedCollector(t *testing.T) {
	mats, led := newTestMaterials(t)
	ctx := context.Background()
	seedAccounts(t, led, model.Account{ID: "resident-1"})

	decl, err := mats.CreateDeclaration(ctx, CreateDeclarationInput{
		ResidentID: "resident-1", Material: "metal", Quantity: 1,
		EstimatedWeight: 1, EstimatedValue: 1,
	})
	require.NoError(t, err)

	_, err = mats.ConfirmWeight(ctx, decl.ID, 3)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)
}

func TestCollectionRouteOrdersStops(t *testing.T) {
	mats, led := newTestMaterials(t)
	ctx := context.Background()
	seedAccounts(t, led, model.Account{ID: "resident-1"})

	coords := [][2]float64{{0, 0}, {5, 5}, {1, 1}}
	ids := make([]string, 0, 3)
	for _, c := range coords {
		decl, err := mats.CreateDeclaration(ctx, CreateDeclarationInput{
			ResidentID: "resident-1", Material: "paper", Quantity: 1,
			EstimatedWeight: 1, EstimatedValue: 1,
			Lat: c[0], Lng: c[1],
		})
		require.NoError(t, err)
		require.NoError(t, mats.AcceptByCollector(ctx, decl.ID, "collector-1"))
		ids = append(ids, decl.ID)
	}

	routeOut, err := mats.CollectionRoute(ctx, "collector-1")
	require.NoError(t, err)
	require.Len(t, routeOut, 3)
	// Greedy nearest-neighbor from (0,0): (1,1) before (5,5).
	assert.Equal(t, ids[0], routeOut[0].ID)
	assert.Equal(t, ids[2], routeOut[1].ID)
	assert.Equal(t, ids[1], routeOut[2].ID)
}

func TestCollectionRouteSingleStop(t *testing.T) {
	mats, led := newTestMaterials(t)
	ctx := context.Background()
	seedAccounts(t, led, model.Account{ID: "resident-1"})

	decl, err := mats.CreateDeclaration(ctx, CreateDeclarationInput{
		ResidentID: "resident-1", Material: "paper", Quantity: 1,
		EstimatedWeight: 1, EstimatedValue: 1,
	})
	require.NoError(t, err)
	require.NoError(t, mats.AcceptByCollector(ctx, decl.ID, "collector-1"))

	routeOut, err := mats.CollectionRoute(ctx, "collector-1")
	require.NoError(t, err)
	require.Len(t, routeOut, 1)
	assert.Equal(t, decl.ID, routeOut[0].ID)
}
