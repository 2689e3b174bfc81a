package ledger

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ecocash/internal/model"
	"ecocash/internal/store"
)

// captureBus records every journal entry published by the ledger.
type captureBus struct {
	mu      sync.Mutex
	entries []JournalEntry
}

func (b *captureBus) Publish(subject string, data []byte) error {
	var entry JournalEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = append(b.entries, entry)
	return nil
}

func (b *captureBus) last(t *testing.T) JournalEntry {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	require.NotEmpty(t, b.entries)
	return b.entries[len(b.entries)-1]
}

func newTestLedger(t *testing.T) (*Ledger, *captureBus) {
	t.Helper()
	m, err := store.NewMirror(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	bus := &captureBus{}
	return New(m, bus, zap.NewNop()), bus
}

func mustAccount(t *testing.T, l *Ledger, acct model.Account) {
	t.Helper()
	require.NoError(t, l.CreateAccount(context.Background(), acct))
}

func TestCreateAccountRequiresID(t *testing.T) {
	l, _ := newTestLedger(t)
	err := l.CreateAccount(context.Background(), model.Account{})
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestTransferConservation(t *testing.T) {
	l, bus := newTestLedger(t)
	ctx := context.Background()
	mustAccount(t, l, model.Account{ID: "a", Balance: 100})
	mustAccount(t, l, model.Account{ID: "b", Balance: 50})

	require.NoError(t, l.Transfer(ctx, "a", "b", 30))

	a, err := l.Account(ctx, "a")
	require.NoError(t, err)
	b, err := l.Account(ctx, "b")
	require.NoError(t, err)
	assert.InDelta(t, 70, a.Balance, 1e-9)
	assert.InDelta(t, 80, b.Balance, 1e-9)
	assert.InDelta(t, 150, a.Balance+b.Balance, 1e-9, "transfer conserves total balance")

	entry := bus.last(t)
	assert.Equal(t, "transfer", entry.Kind)
	assert.Equal(t, EntryCommitted, entry.Status)
}

func TestTransferAllowsNegativeSource(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	mustAccount(t, l, model.Account{ID: "point", Balance: 10})
	mustAccount(t, l, model.Account{ID: "resident"})

	require.NoError(t, l.Transfer(ctx, "point", "resident", 25))

	point, err := l.Account(ctx, "point")
	require.NoError(t, err)
	assert.InDelta(t, -15, point.Balance, 1e-9, "the source may go negative")
}

func TestTransferValidation(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	mustAccount(t, l, model.Account{ID: "a", Balance: 100})

	assert.ErrorIs(t, l.Transfer(ctx, "a", "b", 0), model.ErrValidation)
	assert.ErrorIs(t, l.Transfer(ctx, "a", "b", -5), model.ErrValidation)
	assert.ErrorIs(t, l.Transfer(ctx, "a", "a", 10), model.ErrValidation)
	assert.ErrorIs(t, l.Transfer(ctx, "", "b", 10), model.ErrValidation)
}

func TestTransferCreditLegFailureIsJournaled(t *testing.T) {
	l, bus := newTestLedger(t)
	ctx := context.Background()
	mustAccount(t, l, model.Account{ID: "a", Balance: 100})

	err := l.Transfer(ctx, "a", "missing", 30)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrEntityNotFound)

	// The debit landed before the credit failed; the FAILED journal entry
	// carries the evidence for reconciliation.
	a, getErr := l.Account(ctx, "a")
	require.NoError(t, getErr)
	assert.InDelta(t, 70, a.Balance, 1e-9)

	entry := bus.last(t)
	assert.Equal(t, EntryFailed, entry.Status)
	assert.Contains(t, entry.Detail, "credit leg")
}

func TestSpendBalance(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	mustAccount(t, l, model.Account{ID: "a", Balance: 100})

	require.NoError(t, l.SpendBalance(ctx, "a", 100))

	a, err := l.Account(ctx, "a")
	require.NoError(t, err)
	assert.InDelta(t, 0, a.Balance, 1e-9, "spending the exact balance succeeds")
}

func TestSpendBalanceInsufficient(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	mustAccount(t, l, model.Account{ID: "a", Balance: 40})

	err := l.SpendBalance(ctx, "a", 50)
	assert.ErrorIs(t, err, model.ErrInsufficientFunds)

	a, getErr := l.Account(ctx, "a")
	require.NoError(t, getErr)
	assert.InDelta(t, 40, a.Balance, 1e-9, "a refused spend mutates nothing")
}

func TestSpendPointsInsufficient(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	mustAccount(t, l, model.Account{ID: "a", Points: 40})

	err := l.SpendPoints(ctx, "a", 50)
	assert.ErrorIs(t, err, model.ErrInsufficientPoints)

	a, getErr := l.Account(ctx, "a")
	require.NoError(t, getErr)
	assert.Equal(t, int64(40), a.Points)
}

func TestAddPointsAndSpend(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	mustAccount(t, l, model.Account{ID: "a"})

	require.NoError(t, l.AddPoints(ctx, "a", 120))
	require.NoError(t, l.SpendPoints(ctx, "a", 50))

	a, err := l.Account(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, int64(70), a.Points)
}

func TestAddRecycledMass(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	mustAccount(t, l, model.Account{ID: "a", RecycledKg: 2.5})

	require.NoError(t, l.AddRecycledMass(ctx, "a", 7))

	a, err := l.Account(ctx, "a")
	require.NoError(t, err)
	assert.InDelta(t, 9.5, a.RecycledKg, 1e-9)
}

func TestAccounts(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	mustAccount(t, l, model.Account{ID: "a"})
	mustAccount(t, l, model.Account{ID: "b"})

	all, err := l.Accounts(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestLockPairSameStripe(t *testing.T) {
	l, _ := newTestLedger(t)
	// Force both ids onto the same stripe and make sure the unlock does not
	// double-unlock.
	var a, b string
	for i := 0; ; i++ {
		a = "acct-a"
		b = string(rune('b' + i))
		if stripeIdx(a) == stripeIdx(b) {
			break
		}
	}
	unlock := l.lockPair(a, b)
	unlock()
	unlock2 := l.lockPair(a, b)
	unlock2()
}

func TestConcurrentTransfersConserveTotal(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	mustAccount(t, l, model.Account{ID: "a", Balance: 1000})
	mustAccount(t, l, model.Account{ID: "b", Balance: 1000})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		from, to := "a", "b"
		if i%2 == 0 {
			from, to = to, from
		}
		go func(from, to string) {
			defer wg.Done()
			_ = l.Transfer(ctx, from, to, 10)
		}(from, to)
	}
	wg.Wait()

	a, err := l.Account(ctx, "a")
	require.NoError(t, err)
	b, err := l.Account(ctx, "b")
	require.NoError(t, err)
	assert.InDelta(t, 2000, a.Balance+b.Balance, 1e-9)
}
