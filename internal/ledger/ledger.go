package ledger

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"sync"

	"go.uber.org/zap"

	"ecocash/internal/model"
	"ecocash/internal/store"
)

const stripes = 64

// Ledger owns every mutation of account balance and points. Reads and writes
// go through the persistence gateway; multi-account operations are
// serialized through per-account locks taken in sorted order, so two legs of
// the same transfer never interleave with another writer in this process,
// and each one is journaled so a partial transfer is detectable.
type Ledger struct {
	store store.Gateway
	bus   Bus
	log   *zap.Logger
	locks [stripes]sync.Mutex
}

func New(g store.Gateway, bus Bus, log *zap.Logger) *Ledger {
	return &Ledger{store: g, bus: bus, log: log}
}

// CreateAccount stores a new user record.
func (l *Ledger) CreateAccount(ctx context.Context, acct model.Account) error {
	if acct.ID == "" {
		return fmt.Errorf("%w: account id is required", model.ErrValidation)
	}
	return l.store.Create(ctx, model.CollectionUsers, acct.ID, acct)
}

// Account returns the current account snapshot.
func (l *Ledger) Account(ctx context.Context, id string) (model.Account, error) {
	acct, _, err := store.GetAs[model.Account](ctx, l.store, model.CollectionUsers, id)
	return acct, err
}

// Accounts lists every user record.
func (l *Ledger) Accounts(ctx context.Context) ([]model.Account, error) {
	snaps, err := l.store.List(ctx, model.CollectionUsers)
	if err != nil {
		return nil, err
	}
	out := make([]model.Account, 0, len(snaps))
	for _, snap := range snaps {
		var acct model.Account
		if err := snap.Decode(&acct); err != nil {
			return nil, err
		}
		out = append(out, acct)
	}
	return out, nil
}

// Transfer unconditionally debits fromId and credits toId. There is no
// balance-sufficiency check; the source account may go negative (the
// point-of-sale fronts cash during liquidation). The two writes are not one
// transaction: a failed credit leaves a FAILED journal entry carrying the
// applied debit for reconciliation.
func (l *Ledger) Transfer(ctx context.Context, fromID, toID string, amount float64) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	if fromID == "" || toID == "" || fromID == toID {
		return fmt.Errorf("%w: transfer requires two distinct accounts", model.ErrValidation)
	}

	unlock := l.lockPair(fromID, toID)
	defer unlock()

	j := l.BeginJournal("transfer", fromID, toID, amount, "balance")

	if err := l.adjustBalance(ctx, fromID, -amount, false); err != nil {
		j.Fail(fmt.Sprintf("debit leg failed: %v", err))
		return err
	}
	if err := l.adjustBalance(ctx, toID, amount, false); err != nil {
		j.Fail(fmt.Sprintf("credit leg failed after debit was applied: %v", err))
		return fmt.Errorf("credit leg after applied debit of %.2f from %s: %w", amount, fromID, err)
	}

	j.Commit()
	return nil
}

// AddBalance unconditionally credits the account.
func (l *Ledger) AddBalance(ctx context.Context, id string, amount float64) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	l.lockFor(id).Lock()
	defer l.lockFor(id).Unlock()
	return l.adjustBalance(ctx, id, amount, false)
}

// AddPoints unconditionally credits reputation points.
func (l *Ledger) AddPoints(ctx context.Context, id string, points int64) error {
	if points <= 0 {
		return fmt.Errorf("%w: points must be positive", model.ErrValidation)
	}
	l.lockFor(id).Lock()
	defer l.lockFor(id).Unlock()
	return l.adjustPoints(ctx, id, points, false)
}

// SpendBalance debits exactly amount, or fails with ErrInsufficientFunds and
// mutates nothing.
func (l *Ledger) SpendBalance(ctx context.Context, id string, amount float64) error {
	if err := checkAmount(amount); err != nil {
		return err
	}
	l.lockFor(id).Lock()
	defer l.lockFor(id).Unlock()
	return l.adjustBalance(ctx, id, -amount, true)
}

// SpendPoints debits exactly points, or fails with ErrInsufficientPoints and
// mutates nothing.
func (l *Ledger) SpendPoints(ctx context.Context, id string, points int64) error {
	if points <= 0 {
		return fmt.Errorf("%w: points must be positive", model.ErrValidation)
	}
	l.lockFor(id).Lock()
	defer l.lockFor(id).Unlock()
	return l.adjustPoints(ctx, id, -points, true)
}

// AddRecycledMass adds confirmed kilograms to the resident's accumulated
// recycled mass.
func (l *Ledger) AddRecycledMass(ctx context.Context, id string, kg float64) error {
	if err := checkAmount(kg); err != nil {
		return err
	}
	l.lockFor(id).Lock()
	defer l.lockFor(id).Unlock()

	snap, err := l.store.Get(ctx, model.CollectionUsers, id)
	if err != nil {
		return err
	}
	var acct model.Account
	if err := snap.Decode(&acct); err != nil {
		return err
	}
	_, err = l.store.Update(ctx, model.CollectionUsers, id, snap.Rev, map[string]any{
		"recycled_kg": acct.RecycledKg + kg,
	})
	return err
}

func (l *Ledger) adjustBalance(ctx context.Context, id string, delta float64, guarded bool) error {
	snap, err := l.store.Get(ctx, model.CollectionUsers, id)
	if err != nil {
		return err
	}
	var acct model.Account
	if err := snap.Decode(&acct); err != nil {
		return err
	}
	next := acct.Balance + delta
	if guarded && next < 0 {
		return fmt.Errorf("%w: account %s has %.2f, needs %.2f", model.ErrInsufficientFunds, id, acct.Balance, -delta)
	}
	_, err = l.store.Update(ctx, model.CollectionUsers, id, snap.Rev, map[string]any{"balance": next})
	return err
}

func (l *Ledger) adjustPoints(ctx context.Context, id string, delta int64, guarded bool) error {
	snap, err := l.store.Get(ctx, model.CollectionUsers, id)
	if err != nil {
		return err
	}
	var acct model.Account
	if err := snap.Decode(&acct); err != nil {
		return err
	}
	next := acct.Points + delta
	if guarded && next < 0 {
		return fmt.Errorf("%w: account %s has %d, needs %d", model.ErrInsufficientPoints, id, acct.Points, -delta)
	}
	_, err = l.store.Update(ctx, model.CollectionUsers, id, snap.Rev, map[string]any{"points": next})
	return err
}

func stripeIdx(id string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return h.Sum32() % stripes
}

func (l *Ledger) lockFor(id string) *sync.Mutex {
	return &l.locks[stripeIdx(id)]
}

// lockPair takes both account stripes in index order so concurrent
// transfers crossing the same pair cannot deadlock.
func (l *Ledger) lockPair(a, b string) func() {
	i, j := stripeIdx(a), stripeIdx(b)
	if i == j {
		l.locks[i].Lock()
		return l.locks[i].Unlock
	}
	if i > j {
		i, j = j, i
	}
	l.locks[i].Lock()
	l.locks[j].Lock()
	return func() {
		l.locks[j].Unlock()
		l.locks[i].Unlock()
	}
}

func checkAmount(amount float64) error {
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount <= 0 {
		return fmt.Errorf("%w: amount must be a positive number", model.ErrValidation)
	}
	return nil
}
