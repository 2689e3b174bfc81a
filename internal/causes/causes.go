package causes

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"ecocash/internal/ledger"
	"ecocash/internal/model"
	"ecocash/internal/store"
)

// Engine moves reputation points from voters into cause jackpots. Jackpot
// and voter totals only ever grow.
type Engine struct {
	store  store.Gateway
	ledger *ledger.Ledger
	log    *zap.Logger
}

func New(g store.Gateway, l *ledger.Ledger, log *zap.Logger) *Engine {
	return &Engine{store: g, ledger: l, log: log}
}

// CreateCause registers a new environmental cause.
func (e *Engine) CreateCause(ctx context.Context, title string, targetPoints int64) (model.Cause, error) {
	if title == "" {
		return model.Cause{}, fmt.Errorf("%w: title is required", model.ErrValidation)
	}
	if targetPoints <= 0 {
		return model.Cause{}, fmt.Errorf("%w: target points must be positive", model.ErrValidation)
	}
	cause := model.Cause{
		ID:           model.NewID(model.PrefixCause),
		Title:        title,
		TargetPoints: targetPoints,
	}
	if err := e.store.Create(ctx, model.CollectionCauses, cause.ID, cause); err != nil {
		return model.Cause{}, err
	}
	return cause, nil
}

// Cause returns one cause by id.
func (e *Engine) Cause(ctx context.Context, id string) (model.Cause, error) {
	cause, _, err := store.GetAs[model.Cause](ctx, e.store, model.CollectionCauses, id)
	return cause, err
}

// Causes lists every cause.
func (e *Engine) Causes(ctx context.Context) ([]model.Cause, error) {
	snaps, err := e.store.List(ctx, model.CollectionCauses)
	if err != nil {
		return nil, err
	}
	out := make([]model.Cause, 0, len(snaps))
	for _, snap := range snaps {
		var cause model.Cause
		if err := snap.Decode(&cause); err != nil {
			return nil, err
		}
		out = append(out, cause)
	}
	return out, nil
}

// Vote deducts points from the voter and adds them to the cause's jackpot.
// An insufficient voter mutates nothing. The debit and the jackpot credit
// are two writes; the journal records the pair so a failed second write is
// discoverable.
func (e *Engine) Vote(ctx context.Context, userID, causeID string, points int64) error {
	if points <= 0 {
		return fmt.Errorf("%w: points must be positive", model.ErrValidation)
	}

	snap, err := e.store.Get(ctx, model.CollectionCauses, causeID)
	if err != nil {
		return err
	}
	var cause model.Cause
	if err := snap.Decode(&cause); err != nil {
		return err
	}

	j := e.ledger.BeginJournal("vote", userID, causeID, float64(points), "points")

	if err := e.ledger.SpendPoints(ctx, userID, points); err != nil {
		j.Fail(fmt.Sprintf("voter debit refused: %v", err))
		return err
	}

	if _, err := e.store.Update(ctx, model.CollectionCauses, causeID, snap.Rev, map[string]any{
		"jackpot_points": cause.JackpotPoints + points,
		"voters_count":   cause.VotersCount + 1,
	}); err != nil {
		j.Fail(fmt.Sprintf("jackpot credit failed after voter debit was applied: %v", err))
		return fmt.Errorf("voter %s debited but cause %s not credited: %w", userID, causeID, err)
	}

	j.Commit()
	return nil
}
