package market

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"ecocash/internal/estimate"
	"ecocash/internal/ledger"
	"ecocash/internal/model"
	"ecocash/internal/route"
	"ecocash/internal/store"
)

const (
	residentShareRate  = 0.70
	collectorShareRate = 0.30
)

// Materials drives a recyclable-material declaration from creation through
// collection to point-of-sale liquidation.
type Materials struct {
	store     store.Gateway
	ledger    *ledger.Ledger
	estimator estimate.Estimator
	optimizer route.Optimizer
	log       *zap.Logger
}

func NewMaterials(g store.Gateway, l *ledger.Ledger, est estimate.Estimator, opt route.Optimizer, log *zap.Logger) *Materials {
	return &Materials{store: g, ledger: l, estimator: est, optimizer: opt, log: log}
}

// CreateDeclarationInput carries a resident's new sale offer. When weight or
// value is missing the estimator fills them in from the description.
type CreateDeclarationInput struct {
	ResidentID      string  `json:"resident_id"`
	Material        string  `json:"material"`
	Quantity        int     `json:"quantity"`
	EstimatedWeight float64 `json:"estimated_weight"`
	EstimatedValue  float64 `json:"estimated_value"`
	Description     string  `json:"description"`
	Location        string  `json:"location"`
	Lat             float64 `json:"lat"`
	Lng             float64 `json:"lng"`
}

func (m *Materials) CreateDeclaration(ctx context.Context, in CreateDeclarationInput) (model.MaterialDeclaration, error) {
	if in.ResidentID == "" || in.Material == "" {
		return model.MaterialDeclaration{}, fmt.Errorf("%w: resident and material are required", model.ErrValidation)
	}
	if in.Quantity <= 0 {
		return model.MaterialDeclaration{}, fmt.Errorf("%w: quantity must be positive", model.ErrValidation)
	}

	weight, value := in.EstimatedWeight, in.EstimatedValue
	if weight <= 0 || value <= 0 {
		desc := in.Description
		if desc == "" {
			desc = fmt.Sprintf("%d x %s", in.Quantity, in.Material)
		}
		est, err := m.estimator.Estimate(ctx, desc, in.Material)
		if err != nil {
			return model.MaterialDeclaration{}, err
		}
		if weight <= 0 {
			weight = est.Weight
		}
		if value <= 0 {
			value = est.Price
		}
	}

	decl := model.MaterialDeclaration{
		ID:              model.NewID(model.PrefixDeclaration),
		ResidentID:      in.ResidentID,
		Material:        in.Material,
		Quantity:        in.Quantity,
		EstimatedWeight: weight,
		EstimatedValue:  value,
		Status:          model.DeclarationPending,
		Location:        in.Location,
		Lat:             in.Lat,
		Lng:             in.Lng,
		CreatedAt:       time.Now().UTC(),
	}
	if err := m.store.Create(ctx, model.CollectionOffers, decl.ID, decl); err != nil {
		return model.MaterialDeclaration{}, err
	}
	return decl, nil
}

// Declaration returns one declaration by id.
func (m *Materials) Declaration(ctx context.Context, id string) (model.MaterialDeclaration, error) {
	decl, _, err := store.GetAs[model.MaterialDeclaration](ctx, m.store, model.CollectionOffers, id)
	return decl, err
}

// Declarations lists every declaration.
func (m *Materials) Declarations(ctx context.Context) ([]model.MaterialDeclaration, error) {
	snaps, err := m.store.List(ctx, model.CollectionOffers)
	if err != nil {
		return nil, err
	}
	out := make([]model.MaterialDeclaration, 0, len(snaps))
	for _, snap := range snaps {
		var decl model.MaterialDeclaration
		if err := snap.Decode(&decl); err != nil {
			return nil, err
		}
		out = append(out, decl)
	}
	return out, nil
}

// AcceptByCollector binds a collector to a pending declaration.
func (m *Materials) AcceptByCollector(ctx context.Context, declarationID, collectorID string) error {
	if collectorID == "" {
		return fmt.Errorf("%w: collector id is required", model.ErrValidation)
	}
	snap, err := m.store.Get(ctx, model.CollectionOffers, declarationID)
	if err != nil {
		return err
	}
	var decl model.MaterialDeclaration
	if err := snap.Decode(&decl); err != nil {
		return err
	}
	if decl.Status != model.DeclarationPending && decl.Status != model.DeclarationApproved {
		return fmt.Errorf("%w: declaration %s is %s, collector accept needs PENDING or APPROVED",
			model.ErrInvalidTransition, declarationID, decl.Status)
	}
	_, err = m.store.Update(ctx, model.CollectionOffers, declarationID, snap.Rev, map[string]any{
		"status":       model.DeclarationCollectorAssigned,
		"collector_id": collectorID,
	})
	return err
}

// ConfirmWeight records the weighed mass and locks the final value: the
// estimated value is re-scaled by actual/estimated weight, preserving the
// per-unit value implied by the original estimate.
func (m *Materials) ConfirmWeight(ctx context.Context, declarationID string, actualWeight float64) (model.MaterialDeclaration, error) {
	if actualWeight <= 0 {
		return model.MaterialDeclaration{}, fmt.Errorf("%w: actual weight must be positive", model.ErrValidation)
	}
	snap, err := m.store.Get(ctx, model.CollectionOffers, declarationID)
	if err != nil {
		return model.MaterialDeclaration{}, err
	}
	var decl model.MaterialDeclaration
	if err := snap.Decode(&decl); err != nil {
		return model.MaterialDeclaration{}, err
	}
	if decl.Status != model.DeclarationCollectorAssigned {
		return model.MaterialDeclaration{}, fmt.Errorf("%w: declaration %s is %s, weight confirmation needs COLLECTOR_ASSIGNED",
			model.ErrInvalidTransition, declarationID, decl.Status)
	}
	if decl.EstimatedWeight <= 0 {
		return model.MaterialDeclaration{}, fmt.Errorf("%w: declaration %s has no estimated weight", model.ErrValidation, declarationID)
	}

	value := decl.EstimatedValue * (actualWeight / decl.EstimatedWeight)
	updated, err := m.store.Update(ctx, model.CollectionOffers, declarationID, snap.Rev, map[string]any{
		"status":          model.DeclarationCollected,
		"actual_weight":   actualWeight,
		"estimated_value": value,
	})
	if err != nil {
		return model.MaterialDeclaration{}, err
	}
	var out model.MaterialDeclaration
	if err := updated.Decode(&out); err != nil {
		return model.MaterialDeclaration{}, err
	}
	return out, nil
}

// LiquidateAtPoint settles a declaration at a point of sale with the fixed
// 70/30 split. The point account fronts the cash for both legs. The status
// transition commits first under the read revision, so a concurrent
// duplicate liquidation loses the race instead of paying twice.
func (m *Materials) LiquidateAtPoint(ctx context.Context, pointID, declarationID string) error {
	if pointID == "" {
		return fmt.Errorf("%w: point id is required", model.ErrValidation)
	}
	snap, err := m.store.Get(ctx, model.CollectionOffers, declarationID)
	if err != nil {
		return err
	}
	var decl model.MaterialDeclaration
	if err := snap.Decode(&decl); err != nil {
		return err
	}
	if decl.Status == model.DeclarationCompleted {
		return fmt.Errorf("%w: declaration %s", model.ErrAlreadySettled, declarationID)
	}

	if _, err := m.store.Update(ctx, model.CollectionOffers, declarationID, snap.Rev, map[string]any{
		"status":   model.DeclarationCompleted,
		"point_id": pointID,
	}); err != nil {
		if cur, getErr := m.Declaration(ctx, declarationID); getErr == nil && cur.Status == model.DeclarationCompleted {
			return fmt.Errorf("%w: declaration %s", model.ErrAlreadySettled, declarationID)
		}
		return err
	}

	residentShare := decl.EstimatedValue * residentShareRate
	collectorShare := decl.EstimatedValue * collectorShareRate

	if err := m.ledger.Transfer(ctx, pointID, decl.ResidentID, residentShare); err != nil {
		return fmt.Errorf("resident leg of liquidation %s: %w", declarationID, err)
	}
	if decl.CollectorID != "" {
		if err := m.ledger.Transfer(ctx, pointID, decl.CollectorID, collectorShare); err != nil {
			return fmt.Errorf("collector leg of liquidation %s: %w", declarationID, err)
		}
	}

	mass := decl.ActualWeight
	if mass <= 0 {
		mass = decl.EstimatedWeight
	}
	if err := m.ledger.AddRecycledMass(ctx, decl.ResidentID, mass); err != nil {
		m.log.Warn("recycled mass credit failed",
			zap.String("declaration", declarationID),
			zap.String("resident", decl.ResidentID),
			zap.Error(err))
	}
	return nil
}

// CollectionRoute orders a collector's assigned pickups. Advisory only: when
// the optimizer fails the declarations come back in stored order.
func (m *Materials) CollectionRoute(ctx context.Context, collectorID string) ([]model.MaterialDeclaration, error) {
	all, err := m.Declarations(ctx)
	if err != nil {
		return nil, err
	}
	var assigned []model.MaterialDeclaration
	for _, decl := range all {
		if decl.CollectorID == collectorID && decl.Status == model.DeclarationCollectorAssigned {
			assigned = append(assigned, decl)
		}
	}
	if len(assigned) < 2 {
		return assigned, nil
	}

	locations := make([]route.Location, len(assigned))
	for i, decl := range assigned {
		locations[i] = route.Location{Label: decl.ID, Lat: decl.Lat, Lng: decl.Lng}
	}
	ordered := route.Reorder(ctx, m.optimizer, m.log, locations)

	byID := make(map[string]model.MaterialDeclaration, len(assigned))
	for _, decl := range assigned {
		byID[decl.ID] = decl
	}
	out := make([]model.MaterialDeclaration, 0, len(ordered))
	for _, loc := range ordered {
		out = append(out, byID[loc.Label])
	}
	return out, nil
}
