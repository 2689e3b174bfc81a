package market

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"ecocash/internal/ledger"
	"ecocash/internal/model"
	"ecocash/internal/store"
)

const serviceFeeRate = 0.05

// Negotiations drives an on-demand service from open demand through provider
// binding, counter-offers, escrow payment and scheduling to completion.
type Negotiations struct {
	store  store.Gateway
	ledger *ledger.Ledger
	log    *zap.Logger
}

func NewNegotiations(g store.Gateway, l *ledger.Ledger, log *zap.Logger) *Negotiations {
	return &Negotiations{store: g, ledger: l, log: log}
}

type CreateServiceInput struct {
	RequesterID    string  `json:"requester_id"`
	Title          string  `json:"title"`
	Description    string  `json:"description"`
	Category       string  `json:"category"`
	RequesterOffer float64 `json:"requester_offer"`
}

func (n *Negotiations) CreateService(ctx context.Context, in CreateServiceInput) (model.EcoService, error) {
	if in.RequesterID == "" || in.Title == "" {
		return model.EcoService{}, fmt.Errorf("%w: requester and title are required", model.ErrValidation)
	}
	if in.RequesterOffer <= 0 {
		return model.EcoService{}, fmt.Errorf("%w: requester offer must be positive", model.ErrValidation)
	}

	svc := model.EcoService{
		ID:              model.NewID(model.PrefixService),
		RequesterID:     in.RequesterID,
		Title:           in.Title,
		Description:     in.Description,
		Category:        in.Category,
		RequesterOffer:  in.RequesterOffer,
		NegotiatedPrice: in.RequesterOffer,
		Status:          model.ServiceOpen,
		AgreementStatus: model.AgreementWaitingProvider,
		CreatedAt:       time.Now().UTC(),
	}
	if err := n.store.Create(ctx, model.CollectionServices, svc.ID, svc); err != nil {
		return model.EcoService{}, err
	}
	return svc, nil
}

// Service returns one service by id.
func (n *Negotiations) Service(ctx context.Context, id string) (model.EcoService, error) {
	svc, _, err := store.GetAs[model.EcoService](ctx, n.store, model.CollectionServices, id)
	return svc, err
}

// Services lists every service.
func (n *Negotiations) Services(ctx context.Context) ([]model.EcoService, error) {
	snaps, err := n.store.List(ctx, model.CollectionServices)
	if err != nil {
		return nil, err
	}
	out := make([]model.EcoService, 0, len(snaps))
	for _, snap := range snaps {
		var svc model.EcoService
		if err := snap.Decode(&svc); err != nil {
			return nil, err
		}
		out = append(out, svc)
	}
	return out, nil
}

// BindProvider claims an open demand and starts negotiating.
func (n *Negotiations) BindProvider(ctx context.Context, serviceID, providerID, scope string) error {
	if providerID == "" {
		return fmt.Errorf("%w: provider id is required", model.ErrValidation)
	}
	snap, svc, err := n.load(ctx, serviceID)
	if err != nil {
		return err
	}
	if svc.Status != model.ServiceOpen {
		return fmt.Errorf("%w: service %s is %s, binding needs OPEN", model.ErrInvalidTransition, serviceID, svc.Status)
	}

	fields := map[string]any{
		"status":           model.ServiceAccepted,
		"agreement_status": model.AgreementNegotiating,
		"provider_id":      providerID,
	}
	if scope != "" {
		fields["scope"] = scope
	}
	_, err = n.store.Update(ctx, model.CollectionServices, serviceID, snap.Rev, fields)
	return err
}

// CounterOffer records a new figure from either side. No turn-taking is
// enforced; the negotiated price always tracks the latest counter.
func (n *Negotiations) CounterOffer(ctx context.Context, serviceID string, amount float64, isProvider bool, scope string) error {
	if amount <= 0 {
		return fmt.Errorf("%w: offer must be positive", model.ErrValidation)
	}
	snap, svc, err := n.load(ctx, serviceID)
	if err != nil {
		return err
	}
	if svc.Status != model.ServiceAccepted {
		return fmt.Errorf("%w: service %s is %s, countering needs ACCEPTED", model.ErrInvalidTransition, serviceID, svc.Status)
	}
	if svc.AgreementStatus == model.AgreementAgreed {
		return fmt.Errorf("%w: service %s price is already agreed", model.ErrInvalidTransition, serviceID)
	}

	fields := map[string]any{"negotiated_price": amount}
	if isProvider {
		fields["provider_offer"] = amount
		if scope != "" {
			fields["scope"] = scope
		}
	} else {
		fields["requester_offer"] = amount
	}
	_, err = n.store.Update(ctx, model.CollectionServices, serviceID, snap.Rev, fields)
	return err
}

// AcceptPrice adopts the counterpart's most recent figure. Equal offers are
// implicit agreement, never an error.
func (n *Negotiations) AcceptPrice(ctx context.Context, serviceID string) error {
	snap, svc, err := n.load(ctx, serviceID)
	if err != nil {
		return err
	}
	if svc.Status != model.ServiceAccepted {
		return fmt.Errorf("%w: service %s is %s, acceptance needs ACCEPTED", model.ErrInvalidTransition, serviceID, svc.Status)
	}
	if svc.AgreementStatus == model.AgreementAgreed {
		return nil
	}
	_, err = n.store.Update(ctx, model.CollectionServices, serviceID, snap.Rev, map[string]any{
		"agreement_status": model.AgreementAgreed,
	})
	return err
}

// PayEscrow debits the requester by the negotiated price and holds it until
// release. Fails with ErrInsufficientFunds before any mutation.
func (n *Negotiations) PayEscrow(ctx context.Context, serviceID, payerID string) error {
	snap, svc, err := n.load(ctx, serviceID)
	if err != nil {
		return err
	}
	if payerID != svc.RequesterID {
		return fmt.Errorf("%w: only the requester pays escrow", model.ErrValidation)
	}
	if svc.Status == model.ServiceTaxPaid || svc.Status == model.ServiceScheduled || svc.Status == model.ServiceCompleted {
		return fmt.Errorf("%w: service %s escrow", model.ErrAlreadySettled, serviceID)
	}
	if svc.AgreementStatus != model.AgreementAgreed {
		return fmt.Errorf("%w: service %s has no agreed price", model.ErrInvalidTransition, serviceID)
	}

	j := n.ledger.BeginJournal("escrow_payment", payerID, serviceID, svc.NegotiatedPrice, "balance")

	if err := n.ledger.SpendBalance(ctx, payerID, svc.NegotiatedPrice); err != nil {
		j.Fail(fmt.Sprintf("escrow debit refused: %v", err))
		return err
	}
	if _, err := n.store.Update(ctx, model.CollectionServices, serviceID, snap.Rev, map[string]any{
		"status": model.ServiceTaxPaid,
	}); err != nil {
		if errors.Is(err, model.ErrStaleWrite) {
			if cur, getErr := n.Service(ctx, serviceID); getErr == nil && cur.Status != model.ServiceAccepted {
				// A concurrent payment won the status write. Give this
				// debit back rather than hold two escrows for one service.
				if refundErr := n.ledger.AddBalance(ctx, payerID, svc.NegotiatedPrice); refundErr != nil {
					j.Fail(fmt.Sprintf("escrow lost the race and the refund failed: %v", refundErr))
					return fmt.Errorf("service %s escrow refund failed: %w", serviceID, refundErr)
				}
				j.Fail("escrow lost the race: debit refunded")
				return fmt.Errorf("%w: service %s escrow", model.ErrAlreadySettled, serviceID)
			}
		}
		j.Fail(fmt.Sprintf("status write failed after escrow debit was applied: %v", err))
		return fmt.Errorf("escrow paid but service %s not marked: %w", serviceID, err)
	}

	j.Commit()
	return nil
}

// ScheduleService stores the meeting both sides confirmed.
func (n *Negotiations) ScheduleService(ctx context.Context, serviceID string, sch model.Schedule) error {
	if sch.Date == "" || sch.Location == "" {
		return fmt.Errorf("%w: schedule needs a date and location", model.ErrValidation)
	}
	snap, svc, err := n.load(ctx, serviceID)
	if err != nil {
		return err
	}
	if svc.Status != model.ServiceTaxPaid {
		return fmt.Errorf("%w: service %s is %s, scheduling needs TAX_PAID", model.ErrInvalidTransition, serviceID, svc.Status)
	}
	_, err = n.store.Update(ctx, model.CollectionServices, serviceID, snap.Rev, map[string]any{
		"status":   model.ServiceScheduled,
		"schedule": sch,
	})
	return err
}

// ReleaseEscrow pays the provider the negotiated price net of the fixed 5%
// fee and completes the service. Releasing an already-completed service is a
// no-op: the status transition commits under the read revision before any
// credit, so a second release, concurrent or repeated, cannot double-pay.
func (n *Negotiations) ReleaseEscrow(ctx context.Context, serviceID string) error {
	snap, svc, err := n.load(ctx, serviceID)
	if err != nil {
		return err
	}
	if svc.Status == model.ServiceCompleted {
		return nil
	}
	if svc.Status != model.ServiceScheduled {
		return fmt.Errorf("%w: service %s is %s, release needs SCHEDULED", model.ErrInvalidTransition, serviceID, svc.Status)
	}
	if svc.ProviderID == "" {
		return fmt.Errorf("%w: service %s has no provider", model.ErrValidation, serviceID)
	}

	fee := svc.NegotiatedPrice * serviceFeeRate
	payout := svc.NegotiatedPrice - fee

	j := n.ledger.BeginJournal("escrow_release", serviceID, svc.ProviderID, payout, "balance")

	if _, err := n.store.Update(ctx, model.CollectionServices, serviceID, snap.Rev, map[string]any{
		"status": model.ServiceCompleted,
	}); err != nil {
		if cur, getErr := n.Service(ctx, serviceID); getErr == nil && cur.Status == model.ServiceCompleted {
			j.Fail("release lost the race: service already completed")
			return nil
		}
		j.Fail(fmt.Sprintf("completion write failed before payout: %v", err))
		return err
	}
	if err := n.ledger.AddBalance(ctx, svc.ProviderID, payout); err != nil {
		j.Fail(fmt.Sprintf("payout leg failed after completion was recorded: %v", err))
		return fmt.Errorf("service %s completed but provider payout failed: %w", serviceID, err)
	}

	j.Commit()
	return nil
}

func (n *Negotiations) load(ctx context.Context, serviceID string) (store.Snapshot, model.EcoService, error) {
	snap, err := n.store.Get(ctx, model.CollectionServices, serviceID)
	if err != nil {
		return store.Snapshot{}, model.EcoService{}, err
	}
	var svc model.EcoService
	if err := snap.Decode(&svc); err != nil {
		return store.Snapshot{}, model.EcoService{}, err
	}
	return snap, svc, nil
}
