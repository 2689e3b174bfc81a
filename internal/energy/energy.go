package energy

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"ecocash/internal/ledger"
	"ecocash/internal/model"
	"ecocash/internal/store"
)

const (
	// producerUnitPrice is the fixed price per kWh a distributor pays the
	// producer; platformFeeRate is amortized into the consumer's total, so
	// totalCost = (kWh * producerUnitPrice) / (1 - platformFeeRate).
	producerUnitPrice = 0.3
	platformFeeRate   = 0.10
)

// Pricing maps a producer's region to the price paid per injected kWh.
type Pricing struct {
	Default float64
	Regions map[string]float64
}

func (p Pricing) PriceFor(region string) float64 {
	if price, ok := p.Regions[region]; ok {
		return price
	}
	return p.Default
}

// Settlement reports the two legs of a consumer bill payment. The legs sum
// to the total: the platform keeps the fee, the producer gets the rest.
type Settlement struct {
	TotalCost      float64 `json:"total_cost"`
	PlatformFee    float64 `json:"platform_fee"`
	ProducerPayout float64 `json:"producer_payout"`
	ProducerID     string  `json:"producer_id,omitempty"`
	AssignmentID   string  `json:"assignment_id,omitempty"`
}

// Engine converts producer surplus into wallet balance and consumer bill
// payments into a two-leg settlement.
type Engine struct {
	store           store.Gateway
	ledger          *ledger.Ledger
	pricing         Pricing
	platformAccount string
	log             *zap.Logger
}

func New(g store.Gateway, l *ledger.Ledger, pricing Pricing, platformAccount string, log *zap.Logger) *Engine {
	return &Engine{store: g, ledger: l, pricing: pricing, platformAccount: platformAccount, log: log}
}

// InjectEnergy credits the producer kWh of energy credits and the matching
// wallet balance at the producer's region price.
func (e *Engine) InjectEnergy(ctx context.Context, producerID string, kWh float64) error {
	if kWh <= 0 {
		return fmt.Errorf("%w: kWh must be positive", model.ErrValidation)
	}
	snap, err := e.store.Get(ctx, model.CollectionUsers, producerID)
	if err != nil {
		return err
	}
	var acct model.Account
	if err := snap.Decode(&acct); err != nil {
		return err
	}

	producer := acct.Producer
	if producer == nil {
		producer = &model.ProducerMetrics{}
	}
	producer.CreditsBalance += kWh

	if _, err := e.store.Update(ctx, model.CollectionUsers, producerID, snap.Rev, map[string]any{
		"producer": producer,
	}); err != nil {
		return err
	}

	price := e.pricing.PriceFor(acct.Region)
	if err := e.ledger.AddBalance(ctx, producerID, kWh*price); err != nil {
		return fmt.Errorf("credit injected but balance leg failed for %s: %w", producerID, err)
	}
	return nil
}

// AssignConsumer registers a pending bill-to-credit binding on a producer.
func (e *Engine) AssignConsumer(ctx context.Context, producerID, consumerLabel, installationID string, kWh float64) (model.EnergyAssignment, error) {
	if kWh <= 0 {
		return model.EnergyAssignment{}, fmt.Errorf("%w: kWh must be positive", model.ErrValidation)
	}
	if consumerLabel == "" {
		return model.EnergyAssignment{}, fmt.Errorf("%w: consumer label is required", model.ErrValidation)
	}
	snap, err := e.store.Get(ctx, model.CollectionUsers, producerID)
	if err != nil {
		return model.EnergyAssignment{}, err
	}
	var acct model.Account
	if err := snap.Decode(&acct); err != nil {
		return model.EnergyAssignment{}, err
	}
	producer := acct.Producer
	if producer == nil {
		producer = &model.ProducerMetrics{}
	}

	total := (kWh * producerUnitPrice) / (1 - platformFeeRate)
	assignment := model.EnergyAssignment{
		ID:             model.NewID(model.PrefixAssignment),
		ConsumerLabel:  consumerLabel,
		InstallationID: installationID,
		KWh:            kWh,
		PlatformFee:    total * platformFeeRate,
		ProducerPayout: total * (1 - platformFeeRate),
		Status:         model.AssignmentPending,
	}
	producer.PendingAssignments = append(producer.PendingAssignments, assignment)

	if _, err := e.store.Update(ctx, model.CollectionUsers, producerID, snap.Rev, map[string]any{
		"producer": producer,
	}); err != nil {
		return model.EnergyAssignment{}, err
	}
	return assignment, nil
}

// SettleConsumerBill debits the consumer the amortized total for kWh, marks
// the current bill PAID and applies the two settlement legs. Each leg is
// recorded on the matching assignment as it lands, so the settlement state
// survives a restart and can be verified independently of any client.
func (e *Engine) SettleConsumerBill(ctx context.Context, consumerID string, kWh float64) (Settlement, error) {
	if kWh <= 0 {
		return Settlement{}, fmt.Errorf("%w: kWh must be positive", model.ErrValidation)
	}

	snap, err := e.store.Get(ctx, model.CollectionUsers, consumerID)
	if err != nil {
		return Settlement{}, fmt.Errorf("consumer %s: %w", consumerID, err)
	}
	var acct model.Account
	if err := snap.Decode(&acct); err != nil {
		return Settlement{}, err
	}
	if acct.Consumer == nil || acct.Consumer.CurrentBill == nil {
		return Settlement{}, fmt.Errorf("%w: consumer %s has no current bill", model.ErrValidation, consumerID)
	}
	if acct.Consumer.CurrentBill.Status == model.BillPaid {
		return Settlement{}, fmt.Errorf("%w: bill for consumer %s", model.ErrAlreadySettled, consumerID)
	}

	total := (kWh * producerUnitPrice) / (1 - platformFeeRate)
	st := Settlement{
		TotalCost:      total,
		PlatformFee:    total * platformFeeRate,
		ProducerPayout: total - total*platformFeeRate,
	}

	producerID, assignment := e.findAssignment(ctx, consumerID, acct.Name)
	st.ProducerID = producerID
	st.AssignmentID = assignment.ID

	j := e.ledger.BeginJournal("energy_settlement", consumerID, producerID, total, "balance")

	if err := e.ledger.SpendBalance(ctx, consumerID, total); err != nil {
		j.Fail(fmt.Sprintf("consumer debit refused: %v", err))
		return Settlement{}, err
	}

	// Fee leg: the platform account absorbs the fee when one is configured;
	// otherwise the fee simply stays withheld from the payout.
	if e.platformAccount != "" {
		if err := e.ledger.AddBalance(ctx, e.platformAccount, st.PlatformFee); err != nil {
			j.Fail(fmt.Sprintf("fee leg failed after consumer debit: %v", err))
			return Settlement{}, fmt.Errorf("consumer debited but fee leg failed: %w", err)
		}
	}
	e.markLeg(ctx, producerID, assignment.ID, "fee")

	// Payout leg.
	if producerID != "" {
		if err := e.ledger.AddBalance(ctx, producerID, st.ProducerPayout); err != nil {
			j.Fail(fmt.Sprintf("payout leg failed after consumer debit: %v", err))
			return Settlement{}, fmt.Errorf("consumer debited but producer payout failed: %w", err)
		}
		e.markLeg(ctx, producerID, assignment.ID, "payout")
	}

	if err := e.markBillPaid(ctx, consumerID); err != nil {
		j.Fail(fmt.Sprintf("bill status write failed after settlement: %v", err))
		return Settlement{}, err
	}

	j.Commit()
	return st, nil
}

// findAssignment locates a producer holding a PENDING assignment for this
// consumer, matched by account id or display name.
func (e *Engine) findAssignment(ctx context.Context, consumerID, consumerName string) (string, model.EnergyAssignment) {
	snaps, err := e.store.List(ctx, model.CollectionUsers)
	if err != nil {
		e.log.Warn("assignment lookup failed", zap.Error(err))
		return "", model.EnergyAssignment{}
	}
	for _, snap := range snaps {
		var acct model.Account
		if err := snap.Decode(&acct); err != nil || acct.Producer == nil {
			continue
		}
		for _, a := range acct.Producer.PendingAssignments {
			if a.Status != model.AssignmentPending {
				continue
			}
			if a.ConsumerLabel == consumerID || (consumerName != "" && a.ConsumerLabel == consumerName) {
				return acct.ID, a
			}
		}
	}
	return "", model.EnergyAssignment{}
}

// markLeg flags one settlement leg on the assignment; once both legs are
// settled the assignment completes. Best-effort bookkeeping: a failure here
// is logged, the money has already moved.
func (e *Engine) markLeg(ctx context.Context, producerID, assignmentID, leg string) {
	if producerID == "" || assignmentID == "" {
		return
	}
	snap, err := e.store.Get(ctx, model.CollectionUsers, producerID)
	if err != nil {
		e.log.Warn("leg bookkeeping read failed", zap.String("producer", producerID), zap.Error(err))
		return
	}
	var acct model.Account
	if err := snap.Decode(&acct); err != nil || acct.Producer == nil {
		return
	}
	for i := range acct.Producer.PendingAssignments {
		a := &acct.Producer.PendingAssignments[i]
		if a.ID != assignmentID {
			continue
		}
		switch leg {
		case "fee":
			a.FeeLegSettled = true
		case "payout":
			a.PayoutLegSettled = true
		}
		if a.FeeLegSettled && a.PayoutLegSettled {
			a.Status = model.AssignmentCompleted
		}
	}
	if _, err := e.store.Update(ctx, model.CollectionUsers, producerID, snap.Rev, map[string]any{
		"producer": acct.Producer,
	}); err != nil {
		e.log.Warn("leg bookkeeping write failed", zap.String("producer", producerID), zap.Error(err))
	}
}

func (e *Engine) markBillPaid(ctx context.Context, consumerID string) error {
	snap, err := e.store.Get(ctx, model.CollectionUsers, consumerID)
	if err != nil {
		return err
	}
	var acct model.Account
	if err := snap.Decode(&acct); err != nil {
		return err
	}
	if acct.Consumer == nil || acct.Consumer.CurrentBill == nil {
		return fmt.Errorf("%w: consumer %s lost its bill mid-settlement", model.ErrValidation, consumerID)
	}
	acct.Consumer.CurrentBill.Status = model.BillPaid
	_, err = e.store.Update(ctx, model.CollectionUsers, consumerID, snap.Rev, map[string]any{
		"consumer": acct.Consumer,
	})
	return err
}
