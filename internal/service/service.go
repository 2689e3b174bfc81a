package service

import (
	"context"

	"ecocash/internal/community"
	"ecocash/internal/energy"
	"ecocash/internal/market"
	"ecocash/internal/model"
)

// Transport layers (HTTP, NATS) depend on these interfaces, not on the
// concrete engines, so handlers stay mockable in tests.

// Accounts exposes account lookup and the ledger primitives that cross the
// contract boundary.
type Accounts interface {
	CreateAccount(ctx context.Context, acct model.Account) error
	Account(ctx context.Context, id string) (model.Account, error)
	Accounts(ctx context.Context) ([]model.Account, error)
	Transfer(ctx context.Context, fromID, toID string, amount float64) error
	AddPoints(ctx context.Context, id string, points int64) error
	AddBalance(ctx context.Context, id string, amount float64) error
}

// Declarations is the material lifecycle surface.
type Declarations interface {
	CreateDeclaration(ctx context.Context, in market.CreateDeclarationInput) (model.MaterialDeclaration, error)
	Declaration(ctx context.Context, id string) (model.MaterialDeclaration, error)
	Declarations(ctx context.Context) ([]model.MaterialDeclaration, error)
	AcceptByCollector(ctx context.Context, declarationID, collectorID string) error
	ConfirmWeight(ctx context.Context, declarationID string, actualWeight float64) (model.MaterialDeclaration, error)
	LiquidateAtPoint(ctx context.Context, pointID, declarationID string) error
	CollectionRoute(ctx context.Context, collectorID string) ([]model.MaterialDeclaration, error)
}

// Services is the negotiation and escrow surface.
type Services interface {
	CreateService(ctx context.Context, in market.CreateServiceInput) (model.EcoService, error)
	Service(ctx context.Context, id string) (model.EcoService, error)
	Services(ctx context.Context) ([]model.EcoService, error)
	BindProvider(ctx context.Context, serviceID, providerID, scope string) error
	CounterOffer(ctx context.Context, serviceID string, amount float64, isProvider bool, scope string) error
	AcceptPrice(ctx context.Context, serviceID string) error
	PayEscrow(ctx context.Context, serviceID, payerID string) error
	ScheduleService(ctx context.Context, serviceID string, sch model.Schedule) error
	ReleaseEscrow(ctx context.Context, serviceID string) error
}

// Energy is the credit/settlement surface.
type Energy interface {
	InjectEnergy(ctx context.Context, producerID string, kWh float64) error
	AssignConsumer(ctx context.Context, producerID, consumerLabel, installationID string, kWh float64) (model.EnergyAssignment, error)
	SettleConsumerBill(ctx context.Context, consumerID string, kWh float64) (energy.Settlement, error)
}

// Causes is the voting surface.
type Causes interface {
	CreateCause(ctx context.Context, title string, targetPoints int64) (model.Cause, error)
	Causes(ctx context.Context) ([]model.Cause, error)
	Vote(ctx context.Context, userID, causeID string, points int64) error
}

// Community is the reports/sightings surface.
type Community interface {
	CreateReport(ctx context.Context, in community.CreateReportInput) (model.Report, error)
	SupportReport(ctx context.Context, reportID string) error
	Reports(ctx context.Context) ([]model.Report, error)
	CreateSighting(ctx context.Context, in community.CreateSightingInput) (model.Sighting, error)
	ConfirmSighting(ctx context.Context, sightingID string) error
	Sightings(ctx context.Context) ([]model.Sighting, error)
}

// Registry bundles every surface a transport needs.
type Registry struct {
	Accounts     Accounts
	Declarations Declarations
	Services     Services
	Energy       Energy
	Causes       Causes
	Community    Community
}
