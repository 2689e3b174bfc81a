package model

import "time"

// Collection names understood by the persistence gateway. Material
// declarations live in the offers collection: a declaration is the
// resident's sale offer.
const (
	CollectionUsers     = "users"
	CollectionOffers    = "offers"
	CollectionServices  = "services"
	CollectionCauses    = "causes"
	CollectionReports   = "reports"
	CollectionSightings = "sightings"
)

type BillStatus string

const (
	BillPending    BillStatus = "PENDING"
	BillProcessing BillStatus = "PROCESSING"
	BillPaid       BillStatus = "PAID"
)

// Bill is an energy consumer's current bill.
type Bill struct {
	OriginalValue float64    `json:"original_value"`
	DueDate       time.Time  `json:"due_date"`
	Status        BillStatus `json:"status"`
}

type AssignmentStatus string

const (
	AssignmentPending   AssignmentStatus = "PENDING"
	AssignmentCompleted AssignmentStatus = "COMPLETED"
)

// EnergyAssignment binds a consumer's bill to a producer installation.
// The two settlement legs are tracked on the entity itself so the state
// survives a client restart and can be verified independently.
type EnergyAssignment struct {
	ID               string           `json:"id"`
	ConsumerLabel    string           `json:"consumer_label"`
	InstallationID   string           `json:"installation_id"`
	KWh              float64          `json:"kwh"`
	PlatformFee      float64          `json:"platform_fee"`
	ProducerPayout   float64          `json:"producer_payout"`
	Status           AssignmentStatus `json:"status"`
	FeeLegSettled    bool             `json:"fee_leg_settled"`
	PayoutLegSettled bool             `json:"payout_leg_settled"`
}

// ProducerMetrics holds the optional energy-producer side of an account.
type ProducerMetrics struct {
	CreditsBalance     float64            `json:"credits_balance"`
	PendingAssignments []EnergyAssignment `json:"pending_assignments,omitempty"`
}

// ConsumerMetrics holds the optional energy-consumer side of an account.
type ConsumerMetrics struct {
	CurrentBill *Bill `json:"current_bill,omitempty"`
}

// Account is the ledger-visible part of a user record. Balance and points
// are mutated only through the ledger service.
type Account struct {
	ID         string           `json:"id"`
	Name       string           `json:"name,omitempty"`
	Balance    float64          `json:"balance"`
	Points     int64            `json:"points"`
	RecycledKg float64          `json:"recycled_kg"`
	Region     string           `json:"region,omitempty"`
	Producer   *ProducerMetrics `json:"producer,omitempty"`
	Consumer   *ConsumerMetrics `json:"consumer,omitempty"`
}

type DeclarationStatus string

const (
	DeclarationPending           DeclarationStatus = "PENDING"
	DeclarationApproved          DeclarationStatus = "APPROVED"
	DeclarationCollectorAssigned DeclarationStatus = "COLLECTOR_ASSIGNED"
	DeclarationCollected         DeclarationStatus = "COLLECTED"
	DeclarationDelivered         DeclarationStatus = "DELIVERED"
	DeclarationCompleted         DeclarationStatus = "COMPLETED"
)

// MaterialDeclaration is a resident's offer of recyclable material.
// Once ActualWeight is confirmed, EstimatedValue is re-scaled by
// actual/estimated weight: the per-unit value implied by the original
// estimate is preserved, not re-derived.
type MaterialDeclaration struct {
	ID              string            `json:"id"`
	ResidentID      string            `json:"resident_id"`
	Material        string            `json:"material"`
	Quantity        int               `json:"quantity"`
	EstimatedWeight float64           `json:"estimated_weight"`
	EstimatedValue  float64           `json:"estimated_value"`
	Status          DeclarationStatus `json:"status"`
	CollectorID     string            `json:"collector_id,omitempty"`
	PointID         string            `json:"point_id,omitempty"`
	ActualWeight    float64           `json:"actual_weight,omitempty"`
	Location        string            `json:"location,omitempty"`
	Lat             float64           `json:"lat,omitempty"`
	Lng             float64           `json:"lng,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
}

type ServiceStatus string

const (
	ServiceOpen      ServiceStatus = "OPEN"
	ServiceAccepted  ServiceStatus = "ACCEPTED"
	ServiceTaxPaid   ServiceStatus = "TAX_PAID"
	ServiceScheduled ServiceStatus = "SCHEDULED"
	ServiceCompleted ServiceStatus = "COMPLETED"
)

type AgreementStatus string

const (
	AgreementWaitingProvider AgreementStatus = "WAITING_PROVIDER"
	AgreementNegotiating     AgreementStatus = "NEGOTIATING"
	AgreementAgreed          AgreementStatus = "AGREED"
)

// Schedule is the meeting agreed for a service.
type Schedule struct {
	Date     string `json:"date"`
	Time     string `json:"time"`
	Location string `json:"location"`
}

// EcoService is an on-demand service under negotiation. NegotiatedPrice
// always reflects the most recent accepted or countered figure from
// either party.
type EcoService struct {
	ID              string          `json:"id"`
	RequesterID     string          `json:"requester_id"`
	ProviderID      string          `json:"provider_id,omitempty"`
	Title           string          `json:"title"`
	Description     string          `json:"description,omitempty"`
	Category        string          `json:"category,omitempty"`
	RequesterOffer  float64         `json:"requester_offer"`
	ProviderOffer   float64         `json:"provider_offer,omitempty"`
	NegotiatedPrice float64         `json:"negotiated_price"`
	Status          ServiceStatus   `json:"status"`
	AgreementStatus AgreementStatus `json:"agreement_status"`
	Scope           string          `json:"scope,omitempty"`
	Schedule        *Schedule       `json:"schedule,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Cause accumulates voted reputation points. Totals never decrease.
type Cause struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	JackpotPoints int64  `json:"jackpot_points"`
	TargetPoints  int64  `json:"target_points"`
	VotersCount   int64  `json:"voters_count"`
}

// Report is a community report backed by evidence-support counters.
type Report struct {
	ID           string    `json:"id"`
	AuthorID     string    `json:"author_id"`
	Description  string    `json:"description"`
	Category     string    `json:"category,omitempty"`
	Location     string    `json:"location,omitempty"`
	SupportCount int64     `json:"support_count"`
	CreatedAt    time.Time `json:"created_at"`
}

// Sighting is a reported observation of recyclable material or illegal dumping.
type Sighting struct {
	ID            string    `json:"id"`
	ReporterID    string    `json:"reporter_id"`
	Label         string    `json:"label"`
	Location      string    `json:"location,omitempty"`
	Confirmations int64     `json:"confirmations"`
	CreatedAt     time.Time `json:"created_at"`
}
