package ledger

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"ecocash/internal/model"
)

// JournalSubject carries journal entries for every multi-leg ledger
// operation. A worker persists them so a failed second leg can be found and
// reconciled later.
const JournalSubject = "ledger.journal"

// Bus publishes journal entries. Backed by NATS in networked mode and by a
// local file sink in mirror mode.
type Bus interface {
	Publish(subject string, data []byte) error
}

type EntryStatus string

const (
	EntryPending   EntryStatus = "PENDING"
	EntryCommitted EntryStatus = "COMMITTED"
	EntryFailed    EntryStatus = "FAILED"
)

// JournalEntry records the intent and outcome of one multi-leg operation.
type JournalEntry struct {
	ID        string      `json:"id"`
	Kind      string      `json:"kind"`
	FromID    string      `json:"from_id,omitempty"`
	ToID      string      `json:"to_id,omitempty"`
	Amount    float64     `json:"amount"`
	Unit      string      `json:"unit"`
	Status    EntryStatus `json:"status"`
	Detail    string      `json:"detail,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// Journal is an open journal entry: the intent has been published, Commit or
// Fail publishes the outcome.
type Journal struct {
	entry JournalEntry
	l     *Ledger
}

// BeginJournal publishes a PENDING entry for a multi-leg operation. Bus
// faults are logged, never surfaced: the journal is a reconciliation aid,
// not a gate on the operation itself.
func (l *Ledger) BeginJournal(kind, fromID, toID string, amount float64, unit string) *Journal {
	j := &Journal{
		entry: JournalEntry{
			ID:        model.NewID(model.PrefixJournal),
			Kind:      kind,
			FromID:    fromID,
			ToID:      toID,
			Amount:    amount,
			Unit:      unit,
			Status:    EntryPending,
			CreatedAt: time.Now().UTC(),
		},
		l: l,
	}
	j.publish()
	return j
}

// Commit marks every leg applied.
func (j *Journal) Commit() {
	j.entry.Status = EntryCommitted
	j.publish()
}

// Fail records which leg broke; a FAILED entry with a debit already applied
// is the signal reconciliation looks for.
func (j *Journal) Fail(detail string) {
	j.entry.Status = EntryFailed
	j.entry.Detail = detail
	j.publish()
}

func (j *Journal) publish() {
	if j.l.bus == nil {
		return
	}
	raw, err := json.Marshal(j.entry)
	if err != nil {
		return
	}
	if err := j.l.bus.Publish(JournalSubject, raw); err != nil {
		j.l.log.Warn("journal publish failed",
			zap.String("journal_id", j.entry.ID),
			zap.String("kind", j.entry.Kind),
			zap.Error(err))
	}
}
