package worker

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"ecocash/internal/ledger"
)

// JournalWorker consumes ledger journal events and persists them to the
// ledger_journal table. It is queue-subscribed so that a multi-instance
// deployment writes each entry once; upserting on id makes redelivery
// harmless.
type JournalWorker struct {
	db  *pgxpool.Pool
	nc  *nats.Conn
	log *zap.Logger
	sub *nats.Subscription
}

func NewJournalWorker(db *pgxpool.Pool, nc *nats.Conn, log *zap.Logger) *JournalWorker {
	return &JournalWorker{db: db, nc: nc, log: log}
}

// Start subscribes to the journal subject and blocks until ctx is
// cancelled, then drains.
func (w *JournalWorker) Start(ctx context.Context) error {
	sub, err := w.nc.QueueSubscribe(ledger.JournalSubject, "journal_writers", func(m *nats.Msg) {
		var entry ledger.JournalEntry
		if err := json.Unmarshal(m.Data, &entry); err != nil {
			w.log.Error("journal worker: bad entry", zap.Error(err))
			return
		}
		if err := w.record(ctx, entry); err != nil {
			w.log.Error("journal worker: persist failed",
				zap.Error(err),
				zap.String("entry_id", entry.ID))
		}
	})
	if err != nil {
		return err
	}
	w.sub = sub

	w.log.Info("journal worker is running")

	<-ctx.Done()
	w.log.Info("journal worker shutting down, draining subscription")
	return sub.Drain()
}

func (w *JournalWorker) Stop(ctx context.Context) error {
	if w.sub != nil {
		return w.sub.Unsubscribe()
	}
	return nil
}

// record upserts the entry. A PENDING row followed by a COMMITTED or
// FAILED row for the same id collapses to the terminal status.
func (w *JournalWorker) record(ctx context.Context, e ledger.JournalEntry) error {
	_, err := w.db.Exec(ctx, `
		INSERT INTO ledger_journal (id, kind, from_id, to_id, amount, unit, status, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status,
		    detail = EXCLUDED.detail,
		    updated_at = now()`,
		e.ID, e.Kind, e.FromID, e.ToID, e.Amount, e.Unit, string(e.Status), e.Detail, e.CreatedAt)
	return err
}
