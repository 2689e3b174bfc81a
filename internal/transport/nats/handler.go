package nats

import (
	"context"
	"encoding/json"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"ecocash/internal/service"
)

// Handler subscribes to NATS command subjects and delegates to the
// marketplace services. Commands are queue-subscribed so that in a
// multi-instance deployment each command is handled once.
type Handler struct {
	reg  service.Registry
	nc   *nats.Conn
	log  *zap.Logger
	subs []*nats.Subscription
}

func NewHandler(reg service.Registry, nc *nats.Conn, log *zap.Logger) *Handler {
	return &Handler{reg: reg, nc: nc, log: log}
}

type transferCommand struct {
	FromID string  `json:"from_id"`
	ToID   string  `json:"to_id"`
	Amount float64 `json:"amount"`
}

type voteCommand struct {
	UserID  string `json:"user_id"`
	CauseID string `json:"cause_id"`
	Points  int64  `json:"points"`
}

// Start subscribes to the command subjects and blocks until ctx is
// cancelled, then drains.
func (h *Handler) Start(ctx context.Context) error {
	s1, err := h.nc.QueueSubscribe("commands.transfer", "market_group", func(m *nats.Msg) {
		var cmd transferCommand
		if err := json.Unmarshal(m.Data, &cmd); err != nil {
			h.log.Error("nats: bad transfer command", zap.Error(err))
			return
		}
		if err := h.reg.Accounts.Transfer(ctx, cmd.FromID, cmd.ToID, cmd.Amount); err != nil {
			h.log.Error("nats: transfer failed",
				zap.Error(err),
				zap.String("from_id", cmd.FromID),
				zap.String("to_id", cmd.ToID))
		}
	})
	if err != nil {
		return err
	}
	h.subs = append(h.subs, s1)

	s2, err := h.nc.QueueSubscribe("commands.vote", "market_group", func(m *nats.Msg) {
		var cmd voteCommand
		if err := json.Unmarshal(m.Data, &cmd); err != nil {
			h.log.Error("nats: bad vote command", zap.Error(err))
			return
		}
		if err := h.reg.Causes.Vote(ctx, cmd.UserID, cmd.CauseID, cmd.Points); err != nil {
			h.log.Error("nats: vote failed",
				zap.Error(err),
				zap.String("user_id", cmd.UserID),
				zap.String("cause_id", cmd.CauseID))
		}
	})
	if err != nil {
		return err
	}
	h.subs = append(h.subs, s2)

	h.log.Info("NATS command handler is running")

	<-ctx.Done()
	h.log.Info("NATS command handler shutting down, draining subscriptions")

	for _, s := range h.subs {
		_ = s.Drain()
	}
	return nil
}

func (h *Handler) Stop(ctx context.Context) error {
	for _, s := range h.subs {
		_ = s.Unsubscribe()
	}
	return nil
}
