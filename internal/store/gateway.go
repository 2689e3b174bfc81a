package store

import (
	"context"
	"encoding/json"
	"fmt"

	"ecocash/internal/model"
)

// Snapshot is one stored document together with its revision. Rev increases
// by one on every update; an Update call must present the rev it read.
type Snapshot struct {
	ID   string          `json:"id"`
	Rev  int64           `json:"rev"`
	Data json.RawMessage `json:"data"`
}

// Decode unmarshals the document into v.
func (s Snapshot) Decode(v any) error {
	if err := json.Unmarshal(s.Data, v); err != nil {
		return fmt.Errorf("decode document %s: %w", s.ID, err)
	}
	return nil
}

// Event describes one committed mutation of a document.
type Event struct {
	Collection string          `json:"collection"`
	ID         string          `json:"id"`
	Rev        int64           `json:"rev"`
	Data       json.RawMessage `json:"data"`
	Origin     string          `json:"origin,omitempty"`
}

// Callback receives the current snapshot of a subscribed document.
// ok is false when the document does not exist yet.
type Callback func(snap Snapshot, ok bool)

// Gateway is the uniform CRUD + subscribe contract over named collections.
// Two implementations exist: the networked document store (Postgres + Redis
// cache + NATS change fan-out) and the local mirror (per-collection JSON
// snapshot files with fsnotify cross-process notification). The backend is
// chosen once at startup and injected; it never changes at runtime.
type Gateway interface {
	// Create stores a new document. Fails with ErrAlreadyExists on a
	// duplicate id.
	Create(ctx context.Context, collection, id string, doc any) error

	// Get returns the current snapshot, or ErrEntityNotFound.
	Get(ctx context.Context, collection, id string) (Snapshot, error)

	// List returns every document in the collection.
	List(ctx context.Context, collection string) ([]Snapshot, error)

	// Update applies a shallow merge of fields over the stored document.
	// Fails with ErrEntityNotFound if the id is absent and with
	// ErrStaleWrite if rev is no longer current.
	Update(ctx context.Context, collection, id string, rev int64, fields map[string]any) (Snapshot, error)

	// Subscribe invokes fn immediately with the current snapshot (ok=false
	// when absent), then after every subsequent mutation of that id,
	// including mutations originated by other subscribers and, where the
	// backend supports it, other processes sharing the store. Delivery is
	// keyed by (collection, id): a subscriber never receives updates for
	// entities it did not subscribe to. The returned func cancels the
	// subscription.
	Subscribe(ctx context.Context, collection, id string, fn Callback) (func(), error)

	// Close releases backend resources held by the gateway.
	Close() error
}

// GetAs fetches and decodes a document in one step.
func GetAs[T any](ctx context.Context, g Gateway, collection, id string) (T, int64, error) {
	var v T
	snap, err := g.Get(ctx, collection, id)
	if err != nil {
		return v, 0, err
	}
	if err := snap.Decode(&v); err != nil {
		return v, 0, err
	}
	return v, snap.Rev, nil
}

func mergeFields(data json.RawMessage, fields map[string]any) (json.RawMessage, error) {
	doc := map[string]any{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("merge: decode stored document: %w", err)
		}
	}
	for k, v := range fields {
		doc[k] = v
	}
	merged, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("merge: encode document: %w", err)
	}
	return merged, nil
}

func marshalDoc(doc any) (json.RawMessage, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("%w: document not serializable: %v", model.ErrValidation, err)
	}
	return raw, nil
}
