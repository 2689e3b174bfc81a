package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"ecocash/internal/model"
)

// changeSubject is the NATS subject for one document's change feed. Subjects
// form a hierarchy, so cross-process delivery stays keyed by collection and
// id rather than broadcast to every listener.
func changeSubject(collection, id string) string {
	return fmt.Sprintf("changes.%s.%s", collection, id)
}

// Small seams over the concrete clients. *pgxpool.Pool, *redis.Client and
// *nats.Conn satisfy them as-is.
type documentDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

type snapshotCache interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Ping(ctx context.Context) *redis.StatusCmd
}

type changeBus interface {
	Publish(subj string, data []byte) error
	Subscribe(subj string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// Remote is the networked persistence backend: documents live in a Postgres
// table, reads go through a Redis snapshot cache warmed on miss, and every
// committed mutation is published on NATS so other processes' subscribers
// see it.
type Remote struct {
	db     documentDB
	cache  snapshotCache
	nc     changeBus
	hub    *hub
	log    *zap.Logger
	origin string
}

// NewRemote wires the networked adapter. origin identifies this process in
// published change events so its own NATS echoes are dropped.
func NewRemote(db *pgxpool.Pool, cache *redis.Client, nc *nats.Conn, log *zap.Logger) *Remote {
	return &Remote{
		db:     db,
		cache:  cache,
		nc:     nc,
		hub:    newHub(),
		log:    log,
		origin: model.NewID("PRC-"),
	}
}

func (r *Remote) Create(ctx context.Context, collection, id string, doc any) error {
	if err := checkKeys(collection, id); err != nil {
		return err
	}
	raw, err := marshalDoc(doc)
	if err != nil {
		return err
	}

	tag, err := r.db.Exec(ctx, `
		INSERT INTO documents (collection, id, rev, data)
		VALUES ($1, $2, 1, $3)
		ON CONFLICT (collection, id) DO NOTHING`,
		collection, id, raw)
	if err != nil {
		return fmt.Errorf("%w: insert %s/%s: %v", model.ErrBackendUnavailable, collection, id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s/%s", model.ErrAlreadyExists, collection, id)
	}

	snap := Snapshot{ID: id, Rev: 1, Data: raw}
	r.afterMutation(ctx, collection, snap)
	return nil
}

func (r *Remote) Get(ctx context.Context, collection, id string) (Snapshot, error) {
	if err := checkKeys(collection, id); err != nil {
		return Snapshot{}, err
	}

	if snap, ok := r.cached(ctx, collection, id); ok {
		return snap, nil
	}

	snap, err := r.fetch(ctx, collection, id)
	if err != nil {
		return Snapshot{}, err
	}
	r.warm(ctx, collection, snap)
	return snap, nil
}

func (r *Remote) List(ctx context.Context, collection string) ([]Snapshot, error) {
	if collection == "" {
		return nil, fmt.Errorf("%w: empty collection", model.ErrValidation)
	}
	rows, err := r.db.Query(ctx, `
		SELECT id, rev, data FROM documents
		WHERE collection = $1 ORDER BY id`, collection)
	if err != nil {
		return nil, fmt.Errorf("%w: list %s: %v", model.ErrBackendUnavailable, collection, err)
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		var snap Snapshot
		if err := rows.Scan(&snap.ID, &snap.Rev, &snap.Data); err != nil {
			return nil, fmt.Errorf("%w: scan %s: %v", model.ErrBackendUnavailable, collection, err)
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: list %s: %v", model.ErrBackendUnavailable, collection, err)
	}
	return out, nil
}

func (r *Remote) Update(ctx context.Context, collection, id string, rev int64, fields map[string]any) (Snapshot, error) {
	if err := checkKeys(collection, id); err != nil {
		return Snapshot{}, err
	}
	patch, err := json.Marshal(fields)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: fields not serializable: %v", model.ErrValidation, err)
	}

	// jsonb || is a shallow merge of top-level keys, matching the gateway
	// contract. The rev predicate rejects stale writes.
	var snap Snapshot
	err = r.db.QueryRow(ctx, `
		UPDATE documents
		SET data = data || $4::jsonb, rev = rev + 1, updated_at = now()
		WHERE collection = $1 AND id = $2 AND rev = $3
		RETURNING id, rev, data`,
		collection, id, rev, patch).Scan(&snap.ID, &snap.Rev, &snap.Data)
	if errors.Is(err, pgx.ErrNoRows) {
		fresh, fetchErr := r.fetch(ctx, collection, id)
		if fetchErr != nil {
			return Snapshot{}, fetchErr
		}
		// The caller's rev came from a read, most likely the cache, that
		// the table just refused. Repair the cache with the row fetched
		// here so a retry reads the current rev instead of looping on the
		// same stale snapshot.
		r.warm(ctx, collection, fresh)
		return Snapshot{}, fmt.Errorf("%w: %s/%s read rev %d, current %d",
			model.ErrStaleWrite, collection, id, rev, fresh.Rev)
	}
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			return Snapshot{}, fmt.Errorf("%w: update %s/%s: %s", model.ErrBackendUnavailable, collection, id, pgErr.Message)
		}
		return Snapshot{}, fmt.Errorf("%w: update %s/%s: %v", model.ErrBackendUnavailable, collection, id, err)
	}

	r.afterMutation(ctx, collection, snap)
	return snap, nil
}

func (r *Remote) Subscribe(ctx context.Context, collection, id string, fn Callback) (func(), error) {
	if err := checkKeys(collection, id); err != nil {
		return nil, err
	}

	token, cancelLocal := r.hub.subscribe(collection, id, fn)

	snap, err := r.Get(ctx, collection, id)
	switch {
	case errors.Is(err, model.ErrEntityNotFound):
		r.hub.deliverTo(token, Event{Collection: collection, ID: id}, false)
	case err != nil:
		cancelLocal()
		return nil, err
	default:
		r.hub.deliverTo(token, Event{Collection: collection, ID: id, Rev: snap.Rev, Data: snap.Data}, true)
	}

	// Remote mutations arrive over NATS; local ones go straight through the
	// hub, so events originated here are dropped to avoid double delivery.
	sub, err := r.nc.Subscribe(changeSubject(collection, id), func(msg *nats.Msg) {
		var ev Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			r.log.Warn("bad change event", zap.String("subject", msg.Subject), zap.Error(err))
			return
		}
		if ev.Origin == r.origin {
			return
		}
		r.invalidate(context.Background(), collection, id)
		r.hub.publish(ev)
	})
	if err != nil {
		cancelLocal()
		return nil, fmt.Errorf("%w: subscribe %s/%s: %v", model.ErrBackendUnavailable, collection, id, err)
	}

	return func() {
		_ = sub.Unsubscribe()
		cancelLocal()
	}, nil
}

func (r *Remote) Close() error {
	r.hub.close()
	return nil
}

func (r *Remote) fetch(ctx context.Context, collection, id string) (Snapshot, error) {
	var snap Snapshot
	err := r.db.QueryRow(ctx, `
		SELECT id, rev, data FROM documents
		WHERE collection = $1 AND id = $2`, collection, id).
		Scan(&snap.ID, &snap.Rev, &snap.Data)
	if errors.Is(err, pgx.ErrNoRows) {
		return Snapshot{}, fmt.Errorf("%w: %s/%s", model.ErrEntityNotFound, collection, id)
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: get %s/%s: %v", model.ErrBackendUnavailable, collection, id, err)
	}
	return snap, nil
}

func cacheKey(collection, id string) string {
	return "doc:" + collection + ":" + id
}

func (r *Remote) cached(ctx context.Context, collection, id string) (Snapshot, bool) {
	raw, err := r.cache.Get(ctx, cacheKey(collection, id)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.log.Warn("cache read failed", zap.String("key", cacheKey(collection, id)), zap.Error(err))
		}
		return Snapshot{}, false
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, false
	}
	return snap, true
}

// warm stores the snapshot in the cache. Cache faults are logged and
// tolerated: Postgres stays the source of truth.
func (r *Remote) warm(ctx context.Context, collection string, snap Snapshot) {
	raw, err := json.Marshal(snap)
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, cacheKey(collection, snap.ID), raw, 0).Err(); err != nil {
		r.log.Warn("cache warm failed", zap.String("key", cacheKey(collection, snap.ID)), zap.Error(err))
	}
}

func (r *Remote) invalidate(ctx context.Context, collection, id string) {
	if err := r.cache.Del(ctx, cacheKey(collection, id)).Err(); err != nil {
		r.log.Warn("cache invalidate failed", zap.String("key", cacheKey(collection, id)), zap.Error(err))
	}
}

func (r *Remote) afterMutation(ctx context.Context, collection string, snap Snapshot) {
	r.warm(ctx, collection, snap)

	ev := Event{Collection: collection, ID: snap.ID, Rev: snap.Rev, Data: snap.Data, Origin: r.origin}
	r.hub.publish(ev)

	raw, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := r.nc.Publish(changeSubject(collection, snap.ID), raw); err != nil {
		r.log.Warn("change publish failed",
			zap.String("collection", collection),
			zap.String("id", snap.ID),
			zap.Error(err))
	}
}

// Ping verifies both stores are reachable; used during bootstrap.
func (r *Remote) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.db.Ping(ctx); err != nil {
		return fmt.Errorf("%w: postgres: %v", model.ErrBackendUnavailable, err)
	}
	if err := r.cache.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: redis: %v", model.ErrBackendUnavailable, err)
	}
	return nil
}
