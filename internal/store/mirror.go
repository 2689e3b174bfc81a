package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"ecocash/internal/model"
)

// Mirror is the local persistence backend. Each collection is persisted as a
// full snapshot array in <dir>/<collection>.json, rewritten on every
// mutation. Same-process subscribers are notified through the hub in
// mutation order; writes by other processes sharing the directory are
// detected with fsnotify and delivered best-effort.
type Mirror struct {
	dir     string
	log     *zap.Logger
	hub     *hub
	watcher *fsnotify.Watcher

	mu   sync.Mutex
	cols map[string]map[string]Snapshot

	closeOnce sync.Once
	done      chan struct{}
}

// NewMirror loads any existing snapshot files under dir and starts watching
// the directory for cross-process changes.
func NewMirror(dir string, log *zap.Logger) (*Mirror, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create mirror dir: %v", model.ErrBackendUnavailable, err)
	}

	m := &Mirror{
		dir:  dir,
		log:  log,
		hub:  newHub(),
		cols: make(map[string]map[string]Snapshot),
		done: make(chan struct{}),
	}
	if err := m.loadAll(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: fsnotify: %v", model.ErrBackendUnavailable, err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("%w: watch mirror dir: %v", model.ErrBackendUnavailable, err)
	}
	m.watcher = watcher
	go m.watch()

	return m, nil
}

func (m *Mirror) Create(ctx context.Context, collection, id string, doc any) error {
	if err := checkKeys(collection, id); err != nil {
		return err
	}
	raw, err := marshalDoc(doc)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.cols[collection][id]; ok {
		return fmt.Errorf("%w: %s/%s", model.ErrAlreadyExists, collection, id)
	}
	if m.cols[collection] == nil {
		m.cols[collection] = make(map[string]Snapshot)
	}
	snap := Snapshot{ID: id, Rev: 1, Data: raw}
	m.cols[collection][id] = snap
	if err := m.persistLocked(collection); err != nil {
		delete(m.cols[collection], id)
		return err
	}
	m.hub.publish(Event{Collection: collection, ID: id, Rev: snap.Rev, Data: snap.Data})
	return nil
}

func (m *Mirror) Get(ctx context.Context, collection, id string) (Snapshot, error) {
	if err := checkKeys(collection, id); err != nil {
		return Snapshot{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	snap, ok := m.cols[collection][id]
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s/%s", model.ErrEntityNotFound, collection, id)
	}
	return snap, nil
}

func (m *Mirror) List(ctx context.Context, collection string) ([]Snapshot, error) {
	if collection == "" {
		return nil, fmt.Errorf("%w: empty collection", model.ErrValidation)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Snapshot, 0, len(m.cols[collection]))
	for _, snap := range m.cols[collection] {
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Mirror) Update(ctx context.Context, collection, id string, rev int64, fields map[string]any) (Snapshot, error) {
	if err := checkKeys(collection, id); err != nil {
		return Snapshot{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.cols[collection][id]
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s/%s", model.ErrEntityNotFound, collection, id)
	}
	if current.Rev != rev {
		return Snapshot{}, fmt.Errorf("%w: %s/%s read rev %d, current %d",
			model.ErrStaleWrite, collection, id, rev, current.Rev)
	}

	merged, err := mergeFields(current.Data, fields)
	if err != nil {
		return Snapshot{}, err
	}
	next := Snapshot{ID: id, Rev: current.Rev + 1, Data: merged}
	m.cols[collection][id] = next
	if err := m.persistLocked(collection); err != nil {
		m.cols[collection][id] = current
		return Snapshot{}, err
	}
	m.hub.publish(Event{Collection: collection, ID: id, Rev: next.Rev, Data: next.Data})
	return next, nil
}

func (m *Mirror) Subscribe(ctx context.Context, collection, id string, fn Callback) (func(), error) {
	if err := checkKeys(collection, id); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	token, cancel := m.hub.subscribe(collection, id, fn)
	snap, exists := m.cols[collection][id]
	m.hub.deliverTo(token, Event{Collection: collection, ID: id, Rev: snap.Rev, Data: snap.Data}, exists)
	return cancel, nil
}

func (m *Mirror) Close() error {
	var err error
	m.closeOnce.Do(func() {
		close(m.done)
		if m.watcher != nil {
			err = m.watcher.Close()
		}
		m.hub.close()
	})
	return err
}

// Dir returns the directory backing the mirror.
func (m *Mirror) Dir() string { return m.dir }

func (m *Mirror) loadAll() error {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return fmt.Errorf("%w: read mirror dir: %v", model.ErrBackendUnavailable, err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".json")
		snaps, err := m.readFile(name)
		if err != nil {
			return err
		}
		col := make(map[string]Snapshot, len(snaps))
		for _, s := range snaps {
			col[s.ID] = s
		}
		m.cols[name] = col
	}
	return nil
}

func (m *Mirror) readFile(collection string) ([]Snapshot, error) {
	path := filepath.Join(m.dir, collection+".json")
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", model.ErrBackendUnavailable, path, err)
	}
	var snaps []Snapshot
	if err := json.Unmarshal(raw, &snaps); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", model.ErrBackendUnavailable, path, err)
	}
	return snaps, nil
}

// persistLocked rewrites the whole collection file. Written to a temp file
// and renamed so concurrent readers never observe a torn snapshot.
func (m *Mirror) persistLocked(collection string) error {
	snaps := make([]Snapshot, 0, len(m.cols[collection]))
	for _, s := range m.cols[collection] {
		snaps = append(snaps, s)
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].ID < snaps[j].ID })

	raw, err := json.MarshalIndent(snaps, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode collection %s: %v", model.ErrBackendUnavailable, collection, err)
	}

	path := filepath.Join(m.dir, collection+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("%w: write %s: %v", model.ErrBackendUnavailable, tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("%w: rename %s: %v", model.ErrBackendUnavailable, tmp, err)
	}
	return nil
}

func (m *Mirror) watch() {
	for {
		select {
		case <-m.done:
			return
		case ev, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			name := filepath.Base(ev.Name)
			if !strings.HasSuffix(name, ".json") {
				continue
			}
			m.reload(strings.TrimSuffix(name, ".json"))
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.log.Warn("mirror watcher error", zap.Error(err))
		}
	}
}

// reload re-reads one collection file after an external write and notifies
// subscribers of documents whose revision changed. Revisions already in
// memory (our own writes) produce no notification.
func (m *Mirror) reload(collection string) {
	snaps, err := m.readFile(collection)
	if err != nil {
		m.log.Warn("mirror reload failed", zap.String("collection", collection), zap.Error(err))
		return
	}

	m.mu.Lock()
	if m.cols[collection] == nil {
		m.cols[collection] = make(map[string]Snapshot)
	}
	var changed []Snapshot
	for _, s := range snaps {
		if cur, ok := m.cols[collection][s.ID]; !ok || cur.Rev != s.Rev {
			m.cols[collection][s.ID] = s
			changed = append(changed, s)
		}
	}
	m.mu.Unlock()

	for _, s := range changed {
		m.hub.publish(Event{Collection: collection, ID: s.ID, Rev: s.Rev, Data: s.Data, Origin: "external"})
	}
}

func checkKeys(collection, id string) error {
	if collection == "" || id == "" {
		return fmt.Errorf("%w: collection and id are required", model.ErrValidation)
	}
	return nil
}
