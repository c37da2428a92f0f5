package override

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"p2precon/internal/kv"
	"p2precon/internal/model"
)

const keyPrefix = "ov:"

// Store holds reconciliation state keyed by order id. It is the only writer of
// override records; every read-modify-write happens under one mutex.
type Store struct {
	mu  sync.Mutex
	kv  *kv.Store
	now func() time.Time
}

func NewStore(db *kv.Store) *Store {
	return &Store{kv: db, now: time.Now}
}

// WithClock replaces the clock used to stamp reconciled_at.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

func key(id string) string {
	return keyPrefix + id
}

// Get returns the stored override for id; ok is false when none exists.
func (s *Store) Get(id string) (model.Override, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(id)
}

func (s *Store) get(id string) (model.Override, bool, error) {
	var ov model.Override
	err := s.kv.GetJSON(key(id), &ov)
	if errors.Is(err, kv.ErrNotFound) {
		return model.Override{}, false, nil
	}
	if err != nil {
		return model.Override{}, false, fmt.Errorf("get override %s: %w", id, err)
	}
	return ov, true, nil
}

// Set applies patch to the stored override for id, stamping actor on a
// transition to reconciled. base seeds the record when nothing is stored yet,
// so an order already reconciled in the persisted store is not re-stamped.
func (s *Store) Set(id string, patch model.ReconciliationPatch, actor string, base model.Override) (model.Override, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok, err := s.get(id)
	if err != nil {
		return model.Override{}, err
	}
	if !ok {
		cur = base
	}

	next := patch.Apply(cur, actor, s.now())
	if err := s.kv.PutJSON(key(id), next); err != nil {
		return model.Override{}, fmt.Errorf("save override %s: %w", id, err)
	}
	return next, nil
}

// Apply overlays the stored override onto o, if any. Business fields are never touched.
func (s *Store) Apply(o model.Order) (model.Order, error) {
	ov, ok, err := s.Get(o.ID)
	if err != nil {
		return o, err
	}
	if !ok {
		return o, nil
	}
	return o.WithOverride(ov), nil
}

// ApplyAll overlays stored overrides onto every order. Orders without a stored
// override keep their own reconciliation fields.
func (s *Store) ApplyAll(orders []model.Order) ([]model.Order, error) {
	all, err := s.All()
	if err != nil {
		return nil, err
	}

	out := make([]model.Order, len(orders))
	for i, o := range orders {
		if ov, ok := all[o.ID]; ok {
			o = o.WithOverride(ov)
		}
		out[i] = o
	}
	return out, nil
}

// All loads every stored override.
func (s *Store) All() (map[string]model.Override, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := make(map[string]model.Override)
	err := s.kv.Scan(keyPrefix, func(k string, v []byte) error {
		var ov model.Override
		if err := json.Unmarshal(v, &ov); err != nil {
			return fmt.Errorf("decode %s: %w", k, err)
		}
		all[k[len(keyPrefix):]] = ov
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load overrides: %w", err)
	}
	return all, nil
}
