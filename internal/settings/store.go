package settings

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"p2precon/internal/kv"
	"p2precon/internal/model"
)

const credentialsKey = "settings:credentials"

// Observer is notified with the new credentials after every change.
type Observer func(model.Credentials)

// Store is the single home of exchange API credentials. Every change goes
// through Update or Clear and fans out to subscribers.
type Store struct {
	mu        sync.RWMutex
	kv        *kv.Store
	creds     model.Credentials
	observers []Observer
}

// Open loads persisted credentials; seed is used when none have been saved yet.
func Open(db *kv.Store, seed model.Credentials) (*Store, error) {
	s := &Store{kv: db, creds: seed}

	var saved model.Credentials
	err := db.GetJSON(credentialsKey, &saved)
	switch {
	case err == nil:
		s.creds = saved
	case errors.Is(err, kv.ErrNotFound):
	default:
		return nil, fmt.Errorf("load credentials: %w", err)
	}
	return s, nil
}

// Credentials implements the credential provider consumed by the sync coordinator.
func (s *Store) Credentials() model.Credentials {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creds
}

func (s *Store) Subscribe(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

// Update applies a partial change, persists it and notifies subscribers.
func (s *Store) Update(p model.CredentialsPatch) (model.Credentials, error) {
	s.mu.Lock()
	next := s.creds
	if p.UseAPI != nil {
		next.UseAPI = *p.UseAPI
	}
	if p.APIKey != nil {
		next.APIKey = *p.APIKey
	}
	if p.APISecret != nil {
		next.APISecret = *p.APISecret
	}
	if err := s.kv.PutJSON(credentialsKey, next); err != nil {
		s.mu.Unlock()
		return s.Credentials(), fmt.Errorf("save credentials: %w", err)
	}
	s.creds = next
	observers := append([]Observer(nil), s.observers...)
	s.mu.Unlock()

	s.notify(observers, next)
	return next, nil
}

// Clear drops stored credentials and disables API use.
func (s *Store) Clear() error {
	s.mu.Lock()
	if err := s.kv.Delete(credentialsKey); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("clear credentials: %w", err)
	}
	s.creds = model.Credentials{}
	observers := append([]Observer(nil), s.observers...)
	s.mu.Unlock()

	s.notify(observers, model.Credentials{})
	return nil
}

func (s *Store) notify(observers []Observer, c model.Credentials) {
	slog.Info("credentials changed", "status", c.Status(), "subscribers", len(observers))
	for _, o := range observers {
		o(c)
	}
}
