// Package session persists dialogue state between requests.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agenthands/tsgcopilot/internal/config"
	"github.com/agenthands/tsgcopilot/internal/core/dialogue"
)

var ErrNotFound = errors.New("session not found")

// Store keeps one dialogue.State per conversation id.
type Store interface {
	Get(ctx context.Context, id string) (*dialogue.State, error)
	Put(ctx context.Context, st dialogue.State) error
	Delete(ctx context.Context, id string) error
	Close() error
}

// New builds the store selected by cfg.Store.
func New(cfg config.SessionConfig, log *zap.Logger) (Store, error) {
	switch cfg.Store {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return NewSQLiteStore(cfg.DBPath, log)
	default:
		return nil, fmt.Errorf("%w: unknown session store %q", config.ErrInvalid, cfg.Store)
	}
}

// MemoryStore keeps encoded states in a map so callers never share
// mutable state with the store.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string][]byte)}
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*dialogue.State, error) {
	m.mu.RLock()
	raw, ok := m.states[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return decodeState(raw)
}

func (m *MemoryStore) Put(ctx context.Context, st dialogue.State) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", st.ID, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[st.ID] = raw
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, id)
	return nil
}

func (m *MemoryStore) Close() error { return nil }

// Len reports the number of stored sessions.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.states)
}

func decodeState(raw []byte) (*dialogue.State, error) {
	var st dialogue.State
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &st, nil
}

// retry runs fn up to attempts times, doubling the wait after each failure.
func retry(ctx context.Context, attempts int, wait time.Duration, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		wait *= 2
	}
	return err
}
