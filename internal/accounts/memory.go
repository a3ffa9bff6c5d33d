package accounts

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/park285/chess-arena/internal/domain"
)

// memory is the development-only store used when no database is configured.
type memory struct {
	mu   sync.RWMutex
	byID map[string]domain.Account
}

func NewMemory() Store {
	return &memory{byID: make(map[string]domain.Account)}
}

func (m *memory) Get(_ context.Context, userID string) (*domain.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	acc, ok := m.byID[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return &acc, nil
}

func (m *memory) Save(_ context.Context, in *domain.Account) error {
	if in == nil || in.ID == "" {
		return errors.New("account id required")
	}
	acc := normalize(in)
	m.mu.Lock()
	m.byID[acc.ID] = acc
	m.mu.Unlock()
	return nil
}

func (m *memory) Apply(_ context.Context, changes ...Change) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range changes {
		if _, ok := m.byID[c.UserID]; !ok {
			return fmt.Errorf("update account %s: %w", c.UserID, ErrNotFound)
		}
	}
	for _, c := range changes {
		acc := m.byID[c.UserID]
		if c.Elo > 0 {
			acc.Elo = c.Elo
		}
		acc.GameStats.Played += c.Played
		acc.GameStats.Won += c.Won
		acc.GameStats.Lost += c.Lost
		acc.GameStats.Draw += c.Draw
		acc.GameStats.Stalemate += c.Stalemate
		m.byID[c.UserID] = acc
	}
	return nil
}

func (m *memory) Close() error { return nil }
