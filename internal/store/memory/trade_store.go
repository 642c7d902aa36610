package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/lotwise/internal/domain"
)

// TradeStore implements domain.TradeStore in memory.
type TradeStore struct {
	mu     sync.RWMutex
	trades map[string]domain.TradeEvent
}

// NewTradeStore creates an empty TradeStore.
func NewTradeStore() *TradeStore {
	return &TradeStore{trades: make(map[string]domain.TradeEvent)}
}

// Insert records t. A second insert of the same id returns
// domain.ErrAlreadyExists.
func (s *TradeStore) Insert(_ context.Context, t domain.TradeEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.trades[t.ID]; ok {
		return fmt.Errorf("memory: insert trade %s: %w", t.ID, domain.ErrAlreadyExists)
	}
	s.trades[t.ID] = t
	return nil
}

// GetByID returns one trade or domain.ErrNotFound.
func (s *TradeStore) GetByID(_ context.Context, id string) (domain.TradeEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.trades[id]
	if !ok {
		return domain.TradeEvent{}, fmt.Errorf("memory: get trade %s: %w", id, domain.ErrNotFound)
	}
	return t, nil
}

// List returns trades newest first, optionally narrowed to one symbol.
func (s *TradeStore) List(_ context.Context, symbol string, opts domain.ListOpts) ([]domain.TradeEvent, error) {
	s.mu.RLock()
	out := make([]domain.TradeEvent, 0, len(s.trades))
	for _, t := range s.trades {
		if symbol != "" && t.Symbol != symbol {
			continue
		}
		if !inWindow(t.Timestamp, opts) {
			continue
		}
		out = append(out, t)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	return page(out, opts), nil
}

func inWindow(ts time.Time, opts domain.ListOpts) bool {
	if opts.Since != nil && ts.Before(*opts.Since) {
		return false
	}
	if opts.Until != nil && ts.After(*opts.Until) {
		return false
	}
	return true
}

func page[T any](items []T, opts domain.ListOpts) []T {
	if opts.Offset > 0 {
		if opts.Offset >= len(items) {
			return []T{}
		}
		items = items[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(items) {
		items = items[:opts.Limit]
	}
	return items
}

// Compile-time interface check.
var _ domain.TradeStore = (*TradeStore)(nil)
