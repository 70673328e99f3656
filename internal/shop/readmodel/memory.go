package readmodel

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-process Store.
type MemoryStore struct {
	products map[string]ProductView
	carts    map[string]CartView
	mu       sync.RWMutex
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products: make(map[string]ProductView),
		carts:    make(map[string]CartView),
	}
}

func (s *MemoryStore) GetProduct(_ context.Context, id string) (ProductView, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.products[id]
	return v, ok, nil
}

func (s *MemoryStore) ListProducts(_ context.Context) ([]ProductView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ProductView, 0, len(s.products))
	for _, v := range s.products {
		if !v.Deleted {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) PutProduct(_ context.Context, view ProductView) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[view.ID] = view
	return nil
}

func (s *MemoryStore) GetCart(_ context.Context, id string) (CartView, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.carts[id]
	if !ok {
		return CartView{}, false, nil
	}
	v.Lines = append([]CartLine(nil), v.Lines...)
	return v, true, nil
}

func (s *MemoryStore) PutCart(_ context.Context, view CartView) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	view.Lines = append([]CartLine(nil), view.Lines...)
	sortLines(view.Lines)
	s.carts[view.ID] = view
	return nil
}

func (s *MemoryStore) DeleteCart(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.carts, id)
	return nil
}
