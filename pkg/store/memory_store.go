package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"mediawish/pkg/domain"
)

// MemoryStore keeps principals and wishes in-process. It backs tests and
// local runs without Postgres.
type MemoryStore struct {
	mu         sync.RWMutex
	principals map[domain.PrincipalClass]map[string]domain.Principal // class -> username -> principal
	nextID     map[domain.PrincipalClass]int64
	wishes     map[int64]domain.Wish
	order      []int64
	nextWishID int64
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		principals: map[domain.PrincipalClass]map[string]domain.Principal{
			domain.ClassUser:  {},
			domain.ClassAdmin: {},
		},
		nextID: map[domain.PrincipalClass]int64{},
		wishes: make(map[int64]domain.Wish),
	}
}

// CreatePrincipal stores p in its class namespace.
func (m *MemoryStore) CreatePrincipal(_ context.Context, p domain.Principal) (domain.Principal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byName, ok := m.principals[p.Class]
	if !ok {
		return domain.Principal{}, fmt.Errorf("unknown principal class %q", p.Class)
	}
	if _, exists := byName[p.Username]; exists {
		return domain.Principal{}, ErrDuplicateUsername
	}
	m.nextID[p.Class]++
	p.ID = m.nextID[p.Class]
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	byName[p.Username] = p
	return p, nil
}

// GetPrincipalByUsername looks up an account inside one namespace.
func (m *MemoryStore) GetPrincipalByUsername(_ context.Context, class domain.PrincipalClass, username string) (domain.Principal, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byName, ok := m.principals[class]
	if !ok {
		return domain.Principal{}, false, fmt.Errorf("unknown principal class %q", class)
	}
	p, ok := byName[username]
	return p, ok, nil
}

// CountPrincipals returns the number of accounts in one namespace.
func (m *MemoryStore) CountPrincipals(_ context.Context, class domain.PrincipalClass) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byName, ok := m.principals[class]
	if !ok {
		return 0, fmt.Errorf("unknown principal class %q", class)
	}
	return int64(len(byName)), nil
}

// InsertWish stores w after checking that its owner exists.
func (m *MemoryStore) InsertWish(_ context.Context, w domain.Wish) (domain.WishView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ownerNameLocked(w.OwnerID); !ok {
		return domain.WishView{}, ErrUnknownOwner
	}
	m.nextWishID++
	w.ID = m.nextWishID
	if w.Status == "" {
		w.Status = domain.StatusOpen
	}
	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now().UTC()
	}
	if w.UpdatedAt.IsZero() {
		w.UpdatedAt = w.CreatedAt
	}
	m.wishes[w.ID] = w
	m.order = append(m.order, w.ID)
	return m.viewLocked(w), nil
}

// ListWishesByOwner returns one user's wishes in insertion order.
func (m *MemoryStore) ListWishesByOwner(_ context.Context, ownerID int64) ([]domain.WishView, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.WishView, 0)
	for _, id := range m.order {
		if w := m.wishes[id]; w.OwnerID == ownerID {
			res = append(res, m.viewLocked(w))
		}
	}
	return res, nil
}

// ListAllWishes returns every wish in insertion order.
func (m *MemoryStore) ListAllWishes(_ context.Context) ([]domain.WishView, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.WishView, 0, len(m.order))
	for _, id := range m.order {
		res = append(res, m.viewLocked(m.wishes[id]))
	}
	return res, nil
}

// GetWish returns one wish by id.
func (m *MemoryStore) GetWish(_ context.Context, id int64) (domain.WishView, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.wishes[id]
	if !ok {
		return domain.WishView{}, false, nil
	}
	return m.viewLocked(w), true, nil
}

// SetWishStatusDone mirrors the conditional SQL update: only Open rows match.
func (m *MemoryStore) SetWishStatusDone(_ context.Context, id int64, at time.Time) (domain.WishView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wishes[id]
	if !ok || w.Status != domain.StatusOpen {
		return domain.WishView{}, ErrNotFound
	}
	w.Status = domain.StatusDone
	w.UpdatedAt = at.UTC()
	m.wishes[id] = w
	return m.viewLocked(w), nil
}

// CountWishesByStatus counts under one read lock.
func (m *MemoryStore) CountWishesByStatus(_ context.Context) (domain.WishStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := domain.WishStats{Total: int64(len(m.wishes))}
	for _, w := range m.wishes {
		switch w.Status {
		case domain.StatusOpen:
			stats.Open++
		case domain.StatusDone:
			stats.Done++
		}
	}
	return stats, nil
}

func (m *MemoryStore) ownerNameLocked(ownerID int64) (string, bool) {
	for _, p := range m.principals[domain.ClassUser] {
		if p.ID == ownerID {
			return p.Username, true
		}
	}
	return "", false
}

func (m *MemoryStore) viewLocked(w domain.Wish) domain.WishView {
	name, _ := m.ownerNameLocked(w.OwnerID)
	return domain.WishView{Wish: w, OwnerName: name}
}
