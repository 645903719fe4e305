package router

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vetrinaimmobilihandmade/portale-immobili-handmade-sub001/internal/model"
	"github.com/vetrinaimmobilihandmade/portale-immobili-handmade-sub001/internal/repository"
)

// memProfiles mirrors ProfileRepo semantics in memory.
type memProfiles struct {
	mu      sync.Mutex
	roles   map[string]model.Role
	created map[string]time.Time
}

func (m *memProfiles) GetRole(_ context.Context, id string) (model.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.roles[id]
	if !ok {
		return model.RoleNone, repository.ErrProfileNotFound
	}
	return r, nil
}

func (m *memProfiles) GetByID(_ context.Context, id string) (model.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.roles[id]
	if !ok {
		return model.Profile{}, repository.ErrProfileNotFound
	}
	return model.Profile{UserID: id, Role: r, CreatedAt: m.created[id]}, nil
}

func (m *memProfiles) EnsureViewer(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[id]; !ok {
		m.roles[id] = model.RoleViewer
	}
	return nil
}

func (m *memProfiles) UpgradeToInserzionista(_ context.Context, id string) (model.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev := m.roles[id]
	if !prev.CanSelfUpgrade() {
		return prev, repository.ErrConflict
	}
	m.roles[id] = model.RoleInserzionista
	return prev, nil
}

func (m *memProfiles) SetRole(_ context.Context, id string, role model.Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[id]; !ok {
		return repository.ErrProfileNotFound
	}
	m.roles[id] = role
	return nil
}

// memListings mirrors ListingRepo semantics in memory.
type memListings struct {
	mu     sync.Mutex
	nextID uint64
	rows   map[uint64]model.Listing
}

func newMemListings() *memListings { return &memListings{rows: map[uint64]model.Listing{}} }

func (m *memListings) Create(_ context.Context, l *model.Listing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	l.ID = m.nextID
	l.Status = model.StatusPending
	l.CreatedAt = time.Now()
	l.UpdatedAt = l.CreatedAt
	m.rows[l.ID] = *l
	return nil
}

func (m *memListings) GetByID(_ context.Context, id uint64) (*model.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.rows[id]
	if !ok {
		return nil, repository.ErrListingNotFound
	}
	return &l, nil
}

func (m *memListings) filter(keep func(model.Listing) bool) []*model.Listing {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*model.Listing{}
	for _, l := range m.rows {
		if keep(l) {
			l := l
			out = append(out, &l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *memListings) ListPublished(_ context.Context, f model.ListingFilter) ([]*model.Listing, error) {
	return m.filter(func(l model.Listing) bool {
		return l.Status == model.StatusPublished && (f.Kind == "" || l.Kind == f.Kind)
	}), nil
}

func (m *memListings) ListByOwner(_ context.Context, owner string) ([]*model.Listing, error) {
	return m.filter(func(l model.Listing) bool { return l.OwnerID == owner }), nil
}

func (m *memListings) ListByStatus(_ context.Context, s model.ListingStatus) ([]*model.Listing, error) {
	return m.filter(func(l model.Listing) bool { return l.Status == s }), nil
}

func (m *memListings) Update(_ context.Context, l *model.Listing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.rows[l.ID]
	if !ok {
		return repository.ErrListingNotFound
	}
	if cur.OwnerID != l.OwnerID {
		return repository.ErrForbidden
	}
	l.Status = model.StatusPending
	l.CreatedAt = cur.CreatedAt
	m.rows[l.ID] = *l
	return nil
}

func (m *memListings) DeleteByIDAndOwner(_ context.Context, id uint64, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.rows[id]
	if !ok {
		return repository.ErrListingNotFound
	}
	if cur.OwnerID != owner {
		return repository.ErrForbidden
	}
	delete(m.rows, id)
	return nil
}

func (m *memListings) SetStatus(_ context.Context, id uint64, s model.ListingStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.rows[id]
	if !ok {
		return repository.ErrListingNotFound
	}
	cur.Status = s
	m.rows[id] = cur
	return nil
}

type published struct {
	Type  string
	Event any
}

type memEvents struct {
	mu   sync.Mutex
	sent []published
}

func (m *memEvents) Publish(_ context.Context, eventType string, event any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, published{eventType, event})
	return nil
}

func (m *memEvents) types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []string{}
	for _, p := range m.sent {
		out = append(out, p.Type)
	}
	return out
}
