// README: Driver store port and the in-memory implementation used in tests and single-node runs.
package driver

import (
	"context"
	"sort"
	"strings"
	"sync"

	"courier/internal/types"
)

// Area is an inclusive latitude/longitude rectangle.
type Area struct {
	MinLat, MaxLat float64
	MinLng, MaxLng float64
}

func (a Area) Contains(p types.Point) bool {
	return p.Lat >= a.MinLat && p.Lat <= a.MaxLat && p.Lng >= a.MinLng && p.Lng <= a.MaxLng
}

type Store interface {
	// Create fails with ErrDuplicateRegistration when the user already owns a profile.
	Create(ctx context.Context, d *Driver) error
	Get(ctx context.Context, id types.ID) (*Driver, error)
	GetByUserID(ctx context.Context, userID types.ID) (*Driver, error)
	Update(ctx context.Context, d *Driver) error
	ListAll(ctx context.Context, page Page) ([]*Driver, error)
	// ListEligible returns available, verified, active drivers without a delivery.
	ListEligible(ctx context.Context) ([]*Driver, error)
	// ListEligibleInArea is ListEligible restricted to drivers with a known position inside the area.
	ListEligibleInArea(ctx context.Context, area Area) ([]*Driver, error)
	ListUnverified(ctx context.Context, page Page) ([]*Driver, error)
	Search(ctx context.Context, query string, page Page) ([]*Driver, error)
	Statistics(ctx context.Context) (Statistics, error)
}

type MemoryStore struct {
	mu     sync.RWMutex
	byID   map[types.ID]*Driver
	byUser map[types.ID]types.ID
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:   make(map[types.ID]*Driver),
		byUser: make(map[types.ID]types.ID),
	}
}

func (s *MemoryStore) Create(_ context.Context, d *Driver) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byUser[d.UserID]; ok {
		return ErrDuplicateRegistration
	}
	s.byID[d.ID] = d.Clone()
	s.byUser[d.UserID] = d.ID
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id types.ID) (*Driver, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return d.Clone(), nil
}

func (s *MemoryStore) GetByUserID(_ context.Context, userID types.ID) (*Driver, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byUser[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return s.byID[id].Clone(), nil
}

func (s *MemoryStore) Update(_ context.Context, d *Driver) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[d.ID]; !ok {
		return ErrNotFound
	}
	s.byID[d.ID] = d.Clone()
	return nil
}

func (s *MemoryStore) ListAll(_ context.Context, page Page) ([]*Driver, error) {
	return paginate(s.filter(func(*Driver) bool { return true }), page), nil
}

func (s *MemoryStore) ListEligible(_ context.Context) ([]*Driver, error) {
	return s.filter(func(d *Driver) bool { return d.Eligible() }), nil
}

func (s *MemoryStore) ListEligibleInArea(_ context.Context, area Area) ([]*Driver, error) {
	return s.filter(func(d *Driver) bool {
		return d.Eligible() && d.Position != nil && area.Contains(*d.Position)
	}), nil
}

func (s *MemoryStore) ListUnverified(_ context.Context, page Page) ([]*Driver, error) {
	return paginate(s.filter(func(d *Driver) bool { return !d.IsVerified }), page), nil
}

func (s *MemoryStore) Search(_ context.Context, query string, page Page) ([]*Driver, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	return paginate(s.filter(func(d *Driver) bool {
		return strings.Contains(strings.ToLower(d.Profile.FullName), q) ||
			strings.Contains(strings.ToLower(d.Profile.Email), q) ||
			strings.Contains(strings.ToLower(d.Vehicle.Plate), q)
	}), page), nil
}

func (s *MemoryStore) Statistics(_ context.Context) (Statistics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var st Statistics
	for _, d := range s.byID {
		st.TotalDrivers++
		if d.IsAvailable {
			st.AvailableDrivers++
		}
		if !d.IsVerified {
			st.PendingVerification++
		}
		if d.CurrentDeliveryID != nil {
			st.ActiveDeliveries++
		}
	}
	return st, nil
}

// filter returns clones ordered by creation time, then id.
func (s *MemoryStore) filter(keep func(*Driver) bool) []*Driver {
	s.mu.RLock()
	out := make([]*Driver, 0, len(s.byID))
	for _, d := range s.byID {
		if keep(d) {
			out = append(out, d.Clone())
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func paginate(items []*Driver, page Page) []*Driver {
	page = page.normalize()
	if page.Offset >= len(items) {
		return []*Driver{}
	}
	end := page.Offset + page.Limit
	if end > len(items) {
		end = len(items)
	}
	return items[page.Offset:end]
}
