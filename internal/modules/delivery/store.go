// README: Delivery store port with in-memory and Postgres implementations.
package delivery

import (
	"context"
	"errors"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"courier/internal/types"
)

var ErrNotFound = errors.New("delivery not found")

type Store interface {
	Get(ctx context.Context, id types.ID) (*Delivery, error)
	Update(ctx context.Context, d *Delivery) error
	// Ensure inserts d when no delivery with its id exists and returns the stored row either way.
	Ensure(ctx context.Context, d *Delivery) (*Delivery, error)
}

type MemoryStore struct {
	mu    sync.RWMutex
	items map[types.ID]*Delivery
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[types.ID]*Delivery)}
}

func (s *MemoryStore) Ensure(_ context.Context, d *Delivery) (*Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.items[d.ID]; ok {
		return cur.Clone(), nil
	}
	s.items[d.ID] = d.Clone()
	return d.Clone(), nil
}

func (s *MemoryStore) Get(_ context.Context, id types.ID) (*Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return d.Clone(), nil
}

func (s *MemoryStore) Update(_ context.Context, d *Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[d.ID]; !ok {
		return ErrNotFound
	}
	s.items[d.ID] = d.Clone()
	return nil
}

type PGStore struct {
	db *pgxpool.Pool
}

var _ Store = (*PGStore)(nil)

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Get(ctx context.Context, id types.ID) (*Delivery, error) {
	var (
		d        Delivery
		did, oid string
		status   string
	)
	err := s.db.QueryRow(ctx, `
        SELECT id, order_id, tracking_number, status, address,
               driver_name, driver_phone, estimated_delivery, actual_delivery, updated_at
        FROM deliveries
        WHERE id = $1`, string(id),
	).Scan(&did, &oid, &d.TrackingNumber, &status, &d.Address,
		&d.DriverName, &d.DriverPhone, &d.EstimatedDelivery, &d.ActualDelivery, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	d.ID = types.ID(did)
	d.OrderID = types.ID(oid)
	d.Status = Status(status)
	return &d, nil
}

func (s *PGStore) Ensure(ctx context.Context, d *Delivery) (*Delivery, error) {
	_, err := s.db.Exec(ctx, `
        INSERT INTO deliveries (id, order_id, tracking_number, status, address, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (id) DO NOTHING`,
		string(d.ID), string(d.OrderID), d.TrackingNumber, string(d.Status), d.Address, d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, d.ID)
}

// Update writes only the fields dispatch owns: status, driver snapshot and timestamps.
func (s *PGStore) Update(ctx context.Context, d *Delivery) error {
	tag, err := s.db.Exec(ctx, `
        UPDATE deliveries
        SET status = $2,
            driver_name = $3,
            driver_phone = $4,
            estimated_delivery = $5,
            actual_delivery = $6,
            updated_at = $7
        WHERE id = $1`,
		string(d.ID), string(d.Status), d.DriverName, d.DriverPhone,
		d.EstimatedDelivery, d.ActualDelivery, d.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
