// README: Append-only location ledger; memory and Postgres implementations share the ordering rules.
package location

import (
	"context"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"courier/internal/types"
)

// Ledger has no update or delete: rows are written once per ingested ping.
type Ledger interface {
	// Append stores rec and sets rec.ID.
	Append(ctx context.Context, rec *Record) error
	// History returns up to limit records for a driver, newest first.
	History(ctx context.Context, driverID types.ID, limit int) ([]Record, error)
	// DeliveryPath returns every record tagged with the delivery, oldest first.
	DeliveryPath(ctx context.Context, deliveryID types.ID) ([]Record, error)
	Count(ctx context.Context, driverID types.ID) (int, error)
}

type MemoryLedger struct {
	mu       sync.RWMutex
	seq      int64
	byDriver map[types.ID][]Record
	byDeliv  map[types.ID][]Record
}

var _ Ledger = (*MemoryLedger)(nil)

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		byDriver: make(map[types.ID][]Record),
		byDeliv:  make(map[types.ID][]Record),
	}
}

func (l *MemoryLedger) Append(_ context.Context, rec *Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	rec.ID = l.seq
	l.byDriver[rec.DriverID] = append(l.byDriver[rec.DriverID], *rec)
	if rec.DeliveryID != nil {
		l.byDeliv[*rec.DeliveryID] = append(l.byDeliv[*rec.DeliveryID], *rec)
	}
	return nil
}

// History relies on per-driver appends happening under the driver lock, so slice order is time order.
func (l *MemoryLedger) History(_ context.Context, driverID types.ID, limit int) ([]Record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rows := l.byDriver[driverID]
	if limit <= 0 || limit > len(rows) {
		limit = len(rows)
	}
	out := make([]Record, 0, limit)
	for i := len(rows) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, rows[i])
	}
	return out, nil
}

func (l *MemoryLedger) DeliveryPath(_ context.Context, deliveryID types.ID) ([]Record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rows := l.byDeliv[deliveryID]
	out := make([]Record, len(rows))
	copy(out, rows)
	return out, nil
}

func (l *MemoryLedger) Count(_ context.Context, driverID types.ID) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.byDriver[driverID]), nil
}

type PGLedger struct {
	db *pgxpool.Pool
}

var _ Ledger = (*PGLedger)(nil)

func NewPGLedger(db *pgxpool.Pool) *PGLedger {
	return &PGLedger{db: db}
}

const recordColumns = `id, driver_id, latitude, longitude, speed, heading, accuracy, altitude,
    delivery_id, client_timestamp, recorded_at`

func (l *PGLedger) Append(ctx context.Context, rec *Record) error {
	return l.db.QueryRow(ctx, `
        INSERT INTO driver_locations (
            driver_id, latitude, longitude, speed, heading, accuracy, altitude,
            delivery_id, client_timestamp, recorded_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        RETURNING id`,
		string(rec.DriverID), rec.Latitude, rec.Longitude, rec.Speed, rec.Heading, rec.Accuracy, rec.Altitude,
		idPtr(rec.DeliveryID), rec.ClientTimestamp, rec.RecordedAt,
	).Scan(&rec.ID)
}

func (l *PGLedger) History(ctx context.Context, driverID types.ID, limit int) ([]Record, error) {
	return l.query(ctx, `SELECT `+recordColumns+` FROM driver_locations
        WHERE driver_id = $1
        ORDER BY recorded_at DESC, id DESC
        LIMIT $2`, string(driverID), limit)
}

func (l *PGLedger) DeliveryPath(ctx context.Context, deliveryID types.ID) ([]Record, error) {
	return l.query(ctx, `SELECT `+recordColumns+` FROM driver_locations
        WHERE delivery_id = $1
        ORDER BY recorded_at, id`, string(deliveryID))
}

func (l *PGLedger) Count(ctx context.Context, driverID types.ID) (int, error) {
	var n int
	err := l.db.QueryRow(ctx, `SELECT COUNT(*) FROM driver_locations WHERE driver_id = $1`, string(driverID)).Scan(&n)
	return n, err
}

func (l *PGLedger) query(ctx context.Context, sql string, args ...any) ([]Record, error) {
	rows, err := l.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Record{}
	for rows.Next() {
		var (
			r          Record
			driverID   string
			deliveryID *string
		)
		if err := rows.Scan(&r.ID, &driverID, &r.Latitude, &r.Longitude, &r.Speed, &r.Heading,
			&r.Accuracy, &r.Altitude, &deliveryID, &r.ClientTimestamp, &r.RecordedAt); err != nil {
			return nil, err
		}
		r.DriverID = types.ID(driverID)
		if deliveryID != nil {
			v := types.ID(*deliveryID)
			r.DeliveryID = &v
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func idPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}
