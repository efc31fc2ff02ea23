// README: Driver store backed by PostgreSQL.
package driver

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"courier/internal/types"
)

const uniqueViolation = "23505"

const driverColumns = `
    id, user_id, full_name, phone, email,
    vehicle_type, vehicle_plate, vehicle_model, license_number,
    is_available, is_verified, is_active,
    rating, completed_deliveries, cancelled_deliveries,
    current_latitude, current_longitude, current_speed, current_heading, last_location_update,
    current_delivery_id, created_at, updated_at`

const eligibleClause = `is_available AND is_verified AND is_active AND current_delivery_id IS NULL`

type PGStore struct {
	db *pgxpool.Pool
}

var _ Store = (*PGStore)(nil)

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Create(ctx context.Context, d *Driver) error {
	lat, lng := splitPoint(d.Position)
	_, err := s.db.Exec(ctx, `
        INSERT INTO drivers (`+driverColumns+`)
        VALUES (
            $1, $2, $3, $4, $5,
            $6, $7, $8, $9,
            $10, $11, $12,
            $13, $14, $15,
            $16, $17, $18, $19, $20,
            $21, $22, $23
        )`,
		string(d.ID), string(d.UserID), d.Profile.FullName, d.Profile.Phone, d.Profile.Email,
		string(d.Vehicle.Type), d.Vehicle.Plate, d.Vehicle.Model, d.Vehicle.LicenseNumber,
		d.IsAvailable, d.IsVerified, d.IsActive,
		d.Rating, d.CompletedDeliveries, d.CancelledDeliveries,
		lat, lng, d.CurrentSpeed, d.CurrentHeading, d.LastLocationUpdate,
		toStringPtr(d.CurrentDeliveryID), d.CreatedAt, d.UpdatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDuplicateRegistration
	}
	return err
}

func (s *PGStore) Get(ctx context.Context, id types.ID) (*Driver, error) {
	row := s.db.QueryRow(ctx, `SELECT `+driverColumns+` FROM drivers WHERE id = $1`, string(id))
	return scanOne(row)
}

func (s *PGStore) GetByUserID(ctx context.Context, userID types.ID) (*Driver, error) {
	row := s.db.QueryRow(ctx, `SELECT `+driverColumns+` FROM drivers WHERE user_id = $1`, string(userID))
	return scanOne(row)
}

func (s *PGStore) Update(ctx context.Context, d *Driver) error {
	lat, lng := splitPoint(d.Position)
	tag, err := s.db.Exec(ctx, `
        UPDATE drivers
        SET vehicle_type = $2,
            vehicle_plate = $3,
            vehicle_model = $4,
            license_number = $5,
            is_available = $6,
            is_verified = $7,
            is_active = $8,
            rating = $9,
            completed_deliveries = $10,
            cancelled_deliveries = $11,
            current_latitude = $12,
            current_longitude = $13,
            current_speed = $14,
            current_heading = $15,
            last_location_update = $16,
            current_delivery_id = $17,
            updated_at = $18
        WHERE id = $1`,
		string(d.ID),
		string(d.Vehicle.Type), d.Vehicle.Plate, d.Vehicle.Model, d.Vehicle.LicenseNumber,
		d.IsAvailable, d.IsVerified, d.IsActive,
		d.Rating, d.CompletedDeliveries, d.CancelledDeliveries,
		lat, lng, d.CurrentSpeed, d.CurrentHeading, d.LastLocationUpdate,
		toStringPtr(d.CurrentDeliveryID), d.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PGStore) ListAll(ctx context.Context, page Page) ([]*Driver, error) {
	page = page.normalize()
	return s.query(ctx, `SELECT `+driverColumns+` FROM drivers
        ORDER BY created_at, id LIMIT $1 OFFSET $2`, page.Limit, page.Offset)
}

func (s *PGStore) ListEligible(ctx context.Context) ([]*Driver, error) {
	return s.query(ctx, `SELECT `+driverColumns+` FROM drivers WHERE `+eligibleClause+` ORDER BY created_at, id`)
}

func (s *PGStore) ListEligibleInArea(ctx context.Context, area Area) ([]*Driver, error) {
	return s.query(ctx, `SELECT `+driverColumns+` FROM drivers
        WHERE `+eligibleClause+`
          AND current_latitude IS NOT NULL AND current_longitude IS NOT NULL
          AND current_latitude BETWEEN $1 AND $2
          AND current_longitude BETWEEN $3 AND $4
        ORDER BY created_at, id`,
		area.MinLat, area.MaxLat, area.MinLng, area.MaxLng,
	)
}

func (s *PGStore) ListUnverified(ctx context.Context, page Page) ([]*Driver, error) {
	page = page.normalize()
	return s.query(ctx, `SELECT `+driverColumns+` FROM drivers WHERE NOT is_verified
        ORDER BY created_at, id LIMIT $1 OFFSET $2`, page.Limit, page.Offset)
}

func (s *PGStore) Search(ctx context.Context, query string, page Page) ([]*Driver, error) {
	page = page.normalize()
	return s.query(ctx, `SELECT `+driverColumns+` FROM drivers
        WHERE full_name ILIKE '%' || $1 || '%'
           OR email ILIKE '%' || $1 || '%'
           OR vehicle_plate ILIKE '%' || $1 || '%'
        ORDER BY created_at, id LIMIT $2 OFFSET $3`, query, page.Limit, page.Offset)
}

func (s *PGStore) Statistics(ctx context.Context) (Statistics, error) {
	var st Statistics
	err := s.db.QueryRow(ctx, `
        SELECT COUNT(*),
               COUNT(*) FILTER (WHERE is_available),
               COUNT(*) FILTER (WHERE NOT is_verified),
               COUNT(*) FILTER (WHERE current_delivery_id IS NOT NULL)
        FROM drivers`,
	).Scan(&st.TotalDrivers, &st.AvailableDrivers, &st.PendingVerification, &st.ActiveDeliveries)
	return st, err
}

func (s *PGStore) query(ctx context.Context, sql string, args ...any) ([]*Driver, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*Driver{}
	for rows.Next() {
		d, err := scanDriver(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func scanOne(row pgx.Row) (*Driver, error) {
	d, err := scanDriver(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return d, err
}

func scanDriver(row pgx.Row) (*Driver, error) {
	var (
		d          Driver
		id, userID string
		vType      string
		lat, lng   *float64
		deliveryID *string
	)
	err := row.Scan(
		&id, &userID, &d.Profile.FullName, &d.Profile.Phone, &d.Profile.Email,
		&vType, &d.Vehicle.Plate, &d.Vehicle.Model, &d.Vehicle.LicenseNumber,
		&d.IsAvailable, &d.IsVerified, &d.IsActive,
		&d.Rating, &d.CompletedDeliveries, &d.CancelledDeliveries,
		&lat, &lng, &d.CurrentSpeed, &d.CurrentHeading, &d.LastLocationUpdate,
		&deliveryID, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.ID = types.ID(id)
	d.UserID = types.ID(userID)
	d.Vehicle.Type = VehicleType(vType)
	if lat != nil && lng != nil {
		d.Position = &types.Point{Lat: *lat, Lng: *lng}
	}
	if deliveryID != nil {
		v := types.ID(*deliveryID)
		d.CurrentDeliveryID = &v
	}
	return &d, nil
}

// PGUserDirectory reads account details from the users table owned by the auth collaborator.
type PGUserDirectory struct {
	db *pgxpool.Pool
}

func NewPGUserDirectory(db *pgxpool.Pool) *PGUserDirectory {
	return &PGUserDirectory{db: db}
}

func (u *PGUserDirectory) Lookup(ctx context.Context, userID types.ID) (UserProfile, error) {
	var p UserProfile
	err := u.db.QueryRow(ctx, `
        SELECT full_name, COALESCE(phone, ''), email
        FROM users
        WHERE id = $1`, string(userID),
	).Scan(&p.FullName, &p.Phone, &p.Email)
	if errors.Is(err, pgx.ErrNoRows) {
		return UserProfile{}, ErrUserNotFound
	}
	return p, err
}

func splitPoint(p *types.Point) (*float64, *float64) {
	if p == nil {
		return nil, nil
	}
	lat, lng := p.Lat, p.Lng
	return &lat, &lng
}

func toStringPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}
