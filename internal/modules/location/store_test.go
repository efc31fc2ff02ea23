package location

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"courier/internal/infra"
	"courier/internal/types"
)

func TestPGLedger_Ordering(t *testing.T) {
	dsn := os.Getenv("COURIER_TEST_DSN")
	if dsn == "" {
		t.Skip("COURIER_TEST_DSN not set; skipping DB-backed tests")
	}
	ctx := context.Background()
	db, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(db.Close)
	dir, err := infra.RepoMigrations()
	if err != nil {
		t.Fatalf("locate migrations: %v", err)
	}
	if err := infra.ApplyMigrations(ctx, db, dir); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	driverID := types.NewID()
	now := time.Now().UTC()
	if _, err := db.Exec(ctx, `INSERT INTO drivers (id, user_id, vehicle_type, created_at, updated_at)
        VALUES ($1, $2, 'CAR', $3, $3)`, string(driverID), string(types.NewID()), now); err != nil {
		t.Fatalf("seed driver: %v", err)
	}

	l := NewPGLedger(db)
	deliveryID := types.NewID()
	for i := 0; i < 3; i++ {
		rec := &Record{
			DriverID:   driverID,
			Latitude:   float64(i),
			Longitude:  float64(i),
			DeliveryID: &deliveryID,
			RecordedAt: now.Add(time.Duration(i) * time.Second),
		}
		if err := l.Append(ctx, rec); err != nil {
			t.Fatalf("append: %v", err)
		}
		if rec.ID == 0 {
			t.Fatal("expected id to be assigned")
		}
	}

	hist, err := l.History(ctx, driverID, 2)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(hist) != 2 || hist[0].Latitude != 2 || hist[1].Latitude != 1 {
		t.Fatalf("unexpected history %+v", hist)
	}
	path, err := l.DeliveryPath(ctx, deliveryID)
	if err != nil {
		t.Fatalf("path: %v", err)
	}
	if len(path) != 3 || path[0].Latitude != 0 || path[2].Latitude != 2 {
		t.Fatalf("unexpected path %+v", path)
	}
	if n, _ := l.Count(ctx, driverID); n != 3 {
		t.Fatalf("expected 3 rows, got %d", n)
	}
}

func TestRedisGeoIndex_WithinBox(t *testing.T) {
	addr := os.Getenv("COURIER_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("COURIER_TEST_REDIS_ADDR not set; skipping integration test")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	defer rdb.Close()

	ctx := context.Background()
	g := NewRedisGeoIndex(rdb)
	g.key = fmt.Sprintf("courier:test:geo:%d", time.Now().UnixNano())
	defer rdb.Del(ctx, g.key)

	near := types.NewID()
	far := types.NewID()
	if err := g.Upsert(ctx, near, types.Point{Lat: 48.8566, Lng: 2.3522}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if err := g.Upsert(ctx, far, types.Point{Lat: 45.7640, Lng: 4.8357}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	ids, err := g.WithinBox(ctx, types.Point{Lat: 48.8584, Lng: 2.2945}, 20, 20)
	if err != nil {
		t.Fatalf("within box: %v", err)
	}
	if len(ids) != 1 || ids[0] != near {
		t.Fatalf("expected only the Paris driver, got %v", ids)
	}

	if err := g.Remove(ctx, near); err != nil {
		t.Fatalf("remove: %v", err)
	}
	ids, _ = g.WithinBox(ctx, types.Point{Lat: 48.8584, Lng: 2.2945}, 20, 20)
	if len(ids) != 0 {
		t.Fatalf("expected empty result after remove, got %v", ids)
	}
}
