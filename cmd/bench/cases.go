// README: Smoke, race and throughput cases for the courier API; DB and Redis cases run when configured.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"courier/internal/infra"
	"courier/internal/modules/location"
	"courier/internal/types"
)

const (
	statusPass = "PASS"
	statusFail = "FAIL"
	statusSkip = "SKIP"
)

// Pickup point for every case; the driver pings from nearby.
var (
	benchPickup = types.Point{Lat: 48.8584, Lng: 2.2945}
	benchDriver = types.Point{Lat: 48.8566, Lng: 2.3522}
)

type Runner struct {
	cfg   Config
	httpc *http.Client
	db    *pgxpool.Pool
	redis *redis.Client

	adminToken  string
	driverToken string
	driverUID   string
	driverID    string
	assigned    bool
}

type Result struct {
	Name    string
	Status  string
	Latency time.Duration
	Note    string
}

type TestCase struct {
	Name string
	Run  func(ctx context.Context, r *Runner) Result
}

func NewRunner(cfg Config) *Runner {
	return &Runner{
		cfg:   cfg,
		httpc: &http.Client{Timeout: 10 * time.Second},
	}
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := infra.NewDB(ctx, r.cfg.DSN); err == nil {
			r.db = db
		} else {
			fmt.Fprintln(os.Stderr, "db:", err)
		}
	}
	if r.cfg.RedisAddr != "" {
		if rdb, err := infra.NewRedis(ctx, r.cfg.RedisAddr); err == nil {
			r.redis = rdb
		} else {
			fmt.Fprintln(os.Stderr, "redis:", err)
		}
	}

	tests := r.cases()
	results := make([]Result, 0, len(tests))
	for _, tc := range tests {
		res := tc.Run(ctx, r)
		res.Name = tc.Name
		results = append(results, res)
		fmt.Printf("%-5s %s", res.Status, tc.Name)
		if res.Latency > 0 {
			fmt.Printf(" (%s)", res.Latency)
		}
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}

	if r.db != nil {
		r.db.Close()
	}
	if r.redis != nil {
		_ = r.redis.Close()
	}
	return results
}

func (r *Runner) cases() []TestCase {
	return []TestCase{
		{Name: "Env: Postgres connect", Run: func(ctx context.Context, r *Runner) Result {
			if r.db == nil {
				return Result{Status: statusSkip, Note: "db not configured"}
			}
			return Result{Status: statusPass}
		}},
		{Name: "Env: Redis connect", Run: func(ctx context.Context, r *Runner) Result {
			if r.redis == nil {
				return Result{Status: statusSkip, Note: "redis not configured"}
			}
			return Result{Status: statusPass}
		}},
		{Name: "Migration: apply (optional)", Run: func(ctx context.Context, r *Runner) Result {
			if !r.cfg.ApplyMigration {
				return Result{Status: statusSkip, Note: "apply-migration=false"}
			}
			if r.db == nil {
				return Result{Status: statusFail, Note: "db not configured"}
			}
			if err := infra.ApplyMigrations(ctx, r.db, r.cfg.MigrationsDir); err != nil {
				return Result{Status: statusFail, Note: err.Error()}
			}
			return Result{Status: statusPass}
		}},
		{Name: "Migration: tables exist", Run: func(ctx context.Context, r *Runner) Result {
			if r.db == nil {
				return Result{Status: statusSkip, Note: "db not configured"}
			}
			tables, err := extractTables(r.cfg.MigrationsDir)
			if err != nil {
				return Result{Status: statusFail, Note: err.Error()}
			}
			for _, t := range tables {
				var exists bool
				err := r.db.QueryRow(ctx,
					"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)", t,
				).Scan(&exists)
				if err != nil {
					return Result{Status: statusFail, Note: err.Error()}
				}
				if !exists {
					return Result{Status: statusFail, Note: "missing table: " + t}
				}
			}
			return Result{Status: statusPass, Note: fmt.Sprintf("%d tables", len(tables))}
		}},
		{Name: "API: healthz", Run: func(ctx context.Context, r *Runner) Result {
			return r.expect(ctx, http.MethodGet, "/healthz", "", nil, http.StatusOK)
		}},
		{Name: "Auth: sign bench tokens", Run: func(ctx context.Context, r *Runner) Result {
			if r.cfg.JWTSecret == "" {
				return Result{Status: statusSkip, Note: "jwt-secret not set; API cases skipped"}
			}
			var err error
			if r.adminToken, err = infra.SignJWT(r.cfg.JWTSecret, "bench-admin", "admin", time.Hour); err != nil {
				return Result{Status: statusFail, Note: err.Error()}
			}
			uid := "bench-" + string(types.NewID())[:8]
			r.driverUID = uid
			if r.driverToken, err = infra.SignJWT(r.cfg.JWTSecret, uid, "driver", time.Hour); err != nil {
				return Result{Status: statusFail, Note: err.Error()}
			}
			return Result{Status: statusPass, Note: "uid=" + uid}
		}},
		{Name: "Auth: missing token -> 401", Run: func(ctx context.Context, r *Runner) Result {
			return r.expect(ctx, http.MethodGet, "/api/driver/me", "", nil, http.StatusUnauthorized)
		}},
		{Name: "Auth: driver on admin route -> 403", Run: r.needDriverToken(func(ctx context.Context, r *Runner) Result {
			return r.expect(ctx, http.MethodGet, "/api/admin/drivers", r.driverToken, nil, http.StatusForbidden)
		})},
		{Name: "Driver: register", Run: r.needDriverToken(func(ctx context.Context, r *Runner) Result {
			if r.db != nil {
				// The user directory reads the auth-owned users table.
				_, err := r.db.Exec(ctx, `
                    INSERT INTO users (id, full_name, email) VALUES ($1, 'Bench Driver', $1 || '@bench.local')
                    ON CONFLICT (id) DO NOTHING`, r.driverUID)
				if err != nil {
					return Result{Status: statusFail, Note: "seed user: " + err.Error()}
				}
			}
			res, body := r.call(ctx, http.MethodPost, "/api/driver/me", r.driverToken, map[string]any{
				"vehicleType":  "MOTORCYCLE",
				"vehiclePlate": "BENCH-1",
			}, http.StatusCreated)
			if id, ok := body["id"].(string); ok {
				r.driverID = id
			}
			return res
		})},
		{Name: "Driver: online before verify -> 409", Run: r.needDriver(func(ctx context.Context, r *Runner) Result {
			return r.expect(ctx, http.MethodPost, "/api/driver/me/online", r.driverToken, nil, http.StatusConflict)
		})},
		{Name: "Driver: admin verify", Run: r.needDriver(func(ctx context.Context, r *Runner) Result {
			return r.expect(ctx, http.MethodPost, "/api/admin/drivers/"+r.driverID+"/verify", r.adminToken, nil, http.StatusOK)
		})},
		{Name: "Driver: go online", Run: r.needDriver(func(ctx context.Context, r *Runner) Result {
			return r.expect(ctx, http.MethodPost, "/api/driver/me/online", r.driverToken, nil, http.StatusOK)
		})},
		{Name: "Location: ping", Run: r.needDriver(func(ctx context.Context, r *Runner) Result {
			return r.expect(ctx, http.MethodPut, "/api/driver/me/location", r.driverToken, pingBody(benchDriver), http.StatusOK)
		})},
		{Name: "Location: invalid coords -> 400", Run: r.needDriver(func(ctx context.Context, r *Runner) Result {
			return r.expect(ctx, http.MethodPut, "/api/driver/me/location", r.driverToken,
				map[string]any{"latitude": 123.0, "longitude": 456.0}, http.StatusBadRequest)
		})},
		{Name: "Location: geo index mirrors ping", Run: r.needDriver(func(ctx context.Context, r *Runner) Result {
			if r.redis == nil {
				return Result{Status: statusSkip, Note: "redis not configured"}
			}
			ids, err := location.NewRedisGeoIndex(r.redis).WithinBox(ctx, benchDriver, 1, 1)
			if err != nil {
				return Result{Status: statusFail, Note: err.Error()}
			}
			for _, id := range ids {
				if string(id) == r.driverID {
					return Result{Status: statusPass}
				}
			}
			return Result{Status: statusFail, Note: "driver missing from geo index"}
		})},
		{Name: "Matching: within radius", Run: r.needDriver(func(ctx context.Context, r *Runner) Result {
			path := fmt.Sprintf("/api/admin/drivers/within?lat=%f&lng=%f&radiusKm=10", benchPickup.Lat, benchPickup.Lng)
			return r.expect(ctx, http.MethodGet, path, r.adminToken, nil, http.StatusOK)
		})},
		{Name: "Concurrency: parallel assigns to one driver", Run: r.needDriver(concurrentAssign)},
		{Name: "Assignment: complete", Run: r.needDriver(func(ctx context.Context, r *Runner) Result {
			if !r.assigned {
				return Result{Status: statusSkip, Note: "nothing assigned"}
			}
			return r.expect(ctx, http.MethodPost, "/api/driver/me/complete", r.driverToken, nil, http.StatusOK)
		})},
		{Name: "Perf: location ping throughput", Run: r.needDriver(func(ctx context.Context, r *Runner) Result {
			return perfLoad(ctx, r, http.MethodPut, "/api/driver/me/location", r.driverToken, pingBody(benchDriver))
		})},
		manualCase("Broadcast: websocket fan-out", "connect /ws/subscribe?channel=delivery:{id}:location with a token and watch pings"),
	}
}

func (r *Runner) needDriverToken(fn func(context.Context, *Runner) Result) func(context.Context, *Runner) Result {
	return func(ctx context.Context, r *Runner) Result {
		if r.driverToken == "" {
			return Result{Status: statusSkip, Note: "no bench token"}
		}
		return fn(ctx, r)
	}
}

func (r *Runner) needDriver(fn func(context.Context, *Runner) Result) func(context.Context, *Runner) Result {
	return func(ctx context.Context, r *Runner) Result {
		if r.driverID == "" {
			return Result{Status: statusSkip, Note: "driver not registered"}
		}
		return fn(ctx, r)
	}
}

func pingBody(p types.Point) map[string]any {
	return map[string]any{"latitude": p.Lat, "longitude": p.Lng, "speed": 8.0, "heading": 90.0}
}

func (r *Runner) expect(ctx context.Context, method, path, token string, body any, want int) Result {
	res, _ := r.call(ctx, method, path, token, body, want)
	return res
}

func (r *Runner) call(ctx context.Context, method, path, token string, body any, want int) (Result, map[string]any) {
	status, out, latency, err := r.do(ctx, method, path, token, body)
	if err != nil {
		return Result{Status: statusFail, Note: err.Error()}, nil
	}
	note := fmt.Sprintf("status=%d", status)
	if status != want {
		if msg, ok := out["error"].(string); ok {
			note += " error=" + msg
		}
		return Result{Status: statusFail, Latency: latency, Note: note}, out
	}
	return Result{Status: statusPass, Latency: latency, Note: note}, out
}

func (r *Runner) do(ctx context.Context, method, path, token string, body any) (int, map[string]any, time.Duration, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, 0, err
		}
		reader = strings.NewReader(string(b))
	}
	req, err := http.NewRequestWithContext(ctx, method, r.cfg.BaseURL+path, reader)
	if err != nil {
		return 0, nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	start := time.Now()
	resp, err := r.httpc.Do(req)
	if err != nil {
		return 0, nil, 0, err
	}
	defer resp.Body.Close()
	out := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out, time.Since(start), nil
}

func manualCase(name, note string) TestCase {
	return TestCase{
		Name: name,
		Run: func(ctx context.Context, r *Runner) Result {
			return Result{Status: statusSkip, Note: note}
		},
	}
}

// concurrentAssign seeds one delivery per worker and fires every assign at once; exactly one may win.
func concurrentAssign(ctx context.Context, r *Runner) Result {
	if r.db == nil {
		return Result{Status: statusSkip, Note: "needs db to seed deliveries"}
	}
	ids := make([]types.ID, r.cfg.Concurrency)
	for i := range ids {
		ids[i] = types.NewID()
		_, err := r.db.Exec(ctx, `
            INSERT INTO deliveries (id, order_id, tracking_number, status, address, updated_at)
            VALUES ($1, $2, $3, 'PROCESSING', 'bench', now())`,
			string(ids[i]), string(types.NewID()), fmt.Sprintf("BENCH-%d", i))
		if err != nil {
			return Result{Status: statusFail, Note: "seed: " + err.Error()}
		}
	}

	var (
		wg    sync.WaitGroup
		succ  atomic.Int32
		busy  atomic.Int32
		start = make(chan struct{})
	)
	for _, id := range ids {
		wg.Add(1)
		go func(id types.ID) {
			defer wg.Done()
			<-start
			status, _, _, err := r.do(ctx, http.MethodPost, "/api/admin/drivers/"+r.driverID+"/assign", r.adminToken,
				map[string]any{"deliveryId": string(id)})
			if err != nil {
				return
			}
			switch status {
			case http.StatusOK:
				succ.Add(1)
			case http.StatusConflict:
				busy.Add(1)
			}
		}(id)
	}
	close(start)
	wg.Wait()

	r.assigned = succ.Load() > 0
	note := fmt.Sprintf("success=%d conflict=%d", succ.Load(), busy.Load())
	if succ.Load() != 1 {
		return Result{Status: statusFail, Note: note}
	}
	return Result{Status: statusPass, Note: note}
}

func perfLoad(ctx context.Context, r *Runner, method, path, token string, payload any) Result {
	end := time.Now().Add(r.cfg.Duration)
	var count, errCount atomic.Int64
	wg := sync.WaitGroup{}

	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(end) && ctx.Err() == nil {
				status, _, _, err := r.do(ctx, method, path, token, payload)
				if err != nil || status >= 500 {
					errCount.Add(1)
					continue
				}
				count.Add(1)
			}
		}()
	}
	wg.Wait()

	if count.Load() == 0 {
		return Result{Status: statusFail, Note: "no requests completed"}
	}
	rps := float64(count.Load()) / r.cfg.Duration.Seconds()
	return Result{Status: statusPass, Note: fmt.Sprintf("rps=%.1f errors=%d", rps, errCount.Load())}
}

func extractTables(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return nil, err
	}
	re := regexp.MustCompile(`(?i)create\s+table\s+if\s+not\s+exists\s+([a-zA-Z0-9_]+)`)
	var tables []string
	for _, f := range files {
		b, err := os.ReadFile(f)
		if err != nil {
			return nil, err
		}
		for _, m := range re.FindAllStringSubmatch(string(b), -1) {
			tables = append(tables, m[1])
		}
	}
	return tables, nil
}
