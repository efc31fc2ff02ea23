package driver

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"courier/internal/types"
)

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

type mockUsers struct {
	profiles map[types.ID]UserProfile
}

func (m *mockUsers) Lookup(_ context.Context, userID types.ID) (UserProfile, error) {
	p, ok := m.profiles[userID]
	if !ok {
		return UserProfile{}, ErrUserNotFound
	}
	return p, nil
}

func newTestRegistry() (*Registry, *MemoryStore) {
	store := NewMemoryStore()
	users := &mockUsers{profiles: map[types.ID]UserProfile{
		"u1": {FullName: "Alice Martin", Phone: "+33100000001", Email: "alice@example.com"},
		"u2": {FullName: "Bob Durand", Phone: "+33100000002", Email: "bob@example.com"},
		"u3": {FullName: "Chloe Petit", Phone: "+33100000003", Email: "chloe@example.com"},
	}}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRegistry(store, users, log), store
}

func car(plate string) VehicleInfo {
	return VehicleInfo{Type: VehicleCar, Plate: plate, Model: "Clio", LicenseNumber: "L-" + plate}
}

func mustRegister(t *testing.T, r *Registry, userID types.ID) *Driver {
	t.Helper()
	d, err := r.Register(context.Background(), userID, car("AB-"+string(userID)))
	if err != nil {
		t.Fatalf("register %s: %v", userID, err)
	}
	return d
}

func assertAvailabilityInvariant(t *testing.T, d *Driver) {
	t.Helper()
	if d.IsAvailable && !(d.IsActive && d.IsVerified) {
		t.Fatalf("driver %s available but active=%v verified=%v", d.ID, d.IsActive, d.IsVerified)
	}
	if d.HasDelivery() && d.IsAvailable {
		t.Fatalf("driver %s available while holding delivery %s", d.ID, *d.CurrentDeliveryID)
	}
}

// ---------------------------------------------------------------------------
// registration
// ---------------------------------------------------------------------------

func TestRegister_Defaults(t *testing.T) {
	r, _ := newTestRegistry()
	d := mustRegister(t, r, "u1")

	if d.IsAvailable || d.IsVerified || !d.IsActive {
		t.Fatalf("unexpected flags: available=%v verified=%v active=%v", d.IsAvailable, d.IsVerified, d.IsActive)
	}
	if d.Rating != 5.0 {
		t.Errorf("expected rating 5.0, got %f", d.Rating)
	}
	if d.CompletedDeliveries != 0 || d.CancelledDeliveries != 0 {
		t.Errorf("expected zero counters, got %d/%d", d.CompletedDeliveries, d.CancelledDeliveries)
	}
	if d.State() != StateUnverified {
		t.Errorf("expected state %s, got %s", StateUnverified, d.State())
	}
	if d.Profile.FullName != "Alice Martin" {
		t.Errorf("expected cached profile, got %+v", d.Profile)
	}
}

func TestRegister_DuplicateUser(t *testing.T) {
	r, _ := newTestRegistry()
	mustRegister(t, r, "u1")

	_, err := r.Register(context.Background(), "u1", car("ZZ-999"))
	if !errors.Is(err, ErrDuplicateRegistration) {
		t.Fatalf("expected ErrDuplicateRegistration, got %v", err)
	}
}

func TestRegister_Validation(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()

	tests := []struct {
		name    string
		userID  types.ID
		vehicle VehicleInfo
		want    error
	}{
		{name: "missing user", userID: "", vehicle: car("X"), want: ErrValidation},
		{name: "bad vehicle type", userID: "u1", vehicle: VehicleInfo{Type: "TRUCK"}, want: ErrValidation},
		{name: "unknown user", userID: "ghost", vehicle: car("X"), want: ErrUserNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Register(ctx, tt.userID, tt.vehicle)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestRegister_ConcurrentSameUser(t *testing.T) {
	r, _ := newTestRegistry()
	const n = 10

	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		mu    sync.Mutex
		ok    int
		dup   int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := r.Register(context.Background(), "u1", car("AB-123"))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrDuplicateRegistration):
				dup++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if ok != 1 || dup != n-1 {
		t.Fatalf("expected 1 success and %d duplicates, got %d/%d", n-1, ok, dup)
	}
}

// ---------------------------------------------------------------------------
// lifecycle
// ---------------------------------------------------------------------------

func TestGoOnline_RequiresVerification(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()
	d := mustRegister(t, r, "u1")

	if _, err := r.GoOnline(ctx, d.ID); !errors.Is(err, ErrNotVerified) {
		t.Fatalf("expected ErrNotVerified, got %v", err)
	}
	if _, err := r.Verify(ctx, d.ID); err != nil {
		t.Fatalf("verify: %v", err)
	}
	got, err := r.GoOnline(ctx, d.ID)
	if err != nil {
		t.Fatalf("go online: %v", err)
	}
	if !got.IsAvailable || got.State() != StateOnlineFree {
		t.Fatalf("expected online free, got available=%v state=%s", got.IsAvailable, got.State())
	}
}

func TestVerify_Idempotent(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()
	d := mustRegister(t, r, "u1")

	for i := 0; i < 2; i++ {
		got, err := r.Verify(ctx, d.ID)
		if err != nil {
			t.Fatalf("verify #%d: %v", i, err)
		}
		if got.State() != StateVerifiedOffline {
			t.Fatalf("expected %s, got %s", StateVerifiedOffline, got.State())
		}
	}
}

func TestSuspendAndReactivate(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()
	d := mustRegister(t, r, "u1")
	r.Verify(ctx, d.ID)
	r.GoOnline(ctx, d.ID)

	got, err := r.Suspend(ctx, d.ID)
	if err != nil {
		t.Fatalf("suspend: %v", err)
	}
	if got.IsAvailable || got.IsActive || got.State() != StateSuspended {
		t.Fatalf("expected suspended offline driver, got %+v", got)
	}

	if _, err := r.GoOnline(ctx, d.ID); !errors.Is(err, ErrDriverInactive) {
		t.Fatalf("expected ErrDriverInactive while suspended, got %v", err)
	}

	got, err = r.Reactivate(ctx, d.ID)
	if err != nil {
		t.Fatalf("reactivate: %v", err)
	}
	if got.IsAvailable {
		t.Fatal("reactivate must not restore availability")
	}
	if got.State() != StateVerifiedOffline {
		t.Fatalf("expected %s, got %s", StateVerifiedOffline, got.State())
	}
}

func TestSuspend_KeepsDeliveryReference(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()
	d := mustRegister(t, r, "u1")
	r.Verify(ctx, d.ID)

	delivery := types.ID("del-1")
	if _, err := r.Mutate(ctx, d.ID, func(d *Driver) error {
		d.CurrentDeliveryID = &delivery
		return nil
	}); err != nil {
		t.Fatalf("seed delivery: %v", err)
	}

	got, err := r.Suspend(ctx, d.ID)
	if err != nil {
		t.Fatalf("suspend: %v", err)
	}
	if got.CurrentDeliveryID == nil || *got.CurrentDeliveryID != delivery {
		t.Fatalf("expected delivery reference to survive suspension, got %v", got.CurrentDeliveryID)
	}
}

func TestToggleAvailability(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()
	d := mustRegister(t, r, "u1")

	if _, err := r.ToggleAvailability(ctx, d.ID); !errors.Is(err, ErrNotVerified) {
		t.Fatalf("expected ErrNotVerified when toggling on unverified driver, got %v", err)
	}
	r.Verify(ctx, d.ID)

	got, err := r.ToggleAvailability(ctx, d.ID)
	if err != nil || !got.IsAvailable {
		t.Fatalf("expected available after toggle, got %v err=%v", got, err)
	}
	got, err = r.ToggleAvailability(ctx, d.ID)
	if err != nil || got.IsAvailable {
		t.Fatalf("expected unavailable after second toggle, got %v err=%v", got, err)
	}
}

func TestGoOffline_Unconditional(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()
	d := mustRegister(t, r, "u1")

	got, err := r.GoOffline(ctx, d.ID)
	if err != nil {
		t.Fatalf("go offline on unverified driver: %v", err)
	}
	if got.IsAvailable {
		t.Fatal("expected unavailable")
	}
}

func TestUpdateProfile_TouchesVehicleOnly(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()
	d := mustRegister(t, r, "u1")
	r.Verify(ctx, d.ID)
	r.GoOnline(ctx, d.ID)

	van := VehicleVan
	plate := "NEW-001"
	got, err := r.UpdateProfile(ctx, d.ID, ProfileUpdate{Type: &van, Plate: &plate})
	if err != nil {
		t.Fatalf("update profile: %v", err)
	}
	if got.Vehicle.Type != VehicleVan || got.Vehicle.Plate != plate {
		t.Errorf("vehicle not updated: %+v", got.Vehicle)
	}
	if got.Vehicle.Model != "Clio" {
		t.Errorf("model should be unchanged, got %q", got.Vehicle.Model)
	}
	if !got.IsAvailable || !got.IsVerified || !got.IsActive {
		t.Errorf("status flags changed: %+v", got)
	}

	bad := VehicleType("BOAT")
	if _, err := r.UpdateProfile(ctx, d.ID, ProfileUpdate{Type: &bad}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestNotFound(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()

	if _, err := r.GetByID(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByID: expected ErrNotFound, got %v", err)
	}
	if _, err := r.GetByUserID(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByUserID: expected ErrNotFound, got %v", err)
	}
	if _, err := r.Verify(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Verify: expected ErrNotFound, got %v", err)
	}
}

func TestMutate_ErrorLeavesDriverUntouched(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()
	d := mustRegister(t, r, "u1")

	boom := errors.New("boom")
	_, err := r.Mutate(ctx, d.ID, func(d *Driver) error {
		d.Rating = 1.0
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	got, _ := r.GetByID(ctx, d.ID)
	if got.Rating != 5.0 {
		t.Fatalf("rating changed on failed mutation: %f", got.Rating)
	}
}

// TestMutate_ConcurrentIncrements checks that per-driver serialization prevents lost updates.
func TestMutate_ConcurrentIncrements(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()
	d := mustRegister(t, r, "u1")
	const n = 50

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := r.Mutate(ctx, d.ID, func(d *Driver) error {
				d.CancelledDeliveries++
				return nil
			}); err != nil {
				t.Errorf("mutate: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	got, _ := r.GetByID(ctx, d.ID)
	if got.CancelledDeliveries != n {
		t.Fatalf("expected %d increments, got %d", n, got.CancelledDeliveries)
	}
}

// TestAvailabilityInvariant walks a driver through every lifecycle call in many orders
// and checks the availability invariant after each step.
func TestAvailabilityInvariant(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()
	d := mustRegister(t, r, "u1")

	ops := []func(types.ID) (*Driver, error){
		func(id types.ID) (*Driver, error) { return r.GoOnline(ctx, id) },
		func(id types.ID) (*Driver, error) { return r.ToggleAvailability(ctx, id) },
		func(id types.ID) (*Driver, error) { return r.Suspend(ctx, id) },
		func(id types.ID) (*Driver, error) { return r.Verify(ctx, id) },
		func(id types.ID) (*Driver, error) { return r.Reactivate(ctx, id) },
		func(id types.ID) (*Driver, error) { return r.GoOffline(ctx, id) },
	}
	for round := 0; round < 3; round++ {
		for i := range ops {
			for j := range ops {
				ops[i](d.ID)
				ops[j](d.ID)
				got, err := r.GetByID(ctx, d.ID)
				if err != nil {
					t.Fatalf("get: %v", err)
				}
				assertAvailabilityInvariant(t, got)
			}
		}
	}
}

// ---------------------------------------------------------------------------
// read projections
// ---------------------------------------------------------------------------

func TestListAvailable_And_Area(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()
	a := mustRegister(t, r, "u1")
	b := mustRegister(t, r, "u2")
	mustRegister(t, r, "u3")

	for _, id := range []types.ID{a.ID, b.ID} {
		r.Verify(ctx, id)
		r.GoOnline(ctx, id)
	}
	r.Mutate(ctx, a.ID, func(d *Driver) error {
		d.Position = &types.Point{Lat: 48.85, Lng: 2.35}
		return nil
	})

	avail, _ := r.ListAvailable(ctx)
	if len(avail) != 2 {
		t.Fatalf("expected 2 available drivers, got %d", len(avail))
	}

	inArea, _ := r.ListAvailableInArea(ctx, Area{MinLat: 48, MaxLat: 49, MinLng: 2, MaxLng: 3})
	if len(inArea) != 1 || inArea[0].ID != a.ID {
		t.Fatalf("expected only driver %s in area, got %v", a.ID, inArea)
	}

	unverified, _ := r.ListUnverified(ctx, Page{})
	if len(unverified) != 1 {
		t.Fatalf("expected 1 unverified driver, got %d", len(unverified))
	}
}

func TestSearch_CaseInsensitive(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()
	mustRegister(t, r, "u1")
	mustRegister(t, r, "u2")

	tests := []struct {
		query string
		want  int
	}{
		{"alice", 1},
		{"BOB@EXAMPLE", 1},
		{"ab-u2", 1},
		{"example.com", 2},
		{"nobody", 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			got, err := r.Search(ctx, tt.query, Page{})
			if err != nil {
				t.Fatalf("search: %v", err)
			}
			if len(got) != tt.want {
				t.Fatalf("search %q: expected %d results, got %d", tt.query, tt.want, len(got))
			}
		})
	}
}

func TestStatistics(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()
	a := mustRegister(t, r, "u1")
	b := mustRegister(t, r, "u2")
	mustRegister(t, r, "u3")

	r.Verify(ctx, a.ID)
	r.GoOnline(ctx, a.ID)
	r.Verify(ctx, b.ID)
	del := types.ID("del-1")
	r.Mutate(ctx, b.ID, func(d *Driver) error {
		d.CurrentDeliveryID = &del
		return nil
	})

	st, err := r.Statistics(ctx)
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}
	want := Statistics{TotalDrivers: 3, AvailableDrivers: 1, PendingVerification: 1, ActiveDeliveries: 1}
	if st != want {
		t.Fatalf("expected %+v, got %+v", want, st)
	}
}

func TestListAll_Pagination(t *testing.T) {
	r, _ := newTestRegistry()
	ctx := context.Background()
	mustRegister(t, r, "u1")
	mustRegister(t, r, "u2")
	mustRegister(t, r, "u3")

	first, _ := r.ListAll(ctx, Page{Limit: 2})
	second, _ := r.ListAll(ctx, Page{Limit: 2, Offset: 2})
	if len(first) != 2 || len(second) != 1 {
		t.Fatalf("expected pages of 2 and 1, got %d and %d", len(first), len(second))
	}
	if first[0].ID == second[0].ID || first[1].ID == second[0].ID {
		t.Fatal("pages overlap")
	}
	empty, _ := r.ListAll(ctx, Page{Offset: 10})
	if len(empty) != 0 {
		t.Fatalf("expected empty page, got %d", len(empty))
	}
}

func TestMemoryStore_ReturnsClones(t *testing.T) {
	r, store := newTestRegistry()
	ctx := context.Background()
	d := mustRegister(t, r, "u1")

	got, _ := store.Get(ctx, d.ID)
	got.IsVerified = true
	got.Vehicle.Plate = "MUTATED"

	again, _ := store.Get(ctx, d.ID)
	if again.IsVerified || again.Vehicle.Plate == "MUTATED" {
		t.Fatal("store leaked internal state to caller")
	}
}
