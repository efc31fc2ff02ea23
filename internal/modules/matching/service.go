// README: Proximity matcher; nearest and within-radius queries over live driver snapshots.
package matching

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"courier/internal/modules/driver"
	"courier/internal/modules/location"
	"courier/internal/types"
)

var (
	ErrNoDriverAvailable = errors.New("no driver available")
	ErrValidation        = errors.New("invalid proximity query")
)

// Candidate is an eligible driver with its distance to the query point.
type Candidate struct {
	Driver     *driver.Driver `json:"driver"`
	DistanceKm float64        `json:"distanceKm"`
}

type Options struct {
	// MaxStaleness > 0 excludes drivers whose last ping is older. Zero keeps every driver.
	MaxStaleness time.Duration
	// Geo is optional; when set, radius queries use it as the bounding-box pre-filter.
	Geo location.GeoIndex
}

type Matcher struct {
	registry  *driver.Registry
	geo       location.GeoIndex
	staleness time.Duration
	log       *slog.Logger
	now       func() time.Time
}

func NewMatcher(registry *driver.Registry, opts Options, log *slog.Logger) *Matcher {
	return &Matcher{
		registry:  registry,
		geo:       opts.Geo,
		staleness: opts.MaxStaleness,
		log:       log.With("component", "proximity_matcher"),
		now:       time.Now,
	}
}

// FindNearest returns the eligible driver closest to p. Equal distances resolve to the smaller driver id.
func (m *Matcher) FindNearest(ctx context.Context, p types.Point) (Candidate, error) {
	if !p.Valid() {
		return Candidate{}, fmt.Errorf("%w: coordinates out of range", ErrValidation)
	}
	drivers, err := m.registry.ListAvailable(ctx)
	if err != nil {
		return Candidate{}, err
	}

	var (
		best  Candidate
		found bool
	)
	for _, d := range drivers {
		if !m.usable(d) {
			continue
		}
		dist := DistanceKm(p, *d.Position)
		if !found || closer(dist, d.ID, best.DistanceKm, best.Driver.ID) {
			best = Candidate{Driver: d, DistanceKm: dist}
			found = true
		}
	}
	if !found {
		return Candidate{}, ErrNoDriverAvailable
	}
	return best, nil
}

// FindWithinRadius narrows candidates with a bounding box, then keeps those whose exact
// distance is within radiusKm, sorted nearest first.
func (m *Matcher) FindWithinRadius(ctx context.Context, p types.Point, radiusKm float64) ([]Candidate, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("%w: coordinates out of range", ErrValidation)
	}
	if radiusKm <= 0 || math.IsNaN(radiusKm) || math.IsInf(radiusKm, 0) {
		return nil, fmt.Errorf("%w: radius must be positive", ErrValidation)
	}

	drivers, err := m.boxCandidates(ctx, p, radiusKm)
	if err != nil {
		return nil, err
	}
	out := []Candidate{}
	for _, d := range drivers {
		if !m.usable(d) {
			continue
		}
		if dist := DistanceKm(p, *d.Position); dist <= radiusKm {
			out = append(out, Candidate{Driver: d, DistanceKm: dist})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return closer(out[i].DistanceKm, out[i].Driver.ID, out[j].DistanceKm, out[j].Driver.ID)
	})
	return out, nil
}

// boxCandidates prefers the GEO index and falls back to the registry's area scan when it fails.
func (m *Matcher) boxCandidates(ctx context.Context, p types.Point, radiusKm float64) ([]*driver.Driver, error) {
	box := BoundingBox(p, radiusKm)
	if m.geo != nil {
		drivers, err := m.fromGeo(ctx, p, box)
		if err == nil {
			return drivers, nil
		}
		m.log.Warn("geo index query failed, scanning registry", "err", err)
	}
	return m.registry.ListAvailableInArea(ctx, box)
}

func (m *Matcher) fromGeo(ctx context.Context, p types.Point, box driver.Area) ([]*driver.Driver, error) {
	heightKm := (box.MaxLat - box.MinLat) * kmPerDegree
	widthKm := (box.MaxLng - box.MinLng) * kmPerDegree * math.Cos(degreesToRadians(p.Lat))
	if widthKm < heightKm {
		widthKm = heightKm
	}
	ids, err := m.geo.WithinBox(ctx, p, widthKm, heightKm)
	if err != nil {
		return nil, err
	}
	out := make([]*driver.Driver, 0, len(ids))
	for _, id := range ids {
		d, err := m.registry.GetByID(ctx, id)
		if errors.Is(err, driver.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if d.Eligible() && d.Position != nil && box.Contains(*d.Position) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *Matcher) usable(d *driver.Driver) bool {
	if !d.Eligible() || d.Position == nil {
		return false
	}
	if m.staleness > 0 {
		if d.LastLocationUpdate == nil || m.now().Sub(*d.LastLocationUpdate) > m.staleness {
			return false
		}
	}
	return true
}

func closer(distA float64, idA types.ID, distB float64, idB types.ID) bool {
	if distA != distB {
		return distA < distB
	}
	return idA < idB
}
