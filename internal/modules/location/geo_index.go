// README: Redis GEO mirror of driver positions used as a spatial pre-filter.
package location

import (
	"context"

	"github.com/redis/go-redis/v9"

	"courier/internal/types"
)

const driverGeoKey = "courier:drivers:geo"

// GeoIndex mirrors last known positions. It may be stale; callers re-check against the registry.
type GeoIndex interface {
	Upsert(ctx context.Context, id types.ID, p types.Point) error
	Remove(ctx context.Context, id types.ID) error
	// WithinBox returns members inside a widthKm x heightKm box centred on p.
	WithinBox(ctx context.Context, p types.Point, widthKm, heightKm float64) ([]types.ID, error)
}

type RedisGeoIndex struct {
	redis *redis.Client
	key   string
}

var _ GeoIndex = (*RedisGeoIndex)(nil)

func NewRedisGeoIndex(client *redis.Client) *RedisGeoIndex {
	return &RedisGeoIndex{redis: client, key: driverGeoKey}
}

func (g *RedisGeoIndex) Upsert(ctx context.Context, id types.ID, p types.Point) error {
	return g.redis.GeoAdd(ctx, g.key, &redis.GeoLocation{
		Name:      string(id),
		Longitude: p.Lng,
		Latitude:  p.Lat,
	}).Err()
}

func (g *RedisGeoIndex) Remove(ctx context.Context, id types.ID) error {
	return g.redis.ZRem(ctx, g.key, string(id)).Err()
}

func (g *RedisGeoIndex) WithinBox(ctx context.Context, p types.Point, widthKm, heightKm float64) ([]types.ID, error) {
	members, err := g.redis.GeoSearch(ctx, g.key, &redis.GeoSearchQuery{
		Longitude: p.Lng,
		Latitude:  p.Lat,
		BoxWidth:  widthKm,
		BoxHeight: heightKm,
		BoxUnit:   "km",
		Sort:      "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]types.ID, len(members))
	for i, m := range members {
		ids[i] = types.ID(m)
	}
	return ids, nil
}
