package geo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Slamanii/Ride-hailing/internal/models"
)

// RedisGeo implements Directory using Redis GEO commands for positions, a hash
// per driver for metadata and one set of available driver ids per vehicle class.
type RedisGeo struct {
	client *redis.Client
	key    string
}

func NewRedisGeo(addr, password, key string) *RedisGeo {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisGeo{client: c, key: key}
}

func (r *RedisGeo) Client() *redis.Client { return r.client }

func (r *RedisGeo) Upsert(ctx context.Context, d models.Driver) error {
	if d.Status == "" {
		d.Status = models.DriverOffline
	}
	prev, err := r.client.HGet(ctx, metaKey(d.ID), "vehicle_class").Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if prev != "" && prev != string(d.VehicleClass) {
			pipe.SRem(ctx, availableKey(models.VehicleClass(prev)), d.ID)
		}
		pipe.GeoAdd(ctx, r.key, &redis.GeoLocation{Longitude: d.Loc.Lon, Latitude: d.Loc.Lat, Name: d.ID})
		pipe.HSet(ctx, metaKey(d.ID), map[string]interface{}{
			"identity_key":   d.IdentityKey,
			"name":           d.Name,
			"phone":          d.Phone,
			"email":          d.Email,
			"vehicle":        d.Vehicle,
			"license_number": d.LicenseNumber,
			"vehicle_class":  string(d.VehicleClass),
			"status":         string(d.Status),
			"updated":        time.Now().Format(time.RFC3339),
		})
		if d.Status == models.DriverAvailable {
			pipe.SAdd(ctx, availableKey(d.VehicleClass), d.ID)
		} else {
			pipe.SRem(ctx, availableKey(d.VehicleClass), d.ID)
		}
		return nil
	})
	return err
}

func (r *RedisGeo) UpdateLocation(ctx context.Context, driverID string, loc models.Coord) error {
	n, err := r.client.Exists(ctx, metaKey(driverID)).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrUnknownDriver
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.GeoAdd(ctx, r.key, &redis.GeoLocation{Longitude: loc.Lon, Latitude: loc.Lat, Name: driverID})
		pipe.HSet(ctx, metaKey(driverID), "updated", time.Now().Format(time.RFC3339))
		return nil
	})
	return err
}

func (r *RedisGeo) SetStatus(ctx context.Context, driverID string, status models.DriverStatus) error {
	class, err := r.client.HGet(ctx, metaKey(driverID), "vehicle_class").Result()
	if errors.Is(err, redis.Nil) {
		return ErrUnknownDriver
	}
	if err != nil {
		return err
	}
	vc := models.VehicleClass(class)
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, metaKey(driverID), "status", string(status), "updated", time.Now().Format(time.RFC3339))
		if status == models.DriverAvailable {
			pipe.SAdd(ctx, availableKey(vc), driverID)
		} else {
			pipe.SRem(ctx, availableKey(vc), driverID)
		}
		return nil
	})
	return err
}

func (r *RedisGeo) Get(ctx context.Context, driverID string) (models.Driver, error) {
	m, err := r.client.HGetAll(ctx, metaKey(driverID)).Result()
	if err != nil {
		return models.Driver{}, err
	}
	if len(m) == 0 {
		return models.Driver{}, ErrUnknownDriver
	}
	d := models.Driver{
		ID:            driverID,
		IdentityKey:   m["identity_key"],
		Name:          m["name"],
		Phone:         m["phone"],
		Email:         m["email"],
		Vehicle:       m["vehicle"],
		LicenseNumber: m["license_number"],
		VehicleClass:  models.VehicleClass(m["vehicle_class"]),
		Status:        models.DriverStatus(m["status"]),
	}
	if t, err := time.Parse(time.RFC3339, m["updated"]); err == nil {
		d.Updated = t
	}
	pos, err := r.client.GeoPos(ctx, r.key, driverID).Result()
	if err != nil {
		return models.Driver{}, err
	}
	if len(pos) == 1 && pos[0] != nil {
		d.Loc.Lat = pos[0].Latitude
		d.Loc.Lon = pos[0].Longitude
	}
	return d, nil
}

// AvailableDrivers samples the per-class available sets; SRANDMEMBER gives no
// ordering guarantee, which is all the matcher assumes. Members whose stored
// class or status no longer match the set are skipped.
func (r *RedisGeo) AvailableDrivers(ctx context.Context, classes []models.VehicleClass, limit int) ([]models.Driver, error) {
	out := make([]models.Driver, 0, limit)
	for _, c := range classes {
		if len(out) >= limit {
			break
		}
		ids, err := r.client.SRandMemberN(ctx, availableKey(c), int64(limit-len(out))).Result()
		if err != nil {
			return nil, fmt.Errorf("sample %s drivers: %w", c, err)
		}
		for _, id := range ids {
			d, err := r.Get(ctx, id)
			if errors.Is(err, ErrUnknownDriver) {
				// stale set member; drop it
				_ = r.client.SRem(ctx, availableKey(c), id).Err()
				continue
			}
			if err != nil {
				return nil, err
			}
			if d.Status != models.DriverAvailable || d.VehicleClass != c {
				continue
			}
			out = append(out, d)
		}
	}
	return out, nil
}

// List reads every member of the position set, so it is meant for admin
// views rather than hot paths.
func (r *RedisGeo) List(ctx context.Context, limit int) ([]models.Driver, error) {
	ids, err := r.client.ZRange(ctx, r.key, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]models.Driver, 0, len(ids))
	for _, id := range ids {
		d, err := r.Get(ctx, id)
		if errors.Is(err, ErrUnknownDriver) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func (r *RedisGeo) Count(ctx context.Context) (int, error) {
	n, err := r.client.ZCard(ctx, r.key).Result()
	return int(n), err
}

func (r *RedisGeo) Close() error { return r.client.Close() }

func metaKey(id string) string { return "driver:meta:" + id }

func availableKey(c models.VehicleClass) string { return "drivers:available:" + string(c) }
