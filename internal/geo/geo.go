package geo

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/Slamanii/Ride-hailing/internal/models"
)

var ErrUnknownDriver = errors.New("unknown driver")

// Directory is the driver registry the matcher and handlers read and write.
type Directory interface {
	Upsert(ctx context.Context, d models.Driver) error
	UpdateLocation(ctx context.Context, driverID string, loc models.Coord) error
	SetStatus(ctx context.Context, driverID string, status models.DriverStatus) error
	Get(ctx context.Context, driverID string) (models.Driver, error)
	AvailableDrivers(ctx context.Context, classes []models.VehicleClass, limit int) ([]models.Driver, error)
	// List returns up to limit drivers ordered by id, whatever their status.
	List(ctx context.Context, limit int) ([]models.Driver, error)
	Count(ctx context.Context) (int, error)
}

// Index is an in-process Directory.
type Index struct {
	mu      sync.RWMutex
	drivers map[string]models.Driver
}

func NewIndex() *Index {
	return &Index{drivers: make(map[string]models.Driver)}
}

func (g *Index) Upsert(_ context.Context, d models.Driver) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if d.Status == "" {
		d.Status = models.DriverOffline
	}
	d.Updated = time.Now()
	g.drivers[d.ID] = d
	return nil
}

func (g *Index) UpdateLocation(_ context.Context, driverID string, loc models.Coord) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	d, ok := g.drivers[driverID]
	if !ok {
		return ErrUnknownDriver
	}
	d.Loc = loc
	d.Updated = time.Now()
	g.drivers[driverID] = d
	return nil
}

func (g *Index) SetStatus(_ context.Context, driverID string, status models.DriverStatus) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	d, ok := g.drivers[driverID]
	if !ok {
		return ErrUnknownDriver
	}
	d.Status = status
	d.Updated = time.Now()
	g.drivers[driverID] = d
	return nil
}

func (g *Index) Get(_ context.Context, driverID string) (models.Driver, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	d, ok := g.drivers[driverID]
	if !ok {
		return models.Driver{}, ErrUnknownDriver
	}
	return d, nil
}

// AvailableDrivers returns up to limit available drivers of the given classes
// in map order; callers must not rely on any ranking.
func (g *Index) AvailableDrivers(_ context.Context, classes []models.VehicleClass, limit int) ([]models.Driver, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]models.Driver, 0, limit)
	for _, d := range g.drivers {
		if len(out) >= limit {
			break
		}
		if d.Status != models.DriverAvailable || !containsClass(classes, d.VehicleClass) {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func (g *Index) List(_ context.Context, limit int) ([]models.Driver, error) {
	g.mu.RLock()
	out := make([]models.Driver, 0, len(g.drivers))
	for _, d := range g.drivers {
		out = append(out, d)
	}
	g.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (g *Index) Count(_ context.Context) (int, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.drivers), nil
}

func containsClass(classes []models.VehicleClass, c models.VehicleClass) bool {
	for _, v := range classes {
		if v == c {
			return true
		}
	}
	return false
}

// Haversine distance in meters
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}

func DistanceKm(a, b models.Coord) float64 {
	return Haversine(a.Lat, a.Lon, b.Lat, b.Lon) / 1000
}

// WithinProximity reports whether b is strictly closer than thresholdKm to a.
func WithinProximity(a, b models.Coord, thresholdKm float64) bool {
	return DistanceKm(a, b) < thresholdKm
}
