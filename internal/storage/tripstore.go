package storage

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/Slamanii/Ride-hailing/internal/models"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrDriverAtCapacity = errors.New("driver already at ongoing trip capacity")
	ErrDuplicateTrip    = errors.New("ride request already has an active trip")
	ErrAlreadySettled   = errors.New("trip already settled")
)

// TripStore defines persistence operations for trips.
type TripStore interface {
	// SaveTrip inserts t unless the driver already has maxOngoing ongoing
	// trips or t's ride request already has a non-cancelled trip. The check
	// and insert are atomic.
	SaveTrip(ctx context.Context, t *models.Trip, maxOngoing int) error
	// TrackTrip records the driver position on a trip that is still ongoing.
	TrackTrip(ctx context.Context, id string, loc models.Coord) error
	// FinishTrip writes t's terminal state only if the stored trip is still
	// ongoing; otherwise it returns models.ErrTripTerminal.
	FinishTrip(ctx context.Context, t *models.Trip) error
	// RecordSettlement stores ref unless the trip already has one, in which
	// case it returns ErrAlreadySettled.
	RecordSettlement(ctx context.Context, id, ref string) error
	GetTrip(ctx context.Context, id string) (*models.Trip, error)
	GetTripByReference(ctx context.Context, reference string) (*models.Trip, error)
	OngoingTripCount(ctx context.Context, driverID string) (int, error)
	OngoingTripsForDriver(ctx context.Context, driverID string) ([]*models.Trip, error)
	CountOngoingTrips(ctx context.Context) (int, error)
}

type RideRequestStore interface {
	SaveRideRequest(ctx context.Context, r *models.RideRequest) error
	GetRideRequest(ctx context.Context, id string) (*models.RideRequest, error)
}

type RiderStore interface {
	SaveRider(ctx context.Context, r *models.Rider) error
	GetRider(ctx context.Context, id string) (*models.Rider, error)
	ListRiders(ctx context.Context, limit int) ([]models.Rider, error)
	CountRiders(ctx context.Context) (int, error)
}

// Store is everything the API process persists.
type Store interface {
	TripStore
	RideRequestStore
	RiderStore
}

type MemoryStore struct {
	mu       sync.RWMutex
	trips    map[string]*models.Trip
	requests map[string]*models.RideRequest
	riders   map[string]*models.Rider
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		trips:    make(map[string]*models.Trip),
		requests: make(map[string]*models.RideRequest),
		riders:   make(map[string]*models.Rider),
	}
}

func (m *MemoryStore) SaveTrip(_ context.Context, t *models.Trip, maxOngoing int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ongoing := 0
	for _, cur := range m.trips {
		if cur.RequestID == t.RequestID && cur.Status != models.TripCancelled {
			return ErrDuplicateTrip
		}
		if cur.DriverID == t.DriverID && cur.Status == models.TripOngoing {
			ongoing++
		}
	}
	if ongoing >= maxOngoing {
		return ErrDriverAtCapacity
	}
	cp := *t
	m.trips[t.ID] = &cp
	return nil
}

// ongoing returns the stored trip if it can still change. Callers hold mu.
func (m *MemoryStore) ongoing(id string) (*models.Trip, error) {
	cur, ok := m.trips[id]
	if !ok {
		return nil, ErrNotFound
	}
	if cur.Status != models.TripOngoing {
		return nil, models.ErrTripTerminal
	}
	return cur, nil
}

func (m *MemoryStore) TrackTrip(_ context.Context, id string, loc models.Coord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, err := m.ongoing(id)
	if err != nil {
		return err
	}
	cur.DriverLocation = loc
	return nil
}

func (m *MemoryStore) FinishTrip(_ context.Context, t *models.Trip) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.ongoing(t.ID); err != nil {
		return err
	}
	cp := *t
	m.trips[t.ID] = &cp
	return nil
}

func (m *MemoryStore) RecordSettlement(_ context.Context, id, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.trips[id]
	if !ok {
		return ErrNotFound
	}
	if cur.SettlementRef != "" {
		return ErrAlreadySettled
	}
	cur.SettlementRef = ref
	return nil
}

func (m *MemoryStore) GetTrip(_ context.Context, id string) (*models.Trip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.trips[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryStore) GetTripByReference(_ context.Context, reference string) (*models.Trip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.trips {
		if t.Reference == reference {
			cp := *t
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) OngoingTripCount(_ context.Context, driverID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, t := range m.trips {
		if t.DriverID == driverID && t.Status == models.TripOngoing {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) OngoingTripsForDriver(_ context.Context, driverID string) ([]*models.Trip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Trip
	for _, t := range m.trips {
		if t.DriverID == driverID && t.Status == models.TripOngoing {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) CountOngoingTrips(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, t := range m.trips {
		if t.Status == models.TripOngoing {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) SaveRideRequest(_ context.Context, r *models.RideRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.requests[r.ID] = &cp
	return nil
}

func (m *MemoryStore) GetRideRequest(_ context.Context, id string) (*models.RideRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) SaveRider(_ context.Context, r *models.Rider) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.riders[r.ID] = &cp
	return nil
}

func (m *MemoryStore) GetRider(_ context.Context, id string) (*models.Rider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.riders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

// ListRiders returns up to limit riders ordered by id.
func (m *MemoryStore) ListRiders(_ context.Context, limit int) ([]models.Rider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Rider, 0, len(m.riders))
	for _, r := range m.riders {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) CountRiders(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.riders), nil
}
