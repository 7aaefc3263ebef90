// Package limiter bounds how many ongoing trips a driver may carry at once.
package limiter

import (
	"context"

	"github.com/Slamanii/Ride-hailing/internal/models"
)

// CapFor is the per-class ceiling on simultaneous ongoing trips. Light
// vehicles can batch a second delivery; everything else carries one.
func CapFor(class models.VehicleClass) int {
	if class == models.VehicleBike {
		return 2
	}
	return 1
}

// TripCounter is the slice of the trip store the limiter reads.
type TripCounter interface {
	OngoingTripCount(ctx context.Context, driverID string) (int, error)
}

type Limiter struct {
	Trips TripCounter
}

func New(trips TripCounter) *Limiter {
	return &Limiter{Trips: trips}
}

// OngoingTripCount is read live from the store on every call.
func (l *Limiter) OngoingTripCount(ctx context.Context, driverID string) (int, error) {
	return l.Trips.OngoingTripCount(ctx, driverID)
}

// WithinCap reports whether the driver may take one more trip.
func (l *Limiter) WithinCap(ctx context.Context, driverID string, class models.VehicleClass) (bool, error) {
	n, err := l.OngoingTripCount(ctx, driverID)
	if err != nil {
		return false, err
	}
	return n < CapFor(class), nil
}
