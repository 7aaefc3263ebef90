// Package trips drives a trip from Ongoing to a terminal state and settles
// completed fares.
package trips

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Slamanii/Ride-hailing/internal/limiter"
	"github.com/Slamanii/Ride-hailing/internal/models"
	"github.com/Slamanii/Ride-hailing/internal/observability"
	"github.com/Slamanii/Ride-hailing/internal/storage"
)

const (
	EventCompleted = "trip.completed"
	EventCancelled = "trip.cancelled"
	EventSettled   = "trip.settled"
)

// DefaultFareRate is settlement units per currency unit of fare estimate.
var DefaultFareRate = decimal.NewFromInt(128)

// Settler records payment for a completed trip and returns its reference.
type Settler interface {
	Settle(ctx context.Context, t *models.Trip) (string, error)
}

type EventPublisher interface {
	PublishTripEvent(ctx context.Context, ev models.TripEvent) error
}

// Drivers is the directory slice needed to return drivers to the pool.
type Drivers interface {
	Get(ctx context.Context, driverID string) (models.Driver, error)
	SetStatus(ctx context.Context, driverID string, status models.DriverStatus) error
}

type Service struct {
	Trips    storage.TripStore
	Drivers  Drivers
	Settler  Settler
	Events   EventPublisher // optional
	FareRate decimal.Decimal
	Log      *slog.Logger
	Now      func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) rate() decimal.Decimal {
	if s.FareRate.IsZero() {
		return DefaultFareRate
	}
	return s.FareRate
}

func (s *Service) logger() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}

// HandleLocation records the driver's position on each of their ongoing trips
// and completes those whose dropoff has been reached. Trips that end
// concurrently are left as they are.
func (s *Service) HandleLocation(ctx context.Context, u models.LocationUpdate) ([]*models.Trip, error) {
	ongoing, err := s.Trips.OngoingTripsForDriver(ctx, u.DriverID)
	if err != nil {
		return nil, fmt.Errorf("ongoing trips for %s: %w", u.DriverID, err)
	}
	at := u.At
	if at.IsZero() {
		at = s.now()
	}
	var completed []*models.Trip
	for _, t := range ongoing {
		if !t.ObserveLocation(u.Loc, at, s.rate()) {
			err = s.Trips.TrackTrip(ctx, t.ID, u.Loc)
		} else {
			err = s.Trips.FinishTrip(ctx, t)
		}
		if errors.Is(err, models.ErrTripTerminal) {
			continue
		}
		if err != nil {
			return completed, fmt.Errorf("update trip %s: %w", t.ID, err)
		}
		if t.Status == models.TripCompleted {
			s.afterComplete(ctx, t)
			completed = append(completed, t)
		}
	}
	return completed, nil
}

// Complete is the explicit completion signal. Only one caller can complete a
// trip; the rest get models.ErrTripTerminal.
func (s *Service) Complete(ctx context.Context, tripID string) (*models.Trip, error) {
	t, err := s.Trips.GetTrip(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if err := t.Complete(s.now(), s.rate()); err != nil {
		return t, err
	}
	if err := s.Trips.FinishTrip(ctx, t); err != nil {
		return nil, err
	}
	s.afterComplete(ctx, t)
	return t, nil
}

func (s *Service) Cancel(ctx context.Context, tripID, reason string) (*models.Trip, error) {
	t, err := s.Trips.GetTrip(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if err := t.Cancel(s.now(), reason); err != nil {
		return t, err
	}
	if err := s.Trips.FinishTrip(ctx, t); err != nil {
		return nil, err
	}
	observability.TripsTotal.WithLabelValues(string(models.TripCancelled)).Inc()
	s.publish(ctx, t.Event(EventCancelled, s.now()))
	s.releaseDriver(ctx, t.DriverID)
	return t, nil
}

// Settle settles a completed trip once. A trip that already carries a
// settlement reference is returned as is.
func (s *Service) Settle(ctx context.Context, tripID string) (*models.Trip, error) {
	t, err := s.Trips.GetTrip(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if err := s.settle(ctx, t); err != nil {
		return t, err
	}
	return t, nil
}

// settle relies on settlers being idempotent per trip reference. Only the
// caller whose reference is recorded first publishes the event.
func (s *Service) settle(ctx context.Context, t *models.Trip) error {
	if t.SettlementRef != "" {
		return nil
	}
	ref, err := s.Settler.Settle(ctx, t)
	if err != nil {
		observability.SettlementsTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("settle trip %s: %w", t.ID, err)
	}
	switch err := s.Trips.RecordSettlement(ctx, t.ID, ref); {
	case errors.Is(err, storage.ErrAlreadySettled):
		cur, gerr := s.Trips.GetTrip(ctx, t.ID)
		if gerr != nil {
			return gerr
		}
		t.SettlementRef = cur.SettlementRef
		return nil
	case err != nil:
		return fmt.Errorf("store settlement ref for %s: %w", t.ID, err)
	}
	t.SettlementRef = ref
	observability.SettlementsTotal.WithLabelValues("ok").Inc()
	s.publish(ctx, t.Event(EventSettled, s.now()))
	return nil
}

// afterComplete runs the side effects of completion. Settlement failures
// leave the trip Completed and unsettled so it can be retried.
func (s *Service) afterComplete(ctx context.Context, t *models.Trip) {
	log := s.logger().With("trip_id", t.ID, "driver_id", t.DriverID)
	observability.TripsTotal.WithLabelValues(string(models.TripCompleted)).Inc()
	s.publish(ctx, t.Event(EventCompleted, s.now()))
	if err := s.settle(ctx, t); err != nil {
		log.Error("settlement failed", "err", err)
	}
	s.releaseDriver(ctx, t.DriverID)
}

// releaseDriver puts a busy driver back in the pool once below cap.
func (s *Service) releaseDriver(ctx context.Context, driverID string) {
	log := s.logger().With("driver_id", driverID)
	d, err := s.Drivers.Get(ctx, driverID)
	if err != nil {
		log.Warn("release driver lookup", "err", err)
		return
	}
	if d.Status != models.DriverBusy {
		return
	}
	n, err := s.Trips.OngoingTripCount(ctx, driverID)
	if err != nil {
		log.Warn("release driver count", "err", err)
		return
	}
	if n >= limiter.CapFor(d.VehicleClass) {
		return
	}
	if err := s.Drivers.SetStatus(ctx, driverID, models.DriverAvailable); err != nil {
		log.Warn("release driver", "err", err)
	}
}

func (s *Service) publish(ctx context.Context, ev models.TripEvent) {
	if s.Events == nil {
		return
	}
	if err := s.Events.PublishTripEvent(ctx, ev); err != nil {
		s.logger().Warn("publish trip event", "type", ev.Type, "trip_id", ev.TripID, "err", err)
	}
}
