// Package matcher offers a ride request to nearby drivers one at a time until
// one accepts and a trip is recorded.
package matcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Slamanii/Ride-hailing/internal/eta"
	"github.com/Slamanii/Ride-hailing/internal/geo"
	"github.com/Slamanii/Ride-hailing/internal/limiter"
	"github.com/Slamanii/Ride-hailing/internal/models"
	"github.com/Slamanii/Ride-hailing/internal/observability"
	"github.com/Slamanii/Ride-hailing/internal/registry"
	"github.com/Slamanii/Ride-hailing/internal/storage"
)

var (
	ErrNoDriverAvailable = errors.New("no driver available")
	ErrUnknownRider      = errors.New("unknown rider")
)

// InfrastructureError aborts a match; it is never retried inside the loop.
type InfrastructureError struct {
	Op  string
	Err error
}

func (e *InfrastructureError) Error() string { return "matcher: " + e.Op + ": " + e.Err.Error() }
func (e *InfrastructureError) Unwrap() error { return e.Err }

// Directory is the part of the driver directory the matcher needs.
type Directory interface {
	AvailableDrivers(ctx context.Context, classes []models.VehicleClass, limit int) ([]models.Driver, error)
	SetStatus(ctx context.Context, driverID string, status models.DriverStatus) error
}

// Notifier pushes an offer to a driver. A nil error only means the offer
// left; the answer comes back through the registry.
type Notifier interface {
	Notify(ctx context.Context, driverID string, offer models.MatchOffer) error
}

type TripStore interface {
	SaveTrip(ctx context.Context, t *models.Trip, maxOngoing int) error
}

type Riders interface {
	GetRider(ctx context.Context, id string) (*models.Rider, error)
}

type Limiter interface {
	OngoingTripCount(ctx context.Context, driverID string) (int, error)
	WithinCap(ctx context.Context, driverID string, class models.VehicleClass) (bool, error)
}

type Config struct {
	Rounds             int
	CandidatesPerRound int
	ResponseTimeout    time.Duration
	RoundBackoff       time.Duration
	ProximityKm        float64
	// RequireRider fails requests from riders the store does not know.
	RequireRider bool
}

func DefaultConfig() Config {
	return Config{
		Rounds:             4,
		CandidatesPerRound: 10,
		ResponseTimeout:    50 * time.Second,
		RoundBackoff:       500 * time.Millisecond,
		ProximityKm:        5,
		RequireRider:       true,
	}
}

// vehicleClasses is the fixed policy from product to eligible fleet.
var vehicleClasses = map[models.RideClass][]models.VehicleClass{
	models.RideStandard: {models.VehicleEV},
	models.RideExpress:  {models.VehicleBike},
}

func VehicleClassesFor(rc models.RideClass) ([]models.VehicleClass, error) {
	v, ok := vehicleClasses[rc]
	if !ok {
		return nil, fmt.Errorf("%w: %q", models.ErrUnknownRideClass, rc)
	}
	return v, nil
}

// Reasons a rider may give when cancelling an assigned ride.
var CancelReasons = []string{
	"Change of plans",
	"Driver taking too long",
	"Found alternate transport",
	"Incorrect destination",
}

const (
	assignedStatus  = "driver is on his way."
	assignedMessage = "your package will be with you shortly."
)

type Service struct {
	Dir      Directory
	Notify   Notifier
	Registry *registry.Registry
	Trips    TripStore
	Riders   Riders
	Limiter  Limiter
	Cfg      Config
	Log      *slog.Logger
	Now      func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) logger() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}

// Match runs the candidate rounds for req and returns the trip created for
// the first driver that accepts within cap.
func (s *Service) Match(ctx context.Context, req models.RideRequest) (*models.Trip, error) {
	t, _, err := s.match(ctx, req)
	return t, err
}

// RequestMatch is Match shaped for the rider-facing API.
func (s *Service) RequestMatch(ctx context.Context, req models.RideRequest) (models.RideAssignment, error) {
	t, d, err := s.match(ctx, req)
	if err != nil {
		return models.RideAssignment{}, err
	}
	info := d.Info()
	return models.RideAssignment{
		TripID:           t.ID,
		EstimatedPrice:   req.EstimatedPrice,
		EstimatedMinutes: req.EstimatedMinutes,
		EstimatedArrival: eta.ArrivalString(s.now(), req.EstimatedMinutes),
		ValidationStatus: assignedStatus,
		DriverAssigned:   &info,
		Message:          assignedMessage,
		CancelReasons:    CancelReasons,
	}, nil
}

func (s *Service) match(ctx context.Context, req models.RideRequest) (*models.Trip, models.Driver, error) {
	start := time.Now()
	log := s.logger().With("request_id", req.ID, "rider_id", req.RiderID)

	classes, err := VehicleClassesFor(req.RideClass)
	if err != nil {
		return nil, models.Driver{}, err
	}
	rider, err := s.rider(ctx, req.RiderID)
	if err != nil {
		observability.MatchFailures.WithLabelValues(failureReason(err)).Inc()
		return nil, models.Driver{}, err
	}

	for round := 1; round <= s.Cfg.Rounds; round++ {
		cands, err := s.Dir.AvailableDrivers(ctx, classes, s.Cfg.CandidatesPerRound)
		if err != nil {
			observability.MatchFailures.WithLabelValues("directory").Inc()
			log.Error("candidate query failed", "round", round, "err", err)
			return nil, models.Driver{}, &InfrastructureError{Op: "available drivers", Err: err}
		}
		log.Debug("round", "round", round, "candidates", len(cands))
		if len(cands) == 0 {
			if err := sleep(ctx, s.Cfg.RoundBackoff); err != nil {
				observability.MatchFailures.WithLabelValues("cancelled").Inc()
				return nil, models.Driver{}, err
			}
			continue
		}
		for _, d := range cands {
			t, err := s.offer(ctx, log, req, rider, d)
			if err != nil {
				observability.MatchFailures.WithLabelValues(failureReason(err)).Inc()
				return nil, models.Driver{}, err
			}
			if t != nil {
				observability.MatchesTotal.Inc()
				observability.MatchLatency.Observe(time.Since(start).Seconds())
				log.Info("matched", "driver_id", d.ID, "trip_id", t.ID, "round", round)
				return t, d, nil
			}
		}
	}
	observability.MatchFailures.WithLabelValues("no_driver").Inc()
	log.Info("no driver accepted", "rounds", s.Cfg.Rounds)
	return nil, models.Driver{}, ErrNoDriverAvailable
}

func (s *Service) rider(ctx context.Context, id string) (models.Rider, error) {
	if s.Riders == nil {
		return models.Rider{ID: id}, nil
	}
	r, err := s.Riders.GetRider(ctx, id)
	switch {
	case err == nil:
		return *r, nil
	case errors.Is(err, storage.ErrNotFound):
		if s.Cfg.RequireRider {
			return models.Rider{}, fmt.Errorf("%w: %s", ErrUnknownRider, id)
		}
		return models.Rider{ID: id}, nil
	default:
		return models.Rider{}, &InfrastructureError{Op: "rider lookup", Err: err}
	}
}

// offer walks one candidate through gate, notify, wait and cap check. A nil
// trip with a nil error means move on to the next candidate.
func (s *Service) offer(ctx context.Context, log *slog.Logger, req models.RideRequest, rider models.Rider, d models.Driver) (*models.Trip, error) {
	log = log.With("driver_id", d.ID)
	pickupKm := geo.DistanceKm(req.Pickup, d.Loc)
	if !geo.WithinProximity(req.Pickup, d.Loc, s.Cfg.ProximityKm) {
		observability.OffersTotal.WithLabelValues("out_of_range").Inc()
		log.Debug("candidate out of range", "pickup_km", pickupKm)
		return nil, nil
	}

	p, err := s.Registry.Register(d.ID, req.RiderID)
	if errors.Is(err, registry.ErrAlreadyPending) {
		observability.OffersTotal.WithLabelValues("already_pending").Inc()
		log.Debug("candidate busy with another offer")
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	offer := models.MatchOffer{
		RequestID:        req.ID,
		RiderID:          req.RiderID,
		DriverID:         d.ID,
		Pickup:           req.Pickup,
		Dropoff:          req.Dropoff,
		RideClass:        req.RideClass,
		DistanceKm:       req.DistanceKm,
		PickupDistanceKm: pickupKm,
		EstimatedPrice:   req.EstimatedPrice,
		ExpiresAt:        s.now().Add(s.Cfg.ResponseTimeout),
	}
	if err := s.Notify.Notify(ctx, d.ID, offer); err != nil {
		p.Cancel()
		observability.OffersTotal.WithLabelValues("notify_failed").Inc()
		log.Info("notify failed", "err", err)
		return nil, nil
	}

	outcome, err := p.Wait(ctx, s.Cfg.ResponseTimeout)
	if err != nil {
		return nil, err
	}
	observability.OffersTotal.WithLabelValues(string(outcome)).Inc()
	if outcome != models.OutcomeAccepted {
		log.Debug("offer declined", "outcome", outcome)
		return nil, nil
	}

	ok, err := s.Limiter.WithinCap(ctx, d.ID, d.VehicleClass)
	if err != nil {
		log.Warn("cap check failed, skipping driver", "err", err)
		return nil, nil
	}
	if !ok {
		observability.OffersTotal.WithLabelValues("over_cap").Inc()
		log.Info("accepted while at cap")
		return nil, nil
	}

	t := models.NewTrip(req, d, rider, s.now())
	maxTrips := limiter.CapFor(d.VehicleClass)
	switch err := s.Trips.SaveTrip(ctx, t, maxTrips); {
	case errors.Is(err, storage.ErrDriverAtCapacity):
		observability.OffersTotal.WithLabelValues("over_cap").Inc()
		log.Info("lost race for driver capacity")
		return nil, nil
	case errors.Is(err, storage.ErrDuplicateTrip):
		return nil, err
	case err != nil:
		log.Error("persist trip failed", "err", err)
		return nil, &InfrastructureError{Op: "persist trip", Err: err}
	}
	observability.TripsTotal.WithLabelValues(string(models.TripOngoing)).Inc()
	s.markBusyAtCap(ctx, log, d, maxTrips)
	return t, nil
}

// markBusyAtCap takes the driver out of the candidate pool once full. The
// trip already exists, so failures here are only logged.
func (s *Service) markBusyAtCap(ctx context.Context, log *slog.Logger, d models.Driver, maxTrips int) {
	n, err := s.Limiter.OngoingTripCount(ctx, d.ID)
	if err != nil {
		log.Warn("ongoing count after assign", "err", err)
		return
	}
	if n < maxTrips {
		return
	}
	if err := s.Dir.SetStatus(ctx, d.ID, models.DriverBusy); err != nil {
		log.Warn("mark driver busy", "err", err)
	}
}

func failureReason(err error) string {
	var infra *InfrastructureError
	switch {
	case errors.As(err, &infra):
		return "infrastructure"
	case errors.Is(err, ErrUnknownRider):
		return "unknown_rider"
	case errors.Is(err, storage.ErrDuplicateTrip):
		return "duplicate"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	}
	return "other"
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
