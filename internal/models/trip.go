package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type TripStatus string

const (
	TripOngoing   TripStatus = "ongoing"
	TripCompleted TripStatus = "completed"
	TripCancelled TripStatus = "cancelled"
)

var ErrTripTerminal = errors.New("trip already completed or cancelled")

type Trip struct {
	ID             string        `json:"id"`
	Reference      string        `json:"reference"`
	RequestID      string        `json:"request_id"`
	RiderID        string        `json:"rider_id"`
	DriverID       string        `json:"driver_id"`
	Pickup         Coord         `json:"pickup"`
	Dropoff        Coord         `json:"dropoff"`
	DriverLocation Coord         `json:"driver_location"`
	Status         TripStatus    `json:"status"`
	StartedAt      time.Time     `json:"started_at"`
	EndedAt        *time.Time    `json:"ended_at,omitempty"`
	DistanceKm     float64       `json:"distance_km"`
	Items          []ItemDetails `json:"items,omitempty"`
	FareEstimate   int64         `json:"fare_estimate"`
	FareSettlement *int64        `json:"fare_settlement,omitempty"`
	RiderKey       string        `json:"rider_key"`
	DriverKey      string        `json:"driver_key"`
	RiderEmail     string        `json:"rider_email"`
	VehicleClass   VehicleClass  `json:"vehicle_class"`
	SettlementRef  string        `json:"settlement_ref,omitempty"`
	CancelReason   string        `json:"cancel_reason,omitempty"`
}

// NewTrip materializes an accepted offer. Identity keys are snapshotted so
// later account edits do not change what gets settled.
func NewTrip(req RideRequest, d Driver, r Rider, now time.Time) *Trip {
	return &Trip{
		ID:             uuid.NewString(),
		Reference:      uuid.NewString(),
		RequestID:      req.ID,
		RiderID:        req.RiderID,
		DriverID:       d.ID,
		Pickup:         req.Pickup,
		Dropoff:        req.Dropoff,
		DriverLocation: d.Loc,
		Status:         TripOngoing,
		StartedAt:      now,
		DistanceKm:     req.DistanceKm,
		Items:          req.Items,
		FareEstimate:   req.EstimatedPrice,
		RiderKey:       r.IdentityKey,
		DriverKey:      d.IdentityKey,
		RiderEmail:     r.Email,
		VehicleClass:   d.VehicleClass,
	}
}

func (t *Trip) Terminal() bool {
	return t.Status == TripCompleted || t.Status == TripCancelled
}

// ObserveLocation records the driver's position and completes the trip when
// it matches the dropoff. It reports whether this call completed the trip.
func (t *Trip) ObserveLocation(loc Coord, now time.Time, rate decimal.Decimal) bool {
	if t.Terminal() {
		return false
	}
	t.DriverLocation = loc
	if !loc.SamePlace(t.Dropoff) {
		return false
	}
	return t.Complete(now, rate) == nil
}

// Complete moves an ongoing trip to Completed and fixes its settlement fare.
func (t *Trip) Complete(now time.Time, rate decimal.Decimal) error {
	if t.Terminal() {
		return ErrTripTerminal
	}
	fare := SettlementFare(t.FareEstimate, rate)
	t.FareSettlement = &fare
	t.Status = TripCompleted
	t.EndedAt = &now
	return nil
}

func (t *Trip) Cancel(now time.Time, reason string) error {
	if t.Terminal() {
		return ErrTripTerminal
	}
	t.Status = TripCancelled
	t.EndedAt = &now
	t.CancelReason = reason
	return nil
}

// SettlementFare converts a fare estimate into settlement units, truncating
// toward zero.
func SettlementFare(estimate int64, rate decimal.Decimal) int64 {
	return decimal.NewFromInt(estimate).Mul(rate).IntPart()
}

func (t *Trip) Event(kind string, at time.Time) TripEvent {
	ev := TripEvent{
		Type:          kind,
		TripID:        t.ID,
		DriverID:      t.DriverID,
		RiderID:       t.RiderID,
		Status:        t.Status,
		SettlementRef: t.SettlementRef,
		At:            at,
	}
	if t.FareSettlement != nil {
		ev.FareSettlement = *t.FareSettlement
	}
	return ev
}
