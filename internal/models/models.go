package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrUnknownRideClass    = errors.New("unknown ride class")
	ErrUnknownVehicleClass = errors.New("unknown vehicle class")
	ErrUnknownStatus       = errors.New("unknown driver status")
	ErrUnknownOutcome      = errors.New("unknown driver response")
)

type Coord struct {
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
	Name string  `json:"name,omitempty"`
}

// SamePlace compares coordinates only; the label is informational.
func (c Coord) SamePlace(o Coord) bool {
	return c.Lat == o.Lat && c.Lon == o.Lon
}

func (c Coord) Valid() bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180
}

// RideClass is the product the rider asked for.
type RideClass string

const (
	RideStandard RideClass = "standard"
	RideExpress  RideClass = "express"
)

// ParseRideClass accepts the canonical names and the legacy ASAP/ASAPEXPRESS
// spellings still sent by older mobile clients.
func ParseRideClass(s string) (RideClass, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "standard", "asap":
		return RideStandard, nil
	case "express", "asapexpress", "asap_express":
		return RideExpress, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownRideClass, s)
}

func (c *RideClass) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("ride class: %w", err)
	}
	v, err := ParseRideClass(s)
	if err != nil {
		return err
	}
	*c = v
	return nil
}

type VehicleClass string

const (
	VehicleEV   VehicleClass = "EV"
	VehicleBike VehicleClass = "Bike"
	VehicleCar  VehicleClass = "Car"
)

func ParseVehicleClass(s string) (VehicleClass, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ev":
		return VehicleEV, nil
	case "bike":
		return VehicleBike, nil
	case "car":
		return VehicleCar, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownVehicleClass, s)
}

func (v *VehicleClass) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("vehicle class: %w", err)
	}
	p, err := ParseVehicleClass(s)
	if err != nil {
		return err
	}
	*v = p
	return nil
}

type DriverStatus string

const (
	DriverAvailable DriverStatus = "available"
	DriverBusy      DriverStatus = "busy"
	DriverOffline   DriverStatus = "offline"
)

func ParseDriverStatus(s string) (DriverStatus, error) {
	switch DriverStatus(strings.ToLower(strings.TrimSpace(s))) {
	case DriverAvailable:
		return DriverAvailable, nil
	case DriverBusy:
		return DriverBusy, nil
	case DriverOffline:
		return DriverOffline, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
}

func (d *DriverStatus) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("driver status: %w", err)
	}
	p, err := ParseDriverStatus(s)
	if err != nil {
		return err
	}
	*d = p
	return nil
}

type Driver struct {
	ID            string       `json:"id"`
	IdentityKey   string       `json:"identity_key"`
	Name          string       `json:"name"`
	Phone         string       `json:"phone"`
	Email         string       `json:"email,omitempty"`
	Vehicle       string       `json:"vehicle,omitempty"`
	LicenseNumber string       `json:"license_number,omitempty"`
	VehicleClass  VehicleClass `json:"vehicle_class"`
	Loc           Coord        `json:"loc"`
	Status        DriverStatus `json:"status"`
	Updated       time.Time    `json:"updated"`
}

// Info is the subset of the driver shown to the rider.
func (d Driver) Info() DriverInfo {
	return DriverInfo{Name: d.Name, Phone: d.Phone, Vehicle: d.Vehicle, LicenseNumber: d.LicenseNumber}
}

type DriverInfo struct {
	Name          string `json:"name"`
	Phone         string `json:"phone"`
	Vehicle       string `json:"vehicle,omitempty"`
	LicenseNumber string `json:"license_number,omitempty"`
}

type Rider struct {
	ID          string `json:"id"`
	IdentityKey string `json:"identity_key"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
}

type ItemDetails struct {
	Name       string     `json:"name"`
	Price      uint64     `json:"price"`
	Dimensions [3]float64 `json:"dimensions"` // length, width, height in cm
	Quantity   uint32     `json:"quantity"`
	Weight     float64    `json:"weight"` // kg per unit
}

type RideRequest struct {
	ID               string        `json:"id"`
	RiderID          string        `json:"rider_id"`
	Pickup           Coord         `json:"pickup"`
	Dropoff          Coord         `json:"dropoff"`
	RideClass        RideClass     `json:"ride_class"`
	PaymentMethod    string        `json:"payment_method"`
	Items            []ItemDetails `json:"items"`
	DistanceKm       float64       `json:"distance_km"`
	EstimatedMinutes int           `json:"estimated_minutes"`
	EstimatedPrice   int64         `json:"estimated_price"`
	CreatedAt        time.Time     `json:"created_at"`
}

// Outcome is how a pending driver notification resolved.
type Outcome string

const (
	OutcomeAccepted Outcome = "accepted"
	OutcomeRejected Outcome = "rejected"
	OutcomeTimeout  Outcome = "timeout"
)

func ParseOutcome(s string) (Outcome, error) {
	switch Outcome(strings.ToLower(strings.TrimSpace(s))) {
	case OutcomeAccepted:
		return OutcomeAccepted, nil
	case OutcomeRejected:
		return OutcomeRejected, nil
	case OutcomeTimeout:
		return OutcomeTimeout, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownOutcome, s)
}

// MatchOffer is the payload pushed to a candidate driver.
type MatchOffer struct {
	RequestID        string    `json:"request_id"`
	RiderID          string    `json:"rider_id"`
	DriverID         string    `json:"driver_id"`
	Pickup           Coord     `json:"pickup"`
	Dropoff          Coord     `json:"dropoff"`
	RideClass        RideClass `json:"ride_class"`
	DistanceKm       float64   `json:"distance_km"`
	PickupDistanceKm float64   `json:"pickup_distance_km"`
	EstimatedPrice   int64     `json:"estimated_price"`
	ExpiresAt        time.Time `json:"expires_at"`
}

// DriverReply is what a driver sends back, over HTTP or the websocket.
type DriverReply struct {
	RequestID string `json:"request_id,omitempty"`
	RiderID   string `json:"rider_id,omitempty"`
	Response  string `json:"response"`
}

type RideAssignment struct {
	TripID           string      `json:"trip_id,omitempty"`
	EstimatedPrice   int64       `json:"estimated_price"`
	EstimatedMinutes int         `json:"estimated_time_min"`
	EstimatedArrival string      `json:"estimated_arrival"`
	ValidationStatus string      `json:"validation_status"`
	DriverAssigned   *DriverInfo `json:"driver_assigned,omitempty"`
	Message          string      `json:"message,omitempty"`
	CancelReasons    []string    `json:"cancel_ride,omitempty"`
}

type LocationUpdate struct {
	DriverID string    `json:"driver_id"`
	Loc      Coord     `json:"loc"`
	At       time.Time `json:"at"`
}

type TripEvent struct {
	Type           string     `json:"type"`
	TripID         string     `json:"trip_id"`
	DriverID       string     `json:"driver_id"`
	RiderID        string     `json:"rider_id"`
	Status         TripStatus `json:"status"`
	FareSettlement int64      `json:"fare_settlement,omitempty"`
	SettlementRef  string     `json:"settlement_ref,omitempty"`
	At             time.Time  `json:"at"`
}
