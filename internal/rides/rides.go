// Package rides turns a rider's booking command into a priced RideRequest.
package rides

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Slamanii/Ride-hailing/internal/geo"
	"github.com/Slamanii/Ride-hailing/internal/models"
	"github.com/Slamanii/Ride-hailing/internal/pricing"
)

const (
	MaxItemDimensionCm = 13.0
	MaxItemQuantity    = 10
	MaxItemWeightKg    = 5.0
)

var (
	ErrInvalidRequest = errors.New("invalid ride request")
	ErrItemTooLarge   = errors.New("sorry, we cant handle items of this size")
	ErrTooManyItems   = errors.New("too many items")
)

// CreateRequest is the rider's booking as received over the API.
type CreateRequest struct {
	RiderID       string               `json:"rider_id"`
	Pickup        models.Coord         `json:"pickup"`
	Dropoff       models.Coord         `json:"dropoff"`
	RideClass     models.RideClass     `json:"ride_class"`
	PaymentMethod string               `json:"payment_method"`
	Items         []models.ItemDetails `json:"items"`
}

// NewRequest validates cmd and derives distance, duration and price.
func NewRequest(cmd CreateRequest, now time.Time) (models.RideRequest, error) {
	if strings.TrimSpace(cmd.RiderID) == "" {
		return models.RideRequest{}, fmt.Errorf("%w: rider_id required", ErrInvalidRequest)
	}
	if !cmd.Pickup.Valid() || !cmd.Dropoff.Valid() {
		return models.RideRequest{}, fmt.Errorf("%w: coordinates out of range", ErrInvalidRequest)
	}
	if cmd.RideClass == "" {
		cmd.RideClass = models.RideStandard
	}
	for i, it := range cmd.Items {
		if err := ValidateItem(it); err != nil {
			return models.RideRequest{}, fmt.Errorf("item %d (%s): %w", i, it.Name, err)
		}
	}

	km := geo.DistanceKm(cmd.Pickup, cmd.Dropoff)
	mins := pricing.EstimateMinutes(km, cmd.RideClass)
	return models.RideRequest{
		ID:               uuid.NewString(),
		RiderID:          cmd.RiderID,
		Pickup:           cmd.Pickup,
		Dropoff:          cmd.Dropoff,
		RideClass:        cmd.RideClass,
		PaymentMethod:    cmd.PaymentMethod,
		Items:            cmd.Items,
		DistanceKm:       km,
		EstimatedMinutes: mins,
		EstimatedPrice:   pricing.Price(km, mins, cmd.RideClass),
		CreatedAt:        now,
	}, nil
}

// ValidateItem enforces the package limits a courier can carry.
func ValidateItem(it models.ItemDetails) error {
	for _, d := range it.Dimensions {
		if d > MaxItemDimensionCm {
			return ErrItemTooLarge
		}
	}
	if it.Quantity > MaxItemQuantity {
		return ErrTooManyItems
	}
	if it.Weight*float64(it.Quantity) > MaxItemWeightKg {
		return ErrItemTooLarge
	}
	return nil
}

// Reprice recomputes the quote after the duration has been refined by a
// routing engine.
func Reprice(r *models.RideRequest, minutes int) {
	r.EstimatedMinutes = minutes
	r.EstimatedPrice = pricing.Price(r.DistanceKm, minutes, r.RideClass)
}
