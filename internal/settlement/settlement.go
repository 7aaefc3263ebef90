// Package settlement moves a completed trip's fare into a recorded payment.
package settlement

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/Slamanii/Ride-hailing/internal/models"
)

var ErrNotCompleted = errors.New("settlement: trip is not completed")

var driverShare = decimal.RequireFromString("0.8")

// Split divides an amount between the driver and the treasury. The driver's
// share is rounded down so the treasury absorbs any remainder.
func Split(amount int64) (driver, treasury int64) {
	driver = decimal.NewFromInt(amount).Mul(driverShare).Floor().IntPart()
	return driver, amount - driver
}

// EscrowHash is the hex SHA-256 of the trip's payment reference.
func EscrowHash(reference string) string {
	sum := sha256.Sum256([]byte(reference))
	return hex.EncodeToString(sum[:])
}

func checkSettleable(t *models.Trip) error {
	if t.Status != models.TripCompleted || t.FareSettlement == nil {
		return ErrNotCompleted
	}
	return nil
}

// OfflineSettler records settlements locally. Used when no payment provider
// is configured.
type OfflineSettler struct{}

func (OfflineSettler) Settle(_ context.Context, t *models.Trip) (string, error) {
	if err := checkSettleable(t); err != nil {
		return "", err
	}
	return "offline_" + EscrowHash(t.Reference)[:24], nil
}
