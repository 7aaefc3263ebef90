package settlement

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"

	"github.com/Slamanii/Ride-hailing/internal/models"
)

// StripeSettler holds and captures the rider's fare with a PaymentIntent.
type StripeSettler struct {
	Currency string
}

// NewStripeSettler sets the process-wide stripe key.
func NewStripeSettler(apiKey, currency string) *StripeSettler {
	stripe.Key = apiKey
	if currency == "" {
		currency = "ngn"
	}
	return &StripeSettler{Currency: currency}
}

// Settle charges FareEstimate in minor units and returns the PaymentIntent id.
// The trip reference is the idempotency key, so a retried settle after a
// crash reuses the same intent.
func (s *StripeSettler) Settle(ctx context.Context, t *models.Trip) (string, error) {
	if err := checkSettleable(t); err != nil {
		return "", err
	}
	id, err := s.Hold(ctx, t)
	if err != nil {
		return "", fmt.Errorf("hold: %w", err)
	}
	if err := s.Capture(ctx, id, t.Reference); err != nil {
		if rerr := s.Release(ctx, id); rerr != nil {
			err = errors.Join(err, fmt.Errorf("release: %w", rerr))
		}
		return "", fmt.Errorf("capture %s: %w", id, err)
	}
	return id, nil
}

// Hold creates a PaymentIntent with capture_method=manual to hold funds.
func (s *StripeSettler) Hold(ctx context.Context, t *models.Trip) (string, error) {
	amount := t.FareEstimate * 100
	driver, treasury := Split(amount)
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(s.Currency),
	}
	params.Context = ctx
	params.CaptureMethod = stripe.String(string(stripe.PaymentIntentCaptureMethodManual))
	params.SetIdempotencyKey("hold-" + t.Reference)
	if t.RiderEmail != "" {
		params.ReceiptEmail = stripe.String(t.RiderEmail)
	}
	params.AddMetadata("trip_id", t.ID)
	params.AddMetadata("driver_id", t.DriverID)
	params.AddMetadata("rider_id", t.RiderID)
	params.AddMetadata("escrow_hash", EscrowHash(t.Reference))
	params.AddMetadata("driver_amount", strconv.FormatInt(driver, 10))
	params.AddMetadata("treasury_amount", strconv.FormatInt(treasury, 10))
	if t.FareSettlement != nil {
		params.AddMetadata("fare_settlement", strconv.FormatInt(*t.FareSettlement, 10))
	}
	pi, err := paymentintent.New(params)
	if err != nil {
		return "", err
	}
	return pi.ID, nil
}

// Capture finalizes a previously-held PaymentIntent.
func (s *StripeSettler) Capture(ctx context.Context, paymentIntentID, reference string) error {
	params := &stripe.PaymentIntentCaptureParams{}
	params.Context = ctx
	params.SetIdempotencyKey("capture-" + reference)
	_, err := paymentintent.Capture(paymentIntentID, params)
	return err
}

// Release cancels the hold on a PaymentIntent.
func (s *StripeSettler) Release(ctx context.Context, paymentIntentID string) error {
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	_, err := paymentintent.Cancel(paymentIntentID, params)
	return err
}
