// Package dispatch delivers match offers to drivers.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Slamanii/Ride-hailing/internal/models"
)

type Notifier interface {
	Notify(ctx context.Context, driverID string, offer models.MatchOffer) error
}

// HTTPDispatcher posts offers to the driver app backend at Endpoint/{driver_id}.
type HTTPDispatcher struct {
	Endpoint string
	Client   *http.Client
}

func NewHTTPDispatcher(endpoint string) *HTTPDispatcher {
	return &HTTPDispatcher{Endpoint: strings.TrimRight(endpoint, "/"), Client: &http.Client{Timeout: 3 * time.Second}}
}

func (d *HTTPDispatcher) Notify(ctx context.Context, driverID string, offer models.MatchOffer) error {
	b, err := json.Marshal(offer)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.Endpoint+"/"+driverID, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := d.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("notify driver %s: status %d", driverID, resp.StatusCode)
	}
	return nil
}

// Fallback tries Primary and, if that fails, Secondary.
type Fallback struct {
	Primary   Notifier
	Secondary Notifier // optional
}

func (f *Fallback) Notify(ctx context.Context, driverID string, offer models.MatchOffer) error {
	err := f.Primary.Notify(ctx, driverID, offer)
	if err == nil || f.Secondary == nil {
		return err
	}
	if err2 := f.Secondary.Notify(ctx, driverID, offer); err2 != nil {
		return fmt.Errorf("primary: %v; secondary: %w", err, err2)
	}
	return nil
}
