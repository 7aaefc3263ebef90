package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Slamanii/Ride-hailing/internal/dispatch"
	"github.com/Slamanii/Ride-hailing/internal/geo"
	"github.com/Slamanii/Ride-hailing/internal/limiter"
	"github.com/Slamanii/Ride-hailing/internal/matcher"
	"github.com/Slamanii/Ride-hailing/internal/models"
	"github.com/Slamanii/Ride-hailing/internal/registry"
	"github.com/Slamanii/Ride-hailing/internal/settlement"
	"github.com/Slamanii/Ride-hailing/internal/storage"
	"github.com/Slamanii/Ride-hailing/internal/trips"
)

// replyingNotifier answers each offer by calling the driver response endpoint,
// the way a driver app would.
type replyingNotifier struct {
	baseURL string
	answer  string
}

func (n *replyingNotifier) Notify(_ context.Context, driverID string, offer models.MatchOffer) error {
	go func() {
		body, _ := json.Marshal(models.DriverReply{RequestID: offer.RequestID, Response: n.answer})
		resp, err := http.Post(n.baseURL+"/api/v1/drivers/"+driverID+"/response", "application/json", bytes.NewReader(body))
		if err == nil {
			resp.Body.Close()
		}
	}()
	return nil
}

type harness struct {
	ts    *httptest.Server
	dir   *geo.Index
	store *storage.MemoryStore
	notif *replyingNotifier
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dir := geo.NewIndex()
	store := storage.NewMemoryStore()
	reg := registry.New()
	notif := &replyingNotifier{answer: "accepted"}

	cfg := matcher.DefaultConfig()
	cfg.Rounds = 1
	cfg.ResponseTimeout = time.Second
	cfg.RoundBackoff = time.Millisecond

	deps := Deps{
		Directory: dir,
		Store:     store,
		Registry:  reg,
		WS:        dispatch.NewWSRegistry(logger),
		Matcher: &matcher.Service{
			Dir: dir, Notify: notif, Registry: reg, Trips: store, Riders: store,
			Limiter: limiter.New(store), Cfg: cfg, Log: logger,
		},
		Trips: &trips.Service{Trips: store, Drivers: dir, Settler: settlement.OfflineSettler{}, Log: logger},
	}
	ts := httptest.NewServer(NewServer(deps, logger))
	t.Cleanup(ts.Close)
	notif.baseURL = ts.URL
	return &harness{ts: ts, dir: dir, store: store, notif: notif}
}

func (h *harness) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, h.ts.URL+path, rdr)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp, b
}

func (h *harness) seed(t *testing.T) {
	t.Helper()
	resp, body := h.do(t, http.MethodPost, "/api/v1/riders", models.Rider{ID: "rider-1", IdentityKey: "rk", Name: "Ada", Email: "ada@example.com"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create rider: %d %s", resp.StatusCode, body)
	}
	driver := map[string]any{
		"id": "ev1", "identity_key": "dk", "name": "Bola", "phone": "0801", "vehicle": "Nissan Leaf",
		"vehicle_class": "ev", "loc": map[string]float64{"lat": 6.518, "lon": 3.3}, "status": "available",
	}
	resp, body = h.do(t, http.MethodPost, "/api/v1/drivers", driver)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create driver: %d %s", resp.StatusCode, body)
	}
}

var rideBody = map[string]any{
	"rider_id":       "rider-1",
	"pickup":         map[string]float64{"lat": 6.5, "lon": 3.3},
	"dropoff":        map[string]float64{"lat": 6.6, "lon": 3.4},
	"ride_class":     "ASAP",
	"payment_method": "card",
}

func TestRideLifecycleOverHTTP(t *testing.T) {
	h := newHarness(t)
	h.seed(t)

	resp, body := h.do(t, http.MethodPost, "/api/v1/rides/request", rideBody)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ride request: %d %s", resp.StatusCode, body)
	}
	var a models.RideAssignment
	if err := json.Unmarshal(body, &a); err != nil {
		t.Fatal(err)
	}
	if a.TripID == "" || a.DriverAssigned == nil || a.DriverAssigned.Vehicle != "Nissan Leaf" {
		t.Fatalf("assignment %+v", a)
	}
	if len(a.EstimatedArrival) != 5 || a.EstimatedPrice <= 0 {
		t.Fatalf("quote %+v", a)
	}

	resp, body = h.do(t, http.MethodGet, "/api/v1/admin/overview", nil)
	var ov map[string]int
	_ = json.Unmarshal(body, &ov)
	if resp.StatusCode != http.StatusOK || ov["ongoing_trips"] != 1 || ov["riders"] != 1 || ov["drivers"] != 1 {
		t.Fatalf("overview %d %s", resp.StatusCode, body)
	}

	resp, body = h.do(t, http.MethodPost, "/internal/driver/locations", models.LocationUpdate{DriverID: "ev1", Loc: models.Coord{Lat: 6.6, Lon: 3.4}})
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), a.TripID) {
		t.Fatalf("location: %d %s", resp.StatusCode, body)
	}

	resp, body = h.do(t, http.MethodGet, "/api/v1/trips/"+a.TripID, nil)
	var trip models.Trip
	_ = json.Unmarshal(body, &trip)
	if trip.Status != models.TripCompleted || !strings.HasPrefix(trip.SettlementRef, "offline_") {
		t.Fatalf("trip %d %s", resp.StatusCode, body)
	}

	resp, _ = h.do(t, http.MethodPost, "/api/v1/trips/"+a.TripID+"/complete", nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("second completion: %d", resp.StatusCode)
	}
	resp, _ = h.do(t, http.MethodPost, "/api/v1/trips/"+a.TripID+"/settle", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("settle again: %d", resp.StatusCode)
	}
}

func TestRideRequestNoDriver(t *testing.T) {
	h := newHarness(t)
	h.seed(t)
	h.notif.answer = "rejected"

	resp, body := h.do(t, http.MethodPost, "/api/v1/rides/request", rideBody)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d %s", resp.StatusCode, body)
	}
}

func TestRideRequestValidation(t *testing.T) {
	h := newHarness(t)
	h.seed(t)
	bad := map[string]any{
		"rider_id": "rider-1",
		"pickup":   map[string]float64{"lat": 6.5, "lon": 3.3},
		"dropoff":  map[string]float64{"lat": 6.6, "lon": 3.4},
		"items":    []map[string]any{{"name": "tv", "dimensions": []float64{80, 50, 10}, "quantity": 1, "weight": 4}},
	}
	resp, _ := h.do(t, http.MethodPost, "/api/v1/rides/request", bad)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("oversize item: %d", resp.StatusCode)
	}

	badClass := map[string]any{"rider_id": "rider-1", "ride_class": "rocket"}
	resp, _ = h.do(t, http.MethodPost, "/api/v1/rides/request", badClass)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown class: %d", resp.StatusCode)
	}
}

func TestDriverResponseIsAlwaysHarmless(t *testing.T) {
	h := newHarness(t)

	resp, body := h.do(t, http.MethodPost, "/api/v1/drivers/nobody/response", map[string]string{"response": "accepted"})
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), `"delivered":false`) {
		t.Fatalf("late reply: %d %s", resp.StatusCode, body)
	}
	resp, _ = h.do(t, http.MethodPost, "/api/v1/drivers/nobody/response", map[string]string{"response": "maybe"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("garbage reply: %d", resp.StatusCode)
	}
	resp, _ = h.do(t, http.MethodPost, "/api/v1/drivers/nobody/response", map[string]string{"response": "timeout"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("driver-sent timeout: %d", resp.StatusCode)
	}
}

func TestDriverStatusAndNotFound(t *testing.T) {
	h := newHarness(t)
	h.seed(t)

	resp, _ := h.do(t, http.MethodPut, "/api/v1/drivers/ev1/status", map[string]string{"status": "offline"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	d, _ := h.dir.Get(context.Background(), "ev1")
	if d.Status != models.DriverOffline {
		t.Fatalf("status %s", d.Status)
	}
	resp, _ = h.do(t, http.MethodPut, "/api/v1/drivers/ghost/status", map[string]string{"status": "available"})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown driver: %d", resp.StatusCode)
	}
	resp, _ = h.do(t, http.MethodGet, "/api/v1/trips/nope", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown trip: %d", resp.StatusCode)
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{&matcher.InfrastructureError{Op: "available drivers", Err: errors.New("down")}, http.StatusServiceUnavailable},
		{matcher.ErrNoDriverAvailable, http.StatusNotFound},
		{matcher.ErrUnknownRider, http.StatusNotFound},
		{models.ErrTripTerminal, http.StatusConflict},
		{storage.ErrDuplicateTrip, http.StatusConflict},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, c := range cases {
		if got := statusFor(c.err); got != c.want {
			t.Errorf("statusFor(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}

func TestAdminListingsAndTripByReference(t *testing.T) {
	h := newHarness(t)
	h.seed(t)

	resp, body := h.do(t, http.MethodGet, "/api/v1/admin/riders", nil)
	var riders []models.Rider
	_ = json.Unmarshal(body, &riders)
	if resp.StatusCode != http.StatusOK || len(riders) != 1 || riders[0].ID != "rider-1" {
		t.Fatalf("riders %d %s", resp.StatusCode, body)
	}

	resp, body = h.do(t, http.MethodGet, "/api/v1/admin/drivers?limit=5", nil)
	var drivers []struct {
		ID        string `json:"id"`
		Status    string `json:"status"`
		Connected bool   `json:"connected"`
	}
	_ = json.Unmarshal(body, &drivers)
	if resp.StatusCode != http.StatusOK || len(drivers) != 1 || drivers[0].ID != "ev1" || drivers[0].Connected {
		t.Fatalf("drivers %d %s", resp.StatusCode, body)
	}

	resp, _ = h.do(t, http.MethodGet, "/api/v1/admin/drivers?limit=zero", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad limit: %d", resp.StatusCode)
	}

	resp, body = h.do(t, http.MethodPost, "/api/v1/rides/request", rideBody)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ride request: %d %s", resp.StatusCode, body)
	}
	var a models.RideAssignment
	_ = json.Unmarshal(body, &a)
	stored, err := h.store.GetTrip(context.Background(), a.TripID)
	if err != nil {
		t.Fatal(err)
	}

	resp, body = h.do(t, http.MethodGet, "/api/v1/trips/reference/"+stored.Reference, nil)
	var trip models.Trip
	_ = json.Unmarshal(body, &trip)
	if resp.StatusCode != http.StatusOK || trip.ID != a.TripID {
		t.Fatalf("by reference %d %s", resp.StatusCode, body)
	}
	resp, _ = h.do(t, http.MethodGet, "/api/v1/trips/reference/unknown", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown reference: %d", resp.StatusCode)
	}
}

func TestDriverListingShowsLiveSocket(t *testing.T) {
	h := newHarness(t)
	h.seed(t)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(h.ts.URL, "http")+"/ws/ev1", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for {
		_, body := h.do(t, http.MethodGet, "/api/v1/admin/drivers", nil)
		var drivers []struct {
			ID        string `json:"id"`
			Connected bool   `json:"connected"`
		}
		_ = json.Unmarshal(body, &drivers)
		if len(drivers) == 1 && drivers[0].Connected {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("driver never reported connected: %s", body)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
