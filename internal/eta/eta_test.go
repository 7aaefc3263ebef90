package eta

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Slamanii/Ride-hailing/internal/models"
)

func TestArrivalString(t *testing.T) {
	now := time.Date(2024, 3, 1, 23, 50, 0, 0, time.UTC)
	if got := ArrivalString(now, 15); got != "00:05" {
		t.Fatalf("got %s", got)
	}
	if got := ArrivalString(now, 0); got != "23:50" {
		t.Fatalf("got %s", got)
	}
}

type stubClient struct {
	secs  float64
	err   error
	calls int
}

func (s *stubClient) EstimateSeconds(context.Context, models.Coord, models.Coord) (float64, error) {
	s.calls++
	return s.secs, s.err
}

func TestEstimatorFallsBack(t *testing.T) {
	var nilEst *Estimator
	if got := nilEst.Minutes(context.Background(), models.Coord{}, models.Coord{}, 7); got != 7 {
		t.Fatalf("nil estimator: %d", got)
	}
	e := &Estimator{Client: &stubClient{err: errors.New("no route")}}
	if got := e.Minutes(context.Background(), models.Coord{}, models.Coord{}, 9); got != 9 {
		t.Fatalf("failing client: %d", got)
	}
}

func TestEstimatorUsesCache(t *testing.T) {
	c := &stubClient{secs: 61}
	e := &Estimator{Client: c, Cache: NewCache(time.Minute)}
	a, b := models.Coord{Lat: 1, Lon: 1}, models.Coord{Lat: 2, Lon: 2}
	if got := e.Minutes(context.Background(), a, b, 1); got != 2 {
		t.Fatalf("want 2 minutes, got %d", got)
	}
	_ = e.Minutes(context.Background(), a, b, 1)
	if c.calls != 1 {
		t.Fatalf("expected one routed lookup, got %d", c.calls)
	}
}

func TestOSRMClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"code":"Ok","routes":[{"duration":420.5}]}`)
	}))
	defer srv.Close()

	secs, err := NewOSRMClient(srv.URL).EstimateSeconds(context.Background(), models.Coord{Lat: 6.5, Lon: 3.3}, models.Coord{Lat: 6.6, Lon: 3.4})
	if err != nil {
		t.Fatal(err)
	}
	if secs != 420.5 {
		t.Fatalf("got %v", secs)
	}
}
