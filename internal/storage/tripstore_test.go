package storage

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Slamanii/Ride-hailing/internal/models"
)

func trip(id, req, driver string) *models.Trip {
	return &models.Trip{ID: id, RequestID: req, DriverID: driver, Status: models.TripOngoing, StartedAt: time.Now()}
}

func TestSaveTripEnforcesCap(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.SaveTrip(ctx, trip("t1", "r1", "d1"), 2); err != nil {
		t.Fatalf("first save: %v", err)
	}
	if err := s.SaveTrip(ctx, trip("t2", "r2", "d1"), 2); err != nil {
		t.Fatalf("second save: %v", err)
	}
	if err := s.SaveTrip(ctx, trip("t3", "r3", "d1"), 2); !errors.Is(err, ErrDriverAtCapacity) {
		t.Fatalf("expected ErrDriverAtCapacity, got %v", err)
	}
	n, _ := s.OngoingTripCount(ctx, "d1")
	if n != 2 {
		t.Fatalf("expected 2 ongoing, got %d", n)
	}
}

func TestSaveTripCapIgnoresFinishedTrips(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	done := trip("t1", "r1", "d1")
	done.Status = models.TripCompleted
	if err := s.SaveTrip(ctx, done, 1); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveTrip(ctx, trip("t2", "r2", "d1"), 1); err != nil {
		t.Fatalf("completed trip should not count: %v", err)
	}
}

func TestSaveTripRejectsDuplicateRequest(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.SaveTrip(ctx, trip("t1", "r1", "d1"), 1); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveTrip(ctx, trip("t2", "r1", "d2"), 1); !errors.Is(err, ErrDuplicateTrip) {
		t.Fatalf("expected ErrDuplicateTrip, got %v", err)
	}

	cancelled, _ := s.GetTrip(ctx, "t1")
	cancelled.Status = models.TripCancelled
	if err := s.FinishTrip(ctx, cancelled); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveTrip(ctx, trip("t3", "r1", "d2"), 1); err != nil {
		t.Fatalf("request with only a cancelled trip should be matchable again: %v", err)
	}
}

func TestSaveTripConcurrentSingleWinner(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := string(rune('a' + i))
			errs <- s.SaveTrip(ctx, trip("t"+id, "r"+id, "d1"), 1)
		}(i)
	}
	wg.Wait()
	close(errs)
	ok := 0
	for err := range errs {
		if err == nil {
			ok++
		}
	}
	if ok != 1 {
		t.Fatalf("expected exactly one insert, got %d", ok)
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	orig := trip("t1", "r1", "d1")
	_ = s.SaveTrip(ctx, orig, 1)
	orig.Status = models.TripCancelled

	got, err := s.GetTrip(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.TripOngoing {
		t.Fatalf("store shares memory with caller: %s", got.Status)
	}
	got.Status = models.TripCompleted
	again, _ := s.GetTrip(ctx, "t1")
	if again.Status != models.TripOngoing {
		t.Fatalf("returned trip aliases stored value")
	}
}

func TestNotFound(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if _, err := s.GetTrip(ctx, "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("trip: %v", err)
	}
	if _, err := s.GetRider(ctx, "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("rider: %v", err)
	}
	if err := s.FinishTrip(ctx, trip("x", "r", "d")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("finish: %v", err)
	}
	if err := s.TrackTrip(ctx, "x", models.Coord{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("track: %v", err)
	}
	if err := s.RecordSettlement(ctx, "x", "ref"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("settlement: %v", err)
	}
	if _, err := s.GetTripByReference(ctx, "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("reference: %v", err)
	}
}

func TestFinishedTripCannotChangeAgain(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.SaveTrip(ctx, trip("t1", "r1", "d1"), 1)

	stale, _ := s.GetTrip(ctx, "t1")
	cancelled, _ := s.GetTrip(ctx, "t1")
	cancelled.Status = models.TripCancelled
	cancelled.CancelReason = "Change of plans"
	if err := s.FinishTrip(ctx, cancelled); err != nil {
		t.Fatal(err)
	}

	stale.Status = models.TripCompleted
	if err := s.FinishTrip(ctx, stale); !errors.Is(err, models.ErrTripTerminal) {
		t.Fatalf("finish over cancelled: %v", err)
	}
	if err := s.TrackTrip(ctx, "t1", models.Coord{Lat: 1, Lon: 1}); !errors.Is(err, models.ErrTripTerminal) {
		t.Fatalf("track over cancelled: %v", err)
	}
	got, _ := s.GetTrip(ctx, "t1")
	if got.Status != models.TripCancelled || got.CancelReason != "Change of plans" || got.DriverLocation.Lat != 0 {
		t.Fatalf("cancelled trip changed: %+v", got)
	}
}

func TestTrackTripOnlyMovesDriver(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.SaveTrip(ctx, trip("t1", "r1", "d1"), 1)
	loc := models.Coord{Lat: 6.5, Lon: 3.3}
	if err := s.TrackTrip(ctx, "t1", loc); err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetTrip(ctx, "t1")
	if !got.DriverLocation.SamePlace(loc) || got.Status != models.TripOngoing {
		t.Fatalf("trip %+v", got)
	}
}

func TestRecordSettlementKeepsFirstReference(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_ = s.SaveTrip(ctx, trip("t1", "r1", "d1"), 1)
	if err := s.RecordSettlement(ctx, "t1", "pi_1"); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordSettlement(ctx, "t1", "pi_2"); !errors.Is(err, ErrAlreadySettled) {
		t.Fatalf("expected ErrAlreadySettled, got %v", err)
	}
	got, _ := s.GetTrip(ctx, "t1")
	if got.SettlementRef != "pi_1" {
		t.Fatalf("ref %q", got.SettlementRef)
	}
}

func TestGetTripByReference(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	tr := trip("t1", "r1", "d1")
	tr.Reference = "ref-1"
	_ = s.SaveTrip(ctx, tr, 1)
	got, err := s.GetTripByReference(ctx, "ref-1")
	if err != nil || got.ID != "t1" {
		t.Fatalf("got %+v err=%v", got, err)
	}
}

func TestListRidersOrderedAndLimited(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	for _, id := range []string{"c", "a", "b"} {
		_ = s.SaveRider(ctx, &models.Rider{ID: id})
	}
	got, err := s.ListRiders(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "a" || got[1].ID != "b" {
		t.Fatalf("riders %+v", got)
	}
}

// Ride requests from riders the store does not know are allowed when the
// matcher runs without requiring a rider record.
func TestMigrationDoesNotRequireKnownRiders(t *testing.T) {
	b, err := os.ReadFile("../../migrations/001_create_trips.sql")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(b), "REFERENCES riders") {
		t.Fatal("ride_requests must not reference riders")
	}
}
