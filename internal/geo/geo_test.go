package geo

import (
	"context"
	"math"
	"testing"

	"github.com/Slamanii/Ride-hailing/internal/models"
)

func TestHaversineZero(t *testing.T) {
	d := Haversine(0, 0, 0, 0)
	if d != 0 {
		t.Fatalf("expected 0, got %f", d)
	}
}

func TestDistanceKmOneDegreeLatitude(t *testing.T) {
	d := DistanceKm(models.Coord{Lat: 0, Lon: 0}, models.Coord{Lat: 1, Lon: 0})
	if math.Abs(d-111.19) > 0.1 {
		t.Fatalf("expected ~111.19km, got %f", d)
	}
}

func TestWithinProximityIsStrict(t *testing.T) {
	a := models.Coord{Lat: 6.5, Lon: 3.3}
	b := models.Coord{Lat: 6.5 + 5.0/111.195, Lon: 3.3}
	d := DistanceKm(a, b)
	if WithinProximity(a, b, d) {
		t.Fatalf("distance equal to threshold must not pass the gate")
	}
	if !WithinProximity(a, b, d+0.001) {
		t.Fatalf("expected point inside a slightly larger threshold")
	}
}

func TestIndexAvailableDriversFiltersClassAndStatus(t *testing.T) {
	ctx := context.Background()
	g := NewIndex()
	_ = g.Upsert(ctx, models.Driver{ID: "ev1", VehicleClass: models.VehicleEV, Status: models.DriverAvailable})
	_ = g.Upsert(ctx, models.Driver{ID: "ev2", VehicleClass: models.VehicleEV, Status: models.DriverBusy})
	_ = g.Upsert(ctx, models.Driver{ID: "bike1", VehicleClass: models.VehicleBike, Status: models.DriverAvailable})

	got, err := g.AvailableDrivers(ctx, []models.VehicleClass{models.VehicleEV}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "ev1" {
		t.Fatalf("expected only ev1, got %+v", got)
	}
}

func TestIndexAvailableDriversRespectsLimit(t *testing.T) {
	ctx := context.Background()
	g := NewIndex()
	for _, id := range []string{"a", "b", "c", "d"} {
		_ = g.Upsert(ctx, models.Driver{ID: id, VehicleClass: models.VehicleBike, Status: models.DriverAvailable})
	}
	got, _ := g.AvailableDrivers(ctx, []models.VehicleClass{models.VehicleBike}, 2)
	if len(got) != 2 {
		t.Fatalf("expected 2 drivers, got %d", len(got))
	}
}

func TestIndexUnknownDriver(t *testing.T) {
	g := NewIndex()
	if err := g.SetStatus(context.Background(), "nope", models.DriverBusy); err != ErrUnknownDriver {
		t.Fatalf("expected ErrUnknownDriver, got %v", err)
	}
	if err := g.UpdateLocation(context.Background(), "nope", models.Coord{}); err != ErrUnknownDriver {
		t.Fatalf("expected ErrUnknownDriver, got %v", err)
	}
}

func TestIndexUpsertDefaultsToOffline(t *testing.T) {
	ctx := context.Background()
	g := NewIndex()
	_ = g.Upsert(ctx, models.Driver{ID: "x", VehicleClass: models.VehicleEV})
	d, err := g.Get(ctx, "x")
	if err != nil {
		t.Fatal(err)
	}
	if d.Status != models.DriverOffline {
		t.Fatalf("expected offline, got %s", d.Status)
	}
}
