package limiter

import (
	"context"
	"errors"
	"testing"

	"github.com/Slamanii/Ride-hailing/internal/models"
)

type counts map[string]int

func (c counts) OngoingTripCount(_ context.Context, id string) (int, error) { return c[id], nil }

type failing struct{}

func (failing) OngoingTripCount(context.Context, string) (int, error) {
	return 0, errors.New("db down")
}

func TestCapFor(t *testing.T) {
	cases := map[models.VehicleClass]int{
		models.VehicleBike: 2,
		models.VehicleEV:   1,
		models.VehicleCar:  1,
		"":                 1,
	}
	for class, want := range cases {
		if got := CapFor(class); got != want {
			t.Errorf("CapFor(%q) = %d, want %d", class, got, want)
		}
	}
}

func TestWithinCap(t *testing.T) {
	l := New(counts{"bike1": 1, "bike2": 2, "ev1": 1})
	ctx := context.Background()
	tests := []struct {
		id    string
		class models.VehicleClass
		want  bool
	}{
		{"bike0", models.VehicleBike, true},
		{"bike1", models.VehicleBike, true},
		{"bike2", models.VehicleBike, false},
		{"ev0", models.VehicleEV, true},
		{"ev1", models.VehicleEV, false},
	}
	for _, tt := range tests {
		got, err := l.WithinCap(ctx, tt.id, tt.class)
		if err != nil {
			t.Fatal(err)
		}
		if got != tt.want {
			t.Errorf("WithinCap(%s, %s) = %v, want %v", tt.id, tt.class, got, tt.want)
		}
	}
}

func TestWithinCapPropagatesStoreError(t *testing.T) {
	ok, err := New(failing{}).WithinCap(context.Background(), "d", models.VehicleEV)
	if err == nil || ok {
		t.Fatalf("expected error and false, got %v %v", ok, err)
	}
}
