package pricing

import (
	"testing"

	"github.com/Slamanii/Ride-hailing/internal/models"
)

func TestEstimateMinutes(t *testing.T) {
	tests := []struct {
		km    float64
		class models.RideClass
		want  int
	}{
		{0, models.RideStandard, 1},
		{15, models.RideStandard, 30},
		{15.1, models.RideStandard, 31},
		{20, models.RideExpress, 30},
		{0.1, models.RideExpress, 1},
	}
	for _, tt := range tests {
		if got := EstimateMinutes(tt.km, tt.class); got != tt.want {
			t.Errorf("EstimateMinutes(%v, %s) = %d, want %d", tt.km, tt.class, got, tt.want)
		}
	}
}

func TestPrice(t *testing.T) {
	if got := Price(10, 20, models.RideStandard); got != 500+1500+400 {
		t.Fatalf("standard: %d", got)
	}
	if got := Price(10, 15, models.RideExpress); got != 800+2000+375 {
		t.Fatalf("express: %d", got)
	}
	if Price(5, 10, models.RideExpress) <= Price(5, 10, models.RideStandard) {
		t.Fatal("express should cost more than standard for the same trip")
	}
}
