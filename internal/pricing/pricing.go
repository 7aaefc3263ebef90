// Package pricing holds the fare and duration estimates quoted to riders.
package pricing

import (
	"math"

	"github.com/Slamanii/Ride-hailing/internal/models"
)

type tariff struct {
	base     float64
	perKm    float64
	perMin   float64
	speedKmh float64
}

var tariffs = map[models.RideClass]tariff{
	models.RideStandard: {base: 500, perKm: 150, perMin: 20, speedKmh: 30},
	models.RideExpress:  {base: 800, perKm: 200, perMin: 25, speedKmh: 40},
}

func tariffFor(class models.RideClass) tariff {
	if t, ok := tariffs[class]; ok {
		return t
	}
	return tariffs[models.RideStandard]
}

// EstimateMinutes converts a trip distance into whole minutes at the class's
// average speed, rounded up. Never less than one minute.
func EstimateMinutes(distanceKm float64, class models.RideClass) int {
	t := tariffFor(class)
	m := int(math.Ceil(distanceKm / t.speedKmh * 60))
	if m < 1 {
		return 1
	}
	return m
}

// Price quotes a fare in whole currency units.
func Price(distanceKm float64, minutes int, class models.RideClass) int64 {
	t := tariffFor(class)
	return int64(math.Round(t.base + t.perKm*distanceKm + t.perMin*float64(minutes)))
}
