// Package cost turns route distance into an operating cost breakdown.
package cost

import (
	"fleetroute/internal/geo"
	"fleetroute/internal/model"
)

// Rates are the per-route pricing constants.
type Rates struct {
	DistanceRate  float64 `json:"distance_rate" yaml:"distance_rate"`
	FixedPerRoute float64 `json:"fixed_per_route" yaml:"fixed_per_route"`
	TollRate      float64 `json:"toll_rate" yaml:"toll_rate"`
}

// DefaultFuelPrice is used when a request carries no price.
const DefaultFuelPrice = 47.50

func DefaultRates() Rates {
	return Rates{DistanceRate: 2.5, FixedPerRoute: 500, TollRate: 0.5}
}

// Calculate prices a route. Components are rounded to cents and Total is
// their exact sum.
func Calculate(distanceKm float64, profile model.VehicleProfile, fuelPrice float64, r Rates) model.CostBreakdown {
	b := model.CostBreakdown{
		Fuel:     geo.Round2(distanceKm / 100 * profile.FuelPer100Km * fuelPrice),
		Distance: geo.Round2(distanceKm * r.DistanceRate),
		Fixed:    geo.Round2(r.FixedPerRoute),
		Toll:     geo.Round2(distanceKm * r.TollRate),
	}
	b.Total = b.Fuel + b.Distance + b.Fixed + b.Toll
	return b
}

// Sum adds breakdowns component-wise.
func Sum(items ...model.CostBreakdown) model.CostBreakdown {
	var out model.CostBreakdown
	for _, b := range items {
		out.Fuel += b.Fuel
		out.Distance += b.Distance
		out.Fixed += b.Fixed
		out.Toll += b.Toll
		out.Total += b.Total
	}
	return out
}
