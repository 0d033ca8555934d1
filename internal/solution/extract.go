// Package solution turns engine node routes back into priced, per-stop
// delivery routes.
package solution

import (
	"fmt"

	"fleetroute/internal/cost"
	"fleetroute/internal/geo"
	"fleetroute/internal/model"
	"fleetroute/internal/opt"
	"fleetroute/internal/problem"
)

// Context carries the records the instance was built from, in the same order.
type Context struct {
	Customers []model.Customer
	Vehicles  []model.Vehicle
	Depots    []model.Depot
	FuelPrice float64
	Rates     cost.Rates
	Profiles  model.Profiles
	SpeedKmh  float64
}

// Extract walks every used vehicle of res and builds its Route.
func Extract(inst *problem.Instance, res *opt.Result, c Context) ([]model.Route, error) {
	if c.Profiles == nil {
		c.Profiles = model.DefaultProfiles()
	}
	if c.FuelPrice <= 0 {
		c.FuelPrice = cost.DefaultFuelPrice
	}
	if c.SpeedKmh <= 0 {
		c.SpeedKmh = model.DefaultConfig().DefaultSpeedKmh
	}

	routes := make([]model.Route, 0, len(res.Routes))
	for r, nodes := range res.Routes {
		v := res.Vehicles[r]
		if v < 0 || v >= len(c.Vehicles) {
			return nil, fmt.Errorf("extract: route %d uses unknown vehicle %d", r, v)
		}
		veh := c.Vehicles[v]
		dep := c.Depots[inst.Start[v]]
		route := model.Route{
			VehicleID:   veh.ID,
			Plate:       veh.Plate,
			VehicleType: veh.Type,
			DepotID:     dep.ID,
			DepotName:   dep.DisplayName(),
			Stops:       make([]model.Stop, 0, len(nodes)),
		}

		prevNode := inst.Start[v]
		prevLoc := dep.Location
		meters := 0
		service := 0
		for k, node := range nodes {
			ci := inst.CustomerAt[node]
			if ci < 0 || ci >= len(c.Customers) {
				return nil, fmt.Errorf("extract: node %d is not a customer", node)
			}
			cust := c.Customers[ci]
			route.Load += cust.Demand
			stop := model.Stop{
				CustomerID:         cust.ID,
				CustomerName:       cust.Name,
				Location:           cust.Location,
				Demand:             cust.Demand,
				Order:              k + 1,
				CumulativeLoad:     route.Load,
				DistanceFromPrevKm: geo.Round2(geo.DistanceKm(prevLoc, cust.Location)),
			}
			if inst.TimeWindows && r < len(res.Arrival) {
				at := res.Arrival[r][k]
				stop.ArrivalMinute = &at
				stop.ArrivalClock = geo.FormatClock(inst.ShiftStart + at)
			}
			route.Stops = append(route.Stops, stop)
			meters += inst.Distance[prevNode][node]
			service += inst.Service[node]
			prevNode, prevLoc = node, cust.Location
		}
		meters += inst.Distance[prevNode][inst.End[v]]
		route.DistanceKm = geo.Round2(float64(meters) / 1000)

		if inst.TimeWindows && r < len(res.Duration) {
			route.DurationMinutes = res.Duration[r]
		} else {
			route.DurationMinutes = geo.TravelMinutes(float64(meters)/1000, c.SpeedKmh) + service
		}

		prof, err := c.Profiles.ProfileFor(veh)
		if err != nil {
			return nil, fmt.Errorf("extract: vehicle %s: %w", veh.ID, err)
		}
		route.Cost = cost.Calculate(route.DistanceKm, prof, c.FuelPrice, c.Rates)
		routes = append(routes, route)
	}
	return routes, nil
}

// Summarize totals routes into a Summary; callers fill the search fields.
func Summarize(routes []model.Route) model.Summary {
	s := model.Summary{TotalRoutes: len(routes), TotalVehiclesUsed: len(routes)}
	costs := make([]model.CostBreakdown, 0, len(routes))
	for _, r := range routes {
		s.TotalDistanceKm += r.DistanceKm
		costs = append(costs, r.Cost)
	}
	total := cost.Sum(costs...)
	s.TotalDistanceKm = geo.Round2(s.TotalDistanceKm)
	s.TotalCost = geo.Round2(total.Total)
	s.TotalFuelCost = geo.Round2(total.Fuel)
	return s
}
