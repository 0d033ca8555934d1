package solution

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetroute/internal/cost"
	"fleetroute/internal/geo"
	"fleetroute/internal/model"
	"fleetroute/internal/opt"
	"fleetroute/internal/problem"
)

func fixture(t *testing.T, timeWindows bool) (*problem.Instance, Context) {
	t.Helper()
	depots := []model.Depot{{ID: "d", Name: "Hub", Location: model.Location{Lat: 0, Lng: 0}}}
	customers := []model.Customer{
		{ID: "a", Name: "Alpha", Location: model.Location{Lat: 0, Lng: 0.5}, Demand: 2, ServiceMinutes: 30},
		{ID: "b", Name: "Beta", Location: model.Location{Lat: 0, Lng: 1}, Demand: 3, ServiceMinutes: 45},
	}
	vehicles := []model.Vehicle{{ID: "v1", Plate: "34 ABC 1", Type: model.VehicleTruck14, Capacity: 14, FuelPer100Km: 22}}
	cfg := model.DefaultConfig()
	cfg.EnableTimeWindows = timeWindows
	in, err := problem.Build(context.Background(), problem.BuildRequest{
		Depots: depots, Customers: customers, Vehicles: vehicles, Config: cfg,
	})
	require.NoError(t, err)
	return in, Context{
		Customers: customers,
		Vehicles:  vehicles,
		Depots:    depots,
		FuelPrice: 40,
		Rates:     cost.DefaultRates(),
		SpeedKmh:  60,
	}
}

func TestExtractRoute(t *testing.T) {
	in, c := fixture(t, false)
	res := &opt.Result{Vehicles: []int{0}, Routes: [][]int{{1, 2}}}

	routes, err := Extract(in, res, c)
	require.NoError(t, err)
	require.Len(t, routes, 1)
	r := routes[0]

	assert.Equal(t, "v1", r.VehicleID)
	assert.Equal(t, "34 ABC 1", r.Plate)
	assert.Equal(t, "Hub", r.DepotName)
	assert.Equal(t, 5, r.Load)
	require.Len(t, r.Stops, 2)
	assert.Equal(t, 1, r.Stops[0].Order)
	assert.Equal(t, 2, r.Stops[0].CumulativeLoad)
	assert.Equal(t, 5, r.Stops[1].CumulativeLoad)
	assert.Equal(t, "Beta", r.Stops[1].CustomerName)
	assert.InDelta(t, 55.6, r.Stops[0].DistanceFromPrevKm, 0.01)
	assert.Nil(t, r.Stops[0].ArrivalMinute)

	meters := in.Distance[0][1] + in.Distance[1][2] + in.Distance[2][0]
	assert.Equal(t, geo.Round2(float64(meters)/1000), r.DistanceKm)
	assert.Equal(t, geo.TravelMinutes(float64(meters)/1000, 60)+75, r.DurationMinutes)

	want := cost.Calculate(r.DistanceKm, model.VehicleProfile{FuelPer100Km: 22}, 40, cost.DefaultRates())
	assert.Equal(t, want, r.Cost)
	assert.Equal(t, r.Cost.Fuel+r.Cost.Distance+r.Cost.Fixed+r.Cost.Toll, r.Cost.Total)
}

func TestExtractArrivalClock(t *testing.T) {
	in, c := fixture(t, true)
	res := &opt.Result{
		Vehicles: []int{0},
		Routes:   [][]int{{1}},
		Arrival:  [][]int{{85}},
		Duration: []int{140},
	}
	routes, err := Extract(in, res, c)
	require.NoError(t, err)
	stop := routes[0].Stops[0]
	require.NotNil(t, stop.ArrivalMinute)
	assert.Equal(t, 85, *stop.ArrivalMinute)
	assert.Equal(t, "09:25", stop.ArrivalClock)
	assert.Equal(t, 140, routes[0].DurationMinutes)
}

func TestExtractRejectsUnknownVehicle(t *testing.T) {
	in, c := fixture(t, false)
	_, err := Extract(in, &opt.Result{Vehicles: []int{3}, Routes: [][]int{{1}}}, c)
	assert.Error(t, err)
}

func TestSummarize(t *testing.T) {
	routes := []model.Route{
		{DistanceKm: 10.5, Cost: model.CostBreakdown{Fuel: 1, Total: 10}},
		{DistanceKm: 4.25, Cost: model.CostBreakdown{Fuel: 2, Total: 20}},
	}
	s := Summarize(routes)
	assert.Equal(t, 2, s.TotalRoutes)
	assert.Equal(t, 2, s.TotalVehiclesUsed)
	assert.Equal(t, 14.75, s.TotalDistanceKm)
	assert.Equal(t, 30.0, s.TotalCost)
	assert.Equal(t, 3.0, s.TotalFuelCost)
}
