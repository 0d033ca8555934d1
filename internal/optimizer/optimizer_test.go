package optimizer

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetroute/internal/distance"
	"fleetroute/internal/events"
	"fleetroute/internal/model"
	"fleetroute/internal/opt"
	"fleetroute/internal/problem"
)

type downProvider struct{}

func (downProvider) Matrix(context.Context, []model.Location) ([][]float64, error) {
	return nil, errors.New("osrm unavailable")
}

func newService(t *testing.T, p distance.Provider) (*Service, *events.Recorder) {
	t.Helper()
	rec := &events.Recorder{}
	s := New(distance.NewBuilder(p, distance.NewMemoryCache(distance.DefaultCacheSize), rec), rec)
	s.MaxIterations = 200
	return s, rec
}

func quickConfig() model.OptimizerConfig {
	cfg := model.DefaultConfig()
	cfg.TimeLimitSeconds = 1
	return cfg
}

func twoDepotRequest() Request {
	req := Request{
		Depots: []model.Depot{
			{ID: "north", Name: "North Hub", Location: model.Location{Lat: 41.10, Lng: 29.00}},
			{ID: "south", Name: "South Hub", Location: model.Location{Lat: 40.90, Lng: 29.00}},
		},
		Config: quickConfig(),
	}
	for i := 0; i < 5; i++ {
		req.Customers = append(req.Customers,
			model.Customer{ID: fmt.Sprintf("n%d", i), Location: model.Location{Lat: 41.12 + 0.01*float64(i), Lng: 29.01}, Demand: 2},
			model.Customer{ID: fmt.Sprintf("s%d", i), Location: model.Location{Lat: 40.88 - 0.01*float64(i), Lng: 28.99}, Demand: 2},
		)
	}
	for i := 0; i < 4; i++ {
		req.Vehicles = append(req.Vehicles, model.Vehicle{ID: fmt.Sprintf("v%d", i), Type: model.VehicleVan, Capacity: 10})
	}
	return req
}

func served(sol *model.Solution) map[string]string {
	out := map[string]string{}
	for _, r := range sol.Routes {
		for _, s := range r.Stops {
			out[s.CustomerID] = r.DepotID
		}
	}
	return out
}

func TestOptimizeSingleDepot(t *testing.T) {
	s, rec := newService(t, nil)
	req := twoDepotRequest()
	req.Depots = req.Depots[:1]

	sol, err := s.Optimize(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 10, sol.ServedCustomers())
	assert.Equal(t, "CVRP", sol.Summary.Algorithm)
	assert.Equal(t, model.StrategySavings, sol.Summary.Strategy)
	assert.Equal(t, model.GuidedLocalSearch, sol.Summary.Metaheuristic)
	assert.Equal(t, "haversine", sol.Summary.DistanceSource)
	assert.Positive(t, sol.Summary.ObjectiveValue)
	assert.Positive(t, sol.Summary.TotalCost)
	assert.Equal(t, len(sol.Routes), sol.Summary.TotalRoutes)

	assert.Equal(t, 1, rec.Count(events.SearchStarted))
	assert.Equal(t, 1, rec.Count(events.SearchCompleted))
	assert.NotEmpty(t, s.SearchMetrics.Snapshot())
}

func TestOptimizeZeroConfigKeepsSearchDefaults(t *testing.T) {
	s, rec := newService(t, nil)
	req := twoDepotRequest()
	req.Depots = req.Depots[:1]
	req.Config = model.OptimizerConfig{}

	sol, err := s.Optimize(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, model.GuidedLocalSearch, sol.Summary.Metaheuristic)
	assert.Positive(t, rec.Count(events.CacheLookup))

	m, ok := s.SearchMetrics.Snapshot()["SAVINGS/GUIDED_LOCAL_SEARCH"]
	require.True(t, ok)
	assert.NotEqual(t, "first_solution", m.StoppedBy)
	assert.Positive(t, m.Iterations)

	req.Config.UseLocalSearch = model.Bool(false)
	sol, err = s.Optimize(context.Background(), req)
	require.NoError(t, err)
	assert.Empty(t, sol.Summary.Metaheuristic)
	assert.True(t, s.Defaults.LocalSearch())
}

func TestOptimizePartition(t *testing.T) {
	s, rec := newService(t, nil)
	sol, err := s.Optimize(context.Background(), twoDepotRequest())
	require.NoError(t, err)

	got := served(sol)
	require.Len(t, got, 10)
	for id, dep := range got {
		if id[0] == 'n' {
			assert.Equal(t, "north", dep, id)
		} else {
			assert.Equal(t, "south", dep, id)
		}
	}
	assert.Equal(t, "MDCVRP/partition", sol.Summary.Algorithm)
	require.Len(t, sol.Summary.Depots, 2)
	assert.Equal(t, "North Hub", sol.Summary.Depots[0].Name)
	assert.Equal(t, 5, sol.Summary.Depots[0].Customers)
	assert.Empty(t, sol.Warnings)
	assert.Equal(t, 2, rec.Count(events.SearchCompleted))
}

func TestOptimizeJoint(t *testing.T) {
	s, _ := newService(t, nil)
	req := twoDepotRequest()
	req.Config.MultiDepotMode = model.MultiDepotJoint

	sol, err := s.Optimize(context.Background(), req)
	require.NoError(t, err)
	assert.Len(t, served(sol), 10)
	assert.Equal(t, "MDCVRP/joint", sol.Summary.Algorithm)
	total := 0
	for _, d := range sol.Summary.Depots {
		total += d.Customers
	}
	assert.Equal(t, 10, total)
}

func TestOptimizeJointHonoursPinnedDepot(t *testing.T) {
	s, _ := newService(t, nil)
	req := twoDepotRequest()
	req.Config.MultiDepotMode = model.MultiDepotJoint
	// n0 and n1 sit next to the north hub
	req.Customers[0].DepotID = "south"
	req.Customers[2].DepotID = "south"

	sol, err := s.Optimize(context.Background(), req)
	require.NoError(t, err)
	got := served(sol)
	require.Len(t, got, 10)
	assert.Equal(t, "south", got["n0"])
	assert.Equal(t, "south", got["n1"])
}

func TestOptimizePartitionKeepsGoingWhenOneDepotFails(t *testing.T) {
	s, rec := newService(t, nil)
	req := twoDepotRequest()
	req.Config.EnableTimeWindows = true
	// 08:00 to 08:01 is unreachable from the south hub
	req.Customers[1].Constraint = &model.TimeConstraint{Kind: model.ConstraintWindow, Start: 480, End: 481}

	sol, err := s.Optimize(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, sol.Warnings, 1)
	assert.Equal(t, "south", sol.Warnings[0].DepotID)
	assert.Equal(t, 5, sol.Warnings[0].Customers)
	assert.Len(t, served(sol), 5)
	assert.Equal(t, 1, rec.Count(events.SearchFailed))
	assert.GreaterOrEqual(t, rec.Count(events.AllocationWarning), 1)
}

func TestOptimizeFallsBackToGreatCircle(t *testing.T) {
	s, rec := newService(t, downProvider{})
	req := twoDepotRequest()
	req.Depots = req.Depots[:1]
	req.Config.UseRoadDistances = true

	sol, err := s.Optimize(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "haversine", sol.Summary.DistanceSource)
	assert.Contains(t, sol.Notes, "road distance provider unavailable; great-circle distances used")
	assert.Equal(t, 1, rec.Count(events.FallbackTriggered))
}

func TestOptimizeValidation(t *testing.T) {
	s, rec := newService(t, nil)
	req := twoDepotRequest()
	req.Vehicles = []model.Vehicle{{ID: "tiny", Type: model.VehicleVan, Capacity: 3}}

	_, err := s.Optimize(context.Background(), req)
	var verr *problem.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "customers", verr.Field)
	assert.Equal(t, 1, rec.Count(events.ValidationFailed))

	req = twoDepotRequest()
	req.Config.SearchStrategy = "NEAREST_NEIGHBOUR"
	_, err = s.Optimize(context.Background(), req)
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "config", verr.Field)
}

func TestOptimizeInfeasible(t *testing.T) {
	s, _ := newService(t, nil)
	req := twoDepotRequest()
	req.Depots = req.Depots[:1]
	req.Config.EnableTimeWindows = true
	for i := range req.Customers {
		req.Customers[i].Constraint = &model.TimeConstraint{Kind: model.ConstraintBefore, Start: 0, End: 481}
	}

	_, err := s.Optimize(context.Background(), req)
	var se *opt.SolverError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, opt.StatusFail, se.Status)
	assert.Equal(t, 11, se.Diagnostics.Locations)
}
