package depot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetroute/internal/model"
)

var (
	north = model.Depot{ID: "north", Location: model.Location{Lat: 41.2, Lng: 29.0}}
	south = model.Depot{ID: "south", Location: model.Location{Lat: 40.8, Lng: 29.0}}
	east  = model.Depot{ID: "east", Location: model.Location{Lat: 41.0, Lng: 30.0}}
)

func cust(id string, lat float64, demand int) model.Customer {
	return model.Customer{ID: id, Location: model.Location{Lat: lat, Lng: 29.0}, Demand: demand}
}

func ids(cs []model.Customer) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.ID
	}
	return out
}

func TestAssignCustomersNearestAndPinned(t *testing.T) {
	customers := []model.Customer{
		cust("n1", 41.25, 1),
		cust("s1", 40.75, 1),
		cust("pinned", 41.25, 1),
		cust("bad-pin", 40.7, 1),
	}
	customers[2].DepotID = "south"
	customers[3].DepotID = "missing"

	got := AssignCustomers([]model.Depot{north, south, east}, customers)
	assert.Equal(t, []string{"n1"}, ids(got["north"]))
	assert.Equal(t, []string{"s1", "pinned", "bad-pin"}, ids(got["south"]))
	assert.Empty(t, got["east"])
}

func TestAssignCustomersTieGoesToFirstDepot(t *testing.T) {
	a := model.Depot{ID: "a", Location: model.Location{Lat: 1, Lng: 0}}
	b := model.Depot{ID: "b", Location: model.Location{Lat: -1, Lng: 0}}
	got := AssignCustomers([]model.Depot{a, b}, []model.Customer{{ID: "mid", Location: model.Location{}}})
	assert.Len(t, got["a"], 1)
	assert.Empty(t, got["b"])
}

func TestDistributeVehiclesCoversDemand(t *testing.T) {
	assignment := map[string][]model.Customer{
		"north": {cust("n1", 0, 10), cust("n2", 0, 10)},
		"south": {cust("s1", 0, 5)},
	}
	vehicles := []model.Vehicle{
		{ID: "small", Capacity: 10},
		{ID: "big", Capacity: 32},
		{ID: "mid", Capacity: 14},
		{ID: "spare", Capacity: 10},
	}
	got, warnings := DistributeVehicles([]model.Depot{north, south, east}, assignment, vehicles)
	require.Empty(t, warnings)

	assert.Equal(t, "big", got["north"][0].ID)
	assert.Equal(t, "mid", got["south"][0].ID)
	assert.Empty(t, got["east"])

	total := 0
	for _, vs := range got {
		total += len(vs)
	}
	assert.Equal(t, 4, total)
}

func TestDistributeVehiclesWarnsWhenDepotStarves(t *testing.T) {
	assignment := map[string][]model.Customer{
		"north": {cust("n1", 0, 30)},
		"south": {cust("s1", 0, 2), cust("s2", 0, 2)},
	}
	got, warnings := DistributeVehicles([]model.Depot{north, south}, assignment, []model.Vehicle{{ID: "only", Capacity: 32}})
	assert.Len(t, got["north"], 1)
	require.Len(t, warnings, 1)
	assert.Equal(t, "south", warnings[0].DepotID)
	assert.Equal(t, 2, warnings[0].Customers)
}

func TestDistributeSpreadsLeftovers(t *testing.T) {
	assignment := map[string][]model.Customer{
		"north": {cust("n1", 0, 10)},
		"south": {cust("s1", 0, 1)},
	}
	vehicles := []model.Vehicle{{ID: "a", Capacity: 36}, {ID: "b", Capacity: 10}, {ID: "c", Capacity: 10}, {ID: "d", Capacity: 10}}
	got, warnings := DistributeVehicles([]model.Depot{north, south}, assignment, vehicles)
	require.Empty(t, warnings)
	require.Len(t, got["north"], 2)
	require.Len(t, got["south"], 2)
	assert.Equal(t, "a", got["north"][0].ID)
	assert.Equal(t, "b", got["south"][0].ID)
	assert.Equal(t, "c", got["north"][1].ID)
	assert.Equal(t, "d", got["south"][1].ID)
}

func TestDistributeVehiclesServesRestrictedCustomersFirst(t *testing.T) {
	heavy := cust("s1", 0, 5)
	heavy.AllowedVehicleTypes = []model.VehicleType{model.VehicleTIR, model.VehicleTrailer}
	assignment := map[string][]model.Customer{
		"north": {cust("n1", 0, 10), cust("n2", 0, 10)},
		"south": {heavy},
	}
	vehicles := []model.Vehicle{
		{ID: "tir", Type: model.VehicleTIR, Capacity: 32},
		{ID: "van-a", Type: model.VehicleVan, Capacity: 14},
		{ID: "van-b", Type: model.VehicleVan, Capacity: 14},
	}
	got, warnings := DistributeVehicles([]model.Depot{north, south}, assignment, vehicles)
	require.Empty(t, warnings)
	require.Len(t, got["south"], 1)
	assert.Equal(t, "tir", got["south"][0].ID)
	require.Len(t, got["north"], 2)
	assert.Equal(t, "van-a", got["north"][0].ID)
	assert.Equal(t, "van-b", got["north"][1].ID)
}

func TestDistributeVehiclesWarnsWithoutEligibleVehicle(t *testing.T) {
	heavy := cust("s1", 0, 5)
	heavy.AllowedVehicleTypes = []model.VehicleType{model.VehicleTIR}
	assignment := map[string][]model.Customer{
		"north": {cust("n1", 0, 5)},
		"south": {heavy, cust("s2", 0, 1)},
	}
	vehicles := []model.Vehicle{{ID: "a", Capacity: 10}, {ID: "b", Capacity: 10}}
	got, warnings := DistributeVehicles([]model.Depot{north, south}, assignment, vehicles)
	assert.Len(t, got["north"], 1)
	assert.Len(t, got["south"], 1)
	require.Len(t, warnings, 1)
	assert.Equal(t, "south", warnings[0].DepotID)
	assert.Equal(t, 1, warnings[0].Customers)
	assert.Contains(t, warnings[0].Reason, "eligible")
}
