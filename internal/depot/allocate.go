// Package depot splits a multi-depot request into per-depot sub-problems.
package depot

import (
	"fmt"
	"sort"

	"fleetroute/internal/geo"
	"fleetroute/internal/model"
)

// AssignCustomers groups customers by depot ID. A customer's own DepotID wins
// when it names a known depot; otherwise the nearest depot is used, ties going
// to the earlier depot.
func AssignCustomers(depots []model.Depot, customers []model.Customer) map[string][]model.Customer {
	out := make(map[string][]model.Customer, len(depots))
	known := make(map[string]bool, len(depots))
	for _, d := range depots {
		known[d.ID] = true
	}
	for _, c := range customers {
		if c.DepotID != "" && known[c.DepotID] {
			out[c.DepotID] = append(out[c.DepotID], c)
			continue
		}
		best, bestKm := -1, 0.0
		for i, d := range depots {
			km := geo.DistanceKm(d.Location, c.Location)
			if best < 0 || km < bestKm {
				best, bestKm = i, km
			}
		}
		if best >= 0 {
			id := depots[best].ID
			out[id] = append(out[id], c)
		}
	}
	return out
}

func demandOf(customers []model.Customer) int {
	total := 0
	for _, c := range customers {
		total += c.Demand
	}
	return total
}

func typeBit(t model.VehicleType) uint64 { return 1 << uint(t) }

// restriction is the demand of a depot's customers that only certain vehicle
// types may serve, keyed by the allowed-type mask.
type restriction struct {
	mask      uint64
	demand    int
	customers int
}

func restrictions(customers []model.Customer) []restriction {
	byMask := map[uint64]*restriction{}
	var out []*restriction
	for _, c := range customers {
		if len(c.AllowedVehicleTypes) == 0 {
			continue
		}
		var mask uint64
		for _, t := range c.AllowedVehicleTypes {
			mask |= typeBit(t)
		}
		r := byMask[mask]
		if r == nil {
			r = &restriction{mask: mask}
			byMask[mask] = r
			out = append(out, r)
		}
		r.demand += c.Demand
		r.customers++
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].demand > out[j].demand })
	res := make([]restriction, len(out))
	for i, r := range out {
		res[i] = *r
	}
	return res
}

// DistributeVehicles hands vehicles to depots with customers in descending
// demand order. Customers limited by AllowedVehicleTypes are served first:
// their depot takes the largest eligible vehicles until that restricted
// demand is covered. Remaining vehicles, largest first, then top up each
// depot until its capacity covers its demand. Leftovers go first to depots
// that still have none, then round-robin. A depot with customers but no
// vehicle, or with restricted customers but no eligible vehicle, gets an
// AllocationWarning.
func DistributeVehicles(depots []model.Depot, assignment map[string][]model.Customer, vehicles []model.Vehicle) (map[string][]model.Vehicle, []model.AllocationWarning) {
	out := make(map[string][]model.Vehicle, len(depots))

	var active []model.Depot
	for _, d := range depots {
		if len(assignment[d.ID]) > 0 {
			active = append(active, d)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		return demandOf(assignment[active[i].ID]) > demandOf(assignment[active[j].ID])
	})

	pool := append([]model.Vehicle(nil), vehicles...)
	sort.SliceStable(pool, func(i, j int) bool { return pool[i].Capacity > pool[j].Capacity })
	taken := make([]bool, len(pool))
	give := func(id string, i int) int {
		out[id] = append(out[id], pool[i])
		taken[i] = true
		return pool[i].Capacity
	}

	for _, d := range active {
		for _, r := range restrictions(assignment[d.ID]) {
			got := 0
			for _, v := range out[d.ID] {
				if r.mask&typeBit(v.Type) != 0 {
					got += v.Capacity
				}
			}
			for i := 0; got < r.demand && i < len(pool); i++ {
				if !taken[i] && r.mask&typeBit(pool[i].Type) != 0 {
					got += give(d.ID, i)
				}
			}
		}
	}

	next := 0
	free := func() bool {
		for next < len(pool) && taken[next] {
			next++
		}
		return next < len(pool)
	}
	for _, d := range active {
		need := demandOf(assignment[d.ID])
		got := 0
		for _, v := range out[d.ID] {
			got += v.Capacity
		}
		for got < need && free() {
			got += give(d.ID, next)
		}
	}
	for _, d := range active {
		if !free() {
			break
		}
		if len(out[d.ID]) == 0 {
			give(d.ID, next)
		}
	}
	for i := 0; len(active) > 0 && free(); i++ {
		give(active[i%len(active)].ID, next)
	}

	var warnings []model.AllocationWarning
	for _, d := range depots {
		n := len(assignment[d.ID])
		if n > 0 && len(out[d.ID]) == 0 {
			warnings = append(warnings, model.AllocationWarning{
				DepotID:   d.ID,
				Customers: n,
				Reason:    fmt.Sprintf("no vehicles left for %d customers", n),
			})
			continue
		}
		for _, r := range restrictions(assignment[d.ID]) {
			eligible := false
			for _, v := range out[d.ID] {
				eligible = eligible || r.mask&typeBit(v.Type) != 0
			}
			if !eligible {
				warnings = append(warnings, model.AllocationWarning{
					DepotID:   d.ID,
					Customers: r.customers,
					Reason:    fmt.Sprintf("no eligible vehicle left for %d type-restricted customers", r.customers),
				})
			}
		}
	}
	return out, warnings
}
