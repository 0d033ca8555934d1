package problem

import (
	"context"
	"fmt"

	"fleetroute/internal/distance"
	"fleetroute/internal/geo"
	"fleetroute/internal/model"
)

const (
	// BreakAfterMinutes of continuous driving trigger a BreakMinutes pause.
	BreakAfterMinutes = 270
	BreakMinutes      = 45
)

// Window is a time constraint in minutes relative to the shift start.
// The zero Window accepts any time.
type Window struct {
	Kind  model.ConstraintKind
	Start int
	End   int
}

// Earliest returns the first time >= t the window accepts.
func (w Window) Earliest(t int) (int, bool) {
	switch w.Kind {
	case model.ConstraintWindow:
		if t > w.End {
			return 0, false
		}
		return max(t, w.Start), true
	case model.ConstraintAfter:
		return max(t, w.Start), true
	case model.ConstraintBefore:
		return t, t <= w.End
	case model.ConstraintForbidden:
		if t < w.Start || t > w.End {
			return t, true
		}
		return w.End + 1, true
	}
	return t, true
}

// Allows reports whether t satisfies the window.
func (w Window) Allows(t int) bool {
	e, ok := w.Earliest(t)
	return ok && e == t
}

// Instance is the immutable node-indexed routing model. Depots occupy nodes
// [0, NumDepots); customer nodes follow in input order.
type Instance struct {
	NumDepots int
	Locations []model.Location
	Demand    []int
	Service   []int
	Windows   []Window
	// Allowed is a vehicle-type bitset per node; 0 accepts any type.
	Allowed    []uint64
	CustomerAt []int
	// Pinned is the depot node a customer must be served from, or -1.
	Pinned []int

	Capacity    []int
	Start       []int
	End         []int
	VehicleType []model.VehicleType

	Distance [][]int
	Time     [][]int

	TimeWindows      bool
	FixedVehicleCost int
	MaxWait          int
	MaxRoute         int
	DriverBreaks     bool
	BreakAfter       int
	BreakMinutes     int
	ShiftStart       int

	Source   distance.Source
	FellBack bool

	TotalDemand   int
	TotalCapacity int
}

func (in *Instance) Nodes() int { return len(in.Locations) }
func (in *Instance) Vehicles() int { return len(in.Capacity) }

// IsDepot reports whether node is a depot node.
func (in *Instance) IsDepot(node int) bool { return node < in.NumDepots }

// CanServe reports whether vehicle v may visit node.
func (in *Instance) CanServe(v, node int) bool {
	if in.Pinned != nil && in.Pinned[node] >= 0 && in.Start[v] != in.Pinned[node] {
		return false
	}
	mask := in.Allowed[node]
	return mask == 0 || mask&(1<<uint(in.VehicleType[v])) != 0
}

// MatrixBuilder produces distance matrices; *distance.Builder implements it.
type MatrixBuilder interface {
	Build(ctx context.Context, points []model.Location, opts distance.Options) (*distance.Matrix, error)
}

type BuildRequest struct {
	Depots    []model.Depot
	Customers []model.Customer
	Vehicles  []model.Vehicle
	// VehicleDepot is each vehicle's depot index; nil puts all at depot 0.
	VehicleDepot []int
	Config       model.OptimizerConfig
	Matrices     MatrixBuilder
}

// Build assembles an Instance from normalized records.
func Build(ctx context.Context, req BuildRequest) (*Instance, error) {
	if len(req.Depots) == 0 || len(req.Customers) == 0 || len(req.Vehicles) == 0 {
		return nil, invalid("", "instance needs depots, customers and vehicles")
	}
	if req.VehicleDepot != nil && len(req.VehicleDepot) != len(req.Vehicles) {
		return nil, invalid("vehicles", "vehicle depot map has %d entries for %d vehicles", len(req.VehicleDepot), len(req.Vehicles))
	}
	cfg := req.Config.WithDefaults(model.DefaultConfig())
	shift, err := geo.ParseClock(cfg.ShiftStart)
	if err != nil {
		return nil, invalid("config.shift_start", "%v", err)
	}

	d := len(req.Depots)
	n := d + len(req.Customers)
	in := &Instance{
		NumDepots:        d,
		Locations:        make([]model.Location, n),
		Demand:           make([]int, n),
		Service:          make([]int, n),
		Windows:          make([]Window, n),
		Allowed:          make([]uint64, n),
		CustomerAt:       make([]int, n),
		Pinned:           make([]int, n),
		TimeWindows:      cfg.EnableTimeWindows,
		FixedVehicleCost: cfg.FixedVehicleCost,
		MaxWait:          cfg.MaxWaitMinutes,
		MaxRoute:         cfg.MaxRouteMinutes,
		DriverBreaks:     cfg.DriverBreaks,
		BreakAfter:       BreakAfterMinutes,
		BreakMinutes:     BreakMinutes,
		ShiftStart:       shift,
	}
	depotNode := make(map[string]int, d)
	for i, dep := range req.Depots {
		in.Locations[i] = dep.Location
		in.CustomerAt[i] = -1
		in.Pinned[i] = -1
		depotNode[dep.ID] = i
	}
	for ci, c := range req.Customers {
		node := d + ci
		in.Locations[node] = c.Location
		in.Demand[node] = c.Demand
		in.Service[node] = c.ServiceMinutes
		in.CustomerAt[node] = ci
		in.Pinned[node] = -1
		if at, ok := depotNode[c.DepotID]; ok && c.DepotID != "" {
			in.Pinned[node] = at
		}
		for _, t := range c.AllowedVehicleTypes {
			in.Allowed[node] |= 1 << uint(t)
		}
		if c.Constraint != nil {
			in.Windows[node] = Window{
				Kind:  c.Constraint.Kind,
				Start: c.Constraint.Start - shift,
				End:   c.Constraint.End - shift,
			}
		}
		in.TotalDemand += c.Demand
	}

	m := len(req.Vehicles)
	in.Capacity = make([]int, m)
	in.Start = make([]int, m)
	in.End = make([]int, m)
	in.VehicleType = make([]model.VehicleType, m)
	for vi, v := range req.Vehicles {
		depot := 0
		if req.VehicleDepot != nil {
			depot = req.VehicleDepot[vi]
		}
		if depot < 0 || depot >= d {
			return nil, invalid(fmt.Sprintf("vehicles[%d]", vi), "depot index %d out of range", depot)
		}
		in.Capacity[vi] = v.Capacity
		in.Start[vi] = depot
		in.End[vi] = depot
		in.VehicleType[vi] = v.Type
		in.TotalCapacity += v.Capacity
	}

	if req.Matrices == nil {
		req.Matrices = distance.NewBuilder(nil, nil, nil)
	}
	mat, err := req.Matrices.Build(ctx, in.Locations, distance.Options{
		UseCache:         cfg.DistanceCache(),
		UseRoadDistances: cfg.UseRoadDistances,
	})
	if err != nil {
		return nil, fmt.Errorf("build instance: %w", err)
	}
	in.Distance = mat.Meters
	in.Source = mat.Source
	in.FellBack = mat.FellBack
	in.Time = distance.TimeMinutes(mat.Meters, cfg.DefaultSpeedKmh)
	return in, nil
}
