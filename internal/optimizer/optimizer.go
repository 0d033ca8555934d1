// Package optimizer is the synchronous entry point: it validates a request,
// fans multi-depot work out per depot, runs the engine and prices the result.
package optimizer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"fleetroute/internal/cost"
	"fleetroute/internal/depot"
	"fleetroute/internal/distance"
	"fleetroute/internal/events"
	"fleetroute/internal/geo"
	"fleetroute/internal/model"
	"fleetroute/internal/opt"
	"fleetroute/internal/problem"
	"fleetroute/internal/solution"
)

type Request struct {
	Depots    []model.Depot         `json:"depots"`
	Customers []model.Customer      `json:"customers"`
	Vehicles  []model.Vehicle       `json:"vehicles"`
	FuelPrice float64               `json:"fuel_price,omitempty"`
	Config    model.OptimizerConfig `json:"config"`
}

// Service runs optimize calls. Zero fields fall back to built-in defaults.
type Service struct {
	Matrices      problem.MatrixBuilder
	Observer      events.Observer
	Profiles      model.Profiles
	Rates         cost.Rates
	Defaults      model.OptimizerConfig
	FuelPrice     float64
	SearchMetrics *opt.MetricsStore
	// MaxIterations caps metaheuristic iterations per solve; 0 means none.
	MaxIterations int
}

func New(matrices problem.MatrixBuilder, obs events.Observer) *Service {
	if matrices == nil {
		matrices = distance.NewBuilder(nil, distance.NewMemoryCache(distance.DefaultCacheSize), obs)
	}
	if obs == nil {
		obs = events.Nop()
	}
	return &Service{
		Matrices:      matrices,
		Observer:      obs,
		Profiles:      model.DefaultProfiles(),
		Rates:         cost.DefaultRates(),
		Defaults:      model.DefaultConfig(),
		FuelPrice:     cost.DefaultFuelPrice,
		SearchMetrics: opt.NewMetricsStore(),
	}
}

const modeSingle = "single"

// Optimize solves req. Errors are *problem.ValidationError for unusable input
// and *opt.SolverError when no route plan could be produced.
func (s *Service) Optimize(ctx context.Context, req Request) (*model.Solution, error) {
	start := time.Now()
	ctx, span := otel.Tracer("fleetroute/optimizer").Start(ctx, "optimize")
	defer span.End()

	mode := modeSingle
	if len(req.Depots) > 1 {
		mode = string(req.Config.WithDefaults(s.defaults()).MultiDepotMode)
	}
	span.SetAttributes(
		attribute.String("mode", mode),
		attribute.Int("customers", len(req.Customers)),
		attribute.Int("vehicles", len(req.Vehicles)),
	)

	sol, err := s.optimize(ctx, req, mode)
	status := "success"
	var verr *problem.ValidationError
	switch {
	case errors.As(err, &verr):
		status = "invalid"
	case err != nil:
		status = "failed"
	}
	s.observer().Emit(ctx, events.New(events.OptimizeFinished, map[string]any{
		"mode":    mode,
		"status":  status,
		"seconds": time.Since(start).Seconds(),
	}))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	sol.Summary.ComputationSeconds = time.Since(start).Seconds()
	span.SetAttributes(attribute.Int("routes", len(sol.Routes)), attribute.Float64("total_cost", sol.Summary.TotalCost))
	return sol, nil
}

func (s *Service) defaults() model.OptimizerConfig {
	if s.Defaults.SearchStrategy == "" {
		return model.DefaultConfig()
	}
	return s.Defaults
}

func (s *Service) observer() events.Observer {
	if s.Observer == nil {
		return events.Nop()
	}
	return s.Observer
}

func (s *Service) optimize(ctx context.Context, req Request, mode string) (*model.Solution, error) {
	obs := s.observer()
	cfg := req.Config.WithDefaults(s.defaults())
	if err := cfg.Validate(); err != nil {
		verr := &problem.ValidationError{Field: "config", Reason: err.Error()}
		obs.Emit(ctx, events.New(events.ValidationFailed, map[string]any{"field": verr.Field, "reason": verr.Reason}))
		return nil, verr
	}
	input, notes, err := problem.Normalize(req.Depots, req.Customers, req.Vehicles, s.Profiles)
	if err != nil {
		var verr *problem.ValidationError
		if errors.As(err, &verr) {
			obs.Emit(ctx, events.New(events.ValidationFailed, map[string]any{"field": verr.Field, "reason": verr.Reason}))
		}
		return nil, err
	}
	fuel := req.FuelPrice
	if fuel <= 0 {
		fuel = s.FuelPrice
	}
	if fuel <= 0 {
		fuel = cost.DefaultFuelPrice
	}

	obs.Emit(ctx, events.New(events.SearchStarted, map[string]any{
		"mode":          mode,
		"depots":        len(input.Depots),
		"customers":     len(input.Customers),
		"vehicles":      len(input.Vehicles),
		"strategy":      string(cfg.SearchStrategy),
		"metaheuristic": string(cfg.LocalSearchMetaheuristic),
	}))

	run := &run{svc: s, cfg: cfg, fuel: fuel, input: input}
	var out *model.Solution
	switch {
	case len(input.Depots) == 1:
		out, err = run.single(ctx)
	case cfg.MultiDepotMode == model.MultiDepotJoint:
		out, err = run.joint(ctx)
	default:
		out, err = run.partition(ctx)
	}
	if err != nil {
		return nil, err
	}
	out.Notes = append(notes, out.Notes...)
	return out, nil
}

// run carries one optimize call's normalized state.
type run struct {
	svc   *Service
	cfg   model.OptimizerConfig
	fuel  float64
	input *problem.Input

	objective int64
	sources   []distance.Source
	fellBack  bool
}

type group struct {
	routes []model.Route
	res    *opt.Result
}

func (r *run) solveGroup(ctx context.Context, depots []model.Depot, customers []model.Customer, vehicles []model.Vehicle, vehicleDepot []int, cfg model.OptimizerConfig) (*group, error) {
	s, obs := r.svc, r.svc.observer()
	inst, err := problem.Build(ctx, problem.BuildRequest{
		Depots:       depots,
		Customers:    customers,
		Vehicles:     vehicles,
		VehicleDepot: vehicleDepot,
		Config:       cfg,
		Matrices:     s.Matrices,
	})
	if err != nil {
		return nil, err
	}
	r.sources = append(r.sources, inst.Source)
	r.fellBack = r.fellBack || inst.FellBack

	engine := opt.New(inst)
	params := opt.ParamsFrom(cfg)
	params.MaxIterations = s.MaxIterations
	if err := engine.Configure(params); err != nil {
		return nil, err
	}
	res, err := engine.Solve(ctx)
	if err != nil {
		fields := map[string]any{"error": err.Error(), "customers": len(customers)}
		var se *opt.SolverError
		if errors.As(err, &se) {
			fields["status"] = se.Status.String()
		}
		obs.Emit(ctx, events.New(events.SearchFailed, fields))
		return nil, err
	}
	if s.SearchMetrics != nil {
		s.SearchMetrics.Record(res.Metrics)
	}
	obs.Emit(ctx, events.New(events.SearchCompleted, map[string]any{
		"strategy":      res.Metrics.Strategy,
		"metaheuristic": res.Metrics.Metaheuristic,
		"iterations":    res.Metrics.Iterations,
		"improvements":  res.Metrics.Improvements,
		"objective":     res.Objective,
		"routes":        len(res.Routes),
		"stopped_by":    res.Metrics.StoppedBy,
	}))

	routes, err := solution.Extract(inst, res, solution.Context{
		Customers: customers,
		Vehicles:  vehicles,
		Depots:    depots,
		FuelPrice: r.fuel,
		Rates:     s.Rates,
		Profiles:  r.input.Profiles,
		SpeedKmh:  cfg.DefaultSpeedKmh,
	})
	if err != nil {
		return nil, err
	}
	r.objective += res.Objective
	return &group{routes: routes, res: res}, nil
}

func (r *run) single(ctx context.Context) (*model.Solution, error) {
	in := r.input
	g, err := r.solveGroup(ctx, in.Depots, in.Customers, in.Vehicles, nil, r.cfg)
	if err != nil {
		return nil, err
	}
	return r.finish(g.routes, nil, nil), nil
}

// partition solves each depot on its own with an even share of the time limit.
func (r *run) partition(ctx context.Context) (*model.Solution, error) {
	in, obs := r.input, r.svc.observer()
	assignment := depot.AssignCustomers(in.Depots, in.Customers)
	alloc, warnings := depot.DistributeVehicles(in.Depots, assignment, in.Vehicles)
	for _, w := range warnings {
		r.warn(ctx, obs, w)
	}

	active := 0
	for _, d := range in.Depots {
		if len(assignment[d.ID]) > 0 && len(alloc[d.ID]) > 0 {
			active++
		}
	}
	sub := r.cfg
	if active > 0 {
		sub.TimeLimitSeconds = max(1, r.cfg.TimeLimitSeconds/active)
	}

	var routes []model.Route
	var summaries []model.DepotSummary
	var lastErr error
	solved := 0
	for _, d := range in.Depots {
		customers := assignment[d.ID]
		if len(customers) == 0 || len(alloc[d.ID]) == 0 {
			continue
		}
		g, err := r.solveGroup(ctx, []model.Depot{d}, customers, alloc[d.ID], nil, sub)
		if err != nil {
			var se *opt.SolverError
			var ve *problem.ValidationError
			if !errors.As(err, &se) && !errors.As(err, &ve) {
				return nil, err
			}
			lastErr = err
			w := model.AllocationWarning{DepotID: d.ID, Customers: len(customers), Reason: err.Error()}
			warnings = append(warnings, w)
			r.warn(ctx, obs, w)
			continue
		}
		solved++
		routes = append(routes, g.routes...)
		summaries = append(summaries, depotSummary(d, len(customers), g.routes))
	}
	if solved == 0 {
		if lastErr != nil {
			return nil, lastErr
		}
		return nil, &opt.SolverError{
			Status: opt.StatusFail,
			Reason: "no depot received vehicles",
			Diagnostics: opt.Diagnostics{
				Locations:     len(in.Depots) + len(in.Customers),
				Vehicles:      len(in.Vehicles),
				TotalDemand:   in.TotalDemand,
				TotalCapacity: in.TotalCapacity,
			},
		}
	}
	return r.finish(routes, summaries, warnings), nil
}

// joint solves one model over every depot; vehicles keep the depot the
// allocator gave them. Customers pinned by DepotID stay on that depot's
// vehicles and the rest may be served from any depot.
func (r *run) joint(ctx context.Context) (*model.Solution, error) {
	in, obs := r.input, r.svc.observer()
	assignment := depot.AssignCustomers(in.Depots, in.Customers)
	alloc, warnings := depot.DistributeVehicles(in.Depots, assignment, in.Vehicles)
	for _, w := range warnings {
		r.warn(ctx, obs, w)
	}

	var vehicles []model.Vehicle
	var vehicleDepot []int
	for i, d := range in.Depots {
		for _, v := range alloc[d.ID] {
			vehicles = append(vehicles, v)
			vehicleDepot = append(vehicleDepot, i)
		}
	}
	g, err := r.solveGroup(ctx, in.Depots, in.Customers, vehicles, vehicleDepot, r.cfg)
	if err != nil {
		return nil, err
	}
	var summaries []model.DepotSummary
	for _, d := range in.Depots {
		var mine []model.Route
		for _, rt := range g.routes {
			if rt.DepotID == d.ID {
				mine = append(mine, rt)
			}
		}
		served := 0
		for _, rt := range mine {
			served += len(rt.Stops)
		}
		if len(mine) > 0 {
			summaries = append(summaries, depotSummary(d, served, mine))
		}
	}
	return r.finish(g.routes, summaries, warnings), nil
}

func (r *run) warn(ctx context.Context, obs events.Observer, w model.AllocationWarning) {
	obs.Emit(ctx, events.New(events.AllocationWarning, map[string]any{
		"depot_id":  w.DepotID,
		"customers": w.Customers,
		"reason":    w.Reason,
	}))
}

func depotSummary(d model.Depot, customers int, routes []model.Route) model.DepotSummary {
	km := 0.0
	for _, rt := range routes {
		km += rt.DistanceKm
	}
	return model.DepotSummary{
		DepotID:      d.ID,
		Name:         d.DisplayName(),
		Customers:    customers,
		Routes:       len(routes),
		DistanceKm:   geo.Round2(km),
		VehiclesUsed: len(routes),
	}
}

func (r *run) finish(routes []model.Route, depots []model.DepotSummary, warnings []model.AllocationWarning) *model.Solution {
	if routes == nil {
		routes = []model.Route{}
	}
	sum := solution.Summarize(routes)
	sum.ObjectiveValue = r.objective
	sum.Algorithm = r.algorithm()
	sum.Strategy = r.cfg.SearchStrategy
	if r.cfg.LocalSearch() {
		sum.Metaheuristic = r.cfg.LocalSearchMetaheuristic
	}
	sum.DistanceSource = string(distance.SourceGreatCircle)
	for _, src := range r.sources {
		if src == distance.SourceRoad {
			sum.DistanceSource = string(distance.SourceRoad)
		}
	}
	sum.Depots = depots

	sol := &model.Solution{Routes: routes, Summary: sum, Warnings: warnings}
	if r.fellBack {
		sol.Notes = append(sol.Notes, "road distance provider unavailable; great-circle distances used")
	}
	return sol
}

func (r *run) algorithm() string {
	name := "CVRP"
	if r.cfg.EnableTimeWindows {
		name = "CVRPTW"
	}
	if len(r.input.Depots) > 1 {
		name = fmt.Sprintf("MD%s/%s", name, r.cfg.MultiDepotMode)
	}
	return name
}
