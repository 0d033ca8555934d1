// Package opt is the routing engine: a capacity and time dimension model over
// a problem.Instance, first-solution construction, and local-search
// metaheuristics bounded by a wall-clock limit.
package opt

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"fleetroute/internal/model"
	"fleetroute/internal/problem"
)

type Status int

const (
	StatusNotSolved   Status = 0
	StatusSuccess     Status = 1
	StatusFail        Status = 2
	StatusFailTimeout Status = 3
	StatusInvalid     Status = 4
)

func (s Status) String() string {
	switch s {
	case StatusNotSolved:
		return "ROUTING_NOT_SOLVED"
	case StatusSuccess:
		return "ROUTING_SUCCESS"
	case StatusFail:
		return "ROUTING_FAIL"
	case StatusFailTimeout:
		return "ROUTING_FAIL_TIMEOUT"
	case StatusInvalid:
		return "ROUTING_INVALID"
	}
	return fmt.Sprintf("ROUTING_STATUS_%d", int(s))
}

// Diagnostics summarizes the instance a solve failed on.
type Diagnostics struct {
	Locations     int     `json:"locations"`
	Vehicles      int     `json:"vehicles"`
	TotalDemand   int     `json:"total_demand"`
	TotalCapacity int     `json:"total_capacity"`
	Ratio         float64 `json:"demand_capacity_ratio"`
}

// SolverError is returned when no solution could be produced.
type SolverError struct {
	Status      Status
	Reason      string
	Diagnostics Diagnostics
}

func (e *SolverError) Error() string {
	d := e.Diagnostics
	msg := fmt.Sprintf("solver: %s (locations=%d vehicles=%d demand=%d capacity=%d)",
		e.Status, d.Locations, d.Vehicles, d.TotalDemand, d.TotalCapacity)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

var (
	ErrNotConfigured = errors.New("engine not configured")
	ErrAlreadySolved = errors.New("engine already solved")
)

type State int

const (
	StateBuilt State = iota
	StateConfigured
	StateSolving
	StateSolved
	StateInfeasible
	StateTimedOut
)

// Params drive one solve.
type Params struct {
	Strategy       model.SearchStrategy
	Metaheuristic  model.Metaheuristic
	UseLocalSearch bool
	TimeLimit      time.Duration
	// SolutionLimit stops the search after this many improving solutions.
	SolutionLimit int
	// MaxIterations caps metaheuristic iterations; 0 means no cap.
	MaxIterations int
	Seed          int64
}

// ParamsFrom maps optimizer configuration onto engine parameters.
func ParamsFrom(cfg model.OptimizerConfig) Params {
	return Params{
		Strategy:       cfg.SearchStrategy,
		Metaheuristic:  cfg.LocalSearchMetaheuristic,
		UseLocalSearch: cfg.LocalSearch(),
		TimeLimit:      time.Duration(cfg.TimeLimitSeconds) * time.Second,
		SolutionLimit:  cfg.SolutionLimit,
		Seed:           cfg.Seed,
	}
}

// Result holds the routes of used vehicles only. Routes list customer nodes
// without the depot; Arrival is the time cumul at each stop and is nil when
// the time dimension is off.
type Result struct {
	Vehicles  []int
	Routes    [][]int
	Arrival   [][]int
	Duration  []int
	Objective int64
	Status    Status
	Metrics   Metrics
}

type Engine struct {
	mu     sync.Mutex
	state  State
	inst   *problem.Instance
	params Params

	rng       *rand.Rand
	customers []int
	// classOf groups interchangeable vehicles (same type, capacity and depots).
	classOf []int
}

func New(inst *problem.Instance) *Engine {
	return &Engine{inst: inst, state: StateBuilt}
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Configure validates p and moves the engine to Configured.
func (e *Engine) Configure(p Params) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state >= StateSolving {
		return ErrAlreadySolved
	}
	if !knownStrategy(p.Strategy) {
		return e.invalid("unknown search strategy %q", p.Strategy)
	}
	if p.UseLocalSearch && !knownMetaheuristic(p.Metaheuristic) {
		return e.invalid("unknown metaheuristic %q", p.Metaheuristic)
	}
	if p.TimeLimit <= 0 {
		return e.invalid("time limit must be positive")
	}
	e.params = p
	e.state = StateConfigured
	return nil
}

func knownStrategy(s model.SearchStrategy) bool {
	for _, k := range model.Strategies {
		if k == s {
			return true
		}
	}
	return false
}

func knownMetaheuristic(m model.Metaheuristic) bool {
	for _, k := range model.Metaheuristics {
		if k == m {
			return true
		}
	}
	return false
}

// Solve runs construction and, when enabled, the metaheuristic. It may be
// called once. The search stops on the time limit, the solution limit or
// stagnation; ctx only carries tracing.
func (e *Engine) Solve(ctx context.Context) (*Result, error) {
	e.mu.Lock()
	switch {
	case e.state == StateBuilt:
		e.mu.Unlock()
		return nil, ErrNotConfigured
	case e.state >= StateSolving:
		e.mu.Unlock()
		return nil, ErrAlreadySolved
	}
	e.state = StateSolving
	e.mu.Unlock()

	_, span := otel.Tracer("fleetroute/opt").Start(ctx, "solve")
	defer span.End()
	span.SetAttributes(
		attribute.String("strategy", string(e.params.Strategy)),
		attribute.String("metaheuristic", string(e.params.Metaheuristic)),
	)

	res, err := e.solve()
	e.mu.Lock()
	switch {
	case err == nil:
		e.state = StateSolved
	case isStatus(err, StatusFailTimeout):
		e.state = StateTimedOut
	default:
		e.state = StateInfeasible
	}
	e.mu.Unlock()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int64("objective", res.Objective), attribute.Int("routes", len(res.Routes)))
	return res, nil
}

func isStatus(err error, s Status) bool {
	var se *SolverError
	return errors.As(err, &se) && se.Status == s
}

func (e *Engine) solve() (*Result, error) {
	start := time.Now()
	deadline := start.Add(e.params.TimeLimit)
	if err := e.validate(); err != nil {
		return nil, err
	}
	seed := e.params.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	e.rng = rand.New(rand.NewSource(seed))
	e.prepare()
	if err := e.precheck(); err != nil {
		return nil, err
	}

	sol, used, ok := e.firstSolution(deadline)
	if !ok {
		if time.Now().After(deadline) {
			return nil, e.failure(StatusFailTimeout, "time limit reached before a first solution")
		}
		return nil, e.failure(StatusFail, "no construction placed every customer")
	}

	m := Metrics{
		Strategy:    string(used),
		InitialCost: sol.cost,
		BestCost:    sol.cost,
	}
	best := sol
	if e.params.UseLocalSearch {
		m.Metaheuristic = string(e.params.Metaheuristic)
		best = e.search(sol, deadline, &m)
	} else {
		m.StoppedBy = "first_solution"
	}
	m.FinalCost = best.cost
	m.ElapsedSeconds = time.Since(start).Seconds()
	return e.result(best, m), nil
}

func (e *Engine) search(sol solution, deadline time.Time, m *Metrics) solution {
	lim := e.limits(deadline)
	switch e.params.Metaheuristic {
	case model.GreedyDescent:
		return e.greedyDescent(sol, lim, m)
	case model.TabuSearch:
		return e.tabuSearch(sol, lim, m)
	case model.SimulatedAnnealing:
		return e.annealing(sol, lim, m)
	default:
		return e.guidedLocalSearch(sol, lim, m)
	}
}

func (e *Engine) validate() error {
	in := e.inst
	if in == nil {
		return &SolverError{Status: StatusInvalid, Reason: "nil instance"}
	}
	n, m := in.Nodes(), in.Vehicles()
	switch {
	case n == 0 || m == 0 || in.NumDepots <= 0 || in.NumDepots >= n:
		return e.invalid("instance needs depots, customers and vehicles")
	case len(in.Demand) != n || len(in.Service) != n || len(in.Windows) != n || len(in.Allowed) != n || len(in.CustomerAt) != n:
		return e.invalid("node arrays disagree on length")
	case len(in.Start) != m || len(in.End) != m || len(in.VehicleType) != m:
		return e.invalid("vehicle arrays disagree on length")
	case len(in.Distance) != n:
		return e.invalid("distance matrix has %d rows for %d nodes", len(in.Distance), n)
	}
	for i := range in.Distance {
		if len(in.Distance[i]) != n {
			return e.invalid("distance row %d has %d cells", i, len(in.Distance[i]))
		}
	}
	if in.TimeWindows {
		if len(in.Time) != n {
			return e.invalid("time matrix has %d rows for %d nodes", len(in.Time), n)
		}
		for i := range in.Time {
			if len(in.Time[i]) != n {
				return e.invalid("time row %d has %d cells", i, len(in.Time[i]))
			}
		}
	}
	for v := 0; v < m; v++ {
		if in.Start[v] < 0 || in.Start[v] >= in.NumDepots || in.End[v] < 0 || in.End[v] >= in.NumDepots {
			return e.invalid("vehicle %d starts or ends outside the depots", v)
		}
		if in.VehicleType[v] < 0 || in.VehicleType[v] >= 64 {
			return e.invalid("vehicle %d has type %d", v, in.VehicleType[v])
		}
	}
	return nil
}

func (e *Engine) prepare() {
	in := e.inst
	e.customers = e.customers[:0]
	for node := in.NumDepots; node < in.Nodes(); node++ {
		e.customers = append(e.customers, node)
	}
	type sig struct {
		t          model.VehicleType
		cap, s, en int
	}
	classes := map[sig]int{}
	e.classOf = make([]int, in.Vehicles())
	for v := range e.classOf {
		k := sig{in.VehicleType[v], in.Capacity[v], in.Start[v], in.End[v]}
		id, ok := classes[k]
		if !ok {
			id = len(classes)
			classes[k] = id
		}
		e.classOf[v] = id
	}
}

// precheck rejects instances where some customer fits no vehicle on its own.
func (e *Engine) precheck() error {
	in := e.inst
	if in.TotalDemand > in.TotalCapacity {
		return e.failure(StatusFail, fmt.Sprintf("demand %d exceeds capacity %d", in.TotalDemand, in.TotalCapacity))
	}
	for _, node := range e.customers {
		ok := false
		for v := 0; v < in.Vehicles() && !ok; v++ {
			ok = e.feasible(v, []int{node})
		}
		if !ok {
			return e.failure(StatusFail, fmt.Sprintf("node %d fits no vehicle on its own", node))
		}
	}
	return nil
}

func (e *Engine) diagnostics() Diagnostics {
	in := e.inst
	d := Diagnostics{}
	if in == nil {
		return d
	}
	d.Locations = in.Nodes()
	d.Vehicles = in.Vehicles()
	d.TotalDemand = in.TotalDemand
	d.TotalCapacity = in.TotalCapacity
	if d.TotalCapacity > 0 {
		d.Ratio = float64(d.TotalDemand) / float64(d.TotalCapacity)
	}
	return d
}

func (e *Engine) failure(s Status, reason string) *SolverError {
	return &SolverError{Status: s, Reason: reason, Diagnostics: e.diagnostics()}
}

func (e *Engine) invalid(format string, args ...any) *SolverError {
	return e.failure(StatusInvalid, fmt.Sprintf(format, args...))
}

func (e *Engine) result(sol solution, m Metrics) *Result {
	res := &Result{Objective: sol.cost, Status: StatusSuccess, Metrics: m}
	for v, r := range sol.routes {
		if len(r) == 0 {
			continue
		}
		res.Vehicles = append(res.Vehicles, v)
		res.Routes = append(res.Routes, append([]int(nil), r...))
		if e.inst.TimeWindows {
			arr := make([]int, len(r))
			end, _ := e.schedule(v, r, arr)
			res.Arrival = append(res.Arrival, arr)
			res.Duration = append(res.Duration, end)
		}
	}
	return res
}
