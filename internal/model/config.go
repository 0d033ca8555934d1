package model

import "fmt"

type SearchStrategy string

const (
	StrategySavings                   SearchStrategy = "SAVINGS"
	StrategyPathCheapestArc           SearchStrategy = "PATH_CHEAPEST_ARC"
	StrategyParallelCheapestInsertion SearchStrategy = "PARALLEL_CHEAPEST_INSERTION"
	StrategyLocalCheapestInsertion    SearchStrategy = "LOCAL_CHEAPEST_INSERTION"
	StrategyAutomatic                 SearchStrategy = "AUTOMATIC"
)

type Metaheuristic string

const (
	GuidedLocalSearch  Metaheuristic = "GUIDED_LOCAL_SEARCH"
	TabuSearch         Metaheuristic = "TABU_SEARCH"
	SimulatedAnnealing Metaheuristic = "SIMULATED_ANNEALING"
	GreedyDescent      Metaheuristic = "GREEDY_DESCENT"
)

// Strategies and Metaheuristics are the accepted values, in display order.
var (
	Strategies = []SearchStrategy{
		StrategySavings,
		StrategyPathCheapestArc,
		StrategyParallelCheapestInsertion,
		StrategyLocalCheapestInsertion,
		StrategyAutomatic,
	}
	Metaheuristics = []Metaheuristic{
		GuidedLocalSearch,
		TabuSearch,
		SimulatedAnnealing,
		GreedyDescent,
	}
)

// MultiDepotMode picks between per-depot partitioning and one joint model.
// In both modes a customer whose DepotID names a known depot is served only
// from that depot; in joint mode other customers may go to any depot.
type MultiDepotMode string

const (
	MultiDepotPartition MultiDepotMode = "partition"
	MultiDepotJoint     MultiDepotMode = "joint"
)

type OptimizerConfig struct {
	TimeLimitSeconds         int            `json:"time_limit_seconds" yaml:"time_limit_seconds"`
	SearchStrategy           SearchStrategy `json:"search_strategy" yaml:"search_strategy"`
	UseLocalSearch           *bool          `json:"use_local_search,omitempty" yaml:"use_local_search"`
	LocalSearchMetaheuristic Metaheuristic  `json:"local_search_metaheuristic" yaml:"local_search_metaheuristic"`
	EnableTimeWindows        bool           `json:"enable_time_windows" yaml:"enable_time_windows"`
	DefaultSpeedKmh          float64        `json:"default_speed_kmh" yaml:"default_speed_kmh"`
	SolutionLimit            int            `json:"solution_limit" yaml:"solution_limit"`
	UseDistanceCache         *bool          `json:"use_distance_cache,omitempty" yaml:"use_distance_cache"`
	UseRoadDistances         bool           `json:"use_road_distances" yaml:"use_road_distances"`
	FixedVehicleCost         int            `json:"fixed_vehicle_cost" yaml:"fixed_vehicle_cost"`
	MaxWaitMinutes           int            `json:"max_wait_minutes" yaml:"max_wait_minutes"`
	MaxRouteMinutes          int            `json:"max_route_minutes" yaml:"max_route_minutes"`
	ShiftStart               string         `json:"shift_start" yaml:"shift_start"`
	DriverBreaks             bool           `json:"driver_breaks" yaml:"driver_breaks"`
	MultiDepotMode           MultiDepotMode `json:"multi_depot_mode" yaml:"multi_depot_mode"`
	Seed                     int64          `json:"seed,omitempty" yaml:"seed"`
}

// DefaultConfig mirrors the production tuning of the optimizer.
func DefaultConfig() OptimizerConfig {
	return OptimizerConfig{
		TimeLimitSeconds:         45,
		SearchStrategy:           StrategySavings,
		UseLocalSearch:           Bool(true),
		LocalSearchMetaheuristic: GuidedLocalSearch,
		EnableTimeWindows:        false,
		DefaultSpeedKmh:          60,
		SolutionLimit:            100,
		UseDistanceCache:         Bool(true),
		FixedVehicleCost:         10000,
		MaxWaitMinutes:           30,
		MaxRouteMinutes:          600,
		ShiftStart:               "08:00",
		MultiDepotMode:           MultiDepotPartition,
	}
}

// Bool returns a pointer to v, for the optional switches of OptimizerConfig.
func Bool(v bool) *bool { return &v }

// LocalSearch reports whether the metaheuristic runs after construction.
// Unset means on.
func (c OptimizerConfig) LocalSearch() bool {
	return c.UseLocalSearch == nil || *c.UseLocalSearch
}

// DistanceCache reports whether matrices read and write the pair cache.
// Unset means on.
func (c OptimizerConfig) DistanceCache() bool {
	return c.UseDistanceCache == nil || *c.UseDistanceCache
}

// Clone copies c without sharing the switch pointers.
func (c OptimizerConfig) Clone() OptimizerConfig {
	if c.UseLocalSearch != nil {
		c.UseLocalSearch = Bool(*c.UseLocalSearch)
	}
	if c.UseDistanceCache != nil {
		c.UseDistanceCache = Bool(*c.UseDistanceCache)
	}
	return c
}

// WithDefaults fills zero values and unset switches from base.
func (c OptimizerConfig) WithDefaults(base OptimizerConfig) OptimizerConfig {
	if c.UseLocalSearch == nil && base.UseLocalSearch != nil {
		c.UseLocalSearch = Bool(*base.UseLocalSearch)
	}
	if c.UseDistanceCache == nil && base.UseDistanceCache != nil {
		c.UseDistanceCache = Bool(*base.UseDistanceCache)
	}
	if c.TimeLimitSeconds <= 0 {
		c.TimeLimitSeconds = base.TimeLimitSeconds
	}
	if c.SearchStrategy == "" {
		c.SearchStrategy = base.SearchStrategy
	}
	if c.LocalSearchMetaheuristic == "" {
		c.LocalSearchMetaheuristic = base.LocalSearchMetaheuristic
	}
	if c.DefaultSpeedKmh <= 0 {
		c.DefaultSpeedKmh = base.DefaultSpeedKmh
	}
	if c.SolutionLimit <= 0 {
		c.SolutionLimit = base.SolutionLimit
	}
	if c.FixedVehicleCost <= 0 {
		c.FixedVehicleCost = base.FixedVehicleCost
	}
	if c.MaxWaitMinutes <= 0 {
		c.MaxWaitMinutes = base.MaxWaitMinutes
	}
	if c.MaxRouteMinutes <= 0 {
		c.MaxRouteMinutes = base.MaxRouteMinutes
	}
	if c.ShiftStart == "" {
		c.ShiftStart = base.ShiftStart
	}
	if c.MultiDepotMode == "" {
		c.MultiDepotMode = base.MultiDepotMode
	}
	return c
}

// Validate rejects enum values the engine does not know.
func (c OptimizerConfig) Validate() error {
	okStrategy := false
	for _, s := range Strategies {
		if c.SearchStrategy == s {
			okStrategy = true
		}
	}
	if !okStrategy {
		return fmt.Errorf("invalid search_strategy: %s", c.SearchStrategy)
	}
	okMeta := false
	for _, m := range Metaheuristics {
		if c.LocalSearchMetaheuristic == m {
			okMeta = true
		}
	}
	if !okMeta {
		return fmt.Errorf("invalid local_search_metaheuristic: %s", c.LocalSearchMetaheuristic)
	}
	if c.MultiDepotMode != MultiDepotPartition && c.MultiDepotMode != MultiDepotJoint {
		return fmt.Errorf("invalid multi_depot_mode: %s", c.MultiDepotMode)
	}
	if c.TimeLimitSeconds < 0 {
		return fmt.Errorf("time_limit_seconds must be >= 0")
	}
	return nil
}
