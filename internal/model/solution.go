package model

type CostBreakdown struct {
	Fuel     float64 `json:"fuel_cost"`
	Distance float64 `json:"distance_cost"`
	Fixed    float64 `json:"fixed_cost"`
	Toll     float64 `json:"toll_cost"`
	Total    float64 `json:"total_cost"`
}

type Stop struct {
	CustomerID         string   `json:"customer_id"`
	CustomerName       string   `json:"customer_name,omitempty"`
	Location           Location `json:"location"`
	Demand             int      `json:"demand"`
	Order              int      `json:"stop_order"`
	CumulativeLoad     int      `json:"cumulative_load"`
	DistanceFromPrevKm float64  `json:"distance_from_prev_km"`
	ArrivalMinute      *int     `json:"arrival_minute,omitempty"`
	ArrivalClock       string   `json:"arrival_time,omitempty"`
}

type Route struct {
	VehicleID       string        `json:"vehicle_id"`
	Plate           string        `json:"plate,omitempty"`
	VehicleType     VehicleType   `json:"vehicle_type"`
	DepotID         string        `json:"depot_id"`
	DepotName       string        `json:"depot_name,omitempty"`
	Stops           []Stop        `json:"stops"`
	DistanceKm      float64       `json:"distance_km"`
	DurationMinutes int           `json:"duration_minutes"`
	Load            int           `json:"total_load"`
	Cost            CostBreakdown `json:"cost"`
}

type DepotSummary struct {
	DepotID      string  `json:"depot_id"`
	Name         string  `json:"name"`
	Customers    int     `json:"customers"`
	Routes       int     `json:"routes"`
	DistanceKm   float64 `json:"distance_km"`
	VehiclesUsed int     `json:"vehicles_used"`
}

type Summary struct {
	TotalRoutes        int            `json:"total_routes"`
	TotalDistanceKm    float64        `json:"total_distance_km"`
	TotalVehiclesUsed  int            `json:"total_vehicles_used"`
	TotalCost          float64        `json:"total_cost"`
	TotalFuelCost      float64        `json:"total_fuel_cost"`
	ObjectiveValue     int64          `json:"objective_value"`
	ComputationSeconds float64        `json:"computation_seconds"`
	Algorithm          string         `json:"algorithm"`
	Strategy           SearchStrategy `json:"strategy"`
	Metaheuristic      Metaheuristic  `json:"metaheuristic,omitempty"`
	DistanceSource     string         `json:"distance_source"`
	Depots             []DepotSummary `json:"depots,omitempty"`
}

// AllocationWarning records a depot whose customers could not be served.
type AllocationWarning struct {
	DepotID   string `json:"depot_id"`
	Customers int    `json:"customers"`
	Reason    string `json:"reason"`
}

type Solution struct {
	Routes   []Route             `json:"routes"`
	Summary  Summary             `json:"summary"`
	Warnings []AllocationWarning `json:"warnings,omitempty"`
	Notes    []string            `json:"notes,omitempty"`
}

// ServedCustomers counts stops across all routes.
func (s *Solution) ServedCustomers() int {
	n := 0
	for _, r := range s.Routes {
		n += len(r.Stops)
	}
	return n
}
