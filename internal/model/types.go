package model

// Core domain records shared by the optimizer, the job queue and the API.

type Location struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lng float64 `json:"lng" yaml:"lng"`
}

// ConstraintKind selects how a TimeConstraint restricts the arrival time.
type ConstraintKind string

const (
	ConstraintWindow    ConstraintKind = "window"
	ConstraintAfter     ConstraintKind = "after"
	ConstraintBefore    ConstraintKind = "before"
	ConstraintForbidden ConstraintKind = "forbidden"
)

// TimeConstraint bounds are minutes since midnight.
type TimeConstraint struct {
	Kind  ConstraintKind `json:"kind"`
	Start int            `json:"start"`
	End   int            `json:"end"`
}

type Customer struct {
	ID                  string          `json:"id"`
	Name                string          `json:"name,omitempty"`
	Location            Location        `json:"location"`
	Demand              int             `json:"demand"`
	BusinessType        string          `json:"business_type,omitempty"`
	ServiceMinutes      int             `json:"service_minutes,omitempty"`
	Constraint          *TimeConstraint `json:"constraint,omitempty"`
	AllowedVehicleTypes []VehicleType   `json:"allowed_vehicle_types,omitempty"`
	DepotID             string          `json:"depot_id,omitempty"`
}

type Vehicle struct {
	ID           string      `json:"id"`
	Plate        string      `json:"plate,omitempty"`
	Type         VehicleType `json:"type"`
	Capacity     int         `json:"capacity"`
	FuelPer100Km float64     `json:"fuel_per_100km,omitempty"`
}

type Depot struct {
	ID       string   `json:"id"`
	Name     string   `json:"name,omitempty"`
	Location Location `json:"location"`
}

// DisplayName falls back to the id when the depot carries no name.
func (d Depot) DisplayName() string {
	if d.Name != "" {
		return d.Name
	}
	return d.ID
}

// ServiceMinutesByBusiness is the default dwell time per business type.
var ServiceMinutesByBusiness = map[string]int{
	"MCD":        60,
	"IKEA":       45,
	"CHL":        30,
	"OPT":        30,
	"restaurant": 30,
}

// DefaultServiceMinutes applies when the business type is unknown.
const DefaultServiceMinutes = 30

// ServiceMinutesFor resolves the dwell time for a business type.
func ServiceMinutesFor(businessType string) int {
	if m, ok := ServiceMinutesByBusiness[businessType]; ok {
		return m
	}
	return DefaultServiceMinutes
}
