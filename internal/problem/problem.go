// Package problem validates optimize requests and assembles the immutable
// node-indexed instance the routing engine works on.
package problem

import (
	"errors"
	"fmt"

	"fleetroute/internal/geo"
	"fleetroute/internal/model"
)

// ValidationError reports the first input field that makes a request unusable.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Input is a normalized request. Every record in it is usable as-is.
type Input struct {
	Depots        []model.Depot
	Customers     []model.Customer
	Vehicles      []model.Vehicle
	Profiles      model.Profiles
	TotalDemand   int
	TotalCapacity int
}

// Normalize validates the raw request and fixes what can be fixed, returning
// one warning per adjustment.
func Normalize(depots []model.Depot, customers []model.Customer, vehicles []model.Vehicle, profiles model.Profiles) (*Input, []string, error) {
	if profiles == nil {
		profiles = model.DefaultProfiles()
	}
	var warnings []string

	if len(depots) == 0 {
		return nil, nil, invalid("depots", "at least one depot is required")
	}
	depotIDs := make(map[string]bool, len(depots))
	outDepots := make([]model.Depot, len(depots))
	for i, d := range depots {
		field := fmt.Sprintf("depots[%d]", i)
		if !geo.ValidLocation(d.Location) {
			return nil, nil, invalid(field+".location", "coordinates out of range (%v, %v)", d.Location.Lat, d.Location.Lng)
		}
		if d.ID == "" {
			d.ID = fmt.Sprintf("depot-%d", i+1)
		}
		if depotIDs[d.ID] {
			return nil, nil, invalid(field+".id", "duplicate depot id %q", d.ID)
		}
		depotIDs[d.ID] = true
		outDepots[i] = d
	}

	outVehicles := make([]model.Vehicle, 0, len(vehicles))
	vehicleIDs := map[string]bool{}
	for i, v := range vehicles {
		field := fmt.Sprintf("vehicles[%d]", i)
		prof, err := profiles.Lookup(v.Type)
		if err != nil {
			return nil, nil, invalid(field+".type", "%v", err)
		}
		if v.ID == "" {
			v.ID = fmt.Sprintf("vehicle-%d", i+1)
		}
		if vehicleIDs[v.ID] {
			return nil, nil, invalid(field+".id", "duplicate vehicle id %q", v.ID)
		}
		if v.Capacity <= 0 {
			warnings = append(warnings, fmt.Sprintf("vehicle %s skipped: capacity %d", v.ID, v.Capacity))
			continue
		}
		if v.FuelPer100Km <= 0 {
			v.FuelPer100Km = prof.FuelPer100Km
		}
		vehicleIDs[v.ID] = true
		outVehicles = append(outVehicles, v)
	}
	if len(outVehicles) == 0 {
		return nil, nil, invalid("vehicles", "no vehicle with positive capacity")
	}

	fleetTypes := map[model.VehicleType]int{}
	totalCapacity := 0
	for _, v := range outVehicles {
		totalCapacity += v.Capacity
		if v.Capacity > fleetTypes[v.Type] {
			fleetTypes[v.Type] = v.Capacity
		}
	}

	outCustomers := make([]model.Customer, 0, len(customers))
	customerIDs := map[string]bool{}
	totalDemand := 0
	for i, c := range customers {
		field := fmt.Sprintf("customers[%d]", i)
		if c.ID == "" {
			c.ID = fmt.Sprintf("customer-%d", i+1)
		}
		if !geo.ValidLocation(c.Location) {
			warnings = append(warnings, fmt.Sprintf("customer %s skipped: coordinates out of range (%v, %v)", c.ID, c.Location.Lat, c.Location.Lng))
			continue
		}
		if customerIDs[c.ID] {
			return nil, nil, invalid(field+".id", "duplicate customer id %q", c.ID)
		}
		customerIDs[c.ID] = true
		if c.Demand <= 0 {
			warnings = append(warnings, fmt.Sprintf("customer %s: demand %d normalized to 1", c.ID, c.Demand))
			c.Demand = 1
		}
		if c.ServiceMinutes <= 0 {
			c.ServiceMinutes = model.ServiceMinutesFor(c.BusinessType)
		}
		if c.DepotID != "" && !depotIDs[c.DepotID] {
			warnings = append(warnings, fmt.Sprintf("customer %s: unknown depot %q, nearest depot used", c.ID, c.DepotID))
			c.DepotID = ""
		}
		if err := checkConstraint(c.Constraint); err != nil {
			return nil, nil, invalid(field+".constraint", "%v", err)
		}
		if len(c.AllowedVehicleTypes) > 0 {
			best := 0
			for _, t := range c.AllowedVehicleTypes {
				if _, err := profiles.Lookup(t); err != nil {
					return nil, nil, invalid(field+".allowed_vehicle_types", "%v", err)
				}
				if fleetTypes[t] > best {
					best = fleetTypes[t]
				}
			}
			if best == 0 {
				return nil, nil, invalid(field+".allowed_vehicle_types", "no vehicle of an allowed type in the fleet")
			}
		}
		totalDemand += c.Demand
		outCustomers = append(outCustomers, c)
	}
	if len(outCustomers) == 0 {
		return nil, nil, invalid("customers", "no customer with valid coordinates")
	}
	if totalDemand > totalCapacity {
		return nil, nil, invalid("customers", "total demand %d exceeds total fleet capacity %d", totalDemand, totalCapacity)
	}

	return &Input{
		Depots:        outDepots,
		Customers:     outCustomers,
		Vehicles:      outVehicles,
		Profiles:      profiles,
		TotalDemand:   totalDemand,
		TotalCapacity: totalCapacity,
	}, warnings, nil
}

var errBadConstraint = errors.New("bad time constraint")

func checkConstraint(tc *model.TimeConstraint) error {
	if tc == nil {
		return nil
	}
	inDay := func(m int) bool { return m >= 0 && m <= 24*60 }
	switch tc.Kind {
	case model.ConstraintAfter:
		if !inDay(tc.Start) {
			return fmt.Errorf("%w: start %d outside the day", errBadConstraint, tc.Start)
		}
	case model.ConstraintBefore:
		if !inDay(tc.End) {
			return fmt.Errorf("%w: end %d outside the day", errBadConstraint, tc.End)
		}
	case model.ConstraintWindow, model.ConstraintForbidden:
		if !inDay(tc.Start) || !inDay(tc.End) {
			return fmt.Errorf("%w: bounds %d-%d outside the day", errBadConstraint, tc.Start, tc.End)
		}
		if tc.Start > tc.End {
			return fmt.Errorf("%w: start %d after end %d", errBadConstraint, tc.Start, tc.End)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", errBadConstraint, tc.Kind)
	}
	return nil
}
