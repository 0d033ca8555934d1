package model

import (
	"errors"
	"fmt"
	"sort"
)

type VehicleType int

const (
	VehicleVan VehicleType = iota
	VehicleTruck14
	VehicleTruck18
	VehicleTIR
	VehicleTrailer
)

// VehicleProfile is the nominal capacity and fuel use of a vehicle type.
type VehicleProfile struct {
	Name         string  `json:"name" yaml:"name"`
	Capacity     int     `json:"capacity" yaml:"capacity"`
	FuelPer100Km float64 `json:"fuel_per_100km" yaml:"fuel_per_100km"`
}

var ErrUnknownVehicleType = errors.New("unknown vehicle type")

// Profiles maps vehicle types to their profile.
type Profiles map[VehicleType]VehicleProfile

// DefaultProfiles returns a fresh copy of the built-in fleet table.
func DefaultProfiles() Profiles {
	return Profiles{
		VehicleVan:     {Name: "Kamyonet", Capacity: 10, FuelPer100Km: 15},
		VehicleTruck14: {Name: "Kamyon-1", Capacity: 14, FuelPer100Km: 20},
		VehicleTruck18: {Name: "Kamyon-2", Capacity: 18, FuelPer100Km: 30},
		VehicleTIR:     {Name: "TIR", Capacity: 32, FuelPer100Km: 35},
		VehicleTrailer: {Name: "Romork", Capacity: 36, FuelPer100Km: 40},
	}
}

// Lookup returns the profile for t or ErrUnknownVehicleType.
func (p Profiles) Lookup(t VehicleType) (VehicleProfile, error) {
	prof, ok := p[t]
	if !ok {
		return VehicleProfile{}, fmt.Errorf("vehicle type %d: %w", int(t), ErrUnknownVehicleType)
	}
	return prof, nil
}

// Types lists the known vehicle types in ascending order.
func (p Profiles) Types() []VehicleType {
	out := make([]VehicleType, 0, len(p))
	for t := range p {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ProfileFor resolves the effective profile of a concrete vehicle, letting the
// vehicle's own fuel rate override the table.
func (p Profiles) ProfileFor(v Vehicle) (VehicleProfile, error) {
	prof, err := p.Lookup(v.Type)
	if err != nil {
		return VehicleProfile{}, err
	}
	if v.FuelPer100Km > 0 {
		prof.FuelPer100Km = v.FuelPer100Km
	}
	if v.Capacity > 0 {
		prof.Capacity = v.Capacity
	}
	return prof, nil
}
