// Package network provides the static highway station topology.
package network

import (
	"errors"
	"fmt"
)

// Topology errors.
var (
	ErrUnknownHighway = errors.New("unknown highway/direction")
	ErrUnknownStation = errors.New("unknown station")
	ErrNoStations     = errors.New("topology has no stations")
)

// Direction is the travel direction along a highway axis.
type Direction string

const (
	DirectionNorth Direction = "N"
	DirectionSouth Direction = "S"
)

// Station is a single roadside sensor station. Immutable once loaded.
type Station struct {
	ID       string
	Name     string
	Highway  string
	Dir      Direction
	Lat      float64
	Lng      float64
	// Ordinal is the station's position along the highway axis, ascending
	// in the direction of travel.
	Ordinal int
	// MileKM is the station's milepost in kilometers.
	MileKM float64
}

// Key identifies a highway/direction partition.
type Key struct {
	Highway string
	Dir     Direction
}

func (k Key) String() string {
	return fmt.Sprintf("%s_%s", k.Highway, k.Dir)
}
