// Package modelstore defines the persistence contract for named model
// configurations and their simulation runs. A Configuration is an immutable,
// uniquely named model definition; each simulation run against it is recorded
// as an Iteration carrying a per-configuration, strictly increasing sequence
// number assigned by the store.
package modelstore

import (
	"time"

	"github.com/google/uuid"
)

// Configuration is a persisted model definition. The three parameter
// documents hold arbitrary nested key/value data produced by external
// parsers; Weather is an opaque packed meteorological time series that the
// store never interprets.
type Configuration struct {
	ID        uuid.UUID
	Name      string
	SoilWater Document
	Drainage  Document
	Crop      Document
	Weather   []byte
	CreatedAt time.Time
}

// NewConfiguration is the input shape for creating a Configuration.
// Name is required; the store enforces its uniqueness.
type NewConfiguration struct {
	Name      string
	SoilWater Document
	Drainage  Document
	Crop      Document
	Weather   []byte
}

// Iteration records one simulation run against a Configuration.
// SequenceNumber starts at 1 and is unique per configuration, never
// globally. The delta documents describe the parameter subsets changed for
// this run relative to the parent configuration; nil means unchanged.
type Iteration struct {
	ID              uuid.UUID
	ConfigurationID uuid.UUID
	SequenceNumber  int
	SoilWaterDelta  Document
	DrainageDelta   Document
	CropDelta       Document
	WeatherDelta    []byte
	Result          []byte
	CreatedAt       time.Time
}

// RunInput carries the optional per-run payload for AddIteration. All fields
// are opaque to sequence assignment.
type RunInput struct {
	SoilWaterDelta Document
	DrainageDelta  Document
	CropDelta      Document
	WeatherDelta   []byte
	Result         []byte
}

// ConfigurationFilter narrows ListConfigurations. Zero values mean no
// restriction.
type ConfigurationFilter struct {
	NamePrefix string
	Limit      int
}
