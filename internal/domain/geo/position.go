// internal/domain/geo/position.go

package geo

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ManualAccuracy is the accuracy in meters recorded for manually picked
// locations. It flags the position as low confidence.
const ManualAccuracy = 5000.0

// HighAccuracyThreshold is the accuracy, in meters, below which a fix is
// considered high accuracy.
const HighAccuracyThreshold = 100.0

// Position is a single coordinate fix
type Position struct {
	Latitude         float64  `json:"latitude"`
	Longitude        float64  `json:"longitude"`
	Altitude         *float64 `json:"altitude"`
	Accuracy         float64  `json:"accuracy"`
	AltitudeAccuracy *float64 `json:"altitudeAccuracy"`
	Heading          *float64 `json:"heading"`
	Speed            *float64 `json:"speed"`
	Timestamp        int64    `json:"timestamp"` // epoch milliseconds
}

// ErrInvalidPosition is returned when coordinates are out of range
var ErrInvalidPosition = errors.New("invalid position")

// Validate checks the coordinate and accuracy invariants. NaN and infinite
// values are rejected in every field, optional ones included.
func (p Position) Validate() error {
	if !finite(p.Latitude) || p.Latitude < -90 || p.Latitude > 90 {
		return fmt.Errorf("%w: latitude %f out of range", ErrInvalidPosition, p.Latitude)
	}
	if !finite(p.Longitude) || p.Longitude < -180 || p.Longitude > 180 {
		return fmt.Errorf("%w: longitude %f out of range", ErrInvalidPosition, p.Longitude)
	}
	if !finite(p.Accuracy) || p.Accuracy < 0 {
		return fmt.Errorf("%w: accuracy %f", ErrInvalidPosition, p.Accuracy)
	}
	for name, v := range map[string]*float64{
		"altitude":         p.Altitude,
		"altitudeAccuracy": p.AltitudeAccuracy,
		"heading":          p.Heading,
		"speed":            p.Speed,
	} {
		if v != nil && !finite(*v) {
			return fmt.Errorf("%w: %s %f", ErrInvalidPosition, name, *v)
		}
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// AltitudeOrZero returns the altitude, treating an unknown altitude as sea level
func (p Position) AltitudeOrZero() float64 {
	if p.Altitude == nil {
		return 0
	}
	return *p.Altitude
}

// Time returns the fix timestamp as a time.Time
func (p Position) Time() time.Time {
	return time.UnixMilli(p.Timestamp)
}

// NewManualPosition builds the synthesized position for a manual city pick
func NewManualPosition(lat, lon float64, altitude *float64, now time.Time) Position {
	return Position{
		Latitude:  lat,
		Longitude: lon,
		Altitude:  altitude,
		Accuracy:  ManualAccuracy,
		Timestamp: now.UnixMilli(),
	}
}

// Float is a helper for optional float fields
func Float(v float64) *float64 {
	return &v
}

// Source identifies the mechanism that produced the current position
type Source string

const (
	SourceGPS    Source = "gps"
	SourceCache  Source = "cache"
	SourceManual Source = "manual"
	SourceNone   Source = "none"
)

// LocationInfo is derived from a Position; it is never persisted
type LocationInfo struct {
	Region                 string   `json:"region"`
	RegionName             string   `json:"regionName"`
	NearestCity            string   `json:"nearestCity"`
	DistanceToCityKm       float64  `json:"distanceToCityKm"`
	ClimateZone            string   `json:"climateZone"`
	ClimateCharacteristics []string `json:"climateCharacteristics"`
	Altitude               *float64 `json:"altitude"`
	Accuracy               float64  `json:"accuracy"`
	IsHighAccuracy         bool     `json:"isHighAccuracy"`
}

// Region is an entry of the fixed region table
type Region struct {
	Key       string  `json:"key"`
	Name      string  `json:"name"`
	Capital   string  `json:"capital"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Altitude  float64 `json:"altitude"`
}

// RegionMatch is the result of a nearest region lookup
type RegionMatch struct {
	Region      string  `json:"region"`
	RegionName  string  `json:"regionName"`
	NearestCity string  `json:"nearestCity"`
	DistanceKm  float64 `json:"distanceKm"`
}

// ClimateZone identifies an agro-climatic zone
type ClimateZone string

const (
	ZoneSahelian          ClimateZone = "sahelian"
	ZoneSudanoSahelian    ClimateZone = "sudano-sahelian"
	ZoneAdamaouaPlateau   ClimateZone = "adamaoua-plateau"
	ZoneWesternHighlands  ClimateZone = "western-highlands"
	ZoneEquatorialCoastal ClimateZone = "equatorial-coastal"
	ZoneEquatorialForest  ClimateZone = "equatorial-forest"
	ZoneGuineaSavanna     ClimateZone = "guinea-savanna"
)

// Climate is the classification of a coordinate
type Climate struct {
	Zone            ClimateZone `json:"zone"`
	Name            string      `json:"name"`
	Characteristics []string    `json:"characteristics"`
}
