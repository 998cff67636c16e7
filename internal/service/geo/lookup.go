// internal/service/geo/lookup.go

package geo

import (
	"math"

	"github.com/VictorHono/agrosense-ai-sub001/internal/domain/geo"
)

const earthRadiusKm = 6371.0

// regions is the region capital table. Order matters: ties in
// NearestRegion resolve to the earlier entry.
var regions = []geo.Region{
	{Key: "adamaoua", Name: "Adamaoua", Capital: "Ngaoundéré", Latitude: 7.3167, Longitude: 13.5833, Altitude: 1100},
	{Key: "centre", Name: "Centre", Capital: "Yaoundé", Latitude: 3.848, Longitude: 11.5021, Altitude: 726},
	{Key: "est", Name: "Est", Capital: "Bertoua", Latitude: 4.5772, Longitude: 13.6846, Altitude: 668},
	{Key: "extreme-nord", Name: "Extrême-Nord", Capital: "Maroua", Latitude: 10.5956, Longitude: 14.3247, Altitude: 384},
	{Key: "littoral", Name: "Littoral", Capital: "Douala", Latitude: 4.0511, Longitude: 9.7679, Altitude: 13},
	{Key: "nord", Name: "Nord", Capital: "Garoua", Latitude: 9.3017, Longitude: 13.3921, Altitude: 213},
	{Key: "nord-ouest", Name: "Nord-Ouest", Capital: "Bamenda", Latitude: 5.9631, Longitude: 10.1591, Altitude: 1258},
	{Key: "ouest", Name: "Ouest", Capital: "Bafoussam", Latitude: 5.4781, Longitude: 10.4176, Altitude: 1450},
	{Key: "sud", Name: "Sud", Capital: "Ebolowa", Latitude: 2.9, Longitude: 11.15, Altitude: 616},
	{Key: "sud-ouest", Name: "Sud-Ouest", Capital: "Buea", Latitude: 4.1527, Longitude: 9.241, Altitude: 870},
}

// Regions returns a copy of the region table
func Regions() []geo.Region {
	out := make([]geo.Region, len(regions))
	copy(out, regions)
	return out
}

// RegionByKey looks up a region table entry
func RegionByKey(key string) (geo.Region, bool) {
	for _, r := range regions {
		if r.Key == key {
			return r, true
		}
	}
	return geo.Region{}, false
}

// HaversineKm returns the great-circle distance between two points in kilometers
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	// Convert latitude and longitude from degrees to radians
	rlat1 := lat1 * math.Pi / 180.0
	rlat2 := lat2 * math.Pi / 180.0
	dLat := (lat2 - lat1) * math.Pi / 180.0
	dLon := (lon2 - lon1) * math.Pi / 180.0

	hSin := math.Sin(dLat / 2)
	hSin *= hSin

	vSin := math.Sin(dLon / 2)
	vSin *= vSin

	h := hSin + math.Cos(rlat1)*math.Cos(rlat2)*vSin

	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}

// NearestRegion returns the region whose capital is closest to the point
func NearestRegion(lat, lon float64) geo.RegionMatch {
	best := regions[0]
	bestDist := HaversineKm(lat, lon, best.Latitude, best.Longitude)

	for _, r := range regions[1:] {
		d := HaversineKm(lat, lon, r.Latitude, r.Longitude)
		// strict comparison keeps the first entry on ties
		if d < bestDist {
			best, bestDist = r, d
		}
	}

	return geo.RegionMatch{
		Region:      best.Key,
		RegionName:  best.Name,
		NearestCity: best.Capital,
		DistanceKm:  bestDist,
	}
}

type climateRule struct {
	match   func(lat, lon, alt float64) bool
	climate geo.Climate
}

// climateRules are evaluated top to bottom. Predicates overlap, so the
// order is part of the classification.
var climateRules = []climateRule{
	{
		match: func(lat, _, _ float64) bool { return lat > 10 },
		climate: geo.Climate{
			Zone: geo.ZoneSahelian,
			Name: "Sahelian",
			Characteristics: []string{
				"Single short rainy season (June to September)",
				"Annual rainfall 400-900 mm",
				"Long hot dry season, high evaporation",
				"Suited to sorghum, millet, cowpea and cotton",
			},
		},
	},
	{
		match: func(lat, _, _ float64) bool { return lat > 8 },
		climate: geo.Climate{
			Zone: geo.ZoneSudanoSahelian,
			Name: "Sudano-Sahelian",
			Characteristics: []string{
				"Single rainy season (May to October)",
				"Annual rainfall 900-1200 mm",
				"Marked dry season with harmattan winds",
				"Suited to maize, cotton, groundnut and yam",
			},
		},
	},
	{
		match: func(lat, _, alt float64) bool { return lat > 6 && alt > 800 },
		climate: geo.Climate{
			Zone: geo.ZoneAdamaouaPlateau,
			Name: "Adamaoua plateau",
			Characteristics: []string{
				"High plateau with mild temperatures",
				"Annual rainfall 1500 mm over 7 months",
				"Grasslands favourable to livestock",
				"Suited to maize, potato and market gardening",
			},
		},
	},
	{
		match: func(_, _, alt float64) bool { return alt > 1000 },
		climate: geo.Climate{
			Zone: geo.ZoneWesternHighlands,
			Name: "Western highlands",
			Characteristics: []string{
				"Cool altitude climate",
				"Annual rainfall 1500-2500 mm",
				"Volcanic, fertile soils",
				"Suited to arabica coffee, potato, beans and vegetables",
			},
		},
	},
	{
		match: func(lat, lon, _ float64) bool { return lon < 10 && lat < 5 },
		climate: geo.Climate{
			Zone: geo.ZoneEquatorialCoastal,
			Name: "Equatorial coastal",
			Characteristics: []string{
				"Very high humidity all year",
				"Annual rainfall 2500-4000 mm",
				"Warm temperatures with little variation",
				"Suited to banana, oil palm, rubber and cocoa",
			},
		},
	},
	{
		match: func(lat, _, _ float64) bool { return lat < 5 },
		climate: geo.Climate{
			Zone: geo.ZoneEquatorialForest,
			Name: "Equatorial forest",
			Characteristics: []string{
				"Two rainy seasons and two dry seasons",
				"Annual rainfall 1500-2000 mm",
				"High humidity, dense forest cover",
				"Suited to cocoa, cassava, plantain and robusta coffee",
			},
		},
	},
}

var defaultClimate = geo.Climate{
	Zone: geo.ZoneGuineaSavanna,
	Name: "Guinea savanna",
	Characteristics: []string{
		"Transition between forest and savanna",
		"Annual rainfall 1200-1500 mm",
		"One long rainy season",
		"Suited to maize, cassava, yam and groundnut",
	},
}

// ClassifyClimate returns the agro-climatic zone of a point. The first
// matching rule wins.
func ClassifyClimate(lat, lon, altitude float64) geo.Climate {
	for _, rule := range climateRules {
		if rule.match(lat, lon, altitude) {
			return cloneClimate(rule.climate)
		}
	}
	return cloneClimate(defaultClimate)
}

func cloneClimate(c geo.Climate) geo.Climate {
	c.Characteristics = append([]string(nil), c.Characteristics...)
	return c
}

// Describe derives the LocationInfo for a position
func Describe(p geo.Position) geo.LocationInfo {
	match := NearestRegion(p.Latitude, p.Longitude)
	climate := ClassifyClimate(p.Latitude, p.Longitude, p.AltitudeOrZero())

	return geo.LocationInfo{
		Region:                 match.Region,
		RegionName:             match.RegionName,
		NearestCity:            match.NearestCity,
		DistanceToCityKm:       match.DistanceKm,
		ClimateZone:            climate.Name,
		ClimateCharacteristics: climate.Characteristics,
		Altitude:               p.Altitude,
		Accuracy:               p.Accuracy,
		IsHighAccuracy:         p.Accuracy < geo.HighAccuracyThreshold,
	}
}
