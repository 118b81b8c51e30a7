// Package geo holds the proximity math shared by both processes: great-circle
// distance and the radius queries built on it. Everything here is pure.
package geo

import (
	"math"
	"sort"
)

// Coord is a WGS84 position in decimal degrees.
type Coord struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Valid reports whether c is inside the latitude/longitude ranges.
func (c Coord) Valid() bool {
	return c.Latitude >= -90 && c.Latitude <= 90 &&
		c.Longitude >= -180 && c.Longitude <= 180 &&
		!math.IsNaN(c.Latitude) && !math.IsNaN(c.Longitude)
}

const (
	nauticalMilesPerDegree = 60 * 1.1515
	kmPerMile              = 1.609344
)

// Distance returns the great-circle distance in meters using the spherical
// law of cosines. Identical coordinates are exactly 0.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	if lat1 == lat2 && lon1 == lon2 {
		return 0
	}
	radLat1 := math.Pi * lat1 / 180
	radLat2 := math.Pi * lat2 / 180
	radTheta := math.Pi * (lon1 - lon2) / 180

	cos := math.Sin(radLat1)*math.Sin(radLat2) +
		math.Cos(radLat1)*math.Cos(radLat2)*math.Cos(radTheta)
	// rounding can push |cos| past 1, where acos is NaN
	cos = math.Max(-1, math.Min(1, cos))

	deg := math.Acos(cos) * 180 / math.Pi
	return deg * nauticalMilesPerDegree * kmPerMile * 1000
}

// Between is Distance for two Coords.
func Between(a, b Coord) float64 {
	return Distance(a.Latitude, a.Longitude, b.Latitude, b.Longitude)
}

// Match is one result of Nearby: the index into the input and its distance.
type Match struct {
	Index    int
	Distance float64
}

// Nearby returns the coords within radius meters of origin (inclusive),
// closest first. Equal distances keep input order.
func Nearby(origin Coord, coords []Coord, radius float64) []Match {
	out := make([]Match, 0)
	for i, c := range coords {
		d := Between(origin, c)
		if d > radius {
			continue
		}
		out = append(out, Match{Index: i, Distance: d})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	return out
}

// Target is a subscriber with its own notification radius.
type Target struct {
	ID     string
	Coord  Coord
	Radius float64
}

// TargetMatch is a target in range of a point.
type TargetMatch struct {
	ID       string
	Distance float64
}

// NearbyTargets is the inverse of Nearby: given one point, which targets have
// it inside their radius. Result order follows the input.
func NearbyTargets(point Coord, targets []Target) []TargetMatch {
	out := make([]TargetMatch, 0)
	for _, t := range targets {
		d := Between(point, t.Coord)
		if d <= t.Radius {
			out = append(out, TargetMatch{ID: t.ID, Distance: d})
		}
	}
	return out
}
