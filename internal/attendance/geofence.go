package attendance

import "github.com/umahmood/haversine"

// Coord is a WGS84 position in decimal degrees.
type Coord struct {
	Latitude  float64 `json:"latitude" validate:"latitude"`
	Longitude float64 `json:"longitude" validate:"longitude"`
}

// Distance is the great-circle distance between a and b in meters.
func Distance(a, b Coord) float64 {
	_, km := haversine.Distance(
		haversine.Coord{Lat: a.Latitude, Lon: a.Longitude},
		haversine.Coord{Lat: b.Latitude, Lon: b.Longitude},
	)
	return km * 1000
}

// Within reports whether device is inside the circle of radiusMeters around
// center, along with the distance it measured. The boundary counts as inside.
func Within(device, center Coord, radiusMeters float64) (float64, bool) {
	d := Distance(device, center)
	return d, d <= radiusMeters
}
