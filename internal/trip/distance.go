package trip

import "math"

const earthRadiusKm = 6371.0

// HaversineKm returns the great-circle distance between two coordinates
// in kilometers.
func HaversineKm(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := toRad(lat2 - lat1)
	dLng := toRad(lng2 - lng1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*
			math.Sin(dLng/2)*math.Sin(dLng/2)
	return earthRadiusKm * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

func toRad(deg float64) float64 {
	return deg * math.Pi / 180
}

// TravelEstimate holds rough travel times between two points by mode.
type TravelEstimate struct {
	DistanceKm  float64 `json:"distanceKm"`
	WalkMinutes int     `json:"walkMinutes"`
	CarMinutes  int     `json:"carMinutes"`
}

// Walking and urban-driving speeds used for the estimate. Coarse on
// purpose; the assistant presents these as approximations.
const (
	walkKmh = 4.8
	carKmh  = 30.0
)

// EstimateTravel computes a rough travel-time estimate between two
// coordinates. Walking time is omitted (zero) beyond 10 km.
func EstimateTravel(fromLat, fromLng, toLat, toLng float64) TravelEstimate {
	km := HaversineKm(fromLat, fromLng, toLat, toLng)
	est := TravelEstimate{
		DistanceKm: math.Round(km*10) / 10,
		CarMinutes: int(math.Ceil(km / carKmh * 60)),
	}
	if km <= 10 {
		est.WalkMinutes = int(math.Ceil(km / walkKmh * 60))
	}
	return est
}
