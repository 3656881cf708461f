// Package geo derives the order→receiver distance feature from region
// centroids.
package geo

import "math"

// point is a region centroid in degrees.
type point struct {
	lat, lon float64
}

// regionCentroids covers the Bengaluru localities the service operates in.
var regionCentroids = map[string]point{
	"Koramangala":       {12.9288, 77.6228},
	"Jayanagar":         {12.9333, 77.5833},
	"Whitefield":        {12.9764, 77.7513},
	"Indiranagar":       {12.9701, 77.6402},
	"Malleshwaram":      {13.0034, 77.5723},
	"Hebbal":            {13.0312, 77.5924},
	"Hennur":            {13.0245, 77.6247},
	"Sarjapur Road":     {12.9121, 77.6774},
	"Bannerghatta Road": {12.8786, 77.5900},
	"Electronic City":   {12.8543, 77.6780},
	"Kalyan Nagar":      {13.0272, 77.6463},
	"BTM Layout":        {12.9341, 77.5910},
	"Vijayanagar":       {12.9557, 77.5500},
	"Bellandur":         {12.9336, 77.6543},
	"Kengeri":           {12.9202, 77.4856},
	"Yelahanka":         {13.1008, 77.5963},
	"Rajajinagar":       {12.9917, 77.5568},
	"Marathahalli":      {12.9561, 77.7017},
	"HSR Layout":        {12.9121, 77.6446},
	"Nagawara":          {13.0452, 77.6226},
	"Devanahalli":       {13.2485, 77.7132},
	"Attibele":          {12.7762, 77.7672},
	"Nelamangala":       {13.0982, 77.3935},
	"Hoskote":           {13.0707, 77.7850},
	"Anekal":            {12.7110, 77.6956},
}

// KnownRegion reports whether a region has a centroid.
func KnownRegion(name string) bool {
	_, ok := regionCentroids[name]
	return ok
}

// Distance returns the km distance between the order and receiver regions,
// rounded to 2 decimal places. Same-region pairs get a small intra-region
// distance in [0.1, 2), derived deterministically from the transaction id so
// a transaction always reports the same distance. Unknown regions yield 0
// (the neutral default for undefined numeric features).
func Distance(orderRegion, receiverRegion string, txnID int64) float64 {
	if orderRegion == receiverRegion {
		if !KnownRegion(orderRegion) {
			return 0
		}
		return round2(0.1 + 1.9*jitter(txnID))
	}

	from, ok := regionCentroids[orderRegion]
	if !ok {
		return 0
	}
	to, ok := regionCentroids[receiverRegion]
	if !ok {
		return 0
	}
	return round2(haversineKm(from, to))
}

// jitter maps a transaction id to a stable value in [0, 1).
func jitter(id int64) float64 {
	// splitmix64 finalizer
	x := uint64(id) + 0x9e3779b97f4a7c15
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31
	return float64(x>>11) / float64(1<<53)
}

const earthRadiusKm = 6371.0

// haversineKm is the great-circle distance between two centroids.
func haversineKm(a, b point) float64 {
	lat1 := a.lat * math.Pi / 180
	lat2 := b.lat * math.Pi / 180
	dLat := (b.lat - a.lat) * math.Pi / 180
	dLon := (b.lon - a.lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
