package enrich

import (
	"context"
	"math"

	"github.com/twpayne/go-geom"

	"github.com/harvest-med/lead-pipeline/internal/model"
)

const earthRadiusMiles = 3959.0

// Birmingham is the service origin (lon, lat).
var Birmingham = point(-86.8025, 33.5207)

// zip3Centroids approximates a location from the first three zip digits
// when a lead has not been geocoded.
var zip3Centroids = map[string]*geom.Point{
	"350": point(-86.80, 33.52),
	"351": point(-86.80, 33.52),
	"352": point(-86.90, 33.45),
	"353": point(-86.80, 33.52),
	"354": point(-87.55, 33.20),
	"355": point(-87.55, 33.20),
	"356": point(-86.05, 33.45),
	"357": point(-87.68, 34.73),
	"358": point(-86.59, 34.73),
	"359": point(-86.59, 34.73),
	"360": point(-86.30, 32.38),
	"361": point(-86.30, 32.38),
	"362": point(-87.88, 31.55),
	"363": point(-85.39, 31.22),
	"364": point(-85.39, 31.22),
	"365": point(-88.05, 30.69),
	"366": point(-88.05, 30.69),
	"367": point(-85.99, 33.99),
	"368": point(-87.07, 31.05),
	"369": point(-87.57, 32.10),
}

type zone struct {
	maxMiles float64
	name     string
}

var serviceZones = []zone{
	{30, "Zone 1 - Metro"},
	{60, "Zone 2 - Regional"},
	{100, "Zone 3 - Extended"},
	{150, "Zone 4 - Statewide"},
}

// OutOfAreaZone is the zone beyond the last service ring.
const OutOfAreaZone = "Zone 5 - Out of Area"

func point(lon, lat float64) *geom.Point {
	return geom.NewPointFlat(geom.XY, []float64{lon, lat})
}

// HaversineMiles is the great-circle distance between two lon/lat points.
func HaversineMiles(a, b *geom.Point) float64 {
	lat1, lat2 := a.Y()*math.Pi/180, b.Y()*math.Pi/180
	dLat := lat2 - lat1
	dLon := (b.X() - a.X()) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMiles * math.Asin(math.Min(1, math.Sqrt(h)))
}

// ServiceZone names the service ring a distance falls in.
func ServiceZone(miles float64) string {
	for _, z := range serviceZones {
		if miles <= z.maxMiles {
			return z.name
		}
	}
	return OutOfAreaZone
}

// Location returns the lead's geocoded point, else its zip3 centroid, else nil.
func Location(lead *model.CanonicalLead) *geom.Point {
	if lead.Latitude != nil && lead.Longitude != nil {
		return point(*lead.Longitude, *lead.Latitude)
	}
	if len(lead.Zip5) >= 3 {
		return zip3Centroids[lead.Zip5[:3]]
	}
	return nil
}

// GeoAdapter computes distance from Birmingham and the service zone.
// Leads with no usable location keep unknown distance.
type GeoAdapter struct{}

// Name implements Adapter.
func (GeoAdapter) Name() string { return "geo_distance" }

// Enrich implements Adapter.
func (GeoAdapter) Enrich(_ context.Context, lead *model.CanonicalLead) error {
	p := Location(lead)
	if p == nil {
		lead.DistanceFromBirmingham = nil
		lead.ServiceZone = ""
		return nil
	}
	miles := math.Round(HaversineMiles(Birmingham, p)*10) / 10
	lead.DistanceFromBirmingham = model.Float(miles)
	lead.ServiceZone = ServiceZone(miles)
	return nil
}
