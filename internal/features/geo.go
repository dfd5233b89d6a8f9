package features

import (
	"fmt"
	"math"
	"net"

	"github.com/oschwald/geoip2-golang"

	"github.com/opensource-finance/merlin/internal/domain"
)

// earthRadiusKm is the Earth radius used for great-circle distance.
const earthRadiusKm = 6371.0

// Haversine returns the great-circle distance in kilometers between two
// coordinate pairs.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := radians(lat2 - lat1)
	dLon := radians(lon2 - lon1)

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(radians(lat1))*math.Cos(radians(lat2))*
			math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return earthRadiusKm * c
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}

// GeoResolver maps IP addresses to coordinates using a MaxMind GeoLite2
// City database. Used as a fallback when transactions arrive without
// explicit coordinates.
type GeoResolver struct {
	reader *geoip2.Reader
}

// NewGeoResolver opens the GeoIP database at the given path.
func NewGeoResolver(path string) (*GeoResolver, error) {
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open geoip database: %w", err)
	}
	return &GeoResolver{reader: reader}, nil
}

// Resolve looks up the location for an IP address.
func (r *GeoResolver) Resolve(ipAddress string) (*domain.Location, error) {
	ip := net.ParseIP(ipAddress)
	if ip == nil {
		return nil, fmt.Errorf("invalid IP address: %s", ipAddress)
	}

	record, err := r.reader.City(ip)
	if err != nil {
		return nil, fmt.Errorf("geoip lookup failed: %w", err)
	}
	if record.Location.Latitude == 0 && record.Location.Longitude == 0 && record.Country.IsoCode == "" {
		return nil, fmt.Errorf("no location for IP: %s", ipAddress)
	}

	return &domain.Location{
		Latitude:  record.Location.Latitude,
		Longitude: record.Location.Longitude,
		Country:   record.Country.IsoCode,
	}, nil
}

// Close releases the underlying database reader.
func (r *GeoResolver) Close() error {
	return r.reader.Close()
}
