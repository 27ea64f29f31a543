// Package geo maps source IPs to coarse locations. The capture listeners
// depend on the Locator interface only, so deployments without a MaxMind
// database (and tests) run with the no-op implementation.
package geo

import (
	"net"
	"strings"

	"github.com/oschwald/geoip2-golang"

	"github.com/oobits/snare/internal/models"
)

// Locator resolves an IP address to a location. Implementations must be
// safe for concurrent use and must never fail the caller: unknown input
// yields a zero or sentinel Location.
type Locator interface {
	Lookup(ip string) models.Location
}

// Noop is a Locator that returns empty locations.
type Noop struct{}

func (Noop) Lookup(string) models.Location { return models.Location{} }

// MaxMind is a Locator backed by a GeoIP2/GeoLite2 city database.
type MaxMind struct {
	reader *geoip2.Reader
}

// Open loads the mmdb file at path.
func Open(path string) (*MaxMind, error) {
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, err
	}
	return &MaxMind{reader: reader}, nil
}

// Close releases the underlying database.
func (m *MaxMind) Close() error {
	return m.reader.Close()
}

// Lookup resolves ip to a location. Loopback and private addresses are
// reported as local without consulting the database; addresses the
// database does not know yield Country "Unknown".
func (m *MaxMind) Lookup(ip string) models.Location {
	parsed := parseIP(ip)
	if parsed == nil {
		return models.Location{}
	}
	if parsed.IsLoopback() || parsed.IsPrivate() {
		return models.Location{Country: "Local", Region: "Local", City: "Localhost"}
	}

	record, err := m.reader.City(parsed)
	if err != nil || record == nil || record.Country.IsoCode == "" {
		return models.Location{Country: "Unknown"}
	}

	loc := models.Location{
		Country: record.Country.IsoCode,
		City:    record.City.Names["en"],
	}
	if len(record.Subdivisions) > 0 {
		loc.Region = record.Subdivisions[0].IsoCode
	}
	return loc
}

func parseIP(ip string) net.IP {
	// IPv4-mapped IPv6 form used by some listeners.
	ip = strings.TrimPrefix(ip, "::ffff:")
	return net.ParseIP(ip)
}
