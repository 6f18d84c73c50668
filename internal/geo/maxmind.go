package geo

import (
	"context"
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"
)

// MaxMindProvider answers lookups from a local GeoLite2/GeoIP2 City database.
// No network calls involved, but the Provider contract (context, error) stays
// the same so the worker doesn't care which implementation it got.
type MaxMindProvider struct {
	reader *geoip2.Reader
}

// NewMaxMindProvider opens the .mmdb file at path.
func NewMaxMindProvider(path string) (*MaxMindProvider, error) {
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open maxmind database %s: %w", path, err)
	}
	return &MaxMindProvider{reader: reader}, nil
}

// Lookup resolves ip against the local database. The City product carries no
// ISP information, so ISP stays empty.
func (p *MaxMindProvider) Lookup(ctx context.Context, ip string) (*Location, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	parsed := net.ParseIP(ip)
	if parsed == nil {
		return nil, fmt.Errorf("unparseable IP address %q", ip)
	}

	record, err := p.reader.City(parsed)
	if err != nil {
		return nil, fmt.Errorf("maxmind lookup failed for %s: %w", ip, err)
	}

	loc := &Location{
		City:       record.City.Names["en"],
		Country:    record.Country.Names["en"],
		PostalCode: record.Postal.Code,
	}
	if len(record.Subdivisions) > 0 {
		loc.Region = record.Subdivisions[0].Names["en"]
	}
	return loc, nil
}

// Close releases the underlying database file.
func (p *MaxMindProvider) Close() error {
	return p.reader.Close()
}
