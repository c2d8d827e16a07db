package geo

import (
	"net"

	"github.com/oschwald/maxminddb-golang"
)

// Location is what the decision layer needs from GeoIP. The zero value
// (all empty) is the documented answer whenever lookup cannot happen.
type Location struct {
	CountryISO2   string
	CountryName   string
	ContinentName string
}

// Provider resolves a client IP to a Location. Implementations must not
// fail the request path; unknown IPs yield the zero Location.
type Provider interface {
	Lookup(ip string) Location
}

type mmdbRecord struct {
	Country struct {
		ISOCode string            `maxminddb:"iso_code"`
		Names   map[string]string `maxminddb:"names"`
	} `maxminddb:"country"`
	Continent struct {
		Names map[string]string `maxminddb:"names"`
	} `maxminddb:"continent"`
}

// MaxMindProvider reads a local GeoLite2/GeoIP2 country database.
type MaxMindProvider struct {
	reader *maxminddb.Reader
}

// Open loads the database at path. Callers deploy without GeoIP by not
// constructing a provider at all (a nil *MaxMindProvider still answers).
func Open(path string) (*MaxMindProvider, error) {
	reader, err := maxminddb.Open(path)
	if err != nil {
		return nil, err
	}
	return &MaxMindProvider{reader: reader}, nil
}

func (p *MaxMindProvider) Lookup(ip string) Location {
	if p == nil || p.reader == nil {
		return Location{}
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return Location{}
	}
	var record mmdbRecord
	if err := p.reader.Lookup(parsed, &record); err != nil {
		return Location{}
	}
	return Location{
		CountryISO2:   record.Country.ISOCode,
		CountryName:   record.Country.Names["en"],
		ContinentName: record.Continent.Names["en"],
	}
}

func (p *MaxMindProvider) Close() error {
	if p == nil || p.reader == nil {
		return nil
	}
	return p.reader.Close()
}
