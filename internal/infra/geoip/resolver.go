// Package geoip maps client addresses to ISO country codes. The country feeds
// the i18n middleware's fallback when a request carries no usable
// Accept-Language.
package geoip

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/oschwald/geoip2-golang"
)

// DefaultCacheSize bounds the number of remembered lookups.
const DefaultCacheSize = 4096

// ErrUnavailable is returned when the resolver has no database.
var ErrUnavailable = errors.New("geoip resolver unavailable")

// CountryResolver resolves ISO country codes from IP addresses.
type CountryResolver interface {
	CountryCode(ip string) (string, error)
}

type lookupFunc func(ip net.IP) (string, error)

// Resolver answers country lookups from a MaxMind GeoIP2/GeoLite2 database.
// Private, loopback and link-local addresses resolve to "" without touching
// the database. Answers, including "unknown", are cached.
type Resolver struct {
	reader *geoip2.Reader
	lookup lookupFunc

	mu    sync.Mutex
	cache map[string]string
	limit int
}

// NewResolver opens the database at path. An empty path disables geoip and
// returns a nil resolver with no error.
func NewResolver(path string) (CountryResolver, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("geoip: open database: %w", err)
	}
	r := newResolver(func(ip net.IP) (string, error) {
		record, err := reader.Country(ip)
		if err != nil {
			return "", err
		}
		if record == nil {
			return "", nil
		}
		return record.Country.IsoCode, nil
	}, DefaultCacheSize)
	r.reader = reader
	return r, nil
}

func newResolver(lookup lookupFunc, limit int) *Resolver {
	if limit <= 0 {
		limit = DefaultCacheSize
	}
	return &Resolver{lookup: lookup, cache: make(map[string]string), limit: limit}
}

// CountryCode returns the upper-case ISO code for ip, which may carry a port.
// An address the database does not know yields "" and no error.
func (r *Resolver) CountryCode(ip string) (string, error) {
	if r == nil || r.lookup == nil {
		return "", ErrUnavailable
	}
	parsed := parseIP(ip)
	if parsed == nil {
		return "", fmt.Errorf("geoip: invalid ip %q", ip)
	}
	if !routable(parsed) {
		return "", nil
	}
	key := parsed.String()

	r.mu.Lock()
	code, ok := r.cache[key]
	r.mu.Unlock()
	if ok {
		return code, nil
	}

	code, err := r.lookup(parsed)
	if err != nil {
		return "", fmt.Errorf("geoip: lookup country: %w", err)
	}
	code = strings.ToUpper(strings.TrimSpace(code))

	r.mu.Lock()
	if len(r.cache) >= r.limit {
		// Reset when full.
		clear(r.cache)
	}
	r.cache[key] = code
	r.mu.Unlock()
	return code, nil
}

// Close releases the database.
func (r *Resolver) Close() error {
	if r == nil || r.reader == nil {
		return nil
	}
	return r.reader.Close()
}

func parseIP(raw string) net.IP {
	raw = strings.TrimSpace(raw)
	if host, _, err := net.SplitHostPort(raw); err == nil {
		raw = host
	}
	return net.ParseIP(strings.Trim(raw, "[]"))
}

func routable(ip net.IP) bool {
	return !(ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified())
}
