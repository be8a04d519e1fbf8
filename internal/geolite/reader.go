package geolite

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"

	"github.com/oschwald/geoip2-golang"
)

// ErrNoDatabase is returned by Open when no database path is configured.
var ErrNoDatabase = errors.New("geolite: no country database configured")

const unknownCountry = "N/A"

// Reader resolves IP addresses to ISO country codes from a GeoLite2 Country database.
type Reader struct {
	mu   sync.RWMutex
	db   *geoip2.Reader
	path string
}

func Open(path string) (*Reader, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrNoDatabase
	}
	db, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("geolite: open %s: %w", path, err)
	}
	return &Reader{db: db, path: path}, nil
}

// FromBytes opens an in-memory database.
func FromBytes(data []byte) (*Reader, error) {
	db, err := geoip2.FromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("geolite: load database: %w", err)
	}
	return &Reader{db: db}, nil
}

// CountryCode returns the ISO code for ipAddress, or "N/A" when unknown.
func (r *Reader) CountryCode(ipAddress string) string {
	if r == nil {
		return unknownCountry
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.db == nil {
		return unknownCountry
	}

	ip := net.ParseIP(strings.TrimSpace(ipAddress))
	if ip == nil {
		return unknownCountry
	}

	record, err := r.db.Country(ip)
	if err != nil || record.Country.IsoCode == "" {
		return unknownCountry
	}

	return record.Country.IsoCode
}

// Reload reopens the database file the reader was opened from and swaps it in.
// Lookups keep using the previous database if the new file cannot be opened.
func (r *Reader) Reload() error {
	if r == nil || r.path == "" {
		return ErrNoDatabase
	}
	db, err := geoip2.Open(r.path)
	if err != nil {
		return fmt.Errorf("geolite: reopen %s: %w", r.path, err)
	}

	r.mu.Lock()
	old := r.db
	r.db = db
	r.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	return nil
}

func (r *Reader) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.db == nil {
		return nil
	}
	err := r.db.Close()
	r.db = nil
	return err
}
