// Package geocode resolves facility street addresses to coordinates using
// the Census Bureau one-line geocoder.
package geocode

import (
	"context"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// DefaultBaseURL is the Census one-line address endpoint.
const DefaultBaseURL = "https://geocoding.geo.census.gov/geocoder/locations/onelineaddress"

const censusBenchmark = "Public_AR_Current"

// Client geocodes single addresses.
type Client interface {
	Geocode(ctx context.Context, addr AddressInput) (*Result, error)
}

// AddressInput is an address to geocode.
type AddressInput struct {
	Street  string
	City    string
	State   string
	ZipCode string
}

// OneLine formats the address the way the Census API expects.
func (a AddressInput) OneLine() string {
	parts := make([]string, 0, 4)
	for _, p := range []string{a.Street, a.City, a.State, a.ZipCode} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// Result is a geocoding outcome. Matched is false when the service found
// no candidate; that is not an error.
type Result struct {
	Latitude       float64
	Longitude      float64
	MatchedAddress string
	Matched        bool
}

// Option configures the client.
type Option func(*censusClient)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *censusClient) { c.httpClient = hc }
}

// WithBaseURL points the client at a different endpoint.
func WithBaseURL(u string) Option {
	return func(c *censusClient) { c.baseURL = u }
}

// WithRateLimit caps requests per second.
func WithRateLimit(rps float64) Option {
	return func(c *censusClient) {
		burst := int(rps)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

type censusClient struct {
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
}

// NewClient creates a Census geocoding client.
func NewClient(opts ...Option) Client {
	c := &censusClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    DefaultBaseURL,
		limiter:    rate.NewLimiter(10, 10),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}
