// Package geocode resolves coordinates to city names through a
// Nominatim-compatible reverse-geocoding endpoint.
package geocode

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const defaultTimeout = 10 * time.Second

// Client calls a reverse-geocoding service over HTTP.
type Client struct {
	endpoint string
	http     *http.Client
}

// NewClient builds a geocoding client against the given base endpoint,
// e.g. "https://nominatim.openstreetmap.org".
func NewClient(endpoint string) *Client {
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		http: &http.Client{
			Timeout:   defaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// ReverseGeocode resolves lat/lng to a human-readable city name. Callers
// treat any error as "Unknown City"; resolution is best-effort.
func (c *Client) ReverseGeocode(ctx context.Context, lat, lng float64) (string, error) {
	q := url.Values{}
	q.Set("format", "jsonv2")
	q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(lng, 'f', -1, 64))
	q.Set("zoom", "10")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/reverse?"+q.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("build geocode request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "beacon/1.0")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("geocode request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("geocode request: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read geocode response: %w", err)
	}
	if !gjson.ValidBytes(body) {
		return "", fmt.Errorf("geocode response is not valid JSON")
	}

	city := cityFromResponse(body)
	if city == "" {
		return "", fmt.Errorf("no city in geocode response")
	}
	return city, nil
}

// cityFromResponse walks the address fields from most to least specific.
func cityFromResponse(body []byte) string {
	for _, key := range []string{
		"address.city",
		"address.town",
		"address.village",
		"address.municipality",
		"address.county",
		"address.state",
	} {
		if v := gjson.GetBytes(body, key); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	// Fall back to the first segment of the display name.
	if v := gjson.GetBytes(body, "display_name"); v.Exists() {
		if name, _, ok := strings.Cut(v.String(), ","); ok {
			return strings.TrimSpace(name)
		}
		return strings.TrimSpace(v.String())
	}
	return ""
}
