// Package geo resolves geolocation and ISP data for visitor IP addresses.
// The lookup runs off the request path with a hard deadline; a failed or slow
// lookup only means the visit stays unenriched.
package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Location is the enrichment attached to a visit once a lookup succeeds.
type Location struct {
	City       string
	Region     string
	Country    string
	PostalCode string
	ISP        string
}

// Provider resolves the location of a single IP address. Implementations must
// honor ctx cancellation; the caller bounds every lookup with a deadline.
type Provider interface {
	Lookup(ctx context.Context, ip string) (*Location, error)
}

// HTTPProvider queries an external ip-api style endpoint
// (GET {baseURL}/{ip} returning JSON with city/regionName/country/zip/isp).
type HTTPProvider struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPProvider creates a provider for the given endpoint. The client
// timeout is a backstop; the per-lookup context is the primary bound.
func NewHTTPProvider(baseURL string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// lookupResponse mirrors the provider's JSON payload. Fields we don't use are
// simply not decoded.
type lookupResponse struct {
	Status     string `json:"status"`
	Message    string `json:"message"`
	City       string `json:"city"`
	RegionName string `json:"regionName"`
	Country    string `json:"country"`
	Zip        string `json:"zip"`
	ISP        string `json:"isp"`
}

// Lookup performs one HTTP lookup for the given IP.
func (p *HTTPProvider) Lookup(ctx context.Context, ip string) (*Location, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/"+ip, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build geo lookup request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("geo lookup request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("geo provider returned status %d", resp.StatusCode)
	}

	var body lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode geo response: %w", err)
	}
	if body.Status != "" && body.Status != "success" {
		return nil, fmt.Errorf("geo provider rejected lookup: %s", body.Message)
	}

	return &Location{
		City:       body.City,
		Region:     body.RegionName,
		Country:    body.Country,
		PostalCode: body.Zip,
		ISP:        body.ISP,
	}, nil
}
