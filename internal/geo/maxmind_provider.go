// streamystats - media analytics ingestion and orchestration core
// SPDX-License-Identifier: AGPL-3.0-or-later

package geo

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/goccy/go-json"
)

// MaxMindProvider resolves IPs via MaxMind's GeoLite2 web service. The
// configuration surface carries a single license token (no separate
// account id), so it is sent as the Basic Auth password with an empty
// username — GeoLite2's web service accepts that form for
// license-key-only accounts.
type MaxMindProvider struct {
	client     *http.Client
	licenseKey string
	baseURL    string
}

// NewMaxMindProvider creates a provider authenticated with licenseKey.
func NewMaxMindProvider(licenseKey string) *MaxMindProvider {
	return &MaxMindProvider{
		client:     &http.Client{Timeout: 10 * time.Second},
		licenseKey: licenseKey,
		baseURL:    "https://geolite.info/geoip/v2.1/city",
	}
}

var _ Provider = (*MaxMindProvider)(nil)

func (p *MaxMindProvider) Name() string { return "maxmind-geolite2" }

type maxMindResponse struct {
	City struct {
		Names map[string]string `json:"names"`
	} `json:"city"`
	Country struct {
		ISOCode string            `json:"iso_code"`
		Names   map[string]string `json:"names"`
	} `json:"country"`
	Location struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
		TimeZone  string  `json:"time_zone"`
	} `json:"location"`
	Subdivisions []struct {
		Names map[string]string `json:"names"`
	} `json:"subdivisions"`
}

type maxMindErrorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

// Lookup queries MaxMind's GeoLite2 city web service for ip.
func (p *MaxMindProvider) Lookup(ctx context.Context, ip string) (Location, error) {
	if p.licenseKey == "" {
		return Location{}, fmt.Errorf("maxmind provider: no license key configured")
	}
	if net.ParseIP(ip) == nil {
		return Location{}, fmt.Errorf("invalid IP address: %s", ip)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/%s", p.baseURL, ip), nil)
	if err != nil {
		return Location{}, fmt.Errorf("build request: %w", err)
	}
	req.SetBasicAuth("", p.licenseKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return Location{}, fmt.Errorf("query maxmind: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp maxMindErrorResponse
		if json.NewDecoder(resp.Body).Decode(&errResp) == nil && errResp.Error != "" {
			return Location{}, fmt.Errorf("maxmind error (%s): %s", errResp.Code, errResp.Error)
		}
		return Location{}, fmt.Errorf("maxmind returned status %d", resp.StatusCode)
	}

	var result maxMindResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return Location{}, fmt.Errorf("decode maxmind response: %w", err)
	}

	loc := Location{
		CountryCode: result.Country.ISOCode,
		Country:     result.Country.Names["en"],
		City:        result.City.Names["en"],
		Latitude:    result.Location.Latitude,
		Longitude:   result.Location.Longitude,
		Timezone:    result.Location.TimeZone,
	}
	if len(result.Subdivisions) > 0 {
		loc.Region = result.Subdivisions[0].Names["en"]
	}
	return loc, nil
}
