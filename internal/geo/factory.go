// streamystats - media analytics ingestion and orchestration core
// SPDX-License-Identifier: AGPL-3.0-or-later

package geo

import "github.com/sjorge/streamystats/internal/config"

// NewProvider builds the configured geolocation provider. Unknown or
// empty cfg.Provider values fall back to the key-free ip-api.com
// provider so the pipeline always has something usable out of the box.
func NewProvider(cfg config.GeoIPConfig) Provider {
	if cfg.Provider == "maxmind" && cfg.MaxMindLicense != "" {
		return NewMaxMindProvider(cfg.MaxMindLicense)
	}
	return NewIPAPIProvider()
}
