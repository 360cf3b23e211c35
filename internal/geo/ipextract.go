// streamystats - media analytics ingestion and orchestration core
// SPDX-License-Identifier: AGPL-3.0-or-later

package geo

import "regexp"

// ipPattern matches the first IPv4 dotted-quad substring in a free-text
// string, which is how a UMS activity's ShortOverview carries the
// client's address (e.g. "Authentication succeeded from 203.0.113.4").
var ipPattern = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)

// extractIP pulls the first IP substring out of shortOverview, if any.
func extractIP(shortOverview string) (string, bool) {
	m := ipPattern.FindString(shortOverview)
	if m == "" {
		return "", false
	}
	return m, true
}
