// streamystats - media analytics ingestion and orchestration core
// SPDX-License-Identifier: AGPL-3.0-or-later

package geo

import "testing"

func TestExtractIPFindsDottedQuad(t *testing.T) {
	ip, ok := extractIP("Authentication succeeded for user from 203.0.113.42")
	if !ok || ip != "203.0.113.42" {
		t.Fatalf("expected to extract 203.0.113.42, got %q ok=%v", ip, ok)
	}
}

func TestExtractIPReturnsFalseWithoutAnAddress(t *testing.T) {
	_, ok := extractIP("User logged in successfully")
	if ok {
		t.Fatal("expected no IP to be found")
	}
}

func TestIsPrivateIPDetectsRFC1918(t *testing.T) {
	for _, ip := range []string{"10.0.0.5", "192.168.1.1", "172.16.0.1", "127.0.0.1"} {
		if !IsPrivateIP(ip) {
			t.Errorf("expected %s to be classified private", ip)
		}
	}
}

func TestIsPrivateIPAllowsPublicAddresses(t *testing.T) {
	if IsPrivateIP("8.8.8.8") {
		t.Fatal("did not expect 8.8.8.8 to be classified private")
	}
}

func TestDeviceLabelCombinesNameAndType(t *testing.T) {
	normalized, original := deviceLabel("Living Room Roku", "Session", "")
	if normalized != "living room roku (session)" {
		t.Fatalf("unexpected normalized label: %q", normalized)
	}
	if original != "Living Room Roku (Session)" {
		t.Fatalf("unexpected original-cased label: %q", original)
	}
}

func TestDeviceLabelFallsBackToSessionDevice(t *testing.T) {
	normalized, original := deviceLabel("", "", "Kitchen iPad")
	if normalized != "kitchen ipad" || original != "Kitchen iPad" {
		t.Fatalf("unexpected fallback label: normalized=%q original=%q", normalized, original)
	}
}

func TestHaversineDistanceKmKnownRoute(t *testing.T) {
	// New York to London is approximately 5570 km.
	d := haversineDistanceKm(40.7128, -74.0060, 51.5074, -0.1278)
	if d < 5500 || d > 5650 {
		t.Fatalf("expected roughly 5570km, got %f", d)
	}
}

func TestHaversineDistanceKmSamePointIsZero(t *testing.T) {
	d := haversineDistanceKm(10, 20, 10, 20)
	if d != 0 {
		t.Fatalf("expected zero distance for identical points, got %f", d)
	}
}
