// streamystats - media analytics ingestion and orchestration core
// SPDX-License-Identifier: AGPL-3.0-or-later

package geo

import (
	"testing"
	"time"

	"github.com/sjorge/streamystats/internal/models"
)

func TestCheckImpossibleTravelDetectsImplausibleSpeed(t *testing.T) {
	prior := &priorLocation{Latitude: 40.7128, Longitude: -74.0060, OccurredAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), Country: "US"}
	curTime := prior.OccurredAt.Add(10 * time.Minute)

	ev, ok := checkImpossibleTravel(prior, 51.5074, -0.1278, curTime)

	if !ok {
		t.Fatal("expected New York -> London in 10 minutes to be flagged impossible travel")
	}
	if ev.Kind != models.AnomalyImpossibleTravel || ev.Severity != models.SeverityCritical {
		t.Fatalf("unexpected kind/severity: %+v", ev)
	}
	if ev.DistanceKM == nil || *ev.DistanceKM < 5000 {
		t.Fatalf("expected a transatlantic distance, got %+v", ev.DistanceKM)
	}
}

func TestCheckImpossibleTravelIgnoresPlausibleSpeed(t *testing.T) {
	prior := &priorLocation{Latitude: 40.7128, Longitude: -74.0060, OccurredAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	curTime := prior.OccurredAt.Add(2 * time.Hour)

	// Roughly 50km away, 2 hours later: well within plausible travel.
	_, ok := checkImpossibleTravel(prior, 41.0, -74.5, curTime)

	if ok {
		t.Fatal("did not expect a short, slow hop to be flagged")
	}
}

func TestCheckImpossibleTravelIgnoresWithoutPriorLocation(t *testing.T) {
	_, ok := checkImpossibleTravel(nil, 51.5, -0.1, time.Now())
	if ok {
		t.Fatal("expected no anomaly without a prior location")
	}
}

func TestCheckImpossibleTravelIgnoresNonPositiveTimeDiff(t *testing.T) {
	prior := &priorLocation{Latitude: 40.7128, Longitude: -74.0060, OccurredAt: time.Date(2026, 1, 1, 1, 0, 0, 0, time.UTC)}
	curTime := prior.OccurredAt.Add(-5 * time.Minute)

	_, ok := checkImpossibleTravel(prior, 51.5074, -0.1278, curTime)

	if ok {
		t.Fatal("expected out-of-order timestamps to never flag (non-positive time diff)")
	}
}

func TestCheckLocationNoveltyEmitsNewCountry(t *testing.T) {
	fp := &models.UserFingerprint{KnownCountries: []string{"US"}, KnownCities: []string{"New York"}}

	ev, ok := checkLocationNovelty(fp, "GB", "London")

	if !ok || ev.Kind != models.AnomalyNewCountry {
		t.Fatalf("expected a new_country anomaly, got ok=%v ev=%+v", ok, ev)
	}
}

func TestCheckLocationNoveltyEmitsNewCityOnlyWhenCountryKnown(t *testing.T) {
	fp := &models.UserFingerprint{KnownCountries: []string{"US"}, KnownCities: []string{"New York"}}

	ev, ok := checkLocationNovelty(fp, "US", "Boston")

	if !ok || ev.Kind != models.AnomalyNewLocation || ev.Severity != models.SeverityLow {
		t.Fatalf("expected a new_location anomaly, got ok=%v ev=%+v", ok, ev)
	}
}

func TestCheckLocationNoveltySilentWhenKnown(t *testing.T) {
	fp := &models.UserFingerprint{KnownCountries: []string{"US"}, KnownCities: []string{"New York"}}

	_, ok := checkLocationNovelty(fp, "US", "New York")

	if ok {
		t.Fatal("did not expect an anomaly for a fully known country+city")
	}
}

func TestCheckLocationNoveltyNeverEmitsWithoutFingerprint(t *testing.T) {
	_, ok := checkLocationNovelty(nil, "US", "New York")
	if ok {
		t.Fatal("expected no anomaly for a nil fingerprint")
	}
}

func TestCheckNewDeviceEmitsWithOriginalCasing(t *testing.T) {
	fp := &models.UserFingerprint{KnownDeviceIDs: []string{"iphone 13"}}

	ev, ok := checkNewDevice(fp, "android tv", "Android TV")

	if !ok || ev.DeviceName != "Android TV" {
		t.Fatalf("expected a new_device anomaly carrying the original-cased label, got ok=%v ev=%+v", ok, ev)
	}
}

func TestCheckNewDeviceSilentWhenKnown(t *testing.T) {
	fp := &models.UserFingerprint{KnownDeviceIDs: []string{"iphone 13"}}

	_, ok := checkNewDevice(fp, "iphone 13", "iPhone 13")

	if ok {
		t.Fatal("did not expect an anomaly for an already-known device")
	}
}

func TestRecordObservationAppendsOnlyUnknownValues(t *testing.T) {
	fp := &models.UserFingerprint{KnownCountries: []string{"US"}}

	recordObservation(fp, "US", "Chicago", "roku")
	recordObservation(fp, "US", "Chicago", "roku")

	if len(fp.KnownCountries) != 1 {
		t.Fatalf("expected known countries to stay deduplicated, got %v", fp.KnownCountries)
	}
	if len(fp.KnownCities) != 1 || fp.KnownCities[0] != "Chicago" {
		t.Fatalf("expected one known city, got %v", fp.KnownCities)
	}
	if len(fp.KnownDeviceIDs) != 1 || fp.KnownDeviceIDs[0] != "roku" {
		t.Fatalf("expected one known device, got %v", fp.KnownDeviceIDs)
	}
}
