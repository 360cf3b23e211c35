// streamystats - media analytics ingestion and orchestration core
// SPDX-License-Identifier: AGPL-3.0-or-later

package geo

import (
	"time"

	"github.com/sjorge/streamystats/internal/models"
)

const (
	// impossibleTravelDistanceKm and impossibleTravelSpeedKmh are the
	// hardcoded implausibility thresholds (spec.md §4.6: "implementers
	// may hardcode ... exact thresholds are a tunable").
	impossibleTravelDistanceKm = 500.0
	impossibleTravelSpeedKmh   = 800.0
)

// priorLocation is the user's most recent non-private geolocated
// activity, excluding the current one, as consumed by
// checkImpossibleTravel.
type priorLocation struct {
	Latitude   float64
	Longitude  float64
	OccurredAt time.Time
	Country    string
}

// checkImpossibleTravel compares the current activity's resolved
// location against the user's prior non-private location and reports
// an impossible_travel anomaly when the implied speed of travel
// exceeds what is physically plausible (spec.md §4.6).
func checkImpossibleTravel(prior *priorLocation, curLat, curLon float64, curTime time.Time) (models.AnomalyEvent, bool) {
	if prior == nil {
		return models.AnomalyEvent{}, false
	}

	timeDiffMinutes := curTime.Sub(prior.OccurredAt).Minutes()
	if timeDiffMinutes <= 0 {
		return models.AnomalyEvent{}, false
	}

	distanceKm := haversineDistanceKm(prior.Latitude, prior.Longitude, curLat, curLon)
	speedKmh := distanceKm / (timeDiffMinutes / 60.0)

	if distanceKm <= impossibleTravelDistanceKm || speedKmh <= impossibleTravelSpeedKmh {
		return models.AnomalyEvent{}, false
	}

	distance := roundTo2Decimals(distanceKm)
	speed := roundTo2Decimals(speedKmh)
	diff := roundTo2Decimals(timeDiffMinutes)

	return models.AnomalyEvent{
		Kind:            models.AnomalyImpossibleTravel,
		Severity:        models.SeverityCritical,
		Detail:          "implausible travel speed between consecutive activities",
		DistanceKM:      &distance,
		SpeedKMH:        &speed,
		TimeDiffMinutes: &diff,
		PriorCountry:    prior.Country,
	}, true
}

// checkLocationNovelty reports a new_country or new_location anomaly
// when countryCode/city is not yet in fp's known sets. A nil fp never
// emits. detectAnomalies never passes nil: for a user with no
// fingerprint on record it passes an empty one, so the first
// observation is checked against empty known sets.
func checkLocationNovelty(fp *models.UserFingerprint, countryCode, city string) (models.AnomalyEvent, bool) {
	if fp == nil || countryCode == "" {
		return models.AnomalyEvent{}, false
	}

	if !fp.HasCountry(countryCode) {
		return models.AnomalyEvent{
			Kind:       models.AnomalyNewCountry,
			Severity:   models.SeverityMedium,
			Detail:     "first activity seen from this country",
			NewCountry: countryCode,
		}, true
	}

	if city != "" && !fp.HasCity(city) {
		return models.AnomalyEvent{
			Kind:     models.AnomalyNewLocation,
			Severity: models.SeverityLow,
			Detail:   "first activity seen from this city",
		}, true
	}

	return models.AnomalyEvent{}, false
}

// checkNewDevice reports a new_device anomaly when normalizedLabel is
// absent from fp's known device set. A nil fp never emits, matching
// checkLocationNovelty.
func checkNewDevice(fp *models.UserFingerprint, normalizedLabel, originalLabel string) (models.AnomalyEvent, bool) {
	if fp == nil || normalizedLabel == "" {
		return models.AnomalyEvent{}, false
	}
	if fp.HasDevice(normalizedLabel) {
		return models.AnomalyEvent{}, false
	}
	return models.AnomalyEvent{
		Kind:       models.AnomalyNewDevice,
		Severity:   models.SeverityMedium,
		Detail:     "first activity seen from this device",
		DeviceName: originalLabel,
	}, true
}

// recordObservation folds one accepted observation into fp's known
// sets in place, the append-only update applied in the same
// transaction as anomaly emission (spec.md §4.6).
func recordObservation(fp *models.UserFingerprint, countryCode, city, normalizedDevice string) {
	if countryCode != "" && !fp.HasCountry(countryCode) {
		fp.KnownCountries = append(fp.KnownCountries, countryCode)
	}
	if city != "" && !fp.HasCity(city) {
		fp.KnownCities = append(fp.KnownCities, city)
	}
	if normalizedDevice != "" && !fp.HasDevice(normalizedDevice) {
		fp.KnownDeviceIDs = append(fp.KnownDeviceIDs, normalizedDevice)
	}
}
