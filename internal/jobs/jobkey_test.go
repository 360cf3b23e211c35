// streamystats - media analytics ingestion and orchestration core
// SPDX-License-Identifier: AGPL-3.0-or-later

package jobs

import "testing"

func TestCatalogCoversEveryCronJobKey(t *testing.T) {
	for _, key := range CronJobKeys() {
		meta, ok := Catalog[key]
		if !ok {
			t.Fatalf("CronJobKeys() returned %q with no Catalog entry", key)
		}
		if meta.Cadence != CadenceCron {
			t.Errorf("%q: expected CadenceCron, got %v", key, meta.Cadence)
		}
		if meta.DefaultCron == "" {
			t.Errorf("%q: missing DefaultCron", key)
		}
		if meta.QueueName == "" {
			t.Errorf("%q: missing QueueName", key)
		}
	}
}

func TestSessionPollingIsIntervalNotCron(t *testing.T) {
	meta, ok := Catalog[JobSessionPolling]
	if !ok {
		t.Fatal("session-polling missing from catalog")
	}
	if meta.Cadence != CadenceInterval {
		t.Error("session-polling must be interval-tagged, not cron")
	}
}

func TestSingletonPerServerKeysMatchSpec(t *testing.T) {
	want := map[JobKey]bool{
		JobPeopleSync:      true,
		JobGeolocationSync: true,
		JobFingerprintSync: true,
	}
	for key, meta := range Catalog {
		if want[key] && !meta.SingletonPerServer {
			t.Errorf("%q: expected SingletonPerServer=true", key)
		}
	}
}
