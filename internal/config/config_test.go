// streamystats - media analytics ingestion and orchestration core
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import "testing"

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if cfg.Database.MaxOpenConns != 25 {
		t.Errorf("MaxOpenConns = %d, want 25", cfg.Database.MaxOpenConns)
	}
	if cfg.SessionPoll.IntervalMS != 5000 {
		t.Errorf("IntervalMS = %d, want 5000", cfg.SessionPoll.IntervalMS)
	}
	if cfg.SessionPoll.ServerConcurrency != 3 {
		t.Errorf("ServerConcurrency = %d, want 3", cfg.SessionPoll.ServerConcurrency)
	}
	if cfg.SessionPoll.ServerTimeoutMS != 60000 {
		t.Errorf("ServerTimeoutMS = %d, want 60000", cfg.SessionPoll.ServerTimeoutMS)
	}
}

func TestValidateRequiresDatabaseURL(t *testing.T) {
	cfg := defaultConfig()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for missing DATABASE_URL")
	}

	cfg.Database.URL = "postgres://localhost/streamystats"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
}

func TestEnvTransformFunc(t *testing.T) {
	cases := map[string]string{
		"DATABASE_URL":                     "database.url",
		"SESSION_POLL_INTERVAL_MS":         "session_poll.interval_ms",
		"SESSION_POLL_SERVER_CONCURRENCY":  "session_poll.server_concurrency",
		"SKIP_STARTUP_FULL_SYNC":           "scheduler.skip_startup_full_sync",
	}
	for in, want := range cases {
		if got := envTransformFunc(in); got != want {
			t.Errorf("envTransformFunc(%q) = %q, want %q", in, got, want)
		}
	}
}
