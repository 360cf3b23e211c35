// streamystats - media analytics ingestion and orchestration core
// SPDX-License-Identifier: AGPL-3.0-or-later

package models

import (
	"fmt"
	"time"
)

// Server is a configured upstream media server (UMS) this core polls and
// ingests from. SyncStatus/SyncProgress/SyncError/LastSyncStarted/
// LastSyncCompleted track the full-sync lifecycle the scheduler and
// maintenance worker drive servers through (spec.md §3 Server invariant,
// §4.3); UpstreamID is populated by the backfill-jellyfin-ids job for
// servers added before upstream ids were tracked.
type Server struct {
	ID         int64   `db:"id"`
	UpstreamID *string `db:"upstream_id"`
	Name       string  `db:"name"`
	URL        string  `db:"url"`
	APIKey     string  `db:"api_key"`
	ServerType string  `db:"server_type"` // "jellyfin", "emby"
	Latitude   float64 `db:"latitude"`
	Longitude  float64 `db:"longitude"`

	SyncEnabled bool `db:"sync_enabled"`

	SyncStatus        string     `db:"sync_status"` // "pending", "syncing", "completed", "failed"
	SyncProgress      *string    `db:"sync_progress"`
	SyncError         *string    `db:"sync_error"`
	LastSyncStarted   *time.Time `db:"last_sync_started"`
	LastSyncCompleted *time.Time `db:"last_sync_completed"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// ServerJobConfig holds per-server overrides for a single job's cadence.
// A nil CronExpr/IntervalSeconds means "use the global default" for that
// job key.
type ServerJobConfig struct {
	ID              int64   `db:"id"`
	ServerID        int64   `db:"server_id"`
	JobKey          string  `db:"job_key"`
	CronExpr        *string `db:"cron_expr"`
	IntervalSeconds *int    `db:"interval_seconds"`
	Enabled         bool    `db:"enabled"`
}

// Job is a durable queue row (QueueStore). It mirrors the pg-boss job
// table shape: a named queue, a JSON payload, retry bookkeeping, and an
// optional singleton key used to dedupe in-flight work.
type Job struct {
	ID           string     `db:"id"`
	Name         string     `db:"name"` // queue name, e.g. "activity-sync"
	Data         []byte     `db:"data"` // JSON payload
	State        JobState   `db:"state"`
	RetryLimit   int        `db:"retry_limit"`
	RetryCount   int        `db:"retry_count"`
	RetryDelay   int        `db:"retry_delay"` // seconds
	RetryBackoff bool       `db:"retry_backoff"`
	StartAfter   time.Time  `db:"start_after"`
	ExpireIn     int        `db:"expire_in_seconds"`
	SingletonKey *string    `db:"singleton_key"`
	Output       []byte     `db:"output"` // JSON result or error payload
	CreatedAt    time.Time  `db:"created_on"`
	StartedAt    *time.Time `db:"started_on"`
	CompletedAt  *time.Time `db:"completed_on"`
}

// JobState is the closed set of states a Job may occupy.
type JobState string

const (
	JobStateCreated   JobState = "created"
	JobStateRetry     JobState = "retry"
	JobStateActive    JobState = "active"
	JobStateCompleted JobState = "completed"
	JobStateCancelled JobState = "cancelled"
	JobStateFailed    JobState = "failed"
	JobStateExpired   JobState = "expired"
)

// Schedule is a cron-driven recurring job registration (the analogue of
// pg-boss's schedule table): "send job Name with Data every CronExpr
// under Key". At most one active schedule exists per (Name, Key);
// replacing it is idempotent (spec.md §3).
type Schedule struct {
	Name      string     `db:"name"`
	Key       string     `db:"key"`
	CronExpr  string     `db:"cron_expr"`
	Timezone  string     `db:"timezone"`
	Data      []byte     `db:"data"`
	LastRanAt *time.Time `db:"last_ran_at"`
	CreatedAt time.Time  `db:"created_at"`
	UpdatedAt time.Time  `db:"updated_at"`
}

// SessionPhase is the TrackedSession state-machine position.
type SessionPhase string

const (
	SessionPhaseNew           SessionPhase = "new"
	SessionPhaseActivePlaying SessionPhase = "active_playing"
	SessionPhaseActivePaused  SessionPhase = "active_paused"
	SessionPhaseFinalized     SessionPhase = "finalized"
)

// TrackedSession is the poller's in-memory (and periodically persisted)
// view of one playback session on one server (spec.md §3/§4.4).
// SessionKey is stable across ticks: the upstream session id when
// present ("sid:"+id), else "userId|deviceId|seriesId|itemId".
type TrackedSession struct {
	ServerID     int64  `json:"serverId"`
	SessionKey   string `json:"sessionKey"`
	UMSSessionID string `json:"umsSessionId"`

	UserID     string `json:"userId"`
	UserName   string `json:"userName"`
	ItemID     string `json:"itemId"`
	ItemName   string `json:"itemName"`
	SeriesID   string `json:"seriesId"`
	SeriesName string `json:"seriesName"`
	SeasonID   string `json:"seasonId"`

	Client         string `json:"client"`
	DeviceID       string `json:"deviceId"`
	DeviceName     string `json:"deviceName"`
	RemoteEndPoint string `json:"remoteEndPoint"`

	PlayMethod       string `json:"playMethod"`
	IsTranscoded     bool   `json:"isTranscoded"`
	TranscodeDetails string `json:"transcodeDetails,omitempty"` // compact JSON of TranscodingInfo, diagnostics only

	Phase SessionPhase `json:"phase"`

	PositionTicks int64 `json:"positionTicks"`
	RuntimeTicks  int64 `json:"runtimeTicks"`
	IsPaused      bool  `json:"isPaused"`

	// PlayDuration accumulates seconds only while !IsPaused, computed from
	// wall-clock deltas between consecutive ticks (spec.md §4.4).
	PlayDuration int64 `json:"playDuration"`

	StartTime      time.Time `json:"startTime"`
	LastUpdateTime time.Time `json:"lastUpdateTime"`
}

// IdempotentID returns the stable composite identity used to dedupe a
// finalized PlaybackSession row: a session can be finalized more than
// once (e.g. poller restart mid-session) and must not create duplicate
// history (spec.md §3).
func (t *TrackedSession) IdempotentID() string {
	startIso := t.StartTime.UTC().Format(time.RFC3339Nano)
	if t.UMSSessionID != "" {
		return fmt.Sprintf("sid:%d:%s:%s", t.ServerID, t.UMSSessionID, startIso)
	}
	return fmt.Sprintf("trk:%d:%s:%s", t.ServerID, t.SessionKey, startIso)
}

// ActivityLogCursor is the durable tailing position for one server's
// activity log ingestion.
type ActivityLogCursor struct {
	ServerID     int64     `db:"server_id"`
	CursorDate   time.Time `db:"cursor_date"`
	CursorID     int64     `db:"cursor_id"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// Activity is a persisted row from the UMS activity log.
type Activity struct {
	// ID is the UMS's own activity log entry id, reused directly as the
	// primary key: the activities table has no separate surrogate key.
	ID            int64     `db:"id"`
	ServerID      int64     `db:"server_id"`
	Name          string    `db:"name"`
	ShortOverview string    `db:"short_overview"`
	Type          string    `db:"type"`
	Severity      string    `db:"severity"`
	UserID        string    `db:"user_id"`
	ItemID        string    `db:"item_id"`
	OccurredAt    time.Time `db:"occurred_at"`
	IngestedAt    time.Time `db:"ingested_at"`
}

// ActivityLocation is 1:1 with Activity: the resolved geolocation for
// the IP address mentioned in that activity's ShortOverview. Absence
// means "not yet processed" (spec.md §3).
type ActivityLocation struct {
	ActivityID  int64     `db:"activity_id"`
	IPAddress   string    `db:"ip_address"`
	CountryCode string    `db:"country_code"`
	Country     string    `db:"country"`
	Region      string    `db:"region"`
	City        string    `db:"city"`
	Latitude    *float64  `db:"latitude"`
	Longitude   *float64  `db:"longitude"`
	Timezone    string    `db:"timezone"`
	IsPrivateIP bool      `db:"is_private_ip"`
	Provider    string    `db:"provider"` // "maxmind-geolite2", "ip-api", "private", "placeholder", "unresolved"
	ResolvedAt  time.Time `db:"resolved_at"`
}

// UserFingerprint is the per-user behavioral baseline the geolocation
// pipeline checks new activities against: known countries/cities/
// devices/clients plus aggregated usage patterns. The known-sets are
// append-only from the pipeline's point of view (spec.md §3); only the
// full recompute job (calculate-fingerprints) replaces them wholesale.
type UserFingerprint struct {
	UserID           string         `db:"user_id"`
	ServerID         int64          `db:"server_id"`
	KnownCountries   []string       `db:"known_countries"`
	KnownCities      []string       `db:"known_cities"`
	KnownDeviceIDs   []string       `db:"known_device_ids"`
	KnownClients     []string       `db:"known_clients"`
	LocationPatterns map[string]int `db:"location_patterns"` // "country:city" -> count
	DevicePatterns   map[string]int `db:"device_patterns"`   // normalized device label -> count
	HourHistogram    map[int]int    `db:"hour_histogram"`    // UTC hour 0-23 -> count
	AvgSessionsPerDay float64       `db:"avg_sessions_per_day"`
	TotalSessions    int            `db:"total_sessions"`
	LastCalculatedAt *time.Time     `db:"last_calculated_at"`
}

// HasCountry reports whether country is already a known country.
func (f *UserFingerprint) HasCountry(country string) bool {
	return containsFold(f.KnownCountries, country)
}

// HasCity reports whether city is already a known city.
func (f *UserFingerprint) HasCity(city string) bool {
	return containsFold(f.KnownCities, city)
}

// HasDevice reports whether a normalized device label is already known.
// Callers are expected to have already normalized label (spec.md §9:
// trim + lowercase for matching, original casing kept for display).
func (f *UserFingerprint) HasDevice(normalizedLabel string) bool {
	return containsFold(f.KnownDeviceIDs, normalizedLabel)
}

func containsFold(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// AnomalyKind is the closed set of anomaly classifications the
// geolocation pipeline emits.
type AnomalyKind string

const (
	AnomalyImpossibleTravel AnomalyKind = "impossible_travel"
	AnomalyNewCountry       AnomalyKind = "new_country"
	AnomalyNewLocation      AnomalyKind = "new_location"
	AnomalyNewDevice        AnomalyKind = "new_device"
)

// AnomalySeverity is the closed severity scale an AnomalyEvent carries.
type AnomalySeverity string

const (
	SeverityLow      AnomalySeverity = "low"
	SeverityMedium   AnomalySeverity = "medium"
	SeverityHigh     AnomalySeverity = "high"
	SeverityCritical AnomalySeverity = "critical"
)

// AnomalyEvent is a detected anomaly persisted for operator review. At
// most one unresolved impossible-travel anomaly may exist per
// (userId, activityId); resolution is a one-way transition performed
// only via explicit admin action (spec.md §3).
type AnomalyEvent struct {
	ID              int64           `db:"id"`
	ServerID        int64           `db:"server_id"`
	UserID          string          `db:"user_id"`
	ActivityID      int64           `db:"activity_id"`
	Kind            AnomalyKind     `db:"kind"`
	Severity        AnomalySeverity `db:"severity"`
	Detail          string          `db:"detail"`
	DistanceKM      *float64        `db:"distance_km"`
	SpeedKMH        *float64        `db:"speed_kmh"`
	TimeDiffMinutes *float64        `db:"time_diff_minutes"`
	PriorCountry    string          `db:"prior_country"`
	NewCountry      string          `db:"new_country"`
	DeviceName      string          `db:"-"` // carried in Detail, not its own column
	Resolved        bool            `db:"resolved"`
	DetectedAt      time.Time       `db:"detected_at"`
}

// PlaybackSession is the finalized, append-only history row produced
// when a TrackedSession leaves the active state machine (spec.md §3,
// §4.4 Finalization). Id is the stable composite identity from
// TrackedSession.IdempotentID(); re-inserting it must be a no-op.
type PlaybackSession struct {
	ID                  string    `db:"id"`
	ServerID            int64     `db:"server_id"`
	UMSSessionID         string    `db:"ums_session_id"`
	SessionKey          string    `db:"session_key"`
	UserID              string    `db:"user_id"`
	ItemID              string    `db:"item_id"`
	ItemName            string    `db:"item_name"`
	SeriesID            string    `db:"series_id"`
	SeasonID            string    `db:"season_id"`
	Client              string    `db:"client"`
	DeviceID            string    `db:"device_id"`
	DeviceName          string    `db:"device_name"`
	RemoteEndPoint      string    `db:"remote_end_point"`
	PlayMethod          string    `db:"play_method"`
	IsTranscoded        bool      `db:"is_transcoded"`
	PositionTicks       int64     `db:"position_ticks"`
	RuntimeTicks        int64     `db:"runtime_ticks"`
	PercentComplete     float64   `db:"percent_complete"`
	Completed           bool      `db:"completed"`
	PlayDurationSeconds int64     `db:"play_duration_seconds"`
	StartedAt           time.Time `db:"started_at"`
	EndedAt             time.Time `db:"ended_at"`
	RawData             []byte    `db:"raw_data"`
}
