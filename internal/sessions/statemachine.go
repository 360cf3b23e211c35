// streamystats - media analytics ingestion and orchestration core
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package sessions implements SessionPoller: the per-UMS tick loop that
// drives the TrackedSession state machine, accumulates watch durations
// across poll cycles, survives restarts by persisting in-flight
// sessions, and finalizes sessions into the append-only sessions
// history table (spec.md §4.4).
package sessions

import (
	"fmt"
	"time"

	"github.com/sjorge/streamystats/internal/models"
)

// Position-reset replacement heuristic thresholds, retained verbatim
// per spec.md §9(b): a session is treated as a fresh episode under the
// same UMS session id when position falls from over 60s to under 10s
// with at least 30s of watch time already accumulated.
const (
	positionResetFromTicks = 600_000_000 // 60s in 100ns ticks
	positionResetToTicks   = 100_000_000 // 10s in 100ns ticks
	positionResetMinPlayed = 30          // seconds
)

// sessionKey computes spec.md §4.4's stable per-tick identity: prefer
// the upstream session id, else a composite of user/device/series/item.
func sessionKey(s models.Session) string {
	if s.ID != "" {
		return "sid:" + s.ID
	}
	var seriesID, itemID string
	if s.NowPlayingItem != nil {
		seriesID = s.NowPlayingItem.SeriesID
		itemID = s.NowPlayingItem.ID
	}
	return fmt.Sprintf("%s|%s|%s|%s", s.UserID, s.DeviceID, seriesID, itemID)
}

// shouldDropSession implements the trailer/preroll filter (spec.md
// §4.4 step 1): these never become TrackedSessions and never produce a
// sessions history row.
func shouldDropSession(s models.Session) bool {
	return s.NowPlayingItem.IsTrailer()
}

// newTrackedSession instantiates a fresh TrackedSession for a
// newly-observed upstream session.
func newTrackedSession(serverID int64, key string, s models.Session, now time.Time) *models.TrackedSession {
	t := &models.TrackedSession{
		ServerID:       serverID,
		SessionKey:     key,
		UMSSessionID:   s.ID,
		UserID:         s.UserID,
		UserName:       s.UserName,
		Client:         s.Client,
		DeviceID:       s.DeviceID,
		DeviceName:     s.DeviceName,
		RemoteEndPoint: s.RemoteEndPoint,
		Phase:          models.SessionPhaseActivePlaying,
		StartTime:      now,
		LastUpdateTime: now,
	}
	applyItemAndPlayState(t, s)
	if t.IsPaused {
		t.Phase = models.SessionPhaseActivePaused
	}
	return t
}

// applyItemAndPlayState copies the fields of s that reflect "what is
// currently playing" onto t, without touching duration accounting.
func applyItemAndPlayState(t *models.TrackedSession, s models.Session) {
	if s.NowPlayingItem != nil {
		t.ItemID = s.NowPlayingItem.ID
		t.ItemName = s.NowPlayingItem.Name
		t.SeriesID = s.NowPlayingItem.SeriesID
		t.SeriesName = s.NowPlayingItem.SeriesName
		t.SeasonID = s.NowPlayingItem.SeasonID
		t.RuntimeTicks = s.NowPlayingItem.RunTimeTicks
	}
	if s.PlayState != nil {
		t.PositionTicks = s.PlayState.PositionTicks
		t.IsPaused = s.PlayState.IsPaused
		t.PlayMethod = s.PlayState.PlayMethod
	}
	if s.TranscodingInfo != nil {
		t.IsTranscoded = true
	} else if t.PlayMethod != "" {
		t.IsTranscoded = t.PlayMethod != "DirectPlay" && t.PlayMethod != "DirectStream"
	}
}

// currentItemID extracts the upstream session's currently playing item
// id, or "" if none is playing.
func currentItemID(s models.Session) string {
	if s.NowPlayingItem == nil {
		return ""
	}
	return s.NowPlayingItem.ID
}

// currentPositionTicks extracts the upstream session's current
// position, or 0 if unknown.
func currentPositionTicks(s models.Session) int64 {
	if s.PlayState == nil {
		return 0
	}
	return s.PlayState.PositionTicks
}

// isReplacement implements spec.md §4.4 step 4's replacement
// detection: the item changed under the same session key, or position
// reset from well into playback back near the start with meaningful
// watch time already accrued.
func isReplacement(tracked *models.TrackedSession, s models.Session) bool {
	if curItem := currentItemID(s); curItem != "" && curItem != tracked.ItemID {
		return true
	}
	curPos := currentPositionTicks(s)
	if tracked.PositionTicks > positionResetFromTicks &&
		curPos < positionResetToTicks &&
		tracked.PlayDuration > positionResetMinPlayed {
		return true
	}
	return false
}

// accrueDuration applies spec.md §4.4's duration-accounting rule for
// one tick: elapsed wall-clock time accrues into PlayDuration only if
// the session was NOT paused going into this tick. lastUpdateTime is
// always advanced to now regardless.
func accrueDuration(tracked *models.TrackedSession, now time.Time) {
	wasPaused := tracked.IsPaused
	elapsed := now.Sub(tracked.LastUpdateTime).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	if !wasPaused {
		tracked.PlayDuration += int64(elapsed)
	}
	tracked.LastUpdateTime = now
}

// applyUpdate updates an in-place (non-replacement) TrackedSession for
// one tick: accrue duration using the pre-tick pause state, then apply
// the new position/pause/transcoding/playstate fields.
func applyUpdate(tracked *models.TrackedSession, s models.Session, now time.Time) {
	accrueDuration(tracked, now)
	applyItemAndPlayState(tracked, s)
	if tracked.IsPaused {
		tracked.Phase = models.SessionPhaseActivePaused
	} else {
		tracked.Phase = models.SessionPhaseActivePlaying
	}
}

// finalDuration computes spec.md §4.4's finalization duration: the
// accumulated PlayDuration plus, if the session was still playing
// (not paused) when last observed, the wall-clock time since then.
func finalDuration(tracked *models.TrackedSession, now time.Time) int64 {
	extra := 0.0
	if !tracked.IsPaused {
		extra = now.Sub(tracked.LastUpdateTime).Seconds()
		if extra < 0 {
			extra = 0
		}
	}
	return tracked.PlayDuration + int64(extra)
}

// finalize converts a TrackedSession leaving the state machine into a
// PlaybackSession history row, or nil if its final duration does not
// exceed the 1-second noise floor (spec.md §4.4 Finalization).
func finalize(tracked *models.TrackedSession, now time.Time, rawData []byte) *models.PlaybackSession {
	dur := finalDuration(tracked, now)
	if dur <= 1 {
		return nil
	}

	var percentComplete float64
	if tracked.RuntimeTicks > 0 {
		percentComplete = float64(tracked.PositionTicks) / float64(tracked.RuntimeTicks) * 100
	}

	return &models.PlaybackSession{
		ID:                  tracked.IdempotentID(),
		ServerID:            tracked.ServerID,
		UMSSessionID:        tracked.UMSSessionID,
		SessionKey:          tracked.SessionKey,
		UserID:              tracked.UserID,
		ItemID:              tracked.ItemID,
		ItemName:            tracked.ItemName,
		SeriesID:            tracked.SeriesID,
		SeasonID:            tracked.SeasonID,
		Client:              tracked.Client,
		DeviceID:            tracked.DeviceID,
		DeviceName:          tracked.DeviceName,
		RemoteEndPoint:      tracked.RemoteEndPoint,
		PlayMethod:          tracked.PlayMethod,
		IsTranscoded:        tracked.PlayMethod != "DirectPlay" && tracked.PlayMethod != "DirectStream",
		PositionTicks:       tracked.PositionTicks,
		RuntimeTicks:        tracked.RuntimeTicks,
		PercentComplete:     percentComplete,
		Completed:           percentComplete > 90,
		PlayDurationSeconds: dur,
		StartedAt:           tracked.StartTime,
		EndedAt:             now,
		RawData:             rawData,
	}
}
