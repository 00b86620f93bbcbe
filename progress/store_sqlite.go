// ABOUTME: Local persistence for per-user learning state on SQLite.
// ABOUTME: One JSON-valued row per user per concern; corrupt rows read as absent.
package progress

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"math"
	"time"

	_ "modernc.org/sqlite"
)

// Local state keys, one per user per concern.
const (
	keyCompletedTopics = "completed_topics"
	keyXPTotal         = "xp_total"
	keyStreak          = "streak"
	keyProfile         = "profile"
	keyUnlockedAvatars = "unlocked_avatars"
	keyTheme           = "theme"
)

// Store persists per-user learning state and the retry queue locally.
// The local copy is authoritative for immediate UI reads; the sync
// orchestrator reconciles it with the remote store in the background.
type Store struct {
	db *sql.DB

	// Now is the clock used for streak day math. Tests override it.
	Now func() time.Time
}

// OpenStore opens/creates a SQLite database and runs migrations.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db, Now: time.Now}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS local_state (
  user_id TEXT NOT NULL,
  k TEXT NOT NULL,
  v TEXT NOT NULL,
  PRIMARY KEY (user_id, k)
);

CREATE TABLE IF NOT EXISTS sync_queue (
  op_id TEXT PRIMARY KEY,
  kind TEXT NOT NULL,
  user_id TEXT NOT NULL,
  enqueued_at INTEGER NOT NULL,
  payload TEXT
);

CREATE INDEX IF NOT EXISTS idx_sync_queue_user ON sync_queue(user_id, op_id);
`)
	return err
}

// getJSON decodes the stored value for (userID, key). A missing row or
// malformed content returns the zero value and false; persisted garbage
// is treated as absence, never as an error. Decoding goes through a
// fresh value so a type-mismatched row cannot leak partially decoded
// fields to the caller.
func getJSON[T any](ctx context.Context, s *Store, userID, key string) (T, bool, error) {
	var zero T
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT v FROM local_state WHERE user_id = ? AND k = ?`, userID, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, err
	}
	var val T
	if err := json.Unmarshal([]byte(raw), &val); err != nil {
		return zero, false, nil
	}
	return val, true, nil
}

func (s *Store) setJSON(ctx context.Context, userID, key string, val any) error {
	raw, err := json.Marshal(val)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO local_state(user_id, k, v) VALUES(?,?,?)
ON CONFLICT(user_id, k) DO UPDATE SET v=excluded.v`, userID, key, string(raw))
	return err
}

// streakState is the persisted shape of the streak concern.
type streakState struct {
	Count    int    `json:"count"`
	LastDate string `json:"last_date,omitempty"`
}

// Snapshot assembles the user's progress from the per-concern rows.
// Absent or corrupt rows read as zero values; a brand-new user gets an
// all-zero snapshot, never an error.
func (s *Store) Snapshot(ctx context.Context, userID string) (Snapshot, error) {
	var snap Snapshot

	topics, _, err := getJSON[[]string](ctx, s, userID, keyCompletedTopics)
	if err != nil {
		return Snapshot{}, err
	}
	snap.CompletedTopics = normalizeTopics(topics)

	xp, _, err := getJSON[int](ctx, s, userID, keyXPTotal)
	if err != nil {
		return Snapshot{}, err
	}
	if xp > 0 {
		snap.XPTotal = xp
	}

	streak, _, err := getJSON[streakState](ctx, s, userID, keyStreak)
	if err != nil {
		return Snapshot{}, err
	}
	if streak.Count > 0 {
		snap.StreakCount = streak.Count
	}
	snap.StreakLastDate = streak.LastDate

	return snap, nil
}

// WriteSnapshot persists every progress concern of snap.
func (s *Store) WriteSnapshot(ctx context.Context, userID string, snap Snapshot) error {
	if err := s.setJSON(ctx, userID, keyCompletedTopics, normalizeTopics(snap.CompletedTopics)); err != nil {
		return err
	}
	if err := s.setJSON(ctx, userID, keyXPTotal, snap.XPTotal); err != nil {
		return err
	}
	return s.setJSON(ctx, userID, keyStreak, streakState{
		Count:    snap.StreakCount,
		LastDate: snap.StreakLastDate,
	})
}

// AddXP adds a gameplay XP award to the running total. Non-finite and
// non-positive amounts are rejected as a no-op; valid amounts round to
// the nearest integer. The total never decreases through this path.
func (s *Store) AddXP(ctx context.Context, userID string, amount float64) (Snapshot, error) {
	snap, err := s.Snapshot(ctx, userID)
	if err != nil {
		return Snapshot{}, err
	}
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount <= 0 {
		return snap, nil
	}
	snap.XPTotal += int(math.Round(amount))
	if err := s.setJSON(ctx, userID, keyXPTotal, snap.XPTotal); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// MarkCompleted records a topic completion. Returns true only the
// first time a slug is added, so callers can gate one-time XP awards.
func (s *Store) MarkCompleted(ctx context.Context, userID, slug string) (bool, error) {
	snap, err := s.Snapshot(ctx, userID)
	if err != nil {
		return false, err
	}
	if snap.HasTopic(slug) {
		return false, nil
	}
	snap = snap.AddTopic(slug)
	if err := s.setJSON(ctx, userID, keyCompletedTopics, snap.CompletedTopics); err != nil {
		return false, err
	}
	return true, nil
}

// RecordActivity updates the streak for activity happening now.
// Idempotent within a reference-timezone day: a second call on the
// same day does not inflate the streak.
func (s *Store) RecordActivity(ctx context.Context, userID string) (Snapshot, error) {
	snap, err := s.Snapshot(ctx, userID)
	if err != nil {
		return Snapshot{}, err
	}
	count, lastDate := advanceStreak(snap.StreakCount, snap.StreakLastDate, s.Now())
	if count == snap.StreakCount && lastDate == snap.StreakLastDate {
		return snap, nil
	}
	snap.StreakCount = count
	snap.StreakLastDate = lastDate
	if err := s.setJSON(ctx, userID, keyStreak, streakState{Count: count, LastDate: lastDate}); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// StreakState returns the streak as the UI should see it: a gap of
// more than one day since the last activity reads as 0. The stored
// count and date are left untouched; decay is lazy, observed on read.
func (s *Store) StreakState(ctx context.Context, userID string) (count int, lastDate string, err error) {
	streak, _, err := getJSON[streakState](ctx, s, userID, keyStreak)
	if err != nil {
		return 0, "", err
	}
	return decayedStreak(streak.Count, streak.LastDate, s.Now()), streak.LastDate, nil
}

// Profile returns the locally stored profile, zero-valued when absent.
func (s *Store) Profile(ctx context.Context, userID string) (Profile, error) {
	p, _, err := getJSON[Profile](ctx, s, userID, keyProfile)
	if err != nil {
		return Profile{}, err
	}
	return p, nil
}

// WriteProfile persists the profile. Callers stamping a local edit
// should set UpdatedAt so the profile sync can apply last-write-wins.
func (s *Store) WriteProfile(ctx context.Context, userID string, p Profile) error {
	return s.setJSON(ctx, userID, keyProfile, p)
}

// UnlockedAvatars returns the monotonic unlocked-avatar set.
func (s *Store) UnlockedAvatars(ctx context.Context, userID string) ([]string, error) {
	ids, _, err := getJSON[[]string](ctx, s, userID, keyUnlockedAvatars)
	if err != nil {
		return nil, err
	}
	return normalizeTopics(ids), nil
}

// UnlockAvatars unions ids into the unlocked set. Unlocks never revert.
func (s *Store) UnlockAvatars(ctx context.Context, userID string, ids ...string) ([]string, error) {
	current, err := s.UnlockedAvatars(ctx, userID)
	if err != nil {
		return nil, err
	}
	merged := unionTopics(current, ids)
	if len(merged) == len(current) {
		return current, nil
	}
	if err := s.setJSON(ctx, userID, keyUnlockedAvatars, merged); err != nil {
		return nil, err
	}
	return merged, nil
}

// Theme returns the stored theme preference, "" when unset.
func (s *Store) Theme(ctx context.Context, userID string) (string, error) {
	theme, _, err := getJSON[string](ctx, s, userID, keyTheme)
	if err != nil {
		return "", err
	}
	return theme, nil
}

// SetTheme stores the theme preference.
func (s *Store) SetTheme(ctx context.Context, userID, theme string) error {
	return s.setJSON(ctx, userID, keyTheme, theme)
}
