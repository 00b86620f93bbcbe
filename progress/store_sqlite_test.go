// ABOUTME: Tests for the local state store.
// ABOUTME: Covers XP/topic/streak operations and corrupt-row tolerance.
package progress

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenStore(filepath.Join(t.TempDir(), "progress.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if cerr := store.Close(); cerr != nil {
			t.Fatalf("close store: %v", cerr)
		}
	})
	return store
}

func TestSnapshotAbsentUserIsZero(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	snap, err := store.Snapshot(ctx, "nobody")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if !snap.Equal(Snapshot{}) {
		t.Fatalf("expected zero snapshot, got %+v", snap)
	}
}

func TestAddXP(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	user := "u1"

	tests := []struct {
		name   string
		amount float64
		want   int // running total after the call
	}{
		{"positive adds", 10, 10},
		{"negative is a no-op", -5, 10},
		{"zero is a no-op", 0, 10},
		{"nan is a no-op", nan(), 10},
		{"fraction rounds to nearest", 7.6, 18},
		{"half rounds up", 2.5, 21},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			snap, err := store.AddXP(ctx, user, tt.amount)
			if err != nil {
				t.Fatalf("addXP: %v", err)
			}
			if snap.XPTotal != tt.want {
				t.Errorf("XPTotal = %d, want %d", snap.XPTotal, tt.want)
			}
		})
	}
}

func nan() float64 {
	var zero float64
	return zero / zero
}

func TestMarkCompletedIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	user := "u1"

	first, err := store.MarkCompleted(ctx, user, "x")
	if err != nil {
		t.Fatalf("mark: %v", err)
	}
	second, err := store.MarkCompleted(ctx, user, "x")
	if err != nil {
		t.Fatalf("mark again: %v", err)
	}
	if !first || second {
		t.Fatalf("expected (true, false), got (%v, %v)", first, second)
	}

	snap, err := store.Snapshot(ctx, user)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	count := 0
	for _, slug := range snap.CompletedTopics {
		if slug == "x" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected x exactly once, got %v", snap.CompletedTopics)
	}
}

func TestRecordActivityAndDecay(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	user := "u1"

	day := istanbul(2026, time.August, 26, 12)
	store.Now = func() time.Time { return day }

	// First activity starts a streak.
	snap, err := store.RecordActivity(ctx, user)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if snap.StreakCount != 1 || snap.StreakLastDate != "2026-08-26" {
		t.Fatalf("got %+v", snap)
	}

	// Same day again is a no-op.
	snap, err = store.RecordActivity(ctx, user)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if snap.StreakCount != 1 {
		t.Fatalf("same-day activity inflated streak: %+v", snap)
	}

	// Next day increments.
	day = istanbul(2026, time.August, 27, 8)
	snap, err = store.RecordActivity(ctx, user)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if snap.StreakCount != 2 || snap.StreakLastDate != "2026-08-27" {
		t.Fatalf("got %+v", snap)
	}

	// Day D+1: unchanged on read.
	day = istanbul(2026, time.August, 28, 8)
	count, lastDate, err := store.StreakState(ctx, user)
	if err != nil {
		t.Fatalf("streak state: %v", err)
	}
	if count != 2 || lastDate != "2026-08-27" {
		t.Fatalf("got (%d, %q), want (2, 2026-08-27)", count, lastDate)
	}

	// Day D+2: decays to 0, date preserved, nothing written back.
	day = istanbul(2026, time.August, 29, 8)
	count, lastDate, err = store.StreakState(ctx, user)
	if err != nil {
		t.Fatalf("streak state: %v", err)
	}
	if count != 0 || lastDate != "2026-08-27" {
		t.Fatalf("got (%d, %q), want (0, 2026-08-27)", count, lastDate)
	}
	snap, err = store.Snapshot(ctx, user)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.StreakCount != 2 {
		t.Fatalf("decay must not write back, stored count = %d", snap.StreakCount)
	}
}

func TestCorruptRowsReadAsAbsent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	user := "u1"

	if _, err := store.AddXP(ctx, user, 50); err != nil {
		t.Fatalf("addXP: %v", err)
	}
	// Garbage in the topics and streak rows.
	for _, key := range []string{keyCompletedTopics, keyStreak} {
		if _, err := store.db.ExecContext(ctx, `
INSERT INTO local_state(user_id, k, v) VALUES(?,?,?)
ON CONFLICT(user_id, k) DO UPDATE SET v=excluded.v`, user, key, "{not json"); err != nil {
			t.Fatalf("corrupt %s: %v", key, err)
		}
	}

	snap, err := store.Snapshot(ctx, user)
	if err != nil {
		t.Fatalf("snapshot over corrupt rows: %v", err)
	}
	if snap.XPTotal != 50 {
		t.Fatalf("intact row lost: %+v", snap)
	}
	if len(snap.CompletedTopics) != 0 || snap.StreakCount != 0 {
		t.Fatalf("corrupt rows must read as absent: %+v", snap)
	}
}

func TestTypeMismatchedRowsReadAsAbsent(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	user := "u1"

	if _, err := store.AddXP(ctx, user, 50); err != nil {
		t.Fatalf("addXP: %v", err)
	}
	// Valid JSON of the wrong shape: a partial decode must not leak
	// fields that were populated before the decoder hit the mismatch.
	rows := map[string]string{
		keyStreak:          `{"count": 9999, "last_date": 42}`,
		keyCompletedTopics: `{"a": 1}`,
	}
	for key, val := range rows {
		if _, err := store.db.ExecContext(ctx, `
INSERT INTO local_state(user_id, k, v) VALUES(?,?,?)
ON CONFLICT(user_id, k) DO UPDATE SET v=excluded.v`, user, key, val); err != nil {
			t.Fatalf("corrupt %s: %v", key, err)
		}
	}

	snap, err := store.Snapshot(ctx, user)
	if err != nil {
		t.Fatalf("snapshot over mismatched rows: %v", err)
	}
	if snap.StreakCount != 0 || snap.StreakLastDate != "" {
		t.Fatalf("mismatched streak row must read as absent: %+v", snap)
	}
	if len(snap.CompletedTopics) != 0 {
		t.Fatalf("mismatched topics row must read as absent: %+v", snap)
	}
	if snap.XPTotal != 50 {
		t.Fatalf("intact row lost: %+v", snap)
	}

	count, lastDate, err := store.StreakState(ctx, user)
	if err != nil {
		t.Fatalf("streak state: %v", err)
	}
	if count != 0 || lastDate != "" {
		t.Fatalf("streak state = (%d, %q), want (0, \"\")", count, lastDate)
	}
}

func TestUnlockAvatarsMonotonic(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	user := "u1"

	got, err := store.UnlockAvatars(ctx, user, "1", "2", "3")
	if err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("unlocked = %v", got)
	}

	// Re-unlocking and unioning never removes.
	got, err = store.UnlockAvatars(ctx, user, "2", "4")
	if err != nil {
		t.Fatalf("unlock: %v", err)
	}
	want := []string{"1", "2", "3", "4"}
	if len(got) != len(want) {
		t.Fatalf("unlocked = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unlocked = %v, want %v", got, want)
		}
	}
}

func TestThemePreference(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	theme, err := store.Theme(ctx, "u1")
	if err != nil || theme != "" {
		t.Fatalf("unset theme = (%q, %v)", theme, err)
	}
	if err := store.SetTheme(ctx, "u1", "dark"); err != nil {
		t.Fatalf("set theme: %v", err)
	}
	theme, err = store.Theme(ctx, "u1")
	if err != nil || theme != "dark" {
		t.Fatalf("theme = (%q, %v), want dark", theme, err)
	}
}

func TestProfileRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	p := Profile{Name: "Ada", AvatarID: 3, UpdatedAt: time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)}
	if err := store.WriteProfile(ctx, "u1", p); err != nil {
		t.Fatalf("write profile: %v", err)
	}
	got, err := store.Profile(ctx, "u1")
	if err != nil {
		t.Fatalf("read profile: %v", err)
	}
	if got.Name != "Ada" || got.AvatarID != 3 || !got.UpdatedAt.Equal(p.UpdatedAt) {
		t.Fatalf("profile = %+v", got)
	}
}
