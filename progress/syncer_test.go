// ABOUTME: Tests for the sync orchestrator.
// ABOUTME: Covers pull-merge-push, the in-flight guard, and queue draining.
package progress

import (
	"context"
	"errors"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type syncerTestEnv struct {
	t      *testing.T
	ctx    context.Context
	store  *Store
	fake   *fakeRemote
	syncer *Syncer
	userID string
}

func newSyncerTestEnv(t *testing.T) *syncerTestEnv {
	t.Helper()
	store := newTestStore(t)

	fake := newFakeRemote()
	ts := httptest.NewServer(fake.handler())
	t.Cleanup(ts.Close)

	cfg := SyncConfig{
		BaseURL:      ts.URL,
		DeviceID:     "dev-a",
		AuthToken:    "test-token",
		Retry:        RetryConfig{MaxAttempts: 1, InitialWait: time.Millisecond},
		StartupDelay: time.Millisecond,
	}
	userID := "u1"
	syncer := NewSyncer(store, NewClient(cfg), userID, cfg)
	syncer.Logger = log.New(&strings.Builder{}, "", 0)

	return &syncerTestEnv{
		t:      t,
		ctx:    t.Context(),
		store:  store,
		fake:   fake,
		syncer: syncer,
		userID: userID,
	}
}

func TestSyncMergesLocalAndRemote(t *testing.T) {
	env := newSyncerTestEnv(t)

	if err := env.store.WriteSnapshot(env.ctx, env.userID, Snapshot{
		CompletedTopics: []string{"a"}, XPTotal: 10,
	}); err != nil {
		t.Fatalf("seed local: %v", err)
	}
	env.fake.setProgress(env.userID, progressWire{
		CompletedSubtopics: []string{"b"}, XPTotal: 25, UpdatedAt: time.Now().UTC(),
	})

	if err := env.syncer.PerformSync(env.ctx); err != nil {
		t.Fatalf("sync: %v", err)
	}

	want := Snapshot{CompletedTopics: []string{"a", "b"}, XPTotal: 25}
	local, err := env.store.Snapshot(env.ctx, env.userID)
	if err != nil {
		t.Fatalf("local snapshot: %v", err)
	}
	if !local.Equal(want) {
		t.Fatalf("local = %+v, want %+v", local, want)
	}

	remote, ok := env.fake.getProgress(env.userID)
	if !ok {
		t.Fatal("remote record missing after sync")
	}
	if !remote.record().Snapshot.Equal(want) {
		t.Fatalf("remote = %+v, want %+v", remote.record().Snapshot, want)
	}
}

func TestSyncPushesLocalWhenRemoteAbsent(t *testing.T) {
	env := newSyncerTestEnv(t)

	seed := Snapshot{CompletedTopics: []string{"intro"}, XPTotal: 40, StreakCount: 1, StreakLastDate: "2026-08-28"}
	if err := env.store.WriteSnapshot(env.ctx, env.userID, seed); err != nil {
		t.Fatalf("seed local: %v", err)
	}

	if err := env.syncer.PerformSync(env.ctx); err != nil {
		t.Fatalf("sync: %v", err)
	}

	remote, ok := env.fake.getProgress(env.userID)
	if !ok {
		t.Fatal("remote record missing after sync")
	}
	if !remote.record().Snapshot.Equal(seed) {
		t.Fatalf("remote = %+v, want %+v", remote.record().Snapshot, seed)
	}
}

func TestSyncDoublePushesWhenMergeChangesRemote(t *testing.T) {
	env := newSyncerTestEnv(t)

	if err := env.store.WriteSnapshot(env.ctx, env.userID, Snapshot{XPTotal: 50}); err != nil {
		t.Fatalf("seed local: %v", err)
	}
	env.fake.setProgress(env.userID, progressWire{XPTotal: 20, UpdatedAt: time.Now().UTC()})

	if err := env.syncer.PerformSync(env.ctx); err != nil {
		t.Fatalf("sync: %v", err)
	}

	// Conditional push (merged differs from remote) plus the
	// unconditional authoritative push, plus the empty profile create.
	if got := env.fake.pushCount(); got != 3 {
		t.Fatalf("push count = %d, want 3", got)
	}
}

func TestInFlightGuardDropsReentrantSync(t *testing.T) {
	env := newSyncerTestEnv(t)

	started := make(chan struct{})
	release := make(chan struct{})
	env.syncer.Events = &SyncEvents{
		OnStart: func() {
			close(started)
			<-release
		},
	}

	done := make(chan error, 1)
	go func() {
		done <- env.syncer.PerformSync(env.ctx)
	}()
	<-started

	// While the first sync is blocked, a second call is dropped.
	if err := env.syncer.PerformSync(env.ctx); err != nil {
		t.Fatalf("dropped sync must not error: %v", err)
	}
	if got := env.fake.pushCount(); got != 0 {
		t.Fatalf("dropped sync must not touch the remote, pushes = %d", got)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first sync: %v", err)
	}
}

func TestSyncFailureFeedsRetryQueue(t *testing.T) {
	env := newSyncerTestEnv(t)
	env.fake.forceStatus(http.StatusInternalServerError)

	err := env.syncer.PerformSync(env.ctx)
	if !errors.Is(err, ErrServerError) {
		t.Fatalf("expected ErrServerError, got %v", err)
	}

	ops, qerr := env.store.PendingSyncs(env.ctx, env.userID)
	if qerr != nil {
		t.Fatalf("pending: %v", qerr)
	}
	if len(ops) != 2 {
		t.Fatalf("expected progress and profile retries, got %v", ops)
	}
	kinds := map[OpKind]bool{}
	for _, op := range ops {
		kinds[op.Kind] = true
	}
	if !kinds[OpProgress] || !kinds[OpProfile] {
		t.Fatalf("queue kinds = %v", ops)
	}
}

func TestProcessQueueCollapsesPendingOps(t *testing.T) {
	env := newSyncerTestEnv(t)

	for range 3 {
		if _, err := env.store.EnqueueSync(env.ctx, OpProgress, env.userID, nil); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}
	if err := env.store.WriteSnapshot(env.ctx, env.userID, Snapshot{XPTotal: 5}); err != nil {
		t.Fatalf("seed local: %v", err)
	}

	if err := env.syncer.ProcessQueue(env.ctx); err != nil {
		t.Fatalf("process queue: %v", err)
	}

	ops, err := env.store.PendingSyncs(env.ctx, env.userID)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(ops) != 0 {
		t.Fatalf("all ops must collapse into one sync, got %v", ops)
	}
	if _, ok := env.fake.getProgress(env.userID); !ok {
		t.Fatal("the collapsed sync never reached the remote")
	}
}

func TestProcessQueueKeepsOpsOnFailure(t *testing.T) {
	env := newSyncerTestEnv(t)

	if _, err := env.store.EnqueueSync(env.ctx, OpProgress, env.userID, nil); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	env.fake.forceStatus(http.StatusInternalServerError)

	if err := env.syncer.ProcessQueue(env.ctx); err == nil {
		t.Fatal("expected failure")
	}
	ops, err := env.store.PendingSyncs(env.ctx, env.userID)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	// The original op survives and the failed attempt queued new ones.
	if len(ops) < 1 {
		t.Fatalf("ops must survive a failed drain, got %v", ops)
	}
}

func TestSyncUnlocksAvatarsFromMergedSnapshot(t *testing.T) {
	env := newSyncerTestEnv(t)

	env.fake.setProgress(env.userID, progressWire{
		XPTotal: 1500, StreakCount: 3, UpdatedAt: time.Now().UTC(),
	})

	if err := env.syncer.PerformSync(env.ctx); err != nil {
		t.Fatalf("sync: %v", err)
	}

	unlocked, err := env.store.UnlockedAvatars(env.ctx, env.userID)
	if err != nil {
		t.Fatalf("unlocked: %v", err)
	}
	want := []string{"1", "2", "3", "4", "5"}
	if len(unlocked) != len(want) {
		t.Fatalf("unlocked = %v, want %v", unlocked, want)
	}
}

func TestConnectivityRestoredTriggersSyncBeforeStart(t *testing.T) {
	env := newSyncerTestEnv(t)

	if err := env.store.WriteSnapshot(env.ctx, env.userID, Snapshot{XPTotal: 5}); err != nil {
		t.Fatalf("seed local: %v", err)
	}
	if _, err := env.store.EnqueueSync(env.ctx, OpProgress, env.userID, nil); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	// The platform can report an online edge before Start has run; the
	// restored trigger must still drain the queue and sync.
	m := env.syncer.Monitor()
	m.SetOnline(false)
	m.SetOnline(true)

	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, ok := env.fake.getProgress(env.userID); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("restored edge never synced to the remote")
		}
		time.Sleep(10 * time.Millisecond)
	}
	for {
		ops, err := env.store.PendingSyncs(env.ctx, env.userID)
		if err != nil {
			t.Fatalf("pending: %v", err)
		}
		if len(ops) == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("queue never drained, got %v", ops)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestProfileSyncLastWriteWins(t *testing.T) {
	env := newSyncerTestEnv(t)

	// Remote profile is newer than the local edit.
	if err := env.store.WriteProfile(env.ctx, env.userID, Profile{
		Name: "Old Name", AvatarID: 1, UpdatedAt: time.Now().Add(-time.Hour).UTC(),
	}); err != nil {
		t.Fatalf("seed profile: %v", err)
	}
	env.fake.mu.Lock()
	env.fake.profiles[env.userID] = profileWire{
		Name: "New Name", AvatarURL: "2", UpdatedAt: time.Now().UTC(),
	}
	env.fake.mu.Unlock()

	if err := env.syncer.PerformSync(env.ctx); err != nil {
		t.Fatalf("sync: %v", err)
	}

	local, err := env.store.Profile(env.ctx, env.userID)
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if local.Name != "New Name" || local.AvatarID != 2 {
		t.Fatalf("remote edit must win: %+v", local)
	}
}
