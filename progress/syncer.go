// ABOUTME: Sync orchestrator driving the pull-merge-push cycle per user.
// ABOUTME: Owns the retry queue and is the sole caller of the remote adapter.
package progress

import (
	"context"
	"errors"
	"log"
	"sync/atomic"
	"time"
)

// SyncEvents provides hooks for observability during sync operations.
type SyncEvents struct {
	OnStart    func()                               // sync cycle begins
	OnMerge    func(local, remote, merged Snapshot) // after reconciliation
	OnPush     func(snap Snapshot)                  // after each remote write
	OnComplete func(err error)                      // cycle finished
}

// Syncer keeps one user's local state reconciled with the remote
// store. At most one sync is in flight at a time; re-entrant triggers
// are dropped, not queued, and an in-flight sync always runs to
// completion.
type Syncer struct {
	store   *Store
	client  *Client
	monitor *Monitor
	userID  string
	cfg     SyncConfig

	// Events and Logger are optional; set them before Start.
	Events *SyncEvents
	Logger *log.Logger

	inFlight   atomic.Bool
	foreground atomic.Bool

	// baseCtx backs the fire-and-forget triggers. Platform callbacks
	// (SetOnline, AppForegrounded) can race Start, so access is atomic.
	baseCtx atomic.Pointer[context.Context]
}

// NewSyncer wires the orchestrator for one user. It owns a
// connectivity monitor whose online edge triggers a queue drain and a
// delayed full sync.
func NewSyncer(store *Store, client *Client, userID string, cfg SyncConfig) *Syncer {
	s := &Syncer{
		store:  store,
		client: client,
		userID: userID,
		cfg:    cfg,
	}
	bg := context.Background()
	s.baseCtx.Store(&bg)
	s.foreground.Store(true)
	s.monitor = NewMonitor(client, cfg, s.connectivityRestored)
	return s
}

// Monitor exposes the connectivity monitor so the platform layer can
// feed online/offline transition events into SetOnline.
func (s *Syncer) Monitor() *Monitor { return s.monitor }

// backgroundCtx is the context for trigger goroutines: the Start
// context once running, context.Background before that.
func (s *Syncer) backgroundCtx() context.Context { return *s.baseCtx.Load() }

// Start launches the background triggers: a startup sync after a short
// delay, the periodic timer while foregrounded, and the probe loop.
// All run until ctx is done.
func (s *Syncer) Start(ctx context.Context) {
	s.baseCtx.Store(&ctx)
	s.monitor.Start(ctx)

	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.startupDelay()):
		}
		if s.monitor.IsOnline() {
			s.syncInBackground(ctx, "startup")
		}

		ticker := time.NewTicker(s.cfg.syncInterval())
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if s.foreground.Load() && s.monitor.IsOnline() {
					s.syncInBackground(ctx, "periodic")
				}
			}
		}
	}()
}

// AppForegrounded marks the background-to-active edge; it triggers a
// sync when online.
func (s *Syncer) AppForegrounded() {
	s.foreground.Store(true)
	if s.monitor.IsOnline() {
		go s.syncInBackground(s.backgroundCtx(), "foreground")
	}
}

// AppBackgrounded pauses the periodic trigger. An in-flight sync is
// not cancelled.
func (s *Syncer) AppBackgrounded() {
	s.foreground.Store(false)
}

// connectivityRestored drains the retry queue immediately, then runs a
// full sync after a short delay.
func (s *Syncer) connectivityRestored() {
	go func() {
		ctx := s.backgroundCtx()
		if err := s.ProcessQueue(ctx); err != nil {
			s.logf("sync: drain queue: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.startupDelay()):
		}
		s.syncInBackground(ctx, "connectivity")
	}()
}

// syncInBackground is the fire-and-forget path used by automatic
// triggers: failures are logged and land in the retry queue, never
// surfaced to the UI.
func (s *Syncer) syncInBackground(ctx context.Context, trigger string) {
	if _, err := s.sync(ctx, trigger); err != nil {
		s.logf("sync: %s trigger: %v", trigger, err)
	}
}

// PerformSync runs one full sync cycle now. Manual pull-to-refresh
// semantics: safe to call concurrently with automatic triggers; a call
// while a sync is already running is dropped.
func (s *Syncer) PerformSync(ctx context.Context) error {
	_, err := s.sync(ctx, "manual")
	return err
}

// sync runs the progress and profile cycles under the in-flight guard.
// ran is false when the call was dropped because a sync was running.
func (s *Syncer) sync(ctx context.Context, trigger string) (ran bool, err error) {
	if !s.inFlight.CompareAndSwap(false, true) {
		return false, nil
	}
	defer s.inFlight.Store(false)

	if s.Events != nil && s.Events.OnStart != nil {
		s.Events.OnStart()
	}

	progressErr := s.syncProgress(ctx)
	if progressErr != nil {
		s.enqueueRetry(ctx, OpProgress, trigger, progressErr)
	}
	profileErr := s.syncProfile(ctx)
	if profileErr != nil {
		s.enqueueRetry(ctx, OpProfile, trigger, profileErr)
	}

	err = errors.Join(progressErr, profileErr)
	if s.Events != nil && s.Events.OnComplete != nil {
		s.Events.OnComplete(err)
	}
	return true, err
}

// syncProgress is the full pull-merge-push cycle for the progress
// record.
func (s *Syncer) syncProgress(ctx context.Context) error {
	local, err := s.store.Snapshot(ctx, s.userID)
	if err != nil {
		// Local reads are data-loss-tolerant: log and sync from zero.
		s.logf("sync: local snapshot: %v", err)
		local = Snapshot{}
	}

	remote, err := s.client.FetchProgress(ctx, s.userID)
	if errors.Is(err, ErrNotFound) {
		// New user remotely: push local as-is and stop.
		return s.pushProgress(ctx, local)
	}
	if err != nil {
		return err
	}

	merged := Merge(local, remote.Snapshot)
	if s.Events != nil && s.Events.OnMerge != nil {
		s.Events.OnMerge(local, remote.Snapshot, merged)
	}

	// The merge writes xp_total directly; topics arriving from another
	// device are marked completed without re-awarding their XP.
	if err := s.store.WriteSnapshot(ctx, s.userID, merged); err != nil {
		return err
	}
	if unlocks := EvaluateUnlocks(merged); len(unlocks) > 0 {
		if _, err := s.store.UnlockAvatars(ctx, s.userID, unlocks...); err != nil {
			s.logf("sync: unlock avatars: %v", err)
		}
	}

	if !merged.Equal(remote.Snapshot) {
		if err := s.pushProgress(ctx, merged); err != nil {
			return err
		}
	}

	// Second, unconditional push of the local snapshot as authoritative.
	// Intentional defense against writers racing between pull and push;
	// the remote write may happen twice per cycle.
	latest, err := s.store.Snapshot(ctx, s.userID)
	if err != nil {
		latest = merged
	}
	return s.pushProgress(ctx, latest)
}

func (s *Syncer) pushProgress(ctx context.Context, snap Snapshot) error {
	if _, err := s.client.PushProgress(ctx, s.userID, snap); err != nil {
		return err
	}
	if s.Events != nil && s.Events.OnPush != nil {
		s.Events.OnPush(snap)
	}
	return nil
}

// syncProfile is the independent pull-then-push cycle for the profile
// record: last writer wins on scalar fields, unlocked avatars union.
func (s *Syncer) syncProfile(ctx context.Context) error {
	local, err := s.store.Profile(ctx, s.userID)
	if err != nil {
		s.logf("sync: local profile: %v", err)
		local = Profile{}
	}

	remote, err := s.client.FetchProfile(ctx, s.userID)
	if errors.Is(err, ErrNotFound) {
		_, err := s.client.PushProfile(ctx, s.userID, local)
		return err
	}
	if err != nil {
		return err
	}

	merged := MergeProfile(local, *remote)
	if err := s.store.WriteProfile(ctx, s.userID, merged); err != nil {
		return err
	}
	if merged.Equal(*remote) {
		return nil
	}
	_, err = s.client.PushProfile(ctx, s.userID, merged)
	return err
}

// ProcessQueue drains the user's pending retry operations. All pending
// entries collapse into one full sync; their ids are removed only when
// that sync succeeds.
func (s *Syncer) ProcessQueue(ctx context.Context) error {
	ops, err := s.store.PendingSyncs(ctx, s.userID)
	if err != nil {
		return err
	}
	if len(ops) == 0 {
		return nil
	}

	ran, err := s.sync(ctx, "queue")
	if err != nil {
		return err
	}
	if !ran {
		return nil
	}

	ids := make([]string, 0, len(ops))
	for _, op := range ops {
		ids = append(ids, op.ID)
	}
	return s.store.RemoveSyncs(ctx, ids)
}

// enqueueRetry records a failed sync for a later attempt. The payload
// is informational; processing re-runs a full sync.
func (s *Syncer) enqueueRetry(ctx context.Context, kind OpKind, trigger string, cause error) {
	payload := map[string]string{"trigger": trigger, "error": cause.Error()}
	if _, err := s.store.EnqueueSync(ctx, kind, s.userID, payload); err != nil {
		s.logf("sync: enqueue retry: %v", err)
	}
}

func (s *Syncer) logf(format string, args ...any) {
	if s.Logger != nil {
		s.Logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}
