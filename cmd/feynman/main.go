package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/mustafaocakxyz/feynman-sync/progress"
)

func main() {
	log.SetFlags(0)
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		usage()
		return
	}

	switch os.Args[1] {
	case "status":
		statusCmd()
	case "complete":
		completeCmd()
	case "xp":
		xpCmd()
	case "activity":
		activityCmd()
	case "profile":
		profileCmd()
	case "sync":
		syncCmd()
	case "queue":
		queueCmd()
	case "logout":
		logoutCmd()
	default:
		usage()
	}
}

func statusCmd() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	var cfg runtimeConfig
	cfg.bindFlags(fs)
	mustParse(os.Args[2:], fs)

	if err := runStore(cfg, func(ctx context.Context, store *progress.Store, user string) error {
		snap, err := store.Snapshot(ctx, user)
		if err != nil {
			return err
		}
		streak, lastDate, err := store.StreakState(ctx, user)
		if err != nil {
			return err
		}
		avatars, err := store.UnlockedAvatars(ctx, user)
		if err != nil {
			return err
		}
		ops, err := store.PendingSyncs(ctx, user)
		if err != nil {
			return err
		}

		fmt.Printf("xp:       %d\n", snap.XPTotal)
		fmt.Printf("streak:   %d (last active %s)\n", streak, orDash(lastDate))
		fmt.Printf("topics:   %s\n", orDash(strings.Join(snap.CompletedTopics, ", ")))
		fmt.Printf("avatars:  %s\n", orDash(strings.Join(avatars, ", ")))
		fmt.Printf("pending:  %d queued sync op(s)\n", len(ops))
		return nil
	}); err != nil {
		log.Fatal(err)
	}
}

func completeCmd() {
	fs := flag.NewFlagSet("complete", flag.ExitOnError)
	var cfg runtimeConfig
	cfg.bindFlags(fs)
	topic := fs.String("topic", "", "subtopic slug to mark completed")
	xp := fs.Float64("award", 0, "XP to award when newly completed")
	mustParse(os.Args[2:], fs)

	if *topic == "" {
		log.Fatal("missing -topic")
	}
	if err := runStore(cfg, func(ctx context.Context, store *progress.Store, user string) error {
		added, err := store.MarkCompleted(ctx, user, *topic)
		if err != nil {
			return err
		}
		if !added {
			fmt.Printf("%s already completed\n", *topic)
			return nil
		}
		if *xp > 0 {
			if _, err := store.AddXP(ctx, user, *xp); err != nil {
				return err
			}
		}
		if _, err := store.RecordActivity(ctx, user); err != nil {
			return err
		}
		fmt.Printf("completed %s\n", *topic)
		return syncIfConfigured(ctx, cfg, store, user)
	}); err != nil {
		log.Fatal(err)
	}
}

func xpCmd() {
	fs := flag.NewFlagSet("xp", flag.ExitOnError)
	var cfg runtimeConfig
	cfg.bindFlags(fs)
	amount := fs.Float64("amount", 0, "XP to add")
	mustParse(os.Args[2:], fs)

	if err := runStore(cfg, func(ctx context.Context, store *progress.Store, user string) error {
		snap, err := store.AddXP(ctx, user, *amount)
		if err != nil {
			return err
		}
		fmt.Printf("xp: %d\n", snap.XPTotal)
		return syncIfConfigured(ctx, cfg, store, user)
	}); err != nil {
		log.Fatal(err)
	}
}

func activityCmd() {
	fs := flag.NewFlagSet("activity", flag.ExitOnError)
	var cfg runtimeConfig
	cfg.bindFlags(fs)
	mustParse(os.Args[2:], fs)

	if err := runStore(cfg, func(ctx context.Context, store *progress.Store, user string) error {
		snap, err := store.RecordActivity(ctx, user)
		if err != nil {
			return err
		}
		fmt.Printf("streak: %d (last active %s)\n", snap.StreakCount, snap.StreakLastDate)
		return syncIfConfigured(ctx, cfg, store, user)
	}); err != nil {
		log.Fatal(err)
	}
}

func profileCmd() {
	fs := flag.NewFlagSet("profile", flag.ExitOnError)
	var cfg runtimeConfig
	cfg.bindFlags(fs)
	name := fs.String("name", "", "display name")
	avatar := fs.Int("avatar", 0, "avatar id")
	mustParse(os.Args[2:], fs)

	if err := runStore(cfg, func(ctx context.Context, store *progress.Store, user string) error {
		p, err := store.Profile(ctx, user)
		if err != nil {
			return err
		}
		if *name == "" && *avatar == 0 {
			fmt.Printf("name:   %s\n", orDash(p.Name))
			fmt.Printf("avatar: %d\n", p.AvatarID)
			return nil
		}
		if *name != "" {
			p.Name = *name
		}
		if *avatar != 0 {
			p.AvatarID = *avatar
		}
		p.UpdatedAt = time.Now().UTC()
		if err := store.WriteProfile(ctx, user, p); err != nil {
			return err
		}
		fmt.Printf("profile updated\n")
		return syncIfConfigured(ctx, cfg, store, user)
	}); err != nil {
		log.Fatal(err)
	}
}

func syncCmd() {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	var cfg runtimeConfig
	cfg.bindFlags(fs)
	mustParse(os.Args[2:], fs)

	if err := runStore(cfg, func(ctx context.Context, store *progress.Store, user string) error {
		syncer, err := newSyncer(cfg, store, user)
		if err != nil {
			return err
		}
		if err := syncer.ProcessQueue(ctx); err != nil {
			log.Printf("drain queue: %v", err)
		}
		if err := syncer.PerformSync(ctx); err != nil {
			return err
		}
		fmt.Println("synced")
		return nil
	}); err != nil {
		log.Fatal(err)
	}
}

func queueCmd() {
	fs := flag.NewFlagSet("queue", flag.ExitOnError)
	var cfg runtimeConfig
	cfg.bindFlags(fs)
	clear := fs.Bool("clear", false, "discard all pending sync ops")
	mustParse(os.Args[2:], fs)

	if err := runStore(cfg, func(ctx context.Context, store *progress.Store, user string) error {
		if *clear {
			return store.ClearSyncs(ctx, user)
		}
		ops, err := store.PendingSyncs(ctx, user)
		if err != nil {
			return err
		}
		for _, op := range ops {
			fmt.Printf("%s  %-8s  enqueued %s\n", op.ID, op.Kind, op.EnqueuedAt.Format(time.RFC3339))
		}
		if len(ops) == 0 {
			fmt.Println("queue empty")
		}
		return nil
	}); err != nil {
		log.Fatal(err)
	}
}

// logoutCmd discards the user's pending sync ops. Local progress stays
// on disk; a later login merges it back with the remote record.
func logoutCmd() {
	fs := flag.NewFlagSet("logout", flag.ExitOnError)
	var cfg runtimeConfig
	cfg.bindFlags(fs)
	mustParse(os.Args[2:], fs)

	if err := runStore(cfg, func(ctx context.Context, store *progress.Store, user string) error {
		if err := store.ClearSyncs(ctx, user); err != nil {
			return err
		}
		fmt.Println("logged out")
		return nil
	}); err != nil {
		log.Fatal(err)
	}
}

func runStore(cfg runtimeConfig, fn func(context.Context, *progress.Store, string) error) (err error) {
	user, err := cfg.requireUser()
	if err != nil {
		return err
	}
	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	store, err := progress.OpenStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if cerr := store.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(context.Background(), store, user)
}

func newSyncer(cfg runtimeConfig, store *progress.Store, user string) (*progress.Syncer, error) {
	sc, err := cfg.syncConfig()
	if err != nil {
		return nil, err
	}
	sc.OnAuthExpired = func() {
		log.Print("session expired; set a fresh FEYNMAN_TOKEN")
	}
	return progress.NewSyncer(store, progress.NewClient(sc), user, sc), nil
}

// syncIfConfigured runs a best-effort sync after a local write. Offline
// or failing syncs land in the retry queue and never fail the command.
func syncIfConfigured(ctx context.Context, cfg runtimeConfig, store *progress.Store, user string) error {
	if cfg.ServerURL == "" || cfg.AuthToken == "" {
		return nil
	}
	syncer, err := newSyncer(cfg, store, user)
	if err != nil {
		return err
	}
	if err := syncer.PerformSync(ctx); err != nil {
		if errors.Is(err, progress.ErrTokenExpired) {
			log.Print("sync deferred: session expired")
		} else {
			log.Printf("sync deferred: %v", err)
		}
	}
	return nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func mustParse(args []string, fs *flag.FlagSet) {
	if err := fs.Parse(args); err != nil {
		log.Fatal(err)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "feynman commands: status | complete | xp | activity | profile | sync | queue | logout\n")
}
