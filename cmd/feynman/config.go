package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/mustafaocakxyz/feynman-sync/progress"
)

// runtimeConfig captures CLI flag inputs shared across subcommands.
// Every flag falls back to a FEYNMAN_* environment variable so the
// binary works from a .env file without repeating flags.
type runtimeConfig struct {
	DBPath    string
	ServerURL string
	AuthToken string
	DeviceID  string
	UserID    string
}

// bindFlags attaches the shared flags to the provided FlagSet.
func (rc *runtimeConfig) bindFlags(fs *flag.FlagSet) {
	fs.StringVar(&rc.DBPath, "db", envOr("FEYNMAN_DB", defaultDBPath()), "path to local progress SQLite store")
	fs.StringVar(&rc.ServerURL, "server", os.Getenv("FEYNMAN_SERVER"), "remote store base URL")
	fs.StringVar(&rc.AuthToken, "token", os.Getenv("FEYNMAN_TOKEN"), "bearer token")
	fs.StringVar(&rc.DeviceID, "device", os.Getenv("FEYNMAN_DEVICE"), "stable device identifier")
	fs.StringVar(&rc.UserID, "user", os.Getenv("FEYNMAN_USER"), "user id owning the progress")
}

// syncConfig converts the runtime config into the engine's SyncConfig.
// The device id is generated once and persisted next to the database so
// the remote store sees a stable identity across invocations.
func (rc *runtimeConfig) syncConfig() (progress.SyncConfig, error) {
	deviceID := rc.DeviceID
	if deviceID == "" {
		id, err := loadOrCreateDeviceID(rc.DBPath)
		if err != nil {
			return progress.SyncConfig{}, fmt.Errorf("device id: %w", err)
		}
		deviceID = id
	}
	return progress.SyncConfig{
		BaseURL:   strings.TrimRight(rc.ServerURL, "/"),
		DeviceID:  deviceID,
		AuthToken: rc.AuthToken,
	}, nil
}

func (rc *runtimeConfig) requireUser() (string, error) {
	if rc.UserID == "" {
		return "", fmt.Errorf("missing -user (or FEYNMAN_USER)")
	}
	return rc.UserID, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func defaultDBPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "progress.db"
	}
	return filepath.Join(dir, "feynman", "progress.db")
}

func loadOrCreateDeviceID(dbPath string) (string, error) {
	path := filepath.Join(filepath.Dir(dbPath), "device_id")
	if raw, err := os.ReadFile(path); err == nil {
		if id := strings.TrimSpace(string(raw)); id != "" {
			return id, nil
		}
	}
	id := uuid.NewString()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0o600); err != nil {
		return "", err
	}
	return id, nil
}
