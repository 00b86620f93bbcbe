package progress

import "time"

// SyncConfig controls the remote client and orchestrator behavior.
type SyncConfig struct {
	BaseURL   string
	DeviceID  string
	AuthToken string
	Timeout   time.Duration
	Retry     RetryConfig // retry settings (zero uses defaults)

	// StartupDelay is how long the orchestrator waits after Start
	// before the first sync attempt. Zero uses the default.
	StartupDelay time.Duration
	// SyncInterval is the periodic full-sync cadence while the app is
	// foregrounded. Zero uses the default.
	SyncInterval time.Duration
	// ProbeInterval is the connectivity monitor's active probe cadence.
	// Zero uses the default.
	ProbeInterval time.Duration

	// OnAuthExpired is called when the remote store rejects the session
	// token as expired. The app should re-authenticate and update the
	// token; queued syncs will succeed on a later attempt.
	OnAuthExpired func()
}

// Defaults for trigger timing.
const (
	defaultStartupDelay  = 2 * time.Second
	defaultSyncInterval  = 5 * time.Minute
	defaultProbeInterval = 30 * time.Second
)

// GetRetryConfig returns Retry config or defaults if not set.
func (c SyncConfig) GetRetryConfig() RetryConfig {
	if c.Retry.MaxAttempts == 0 {
		return DefaultRetryConfig()
	}
	return c.Retry
}

func (c SyncConfig) startupDelay() time.Duration {
	if c.StartupDelay > 0 {
		return c.StartupDelay
	}
	return defaultStartupDelay
}

func (c SyncConfig) syncInterval() time.Duration {
	if c.SyncInterval > 0 {
		return c.SyncInterval
	}
	return defaultSyncInterval
}

func (c SyncConfig) probeInterval() time.Duration {
	if c.ProbeInterval > 0 {
		return c.ProbeInterval
	}
	return defaultProbeInterval
}
