// ABOUTME: Avatar wardrobe unlocks gated by XP and streak thresholds.
// ABOUTME: The unlocked set is monotonic; reaching a threshold is permanent.
package progress

// Unlock thresholds for the fixed avatar wardrobe. Avatars 1-3 are
// available to everyone.
const (
	avatarXPThresholdID = "4"
	avatarXPThreshold   = 1000

	avatarStreakThresholdID = "5"
	avatarStreakThreshold   = 3
)

// DefaultAvatars are unlocked from the first launch.
var DefaultAvatars = []string{"1", "2", "3"}

// EvaluateUnlocks returns every avatar id the snapshot qualifies for.
// Pure: callers union the result into the stored set, so an unlock is
// never revoked even if a merged snapshot later reads below threshold.
func EvaluateUnlocks(snap Snapshot) []string {
	unlocked := make([]string, 0, len(DefaultAvatars)+2)
	unlocked = append(unlocked, DefaultAvatars...)
	if snap.XPTotal >= avatarXPThreshold {
		unlocked = append(unlocked, avatarXPThresholdID)
	}
	if snap.StreakCount >= avatarStreakThreshold {
		unlocked = append(unlocked, avatarStreakThresholdID)
	}
	return unlocked
}
