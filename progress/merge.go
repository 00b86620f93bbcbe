// ABOUTME: Conflict resolution for progress snapshots and profiles.
// ABOUTME: Progress merges field-wise (union/max); profiles are last-write-wins.
package progress

// Merge reconciles a local and a remote snapshot into one.
//
// The policy is field-wise and ignores which side is newer:
//   - completed topics: set union (a topic completed anywhere stays completed)
//   - XP total: max of the two totals (never double-counts, never decreases;
//     XP earned concurrently on two devices between syncs is under-counted,
//     a known tradeoff of max over additive merge)
//   - streak count: max
//   - streak last date: later ISO date; a missing date loses
//
// Merge is commutative and idempotent: Merge(a, b) == Merge(b, a) and
// Merge(x, x) == x.
func Merge(local, remote Snapshot) Snapshot {
	return Snapshot{
		CompletedTopics: unionTopics(local.CompletedTopics, remote.CompletedTopics),
		XPTotal:         max(local.XPTotal, remote.XPTotal),
		StreakCount:     max(local.StreakCount, remote.StreakCount),
		StreakLastDate:  laterDate(local.StreakLastDate, remote.StreakLastDate),
	}
}

// MergeProfile applies last-write-wins to the scalar fields (name,
// avatar) based on each side's updated timestamp, and unions the
// monotonic unlocked-avatar set. Timestamp ties go to the remote side.
func MergeProfile(local, remote Profile) Profile {
	out := remote
	if local.UpdatedAt.After(remote.UpdatedAt) {
		out = local
	}
	out.UnlockedAvatars = unionTopics(local.UnlockedAvatars, remote.UnlockedAvatars)
	return out
}

func unionTopics(a, b []string) []string {
	if len(a) == 0 && len(b) == 0 {
		return nil
	}
	merged := make([]string, 0, len(a)+len(b))
	merged = append(merged, a...)
	merged = append(merged, b...)
	return normalizeTopics(merged)
}

// laterDate picks the chronologically later of two ISO dates.
// Lexicographic comparison is correct for YYYY-MM-DD.
func laterDate(a, b string) string {
	if a == "" {
		return b
	}
	if b == "" {
		return a
	}
	if a > b {
		return a
	}
	return b
}
