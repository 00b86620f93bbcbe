// ABOUTME: Value types for learning progress and profile records.
// ABOUTME: Snapshots are plain values; the remote record adds server timestamps.
package progress

import (
	"slices"
	"time"
)

// Snapshot is the full value of a user's learning progress at one
// point in time. CompletedTopics is a set kept as a sorted slice.
type Snapshot struct {
	CompletedTopics []string `json:"completed_subtopics"`
	XPTotal         int      `json:"xp_total"`
	StreakCount     int      `json:"streak_count"`
	StreakLastDate  string   `json:"streak_last_date,omitempty"` // ISO YYYY-MM-DD, "" when unset
}

// RemoteRecord is a Snapshot as stored remotely, with server-assigned
// timestamps.
type RemoteRecord struct {
	Snapshot
	UpdatedAt    time.Time `json:"updated_at"`
	LastSyncedAt time.Time `json:"last_synced_at"`
}

// Profile holds user-editable scalar fields. AvatarID 0 means unset;
// valid ids are 1 through 5.
type Profile struct {
	Name            string    `json:"name"`
	AvatarID        int       `json:"avatar_id,omitempty"`
	UnlockedAvatars []string  `json:"unlocked_avatars,omitempty"`
	UpdatedAt       time.Time `json:"updated_at,omitempty"`
}

// HasTopic reports set membership.
func (s Snapshot) HasTopic(slug string) bool {
	_, found := slices.BinarySearch(s.CompletedTopics, slug)
	return found
}

// AddTopic returns a copy with slug inserted, keeping the set sorted.
// Adding an existing slug is a no-op.
func (s Snapshot) AddTopic(slug string) Snapshot {
	idx, found := slices.BinarySearch(s.CompletedTopics, slug)
	if found {
		return s
	}
	out := s
	out.CompletedTopics = slices.Insert(slices.Clone(s.CompletedTopics), idx, slug)
	return out
}

// Equal compares snapshots by value. Nil and empty topic sets are the
// same thing.
func (s Snapshot) Equal(other Snapshot) bool {
	if s.XPTotal != other.XPTotal ||
		s.StreakCount != other.StreakCount ||
		s.StreakLastDate != other.StreakLastDate {
		return false
	}
	if len(s.CompletedTopics) != len(other.CompletedTopics) {
		return false
	}
	for i := range s.CompletedTopics {
		if s.CompletedTopics[i] != other.CompletedTopics[i] {
			return false
		}
	}
	return true
}

// Equal compares the user-visible profile fields. UpdatedAt is a sync
// bookkeeping value and does not participate.
func (p Profile) Equal(other Profile) bool {
	if p.Name != other.Name || p.AvatarID != other.AvatarID {
		return false
	}
	if len(p.UnlockedAvatars) != len(other.UnlockedAvatars) {
		return false
	}
	for i := range p.UnlockedAvatars {
		if p.UnlockedAvatars[i] != other.UnlockedAvatars[i] {
			return false
		}
	}
	return true
}

// normalizeTopics sorts and dedupes a topic list coming off the wire
// or out of storage, so set operations stay valid.
func normalizeTopics(topics []string) []string {
	if len(topics) == 0 {
		return nil
	}
	out := slices.Clone(topics)
	slices.Sort(out)
	return slices.Compact(out)
}
