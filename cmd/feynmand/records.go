// ABOUTME: Handlers for the per-user progress and profile records.
// ABOUTME: GET returns the stored record, PUT upserts with a server-assigned updated_at.

package main

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/pocketbase/pocketbase/core"
)

// progressBody is the progress record wire shape.
type progressBody struct {
	CompletedSubtopics []string  `json:"completed_subtopics"`
	XPTotal            int       `json:"xp_total"`
	StreakCount        int       `json:"streak_count"`
	StreakLastDate     *string   `json:"streak_last_date"`
	UpdatedAt          time.Time `json:"updated_at"`
	LastSyncedAt       time.Time `json:"last_synced_at"`
}

// profileBody is the profile record wire shape. avatar_url carries the
// avatar id enum; the field name is kept for client compatibility.
type profileBody struct {
	Name            string    `json:"name"`
	AvatarURL       string    `json:"avatar_url,omitempty"`
	UnlockedAvatars []string  `json:"unlocked_avatars,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	userID, okUser := s.userFromPath(w, r, "/v1/progress/")
	if !okUser {
		return
	}

	switch r.Method {
	case http.MethodGet:
		rec, err := s.findRecord("progress", userID)
		if err != nil {
			fail(w, http.StatusNotFound, "no progress record")
			return
		}
		ok(w, progressFromRecord(rec))
	case http.MethodPut:
		var body progressBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			fail(w, http.StatusBadRequest, "invalid json")
			return
		}
		stored, err := s.upsertProgress(userID, body)
		if err != nil {
			log.Printf("upsert progress for %s: %v", userID, err)
			fail(w, http.StatusInternalServerError, "db error")
			return
		}
		ok(w, stored)
	default:
		fail(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	userID, okUser := s.userFromPath(w, r, "/v1/profile/")
	if !okUser {
		return
	}

	switch r.Method {
	case http.MethodGet:
		rec, err := s.findRecord("profiles", userID)
		if err != nil {
			fail(w, http.StatusNotFound, "no profile record")
			return
		}
		ok(w, profileFromRecord(rec))
	case http.MethodPut:
		var body profileBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			fail(w, http.StatusBadRequest, "invalid json")
			return
		}
		stored, err := s.upsertProfile(userID, body)
		if err != nil {
			log.Printf("upsert profile for %s: %v", userID, err)
			fail(w, http.StatusInternalServerError, "db error")
			return
		}
		ok(w, stored)
	default:
		fail(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) findRecord(collection, userID string) (*core.Record, error) {
	col, err := s.app.FindCollectionByNameOrId(collection)
	if err != nil {
		return nil, err
	}
	return s.app.FindFirstRecordByFilter(col, "user_id = {:user_id}", map[string]any{"user_id": userID})
}

// upsertProgress writes the record inside a transaction so concurrent
// pushes from two devices cannot create duplicate rows for one user.
func (s *Server) upsertProgress(userID string, body progressBody) (progressBody, error) {
	var stored progressBody
	err := s.app.RunInTransaction(func(txApp core.App) error {
		col, err := txApp.FindCollectionByNameOrId("progress")
		if err != nil {
			return err
		}
		rec, err := txApp.FindFirstRecordByFilter(col, "user_id = {:user_id}", map[string]any{"user_id": userID})
		if err != nil {
			rec = core.NewRecord(col)
			rec.Set("user_id", userID)
		}

		topics, err := json.Marshal(body.CompletedSubtopics)
		if err != nil {
			return err
		}
		rec.Set("completed_subtopics", string(topics))
		rec.Set("xp_total", body.XPTotal)
		rec.Set("streak_count", body.StreakCount)
		if body.StreakLastDate != nil {
			rec.Set("streak_last_date", *body.StreakLastDate)
		} else {
			rec.Set("streak_last_date", "")
		}
		rec.Set("last_synced_at", body.LastSyncedAt)
		// The server owns updated_at; whatever the client sent is ignored.
		rec.Set("updated_at", time.Now().UTC())
		if err := txApp.Save(rec); err != nil {
			return err
		}
		stored = progressFromRecord(rec)
		return nil
	})
	return stored, err
}

func (s *Server) upsertProfile(userID string, body profileBody) (profileBody, error) {
	var stored profileBody
	err := s.app.RunInTransaction(func(txApp core.App) error {
		col, err := txApp.FindCollectionByNameOrId("profiles")
		if err != nil {
			return err
		}
		rec, err := txApp.FindFirstRecordByFilter(col, "user_id = {:user_id}", map[string]any{"user_id": userID})
		if err != nil {
			rec = core.NewRecord(col)
			rec.Set("user_id", userID)
		}

		avatars, err := json.Marshal(body.UnlockedAvatars)
		if err != nil {
			return err
		}
		rec.Set("name", body.Name)
		rec.Set("avatar_url", body.AvatarURL)
		rec.Set("unlocked_avatars", string(avatars))
		rec.Set("updated_at", time.Now().UTC())
		if err := txApp.Save(rec); err != nil {
			return err
		}
		stored = profileFromRecord(rec)
		return nil
	})
	return stored, err
}

func progressFromRecord(rec *core.Record) progressBody {
	body := progressBody{
		CompletedSubtopics: stringSliceField(rec, "completed_subtopics"),
		XPTotal:            rec.GetInt("xp_total"),
		StreakCount:        rec.GetInt("streak_count"),
		UpdatedAt:          rec.GetDateTime("updated_at").Time(),
		LastSyncedAt:       rec.GetDateTime("last_synced_at").Time(),
	}
	if d := rec.GetString("streak_last_date"); d != "" {
		body.StreakLastDate = &d
	}
	return body
}

func profileFromRecord(rec *core.Record) profileBody {
	return profileBody{
		Name:            rec.GetString("name"),
		AvatarURL:       rec.GetString("avatar_url"),
		UnlockedAvatars: stringSliceField(rec, "unlocked_avatars"),
		UpdatedAt:       rec.GetDateTime("updated_at").Time(),
	}
}

// stringSliceField reads a JSON-encoded string array stored in a text
// field. A corrupt or empty value reads as nil.
func stringSliceField(rec *core.Record, key string) []string {
	raw := rec.GetString(key)
	if raw == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}
