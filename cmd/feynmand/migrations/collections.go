// ABOUTME: Base schema for feynmand: one progress and one profile record per user.
// ABOUTME: Safe to run on existing databases - skips collections that already exist.

package migrations

import (
	"github.com/pocketbase/pocketbase/core"
	m "github.com/pocketbase/pocketbase/migrations"
)

func init() {
	m.Register(func(app core.App) error {
		if _, err := app.FindCollectionByNameOrId("progress"); err != nil {
			progress := core.NewBaseCollection("progress")
			progress.Fields.Add(
				&core.TextField{
					Name:     "user_id",
					Required: true,
				},
				&core.TextField{
					Name: "completed_subtopics",
					Max:  100000,
				},
				&core.NumberField{
					Name: "xp_total",
				},
				&core.NumberField{
					Name: "streak_count",
				},
				&core.TextField{
					Name: "streak_last_date",
					Max:  10, // ISO date, YYYY-MM-DD
				},
				&core.DateField{
					Name: "updated_at",
				},
				&core.DateField{
					Name: "last_synced_at",
				},
			)
			progress.AddIndex("idx_progress_user_id", true, "user_id", "")
			if err := app.Save(progress); err != nil {
				return err
			}
		}

		if _, err := app.FindCollectionByNameOrId("profiles"); err != nil {
			profiles := core.NewBaseCollection("profiles")
			profiles.Fields.Add(
				&core.TextField{
					Name:     "user_id",
					Required: true,
				},
				&core.TextField{
					Name: "name",
					Max:  200,
				},
				&core.TextField{
					Name: "avatar_url",
					Max:  200,
				},
				&core.TextField{
					Name: "unlocked_avatars",
					Max:  10000,
				},
				&core.DateField{
					Name: "updated_at",
				},
			)
			profiles.AddIndex("idx_profiles_user_id", true, "user_id", "")
			if err := app.Save(profiles); err != nil {
				return err
			}
		}

		return nil
	}, func(app core.App) error {
		for _, name := range []string{"progress", "profiles"} {
			col, err := app.FindCollectionByNameOrId(name)
			if err != nil {
				continue
			}
			if err := app.Delete(col); err != nil {
				return err
			}
		}
		return nil
	})
}
