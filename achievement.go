package main

// Achievement definitions
type AchievementDef struct {
	ID          string
	Name        string
	Description string
}

var Achievements = []AchievementDef{
	{"first_tag", "First Tag", "Pass IT on for the first time"},
	{"tag_veteran", "Tag Veteran", "Pass IT on 100 times"},
	{"longest_chase", "Longest Chase", "Stay IT for a full minute"},
	{"marathon", "Marathon", "Spend 10 minutes as IT in total"},
}

// CheckAchievements unlocks whatever the account's stats now qualify for.
// Returns the newly unlocked achievements.
func CheckAchievements(db *DB, username string) []AchievementDef {
	if db == nil || username == "" {
		return nil
	}

	stats, err := db.GetStats(username)
	if err != nil || stats == nil {
		return nil
	}

	existing, err := db.GetAchievements(username)
	if err != nil {
		return nil
	}
	has := make(map[string]bool, len(existing))
	for _, a := range existing {
		has[a] = true
	}

	var unlocked []AchievementDef

	check := func(id string) bool {
		if has[id] {
			return false
		}
		switch id {
		case "first_tag":
			return stats.TotalTags >= 1
		case "tag_veteran":
			return stats.TotalTags >= 100
		case "longest_chase":
			return stats.LongestHold >= 60
		case "marathon":
			return stats.TotalTimeIt >= 600
		}
		return false
	}

	for _, def := range Achievements {
		if check(def.ID) {
			if newlyUnlocked, err := db.UnlockAchievement(username, def.ID); err == nil && newlyUnlocked {
				unlocked = append(unlocked, def)
			}
		}
	}

	return unlocked
}
