package main

import (
	"sort"
	"time"
)

// LeaderboardEntry is one row of the IT-time leaderboard
type LeaderboardEntry struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Seconds float64 `json:"seconds"`
	It      bool    `json:"it"`
}

// LeaderboardSnapshot is derived on demand and never stored
type LeaderboardSnapshot struct {
	Entries []LeaderboardEntry
	At      time.Time
}

// BuildLeaderboard ranks every present player by effective IT seconds,
// highest first, ties broken by ID.
func BuildLeaderboard(registry *Registry, ledger *ItLedger, now time.Time) LeaderboardSnapshot {
	players := registry.Players()
	entries := make([]LeaderboardEntry, 0, len(players))
	for _, p := range players {
		entries = append(entries, LeaderboardEntry{
			ID:      p.ID,
			Name:    p.Name,
			Seconds: ledger.EffectiveSeconds(p.ID, now),
			It:      p.IsIt,
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Seconds != entries[j].Seconds {
			return entries[i].Seconds > entries[j].Seconds
		}
		return entries[i].ID < entries[j].ID
	})
	return LeaderboardSnapshot{Entries: entries, At: now}
}
