package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenDB(filepath.Join(t.TempDir(), "stats.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestDBApplyStatsAccumulates(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, db.ApplyStats([]StatsDelta{
		{Username: "alice", Tags: 2, TimeIt: 10, Longest: 7},
		{Username: "bob", Tags: 1, TimeIt: 3, Longest: 3},
	}))
	require.NoError(t, db.ApplyStats([]StatsDelta{
		{Username: "alice", Tags: 1, TimeIt: 5, Longest: 5},
	}))

	s, err := db.GetStats("alice")
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, 3, s.TotalTags)
	assert.Equal(t, 15.0, s.TotalTimeIt)
	assert.Equal(t, 7.0, s.LongestHold, "longest keeps the maximum")

	missing, err := db.GetStats("nobody")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestDBTopByTimeIt(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.ApplyStats([]StatsDelta{
		{Username: "a", TimeIt: 5},
		{Username: "b", TimeIt: 50},
		{Username: "c", TimeIt: 20},
	}))

	top, err := db.TopByTimeIt(2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "b", top[0].Username)
	assert.Equal(t, "c", top[1].Username)
}

func TestDBAchievements(t *testing.T) {
	db := openTestDB(t)

	fresh, err := db.UnlockAchievement("alice", "first_tag")
	require.NoError(t, err)
	assert.True(t, fresh)

	again, err := db.UnlockAchievement("alice", "first_tag")
	require.NoError(t, err)
	assert.False(t, again)

	_, err = db.UnlockAchievement("alice", "marathon")
	require.NoError(t, err)

	ids, err := db.GetAchievements("alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"first_tag", "marathon"}, ids)

	none, err := db.GetAchievements("bob")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestCheckAchievements(t *testing.T) {
	db := openTestDB(t)
	assert.Nil(t, CheckAchievements(nil, "alice"))
	assert.Nil(t, CheckAchievements(db, "alice"), "no stats yet")

	require.NoError(t, db.ApplyStats([]StatsDelta{{Username: "alice", Tags: 1, TimeIt: 61, Longest: 61}}))
	got := CheckAchievements(db, "alice")
	ids := []string{}
	for _, def := range got {
		ids = append(ids, def.ID)
	}
	assert.Equal(t, []string{"first_tag", "longest_chase"}, ids)

	// Already unlocked ones are not reported twice
	assert.Empty(t, CheckAchievements(db, "alice"))

	require.NoError(t, db.ApplyStats([]StatsDelta{{Username: "alice", Tags: 99, TimeIt: 600}}))
	ids = ids[:0]
	for _, def := range CheckAchievements(db, "alice") {
		ids = append(ids, def.ID)
	}
	assert.Equal(t, []string{"tag_veteran", "marathon"}, ids)
}
