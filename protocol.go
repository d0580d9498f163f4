package main

import "encoding/json"

// Client -> Server message types
const (
	MsgJoin           = "join"
	MsgMove           = "move"
	MsgTag            = "tag"
	MsgGetLeaderboard = "getLeaderboard"
	MsgLeave          = "leave"
	MsgCreate         = "create"  // create session
	MsgList           = "list"    // list sessions
	MsgCheck          = "check"   // check if session exists
	MsgProfile        = "profile" // account stats, authenticated only
)

// Server -> Client message types
const (
	MsgInit              = "init"
	MsgPlayerJoined      = "playerJoined"
	MsgPlayerMoved       = "playerMoved"
	MsgPlayerLeft        = "playerLeft"
	MsgTagUpdate         = "tagUpdate"
	MsgLeaderboardUpdate = "leaderboardUpdate"
	MsgSessions          = "sessions"
	MsgCreated           = "created" // session created, client should navigate
	MsgChecked           = "checked" // session check response
	MsgError             = "error"
	MsgAchievement       = "achievement"
	MsgProfileData       = "profileData"
)

// Envelope wraps all outgoing messages with a type field
type Envelope struct {
	T    string      `json:"t"`
	Data interface{} `json:"d,omitempty"`
}

// InEnvelope is used for incoming messages. D holds the still-encoded payload
// in the connection's codec.
type InEnvelope struct {
	T string          `json:"t"`
	D json.RawMessage `json:"d,omitempty"`
}

// JoinMsg is sent when a player wants to enter a session. An empty SessionID
// joins the default session.
type JoinMsg struct {
	Name      string `json:"name"`
	Avatar    string `json:"avatar"`
	SessionID string `json:"sid"`
}

// MoveMsg reports the sender's own position in world coordinates
type MoveMsg struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// TagMsg asks to tag another player
type TagMsg struct {
	ID string `json:"id"`
}

// CreateMsg is sent when player wants to create a session
type CreateMsg struct {
	SessionName string `json:"sname"`
}

// CheckMsg is sent by client to check if a session exists
type CheckMsg struct {
	SID string `json:"sid"`
}

// PlayerState is the wire form of a player
type PlayerState struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	It       bool    `json:"it"`
	Avatar   string  `json:"avatar,omitempty"`
	JoinedAt int64   `json:"joinedAt"` // unix ms
}

// InitMsg is the full snapshot a player receives on joining. The map itself
// never travels: clients rebuild it from Seed and check WorldHash.
type InitMsg struct {
	ID           string             `json:"id"`
	SessionID    string             `json:"sid"`
	Seed         uint32             `json:"seed"`
	Width        int                `json:"width"`
	Height       int                `json:"height"`
	TileSize     float64            `json:"tileSize"`
	WorldVersion int                `json:"worldVersion"`
	WorldHash    string             `json:"worldHash"`
	It           string             `json:"it"`
	Players      []PlayerState      `json:"players"`
	ItTimes      []LeaderboardEntry `json:"itTimes"`
}

// PlayerMovedMsg is the position delta sent to the other players
type PlayerMovedMsg struct {
	ID string  `json:"id"`
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
}

// PlayerLeftMsg announces a departure
type PlayerLeftMsg struct {
	ID string `json:"id"`
}

// TagUpdateMsg announces that IT moved
type TagUpdateMsg struct {
	NewIt  string `json:"newIt"`
	PrevIt string `json:"prevIt"`
}

// LeaderboardMsg answers getLeaderboard
type LeaderboardMsg struct {
	ItTimes []LeaderboardEntry `json:"itTimes"`
	At      int64              `json:"at"` // unix ms
}

// SessionInfo is used in the session list
type SessionInfo struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Players int    `json:"players"`
}

// CheckedMsg is the response to a session check
type CheckedMsg struct {
	SID     string `json:"sid"`
	Exists  bool   `json:"exists"`
	Name    string `json:"name,omitempty"`
	Players int    `json:"players,omitempty"`
}

// ErrorMsg sends error to client
type ErrorMsg struct {
	Msg string `json:"msg"`
}

// AchievementMsg notifies an account of a newly unlocked achievement
type AchievementMsg struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ProfileDataMsg answers profile
type ProfileDataMsg struct {
	Username     string   `json:"username"`
	TotalTags    int      `json:"totalTags"`
	TotalTimeIt  float64  `json:"totalTimeIt"`
	LongestHold  float64  `json:"longestHold"`
	Achievements []string `json:"achievements"`
}

// AccountStanding is one row of the all-time account leaderboard
type AccountStanding struct {
	Username    string  `json:"username"`
	TotalTags   int     `json:"totalTags"`
	TotalTimeIt float64 `json:"totalTimeIt"`
	LongestHold float64 `json:"longestHold"`
}
