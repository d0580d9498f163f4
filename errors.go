package main

import "errors"

// GameError is a rejected operation. Rejections are expected during play and
// never change session state.
type GameError string

// Error implements the error interface
func (e GameError) Error() string {
	return string(e)
}

const (
	ErrSourceNotIt      GameError = "source is not IT"
	ErrUnknownTarget    GameError = "target not found"
	ErrSelfTag          GameError = "cannot tag self"
	ErrOutOfRange       GameError = "out of range"
	ErrTagCooldown      GameError = "tag cooldown"
	ErrSessionFull      GameError = "session full"
	ErrSessionNotFound  GameError = "session not found"
	ErrTooManySessions  GameError = "too many active sessions"
	ErrNotJoined        GameError = "not in a session"
	ErrNotAuthenticated GameError = "not authenticated"
	ErrDuplicatePlayer  GameError = "player already admitted"
	ErrReplaced         GameError = "replaced by a newer connection"
)

// Configuration errors. These are fatal for the session being created.
var (
	ErrInvalidWorldSize = errors.New("world dimensions must be positive")
	ErrNoSpawnableCells = errors.New("world interior has no walkable cell")
)
