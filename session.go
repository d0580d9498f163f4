package main

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"
)

const (
	maxSessionNameLen  = 30
	defaultSessionName = "Playground"
)

// SessionIdleTimeout is how long an empty non-default session survives
var SessionIdleTimeout = 30 * time.Second

// Session represents a game session that players can join
type Session struct {
	ID   string
	Name string
	Game *Game
}

// SessionManager handles creation, lookup and idle removal of sessions
type SessionManager struct {
	mu          sync.RWMutex
	sessions    map[string]*Session
	idle        map[string]*time.Timer
	defaultID   string
	cfg         GameConfig
	deps        GameDeps
	maxSessions int
}

// NewSessionManager creates a SessionManager whose games use cfg and deps
func NewSessionManager(cfg GameConfig, deps GameDeps, maxSessions int) *SessionManager {
	return &SessionManager{
		sessions:    make(map[string]*Session),
		idle:        make(map[string]*time.Timer),
		cfg:         cfg,
		deps:        deps,
		maxSessions: maxSessions,
	}
}

// CreateSession creates a new game session on a fresh seed. The session is
// scheduled for removal unless somebody joins it in time.
func (sm *SessionManager) CreateSession(name string) (*Session, error) {
	sess, err := sm.newSession(name)
	if err != nil {
		return nil, err
	}
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.maxSessions > 0 && len(sm.sessions) >= sm.maxSessions {
		sess.Game.Stop()
		return nil, ErrTooManySessions
	}
	sm.sessions[sess.ID] = sess
	sm.scheduleIdleLocked(sess.ID)
	go sess.Game.Run()
	log.Printf("session %s (%s) created, seed %d", sess.ID, sess.Name, sess.Game.Seed())
	return sess, nil
}

// EnsureDefault provisions the session that an empty join lands in. It is
// never removed for idleness.
func (sm *SessionManager) EnsureDefault() (*Session, error) {
	sm.mu.RLock()
	if sess, ok := sm.sessions[sm.defaultID]; ok {
		sm.mu.RUnlock()
		return sess, nil
	}
	sm.mu.RUnlock()

	sess, err := sm.newSession(defaultSessionName)
	if err != nil {
		return nil, err
	}
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if existing, ok := sm.sessions[sm.defaultID]; ok {
		sess.Game.Stop()
		return existing, nil
	}
	sm.sessions[sess.ID] = sess
	sm.defaultID = sess.ID
	go sess.Game.Run()
	log.Printf("default session %s created, seed %d", sess.ID, sess.Game.Seed())
	return sess, nil
}

func (sm *SessionManager) newSession(name string) (*Session, error) {
	if name == "" {
		name = defaultSessionName
	}
	name = truncateRunes(name, maxSessionNameLen)
	seed, err := NewSeed()
	if err != nil {
		return nil, err
	}
	id := GenerateUUID()
	deps := sm.deps
	deps.OnEmpty = func() { sm.MarkIdle(id) }
	game, err := NewGame(id, seed, sm.cfg, deps)
	if err != nil {
		return nil, fmt.Errorf("create session %q: %w", name, err)
	}
	return &Session{ID: id, Name: name, Game: game}, nil
}

// GetSession returns a session by ID
func (sm *SessionManager) GetSession(id string) *Session {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.sessions[id]
}

// Resolve returns the session with id, or the default session for ""
func (sm *SessionManager) Resolve(id string) *Session {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	if id == "" {
		id = sm.defaultID
	}
	return sm.sessions[id]
}

// DefaultSession returns the pre-provisioned session, if any
func (sm *SessionManager) DefaultSession() *Session {
	return sm.Resolve("")
}

// MarkActive cancels a pending idle removal
func (sm *SessionManager) MarkActive(id string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if t, ok := sm.idle[id]; ok {
		t.Stop()
		delete(sm.idle, id)
	}
}

// MarkIdle schedules removal of an empty session
func (sm *SessionManager) MarkIdle(id string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.scheduleIdleLocked(id)
}

func (sm *SessionManager) scheduleIdleLocked(id string) {
	if id == sm.defaultID {
		return
	}
	if _, ok := sm.sessions[id]; !ok {
		return
	}
	if t, ok := sm.idle[id]; ok {
		t.Stop()
	}
	sm.idle[id] = time.AfterFunc(SessionIdleTimeout, func() { sm.removeIfEmpty(id) })
}

func (sm *SessionManager) removeIfEmpty(id string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	delete(sm.idle, id)
	sess, ok := sm.sessions[id]
	if !ok || sess.Game.PlayerCount() > 0 {
		return
	}
	sess.Game.Stop()
	delete(sm.sessions, id)
	log.Printf("session %s (%s) removed after idling", id, sess.Name)
}

// RemovePlayer removes a player from a session
func (sm *SessionManager) RemovePlayer(ctx context.Context, sessionID, playerID string) {
	sess := sm.GetSession(sessionID)
	if sess == nil {
		return
	}
	sess.Game.Leave(ctx, playerID)
}

// EvictAccount removes the account's player from every session but keepID
// and returns how many were removed
func (sm *SessionManager) EvictAccount(ctx context.Context, account, keepID string) int {
	if account == "" {
		return 0
	}
	sm.mu.RLock()
	games := make([]*Game, 0, len(sm.sessions))
	for id, sess := range sm.sessions {
		if id != keepID {
			games = append(games, sess.Game)
		}
	}
	sm.mu.RUnlock()

	n := 0
	for _, g := range games {
		if g.EvictAccount(ctx, account) {
			n++
		}
	}
	return n
}

// ListSessions returns info about all active sessions, the default first
func (sm *SessionManager) ListSessions() []SessionInfo {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	list := make([]SessionInfo, 0, len(sm.sessions))
	for _, sess := range sm.sessions {
		list = append(list, SessionInfo{
			ID:      sess.ID,
			Name:    sess.Name,
			Players: sess.Game.PlayerCount(),
		})
	}
	sort.Slice(list, func(i, j int) bool {
		if (list[i].ID == sm.defaultID) != (list[j].ID == sm.defaultID) {
			return list[i].ID == sm.defaultID
		}
		if list[i].Name != list[j].Name {
			return list[i].Name < list[j].Name
		}
		return list[i].ID < list[j].ID
	})
	return list
}

// Count returns the number of live sessions
func (sm *SessionManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.sessions)
}

// Shutdown stops every session
func (sm *SessionManager) Shutdown() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	for id, t := range sm.idle {
		t.Stop()
		delete(sm.idle, id)
	}
	for id, sess := range sm.sessions {
		sess.Game.Stop()
		delete(sm.sessions, id)
	}
}
