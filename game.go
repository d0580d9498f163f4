package main

import (
	"context"
	"fmt"
	"log"
	"math/rand/v2"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"reverse-tag-server/internal/clock"
)

const tracerName = "reverse-tag-server"

// minSweepEvery bounds how often the liveness sweep runs
const minSweepEvery = 50 * time.Millisecond

// Broadcaster is one connected participant as seen by a Game. Send must not
// block: it is called while the game lock is held.
type Broadcaster interface {
	Send(env Envelope)
	Close() error
}

// StatsSink receives account-level results of accepted game events
type StatsSink interface {
	RecordTag(account string)
	RecordHold(account string, seconds float64)
}

// GameConfig holds the per-session tunables
type GameConfig struct {
	Width           int
	Height          int
	TileSize        float64
	TagRadius       float64
	TagCooldown     time.Duration
	LivenessTimeout time.Duration // 0 disables the sweep
	MaxPlayers      int
}

// DefaultGameConfig returns the design values
func DefaultGameConfig() GameConfig {
	return GameConfig{
		Width:           60,
		Height:          40,
		TileSize:        48,
		TagRadius:       32,
		TagCooldown:     200 * time.Millisecond,
		LivenessTimeout: 90 * time.Second,
		MaxPlayers:      50,
	}
}

// GameDeps are the collaborators a Game is built with. Zero values are
// replaced by working defaults.
type GameDeps struct {
	Clock   clock.Clock
	Stats   StatsSink
	Rand    *rand.Rand
	OnEmpty func() // called without the game lock after the last player leaves
}

// JoinRequest describes a participant asking to be admitted
type JoinRequest struct {
	Name    string
	Avatar  string
	Account string // authenticated username, empty for guests
}

// Game holds the state for one game session. Every mutation happens under mu
// and fans out to clients through their non-blocking Send.
type Game struct {
	mu       sync.RWMutex
	id       string
	cfg      GameConfig
	world    *WorldGrid
	registry *Registry
	ledger   *ItLedger
	arbiter  *TagArbiter
	clients  map[string]Broadcaster // playerID -> client
	lastSeen map[string]time.Time
	clock    clock.Clock
	stats    StatsSink
	onEmpty  func()
	tracer   trace.Tracer
	closed   bool
	stop     chan struct{}
}

// NewGame generates the world for seed and creates an empty session on it.
// Configuration errors are returned before anything is allocated for players.
func NewGame(id string, seed uint32, cfg GameConfig, deps GameDeps) (*Game, error) {
	if cfg.TileSize <= 0 || cfg.TagRadius <= 0 {
		return nil, fmt.Errorf("tile size %v, tag radius %v: %w", cfg.TileSize, cfg.TagRadius, ErrInvalidWorldSize)
	}
	world, err := GenerateWorld(seed, cfg.Width, cfg.Height)
	if err != nil {
		return nil, err
	}
	registry, err := NewRegistry(world, cfg.TileSize, deps.Rand)
	if err != nil {
		return nil, err
	}
	if deps.Clock == nil {
		deps.Clock = &clock.DefaultClock{}
	}
	ledger := NewItLedger()
	return &Game{
		id:       id,
		cfg:      cfg,
		world:    world,
		registry: registry,
		ledger:   ledger,
		arbiter:  NewTagArbiter(registry, ledger, cfg.TagRadius, cfg.TagCooldown),
		clients:  make(map[string]Broadcaster),
		lastSeen: make(map[string]time.Time),
		clock:    deps.Clock,
		stats:    deps.Stats,
		onEmpty:  deps.OnEmpty,
		tracer:   otel.Tracer(tracerName),
		stop:     make(chan struct{}),
	}, nil
}

// Run sweeps for silent players until Stop is called
func (g *Game) Run() {
	timeout := g.cfg.LivenessTimeout
	if timeout <= 0 {
		<-g.stop
		return
	}
	every := timeout / 3
	if every < minSweepEvery {
		every = minSweepEvery
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.SweepIdle()
		case <-g.stop:
			return
		}
	}
}

// Stop terminates the sweep loop and refuses further joins. The holder's
// open IT interval is closed and reported so shutdown loses no IT time.
func (g *Game) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return
	}
	g.closed = true
	close(g.stop)

	if it, ok := g.registry.Get(g.registry.CurrentIt()); ok {
		held := g.ledger.StopIt(it.ID, g.clock.Now())
		if it.Account != "" && held > 0 && g.stats != nil {
			g.stats.RecordHold(it.Account, held)
		}
	}
}

// Join admits a participant, sends it the full snapshot and announces it to
// everyone else. A second connection of the same account replaces the first.
func (g *Game) Join(ctx context.Context, client Broadcaster, req JoinRequest) (*Player, error) {
	_, span := g.tracer.Start(ctx, "game.join", trace.WithAttributes(
		attribute.String("session.id", g.id),
		attribute.Bool("player.authenticated", req.Account != ""),
	))
	defer span.End()

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil, ErrSessionNotFound
	}
	now := g.clock.Now()

	var replaced Broadcaster
	if req.Account != "" {
		if old, ok := g.registry.FindAccount(req.Account); ok {
			replaced = g.clients[old.ID]
			if replaced != nil {
				replaced.Send(Envelope{T: MsgError, Data: ErrorMsg{Msg: ErrReplaced.Error()}})
			}
			g.removeLocked(old.ID, now)
			log.Printf("session %s: account %s reconnected, replaced player %s", g.id, req.Account, old.ID)
		}
	}

	if g.cfg.MaxPlayers > 0 && g.registry.Len() >= g.cfg.MaxPlayers {
		g.mu.Unlock()
		if replaced != nil {
			replaced.Close()
		}
		return nil, ErrSessionFull
	}

	id := GenerateID(4)
	for _, taken := g.registry.Get(id); taken; _, taken = g.registry.Get(id) {
		id = GenerateID(4)
	}
	p, err := g.registry.Admit(id, req.Name, req.Avatar, now)
	if err != nil {
		g.mu.Unlock()
		span.RecordError(err)
		return nil, err
	}
	p.Account = req.Account
	if p.IsIt {
		g.ledger.StartIt(p.ID, now)
	}
	g.clients[p.ID] = client
	g.lastSeen[p.ID] = now
	span.SetAttributes(attribute.String("player.id", p.ID), attribute.Bool("player.it", p.IsIt))

	client.Send(Envelope{T: MsgInit, Data: g.snapshotLocked(p.ID, now)})
	g.broadcastExcept(p.ID, Envelope{T: MsgPlayerJoined, Data: p.ToState()})
	joined := *p
	g.mu.Unlock()

	if replaced != nil {
		replaced.Close()
	}
	log.Printf("session %s: player %s (%s) joined", g.id, joined.ID, joined.Name)
	return &joined, nil
}

func (g *Game) snapshotLocked(selfID string, now time.Time) InitMsg {
	players := g.registry.Players()
	states := make([]PlayerState, 0, len(players))
	for _, p := range players {
		states = append(states, p.ToState())
	}
	return InitMsg{
		ID:           selfID,
		SessionID:    g.id,
		Seed:         g.world.Seed,
		Width:        g.world.Width,
		Height:       g.world.Height,
		TileSize:     g.cfg.TileSize,
		WorldVersion: WorldGenVersion,
		WorldHash:    g.world.Fingerprint(),
		It:           g.registry.CurrentIt(),
		Players:      states,
		ItTimes:      BuildLeaderboard(g.registry, g.ledger, now).Entries,
	}
}

// Move stores a self-reported position and relays it to the other players
func (g *Game) Move(playerID string, x, y float64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.registry.UpdatePosition(playerID, x, y) {
		return false
	}
	g.lastSeen[playerID] = g.clock.Now()
	g.broadcastExcept(playerID, Envelope{T: MsgPlayerMoved, Data: PlayerMovedMsg{ID: playerID, X: x, Y: y}})
	return true
}

// Tag runs arbitration for sourceID tagging targetID. Rejections are
// returned to the caller but never broadcast.
func (g *Game) Tag(ctx context.Context, sourceID, targetID string) TagOutcome {
	_, span := g.tracer.Start(ctx, "game.tag", trace.WithAttributes(
		attribute.String("session.id", g.id),
		attribute.String("tag.source", sourceID),
		attribute.String("tag.target", targetID),
	))
	defer span.End()

	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.clock.Now()
	if _, ok := g.registry.Get(sourceID); ok {
		g.lastSeen[sourceID] = now
	}
	out := g.arbiter.Attempt(sourceID, targetID, now)
	span.SetAttributes(attribute.Bool("tag.accepted", out.Accepted))
	if !out.Accepted {
		span.SetAttributes(attribute.String("tag.reason", string(out.Reason)))
		return out
	}

	g.broadcastAll(Envelope{T: MsgTagUpdate, Data: TagUpdateMsg{NewIt: out.NewIt, PrevIt: out.PrevIt}})
	if src, ok := g.registry.Get(sourceID); ok && src.Account != "" && g.stats != nil {
		g.stats.RecordTag(src.Account)
		g.stats.RecordHold(src.Account, out.Held)
	}
	return out
}

// Leave removes a player and announces it. The departure of IT promotes the
// longest-present remaining player.
func (g *Game) Leave(ctx context.Context, playerID string) bool {
	_, span := g.tracer.Start(ctx, "game.leave", trace.WithAttributes(
		attribute.String("session.id", g.id),
		attribute.String("player.id", playerID),
	))
	defer span.End()

	g.mu.Lock()
	ok := g.removeLocked(playerID, g.clock.Now())
	empty := g.registry.Len() == 0
	g.mu.Unlock()

	if ok {
		log.Printf("session %s: player %s left", g.id, playerID)
		if empty && g.onEmpty != nil {
			g.onEmpty()
		}
	}
	return ok
}

// EvictAccount removes the player logged in as account, telling its
// connection why and closing it.
func (g *Game) EvictAccount(ctx context.Context, account string) bool {
	_, span := g.tracer.Start(ctx, "game.evict", trace.WithAttributes(
		attribute.String("session.id", g.id),
	))
	defer span.End()

	g.mu.Lock()
	p, ok := g.registry.FindAccount(account)
	if !ok {
		g.mu.Unlock()
		return false
	}
	id := p.ID
	client := g.clients[id]
	if client != nil {
		client.Send(Envelope{T: MsgError, Data: ErrorMsg{Msg: ErrReplaced.Error()}})
	}
	g.removeLocked(id, g.clock.Now())
	empty := g.registry.Len() == 0
	g.mu.Unlock()

	if client != nil {
		client.Close()
	}
	log.Printf("session %s: account %s moved to another connection, removed player %s", g.id, account, id)
	if empty && g.onEmpty != nil {
		g.onEmpty()
	}
	return true
}

// removeLocked drops a player and repairs IT. Callers hold g.mu.
func (g *Game) removeLocked(playerID string, now time.Time) bool {
	p, ok := g.registry.Get(playerID)
	if !ok {
		return false
	}
	account := p.Account
	held := g.ledger.StopIt(playerID, now)
	g.ledger.Forget(playerID)
	g.registry.Remove(playerID)
	delete(g.clients, playerID)
	delete(g.lastSeen, playerID)

	g.broadcastAll(Envelope{T: MsgPlayerLeft, Data: PlayerLeftMsg{ID: playerID}})
	if account != "" && held > 0 && g.stats != nil {
		g.stats.RecordHold(account, held)
	}

	if g.closed {
		return true
	}
	if promo := g.arbiter.Promote(playerID, now); promo.Accepted {
		g.broadcastAll(Envelope{T: MsgTagUpdate, Data: TagUpdateMsg{NewIt: promo.NewIt, PrevIt: promo.PrevIt}})
	}
	return true
}

// SweepIdle evicts every player silent for longer than the liveness timeout
func (g *Game) SweepIdle() int {
	g.mu.Lock()
	if g.cfg.LivenessTimeout <= 0 {
		g.mu.Unlock()
		return 0
	}
	now := g.clock.Now()
	var stale []string
	for id, seen := range g.lastSeen {
		if now.Sub(seen) > g.cfg.LivenessTimeout {
			stale = append(stale, id)
		}
	}
	var dropped []Broadcaster
	for _, id := range stale {
		if c := g.clients[id]; c != nil {
			dropped = append(dropped, c)
		}
		g.removeLocked(id, now)
	}
	empty := len(stale) > 0 && g.registry.Len() == 0
	g.mu.Unlock()

	for _, c := range dropped {
		c.Close()
	}
	if len(stale) > 0 {
		log.Printf("session %s: evicted %d silent player(s)", g.id, len(stale))
	}
	if empty && g.onEmpty != nil {
		g.onEmpty()
	}
	return len(stale)
}

// Touch records that a player is still connected
func (g *Game) Touch(playerID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.lastSeen[playerID]; ok {
		g.lastSeen[playerID] = g.clock.Now()
	}
}

// Leaderboard returns a consistent snapshot of accumulated IT time
func (g *Game) Leaderboard() LeaderboardSnapshot {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return BuildLeaderboard(g.registry, g.ledger, g.clock.Now())
}

// SendLeaderboard answers a getLeaderboard request to the requester only
func (g *Game) SendLeaderboard(playerID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	client, ok := g.clients[playerID]
	if !ok {
		return false
	}
	snap := BuildLeaderboard(g.registry, g.ledger, g.clock.Now())
	client.Send(Envelope{T: MsgLeaderboardUpdate, Data: LeaderboardMsg{
		ItTimes: snap.Entries,
		At:      snap.At.UnixMilli(),
	}})
	return true
}

// PlayerCount returns the number of players
func (g *Game) PlayerCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.registry.Len()
}

// HasPlayer checks if a player exists in the game
func (g *Game) HasPlayer(id string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.registry.Get(id)
	return ok
}

// Player returns a copy of a player's current state
func (g *Game) Player(id string) (Player, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	p, ok := g.registry.Get(id)
	if !ok {
		return Player{}, false
	}
	return *p, true
}

// CurrentIt returns the id of the IT holder, empty only for an empty session
func (g *Game) CurrentIt() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.registry.CurrentIt()
}

// Seed returns the world seed of the session
func (g *Game) Seed() uint32 { return g.world.Seed }

// World returns the generated grid. It is never mutated after creation.
func (g *Game) World() *WorldGrid { return g.world }

func (g *Game) broadcastAll(msg Envelope) {
	for _, client := range g.clients {
		client.Send(msg)
	}
}

func (g *Game) broadcastExcept(skipID string, msg Envelope) {
	for id, client := range g.clients {
		if id != skipID {
			client.Send(msg)
		}
	}
}
