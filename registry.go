package main

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"time"
)

const (
	defaultNameLen   = 8   // an empty display name becomes the id truncated to this
	maxSpawnAttempts = 256 // rejection-sampling budget before scanning the free list
)

// Player represents a participant of one session
type Player struct {
	ID        string
	Name      string
	Account   string // authenticated username, empty for guests
	AvatarRef string
	X, Y      float64
	IsIt      bool
	JoinedAt  time.Time
}

// ToState converts to protocol state
func (p *Player) ToState() PlayerState {
	return PlayerState{
		ID:       p.ID,
		Name:     p.Name,
		X:        p.X,
		Y:        p.Y,
		It:       p.IsIt,
		Avatar:   p.AvatarRef,
		JoinedAt: p.JoinedAt.UnixMilli(),
	}
}

// Registry is the authoritative set of players of one session. It is not
// safe for concurrent use; the owning Game serializes access.
type Registry struct {
	world     *WorldGrid
	tileSize  float64
	players   map[string]*Player
	currentIt string
	free      []Cell
	rng       *rand.Rand
}

// NewRegistry creates a registry spawning players on world. It fails when
// the interior has no walkable cell.
func NewRegistry(world *WorldGrid, tileSize float64, rng *rand.Rand) (*Registry, error) {
	free := world.FreeInteriorCells()
	if len(free) == 0 {
		return nil, fmt.Errorf("registry for %dx%d world: %w", world.Width, world.Height, ErrNoSpawnableCells)
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Registry{
		world:    world,
		tileSize: tileSize,
		players:  make(map[string]*Player),
		free:     free,
		rng:      rng,
	}, nil
}

// Admit adds a player at a random walkable interior cell. The first player
// admitted while nobody is IT becomes IT.
func (r *Registry) Admit(id, name, avatarRef string, now time.Time) (*Player, error) {
	if _, ok := r.players[id]; ok {
		return nil, ErrDuplicatePlayer
	}
	if name == "" {
		name = id
		if len(name) > defaultNameLen {
			name = name[:defaultNameLen]
		}
	}

	x, y := r.world.CellCenter(r.spawnCell(), r.tileSize)
	p := &Player{
		ID:        id,
		Name:      name,
		AvatarRef: avatarRef,
		X:         x,
		Y:         y,
		JoinedAt:  now,
	}
	if r.currentIt == "" {
		p.IsIt = true
		r.currentIt = id
	}
	r.players[id] = p
	return p, nil
}

// spawnCell picks a uniformly random interior cell that is not blocked
func (r *Registry) spawnCell() Cell {
	w := r.world
	for i := 0; i < maxSpawnAttempts; i++ {
		c := Cell{X: 1 + r.rng.IntN(w.Width-2), Y: 1 + r.rng.IntN(w.Height-2)}
		if !w.Blocked(c.X, c.Y) {
			return c
		}
	}
	return r.free[r.rng.IntN(len(r.free))]
}

// UpdatePosition overwrites a player's position as reported by its client
func (r *Registry) UpdatePosition(id string, x, y float64) bool {
	p, ok := r.players[id]
	if !ok {
		return false
	}
	p.X = x
	p.Y = y
	return true
}

// Remove deletes a player. Removing the IT holder leaves the session without
// IT; choosing a successor is up to the caller.
func (r *Registry) Remove(id string) (*Player, bool) {
	p, ok := r.players[id]
	if !ok {
		return nil, false
	}
	delete(r.players, id)
	if r.currentIt == id {
		r.currentIt = ""
	}
	return p, true
}

// assignIt moves the IT flag to id, clearing it on the previous holder
func (r *Registry) assignIt(id string) {
	if prev, ok := r.players[r.currentIt]; ok {
		prev.IsIt = false
	}
	r.currentIt = id
	if p, ok := r.players[id]; ok {
		p.IsIt = true
	}
}

// Get returns a player by ID
func (r *Registry) Get(id string) (*Player, bool) {
	p, ok := r.players[id]
	return p, ok
}

// CurrentIt returns the ID of the IT holder, empty when nobody is IT
func (r *Registry) CurrentIt() string {
	return r.currentIt
}

// Len returns the number of players
func (r *Registry) Len() int {
	return len(r.players)
}

// FindAccount returns the player logged in as account
func (r *Registry) FindAccount(account string) (*Player, bool) {
	if account == "" {
		return nil, false
	}
	for _, p := range r.players {
		if p.Account == account {
			return p, true
		}
	}
	return nil, false
}

// Earliest returns the longest-present player, ties broken by ID
func (r *Registry) Earliest() (*Player, bool) {
	var best *Player
	for _, p := range r.players {
		if best == nil || p.JoinedAt.Before(best.JoinedAt) ||
			(p.JoinedAt.Equal(best.JoinedAt) && p.ID < best.ID) {
			best = p
		}
	}
	return best, best != nil
}

// Players returns all players sorted by ID
func (r *Registry) Players() []*Player {
	out := make([]*Player, 0, len(r.players))
	for _, p := range r.players {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
