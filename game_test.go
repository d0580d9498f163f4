package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"go.uber.org/mock/gomock"

	"reverse-tag-server/internal/clock/mocks"
)

// mockBroadcaster captures sent messages for testing
type mockBroadcaster struct {
	mu       sync.Mutex
	messages []Envelope
	closed   bool
}

func (m *mockBroadcaster) Send(msg Envelope) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, msg)
}

func (m *mockBroadcaster) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *mockBroadcaster) ofType(t string) []Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Envelope
	for _, msg := range m.messages {
		if msg.T == t {
			out = append(out, msg)
		}
	}
	return out
}

func (m *mockBroadcaster) types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.messages))
	for i, msg := range m.messages {
		out[i] = msg.T
	}
	return out
}

func (m *mockBroadcaster) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// fakeStats records what the game reports for accounts
type fakeStats struct {
	mu    sync.Mutex
	tags  map[string]int
	holds map[string]float64
}

func newFakeStats() *fakeStats {
	return &fakeStats{tags: map[string]int{}, holds: map[string]float64{}}
}

func (f *fakeStats) RecordTag(account string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tags[account]++
}

func (f *fakeStats) RecordHold(account string, seconds float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.holds[account] += seconds
}

var testEpoch = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

// newTestGame builds a 10x10 game on seed 42 whose clock reads *now
func newTestGame(t *testing.T, now *time.Time, mutate func(*GameConfig, *GameDeps)) *Game {
	t.Helper()
	ctrl := gomock.NewController(t)
	clk := mocks.NewMockClock(ctrl)
	clk.EXPECT().Now().DoAndReturn(func() time.Time { return *now }).AnyTimes()

	cfg := DefaultGameConfig()
	cfg.Width = 10
	cfg.Height = 10
	deps := GameDeps{Clock: clk, Rand: rand.New(rand.NewPCG(1, 2))}
	if mutate != nil {
		mutate(&cfg, &deps)
	}
	g, err := NewGame("test-session", 42, cfg, deps)
	if err != nil {
		t.Fatalf("NewGame: %v", err)
	}
	return g
}

func join(t *testing.T, g *Game, name string) (*Player, *mockBroadcaster) {
	t.Helper()
	mb := &mockBroadcaster{}
	p, err := g.Join(context.Background(), mb, JoinRequest{Name: name})
	if err != nil {
		t.Fatalf("join %s: %v", name, err)
	}
	return p, mb
}

// assertSingleIt checks that exactly one player is IT and it matches currentIt
func assertSingleIt(t *testing.T, g *Game) {
	t.Helper()
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.registry.Len() == 0 {
		if g.registry.CurrentIt() != "" {
			t.Errorf("empty session still has IT %q", g.registry.CurrentIt())
		}
		return
	}
	count := 0
	for _, p := range g.registry.Players() {
		if p.IsIt {
			count++
			if p.ID != g.registry.CurrentIt() {
				t.Errorf("player %s flagged IT but currentIt is %s", p.ID, g.registry.CurrentIt())
			}
		}
	}
	if count != 1 {
		t.Errorf("expected exactly one IT, got %d", count)
	}
	if g.ledger.OpenCount() != 1 {
		t.Errorf("expected exactly one open IT interval, got %d", g.ledger.OpenCount())
	}
}

func TestNewGameRejectsBadConfig(t *testing.T) {
	cfg := DefaultGameConfig()
	cfg.Width = 0
	if _, err := NewGame("x", 1, cfg, GameDeps{}); err == nil {
		t.Error("expected error for zero width")
	}
	cfg = DefaultGameConfig()
	cfg.TagRadius = 0
	if _, err := NewGame("x", 1, cfg, GameDeps{}); err == nil {
		t.Error("expected error for zero tag radius")
	}
}

func TestGameJoinSendsSnapshot(t *testing.T) {
	now := testEpoch
	g := newTestGame(t, &now, nil)

	a, aConn := join(t, g, "Alice")
	if !a.IsIt {
		t.Error("first player should be IT")
	}
	inits := aConn.ofType(MsgInit)
	if len(inits) != 1 {
		t.Fatalf("expected 1 init, got %d", len(inits))
	}
	snap := inits[0].Data.(InitMsg)
	if snap.ID != a.ID || snap.Seed != 42 || snap.It != a.ID {
		t.Errorf("unexpected init: %+v", snap)
	}
	if snap.Width != 10 || snap.Height != 10 || snap.WorldVersion != WorldGenVersion {
		t.Errorf("unexpected world description: %+v", snap)
	}
	if snap.WorldHash != g.World().Fingerprint() {
		t.Error("init should carry the world fingerprint")
	}

	now = now.Add(time.Second)
	b, bConn := join(t, g, "Bob")
	if b.IsIt {
		t.Error("second player should not be IT")
	}
	binit := bConn.ofType(MsgInit)[0].Data.(InitMsg)
	if len(binit.Players) != 2 || len(binit.ItTimes) != 2 {
		t.Errorf("expected 2 players in snapshot, got %d/%d", len(binit.Players), len(binit.ItTimes))
	}
	if binit.ItTimes[0].ID != a.ID || binit.ItTimes[0].Seconds != 1 {
		t.Errorf("expected %s leading with 1s, got %+v", a.ID, binit.ItTimes[0])
	}

	joined := aConn.ofType(MsgPlayerJoined)
	if len(joined) != 1 || joined[0].Data.(PlayerState).ID != b.ID {
		t.Errorf("existing player should be told about the arrival, got %v", aConn.types())
	}
	if len(bConn.ofType(MsgPlayerJoined)) != 0 {
		t.Error("newcomer should not receive its own playerJoined")
	}
	assertSingleIt(t, g)
}

func TestGameSpawnsOnWalkableCells(t *testing.T) {
	now := testEpoch
	g := newTestGame(t, &now, nil)
	for i := 0; i < 30; i++ {
		p, _ := join(t, g, fmt.Sprintf("P%d", i))
		c := g.World().CellAt(p.X, p.Y, g.cfg.TileSize)
		if g.World().Blocked(c.X, c.Y) {
			t.Errorf("player %s spawned on blocked cell %+v", p.ID, c)
		}
	}
}

func TestGameMoveBroadcastsToOthersOnly(t *testing.T) {
	now := testEpoch
	g := newTestGame(t, &now, nil)
	a, aConn := join(t, g, "A")
	_, bConn := join(t, g, "B")

	if !g.Move(a.ID, 123.5, 77) {
		t.Fatal("move of a known player should succeed")
	}
	if len(aConn.ofType(MsgPlayerMoved)) != 0 {
		t.Error("mover should not receive its own move")
	}
	moves := bConn.ofType(MsgPlayerMoved)
	if len(moves) != 1 {
		t.Fatalf("expected 1 move for B, got %d", len(moves))
	}
	if m := moves[0].Data.(PlayerMovedMsg); m.ID != a.ID || m.X != 123.5 || m.Y != 77 {
		t.Errorf("unexpected move: %+v", m)
	}
	if g.Move("ghost", 1, 1) {
		t.Error("move of an unknown player should fail")
	}
}

func TestGameTagScenario(t *testing.T) {
	now := testEpoch
	g := newTestGame(t, &now, nil)
	a, aConn := join(t, g, "A")
	b, bConn := join(t, g, "B")

	g.Move(b.ID, 200, 200)
	g.Move(a.ID, 210, 200) // distance 10 < 32

	now = now.Add(5 * time.Second)
	out := g.Tag(context.Background(), a.ID, b.ID)
	if !out.Accepted {
		t.Fatalf("tag should be accepted, got %q", out.Reason)
	}

	for _, conn := range []*mockBroadcaster{aConn, bConn} {
		updates := conn.ofType(MsgTagUpdate)
		if len(updates) != 1 {
			t.Fatalf("expected 1 tagUpdate, got %d", len(updates))
		}
		if u := updates[0].Data.(TagUpdateMsg); u.NewIt != b.ID || u.PrevIt != a.ID {
			t.Errorf("unexpected tagUpdate %+v", u)
		}
	}
	if g.CurrentIt() != b.ID {
		t.Errorf("expected B to be IT, got %s", g.CurrentIt())
	}

	now = now.Add(3 * time.Second)
	lb := g.Leaderboard()
	secs := map[string]float64{}
	for _, e := range lb.Entries {
		secs[e.ID] = e.Seconds
	}
	if secs[a.ID] != 5 {
		t.Errorf("A's total should be frozen at 5s, got %v", secs[a.ID])
	}
	if secs[b.ID] != 3 {
		t.Errorf("B's interval should be open for 3s, got %v", secs[b.ID])
	}
	assertSingleIt(t, g)
}

func TestGameRejectedTagIsSilent(t *testing.T) {
	now := testEpoch
	g := newTestGame(t, &now, nil)
	a, aConn := join(t, g, "A")
	b, bConn := join(t, g, "B")

	g.Move(a.ID, 100, 100)
	g.Move(b.ID, 140, 100) // distance 40 >= 32

	if out := g.Tag(context.Background(), a.ID, b.ID); out.Accepted || out.Reason != ErrOutOfRange {
		t.Errorf("expected out of range, got %+v", out)
	}
	if out := g.Tag(context.Background(), b.ID, a.ID); out.Accepted || out.Reason != ErrSourceNotIt {
		t.Errorf("expected source not IT, got %+v", out)
	}
	if len(aConn.ofType(MsgTagUpdate))+len(bConn.ofType(MsgTagUpdate)) != 0 {
		t.Error("rejected tags must not be broadcast")
	}
	if len(aConn.ofType(MsgError))+len(bConn.ofType(MsgError)) != 0 {
		t.Error("rejected tags must not be reported")
	}
	if g.CurrentIt() != a.ID {
		t.Error("rejected tag changed IT")
	}
}

func TestGameTagCooldownAfterHandoff(t *testing.T) {
	now := testEpoch
	g := newTestGame(t, &now, nil)
	a, _ := join(t, g, "A")
	b, _ := join(t, g, "B")
	g.Move(a.ID, 100, 100)
	g.Move(b.ID, 105, 100)

	if out := g.Tag(context.Background(), a.ID, b.ID); !out.Accepted {
		t.Fatalf("first tag rejected: %q", out.Reason)
	}
	if out := g.Tag(context.Background(), b.ID, a.ID); out.Reason != ErrTagCooldown {
		t.Errorf("immediate tag-back should hit the cooldown, got %+v", out)
	}
	now = now.Add(g.cfg.TagCooldown)
	if out := g.Tag(context.Background(), b.ID, a.ID); !out.Accepted {
		t.Errorf("tag-back after the cooldown should pass, got %q", out.Reason)
	}
}

func TestGameLeaveOfItPromotesEarliest(t *testing.T) {
	now := testEpoch
	g := newTestGame(t, &now, nil)
	a, _ := join(t, g, "A")
	now = now.Add(time.Second)
	b, bConn := join(t, g, "B")
	now = now.Add(time.Second)
	_, cConn := join(t, g, "C")

	now = now.Add(4 * time.Second)
	if !g.Leave(context.Background(), a.ID) {
		t.Fatal("leave should succeed")
	}
	if g.CurrentIt() != b.ID {
		t.Errorf("expected earliest remaining player B to be promoted, got %s", g.CurrentIt())
	}
	for _, conn := range []*mockBroadcaster{bConn, cConn} {
		types := conn.types()
		n := len(types)
		if n < 2 || types[n-2] != MsgPlayerLeft || types[n-1] != MsgTagUpdate {
			t.Errorf("expected playerLeft then tagUpdate, got %v", types)
			continue
		}
		u := conn.ofType(MsgTagUpdate)[0].Data.(TagUpdateMsg)
		if u.NewIt != b.ID || u.PrevIt != a.ID {
			t.Errorf("unexpected promotion record %+v", u)
		}
	}
	for _, e := range g.Leaderboard().Entries {
		if e.ID == a.ID {
			t.Error("departed player should leave the leaderboard")
		}
	}
	assertSingleIt(t, g)
}

func TestGameLeaveOfNonItKeepsIt(t *testing.T) {
	now := testEpoch
	g := newTestGame(t, &now, nil)
	a, aConn := join(t, g, "A")
	b, _ := join(t, g, "B")

	g.Leave(context.Background(), b.ID)
	if g.CurrentIt() != a.ID {
		t.Error("IT should not move when a non-IT player leaves")
	}
	if len(aConn.ofType(MsgTagUpdate)) != 0 {
		t.Error("no tagUpdate expected")
	}
	if g.Leave(context.Background(), b.ID) {
		t.Error("second leave should be a no-op")
	}
}

func TestGameLastLeaveCallsOnEmpty(t *testing.T) {
	now := testEpoch
	var empties int
	g := newTestGame(t, &now, func(_ *GameConfig, d *GameDeps) {
		d.OnEmpty = func() { empties++ }
	})
	a, _ := join(t, g, "A")
	g.Leave(context.Background(), a.ID)
	if empties != 1 {
		t.Errorf("expected OnEmpty once, got %d", empties)
	}
	if g.CurrentIt() != "" {
		t.Error("empty session should have no IT")
	}
	assertSingleIt(t, g)

	// The next player to arrive becomes IT again
	b, _ := join(t, g, "B")
	if !b.IsIt {
		t.Error("first player of a refilled session should be IT")
	}
}

func TestGameSweepIdleEvictsSilentPlayers(t *testing.T) {
	now := testEpoch
	g := newTestGame(t, &now, func(c *GameConfig, _ *GameDeps) {
		c.LivenessTimeout = 10 * time.Second
	})
	a, aConn := join(t, g, "A")
	b, bConn := join(t, g, "B")

	now = now.Add(6 * time.Second)
	g.Touch(b.ID)
	now = now.Add(6 * time.Second)

	if n := g.SweepIdle(); n != 1 {
		t.Fatalf("expected 1 eviction, got %d", n)
	}
	if g.HasPlayer(a.ID) {
		t.Error("silent player should be evicted")
	}
	if !aConn.isClosed() {
		t.Error("evicted connection should be closed")
	}
	if bConn.isClosed() {
		t.Error("live connection should stay open")
	}
	if g.CurrentIt() != b.ID {
		t.Error("IT should be promoted after eviction")
	}
}

func TestGameAccountReconnectReplacesPlayer(t *testing.T) {
	now := testEpoch
	stats := newFakeStats()
	g := newTestGame(t, &now, func(_ *GameConfig, d *GameDeps) { d.Stats = stats })

	first := &mockBroadcaster{}
	p1, err := g.Join(context.Background(), first, JoinRequest{Name: "alice", Account: "alice"})
	if err != nil {
		t.Fatal(err)
	}
	now = now.Add(2 * time.Second)
	second := &mockBroadcaster{}
	p2, err := g.Join(context.Background(), second, JoinRequest{Name: "alice", Account: "alice"})
	if err != nil {
		t.Fatal(err)
	}

	if g.PlayerCount() != 1 || g.HasPlayer(p1.ID) || !g.HasPlayer(p2.ID) {
		t.Error("older player of the account should be replaced")
	}
	if !first.isClosed() {
		t.Error("older connection should be closed")
	}
	if errs := first.ofType(MsgError); len(errs) != 1 {
		t.Errorf("older connection should be told why, got %v", first.types())
	}
	if stats.holds["alice"] != 2 {
		t.Errorf("closed interval should be recorded, got %v", stats.holds["alice"])
	}
}

func TestGameSessionFull(t *testing.T) {
	now := testEpoch
	g := newTestGame(t, &now, func(c *GameConfig, _ *GameDeps) { c.MaxPlayers = 2 })
	join(t, g, "A")
	join(t, g, "B")
	if _, err := g.Join(context.Background(), &mockBroadcaster{}, JoinRequest{Name: "C"}); err != ErrSessionFull {
		t.Errorf("expected ErrSessionFull, got %v", err)
	}
}

func TestGameStoppedRefusesJoin(t *testing.T) {
	now := testEpoch
	g := newTestGame(t, &now, nil)
	g.Stop()
	g.Stop() // idempotent
	if _, err := g.Join(context.Background(), &mockBroadcaster{}, JoinRequest{}); err != ErrSessionNotFound {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestGameStopRecordsOpenHold(t *testing.T) {
	now := testEpoch
	stats := newFakeStats()
	g := newTestGame(t, &now, func(_ *GameConfig, d *GameDeps) { d.Stats = stats })

	it, err := g.Join(context.Background(), &mockBroadcaster{}, JoinRequest{Account: "alice"})
	if err != nil {
		t.Fatal(err)
	}
	join(t, g, "guest")
	now = now.Add(4 * time.Second)
	g.Stop()
	now = now.Add(time.Second)
	g.Stop()

	if stats.holds["alice"] != 4 {
		t.Errorf("expected the open 4s hold to be recorded once, got %v", stats.holds["alice"])
	}
	if g.ledger.OpenCount() != 0 {
		t.Errorf("expected no open interval after Stop, got %d", g.ledger.OpenCount())
	}

	// Late departures of a stopped session neither reopen the ledger nor record again
	g.Leave(context.Background(), it.ID)
	if g.ledger.OpenCount() != 0 || stats.holds["alice"] != 4 {
		t.Errorf("stopped session changed: open=%d holds=%v", g.ledger.OpenCount(), stats.holds)
	}
}

func TestGameTagRecordsStats(t *testing.T) {
	now := testEpoch
	stats := newFakeStats()
	g := newTestGame(t, &now, func(_ *GameConfig, d *GameDeps) { d.Stats = stats })

	a, err := g.Join(context.Background(), &mockBroadcaster{}, JoinRequest{Account: "alice"})
	if err != nil {
		t.Fatal(err)
	}
	b, _ := join(t, g, "guest")
	g.Move(a.ID, 50, 50)
	g.Move(b.ID, 50, 60)
	now = now.Add(7 * time.Second)
	g.Tag(context.Background(), a.ID, b.ID)

	if stats.tags["alice"] != 1 || stats.holds["alice"] != 7 {
		t.Errorf("unexpected stats: tags=%v holds=%v", stats.tags, stats.holds)
	}
	if _, ok := stats.tags[""]; ok {
		t.Error("guests should not be recorded")
	}
}

func TestGameSendLeaderboardToRequesterOnly(t *testing.T) {
	now := testEpoch
	g := newTestGame(t, &now, nil)
	a, aConn := join(t, g, "A")
	_, bConn := join(t, g, "B")

	now = now.Add(2 * time.Second)
	if !g.SendLeaderboard(a.ID) {
		t.Fatal("known player should get a leaderboard")
	}
	lbs := aConn.ofType(MsgLeaderboardUpdate)
	if len(lbs) != 1 {
		t.Fatalf("expected 1 leaderboardUpdate, got %d", len(lbs))
	}
	msg := lbs[0].Data.(LeaderboardMsg)
	if msg.ItTimes[0].ID != a.ID || msg.ItTimes[0].Seconds != 2 || !msg.ItTimes[0].It {
		t.Errorf("unexpected leader %+v", msg.ItTimes[0])
	}
	if len(bConn.ofType(MsgLeaderboardUpdate)) != 0 {
		t.Error("leaderboard must not be broadcast")
	}
	if g.SendLeaderboard("ghost") {
		t.Error("unknown player should get nothing")
	}
}

func TestGameConcurrentEventsKeepSingleIt(t *testing.T) {
	g, err := NewGame("race", 7, DefaultGameConfig(), GameDeps{})
	if err != nil {
		t.Fatal(err)
	}
	ids := make([]string, 8)
	for i := range ids {
		p, err := g.Join(context.Background(), &mockBroadcaster{}, JoinRequest{Name: fmt.Sprintf("P%d", i)})
		if err != nil {
			t.Fatal(err)
		}
		ids[i] = p.ID
		g.Move(p.ID, 500, 500) // everyone within range of everyone
	}

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				src := ids[(w+i)%len(ids)]
				dst := ids[(w+i+1)%len(ids)]
				g.Tag(context.Background(), src, dst)
				g.Move(src, 500+float64(i%5), 500)
				g.Leaderboard()
			}
		}(w)
	}
	wg.Wait()
	assertSingleIt(t, g)
}
