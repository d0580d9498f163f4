package main

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type TagArbiterSuite struct {
	suite.Suite
	registry *Registry
	ledger   *ItLedger
	arbiter  *TagArbiter
	now      time.Time
}

func TestTagArbiterSuite(t *testing.T) {
	suite.Run(t, new(TagArbiterSuite))
}

func (s *TagArbiterSuite) SetupTest() {
	w, err := GenerateWorld(42, 10, 10)
	s.Require().NoError(err)
	s.registry, err = NewRegistry(w, 48, rand.New(rand.NewPCG(5, 6)))
	s.Require().NoError(err)
	s.ledger = NewItLedger()
	s.arbiter = NewTagArbiter(s.registry, s.ledger, 32, 200*time.Millisecond)
	s.now = testEpoch

	for _, id := range []string{"a", "b", "c"} {
		p, err := s.registry.Admit(id, id, "", s.now)
		s.Require().NoError(err)
		if p.IsIt {
			s.ledger.StartIt(id, s.now)
		}
	}
	s.place("a", 100, 100)
	s.place("b", 110, 100)
	s.place("c", 300, 300)
}

func (s *TagArbiterSuite) place(id string, x, y float64) {
	s.Require().True(s.registry.UpdatePosition(id, x, y))
}

func (s *TagArbiterSuite) assertItIs(id string) {
	s.Equal(id, s.registry.CurrentIt())
	for _, p := range s.registry.Players() {
		s.Equal(p.ID == id, p.IsIt, "player %s", p.ID)
	}
	s.Equal(1, s.ledger.OpenCount())
}

func (s *TagArbiterSuite) TestAcceptedTagHandsOver() {
	s.now = s.now.Add(4 * time.Second)
	out := s.arbiter.Attempt("a", "b", s.now)

	s.True(out.Accepted)
	s.Equal("b", out.NewIt)
	s.Equal("a", out.PrevIt)
	s.Equal(4.0, out.Held)
	s.assertItIs("b")

	a, _ := s.ledger.Interval("a")
	s.False(a.Open())
	s.Equal(4.0, a.Total)
	b, _ := s.ledger.Interval("b")
	s.True(b.Open())
}

func (s *TagArbiterSuite) TestRangeBoundary() {
	s.place("b", 140, 100) // distance 40
	out := s.arbiter.Attempt("a", "b", s.now)
	s.Equal(ErrOutOfRange, out.Reason)

	s.place("b", 132, 100) // exactly the radius
	out = s.arbiter.Attempt("a", "b", s.now)
	s.Equal(ErrOutOfRange, out.Reason)

	s.place("b", 131.9999, 100)
	out = s.arbiter.Attempt("a", "b", s.now)
	s.True(out.Accepted)
}

func (s *TagArbiterSuite) TestZeroDistanceAccepted() {
	s.place("b", 100, 100)
	s.True(s.arbiter.Attempt("a", "b", s.now).Accepted)
}

func (s *TagArbiterSuite) TestRejectionOrder() {
	// Non-IT source wins over every other problem
	s.Equal(ErrSourceNotIt, s.arbiter.Attempt("b", "b", s.now).Reason)
	s.Equal(ErrSourceNotIt, s.arbiter.Attempt("ghost", "a", s.now).Reason)
	s.Equal(ErrUnknownTarget, s.arbiter.Attempt("a", "ghost", s.now).Reason)
	s.Equal(ErrSelfTag, s.arbiter.Attempt("a", "a", s.now).Reason)
	s.Equal(ErrOutOfRange, s.arbiter.Attempt("a", "c", s.now).Reason)
	s.assertItIs("a")
}

func (s *TagArbiterSuite) TestRejectedAttemptChangesNothing() {
	before, _ := s.ledger.Interval("a")
	s.arbiter.Attempt("a", "c", s.now.Add(time.Second))
	after, _ := s.ledger.Interval("a")
	s.Equal(before, after)
	s.assertItIs("a")
}

func (s *TagArbiterSuite) TestCooldownAppliesAfterHandoff() {
	s.Require().True(s.arbiter.Attempt("a", "b", s.now).Accepted)

	out := s.arbiter.Attempt("b", "a", s.now.Add(100*time.Millisecond))
	s.Equal(ErrTagCooldown, out.Reason)
	s.assertItIs("b")

	out = s.arbiter.Attempt("b", "a", s.now.Add(200*time.Millisecond))
	s.True(out.Accepted)
	s.assertItIs("a")
}

func (s *TagArbiterSuite) TestPromoteEarliest() {
	s.now = s.now.Add(3 * time.Second)
	s.ledger.StopIt("a", s.now)
	s.ledger.Forget("a")
	s.registry.Remove("a")

	out := s.arbiter.Promote("a", s.now)
	s.True(out.Accepted)
	s.Equal("a", out.PrevIt)
	s.Equal("b", out.NewIt, "equal joinedAt falls back to id order")
	s.assertItIs("b")

	// Promoted holder is subject to the cooldown too
	s.place("c", 110, 100)
	s.Equal(ErrTagCooldown, s.arbiter.Attempt("b", "c", s.now).Reason)
}

func (s *TagArbiterSuite) TestPromoteNoopWhenItPresent() {
	out := s.arbiter.Promote("c", s.now)
	s.False(out.Accepted)
	s.assertItIs("a")
}

func TestPromoteEmptySession(t *testing.T) {
	w, err := GenerateWorld(1, 5, 5)
	require.NoError(t, err)
	reg, err := NewRegistry(w, 48, nil)
	require.NoError(t, err)
	ledger := NewItLedger()
	arb := NewTagArbiter(reg, ledger, 32, time.Second)

	_, err = reg.Admit("a", "A", "", testEpoch)
	require.NoError(t, err)
	reg.Remove("a")

	out := arb.Promote("a", testEpoch)
	require.False(t, out.Accepted)
	require.Equal(t, "", reg.CurrentIt())
}
