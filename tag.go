package main

import "time"

// TagOutcome is the result of a tag attempt or an IT promotion
type TagOutcome struct {
	Accepted bool
	Reason   GameError
	NewIt    string
	PrevIt   string
	Held     float64 // seconds PrevIt held IT in the interval just closed
}

// TagArbiter is the only component that moves IT between players
type TagArbiter struct {
	registry  *Registry
	ledger    *ItLedger
	radius    float64
	cooldown  time.Duration
	handoffAt time.Time // when the current holder received IT, zero for the first holder
}

// NewTagArbiter creates an arbiter over registry and ledger
func NewTagArbiter(registry *Registry, ledger *ItLedger, radius float64, cooldown time.Duration) *TagArbiter {
	return &TagArbiter{
		registry: registry,
		ledger:   ledger,
		radius:   radius,
		cooldown: cooldown,
	}
}

func rejected(reason GameError) TagOutcome {
	return TagOutcome{Reason: reason}
}

// Attempt validates a tag from sourceID on targetID and, when valid, hands
// IT over. Checks run in order and stop at the first failure; a rejected
// attempt changes nothing.
func (a *TagArbiter) Attempt(sourceID, targetID string, now time.Time) TagOutcome {
	src, ok := a.registry.Get(sourceID)
	if !ok || !src.IsIt {
		return rejected(ErrSourceNotIt)
	}
	tgt, ok := a.registry.Get(targetID)
	if !ok {
		return rejected(ErrUnknownTarget)
	}
	if targetID == sourceID {
		return rejected(ErrSelfTag)
	}
	// Positions are client-reported, so range is always rechecked here
	if Distance(src.X, src.Y, tgt.X, tgt.Y) >= a.radius {
		return rejected(ErrOutOfRange)
	}
	if !a.handoffAt.IsZero() && now.Sub(a.handoffAt) < a.cooldown {
		return rejected(ErrTagCooldown)
	}

	a.registry.assignIt(targetID)
	held := a.ledger.StopIt(sourceID, now)
	a.ledger.StartIt(targetID, now)
	a.handoffAt = now
	return TagOutcome{Accepted: true, NewIt: targetID, PrevIt: sourceID, Held: held}
}

// Promote gives IT to the longest-present player after the holder prevID
// has left. It does nothing when someone is still IT or nobody remains.
func (a *TagArbiter) Promote(prevID string, now time.Time) TagOutcome {
	if a.registry.CurrentIt() != "" {
		return TagOutcome{}
	}
	next, ok := a.registry.Earliest()
	if !ok {
		a.handoffAt = time.Time{}
		return TagOutcome{}
	}
	a.registry.assignIt(next.ID)
	a.ledger.StartIt(next.ID, now)
	a.handoffAt = now
	return TagOutcome{Accepted: true, NewIt: next.ID, PrevIt: prevID}
}
