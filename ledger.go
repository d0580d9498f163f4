package main

import "time"

// ItInterval is one player's IT-time account
type ItInterval struct {
	Total     float64   // closed seconds as IT
	StartedAt time.Time // zero when not currently IT
}

// Open reports whether the player is currently accruing IT time
func (iv *ItInterval) Open() bool {
	return !iv.StartedAt.IsZero()
}

// ItLedger accumulates time spent as IT per player. Like Registry it relies
// on the owning Game for serialization.
type ItLedger struct {
	entries map[string]*ItInterval
}

// NewItLedger creates an empty ledger
func NewItLedger() *ItLedger {
	return &ItLedger{entries: make(map[string]*ItInterval)}
}

func (l *ItLedger) entry(id string) *ItInterval {
	iv, ok := l.entries[id]
	if !ok {
		iv = &ItInterval{}
		l.entries[id] = iv
	}
	return iv
}

// StartIt opens an interval for id. An already open interval is kept.
func (l *ItLedger) StartIt(id string, now time.Time) {
	iv := l.entry(id)
	if iv.Open() {
		return
	}
	iv.StartedAt = now
}

// StopIt closes the open interval of id and returns the seconds it added.
// Stopping without an open interval is a no-op.
func (l *ItLedger) StopIt(id string, now time.Time) float64 {
	iv, ok := l.entries[id]
	if !ok || !iv.Open() {
		return 0
	}
	elapsed := elapsedSeconds(iv.StartedAt, now)
	iv.Total += elapsed
	iv.StartedAt = time.Time{}
	return elapsed
}

// EffectiveSeconds returns total IT time of id including the open interval
func (l *ItLedger) EffectiveSeconds(id string, now time.Time) float64 {
	iv, ok := l.entries[id]
	if !ok {
		return 0
	}
	if !iv.Open() {
		return iv.Total
	}
	return iv.Total + elapsedSeconds(iv.StartedAt, now)
}

// Interval returns a copy of the account of id
func (l *ItLedger) Interval(id string) (ItInterval, bool) {
	iv, ok := l.entries[id]
	if !ok {
		return ItInterval{}, false
	}
	return *iv, true
}

// OpenCount returns how many players are accruing IT time
func (l *ItLedger) OpenCount() int {
	n := 0
	for _, iv := range l.entries {
		if iv.Open() {
			n++
		}
	}
	return n
}

// Forget drops the account of a departed player
func (l *ItLedger) Forget(id string) {
	delete(l.entries, id)
}

// elapsedSeconds clamps clock skew to zero
func elapsedSeconds(from, to time.Time) float64 {
	d := to.Sub(from).Seconds()
	if d < 0 {
		return 0
	}
	return d
}
