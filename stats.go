package main

import (
	"log"
	"sort"
	"sync"
	"time"
)

const (
	statsQueueSize  = 1024
	statsBatchSize  = 50
	statsFlushEvery = 5 * time.Second
)

// statsEvent is one accepted game fact about an account
type statsEvent struct {
	Account string
	Tags    int
	Hold    float64 // seconds of a closed IT interval
}

// AchievementNotifier delivers a newly unlocked achievement to an account
type AchievementNotifier func(account string, def AchievementDef)

// StatsRecorder persists account stats with batched background writes. Game
// code only ever enqueues; a full queue drops the event.
type StatsRecorder struct {
	db         *DB
	events     chan statsEvent
	stop       chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
	notify     AchievementNotifier
	flushEvery time.Duration
}

// NewStatsRecorder creates and starts the stats background writer
func NewStatsRecorder(db *DB, notify AchievementNotifier) *StatsRecorder {
	s := &StatsRecorder{
		db:         db,
		events:     make(chan statsEvent, statsQueueSize),
		stop:       make(chan struct{}),
		notify:     notify,
		flushEvery: statsFlushEvery,
	}
	s.wg.Add(1)
	go s.writer()
	return s
}

// RecordTag counts one accepted tag made by account
func (s *StatsRecorder) RecordTag(account string) {
	s.enqueue(statsEvent{Account: account, Tags: 1})
}

// RecordHold adds a closed IT interval to account
func (s *StatsRecorder) RecordHold(account string, seconds float64) {
	if seconds <= 0 {
		return
	}
	s.enqueue(statsEvent{Account: account, Hold: seconds})
}

func (s *StatsRecorder) enqueue(evt statsEvent) {
	if evt.Account == "" {
		return
	}
	defer func() { recover() }() // enqueue after Stop
	select {
	case s.events <- evt:
	default:
		// Queue full, drop rather than stall the session
	}
}

// Stop flushes what is queued and shuts the writer down
func (s *StatsRecorder) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
}

// writer is the background goroutine that batches and writes stats to DB
func (s *StatsRecorder) writer() {
	defer s.wg.Done()

	batch := make([]statsEvent, 0, statsBatchSize)
	ticker := time.NewTicker(s.flushEvery)
	defer ticker.Stop()

	for {
		select {
		case evt := <-s.events:
			batch = append(batch, evt)
			if len(batch) >= statsBatchSize {
				s.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				s.flush(batch)
				batch = batch[:0]
			}
		case <-s.stop:
			// Drain remaining events
			close(s.events)
			for evt := range s.events {
				batch = append(batch, evt)
			}
			if len(batch) > 0 {
				s.flush(batch)
			}
			return
		}
	}
}

// aggregate folds a batch into one delta per account, sorted by account
func aggregate(events []statsEvent) []StatsDelta {
	byAccount := make(map[string]*StatsDelta)
	for _, evt := range events {
		d, ok := byAccount[evt.Account]
		if !ok {
			d = &StatsDelta{Username: evt.Account}
			byAccount[evt.Account] = d
		}
		d.Tags += evt.Tags
		d.TimeIt += evt.Hold
		if evt.Hold > d.Longest {
			d.Longest = evt.Hold
		}
	}
	out := make([]StatsDelta, 0, len(byAccount))
	for _, d := range byAccount {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

// flush writes a batch to the database and checks achievements
func (s *StatsRecorder) flush(events []statsEvent) {
	if s.db == nil || len(events) == 0 {
		return
	}
	deltas := aggregate(events)
	if err := s.db.ApplyStats(deltas); err != nil {
		log.Printf("stats: flush error: %v", err)
		return
	}
	for _, d := range deltas {
		for _, def := range CheckAchievements(s.db, d.Username) {
			log.Printf("stats: %s unlocked %s", d.Username, def.ID)
			if s.notify != nil {
				s.notify(d.Username, def)
			}
		}
	}
}
