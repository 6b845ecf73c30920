package settings

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"go.uber.org/multierr"
)

const DefaultAutosaveDelay = 500 * time.Millisecond

type settingsStore interface {
	Update(ctx context.Context, s UserSettings, expectedVersion int64) error
}

// pendingWrite is one armed auto-save token. seq identifies the token:
// a newer edit for the same athlete bumps the seq and the old timer
// goroutine finds itself stale at its deadline and does nothing.
type pendingWrite struct {
	seq      uint64
	settings UserSettings
	// baseVersion is the version of the stored row this edit chain was
	// merged from; the eventual write compare-and-swaps against it.
	baseVersion int64
	cancel      chan struct{}
}

// Autosaver debounces settings writes: every accepted edit arms a
// pending write with a deadline, and only the newest pending write per
// athlete actually reaches the store. Reads go through Peek so that a
// GET right after an accepted PUT sees the pending value, keeping the
// API response authoritative while the row catches up.
type Autosaver struct {
	store settingsStore
	delay time.Duration

	mu      sync.Mutex
	seq     uint64
	pending map[int64]*pendingWrite
	wg      sync.WaitGroup
}

func NewAutosaver(store settingsStore, delay time.Duration) *Autosaver {
	if delay <= 0 {
		delay = DefaultAutosaveDelay
	}
	return &Autosaver{
		store:   store,
		delay:   delay,
		pending: make(map[int64]*pendingWrite),
	}
}

// Schedule arms (or re-arms) the pending write for the athlete.
// The settings value must already carry the bumped version.
func (a *Autosaver) Schedule(ctx context.Context, s UserSettings) {
	a.mu.Lock()
	defer a.mu.Unlock()

	baseVersion := s.Version - 1
	if prev, ok := a.pending[s.AthleteID]; ok {
		// the prior token is now stale, its deadline must not fire
		close(prev.cancel)
		baseVersion = prev.baseVersion
	}

	a.seq++
	pw := &pendingWrite{
		seq:         a.seq,
		settings:    s,
		baseVersion: baseVersion,
		cancel:      make(chan struct{}),
	}
	a.pending[s.AthleteID] = pw

	// the request context dies with the response, the armed write must not
	writeCtx := context.WithoutCancel(ctx)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		timer := time.NewTimer(a.delay)
		defer timer.Stop()
		select {
		case <-timer.C:
			a.fire(writeCtx, s.AthleteID, pw.seq)
		case <-pw.cancel:
		}
	}()
}

func (a *Autosaver) fire(ctx context.Context, athleteID int64, seq uint64) {
	a.mu.Lock()
	pw, ok := a.pending[athleteID]
	if !ok || pw.seq != seq {
		// a newer edit took over, or the write was flushed/dropped
		a.mu.Unlock()
		return
	}
	delete(a.pending, athleteID)
	a.mu.Unlock()

	if err := a.store.Update(ctx, pw.settings, pw.baseVersion); err != nil {
		log.Errorf("autosaver: persist settings for athlete %d: %s", athleteID, err)
	}
}

// Peek returns the not-yet-persisted settings for the athlete, if any.
func (a *Autosaver) Peek(athleteID int64) (UserSettings, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	pw, ok := a.pending[athleteID]
	if !ok {
		return UserSettings{}, false
	}
	return pw.settings, true
}

// Drop invalidates the pending write for the athlete without persisting
// it, returning the version the edit chain was based on. Used by the
// immediate-write paths (reset, zone model change) which supersede any
// debounced edit.
func (a *Autosaver) Drop(athleteID int64) (baseVersion int64, had bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	pw, ok := a.pending[athleteID]
	if !ok {
		return 0, false
	}
	close(pw.cancel)
	delete(a.pending, athleteID)
	return pw.baseVersion, true
}

// Flush persists every pending write right away. Wired into graceful
// shutdown so that at most one delay worth of edits is ever at risk.
func (a *Autosaver) Flush(ctx context.Context) error {
	a.mu.Lock()
	toWrite := make([]*pendingWrite, 0, len(a.pending))
	for athleteID, pw := range a.pending {
		close(pw.cancel)
		delete(a.pending, athleteID)
		toWrite = append(toWrite, pw)
	}
	a.mu.Unlock()

	var flushErr error
	for _, pw := range toWrite {
		if err := a.store.Update(ctx, pw.settings, pw.baseVersion); err != nil {
			log.Errorf("autosaver flush: persist settings for athlete %d: %s", pw.settings.AthleteID, err)
			flushErr = multierr.Append(flushErr, err)
		}
	}

	a.wg.Wait()
	return flushErr
}
