package store

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/victornm/quizsync/internal/domain"
	"github.com/victornm/quizsync/internal/errors"
)

// Memory is the in-process Store. The index maps are guarded by mu, which is only held for map
// access and never while waiting on a session. Everything inside a session is guarded by that
// session's own mutex, so operations on different sessions never wait for each other.
type Memory struct {
	mu      sync.RWMutex
	byCode  map[string]*entry
	byID    map[string]*entry
	players map[string]*entry

	now func() time.Time
}

type entry struct {
	mu      sync.Mutex
	session domain.Session
	index   map[string]int // player ID -> position in session.Players
	removed atomic.Bool    // set once, under entry.mu
}

func NewMemory() *Memory {
	return &Memory{
		byCode:  make(map[string]*entry),
		byID:    make(map[string]*entry),
		players: make(map[string]*entry),
		now:     time.Now,
	}
}

func (m *Memory) Insert(_ context.Context, s domain.Session) error {
	e := &entry{
		session: s,
		index:   make(map[string]int, len(s.Players)),
	}
	e.session.Players = append([]domain.Player(nil), s.Players...)
	for i, p := range e.session.Players {
		e.index[p.PlayerID] = i
	}
	if e.session.LastActiveAt.IsZero() {
		e.session.LastActiveAt = m.now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byCode[s.Code]; ok {
		return ErrCodeTaken
	}
	if _, ok := m.byID[s.SessionID]; ok {
		return fmt.Errorf("store: session id already exists: %s", s.SessionID)
	}

	m.byCode[s.Code] = e
	m.byID[s.SessionID] = e
	for id := range e.index {
		m.players[id] = e
	}

	return nil
}

func (m *Memory) GetByCode(_ context.Context, code string) (domain.Snapshot, error) {
	m.mu.RLock()
	e := m.byCode[code]
	m.mu.RUnlock()

	snap, ok := m.snapshot(e)
	if !ok {
		return domain.Snapshot{}, errors.SessionNotFound("session not found: code=%s", code)
	}

	return snap, nil
}

func (m *Memory) GetByID(_ context.Context, sessionID string) (domain.Snapshot, error) {
	m.mu.RLock()
	e := m.byID[sessionID]
	m.mu.RUnlock()

	snap, ok := m.snapshot(e)
	if !ok {
		return domain.Snapshot{}, errors.SessionNotFound("session not found: session=%s", sessionID)
	}

	return snap, nil
}

func (m *Memory) snapshot(e *entry) (domain.Snapshot, bool) {
	if e == nil {
		return domain.Snapshot{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.removed.Load() {
		return domain.Snapshot{}, false
	}

	e.session.LastActiveAt = m.now()
	return e.session.Snapshot(), true
}

func (m *Memory) FindPlayer(_ context.Context, playerID string) (string, domain.Player, error) {
	m.mu.RLock()
	e := m.players[playerID]
	m.mu.RUnlock()

	if e != nil {
		e.mu.Lock()
		defer e.mu.Unlock()

		if i, ok := e.index[playerID]; ok && !e.removed.Load() {
			return e.session.SessionID, e.session.Players[i], nil
		}
	}

	return "", domain.Player{}, errors.PlayerNotFound("player not found: player=%s", playerID)
}

func (m *Memory) MutatePlayerScore(_ context.Context, playerID string, delta int64) (string, int64, error) {
	m.mu.RLock()
	e := m.players[playerID]
	m.mu.RUnlock()

	if e == nil {
		return "", 0, errors.PlayerNotFound("player not found: player=%s", playerID)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	i, ok := e.index[playerID]
	if !ok || e.removed.Load() {
		return "", 0, errors.PlayerNotFound("player not found: player=%s", playerID)
	}

	p := &e.session.Players[i]
	if (delta > 0 && p.Score > math.MaxInt64-delta) || (delta < 0 && p.Score < math.MinInt64-delta) {
		return "", 0, errors.Malformed("score delta %d overflows score %d", delta, p.Score)
	}

	p.Score += delta
	e.session.LastActiveAt = m.now()

	return e.session.SessionID, p.Score, nil
}

func (m *Memory) AddPlayer(_ context.Context, sessionID string, p domain.Player) error {
	m.mu.RLock()
	e := m.byID[sessionID]
	_, dup := m.players[p.PlayerID]
	m.mu.RUnlock()

	if e == nil {
		return errors.SessionNotFound("session not found: session=%s", sessionID)
	}
	if dup {
		return fmt.Errorf("store: player id already exists: %s", p.PlayerID)
	}

	e.mu.Lock()
	if e.removed.Load() {
		e.mu.Unlock()
		return errors.SessionNotFound("session not found: session=%s", sessionID)
	}
	e.index[p.PlayerID] = len(e.session.Players)
	e.session.Players = append(e.session.Players, p)
	e.session.LastActiveAt = m.now()
	e.mu.Unlock()

	// A session removed in between already dropped its players from the index.
	m.mu.Lock()
	if !e.removed.Load() {
		m.players[p.PlayerID] = e
	}
	m.mu.Unlock()

	return nil
}

func (m *Memory) SetImage(_ context.Context, sessionID, image string) error {
	m.mu.RLock()
	e := m.byID[sessionID]
	m.mu.RUnlock()

	if e != nil {
		e.mu.Lock()
		defer e.mu.Unlock()

		if !e.removed.Load() {
			e.session.SharedImage = image
			e.session.LastActiveAt = m.now()
			return nil
		}
	}

	return errors.SessionNotFound("session not found: session=%s", sessionID)
}

func (m *Memory) Remove(_ context.Context, sessionID string) error {
	m.mu.RLock()
	e := m.byID[sessionID]
	m.mu.RUnlock()

	if e == nil || !m.remove(e, time.Time{}) {
		return errors.SessionNotFound("session not found: session=%s", sessionID)
	}

	return nil
}

func (m *Memory) ExpireIdle(_ context.Context, before time.Time) ([]string, error) {
	m.mu.RLock()
	entries := make([]*entry, 0, len(m.byID))
	for _, e := range m.byID {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	var expired []string
	for _, e := range entries {
		if m.remove(e, before) {
			expired = append(expired, e.session.SessionID)
		}
	}

	return expired, nil
}

// remove drops e from every index and reports whether this call removed it. With a non-zero
// idleBefore, e is kept unless its last activity is before that time.
func (m *Memory) remove(e *entry, idleBefore time.Time) bool {
	e.mu.Lock()
	if e.removed.Load() || (!idleBefore.IsZero() && !e.session.LastActiveAt.Before(idleBefore)) {
		e.mu.Unlock()
		return false
	}
	e.removed.Store(true)
	players := make([]string, 0, len(e.index))
	for id := range e.index {
		players = append(players, id)
	}
	e.mu.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.byCode, e.session.Code)
	delete(m.byID, e.session.SessionID)
	for _, id := range players {
		delete(m.players, id)
	}

	return true
}
