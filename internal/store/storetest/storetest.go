// Package storetest runs the store.Store contract against any driver.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/victornm/quizsync/internal/domain"
	"github.com/victornm/quizsync/internal/errors"
	"github.com/victornm/quizsync/internal/store"
)

// Run exercises s. Each subtest uses its own sessions, so s can be shared.
func Run(t *testing.T, s store.Store) {
	t.Run("insert and read back", func(t *testing.T) { testInsertAndGet(t, s) })
	t.Run("code collision", func(t *testing.T) { testCodeCollision(t, s) })
	t.Run("players keep join order", func(t *testing.T) { testJoinOrder(t, s) })
	t.Run("concurrent deltas are all applied", func(t *testing.T) { testConcurrentDeltas(t, s) })
	t.Run("joins are isolated between sessions", func(t *testing.T) { testJoinIsolation(t, s) })
	t.Run("snapshots are never torn", func(t *testing.T) { testSnapshotConsistency(t, s) })
	t.Run("set and clear image", func(t *testing.T) { testSetImage(t, s) })
	t.Run("unknown ids", func(t *testing.T) { testNotFound(t, s) })
	t.Run("remove frees the code", func(t *testing.T) { testRemove(t, s) })
	t.Run("expire idle sessions", func(t *testing.T) { testExpireIdle(t, s) })
}

var codeSeq struct {
	sync.Mutex
	n int
}

// NewSession returns a session with a unique ID and a code no other test uses.
func NewSession(t *testing.T) domain.Session {
	t.Helper()

	codeSeq.Lock()
	codeSeq.n++
	n := codeSeq.n
	codeSeq.Unlock()

	return domain.Session{
		SessionID: uuid.NewString(),
		Code:      fmt.Sprintf("T%05d", n),
		CreatedAt: time.Now(),
	}
}

func insert(t *testing.T, s store.Store) domain.Session {
	t.Helper()

	ss := NewSession(t)
	require.NoError(t, s.Insert(context.Background(), ss))
	return ss
}

func join(t *testing.T, s store.Store, sessionID, name string) domain.Player {
	t.Helper()

	p := domain.Player{PlayerID: uuid.NewString(), Name: name}
	require.NoError(t, s.AddPlayer(context.Background(), sessionID, p))
	return p
}

func testInsertAndGet(t *testing.T, s store.Store) {
	ctx := context.Background()
	ss := insert(t, s)

	byCode, err := s.GetByCode(ctx, ss.Code)
	require.NoError(t, err)
	assert.Equal(t, ss.SessionID, byCode.SessionID)
	assert.Equal(t, ss.Code, byCode.Code)
	assert.Empty(t, byCode.Players)
	assert.Empty(t, byCode.SharedImage)

	byID, err := s.GetByID(ctx, ss.SessionID)
	require.NoError(t, err)
	assert.Equal(t, byCode, byID)
}

func testCodeCollision(t *testing.T, s store.Store) {
	ss := insert(t, s)

	dup := NewSession(t)
	dup.Code = ss.Code

	err := s.Insert(context.Background(), dup)
	require.ErrorIs(t, err, store.ErrCodeTaken)

	_, err = s.GetByID(context.Background(), dup.SessionID)
	assert.True(t, errors.IsKind(err, errors.KindSessionNotFound), "colliding session must not be stored")
}

func testJoinOrder(t *testing.T, s store.Store) {
	ss := insert(t, s)

	a := join(t, s, ss.SessionID, "Anna")
	b := join(t, s, ss.SessionID, "Boris")
	c := join(t, s, ss.SessionID, "Anna")

	snap, err := s.GetByCode(context.Background(), ss.Code)
	require.NoError(t, err)
	assert.Equal(t, []domain.Player{a, b, c}, snap.Players)

	sid, p, err := s.FindPlayer(context.Background(), b.PlayerID)
	require.NoError(t, err)
	assert.Equal(t, ss.SessionID, sid)
	assert.Equal(t, b, p)
}

func testConcurrentDeltas(t *testing.T, s store.Store) {
	ctx := context.Background()
	ss := insert(t, s)
	p := join(t, s, ss.SessionID, "Anna")

	const workers = 50
	var (
		eg   errgroup.Group
		want int64
	)
	for i := range workers {
		delta := int64(1)
		if i%3 == 0 {
			delta = -1
		}
		want += delta

		eg.Go(func() error {
			_, _, err := s.MutatePlayerScore(ctx, p.PlayerID, delta)
			return err
		})
	}
	require.NoError(t, eg.Wait())

	_, got, err := s.FindPlayer(ctx, p.PlayerID)
	require.NoError(t, err)
	assert.Equal(t, want, got.Score)

	sid, score, err := s.MutatePlayerScore(ctx, p.PlayerID, 0)
	require.NoError(t, err)
	assert.Equal(t, ss.SessionID, sid)
	assert.Equal(t, want, score)
}

func testJoinIsolation(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := insert(t, s)
	b := insert(t, s)

	var eg errgroup.Group
	for i := range 10 {
		eg.Go(func() error {
			return s.AddPlayer(ctx, a.SessionID, domain.Player{PlayerID: uuid.NewString(), Name: fmt.Sprintf("a%d", i)})
		})
	}
	require.NoError(t, eg.Wait())

	snapA, err := s.GetByCode(ctx, a.Code)
	require.NoError(t, err)
	assert.Len(t, snapA.Players, 10)

	snapB, err := s.GetByCode(ctx, b.Code)
	require.NoError(t, err)
	assert.Empty(t, snapB.Players)
}

// testSnapshotConsistency moves one point from one player to the other in a loop. Each transfer is
// two mutations, so a reader can see the sum at 0 or -1 but a torn read of a single mutation
// would show a score that was never committed.
func testSnapshotConsistency(t *testing.T, s store.Store) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ss := insert(t, s)
	a := join(t, s, ss.SessionID, "a")
	b := join(t, s, ss.SessionID, "b")

	const rounds = 100
	var eg errgroup.Group
	eg.Go(func() error {
		for range rounds {
			if _, _, err := s.MutatePlayerScore(ctx, a.PlayerID, -1); err != nil {
				return err
			}
			if _, _, err := s.MutatePlayerScore(ctx, b.PlayerID, 1); err != nil {
				return err
			}
		}
		return nil
	})
	eg.Go(func() error {
		for range rounds {
			snap, err := s.GetByCode(ctx, ss.Code)
			if err != nil {
				return err
			}
			if len(snap.Players) != 2 {
				return fmt.Errorf("want 2 players, got %d", len(snap.Players))
			}
			sum := snap.Players[0].Score + snap.Players[1].Score
			if sum != 0 && sum != -1 {
				return fmt.Errorf("torn snapshot: %+v", snap.Players)
			}
		}
		return nil
	})
	require.NoError(t, eg.Wait())

	snap, err := s.GetByCode(ctx, ss.Code)
	require.NoError(t, err)
	assert.EqualValues(t, -rounds, snap.Players[0].Score)
	assert.EqualValues(t, rounds, snap.Players[1].Score)
}

func testSetImage(t *testing.T, s store.Store) {
	ctx := context.Background()
	ss := insert(t, s)

	require.NoError(t, s.SetImage(ctx, ss.SessionID, "data:image/png;base64,AAAA"))
	snap, err := s.GetByCode(ctx, ss.Code)
	require.NoError(t, err)
	assert.Equal(t, "data:image/png;base64,AAAA", snap.SharedImage)

	require.NoError(t, s.SetImage(ctx, ss.SessionID, ""))
	snap, err = s.GetByCode(ctx, ss.Code)
	require.NoError(t, err)
	assert.Empty(t, snap.SharedImage)
}

func testNotFound(t *testing.T, s store.Store) {
	ctx := context.Background()
	missing := uuid.NewString()

	_, err := s.GetByCode(ctx, "ZZZZZZ")
	assert.True(t, errors.IsKind(err, errors.KindSessionNotFound), "GetByCode: %v", err)

	_, err = s.GetByID(ctx, missing)
	assert.True(t, errors.IsKind(err, errors.KindSessionNotFound), "GetByID: %v", err)

	_, _, err = s.FindPlayer(ctx, missing)
	assert.True(t, errors.IsKind(err, errors.KindPlayerNotFound), "FindPlayer: %v", err)

	_, _, err = s.MutatePlayerScore(ctx, missing, 1)
	assert.True(t, errors.IsKind(err, errors.KindPlayerNotFound), "MutatePlayerScore: %v", err)

	err = s.AddPlayer(ctx, missing, domain.Player{PlayerID: uuid.NewString(), Name: "x"})
	assert.True(t, errors.IsKind(err, errors.KindSessionNotFound), "AddPlayer: %v", err)

	err = s.SetImage(ctx, missing, "x")
	assert.True(t, errors.IsKind(err, errors.KindSessionNotFound), "SetImage: %v", err)

	err = s.Remove(ctx, missing)
	assert.True(t, errors.IsKind(err, errors.KindSessionNotFound), "Remove: %v", err)
}

func testRemove(t *testing.T, s store.Store) {
	ctx := context.Background()
	ss := insert(t, s)
	p := join(t, s, ss.SessionID, "Anna")

	require.NoError(t, s.Remove(ctx, ss.SessionID))

	_, err := s.GetByCode(ctx, ss.Code)
	assert.True(t, errors.IsKind(err, errors.KindSessionNotFound))

	_, _, err = s.MutatePlayerScore(ctx, p.PlayerID, 1)
	assert.True(t, errors.IsKind(err, errors.KindPlayerNotFound))

	again := NewSession(t)
	again.Code = ss.Code
	require.NoError(t, s.Insert(ctx, again), "code of a removed session must be reusable")
}

func testExpireIdle(t *testing.T, s store.Store) {
	ctx := context.Background()
	ss := insert(t, s)

	expired, err := s.ExpireIdle(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.NotContains(t, expired, ss.SessionID)

	expired, err = s.ExpireIdle(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Contains(t, expired, ss.SessionID)

	_, err = s.GetByID(ctx, ss.SessionID)
	assert.True(t, errors.IsKind(err, errors.KindSessionNotFound))
}
