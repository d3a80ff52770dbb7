package session_test

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/victornm/quizsync/internal/codegen"
	"github.com/victornm/quizsync/internal/domain"
	"github.com/victornm/quizsync/internal/errors"
	"github.com/victornm/quizsync/internal/event"
	"github.com/victornm/quizsync/internal/session"
	"github.com/victornm/quizsync/internal/store"
)

func TestService_CreateJoinGetState(t *testing.T) {
	ctx := context.Background()
	s := makeService(t)

	game, err := s.CreateGame(ctx)
	require.NoError(t, err)
	require.Len(t, game.Code, codegen.DefaultLength)
	require.NotEmpty(t, game.SessionID)

	joined, err := s.JoinGame(ctx, session.JoinGameRequest{Code: game.Code, Name: "Anna"})
	require.NoError(t, err)
	assert.Equal(t, game.SessionID, joined.SessionID)
	assert.Equal(t, "Anna", joined.Name)

	snap, err := s.GetState(ctx, session.GetStateRequest{Code: game.Code})
	require.NoError(t, err)
	assert.Equal(t, &domain.Snapshot{
		SessionID: game.SessionID,
		Code:      game.Code,
		Players: []domain.Player{
			{PlayerID: joined.PlayerID, Name: "Anna", Score: 0},
		},
	}, snap)
}

func TestService_CodesAreUnique(t *testing.T) {
	ctx := context.Background()
	s := makeService(t)

	const n = 200
	var (
		mu    sync.Mutex
		codes = make(map[string]struct{}, n)
		eg    errgroup.Group
	)
	for range n {
		eg.Go(func() error {
			g, err := s.CreateGame(ctx)
			if err != nil {
				return err
			}
			mu.Lock()
			codes[g.Code] = struct{}{}
			mu.Unlock()
			return nil
		})
	}
	require.NoError(t, eg.Wait())
	assert.Len(t, codes, n)
}

func TestService_CodeSpaceExhausted(t *testing.T) {
	ctx := context.Background()

	// A zero entropy source makes every generated code identical.
	s := makeService(t, withCodes(codegen.NewGenerator(codegen.Config{
		MaxAttempts: 3,
		Rand:        bytes.NewReader(make([]byte, 4096)),
	})))

	_, err := s.CreateGame(ctx)
	require.NoError(t, err)

	_, err = s.CreateGame(ctx)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindCodeSpaceExhausted), "got %v", err)
}

func TestService_UpdateScore(t *testing.T) {
	type (
		inputs struct {
			deltas []int64
		}

		outputs struct {
			final int64
			errs  []error
		}
	)

	tests := map[string]struct {
		arrange func() inputs
		assert  func(t *testing.T, out outputs)
	}{
		"three +1 and one -1 issued concurrently should end at 2": {
			arrange: func() inputs {
				return inputs{deltas: []int64{1, 1, 1, -1}}
			},
			assert: func(t *testing.T, out outputs) {
				assert.Empty(t, out.errs)
				assert.EqualValues(t, 2, out.final)
			},
		},

		"score may go negative": {
			arrange: func() inputs {
				return inputs{deltas: []int64{-1, -1, -5}}
			},
			assert: func(t *testing.T, out outputs) {
				assert.Empty(t, out.errs)
				assert.EqualValues(t, -7, out.final)
			},
		},

		"out of range delta should be rejected without being applied": {
			arrange: func() inputs {
				return inputs{deltas: []int64{3, session.DefaultMaxScoreDelta + 1}}
			},
			assert: func(t *testing.T, out outputs) {
				require.Len(t, out.errs, 1)
				assert.True(t, errors.IsKind(out.errs[0], errors.KindMalformedRequest))
				assert.EqualValues(t, 3, out.final)
			},
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			in, out := tt.arrange(), outputs{}
			s := makeService(t)

			game, err := s.CreateGame(ctx)
			require.NoError(t, err)
			p, err := s.JoinGame(ctx, session.JoinGameRequest{Code: game.Code, Name: "Anna"})
			require.NoError(t, err)

			var (
				mu sync.Mutex
				wg sync.WaitGroup
			)
			for _, d := range in.deltas {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := s.UpdateScore(ctx, session.UpdateScoreRequest{PlayerID: p.PlayerID, Delta: d})
					if err != nil {
						mu.Lock()
						out.errs = append(out.errs, err)
						mu.Unlock()
					}
				}()
			}
			wg.Wait()

			snap, err := s.GetState(ctx, session.GetStateRequest{Code: game.Code})
			require.NoError(t, err)
			out.final = snap.Players[0].Score

			tt.assert(t, out)
		})
	}
}

func TestService_UpdateScoreReturnsAppliedValue(t *testing.T) {
	ctx := context.Background()
	s := makeService(t)

	game, err := s.CreateGame(ctx)
	require.NoError(t, err)
	p, err := s.JoinGame(ctx, session.JoinGameRequest{Code: game.Code, Name: "Anna"})
	require.NoError(t, err)

	var (
		mu      sync.Mutex
		results []int64
		eg      errgroup.Group
	)
	for range 20 {
		eg.Go(func() error {
			resp, err := s.UpdateScore(ctx, session.UpdateScoreRequest{PlayerID: p.PlayerID, Delta: 1})
			if err != nil {
				return err
			}
			mu.Lock()
			results = append(results, resp.NewScore)
			mu.Unlock()
			return nil
		})
	}
	require.NoError(t, eg.Wait())

	// Every commit observes a distinct post-delta value.
	want := make([]int64, 0, 20)
	for i := int64(1); i <= 20; i++ {
		want = append(want, i)
	}
	assert.ElementsMatch(t, want, results)
}

func TestService_Errors(t *testing.T) {
	ctx := context.Background()
	s := makeService(t)

	game, err := s.CreateGame(ctx)
	require.NoError(t, err)

	tests := map[string]struct {
		call func() error
		want errors.Kind
	}{
		"get state of an unknown code": {
			call: func() error {
				_, err := s.GetState(ctx, session.GetStateRequest{Code: "ZZZZZZ"})
				return err
			},
			want: errors.KindSessionNotFound,
		},
		"join an unknown code": {
			call: func() error {
				_, err := s.JoinGame(ctx, session.JoinGameRequest{Code: "ZZZZZZ", Name: "Anna"})
				return err
			},
			want: errors.KindSessionNotFound,
		},
		"join with an empty name": {
			call: func() error {
				_, err := s.JoinGame(ctx, session.JoinGameRequest{Code: game.Code, Name: ""})
				return err
			},
			want: errors.KindInvalidName,
		},
		"join with a blank name": {
			call: func() error {
				_, err := s.JoinGame(ctx, session.JoinGameRequest{Code: game.Code, Name: " \t "})
				return err
			},
			want: errors.KindInvalidName,
		},
		"update an unknown player": {
			call: func() error {
				_, err := s.UpdateScore(ctx, session.UpdateScoreRequest{PlayerID: "nobody", Delta: 1})
				return err
			},
			want: errors.KindPlayerNotFound,
		},
		"update without player id": {
			call: func() error {
				_, err := s.UpdateScore(ctx, session.UpdateScoreRequest{Delta: 1})
				return err
			},
			want: errors.KindMalformedRequest,
		},
		"set image of an unknown session": {
			call: func() error {
				return s.SetImage(ctx, session.SetImageRequest{SessionID: "nobody", Image: "x"})
			},
			want: errors.KindSessionNotFound,
		},
		"end an unknown session": {
			call: func() error {
				return s.EndGame(ctx, session.EndGameRequest{SessionID: "nobody"})
			},
			want: errors.KindSessionNotFound,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			err := tt.call()
			require.Error(t, err)
			assert.Equal(t, tt.want, errors.KindOf(err), "got %v", err)
		})
	}

	snap, err := s.GetState(ctx, session.GetStateRequest{Code: game.Code})
	require.NoError(t, err)
	assert.Empty(t, snap.Players, "rejected joins must not add players")
}

func TestService_JoinIsolation(t *testing.T) {
	ctx := context.Background()
	s := makeService(t)

	a, err := s.CreateGame(ctx)
	require.NoError(t, err)
	b, err := s.CreateGame(ctx)
	require.NoError(t, err)

	_, err = s.JoinGame(ctx, session.JoinGameRequest{Code: a.Code, Name: "Anna"})
	require.NoError(t, err)
	_, err = s.JoinGame(ctx, session.JoinGameRequest{Code: a.Code, Name: "Anna"})
	require.NoError(t, err)

	snapA, err := s.GetState(ctx, session.GetStateRequest{Code: a.Code})
	require.NoError(t, err)
	assert.Len(t, snapA.Players, 2, "same name joins twice as two players")

	snapB, err := s.GetState(ctx, session.GetStateRequest{Code: b.Code})
	require.NoError(t, err)
	assert.Empty(t, snapB.Players)
}

func TestService_CodeLookupIsNormalized(t *testing.T) {
	ctx := context.Background()
	s := makeService(t)

	game, err := s.CreateGame(ctx)
	require.NoError(t, err)

	_, err = s.JoinGame(ctx, session.JoinGameRequest{Code: "  " + strings.ToLower(game.Code) + " ", Name: "Anna"})
	require.NoError(t, err)
}

func TestService_SetImage(t *testing.T) {
	ctx := context.Background()
	s := makeService(t)

	game, err := s.CreateGame(ctx)
	require.NoError(t, err)

	require.NoError(t, s.SetImage(ctx, session.SetImageRequest{SessionID: game.SessionID, Image: "data:image/png;base64,AAAA"}))
	snap, err := s.GetState(ctx, session.GetStateRequest{Code: game.Code})
	require.NoError(t, err)
	assert.Equal(t, "data:image/png;base64,AAAA", snap.SharedImage)

	require.NoError(t, s.SetImage(ctx, session.SetImageRequest{SessionID: game.SessionID, Image: ""}))
	snap, err = s.GetState(ctx, session.GetStateRequest{Code: game.Code})
	require.NoError(t, err)
	assert.Empty(t, snap.SharedImage)
}

func TestService_EndGameAndExpire(t *testing.T) {
	ctx := context.Background()

	var (
		mu    sync.Mutex
		ended []domain.EventSessionEnded
	)
	eb := event.NewBus()
	eb.Subscribe(domain.EventNameSessionEnded, "test", func(_ context.Context, e event.Event) error {
		mu.Lock()
		ended = append(ended, e.(domain.EventSessionEnded))
		mu.Unlock()
		return nil
	})

	s := makeService(t, withEventBus(eb))

	a, err := s.CreateGame(ctx)
	require.NoError(t, err)
	b, err := s.CreateGame(ctx)
	require.NoError(t, err)

	require.NoError(t, s.EndGame(ctx, session.EndGameRequest{SessionID: a.SessionID}))
	_, err = s.GetState(ctx, session.GetStateRequest{Code: a.Code})
	assert.True(t, errors.IsKind(err, errors.KindSessionNotFound))

	n, err := s.ExpireIdle(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, n, "recently active sessions must survive")

	n, err = s.ExpireIdle(ctx, -time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	eb.Stop()
	assert.ElementsMatch(t, []domain.EventSessionEnded{
		{SessionID: a.SessionID},
		{SessionID: b.SessionID, Expired: true},
	}, ended)
}

func makeService(t *testing.T, opts ...options) *session.Service {
	t.Helper()

	c := session.Config{
		Store:    store.NewMemory(),
		EventBus: event.NewBus(),
	}

	for _, opt := range opts {
		opt(&c)
	}

	return session.NewService(c)
}

type options func(c *session.Config)

func withEventBus(eb *event.Bus) options {
	return func(c *session.Config) {
		c.EventBus = eb
	}
}

func withCodes(g *codegen.Generator) options {
	return func(c *session.Config) {
		c.Codes = g
	}
}
