//go:build integration_test

package demo

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/victornm/quizsync/internal/client"
	"github.com/victornm/quizsync/internal/domain"
)

const (
	httpAddr = "http://localhost:8080"
	grpcAddr = "localhost:9090"
)

// TestQuiz plays a short game against a running server: a host, three players and a display.
func TestQuiz(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	requireServing(ctx, t)

	var (
		c       = client.New(client.Config{BaseURL: httpAddr})
		names   = []string{"Anna", "Boris", "Clara"}
		rounds  = 3
		players = make([]string, len(names))
	)

	host := client.NewHost(c, client.SyncConfig{Interval: 500 * time.Millisecond})
	t.Cleanup(host.Stop)

	game, err := host.CreateGame(ctx)
	require.NoError(t, err)
	t.Logf("Game %s created with code %s", game.GameID, game.Code)

	for i, name := range names {
		p := client.NewPlayer(c, client.SyncConfig{Interval: 500 * time.Millisecond})
		t.Cleanup(p.Stop)

		me, err := p.Join(ctx, game.Code, name)
		require.NoError(t, err)
		players[i] = me.PlayerID
	}

	display := client.NewDisplay(c, client.SyncConfig{
		Interval: 500 * time.Millisecond,
		OnUpdate: func(snap domain.Snapshot) {
			t.Logf("display:\n%s", formatPlayers(snap.Players))
		},
	})
	t.Cleanup(display.Stop)
	require.NoError(t, display.Watch(game.Code))

	// Every round the host awards all players concurrently, player i gets i+1 points.
	for r := 0; r < rounds; r++ {
		t.Logf("Starting round %d", r+1)

		var eg errgroup.Group
		for i, pid := range players {
			i, pid := i, pid
			eg.Go(func() error {
				score, err := host.AdjustScore(ctx, pid, int64(i+1))
				if err != nil {
					return fmt.Errorf("player %q adjust score: %w", names[i], err)
				}

				t.Logf("Player %q scored: total=%d", names[i], score)
				return nil
			})
		}

		require.NoError(t, eg.Wait())
		time.Sleep(time.Second)
	}

	require.Eventually(t, func() bool {
		l, ok := display.Leaderboard()
		return ok && len(l.Entries) == len(names) && l.Entries[0].Score == int64(rounds*len(names))
	}, 5*time.Second, 100*time.Millisecond)

	require.NoError(t, host.EndGame(ctx))
}

func requireServing(ctx context.Context, t *testing.T) {
	conn, err := grpc.NewClient(grpcAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)
}

func formatPlayers(players []domain.Player) string {
	var sb strings.Builder
	for _, p := range players {
		fmt.Fprintf(&sb, "%s: %d\n", p.Name, p.Score)
	}
	return sb.String()
}
