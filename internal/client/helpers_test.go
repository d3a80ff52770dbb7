package client_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/victornm/quizsync/internal/api"
	"github.com/victornm/quizsync/internal/client"
	"github.com/victornm/quizsync/internal/domain"
	"github.com/victornm/quizsync/internal/event"
	"github.com/victornm/quizsync/internal/leaderboard"
	"github.com/victornm/quizsync/internal/session"
	"github.com/victornm/quizsync/internal/store"
)

// makeServer runs the game API on an in-memory store.
func makeServer(t *testing.T) (*client.Client, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	eb := event.NewBus()
	t.Cleanup(eb.Stop)

	ss := session.NewService(session.Config{
		Store:    store.NewMemory(),
		EventBus: eb,
	})

	e := gin.New()
	api.New(api.Config{
		Router:      e,
		Session:     ss,
		Leaderboard: leaderboard.NewService(leaderboard.Config{Session: ss}),
	})

	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)

	return client.New(client.Config{BaseURL: srv.URL, HTTPClient: srv.Client()}), srv
}

type manualTicker struct {
	c chan time.Time
}

func newManualTicker() *manualTicker {
	return &manualTicker{c: make(chan time.Time)}
}

func (m *manualTicker) C() <-chan time.Time { return m.c }
func (m *manualTicker) Stop()               {}

func (m *manualTicker) newTicker(time.Duration) client.Ticker {
	return m
}

// tick fires the ticker once. It reports false when nobody received the tick in time.
func (m *manualTicker) tick() bool {
	select {
	case m.c <- time.Now():
		return true
	case <-time.After(100 * time.Millisecond):
		return false
	}
}

type fetcherFunc func(ctx context.Context, code string) (domain.Snapshot, error)

func (f fetcherFunc) GetState(ctx context.Context, code string) (domain.Snapshot, error) {
	return f(ctx, code)
}

// polled is a SyncConfig whose fetches are driven by a manual ticker and reported on channels.
type polled struct {
	ticker  *manualTicker
	updates chan domain.Snapshot
	errs    chan error
}

func newPolled() *polled {
	return &polled{
		ticker:  newManualTicker(),
		updates: make(chan domain.Snapshot, 16),
		errs:    make(chan error, 16),
	}
}

func (p *polled) config() client.SyncConfig {
	return client.SyncConfig{
		NewTickerFunc: p.ticker.newTicker,
		OnUpdate:      func(s domain.Snapshot) { p.updates <- s },
		OnError:       func(err error) { p.errs <- err },
	}
}

// poll fires one tick and waits for the fetch it triggers to succeed.
func (p *polled) poll(t *testing.T) domain.Snapshot {
	t.Helper()
	require.True(t, p.ticker.tick(), "poll loop is not running")

	select {
	case s := <-p.updates:
		return s
	case err := <-p.errs:
		require.FailNow(t, "fetch failed", err)
	case <-time.After(2 * time.Second):
		require.FailNow(t, "fetch did not finish")
	}

	return domain.Snapshot{}
}

// pollErr fires one tick and waits for the fetch it triggers to fail.
func (p *polled) pollErr(t *testing.T) error {
	t.Helper()
	require.True(t, p.ticker.tick(), "poll loop is not running")

	select {
	case err := <-p.errs:
		return err
	case s := <-p.updates:
		require.FailNow(t, "fetch succeeded", "%+v", s)
	case <-time.After(2 * time.Second):
		require.FailNow(t, "fetch did not finish")
	}

	return nil
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}
