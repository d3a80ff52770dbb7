package client

import (
	"context"
	stderrors "errors"
	"log/slog"
	"sync"
	"time"

	"github.com/victornm/quizsync/internal/domain"
)

const (
	DefaultInterval = 2000 * time.Millisecond
	DefaultTimeout  = 1500 * time.Millisecond
)

var (
	ErrAlreadyStarted = stderrors.New("client: sync already started")
	ErrStopped        = stderrors.New("client: sync stopped")
	ErrNotStarted     = stderrors.New("client: no game yet")
)

type State int

const (
	Disconnected State = iota
	Polling
	Stopped
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Polling:
		return "polling"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Fetcher reads the current state of a session. *Client implements it.
type Fetcher interface {
	GetState(ctx context.Context, code string) (domain.Snapshot, error)
}

type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	t *time.Ticker
}

func (t timeTicker) C() <-chan time.Time { return t.t.C }
func (t timeTicker) Stop()               { t.t.Stop() }

func newTimeTicker(d time.Duration) Ticker {
	return timeTicker{t: time.NewTicker(d)}
}

type SyncConfig struct {
	Fetcher Fetcher

	// Interval between two fetches, DefaultInterval if zero.
	Interval time.Duration
	// Timeout of a single fetch, DefaultTimeout if zero.
	Timeout       time.Duration
	NewTickerFunc func(d time.Duration) Ticker

	// OnUpdate is called after every successful fetch with the new snapshot.
	OnUpdate func(domain.Snapshot)
	// OnError is called after every failed fetch. The previous snapshot is kept.
	OnError func(error)
}

// SyncClient keeps a local copy of one session by polling it. Every successful fetch replaces the
// copy wholesale, failed fetches leave it untouched.
type SyncClient struct {
	fetcher   Fetcher
	interval  time.Duration
	timeout   time.Duration
	newTicker func(d time.Duration) Ticker
	onUpdate  func(domain.Snapshot)
	onError   func(error)

	mu      sync.RWMutex
	state   State
	code    string
	snap    domain.Snapshot
	fetched bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewSyncClient(c SyncConfig) *SyncClient {
	s := &SyncClient{
		fetcher:   c.Fetcher,
		interval:  c.Interval,
		timeout:   c.Timeout,
		newTicker: c.NewTickerFunc,
		onUpdate:  c.OnUpdate,
		onError:   c.OnError,
	}

	if s.interval <= 0 {
		s.interval = DefaultInterval
	}
	if s.timeout <= 0 {
		s.timeout = DefaultTimeout
	}
	if s.newTicker == nil {
		s.newTicker = newTimeTicker
	}

	return s
}

// Start begins polling the session with the given code. A SyncClient polls at most one session in
// its lifetime.
func (s *SyncClient) Start(code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case Polling:
		return ErrAlreadyStarted
	case Stopped:
		return ErrStopped
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.state = Polling
	s.code = code
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.loop(ctx, code, s.done)
	return nil
}

// Stop cancels any fetch in flight and waits for the poll loop to exit. No fetch is issued after
// Stop returns. Stop is idempotent.
func (s *SyncClient) Stop() {
	s.mu.Lock()
	prev := s.state
	s.state = Stopped
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if prev != Polling {
		return
	}

	cancel()
	<-done
}

func (s *SyncClient) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *SyncClient) Code() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.code
}

// Snapshot returns the last fetched snapshot. ok is false until the first successful fetch.
func (s *SyncClient) Snapshot() (snap domain.Snapshot, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.fetched {
		return domain.Snapshot{}, false
	}

	players := make([]domain.Player, len(s.snap.Players))
	copy(players, s.snap.Players)
	snap = s.snap
	snap.Players = players

	return snap, true
}

func (s *SyncClient) loop(ctx context.Context, code string, done chan struct{}) {
	defer close(done)

	t := s.newTicker(s.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C():
			s.poll(ctx, code)
		}
	}
}

func (s *SyncClient) poll(ctx context.Context, code string) {
	if ctx.Err() != nil {
		return
	}

	fctx, cancel := context.WithTimeout(ctx, s.timeout)
	snap, err := s.fetcher.GetState(fctx, code)
	cancel()

	if err != nil {
		if ctx.Err() != nil {
			return
		}

		slog.WarnContext(ctx, "client: fetch state failed", "code", code, "error", err)
		if s.onError != nil {
			s.onError(err)
		}
		return
	}

	s.mu.Lock()
	if s.state != Polling {
		s.mu.Unlock()
		return
	}
	s.snap = snap
	s.fetched = true
	s.mu.Unlock()

	if s.onUpdate != nil {
		s.onUpdate(snap)
	}
}
