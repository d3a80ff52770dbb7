package client

import (
	"context"
	"sync"

	"github.com/victornm/quizsync/internal/api/wire"
	"github.com/victornm/quizsync/internal/codegen"
	"github.com/victornm/quizsync/internal/domain"
	"github.com/victornm/quizsync/internal/leaderboard"
)

// Host creates a game, watches its players and adjusts their scores.
//
// Score adjustments show up immediately through an optimistic overlay of deltas that is dropped on
// the next successful poll, when the server value takes over. A delta whose request overlapped a
// poll is not added, since that poll may already hold it.
type Host struct {
	c    *Client
	sync *SyncClient

	mu      sync.Mutex
	game    *wire.CreateGameResponse
	overlay map[string]int64
	polls   uint64 // successful polls, guarded by mu
}

func NewHost(c *Client, sc SyncConfig) *Host {
	h := &Host{
		c:       c,
		overlay: make(map[string]int64),
	}

	onUpdate := sc.OnUpdate
	sc.Fetcher = c
	sc.OnUpdate = func(snap domain.Snapshot) {
		h.mu.Lock()
		clear(h.overlay)
		h.polls++
		h.mu.Unlock()

		if onUpdate != nil {
			onUpdate(snap)
		}
	}
	h.sync = NewSyncClient(sc)

	return h
}

// CreateGame creates a new game and starts polling it.
func (h *Host) CreateGame(ctx context.Context) (*wire.CreateGameResponse, error) {
	game, err := h.c.CreateGame(ctx)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	h.game = game
	h.mu.Unlock()

	if err := h.sync.Start(game.Code); err != nil {
		return nil, err
	}

	return game, nil
}

// Game returns the game created by CreateGame, nil before that.
func (h *Host) Game() *wire.CreateGameResponse {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.game
}

// AdjustScore sends delta to the server and, once accepted, applies it to the local view.
func (h *Host) AdjustScore(ctx context.Context, playerID string, delta int64) (int64, error) {
	h.mu.Lock()
	polls := h.polls
	h.mu.Unlock()

	score, err := h.c.UpdateScore(ctx, playerID, delta)
	if err != nil {
		return 0, err
	}

	h.mu.Lock()
	if h.polls == polls {
		h.overlay[playerID] += delta
	}
	h.mu.Unlock()

	return score, nil
}

// Players returns the players of the last snapshot in join order, with pending adjustments applied.
func (h *Host) Players() []domain.Player {
	snap, ok := h.sync.Snapshot()
	if !ok {
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for i, p := range snap.Players {
		snap.Players[i].Score = p.Score + h.overlay[p.PlayerID]
	}

	return snap.Players
}

func (h *Host) SetImage(ctx context.Context, image string) error {
	game := h.Game()
	if game == nil {
		return ErrNotStarted
	}

	return h.c.SetImage(ctx, game.GameID, image)
}

// EndGame ends the game on the server and stops polling.
func (h *Host) EndGame(ctx context.Context) error {
	game := h.Game()
	if game == nil {
		return ErrNotStarted
	}

	if err := h.c.EndGame(ctx, game.GameID); err != nil {
		return err
	}

	h.sync.Stop()
	return nil
}

func (h *Host) Sync() *SyncClient {
	return h.sync
}

func (h *Host) Stop() {
	h.sync.Stop()
}

// Player joins a game and follows its own score.
type Player struct {
	c    *Client
	sync *SyncClient

	mu sync.Mutex
	me *wire.JoinGameResponse
}

func NewPlayer(c *Client, sc SyncConfig) *Player {
	sc.Fetcher = c
	return &Player{
		c:    c,
		sync: NewSyncClient(sc),
	}
}

// Join joins the game with the given code and starts polling it.
func (p *Player) Join(ctx context.Context, code, name string) (*wire.JoinGameResponse, error) {
	code = codegen.Normalize(code)

	me, err := p.c.JoinGame(ctx, code, name)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.me = me
	p.mu.Unlock()

	if err := p.sync.Start(code); err != nil {
		return nil, err
	}

	return me, nil
}

// Me returns the player's state in the last snapshot.
func (p *Player) Me() (domain.Player, bool) {
	p.mu.Lock()
	me := p.me
	p.mu.Unlock()

	if me == nil {
		return domain.Player{}, false
	}

	snap, ok := p.sync.Snapshot()
	if !ok {
		return domain.Player{PlayerID: me.PlayerID, Name: me.Name}, true
	}

	return snap.Player(me.PlayerID)
}

func (p *Player) Sync() *SyncClient {
	return p.sync
}

func (p *Player) Stop() {
	p.sync.Stop()
}

// Display shows the ranked players and the shared image of a game.
type Display struct {
	sync *SyncClient
}

func NewDisplay(c *Client, sc SyncConfig) *Display {
	sc.Fetcher = c
	return &Display{sync: NewSyncClient(sc)}
}

// Watch starts polling the game with the given code. The code is not checked up front, an unknown
// code shows up as fetch errors.
func (d *Display) Watch(code string) error {
	return d.sync.Start(codegen.Normalize(code))
}

// Leaderboard ranks the players of the last snapshot.
func (d *Display) Leaderboard() (domain.Leaderboard, bool) {
	snap, ok := d.sync.Snapshot()
	if !ok {
		return domain.Leaderboard{}, false
	}

	return leaderboard.Rank(snap), true
}

// Image returns the shared image of the last snapshot, empty when none is set.
func (d *Display) Image() string {
	snap, _ := d.sync.Snapshot()
	return snap.SharedImage
}

func (d *Display) Sync() *SyncClient {
	return d.sync
}

func (d *Display) Stop() {
	d.sync.Stop()
}
