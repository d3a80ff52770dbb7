// Package client talks to the game endpoint over HTTP and keeps a polled copy of a session for the
// host, player and display roles.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/victornm/quizsync/internal/api"
	"github.com/victornm/quizsync/internal/api/wire"
	"github.com/victornm/quizsync/internal/domain"
	"github.com/victornm/quizsync/internal/errors"
)

const defaultHTTPTimeout = 10 * time.Second

type Config struct {
	// BaseURL of the server, e.g. "http://localhost:8080".
	BaseURL string
	// Path of the game endpoint. Defaults to api.DefaultPath.
	Path       string
	HTTPClient *http.Client
}

type Client struct {
	base     string
	endpoint string
	hc       *http.Client
}

func New(c Config) *Client {
	cl := &Client{
		base: strings.TrimRight(c.BaseURL, "/"),
		hc:   c.HTTPClient,
	}

	path := c.Path
	if path == "" {
		path = api.DefaultPath
	}
	cl.endpoint = cl.base + path

	if cl.hc == nil {
		cl.hc = &http.Client{Timeout: defaultHTTPTimeout}
	}

	return cl
}

func (c *Client) CreateGame(ctx context.Context) (*wire.CreateGameResponse, error) {
	var resp wire.CreateGameResponse
	if err := c.do(ctx, http.MethodPost, c.endpoint, wire.WriteRequest{Action: wire.ActionCreateGame}, &resp); err != nil {
		return nil, err
	}

	return &resp, nil
}

func (c *Client) JoinGame(ctx context.Context, code, name string) (*wire.JoinGameResponse, error) {
	var resp wire.JoinGameResponse
	req := wire.WriteRequest{
		Action:     wire.ActionJoinGame,
		GameCode:   code,
		PlayerName: name,
	}
	if err := c.do(ctx, http.MethodPost, c.endpoint, req, &resp); err != nil {
		return nil, err
	}

	return &resp, nil
}

// UpdateScore applies delta to the player's score and returns the score right after it.
func (c *Client) UpdateScore(ctx context.Context, playerID string, delta int64) (int64, error) {
	var resp wire.UpdateScoreResponse
	req := wire.UpdateScoreRequest{
		PlayerID:   playerID,
		ScoreDelta: &delta,
	}
	if err := c.do(ctx, http.MethodPut, c.endpoint, req, &resp); err != nil {
		return 0, err
	}

	return resp.NewScore, nil
}

// SetImage shares image with every display of the game. An empty image clears it.
func (c *Client) SetImage(ctx context.Context, gameID, image string) error {
	req := wire.WriteRequest{
		Action:   wire.ActionSetImage,
		GameID:   gameID,
		ImageURL: &image,
	}

	return c.do(ctx, http.MethodPost, c.endpoint, req, &wire.SuccessResponse{})
}

func (c *Client) EndGame(ctx context.Context, gameID string) error {
	req := wire.WriteRequest{
		Action: wire.ActionEndGame,
		GameID: gameID,
	}

	return c.do(ctx, http.MethodPost, c.endpoint, req, &wire.SuccessResponse{})
}

func (c *Client) GetState(ctx context.Context, code string) (domain.Snapshot, error) {
	var g wire.Game
	if err := c.do(ctx, http.MethodGet, c.endpoint+"?"+url.Values{"game_code": {code}}.Encode(), nil, &g); err != nil {
		return domain.Snapshot{}, err
	}

	snap := domain.Snapshot{
		SessionID: g.GameID,
		Code:      g.Code,
		Players:   make([]domain.Player, 0, len(g.Players)),
	}
	for _, p := range g.Players {
		snap.Players = append(snap.Players, domain.Player{PlayerID: p.ID, Name: p.Name, Score: p.Score})
	}
	if g.CurrentImage != nil {
		snap.SharedImage = *g.CurrentImage
	}

	return snap, nil
}

func (c *Client) GetLeaderboard(ctx context.Context, code string) (domain.Leaderboard, error) {
	var l wire.Leaderboard
	if err := c.do(ctx, http.MethodGet, c.base+"/leaderboard?"+url.Values{"game_code": {code}}.Encode(), nil, &l); err != nil {
		return domain.Leaderboard{}, err
	}

	board := domain.Leaderboard{
		SessionID: l.GameID,
		Code:      l.Code,
		Entries:   make([]domain.LeaderboardEntry, 0, len(l.Entries)),
	}
	for _, e := range l.Entries {
		board.Entries = append(board.Entries, domain.LeaderboardEntry{
			Rank:     e.Rank,
			PlayerID: e.ID,
			Name:     e.Name,
			Score:    e.Score,
		})
	}

	return board, nil
}

func (c *Client) do(ctx context.Context, method, target string, body, out any) error {
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		r = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, r)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return errors.Transient(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Transient(err)
	}

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp.StatusCode, raw)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return errors.Transient(fmt.Errorf("decode response: %w", err))
	}

	return nil
}

// decodeError turns an error body back into a typed error. Server faults and bodies without a known
// kind on a 5xx count as transient, the caller may retry them.
func decodeError(status int, raw []byte) error {
	var body wire.Error
	_ = json.Unmarshal(raw, &body)

	kind := errors.Kind(body.Code)
	switch {
	case kind == errors.KindSessionNotFound,
		kind == errors.KindPlayerNotFound,
		kind == errors.KindInvalidName,
		kind == errors.KindMalformedRequest,
		kind == errors.KindCodeSpaceExhausted:
		return errors.New(kind, errors.WithMessagef("%s", body.Error))

	case status >= http.StatusInternalServerError:
		return errors.Transient(fmt.Errorf("server responded %d: %s", status, strings.TrimSpace(string(raw))))

	default:
		return errors.Malformed("server responded %d: %s", status, strings.TrimSpace(string(raw)))
	}
}
