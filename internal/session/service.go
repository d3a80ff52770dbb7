package session

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/victornm/quizsync/internal/codegen"
	"github.com/victornm/quizsync/internal/domain"
	"github.com/victornm/quizsync/internal/errors"
	"github.com/victornm/quizsync/internal/event"
	"github.com/victornm/quizsync/internal/store"
)

const DefaultMaxScoreDelta = 1_000_000

type Config struct {
	Store    store.Store
	EventBus *event.Bus
	Codes    *codegen.Generator
	// MaxScoreDelta bounds the absolute value of a single score delta.
	MaxScoreDelta int64
}

type Service struct {
	store    store.Store
	eb       *event.Bus
	codes    *codegen.Generator
	maxDelta int64
	now      func() time.Time
}

func NewService(c Config) *Service {
	s := &Service{
		store:    c.Store,
		eb:       c.EventBus,
		codes:    c.Codes,
		maxDelta: c.MaxScoreDelta,
		now:      time.Now,
	}

	if s.codes == nil {
		s.codes = codegen.NewGenerator(codegen.Config{})
	}
	if s.maxDelta <= 0 {
		s.maxDelta = DefaultMaxScoreDelta
	}

	return s
}

type CreateGameResponse struct {
	SessionID string
	Code      string
}

// CreateGame allocates a new empty session under a fresh join code.
func (s *Service) CreateGame(ctx context.Context) (*CreateGameResponse, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate session ID: %w", err)
	}

	now := s.now()
	code, err := s.codes.Allocate(ctx, func(ctx context.Context, code string) (bool, error) {
		err := s.store.Insert(ctx, domain.Session{
			SessionID:    id.String(),
			Code:         code,
			CreatedAt:    now,
			LastActiveAt: now,
		})
		if stderrors.Is(err, store.ErrCodeTaken) {
			slog.WarnContext(ctx, "session: join code collision, regenerating", "code", code)
			return false, nil
		}

		return err == nil, err
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "session: game created", "session", id.String(), "code", code)
	s.eb.Publish(ctx, domain.EventSessionCreated{
		SessionID: id.String(),
		Code:      code,
	})

	return &CreateGameResponse{
		SessionID: id.String(),
		Code:      code,
	}, nil
}

type JoinGameRequest struct {
	Code string
	Name string
}

type JoinGameResponse struct {
	PlayerID  string
	SessionID string
	Name      string
}

// JoinGame adds a new player with score 0. Joining twice with the same name creates two players.
func (s *Service) JoinGame(ctx context.Context, req JoinGameRequest) (*JoinGameResponse, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, errors.InvalidName("player name must not be empty")
	}

	code := codegen.Normalize(req.Code)
	if code == "" {
		return nil, errors.Malformed("game code is required")
	}

	snap, err := s.store.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate player ID: %w", err)
	}

	p := domain.Player{
		PlayerID: id.String(),
		Name:     req.Name,
	}

	if err := s.store.AddPlayer(ctx, snap.SessionID, p); err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "session: player joined", "session", snap.SessionID, "player", p.PlayerID)
	s.eb.Publish(ctx, domain.EventPlayerJoined{
		SessionID: snap.SessionID,
		Player:    p,
	})

	return &JoinGameResponse{
		PlayerID:  p.PlayerID,
		SessionID: snap.SessionID,
		Name:      p.Name,
	}, nil
}

type UpdateScoreRequest struct {
	PlayerID string
	Delta    int64
}

type UpdateScoreResponse struct {
	NewScore int64
}

// UpdateScore applies delta to the player's score and returns the score right after this delta.
func (s *Service) UpdateScore(ctx context.Context, req UpdateScoreRequest) (*UpdateScoreResponse, error) {
	if req.PlayerID == "" {
		return nil, errors.Malformed("player id is required")
	}
	if req.Delta > s.maxDelta || req.Delta < -s.maxDelta {
		return nil, errors.Malformed("score delta %d out of range [-%d, %d]", req.Delta, s.maxDelta, s.maxDelta)
	}

	sid, score, err := s.store.MutatePlayerScore(ctx, req.PlayerID, req.Delta)
	if err != nil {
		return nil, err
	}

	s.eb.Publish(ctx, domain.EventScoreUpdated{
		SessionID: sid,
		PlayerID:  req.PlayerID,
		Delta:     req.Delta,
		NewScore:  score,
	})

	return &UpdateScoreResponse{NewScore: score}, nil
}

type SetImageRequest struct {
	SessionID string
	// Image is an opaque reference, typically a data URI. Empty clears the shared image.
	Image string
}

func (s *Service) SetImage(ctx context.Context, req SetImageRequest) error {
	if req.SessionID == "" {
		return errors.Malformed("game id is required")
	}

	if err := s.store.SetImage(ctx, req.SessionID, req.Image); err != nil {
		return err
	}

	s.eb.Publish(ctx, domain.EventImageSet{
		SessionID: req.SessionID,
		Cleared:   req.Image == "",
	})

	return nil
}

type GetStateRequest struct {
	Code string
}

// GetState returns a consistent point-in-time copy of the session.
func (s *Service) GetState(ctx context.Context, req GetStateRequest) (*domain.Snapshot, error) {
	code := codegen.Normalize(req.Code)
	if code == "" {
		return nil, errors.Malformed("game code is required")
	}

	snap, err := s.store.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}

	return &snap, nil
}

type EndGameRequest struct {
	SessionID string
}

// EndGame removes the session. Its code becomes available to new games.
func (s *Service) EndGame(ctx context.Context, req EndGameRequest) error {
	if req.SessionID == "" {
		return errors.Malformed("game id is required")
	}

	if err := s.store.Remove(ctx, req.SessionID); err != nil {
		return err
	}

	slog.InfoContext(ctx, "session: game ended", "session", req.SessionID)
	s.eb.Publish(ctx, domain.EventSessionEnded{SessionID: req.SessionID})

	return nil
}

// ExpireIdle removes sessions without any activity during the last ttl and returns how many.
func (s *Service) ExpireIdle(ctx context.Context, ttl time.Duration) (int, error) {
	ids, err := s.store.ExpireIdle(ctx, s.now().Add(-ttl))
	if err != nil {
		return 0, fmt.Errorf("expire idle sessions: %w", err)
	}

	for _, id := range ids {
		s.eb.Publish(ctx, domain.EventSessionEnded{SessionID: id, Expired: true})
	}
	if len(ids) > 0 {
		slog.InfoContext(ctx, "session: expired idle games", "count", len(ids))
	}

	return len(ids), nil
}
