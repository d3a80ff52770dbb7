package leaderboard

import (
	"context"
	"sort"

	"github.com/victornm/quizsync/internal/domain"
	"github.com/victornm/quizsync/internal/session"
)

type Config struct {
	Session *session.Service
}

type Service struct {
	session *session.Service
}

func NewService(c Config) *Service {
	return &Service{
		session: c.Session,
	}
}

type GetLeaderboardRequest struct {
	Code string
}

// GetLeaderboard returns the ranked view of the session with the given join code.
func (s *Service) GetLeaderboard(ctx context.Context, req GetLeaderboardRequest) (*domain.Leaderboard, error) {
	snap, err := s.session.GetState(ctx, session.GetStateRequest{Code: req.Code})
	if err != nil {
		return nil, err
	}

	l := Rank(*snap)
	return &l, nil
}

// Rank orders the players of a snapshot by score, highest first. Players with equal scores keep
// their join order and share a rank, and the next rank skips accordingly (1, 1, 3).
func Rank(snap domain.Snapshot) domain.Leaderboard {
	entries := make([]domain.LeaderboardEntry, 0, len(snap.Players))
	for _, p := range snap.Players {
		entries = append(entries, domain.LeaderboardEntry{
			PlayerID: p.PlayerID,
			Name:     p.Name,
			Score:    p.Score,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Score > entries[j].Score
	})

	for i := range entries {
		switch {
		case i > 0 && entries[i].Score == entries[i-1].Score:
			entries[i].Rank = entries[i-1].Rank
		default:
			entries[i].Rank = i + 1
		}
	}

	return domain.Leaderboard{
		SessionID: snap.SessionID,
		Code:      snap.Code,
		Entries:   entries,
	}
}
