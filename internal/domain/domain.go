package domain

import (
	"time"
)

// Session represents one running quiz game. Players are kept in join order.
type Session struct {
	SessionID    string
	Code         string
	Players      []Player
	SharedImage  string
	CreatedAt    time.Time
	LastActiveAt time.Time
}

// Player represents a participant within a session.
type Player struct {
	PlayerID string
	Name     string
	Score    int64
}

// Snapshot is a point-in-time, read-only copy of a session. It never aliases store memory.
type Snapshot struct {
	SessionID   string
	Code        string
	Players     []Player
	SharedImage string
}

// Snapshot copies the session into a Snapshot.
func (s *Session) Snapshot() Snapshot {
	players := make([]Player, len(s.Players))
	copy(players, s.Players)

	return Snapshot{
		SessionID:   s.SessionID,
		Code:        s.Code,
		Players:     players,
		SharedImage: s.SharedImage,
	}
}

// Player returns the player with the given ID.
func (s Snapshot) Player(playerID string) (Player, bool) {
	for _, p := range s.Players {
		if p.PlayerID == playerID {
			return p, true
		}
	}

	return Player{}, false
}

// Leaderboard is the ranked view of a session shown on the display.
// Entries are sorted by score in descending order, ties keep join order.
type Leaderboard struct {
	SessionID string
	Code      string
	Entries   []LeaderboardEntry
}

type LeaderboardEntry struct {
	Rank     int
	PlayerID string
	Name     string
	Score    int64
}
