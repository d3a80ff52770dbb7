package domain

const (
	EventNameSessionCreated = "session.created"
	EventNamePlayerJoined   = "player.joined"
	EventNameScoreUpdated   = "score.updated"
	EventNameImageSet       = "image.set"
	EventNameSessionEnded   = "session.ended"
)

type EventSessionCreated struct {
	SessionID string
	Code      string
}

func (EventSessionCreated) Name() string { return EventNameSessionCreated }

type EventPlayerJoined struct {
	SessionID string
	Player    Player
}

func (EventPlayerJoined) Name() string { return EventNamePlayerJoined }

type EventScoreUpdated struct {
	SessionID string
	PlayerID  string
	Delta     int64
	NewScore  int64
}

func (EventScoreUpdated) Name() string { return EventNameScoreUpdated }

type EventImageSet struct {
	SessionID string
	Cleared   bool
}

func (EventImageSet) Name() string { return EventNameImageSet }

// EventSessionEnded is published when a session is ended explicitly or expires.
type EventSessionEnded struct {
	SessionID string
	Expired   bool
}

func (EventSessionEnded) Name() string { return EventNameSessionEnded }
