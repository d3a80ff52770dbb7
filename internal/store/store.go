// Package store holds the authoritative session table. All drivers share the Store contract:
// lookups by code, session ID and player ID are O(1), mutations on one session are atomic with
// respect to each other, and reads return snapshots that never mix pre- and post-mutation state.
package store

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/victornm/quizsync/internal/domain"
)

// ErrCodeTaken is returned by Insert when a live session already holds the code.
var ErrCodeTaken = stderrors.New("store: code already taken")

type Store interface {
	// Insert adds a new session. It fails with ErrCodeTaken on a code collision.
	Insert(ctx context.Context, s domain.Session) error

	GetByCode(ctx context.Context, code string) (domain.Snapshot, error)
	GetByID(ctx context.Context, sessionID string) (domain.Snapshot, error)

	// FindPlayer returns the session the player belongs to and the player's current state.
	FindPlayer(ctx context.Context, playerID string) (string, domain.Player, error)

	// MutatePlayerScore adds delta to the player's score and returns the session ID and the
	// score after this delta was applied.
	MutatePlayerScore(ctx context.Context, playerID string, delta int64) (string, int64, error)

	AddPlayer(ctx context.Context, sessionID string, p domain.Player) error
	SetImage(ctx context.Context, sessionID, image string) error

	Remove(ctx context.Context, sessionID string) error

	// ExpireIdle removes sessions with no activity since before and returns their IDs.
	ExpireIdle(ctx context.Context, before time.Time) ([]string, error)
}

const (
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
)
