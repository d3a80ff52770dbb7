package store

import (
	"context"
	_ "embed"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/victornm/quizsync/internal/domain"
	"github.com/victornm/quizsync/internal/errors"
)

//go:embed schema.sql
var schema string

const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeNumericOutOfRange   = "22003"
)

// Postgres keeps sessions in the games and players tables. Score deltas are applied with a single
// UPDATE, so the row lock serializes concurrent deltas for a player. Snapshots are single SELECT
// statements and therefore see one consistent database state.
type Postgres struct {
	db *pgxpool.Pool
}

func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{db: db}
}

// Migrate creates the tables if they do not exist.
func (s *Postgres) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	return nil
}

func (s *Postgres) Insert(ctx context.Context, ss domain.Session) (err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			err = stderrors.Join(err, tx.Rollback(ctx))
		}
	}()

	const (
		insGameStmt   = `INSERT INTO games (id, code, current_image, created_at, last_active) VALUES ($1, $2, $3, $4, now());`
		insPlayerStmt = `INSERT INTO players (id, game_id, name, score) VALUES ($1, $2, $3, $4);`
	)

	_, err = tx.Exec(ctx, insGameStmt, ss.SessionID, ss.Code, ss.SharedImage, ss.CreatedAt)

	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation && pgErr.ConstraintName == "games_code_key" {
		return ErrCodeTaken
	}
	if err != nil {
		return fmt.Errorf("insert game: %w", err)
	}

	for _, p := range ss.Players {
		if _, err = tx.Exec(ctx, insPlayerStmt, p.PlayerID, ss.SessionID, p.Name, p.Score); err != nil {
			return fmt.Errorf("insert player: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func (s *Postgres) GetByCode(ctx context.Context, code string) (domain.Snapshot, error) {
	const stmt = `
WITH touched AS (
	UPDATE games SET last_active = now() WHERE code = $1
	RETURNING id, code, current_image
)
SELECT t.id, t.code, t.current_image, p.id, p.name, p.score
FROM touched t LEFT JOIN players p ON p.game_id = t.id
ORDER BY p.seq;`

	snap, err := s.snapshot(ctx, stmt, code)
	if errors.IsKind(err, errors.KindSessionNotFound) {
		return snap, errors.SessionNotFound("session not found: code=%s", code)
	}

	return snap, err
}

func (s *Postgres) GetByID(ctx context.Context, sessionID string) (domain.Snapshot, error) {
	const stmt = `
WITH touched AS (
	UPDATE games SET last_active = now() WHERE id = $1
	RETURNING id, code, current_image
)
SELECT t.id, t.code, t.current_image, p.id, p.name, p.score
FROM touched t LEFT JOIN players p ON p.game_id = t.id
ORDER BY p.seq;`

	snap, err := s.snapshot(ctx, stmt, sessionID)
	if errors.IsKind(err, errors.KindSessionNotFound) {
		return snap, errors.SessionNotFound("session not found: session=%s", sessionID)
	}

	return snap, err
}

func (s *Postgres) snapshot(ctx context.Context, stmt string, arg string) (domain.Snapshot, error) {
	rows, err := s.db.Query(ctx, stmt, arg)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("query session: %w", err)
	}
	defer rows.Close()

	var (
		snap  domain.Snapshot
		found bool
	)

	for rows.Next() {
		var (
			pid, name *string
			score     *int64
		)
		if err := rows.Scan(&snap.SessionID, &snap.Code, &snap.SharedImage, &pid, &name, &score); err != nil {
			return domain.Snapshot{}, fmt.Errorf("scan session: %w", err)
		}
		found = true

		// LEFT JOIN yields one all-NULL player row for a session without players.
		if pid != nil {
			snap.Players = append(snap.Players, domain.Player{PlayerID: *pid, Name: *name, Score: *score})
		}
	}
	if err := rows.Err(); err != nil {
		return domain.Snapshot{}, fmt.Errorf("read session: %w", err)
	}

	if !found {
		return domain.Snapshot{}, errors.New(errors.KindSessionNotFound)
	}
	if snap.Players == nil {
		snap.Players = []domain.Player{}
	}

	return snap, nil
}

func (s *Postgres) FindPlayer(ctx context.Context, playerID string) (string, domain.Player, error) {
	const stmt = `SELECT game_id, name, score FROM players WHERE id = $1;`

	p := domain.Player{PlayerID: playerID}
	var sid string

	err := s.db.QueryRow(ctx, stmt, playerID).Scan(&sid, &p.Name, &p.Score)
	if stderrors.Is(err, pgx.ErrNoRows) {
		return "", domain.Player{}, errors.PlayerNotFound("player not found: player=%s", playerID)
	}
	if err != nil {
		return "", domain.Player{}, fmt.Errorf("find player: %w", err)
	}

	return sid, p, nil
}

func (s *Postgres) MutatePlayerScore(ctx context.Context, playerID string, delta int64) (string, int64, error) {
	const stmt = `
WITH updated AS (
	UPDATE players SET score = score + $2 WHERE id = $1
	RETURNING game_id, score
), touched AS (
	UPDATE games SET last_active = now() WHERE id = (SELECT game_id FROM updated)
)
SELECT game_id, score FROM updated;`

	var (
		sid   string
		score int64
	)

	err := s.db.QueryRow(ctx, stmt, playerID, delta).Scan(&sid, &score)

	var pgErr *pgconn.PgError
	switch {
	case stderrors.Is(err, pgx.ErrNoRows):
		return "", 0, errors.PlayerNotFound("player not found: player=%s", playerID)
	case stderrors.As(err, &pgErr) && pgErr.Code == codeNumericOutOfRange:
		return "", 0, errors.Malformed("score delta %d overflows score: player=%s", delta, playerID)
	case err != nil:
		return "", 0, fmt.Errorf("update score: %w", err)
	}

	return sid, score, nil
}

func (s *Postgres) AddPlayer(ctx context.Context, sessionID string, p domain.Player) error {
	const stmt = `
WITH inserted AS (
	INSERT INTO players (id, game_id, name, score) VALUES ($1, $2, $3, $4)
	RETURNING game_id
)
UPDATE games SET last_active = now() WHERE id = (SELECT game_id FROM inserted);`

	_, err := s.db.Exec(ctx, stmt, p.PlayerID, sessionID, p.Name, p.Score)

	var pgErr *pgconn.PgError
	if stderrors.As(err, &pgErr) && pgErr.Code == codeForeignKeyViolation {
		return errors.SessionNotFound("session not found: session=%s", sessionID)
	}
	if err != nil {
		return fmt.Errorf("insert player: %w", err)
	}

	return nil
}

func (s *Postgres) SetImage(ctx context.Context, sessionID, image string) error {
	const stmt = `UPDATE games SET current_image = $2, last_active = now() WHERE id = $1;`

	tag, err := s.db.Exec(ctx, stmt, sessionID, image)
	if err != nil {
		return fmt.Errorf("set image: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errors.SessionNotFound("session not found: session=%s", sessionID)
	}

	return nil
}

func (s *Postgres) Remove(ctx context.Context, sessionID string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM games WHERE id = $1;`, sessionID)
	if err != nil {
		return fmt.Errorf("remove session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errors.SessionNotFound("session not found: session=%s", sessionID)
	}

	return nil
}

func (s *Postgres) ExpireIdle(ctx context.Context, before time.Time) ([]string, error) {
	rows, err := s.db.Query(ctx, `DELETE FROM games WHERE last_active < $1 RETURNING id;`, before)
	if err != nil {
		return nil, fmt.Errorf("expire sessions: %w", err)
	}

	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("expire sessions: %w", err)
	}

	return ids, nil
}
