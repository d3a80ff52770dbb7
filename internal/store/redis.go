package store

import (
	"context"
	stderrors "errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/victornm/quizsync/internal/domain"
	"github.com/victornm/quizsync/internal/errors"
)

// Keys, relative to prefix:
//
//	code:<CODE>              string  session ID holding the code
//	session:<id>             hash    code, image, created_at
//	session:<id>:players     list    player IDs in join order
//	session:<id>:names       hash    player ID -> name
//	session:<id>:scores      hash    player ID -> score
//	players                  hash    player ID -> session ID
//	active                   zset    session ID scored by last activity (unix ms)
//
// Scores only change through HINCRBY inside a script that first checks the player still exists,
// so concurrent deltas for one player are applied one at a time by the server.
type Redis struct {
	rdb    redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewRedis(rdb redis.UniversalClient, prefix string) *Redis {
	if prefix == "" {
		prefix = "quizsync"
	}

	return &Redis{
		rdb:    rdb,
		prefix: prefix,
		now:    time.Now,
	}
}

var (
	addPlayerScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
redis.call('RPUSH', KEYS[2], ARGV[1])
redis.call('HSET', KEYS[3], ARGV[1], ARGV[2])
redis.call('HSET', KEYS[4], ARGV[1], ARGV[3])
redis.call('HSET', KEYS[5], ARGV[1], ARGV[4])
redis.call('ZADD', KEYS[6], 'XX', ARGV[5], ARGV[4])
return 1`)

	incrScoreScript = redis.NewScript(`
if redis.call('HEXISTS', KEYS[1], ARGV[1]) == 0 then
	return false
end
return redis.call('HINCRBY', KEYS[1], ARGV[1], ARGV[2])`)

	// removeScript drops a session and its index entries. With a non-empty ARGV[3] the session is
	// only dropped while its last activity is still before that time (unix ms).
	removeScript = redis.NewScript(`
local code = redis.call('HGET', KEYS[1], 'code')
if not code then
	return 0
end
if ARGV[3] ~= '' then
	local last = redis.call('ZSCORE', KEYS[6], ARGV[1])
	if last and tonumber(last) >= tonumber(ARGV[3]) then
		return -1
	end
end
for _, pid in ipairs(redis.call('LRANGE', KEYS[2], 0, -1)) do
	redis.call('HDEL', KEYS[5], pid)
end
redis.call('DEL', ARGV[2] .. code, KEYS[1], KEYS[2], KEYS[3], KEYS[4])
redis.call('ZREM', KEYS[6], ARGV[1])
return 1`)

	setImageScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
redis.call('HSET', KEYS[1], 'image', ARGV[1])
redis.call('ZADD', KEYS[2], 'XX', ARGV[2], ARGV[3])
return 1`)
)

func (r *Redis) Insert(ctx context.Context, s domain.Session) error {
	ok, err := r.rdb.SetNX(ctx, r.codeKey(s.Code), s.SessionID, 0).Result()
	if err != nil {
		return fmt.Errorf("reserve code: %w", err)
	}
	if !ok {
		return ErrCodeTaken
	}

	last := s.LastActiveAt
	if last.IsZero() {
		last = r.now()
	}

	_, err = r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, r.sessionKey(s.SessionID),
			"code", s.Code,
			"image", s.SharedImage,
			"created_at", s.CreatedAt.UnixMilli(),
		)
		for _, pl := range s.Players {
			p.RPush(ctx, r.playersKey(s.SessionID), pl.PlayerID)
			p.HSet(ctx, r.namesKey(s.SessionID), pl.PlayerID, pl.Name)
			p.HSet(ctx, r.scoresKey(s.SessionID), pl.PlayerID, pl.Score)
			p.HSet(ctx, r.playerIndexKey(), pl.PlayerID, s.SessionID)
		}
		p.ZAdd(ctx, r.activeKey(), redis.Z{Score: float64(last.UnixMilli()), Member: s.SessionID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("insert session: %w", stderrors.Join(err, r.rdb.Del(ctx, r.codeKey(s.Code)).Err()))
	}

	return nil
}

func (r *Redis) GetByCode(ctx context.Context, code string) (domain.Snapshot, error) {
	id, err := r.rdb.Get(ctx, r.codeKey(code)).Result()
	if stderrors.Is(err, redis.Nil) {
		return domain.Snapshot{}, errors.SessionNotFound("session not found: code=%s", code)
	}
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("lookup code: %w", err)
	}

	snap, err := r.snapshot(ctx, id)
	if errors.IsKind(err, errors.KindSessionNotFound) {
		return domain.Snapshot{}, errors.SessionNotFound("session not found: code=%s", code)
	}

	return snap, err
}

func (r *Redis) GetByID(ctx context.Context, sessionID string) (domain.Snapshot, error) {
	return r.snapshot(ctx, sessionID)
}

// snapshot reads all keys of a session in one MULTI/EXEC, so no write can land between them.
func (r *Redis) snapshot(ctx context.Context, id string) (domain.Snapshot, error) {
	var (
		sess   *redis.MapStringStringCmd
		ids    *redis.StringSliceCmd
		names  *redis.MapStringStringCmd
		scores *redis.MapStringStringCmd
	)

	_, err := r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		sess = p.HGetAll(ctx, r.sessionKey(id))
		ids = p.LRange(ctx, r.playersKey(id), 0, -1)
		names = p.HGetAll(ctx, r.namesKey(id))
		scores = p.HGetAll(ctx, r.scoresKey(id))
		p.ZAddXX(ctx, r.activeKey(), redis.Z{Score: float64(r.now().UnixMilli()), Member: id})
		return nil
	})
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("read session: %w", err)
	}

	fields := sess.Val()
	if len(fields) == 0 {
		return domain.Snapshot{}, errors.SessionNotFound("session not found: session=%s", id)
	}

	snap := domain.Snapshot{
		SessionID:   id,
		Code:        fields["code"],
		SharedImage: fields["image"],
		Players:     make([]domain.Player, 0, len(ids.Val())),
	}

	for _, pid := range ids.Val() {
		score, err := strconv.ParseInt(scores.Val()[pid], 10, 64)
		if err != nil {
			return domain.Snapshot{}, fmt.Errorf("parse score: player=%s: %w", pid, err)
		}

		snap.Players = append(snap.Players, domain.Player{
			PlayerID: pid,
			Name:     names.Val()[pid],
			Score:    score,
		})
	}

	return snap, nil
}

func (r *Redis) FindPlayer(ctx context.Context, playerID string) (string, domain.Player, error) {
	sid, err := r.sessionOf(ctx, playerID)
	if err != nil {
		return "", domain.Player{}, err
	}

	var name, score *redis.StringCmd
	_, err = r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		name = p.HGet(ctx, r.namesKey(sid), playerID)
		score = p.HGet(ctx, r.scoresKey(sid), playerID)
		return nil
	})
	if stderrors.Is(err, redis.Nil) {
		return "", domain.Player{}, errors.PlayerNotFound("player not found: player=%s", playerID)
	}
	if err != nil {
		return "", domain.Player{}, fmt.Errorf("read player: %w", err)
	}

	n, err := score.Int64()
	if err != nil {
		return "", domain.Player{}, fmt.Errorf("parse score: player=%s: %w", playerID, err)
	}

	return sid, domain.Player{PlayerID: playerID, Name: name.Val(), Score: n}, nil
}

func (r *Redis) MutatePlayerScore(ctx context.Context, playerID string, delta int64) (string, int64, error) {
	sid, err := r.sessionOf(ctx, playerID)
	if err != nil {
		return "", 0, err
	}

	score, err := incrScoreScript.Run(ctx, r.rdb, []string{r.scoresKey(sid)}, playerID, delta).Int64()
	if stderrors.Is(err, redis.Nil) {
		return "", 0, errors.PlayerNotFound("player not found: player=%s", playerID)
	}
	if err != nil && strings.Contains(err.Error(), "overflow") {
		return "", 0, errors.Malformed("score delta %d overflows score: player=%s", delta, playerID)
	}
	if err != nil {
		return "", 0, fmt.Errorf("increment score: %w", err)
	}

	r.touch(ctx, sid)
	return sid, score, nil
}

func (r *Redis) AddPlayer(ctx context.Context, sessionID string, p domain.Player) error {
	keys := []string{
		r.sessionKey(sessionID),
		r.playersKey(sessionID),
		r.namesKey(sessionID),
		r.scoresKey(sessionID),
		r.playerIndexKey(),
		r.activeKey(),
	}

	ok, err := addPlayerScript.Run(ctx, r.rdb, keys, p.PlayerID, p.Name, p.Score, sessionID, r.now().UnixMilli()).Int()
	if err != nil {
		return fmt.Errorf("add player: %w", err)
	}
	if ok == 0 {
		return errors.SessionNotFound("session not found: session=%s", sessionID)
	}

	return nil
}

func (r *Redis) SetImage(ctx context.Context, sessionID, image string) error {
	keys := []string{r.sessionKey(sessionID), r.activeKey()}

	ok, err := setImageScript.Run(ctx, r.rdb, keys, image, r.now().UnixMilli(), sessionID).Int()
	if err != nil {
		return fmt.Errorf("set image: %w", err)
	}
	if ok == 0 {
		return errors.SessionNotFound("session not found: session=%s", sessionID)
	}

	return nil
}

func (r *Redis) Remove(ctx context.Context, sessionID string) error {
	removed, err := r.remove(ctx, sessionID, "")
	if err != nil {
		return err
	}
	if removed == 0 {
		return errors.SessionNotFound("session not found: session=%s", sessionID)
	}

	return nil
}

func (r *Redis) ExpireIdle(ctx context.Context, before time.Time) ([]string, error) {
	limit := strconv.FormatInt(before.UnixMilli(), 10)

	ids, err := r.rdb.ZRangeByScore(ctx, r.activeKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + limit,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("list idle sessions: %w", err)
	}

	expired := make([]string, 0, len(ids))
	for _, id := range ids {
		removed, err := r.remove(ctx, id, limit)
		if err != nil {
			return expired, err
		}

		switch removed {
		case 0:
			r.rdb.ZRem(ctx, r.activeKey(), id)
		case 1:
			expired = append(expired, id)
		}
	}

	return expired, nil
}

// remove runs removeScript: 1 when the session was dropped, 0 when it does not exist and -1 when it
// was active at or after idleBefore.
func (r *Redis) remove(ctx context.Context, sessionID, idleBefore string) (int, error) {
	keys := []string{
		r.sessionKey(sessionID),
		r.playersKey(sessionID),
		r.namesKey(sessionID),
		r.scoresKey(sessionID),
		r.playerIndexKey(),
		r.activeKey(),
	}

	n, err := removeScript.Run(ctx, r.rdb, keys, sessionID, r.codeKey(""), idleBefore).Int()
	if err != nil {
		return 0, fmt.Errorf("remove session: %w", err)
	}

	return n, nil
}

func (r *Redis) sessionOf(ctx context.Context, playerID string) (string, error) {
	sid, err := r.rdb.HGet(ctx, r.playerIndexKey(), playerID).Result()
	if stderrors.Is(err, redis.Nil) {
		return "", errors.PlayerNotFound("player not found: player=%s", playerID)
	}
	if err != nil {
		return "", fmt.Errorf("lookup player: %w", err)
	}

	return sid, nil
}

// touch records activity. A failure only delays expiry, so it is not reported.
func (r *Redis) touch(ctx context.Context, sessionID string) {
	r.rdb.ZAddXX(ctx, r.activeKey(), redis.Z{Score: float64(r.now().UnixMilli()), Member: sessionID})
}

func (r *Redis) codeKey(code string) string {
	return fmt.Sprintf("%s:code:%s", r.prefix, code)
}

func (r *Redis) sessionKey(id string) string {
	return fmt.Sprintf("%s:session:%s", r.prefix, id)
}

func (r *Redis) playersKey(id string) string {
	return fmt.Sprintf("%s:session:%s:players", r.prefix, id)
}

func (r *Redis) namesKey(id string) string {
	return fmt.Sprintf("%s:session:%s:names", r.prefix, id)
}

func (r *Redis) scoresKey(id string) string {
	return fmt.Sprintf("%s:session:%s:scores", r.prefix, id)
}

func (r *Redis) playerIndexKey() string {
	return r.prefix + ":players"
}

func (r *Redis) activeKey() string {
	return r.prefix + ":active"
}
