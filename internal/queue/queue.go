// Package queue implements the matching queue: the pool of clients actively
// searching for a partner, and the atomic creation of a room once a
// compatible live candidate is found. Selection is FIFO-biased first-fit —
// queue sizes are small and latency dominates, so no global optimum is
// attempted. Match creation runs as a single Redis Lua script so that two
// clients racing for the same candidate can never both win.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/roam-chat/roam/internal/presence"
)

const (
	// WaitingKey is the sorted set of searching session IDs scored by join
	// time (unix milliseconds), giving oldest-first scan order.
	WaitingKey = "match:waiting"

	// EntryPrefix is the key prefix for per-session queue entry hashes.
	EntryPrefix = "match:entry:"

	// EntryTTL is a backstop lease on queue entries. Entries are normally
	// removed explicitly (cancel, match consumption, sweep cascade); the
	// TTL only covers the case where every cleanup path was lost.
	EntryTTL = 5 * time.Minute

	// Entry status values.
	StatusWaiting = "waiting"
	StatusMatched = "matched"

	// Roles assigned exactly once per match. The client that executed the
	// match transaction creates the connection offer; its partner answers.
	RoleOfferer  = "offerer"
	RoleAnswerer = "answerer"
)

// Sentinel errors for match-transaction outcomes. ErrConflict and ErrGhost
// are expected during normal operation and are handled silently by the scan
// loop; they must never surface to the user.
var (
	// ErrNotWaiting means the initiator's own entry is gone or already
	// matched — another client consumed it first.
	ErrNotWaiting = errors.New("queue: own entry no longer waiting")

	// ErrConflict means the candidate's entry was consumed by a concurrent
	// matcher between the scan and the transaction.
	ErrConflict = errors.New("queue: candidate lost to concurrent match")

	// ErrGhost means the candidate's session heartbeat went stale between
	// the scan and the transaction.
	ErrGhost = errors.New("queue: candidate session is stale")
)

// Entry is a session's active bid to be matched. An entry exists if and only
// if its owning session has status "searching".
type Entry struct {
	SessionID string
	Status    string // waiting | matched
	RoomID    string // set once matched
	Role      string // offerer | answerer, set once matched
	Prefs     presence.Prefs
	JoinedAt  int64 // unix milliseconds
}

// Store manages the Redis data structures of the matching queue.
type Store struct {
	rdb          *redis.Client
	matchScript  *redis.Script
	cancelScript *redis.Script
}

// NewStore creates a matching queue store backed by Redis.
func NewStore(rdb *redis.Client) *Store {
	return &Store{
		rdb:          rdb,
		matchScript:  redis.NewScript(matchLua),
		cancelScript: redis.NewScript(cancelLua),
	}
}

// Join writes a waiting entry for the session and adds it to the scan order.
// Joining while already queued simply rewrites the entry (idempotent).
func (s *Store) Join(ctx context.Context, sessionID string, prefs presence.Prefs) error {
	now := time.Now().UnixMilli()
	key := EntryPrefix + sessionID

	pipe := s.rdb.Pipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"session_id": sessionID,
		"status":     StatusWaiting,
		"room_id":    "",
		"role":       "",
		"prefs":      prefs.Encode(),
		"joined_at":  now,
	})
	pipe.Expire(ctx, key, EntryTTL)
	pipe.ZAdd(ctx, WaitingKey, redis.Z{Score: float64(now), Member: sessionID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue: join %s: %w", sessionID, err)
	}
	return nil
}

// Leave removes the session's entry and scan-order membership. It is
// idempotent: leaving a queue you are not in is not an error.
func (s *Store) Leave(ctx context.Context, sessionID string) error {
	pipe := s.rdb.Pipeline()
	pipe.ZRem(ctx, WaitingKey, sessionID)
	pipe.Del(ctx, EntryPrefix+sessionID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue: leave %s: %w", sessionID, err)
	}
	return nil
}

// Cancel removes the session's entry like Leave, but detects a match that
// committed concurrently with the cancel: when the entry was already
// consumed, the room ID it was matched into is returned so the caller can
// back out of that room instead of abandoning a partner in it. An empty
// room ID means the entry was still waiting (or already gone).
func (s *Store) Cancel(ctx context.Context, sessionID string) (string, error) {
	keys := []string{EntryPrefix + sessionID, WaitingKey}
	roomID, err := s.cancelScript.Run(ctx, s.rdb, keys, sessionID).Text()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("queue: cancel %s: %w", sessionID, err)
	}
	return roomID, nil
}

// Get retrieves a queue entry. Returns nil if not found.
func (s *Store) Get(ctx context.Context, sessionID string) (*Entry, error) {
	result, err := s.rdb.HGetAll(ctx, EntryPrefix+sessionID).Result()
	if err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return nil, nil
	}

	joinedAt, _ := strconv.ParseInt(result["joined_at"], 10, 64)
	return &Entry{
		SessionID: result["session_id"],
		Status:    result["status"],
		RoomID:    result["room_id"],
		Role:      result["role"],
		Prefs:     presence.ParsePrefs(result["prefs"]),
		JoinedAt:  joinedAt,
	}, nil
}

// WaitingIDs returns all queued session IDs ordered by join time, oldest
// first. The list may contain entries whose owners have since vanished;
// callers must verify liveness before selecting a candidate.
func (s *Store) WaitingIDs(ctx context.Context) ([]string, error) {
	return s.rdb.ZRange(ctx, WaitingKey, 0, -1).Result()
}

// Touch refreshes the entry's backstop TTL while its owner keeps searching.
func (s *Store) Touch(ctx context.Context, sessionID string) error {
	return s.rdb.Expire(ctx, EntryPrefix+sessionID, EntryTTL).Err()
}

// Size returns the number of waiting sessions.
func (s *Store) Size(ctx context.Context) (int64, error) {
	return s.rdb.ZCard(ctx, WaitingKey).Result()
}

// cancelLua: delete the entry, reporting the committed room if a concurrent
// match consumed it first. Reading status and deleting in one script means a
// commit cannot slip between the check and the delete.
const cancelLua = `
local status = redis.call('HGET', KEYS[1], 'status')
local room = ''
if status == 'matched' then
    room = redis.call('HGET', KEYS[1], 'room_id') or ''
end
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('DEL', KEYS[1])
return room
`
