// Package room owns the shared room document: its participant list, status,
// and visibility. Rooms transition active -> ended exactly once and never
// back; every mutation goes through one of the atomic operations below, all
// implemented as Redis Lua scripts so that uncoordinated clients cannot
// corrupt the participant set. EndRoom is idempotent and safe to call
// concurrently — the close-grace design relies on any surviving participant
// being able to fire it.
package room

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// RoomPrefix is the Redis key prefix for room hashes.
	RoomPrefix = "room:"

	// PublicIndexKey is the set of room IDs currently joinable as public.
	PublicIndexKey = "room:public"

	// MaxParticipants bounds multi-party rooms.
	MaxParticipants = 10

	// EndedCooldown is how long an ended room document is kept around
	// before expiring, so late observers can still read the terminal state.
	EndedCooldown = 5 * time.Minute

	// Status values. Transitions are active -> ended only.
	StatusActive = "active"
	StatusEnded  = "ended"

	// Visibility values.
	VisibilityPrivate = "private"
	VisibilityPublic  = "public"
)

// Sentinel errors for room operations.
var (
	ErrNotFound      = errors.New("room: not found")
	ErrEnded         = errors.New("room: already ended")
	ErrFull          = errors.New("room: at capacity")
	ErrNotPublic     = errors.New("room: not public")
	ErrAlreadyMember = errors.New("room: already a participant")
)

// Room is the shared state of one matched group.
type Room struct {
	ID           string
	Status       string // active | ended
	Visibility   string // private | public
	CreatedBy    string
	CreatedAt    int64 // unix milliseconds
	Participants []string
}

// MembersKey returns the Redis key of the room's ordered participant list.
func MembersKey(roomID string) string {
	return RoomPrefix + roomID + ":members"
}

// Store manages room documents in Redis.
type Store struct {
	rdb          *redis.Client
	addScript    *redis.Script
	removeScript *redis.Script
	endScript    *redis.Script
	visScript    *redis.Script
}

// NewStore creates a room store backed by Redis.
func NewStore(rdb *redis.Client) *Store {
	return &Store{
		rdb:          rdb,
		addScript:    redis.NewScript(addParticipantLua),
		removeScript: redis.NewScript(removeParticipantLua),
		endScript:    redis.NewScript(endRoomLua),
		visScript:    redis.NewScript(setVisibilityLua),
	}
}

// Create creates an active room with the given participants. The matching
// queue creates two-party rooms inside its own transaction; this entry point
// serves clients electing to host a room directly (e.g. a public room).
func (s *Store) Create(ctx context.Context, participants []string, visibility string, createdBy string) (*Room, error) {
	if len(participants) == 0 {
		return nil, fmt.Errorf("room: create with no participants")
	}
	if len(participants) > MaxParticipants {
		return nil, ErrFull
	}
	if visibility != VisibilityPublic {
		visibility = VisibilityPrivate
	}

	roomID := uuid.New().String()
	now := time.Now().UnixMilli()

	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, RoomPrefix+roomID, map[string]interface{}{
		"id":         roomID,
		"status":     StatusActive,
		"visibility": visibility,
		"created_by": createdBy,
		"created_at": now,
	})
	members := make([]interface{}, len(participants))
	for i, p := range participants {
		members[i] = p
	}
	pipe.RPush(ctx, MembersKey(roomID), members...)
	if visibility == VisibilityPublic {
		pipe.SAdd(ctx, PublicIndexKey, roomID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("room: create: %w", err)
	}

	return &Room{
		ID:           roomID,
		Status:       StatusActive,
		Visibility:   visibility,
		CreatedBy:    createdBy,
		CreatedAt:    now,
		Participants: participants,
	}, nil
}

// Get retrieves a room and its participant list. Returns nil if not found.
func (s *Store) Get(ctx context.Context, roomID string) (*Room, error) {
	pipe := s.rdb.Pipeline()
	hash := pipe.HGetAll(ctx, RoomPrefix+roomID)
	members := pipe.LRange(ctx, MembersKey(roomID), 0, -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	fields := hash.Val()
	if len(fields) == 0 {
		return nil, nil
	}
	createdAt, _ := strconv.ParseInt(fields["created_at"], 10, 64)

	return &Room{
		ID:           roomID,
		Status:       fields["status"],
		Visibility:   fields["visibility"],
		CreatedBy:    fields["created_by"],
		CreatedAt:    createdAt,
		Participants: members.Val(),
	}, nil
}

// Participants returns the room's current participant list in join order.
func (s *Store) Participants(ctx context.Context, roomID string) ([]string, error) {
	return s.rdb.LRange(ctx, MembersKey(roomID), 0, -1).Result()
}

// AddParticipant atomically adds a session to an active room, enforcing the
// capacity bound. Returns the new participant count.
func (s *Store) AddParticipant(ctx context.Context, roomID string, sessionID string) (int, error) {
	keys := []string{RoomPrefix + roomID, MembersKey(roomID)}
	code, err := s.addScript.Run(ctx, s.rdb, keys, sessionID, MaxParticipants).Int()
	if err != nil {
		return 0, fmt.Errorf("room: add participant: %w", err)
	}
	switch code {
	case -1:
		return 0, ErrNotFound
	case -2:
		return 0, ErrEnded
	case -3:
		return 0, ErrFull
	case -4:
		return 0, ErrAlreadyMember
	default:
		return code, nil
	}
}

// RemoveParticipant atomically removes a session from the room's participant
// list and returns the remaining count. A leaving client removes only
// itself; ending a room that still holds other participants is the
// close-grace watcher's job. Removing the LAST participant ends the room in
// the same atomic step: an active room must never be empty, and with no one
// left to observe it, no client-side watcher would ever fire.
// Removing a non-member is a no-op.
func (s *Store) RemoveParticipant(ctx context.Context, roomID string, sessionID string) (int, error) {
	keys := []string{RoomPrefix + roomID, MembersKey(roomID), PublicIndexKey}
	code, err := s.removeScript.Run(ctx, s.rdb, keys,
		sessionID, roomID, int(EndedCooldown.Seconds())).Int()
	if err != nil {
		return 0, fmt.Errorf("room: remove participant: %w", err)
	}
	if code == -1 {
		return 0, ErrNotFound
	}
	return code, nil
}

// EndRoom transitions the room to ended. It is idempotent and at-least-once
// safe: concurrent or repeated calls after the first are no-ops, and there
// is no transition out of ended. The room document is kept for a cooldown
// window and then expires. The bool reports whether THIS call performed the
// transition, so concurrent callers can agree on who publishes the terminal
// event.
func (s *Store) EndRoom(ctx context.Context, roomID string) (bool, error) {
	keys := []string{RoomPrefix + roomID, MembersKey(roomID), PublicIndexKey}
	code, err := s.endScript.Run(ctx, s.rdb, keys, roomID, int(EndedCooldown.Seconds())).Int()
	if err != nil {
		return false, fmt.Errorf("room: end: %w", err)
	}
	if code == -1 {
		return false, ErrNotFound
	}
	return code == 1, nil
}

// SetVisibility flips the room between private and public, maintaining the
// public index. Ended rooms cannot change visibility.
func (s *Store) SetVisibility(ctx context.Context, roomID string, visibility string) error {
	if visibility != VisibilityPrivate && visibility != VisibilityPublic {
		return fmt.Errorf("room: invalid visibility %q", visibility)
	}
	keys := []string{RoomPrefix + roomID, PublicIndexKey}
	code, err := s.visScript.Run(ctx, s.rdb, keys, roomID, visibility).Int()
	if err != nil {
		return fmt.Errorf("room: set visibility: %w", err)
	}
	switch code {
	case -1:
		return ErrNotFound
	case -2:
		return ErrEnded
	}
	return nil
}

// PublicRooms returns the IDs of rooms currently joinable as public.
func (s *Store) PublicRooms(ctx context.Context) ([]string, error) {
	return s.rdb.SMembers(ctx, PublicIndexKey).Result()
}

// addParticipantLua: join an active, non-full room exactly once.
const addParticipantLua = `
local status = redis.call('HGET', KEYS[1], 'status')
if not status then return -1 end
if status ~= 'active' then return -2 end

local members = redis.call('LRANGE', KEYS[2], 0, -1)
for _, m in ipairs(members) do
    if m == ARGV[1] then return -4 end
end
if #members >= tonumber(ARGV[2]) then return -3 end

redis.call('RPUSH', KEYS[2], ARGV[1])
return #members + 1
`

// removeParticipantLua: remove one occurrence of the session, return the
// remaining count. A room left at one participant stays active (the
// grace-period watcher decides its fate); a room drained to zero is ended
// here, since no participant remains to run a watcher.
const removeParticipantLua = `
if redis.call('EXISTS', KEYS[1]) == 0 then return -1 end
redis.call('LREM', KEYS[2], 1, ARGV[1])
local remaining = redis.call('LLEN', KEYS[2])
if remaining == 0 and redis.call('HGET', KEYS[1], 'status') == 'active' then
    redis.call('HSET', KEYS[1], 'status', 'ended')
    redis.call('SREM', KEYS[3], ARGV[2])
    redis.call('EXPIRE', KEYS[1], tonumber(ARGV[3]))
    redis.call('EXPIRE', KEYS[2], tonumber(ARGV[3]))
end
return remaining
`

// endRoomLua: idempotent active -> ended transition with cooldown expiry.
const endRoomLua = `
local status = redis.call('HGET', KEYS[1], 'status')
if not status then return -1 end
if status == 'ended' then return 0 end

redis.call('HSET', KEYS[1], 'status', 'ended')
redis.call('SREM', KEYS[3], ARGV[1])
redis.call('EXPIRE', KEYS[1], tonumber(ARGV[2]))
redis.call('EXPIRE', KEYS[2], tonumber(ARGV[2]))
return 1
`

// setVisibilityLua: flip visibility on an active room, keeping the public
// index in sync.
const setVisibilityLua = `
local status = redis.call('HGET', KEYS[1], 'status')
if not status then return -1 end
if status ~= 'active' then return -2 end

redis.call('HSET', KEYS[1], 'visibility', ARGV[2])
if ARGV[2] == 'public' then
    redis.call('SADD', KEYS[2], ARGV[1])
else
    redis.call('SREM', KEYS[2], ARGV[1])
end
return 1
`
