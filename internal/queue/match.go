package queue

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/roam-chat/roam/internal/metrics"
	"github.com/roam-chat/roam/internal/presence"
	"github.com/roam-chat/roam/internal/room"
)

// Match is the outcome of a successful match transaction. The initiator is
// always the offerer; the candidate discovers the match through its own
// entry and takes the answerer role.
type Match struct {
	RoomID       string
	PartnerID    string
	PartnerAlias string
}

// Matcher runs the candidate scan and the atomic match transaction on behalf
// of one searching client.
type Matcher struct {
	store    *Store
	sessions *presence.Store
}

// NewMatcher creates a Matcher over the given queue and session stores.
func NewMatcher(store *Store, sessions *presence.Store) *Matcher {
	return &Matcher{store: store, sessions: sessions}
}

// TryMatch scans the waiting pool in join order on behalf of sessionID and
// attempts to atomically match with the first compatible live candidate.
// Returns nil with no error when no candidate survives the checks — the
// caller keeps waiting for the next queue change.
//
// Candidate checks, in order: not self, not mutually blocked, preference
// overlap, live heartbeat. The liveness read matters because a queue entry
// can outlive its owner's silent disconnect by up to a sweep interval, and
// matching a ghost silently breaks the partner's experience. Stale entries
// found during the scan are deleted opportunistically.
func (m *Matcher) TryMatch(ctx context.Context, sessionID string) (*Match, error) {
	self, err := m.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("queue: read own session: %w", err)
	}
	if self == nil {
		return nil, ErrNotWaiting
	}
	entry, err := m.store.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if entry == nil || entry.Status != StatusWaiting {
		return nil, ErrNotWaiting
	}
	prefs := self.Preferences()

	candidates, err := m.store.WaitingIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("queue: scan: %w", err)
	}

	for _, cid := range candidates {
		if cid == sessionID {
			continue
		}

		cand, err := m.store.Get(ctx, cid)
		if err != nil || cand == nil || cand.Status != StatusWaiting {
			continue
		}
		if !prefs.Overlaps(cand.Prefs) {
			continue
		}

		blocked, err := m.sessions.IsBlockedEither(ctx, sessionID, cid)
		if err != nil || blocked {
			continue
		}

		// Liveness check against the candidate's session record. The same
		// check is repeated inside the match script to close the
		// time-of-check/time-of-use gap.
		candSess, err := m.sessions.Get(ctx, cid)
		if err != nil {
			continue
		}
		if candSess == nil || !candSess.Alive(time.Now()) {
			// Ghost entry: the owner is gone but the sweep hasn't caught
			// up yet. Remove it so later scans skip it cheaply.
			if err := m.store.Leave(ctx, cid); err != nil {
				log.Printf("[queue] ghost cleanup %s: %v", cid, err)
			}
			continue
		}

		match, err := m.commit(ctx, sessionID, cid, candSess.Alias)
		switch {
		case err == nil:
			return match, nil
		case err == ErrConflict:
			// Lost the race for this candidate to a concurrent matcher.
			// Expected; keep scanning.
			metrics.MatchConflictsTotal.Inc()
			continue
		case err == ErrGhost:
			// The candidate went stale under us. Keep scanning.
			continue
		case err == ErrNotWaiting:
			// Our own entry was consumed — a peer matched us first.
			return nil, ErrNotWaiting
		default:
			return nil, err
		}
	}

	return nil, nil
}

// commit executes the atomic match transaction. The script re-reads both
// entries (must still be waiting) and the candidate's heartbeat, then in the
// same atomic step creates the room, marks both entries matched with the new
// room ID, assigns the offerer/answerer roles, and moves both sessions to
// in-session. Any failed check aborts with no side effects.
func (m *Matcher) commit(ctx context.Context, initiatorID, candidateID, candidateAlias string) (*Match, error) {
	roomID := uuid.New().String()
	now := time.Now().UnixMilli()

	keys := []string{
		EntryPrefix + initiatorID,
		EntryPrefix + candidateID,
		WaitingKey,
		presence.SessionPrefix + candidateID,
		presence.SessionPrefix + initiatorID,
		room.RoomPrefix + roomID,
		room.MembersKey(roomID),
	}
	argv := []interface{}{
		roomID,
		now,
		presence.HeartbeatTimeout.Milliseconds(),
		initiatorID,
		candidateID,
	}

	code, err := m.store.matchScript.Run(ctx, m.store.rdb, keys, argv...).Int()
	if err != nil {
		return nil, fmt.Errorf("queue: match script: %w", err)
	}

	switch code {
	case 1:
		return &Match{
			RoomID:       roomID,
			PartnerID:    candidateID,
			PartnerAlias: candidateAlias,
		}, nil
	case -1:
		return nil, ErrNotWaiting
	case -2:
		return nil, ErrConflict
	case -3:
		return nil, ErrGhost
	default:
		return nil, fmt.Errorf("queue: match script returned %d", code)
	}
}

// matchLua is the atomic match transaction. Redis executes scripts without
// interleaving, so the validations and writes below form one transaction:
// two clients racing for the same candidate cannot both pass the status
// checks, which makes at-most-one match per waiting entry structural.
//
//	KEYS[1] initiator entry   KEYS[2] candidate entry  KEYS[3] waiting zset
//	KEYS[4] candidate session KEYS[5] initiator session
//	KEYS[6] room hash         KEYS[7] room member list
//	ARGV[1] room id  ARGV[2] now ms  ARGV[3] heartbeat timeout ms
//	ARGV[4] initiator id  ARGV[5] candidate id
const matchLua = `
if redis.call('HGET', KEYS[1], 'status') ~= 'waiting' then return -1 end
if redis.call('HGET', KEYS[2], 'status') ~= 'waiting' then return -2 end

local hb = redis.call('HGET', KEYS[4], 'heartbeat')
if not hb then return -3 end
if tonumber(ARGV[2]) - tonumber(hb) > tonumber(ARGV[3]) then return -3 end

redis.call('HSET', KEYS[1], 'status', 'matched', 'room_id', ARGV[1], 'role', 'offerer')
redis.call('HSET', KEYS[2], 'status', 'matched', 'room_id', ARGV[1], 'role', 'answerer')
redis.call('ZREM', KEYS[3], ARGV[4], ARGV[5])

redis.call('HSET', KEYS[6],
    'id', ARGV[1],
    'status', 'active',
    'visibility', 'private',
    'created_by', ARGV[4],
    'created_at', ARGV[2])
redis.call('RPUSH', KEYS[7], ARGV[4], ARGV[5])

redis.call('HSET', KEYS[5], 'room_id', ARGV[1], 'status', 'in-session')
redis.call('HSET', KEYS[4], 'room_id', ARGV[1], 'status', 'in-session')

return 1
`
