package presence

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// SessionPrefix is the Redis key prefix for all session hashes.
	SessionPrefix = "session:"

	// IndexKey is the sorted set of all session IDs scored by their last
	// heartbeat (unix milliseconds). The sweep range-scans it for stale
	// sessions without touching fresh ones.
	IndexKey = "session:index"

	// SessionTTL is a backstop lease on session keys. The sweep normally
	// reaps sessions long before this fires; the TTL only matters if the
	// sweep daemon itself is down.
	SessionTTL = 1 * time.Hour

	// HeartbeatTimeout is the maximum heartbeat age before a session is
	// considered gone. Nothing else may be used to infer liveness.
	HeartbeatTimeout = 30 * time.Second

	// Status constants for the session state machine.
	StatusIdle      = "idle"
	StatusSearching = "searching"
	StatusInSession = "in-session"
)

// Session is a client's ephemeral identity and liveness record.
type Session struct {
	ID        string `redis:"id"`
	Alias     string `redis:"alias"`
	Status    string `redis:"status"` // idle | searching | in-session
	RoomID    string `redis:"room_id"`
	Prefs     string `redis:"prefs"`     // CSV, see Prefs
	Heartbeat int64  `redis:"heartbeat"` // unix milliseconds
	CreatedAt int64  `redis:"created_at"`
}

// Preferences returns the session's decoded communication modes.
func (s *Session) Preferences() Prefs {
	return ParsePrefs(s.Prefs)
}

// Alive reports whether the session's heartbeat is fresh at the given time.
func (s *Session) Alive(now time.Time) bool {
	age := now.UnixMilli() - s.Heartbeat
	return age <= HeartbeatTimeout.Milliseconds()
}

// Prefs is the set of communication modes a client has enabled.
type Prefs struct {
	Text  bool
	Audio bool
	Video bool
}

// Overlaps reports whether two preference sets share at least one mode.
// A text/text, audio/audio, or video/video overlap is enough to match.
func (p Prefs) Overlaps(other Prefs) bool {
	return (p.Text && other.Text) || (p.Audio && other.Audio) || (p.Video && other.Video)
}

// Encode renders the preference set as a CSV string for Redis storage.
func (p Prefs) Encode() string {
	var modes []string
	if p.Text {
		modes = append(modes, "text")
	}
	if p.Audio {
		modes = append(modes, "audio")
	}
	if p.Video {
		modes = append(modes, "video")
	}
	return strings.Join(modes, ",")
}

// ParsePrefs decodes a CSV preference string. Unknown modes are ignored.
func ParsePrefs(s string) Prefs {
	var p Prefs
	for _, mode := range strings.Split(s, ",") {
		switch strings.TrimSpace(mode) {
		case "text":
			p.Text = true
		case "audio":
			p.Audio = true
		case "video":
			p.Video = true
		}
	}
	return p
}

// Store manages session state in Redis.
type Store struct {
	client *redis.Client
}

// NewStore creates a session store using the provided Redis client.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

// Connect dials Redis at addr, verifies the connection, and returns a Store.
func Connect(addr string) (*Store, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("presence: redis connection failed: %w", err)
	}

	return &Store{client: client}, nil
}

// Register creates a session for a newly connected client. The session ID may
// be supplied by the client (opaque token); if empty, a UUID is generated.
// The returned session starts idle with a fresh heartbeat.
func (s *Store) Register(ctx context.Context, sessionID string, alias string, prefs Prefs) (*Session, error) {
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	if alias == "" {
		alias = RandomAlias()
	}

	now := time.Now().UnixMilli()
	sess := &Session{
		ID:        sessionID,
		Alias:     alias,
		Status:    StatusIdle,
		Prefs:     prefs.Encode(),
		Heartbeat: now,
		CreatedAt: now,
	}

	key := SessionPrefix + sessionID
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"id":         sess.ID,
		"alias":      sess.Alias,
		"status":     sess.Status,
		"room_id":    "",
		"prefs":      sess.Prefs,
		"heartbeat":  sess.Heartbeat,
		"created_at": sess.CreatedAt,
	})
	pipe.Expire(ctx, key, SessionTTL)
	pipe.ZAdd(ctx, IndexKey, redis.Z{Score: float64(now), Member: sessionID})
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("presence: register %s: %w", sessionID, err)
	}
	return sess, nil
}

// Get retrieves a session. Returns nil if not found.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	var sess Session
	err := s.client.HGetAll(ctx, SessionPrefix+sessionID).Scan(&sess)
	if err != nil {
		return nil, err
	}
	if sess.ID == "" {
		return nil, nil
	}
	return &sess, nil
}

// Heartbeat refreshes the session's liveness timestamp and TTL. It is
// idempotent and safe to call at any cadence; refreshing a session that no
// longer exists is a no-op (the client will discover the loss elsewhere).
func (s *Store) Heartbeat(ctx context.Context, sessionID string) error {
	key := SessionPrefix + sessionID
	now := time.Now().UnixMilli()

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, "heartbeat", now)
	pipe.Expire(ctx, key, SessionTTL)
	pipe.ZAdd(ctx, IndexKey, redis.Z{Score: float64(now), Member: sessionID})
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("presence: heartbeat %s: %w", sessionID, err)
	}
	return nil
}

// SetStatus updates the session's status field.
func (s *Store) SetStatus(ctx context.Context, sessionID string, status string) error {
	return s.client.HSet(ctx, SessionPrefix+sessionID, "status", status).Err()
}

// SetPrefs stores the client's enabled communication modes.
func (s *Store) SetPrefs(ctx context.Context, sessionID string, prefs Prefs) error {
	return s.client.HSet(ctx, SessionPrefix+sessionID, "prefs", prefs.Encode()).Err()
}

// SetRoom records the room the session is in and marks it in-session.
func (s *Store) SetRoom(ctx context.Context, sessionID string, roomID string) error {
	return s.client.HSet(ctx, SessionPrefix+sessionID,
		"room_id", roomID, "status", StatusInSession).Err()
}

// ClearRoom removes the session's room association and resets it to idle.
func (s *Store) ClearRoom(ctx context.Context, sessionID string) error {
	return s.client.HSet(ctx, SessionPrefix+sessionID,
		"room_id", "", "status", StatusIdle).Err()
}

// Block adds a peer to the session's blocked set. Blocks are mutual at match
// time: a match is skipped if either side blocks the other.
func (s *Store) Block(ctx context.Context, sessionID string, peerID string) error {
	key := blockedKey(sessionID)
	pipe := s.client.Pipeline()
	pipe.SAdd(ctx, key, peerID)
	pipe.Expire(ctx, key, SessionTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Blocked returns the session's blocked peer set.
func (s *Store) Blocked(ctx context.Context, sessionID string) ([]string, error) {
	return s.client.SMembers(ctx, blockedKey(sessionID)).Result()
}

// IsBlockedEither reports whether either session blocks the other.
func (s *Store) IsBlockedEither(ctx context.Context, a, b string) (bool, error) {
	pipe := s.client.Pipeline()
	ab := pipe.SIsMember(ctx, blockedKey(a), b)
	ba := pipe.SIsMember(ctx, blockedKey(b), a)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return ab.Val() || ba.Val(), nil
}

// Delete removes a session, its blocked set, and its index entry.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	pipe := s.client.Pipeline()
	pipe.Del(ctx, SessionPrefix+sessionID)
	pipe.Del(ctx, blockedKey(sessionID))
	pipe.ZRem(ctx, IndexKey, sessionID)
	_, err := pipe.Exec(ctx)
	return err
}

// Stale returns the IDs of all sessions whose heartbeat is older than the
// timeout at the given time, oldest first.
func (s *Store) Stale(ctx context.Context, now time.Time) ([]string, error) {
	cutoff := now.UnixMilli() - HeartbeatTimeout.Milliseconds()
	return s.client.ZRangeByScore(ctx, IndexKey, &redis.ZRangeBy{
		Min: "0",
		Max: fmt.Sprintf("%d", cutoff),
	}).Result()
}

// Close closes the underlying Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Client returns the underlying Redis client for use by other packages.
func (s *Store) Client() *redis.Client {
	return s.client
}

func blockedKey(sessionID string) string {
	return SessionPrefix + sessionID + ":blocked"
}
