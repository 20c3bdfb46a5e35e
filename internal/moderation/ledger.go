package moderation

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// ModPrefix is the Redis key prefix for shared moderation records.
	ModPrefix = "mod:"

	// StrikeLimit is the strike count that triggers an automatic ban.
	StrikeLimit = 3

	// StrikeBanDuration is the ban applied when the strike limit is hit.
	StrikeBanDuration = 5 * time.Minute

	// ReportWindow is the rolling window over which peer reports count.
	ReportWindow = 30 * time.Minute

	// ReportThreshold is the number of reports within the window that
	// triggers an automatic ban.
	ReportThreshold = 3

	// ReportBanDuration is the ban applied at the report threshold.
	ReportBanDuration = 15 * time.Minute

	// RecordTTL bounds how long a shared moderation record outlives its
	// last write.
	RecordTTL = 24 * time.Hour
)

// Ban reasons written to records and surfaced to the client.
const (
	ReasonStrikes  = "repeated_violations"
	ReasonReported = "peer_reports"
)

// Record is one session's local moderation state.
type Record struct {
	Strikes   int
	BanUntil  time.Time // zero when not banned
	BanReason string
}

// Banned reports whether the record holds an active ban at the given time.
func (r *Record) Banned(now time.Time) bool {
	return r.BanUntil.After(now)
}

// Ledger tracks strikes, bans, and peer reports in two tiers: a local
// in-memory record per session and a shared Redis record. The local tier is
// authoritative for immediacy — a ban taken locally holds before any network
// round trip completes — and every local change is mirrored to the shared
// record best-effort. Ban checks merge both tiers; whichever says banned
// longest wins, because a ban can originate on either side (self-committed
// strikes locally, peer reports in the shared store).
type Ledger struct {
	rdb *redis.Client

	mu    sync.Mutex
	local map[string]*Record

	strikeScript *redis.Script
	reportScript *redis.Script

	now func() time.Time
}

// NewLedger creates a Ledger backed by the given Redis client.
func NewLedger(rdb *redis.Client) *Ledger {
	return &Ledger{
		rdb:          rdb,
		local:        make(map[string]*Record),
		strikeScript: redis.NewScript(strikeLua),
		reportScript: redis.NewScript(reportLua),
		now:          time.Now,
	}
}

func (l *Ledger) record(sessionID string) *Record {
	rec, ok := l.local[sessionID]
	if !ok {
		rec = &Record{}
		l.local[sessionID] = rec
	}
	return rec
}

// HandleViolation records one policy violation for the session. At
// StrikeLimit strikes a StrikeBanDuration ban is applied and the counter
// resets to zero. The local record is updated first so the ban holds
// immediately; the shared record is mirrored afterwards and mirror failures
// are logged, not returned — the local outcome stands either way.
// Returns (banApplied, banUntil, strikesNow).
func (l *Ledger) HandleViolation(ctx context.Context, sessionID string) (bool, time.Time, int) {
	now := l.now()

	l.mu.Lock()
	rec := l.record(sessionID)
	rec.Strikes++
	strikes := rec.Strikes
	banned := false
	var until time.Time
	if rec.Strikes >= StrikeLimit {
		until = now.Add(StrikeBanDuration)
		rec.BanUntil = until
		rec.BanReason = ReasonStrikes
		rec.Strikes = 0
		strikes = 0
		banned = true
	}
	l.mu.Unlock()

	keys := []string{ModPrefix + sessionID}
	argv := []interface{}{
		StrikeLimit,
		now.Add(StrikeBanDuration).UnixMilli(),
		ReasonStrikes,
		int(RecordTTL.Seconds()),
	}
	if err := l.strikeScript.Run(ctx, l.rdb, keys, argv...).Err(); err != nil {
		log.Printf("[moderation] strike mirror %s: %v", sessionID, err)
	}

	return banned, until, strikes
}

// SubmitReport records a peer report against targetID. Reports are kept in a
// rolling ReportWindow; when the window holds ReportThreshold or more
// reports and the target has no active ban, a ReportBanDuration ban is
// applied and the window is cleared. A report landing while a ban is already
// active never stacks a second ban. Returns (banApplied, banUntil).
func (l *Ledger) SubmitReport(ctx context.Context, targetID, reporterID, reason string) (bool, time.Time, error) {
	now := l.now()

	keys := []string{
		ModPrefix + targetID,
		reportsKey(targetID),
	}
	argv := []interface{}{
		now.UnixMilli(),
		now.Add(-ReportWindow).UnixMilli(),
		reporterID,
		ReportThreshold,
		now.Add(ReportBanDuration).UnixMilli(),
		ReasonReported,
		int(RecordTTL.Seconds()),
	}

	res, err := l.reportScript.Run(ctx, l.rdb, keys, argv...).Int64()
	if err != nil {
		return false, time.Time{}, fmt.Errorf("moderation: submit report: %w", err)
	}
	if res == 0 {
		return false, time.Time{}, nil
	}

	until := now.Add(ReportBanDuration)

	// Mirror into the local tier if this client is the target's host.
	l.mu.Lock()
	rec := l.record(targetID)
	if until.After(rec.BanUntil) {
		rec.BanUntil = until
		rec.BanReason = ReasonReported
	}
	l.mu.Unlock()

	return true, until, nil
}

// IsBanned checks the session's ban state across both tiers, most
// restrictive wins. A stricter shared ban is pulled into the local record so
// subsequent checks are immediate.
func (l *Ledger) IsBanned(ctx context.Context, sessionID string) (bool, time.Time, string) {
	now := l.now()

	l.mu.Lock()
	rec := l.record(sessionID)
	localUntil, localReason := rec.BanUntil, rec.BanReason
	l.mu.Unlock()

	sharedUntil, sharedReason := l.sharedBan(ctx, sessionID)

	until, reason := localUntil, localReason
	if sharedUntil.After(until) {
		until, reason = sharedUntil, sharedReason
		l.mu.Lock()
		rec := l.record(sessionID)
		if until.After(rec.BanUntil) {
			rec.BanUntil = until
			rec.BanReason = reason
		}
		l.mu.Unlock()
	}

	if !until.After(now) {
		return false, time.Time{}, ""
	}
	return true, until, reason
}

// sharedBan reads the shared record's ban fields. Read errors degrade to
// "no shared ban" — the local tier still applies.
func (l *Ledger) sharedBan(ctx context.Context, sessionID string) (time.Time, string) {
	fields, err := l.rdb.HMGet(ctx, ModPrefix+sessionID, "ban_until", "ban_reason").Result()
	if err != nil {
		log.Printf("[moderation] shared read %s: %v", sessionID, err)
		return time.Time{}, ""
	}

	var until time.Time
	if s, ok := fields[0].(string); ok {
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil && ms > 0 {
			until = time.UnixMilli(ms)
		}
	}
	reason, _ := fields[1].(string)
	return until, reason
}

// ClearBan lifts a ban and resets the strike counter in both tiers.
func (l *Ledger) ClearBan(ctx context.Context, sessionID string) error {
	l.mu.Lock()
	rec := l.record(sessionID)
	rec.Strikes = 0
	rec.BanUntil = time.Time{}
	rec.BanReason = ""
	l.mu.Unlock()

	pipe := l.rdb.Pipeline()
	pipe.HSet(ctx, ModPrefix+sessionID, "strikes", 0, "ban_until", 0, "ban_reason", "")
	pipe.Del(ctx, reportsKey(sessionID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("moderation: clear ban %s: %w", sessionID, err)
	}
	return nil
}

// Strikes returns the session's current local strike count.
func (l *Ledger) Strikes(sessionID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.record(sessionID).Strikes
}

func reportsKey(sessionID string) string {
	return ModPrefix + sessionID + ":reports"
}

// strikeLua mirrors a strike into the shared record: increments the counter
// and, at the limit, applies the ban and resets the counter — the same
// escalation the local tier already performed.
//
//	KEYS[1] mod record
//	ARGV[1] strike limit  ARGV[2] ban-until ms  ARGV[3] reason  ARGV[4] ttl s
const strikeLua = `
local strikes = redis.call('HINCRBY', KEYS[1], 'strikes', 1)
if strikes >= tonumber(ARGV[1]) then
    redis.call('HSET', KEYS[1], 'strikes', 0, 'ban_until', ARGV[2], 'ban_reason', ARGV[3])
end
redis.call('EXPIRE', KEYS[1], tonumber(ARGV[4]))
return strikes
`

// reportLua appends a report to the rolling window, prunes expired entries,
// and applies a ban when the threshold is met and no ban is already active.
// The window is cleared on ban so the same reports cannot re-trigger.
//
//	KEYS[1] mod record  KEYS[2] report window zset
//	ARGV[1] now ms  ARGV[2] window floor ms  ARGV[3] reporter id
//	ARGV[4] threshold  ARGV[5] ban-until ms  ARGV[6] reason  ARGV[7] ttl s
const reportLua = `
redis.call('ZREMRANGEBYSCORE', KEYS[2], 0, ARGV[2])
redis.call('ZADD', KEYS[2], ARGV[1], ARGV[3])
redis.call('EXPIRE', KEYS[2], tonumber(ARGV[7]))

local count = redis.call('ZCARD', KEYS[2])
if count < tonumber(ARGV[4]) then return 0 end

local banned = redis.call('HGET', KEYS[1], 'ban_until')
if banned and tonumber(banned) > tonumber(ARGV[1]) then return 0 end

redis.call('HSET', KEYS[1], 'ban_until', ARGV[5], 'ban_reason', ARGV[6])
redis.call('EXPIRE', KEYS[1], tonumber(ARGV[7]))
redis.call('DEL', KEYS[2])
return 1
`
