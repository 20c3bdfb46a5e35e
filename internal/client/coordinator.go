// Package client implements the per-connection coordination actor. Each
// connected session gets a Coordinator that drives its lifecycle across the
// presence registry, matching queue, room store, negotiation relay, and
// moderation engine. All shared state lives in Redis; coordinators on
// different edge servers cooperate through NATS notifications.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/roam-chat/roam/internal/messaging"
	"github.com/roam-chat/roam/internal/metrics"
	"github.com/roam-chat/roam/internal/moderation"
	"github.com/roam-chat/roam/internal/presence"
	"github.com/roam-chat/roam/internal/protocol"
	"github.com/roam-chat/roam/internal/queue"
	"github.com/roam-chat/roam/internal/ratelimit"
	"github.com/roam-chat/roam/internal/room"
	"github.com/roam-chat/roam/internal/signal"
)

// Coordinator states.
const (
	stateIdle      = "idle"
	stateSearching = "searching"
	stateInRoom    = "in-room"
)

// opTimeout bounds Redis round-trips made from NATS callbacks, which carry
// no caller context.
const opTimeout = 3 * time.Second

// Sender delivers a server message to the session's WebSocket connection.
type Sender func(msgType string, payload interface{})

// Deps bundles the shared services a Coordinator operates on.
type Deps struct {
	Sessions *presence.Store
	Queue    *queue.Store
	Matcher  *queue.Matcher
	Rooms    *room.Store
	Bus      *messaging.Client
	Ledger   *moderation.Ledger
	Filter   *moderation.Filter
	Limiter  *ratelimit.Limiter
	Buffer   *room.MessageBuffer
}

// Coordinator is the per-session actor. Methods may be called from the
// dispatcher goroutine and from NATS callbacks; the mutex guards the local
// lifecycle state, while all shared state transitions go through the Redis
// stores' atomic operations.
type Coordinator struct {
	id    string
	alias string
	deps  Deps
	send  Sender

	mu        sync.Mutex
	state     string
	roomID    string
	peerID    string
	peerAlias string
	relay     *signal.Relay
	watcher   *room.CloseWatcher
	closed    bool
}

// NewCoordinator creates an idle coordinator for a registered session.
func NewCoordinator(id, alias string, deps Deps, send Sender) *Coordinator {
	return &Coordinator{
		id:    id,
		alias: alias,
		deps:  deps,
		send:  send,
		state: stateIdle,
	}
}

// ID returns the session ID this coordinator drives.
func (c *Coordinator) ID() string { return c.id }

// ---------------------------------------------------------------------------
// Preferences
// ---------------------------------------------------------------------------

// SetPrefs updates the session's media mode preferences. Matching only pairs
// sessions with at least one mode in common.
func (c *Coordinator) SetPrefs(ctx context.Context, modes []string) error {
	var p presence.Prefs
	for _, m := range modes {
		switch m {
		case "text":
			p.Text = true
		case "audio":
			p.Audio = true
		case "video":
			p.Video = true
		}
	}
	if !p.Text && !p.Audio && !p.Video {
		p.Text = true
	}
	return c.deps.Sessions.SetPrefs(ctx, c.id, p)
}

// ---------------------------------------------------------------------------
// Searching and matching
// ---------------------------------------------------------------------------

// StartSearching enters the matching queue. The session must be idle, not
// banned, and outside the post-skip cooldown. The coordinator subscribes for
// match notices and queue-change notifications, joins the pool, and makes an
// immediate match attempt.
func (c *Coordinator) StartSearching(ctx context.Context) {
	if banned, until, reason := c.deps.Ledger.IsBanned(ctx, c.id); banned {
		c.send(protocol.TypeBanned, protocol.BannedMsg{Until: until.UnixMilli(), Reason: reason})
		return
	}

	if c.deps.Limiter != nil {
		if c.deps.Limiter.InSkipCooldown(ctx, c.id) {
			c.send(protocol.TypeRateLimited, protocol.RateLimitedMsg{RetryAfter: int(ratelimit.SkipCooldown.Seconds())})
			return
		}
		if ok, _ := c.deps.Limiter.Allow(ctx, c.id, ratelimit.RuleSearch); !ok {
			metrics.RateLimitedTotal.WithLabelValues(ratelimit.RuleSearch.Key).Inc()
			c.send(protocol.TypeRateLimited, protocol.RateLimitedMsg{RetryAfter: 60})
			return
		}
	}

	c.mu.Lock()
	if c.state != stateIdle {
		c.mu.Unlock()
		c.sendError("invalid_state", "already searching or in a session")
		return
	}
	c.state = stateSearching
	c.mu.Unlock()

	sess, err := c.deps.Sessions.Get(ctx, c.id)
	if err != nil || sess == nil {
		c.resetToIdle()
		c.sendError("internal", "session lookup failed")
		return
	}

	// Subscribe before the entry becomes visible in the pool: a partner may
	// commit us as its candidate the instant Join lands, and its notice must
	// not outrun the subscription.
	if err := c.deps.Bus.SubscribeMatched(c.id, c.onMatched); err != nil {
		log.Printf("[client] %s: matched subscribe failed: %v", c.id, err)
	}
	if err := c.deps.Bus.SubscribeQueueChanged(c.id, c.onQueueChanged); err != nil {
		log.Printf("[client] %s: queue-changed subscribe failed: %v", c.id, err)
	}

	if err := c.deps.Queue.Join(ctx, c.id, sess.Preferences()); err != nil {
		log.Printf("[client] %s: queue join failed: %v", c.id, err)
		_ = c.deps.Bus.UnsubscribeMatched(c.id)
		_ = c.deps.Bus.UnsubscribeQueueChanged(c.id)
		c.resetToIdle()
		c.sendError("internal", "failed to join queue")
		return
	}
	_ = c.deps.Sessions.SetStatus(ctx, c.id, presence.StatusSearching)

	c.send(protocol.TypeSearchStarted, protocol.SearchStartedMsg{})

	// Wake other waiters, then make our own attempt.
	_ = c.deps.Bus.PublishQueueChanged([]byte(c.id))
	c.attemptMatch(ctx)
}

// CancelSearch leaves the matching queue and returns the session to idle.
// Canceling when not searching is a no-op. A match committed concurrently
// with the cancel already placed this session in a room; honoring the
// cancel then means departing that room, not just deleting the entry.
func (c *Coordinator) CancelSearch(ctx context.Context) {
	c.mu.Lock()
	if c.state != stateSearching {
		c.mu.Unlock()
		return
	}
	c.state = stateIdle
	c.mu.Unlock()

	roomID, err := c.deps.Queue.Cancel(ctx, c.id)
	if err != nil {
		log.Printf("[client] %s: cancel search: %v", c.id, err)
	}
	_ = c.deps.Bus.UnsubscribeMatched(c.id)
	_ = c.deps.Bus.UnsubscribeQueueChanged(c.id)
	_ = c.deps.Bus.PublishQueueChanged([]byte(c.id))

	if roomID != "" {
		c.departRoom(ctx, roomID)
		return
	}
	_ = c.deps.Sessions.SetStatus(ctx, c.id, presence.StatusIdle)
}

// attemptMatch runs one matching scan. A committed match means this session
// is the offerer; the partner learns of the match through its notice
// subscription.
func (c *Coordinator) attemptMatch(ctx context.Context) {
	c.mu.Lock()
	if c.state != stateSearching {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	m, err := c.deps.Matcher.TryMatch(ctx, c.id)
	if err != nil {
		if errors.Is(err, queue.ErrNotWaiting) {
			// Our entry was consumed: a peer committed a match with us as
			// the candidate. The notice normally tells us, but it can be
			// lost; the entry itself records the room either way.
			c.adoptMatch(ctx)
			return
		}
		log.Printf("[client] %s: match attempt: %v", c.id, err)
		return
	}
	if m == nil {
		return
	}

	metrics.MatchesTotal.Inc()
	metrics.ActiveRooms.Inc()

	// Notify the partner before entering the room ourselves, so its actor
	// can set up subscriptions as early as possible.
	notice := queue.MatchNotice{
		RoomID:       m.RoomID,
		PartnerID:    c.id,
		PartnerAlias: c.alias,
		Role:         queue.RoleAnswerer,
	}
	if data, err := notice.Encode(); err == nil {
		if err := c.deps.Bus.PublishMatched(m.PartnerID, data); err != nil {
			log.Printf("[client] %s: match notice publish failed: %v", c.id, err)
		}
	}

	c.teardownSearch(ctx)
	c.enterRoom(ctx, m.RoomID, m.PartnerID, m.PartnerAlias, true)
	c.publishParticipants(ctx, m.RoomID, false)
}

// adoptMatch recovers a match whose notice never arrived. The match
// transaction writes the room ID and answerer role into the consumed entry,
// so the entry is a second source of truth: if it says matched, enter the
// room from it. Partner identity comes from the room's member list.
func (c *Coordinator) adoptMatch(ctx context.Context) {
	entry, err := c.deps.Queue.Get(ctx, c.id)
	if err != nil || entry == nil || entry.Status != queue.StatusMatched || entry.RoomID == "" {
		return
	}

	c.mu.Lock()
	if c.state != stateSearching {
		c.mu.Unlock()
		return
	}
	// Claim the transition under the lock so a late notice delivery cannot
	// enter the same room twice.
	c.state = stateInRoom
	c.mu.Unlock()

	var partnerID, partnerAlias string
	if ids, err := c.deps.Rooms.Participants(ctx, entry.RoomID); err == nil {
		for _, id := range ids {
			if id != c.id {
				partnerID = id
			}
		}
	}
	if partnerID != "" {
		if sess, err := c.deps.Sessions.Get(ctx, partnerID); err == nil && sess != nil {
			partnerAlias = sess.Alias
		}
	}

	log.Printf("[client] %s: adopting committed match room=%s", c.id, entry.RoomID)
	c.teardownSearch(ctx)
	c.enterRoom(ctx, entry.RoomID, partnerID, partnerAlias, entry.Role == queue.RoleOfferer)
}

// onQueueChanged fires when the queue membership changes anywhere in the
// cluster. Re-scan if still searching.
func (c *Coordinator) onQueueChanged(data []byte) {
	// Our own join also notifies; skip the self-wakeup.
	if string(data) == c.id {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()
	c.attemptMatch(ctx)
}

// onMatched fires when a partner committed a match with this session as the
// candidate. The queue entry was already consumed by the commit; clean up
// the remains and enter the room as the answerer.
func (c *Coordinator) onMatched(data []byte) {
	notice, err := queue.DecodeNotice(data)
	if err != nil {
		log.Printf("[client] %s: bad match notice: %v", c.id, err)
		return
	}

	c.mu.Lock()
	if c.state != stateSearching {
		// Stale notice; the room will be reaped once both sides are gone.
		c.mu.Unlock()
		return
	}
	// Claim the transition under the lock: a concurrent rescan that adopts
	// the same match from the consumed entry must not enter the room too.
	c.state = stateInRoom
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	c.teardownSearch(ctx)
	c.enterRoom(ctx, notice.RoomID, notice.PartnerID, notice.PartnerAlias, false)
}

// teardownSearch drops queue membership and search subscriptions. Safe to
// call when none exist.
func (c *Coordinator) teardownSearch(ctx context.Context) {
	_ = c.deps.Queue.Leave(ctx, c.id)
	_ = c.deps.Bus.UnsubscribeMatched(c.id)
	_ = c.deps.Bus.UnsubscribeQueueChanged(c.id)
	_ = c.deps.Bus.PublishQueueChanged([]byte(c.id))
}

// ---------------------------------------------------------------------------
// Room lifecycle
// ---------------------------------------------------------------------------

// enterRoom transitions the coordinator into a room: wires the negotiation
// relay, subscribes to room subjects, arms the close watcher, and tells the
// client. offerer selects which side initiates negotiation.
func (c *Coordinator) enterRoom(ctx context.Context, roomID, peerID, peerAlias string, offerer bool) {
	relay := signal.NewRelay(c.id, func(data []byte) error {
		return c.deps.Bus.PublishSignal(roomID, data)
	}, signal.HandlerFuncs{
		Offer:     func(env *signal.Envelope) { c.forwardSignal(signal.TypeOffer, env) },
		Answer:    func(env *signal.Envelope) { c.forwardSignal(signal.TypeAnswer, env) },
		Candidate: func(env *signal.Envelope) { c.forwardSignal(signal.TypeCandidate, env) },
	})

	watcher := room.NewCloseWatcher(func() {
		c.endRoom(roomID)
	})

	c.mu.Lock()
	c.state = stateInRoom
	c.roomID = roomID
	c.peerID = peerID
	c.peerAlias = peerAlias
	c.relay = relay
	c.watcher = watcher
	c.mu.Unlock()

	if err := c.deps.Bus.SubscribeSignal(roomID, c.id, relay.HandleRaw); err != nil {
		log.Printf("[client] %s: signal subscribe failed: %v", c.id, err)
	}
	if err := c.deps.Bus.SubscribeRoomMessages(roomID, c.id, c.onRoomMessage); err != nil {
		log.Printf("[client] %s: messages subscribe failed: %v", c.id, err)
	}
	if err := c.deps.Bus.SubscribeParticipants(roomID, c.id, c.onParticipants); err != nil {
		log.Printf("[client] %s: participants subscribe failed: %v", c.id, err)
	}

	c.send(protocol.TypeMatchFound, protocol.MatchFoundMsg{
		RoomID:       roomID,
		PartnerAlias: peerAlias,
		Offerer:      offerer,
	})

	// Buffered negotiation messages that arrived before the client was told
	// about the match are flushed now.
	relay.Ready()
}

// LeaveRoom leaves the current room voluntarily. The skip cooldown applies
// so the session cannot immediately re-queue.
func (c *Coordinator) LeaveRoom(ctx context.Context) {
	c.mu.Lock()
	if c.state != stateInRoom {
		c.mu.Unlock()
		return
	}
	roomID := c.roomID
	c.mu.Unlock()

	if c.deps.Limiter != nil {
		_ = c.deps.Limiter.StartSkipCooldown(ctx, c.id)
	}
	c.departRoom(ctx, roomID)
}

// departRoom performs the shared leave path: remove membership, publish the
// participant change, tear down room subscriptions, and return to idle.
// Removing the last member ends the room inside the store; the terminal
// event is published here since no one is left inside to publish it.
func (c *Coordinator) departRoom(ctx context.Context, roomID string) {
	remaining, err := c.deps.Rooms.RemoveParticipant(ctx, roomID, c.id)
	if err != nil && !errors.Is(err, room.ErrNotFound) {
		log.Printf("[client] %s: leave room %s: %v", c.id, roomID, err)
	}
	if err == nil {
		if remaining == 0 {
			metrics.ActiveRooms.Dec()
			c.deps.Buffer.Remove(roomID)
			c.publishParticipants(ctx, roomID, true)
		} else {
			c.publishParticipants(ctx, roomID, false)
		}
	}

	_ = c.deps.Sessions.ClearRoom(ctx, c.id)
	c.clearRoomState(ctx)
	_ = c.deps.Sessions.SetStatus(ctx, c.id, presence.StatusIdle)
}

// endRoom is the close watcher's grace-expiry action: mark the room ended
// and broadcast the terminal participant event. EndRoom is idempotent, so
// concurrent watchers on other sessions are harmless.
func (c *Coordinator) endRoom(roomID string) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	ended, err := c.deps.Rooms.EndRoom(ctx, roomID)
	if err != nil && !errors.Is(err, room.ErrNotFound) {
		log.Printf("[client] %s: end room %s: %v", c.id, roomID, err)
		return
	}
	// Only the call that performed the transition publishes the terminal
	// event and settles the accounting; racing watchers see ended=false.
	if ended {
		metrics.ActiveRooms.Dec()
		c.deps.Buffer.Remove(roomID)
		c.publishParticipants(ctx, roomID, true)
	}
}

// onParticipants handles participant-change events for the current room.
// The close watcher observes every count; an ended event tears down local
// room state.
func (c *Coordinator) onParticipants(data []byte) {
	var ev room.ParticipantEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return
	}

	c.mu.Lock()
	if c.state != stateInRoom || c.roomID != ev.RoomID {
		c.mu.Unlock()
		return
	}
	watcher := c.watcher
	c.mu.Unlock()

	if ev.Ended {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		c.clearRoomState(ctx)
		_ = c.deps.Sessions.ClearRoom(ctx, c.id)
		_ = c.deps.Sessions.SetStatus(ctx, c.id, presence.StatusIdle)
		cancel()
		c.send(protocol.TypeRoomEnded, protocol.RoomEndedMsg{RoomID: ev.RoomID})
		return
	}

	if watcher != nil {
		watcher.Observe(len(ev.Participants))
	}
	c.send(protocol.TypeParticipantsChanged, protocol.ParticipantsChangedMsg{
		RoomID:  ev.RoomID,
		Aliases: ev.Aliases,
		Count:   len(ev.Participants),
	})
}

// publishParticipants broadcasts the room's membership after a change.
func (c *Coordinator) publishParticipants(ctx context.Context, roomID string, ended bool) {
	ev := room.ParticipantEvent{
		RoomID: roomID,
		Ended:  ended,
	}
	if !ended {
		ids, err := c.deps.Rooms.Participants(ctx, roomID)
		if err == nil {
			ev.Participants = ids
			for _, id := range ids {
				if sess, err := c.deps.Sessions.Get(ctx, id); err == nil && sess != nil {
					ev.Aliases = append(ev.Aliases, sess.Alias)
				}
			}
		}
	}
	data, err := json.Marshal(&ev)
	if err != nil {
		return
	}
	if err := c.deps.Bus.PublishParticipants(roomID, data); err != nil {
		log.Printf("[client] %s: participants publish failed: %v", c.id, err)
	}
}

// clearRoomState resets local room bookkeeping and drops room subscriptions.
// Local state is cleared before the teardown calls so a re-entrant event
// during teardown sees the coordinator already idle.
func (c *Coordinator) clearRoomState(ctx context.Context) {
	c.mu.Lock()
	roomID := c.roomID
	watcher := c.watcher
	c.state = stateIdle
	c.roomID = ""
	c.peerID = ""
	c.peerAlias = ""
	c.relay = nil
	c.watcher = nil
	c.mu.Unlock()

	if watcher != nil {
		watcher.Stop()
	}
	if roomID != "" {
		_ = c.deps.Bus.UnsubscribeSignal(c.id)
		_ = c.deps.Bus.UnsubscribeRoomMessages(c.id)
		_ = c.deps.Bus.UnsubscribeParticipants(c.id)
	}
}

// ---------------------------------------------------------------------------
// Messaging
// ---------------------------------------------------------------------------

// SendMessage relays a chat message to the current room after validation,
// ban checks, content moderation, and rate limiting. A moderation rejection
// records a strike; the third strike within the window bans the sender.
func (c *Coordinator) SendMessage(ctx context.Context, text string) {
	c.mu.Lock()
	if c.state != stateInRoom {
		c.mu.Unlock()
		c.sendError("invalid_state", "not in a session")
		return
	}
	roomID := c.roomID
	c.mu.Unlock()

	if err := room.ValidateMessage(text); err != nil {
		c.sendError("invalid_message", err.Error())
		return
	}

	if banned, until, reason := c.deps.Ledger.IsBanned(ctx, c.id); banned {
		c.send(protocol.TypeBanned, protocol.BannedMsg{Until: until.UnixMilli(), Reason: reason})
		return
	}

	if res := c.deps.Filter.Check(text); res.Blocked {
		metrics.BlockedMessagesTotal.WithLabelValues(res.Reason).Inc()
		bannedNow, until, strikes := c.deps.Ledger.HandleViolation(ctx, c.id)
		log.Printf("[client] %s: message blocked reason=%s strikes=%d", c.id, res.Reason, strikes)
		if bannedNow {
			metrics.BansTotal.WithLabelValues(moderation.ReasonStrikes).Inc()
			c.send(protocol.TypeBanned, protocol.BannedMsg{
				Until:  until.UnixMilli(),
				Reason: moderation.ReasonStrikes,
			})
			return
		}
		c.sendError("message_blocked", "message rejected by moderation")
		return
	}

	if c.deps.Limiter != nil {
		if ok, _ := c.deps.Limiter.Allow(ctx, c.id, ratelimit.RuleMessage); !ok {
			metrics.RateLimitedTotal.WithLabelValues(ratelimit.RuleMessage.Key).Inc()
			c.send(protocol.TypeRateLimited, protocol.RateLimitedMsg{RetryAfter: 10})
			return
		}
	}

	now := time.Now().UnixMilli()
	ev := room.ChatEvent{
		Type:      room.EventMessage,
		From:      c.id,
		FromAlias: c.alias,
		Text:      text,
		Ts:        now,
	}
	data, err := json.Marshal(&ev)
	if err != nil {
		return
	}

	c.deps.Buffer.Add(roomID, room.BufferedMessage{
		From:  c.id,
		Alias: c.alias,
		Text:  text,
		Ts:    now,
	})

	if err := c.deps.Bus.PublishRoomMessage(roomID, data); err != nil {
		log.Printf("[client] %s: message publish failed: %v", c.id, err)
		c.sendError("internal", "failed to deliver message")
		return
	}
	metrics.MessagesTotal.Inc()
}

// SendTyping relays the typing indicator. Indicators skip moderation and
// buffering but still require room membership.
func (c *Coordinator) SendTyping(ctx context.Context, isTyping bool) {
	c.mu.Lock()
	if c.state != stateInRoom {
		c.mu.Unlock()
		return
	}
	roomID := c.roomID
	c.mu.Unlock()

	ev := room.ChatEvent{
		Type:      room.EventTyping,
		From:      c.id,
		FromAlias: c.alias,
		IsTyping:  isTyping,
		Ts:        time.Now().UnixMilli(),
	}
	data, err := json.Marshal(&ev)
	if err != nil {
		return
	}
	_ = c.deps.Bus.PublishRoomMessage(roomID, data)
}

// onRoomMessage delivers a room broadcast to the client, skipping the
// sender's own echo.
func (c *Coordinator) onRoomMessage(data []byte) {
	var ev room.ChatEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return
	}
	if ev.From == c.id {
		return
	}

	switch ev.Type {
	case room.EventTyping:
		c.send(protocol.TypeTyping, protocol.ServerTypingMsg{
			Alias:    ev.FromAlias,
			IsTyping: ev.IsTyping,
		})
	case room.EventMessage:
		c.send(protocol.TypeMessage, protocol.ServerChatMsg{
			From:  ev.From,
			Alias: ev.FromAlias,
			Text:  ev.Text,
			Ts:    ev.Ts,
		})
	}
}

// ---------------------------------------------------------------------------
// Negotiation
// ---------------------------------------------------------------------------

// HandleSignal forwards a client negotiation payload to the peer through the
// relay, which stamps the current attempt number.
func (c *Coordinator) HandleSignal(kind string, payload json.RawMessage) {
	c.mu.Lock()
	relay := c.relay
	c.mu.Unlock()
	if relay == nil {
		c.sendError("invalid_state", "no active session")
		return
	}

	var err error
	switch kind {
	case signal.TypeOffer:
		err = relay.SendOffer(payload)
	case signal.TypeAnswer:
		err = relay.SendAnswer(payload)
	case signal.TypeCandidate:
		err = relay.SendCandidate(payload)
	default:
		c.sendError("invalid_signal", "unknown signal kind")
		return
	}
	if err != nil {
		log.Printf("[client] %s: signal send failed kind=%s: %v", c.id, kind, err)
		return
	}
	metrics.SignalMessagesTotal.WithLabelValues(kind).Inc()
}

// forwardSignal delivers a relayed negotiation message to the client.
func (c *Coordinator) forwardSignal(kind string, env *signal.Envelope) {
	c.send(protocol.TypeSignal, protocol.ServerSignalMsg{
		Kind:    kind,
		From:    env.From,
		Payload: env.Payload,
	})
}

// ---------------------------------------------------------------------------
// Moderation actions
// ---------------------------------------------------------------------------

// BlockPeer blocks the current peer from all future matches and leaves the
// room. Blocking is one-directional in storage but matching excludes pairs
// blocked in either direction.
func (c *Coordinator) BlockPeer(ctx context.Context) {
	c.mu.Lock()
	peerID := c.peerID
	c.mu.Unlock()
	if peerID == "" {
		c.sendError("invalid_state", "no peer to block")
		return
	}

	if err := c.deps.Sessions.Block(ctx, c.id, peerID); err != nil {
		log.Printf("[client] %s: block %s: %v", c.id, peerID, err)
		c.sendError("internal", "block failed")
		return
	}
	c.LeaveRoom(ctx)
}

// ReportPeer submits an abuse report against the current peer with a
// snapshot of the recent room messages as context. Reaching the report
// threshold bans the target.
func (c *Coordinator) ReportPeer(ctx context.Context, reason string) {
	c.mu.Lock()
	peerID := c.peerID
	roomID := c.roomID
	c.mu.Unlock()
	if peerID == "" {
		c.sendError("invalid_state", "no peer to report")
		return
	}
	if reason == "" {
		reason = "other"
	}

	if c.deps.Limiter != nil {
		if ok, _ := c.deps.Limiter.Allow(ctx, c.id, ratelimit.RuleReport); !ok {
			metrics.RateLimitedTotal.WithLabelValues(ratelimit.RuleReport.Key).Inc()
			c.send(protocol.TypeRateLimited, protocol.RateLimitedMsg{RetryAfter: 600})
			return
		}
	}

	banned, _, err := c.deps.Ledger.SubmitReport(ctx, peerID, c.id, reason)
	if err != nil {
		log.Printf("[client] %s: report %s: %v", c.id, peerID, err)
	}
	if banned {
		metrics.BansTotal.WithLabelValues(moderation.ReasonReported).Inc()
	}
	metrics.ReportsTotal.Inc()

	// Forward the report with message context to the archiver.
	rec := reportEvent{
		ReporterID: c.id,
		TargetID:   peerID,
		RoomID:     roomID,
		Reason:     reason,
		Messages:   c.deps.Buffer.Get(roomID),
	}
	if data, err := json.Marshal(&rec); err == nil {
		if err := c.deps.Bus.PublishModReport(data); err != nil {
			log.Printf("[client] %s: report publish failed: %v", c.id, err)
		}
	}
}

// reportEvent is the wire form of an abuse report sent to the archiver.
type reportEvent struct {
	ReporterID string                 `json:"reporter_id"`
	TargetID   string                 `json:"target_id"`
	RoomID     string                 `json:"room_id"`
	Reason     string                 `json:"reason"`
	Messages   []room.BufferedMessage `json:"messages,omitempty"`
}

// ---------------------------------------------------------------------------
// Public rooms
// ---------------------------------------------------------------------------

// TogglePublic flips the current room between private and publicly joinable.
func (c *Coordinator) TogglePublic(ctx context.Context, public bool) {
	c.mu.Lock()
	roomID := c.roomID
	c.mu.Unlock()
	if roomID == "" {
		c.sendError("invalid_state", "not in a session")
		return
	}

	visibility := room.VisibilityPrivate
	if public {
		visibility = room.VisibilityPublic
	}
	if err := c.deps.Rooms.SetVisibility(ctx, roomID, visibility); err != nil {
		log.Printf("[client] %s: set visibility room=%s: %v", c.id, roomID, err)
		c.sendError("internal", "visibility change failed")
		return
	}
	c.send(protocol.TypeVisibilityChanged, protocol.VisibilityChangedMsg{
		RoomID: roomID,
		Public: public,
	})
}

// ListPublicRooms sends the current public room listing to the client.
func (c *Coordinator) ListPublicRooms(ctx context.Context) {
	rooms, err := c.deps.Rooms.PublicRooms(ctx)
	if err != nil {
		c.sendError("internal", "room listing failed")
		return
	}
	c.send(protocol.TypeRoomList, protocol.RoomListMsg{Rooms: rooms})
}

// JoinRoom joins a publicly listed room. The session must be idle and not
// banned; capacity and visibility are enforced atomically by the store.
func (c *Coordinator) JoinRoom(ctx context.Context, roomID string) {
	if banned, until, reason := c.deps.Ledger.IsBanned(ctx, c.id); banned {
		c.send(protocol.TypeBanned, protocol.BannedMsg{Until: until.UnixMilli(), Reason: reason})
		return
	}

	c.mu.Lock()
	if c.state != stateIdle {
		c.mu.Unlock()
		c.sendError("invalid_state", "already searching or in a session")
		return
	}
	c.mu.Unlock()

	r, err := c.deps.Rooms.Get(ctx, roomID)
	if err != nil || r == nil {
		c.sendError("not_found", "room not found")
		return
	}
	if r.Visibility != room.VisibilityPublic {
		c.sendError("not_public", "room is not public")
		return
	}

	_, err = c.deps.Rooms.AddParticipant(ctx, roomID, c.id)
	if err != nil {
		switch {
		case errors.Is(err, room.ErrFull):
			c.sendError("room_full", "room is at capacity")
		case errors.Is(err, room.ErrEnded), errors.Is(err, room.ErrNotFound):
			c.sendError("not_found", "room no longer active")
		case errors.Is(err, room.ErrAlreadyMember):
			c.sendError("invalid_state", "already in the room")
		default:
			c.sendError("internal", "join failed")
		}
		return
	}

	_ = c.deps.Sessions.SetRoom(ctx, c.id, roomID)
	_ = c.deps.Sessions.SetStatus(ctx, c.id, presence.StatusInSession)

	// Joined rooms are group mode: chat relays apply, peer negotiation does
	// not, so no peer identity is recorded.
	c.enterRoom(ctx, roomID, "", "", false)
	c.publishParticipants(ctx, roomID, false)
}

// ---------------------------------------------------------------------------
// Disconnect
// ---------------------------------------------------------------------------

// Disconnect cascades a connection loss: the session leaves the queue and
// its room exactly as a voluntary departure, minus the skip cooldown. Local
// state is cleared first so late NATS callbacks observe a closed actor.
func (c *Coordinator) Disconnect(ctx context.Context) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	state := c.state
	roomID := c.roomID
	c.mu.Unlock()

	switch state {
	case stateSearching:
		// Cancel rather than Leave: a match committed concurrently with the
		// disconnect already placed this session in a room, and the partner
		// must see it depart.
		matchedRoom, err := c.deps.Queue.Cancel(ctx, c.id)
		if err != nil {
			log.Printf("[client] %s: disconnect cancel: %v", c.id, err)
		}
		_ = c.deps.Bus.UnsubscribeMatched(c.id)
		_ = c.deps.Bus.UnsubscribeQueueChanged(c.id)
		_ = c.deps.Bus.PublishQueueChanged([]byte(c.id))
		if matchedRoom != "" {
			c.departRoom(ctx, matchedRoom)
		}
	case stateInRoom:
		c.departRoom(ctx, roomID)
	}
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func (c *Coordinator) resetToIdle() {
	c.mu.Lock()
	c.state = stateIdle
	c.mu.Unlock()
}

func (c *Coordinator) sendError(code, message string) {
	c.send(protocol.TypeError, protocol.ErrorMsg{Code: code, Message: message})
}
