// Package messaging provides a NATS client wrapper for the change-notification
// channels of the coordination core: queue updates, per-room participant and
// signaling feeds, the per-room message log, and moderation report fan-out.
// NATS preserves per-publisher ordering within a subject, which is exactly
// the ordering guarantee the room channels need; nothing is guaranteed
// across rooms and nothing stronger is required.
package messaging

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// Subject patterns used across roam services.
const (
	SubjectQueueChanged = "queue.changed"
	SubjectQueueMatched = "queue.matched" // + .<session_id>
	SubjectRoomPrefix   = "room"          // room.<room_id>.{participants,signal,messages}
	SubjectModReport    = "moderation.report"
)

// RoomParticipantsSubject returns the subject carrying participant-change
// events for a room.
func RoomParticipantsSubject(roomID string) string {
	return fmt.Sprintf("%s.%s.participants", SubjectRoomPrefix, roomID)
}

// RoomSignalSubject returns the subject carrying connection-negotiation
// messages for a room.
func RoomSignalSubject(roomID string) string {
	return fmt.Sprintf("%s.%s.signal", SubjectRoomPrefix, roomID)
}

// RoomMessagesSubject returns the subject carrying chat messages for a room.
func RoomMessagesSubject(roomID string) string {
	return fmt.Sprintf("%s.%s.messages", SubjectRoomPrefix, roomID)
}

// Client wraps the NATS connection with helper methods for pub/sub.
type Client struct {
	conn *nats.Conn
	mu   sync.Mutex
	subs map[string]*nats.Subscription
}

// Config holds NATS connection settings.
type Config struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:           "nats://localhost:4222",
		Name:          "roam",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1,
	}
}

// Connect dials NATS with the given config and returns a ready client.
func Connect(config Config) (*Client, error) {
	opts := []nats.Option{
		nats.Name(config.Name),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}

	nc, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())

	return &Client{
		conn: nc,
		subs: make(map[string]*nats.Subscription),
	}, nil
}

// Publish sends data to the given subject.
func (c *Client) Publish(subject string, data []byte) error {
	return c.conn.Publish(subject, data)
}

// subscribe registers a handler under an explicit bookkeeping key so that a
// later unsubscribe can find it. Distinct clients on the same server may
// subscribe to the same subject under different keys.
func (c *Client) subscribe(key, subject string, handler func(data []byte)) error {
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s: %w", subject, err)
	}

	c.mu.Lock()
	c.subs[key] = sub
	c.mu.Unlock()
	return nil
}

// unsubscribe removes and unsubscribes the subscription stored under key.
// Unsubscribing a key that was never registered is a no-op.
func (c *Client) unsubscribe(key string) error {
	c.mu.Lock()
	sub, ok := c.subs[key]
	if ok {
		delete(c.subs, key)
	}
	c.mu.Unlock()
	if !ok {
		return nil
	}

	if err := sub.Unsubscribe(); err != nil {
		return fmt.Errorf("nats unsubscribe %s: %w", key, err)
	}
	return nil
}

// PublishQueueChanged notifies all waiting clients that the queue contents
// changed and a re-scan is worthwhile.
func (c *Client) PublishQueueChanged(data []byte) error {
	return c.Publish(SubjectQueueChanged, data)
}

// SubscribeQueueChanged subscribes a session to queue-change notifications.
func (c *Client) SubscribeQueueChanged(sessionID string, handler func(data []byte)) error {
	return c.subscribe("queuechanged:"+sessionID, SubjectQueueChanged, handler)
}

// UnsubscribeQueueChanged removes a session's queue-change subscription.
func (c *Client) UnsubscribeQueueChanged(sessionID string) error {
	return c.unsubscribe("queuechanged:" + sessionID)
}

// PublishMatched delivers a match notice to the matched party. The waiting
// side of a match discovers the room through this subject rather than by
// polling its queue entry.
func (c *Client) PublishMatched(sessionID string, data []byte) error {
	return c.Publish(SubjectQueueMatched+"."+sessionID, data)
}

// SubscribeMatched subscribes a session to its own match notices.
func (c *Client) SubscribeMatched(sessionID string, handler func(data []byte)) error {
	subject := SubjectQueueMatched + "." + sessionID
	return c.subscribe(subject, subject, handler)
}

// UnsubscribeMatched removes a session's match-notice subscription.
func (c *Client) UnsubscribeMatched(sessionID string) error {
	return c.unsubscribe(SubjectQueueMatched + "." + sessionID)
}

// PublishParticipants publishes a participant-change event for a room.
func (c *Client) PublishParticipants(roomID string, data []byte) error {
	return c.Publish(RoomParticipantsSubject(roomID), data)
}

// SubscribeParticipants subscribes a session to a room's participant feed.
func (c *Client) SubscribeParticipants(roomID, sessionID string, handler func(data []byte)) error {
	return c.subscribe("participants:"+sessionID, RoomParticipantsSubject(roomID), handler)
}

// UnsubscribeParticipants removes a session's participant-feed subscription.
func (c *Client) UnsubscribeParticipants(sessionID string) error {
	return c.unsubscribe("participants:" + sessionID)
}

// PublishSignal appends a negotiation message to a room's signaling channel.
func (c *Client) PublishSignal(roomID string, data []byte) error {
	return c.Publish(RoomSignalSubject(roomID), data)
}

// SubscribeSignal subscribes a session to a room's signaling channel.
func (c *Client) SubscribeSignal(roomID, sessionID string, handler func(data []byte)) error {
	return c.subscribe("signal:"+sessionID, RoomSignalSubject(roomID), handler)
}

// UnsubscribeSignal removes a session's signaling subscription.
func (c *Client) UnsubscribeSignal(sessionID string) error {
	return c.unsubscribe("signal:" + sessionID)
}

// PublishRoomMessage appends a chat event to a room's message log.
func (c *Client) PublishRoomMessage(roomID string, data []byte) error {
	return c.Publish(RoomMessagesSubject(roomID), data)
}

// SubscribeRoomMessages subscribes a session to a room's message log.
func (c *Client) SubscribeRoomMessages(roomID, sessionID string, handler func(data []byte)) error {
	return c.subscribe("messages:"+sessionID, RoomMessagesSubject(roomID), handler)
}

// UnsubscribeRoomMessages removes a session's message-log subscription.
func (c *Client) UnsubscribeRoomMessages(sessionID string) error {
	return c.unsubscribe("messages:" + sessionID)
}

// PublishModReport forwards an abuse report to the archive consumer.
func (c *Client) PublishModReport(data []byte) error {
	return c.Publish(SubjectModReport, data)
}

// SubscribeModReports subscribes to the abuse-report stream.
func (c *Client) SubscribeModReports(handler func(data []byte)) error {
	return c.subscribe(SubjectModReport, SubjectModReport, handler)
}

// Close drains all active subscriptions and closes the NATS connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, sub := range c.subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[nats] drain %s: %v", key, err)
		}
	}
	c.subs = make(map[string]*nats.Subscription)

	if err := c.conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}

	log.Printf("[nats] client closed")
}
