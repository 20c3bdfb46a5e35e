package ws

import (
	"context"
	"log"
	"time"

	"github.com/gobwas/ws"
)

// HeartbeatConfig tunes the liveness probe loop.
type HeartbeatConfig struct {
	Interval time.Duration // gap between probe rounds
	Timeout  time.Duration // slack granted on top of Interval before eviction
}

func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{
		Interval: 30 * time.Second,
		Timeout:  10 * time.Second,
	}
}

// StartHeartbeat launches the background probe loop and returns immediately.
// Each round evicts connections with no successful read inside
// Interval+Timeout and pings the rest; pinged connections also get their
// session heartbeat refreshed so the registry keeps advertising them while
// the socket stays quiet. The goroutine exits when the server's done channel
// closes.
func StartHeartbeat(server *Server, config HeartbeatConfig) {
	go func() {
		ticker := time.NewTicker(config.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-server.done:
				return
			case <-ticker.C:
				probeConnections(server, config)
			}
		}
	}()
}

// probeConnections runs one liveness round over every registered connection.
func probeConnections(server *Server, config HeartbeatConfig) {
	cutoff := config.Interval + config.Timeout
	now := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for _, c := range server.Connections().All() {
		idle := now.Sub(c.LastActive)
		if idle > cutoff {
			log.Printf("ws: evicting silent connection session=%s idle=%s",
				c.ID, idle.Round(time.Second))
			server.RemoveConnection(c)
			continue
		}

		// Protocol-level ping. Browsers answer with a pong automatically,
		// which counts as a read and resets LastActive.
		if err := c.WritePing(); err != nil {
			log.Printf("ws: ping failed session=%s: %v", c.ID, err)
			server.RemoveConnection(c)
			continue
		}

		// A socket that still accepts writes is alive even when the client
		// sends no application traffic. Refresh the session heartbeat so the
		// sweeper does not reap it between pong rounds.
		if err := server.sessions.Heartbeat(ctx, c.ID); err != nil {
			log.Printf("ws: heartbeat refresh failed session=%s: %v", c.ID, err)
		}
	}
}

// WritePing emits a ping control frame, serialized against concurrent
// application writes by the connection's write mutex.
func (c *Connection) WritePing() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return ws.WriteFrame(c.Conn, ws.NewPingFrame(nil))
}
