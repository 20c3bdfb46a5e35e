package client

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/roam-chat/roam/internal/protocol"
	"github.com/roam-chat/roam/internal/ws"
)

// Manager owns the coordinators of all sessions connected to this edge
// server and wires the WebSocket dispatcher to them.
type Manager struct {
	deps   Deps
	server *ws.Server

	mu     sync.RWMutex
	actors map[string]*Coordinator
}

// NewManager creates a Manager over the shared services.
func NewManager(deps Deps) *Manager {
	return &Manager{
		deps:   deps,
		actors: make(map[string]*Coordinator),
	}
}

// Bind attaches the manager to a server and dispatcher: connection lifecycle
// callbacks create and destroy coordinators, and every client operation is
// routed to the session's coordinator.
func (m *Manager) Bind(server *ws.Server, d *ws.MessageDispatcher) {
	m.server = server

	server.SetOnConnect(m.onConnect)
	server.SetOnDisconnect(m.onDisconnect)

	d.Register(protocol.TypeSetPrefs, m.handle(func(ctx context.Context, c *Coordinator, msg interface{}) {
		sp := msg.(protocol.SetPrefsMsg)
		if err := c.SetPrefs(ctx, sp.Modes); err != nil {
			log.Printf("[client] %s: set prefs: %v", c.ID(), err)
		}
	}))
	d.Register(protocol.TypeStartSearch, m.handle(func(ctx context.Context, c *Coordinator, msg interface{}) {
		c.StartSearching(ctx)
	}))
	d.Register(protocol.TypeCancelSearch, m.handle(func(ctx context.Context, c *Coordinator, msg interface{}) {
		c.CancelSearch(ctx)
	}))
	d.Register(protocol.TypeMessage, m.handle(func(ctx context.Context, c *Coordinator, msg interface{}) {
		c.SendMessage(ctx, msg.(protocol.ChatMsg).Text)
	}))
	d.Register(protocol.TypeTyping, m.handle(func(ctx context.Context, c *Coordinator, msg interface{}) {
		c.SendTyping(ctx, msg.(protocol.TypingMsg).IsTyping)
	}))
	d.Register(protocol.TypeSkip, m.handle(func(ctx context.Context, c *Coordinator, msg interface{}) {
		c.LeaveRoom(ctx)
	}))
	d.Register(protocol.TypeBlock, m.handle(func(ctx context.Context, c *Coordinator, msg interface{}) {
		c.BlockPeer(ctx)
	}))
	d.Register(protocol.TypeReport, m.handle(func(ctx context.Context, c *Coordinator, msg interface{}) {
		c.ReportPeer(ctx, msg.(protocol.ReportMsg).Reason)
	}))
	d.Register(protocol.TypeTogglePublic, m.handle(func(ctx context.Context, c *Coordinator, msg interface{}) {
		c.TogglePublic(ctx, msg.(protocol.TogglePublicMsg).Public)
	}))
	d.Register(protocol.TypeJoinRoom, m.handle(func(ctx context.Context, c *Coordinator, msg interface{}) {
		c.JoinRoom(ctx, msg.(protocol.JoinRoomMsg).RoomID)
	}))
	d.Register(protocol.TypeListRooms, m.handle(func(ctx context.Context, c *Coordinator, msg interface{}) {
		c.ListPublicRooms(ctx)
	}))
	d.Register(protocol.TypeSignal, m.handle(func(ctx context.Context, c *Coordinator, msg interface{}) {
		sm := msg.(protocol.SignalMsg)
		c.HandleSignal(sm.Kind, sm.Payload)
	}))
}

// handle adapts a coordinator operation to a dispatcher MessageHandler,
// resolving the session's actor and bounding the operation with a timeout.
func (m *Manager) handle(fn func(ctx context.Context, c *Coordinator, msg interface{})) ws.MessageHandler {
	return func(conn *ws.Connection, msg interface{}) {
		c := m.Get(conn.ID)
		if c == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		fn(ctx, c, msg)
	}
}

// onConnect creates the coordinator for a freshly registered session.
func (m *Manager) onConnect(conn *ws.Connection) {
	id := conn.ID
	c := NewCoordinator(id, conn.Alias, m.deps, func(msgType string, payload interface{}) {
		data, err := protocol.NewServerMessage(msgType, payload)
		if err != nil {
			log.Printf("[client] %s: build %s: %v", id, msgType, err)
			return
		}
		if err := m.server.SendMessage(id, data); err != nil {
			log.Printf("[client] %s: send %s: %v", id, msgType, err)
		}
	})

	m.mu.Lock()
	m.actors[id] = c
	m.mu.Unlock()
}

// onDisconnect cascades the connection loss through the coordinator and
// removes it.
func (m *Manager) onDisconnect(id string) {
	m.mu.Lock()
	c := m.actors[id]
	delete(m.actors, id)
	m.mu.Unlock()

	if c == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c.Disconnect(ctx)
}

// Get returns the coordinator for a session, or nil.
func (m *Manager) Get(id string) *Coordinator {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.actors[id]
}

// Count returns the number of live coordinators on this edge server.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.actors)
}
