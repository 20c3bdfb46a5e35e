package room

import "sync"

// MaxBufferMessages is the number of recent messages retained per room.
// The buffer exists only so an abuse report can attach conversation context;
// nothing is persisted beyond the active session.
const MaxBufferMessages = 5

// BufferedMessage is a single message retained in the ring buffer.
type BufferedMessage struct {
	From  string `json:"from"`
	Alias string `json:"alias"`
	Text  string `json:"text"`
	Ts    int64  `json:"ts"`
}

// MessageBuffer keeps the last N messages per room in memory. Goroutine-safe.
type MessageBuffer struct {
	mu      sync.RWMutex
	buffers map[string]*ringBuffer // roomID -> ring buffer
}

type ringBuffer struct {
	items []BufferedMessage
	pos   int
	count int
}

// NewMessageBuffer creates an empty MessageBuffer.
func NewMessageBuffer() *MessageBuffer {
	return &MessageBuffer{buffers: make(map[string]*ringBuffer)}
}

// Add appends a message to the room's ring buffer, overwriting the oldest
// entry once full.
func (mb *MessageBuffer) Add(roomID string, msg BufferedMessage) {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	rb, ok := mb.buffers[roomID]
	if !ok {
		rb = &ringBuffer{items: make([]BufferedMessage, MaxBufferMessages)}
		mb.buffers[roomID] = rb
	}

	rb.items[rb.pos] = msg
	rb.pos = (rb.pos + 1) % MaxBufferMessages
	if rb.count < MaxBufferMessages {
		rb.count++
	}
}

// Get returns the room's retained messages in chronological order, oldest
// first. Returns an empty slice for rooms with no buffer.
func (mb *MessageBuffer) Get(roomID string) []BufferedMessage {
	mb.mu.RLock()
	defer mb.mu.RUnlock()

	rb, ok := mb.buffers[roomID]
	if !ok {
		return []BufferedMessage{}
	}

	result := make([]BufferedMessage, rb.count)
	start := (rb.pos - rb.count + MaxBufferMessages) % MaxBufferMessages
	for i := 0; i < rb.count; i++ {
		result[i] = rb.items[(start+i)%MaxBufferMessages]
	}
	return result
}

// Remove deletes the buffer for a room (called when the room ends).
func (mb *MessageBuffer) Remove(roomID string) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	delete(mb.buffers, roomID)
}
