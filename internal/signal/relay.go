package signal

import (
	"encoding/json"
	"log"
	"sync"
)

// Handler receives negotiation messages addressed to the local peer link.
// Callbacks run on the relay's delivery goroutine; implementations must not
// block.
type Handler interface {
	HandleOffer(env *Envelope)
	HandleAnswer(env *Envelope)
	HandleCandidate(env *Envelope)
}

// HandlerFuncs adapts plain functions to the Handler interface. Nil fields
// drop the corresponding message type.
type HandlerFuncs struct {
	Offer     func(env *Envelope)
	Answer    func(env *Envelope)
	Candidate func(env *Envelope)
}

func (h HandlerFuncs) HandleOffer(env *Envelope) {
	if h.Offer != nil {
		h.Offer(env)
	}
}

func (h HandlerFuncs) HandleAnswer(env *Envelope) {
	if h.Answer != nil {
		h.Answer(env)
	}
}

func (h HandlerFuncs) HandleCandidate(env *Envelope) {
	if h.Candidate != nil {
		h.Candidate(env)
	}
}

// Relay is one client's view of a room's signaling channel. It publishes the
// local side's messages and filters the inbound stream: self-echoes are
// dropped, duplicate offers/answers are processed at most once per
// negotiation attempt (the underlying change-notification channel may
// redeliver), messages from abandoned attempts are discarded, and anything
// arriving before the local peer link is ready is queued and flushed once
// Ready is called. Duplicate offer processing is the dangerous case — a
// second accepted offer starts a renegotiation storm.
type Relay struct {
	selfID  string
	publish func(data []byte) error

	mu         sync.Mutex
	handler    Handler
	attempt    int
	ready      bool
	offerSeen  map[int]bool // attempt -> offer already processed
	answerSeen map[int]bool // attempt -> answer already processed
	pending    []*Envelope
}

// NewRelay creates a relay for the local session. The publish function binds
// the relay to a specific room's signaling channel.
func NewRelay(selfID string, publish func(data []byte) error, handler Handler) *Relay {
	return &Relay{
		selfID:     selfID,
		publish:    publish,
		handler:    handler,
		offerSeen:  make(map[int]bool),
		answerSeen: make(map[int]bool),
	}
}

// SendOffer publishes a connection offer for the current attempt.
func (r *Relay) SendOffer(payload json.RawMessage) error {
	return r.send(TypeOffer, payload)
}

// SendAnswer publishes a connection answer for the current attempt.
func (r *Relay) SendAnswer(payload json.RawMessage) error {
	return r.send(TypeAnswer, payload)
}

// SendCandidate publishes a transport candidate for the current attempt.
func (r *Relay) SendCandidate(payload json.RawMessage) error {
	return r.send(TypeCandidate, payload)
}

func (r *Relay) send(msgType string, payload json.RawMessage) error {
	r.mu.Lock()
	attempt := r.attempt
	r.mu.Unlock()

	data, err := NewEnvelope(msgType, r.selfID, attempt, payload).Encode()
	if err != nil {
		return err
	}
	return r.publish(data)
}

// HandleRaw processes one inbound wire message. Malformed messages are
// logged and dropped; nothing on this path is fatal.
func (r *Relay) HandleRaw(data []byte) {
	env, err := Decode(data)
	if err != nil {
		log.Printf("[signal] dropping malformed message: %v", err)
		return
	}
	r.handleEnvelope(env)
}

func (r *Relay) handleEnvelope(env *Envelope) {
	r.mu.Lock()

	if env.From == r.selfID {
		r.mu.Unlock()
		return
	}
	if env.Attempt < r.attempt {
		// Leftover from a negotiation cycle that was restarted.
		r.mu.Unlock()
		return
	}
	if env.Type == TypeOffer && env.Attempt > r.attempt {
		// The offerer restarted; follow its new cycle.
		r.attempt = env.Attempt
	}

	if !r.ready {
		r.pending = append(r.pending, env)
		r.mu.Unlock()
		return
	}

	deliver := r.markLocked(env)
	r.mu.Unlock()

	if deliver {
		r.dispatch(env)
	}
}

// markLocked records offer/answer processing state for the envelope's
// attempt and reports whether the message should be delivered.
func (r *Relay) markLocked(env *Envelope) bool {
	switch env.Type {
	case TypeOffer:
		if r.offerSeen[env.Attempt] {
			return false
		}
		r.offerSeen[env.Attempt] = true
	case TypeAnswer:
		if r.answerSeen[env.Attempt] {
			return false
		}
		r.answerSeen[env.Attempt] = true
	}
	return true
}

func (r *Relay) dispatch(env *Envelope) {
	switch env.Type {
	case TypeOffer:
		r.handler.HandleOffer(env)
	case TypeAnswer:
		r.handler.HandleAnswer(env)
	case TypeCandidate:
		r.handler.HandleCandidate(env)
	}
}

// Ready marks the local peer link able to accept negotiation messages and
// flushes everything queued so far in arrival order.
func (r *Relay) Ready() {
	r.mu.Lock()
	r.ready = true
	queued := r.pending
	r.pending = nil

	deliverable := queued[:0]
	for _, env := range queued {
		if env.Attempt < r.attempt {
			continue
		}
		if r.markLocked(env) {
			deliverable = append(deliverable, env)
		}
	}
	r.mu.Unlock()

	for _, env := range deliverable {
		r.dispatch(env)
	}
}

// Restart begins a new negotiation attempt after a connection failure. Only
// the offerer initiates restarts; the answerer follows the attempt number it
// sees on the incoming offer. Returns the new attempt number.
func (r *Relay) Restart() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempt++
	r.pending = nil
	return r.attempt
}

// Attempt returns the current negotiation attempt number.
func (r *Relay) Attempt() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempt
}
