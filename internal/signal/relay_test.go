package signal

import (
	"encoding/json"
	"testing"
)

// recorder collects delivered envelopes per type.
type recorder struct {
	offers     []*Envelope
	answers    []*Envelope
	candidates []*Envelope
}

func (r *recorder) HandleOffer(env *Envelope)     { r.offers = append(r.offers, env) }
func (r *recorder) HandleAnswer(env *Envelope)    { r.answers = append(r.answers, env) }
func (r *recorder) HandleCandidate(env *Envelope) { r.candidates = append(r.candidates, env) }

func newTestRelay(selfID string) (*Relay, *recorder, *[][]byte) {
	rec := &recorder{}
	var published [][]byte
	relay := NewRelay(selfID, func(data []byte) error {
		published = append(published, data)
		return nil
	}, rec)
	return relay, rec, &published
}

func wire(t *testing.T, msgType, from string, attempt int) []byte {
	t.Helper()
	data, err := NewEnvelope(msgType, from, attempt, json.RawMessage(`{}`)).Encode()
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	return data
}

func TestRelay_DeliversRemoteMessages(t *testing.T) {
	relay, rec, _ := newTestRelay("alice")
	relay.Ready()

	relay.HandleRaw(wire(t, TypeOffer, "bob", 0))
	relay.HandleRaw(wire(t, TypeAnswer, "bob", 0))
	relay.HandleRaw(wire(t, TypeCandidate, "bob", 0))
	relay.HandleRaw(wire(t, TypeCandidate, "bob", 0))

	if len(rec.offers) != 1 {
		t.Errorf("expected 1 offer, got %d", len(rec.offers))
	}
	if len(rec.answers) != 1 {
		t.Errorf("expected 1 answer, got %d", len(rec.answers))
	}
	// Candidates are not deduplicated; each one carries distinct data.
	if len(rec.candidates) != 2 {
		t.Errorf("expected 2 candidates, got %d", len(rec.candidates))
	}
}

func TestRelay_DropsSelfEcho(t *testing.T) {
	relay, rec, _ := newTestRelay("alice")
	relay.Ready()

	relay.HandleRaw(wire(t, TypeOffer, "alice", 0))
	relay.HandleRaw(wire(t, TypeCandidate, "alice", 0))

	if len(rec.offers) != 0 || len(rec.candidates) != 0 {
		t.Errorf("expected self-echoes dropped, got offers=%d candidates=%d",
			len(rec.offers), len(rec.candidates))
	}
}

func TestRelay_DeduplicatesOfferPerAttempt(t *testing.T) {
	relay, rec, _ := newTestRelay("alice")
	relay.Ready()

	relay.HandleRaw(wire(t, TypeOffer, "bob", 0))
	relay.HandleRaw(wire(t, TypeOffer, "bob", 0))
	relay.HandleRaw(wire(t, TypeAnswer, "bob", 0))
	relay.HandleRaw(wire(t, TypeAnswer, "bob", 0))

	if len(rec.offers) != 1 {
		t.Errorf("expected duplicate offer dropped, got %d", len(rec.offers))
	}
	if len(rec.answers) != 1 {
		t.Errorf("expected duplicate answer dropped, got %d", len(rec.answers))
	}
}

func TestRelay_DropsStaleAttempt(t *testing.T) {
	relay, rec, _ := newTestRelay("alice")
	relay.Ready()

	if got := relay.Restart(); got != 1 {
		t.Fatalf("expected attempt 1 after restart, got %d", got)
	}

	relay.HandleRaw(wire(t, TypeOffer, "bob", 0))
	relay.HandleRaw(wire(t, TypeCandidate, "bob", 0))

	if len(rec.offers) != 0 || len(rec.candidates) != 0 {
		t.Errorf("expected stale-attempt messages dropped, got offers=%d candidates=%d",
			len(rec.offers), len(rec.candidates))
	}

	relay.HandleRaw(wire(t, TypeOffer, "bob", 1))
	if len(rec.offers) != 1 {
		t.Errorf("expected current-attempt offer delivered, got %d", len(rec.offers))
	}
}

func TestRelay_FollowsOffererRestart(t *testing.T) {
	relay, rec, _ := newTestRelay("alice")
	relay.Ready()

	// The answerer sees an offer with a higher attempt number and adopts it.
	relay.HandleRaw(wire(t, TypeOffer, "bob", 2))
	if got := relay.Attempt(); got != 2 {
		t.Errorf("expected attempt 2 adopted from offer, got %d", got)
	}
	if len(rec.offers) != 1 {
		t.Fatalf("expected offer delivered, got %d", len(rec.offers))
	}

	// Messages from the abandoned cycles are now stale.
	relay.HandleRaw(wire(t, TypeCandidate, "bob", 1))
	if len(rec.candidates) != 0 {
		t.Errorf("expected stale candidate dropped, got %d", len(rec.candidates))
	}
}

func TestRelay_BuffersUntilReady(t *testing.T) {
	relay, rec, _ := newTestRelay("alice")

	relay.HandleRaw(wire(t, TypeOffer, "bob", 0))
	relay.HandleRaw(wire(t, TypeCandidate, "bob", 0))
	relay.HandleRaw(wire(t, TypeCandidate, "bob", 0))

	if len(rec.offers) != 0 || len(rec.candidates) != 0 {
		t.Fatal("expected nothing delivered before Ready")
	}

	relay.Ready()

	if len(rec.offers) != 1 {
		t.Errorf("expected 1 buffered offer flushed, got %d", len(rec.offers))
	}
	if len(rec.candidates) != 2 {
		t.Errorf("expected 2 buffered candidates flushed, got %d", len(rec.candidates))
	}
}

func TestRelay_FlushDeduplicates(t *testing.T) {
	relay, rec, _ := newTestRelay("alice")

	relay.HandleRaw(wire(t, TypeOffer, "bob", 0))
	relay.HandleRaw(wire(t, TypeOffer, "bob", 0))
	relay.Ready()

	if len(rec.offers) != 1 {
		t.Errorf("expected duplicate buffered offer dropped, got %d", len(rec.offers))
	}

	// A redelivery arriving after the flush is also dropped.
	relay.HandleRaw(wire(t, TypeOffer, "bob", 0))
	if len(rec.offers) != 1 {
		t.Errorf("expected post-flush duplicate dropped, got %d", len(rec.offers))
	}
}

func TestRelay_RestartClearsPending(t *testing.T) {
	relay, rec, _ := newTestRelay("alice")

	relay.HandleRaw(wire(t, TypeCandidate, "bob", 0))
	relay.Restart()
	relay.Ready()

	if len(rec.candidates) != 0 {
		t.Errorf("expected pending messages discarded on restart, got %d", len(rec.candidates))
	}
}

func TestRelay_SendStampsCurrentAttempt(t *testing.T) {
	relay, _, published := newTestRelay("alice")
	relay.Restart()

	if err := relay.SendOffer(json.RawMessage(`{"k":"v"}`)); err != nil {
		t.Fatalf("SendOffer failed: %v", err)
	}
	if len(*published) != 1 {
		t.Fatalf("expected 1 published message, got %d", len(*published))
	}

	env, err := Decode((*published)[0])
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if env.Type != TypeOffer || env.From != "alice" || env.Attempt != 1 {
		t.Errorf("unexpected envelope: %+v", env)
	}
}

func TestRelay_DropsMalformed(t *testing.T) {
	relay, rec, _ := newTestRelay("alice")
	relay.Ready()

	relay.HandleRaw([]byte(`not json`))
	relay.HandleRaw([]byte(`{"type":"teleport","from":"bob","attempt":0}`))

	if len(rec.offers)+len(rec.answers)+len(rec.candidates) != 0 {
		t.Error("expected malformed messages dropped")
	}
}
