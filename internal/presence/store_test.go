package presence

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// setupTestStore creates a Store connected to a test Redis instance.
// Requires Redis running on localhost:6379. Tests are skipped if unavailable.
func setupTestStore(t *testing.T) (*Store, context.Context) {
	t.Helper()

	rdb := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15, // use DB 15 for tests to avoid conflicts
	})

	ctx := context.Background()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Skipf("skipping: Redis not available: %v", err)
	}

	rdb.FlushDB(ctx)

	t.Cleanup(func() {
		rdb.FlushDB(ctx)
		rdb.Close()
	})

	return NewStore(rdb), ctx
}

func TestRegisterAndGet(t *testing.T) {
	s, ctx := setupTestStore(t)

	sess, err := s.Register(ctx, "", "", Prefs{Text: true})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if sess.ID == "" {
		t.Fatal("expected a generated session ID")
	}
	if sess.Alias == "" {
		t.Fatal("expected a generated alias")
	}
	if sess.Status != StatusIdle {
		t.Errorf("expected status %q, got %q", StatusIdle, sess.Status)
	}

	got, err := s.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected session, got nil")
	}
	if got.Alias != sess.Alias {
		t.Errorf("expected alias %q, got %q", sess.Alias, got.Alias)
	}
	if !got.Preferences().Text {
		t.Error("expected text preference preserved")
	}
	if !got.Alive(time.Now()) {
		t.Error("expected fresh session to be alive")
	}
}

func TestRegister_SuppliedIdentity(t *testing.T) {
	s, ctx := setupTestStore(t)

	sess, err := s.Register(ctx, "token-123", "mellow-walrus-7", Prefs{Video: true})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if sess.ID != "token-123" || sess.Alias != "mellow-walrus-7" {
		t.Errorf("expected supplied identity kept, got %q/%q", sess.ID, sess.Alias)
	}
}

func TestGet_Missing(t *testing.T) {
	s, ctx := setupTestStore(t)

	got, err := s.Get(ctx, "no-such-session")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for missing session, got %+v", got)
	}
}

func TestHeartbeat_Refreshes(t *testing.T) {
	s, ctx := setupTestStore(t)

	sess, _ := s.Register(ctx, "s1", "", Prefs{Text: true})

	// Backdate the heartbeat past the timeout, then refresh it.
	past := time.Now().Add(-HeartbeatTimeout - time.Minute).UnixMilli()
	s.client.HSet(ctx, SessionPrefix+sess.ID, "heartbeat", past)
	s.client.ZAdd(ctx, IndexKey, redis.Z{Score: float64(past), Member: sess.ID})

	stale, err := s.Stale(ctx, time.Now())
	if err != nil {
		t.Fatalf("Stale failed: %v", err)
	}
	if len(stale) != 1 || stale[0] != "s1" {
		t.Fatalf("expected [s1] stale, got %v", stale)
	}

	if err := s.Heartbeat(ctx, sess.ID); err != nil {
		t.Fatalf("Heartbeat failed: %v", err)
	}
	stale, _ = s.Stale(ctx, time.Now())
	if len(stale) != 0 {
		t.Errorf("expected no stale sessions after heartbeat, got %v", stale)
	}
}

func TestRoomAssociation(t *testing.T) {
	s, ctx := setupTestStore(t)

	sess, _ := s.Register(ctx, "s1", "", Prefs{Text: true})

	if err := s.SetRoom(ctx, sess.ID, "room-9"); err != nil {
		t.Fatalf("SetRoom failed: %v", err)
	}
	got, _ := s.Get(ctx, sess.ID)
	if got.RoomID != "room-9" || got.Status != StatusInSession {
		t.Errorf("expected in-session with room-9, got %q/%q", got.Status, got.RoomID)
	}

	if err := s.ClearRoom(ctx, sess.ID); err != nil {
		t.Fatalf("ClearRoom failed: %v", err)
	}
	got, _ = s.Get(ctx, sess.ID)
	if got.RoomID != "" || got.Status != StatusIdle {
		t.Errorf("expected idle with no room, got %q/%q", got.Status, got.RoomID)
	}
}

func TestBlock_EitherDirection(t *testing.T) {
	s, ctx := setupTestStore(t)

	s.Register(ctx, "alice", "", Prefs{Text: true})
	s.Register(ctx, "bob", "", Prefs{Text: true})

	blocked, err := s.IsBlockedEither(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("IsBlockedEither failed: %v", err)
	}
	if blocked {
		t.Error("expected no block initially")
	}

	if err := s.Block(ctx, "alice", "bob"); err != nil {
		t.Fatalf("Block failed: %v", err)
	}

	// One direction is enough; checked both ways round.
	for _, pair := range [][2]string{{"alice", "bob"}, {"bob", "alice"}} {
		blocked, err := s.IsBlockedEither(ctx, pair[0], pair[1])
		if err != nil {
			t.Fatalf("IsBlockedEither failed: %v", err)
		}
		if !blocked {
			t.Errorf("expected %s/%s blocked", pair[0], pair[1])
		}
	}

	members, _ := s.Blocked(ctx, "alice")
	if len(members) != 1 || members[0] != "bob" {
		t.Errorf("expected blocked set [bob], got %v", members)
	}
}

func TestDelete_RemovesEverything(t *testing.T) {
	s, ctx := setupTestStore(t)

	sess, _ := s.Register(ctx, "s1", "", Prefs{Text: true})
	s.Block(ctx, "s1", "s2")

	if err := s.Delete(ctx, sess.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	got, _ := s.Get(ctx, sess.ID)
	if got != nil {
		t.Errorf("expected session gone, got %+v", got)
	}
	members, _ := s.Blocked(ctx, "s1")
	if len(members) != 0 {
		t.Errorf("expected blocked set gone, got %v", members)
	}
	if n, _ := s.client.ZCard(ctx, IndexKey).Result(); n != 0 {
		t.Errorf("expected empty index, got %d entries", n)
	}
}

func TestPrefs_EncodeParseOverlaps(t *testing.T) {
	tests := []struct {
		name    string
		a, b    Prefs
		overlap bool
	}{
		{"text both", Prefs{Text: true}, Prefs{Text: true}, true},
		{"disjoint", Prefs{Text: true}, Prefs{Video: true}, false},
		{"partial", Prefs{Text: true, Audio: true}, Prefs{Audio: true, Video: true}, true},
		{"empty", Prefs{}, Prefs{Text: true}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Overlaps(tt.b); got != tt.overlap {
				t.Errorf("Overlaps = %v, want %v", got, tt.overlap)
			}
			if got := tt.b.Overlaps(tt.a); got != tt.overlap {
				t.Errorf("reverse Overlaps = %v, want %v", got, tt.overlap)
			}
		})
	}

	round := ParsePrefs(Prefs{Text: true, Video: true}.Encode())
	if !round.Text || round.Audio || !round.Video {
		t.Errorf("round trip mangled prefs: %+v", round)
	}
	junk := ParsePrefs("text, telepathy ,video")
	if !junk.Text || !junk.Video || junk.Audio {
		t.Errorf("expected unknown modes ignored, got %+v", junk)
	}
}

func TestRandomAlias_Format(t *testing.T) {
	pattern := regexp.MustCompile(`^[a-z]+-[a-z]+-\d{1,2}$`)
	for i := 0; i < 50; i++ {
		alias := RandomAlias()
		if !pattern.MatchString(alias) {
			t.Fatalf("unexpected alias format: %q", alias)
		}
	}
}
