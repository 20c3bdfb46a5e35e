package room

import (
	"context"
	"errors"
	"testing"

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

func TestCreateAndGet(t *testing.T) {
	s, ctx := setupTestStore(t)

	created, err := s.Create(ctx, []string{"alice", "bob"}, VisibilityPrivate, "alice")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected a room ID")
	}

	got, err := s.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected room, got nil")
	}
	if got.Status != StatusActive {
		t.Errorf("expected status %q, got %q", StatusActive, got.Status)
	}
	if got.Visibility != VisibilityPrivate {
		t.Errorf("expected visibility %q, got %q", VisibilityPrivate, got.Visibility)
	}
	if got.CreatedBy != "alice" {
		t.Errorf("expected created_by alice, got %q", got.CreatedBy)
	}
	if len(got.Participants) != 2 || got.Participants[0] != "alice" || got.Participants[1] != "bob" {
		t.Errorf("expected participants [alice bob], got %v", got.Participants)
	}
}

func TestGet_Missing(t *testing.T) {
	s, ctx := setupTestStore(t)

	got, err := s.Get(ctx, "no-such-room")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for missing room, got %+v", got)
	}
}

func TestCreate_Validation(t *testing.T) {
	s, ctx := setupTestStore(t)

	if _, err := s.Create(ctx, nil, VisibilityPrivate, "alice"); err == nil {
		t.Error("expected error for empty participant list")
	}

	tooMany := make([]string, MaxParticipants+1)
	for i := range tooMany {
		tooMany[i] = "s"
	}
	if _, err := s.Create(ctx, tooMany, VisibilityPrivate, "alice"); !errors.Is(err, ErrFull) {
		t.Errorf("expected ErrFull, got %v", err)
	}

	// Unknown visibility strings fall back to private.
	r, err := s.Create(ctx, []string{"alice"}, "sorta-public", "alice")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if r.Visibility != VisibilityPrivate {
		t.Errorf("expected fallback to private, got %q", r.Visibility)
	}
}

func TestCreate_PublicIndexed(t *testing.T) {
	s, ctx := setupTestStore(t)

	r, err := s.Create(ctx, []string{"alice"}, VisibilityPublic, "alice")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	public, err := s.PublicRooms(ctx)
	if err != nil {
		t.Fatalf("PublicRooms failed: %v", err)
	}
	if len(public) != 1 || public[0] != r.ID {
		t.Errorf("expected public index [%s], got %v", r.ID, public)
	}
}

func TestAddParticipant(t *testing.T) {
	s, ctx := setupTestStore(t)

	r, _ := s.Create(ctx, []string{"alice"}, VisibilityPublic, "alice")

	count, err := s.AddParticipant(ctx, r.ID, "bob")
	if err != nil {
		t.Fatalf("AddParticipant failed: %v", err)
	}
	if count != 2 {
		t.Errorf("expected count 2, got %d", count)
	}

	members, _ := s.Participants(ctx, r.ID)
	if len(members) != 2 || members[1] != "bob" {
		t.Errorf("expected bob appended, got %v", members)
	}
}

func TestAddParticipant_Errors(t *testing.T) {
	s, ctx := setupTestStore(t)

	if _, err := s.AddParticipant(ctx, "no-such-room", "bob"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	r, _ := s.Create(ctx, []string{"alice"}, VisibilityPublic, "alice")

	if _, err := s.AddParticipant(ctx, r.ID, "alice"); !errors.Is(err, ErrAlreadyMember) {
		t.Errorf("expected ErrAlreadyMember, got %v", err)
	}

	for i := 0; i < MaxParticipants-1; i++ {
		if _, err := s.AddParticipant(ctx, r.ID, "s"+string(rune('a'+i))); err != nil {
			t.Fatalf("AddParticipant %d failed: %v", i, err)
		}
	}
	if _, err := s.AddParticipant(ctx, r.ID, "overflow"); !errors.Is(err, ErrFull) {
		t.Errorf("expected ErrFull at capacity, got %v", err)
	}

	if _, err := s.EndRoom(ctx, r.ID); err != nil {
		t.Fatalf("EndRoom failed: %v", err)
	}
	if _, err := s.AddParticipant(ctx, r.ID, "late"); !errors.Is(err, ErrEnded) {
		t.Errorf("expected ErrEnded, got %v", err)
	}
}

func TestRemoveParticipant(t *testing.T) {
	s, ctx := setupTestStore(t)

	r, _ := s.Create(ctx, []string{"alice", "bob"}, VisibilityPrivate, "alice")

	count, err := s.RemoveParticipant(ctx, r.ID, "bob")
	if err != nil {
		t.Fatalf("RemoveParticipant failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected count 1, got %d", count)
	}

	// Removing a non-member is a no-op.
	count, err = s.RemoveParticipant(ctx, r.ID, "stranger")
	if err != nil {
		t.Fatalf("RemoveParticipant failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected count 1 after no-op removal, got %d", count)
	}

	if _, err := s.RemoveParticipant(ctx, "no-such-room", "alice"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRemoveParticipant_LastMemberEndsRoom(t *testing.T) {
	s, ctx := setupTestStore(t)

	r, _ := s.Create(ctx, []string{"alice", "bob"}, VisibilityPublic, "alice")

	count, err := s.RemoveParticipant(ctx, r.ID, "bob")
	if err != nil {
		t.Fatalf("RemoveParticipant failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected count 1, got %d", count)
	}
	got, _ := s.Get(ctx, r.ID)
	if got == nil || got.Status != StatusActive {
		t.Errorf("expected room active with one member, got %+v", got)
	}

	// Removing the last member ends the room in the same atomic step:
	// with nobody left there is no client to run the grace countdown.
	count, err = s.RemoveParticipant(ctx, r.ID, "alice")
	if err != nil {
		t.Fatalf("RemoveParticipant failed: %v", err)
	}
	if count != 0 {
		t.Errorf("expected count 0, got %d", count)
	}

	got, _ = s.Get(ctx, r.ID)
	if got == nil || got.Status != StatusEnded {
		t.Errorf("expected drained room ended, got %+v", got)
	}

	public, _ := s.PublicRooms(ctx)
	if len(public) != 0 {
		t.Errorf("expected empty public index, got %v", public)
	}

	// The hash carries a cooldown TTL rather than lingering forever.
	ttl, err := s.rdb.TTL(ctx, RoomPrefix+r.ID).Result()
	if err != nil {
		t.Fatalf("TTL failed: %v", err)
	}
	if ttl <= 0 {
		t.Errorf("expected cooldown TTL on ended room hash, got %v", ttl)
	}
}

func TestEndRoom_Idempotent(t *testing.T) {
	s, ctx := setupTestStore(t)

	r, _ := s.Create(ctx, []string{"alice", "bob"}, VisibilityPublic, "alice")

	ended, err := s.EndRoom(ctx, r.ID)
	if err != nil {
		t.Fatalf("EndRoom failed: %v", err)
	}
	if !ended {
		t.Error("expected first EndRoom to perform the transition")
	}
	// Second end is a no-op, not an error. The close-grace design has
	// multiple clients racing to call this; only one of them sees true.
	ended, err = s.EndRoom(ctx, r.ID)
	if err != nil {
		t.Fatalf("repeated EndRoom failed: %v", err)
	}
	if ended {
		t.Error("expected repeated EndRoom to report no transition")
	}

	got, _ := s.Get(ctx, r.ID)
	if got == nil || got.Status != StatusEnded {
		t.Errorf("expected ended room, got %+v", got)
	}

	// Ending removes the room from the public index.
	public, _ := s.PublicRooms(ctx)
	if len(public) != 0 {
		t.Errorf("expected empty public index, got %v", public)
	}

	if _, err := s.EndRoom(ctx, "no-such-room"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSetVisibility(t *testing.T) {
	s, ctx := setupTestStore(t)

	r, _ := s.Create(ctx, []string{"alice"}, VisibilityPrivate, "alice")

	if err := s.SetVisibility(ctx, r.ID, VisibilityPublic); err != nil {
		t.Fatalf("SetVisibility failed: %v", err)
	}
	public, _ := s.PublicRooms(ctx)
	if len(public) != 1 || public[0] != r.ID {
		t.Errorf("expected room in public index, got %v", public)
	}

	if err := s.SetVisibility(ctx, r.ID, VisibilityPrivate); err != nil {
		t.Fatalf("SetVisibility failed: %v", err)
	}
	public, _ = s.PublicRooms(ctx)
	if len(public) != 0 {
		t.Errorf("expected room removed from public index, got %v", public)
	}

	if err := s.SetVisibility(ctx, r.ID, "friends-only"); err == nil {
		t.Error("expected error for invalid visibility")
	}

	if _, err := s.EndRoom(ctx, r.ID); err != nil {
		t.Fatalf("EndRoom failed: %v", err)
	}
	if err := s.SetVisibility(ctx, r.ID, VisibilityPublic); !errors.Is(err, ErrEnded) {
		t.Errorf("expected ErrEnded, got %v", err)
	}

	if err := s.SetVisibility(ctx, "no-such-room", VisibilityPublic); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
