package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/vidfriends/groupcast/internal/models"
	"github.com/vidfriends/groupcast/internal/repositories"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(filepath.Join(t.TempDir(), "groupcast.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func newTestGroup(id, code, creatorID string) models.Group {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	return models.Group{
		ID:         id,
		Name:       "Team " + id,
		InviteCode: code,
		CreatedAt:  now,
		Members: []models.Member{
			{ID: creatorID, DisplayName: creatorID, JoinedAt: now},
		},
	}
}

func TestStoreCreateAndGet(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	group := newTestGroup("g1", "ABC234", "alice")
	if err := store.CreateGroup(ctx, group); err != nil {
		t.Fatalf("create group: %v", err)
	}

	got, err := store.GetGroup(ctx, "g1")
	if err != nil {
		t.Fatalf("get group: %v", err)
	}
	if got.InviteCode != "ABC234" || got.Name != group.Name {
		t.Fatalf("unexpected group: %+v", got)
	}
	if !got.CreatedAt.Equal(group.CreatedAt) {
		t.Fatalf("expected created at %v, got %v", group.CreatedAt, got.CreatedAt)
	}
	if len(got.Members) != 1 || got.Members[0].ID != "alice" {
		t.Fatalf("unexpected members: %+v", got.Members)
	}

	if err := store.CreateGroup(ctx, newTestGroup("g2", "ABC234", "bob")); !errors.Is(err, repositories.ErrConflict) {
		t.Fatalf("expected conflict for duplicate code, got %v", err)
	}

	if _, err := store.GetGroup(ctx, "missing"); !errors.Is(err, repositories.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestStoreJoinListAndRemove(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if err := store.CreateGroup(ctx, newTestGroup("g1", "AAAAAA", "alice")); err != nil {
		t.Fatalf("create g1: %v", err)
	}
	second := newTestGroup("g2", "BBBBBB", "bob")
	second.CreatedAt = second.CreatedAt.Add(time.Hour)
	if err := store.CreateGroup(ctx, second); err != nil {
		t.Fatalf("create g2: %v", err)
	}

	carol := models.Member{ID: "carol", DisplayName: "Carol", JoinedAt: time.Now()}
	for _, code := range []string{"BBBBBB", "AAAAAA", "AAAAAA"} {
		if _, err := store.JoinByInviteCode(ctx, code, carol); err != nil {
			t.Fatalf("join %s: %v", code, err)
		}
	}

	if _, err := store.JoinByInviteCode(ctx, "ZZZZZZ", carol); !errors.Is(err, repositories.ErrNotFound) {
		t.Fatalf("expected not found for unknown code, got %v", err)
	}

	groups, err := store.ListGroupsForMember(ctx, "carol")
	if err != nil {
		t.Fatalf("list groups: %v", err)
	}
	if len(groups) != 2 || groups[0].ID != "g1" || groups[1].ID != "g2" {
		t.Fatalf("unexpected groups: %+v", groups)
	}
	if len(groups[0].Members) != 2 {
		t.Fatalf("expected repeated join to keep 2 members, got %+v", groups[0].Members)
	}

	if err := store.RemoveMember(ctx, "g1", "carol"); err != nil {
		t.Fatalf("remove member: %v", err)
	}
	if err := store.RemoveMember(ctx, "missing", "carol"); !errors.Is(err, repositories.ErrNotFound) {
		t.Fatalf("expected not found for unknown group, got %v", err)
	}

	groups, err = store.ListGroupsForMember(ctx, "carol")
	if err != nil {
		t.Fatalf("list groups after leave: %v", err)
	}
	if len(groups) != 1 || groups[0].ID != "g2" {
		t.Fatalf("unexpected groups after leave: %+v", groups)
	}
}

func TestStoreConcurrentJoins(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	if err := store.CreateGroup(ctx, newTestGroup("g1", "CCCCCC", "alice")); err != nil {
		t.Fatalf("create group: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.JoinByInviteCode(ctx, "CCCCCC", models.Member{ID: "dave", DisplayName: "Dave", JoinedAt: time.Now()})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent join: %v", err)
		}
	}

	group, err := store.GetGroup(ctx, "g1")
	if err != nil {
		t.Fatalf("get group: %v", err)
	}
	if len(group.Members) != 2 {
		t.Fatalf("expected 2 members, got %d", len(group.Members))
	}
}

func TestStoreContentRecordsAndHistory(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	base := time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)
	store.NowFunc = func() time.Time { return base }

	if err := store.CreateGroup(ctx, newTestGroup("g1", "DDDDDD", "alice")); err != nil {
		t.Fatalf("create group: %v", err)
	}
	if _, err := store.JoinByInviteCode(ctx, "DDDDDD", models.Member{ID: "bob", DisplayName: "Bob", JoinedAt: base}); err != nil {
		t.Fatalf("join: %v", err)
	}

	if _, err := store.CreateContentRecord(ctx, "g1", "mallory", "https://cdn/x.jpg", ""); !errors.Is(err, repositories.ErrNotMember) {
		t.Fatalf("expected not member, got %v", err)
	}
	if _, err := store.CreateContentRecord(ctx, "missing", "alice", "https://cdn/x.jpg", ""); !errors.Is(err, repositories.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	id, err := store.CreateContentRecord(ctx, "g1", "alice", "https://cdn/a.jpg", "hello")
	if err != nil {
		t.Fatalf("create content record: %v", err)
	}
	if id == "" {
		t.Fatal("expected content record id")
	}

	group, err := store.GetGroup(ctx, "g1")
	if err != nil {
		t.Fatalf("get group: %v", err)
	}
	if group.ContentCount != 1 {
		t.Fatalf("expected content count 1, got %d", group.ContentCount)
	}

	tests := []struct {
		name  string
		start time.Time
		end   time.Time
		want  int
	}{
		{name: "window contains record", start: base.Add(-time.Hour), end: base.Add(time.Hour), want: 1},
		{name: "start is inclusive", start: base, end: base.Add(time.Hour), want: 1},
		{name: "end is exclusive", start: base.Add(-time.Hour), end: base, want: 0},
		{name: "earlier window", start: base.Add(-48 * time.Hour), end: base.Add(-24 * time.Hour), want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.CountDeliveries(ctx, "g1", "alice", tt.start, tt.end)
			if err != nil {
				t.Fatalf("count deliveries: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %d deliveries, got %d", tt.want, got)
			}
		})
	}

	posters, err := store.PostersBetween(ctx, "g1", base.Add(-time.Hour), base.Add(time.Hour))
	if err != nil {
		t.Fatalf("posters between: %v", err)
	}
	if len(posters) != 1 || posters[0] != "alice" {
		t.Fatalf("unexpected posters: %v", posters)
	}
}

func TestPathFromURL(t *testing.T) {
	tests := map[string]string{
		"sqlite:///var/lib/groupcast.db": "/var/lib/groupcast.db",
		"sqlite:data/groupcast.db":       "data/groupcast.db",
		"file:data/groupcast.db":         "data/groupcast.db",
		"plain.db":                       "plain.db",
	}
	for in, want := range tests {
		if got := PathFromURL(in); got != want {
			t.Errorf("PathFromURL(%q) = %q, want %q", in, got, want)
		}
	}
}
