package groups

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/vidfriends/groupcast/internal/invites"
	"github.com/vidfriends/groupcast/internal/models"
	"github.com/vidfriends/groupcast/internal/repositories"
)

type inMemoryGroupRepo struct {
	mu     sync.Mutex
	order  []string
	groups map[string]models.Group
	codes  map[string]string
	err    error
}

func newInMemoryGroupRepo() *inMemoryGroupRepo {
	return &inMemoryGroupRepo{groups: make(map[string]models.Group), codes: make(map[string]string)}
}

func (r *inMemoryGroupRepo) CreateGroup(_ context.Context, group models.Group) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	if _, ok := r.codes[group.InviteCode]; ok {
		return repositories.ErrConflict
	}
	group.Members = append([]models.Member(nil), group.Members...)
	r.groups[group.ID] = group
	r.codes[group.InviteCode] = group.ID
	r.order = append(r.order, group.ID)
	return nil
}

func (r *inMemoryGroupRepo) GetGroup(_ context.Context, groupID string) (models.Group, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	group, ok := r.groups[groupID]
	if !ok {
		return models.Group{}, repositories.ErrNotFound
	}
	return group, nil
}

func (r *inMemoryGroupRepo) JoinByInviteCode(_ context.Context, code string, member models.Member) (models.Group, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.codes[code]
	if !ok {
		return models.Group{}, repositories.ErrNotFound
	}
	group := r.groups[id]
	if !group.HasMember(member.ID) {
		group.Members = append(group.Members, member)
		r.groups[id] = group
	}
	return group, nil
}

func (r *inMemoryGroupRepo) ListGroupsForMember(_ context.Context, memberID string) ([]models.Group, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Group
	for _, id := range r.order {
		if group := r.groups[id]; group.HasMember(memberID) {
			out = append(out, group)
		}
	}
	return out, nil
}

func (r *inMemoryGroupRepo) RemoveMember(_ context.Context, groupID, memberID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	group, ok := r.groups[groupID]
	if !ok {
		return repositories.ErrNotFound
	}
	kept := group.Members[:0:0]
	for _, m := range group.Members {
		if m.ID != memberID {
			kept = append(kept, m)
		}
	}
	group.Members = kept
	r.groups[groupID] = group
	return nil
}

type sequenceGenerator struct {
	mu    sync.Mutex
	codes []string
	calls int
}

func (g *sequenceGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	code := g.codes[g.calls%len(g.codes)]
	g.calls++
	return code
}

func newTestStore(repo Repository, codes CodeGenerator) *Store {
	now := time.Date(2024, time.May, 1, 12, 0, 0, 0, time.UTC)
	var n int
	var mu sync.Mutex
	return NewStore(repo, codes, StoreConfig{
		MaxCodeAttempts: 4,
		NowFunc:         func() time.Time { return now },
		IDFunc: func() string {
			mu.Lock()
			defer mu.Unlock()
			n++
			return fmt.Sprintf("group-%d", n)
		},
	})
}

func TestStoreCreateGroup(t *testing.T) {
	repo := newInMemoryGroupRepo()
	store := newTestStore(repo, invites.NewGenerator(6))

	group, err := store.CreateGroup(context.Background(), "  Climbing Crew ", models.Member{ID: "alice", DisplayName: "Alice"})
	if err != nil {
		t.Fatalf("create group: %v", err)
	}

	if group.Name != "Climbing Crew" {
		t.Fatalf("expected trimmed name got %q", group.Name)
	}
	if !invites.Valid(group.InviteCode) {
		t.Fatalf("expected valid invite code got %q", group.InviteCode)
	}
	if len(group.Members) != 1 || group.Members[0].ID != "alice" {
		t.Fatalf("expected creator as sole member got %+v", group.Members)
	}
	if group.Members[0].JoinedAt.IsZero() {
		t.Fatal("expected creator join time to be set")
	}

	stored, err := store.GetGroup(context.Background(), group.ID)
	if err != nil {
		t.Fatalf("get group: %v", err)
	}
	if stored.InviteCode != group.InviteCode {
		t.Fatalf("expected group visible immediately")
	}
}

func TestStoreCreateGroupUniqueCodes(t *testing.T) {
	repo := newInMemoryGroupRepo()
	store := newTestStore(repo, invites.NewGenerator(6))

	seen := make(map[string]string)
	for i := 0; i < 100; i++ {
		group, err := store.CreateGroup(context.Background(), fmt.Sprintf("group %d", i), models.Member{ID: "owner"})
		if err != nil {
			t.Fatalf("create group %d: %v", i, err)
		}
		if other, ok := seen[group.InviteCode]; ok {
			t.Fatalf("invite code %q shared by %s and %s", group.InviteCode, other, group.ID)
		}
		seen[group.InviteCode] = group.ID
	}
}

func TestStoreCreateGroupRetriesOnCollision(t *testing.T) {
	repo := newInMemoryGroupRepo()
	codes := &sequenceGenerator{codes: []string{"AAAAAA", "AAAAAA", "aaaaab"}}
	store := newTestStore(repo, codes)

	first, err := store.CreateGroup(context.Background(), "first", models.Member{ID: "alice"})
	if err != nil {
		t.Fatalf("create first: %v", err)
	}
	second, err := store.CreateGroup(context.Background(), "second", models.Member{ID: "bob"})
	if err != nil {
		t.Fatalf("create second: %v", err)
	}

	if first.InviteCode != "AAAAAA" || second.InviteCode != "AAAAAB" {
		t.Fatalf("unexpected codes %q and %q", first.InviteCode, second.InviteCode)
	}
	if codes.calls != 3 {
		t.Fatalf("expected 3 generator calls got %d", codes.calls)
	}
}

func TestStoreCreateGroupCodeSpaceExhausted(t *testing.T) {
	repo := newInMemoryGroupRepo()
	codes := &sequenceGenerator{codes: []string{"AAAAAA"}}
	store := newTestStore(repo, codes)

	if _, err := store.CreateGroup(context.Background(), "first", models.Member{ID: "alice"}); err != nil {
		t.Fatalf("create first: %v", err)
	}

	_, err := store.CreateGroup(context.Background(), "second", models.Member{ID: "bob"})
	if !errors.Is(err, ErrCodeSpaceExhausted) {
		t.Fatalf("expected ErrCodeSpaceExhausted got %v", err)
	}
	if codes.calls != 1+4 {
		t.Fatalf("expected bounded retries, generator called %d times", codes.calls)
	}
}

func TestStoreCreateGroupValidation(t *testing.T) {
	store := newTestStore(newInMemoryGroupRepo(), nil)

	cases := []struct {
		name    string
		group   string
		creator models.Member
	}{
		{"emptyName", "  ", models.Member{ID: "alice"}},
		{"missingCreator", "group", models.Member{}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := store.CreateGroup(context.Background(), tc.group, tc.creator); !errors.Is(err, ErrInvalidRequest) {
				t.Fatalf("expected ErrInvalidRequest got %v", err)
			}
		})
	}
}

func TestStoreCreateGroupRepositoryError(t *testing.T) {
	repo := newInMemoryGroupRepo()
	repo.err = errors.New("boom")
	store := newTestStore(repo, nil)

	_, err := store.CreateGroup(context.Background(), "group", models.Member{ID: "alice"})
	if err == nil || errors.Is(err, ErrCodeSpaceExhausted) {
		t.Fatalf("expected repository error to surface got %v", err)
	}
}

func TestStoreJoinByInviteCodeIdempotent(t *testing.T) {
	repo := newInMemoryGroupRepo()
	store := newTestStore(repo, &sequenceGenerator{codes: []string{"AB3XZ9"}})
	ctx := context.Background()

	created, err := store.CreateGroup(ctx, "crew", models.Member{ID: "alice"})
	if err != nil {
		t.Fatalf("create group: %v", err)
	}

	bob := models.Member{ID: "bob", DisplayName: "Bob"}
	once, err := store.JoinByInviteCode(ctx, "ab3xZ9", bob)
	if err != nil {
		t.Fatalf("join lowercase: %v", err)
	}
	twice, err := store.JoinByInviteCode(ctx, " AB3XZ9 ", bob)
	if err != nil {
		t.Fatalf("join uppercase: %v", err)
	}

	if once.ID != created.ID || twice.ID != created.ID {
		t.Fatalf("expected both joins to resolve to %s", created.ID)
	}
	if len(twice.Members) != 2 {
		t.Fatalf("expected 2 members after repeated join got %d", len(twice.Members))
	}
}

func TestStoreJoinByInviteCodeErrors(t *testing.T) {
	store := newTestStore(newInMemoryGroupRepo(), nil)
	ctx := context.Background()
	bob := models.Member{ID: "bob"}

	if _, err := store.JoinByInviteCode(ctx, "   ", bob); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for empty code got %v", err)
	}
	if _, err := store.JoinByInviteCode(ctx, "ZZZZZZ", models.Member{}); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for missing member got %v", err)
	}
	if _, err := store.JoinByInviteCode(ctx, "ZZZZZZ", bob); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown code got %v", err)
	}
	if _, err := store.JoinByInviteCode(ctx, "O0O0O0", bob); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for malformed code got %v", err)
	}
}

func TestStoreConcurrentJoins(t *testing.T) {
	repo := newInMemoryGroupRepo()
	store := newTestStore(repo, &sequenceGenerator{codes: []string{"CREW42"}})
	ctx := context.Background()

	created, err := store.CreateGroup(ctx, "crew", models.Member{ID: "alice"})
	if err != nil {
		t.Fatalf("create group: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			member := models.Member{ID: fmt.Sprintf("member-%d", i%5)}
			if _, err := store.JoinByInviteCode(ctx, "crew42", member); err != nil {
				t.Errorf("join: %v", err)
			}
		}(i)
	}
	wg.Wait()

	group, err := store.GetGroup(ctx, created.ID)
	if err != nil {
		t.Fatalf("get group: %v", err)
	}
	if len(group.Members) != 6 {
		t.Fatalf("expected 6 distinct members got %d", len(group.Members))
	}
}

func TestStoreListAndLeave(t *testing.T) {
	repo := newInMemoryGroupRepo()
	store := newTestStore(repo, &sequenceGenerator{codes: []string{"AAAAAA", "BBBBBB"}})
	ctx := context.Background()

	first, _ := store.CreateGroup(ctx, "first", models.Member{ID: "alice"})
	second, _ := store.CreateGroup(ctx, "second", models.Member{ID: "bob"})
	if _, err := store.JoinByInviteCode(ctx, second.InviteCode, models.Member{ID: "alice"}); err != nil {
		t.Fatalf("join: %v", err)
	}

	groups, err := store.ListGroupsForMember(ctx, "alice")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(groups) != 2 || groups[0].ID != first.ID || groups[1].ID != second.ID {
		t.Fatalf("unexpected groups for alice: %+v", groups)
	}

	if err := store.LeaveGroup(ctx, first.ID, "alice"); err != nil {
		t.Fatalf("leave: %v", err)
	}
	if err := store.LeaveGroup(ctx, first.ID, "alice"); err != nil {
		t.Fatalf("second leave should be a no-op: %v", err)
	}

	kept, err := store.GetGroup(ctx, first.ID)
	if err != nil {
		t.Fatalf("expected emptied group to survive: %v", err)
	}
	if len(kept.Members) != 0 {
		t.Fatalf("expected no members got %+v", kept.Members)
	}

	if err := store.LeaveGroup(ctx, "missing", "alice"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound got %v", err)
	}
	if _, err := store.ListGroupsForMember(ctx, ""); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest got %v", err)
	}
}
