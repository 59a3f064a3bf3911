// Package groups owns group creation and membership, including the invite
// code uniqueness and idempotent-join rules.
package groups

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vidfriends/groupcast/internal/invites"
	"github.com/vidfriends/groupcast/internal/logging"
	"github.com/vidfriends/groupcast/internal/models"
	"github.com/vidfriends/groupcast/internal/repositories"
)

// Repository is the durable backing for groups. Implementations must make
// CreateGroup fail with repositories.ErrConflict when the invite code is
// already owned, and make JoinByInviteCode a no-op for existing members.
type Repository interface {
	CreateGroup(ctx context.Context, group models.Group) error
	GetGroup(ctx context.Context, groupID string) (models.Group, error)
	JoinByInviteCode(ctx context.Context, code string, member models.Member) (models.Group, error)
	ListGroupsForMember(ctx context.Context, memberID string) ([]models.Group, error)
	RemoveMember(ctx context.Context, groupID, memberID string) error
}

// CodeGenerator produces candidate invite codes.
type CodeGenerator interface {
	Generate() string
}

// DefaultMaxCodeAttempts bounds invite code regeneration on collision.
const DefaultMaxCodeAttempts = 8

// StoreConfig tunes a Store.
type StoreConfig struct {
	MaxCodeAttempts int
	NowFunc         func() time.Time
	IDFunc          func() string
}

// Store coordinates group lifecycle operations on top of a Repository.
type Store struct {
	repo        Repository
	codes       CodeGenerator
	maxAttempts int
	now         func() time.Time
	newID       func() string
}

// NewStore constructs a Store. A nil generator falls back to the default
// invite code length.
func NewStore(repo Repository, codes CodeGenerator, cfg StoreConfig) *Store {
	if repo == nil {
		panic("groups: repository must not be nil")
	}
	if codes == nil {
		codes = invites.NewGenerator(invites.DefaultLength)
	}
	if cfg.MaxCodeAttempts <= 0 {
		cfg.MaxCodeAttempts = DefaultMaxCodeAttempts
	}
	if cfg.NowFunc == nil {
		cfg.NowFunc = func() time.Time { return time.Now().UTC() }
	}
	if cfg.IDFunc == nil {
		cfg.IDFunc = uuid.NewString
	}
	return &Store{
		repo:        repo,
		codes:       codes,
		maxAttempts: cfg.MaxCodeAttempts,
		now:         cfg.NowFunc,
		newID:       cfg.IDFunc,
	}
}

// CreateGroup creates a group owned by creator, who becomes its first member.
func (s *Store) CreateGroup(ctx context.Context, name string, creator models.Member) (models.Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Group{}, fmt.Errorf("%w: name is required", ErrInvalidRequest)
	}
	creator, err := normalizeMember(creator)
	if err != nil {
		return models.Group{}, err
	}

	logger := logging.FromContext(ctx)
	now := s.now()
	creator.JoinedAt = now

	group := models.Group{
		ID:        s.newID(),
		Name:      name,
		Members:   []models.Member{creator},
		CreatedAt: now,
	}

	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		group.InviteCode = invites.Canonicalize(s.codes.Generate())

		err := s.repo.CreateGroup(ctx, group)
		if err == nil {
			logger.Info("group created", slog.String("groupId", group.ID), slog.String("creatorId", creator.ID), slog.Int("codeAttempts", attempt))
			return group, nil
		}
		if !errors.Is(err, repositories.ErrConflict) {
			return models.Group{}, fmt.Errorf("create group: %w", err)
		}
		logger.Debug("invite code collision", slog.Int("attempt", attempt))
	}

	logger.Error("invite code space exhausted", slog.Int("attempts", s.maxAttempts))
	return models.Group{}, fmt.Errorf("%w after %d attempts", ErrCodeSpaceExhausted, s.maxAttempts)
}

// JoinByInviteCode adds member to the group owning code. Joining a group the
// member already belongs to returns that group unchanged.
func (s *Store) JoinByInviteCode(ctx context.Context, code string, member models.Member) (models.Group, error) {
	code = invites.Canonicalize(code)
	if code == "" {
		return models.Group{}, fmt.Errorf("%w: invite code is required", ErrInvalidRequest)
	}
	member, err := normalizeMember(member)
	if err != nil {
		return models.Group{}, err
	}
	if !invites.Valid(code) {
		return models.Group{}, ErrNotFound
	}
	member.JoinedAt = s.now()

	group, err := s.repo.JoinByInviteCode(ctx, code, member)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return models.Group{}, ErrNotFound
		}
		return models.Group{}, fmt.Errorf("join group: %w", err)
	}

	logging.FromContext(ctx).Info("member joined group", slog.String("groupId", group.ID), slog.String("memberId", member.ID))
	return group, nil
}

// ListGroupsForMember returns every group memberID belongs to, oldest first.
func (s *Store) ListGroupsForMember(ctx context.Context, memberID string) ([]models.Group, error) {
	memberID = strings.TrimSpace(memberID)
	if memberID == "" {
		return nil, fmt.Errorf("%w: member id is required", ErrInvalidRequest)
	}
	groups, err := s.repo.ListGroupsForMember(ctx, memberID)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	return groups, nil
}

// GetGroup loads a single group with its members.
func (s *Store) GetGroup(ctx context.Context, groupID string) (models.Group, error) {
	groupID = strings.TrimSpace(groupID)
	if groupID == "" {
		return models.Group{}, fmt.Errorf("%w: group id is required", ErrInvalidRequest)
	}
	group, err := s.repo.GetGroup(ctx, groupID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return models.Group{}, ErrNotFound
		}
		return models.Group{}, fmt.Errorf("get group: %w", err)
	}
	return group, nil
}

// LeaveGroup removes memberID from the group. Leaving a group one is not part
// of is a no-op, and an emptied group is kept.
func (s *Store) LeaveGroup(ctx context.Context, groupID, memberID string) error {
	groupID = strings.TrimSpace(groupID)
	memberID = strings.TrimSpace(memberID)
	if groupID == "" || memberID == "" {
		return fmt.Errorf("%w: group id and member id are required", ErrInvalidRequest)
	}
	if err := s.repo.RemoveMember(ctx, groupID, memberID); err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("leave group: %w", err)
	}
	logging.FromContext(ctx).Info("member left group", slog.String("groupId", groupID), slog.String("memberId", memberID))
	return nil
}

func normalizeMember(m models.Member) (models.Member, error) {
	m.ID = strings.TrimSpace(m.ID)
	m.DisplayName = strings.TrimSpace(m.DisplayName)
	m.AvatarURL = strings.TrimSpace(m.AvatarURL)
	if m.ID == "" {
		return models.Member{}, fmt.Errorf("%w: member id is required", ErrInvalidRequest)
	}
	if m.DisplayName == "" {
		m.DisplayName = m.ID
	}
	return m, nil
}
