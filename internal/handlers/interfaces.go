package handlers

import (
	"context"

	"github.com/vidfriends/groupcast/internal/broadcast"
	"github.com/vidfriends/groupcast/internal/membership"
	"github.com/vidfriends/groupcast/internal/models"
)

// GroupService captures the group operations exposed over HTTP.
type GroupService interface {
	CreateGroup(ctx context.Context, name string, creator models.Member) (models.Group, error)
	JoinByInviteCode(ctx context.Context, code string, member models.Member) (models.Group, error)
	ListGroupsForMember(ctx context.Context, memberID string) ([]models.Group, error)
	GetGroup(ctx context.Context, groupID string) (models.Group, error)
	LeaveGroup(ctx context.Context, groupID, memberID string) error
}

// Broadcaster sends media to groups and retries failed targets.
type Broadcaster interface {
	Send(ctx context.Context, req broadcast.Request) (broadcast.Outcome, error)
	Retry(ctx context.Context, req broadcast.RetryRequest) (broadcast.Outcome, error)
}

// StatusTracker derives per-member posting status.
type StatusTracker interface {
	GroupStatuses(ctx context.Context, group models.Group, window membership.Window) ([]membership.MemberStatus, error)
}
