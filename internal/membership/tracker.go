// Package membership derives per-member posting status from delivery history.
package membership

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vidfriends/groupcast/internal/models"
)

// Status is the posting state of a member within a window.
type Status string

const (
	Pending Status = "pending"
	Posted  Status = "posted"
)

// Window is the half-open interval [Start, End).
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Valid reports whether the window is non-empty.
func (w Window) Valid() bool {
	return w.End.After(w.Start)
}

// ErrInvalidWindow is returned for empty or inverted windows.
var ErrInvalidWindow = errors.New("invalid status window")

// History answers questions about delivered content records.
type History interface {
	CountDeliveries(ctx context.Context, groupID, senderID string, start, end time.Time) (int, error)
	PostersBetween(ctx context.Context, groupID string, start, end time.Time) ([]string, error)
}

// MemberStatus pairs a member with its derived status.
type MemberStatus struct {
	Member models.Member `json:"member"`
	Status Status        `json:"status"`
}

// HasPostedThisWeek reports whether the member posted in the queried window.
func (m MemberStatus) HasPostedThisWeek() bool {
	return m.Status == Posted
}

// Tracker reads history on every call; results are never cached.
type Tracker struct {
	history History
}

// NewTracker constructs a Tracker.
func NewTracker(history History) *Tracker {
	return &Tracker{history: history}
}

// StatusFor returns Posted when the member delivered at least one content
// record to the group inside the window.
func (t *Tracker) StatusFor(ctx context.Context, groupID, memberID string, window Window) (Status, error) {
	if !window.Valid() {
		return Pending, ErrInvalidWindow
	}
	n, err := t.history.CountDeliveries(ctx, groupID, memberID, window.Start, window.End)
	if err != nil {
		return Pending, fmt.Errorf("count deliveries: %w", err)
	}
	if n > 0 {
		return Posted, nil
	}
	return Pending, nil
}

// GroupStatuses derives the status of every member of group with a single
// history query. Results follow the group's member order.
func (t *Tracker) GroupStatuses(ctx context.Context, group models.Group, window Window) ([]MemberStatus, error) {
	if !window.Valid() {
		return nil, ErrInvalidWindow
	}
	posters, err := t.history.PostersBetween(ctx, group.ID, window.Start, window.End)
	if err != nil {
		return nil, fmt.Errorf("list posters: %w", err)
	}

	posted := make(map[string]struct{}, len(posters))
	for _, id := range posters {
		posted[id] = struct{}{}
	}

	statuses := make([]MemberStatus, 0, len(group.Members))
	for _, m := range group.Members {
		status := Pending
		if _, ok := posted[m.ID]; ok {
			status = Posted
		}
		statuses = append(statuses, MemberStatus{Member: m, Status: status})
	}
	return statuses, nil
}
