package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/vidfriends/groupcast/internal/groups"
	"github.com/vidfriends/groupcast/internal/logging"
	"github.com/vidfriends/groupcast/internal/membership"
	"github.com/vidfriends/groupcast/internal/models"
)

// GroupHandler provides group creation, membership and status endpoints.
type GroupHandler struct {
	Groups      GroupService
	Statuses    StatusTracker
	Windows     membership.WindowProvider
	JoinLimiter RateLimiter
	NowFunc     func() time.Time
}

type memberPayload struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl"`
}

func (m memberPayload) toModel(now time.Time) models.Member {
	return models.Member{
		ID:          strings.TrimSpace(m.ID),
		DisplayName: strings.TrimSpace(m.DisplayName),
		AvatarURL:   strings.TrimSpace(m.AvatarURL),
		JoinedAt:    now,
	}
}

type createGroupRequest struct {
	Name    string        `json:"name"`
	Creator memberPayload `json:"creator"`
}

type joinGroupRequest struct {
	InviteCode string        `json:"inviteCode"`
	Member     memberPayload `json:"member"`
}

type leaveGroupRequest struct {
	GroupID  string `json:"groupId"`
	MemberID string `json:"memberId"`
}

type groupResponse struct {
	Group models.Group `json:"group"`
}

type groupsResponse struct {
	Groups []models.Group `json:"groups"`
}

type memberStatusResponse struct {
	Member            models.Member     `json:"member"`
	Status            membership.Status `json:"status"`
	HasPostedThisWeek bool              `json:"hasPostedThisWeek"`
}

type groupStatusResponse struct {
	GroupID string                 `json:"groupId"`
	Window  membership.Window      `json:"window"`
	Members []memberStatusResponse `json:"members"`
}

// Collection handles GET (list for member) and POST (create) on /api/v1/groups.
func (h GroupHandler) Collection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.list(w, r)
	case http.MethodPost:
		h.create(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h GroupHandler) create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req createGroupRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(ctx, w, http.StatusBadRequest, err.Error())
		return
	}

	group, err := h.Groups.CreateGroup(ctx, req.Name, req.Creator.toModel(h.now()))
	if err != nil {
		h.respondGroupError(w, r, err)
		return
	}

	respondJSON(ctx, w, http.StatusCreated, groupResponse{Group: group})
}

func (h GroupHandler) list(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	memberID := strings.TrimSpace(r.URL.Query().Get("memberId"))
	if memberID == "" {
		respondError(ctx, w, http.StatusBadRequest, "memberId is required")
		return
	}

	list, err := h.Groups.ListGroupsForMember(ctx, memberID)
	if err != nil {
		h.respondGroupError(w, r, err)
		return
	}
	if list == nil {
		list = []models.Group{}
	}

	respondJSON(ctx, w, http.StatusOK, groupsResponse{Groups: list})
}

// Join handles POST /api/v1/groups/join.
func (h GroupHandler) Join(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()

	if !allowRequest(h.JoinLimiter, r, "join") {
		respondError(ctx, w, http.StatusTooManyRequests, "too many join attempts, try again later")
		return
	}

	var req joinGroupRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(ctx, w, http.StatusBadRequest, err.Error())
		return
	}

	group, err := h.Groups.JoinByInviteCode(ctx, req.InviteCode, req.Member.toModel(h.now()))
	if err != nil {
		h.respondGroupError(w, r, err)
		return
	}

	respondJSON(ctx, w, http.StatusOK, groupResponse{Group: group})
}

// Leave handles POST /api/v1/groups/leave.
func (h GroupHandler) Leave(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()

	var req leaveGroupRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(ctx, w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.Groups.LeaveGroup(ctx, req.GroupID, req.MemberID); err != nil {
		h.respondGroupError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Status handles GET /api/v1/groups/status. An optional RFC 3339 "at"
// parameter selects the window containing that instant.
func (h GroupHandler) Status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()

	groupID := strings.TrimSpace(r.URL.Query().Get("groupId"))
	if groupID == "" {
		respondError(ctx, w, http.StatusBadRequest, "groupId is required")
		return
	}

	at := h.now()
	if raw := r.URL.Query().Get("at"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			respondError(ctx, w, http.StatusBadRequest, "at must be an RFC 3339 timestamp")
			return
		}
		at = parsed
	}

	group, err := h.Groups.GetGroup(ctx, groupID)
	if err != nil {
		h.respondGroupError(w, r, err)
		return
	}

	window := h.Windows.WindowAt(at)
	statuses, err := h.Statuses.GroupStatuses(ctx, group, window)
	if err != nil {
		logging.FromContext(ctx).Error("derive member statuses", "groupId", groupID, "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "unable to load member status")
		return
	}

	members := make([]memberStatusResponse, 0, len(statuses))
	for _, s := range statuses {
		members = append(members, memberStatusResponse{
			Member:            s.Member,
			Status:            s.Status,
			HasPostedThisWeek: s.HasPostedThisWeek(),
		})
	}

	respondJSON(ctx, w, http.StatusOK, groupStatusResponse{GroupID: group.ID, Window: window, Members: members})
}

func (h GroupHandler) respondGroupError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	switch {
	case errors.Is(err, groups.ErrInvalidRequest):
		respondError(ctx, w, http.StatusBadRequest, err.Error())
	case errors.Is(err, groups.ErrNotFound):
		respondError(ctx, w, http.StatusNotFound, "group not found")
	case errors.Is(err, groups.ErrCodeSpaceExhausted):
		respondError(ctx, w, http.StatusServiceUnavailable, "unable to allocate an invite code")
	default:
		logging.FromContext(ctx).Error("group operation failed", "path", r.URL.Path, "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "internal error")
	}
}

func (h GroupHandler) now() time.Time {
	if h.NowFunc != nil {
		return h.NowFunc()
	}
	return time.Now().UTC()
}
