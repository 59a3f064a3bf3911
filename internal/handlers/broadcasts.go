package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/vidfriends/groupcast/internal/broadcast"
	"github.com/vidfriends/groupcast/internal/logging"
	"github.com/vidfriends/groupcast/internal/models"
)

// BroadcastHandler exposes broadcast send and retry endpoints.
type BroadcastHandler struct {
	Broadcasts Broadcaster
}

type sendBroadcastRequest struct {
	SenderID       string                 `json:"senderId"`
	Caption        string                 `json:"caption"`
	Media          models.MediaDescriptor `json:"media"`
	TargetGroupIDs []string               `json:"targetGroupIds"`
}

type retryBroadcastRequest struct {
	SenderID       string   `json:"senderId"`
	RemoteURL      string   `json:"remoteUrl"`
	Caption        string   `json:"caption"`
	TargetGroupIDs []string `json:"targetGroupIds"`
}

type targetResultResponse struct {
	GroupID     string     `json:"groupId"`
	Status      string     `json:"status"`
	RecordID    string     `json:"recordId,omitempty"`
	Error       string     `json:"error,omitempty"`
	DeliveredAt *time.Time `json:"deliveredAt,omitempty"`
}

type outcomeResponse struct {
	Classification string                 `json:"classification"`
	RemoteURL      string                 `json:"remoteUrl,omitempty"`
	Results        []targetResultResponse `json:"results"`
	FailedTargets  []string               `json:"failedTargets,omitempty"`
	Error          string                 `json:"error,omitempty"`
}

// Send handles POST /api/v1/broadcasts.
func (h BroadcastHandler) Send(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()

	var req sendBroadcastRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(ctx, w, http.StatusBadRequest, err.Error())
		return
	}

	ctx = logging.With(ctx, "senderId", req.SenderID, "targets", len(req.TargetGroupIDs))
	outcome, err := h.Broadcasts.Send(ctx, broadcast.Request{
		SenderID:       req.SenderID,
		Media:          req.Media,
		Caption:        req.Caption,
		TargetGroupIDs: req.TargetGroupIDs,
	})
	h.respondOutcome(w, r, outcome, err)
}

// Retry handles POST /api/v1/broadcasts/retry.
func (h BroadcastHandler) Retry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()

	var req retryBroadcastRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(ctx, w, http.StatusBadRequest, err.Error())
		return
	}

	ctx = logging.With(ctx, "senderId", req.SenderID, "targets", len(req.TargetGroupIDs))
	outcome, err := h.Broadcasts.Retry(ctx, broadcast.RetryRequest{
		SenderID:       req.SenderID,
		RemoteURL:      req.RemoteURL,
		Caption:        req.Caption,
		TargetGroupIDs: req.TargetGroupIDs,
	})
	h.respondOutcome(w, r, outcome, err)
}

func (h BroadcastHandler) respondOutcome(w http.ResponseWriter, r *http.Request, outcome broadcast.Outcome, err error) {
	ctx := r.Context()

	var uploadErr *broadcast.UploadError
	switch {
	case err == nil:
	case errors.Is(err, broadcast.ErrInvalidRequest):
		respondError(ctx, w, http.StatusBadRequest, err.Error())
		return
	case errors.As(err, &uploadErr):
		body := toOutcomeResponse(outcome)
		body.Error = uploadErr.Error()
		respondJSON(ctx, w, http.StatusBadGateway, body)
		return
	default:
		logging.FromContext(ctx).Error("broadcast failed", "error", err)
		respondError(ctx, w, http.StatusInternalServerError, "internal error")
		return
	}

	status := http.StatusOK
	if outcome.Classification != broadcast.AllDelivered {
		status = http.StatusMultiStatus
	}
	respondJSON(ctx, w, status, toOutcomeResponse(outcome))
}

func toOutcomeResponse(outcome broadcast.Outcome) outcomeResponse {
	resp := outcomeResponse{
		Classification: string(outcome.Classification),
		RemoteURL:      outcome.RemoteURL,
		Results:        make([]targetResultResponse, 0, len(outcome.Results)),
		FailedTargets:  outcome.FailedTargets(),
	}
	for _, res := range outcome.Results {
		item := targetResultResponse{
			GroupID:  res.GroupID,
			Status:   string(res.Status),
			RecordID: res.RecordID,
		}
		if res.Err != nil {
			item.Error = res.Err.Error()
		}
		if res.Status == broadcast.Delivered {
			at := res.At
			item.DeliveredAt = &at
		}
		resp.Results = append(resp.Results, item)
	}
	return resp
}
