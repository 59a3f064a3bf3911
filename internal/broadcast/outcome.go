package broadcast

import "time"

// Classification summarises a broadcast outcome.
type Classification string

const (
	AllDelivered       Classification = "all_delivered"
	PartiallyDelivered Classification = "partially_delivered"
	NoneDelivered      Classification = "none_delivered"
	UploadFailed       Classification = "upload_failed"
)

// DeliveryStatus is the state of one delivery attempt.
type DeliveryStatus string

const (
	DeliveryPending DeliveryStatus = "pending"
	Delivered       DeliveryStatus = "delivered"
	DeliveryFailed  DeliveryStatus = "failed"
)

// TargetResult is the outcome of delivering to one group.
type TargetResult struct {
	GroupID  string
	Status   DeliveryStatus
	RecordID string
	Err      error
	At       time.Time
}

// Outcome is the aggregated result of a send or retry. Results follow the
// order of the (deduplicated) target list.
type Outcome struct {
	Classification Classification
	RemoteURL      string
	Results        []TargetResult
}

// Result returns the result for groupID.
func (o Outcome) Result(groupID string) (TargetResult, bool) {
	for _, r := range o.Results {
		if r.GroupID == groupID {
			return r, true
		}
	}
	return TargetResult{}, false
}

// FailedTargets lists the groups a caller may retry.
func (o Outcome) FailedTargets() []string {
	var ids []string
	for _, r := range o.Results {
		if r.Status != Delivered {
			ids = append(ids, r.GroupID)
		}
	}
	return ids
}

// Delivered counts successful deliveries.
func (o Outcome) Delivered() int {
	n := 0
	for _, r := range o.Results {
		if r.Status == Delivered {
			n++
		}
	}
	return n
}

func classify(results []TargetResult) Classification {
	delivered := 0
	for _, r := range results {
		if r.Status == Delivered {
			delivered++
		}
	}
	switch {
	case delivered == len(results):
		return AllDelivered
	case delivered == 0:
		return NoneDelivered
	default:
		return PartiallyDelivered
	}
}

// EventKind identifies a progress event.
type EventKind string

const (
	EventUploadProgress EventKind = "upload_progress"
	EventUploadFinished EventKind = "upload_finished"
	EventDelivery       EventKind = "delivery"
)

// Event is emitted to a request observer while a broadcast runs.
type Event struct {
	Kind      EventKind
	Progress  int
	RemoteURL string
	Result    TargetResult
	Err       error
}
