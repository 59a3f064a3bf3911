package uploads

import (
	"context"
	"sync"
	"time"

	"github.com/vidfriends/groupcast/internal/models"
)

// State is the lifecycle position of an upload task.
type State int

const (
	StatePending State = iota
	StateInProgress
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateInProgress:
		return "in_progress"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Snapshot is a point-in-time view of a task.
type Snapshot struct {
	Fingerprint string
	State       State
	Progress    int
	RemoteURL   string
	Err         error
}

// Task is a single physical upload shared by every caller that acquired the
// same fingerprint. The remote URL is immutable once the task succeeds.
type Task struct {
	fingerprint string
	media       models.MediaDescriptor
	startedAt   time.Time

	// refs is guarded by the owning coordinator's mutex.
	refs   int
	cancel context.CancelFunc

	mu          sync.Mutex
	state       State
	progress    int
	remoteURL   string
	err         error
	subscribers []chan Snapshot
	done        chan struct{}
}

func newTask(fingerprint string, media models.MediaDescriptor) *Task {
	return &Task{
		fingerprint: fingerprint,
		media:       media,
		startedAt:   time.Now(),
		state:       StatePending,
		done:        make(chan struct{}),
	}
}

// Fingerprint returns the task key.
func (t *Task) Fingerprint() string {
	return t.fingerprint
}

// Media returns the descriptor the task was started for.
func (t *Task) Media() models.MediaDescriptor {
	return t.media
}

// Done is closed when the task reaches a terminal state.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Snapshot returns the current state of the task.
func (t *Task) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

// Wait blocks until the task finishes or ctx is done. It returns the remote
// URL on success and the failure cause otherwise.
func (t *Task) Wait(ctx context.Context) (string, error) {
	select {
	case <-t.done:
		snap := t.Snapshot()
		return snap.RemoteURL, snap.Err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Subscribe returns a channel carrying progress snapshots. Intermediate
// values may be skipped when the reader is slow, but the terminal snapshot is
// always delivered before the channel is closed.
func (t *Task) Subscribe() <-chan Snapshot {
	ch := make(chan Snapshot, 1)

	t.mu.Lock()
	defer t.mu.Unlock()

	ch <- t.snapshotLocked()
	if t.state.Terminal() {
		close(ch)
		return ch
	}
	t.subscribers = append(t.subscribers, ch)
	return ch
}

func (t *Task) start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StatePending {
		return
	}
	t.state = StateInProgress
	t.publishLocked()
}

// report records transport progress. Values are clamped to 0..100 and never
// move backwards.
func (t *Task) report(percent int) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.Terminal() || percent <= t.progress {
		return
	}
	t.state = StateInProgress
	t.progress = percent
	t.publishLocked()
}

// finish moves the task into a terminal state. Only the first call wins.
func (t *Task) finish(remoteURL string, err error) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state.Terminal() {
		return false
	}

	if err != nil {
		t.state = StateFailed
		t.err = err
	} else {
		t.state = StateSucceeded
		t.remoteURL = remoteURL
		t.progress = 100
	}

	t.publishLocked()
	for _, ch := range t.subscribers {
		close(ch)
	}
	t.subscribers = nil
	close(t.done)
	return true
}

func (t *Task) publishLocked() {
	snap := t.snapshotLocked()
	for _, ch := range t.subscribers {
		// Only this method sends, so after draining the send cannot block.
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}

func (t *Task) snapshotLocked() Snapshot {
	return Snapshot{
		Fingerprint: t.fingerprint,
		State:       t.state,
		Progress:    t.progress,
		RemoteURL:   t.remoteURL,
		Err:         t.err,
	}
}
