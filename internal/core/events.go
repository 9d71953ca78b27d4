package core

// events.go publishes session and job lifecycle events.
//
// The Service sends every event to its Notifier. JobHub is the in-process
// notifier that fans job snapshots out to subscribers (the SSE endpoint);
// external notifiers such as NATS are combined with it via MultiNotifier.

import (
	"context"
	"errors"
	"sync"
	"time"
)

// EventType names a lifecycle event.
type EventType string

const (
	EventSessionCreated EventType = "session.created"
	EventJobCreated     EventType = "job.created"
	EventJobProgress    EventType = "job.progress"
	EventJobCompleted   EventType = "job.completed"
	EventJobFailed      EventType = "job.failed"
	EventJobCancelled   EventType = "job.cancelled"
)

// Event is one lifecycle notification.
type Event struct {
	Type      EventType          `json:"type"`
	Module    string             `json:"module"`
	SessionID string             `json:"sessionId,omitempty"`
	Job       *Job               `json:"job,omitempty"`
	Summary   *ValidationSummary `json:"summary,omitempty"`
	Requester *Requester         `json:"requester,omitempty"`
	Time      time.Time          `json:"time"`
}

// jobEvent maps a terminal or in-flight job status to its event type.
func jobEvent(status JobStatus) EventType {
	switch status {
	case JobCompleted:
		return EventJobCompleted
	case JobFailed:
		return EventJobFailed
	case JobCancelled:
		return EventJobCancelled
	case JobPending:
		return EventJobCreated
	default:
		return EventJobProgress
	}
}

// Notifier receives lifecycle events. Notify must not block for long; it is
// called from job goroutines between batches.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, ev Event) error

// Notify calls f.
func (f NotifierFunc) Notify(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

// MultiNotifier sends each event to every notifier and joins their errors.
type MultiNotifier []Notifier

// Notify implements Notifier.
func (m MultiNotifier) Notify(ctx context.Context, ev Event) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// JobHub fans job snapshots out to per-job subscribers.
// Subscriber channels are closed once the job reaches a terminal state.
type JobHub struct {
	mu   sync.Mutex
	subs map[string][]chan Job
}

// NewJobHub creates an empty hub.
func NewJobHub() *JobHub {
	return &JobHub{subs: make(map[string][]chan Job)}
}

// Subscribe registers for snapshots of jobID. The returned function
// unsubscribes; it is safe to call after the channel was closed.
func (h *JobHub) Subscribe(jobID string) (<-chan Job, func()) {
	ch := make(chan Job, 16)

	h.mu.Lock()
	h.subs[jobID] = append(h.subs[jobID], ch)
	h.mu.Unlock()

	return ch, func() { h.remove(jobID, ch) }
}

func (h *JobHub) remove(jobID string, ch chan Job) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.subs[jobID]
	for i, c := range subs {
		if c == ch {
			close(c)
			h.subs[jobID] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(h.subs[jobID]) == 0 {
		delete(h.subs, jobID)
	}
}

// Notify implements Notifier. Slow subscribers miss intermediate snapshots
// but always get the terminal one, since the channel is closed after it.
func (h *JobHub) Notify(_ context.Context, ev Event) error {
	if ev.Job == nil {
		return nil
	}
	job := *ev.Job

	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.subs[job.ID]
	for _, ch := range subs {
		select {
		case ch <- job:
		default:
			if job.Status.Terminal() {
				// Make room for the final state.
				select {
				case <-ch:
				default:
				}
				ch <- job
			}
		}
	}
	if job.Status.Terminal() {
		for _, ch := range subs {
			close(ch)
		}
		delete(h.subs, job.ID)
	}
	return nil
}

// Subscribers returns the number of subscribers for jobID.
func (h *JobHub) Subscribers(jobID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[jobID])
}
