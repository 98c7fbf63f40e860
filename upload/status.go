package upload

import (
	"sync"

	"github.com/bitrise-io/go-utils/v2/log"
)

// Phase ...
type Phase int

const (
	PhaseStarted Phase = iota
	PhaseFinishedSuccessfully
	PhaseFinishedWithError
)

func (p Phase) String() string {
	switch p {
	case PhaseStarted:
		return "started"
	case PhaseFinishedSuccessfully:
		return "finishedSuccessfully"
	case PhaseFinishedWithError:
		return "finishedWithError"
	default:
		return "unknown"
	}
}

// Status is emitted by a Process while it uploads a measurement. Err is set for PhaseFinishedWithError.
type Status struct {
	ID    Identifier
	Phase Phase
	Err   error
}

// Subscription receives the statuses published after it was created. A status is dropped
// for a subscriber whose buffer is full, publishing never waits for a reader.
// C is never closed.
type Subscription struct {
	C <-chan Status

	c    chan Status
	done chan struct{}
	once sync.Once
	hub  *statusHub
}

// Cancel detaches the subscription.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		close(s.done)
		s.hub.remove(s)
	})
}

type statusHub struct {
	logger log.Logger

	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

func newStatusHub(logger log.Logger) *statusHub {
	return &statusHub{logger: logger, subs: map[*Subscription]struct{}{}}
}

func (h *statusHub) subscribe(buffer int) *Subscription {
	if buffer < 0 {
		buffer = 0
	}
	c := make(chan Status, buffer)
	sub := &Subscription{C: c, c: c, done: make(chan struct{}), hub: h}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs[sub] = struct{}{}

	return sub
}

func (h *statusHub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs, sub)
}

// publish hands status to every subscriber with room in its buffer and returns the number of
// subscribers which missed it.
func (h *statusHub) publish(status Status) int {
	h.mu.Lock()
	subs := make([]*Subscription, 0, len(h.subs))
	for sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	dropped := 0
	for _, sub := range subs {
		select {
		case <-sub.done:
			continue
		default:
		}

		select {
		case sub.c <- status:
		default:
			dropped++
		}
	}

	if dropped > 0 {
		h.logger.Warnf("Dropped %s status of measurement %s for %d slow subscriber(s)", status.Phase, status.ID, dropped)
	}
	return dropped
}
