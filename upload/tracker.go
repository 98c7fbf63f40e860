package upload

import (
	"sync"

	"github.com/bitrise-io/go-utils/v2/analytics"
)

const trackerBuffer = 64

// StatusTracker forwards upload status events to an analytics tracker.
type StatusTracker struct {
	tracker analytics.Tracker
	sub     *Subscription
	done    chan struct{}
	exited  chan struct{}
	once    sync.Once
}

// TrackStatus starts forwarding the status events of the process to tracker until Stop is called.
func TrackStatus(process *Process, tracker analytics.Tracker) *StatusTracker {
	t := &StatusTracker{
		tracker: tracker,
		sub:     process.Subscribe(trackerBuffer),
		done:    make(chan struct{}),
		exited:  make(chan struct{}),
	}
	go t.loop()
	return t
}

func (t *StatusTracker) loop() {
	defer close(t.exited)

	for {
		select {
		case <-t.done:
			t.flush()
			return
		case status := <-t.sub.C:
			t.enqueue(status)
		}
	}
}

// flush forwards the events published before the subscription was cancelled.
func (t *StatusTracker) flush() {
	for {
		select {
		case status := <-t.sub.C:
			t.enqueue(status)
		default:
			return
		}
	}
}

func (t *StatusTracker) enqueue(status Status) {
	t.tracker.Enqueue(eventName(status.Phase), statusProperties(status))
}

// Stop detaches from the process, forwards the events still buffered and waits for the
// tracker to flush its queue. It is safe to call Stop more than once.
func (t *StatusTracker) Stop() {
	t.once.Do(func() {
		t.sub.Cancel()
		close(t.done)
		<-t.exited
		t.tracker.Wait()
	})
}

func eventName(phase Phase) string {
	switch phase {
	case PhaseStarted:
		return "measurement_upload_started"
	case PhaseFinishedSuccessfully:
		return "measurement_upload_succeeded"
	default:
		return "measurement_upload_failed"
	}
}

func statusProperties(status Status) analytics.Properties {
	p := analytics.Properties{
		"device_id":      status.ID.DeviceID.String(),
		"measurement_id": status.ID.MeasurementID,
		"phase":          status.Phase.String(),
	}
	if status.Err != nil {
		p["error"] = status.Err.Error()
	}
	return p
}
