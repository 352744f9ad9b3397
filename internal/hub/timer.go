package hub

import (
	"sync"
	"time"
)

// scheduledTask is a cancelable one-shot timer bound to a record. The
// callback is posted as a command, so it runs on the hub goroutine and
// must re-check registry presence before acting; cancellation after the
// timer fired is therefore harmless.
type scheduledTask struct {
	stopCh   chan struct{}
	stopOnce sync.Once
}

func (t *scheduledTask) cancel() {
	t.stopOnce.Do(func() { close(t.stopCh) })
}

// schedule posts cmd to the hub after delay unless the task is canceled
// or the hub shuts down first.
func (h *Hub) schedule(delay time.Duration, cmd hubCmd) *scheduledTask {
	task := &scheduledTask{stopCh: make(chan struct{})}
	timer := h.clock.NewTimer(delay)

	go func() {
		defer timer.Stop()
		select {
		case <-timer.Chan():
			// Cancellation wins over a fire racing it.
			select {
			case <-task.stopCh:
			default:
				h.post(cmd)
			}
		case <-task.stopCh:
		case <-h.done:
		}
	}()

	return task
}
