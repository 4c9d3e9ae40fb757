package journal

import (
	"sync"
	"time"
)

// IdleDetector fires its callback once no final transcript has arrived for
// the configured timeout. A zero timeout disables it.
type IdleDetector struct {
	timeout time.Duration
	mu      sync.Mutex
	timer   *time.Timer
	onIdle  func()
}

func NewIdleDetector(timeout time.Duration) *IdleDetector {
	return &IdleDetector{timeout: timeout}
}

func (d *IdleDetector) OnIdle(callback func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onIdle = callback
}

// Arm starts the countdown, restarting it if already running.
func (d *IdleDetector) Arm() {
	if d == nil || d.timeout <= 0 {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}

	var timer *time.Timer
	timer = time.AfterFunc(d.timeout, func() {
		d.mu.Lock()
		if d.timer != timer {
			d.mu.Unlock()
			return
		}
		callback := d.onIdle
		d.timer = nil
		d.mu.Unlock()

		if callback != nil {
			callback()
		}
	})
	d.timer = timer
}

func (d *IdleDetector) Disarm() {
	if d == nil {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
