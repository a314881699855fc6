package session

import "time"

// DefaultIdleTimeout 空闲阈值默认值 / default stream-silence threshold.
const DefaultIdleTimeout = 5 * time.Minute

// Watchdog 可重置的空闲计时器：每收到一个事件就 Reset，一个会话一个
// Watchdog is the reschedulable idle timer, one per active session. Reset on
// every stream event; C fires after d of silence.
type Watchdog struct {
	d     time.Duration
	timer *time.Timer
}

// NewWatchdog arms a watchdog with the given idle threshold.
func NewWatchdog(d time.Duration) *Watchdog {
	if d <= 0 {
		d = DefaultIdleTimeout
	}
	return &Watchdog{d: d, timer: time.NewTimer(d)}
}

// C fires once the stream has been silent for the full threshold.
func (w *Watchdog) C() <-chan time.Time { return w.timer.C }

// Reset re-arms the timer. The drain keeps a stale expiry from leaking into
// the next wait.
func (w *Watchdog) Reset() {
	if !w.timer.Stop() {
		select {
		case <-w.timer.C:
		default:
		}
	}
	w.timer.Reset(w.d)
}

// Stop releases the timer on terminal transitions.
func (w *Watchdog) Stop() {
	w.timer.Stop()
}
