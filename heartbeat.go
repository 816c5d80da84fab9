package amaterasu

import "time"

// heartbeatController owns the repeating timer keyed to the negotiated
// interval. All methods run on the engine's run goroutine; the ticker's
// channel is selected there, so ticks never interleave with dispatches.
type heartbeatController struct {
	interval    time.Duration
	ticker      *time.Ticker
	lastSent    time.Time
	lastAck     time.Time
	awaitingAck bool
}

func newHeartbeatController(interval time.Duration) *heartbeatController {
	return &heartbeatController{
		interval: interval,
		ticker:   time.NewTicker(interval),
		lastAck:  time.Now().UTC(),
	}
}

// tickC is nil after stop, which removes the case from the run loop's
// select entirely.
func (h *heartbeatController) tickC() <-chan time.Time {
	if h == nil || h.ticker == nil {
		return nil
	}
	return h.ticker.C
}

// beat records an outbound heartbeat. The next tick that still finds
// awaitingAck set means the connection zombied.
func (h *heartbeatController) beat() {
	if h == nil {
		return
	}
	h.lastSent = time.Now().UTC()
	h.awaitingAck = true
}

// ack clears the pending flag on a heartbeat-ack frame. Nil-safe: the
// platform may ack before hello configured the controller.
func (h *heartbeatController) ack() {
	if h == nil {
		return
	}
	h.awaitingAck = false
	h.lastAck = time.Now().UTC()
}

// zombied reports whether the previous heartbeat is still unacknowledged
// at tick time.
func (h *heartbeatController) zombied() bool {
	return h != nil && h.awaitingAck
}

func (h *heartbeatController) stop() {
	if h != nil && h.ticker != nil {
		h.ticker.Stop()
		h.ticker = nil
	}
}
