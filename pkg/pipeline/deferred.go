package pipeline

// deferred is a one-shot action scheduled on the wrapping microsecond clock.
type deferred struct {
	at    uint32
	armed bool
}

func (d *deferred) schedule(nowMicros, delay uint32) {
	d.at = nowMicros + delay
	d.armed = true
}

func (d *deferred) cancel() {
	d.armed = false
}

// due fires once when nowMicros reaches the scheduled time.
func (d *deferred) due(nowMicros uint32) bool {
	if !d.armed || int32(nowMicros-d.at) < 0 {
		return false
	}
	d.armed = false
	return true
}

// limiter lets one event through per interval.
type limiter struct {
	every   uint32
	last    uint32
	started bool
}

func (l *limiter) allow(nowMicros uint32) bool {
	if l.started && nowMicros-l.last < l.every {
		return false
	}
	l.started = true
	l.last = nowMicros
	return true
}
