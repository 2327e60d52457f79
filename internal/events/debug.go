package events

import "sync/atomic"

// debugClock tracks the server time anchor used for debugEventsUntilDate
// expiry: the most recently observed value of the events endpoint's
// Date header, retained across flushes per the flush-cycle rule that
// debug events fire only while debugUntil exceeds both the client's
// own clock and the last-known server clock.
type debugClock struct {
	lastKnownServerMillis int64 // atomic
}

func (d *debugClock) observeServerTime(millis int64) {
	if millis <= 0 {
		return
	}
	atomic.StoreInt64(&d.lastKnownServerMillis, millis)
}

// shouldEmitDebug reports whether a debug event should fire for a flag
// whose debugEventsUntilDate is debugUntil, given the client's own
// current time nowMillis.
func (d *debugClock) shouldEmitDebug(debugUntil *int64, nowMillis int64) bool {
	if debugUntil == nil {
		return false
	}
	serverMillis := atomic.LoadInt64(&d.lastKnownServerMillis)
	reference := nowMillis
	if serverMillis > reference {
		reference = serverMillis
	}
	return *debugUntil > reference
}
