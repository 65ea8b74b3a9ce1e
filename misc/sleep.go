package misc

import (
	"time"
)

// SleepRetry pauses the calling goroutine for the duration of one reconnect
// interval, or until the stop channel closes, whichever happens first. It
// returns false when the sleep was cut short by stop.
func SleepRetry(interval time.Duration, stop <-chan struct{}) bool {
	if stop == nil {
		time.Sleep(interval)
		return true
	}
	select {
	case <-time.After(interval):
		return true
	case <-stop:
		return false
	}
}
