package misc

import (
	"sync"
	"time"

	"github.com/seamux/seamux/sealog"
)

// RateLimit counts hits from each source ("actor") within a fixed window to
// decide whether a source is hitting too often. The counters are reset when
// the window elapses rather than rolling.
// Call Initialise before use.
type RateLimit struct {
	UnitSecs int64
	MaxCount int
	Logger   sealog.Logger

	windowStart int64
	counter     map[string]int
	logged      map[string]struct{}
	mutex       sync.Mutex
}

// Initialise the rate limiter's internal state.
func (limit *RateLimit) Initialise() {
	if limit.UnitSecs < 1 || limit.MaxCount < 1 {
		limit.Logger.Abort("Initialise", "RateLimit", nil, "UnitSecs and MaxCount must be greater than 0")
		return
	}
	limit.counter = make(map[string]int)
	limit.logged = make(map[string]struct{})
}

// Add increases the actor's hit counter by one. It returns false when the
// actor has exhausted its budget for the current window.
func (limit *RateLimit) Add(actor string, logIfLimitHit bool) bool {
	limit.mutex.Lock()
	defer limit.mutex.Unlock()
	if now := time.Now().Unix(); now-limit.windowStart >= limit.UnitSecs {
		limit.counter = make(map[string]int)
		limit.logged = make(map[string]struct{})
		limit.windowStart = now
	}
	if limit.counter[actor] >= limit.MaxCount {
		if _, already := limit.logged[actor]; !already && logIfLimitHit {
			limit.Logger.Warning("Add", actor, nil, "exceeded limit of %d hits per %d seconds", limit.MaxCount, limit.UnitSecs)
			limit.logged[actor] = struct{}{}
		}
		return false
	}
	limit.counter[actor]++
	return true
}
