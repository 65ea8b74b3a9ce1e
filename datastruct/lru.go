package datastruct

import (
	"sync"
)

// RecentKeys remembers a bounded set of string keys and evicts the key that
// was seen the longest time ago when the bound is reached. It is used to
// suppress repeated occurrences of noisy keys, e.g. warning log actors.
type RecentKeys struct {
	capacity int
	clock    uint64
	lastSeen map[string]uint64
	mutex    sync.Mutex
}

// NewRecentKeys returns an initialised buffer remembering up to capacity keys.
func NewRecentKeys(capacity int) *RecentKeys {
	if capacity < 1 {
		panic("NewRecentKeys: capacity must be greater than 0")
	}
	return &RecentKeys{capacity: capacity, lastSeen: make(map[string]uint64)}
}

// Touch records the key as just seen. The return value tells whether the key
// was already being remembered.
func (rk *RecentKeys) Touch(key string) (known bool) {
	rk.mutex.Lock()
	defer rk.mutex.Unlock()
	rk.clock++
	if _, known = rk.lastSeen[key]; !known && len(rk.lastSeen) == rk.capacity {
		var oldestKey string
		var oldestSeen uint64
		first := true
		for k, seen := range rk.lastSeen {
			if first || seen < oldestSeen {
				oldestKey, oldestSeen = k, seen
				first = false
			}
		}
		delete(rk.lastSeen, oldestKey)
	}
	rk.lastSeen[key] = rk.clock
	return
}

// Forget removes the key, allowing its next Touch to report it as new.
func (rk *RecentKeys) Forget(key string) {
	rk.mutex.Lock()
	defer rk.mutex.Unlock()
	delete(rk.lastSeen, key)
}

// Len returns the number of keys currently remembered.
func (rk *RecentKeys) Len() int {
	rk.mutex.Lock()
	defer rk.mutex.Unlock()
	return len(rk.lastSeen)
}
