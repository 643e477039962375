package httpbridge

import (
	"fmt"
	"math"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// RateLimiter enforces sliding-window connection budgets per remote host.
// Grounded on the teacher's catrate package, narrowed from its generic
// "any category" interface to the one thing httpbridge needs: bucketing
// inbound WebSocket dials by the string remoteAddr returns.
type RateLimiter struct {
	running   *int32
	rates     map[time.Duration]int
	hosts     sync.Map
	retention time.Duration
	mu        sync.RWMutex
}

// noNextDial marks a hostDials with no pending rate-limit deadline.
const noNextDial = math.MinInt64

type hostDials struct {
	// window[0] is the next allowed dial, or noNextDial if none pending.
	// window[1] is the last time this host dialed, used to age out cleanup.
	window [2]int64
	dials  *dialRing
	mu     sync.Mutex
}

var dialPool = sync.Pool{New: func() any {
	return &hostDials{dials: newDialRing(8)}
}}

// for testing purposes
var (
	timeNow       = time.Now
	timeNewTicker = time.NewTicker
)

// NewRateLimiter builds a limiter with one sliding window per rate entry,
// e.g. {time.Second: 5, time.Minute: 60}. It panics if a duration or count
// is non-positive, or a shorter window doesn't bound tighter than a longer
// one (the same monotonicity the teacher's NewLimiter requires).
func NewRateLimiter(rates map[time.Duration]int) *RateLimiter {
	retention, ok := parseDialRates(rates)
	if !ok {
		panic(fmt.Errorf("httpbridge: invalid connection rates: %v", rates))
	}
	return &RateLimiter{running: new(int32), rates: rates, retention: retention}
}

func (x *RateLimiter) ok() bool { return x != nil && len(x.rates) != 0 }

// Allow registers a dial attempt from host, returning false if it would
// exceed any configured window. The returned time is when host may dial
// again; it is the zero value if another dial is immediately allowed.
func (x *RateLimiter) Allow(host string) (time.Time, bool) {
	if !x.ok() {
		return time.Time{}, true
	}

	// avoid racing with cleanup
	x.mu.RLock()
	defer x.mu.RUnlock()

	now := timeNow()
	nowUnixNano := now.UnixNano()

	if atomic.CompareAndSwapInt32(x.running, 0, 1) {
		go x.sweep()
	}

	var (
		data   *hostDials
		loaded bool
	)
	{
		pooled := dialPool.Get().(*hostDials)
		pooled.window = [2]int64{noNextDial, nowUnixNano}
		pooled.mu.Lock()

		var value any
		value, loaded = x.hosts.LoadOrStore(host, pooled)
		if loaded {
			pooled.mu.Unlock()
			dialPool.Put(pooled)
			data = value.(*hostDials)
		} else {
			defer pooled.mu.Unlock()
			data = pooled
		}
	}

	if next := data.loadNext(); next != noNextDial && nowUnixNano < next {
		return time.Unix(0, next), false
	}

	if loaded {
		data.mu.Lock()
		defer data.mu.Unlock()

		if next := data.loadNext(); next != noNextDial && nowUnixNano < next {
			return time.Unix(0, next), false
		}
		if data.loadRecent() < nowUnixNano {
			data.storeRecent(nowUnixNano)
		}
	}

	data.dials.Insert(data.dials.Search(nowUnixNano), nowUnixNano)

	remaining := filterDials(now, x.rates, data.dials)
	if remaining <= 0 {
		data.storeNext(noNextDial)
		return time.Time{}, true
	}

	next := now.Add(remaining)
	data.storeNext(next.UnixNano())
	return next, true
}

// sweep periodically evicts hosts that have gone idle past the retention
// window, stopping itself once no host remains.
func (x *RateLimiter) sweep() {
	var stale []string

	ticker := timeNewTicker(time.Duration(math.Max(
		float64(x.retention)*0.5,
		float64(time.Second),
	)))
	defer ticker.Stop()

	for {
		<-ticker.C

		chanceOfStop := true
		x.hosts.Range(func(key, value any) bool {
			if data := value.(*hostDials); data.loadRecent() < x.cleanupThreshold() {
				stale = append(stale, key.(string))
			} else {
				chanceOfStop = false
			}
			return true
		})

		if len(stale) != 0 {
			if x.cleanup(stale, chanceOfStop) {
				return
			}
			stale = stale[:0]
		}
	}
}

func (x *RateLimiter) cleanupThreshold() int64 {
	return timeNow().Add(-x.retention).UnixNano()
}

func (x *RateLimiter) cleanup(stale []string, chanceOfStop bool) (mustStop bool) {
	// avoid racing with Allow
	x.mu.Lock()
	defer x.mu.Unlock()

	threshold := x.cleanupThreshold()

	for _, host := range stale {
		value, ok := x.hosts.Load(host)
		if !ok {
			continue
		}
		data := value.(*hostDials)
		if data.loadRecent() >= threshold {
			chanceOfStop = false
			continue
		}
		x.hosts.Delete(host)
		// https://golang.org/issue/23199
		const maxDialsCap = 1 << 10
		if data.dials.Cap() <= maxDialsCap {
			data.dials.RemoveBefore(data.dials.Len())
			dialPool.Put(data)
		}
	}

	if chanceOfStop {
		x.hosts.Range(func(_, _ any) bool {
			chanceOfStop = false
			return false
		})
		if chanceOfStop {
			*x.running = 0
			return true
		}
	}

	return false
}

func (x *hostDials) loadNext() int64     { return atomic.LoadInt64(&x.window[0]) }
func (x *hostDials) storeNext(v int64)   { atomic.StoreInt64(&x.window[0], v) }
func (x *hostDials) loadRecent() int64   { return atomic.LoadInt64(&x.window[1]) }
func (x *hostDials) storeRecent(v int64) { atomic.StoreInt64(&x.window[1], v) }

// parseDialRates validates rates and calculates the retention duration: the
// largest window with a relevant rate. A relevant rate's count must be
// smaller than any longer window's, and its effective rate (count/duration)
// must be smaller than any shorter window's.
func parseDialRates(rates map[time.Duration]int) (time.Duration, bool) {
	if len(rates) == 0 {
		return 0, false
	}

	windows := make([]time.Duration, 0, len(rates))
	for d := range rates {
		windows = append(windows, d)
	}
	slices.Sort(windows)

	for i, window := range windows {
		count := rates[window]
		if count <= 0 || window <= 0 {
			return 0, false
		}
		if (i < len(windows)-1 && count >= rates[windows[i+1]]) ||
			(i > 0 && float64(count)/float64(window) >= float64(rates[windows[i-1]])/float64(windows[i-1])) {
			return 0, false
		}
	}

	return windows[len(windows)-1], true
}

// filterDials discards dials older than any configured window and reports
// the shortest remaining duration until another dial is allowed, if any
// window's limit has been reached.
func filterDials(now time.Time, rates map[time.Duration]int, dials *dialRing) (remaining time.Duration) {
	indexFirstRelevant := dials.Len()

	for window, limit := range rates {
		if limit <= 0 || window <= 0 {
			continue
		}

		boundary := now.Add(-window)
		index := dials.Search(boundary.UnixNano() + 1)
		if index < indexFirstRelevant {
			indexFirstRelevant = index
		}

		if limit <= dials.Len()-index {
			offset := time.Unix(0, dials.Get(dials.Len()-limit)).Sub(boundary)
			if offset > remaining {
				remaining = offset
			}
		}
	}

	dials.RemoveBefore(indexFirstRelevant)
	return remaining
}

// dialRing is an insertion-sorted ring buffer of UnixNano dial timestamps
// that grows by doubling when full. Specialized to int64 from the teacher's
// generic ringBuffer[E constraints.Ordered] (dropping the golang.org/x/exp
// dependency it pulled in), since a timestamp is the only thing ever
// buffered here; Slice, used only by the teacher's own tests, is dropped.
type dialRing struct {
	s    []int64
	r, w uint
}

func newDialRing(size int) *dialRing {
	if size <= 0 || size&(size-1) != 0 {
		panic("httpbridge: dialRing: size must be a power of 2")
	}
	return &dialRing{s: make([]int64, size)}
}

func (x *dialRing) mask(val uint) uint { return val & (uint(len(x.s)) - 1) }

func (x *dialRing) bounds() (i1, l1, l2 int) {
	if x.r == x.w {
		return
	}
	i1 = int(x.mask(x.r))
	l1 = int(x.mask(x.w))
	if l1 <= i1 {
		l2 = l1
		l1 = len(x.s)
	}
	return
}

func (x *dialRing) Len() int { return int(x.w - x.r) }
func (x *dialRing) Cap() int { return len(x.s) }

func (x *dialRing) Get(i int) int64 {
	if i < 0 || i >= x.Len() {
		panic("httpbridge: dialRing: get: index out of range")
	}
	return x.s[x.mask(x.r+uint(i))]
}

func (x *dialRing) RemoveBefore(index int) {
	if index < 0 || index > x.Len() {
		panic("httpbridge: dialRing: remove before: index out of range")
	}
	x.r += uint(index)
}

func (x *dialRing) Search(value int64) int {
	return sort.Search(x.Len(), func(i int) bool { return x.Get(i) >= value })
}

func (x *dialRing) Insert(index int, value int64) {
	l := x.Len()
	if index < 0 || index > l {
		panic("httpbridge: dialRing: insert: index out of range")
	}

	if l == len(x.s) {
		// full: expand the buffer, copying everything from scratch
		s := make([]int64, uint(len(x.s))<<1)
		if len(s) == 0 {
			panic("httpbridge: dialRing: insert: overflow")
		}

		i1, l1, l2 := x.bounds()
		l = l1 - i1
		if index < l {
			copy(s, x.s[i1:i1+index])
			s[index] = value
			copy(s[index+1:], x.s[i1+index:l1])
			l++
			copy(s[l:], x.s[:l2])
			l += l2
		} else {
			copy(s, x.s[i1:l1])
			copy(s[l:], x.s[:index-l])
			s[index] = value
			copy(s[index+1:], x.s[index-l:l2])
			l += l2 + 1
		}

		x.r = 0
		x.w = uint(l)
		x.s = s
		return
	}

	var i, j int
	if l == 0 {
		x.r = 0
		x.w = 0
	} else {
		i = int(x.mask(x.r))
		j = int(x.mask(x.w))
	}

	if l == 0 || i < j {
		copy(x.s[i+index+1:], x.s[i+index:j])
		x.s[i+index] = value
		x.w++
		return
	}

	if index >= len(x.s)-i {
		index -= len(x.s) - i
		copy(x.s[index+1:], x.s[index:j])
		x.s[index] = value
		x.w++
		return
	}

	copy(x.s[1:], x.s[:j])
	x.s[0] = x.s[len(x.s)-1]
	copy(x.s[i+index+1:], x.s[i+index:])
	x.s[i+index] = value
	x.w++
}
