package vm

// Inline caching for Send
//
// Each call site, identified by its code object and instruction index,
// remembers the (class, selector) pairs it has resolved:
//   - most sites see a single receiver class (monomorphic)
//   - some see 2-6 (polymorphic)
//   - a few see many (megamorphic) and always take the full lookup
//
// Cached values are table indices, which the collector may recycle, so
// the whole table is flushed after every collection and every method
// installation.

// CacheState is how many receiver classes a call site has seen.
type CacheState uint8

const (
	CacheEmpty       CacheState = iota // nothing resolved yet
	CacheMonomorphic                   // one entry
	CachePolymorphic                   // up to MaxPICEntries entries
	CacheMegamorphic                   // gave up; every send does a full lookup
)

// MaxPICEntries bounds a polymorphic site before it turns megamorphic.
const MaxPICEntries = 6

// InlineCacheEntry is one resolved (class, selector) pair.
type InlineCacheEntry struct {
	Class    Value // Receiver class
	Selector Value // Interned selector
	Method   Value // Resolved closure
}

// InlineCache is the cache of one Send site. State only moves forward
// until the table is flushed.
type InlineCache struct {
	State   CacheState
	Entries [MaxPICEntries]InlineCacheEntry
	Count   int

	Hits   uint64
	Misses uint64
}

// Lookup checks the cache for a method matching class and sel.
func (ic *InlineCache) Lookup(class, sel Value) (Value, bool) {
	if ic.State == CacheMonomorphic || ic.State == CachePolymorphic {
		for i := 0; i < ic.Count; i++ {
			if e := ic.Entries[i]; e.Class == class && e.Selector == sel {
				ic.Hits++
				return e.Method, true
			}
		}
	}
	ic.Misses++
	return Nil, false
}

// Update records a new (class, selector, method) triple, potentially
// upgrading the cache state.
func (ic *InlineCache) Update(class, sel, method Value) {
	if ic.State == CacheMegamorphic {
		return
	}
	for i := 0; i < ic.Count; i++ {
		if e := ic.Entries[i]; e.Class == class && e.Selector == sel {
			return
		}
	}
	if ic.Count == MaxPICEntries {
		ic.State = CacheMegamorphic
		ic.Entries = [MaxPICEntries]InlineCacheEntry{}
		ic.Count = 0
		return
	}
	ic.Entries[ic.Count] = InlineCacheEntry{Class: class, Selector: sel, Method: method}
	ic.Count++
	if ic.Count == 1 {
		ic.State = CacheMonomorphic
	} else {
		ic.State = CachePolymorphic
	}
}

// HitRate is the percentage of lookups answered from the cache.
func (ic *InlineCache) HitRate() float64 {
	total := ic.Hits + ic.Misses
	if total == 0 {
		return 0
	}
	return float64(ic.Hits) * 100 / float64(total)
}

// Reset empties the cache and its counters.
func (ic *InlineCache) Reset() {
	*ic = InlineCache{}
}

type callSite struct {
	code Value
	ip   int
}

// InlineCacheTable maps call sites to their caches.
type InlineCacheTable struct {
	caches  map[callSite]*InlineCache
	flushes int

	// totals carried across flushes
	hits, misses uint64
}

// NewInlineCacheTable returns an empty table.
func NewInlineCacheTable() *InlineCacheTable {
	return &InlineCacheTable{caches: make(map[callSite]*InlineCache)}
}

// Site returns the cache for the instruction at ip of code, creating one
// if needed.
func (t *InlineCacheTable) Site(code Value, ip int) *InlineCache {
	key := callSite{code, ip}
	if ic := t.caches[key]; ic != nil {
		return ic
	}
	ic := &InlineCache{}
	t.caches[key] = ic
	return ic
}

// Flush drops every call site cache.
func (t *InlineCacheTable) Flush() {
	if len(t.caches) == 0 {
		return
	}
	for _, ic := range t.caches {
		t.hits += ic.Hits
		t.misses += ic.Misses
	}
	clear(t.caches)
	t.flushes++
}

// Len returns the number of call sites with a cache.
func (t *InlineCacheTable) Len() int {
	return len(t.caches)
}

// ICStats summarizes every call site in a table.
type ICStats struct {
	CallSites   int     // Call sites currently cached
	Monomorphic int     // Call sites in monomorphic state
	Polymorphic int     // Call sites in polymorphic state
	Megamorphic int     // Call sites in megamorphic state
	Flushes     int     // Times the table was cleared
	TotalHits   uint64  // Hits, including flushed sites
	TotalMisses uint64  // Misses, including flushed sites
	HitRate     float64 // Overall hit rate percentage
}

// Stats returns aggregate statistics for the table.
func (t *InlineCacheTable) Stats() ICStats {
	s := ICStats{CallSites: len(t.caches), Flushes: t.flushes, TotalHits: t.hits, TotalMisses: t.misses}
	for _, ic := range t.caches {
		switch ic.State {
		case CacheMonomorphic:
			s.Monomorphic++
		case CachePolymorphic:
			s.Polymorphic++
		case CacheMegamorphic:
			s.Megamorphic++
		}
		s.TotalHits += ic.Hits
		s.TotalMisses += ic.Misses
	}
	if total := s.TotalHits + s.TotalMisses; total > 0 {
		s.HitRate = float64(s.TotalHits) * 100 / float64(total)
	}
	return s
}

// CacheStats returns the runtime's Send cache statistics.
func (rt *Runtime) CacheStats() ICStats {
	return rt.caches.Stats()
}
