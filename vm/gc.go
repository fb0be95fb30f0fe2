package vm

// ---------------------------------------------------------------------------
// Mark-sweep collection over the object table
// ---------------------------------------------------------------------------

// GCStats holds cumulative allocator and collector statistics.
type GCStats struct {
	Allocations   uint64 // objects handed out by Allocate
	Collections   int    // completed collections
	Reclaimed     int    // entries reclaimed across all collections
	LastReclaimed int    // entries reclaimed by the most recent collection
	LastLive      int    // live entries after the most recent collection
	Growths       int    // table growths, including the initial one
}

// Collect runs a synchronous stop-the-world mark-sweep collection and
// returns the number of live entries it reclaimed.
//
// Marking uses an explicit worklist, so deep object graphs never grow the
// native stack. Each reached object's slots and class are traced. The
// sweep rebuilds the free list from every unmarked entry in ascending
// index order, releasing the backing storage of reclaimed objects.
func (h *Heap) Collect() int {
	if h.collecting {
		panic("vm: nested collection")
	}
	h.collecting = true
	defer func() { h.collecting = false }()

	clear(h.marked)

	var work []int
	mark := func(v Value) {
		if !v.IsRef() {
			return
		}
		i := int(int64(v) >> 1)
		if i < 0 || i >= len(h.entries) || h.marked[i] || h.entries[i].free() {
			return
		}
		h.marked[i] = true
		work = append(work, i)
	}

	if h.roots != nil {
		h.roots(mark)
	}
	for len(work) > 0 {
		i := work[len(work)-1]
		work = work[:len(work)-1]
		e := &h.entries[i]
		mark(e.class)
		for _, s := range e.slots {
			mark(s)
		}
	}

	reclaimed, live := 0, 0
	h.freeHead = endOfList
	h.freeCount = 0
	for i := len(h.entries) - 1; i >= 0; i-- {
		if h.marked[i] {
			live++
			continue
		}
		e := &h.entries[i]
		if !e.free() {
			reclaimed++
		}
		*e = entry{numSlots: freeSlotCount, next: h.freeHead}
		h.freeHead = i
		h.freeCount++
	}

	h.stats.Collections++
	h.stats.Reclaimed += reclaimed
	h.stats.LastReclaimed = reclaimed
	h.stats.LastLive = live

	if h.onCollect != nil {
		h.onCollect()
	}

	heapLog.Debugf("GC reclaimed %d entries, %d live of %d", reclaimed, live, len(h.entries))
	return reclaimed
}

// Stats returns a copy of the collector statistics.
func (h *Heap) Stats() GCStats {
	return h.stats
}
