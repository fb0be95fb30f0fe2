package vm

import (
	"fmt"

	"github.com/tliron/commonlog"
)

var heapLog = commonlog.GetLogger("tagvm.heap")

// MinTableSize is the smallest permitted initial object table capacity.
// Bootstrap needs nil and the globals list live before any collection runs.
const MinTableSize = 2

// DefaultMaxTableSize bounds table growth unless Options override it.
const DefaultMaxTableSize = 1 << 22

const (
	freeSlotCount = -1 // numSlots of a free entry
	endOfList     = -1 // free list terminator
)

// entry is one object table slot. It is either live (numSlots >= 0, class
// and owned slot storage) or free (numSlots == -1, linked via next).
type entry struct {
	numSlots int
	class    Value
	slots    []Value
	next     int
}

func (e *entry) free() bool {
	return e.numSlots == freeSlotCount
}

// Heap is the object table together with its free-list allocator and
// mark-sweep collector. Table indices are permanent object identities.
type Heap struct {
	entries []entry
	marked  []bool

	freeHead  int
	freeCount int

	initialSize int
	maxSize     int
	collecting  bool

	// class assigned to every fresh allocation
	defaultClass Value

	// roots reports every root reference to mark
	roots func(mark func(Value))

	// onCollect runs after each sweep (cache invalidation)
	onCollect func()

	stats GCStats
}

func newHeap(initialSize, maxSize int) *Heap {
	if initialSize < MinTableSize {
		initialSize = MinTableSize
	}
	if maxSize < initialSize {
		maxSize = initialSize
	}
	h := &Heap{
		freeHead:    endOfList,
		initialSize: initialSize,
		maxSize:     maxSize,
	}
	h.grow()
	return h
}

// ---------------------------------------------------------------------------
// Growth and allocation
// ---------------------------------------------------------------------------

// grow doubles the table capacity, copying existing entries verbatim and
// chaining the new entries into the free list in ascending index order.
func (h *Heap) grow() {
	if h.collecting {
		panic("vm: object table growth during collection")
	}
	old := len(h.entries)
	size := h.initialSize
	if old > 0 {
		size = old * 2
	}
	if size > h.maxSize {
		if old >= h.maxSize {
			panic(&Error{
				Kind:  ExhaustedMemory,
				Msg:   fmt.Sprintf("object table full at %d entries", old),
				Index: old,
			})
		}
		size = h.maxSize
	}

	entries := make([]entry, size)
	copy(entries, h.entries)
	for i := old; i < size; i++ {
		entries[i] = entry{numSlots: freeSlotCount, next: i + 1}
	}
	entries[size-1].next = h.freeHead

	h.entries = entries
	h.marked = make([]bool, size)
	h.freeHead = old
	h.freeCount += size - old
	h.stats.Growths++

	heapLog.Debugf("object table grown to %d entries", size)
}

// Allocate returns a reference to a fresh live object of n zero-filled
// (nil) slots. When the free list is empty a collection runs first, and
// the table grows only if that reclaims nothing.
//
// The result is unrooted: it must be stored into a reachable slot, or
// pushed on the operand stack, before the next allocation.
func (h *Heap) Allocate(n int) Value {
	if n < 0 {
		panic(&Error{Kind: OutOfRange, Msg: fmt.Sprintf("negative slot count %d", n), Index: n})
	}
	if h.collecting {
		panic("vm: allocation during collection")
	}
	if h.freeHead == endOfList {
		h.Collect()
		if h.freeHead == endOfList {
			h.grow()
		}
	}

	i := h.freeHead
	e := &h.entries[i]
	h.freeHead = e.next
	h.freeCount--

	*e = entry{
		numSlots: n,
		class:    h.defaultClass,
		slots:    make([]Value, n),
		next:     endOfList,
	}
	h.stats.Allocations++
	return FromIndex(i)
}

// ---------------------------------------------------------------------------
// Slot access
// ---------------------------------------------------------------------------

// live returns the entry for ref. The pointer is invalidated by the next
// allocation, so callers must not hold it across one.
func (h *Heap) live(ref Value) *entry {
	i := ref.Index()
	if i < 0 || i >= len(h.entries) {
		panic(&Error{
			Kind:  OutOfRange,
			Msg:   fmt.Sprintf("reference @%d beyond table size %d", i, len(h.entries)),
			Value: ref,
			Index: i,
		})
	}
	e := &h.entries[i]
	if e.free() {
		panic(&Error{Kind: OutOfRange, Msg: fmt.Sprintf("reference @%d to a free entry", i), Value: ref, Index: i})
	}
	return e
}

// SlotAt returns slot idx of ref.
func (h *Heap) SlotAt(ref Value, idx int) Value {
	e := h.live(ref)
	if idx < 0 || idx >= e.numSlots {
		panic(outOfRange(ref, idx, e.numSlots))
	}
	return e.slots[idx]
}

// SlotAtPut stores v into slot idx of ref and returns v.
func (h *Heap) SlotAtPut(ref Value, idx int, v Value) Value {
	e := h.live(ref)
	if idx < 0 || idx >= e.numSlots {
		panic(outOfRange(ref, idx, e.numSlots))
	}
	e.slots[idx] = v
	return v
}

// NumSlots returns the slot count of ref.
func (h *Heap) NumSlots(ref Value) int {
	return h.live(ref).numSlots
}

// NumSlotsOrZero returns the slot count of ref, or 0 when ref is not a
// live reference.
func (h *Heap) NumSlotsOrZero(ref Value) int {
	if !ref.IsRef() {
		return 0
	}
	i := ref.Index()
	if i < 0 || i >= len(h.entries) || h.entries[i].free() {
		return 0
	}
	return h.entries[i].numSlots
}

// ClassOf returns the class reference of ref.
func (h *Heap) ClassOf(ref Value) Value {
	return h.live(ref).class
}

// SetClass replaces the class reference of ref.
func (h *Heap) SetClass(ref, class Value) {
	h.live(ref).class = class
}

// slots exposes the backing array of ref for bulk copies.
func (h *Heap) slots(ref Value) []Value {
	return h.live(ref).slots
}

// Size returns the current table capacity.
func (h *Heap) Size() int {
	return len(h.entries)
}

// FreeCount returns the number of entries on the free list.
func (h *Heap) FreeCount() int {
	return h.freeCount
}

// forEachLive calls fn for every live entry index in ascending order.
func (h *Heap) forEachLive(fn func(i int)) {
	for i := range h.entries {
		if !h.entries[i].free() {
			fn(i)
		}
	}
}
