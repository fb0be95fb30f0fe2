package vm

import "fmt"

// ---------------------------------------------------------------------------
// Inspection
// ---------------------------------------------------------------------------

// Registers is a copy of the interpreter registers.
type Registers struct {
	SP        int
	FP        int
	IP        int
	CodeBlock Value
	Stack     Value
	Globals   Value
	Interned  Value
}

// Registers returns the current register values.
func (rt *Runtime) Registers() Registers {
	return Registers{
		SP:        rt.sp,
		FP:        rt.fp,
		IP:        rt.ip,
		CodeBlock: rt.codeBlock,
		Stack:     rt.stack,
		Globals:   rt.globals,
		Interned:  rt.interned,
	}
}

// StackContents returns the live stack slots, bottom first.
func (rt *Runtime) StackContents() []Value {
	out := make([]Value, rt.sp)
	copy(out, rt.heap.slots(rt.stack)[:rt.sp])
	return out
}

// MaxStackDepth returns the highest sp reached since the last reset.
func (rt *Runtime) MaxStackDepth() int {
	return rt.maxSP
}

// ResetStackHighWater restarts high-water tracking from the current sp.
func (rt *Runtime) ResetStackHighWater() {
	rt.maxSP = rt.sp
}

// Globals returns the values on the globals list, most recent first.
func (rt *Runtime) Globals() []Value {
	var out []Value
	for cur := rt.globals; cur != Nil; cur = rt.heap.SlotAt(cur, 1) {
		out = append(out, rt.heap.SlotAt(cur, 0))
	}
	return out
}

// TableSize returns the object table capacity.
func (rt *Runtime) TableSize() int {
	return rt.heap.Size()
}

// LiveCount returns the number of live table entries.
func (rt *Runtime) LiveCount() int {
	return rt.heap.Size() - rt.heap.FreeCount()
}

// FreeList walks the free list from its head and returns the entry
// indices in order. It fails if the list revisits an entry, links a live
// entry, or leaves the table.
func (rt *Runtime) FreeList() ([]int, error) {
	h := rt.heap
	seen := make(map[int]bool)
	var out []int
	for i := h.freeHead; i != endOfList; i = h.entries[i].next {
		if i < 0 || i >= len(h.entries) {
			return out, fmt.Errorf("vm: free list leaves the table at %d", i)
		}
		if seen[i] {
			return out, fmt.Errorf("vm: free list cycles back to %d", i)
		}
		if !h.entries[i].free() {
			return out, fmt.Errorf("vm: free list links live entry %d", i)
		}
		seen[i] = true
		out = append(out, i)
	}
	if len(out) != h.freeCount {
		return out, fmt.Errorf("vm: free list holds %d entries, expected %d", len(out), h.freeCount)
	}
	return out, nil
}

// EntryInfo describes one object table entry.
type EntryInfo struct {
	Index int
	Free  bool
	Next  int     // successor on the free list, -1 at the end (free only)
	Class Value   // live only
	Slots []Value // copy of the slots (live only)
}

// Entry describes table entry i.
func (rt *Runtime) Entry(i int) (EntryInfo, error) {
	h := rt.heap
	if i < 0 || i >= len(h.entries) {
		return EntryInfo{}, &Error{Kind: OutOfRange, Msg: fmt.Sprintf("entry %d beyond table size %d", i, len(h.entries)), Index: i}
	}
	e := &h.entries[i]
	if e.free() {
		return EntryInfo{Index: i, Free: true, Next: e.next}, nil
	}
	return EntryInfo{Index: i, Class: e.class, Slots: append([]Value(nil), e.slots...), Next: endOfList}, nil
}

// SlotAt returns slot idx of ref.
func (rt *Runtime) SlotAt(ref Value, idx int) (v Value, err error) {
	defer catch(&err)
	return rt.heap.SlotAt(ref, idx), nil
}

// SlotAtPut stores v into slot idx of ref. The write may reshape a class
// or its method tables, so the Send caches are flushed.
func (rt *Runtime) SlotAtPut(ref Value, idx int, v Value) (err error) {
	defer catch(&err)
	rt.heap.SlotAtPut(ref, idx, v)
	rt.caches.Flush()
	return nil
}

// NumSlots returns the slot count of ref.
func (rt *Runtime) NumSlots(ref Value) (n int, err error) {
	defer catch(&err)
	return rt.heap.NumSlots(ref), nil
}

// ClassOf returns the class of v; integers belong to Int.
func (rt *Runtime) ClassOf(v Value) (cls Value, err error) {
	defer catch(&err)
	return rt.classOf(v), nil
}

// SetClass replaces the class of ref.
func (rt *Runtime) SetClass(ref, cls Value) (err error) {
	defer catch(&err)
	rt.heap.SetClass(ref, cls)
	rt.caches.Flush()
	return nil
}

// Deref returns the contents of a cell.
func (rt *Runtime) Deref(cell Value) (v Value, err error) {
	defer catch(&err)
	return rt.deref(cell), nil
}
