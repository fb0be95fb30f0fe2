package vm

import (
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
)

// SnapshotVersion is the current snapshot format version.
const SnapshotVersion = 1

// SnapshotEntry is one object table entry as captured.
type SnapshotEntry struct {
	Free  bool    `cbor:"1,keyasint,omitempty"`
	Next  int     `cbor:"2,keyasint,omitempty"`
	Class Value   `cbor:"3,keyasint,omitempty"`
	Slots []Value `cbor:"4,keyasint,omitempty"`
}

// Snapshot is a complete copy of a runtime's object memory and
// registers. Table indices are preserved, so every Value in it keeps its
// meaning.
type Snapshot struct {
	ID      string `cbor:"1,keyasint"`
	Version int    `cbor:"2,keyasint"`
	Created int64  `cbor:"3,keyasint"` // unix nanoseconds

	Entries  []SnapshotEntry `cbor:"4,keyasint"`
	FreeHead int             `cbor:"5,keyasint"`

	SP        int   `cbor:"6,keyasint"`
	FP        int   `cbor:"7,keyasint"`
	IP        int   `cbor:"8,keyasint"`
	CodeBlock Value `cbor:"9,keyasint"`
	Stack     Value `cbor:"10,keyasint"`
	Globals   Value `cbor:"11,keyasint"`
	Interned  Value `cbor:"12,keyasint"`

	// Object, Class, Cell, Closure, Int, Nil, Str
	Classes []Value `cbor:"13,keyasint"`
	// identityHash, print, println, +, -, *
	Selectors []Value `cbor:"14,keyasint"`

	Primitives []string `cbor:"15,keyasint"`
	VTableSize int      `cbor:"16,keyasint"`
}

// CreatedAt returns the capture time.
func (s *Snapshot) CreatedAt() time.Time {
	return time.Unix(0, s.Created)
}

func (rt *Runtime) wellKnownClasses() []*Value {
	return []*Value{&rt.ObjectClass, &rt.ClassClass, &rt.CellClass, &rt.ClosureClass, &rt.IntClass, &rt.NilClass, &rt.StrClass}
}

func (rt *Runtime) wellKnownSelectors() []*Value {
	return []*Value{&rt.selIdentityHash, &rt.selPrint, &rt.selPrintln, &rt.selAdd, &rt.selSub, &rt.selMul}
}

// Snapshot captures the runtime. It should be taken between entry points,
// when no native is holding pinned operands.
func (rt *Runtime) Snapshot() *Snapshot {
	h := rt.heap
	s := &Snapshot{
		ID:         uuid.NewString(),
		Version:    SnapshotVersion,
		Created:    time.Now().UnixNano(),
		Entries:    make([]SnapshotEntry, len(h.entries)),
		FreeHead:   h.freeHead,
		SP:         rt.sp,
		FP:         rt.fp,
		IP:         rt.ip,
		CodeBlock:  rt.codeBlock,
		Stack:      rt.stack,
		Globals:    rt.globals,
		Interned:   rt.interned,
		Primitives: rt.Primitives(),
		VTableSize: rt.vtableSize,
	}
	for i := range h.entries {
		e := &h.entries[i]
		if e.free() {
			s.Entries[i] = SnapshotEntry{Free: true, Next: e.next}
			continue
		}
		s.Entries[i] = SnapshotEntry{Class: e.class, Slots: slices.Clone(e.slots)}
	}
	for _, c := range rt.wellKnownClasses() {
		s.Classes = append(s.Classes, *c)
	}
	for _, sel := range rt.wellKnownSelectors() {
		s.Selectors = append(s.Selectors, *sel)
	}
	return s
}

// Restore rebuilds a runtime from s. The primitive table built from opts
// (core primitives plus opts.Natives) must match the names recorded in
// the snapshot index for index. Table sizing comes from opts, but the
// table never shrinks below the snapshot.
func Restore(s *Snapshot, opts Options) (*Runtime, error) {
	if s == nil {
		return nil, fmt.Errorf("vm: restore from nil snapshot")
	}
	if s.Version != SnapshotVersion {
		return nil, fmt.Errorf("vm: snapshot version %d, expected %d", s.Version, SnapshotVersion)
	}
	opts, err := opts.normalize()
	if err != nil {
		return nil, err
	}
	rt := newRuntime(opts)
	if err := rt.registerNatives(opts.Natives); err != nil {
		return nil, err
	}
	if names := rt.Primitives(); !slices.Equal(names, s.Primitives) {
		return nil, fmt.Errorf("vm: snapshot primitives %v do not match registry %v", s.Primitives, names)
	}
	if s.VTableSize > 0 {
		rt.vtableSize = s.VTableSize
	}

	n := len(s.Entries)
	if n < MinTableSize {
		return nil, fmt.Errorf("vm: snapshot table of %d entries", n)
	}
	h := &Heap{
		entries:     make([]entry, n),
		marked:      make([]bool, n),
		freeHead:    s.FreeHead,
		initialSize: opts.InitialTableSize,
		maxSize:     max(opts.MaxTableSize, n),
	}
	valid := func(v Value) bool { return v.IsInt() || (v.Index() >= 0 && v.Index() < n) }
	for i, se := range s.Entries {
		if se.Free {
			h.entries[i] = entry{numSlots: freeSlotCount, next: se.Next}
			h.freeCount++
			continue
		}
		if !valid(se.Class) {
			return nil, fmt.Errorf("vm: entry %d has class %v beyond the table", i, se.Class)
		}
		for j, v := range se.Slots {
			if !valid(v) {
				return nil, fmt.Errorf("vm: slot %d of entry %d refers to %v beyond the table", j, i, v)
			}
		}
		h.entries[i] = entry{numSlots: len(se.Slots), class: se.Class, slots: slices.Clone(se.Slots), next: endOfList}
	}
	if h.entries[0].free() || h.entries[0].numSlots != 0 {
		return nil, fmt.Errorf("vm: snapshot entry 0 is not nil")
	}

	rt.heap = h
	classes, sels := rt.wellKnownClasses(), rt.wellKnownSelectors()
	if len(s.Classes) != len(classes) || len(s.Selectors) != len(sels) {
		return nil, fmt.Errorf("vm: snapshot holds %d classes and %d selectors", len(s.Classes), len(s.Selectors))
	}
	for i, c := range classes {
		*c = s.Classes[i]
	}
	for i, sel := range sels {
		*sel = s.Selectors[i]
	}
	rt.sp, rt.fp, rt.ip = s.SP, s.FP, s.IP
	rt.codeBlock, rt.stack, rt.globals, rt.interned = s.CodeBlock, s.Stack, s.Globals, s.Interned
	for _, r := range []Value{rt.codeBlock, rt.stack, rt.globals, rt.interned} {
		if !valid(r) {
			return nil, fmt.Errorf("vm: snapshot register %v beyond the table", r)
		}
	}
	if _, err := rt.FreeList(); err != nil {
		return nil, fmt.Errorf("vm: snapshot free list: %w", err)
	}
	if !rt.isClass(rt.ObjectClass) || rt.stack.IsInt() || rt.sp > rt.heap.NumSlotsOrZero(rt.stack) {
		return nil, fmt.Errorf("vm: snapshot registers are inconsistent")
	}

	h.defaultClass = rt.ObjectClass
	h.roots = rt.markRoots
	h.onCollect = rt.caches.Flush
	rt.maxSP = rt.sp
	return rt, nil
}
