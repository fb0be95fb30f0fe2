package vm

import (
	"fmt"
	"io"
)

// ---------------------------------------------------------------------------
// Options
// ---------------------------------------------------------------------------

// Default runtime sizing
const (
	DefaultStackSlots  = 10240
	DefaultVTableSize  = 16
	DefaultInitialSize = MinTableSize
)

// Native is a user primitive registered after the core set.
type Native struct {
	Name string
	Fn   PrimFunc
}

// Options configures a Runtime.
type Options struct {
	InitialTableSize int       // first object table capacity, at least MinTableSize
	MaxTableSize     int       // growth limit; exceeding it is ExhaustedMemory
	StackSlots       int       // capacity of the operand/frame stack object
	VTableSize       int       // initial selector table capacity of new classes
	Trace            bool      // log every instruction at debug level
	Output           io.Writer // destination of the print natives
	Natives          []Native  // registered in order after the core primitives
}

// DefaultOptions returns the sizing used when no configuration is given.
func DefaultOptions() Options {
	return Options{
		InitialTableSize: DefaultInitialSize,
		MaxTableSize:     DefaultMaxTableSize,
		StackSlots:       DefaultStackSlots,
		VTableSize:       DefaultVTableSize,
		Output:           io.Discard,
	}
}

func (o Options) normalize() (Options, error) {
	d := DefaultOptions()
	if o.InitialTableSize == 0 {
		o.InitialTableSize = d.InitialTableSize
	}
	if o.InitialTableSize < MinTableSize {
		return o, fmt.Errorf("vm: initial table size %d is below the minimum %d", o.InitialTableSize, MinTableSize)
	}
	if o.MaxTableSize == 0 {
		o.MaxTableSize = d.MaxTableSize
	}
	if o.MaxTableSize < o.InitialTableSize {
		return o, fmt.Errorf("vm: max table size %d is below the initial size %d", o.MaxTableSize, o.InitialTableSize)
	}
	if o.StackSlots == 0 {
		o.StackSlots = d.StackSlots
	}
	if o.StackSlots < 8 {
		return o, fmt.Errorf("vm: stack of %d slots cannot hold a frame", o.StackSlots)
	}
	if o.VTableSize == 0 {
		o.VTableSize = d.VTableSize
	}
	if o.VTableSize < 1 {
		return o, fmt.Errorf("vm: vtable size must be positive, got %d", o.VTableSize)
	}
	if o.Output == nil {
		o.Output = d.Output
	}
	return o, nil
}

// ---------------------------------------------------------------------------
// Runtime: object memory plus interpreter registers
// ---------------------------------------------------------------------------

// Runtime owns the object table, the primitive table and every
// interpreter register. It is single-threaded: one goroutine at a time.
type Runtime struct {
	heap  *Heap
	prims []Primitive

	// Registers
	stack     Value // operand/frame stack object
	sp        int   // next free stack slot
	fp        int   // base of the current frame
	ip        int   // index of the executing instruction
	codeBlock Value // code object holding the instruction sequence
	globals   Value // cons list of global roots
	interned  Value // cell holding the interned string list

	maxSP  int     // stack high-water mark
	pinned []Value // operands held by natives in progress

	// Well-known classes
	ObjectClass  Value
	ClassClass   Value
	CellClass    Value
	ClosureClass Value
	IntClass     Value
	NilClass     Value
	StrClass     Value

	// Well-known selectors
	selIdentityHash Value
	selPrint        Value
	selPrintln      Value
	selAdd          Value
	selSub          Value
	selMul          Value

	vtableSize int
	caches     *InlineCacheTable
	out        io.Writer
	trace      bool
}

// New creates and bootstraps a runtime.
func New(opts Options) (rt *Runtime, err error) {
	opts, err = opts.normalize()
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			rt = nil
		}
	}()
	defer catch(&err)

	rt = newRuntime(opts)
	rt.heap = newHeap(opts.InitialTableSize, opts.MaxTableSize)
	rt.heap.roots = rt.markRoots
	rt.heap.onCollect = rt.caches.Flush
	if err := rt.registerNatives(opts.Natives); err != nil {
		return nil, err
	}
	rt.bootstrap(opts.StackSlots)
	return rt, nil
}

func newRuntime(opts Options) *Runtime {
	rt := &Runtime{
		vtableSize: opts.VTableSize,
		caches:     NewInlineCacheTable(),
		out:        opts.Output,
		trace:      opts.Trace,
	}
	rt.registerCore()
	return rt
}

func (rt *Runtime) registerNatives(natives []Native) error {
	for _, n := range natives {
		if _, err := rt.RegisterPrimitive(n.Name, n.Fn); err != nil {
			return err
		}
	}
	return nil
}

// SetOutput redirects the print natives.
func (rt *Runtime) SetOutput(w io.Writer) {
	if w == nil {
		w = io.Discard
	}
	rt.out = w
}

// markRoots reports the root set: nil, the globals list and every
// register that can hold a reference.
func (rt *Runtime) markRoots(mark func(Value)) {
	mark(Nil)
	mark(rt.globals)
	mark(rt.stack)
	mark(rt.codeBlock)
	mark(rt.interned)
	for _, v := range rt.pinned {
		mark(v)
	}
	for _, c := range []Value{rt.ObjectClass, rt.ClassClass, rt.CellClass, rt.ClosureClass, rt.IntClass, rt.NilClass, rt.StrClass} {
		mark(c)
	}
}

// ---------------------------------------------------------------------------
// Bootstrap
// ---------------------------------------------------------------------------

var classSlotNameList = []string{"name", "slotNames", "numSlots", "vTableSize", "sels", "impls", "super"}

func (rt *Runtime) bootstrap(stackSlots int) {
	h := rt.heap
	if n := h.Allocate(0); n != Nil {
		panic(fmt.Sprintf("vm: nil allocated at %v, not entry 0", n))
	}
	rt.globals = Nil
	rt.stack = h.Allocate(stackSlots)
	rt.addGlobal(rt.stack)
	rt.interned = h.Allocate(1)
	rt.addGlobal(rt.interned)

	rt.selIdentityHash = rt.internString("identityHash")
	rt.selPrint = rt.internString("print")
	rt.selPrintln = rt.internString("println")
	rt.selAdd = rt.internString("+")
	rt.selSub = rt.internString("-")
	rt.selMul = rt.internString("*")

	// Root class first; everything allocated so far is retroactively an Object.
	rt.ObjectClass = rt.newClass(rt.internString("Object"), Nil, Nil)
	h.defaultClass = rt.ObjectClass
	h.forEachLive(func(i int) { h.entries[i].class = rt.ObjectClass })

	names := rt.stringArray(classSlotNameList)
	rt.ClassClass = rt.newClass(rt.internString("Class"), names, rt.ObjectClass)
	rt.pop()
	h.SetClass(rt.ObjectClass, rt.ClassClass)
	h.SetClass(rt.ClassClass, rt.ClassClass)

	rt.CellClass = rt.newClass(rt.internString("Cell"), Nil, rt.ObjectClass)
	rt.ClosureClass = rt.newClass(rt.internString("Closure"), Nil, rt.ObjectClass)
	h.SetClass(rt.interned, rt.CellClass)
	rt.installAccessors(rt.ClassClass)

	rt.installPrimitiveMethod(rt.ObjectClass, rt.selIdentityHash, OpObjIdentityHash.Value())
	rt.installPrimitiveMethod(rt.ObjectClass, rt.selPrint, OpObjPrint.Value())
	rt.installPrimitiveMethod(rt.ObjectClass, rt.selPrintln, OpObjPrintln.Value())

	rt.IntClass = rt.newClass(rt.internString("Int"), Nil, rt.ObjectClass)
	rt.installPrimitiveMethod(rt.IntClass, rt.selIdentityHash, OpIntIdentityHash.Value())
	rt.installPrimitiveMethod(rt.IntClass, rt.selPrint, OpIntPrint.Value())
	rt.installPrimitiveMethod(rt.IntClass, rt.selAdd, OpIntAdd.Value())
	rt.installPrimitiveMethod(rt.IntClass, rt.selSub, OpIntSub.Value())
	rt.installPrimitiveMethod(rt.IntClass, rt.selMul, OpIntMul.Value())

	rt.NilClass = rt.newClass(rt.internString("Nil"), Nil, rt.ObjectClass)
	rt.installPrimitiveMethod(rt.NilClass, rt.selPrint, OpNilPrint.Value())
	h.SetClass(Nil, rt.NilClass)

	rt.StrClass = rt.newClass(rt.internString("Str"), Nil, rt.ObjectClass)
	rt.installPrimitiveMethod(rt.StrClass, rt.selPrint, OpStrPrint.Value())
	for cur := h.SlotAt(rt.interned, 0); cur != Nil; cur = h.SlotAt(cur, 1) {
		h.SetClass(h.SlotAt(cur, 0), rt.StrClass)
	}

	rt.fp = rt.sp
}

// ---------------------------------------------------------------------------
// Stack primitives used by Go code
// ---------------------------------------------------------------------------

func (rt *Runtime) push(v Value) Value {
	if rt.sp >= rt.heap.NumSlots(rt.stack) {
		panic(&Error{Kind: StackOverflow, Msg: fmt.Sprintf("push at sp %d", rt.sp), Index: rt.sp})
	}
	rt.heap.SlotAtPut(rt.stack, rt.sp, v)
	rt.sp++
	if rt.sp > rt.maxSP {
		rt.maxSP = rt.sp
	}
	return v
}

// pop removes the top of stack and clears the vacated slot, so a stale
// reference never keeps an object alive.
func (rt *Runtime) pop() Value {
	if rt.sp <= 0 {
		panic(&Error{Kind: StackUnderflow, Msg: "pop from empty stack", Index: rt.sp})
	}
	rt.sp--
	v := rt.heap.SlotAt(rt.stack, rt.sp)
	rt.heap.SlotAtPut(rt.stack, rt.sp, Nil)
	return v
}

// peek returns the value n slots below the top without popping.
func (rt *Runtime) peek(n int) Value {
	i := rt.sp - 1 - n
	if i < 0 {
		panic(&Error{Kind: StackUnderflow, Msg: fmt.Sprintf("peek %d below sp %d", n, rt.sp), Index: i})
	}
	return rt.heap.SlotAt(rt.stack, i)
}

// drop pops n values.
func (rt *Runtime) drop(n int) {
	for ; n > 0; n-- {
		rt.pop()
	}
}

// clearStack nils stack slots [from, to).
func (rt *Runtime) clearStack(from, to int) {
	if from < 0 {
		from = 0
	}
	for i := from; i < to; i++ {
		rt.heap.SlotAtPut(rt.stack, i, Nil)
	}
}

// ---------------------------------------------------------------------------
// Composite helpers
// ---------------------------------------------------------------------------

// cons allocates a pair. Both halves must already be rooted.
func (rt *Runtime) cons(head, tail Value) Value {
	rt.push(head)
	rt.push(tail)
	c := rt.heap.Allocate(2)
	rt.heap.SlotAtPut(c, 0, head)
	rt.heap.SlotAtPut(c, 1, tail)
	rt.drop(2)
	return c
}

// newCell allocates a 1-slot cell holding v.
func (rt *Runtime) newCell(v Value) Value {
	rt.push(v)
	c := rt.heap.Allocate(1)
	rt.heap.SlotAtPut(c, 0, v)
	if rt.CellClass != Nil {
		rt.heap.SetClass(c, rt.CellClass)
	}
	rt.pop()
	return c
}

// deref returns the contents of a cell.
func (rt *Runtime) deref(cell Value) Value {
	return rt.heap.SlotAt(cell, 0)
}

// addGlobal prepends v to the globals list.
func (rt *Runtime) addGlobal(v Value) Value {
	rt.push(v)
	rt.globals = rt.cons(v, rt.globals)
	rt.pop()
	return v
}

// AddGlobal roots v for the life of the runtime.
func (rt *Runtime) AddGlobal(v Value) (err error) {
	defer catch(&err)
	rt.addGlobal(v)
	return nil
}

// newClosure builds a closure over code and captured cells. Code and cells
// must already be rooted.
func (rt *Runtime) newClosure(code Value, cells ...Value) Value {
	clo := rt.heap.Allocate(len(cells) + 1)
	rt.heap.SlotAtPut(clo, 0, code)
	for i, c := range cells {
		rt.heap.SlotAtPut(clo, i+1, c)
	}
	if rt.ClosureClass != Nil {
		rt.heap.SetClass(clo, rt.ClosureClass)
	}
	return clo
}

// NewClosure builds a closure over code and captured cells and roots it
// in globals.
func (rt *Runtime) NewClosure(code Value, cells ...Value) (clo Value, err error) {
	defer rt.unwind(rt.saveRegisters(), &err)
	for _, v := range append([]Value{code}, cells...) {
		rt.push(v)
	}
	clo = rt.newClosure(code, cells...)
	rt.drop(len(cells) + 1)
	rt.addGlobal(clo)
	return clo, nil
}

// NewCell allocates a cell holding v and roots it in globals.
func (rt *Runtime) NewCell(v Value) (cell Value, err error) {
	defer catch(&err)
	cell = rt.newCell(v)
	rt.addGlobal(cell)
	return cell, nil
}

// Cons allocates a pair and roots it in globals.
func (rt *Runtime) Cons(head, tail Value) (pair Value, err error) {
	defer catch(&err)
	pair = rt.cons(head, tail)
	rt.addGlobal(pair)
	return pair, nil
}

// Allocate exposes the raw allocator. The result is unrooted; push or
// store it before the next allocation.
func (rt *Runtime) Allocate(n int) (ref Value, err error) {
	defer catch(&err)
	return rt.heap.Allocate(n), nil
}

// Collect forces a collection and returns the number of reclaimed entries.
func (rt *Runtime) Collect() int {
	return rt.heap.Collect()
}

// GCStats returns allocator and collector statistics.
func (rt *Runtime) GCStats() GCStats {
	return rt.heap.Stats()
}

// Push places v on the operand stack, rooting it until it is popped.
func (rt *Runtime) Push(v Value) (err error) {
	defer catch(&err)
	rt.push(v)
	return nil
}

// Pop removes and returns the top of stack.
func (rt *Runtime) Pop() (v Value, err error) {
	defer catch(&err)
	return rt.pop(), nil
}
