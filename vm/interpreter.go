package vm

import (
	"fmt"
	"math/bits"

	"github.com/tliron/commonlog"
)

var interpLog = commonlog.GetLogger("tagvm.interp")

// Frame layout, relative to fp:
//
//	load(-n)  arg n
//	...
//	load(-1)  arg 1 (receiver for sends)
//	load(0)   callee box (closure or selector cell)
//	load(1)   nArgs
//	load(2)   caller fp
//	load(3)   caller code block
//	load(4)   caller ip
const (
	frameNArgs    = 1
	frameSavedFP  = 2
	frameSavedIPB = 3
	frameSavedIP  = 4
)

// load reads the frame slot at fp-off.
func (rt *Runtime) load(off int) Value {
	i := rt.fp - off
	if i < 0 {
		panic(&Error{Kind: StackUnderflow, Msg: fmt.Sprintf("frame read at fp %d offset %d", rt.fp, off), Index: i})
	}
	return rt.heap.SlotAt(rt.stack, i)
}

// store writes the frame slot at fp-off.
func (rt *Runtime) store(off int, v Value) Value {
	i := rt.fp - off
	if i < 0 {
		panic(&Error{Kind: StackUnderflow, Msg: fmt.Sprintf("frame write at fp %d offset %d", rt.fp, off), Index: i})
	}
	return rt.heap.SlotAtPut(rt.stack, i, v)
}

// operandInt decodes an integer operand.
func operandInt(v Value) int {
	return int(v.Int())
}

// ---------------------------------------------------------------------------
// Interpreter loop
// ---------------------------------------------------------------------------

// run executes instructions starting at the current ip. It stops after a
// Halt, or after a Ret that restores fp to retFP; in that case ip is left
// at the caller's saved ip rather than advanced past it.
func (rt *Runtime) run(retFP int) {
	halt, ret := OpHalt.Value(), OpRet.Value()
	for {
		instr := rt.heap.SlotAt(rt.codeBlock, rt.ip)
		prim := rt.heap.SlotAt(instr, 0)
		operand := rt.heap.SlotAt(instr, 1)
		p := rt.primitive(prim)
		if rt.trace {
			interpLog.Debugf("%v ip=%d %s %v fp=%d sp=%d", rt.codeBlock, rt.ip, p.Name, operand, rt.fp, rt.sp)
		}
		p.Fn(rt, operand)
		if prim == halt {
			return
		}
		if prim == ret && rt.fp == retFP {
			return
		}
		rt.ip++
	}
}

// registers is a snapshot of the interpreter registers used to unwind
// after a raised error.
type registers struct {
	sp, fp, ip int
	codeBlock  Value
	pinned     int
}

func (rt *Runtime) saveRegisters() registers {
	return registers{sp: rt.sp, fp: rt.fp, ip: rt.ip, codeBlock: rt.codeBlock, pinned: len(rt.pinned)}
}

// unwind is deferred by entry points that run code: a raised *Error is
// returned through err and the registers are put back as they were.
func (rt *Runtime) unwind(saved registers, err *error) {
	if r := recover(); r != nil {
		e, ok := r.(*Error)
		if !ok {
			panic(r)
		}
		*err = e
		rt.restoreRegisters(saved)
	}
}

func (rt *Runtime) restoreRegisters(r registers) {
	if rt.sp > r.sp {
		rt.clearStack(r.sp, rt.sp)
	}
	rt.sp, rt.fp, rt.ip, rt.codeBlock = r.sp, r.fp, r.ip, r.codeBlock
	if len(rt.pinned) > r.pinned {
		clear(rt.pinned[r.pinned:])
		rt.pinned = rt.pinned[:r.pinned]
	}
}

// Run executes code from its first instruction until Halt and returns the
// value then on top of the stack (nil if the program left nothing). Anything
// else the program left on the stack is discarded and the registers are
// restored, also on error. The code object must be reachable.
func (rt *Runtime) Run(code Value) (result Value, err error) {
	saved := rt.saveRegisters()
	defer rt.unwind(saved, &err)

	rt.codeBlock = code
	rt.ip = 0
	rt.run(-1)
	if rt.sp > saved.sp {
		result = rt.pop()
	}
	rt.restoreRegisters(saved)
	return result, nil
}

// ---------------------------------------------------------------------------
// Go-level send and call
// ---------------------------------------------------------------------------

// boxArgs pushes vals and replaces each with a fresh cell in place, so
// every value stays rooted while the cells are allocated.
func (rt *Runtime) boxArgs(vals []Value) {
	base := rt.sp
	for _, v := range vals {
		rt.push(v)
	}
	for i := range vals {
		v := rt.heap.SlotAt(rt.stack, base+i)
		cell := rt.heap.Allocate(1)
		rt.heap.SlotAtPut(cell, 0, v)
		rt.heap.SetClass(cell, rt.CellClass)
		rt.heap.SlotAtPut(rt.stack, base+i, cell)
	}
}

// send dispatches sel to recv with args and runs the method to completion.
func (rt *Runtime) send(sel, recv Value, args ...Value) Value {
	saved := rt.saveRegisters()
	primPrepCall(rt, Nil)
	rt.boxArgs(append([]Value{sel, recv}, args...))
	primSend(rt, FromInt(int64(len(args)+1)))
	rt.ip = 0
	rt.run(saved.fp)
	return rt.complete(saved)
}

// call invokes closure with args and runs it to completion.
func (rt *Runtime) call(closure Value, args ...Value) Value {
	saved := rt.saveRegisters()
	primPrepCall(rt, Nil)
	rt.boxArgs(append([]Value{closure}, args...))
	primCall(rt, FromInt(int64(len(args))))
	rt.ip = 0
	rt.run(saved.fp)
	return rt.complete(saved)
}

// complete takes the result of a nested run. A callee that halted instead
// of returning is unwound to saved, and the value on top of its stack is
// the result.
func (rt *Runtime) complete(saved registers) Value {
	if rt.fp == saved.fp {
		return rt.pop()
	}
	r := Nil
	if rt.sp > saved.sp {
		r = rt.peek(0)
	}
	rt.restoreRegisters(saved)
	return r
}

// Send dispatches sel to recv with the given arguments and returns the
// method's result. The receiver counts as the first argument of the
// method, so a unary send passes no extra args.
func (rt *Runtime) Send(sel, recv Value, args ...Value) (result Value, err error) {
	defer rt.unwind(rt.saveRegisters(), &err)
	return rt.send(sel, recv, args...), nil
}

// SendString interns name and sends it.
func (rt *Runtime) SendString(name string, recv Value, args ...Value) (Value, error) {
	sel, err := rt.InternString(name)
	if err != nil {
		return Nil, err
	}
	return rt.Send(sel, recv, args...)
}

// Call invokes a closure with the given arguments and returns its result.
func (rt *Runtime) Call(closure Value, args ...Value) (result Value, err error) {
	defer rt.unwind(rt.saveRegisters(), &err)
	return rt.call(closure, args...), nil
}

// ---------------------------------------------------------------------------
// Stack and arithmetic primitives
// ---------------------------------------------------------------------------

func primPush(rt *Runtime, v Value) Value {
	return rt.push(v)
}

func primPop(rt *Runtime, _ Value) Value {
	return rt.pop()
}

func primEq(rt *Runtime, _ Value) Value {
	b, a := rt.pop(), rt.pop()
	if a == b {
		return rt.push(FromInt(1))
	}
	return rt.push(FromInt(0))
}

// popInts pops the right then the left integer operand.
func (rt *Runtime) popInts() (a, b int64) {
	bv := rt.pop()
	av := rt.pop()
	return av.Int(), bv.Int()
}

func primAdd(rt *Runtime, _ Value) Value {
	a, b := rt.popInts()
	return rt.push(FromInt(a + b))
}

func primSub(rt *Runtime, _ Value) Value {
	a, b := rt.popInts()
	return rt.push(FromInt(a - b))
}

func primMul(rt *Runtime, _ Value) Value {
	a, b := rt.popInts()
	return rt.push(FromInt(mulInt(a, b)))
}

// mulInt multiplies two tagged-range integers, raising IntegerOverflow
// when the product leaves the tagged range.
func mulInt(a, b int64) int64 {
	neg := (a < 0) != (b < 0)
	ua, ub := uint64(a), uint64(b)
	if a < 0 {
		ua = uint64(-a)
	}
	if b < 0 {
		ub = uint64(-b)
	}
	hi, lo := bits.Mul64(ua, ub)
	limit := uint64(MaxInt)
	if neg {
		limit = uint64(-MinInt)
	}
	if hi != 0 || lo > limit {
		panic(&Error{Kind: IntegerOverflow, Msg: fmt.Sprintf("%d * %d does not fit in a tagged integer", a, b)})
	}
	if neg {
		return -int64(lo)
	}
	return int64(lo)
}

// primBox allocates the cell while the value is still on the stack.
func primBox(rt *Runtime, _ Value) Value {
	v := rt.peek(0)
	cell := rt.heap.Allocate(1)
	rt.heap.SlotAtPut(cell, 0, v)
	rt.heap.SetClass(cell, rt.CellClass)
	rt.pop()
	return rt.push(cell)
}

func primUnbox(rt *Runtime, _ Value) Value {
	return rt.push(rt.deref(rt.pop()))
}

// ---------------------------------------------------------------------------
// Frame access primitives
// ---------------------------------------------------------------------------

func primLd(rt *Runtime, off Value) Value {
	return rt.push(rt.load(operandInt(off)))
}

func primSt(rt *Runtime, off Value) Value {
	return rt.store(operandInt(off), rt.pop())
}

func primArg(rt *Runtime, n Value) Value {
	return rt.push(rt.load(-operandInt(n)))
}

func primFv(rt *Runtime, n Value) Value {
	closure := rt.deref(rt.load(0))
	return rt.push(rt.heap.SlotAt(closure, operandInt(n)+1))
}

func primStVar(rt *Runtime, _ Value) Value {
	v := rt.pop()
	return rt.heap.SlotAtPut(rt.pop(), 0, v)
}

// primMkFun builds a closure from the code object and the n cells above
// it, allocating before anything is popped.
func primMkFun(rt *Runtime, n Value) Value {
	k := operandInt(n)
	if k < 0 {
		panic(&Error{Kind: OutOfRange, Msg: fmt.Sprintf("closure over %d cells", k), Value: n, Index: k})
	}
	closure := rt.heap.Allocate(k + 1)
	base := rt.sp - k - 1
	if base < 0 {
		panic(&Error{Kind: StackUnderflow, Msg: fmt.Sprintf("closure over %d cells with %d values on the stack", k, rt.sp), Index: base})
	}
	for i := 0; i <= k; i++ {
		rt.heap.SlotAtPut(closure, i, rt.heap.SlotAt(rt.stack, base+i))
	}
	rt.heap.SetClass(closure, rt.ClosureClass)
	rt.drop(k + 1)
	return rt.push(closure)
}

// ---------------------------------------------------------------------------
// Call primitives
// ---------------------------------------------------------------------------

func primPrepCall(rt *Runtime, _ Value) Value {
	rt.push(Nil) // saved ip, filled by Call or Send
	rt.push(rt.codeBlock)
	rt.push(FromInt(int64(rt.fp)))
	rt.push(Nil) // nArgs
	return Nil
}

// enterFrame sets fp to the callee slot below n arguments and records
// the argument count and return ip.
func (rt *Runtime) enterFrame(n int) {
	fp := rt.sp - n - 1
	if fp < frameSavedIP {
		panic(&Error{Kind: StackUnderflow, Msg: fmt.Sprintf("call with %d args and no prepared frame at sp %d", n, rt.sp), Index: fp})
	}
	rt.fp = fp
	rt.store(frameNArgs, FromInt(int64(n)))
	rt.store(frameSavedIP, FromInt(int64(rt.ip)))
}

func primCall(rt *Runtime, nArgs Value) Value {
	rt.enterFrame(operandInt(nArgs))
	closure := rt.deref(rt.load(0))
	rt.codeBlock = rt.heap.SlotAt(closure, 0)
	rt.ip = -1
	return Nil
}

// primTCall moves the new callee and its n args over the current frame,
// keeping the caller's saved registers, and clears everything above.
func primTCall(rt *Runtime, nArgs Value) Value {
	n := operandInt(nArgs)
	if n < 0 || rt.sp-n-1 < 0 {
		panic(&Error{Kind: StackUnderflow, Msg: fmt.Sprintf("tail call with %d args at sp %d", n, rt.sp), Index: n})
	}
	moved := make([]Value, n+1)
	for i := n; i >= 0; i-- {
		moved[i] = rt.pop()
	}
	top := rt.sp
	for i, v := range moved {
		rt.store(-i, v)
	}
	rt.sp = rt.fp + n + 1
	rt.clearStack(rt.sp, top)
	rt.store(frameNArgs, FromInt(int64(n)))
	rt.codeBlock = rt.heap.SlotAt(rt.deref(rt.load(0)), 0)
	rt.ip = -1
	return Nil
}

func primRet(rt *Runtime, _ Value) Value {
	r := rt.pop()
	top := rt.sp
	rt.sp = rt.fp - 1
	if rt.sp < 3 {
		panic(&Error{Kind: StackUnderflow, Msg: fmt.Sprintf("return from frame at fp %d", rt.fp), Index: rt.fp})
	}
	rt.clearStack(rt.sp, top)
	rt.fp = operandInt(rt.pop())
	rt.codeBlock = rt.pop()
	ip := rt.pop()
	if ip.IsInt() {
		rt.ip = operandInt(ip)
	} else {
		rt.ip = -1
	}
	return rt.push(r)
}

// ---------------------------------------------------------------------------
// Dispatch primitives
// ---------------------------------------------------------------------------

// primSend enters the method n args above the prepared frame. The frame's
// selector cell is resolved, then overwritten by the method closure.
func primSend(rt *Runtime, nArgs Value) Value {
	rt.enterFrame(operandInt(nArgs))
	method := rt.resolve()
	rt.codeBlock = rt.heap.SlotAt(method, 0)
	rt.ip = -1
	return Nil
}

// primLookup resolves the frame's selector against arg 1.
func primLookup(rt *Runtime, _ Value) Value {
	return rt.resolve()
}

// resolve finds the method for the frame's selector cell and receiver,
// consulting the call-site cache, and replaces the selector in the cell
// with the method. A cell already holding a closure is taken as resolved.
func (rt *Runtime) resolve() Value {
	box := rt.load(0)
	sel := rt.deref(box)
	if sel.IsRef() && sel != Nil && rt.ClosureClass != Nil && rt.heap.ClassOf(sel) == rt.ClosureClass {
		return sel
	}
	cls := rt.classOf(rt.deref(rt.load(-1)))
	site := rt.caches.Site(rt.codeBlock, rt.ip)
	method, ok := site.Lookup(cls, sel)
	if !ok {
		method = rt.lookup(cls, sel)
		site.Update(cls, sel, method)
	}
	rt.heap.SlotAtPut(box, 0, method)
	return method
}

// ---------------------------------------------------------------------------
// Control primitives
// ---------------------------------------------------------------------------

func primJmp(rt *Runtime, n Value) Value {
	rt.ip += operandInt(n)
	return Nil
}

func primJz(rt *Runtime, n Value) Value {
	if rt.pop().Int() == 0 {
		primJmp(rt, n)
	}
	return Nil
}

func primJnz(rt *Runtime, n Value) Value {
	if rt.pop().Int() != 0 {
		primJmp(rt, n)
	}
	return Nil
}

func primHalt(rt *Runtime, _ Value) Value {
	return Nil
}

// primDoPrim pops a primitive index and, for n > 0, one operand, then
// pushes the primitive's result. The operand stays pinned for the
// duration of the call.
func primDoPrim(rt *Runtime, n Value) Value {
	p := rt.primitive(rt.pop())
	operand := Nil
	if operandInt(n) > 0 {
		operand = rt.pop()
	}
	unpin := rt.pin(operand)
	r := p.Fn(rt, operand)
	unpin()
	return rt.push(r)
}

// pin roots vals until the returned function runs.
func (rt *Runtime) pin(vals ...Value) func() {
	n := len(rt.pinned)
	rt.pinned = append(rt.pinned, vals...)
	return func() {
		clear(rt.pinned[n:])
		rt.pinned = rt.pinned[:n]
	}
}

// ---------------------------------------------------------------------------
// Integer methods
// ---------------------------------------------------------------------------

// intArg returns the unboxed integer argument 2 of the current frame.
func (rt *Runtime) intArg() int64 {
	return rt.deref(rt.load(-2)).Int()
}

func primIntAdd(rt *Runtime, recv Value) Value {
	return FromInt(recv.Int() + rt.intArg())
}

func primIntSub(rt *Runtime, recv Value) Value {
	return FromInt(recv.Int() - rt.intArg())
}

func primIntMul(rt *Runtime, recv Value) Value {
	return FromInt(mulInt(recv.Int(), rt.intArg()))
}

func primObjIdentityHash(_ *Runtime, recv Value) Value {
	return FromInt(int64(recv.Index()))
}

func primIntIdentityHash(_ *Runtime, recv Value) Value {
	recv.Int()
	return recv
}
