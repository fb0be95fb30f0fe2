package vm

import "fmt"

// ---------------------------------------------------------------------------
// Class layout
// ---------------------------------------------------------------------------

// A class is an ordinary 7-slot object whose class is Class.
const (
	className       = iota // interned name string
	classSlotNames         // object holding this class's own slot name strings
	classNumSlots          // own plus inherited slot count (integer)
	classVTableSize        // capacity of sels and impls (integer)
	classSels              // selector strings, nil for unused entries
	classImpls             // method closures, parallel to sels
	classSuper             // superclass or nil
	classSize
)

// classOf returns the class of any value; integers belong to Int.
func (rt *Runtime) classOf(v Value) Value {
	if v.IsInt() {
		return rt.IntClass
	}
	return rt.heap.ClassOf(v)
}

func (rt *Runtime) superOf(cls Value) Value {
	return rt.heap.SlotAt(cls, classSuper)
}

// instanceSlots returns the own plus inherited slot count of cls.
func (rt *Runtime) instanceSlots(cls Value) int {
	if cls == Nil {
		return 0
	}
	return operandInt(rt.heap.SlotAt(cls, classNumSlots))
}

// isClass reports whether v has the shape of a class object.
func (rt *Runtime) isClass(v Value) bool {
	if !v.IsRef() || v == Nil || v.Index() < 0 || v.Index() >= rt.heap.Size() {
		return false
	}
	e := &rt.heap.entries[v.Index()]
	return !e.free() && e.numSlots == classSize && e.slots[classNumSlots].IsInt() && e.slots[classVTableSize].IsInt()
}

// ---------------------------------------------------------------------------
// Class creation
// ---------------------------------------------------------------------------

// newClass allocates a class without accessors and roots it in globals.
// name, slotNames and super must already be reachable.
func (rt *Runtime) newClass(name, slotNames, super Value) Value {
	h := rt.heap
	cls := h.Allocate(classSize)
	rt.push(cls)
	h.SlotAtPut(cls, className, name)
	h.SlotAtPut(cls, classSlotNames, slotNames)
	h.SlotAtPut(cls, classSuper, super)
	h.SlotAtPut(cls, classNumSlots, FromInt(int64(h.NumSlots(slotNames)+rt.instanceSlots(super))))
	h.SlotAtPut(cls, classVTableSize, FromInt(int64(rt.vtableSize)))
	h.SlotAtPut(cls, classSels, h.Allocate(rt.vtableSize))
	h.SlotAtPut(cls, classImpls, h.Allocate(rt.vtableSize))
	if rt.ClassClass != Nil {
		h.SetClass(cls, rt.ClassClass)
	}
	rt.addGlobal(cls)
	rt.pop()
	return cls
}

// defineClass creates a class and installs a getter/setter for each of
// its own slots, placed after the inherited ones.
func (rt *Runtime) defineClass(name, slotNames, super Value) Value {
	cls := rt.newClass(name, slotNames, super)
	rt.installAccessors(cls)
	return cls
}

func (rt *Runtime) installAccessors(cls Value) {
	names := rt.heap.SlotAt(cls, classSlotNames)
	offset := rt.instanceSlots(rt.superOf(cls))
	for i := 0; i < rt.heap.NumSlots(names); i++ {
		rt.installAccessor(cls, rt.heap.SlotAt(names, i), offset+i)
	}
}

// installAccessor binds sel on cls to a method that reads slot idx of the
// receiver when called with one argument and writes it with two.
func (rt *Runtime) installAccessor(cls, sel Value, idx int) {
	unpin := rt.pin(cls, sel)
	defer unpin()
	impl := rt.method([]Instr{
		OpN(OpPush, int64(idx)),
		OpN(OpArg, 1),
		Op(OpUnbox),
		OpV(OpPush, OpObjGetSet.Value()),
		OpN(OpDoPrim, 2),
		Op(OpRet),
	})
	rt.installMethod(cls, sel, impl)
	rt.pop()
}

// installPrimitiveMethod binds sel on cls to a method that applies prim
// to the unboxed receiver.
func (rt *Runtime) installPrimitiveMethod(cls, sel, prim Value) {
	unpin := rt.pin(cls, sel)
	defer unpin()
	impl := rt.method([]Instr{
		OpN(OpArg, 1),
		Op(OpUnbox),
		OpV(OpPush, prim),
		OpN(OpDoPrim, 1),
		Op(OpRet),
	})
	rt.installMethod(cls, sel, impl)
	rt.pop()
}

// method assembles instrs into a closure with no captured cells and
// leaves the closure pushed.
func (rt *Runtime) method(instrs []Instr) Value {
	code := rt.assemble(instrs)
	clo := rt.newClosure(code)
	rt.heap.SlotAtPut(rt.stack, rt.sp-1, clo)
	return clo
}

// newInstance allocates an object with the instance slots of cls plus
// extra trailing slots.
func (rt *Runtime) newInstance(cls Value, extra int) Value {
	if extra < 0 {
		panic(&Error{Kind: OutOfRange, Msg: fmt.Sprintf("negative extra slot count %d", extra), Index: extra})
	}
	obj := rt.heap.Allocate(rt.instanceSlots(cls) + extra)
	if cls != Nil {
		rt.heap.SetClass(obj, cls)
	}
	return obj
}

// stringArray interns each name into a fresh object and leaves it pushed.
func (rt *Runtime) stringArray(names []string) Value {
	arr := rt.push(rt.heap.Allocate(len(names)))
	for i, n := range names {
		rt.heap.SlotAtPut(arr, i, rt.internString(n))
	}
	return arr
}

// ---------------------------------------------------------------------------
// Class primitives
// ---------------------------------------------------------------------------

// primMkClass defines a class named by the operand from the super and
// slot names on the stack.
func primMkClass(rt *Runtime, name Value) Value {
	super := rt.peek(0)
	slotNames := rt.peek(1)
	cls := rt.defineClass(name, slotNames, super)
	rt.drop(2)
	return cls
}

func primMkObj(rt *Runtime, cls Value) Value {
	extra := rt.pop()
	return rt.newInstance(cls, operandInt(extra))
}

func primInstMeth(rt *Runtime, cls Value) Value {
	sel := rt.peek(0)
	impl := rt.peek(1)
	rt.installMethod(cls, sel, impl)
	rt.drop(2)
	return impl
}

func primInstGetSet(rt *Runtime, cls Value) Value {
	sel := rt.peek(0)
	idx := rt.peek(1)
	rt.installAccessor(cls, sel, operandInt(idx))
	rt.drop(2)
	return cls
}

// primObjGetSet is the accessor body. The slot index is on the stack and
// the method's own argument count picks get or set.
func primObjGetSet(rt *Runtime, recv Value) Value {
	idx := operandInt(rt.pop())
	switch n := operandInt(rt.load(frameNArgs)); n {
	case 1:
		return rt.heap.SlotAt(recv, idx)
	case 2:
		if rt.isClass(recv) {
			rt.caches.Flush()
		}
		return rt.heap.SlotAtPut(recv, idx, rt.deref(rt.load(-2)))
	default:
		panic(&Error{Kind: BadArity, Msg: fmt.Sprintf("accessor called with %d arguments (must be 1 or 2)", n), Value: recv, Index: idx})
	}
}

// ---------------------------------------------------------------------------
// Exported class API
// ---------------------------------------------------------------------------

// DefineClass creates a class with the given own slot names under super
// (nil for a root class). Accessors named after each slot are installed.
func (rt *Runtime) DefineClass(name string, slotNames []string, super Value) (cls Value, err error) {
	defer rt.unwind(rt.saveRegisters(), &err)
	if super != Nil && !rt.isClass(super) {
		return Nil, typeMismatch(super, "class")
	}
	nameV := rt.internString(name)
	names := rt.stringArray(slotNames)
	cls = rt.defineClass(nameV, names, super)
	rt.pop()
	return cls, nil
}

// NewInstance creates an instance of cls with extra trailing slots and
// roots it in globals.
func (rt *Runtime) NewInstance(cls Value, extra int) (obj Value, err error) {
	defer catch(&err)
	if cls != Nil && !rt.isClass(cls) {
		return Nil, typeMismatch(cls, "class")
	}
	obj = rt.newInstance(cls, extra)
	rt.addGlobal(obj)
	return obj, nil
}

// InstallMethod binds sel on cls to impl, a closure.
func (rt *Runtime) InstallMethod(cls, sel, impl Value) (err error) {
	defer catch(&err)
	if !rt.isClass(cls) {
		return typeMismatch(cls, "class")
	}
	rt.installMethod(cls, sel, impl)
	return nil
}

// InstallPrimitiveMethod binds sel on cls to a method that applies the
// primitive at index prim to the receiver.
func (rt *Runtime) InstallPrimitiveMethod(cls, sel, prim Value) (err error) {
	defer catch(&err)
	if !rt.isClass(cls) {
		return typeMismatch(cls, "class")
	}
	rt.primitive(prim)
	rt.installPrimitiveMethod(cls, sel, prim)
	return nil
}

// InstallCode assembles instrs into a method and binds it to sel on cls.
func (rt *Runtime) InstallCode(cls, sel Value, instrs ...Instr) (impl Value, err error) {
	defer rt.unwind(rt.saveRegisters(), &err)
	if !rt.isClass(cls) {
		return Nil, typeMismatch(cls, "class")
	}
	unpin := rt.pin(cls, sel)
	defer unpin()
	impl = rt.method(instrs)
	rt.installMethod(cls, sel, impl)
	rt.pop()
	return impl, nil
}

// Lookup resolves sel along the superclass chain of cls.
func (rt *Runtime) Lookup(cls, sel Value) (method Value, err error) {
	defer catch(&err)
	return rt.lookup(cls, sel), nil
}

// Superclasses returns cls followed by each of its ancestors.
func (rt *Runtime) Superclasses(cls Value) []Value {
	var chain []Value
	for c := cls; rt.isClass(c); c = rt.superOf(c) {
		chain = append(chain, c)
	}
	return chain
}

// IsSubclassOf reports whether cls is other or inherits from it.
func (rt *Runtime) IsSubclassOf(cls, other Value) bool {
	for _, c := range rt.Superclasses(cls) {
		if c == other {
			return true
		}
	}
	return false
}

// ClassName returns the name of the class of v.
func (rt *Runtime) ClassName(v Value) string {
	if v.IsRef() && (v.Index() < 0 || v.Index() >= rt.heap.Size() || rt.heap.entries[v.Index()].free()) {
		return "?"
	}
	return rt.nameOfClass(rt.classOf(v))
}

// nameOfClass renders a class's name without raising.
func (rt *Runtime) nameOfClass(cls Value) string {
	if !rt.isClass(cls) {
		return "?"
	}
	s, ok := rt.tryGoString(rt.heap.SlotAt(cls, className))
	if !ok {
		return "?"
	}
	return s
}
