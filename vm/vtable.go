package vm

import "fmt"

// A class's vtable is the pair of parallel objects in its sels and impls
// slots. Selectors are interned strings compared by identity; a nil
// selector marks an unused entry. Inheritance is handled by walking the
// superclass chain when a selector is not found locally.

// installMethod adds or replaces the method for sel on cls. A replaced
// selector keeps its index; a new one takes the first unused entry, and a
// full table doubles. Every call site cache is flushed.
func (rt *Runtime) installMethod(cls, sel, impl Value) {
	if sel == Nil {
		panic(&Error{Kind: TypeMismatch, Msg: "nil selector", Value: cls})
	}
	unpin := rt.pin(cls, sel, impl)
	defer unpin()
	defer rt.caches.Flush()

	h := rt.heap
	size := operandInt(h.SlotAt(cls, classVTableSize))
	sels := h.SlotAt(cls, classSels)
	free := -1
	for i := 0; i < size; i++ {
		switch h.SlotAt(sels, i) {
		case sel:
			h.SlotAtPut(h.SlotAt(cls, classImpls), i, impl)
			return
		case Nil:
			if free < 0 {
				free = i
			}
		}
	}
	if free >= 0 {
		h.SlotAtPut(sels, free, sel)
		h.SlotAtPut(h.SlotAt(cls, classImpls), free, impl)
		return
	}

	grown := size * 2
	if grown == 0 {
		grown = 1
	}
	rt.growVTable(cls, classSels, size, grown)
	rt.growVTable(cls, classImpls, size, grown)
	h.SlotAtPut(cls, classVTableSize, FromInt(int64(grown)))
	h.SlotAtPut(h.SlotAt(cls, classSels), size, sel)
	h.SlotAtPut(h.SlotAt(cls, classImpls), size, impl)
}

// growVTable replaces slot which of cls with a copy of n entries widened
// to size. The new object is stored before anything else is allocated.
func (rt *Runtime) growVTable(cls Value, which, n, size int) {
	h := rt.heap
	grown := h.Allocate(size)
	copy(h.slots(grown), h.slots(h.SlotAt(cls, which))[:n])
	h.SlotAtPut(cls, which, grown)
}

// lookup walks the superclass chain from cls for sel. Raises
// DoesNotUnderstand naming the class and selector when no class has it.
func (rt *Runtime) lookup(cls, sel Value) Value {
	h := rt.heap
	if sel != Nil {
		for c := cls; c != Nil; c = h.SlotAt(c, classSuper) {
			size := operandInt(h.SlotAt(c, classVTableSize))
			sels := h.SlotAt(c, classSels)
			for i := 0; i < size; i++ {
				if h.SlotAt(sels, i) == sel {
					return h.SlotAt(h.SlotAt(c, classImpls), i)
				}
			}
		}
	}
	name := rt.nameOfClass(cls)
	text, ok := rt.tryGoString(sel)
	if !ok {
		text = sel.String()
	}
	panic(&Error{
		Kind:     DoesNotUnderstand,
		Msg:      fmt.Sprintf("%s does not understand %q", name, text),
		Value:    sel,
		Class:    name,
		Selector: text,
	})
}

// selectors returns the live (selector, method) pairs defined directly
// on cls.
func (rt *Runtime) selectors(cls Value) (sels, impls []Value) {
	h := rt.heap
	size := operandInt(h.SlotAt(cls, classVTableSize))
	s, m := h.SlotAt(cls, classSels), h.SlotAt(cls, classImpls)
	for i := 0; i < size; i++ {
		if sel := h.SlotAt(s, i); sel != Nil {
			sels = append(sels, sel)
			impls = append(impls, h.SlotAt(m, i))
		}
	}
	return sels, impls
}

// Selectors returns the text of each selector defined directly on cls,
// in vtable order.
func (rt *Runtime) Selectors(cls Value) (names []string, err error) {
	defer catch(&err)
	if !rt.isClass(cls) {
		return nil, typeMismatch(cls, "class")
	}
	sels, _ := rt.selectors(cls)
	for _, s := range sels {
		names = append(names, rt.goString(s))
	}
	return names, nil
}

// VTableSize returns the selector table capacity of cls.
func (rt *Runtime) VTableSize(cls Value) (n int, err error) {
	defer catch(&err)
	return operandInt(rt.heap.SlotAt(cls, classVTableSize)), nil
}
