package vm

import "fmt"

// ---------------------------------------------------------------------------
// Strings
// ---------------------------------------------------------------------------

// A string is an object of class Str with one integer slot per byte. The
// slot count is the length; there is no terminator.

// stringify allocates an unrooted string object holding s.
func (rt *Runtime) stringify(s string) Value {
	str := rt.heap.Allocate(len(s))
	for i := 0; i < len(s); i++ {
		rt.heap.SlotAtPut(str, i, FromInt(int64(s[i])))
	}
	if rt.StrClass != Nil {
		rt.heap.SetClass(str, rt.StrClass)
	}
	return str
}

// goString decodes a string object. Raises TypeMismatch when a slot is not
// a byte.
func (rt *Runtime) goString(v Value) string {
	if !v.IsRef() {
		panic(typeMismatch(v, "string"))
	}
	slots := rt.heap.slots(v)
	buf := make([]byte, len(slots))
	for i, c := range slots {
		if !c.IsInt() || c.Int() < 0 || c.Int() > 255 {
			panic(&Error{Kind: TypeMismatch, Msg: fmt.Sprintf("slot %d of %v is not a byte", i, v), Value: v, Index: i})
		}
		buf[i] = byte(c.Int())
	}
	return string(buf)
}

// tryGoString decodes v if it is a live string object.
func (rt *Runtime) tryGoString(v Value) (string, bool) {
	if !v.IsRef() || v.Index() < 0 || v.Index() >= rt.heap.Size() || rt.heap.entries[v.Index()].free() {
		return "", false
	}
	buf := make([]byte, 0, rt.heap.NumSlots(v))
	for _, c := range rt.heap.slots(v) {
		if !c.IsInt() || c.Int() < 0 || c.Int() > 255 {
			return "", false
		}
		buf = append(buf, byte(c.Int()))
	}
	return string(buf), true
}

// strCmp compares two strings bytewise: the first differing byte decides,
// otherwise the shorter string sorts first.
func (rt *Runtime) strCmp(a, b Value) int64 {
	sa, sb := rt.heap.slots(a), rt.heap.slots(b)
	for i := 0; i < len(sa) && i < len(sb); i++ {
		if d := sa[i].Int() - sb[i].Int(); d != 0 {
			return d
		}
	}
	return int64(len(sa) - len(sb))
}

// intern returns the canonical string equal to s, adding s to the
// interned list when none exists.
func (rt *Runtime) intern(s Value) Value {
	for cur := rt.deref(rt.interned); cur != Nil; cur = rt.heap.SlotAt(cur, 1) {
		if is := rt.heap.SlotAt(cur, 0); is == s || rt.strCmp(is, s) == 0 {
			return is
		}
	}
	rt.push(s)
	rt.heap.SlotAtPut(rt.interned, 0, rt.cons(s, rt.deref(rt.interned)))
	if rt.StrClass != Nil {
		rt.heap.SetClass(s, rt.StrClass)
	}
	rt.pop()
	return s
}

// internString interns the Go string s without allocating when an equal
// string is already interned.
func (rt *Runtime) internString(s string) Value {
	for cur := rt.deref(rt.interned); cur != Nil; cur = rt.heap.SlotAt(cur, 1) {
		is := rt.heap.SlotAt(cur, 0)
		if t, ok := rt.tryGoString(is); ok && t == s {
			return is
		}
	}
	return rt.intern(rt.stringify(s))
}

func primStrCmp(rt *Runtime, _ Value) Value {
	s1 := rt.pop()
	s2 := rt.pop()
	return FromInt(rt.strCmp(s1, s2))
}

func primIntern(rt *Runtime, s Value) Value {
	return rt.intern(s)
}

// ---------------------------------------------------------------------------
// Exported string API
// ---------------------------------------------------------------------------

// Stringify allocates a string object holding s. The result is unrooted.
func (rt *Runtime) Stringify(s string) (str Value, err error) {
	defer catch(&err)
	return rt.stringify(s), nil
}

// GoString decodes a string object.
func (rt *Runtime) GoString(v Value) (s string, err error) {
	defer catch(&err)
	return rt.goString(v), nil
}

// Intern returns the canonical string equal to s.
func (rt *Runtime) Intern(s Value) (is Value, err error) {
	defer catch(&err)
	return rt.intern(s), nil
}

// InternString returns the canonical string object for s.
func (rt *Runtime) InternString(s string) (is Value, err error) {
	defer catch(&err)
	return rt.internString(s), nil
}

// StrCmp compares two string objects; the sign of the result orders them.
func (rt *Runtime) StrCmp(a, b Value) (d int64, err error) {
	defer catch(&err)
	return rt.strCmp(a, b), nil
}

// Interned returns the interned strings, most recent first.
func (rt *Runtime) Interned() []string {
	var out []string
	for cur := rt.deref(rt.interned); cur != Nil; cur = rt.heap.SlotAt(cur, 1) {
		if s, ok := rt.tryGoString(rt.heap.SlotAt(cur, 0)); ok {
			out = append(out, s)
		}
	}
	return out
}
