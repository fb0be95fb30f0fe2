package vm

import (
	"bytes"
	"strings"
	"testing"
)

func newTestRuntime(t *testing.T) *Runtime {
	t.Helper()
	rt, err := New(DefaultOptions())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return rt
}

func mustAssemble(t *testing.T, rt *Runtime, instrs ...Instr) Value {
	t.Helper()
	code, err := rt.Assemble(instrs...)
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	return code
}

func mustClosure(t *testing.T, rt *Runtime, instrs ...Instr) Value {
	t.Helper()
	clo, err := rt.NewClosure(mustAssemble(t, rt, instrs...))
	if err != nil {
		t.Fatalf("NewClosure: %v", err)
	}
	return clo
}

func mustIntern(t *testing.T, rt *Runtime, s string) Value {
	t.Helper()
	v, err := rt.InternString(s)
	if err != nil {
		t.Fatalf("InternString(%q): %v", s, err)
	}
	return v
}

func TestNewRejectsTinyTable(t *testing.T) {
	opts := DefaultOptions()
	opts.InitialTableSize = 1
	if _, err := New(opts); err == nil {
		t.Error("New with a 1-entry table succeeded")
	}
}

func TestNewExhaustedDuringBootstrap(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxTableSize = 16
	_, err := New(opts)
	if !IsKind(err, ExhaustedMemory) {
		t.Errorf("New with a 16-entry limit: err = %v, want ExhaustedMemory", err)
	}
}

func TestBootstrapClasses(t *testing.T) {
	rt := newTestRuntime(t)

	if cls, _ := rt.ClassOf(Nil); cls != rt.NilClass {
		t.Errorf("ClassOf(nil) = %v, want Nil class %v", cls, rt.NilClass)
	}
	if cls, _ := rt.ClassOf(FromInt(3)); cls != rt.IntClass {
		t.Errorf("ClassOf(3) = %v, want Int class", cls)
	}
	for _, c := range []Value{rt.ObjectClass, rt.ClassClass, rt.CellClass, rt.ClosureClass, rt.IntClass, rt.NilClass, rt.StrClass} {
		if cls, _ := rt.ClassOf(c); cls != rt.ClassClass {
			t.Errorf("class of %s = %v, want Class", rt.nameOfClass(c), cls)
		}
	}

	names := map[Value]string{
		rt.ObjectClass: "Object", rt.ClassClass: "Class", rt.CellClass: "Cell",
		rt.ClosureClass: "Closure", rt.IntClass: "Int", rt.NilClass: "Nil", rt.StrClass: "Str",
	}
	for cls, want := range names {
		if got := rt.nameOfClass(cls); got != want {
			t.Errorf("class name = %q, want %q", got, want)
		}
	}
	if super := rt.superOf(rt.ObjectClass); super != Nil {
		t.Errorf("Object super = %v, want nil", super)
	}
	if !rt.IsSubclassOf(rt.StrClass, rt.ObjectClass) {
		t.Error("Str is not a subclass of Object")
	}
	if n, _ := rt.NumSlots(Nil); n != 0 {
		t.Errorf("nil has %d slots, want 0", n)
	}
}

func TestBootstrapBalancesStack(t *testing.T) {
	rt := newTestRuntime(t)
	r := rt.Registers()
	if r.SP != 0 || r.FP != 0 {
		t.Errorf("after bootstrap sp = %d, fp = %d, want 0, 0", r.SP, r.FP)
	}
}

func TestCollectAfterBootstrapKeepsRuntime(t *testing.T) {
	rt := newTestRuntime(t)
	before := rt.LiveCount()
	rt.Collect()
	if after := rt.LiveCount(); after > before {
		t.Errorf("live count grew from %d to %d across a collection", before, after)
	}
	if _, err := rt.FreeList(); err != nil {
		t.Fatalf("FreeList: %v", err)
	}

	got, err := rt.SendString("+", FromInt(5), FromInt(6))
	if err != nil {
		t.Fatalf("send + after collection: %v", err)
	}
	if got != FromInt(11) {
		t.Errorf("5 + 6 = %v, want 11", got)
	}
}

func TestUnrootedObjectsReclaimed(t *testing.T) {
	rt := newTestRuntime(t)
	rt.Collect()
	base := rt.LiveCount()
	for i := 0; i < 100; i++ {
		if _, err := rt.Allocate(4); err != nil {
			t.Fatalf("Allocate: %v", err)
		}
	}
	rt.Collect()
	if got := rt.LiveCount(); got != base {
		t.Errorf("live count = %d after collecting garbage, want %d", got, base)
	}
}

func TestGlobalsAreRoots(t *testing.T) {
	rt := newTestRuntime(t)
	cell, err := rt.NewCell(FromInt(77))
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		rt.Collect()
	}
	if v, err := rt.Deref(cell); err != nil || v != FromInt(77) {
		t.Errorf("Deref(global cell) = %v, %v, want 77", v, err)
	}
	found := false
	for _, g := range rt.Globals() {
		if g == cell {
			found = true
		}
	}
	if !found {
		t.Error("cell missing from globals")
	}
}

func TestPushedValuesAreRoots(t *testing.T) {
	rt := newTestRuntime(t)
	obj, _ := rt.Allocate(2)
	if err := rt.Push(obj); err != nil {
		t.Fatal(err)
	}
	rt.Collect()
	if _, err := rt.NumSlots(obj); err != nil {
		t.Errorf("pushed object reclaimed: %v", err)
	}
	popped, _ := rt.Pop()
	if popped != obj {
		t.Errorf("Pop = %v, want %v", popped, obj)
	}
	rt.Collect()
	if _, err := rt.NumSlots(obj); !IsKind(err, OutOfRange) {
		t.Errorf("popped object survived: err = %v", err)
	}
}

func TestPopEmptyStack(t *testing.T) {
	rt := newTestRuntime(t)
	if _, err := rt.Pop(); !IsKind(err, StackUnderflow) {
		t.Errorf("Pop on empty stack: err = %v, want StackUnderflow", err)
	}
}

func TestStackOverflow(t *testing.T) {
	opts := DefaultOptions()
	opts.StackSlots = 8
	rt, err := New(opts)
	if err != nil {
		t.Fatal(err)
	}
	code := mustAssemble(t, rt,
		OpN(OpPush, 1), OpN(OpJmp, -2),
	)
	if _, err := rt.Run(code); !IsKind(err, StackOverflow) {
		t.Errorf("unbounded push: err = %v, want StackOverflow", err)
	}
	if r := rt.Registers(); r.SP != 0 {
		t.Errorf("sp = %d after failed run, want 0", r.SP)
	}
}

func TestDumpTable(t *testing.T) {
	rt := newTestRuntime(t)
	var buf bytes.Buffer
	rt.DumpTable(&buf)
	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	if len(lines) != rt.TableSize() {
		t.Fatalf("DumpTable wrote %d lines for %d entries", len(lines), rt.TableSize())
	}
	if lines[0] != "0: Nil[]" {
		t.Errorf("entry 0 = %q, want %q", lines[0], "0: Nil[]")
	}
	if !strings.Contains(buf.String(), "(free, next=") && rt.heap.FreeCount() > 0 {
		t.Error("free entries missing from dump")
	}
}
