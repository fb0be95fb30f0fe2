package vm

import "testing"

func TestRunArithmetic(t *testing.T) {
	tests := []struct {
		name   string
		instrs []Instr
		want   int64
	}{
		{"add", []Instr{OpN(OpPush, 3), OpN(OpPush, 4), Op(OpAdd), Op(OpHalt)}, 7},
		{"sub", []Instr{OpN(OpPush, 3), OpN(OpPush, 4), Op(OpSub), Op(OpHalt)}, -1},
		{"mul", []Instr{OpN(OpPush, -6), OpN(OpPush, 7), Op(OpMul), Op(OpHalt)}, -42},
		{"eq true", []Instr{OpN(OpPush, 5), OpN(OpPush, 5), Op(OpEq), Op(OpHalt)}, 1},
		{"eq false", []Instr{OpN(OpPush, 5), OpN(OpPush, 6), Op(OpEq), Op(OpHalt)}, 0},
		{"pop", []Instr{OpN(OpPush, 1), OpN(OpPush, 2), Op(OpPop), Op(OpHalt)}, 1},
		{"box unbox", []Instr{OpN(OpPush, 9), Op(OpBox), Op(OpUnbox), Op(OpHalt)}, 9},
		{"jz taken", []Instr{OpN(OpPush, 0), OpN(OpJz, 2), OpN(OpPush, 1), Op(OpHalt), OpN(OpPush, 2), Op(OpHalt)}, 2},
		{"jz not taken", []Instr{OpN(OpPush, 1), OpN(OpJz, 2), OpN(OpPush, 1), Op(OpHalt), OpN(OpPush, 2), Op(OpHalt)}, 1},
		{"jnz taken", []Instr{OpN(OpPush, 3), OpN(OpJnz, 2), OpN(OpPush, 1), Op(OpHalt), OpN(OpPush, 2), Op(OpHalt)}, 2},
		{"frame loads", []Instr{OpN(OpPush, 1), OpN(OpPush, 2), OpN(OpLd, 0), OpN(OpLd, -1), Op(OpAdd), OpN(OpSt, 0), Op(OpPop), Op(OpHalt)}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := newTestRuntime(t)
			got, err := rt.Run(mustAssemble(t, rt, tt.instrs...))
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if got != FromInt(tt.want) {
				t.Errorf("result = %v, want %d", got, tt.want)
			}
		})
	}
}

func TestRunLoop(t *testing.T) {
	rt := newTestRuntime(t)
	// sum = 0; n = 10; while n != 0 { sum += n; n-- }
	code := mustAssemble(t, rt,
		OpN(OpPush, 0),  // 0: sum at fp
		OpN(OpPush, 10), // 1: n at fp+1
		OpN(OpLd, -1),   // 2
		OpN(OpJz, 10),   // 3: exit to 14
		OpN(OpLd, 0),    // 4
		OpN(OpLd, -1),   // 5
		Op(OpAdd),       // 6
		OpN(OpSt, 0),    // 7
		OpN(OpLd, -1),   // 8
		OpN(OpPush, 1),  // 9
		Op(OpSub),       // 10
		OpN(OpSt, -1),   // 11
		OpN(OpJmp, -11), // 12: back to 2
		Op(OpHalt),      // 13
		Op(OpPop),       // 14: drop n
		Op(OpHalt),      // 15
	)
	got, err := rt.Run(code)
	if err != nil {
		t.Fatal(err)
	}
	if got != FromInt(55) {
		t.Errorf("sum = %v, want 55", got)
	}
}

func TestRunErrors(t *testing.T) {
	tests := []struct {
		name   string
		instrs []Instr
		kind   ErrorKind
	}{
		{"add overflow", []Instr{OpN(OpPush, MaxInt), OpN(OpPush, 1), Op(OpAdd), Op(OpHalt)}, IntegerOverflow},
		{"mul overflow", []Instr{OpN(OpPush, 1 << 40), OpN(OpPush, 1 << 40), Op(OpMul), Op(OpHalt)}, IntegerOverflow},
		{"invalid opcode", []Instr{{Op: Opcode(63), Operand: Nil}, Op(OpHalt)}, InvalidOpcode},
		{"underflow", []Instr{Op(OpPop), Op(OpHalt)}, StackUnderflow},
		{"add reference", []Instr{OpV(OpPush, Nil), OpN(OpPush, 1), Op(OpAdd), Op(OpHalt)}, TypeMismatch},
		{"unbox integer", []Instr{OpN(OpPush, 1), Op(OpUnbox), Op(OpHalt)}, TypeMismatch},
		{"run off the end", []Instr{OpN(OpPush, 1)}, OutOfRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := newTestRuntime(t)
			before := rt.Registers()
			_, err := rt.Run(mustAssemble(t, rt, tt.instrs...))
			if !IsKind(err, tt.kind) {
				t.Fatalf("err = %v, want %v", err, tt.kind)
			}
			if after := rt.Registers(); after.SP != before.SP || after.FP != before.FP {
				t.Errorf("registers after error = %+v, want sp %d fp %d", after, before.SP, before.FP)
			}
		})
	}
}

func TestMulInt(t *testing.T) {
	tests := []struct {
		a, b     int64
		want     int64
		overflow bool
	}{
		{0, MaxInt, 0, false},
		{-1, MaxInt, -MaxInt, false},
		{1 << 31, 1 << 30, 1 << 61, false},
		{-(1 << 31), 1 << 31, MinInt, false},
		{1 << 31, 1 << 31, 0, true},
		{MinInt, -1, 0, true},
		{MaxInt, MaxInt, 0, true},
	}
	for _, tt := range tests {
		func() {
			defer func() {
				e, _ := recover().(*Error)
				if tt.overflow && (e == nil || e.Kind != IntegerOverflow) {
					t.Errorf("mulInt(%d, %d) raised %v, want IntegerOverflow", tt.a, tt.b, e)
				}
				if !tt.overflow && e != nil {
					t.Errorf("mulInt(%d, %d) raised %v", tt.a, tt.b, e)
				}
			}()
			if got := mulInt(tt.a, tt.b); got != tt.want {
				t.Errorf("mulInt(%d, %d) = %d, want %d", tt.a, tt.b, got, tt.want)
			}
		}()
	}
}

func TestCallAndReturn(t *testing.T) {
	rt := newTestRuntime(t)
	add := mustClosure(t, rt,
		OpN(OpArg, 1), Op(OpUnbox),
		OpN(OpArg, 2), Op(OpUnbox),
		Op(OpAdd), Op(OpRet),
	)
	code := mustAssemble(t, rt,
		Op(OpPrepCall),
		OpV(OpPush, add), Op(OpBox),
		OpN(OpPush, 3), Op(OpBox),
		OpN(OpPush, 4), Op(OpBox),
		OpN(OpCall, 2),
		Op(OpHalt),
	)
	before := rt.Registers()
	got, err := rt.Run(code)
	if err != nil {
		t.Fatal(err)
	}
	if got != FromInt(7) {
		t.Errorf("add(3, 4) = %v, want 7", got)
	}
	if after := rt.Registers(); after.SP != before.SP || after.FP != before.FP || after.CodeBlock != before.CodeBlock {
		t.Errorf("registers after call = %+v, want %+v", after, before)
	}

	got, err = rt.Call(add, FromInt(40), FromInt(2))
	if err != nil {
		t.Fatal(err)
	}
	if got != FromInt(42) {
		t.Errorf("Call(add, 40, 2) = %v, want 42", got)
	}
}

func TestCallLocals(t *testing.T) {
	rt := newTestRuntime(t)
	// local := arg1; return local + 1
	inc := mustClosure(t, rt,
		OpN(OpPush, 0),
		OpN(OpArg, 1), Op(OpUnbox),
		OpN(OpSt, -2),
		OpN(OpLd, -2),
		OpN(OpPush, 1), Op(OpAdd),
		Op(OpRet),
	)
	got, err := rt.Call(inc, FromInt(41))
	if err != nil {
		t.Fatal(err)
	}
	if got != FromInt(42) {
		t.Errorf("inc(41) = %v, want 42", got)
	}
}

func TestNestedCalls(t *testing.T) {
	rt := newTestRuntime(t)
	// sum(n) = n == 0 ? 0 : n + sum(n-1), not a tail call
	sum := mustClosure(t, rt,
		OpN(OpArg, 1), Op(OpUnbox), // 0, 1
		OpN(OpJnz, 2),   // 2: to 5
		OpN(OpPush, 0),  // 3
		Op(OpRet),       // 4
		OpN(OpArg, 1),   // 5
		Op(OpUnbox),     // 6
		Op(OpPrepCall),  // 7
		OpN(OpArg, 0),   // 8: the callee's own cell
		OpN(OpArg, 1),   // 9
		Op(OpUnbox),     // 10
		OpN(OpPush, 1),  // 11
		Op(OpSub),       // 12
		Op(OpBox),       // 13
		OpN(OpCall, 1),  // 14
		Op(OpAdd),       // 15
		Op(OpRet),       // 16
	)
	got, err := rt.Call(sum, FromInt(100))
	if err != nil {
		t.Fatal(err)
	}
	if got != FromInt(5050) {
		t.Errorf("sum(100) = %v, want 5050", got)
	}
	if r := rt.Registers(); r.SP != 0 {
		t.Errorf("sp = %d after nested calls, want 0", r.SP)
	}

	if _, err := rt.Call(sum, FromInt(100000)); !IsKind(err, StackOverflow) {
		t.Errorf("sum(100000): err = %v, want StackOverflow", err)
	}
	if r := rt.Registers(); r.SP != 0 || r.FP != 0 {
		t.Errorf("registers after overflow = %+v, want sp 0 fp 0", r)
	}
}

func TestClosuresShareCells(t *testing.T) {
	rt := newTestRuntime(t)
	counter, err := rt.NewCell(FromInt(0))
	if err != nil {
		t.Fatal(err)
	}
	incCode := mustAssemble(t, rt,
		OpN(OpFv, 0),
		OpN(OpFv, 0), Op(OpUnbox), OpN(OpPush, 1), Op(OpAdd),
		Op(OpStVar),
		OpN(OpFv, 0), Op(OpUnbox),
		Op(OpRet),
	)
	getCode := mustAssemble(t, rt, OpN(OpFv, 0), Op(OpUnbox), Op(OpRet))
	inc, err := rt.NewClosure(incCode, counter)
	if err != nil {
		t.Fatal(err)
	}
	get, err := rt.NewClosure(getCode, counter)
	if err != nil {
		t.Fatal(err)
	}

	for want := int64(1); want <= 3; want++ {
		got, err := rt.Call(inc)
		if err != nil {
			t.Fatal(err)
		}
		if got != FromInt(want) {
			t.Errorf("inc() = %v, want %d", got, want)
		}
	}
	if got, _ := rt.Call(get); got != FromInt(3) {
		t.Errorf("get() = %v, want 3", got)
	}
	if got, _ := rt.Deref(counter); got != FromInt(3) {
		t.Errorf("counter cell = %v, want 3", got)
	}
}

func TestMkFun(t *testing.T) {
	rt := newTestRuntime(t)
	body := mustAssemble(t, rt, OpN(OpFv, 1), Op(OpUnbox), Op(OpRet))
	a, _ := rt.NewCell(FromInt(1))
	b, _ := rt.NewCell(FromInt(2))
	code := mustAssemble(t, rt,
		OpV(OpPush, body), OpV(OpPush, a), OpV(OpPush, b),
		OpN(OpMkFun, 2),
		Op(OpHalt),
	)
	clo, err := rt.Run(code)
	if err != nil {
		t.Fatal(err)
	}
	if cls, _ := rt.ClassOf(clo); cls != rt.ClosureClass {
		t.Errorf("class of MkFun result = %s, want Closure", rt.nameOfClass(cls))
	}
	for i, want := range []Value{body, a, b} {
		if got, _ := rt.SlotAt(clo, i); got != want {
			t.Errorf("closure slot %d = %v, want %v", i, got, want)
		}
	}
	rt.AddGlobal(clo)
	if got, err := rt.Call(clo); err != nil || got != FromInt(2) {
		t.Errorf("Call(closure) = %v, %v, want 2", got, err)
	}
}

func TestCollectDuringInterpretation(t *testing.T) {
	rt := newTestRuntime(t)
	rt.Collect()
	before := rt.GCStats().Collections

	// Boxing in a loop allocates a cell per iteration.
	code := mustAssemble(t, rt,
		OpN(OpPush, 5000), // 0: n
		OpN(OpLd, 0),      // 1
		OpN(OpJz, 8),      // 2: to 11
		OpN(OpLd, 0),      // 3
		Op(OpBox),         // 4
		Op(OpUnbox),       // 5
		OpN(OpPush, 1),    // 6
		Op(OpSub),         // 7
		OpN(OpSt, 0),      // 8
		OpN(OpJmp, -9),    // 9: to 1
		Op(OpHalt),        // 10
		Op(OpHalt),        // 11
	)
	got, err := rt.Run(code)
	if err != nil {
		t.Fatal(err)
	}
	if got != FromInt(0) {
		t.Errorf("countdown = %v, want 0", got)
	}
	if rt.GCStats().Collections == before {
		t.Error("no collection ran while boxing 5000 cells")
	}
	if _, err := rt.FreeList(); err != nil {
		t.Error(err)
	}
}

func TestHaltInsideCall(t *testing.T) {
	rt := newTestRuntime(t)
	stop := mustClosure(t, rt, OpN(OpPush, 9), Op(OpHalt))
	before := rt.Registers()
	for i := 0; i < 2; i++ {
		got, err := rt.Call(stop)
		if err != nil {
			t.Fatal(err)
		}
		if got != FromInt(9) {
			t.Errorf("call %d = %v, want 9", i, got)
		}
		if after := rt.Registers(); after.SP != before.SP || after.FP != before.FP || after.CodeBlock != before.CodeBlock {
			t.Errorf("registers after call %d = %+v, want %+v", i, after, before)
		}
	}
}

func TestRunDiscardsLeftovers(t *testing.T) {
	rt := newTestRuntime(t)
	code := mustAssemble(t, rt, OpN(OpPush, 1), OpN(OpPush, 2), OpN(OpPush, 3), Op(OpHalt))
	before := rt.Registers()
	got, err := rt.Run(code)
	if err != nil {
		t.Fatal(err)
	}
	if got != FromInt(3) {
		t.Errorf("Run = %v, want 3", got)
	}
	if after := rt.Registers(); after.SP != before.SP || after.FP != before.FP {
		t.Errorf("registers after Run = %+v, want %+v", after, before)
	}
}
