package vm

import "fmt"

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode is a primitive index. Every instruction is a 2-slot object
// (primitive index, operand), and the interpreter dispatches on the index
// into the runtime's primitive table. The core primitives are registered
// in exactly this order, so these constants are their table indices.
type Opcode int

// Stack and arithmetic
const (
	OpPush Opcode = iota // push operand
	OpPop                // discard top of stack
	OpEq                 // pop b, pop a, push 1 if identical else 0
	OpAdd                // pop b, pop a, push a+b
	OpSub                // pop b, pop a, push a-b
	OpMul                // pop b, pop a, push a*b
	OpBox                // pop v, push a fresh cell holding v
	OpUnbox              // pop cell, push its contents
)

// Frame-relative access
const (
	OpLd    Opcode = iota + OpUnbox + 1 // push slot fp-operand
	OpSt                                // pop into slot fp-operand
	OpArg                               // push argument operand (1-based; 0 is the callee)
	OpFv                                // push captured cell operand of the running closure
	OpStVar                             // pop v, pop cell, store v into cell
	OpMkFun                             // pop code and operand cells, push closure
)

// Calls
const (
	OpPrepCall Opcode = iota + OpMkFun + 1 // reserve saved ip, code, fp and nArgs
	OpCall                                 // enter boxed callee with operand boxed args
	OpTCall                                // tail call reusing the current frame
	OpRet                                  // return top of stack to the caller
)

// Classes and dispatch
const (
	OpInstMeth   Opcode = iota + OpRet + 1 // pop selector, pop impl, install on operand class
	OpObjGetSet                            // accessor body: get or set slot popped index
	OpDoPrim                               // pop primitive (and one operand if >0), push its result
	OpInstGetSet                           // pop selector, pop index, install accessor on operand class
	OpMkClass                              // pop super, pop slot names, define class named operand
	OpMkObj                                // pop extra slot count, instantiate operand class
	OpStrPrint                             // print operand string
	OpLookup                               // resolve frame selector box against arg 1
	OpSend                                 // enter resolved method with operand boxed args
)

// Control flow
const (
	OpJmp  Opcode = iota + OpSend + 1 // ip += operand
	OpJz                              // pop, jump if zero
	OpJnz                             // pop, jump if nonzero
	OpHalt                            // stop the interpreter
)

// Natives installed as methods on the bootstrap classes
const (
	OpObjIdentityHash Opcode = iota + OpHalt + 1
	OpIntIdentityHash
	OpNewline
	OpObjPrint
	OpNilPrint
	OpIntPrint
	OpObjPrintln
	OpPrintTable
	OpIntAdd
	OpIntSub
	OpIntMul
	OpStrCmp
	OpIntern

	numCoreOps // first index available to user natives
)

var opNames = [numCoreOps]string{
	OpPush:            "Push",
	OpPop:             "Pop",
	OpEq:              "Eq",
	OpAdd:             "Add",
	OpSub:             "Sub",
	OpMul:             "Mul",
	OpBox:             "Box",
	OpUnbox:           "Unbox",
	OpLd:              "Ld",
	OpSt:              "St",
	OpArg:             "Arg",
	OpFv:              "Fv",
	OpStVar:           "StVar",
	OpMkFun:           "MkFun",
	OpPrepCall:        "PrepCall",
	OpCall:            "Call",
	OpTCall:           "TCall",
	OpRet:             "Ret",
	OpInstMeth:        "InstMeth",
	OpObjGetSet:       "ObjGetSet",
	OpDoPrim:          "DoPrim",
	OpInstGetSet:      "InstGetSet",
	OpMkClass:         "MkClass",
	OpMkObj:           "MkObj",
	OpStrPrint:        "StrPrint",
	OpLookup:          "Lookup",
	OpSend:            "Send",
	OpJmp:             "Jmp",
	OpJz:              "Jz",
	OpJnz:             "Jnz",
	OpHalt:            "Halt",
	OpObjIdentityHash: "ObjIdentityHash",
	OpIntIdentityHash: "IntIdentityHash",
	OpNewline:         "Newline",
	OpObjPrint:        "ObjPrint",
	OpNilPrint:        "NilPrint",
	OpIntPrint:        "IntPrint",
	OpObjPrintln:      "ObjPrintln",
	OpPrintTable:      "PrintTable",
	OpIntAdd:          "IntAdd",
	OpIntSub:          "IntSub",
	OpIntMul:          "IntMul",
	OpStrCmp:          "StrCmp",
	OpIntern:          "Intern",
}

// String returns the core opcode name.
func (op Opcode) String() string {
	if op >= 0 && op < numCoreOps {
		return opNames[op]
	}
	return fmt.Sprintf("Native(%d)", int(op))
}

// Value returns the opcode as a tagged integer, which is how primitive
// indices appear on the stack and in instruction objects.
func (op Opcode) Value() Value {
	return FromInt(int64(op))
}

// ---------------------------------------------------------------------------
// Instructions
// ---------------------------------------------------------------------------

// Instr is the Go-side description of one instruction object.
type Instr struct {
	Op      Opcode
	Operand Value
}

// Op builds an instruction with a nil operand.
func Op(op Opcode) Instr {
	return Instr{Op: op, Operand: Nil}
}

// OpN builds an instruction with an integer operand.
func OpN(op Opcode, n int64) Instr {
	return Instr{Op: op, Operand: FromInt(n)}
}

// OpV builds an instruction with an arbitrary operand.
func OpV(op Opcode, v Value) Instr {
	return Instr{Op: op, Operand: v}
}

// assemble builds a code object from instrs and leaves it pushed on the
// operand stack; the caller pops it once it is stored elsewhere. Heap
// operands must already be reachable.
func (rt *Runtime) assemble(instrs []Instr) Value {
	code := rt.heap.Allocate(len(instrs))
	rt.push(code)
	for i, in := range instrs {
		cell := rt.heap.Allocate(2)
		rt.heap.SlotAtPut(cell, 0, in.Op.Value())
		rt.heap.SlotAtPut(cell, 1, in.Operand)
		rt.heap.SlotAtPut(code, i, cell)
	}
	return code
}

// Assemble builds a code object from instrs and records it in globals, so
// it stays live for the life of the runtime.
func (rt *Runtime) Assemble(instrs ...Instr) (code Value, err error) {
	defer rt.unwind(rt.saveRegisters(), &err)
	code = rt.assemble(instrs)
	rt.addGlobal(code)
	rt.pop()
	return code, nil
}

// Decode returns the instruction stored at index ip of code.
func (rt *Runtime) Decode(code Value, ip int) (in Instr, err error) {
	defer catch(&err)
	cell := rt.heap.SlotAt(code, ip)
	return Instr{Op: Opcode(rt.heap.SlotAt(cell, 0).Int()), Operand: rt.heap.SlotAt(cell, 1)}, nil
}
