package vm

import "fmt"

// MaxPrimitives is the capacity of a runtime's primitive table.
const MaxPrimitives = 64

// PrimFunc is a native callable. It receives the instruction operand (or
// the value popped by DoPrim) and may freely push and pop the shared
// operand stack. Its result is pushed only by DoPrim.
type PrimFunc func(rt *Runtime, operand Value) Value

// Primitive is a named entry in the primitive table.
type Primitive struct {
	Name string
	Fn   PrimFunc
}

// RegisterPrimitive appends a native to the primitive table and returns
// its index as a tagged integer, ready to be used as an opcode or pushed
// for DoPrim.
func (rt *Runtime) RegisterPrimitive(name string, fn PrimFunc) (Value, error) {
	if fn == nil {
		return Nil, fmt.Errorf("vm: primitive %q has no body", name)
	}
	if len(rt.prims) >= MaxPrimitives {
		return Nil, &Error{
			Kind:  ExhaustedMemory,
			Msg:   fmt.Sprintf("primitive table full (%d entries) registering %q", MaxPrimitives, name),
			Index: len(rt.prims),
		}
	}
	rt.prims = append(rt.prims, Primitive{Name: name, Fn: fn})
	return FromInt(int64(len(rt.prims) - 1)), nil
}

// Primitives returns the registered primitive names in index order.
func (rt *Runtime) Primitives() []string {
	names := make([]string, len(rt.prims))
	for i, p := range rt.prims {
		names[i] = p.Name
	}
	return names
}

// primitive returns the table entry for index v.
func (rt *Runtime) primitive(v Value) Primitive {
	if !v.IsInt() {
		panic(&Error{Kind: InvalidOpcode, Msg: fmt.Sprintf("%s is not a valid primitive", rawString(v)), Value: v})
	}
	i := v.Int()
	if i < 0 || i >= int64(len(rt.prims)) {
		panic(&Error{Kind: InvalidOpcode, Msg: fmt.Sprintf("%d is not a valid primitive", i), Value: v, Index: int(i)})
	}
	return rt.prims[i]
}

// registerCore installs the instruction primitives and bootstrap natives
// at the indices fixed by the Opcode constants.
func (rt *Runtime) registerCore() {
	core := [numCoreOps]PrimFunc{
		OpPush:            primPush,
		OpPop:             primPop,
		OpEq:              primEq,
		OpAdd:             primAdd,
		OpSub:             primSub,
		OpMul:             primMul,
		OpBox:             primBox,
		OpUnbox:           primUnbox,
		OpLd:              primLd,
		OpSt:              primSt,
		OpArg:             primArg,
		OpFv:              primFv,
		OpStVar:           primStVar,
		OpMkFun:           primMkFun,
		OpPrepCall:        primPrepCall,
		OpCall:            primCall,
		OpTCall:           primTCall,
		OpRet:             primRet,
		OpInstMeth:        primInstMeth,
		OpObjGetSet:       primObjGetSet,
		OpDoPrim:          primDoPrim,
		OpInstGetSet:      primInstGetSet,
		OpMkClass:         primMkClass,
		OpMkObj:           primMkObj,
		OpStrPrint:        primStrPrint,
		OpLookup:          primLookup,
		OpSend:            primSend,
		OpJmp:             primJmp,
		OpJz:              primJz,
		OpJnz:             primJnz,
		OpHalt:            primHalt,
		OpObjIdentityHash: primObjIdentityHash,
		OpIntIdentityHash: primIntIdentityHash,
		OpNewline:         primNewline,
		OpObjPrint:        primObjPrint,
		OpNilPrint:        primNilPrint,
		OpIntPrint:        primIntPrint,
		OpObjPrintln:      primObjPrintln,
		OpPrintTable:      primPrintTable,
		OpIntAdd:          primIntAdd,
		OpIntSub:          primIntSub,
		OpIntMul:          primIntMul,
		OpStrCmp:          primStrCmp,
		OpIntern:          primIntern,
	}
	rt.prims = make([]Primitive, 0, MaxPrimitives)
	for op, fn := range core {
		idx, err := rt.RegisterPrimitive(Opcode(op).String(), fn)
		if err != nil || idx.Int() != int64(op) {
			panic(fmt.Sprintf("vm: core primitive %s registered at %v", Opcode(op), idx))
		}
	}
}
