package vm

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a fatal runtime condition.
type ErrorKind int

const (
	OutOfRange        ErrorKind = iota + 1 // slot index outside [0, slotCount)
	InvalidOpcode                          // primitive index not registered
	DoesNotUnderstand                      // selector missing from the whole class chain
	StackUnderflow                         // pop or frame read below the stack base
	StackOverflow                          // push past the stack object's capacity
	ExhaustedMemory                        // object table cannot grow further
	IntegerOverflow                        // result outside the tagged integer range
	TypeMismatch                           // integer used as a reference or vice versa
	BadArity                               // accessor or primitive called with the wrong argument count
)

var kindNames = map[ErrorKind]string{
	OutOfRange:        "out of range",
	InvalidOpcode:     "invalid opcode",
	DoesNotUnderstand: "does not understand",
	StackUnderflow:    "stack underflow",
	StackOverflow:     "stack overflow",
	ExhaustedMemory:   "exhausted memory",
	IntegerOverflow:   "integer overflow",
	TypeMismatch:      "type mismatch",
	BadArity:          "bad arity",
}

func (k ErrorKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// Error is a fatal runtime condition. The interpreter raises it with panic
// at the detection point; exported entry points recover it and return it.
type Error struct {
	Kind     ErrorKind
	Msg      string
	Value    Value  // offending value (reference, operand or opcode)
	Index    int    // offending slot or table index
	Class    string // receiver class name (DoesNotUnderstand)
	Selector string // selector text (DoesNotUnderstand)
}

func (e *Error) Error() string {
	return "vm: " + e.Kind.String() + ": " + e.Msg
}

// IsKind reports whether err is (or wraps) a runtime Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// catch converts a raised *Error into a returned error. Any other panic
// keeps unwinding.
func catch(err *error) {
	if r := recover(); r != nil {
		if e, ok := r.(*Error); ok {
			*err = e
			return
		}
		panic(r)
	}
}

func typeMismatch(v Value, want string) *Error {
	return &Error{Kind: TypeMismatch, Msg: fmt.Sprintf("expected %s, got %s", want, rawString(v)), Value: v}
}

func outOfRange(ref Value, idx, n int) *Error {
	return &Error{
		Kind:  OutOfRange,
		Msg:   fmt.Sprintf("slot %d of %s (slot count %d)", idx, ref, n),
		Value: ref,
		Index: idx,
	}
}

// rawString renders v without touching the object table.
func rawString(v Value) string {
	if v.IsInt() {
		return fmt.Sprintf("integer %d", int64(v)>>1)
	}
	return fmt.Sprintf("reference @%d", int64(v)>>1)
}
