package vm

import "strconv"

// Value represents a tagged machine word.
//
// Encoding scheme:
//   - Integer:   low bit 1, the remaining 63 bits hold a signed payload
//   - Reference: low bit 0, the remaining bits hold an object table index
//
// There is no separate type tag. The zero Value is a reference to table
// entry 0, which the bootstrap reserves for the canonical nil object, so
// zero-filled slot storage reads as nil.
type Value int64

// Nil is the reference to the all-zero-slot object at table index 0.
const Nil Value = 0

// Integer range (63-bit signed)
const (
	MaxInt int64 = (1 << 62) - 1
	MinInt int64 = -(1 << 62)
)

// ---------------------------------------------------------------------------
// Type checking
// ---------------------------------------------------------------------------

// IsInt returns true if v is an immediate integer.
func (v Value) IsInt() bool {
	return v&1 == 1
}

// IsRef returns true if v is a reference into the object table.
func (v Value) IsRef() bool {
	return v&1 == 0
}

// IsNil returns true if v is the nil reference.
func (v Value) IsNil() bool {
	return v == Nil
}

// ---------------------------------------------------------------------------
// Integer operations
// ---------------------------------------------------------------------------

// Int returns the integer payload of v.
// Raises TypeMismatch if v is a reference.
func (v Value) Int() int64 {
	if !v.IsInt() {
		panic(typeMismatch(v, "integer"))
	}
	return int64(v) >> 1
}

// FromInt creates an immediate integer Value.
// Raises IntegerOverflow if n is outside [MinInt, MaxInt].
func FromInt(n int64) Value {
	if n > MaxInt || n < MinInt {
		panic(&Error{Kind: IntegerOverflow, Msg: strconv.FormatInt(n, 10) + " does not fit in a tagged integer"})
	}
	return Value(n<<1 | 1)
}

// TryFromInt creates an immediate integer Value, returning false if n is
// out of range.
func TryFromInt(n int64) (Value, bool) {
	if n > MaxInt || n < MinInt {
		return Nil, false
	}
	return Value(n<<1 | 1), true
}

// ---------------------------------------------------------------------------
// Reference operations
// ---------------------------------------------------------------------------

// Index returns the object table index encoded in v.
// Raises TypeMismatch if v is an integer.
func (v Value) Index() int {
	if !v.IsRef() {
		panic(typeMismatch(v, "reference"))
	}
	return int(int64(v) >> 1)
}

// FromIndex creates a reference to object table entry i.
func FromIndex(i int) Value {
	if i < 0 {
		panic(&Error{Kind: OutOfRange, Msg: "negative table index " + strconv.Itoa(i), Index: i})
	}
	return Value(int64(i) << 1)
}

// String renders v for diagnostics: integers in decimal, references as @index.
func (v Value) String() string {
	switch {
	case v.IsInt():
		return strconv.FormatInt(v.Int(), 10)
	case v == Nil:
		return "nil"
	default:
		return "@" + strconv.Itoa(v.Index())
	}
}
