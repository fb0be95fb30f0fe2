package vm

import (
	"fmt"
	"io"
	"strconv"
	"strings"
)

// MaxPrintDepth bounds nesting when printing object graphs; deeper
// objects print as "[...]".
const MaxPrintDepth = 5

// writeValue renders v structurally: nil, decimal integers, and objects
// as their bracketed, comma-separated slots.
func (rt *Runtime) writeValue(w io.StringWriter, v Value, depth int) {
	switch {
	case v == Nil:
		w.WriteString("nil")
	case v.IsInt():
		w.WriteString(strconv.FormatInt(v.Int(), 10))
	default:
		w.WriteString("[")
		if depth > MaxPrintDepth {
			w.WriteString("...")
		} else {
			for i, s := range rt.heap.slots(v) {
				if i > 0 {
					w.WriteString(", ")
				}
				rt.writeValue(w, s, depth+1)
			}
		}
		w.WriteString("]")
	}
}

func (rt *Runtime) format(v Value) string {
	var sb strings.Builder
	rt.writeValue(&sb, v, 0)
	return sb.String()
}

// Format renders v the way Object>>print shows its slots.
func (rt *Runtime) Format(v Value) (s string, err error) {
	defer catch(&err)
	return rt.format(v), nil
}

func (rt *Runtime) write(s string) {
	io.WriteString(rt.out, s)
}

// ---------------------------------------------------------------------------
// Print natives
// ---------------------------------------------------------------------------

func primStrPrint(rt *Runtime, s Value) Value {
	rt.write(rt.goString(s))
	return s
}

func primObjPrint(rt *Runtime, recv Value) Value {
	rt.write(rt.nameOfClass(rt.classOf(recv)) + rt.format(recv))
	return Nil
}

func primNilPrint(rt *Runtime, _ Value) Value {
	rt.write("nil")
	return Nil
}

func primIntPrint(rt *Runtime, recv Value) Value {
	rt.write(strconv.FormatInt(recv.Int(), 10))
	return Nil
}

func primNewline(rt *Runtime, _ Value) Value {
	rt.write("\n")
	return Nil
}

// primObjPrintln sends print to the receiver, then ends the line.
func primObjPrintln(rt *Runtime, recv Value) Value {
	rt.send(rt.selPrint, recv)
	rt.write("\n")
	return Nil
}

func primPrintTable(rt *Runtime, _ Value) Value {
	rt.dumpTable(rt.out)
	return Nil
}

// Println sends println to v, writing to the runtime's output.
func (rt *Runtime) Println(v Value) (Value, error) {
	return rt.Send(rt.selPrintln, v)
}

// ---------------------------------------------------------------------------
// Table dump
// ---------------------------------------------------------------------------

// dumpTable writes one line per table entry: free entries with their
// successor, live ones with their class name and slots, references shown
// as (index).
func (rt *Runtime) dumpTable(w io.Writer) {
	h := rt.heap
	for i := range h.entries {
		e := &h.entries[i]
		if e.free() {
			fmt.Fprintf(w, "%d: (free, next=%d)\n", i, e.next)
			continue
		}
		var sb strings.Builder
		fmt.Fprintf(&sb, "%d: %s[", i, rt.nameOfClass(e.class))
		for n, v := range e.slots {
			if n > 0 {
				sb.WriteString(", ")
			}
			if v.IsInt() {
				sb.WriteString(strconv.FormatInt(v.Int(), 10))
			} else {
				fmt.Fprintf(&sb, "(%d)", v.Index())
			}
		}
		sb.WriteString("]\n")
		io.WriteString(w, sb.String())
	}
}

// DumpTable writes the whole object table to w.
func (rt *Runtime) DumpTable(w io.Writer) {
	rt.dumpTable(w)
}
