// Package vm implements the tagvm object runtime.
//
// This package contains:
//   - Tagged value representation (immediate integers and table references)
//   - The object table with its free-list allocator and mark-sweep collector
//   - A stack bytecode interpreter with closures and tail calls
//   - Class objects, vtable lookup along the superclass chain and Send
//     with per-call-site inline caches
//   - Bootstrap of the primordial classes and snapshot/restore
package vm
