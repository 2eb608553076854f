// Package vm implements the object runtime that msgtap intercepts.
//
// This package contains:
//   - Interned selectors and per-class copy-on-write dispatch tables
//   - Type encodings and method signatures
//   - Invocations with native-endian argument frames
//   - Forwarding handlers and the does-not-understand failure
//   - Objects with retargetable classes and lifetimes
package vm
