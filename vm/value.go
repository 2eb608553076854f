package vm

import (
	"bytes"
	"fmt"
	"math"
	"unsafe"
)

// Value is a boxed dynamic value.
//
// Scalars keep their bit pattern in bits together with the width they were
// read at, so a value boxed from an int8 argument still reports width 1.
// References (objects, classes, raw byte blocks) live in ref, which keeps
// them visible to the garbage collector.
//
// Tags:
//   - Nil: the nil reference
//   - Bool: true / false
//   - Int, Uint: two's complement / unsigned integers of width 1, 2, 4 or 8
//   - Float: IEEE 754 values of width 4 or 8 (stored widened to float64)
//   - Object, Class: references to runtime objects and classes
//   - Selector: an interned selector id
//   - Raw: bytes copied out of an argument frame plus their encoding
type Value struct {
	tag   Tag
	width uint8
	bits  uint64
	ref   any
}

// Tag identifies what a Value holds.
type Tag uint8

const (
	TagNil Tag = iota
	TagBool
	TagInt
	TagUint
	TagFloat
	TagObject
	TagClass
	TagSelector
	TagRaw
)

var tagNames = [...]string{
	TagNil:      "nil",
	TagBool:     "bool",
	TagInt:      "int",
	TagUint:     "uint",
	TagFloat:    "float",
	TagObject:   "object",
	TagClass:    "class",
	TagSelector: "selector",
	TagRaw:      "raw",
}

func (t Tag) String() string {
	if int(t) < len(tagNames) {
		return tagNames[t]
	}
	return fmt.Sprintf("tag(%d)", uint8(t))
}

// Pre-defined special values
var (
	Nil   = Value{tag: TagNil}
	True  = Value{tag: TagBool, width: 1, bits: 1}
	False = Value{tag: TagBool, width: 1}
)

// Raw is an uninterpreted block of bytes together with the encoding that
// describes them. It is what opaque arguments box into.
type Raw struct {
	Encoding Encoding
	Bytes    []byte
}

// ---------------------------------------------------------------------------
// Constructors
// ---------------------------------------------------------------------------

// FromBool boxes a boolean.
func FromBool(b bool) Value {
	if b {
		return True
	}
	return False
}

// FromInt boxes any signed integer, remembering its width.
func FromInt[T ~int | ~int8 | ~int16 | ~int32 | ~int64](v T) Value {
	return Value{tag: TagInt, width: intWidth(v), bits: uint64(int64(v))}
}

// FromUint boxes any unsigned integer, remembering its width.
func FromUint[T ~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr](v T) Value {
	return Value{tag: TagUint, width: uintWidth(v), bits: uint64(v)}
}

// FromInt64 boxes an int64.
func FromInt64(v int64) Value { return FromInt(v) }

// FromUint64 boxes a uint64.
func FromUint64(v uint64) Value { return FromUint(v) }

// FromFloat32 boxes a float32.
func FromFloat32(f float32) Value {
	return Value{tag: TagFloat, width: 4, bits: math.Float64bits(float64(f))}
}

// FromFloat64 boxes a float64.
func FromFloat64(f float64) Value {
	return Value{tag: TagFloat, width: 8, bits: math.Float64bits(f)}
}

// FromObject boxes an object reference. A nil object boxes to Nil.
func FromObject(o *Object) Value {
	if o == nil {
		return Nil
	}
	return Value{tag: TagObject, width: 8, ref: o}
}

// FromClass boxes a class reference. A nil class boxes to Nil.
func FromClass(c *Class) Value {
	if c == nil {
		return Nil
	}
	return Value{tag: TagClass, width: 8, ref: c}
}

// FromSelector boxes a selector id.
func FromSelector(s Selector) Value {
	return Value{tag: TagSelector, width: 8, bits: uint64(int64(s))}
}

// FromRaw boxes a copy of b described by enc.
func FromRaw(enc Encoding, b []byte) Value {
	cp := make([]byte, len(b))
	copy(cp, b)
	return Value{tag: TagRaw, width: uint8(min(len(b), math.MaxUint8)), ref: &Raw{Encoding: enc, Bytes: cp}}
}

func intWidth[T ~int | ~int8 | ~int16 | ~int32 | ~int64](v T) uint8 {
	return uint8(unsafe.Sizeof(v))
}

func uintWidth[T ~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr](v T) uint8 {
	return uint8(unsafe.Sizeof(v))
}

// ---------------------------------------------------------------------------
// Type checking
// ---------------------------------------------------------------------------

// Tag returns what kind of value v holds.
func (v Value) Tag() Tag { return v.tag }

// Width returns the byte width the value was boxed from (0 for nil).
func (v Value) Width() int { return int(v.width) }

// IsNil returns true if v is the nil value.
func (v Value) IsNil() bool { return v.tag == TagNil }

// IsBool returns true if v is true or false.
func (v Value) IsBool() bool { return v.tag == TagBool }

// IsTrue returns true if v is the true value.
func (v Value) IsTrue() bool { return v.tag == TagBool && v.bits != 0 }

// IsFalse returns true if v is the false value.
func (v Value) IsFalse() bool { return v.tag == TagBool && v.bits == 0 }

// IsInt returns true if v holds a signed integer.
func (v Value) IsInt() bool { return v.tag == TagInt }

// IsUint returns true if v holds an unsigned integer.
func (v Value) IsUint() bool { return v.tag == TagUint }

// IsNumber returns true for integers, floats and booleans.
func (v Value) IsNumber() bool {
	switch v.tag {
	case TagInt, TagUint, TagFloat, TagBool:
		return true
	}
	return false
}

// IsFloat returns true if v holds a floating point value.
func (v Value) IsFloat() bool { return v.tag == TagFloat }

// IsObject returns true if v references an object.
func (v Value) IsObject() bool { return v.tag == TagObject }

// IsClass returns true if v references a class.
func (v Value) IsClass() bool { return v.tag == TagClass }

// IsSelector returns true if v holds a selector.
func (v Value) IsSelector() bool { return v.tag == TagSelector }

// IsRaw returns true if v holds an uninterpreted byte block.
func (v Value) IsRaw() bool { return v.tag == TagRaw }

// ---------------------------------------------------------------------------
// Accessors
// ---------------------------------------------------------------------------

// Bool returns the truth value of v. Numbers are true when non-zero.
func (v Value) Bool() bool {
	switch v.tag {
	case TagFloat:
		return v.Float64() != 0
	case TagNil:
		return false
	}
	return v.bits != 0
}

// Int64 returns v as an int64, converting unsigned and float values.
func (v Value) Int64() int64 {
	if v.tag == TagFloat {
		return int64(v.Float64())
	}
	return int64(v.bits)
}

// Uint64 returns v as a uint64, converting signed and float values.
func (v Value) Uint64() uint64 {
	if v.tag == TagFloat {
		return uint64(v.Float64())
	}
	return v.bits
}

// Float64 returns v as a float64, converting integer values.
func (v Value) Float64() float64 {
	switch v.tag {
	case TagFloat:
		return math.Float64frombits(v.bits)
	case TagInt:
		return float64(int64(v.bits))
	}
	return float64(v.bits)
}

// Object returns the referenced object, or nil if v is not an object.
func (v Value) Object() *Object {
	o, _ := v.ref.(*Object)
	return o
}

// Class returns the referenced class, or nil if v is not a class.
func (v Value) Class() *Class {
	c, _ := v.ref.(*Class)
	return c
}

// Selector returns the boxed selector, or NoSelector.
func (v Value) Selector() Selector {
	if v.tag != TagSelector {
		return NoSelector
	}
	return Selector(int64(v.bits))
}

// Raw returns the boxed byte block, or nil.
func (v Value) Raw() *Raw {
	r, _ := v.ref.(*Raw)
	return r
}

// Interface unboxes v into the closest Go value.
func (v Value) Interface() any {
	switch v.tag {
	case TagBool:
		return v.Bool()
	case TagInt:
		switch v.width {
		case 1:
			return int8(v.bits)
		case 2:
			return int16(v.bits)
		case 4:
			return int32(v.bits)
		}
		return int64(v.bits)
	case TagUint:
		switch v.width {
		case 1:
			return uint8(v.bits)
		case 2:
			return uint16(v.bits)
		case 4:
			return uint32(v.bits)
		}
		return v.bits
	case TagFloat:
		if v.width == 4 {
			return float32(v.Float64())
		}
		return v.Float64()
	case TagSelector:
		return v.Selector()
	case TagNil:
		return nil
	}
	return v.ref
}

// Equal reports whether two values hold the same thing. Numbers compare by
// numeric value regardless of width or signedness. Booleans only equal
// booleans.
func (v Value) Equal(other Value) bool {
	if v.IsNumber() && other.IsNumber() && v.tag != TagBool && other.tag != TagBool {
		switch {
		case v.tag == TagFloat || other.tag == TagFloat:
			return v.Float64() == other.Float64()
		case v.tag == TagInt && other.tag == TagInt:
			return int64(v.bits) == int64(other.bits)
		case v.tag == TagInt && int64(v.bits) < 0, other.tag == TagInt && int64(other.bits) < 0:
			return false
		}
		return v.bits == other.bits
	}
	if v.tag != other.tag {
		return false
	}
	if v.tag == TagRaw {
		a, b := v.Raw(), other.Raw()
		return a.Encoding.Raw == b.Encoding.Raw && bytes.Equal(a.Bytes, b.Bytes)
	}
	return v.bits == other.bits && v.ref == other.ref
}

// String returns a short human-readable rendering of the value.
func (v Value) String() string {
	switch v.tag {
	case TagNil:
		return "nil"
	case TagObject:
		return fmt.Sprintf("a %s", v.Object().ClassName())
	case TagClass:
		return v.Class().FullName()
	case TagSelector:
		return fmt.Sprintf("#%d", v.Selector())
	case TagRaw:
		r := v.Raw()
		return fmt.Sprintf("<%s %x>", r.Encoding.Raw, r.Bytes)
	}
	return fmt.Sprint(v.Interface())
}
