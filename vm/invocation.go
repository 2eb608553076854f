package vm

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
)

// ---------------------------------------------------------------------------
// Invocation: a reified message send
// ---------------------------------------------------------------------------
//
// An Invocation carries everything needed to perform one call: the target,
// the selector, the signature describing the call shape and an argument
// frame holding every argument at its natural alignment.
//
// Scalars are stored in the frame in native byte order. Object and class
// references cannot live in a byte slice, so their frame slot holds a
// handle (argument index + 1, zero for nil) into a side slice of
// references. Selectors are stored as their int64 id.

// Invocation is a single call in flight.
type Invocation struct {
	sig    *Signature
	frame  []byte
	refs   []any
	ret    []byte
	retRef any

	mu    sync.Mutex
	marks map[any]struct{}
}

// NewInvocation creates an invocation with a zeroed frame for sig.
func NewInvocation(sig *Signature) *Invocation {
	return &Invocation{
		sig:   sig,
		frame: make([]byte, sig.FrameSize()),
		refs:  make([]any, sig.NumArguments()),
		ret:   make([]byte, max(sig.Return().Size, 8)),
	}
}

// Signature returns the call shape of the invocation.
func (inv *Invocation) Signature() *Signature {
	return inv.sig
}

// Target returns the receiver.
func (inv *Invocation) Target() *Object {
	return inv.Object(0)
}

// SetTarget sets the receiver.
func (inv *Invocation) SetTarget(o *Object) {
	inv.setRef(0, o, o == nil)
}

// Selector returns the selector being sent.
func (inv *Invocation) Selector() Selector {
	return inv.SelectorArg(1)
}

// SetSelector changes the selector being sent.
func (inv *Invocation) SetSelector(sel Selector) {
	binary.NativeEndian.PutUint64(inv.slot(1), uint64(int64(sel)))
}

// MarkOnce records key on the invocation and returns true the first time
// it is seen. Layers that observe the same call use it to act once.
func (inv *Invocation) MarkOnce(key any) bool {
	inv.mu.Lock()
	defer inv.mu.Unlock()

	if inv.marks == nil {
		inv.marks = make(map[any]struct{})
	}
	if _, ok := inv.marks[key]; ok {
		return false
	}
	inv.marks[key] = struct{}{}
	return true
}

// ---------------------------------------------------------------------------
// Raw frame access
// ---------------------------------------------------------------------------

func (inv *Invocation) slot(i int) []byte {
	off := inv.sig.Offset(i)
	return inv.frame[off : off+inv.sig.Argument(i).Size]
}

func (inv *Invocation) setRef(i int, ref any, isNil bool) {
	s := inv.slot(i)
	if isNil {
		inv.refs[i] = nil
		binary.NativeEndian.PutUint64(s, 0)
		return
	}
	inv.refs[i] = ref
	binary.NativeEndian.PutUint64(s, uint64(i+1))
}

// CopyArgument copies the raw frame bytes of argument i into dst and
// returns the number of bytes copied.
func (inv *Invocation) CopyArgument(i int, dst []byte) int {
	return copy(dst, inv.slot(i))
}

// Reference resolves a reference handle read from an object or class slot.
func (inv *Invocation) Reference(handle uint64) any {
	if handle == 0 || handle > uint64(len(inv.refs)) {
		return nil
	}
	return inv.refs[handle-1]
}

// ---------------------------------------------------------------------------
// Typed argument access
// ---------------------------------------------------------------------------

// Int returns argument i as a sign-extended integer.
func (inv *Invocation) Int(i int) int64 {
	return decodeInt(inv.slot(i))
}

// Uint returns argument i as an unsigned integer.
func (inv *Invocation) Uint(i int) uint64 {
	return decodeUint(inv.slot(i))
}

// Float returns argument i as a float64.
func (inv *Invocation) Float(i int) float64 {
	return decodeFloat(inv.slot(i))
}

// Bool returns argument i as a bool.
func (inv *Invocation) Bool(i int) bool {
	return decodeUint(inv.slot(i)) != 0
}

// Object returns argument i as an object reference.
func (inv *Invocation) Object(i int) *Object {
	o, _ := inv.Reference(binary.NativeEndian.Uint64(inv.slot(i))).(*Object)
	return o
}

// Class returns argument i as a class reference.
func (inv *Invocation) Class(i int) *Class {
	c, _ := inv.Reference(binary.NativeEndian.Uint64(inv.slot(i))).(*Class)
	return c
}

// SelectorArg returns argument i as a selector.
func (inv *Invocation) SelectorArg(i int) Selector {
	return Selector(int64(binary.NativeEndian.Uint64(inv.slot(i))))
}

// SetArgument encodes v into argument slot i according to its encoding.
func (inv *Invocation) SetArgument(i int, v any) error {
	if i < 0 || i >= inv.sig.NumArguments() {
		return fmt.Errorf("argument %d out of range for %q", i, inv.sig.Types())
	}
	enc := inv.sig.Argument(i)
	switch enc.Kind {
	case KindObject:
		o, err := asObject(v)
		if err != nil {
			return fmt.Errorf("argument %d: %w", i, err)
		}
		inv.setRef(i, o, o == nil)
		return nil
	case KindClass:
		c, err := asClass(v)
		if err != nil {
			return fmt.Errorf("argument %d: %w", i, err)
		}
		inv.setRef(i, c, c == nil)
		return nil
	}
	if err := encodeScalar(enc, inv.slot(i), v); err != nil {
		return fmt.Errorf("argument %d: %w", i, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Return value
// ---------------------------------------------------------------------------

// SetReturn stores the return value.
func (inv *Invocation) SetReturn(v any) error {
	enc := inv.sig.Return()
	dst := inv.ret[:enc.Size]
	switch enc.Kind {
	case KindVoid:
		return nil
	case KindObject:
		o, err := asObject(v)
		if err != nil {
			return fmt.Errorf("return: %w", err)
		}
		inv.retRef = o
		return nil
	case KindClass:
		c, err := asClass(v)
		if err != nil {
			return fmt.Errorf("return: %w", err)
		}
		inv.retRef = c
		return nil
	}
	if err := encodeScalar(enc, dst, v); err != nil {
		return fmt.Errorf("return: %w", err)
	}
	return nil
}

// ReturnInt returns the return value as a sign-extended integer.
func (inv *Invocation) ReturnInt() int64 {
	return decodeInt(inv.ret[:inv.sig.Return().Size])
}

// ReturnUint returns the return value as an unsigned integer.
func (inv *Invocation) ReturnUint() uint64 {
	return decodeUint(inv.ret[:inv.sig.Return().Size])
}

// ReturnFloat returns the return value as a float64.
func (inv *Invocation) ReturnFloat() float64 {
	return decodeFloat(inv.ret[:inv.sig.Return().Size])
}

// ReturnBool returns the return value as a bool.
func (inv *Invocation) ReturnBool() bool {
	return inv.ReturnUint() != 0
}

// ReturnObject returns the return value as an object reference.
func (inv *Invocation) ReturnObject() *Object {
	o, _ := inv.retRef.(*Object)
	return o
}

// ReturnClass returns the return value as a class reference.
func (inv *Invocation) ReturnClass() *Class {
	c, _ := inv.retRef.(*Class)
	return c
}

// ---------------------------------------------------------------------------
// Scalar encoding
// ---------------------------------------------------------------------------

func decodeUint(b []byte) uint64 {
	switch len(b) {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(binary.NativeEndian.Uint16(b))
	case 4:
		return uint64(binary.NativeEndian.Uint32(b))
	case 8:
		return binary.NativeEndian.Uint64(b)
	}
	return 0
}

func decodeInt(b []byte) int64 {
	switch len(b) {
	case 1:
		return int64(int8(b[0]))
	case 2:
		return int64(int16(binary.NativeEndian.Uint16(b)))
	case 4:
		return int64(int32(binary.NativeEndian.Uint32(b)))
	case 8:
		return int64(binary.NativeEndian.Uint64(b))
	}
	return 0
}

func decodeFloat(b []byte) float64 {
	switch len(b) {
	case 4:
		return float64(math.Float32frombits(binary.NativeEndian.Uint32(b)))
	case 8:
		return math.Float64frombits(binary.NativeEndian.Uint64(b))
	}
	return 0
}

func putUint(dst []byte, bits uint64) {
	switch len(dst) {
	case 1:
		dst[0] = byte(bits)
	case 2:
		binary.NativeEndian.PutUint16(dst, uint16(bits))
	case 4:
		binary.NativeEndian.PutUint32(dst, uint32(bits))
	case 8:
		binary.NativeEndian.PutUint64(dst, bits)
	}
}

func encodeScalar(enc Encoding, dst []byte, v any) error {
	switch enc.Kind {
	case KindInt8, KindInt16, KindInt32, KindInt64, KindUint8, KindUint16, KindUint32, KindUint64:
		n, ok := asBits(v)
		if !ok {
			return fmt.Errorf("cannot encode %T as %s", v, enc.Kind)
		}
		putUint(dst, n)
	case KindFloat32:
		f, ok := asFloat(v)
		if !ok {
			return fmt.Errorf("cannot encode %T as %s", v, enc.Kind)
		}
		binary.NativeEndian.PutUint32(dst, math.Float32bits(float32(f)))
	case KindFloat64:
		f, ok := asFloat(v)
		if !ok {
			return fmt.Errorf("cannot encode %T as %s", v, enc.Kind)
		}
		binary.NativeEndian.PutUint64(dst, math.Float64bits(f))
	case KindBool:
		b, ok := asBool(v)
		if !ok {
			return fmt.Errorf("cannot encode %T as %s", v, enc.Kind)
		}
		dst[0] = 0
		if b {
			dst[0] = 1
		}
	case KindSelector:
		switch s := v.(type) {
		case Selector:
			putUint(dst, uint64(int64(s)))
		case Value:
			putUint(dst, uint64(int64(s.Selector())))
		default:
			return fmt.Errorf("cannot encode %T as %s", v, enc.Kind)
		}
	case KindCString, KindPointer, KindUnknown:
		if p, ok := v.(uintptr); ok {
			putUint(dst, uint64(p))
			return nil
		}
		return encodeBytes(enc, dst, v)
	case KindVoid:
		return fmt.Errorf("cannot encode a value as void")
	default:
		return encodeBytes(enc, dst, v)
	}
	return nil
}

func encodeBytes(enc Encoding, dst []byte, v any) error {
	var b []byte
	switch x := v.(type) {
	case []byte:
		b = x
	case *Raw:
		b = x.Bytes
	case Value:
		if r := x.Raw(); r != nil {
			b = r.Bytes
		}
	}
	if b == nil || len(b) != len(dst) {
		return fmt.Errorf("%s needs %d raw bytes, got %T", enc.Raw, len(dst), v)
	}
	copy(dst, b)
	return nil
}

func asBits(v any) (uint64, bool) {
	switch x := v.(type) {
	case int:
		return uint64(x), true
	case int8:
		return uint64(x), true
	case int16:
		return uint64(x), true
	case int32:
		return uint64(x), true
	case int64:
		return uint64(x), true
	case uint:
		return uint64(x), true
	case uint8:
		return uint64(x), true
	case uint16:
		return uint64(x), true
	case uint32:
		return uint64(x), true
	case uint64:
		return x, true
	case uintptr:
		return uint64(x), true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	case Value:
		if x.IsFloat() {
			return uint64(x.Int64()), true
		}
		return x.Uint64(), x.IsNumber()
	}
	return 0, false
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float32:
		return float64(x), true
	case float64:
		return x, true
	case Value:
		return x.Float64(), x.IsNumber()
	}
	if n, ok := asBits(v); ok {
		return float64(int64(n)), true
	}
	return 0, false
}

func asBool(v any) (bool, bool) {
	switch x := v.(type) {
	case bool:
		return x, true
	case Value:
		return x.Bool(), true
	}
	n, ok := asBits(v)
	return n != 0, ok
}

func asObject(v any) (*Object, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case *Object:
		return x, nil
	case Value:
		if x.IsNil() || x.IsObject() {
			return x.Object(), nil
		}
	}
	return nil, fmt.Errorf("cannot encode %T as object", v)
}

func asClass(v any) (*Class, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case *Class:
		return x, nil
	case Value:
		if x.IsNil() || x.IsClass() {
			return x.Class(), nil
		}
	}
	return nil, fmt.Errorf("cannot encode %T as class", v)
}
