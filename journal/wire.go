package journal

import (
	"fmt"
	"math"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/chazu/msgtap/intercept"
	"github.com/chazu/msgtap/vm"
)

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("journal: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// WireKind identifies what a WireValue holds.
type WireKind uint8

const (
	WireNil WireKind = iota
	WireBool
	WireInt
	WireUint
	WireFloat
	WireObject
	WireClass
	WireSelector
	WireRaw
)

// WireValue is the persisted form of a boxed argument. Objects and classes
// are stored by name since the references do not outlive the process.
type WireValue struct {
	Kind     WireKind `cbor:"1,keyasint"`
	Width    uint8    `cbor:"2,keyasint,omitempty"`
	Bits     uint64   `cbor:"3,keyasint,omitempty"`
	Name     string   `cbor:"4,keyasint,omitempty"` // class or selector name
	ObjectID uint64   `cbor:"5,keyasint,omitempty"`
	Encoding string   `cbor:"6,keyasint,omitempty"`
	Bytes    []byte   `cbor:"7,keyasint,omitempty"`
}

// Record is one journaled event.
type Record struct {
	ID       uuid.UUID   `cbor:"1,keyasint"`
	Stream   uuid.UUID   `cbor:"2,keyasint"`
	Class    string      `cbor:"3,keyasint"`
	Selector string      `cbor:"4,keyasint"`
	Seq      uint64      `cbor:"5,keyasint"`
	ObjectID uint64      `cbor:"6,keyasint"`
	Args     []WireValue `cbor:"7,keyasint"` // nil for trigger-only events
}

// ToWire converts v. rt resolves selector names and may be nil.
func ToWire(rt *vm.Runtime, v vm.Value) WireValue {
	switch v.Tag() {
	case vm.TagBool:
		w := WireValue{Kind: WireBool}
		if v.Bool() {
			w.Bits = 1
		}
		return w
	case vm.TagInt:
		return WireValue{Kind: WireInt, Width: uint8(v.Width()), Bits: uint64(v.Int64())}
	case vm.TagUint:
		return WireValue{Kind: WireUint, Width: uint8(v.Width()), Bits: v.Uint64()}
	case vm.TagFloat:
		return WireValue{Kind: WireFloat, Width: uint8(v.Width()), Bits: math.Float64bits(v.Float64())}
	case vm.TagObject:
		o := v.Object()
		return WireValue{Kind: WireObject, Name: o.ClassName(), ObjectID: o.ID()}
	case vm.TagClass:
		return WireValue{Kind: WireClass, Name: v.Class().FullName()}
	case vm.TagSelector:
		w := WireValue{Kind: WireSelector, Bits: uint64(int64(v.Selector()))}
		if rt != nil {
			w.Name = rt.Selectors.Name(v.Selector())
		}
		return w
	case vm.TagRaw:
		r := v.Raw()
		return WireValue{Kind: WireRaw, Encoding: r.Encoding.Raw, Bytes: r.Bytes}
	}
	return WireValue{Kind: WireNil}
}

// Interface returns the closest Go value: sized integers and floats, bool,
// the class or selector name, the object id, or the raw bytes.
func (w WireValue) Interface() any {
	switch w.Kind {
	case WireBool:
		return w.Bits != 0
	case WireInt:
		switch w.Width {
		case 1:
			return int8(w.Bits)
		case 2:
			return int16(w.Bits)
		case 4:
			return int32(w.Bits)
		}
		return int64(w.Bits)
	case WireUint:
		switch w.Width {
		case 1:
			return uint8(w.Bits)
		case 2:
			return uint16(w.Bits)
		case 4:
			return uint32(w.Bits)
		}
		return w.Bits
	case WireFloat:
		f := math.Float64frombits(w.Bits)
		if w.Width == 4 {
			return float32(f)
		}
		return f
	case WireObject:
		return w.ObjectID
	case WireClass, WireSelector:
		return w.Name
	case WireRaw:
		return w.Bytes
	}
	return nil
}

func (w WireValue) String() string {
	switch w.Kind {
	case WireObject:
		return fmt.Sprintf("a %s (%d)", w.Name, w.ObjectID)
	case WireRaw:
		return fmt.Sprintf("<%s %x>", w.Encoding, w.Bytes)
	case WireNil:
		return "nil"
	}
	return fmt.Sprint(w.Interface())
}

func newRecord(stream uuid.UUID, ev intercept.Event) *Record {
	var rt *vm.Runtime
	if ev.Target != nil {
		rt = ev.Target.RuntimeClass().Runtime()
	}

	r := &Record{
		ID:     uuid.New(),
		Stream: stream,
		Class:  ev.Target.ClassName(),
		Seq:    ev.Seq,
	}
	if ev.Target != nil {
		r.ObjectID = ev.Target.ID()
	}
	if rt != nil {
		r.Selector = rt.Selectors.Name(ev.Selector)
	}
	if ev.Args != nil {
		r.Args = make([]WireValue, len(ev.Args))
		for i, a := range ev.Args {
			r.Args[i] = ToWire(rt, a)
		}
	}
	return r
}

// MarshalRecord serializes a Record to CBOR bytes.
func MarshalRecord(r *Record) ([]byte, error) {
	return cborEncMode.Marshal(r)
}

// UnmarshalRecord deserializes a Record from CBOR bytes.
func UnmarshalRecord(data []byte) (*Record, error) {
	var r Record
	if err := cbor.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("journal: unmarshal record: %w", err)
	}
	return &r, nil
}
