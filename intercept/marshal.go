package intercept

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/chazu/msgtap/vm"
)

// Scratch buffers for copying argument bytes out of a frame. Most
// arguments fit in the pooled size; larger opaque ones get a one-off
// allocation.
const scratchSize = 64

var scratchPool = sync.Pool{
	New: func() any {
		b := make([]byte, scratchSize)
		return &b
	},
}

func withScratch(size int, fn func(buf []byte)) {
	if size > scratchSize {
		fn(make([]byte, size))
		return
	}
	p := scratchPool.Get().(*[]byte)
	defer scratchPool.Put(p)
	buf := (*p)[:size]
	clear(buf)
	fn(buf)
}

// marshalArguments boxes every argument after the receiver and selector.
func marshalArguments(inv *vm.Invocation) []vm.Value {
	sig := inv.Signature()
	args := make([]vm.Value, 0, sig.NumArguments()-2)
	for i := 2; i < sig.NumArguments(); i++ {
		args = append(args, marshalArgument(inv, i))
	}
	return args
}

func marshalArgument(inv *vm.Invocation, i int) vm.Value {
	enc := inv.Signature().Argument(i)

	var v vm.Value
	switch {
	case enc.Kind.IsScalar():
		withScratch(enc.Size, func(buf []byte) {
			inv.CopyArgument(i, buf)
			v = boxScalar(enc.Kind, buf)
		})

	case enc.Kind.IsReference():
		withScratch(8, func(buf []byte) {
			inv.CopyArgument(i, buf)
			word := binary.NativeEndian.Uint64(buf)
			switch enc.Kind {
			case vm.KindObject:
				o, _ := inv.Reference(word).(*vm.Object)
				v = vm.FromObject(o)
			case vm.KindClass:
				c, _ := inv.Reference(word).(*vm.Class)
				v = vm.FromClass(c)
			default:
				v = vm.FromSelector(vm.Selector(int64(word)))
			}
		})

	default:
		size, _, err := vm.SizeAndAlignment(enc.Raw)
		if err != nil {
			size = enc.Size
		}
		withScratch(size, func(buf []byte) {
			inv.CopyArgument(i, buf)
			v = vm.FromRaw(enc, buf)
		})
	}
	return v
}

func boxScalar(kind vm.Kind, b []byte) vm.Value {
	switch kind {
	case vm.KindInt8:
		return vm.FromInt(int8(b[0]))
	case vm.KindInt16:
		return vm.FromInt(int16(binary.NativeEndian.Uint16(b)))
	case vm.KindInt32:
		return vm.FromInt(int32(binary.NativeEndian.Uint32(b)))
	case vm.KindInt64:
		return vm.FromInt(int64(binary.NativeEndian.Uint64(b)))
	case vm.KindUint8:
		return vm.FromUint(b[0])
	case vm.KindUint16:
		return vm.FromUint(binary.NativeEndian.Uint16(b))
	case vm.KindUint32:
		return vm.FromUint(binary.NativeEndian.Uint32(b))
	case vm.KindUint64:
		return vm.FromUint(binary.NativeEndian.Uint64(b))
	case vm.KindFloat32:
		return vm.FromFloat32(math.Float32frombits(binary.NativeEndian.Uint32(b)))
	case vm.KindFloat64:
		return vm.FromFloat64(math.Float64frombits(binary.NativeEndian.Uint64(b)))
	case vm.KindBool:
		return vm.FromBool(b[0] != 0)
	}
	return vm.Nil
}

// checkEncoding rejects encodings the marshaler cannot round-trip.
func checkEncoding(enc vm.Encoding) error {
	switch enc.Kind {
	case vm.KindFrame:
		return fmt.Errorf("unknown frame shape %q", enc.Raw)
	case vm.KindUnion:
		return fmt.Errorf("union %q passed by value", enc.Raw)
	case vm.KindStruct:
		return fmt.Errorf("struct %q passed by value", enc.Raw)
	case vm.KindArray:
		return fmt.Errorf("array %q passed by value", enc.Raw)
	case vm.KindComplex:
		return fmt.Errorf("complex type %q", enc.Raw)
	}
	return nil
}

// checkSignature runs checkEncoding on the return value and every argument.
func checkSignature(sig *vm.Signature) error {
	if err := checkEncoding(sig.Return()); err != nil {
		return fmt.Errorf("return value: %w", err)
	}
	for i := 2; i < sig.NumArguments(); i++ {
		if err := checkEncoding(sig.Argument(i)); err != nil {
			return fmt.Errorf("argument %d: %w", i-2, err)
		}
	}
	return nil
}
