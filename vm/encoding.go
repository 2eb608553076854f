package vm

import (
	"fmt"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Type encodings
// ---------------------------------------------------------------------------
//
// Method signatures are written as compact type-encoding strings: the return
// type followed by every argument, receiver and selector included. A method
// taking one int64 and returning nothing is "v@:q".
//
//   c C   int8 / uint8        f d   float32 / float64
//   s S   int16 / uint16      B     bool
//   i I   int32 / uint32      v     void
//   l L   int32 / uint32      @ # : object / class / selector
//   q Q   int64 / uint64      *     C string     ^T pointer to T
//   ?     unknown (function pointer)             bN bitfield of N bits
//   {name=...} struct   (name=...) union   [N T] array   jT complex
//
// Type qualifiers (r n N o O R V A) are skipped. Decimal digits following a
// type are frame offsets and are ignored; digits at the very start of a
// signature describe a frame shape the encoding cannot express.

// Kind classifies an encoding.
type Kind uint8

const (
	KindVoid Kind = iota
	KindInt8
	KindInt16
	KindInt32
	KindInt64
	KindUint8
	KindUint16
	KindUint32
	KindUint64
	KindFloat32
	KindFloat64
	KindBool
	KindObject
	KindClass
	KindSelector
	KindCString
	KindPointer
	KindUnknown
	KindBitfield
	KindStruct
	KindUnion
	KindArray
	KindComplex
	KindFrame
)

var kindNames = [...]string{
	KindVoid:     "void",
	KindInt8:     "int8",
	KindInt16:    "int16",
	KindInt32:    "int32",
	KindInt64:    "int64",
	KindUint8:    "uint8",
	KindUint16:   "uint16",
	KindUint32:   "uint32",
	KindUint64:   "uint64",
	KindFloat32:  "float32",
	KindFloat64:  "float64",
	KindBool:     "bool",
	KindObject:   "object",
	KindClass:    "class",
	KindSelector: "selector",
	KindCString:  "cstring",
	KindPointer:  "pointer",
	KindUnknown:  "unknown",
	KindBitfield: "bitfield",
	KindStruct:   "struct",
	KindUnion:    "union",
	KindArray:    "array",
	KindComplex:  "complex",
	KindFrame:    "frame",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// IsReference returns true for object, class and selector encodings.
func (k Kind) IsReference() bool {
	return k == KindObject || k == KindClass || k == KindSelector
}

// IsScalar returns true for fixed-width integer, float and bool encodings.
func (k Kind) IsScalar() bool {
	return k >= KindInt8 && k <= KindBool
}

// IsAggregate returns true for encodings that pass a composite by value.
func (k Kind) IsAggregate() bool {
	switch k {
	case KindStruct, KindUnion, KindArray, KindComplex, KindFrame:
		return true
	}
	return false
}

// Encoding describes the ABI shape of one return value or argument.
type Encoding struct {
	Kind  Kind
	Raw   string // encoding text without qualifiers or offsets
	Size  int
	Align int

	Elem   *Encoding  // pointee, array element or complex component
	Fields []Encoding // struct / union members
	Len    int        // array length or bitfield width
}

func (e Encoding) String() string { return e.Raw }

var scalarEncodings = map[byte]Encoding{
	'c': {Kind: KindInt8, Size: 1, Align: 1},
	'C': {Kind: KindUint8, Size: 1, Align: 1},
	's': {Kind: KindInt16, Size: 2, Align: 2},
	'S': {Kind: KindUint16, Size: 2, Align: 2},
	'i': {Kind: KindInt32, Size: 4, Align: 4},
	'I': {Kind: KindUint32, Size: 4, Align: 4},
	'l': {Kind: KindInt32, Size: 4, Align: 4},
	'L': {Kind: KindUint32, Size: 4, Align: 4},
	'q': {Kind: KindInt64, Size: 8, Align: 8},
	'Q': {Kind: KindUint64, Size: 8, Align: 8},
	'f': {Kind: KindFloat32, Size: 4, Align: 4},
	'd': {Kind: KindFloat64, Size: 8, Align: 8},
	'B': {Kind: KindBool, Size: 1, Align: 1},
	'v': {Kind: KindVoid, Size: 0, Align: 1},
	'@': {Kind: KindObject, Size: 8, Align: 8},
	'#': {Kind: KindClass, Size: 8, Align: 8},
	':': {Kind: KindSelector, Size: 8, Align: 8},
	'*': {Kind: KindCString, Size: 8, Align: 8},
	'?': {Kind: KindUnknown, Size: 8, Align: 8},
}

const qualifiers = "rnNoORVA"

// ParseEncoding parses a single encoding from the front of s and returns the
// remaining text. Trailing offset digits are consumed.
func ParseEncoding(s string) (Encoding, string, error) {
	enc, rest, err := parseOne(s)
	if err != nil {
		return Encoding{}, s, err
	}
	return enc, skipDigits(rest), nil
}

// SizeAndAlignment returns the byte size and alignment of the first encoding
// in s.
func SizeAndAlignment(s string) (size, align int, err error) {
	enc, _, err := ParseEncoding(s)
	if err != nil {
		return 0, 0, err
	}
	return enc.Size, enc.Align, nil
}

func parseOne(s string) (Encoding, string, error) {
	for len(s) > 0 && strings.IndexByte(qualifiers, s[0]) >= 0 {
		s = s[1:]
	}
	if s == "" {
		return Encoding{}, s, fmt.Errorf("encoding: unexpected end of input")
	}

	c := s[0]
	if enc, ok := scalarEncodings[c]; ok {
		enc.Raw = s[:1]
		rest := s[1:]
		if c == '@' {
			// @? is a block, @"Name" a typed object reference.
			switch {
			case strings.HasPrefix(rest, "?"):
				rest = rest[1:]
			case strings.HasPrefix(rest, `"`):
				end := strings.IndexByte(rest[1:], '"')
				if end < 0 {
					return Encoding{}, s, fmt.Errorf("encoding: unterminated class name in %q", s)
				}
				rest = rest[end+2:]
			}
			enc.Raw = s[:len(s)-len(rest)]
		}
		return enc, rest, nil
	}

	switch {
	case c >= '0' && c <= '9':
		n := digitPrefix(s)
		return Encoding{Kind: KindFrame, Raw: s[:n], Align: 1}, s[n:], nil

	case c == '^':
		elem, rest, err := parseOne(s[1:])
		if err != nil {
			return Encoding{}, s, err
		}
		return Encoding{Kind: KindPointer, Raw: s[:len(s)-len(rest)], Size: 8, Align: 8, Elem: &elem}, rest, nil

	case c == 'j':
		elem, rest, err := parseOne(s[1:])
		if err != nil {
			return Encoding{}, s, err
		}
		return Encoding{Kind: KindComplex, Raw: s[:len(s)-len(rest)], Size: 2 * elem.Size, Align: elem.Align, Elem: &elem}, rest, nil

	case c == 'b':
		n := digitPrefix(s[1:])
		if n == 0 {
			return Encoding{}, s, fmt.Errorf("encoding: bitfield without width in %q", s)
		}
		bits, _ := strconv.Atoi(s[1 : 1+n])
		return Encoding{Kind: KindBitfield, Raw: s[:1+n], Size: (bits + 7) / 8, Align: 1, Len: bits}, s[1+n:], nil

	case c == '[':
		n := digitPrefix(s[1:])
		count, _ := strconv.Atoi(s[1 : 1+n])
		elem, rest, err := parseOne(s[1+n:])
		if err != nil {
			return Encoding{}, s, err
		}
		if !strings.HasPrefix(rest, "]") {
			return Encoding{}, s, fmt.Errorf("encoding: unterminated array in %q", s)
		}
		rest = rest[1:]
		return Encoding{
			Kind: KindArray, Raw: s[:len(s)-len(rest)],
			Size: count * elem.Size, Align: elem.Align, Elem: &elem, Len: count,
		}, rest, nil

	case c == '{' || c == '(':
		return parseComposite(s)
	}

	return Encoding{}, s, fmt.Errorf("encoding: unknown type code %q in %q", c, s)
}

func parseComposite(s string) (Encoding, string, error) {
	open := s[0]
	closer, kind := byte('}'), KindStruct
	if open == '(' {
		closer, kind = ')', KindUnion
	}

	body := s[1:]
	// Skip the tag name up to '=' (or the closing bracket for opaque types).
	if i := strings.IndexAny(body, "="+string(closer)); i >= 0 && body[i] == '=' {
		body = body[i+1:]
	} else if i >= 0 {
		body = body[i:]
	}

	enc := Encoding{Kind: kind, Align: 1}
	offset := 0
	for !strings.HasPrefix(body, string(closer)) {
		if strings.HasPrefix(body, `"`) {
			// Named field: "name"type
			end := strings.IndexByte(body[1:], '"')
			if end < 0 {
				return Encoding{}, s, fmt.Errorf("encoding: unterminated field name in %q", s)
			}
			body = body[end+2:]
		}
		field, rest, err := parseOne(body)
		if err != nil {
			return Encoding{}, s, err
		}
		body = rest
		enc.Fields = append(enc.Fields, field)
		if field.Align > enc.Align {
			enc.Align = field.Align
		}
		if kind == KindUnion {
			offset = max(offset, field.Size)
		} else {
			offset = alignUp(offset, field.Align) + field.Size
		}
	}
	rest := body[1:]
	enc.Size = alignUp(offset, enc.Align)
	enc.Raw = s[:len(s)-len(rest)]
	return enc, rest, nil
}

func digitPrefix(s string) int {
	n := 0
	for n < len(s) && s[n] >= '0' && s[n] <= '9' {
		n++
	}
	return n
}

func skipDigits(s string) string {
	// A leading '-' shows up in offsets of register-passed arguments.
	if strings.HasPrefix(s, "-") && digitPrefix(s[1:]) > 0 {
		s = s[1:]
	}
	return s[digitPrefix(s):]
}

func alignUp(n, align int) int {
	if align <= 1 {
		return n
	}
	return (n + align - 1) / align * align
}

// ---------------------------------------------------------------------------
// Signature: the call shape of a method
// ---------------------------------------------------------------------------

// Signature is a parsed method type encoding. It is immutable.
//
// Arguments 0 and 1 are always the receiver and the selector. The argument
// frame lays every argument out at its natural alignment.
type Signature struct {
	types   string
	shape   string
	ret     Encoding
	args    []Encoding
	offsets []int
	size    int
}

// ParseSignature parses a method type encoding such as "v@:q".
func ParseSignature(types string) (*Signature, error) {
	ret, rest, err := ParseEncoding(types)
	if err != nil {
		return nil, fmt.Errorf("signature %q: %w", types, err)
	}

	sig := &Signature{types: types, ret: ret}
	var shape strings.Builder
	shape.WriteString(shapeCode(ret))

	offset := 0
	for rest != "" {
		var arg Encoding
		arg, rest, err = ParseEncoding(rest)
		if err != nil {
			return nil, fmt.Errorf("signature %q: %w", types, err)
		}
		offset = alignUp(offset, arg.Align)
		sig.args = append(sig.args, arg)
		sig.offsets = append(sig.offsets, offset)
		offset += arg.Size
		shape.WriteString(shapeCode(arg))
	}

	if len(sig.args) < 2 || sig.args[0].Kind != KindObject || sig.args[1].Kind != KindSelector {
		return nil, fmt.Errorf("signature %q: must start with receiver '@' and selector ':'", types)
	}

	sig.size = alignUp(offset, 8)
	sig.shape = shape.String()
	return sig, nil
}

// shapeCode drops the parts of an encoding that do not change the frame:
// typed object references and blocks are plain objects.
func shapeCode(enc Encoding) string {
	if enc.Kind == KindObject {
		return "@"
	}
	return enc.Raw
}

// MustSignature is like ParseSignature but panics on malformed input.
// Useful for static method tables.
func MustSignature(types string) *Signature {
	sig, err := ParseSignature(types)
	if err != nil {
		panic(err)
	}
	return sig
}

// Types returns the encoding string the signature was parsed from.
func (s *Signature) Types() string { return s.types }

// Shape returns the encoding with qualifiers and offsets stripped. Two
// signatures with the same shape have identical frames.
func (s *Signature) Shape() string { return s.shape }

// Return returns the return value encoding.
func (s *Signature) Return() Encoding { return s.ret }

// NumArguments returns the argument count including receiver and selector.
func (s *Signature) NumArguments() int { return len(s.args) }

// Argument returns the encoding of argument i.
func (s *Signature) Argument(i int) Encoding { return s.args[i] }

// Offset returns the frame offset of argument i.
func (s *Signature) Offset(i int) int { return s.offsets[i] }

// FrameSize returns the total size of the argument frame.
func (s *Signature) FrameSize() int { return s.size }

func (s *Signature) String() string { return s.types }
