package dhcp4wire

import (
	"fmt"
	"net/netip"
)

// ScalarType identifies the Go-native representation a [Field] carries.
// It replaces the option_data_type.h enum of the original implementation;
// where that code dispatched on a C++ class hierarchy (OptionInt<T>,
// OptionString, ...), a Field dispatches on this tag instead.
type ScalarType uint8

// Valid scalar types.
const (
	TypeEmpty ScalarType = iota
	TypeBinary
	TypeBoolean
	TypeInt8
	TypeInt16
	TypeInt32
	TypeUint8
	TypeUint16
	TypeUint32
	TypeIPv4Address
	TypeString
	TypeFQDN
	TypeRecord
)

// String implements the fmt.Stringer interface for ScalarType.
func (t ScalarType) String() (s string) {
	switch t {
	case TypeEmpty:
		return "empty"
	case TypeBinary:
		return "binary"
	case TypeBoolean:
		return "boolean"
	case TypeInt8:
		return "int8"
	case TypeInt16:
		return "int16"
	case TypeInt32:
		return "int32"
	case TypeUint8:
		return "uint8"
	case TypeUint16:
		return "uint16"
	case TypeUint32:
		return "uint32"
	case TypeIPv4Address:
		return "ipv4-address"
	case TypeString:
		return "string"
	case TypeFQDN:
		return "fqdn"
	case TypeRecord:
		return "record"
	default:
		return "unknown"
	}
}

// Field is a single scalar value, tagged by its [ScalarType].  It is the
// Go-native replacement for the original implementation's per-type Option
// subclasses: one struct, a handful of typed slots, instead of a class per
// data type.
type Field struct {
	Binary []byte
	Str    string
	FQDN   FQDN
	IP     netip.Addr
	Int    int64
	Uint   uint64
	Type   ScalarType
	Bool   bool
}

// Uint8Field returns a Field holding an unsigned 8-bit integer.
func Uint8Field(v uint8) (f Field) { return Field{Type: TypeUint8, Uint: uint64(v)} }

// Uint16Field returns a Field holding an unsigned 16-bit integer.
func Uint16Field(v uint16) (f Field) { return Field{Type: TypeUint16, Uint: uint64(v)} }

// Uint32Field returns a Field holding an unsigned 32-bit integer.
func Uint32Field(v uint32) (f Field) { return Field{Type: TypeUint32, Uint: uint64(v)} }

// Int8Field returns a Field holding a signed 8-bit integer.
func Int8Field(v int8) (f Field) { return Field{Type: TypeInt8, Int: int64(v)} }

// Int16Field returns a Field holding a signed 16-bit integer.
func Int16Field(v int16) (f Field) { return Field{Type: TypeInt16, Int: int64(v)} }

// Int32Field returns a Field holding a signed 32-bit integer.
func Int32Field(v int32) (f Field) { return Field{Type: TypeInt32, Int: int64(v)} }

// BoolField returns a Field holding a boolean.
func BoolField(v bool) (f Field) { return Field{Type: TypeBoolean, Bool: v} }

// StringField returns a Field holding a string.
func StringField(v string) (f Field) { return Field{Type: TypeString, Str: v} }

// BinaryField returns a Field holding an opaque byte string.
func BinaryField(v []byte) (f Field) { return Field{Type: TypeBinary, Binary: v} }

// IPv4Field returns a Field holding an IPv4 address.
func IPv4Field(v netip.Addr) (f Field) { return Field{Type: TypeIPv4Address, IP: v} }

// FQDNField returns a Field holding a parsed FQDN.
func FQDNField(v FQDN) (f Field) { return Field{Type: TypeFQDN, FQDN: v} }

// Encode serializes f to its fixed- or variable-length wire form.
func (f Field) Encode() (buf []byte, err error) {
	switch f.Type {
	case TypeEmpty:
		return nil, nil
	case TypeBoolean:
		if f.Bool {
			return []byte{1}, nil
		}
		return []byte{0}, nil
	case TypeInt8:
		return []byte{byte(int8(f.Int))}, nil
	case TypeUint8:
		return []byte{byte(f.Uint)}, nil
	case TypeInt16:
		v := int16(f.Int)
		return []byte{byte(v >> 8), byte(v)}, nil
	case TypeUint16:
		v := uint16(f.Uint)
		return []byte{byte(v >> 8), byte(v)}, nil
	case TypeInt32:
		v := int32(f.Int)
		return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}, nil
	case TypeUint32:
		v := uint32(f.Uint)
		return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}, nil
	case TypeIPv4Address:
		if !f.IP.Is4() {
			return nil, fmt.Errorf("field: ipv4-address field holds non-v4 address %s", f.IP)
		}
		a := f.IP.As4()
		return a[:], nil
	case TypeString:
		return []byte(f.Str), nil
	case TypeBinary:
		return f.Binary, nil
	case TypeFQDN:
		return f.FQDN.Encode()
	default:
		return nil, fmt.Errorf("field: cannot encode scalar of type %s", f.Type)
	}
}

// ValueKind identifies the shape an [Option]'s payload takes.  The original
// implementation distinguished these shapes through a class hierarchy
// (Option, OptionCustom, OptionOpaqueData, OptionVendor, ...); here a
// single Option struct carries a kind tag and populates only the matching
// field.
type ValueKind uint8

// Valid value kinds.
const (
	// ValueScalar holds exactly one [Field].
	ValueScalar ValueKind = iota
	// ValueArray holds a homogeneous, variable-length list of [Field]s of
	// the same fixed-size scalar type.
	ValueArray
	// ValueRecord holds a fixed sequence of heterogeneous [Field]s.
	ValueRecord
	// ValueOpaque holds raw, unparsed bytes -- used for options with no
	// known definition.
	ValueOpaque
	// ValueSpecial holds a value requiring bespoke encode/decode logic that
	// doesn't fit the Field/array/record model. No decoder in this package
	// produces it; option 82 decodes as [ValueOpaque] with its sub-options
	// in [Option.Sub].
	ValueSpecial
)

// Option is a single decoded DHCPv4 option.  It is the tagged-union
// replacement for the original implementation's Option/OptionCustom class
// hierarchy: a definition-driven union type instead of inheritance, per
// the redesign this codec follows.
type Option struct {
	// EncapSpace names the option space the options in Sub are defined in
	// (the definition's encapsulated space, or vendor-<id> for option 125).
	// It is informational; Sub carries the actual nested options.
	EncapSpace string

	Scalar  Field
	Array   []Field
	Record  []Field
	Opaque  []byte
	Special *SpecialValue

	// Sub holds options nested within this one (e.g. option 82's
	// sub-options, or a vendor-encapsulated-options-space payload).  It is
	// nil unless this option's definition declares an encapsulated space or
	// the option is vendor-specific option 125.
	Sub *OptionSet

	Code uint8
	Kind ValueKind
}

// SpecialValue is the escape hatch for options whose encode/decode logic
// doesn't reduce to a scalar, array, or record. No decoder in this
// package fills it; the RAI (option 82) agent-information sub-options are
// carried in [Option.Sub].
type SpecialValue struct {
	// RAI is a slot for relay agent sub-options; the decoder leaves it nil.
	RAI *OptionSet
}

// NewScalarOption returns a scalar-kind Option.
func NewScalarOption(code uint8, f Field) (o Option) {
	return Option{Code: code, Kind: ValueScalar, Scalar: f}
}

// NewArrayOption returns an array-kind Option.
func NewArrayOption(code uint8, fs []Field) (o Option) {
	return Option{Code: code, Kind: ValueArray, Array: fs}
}

// NewRecordOption returns a record-kind Option.
func NewRecordOption(code uint8, fs []Field) (o Option) {
	return Option{Code: code, Kind: ValueRecord, Record: fs}
}

// NewOpaqueOption returns an opaque-kind Option carrying raw bytes.
func NewOpaqueOption(code uint8, data []byte) (o Option) {
	return Option{Code: code, Kind: ValueOpaque, Opaque: data}
}

// AsUint32 returns the option's scalar value as a uint32, for options
// known to carry a 32-bit unsigned integer (e.g. lease time).  ok is false
// if the option isn't a uint32-typed scalar.
func (o Option) AsUint32() (v uint32, ok bool) {
	if o.Kind != ValueScalar || o.Scalar.Type != TypeUint32 {
		return 0, false
	}
	return uint32(o.Scalar.Uint), true
}

// AsIPv4 returns the option's scalar value as an IPv4 address.  ok is
// false if the option isn't an ipv4-address-typed scalar.
func (o Option) AsIPv4() (v netip.Addr, ok bool) {
	if o.Kind != ValueScalar || o.Scalar.Type != TypeIPv4Address {
		return netip.Addr{}, false
	}
	return o.Scalar.IP, true
}

// AsIPv4List returns the option's array value as a list of IPv4
// addresses.  ok is false if the option isn't an ipv4-address-typed
// array.
func (o Option) AsIPv4List() (vs []netip.Addr, ok bool) {
	if o.Kind != ValueArray {
		return nil, false
	}

	vs = make([]netip.Addr, 0, len(o.Array))
	for _, f := range o.Array {
		if f.Type != TypeIPv4Address {
			return nil, false
		}
		vs = append(vs, f.IP)
	}

	return vs, true
}

// AsString returns the option's scalar value as a string.  ok is false if
// the option isn't a string-typed scalar.
func (o Option) AsString() (v string, ok bool) {
	if o.Kind != ValueScalar || o.Scalar.Type != TypeString {
		return "", false
	}
	return o.Scalar.Str, true
}

// AsBytes returns the raw bytes backing o, regardless of kind, for
// contexts (substring matching, logging) that want the payload without
// caring how it parses.
func (o Option) AsBytes() (buf []byte) {
	switch o.Kind {
	case ValueOpaque:
		return o.Opaque
	case ValueScalar:
		b, _ := o.Scalar.Encode()
		return b
	case ValueArray:
		for _, f := range o.Array {
			b, _ := f.Encode()
			buf = append(buf, b...)
		}
		return buf
	case ValueRecord:
		for _, f := range o.Record {
			b, _ := f.Encode()
			buf = append(buf, b...)
		}
		return buf
	default:
		return nil
	}
}
