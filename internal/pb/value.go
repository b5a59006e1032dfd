// Package pb holds the wire types exchanged between kvmesh clients and
// servers: Value, KvPair, CommandRequest and CommandResponse. Instead of
// generating these from a .proto file we hand-write Marshal/Unmarshal in
// the style vtprotobuf generates: no reflection, field numbers baked in
// as constants, using protobuf's own wire primitives from
// google.golang.org/protobuf/encoding/protowire.
package pb

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"
)

// Kind tags which field of a Value is populated. The zero Kind is Null,
// matching spec's "missing value is the variant with all fields unset".
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindBinary
	KindInteger
	KindFloat
	KindBool
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindBinary:
		return "binary"
	case KindInteger:
		return "integer"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	default:
		return "unknown"
	}
}

// Value is a tagged union over the five wire-representable value types.
// Only the field matching Kind is meaningful; the others are zero.
type Value struct {
	Kind    Kind
	Str     string
	Bin     []byte
	Integer int64
	Float   float64
	Bool    bool
}

// Wire field numbers for Value. Field 0 is never used (protobuf reserves it).
const (
	valueFieldString  = 1
	valueFieldBinary  = 2
	valueFieldInteger = 3
	valueFieldFloat   = 4
	valueFieldBool    = 5
)

func NullValue() Value                { return Value{Kind: KindNull} }
func StringValue(s string) Value      { return Value{Kind: KindString, Str: s} }
func BinaryValue(b []byte) Value      { return Value{Kind: KindBinary, Bin: b} }
func IntegerValue(i int64) Value      { return Value{Kind: KindInteger, Integer: i} }
func FloatValue(f float64) Value      { return Value{Kind: KindFloat, Float: f} }
func BoolValue(b bool) Value          { return Value{Kind: KindBool, Bool: b} }

// IsNull reports whether v carries no payload.
func (v Value) IsNull() bool { return v.Kind == KindNull }

// Equal reports structural equality, matching spec's "equality is structural".
func (v Value) Equal(other Value) bool {
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case KindString:
		return v.Str == other.Str
	case KindBinary:
		if len(v.Bin) != len(other.Bin) {
			return false
		}
		for i := range v.Bin {
			if v.Bin[i] != other.Bin[i] {
				return false
			}
		}
		return true
	case KindInteger:
		return v.Integer == other.Integer
	case KindFloat:
		return v.Float == other.Float
	case KindBool:
		return v.Bool == other.Bool
	default:
		return true
	}
}

// AsString converts v to a string where the conversion is total, otherwise
// returns a ConvertError.
func (v Value) AsString() (string, error) {
	switch v.Kind {
	case KindString:
		return v.Str, nil
	case KindBinary:
		return string(v.Bin), nil
	default:
		return "", &ConvertError{Value: v, Target: "string"}
	}
}

// ConvertError reports a failed, non-total Value conversion (spec §4.1, §7).
type ConvertError struct {
	Value  Value
	Target string
}

func (e *ConvertError) Error() string {
	return fmt.Sprintf("cannot convert %s value to %s", e.Value.Kind, e.Target)
}

// DecodeError reports malformed wire bytes for a Value, KvPair,
// CommandRequest or CommandResponse. It is not converted into
// internal/errs' DecodeError; errs.Status maps it to 500 through its
// default case.
type DecodeError struct {
	Detail string
}

func (e *DecodeError) Error() string { return "pb: decode: " + e.Detail }

// Marshal appends v's wire encoding to b and returns the extended slice.
func (v Value) Marshal(b []byte) []byte {
	switch v.Kind {
	case KindString:
		b = protowire.AppendTag(b, valueFieldString, protowire.BytesType)
		b = protowire.AppendString(b, v.Str)
	case KindBinary:
		b = protowire.AppendTag(b, valueFieldBinary, protowire.BytesType)
		b = protowire.AppendBytes(b, v.Bin)
	case KindInteger:
		b = protowire.AppendTag(b, valueFieldInteger, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(v.Integer))
	case KindFloat:
		b = protowire.AppendTag(b, valueFieldFloat, protowire.Fixed64Type)
		b = protowire.AppendFixed64(b, math.Float64bits(v.Float))
	case KindBool:
		b = protowire.AppendTag(b, valueFieldBool, protowire.VarintType)
		if v.Bool {
			b = protowire.AppendVarint(b, 1)
		} else {
			b = protowire.AppendVarint(b, 0)
		}
	case KindNull:
		// no fields emitted; decoding an empty message yields KindNull.
	}
	return b
}

// UnmarshalValue decodes a Value from its wire encoding.
func UnmarshalValue(b []byte) (Value, error) {
	v := Value{Kind: KindNull}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Value{}, &DecodeError{Detail: "value: bad tag"}
		}
		b = b[n:]
		switch num {
		case valueFieldString:
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return Value{}, &DecodeError{Detail: "value: bad string"}
			}
			v = Value{Kind: KindString, Str: s}
			b = b[n:]
		case valueFieldBinary:
			bs, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return Value{}, &DecodeError{Detail: "value: bad bytes"}
			}
			cp := append([]byte(nil), bs...)
			v = Value{Kind: KindBinary, Bin: cp}
			b = b[n:]
		case valueFieldInteger:
			i, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Value{}, &DecodeError{Detail: "value: bad integer"}
			}
			v = Value{Kind: KindInteger, Integer: int64(i)}
			b = b[n:]
		case valueFieldFloat:
			f, n := protowire.ConsumeFixed64(b)
			if n < 0 {
				return Value{}, &DecodeError{Detail: "value: bad float"}
			}
			v = Value{Kind: KindFloat, Float: math.Float64frombits(f)}
			b = b[n:]
		case valueFieldBool:
			i, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return Value{}, &DecodeError{Detail: "value: bad bool"}
			}
			v = Value{Kind: KindBool, Bool: i != 0}
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Value{}, &DecodeError{Detail: "value: unknown field"}
			}
			b = b[n:]
		}
	}
	return v, nil
}

// KvPair pairs a key with a Value.
type KvPair struct {
	Key   string
	Value Value
}

const (
	kvPairFieldKey   = 1
	kvPairFieldValue = 2
)

func (p KvPair) Marshal(b []byte) []byte {
	b = protowire.AppendTag(b, kvPairFieldKey, protowire.BytesType)
	b = protowire.AppendString(b, p.Key)
	inner := p.Value.Marshal(nil)
	b = protowire.AppendTag(b, kvPairFieldValue, protowire.BytesType)
	b = protowire.AppendBytes(b, inner)
	return b
}

func UnmarshalKvPair(b []byte) (KvPair, error) {
	var p KvPair
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return KvPair{}, &DecodeError{Detail: "kvpair: bad tag"}
		}
		b = b[n:]
		switch num {
		case kvPairFieldKey:
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return KvPair{}, &DecodeError{Detail: "kvpair: bad key"}
			}
			p.Key = s
			b = b[n:]
		case kvPairFieldValue:
			bs, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return KvPair{}, &DecodeError{Detail: "kvpair: bad value"}
			}
			val, err := UnmarshalValue(bs)
			if err != nil {
				return KvPair{}, err
			}
			p.Value = val
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return KvPair{}, &DecodeError{Detail: "kvpair: unknown field"}
			}
			b = b[n:]
		}
	}
	return p, nil
}
