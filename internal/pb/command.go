package pb

import (
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/adred-codev/kvmesh/internal/errs"
)

// RequestKind tags which variant a CommandRequest carries. Dispatch always
// switches on this tag, never on response shape (see internal/service).
type RequestKind uint8

const (
	ReqUnknown RequestKind = iota
	ReqHget
	ReqHmget
	ReqHgetall
	ReqHset
	ReqHmset
	ReqHdel
	ReqHmdel
	ReqHexist
	ReqHmexist
	ReqSubscribe
	ReqUnsubscribe
	ReqPublish
	ReqPSubscribe
	ReqPUnsubscribe
)

// IsStreaming reports whether k takes the broker streaming path rather
// than the storage path (spec.md Open Question (ii), resolved by tag).
func (k RequestKind) IsStreaming() bool {
	switch k {
	case ReqSubscribe, ReqUnsubscribe, ReqPublish, ReqPSubscribe, ReqPUnsubscribe:
		return true
	default:
		return false
	}
}

// CommandRequest is the flattened union of every request variant in
// spec.md §3. Only the fields relevant to Kind are populated.
type CommandRequest struct {
	Kind    RequestKind
	Table   string
	Key     string
	Keys    []string
	Pair    KvPair
	Pairs   []KvPair
	Topic   string
	Pattern string
	ID      uint32
	Values  []Value
	HasPair bool // true once a Hset request's Pair field was present on the wire
}

const (
	reqFieldKind    = 1
	reqFieldTable   = 2
	reqFieldKey     = 3
	reqFieldKeys    = 4
	reqFieldPair    = 5
	reqFieldPairs   = 6
	reqFieldTopic   = 7
	reqFieldPattern = 8
	reqFieldID      = 9
	reqFieldValues  = 10
)

func (r *CommandRequest) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, reqFieldKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.Kind))
	if r.Table != "" {
		b = protowire.AppendTag(b, reqFieldTable, protowire.BytesType)
		b = protowire.AppendString(b, r.Table)
	}
	if r.Key != "" {
		b = protowire.AppendTag(b, reqFieldKey, protowire.BytesType)
		b = protowire.AppendString(b, r.Key)
	}
	for _, k := range r.Keys {
		b = protowire.AppendTag(b, reqFieldKeys, protowire.BytesType)
		b = protowire.AppendString(b, k)
	}
	if r.HasPair {
		b = protowire.AppendTag(b, reqFieldPair, protowire.BytesType)
		b = protowire.AppendBytes(b, r.Pair.Marshal(nil))
	}
	for _, p := range r.Pairs {
		b = protowire.AppendTag(b, reqFieldPairs, protowire.BytesType)
		b = protowire.AppendBytes(b, p.Marshal(nil))
	}
	if r.Topic != "" {
		b = protowire.AppendTag(b, reqFieldTopic, protowire.BytesType)
		b = protowire.AppendString(b, r.Topic)
	}
	if r.Pattern != "" {
		b = protowire.AppendTag(b, reqFieldPattern, protowire.BytesType)
		b = protowire.AppendString(b, r.Pattern)
	}
	if r.ID != 0 {
		b = protowire.AppendTag(b, reqFieldID, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(r.ID))
	}
	for _, v := range r.Values {
		b = protowire.AppendTag(b, reqFieldValues, protowire.BytesType)
		b = protowire.AppendBytes(b, v.Marshal(nil))
	}
	return b
}

func UnmarshalCommandRequest(b []byte) (*CommandRequest, error) {
	r := &CommandRequest{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, &DecodeError{Detail: "request: bad tag"}
		}
		b = b[n:]
		switch num {
		case reqFieldKind:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, &DecodeError{Detail: "request: bad kind"}
			}
			r.Kind = RequestKind(v)
			b = b[n:]
		case reqFieldTable:
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, &DecodeError{Detail: "request: bad table"}
			}
			r.Table = s
			b = b[n:]
		case reqFieldKey:
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, &DecodeError{Detail: "request: bad key"}
			}
			r.Key = s
			b = b[n:]
		case reqFieldKeys:
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, &DecodeError{Detail: "request: bad keys entry"}
			}
			r.Keys = append(r.Keys, s)
			b = b[n:]
		case reqFieldPair:
			bs, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, &DecodeError{Detail: "request: bad pair"}
			}
			p, err := UnmarshalKvPair(bs)
			if err != nil {
				return nil, err
			}
			r.Pair = p
			r.HasPair = true
			b = b[n:]
		case reqFieldPairs:
			bs, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, &DecodeError{Detail: "request: bad pairs entry"}
			}
			p, err := UnmarshalKvPair(bs)
			if err != nil {
				return nil, err
			}
			r.Pairs = append(r.Pairs, p)
			b = b[n:]
		case reqFieldTopic:
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, &DecodeError{Detail: "request: bad topic"}
			}
			r.Topic = s
			b = b[n:]
		case reqFieldPattern:
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, &DecodeError{Detail: "request: bad pattern"}
			}
			r.Pattern = s
			b = b[n:]
		case reqFieldID:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, &DecodeError{Detail: "request: bad id"}
			}
			r.ID = uint32(v)
			b = b[n:]
		case reqFieldValues:
			bs, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, &DecodeError{Detail: "request: bad values entry"}
			}
			v, err := UnmarshalValue(bs)
			if err != nil {
				return nil, err
			}
			r.Values = append(r.Values, v)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, &DecodeError{Detail: "request: unknown field"}
			}
			b = b[n:]
		}
	}
	return r, nil
}

// CommandResponse is the unified reply envelope of spec.md §3.
type CommandResponse struct {
	Status  uint32
	Message string
	Values  []Value
	Kvpairs []KvPair
}

const (
	respFieldStatus  = 1
	respFieldMessage = 2
	respFieldValues  = 3
	respFieldKvpairs = 4
)

// NewResponseValue builds a single-value 200 response.
func NewResponseValue(v Value) *CommandResponse {
	return &CommandResponse{Status: 200, Values: []Value{v}}
}

// NewResponseValues builds a multi-value 200 response.
func NewResponseValues(vs []Value) *CommandResponse {
	return &CommandResponse{Status: 200, Values: vs}
}

// NewResponseKvpairs builds a 200 response carrying key/value pairs
// (used by Hgetall).
func NewResponseKvpairs(ps []KvPair) *CommandResponse {
	return &CommandResponse{Status: 200, Kvpairs: ps}
}

// NewResponseFromError maps err onto a CommandResponse via errs.Status
// (spec.md §7 propagation rule).
func NewResponseFromError(err error) *CommandResponse {
	return &CommandResponse{Status: errs.Status(err), Message: err.Error()}
}

func (r *CommandResponse) Marshal() []byte {
	var b []byte
	b = protowire.AppendTag(b, respFieldStatus, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.Status))
	if r.Message != "" {
		b = protowire.AppendTag(b, respFieldMessage, protowire.BytesType)
		b = protowire.AppendString(b, r.Message)
	}
	for _, v := range r.Values {
		b = protowire.AppendTag(b, respFieldValues, protowire.BytesType)
		b = protowire.AppendBytes(b, v.Marshal(nil))
	}
	for _, p := range r.Kvpairs {
		b = protowire.AppendTag(b, respFieldKvpairs, protowire.BytesType)
		b = protowire.AppendBytes(b, p.Marshal(nil))
	}
	return b
}

func UnmarshalCommandResponse(b []byte) (*CommandResponse, error) {
	r := &CommandResponse{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, &DecodeError{Detail: "response: bad tag"}
		}
		b = b[n:]
		switch num {
		case respFieldStatus:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, &DecodeError{Detail: "response: bad status"}
			}
			r.Status = uint32(v)
			b = b[n:]
		case respFieldMessage:
			s, n := protowire.ConsumeString(b)
			if n < 0 {
				return nil, &DecodeError{Detail: "response: bad message"}
			}
			r.Message = s
			b = b[n:]
		case respFieldValues:
			bs, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, &DecodeError{Detail: "response: bad values entry"}
			}
			v, err := UnmarshalValue(bs)
			if err != nil {
				return nil, err
			}
			r.Values = append(r.Values, v)
			b = b[n:]
		case respFieldKvpairs:
			bs, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, &DecodeError{Detail: "response: bad kvpairs entry"}
			}
			p, err := UnmarshalKvPair(bs)
			if err != nil {
				return nil, err
			}
			r.Kvpairs = append(r.Kvpairs, p)
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, &DecodeError{Detail: "response: unknown field"}
			}
			b = b[n:]
		}
	}
	return r, nil
}
