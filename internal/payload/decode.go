package payload

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"google.golang.org/protobuf/encoding/protowire"
)

const (
	fieldType    protowire.Number = 1
	fieldVersion protowire.Number = 2
	fieldID      protowire.Number = 3
	fieldName    protowire.Number = 4
	fieldBody    protowire.Number = 5
	fieldAuthors protowire.Number = 6
)

// fieldFunc consumes the value of one field and returns the number of bytes
// read. Returning -1 leaves the field to be skipped.
type fieldFunc func(num protowire.Number, typ protowire.Type, b []byte) (int, error)

func walk(b []byte, fn fieldFunc) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: tag: %v", ErrDecode, protowire.ParseError(n))
		}
		b = b[n:]

		m, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if m < 0 {
			m = protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return fmt.Errorf("%w: field %d: %v", ErrDecode, num, protowire.ParseError(m))
			}
		}
		b = b[m:]
	}
	return nil
}

func consumeString(num protowire.Number, typ protowire.Type, b []byte) (string, int, error) {
	if typ != protowire.BytesType {
		return "", 0, fmt.Errorf("%w: field %d: want bytes, got wire type %d", ErrDecode, num, typ)
	}
	v, n := protowire.ConsumeString(b)
	if n < 0 {
		return "", 0, fmt.Errorf("%w: field %d: %v", ErrDecode, num, protowire.ParseError(n))
	}
	if !utf8.ValidString(v) {
		return "", 0, fmt.Errorf("%w: field %d: invalid utf-8", ErrDecode, num)
	}
	if strings.IndexByte(v, 0) >= 0 {
		return "", 0, fmt.Errorf("%w: field %d: contains NUL", ErrDecode, num)
	}
	return v, n, nil
}

func consumeBytes(num protowire.Number, typ protowire.Type, b []byte) ([]byte, int, error) {
	if typ != protowire.BytesType {
		return nil, 0, fmt.Errorf("%w: field %d: want bytes, got wire type %d", ErrDecode, num, typ)
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, fmt.Errorf("%w: field %d: %v", ErrDecode, num, protowire.ParseError(n))
	}
	return v, n, nil
}

func consumeEnum(num protowire.Number, typ protowire.Type, b []byte) (int32, int, error) {
	if typ != protowire.VarintType {
		return 0, 0, fmt.Errorf("%w: field %d: want varint, got wire type %d", ErrDecode, num, typ)
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, 0, fmt.Errorf("%w: field %d: %v", ErrDecode, num, protowire.ParseError(n))
	}
	return int32(v), n, nil
}

// envelopeField decodes one of the shared envelope fields into e. It returns
// -1 for fields outside the envelope.
func envelopeField(e *Envelope, num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	switch num {
	case fieldType:
		v, n, err := consumeEnum(num, typ, b)
		if err != nil {
			return 0, err
		}
		e.Type = ActionType(v)
		return n, nil
	case fieldVersion:
		v, n, err := consumeString(num, typ, b)
		e.Version = v
		return n, err
	case fieldID:
		v, n, err := consumeString(num, typ, b)
		e.ID = v
		return n, err
	case fieldName:
		v, n, err := consumeString(num, typ, b)
		e.Name = v
		return n, err
	}
	return -1, nil
}

// DecodeEnvelope reads the type discriminant and metadata shared by every
// payload, skipping the type-specific body.
func DecodeEnvelope(b []byte) (Envelope, error) {
	var e Envelope
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		return envelopeField(&e, num, typ, b)
	})
	if err != nil {
		return Envelope{}, err
	}
	return e, nil
}

// Decode runs the full decode for the given action type. The type recorded in
// b must match t.
func Decode(b []byte, t ActionType) (Payload, error) {
	var (
		p   Payload
		err error
	)
	switch t {
	case ActionAddEdit:
		p, err = decodeEdit(b)
	case ActionAddSubspace, ActionRemoveSubspace:
		p, err = decodeSubspace(b)
	case ActionAddEditor, ActionRemoveEditor:
		var user string
		var e Envelope
		e, user, err = decodeUser(b)
		p = &EditorshipPayload{Envelope: e, User: user}
	case ActionAddMember, ActionRemoveMember:
		var user string
		var e Envelope
		e, user, err = decodeUser(b)
		p = &MembershipPayload{Envelope: e, User: user}
	default:
		return nil, fmt.Errorf("%w: %s (%d)", ErrUnsupportedType, t, int32(t))
	}
	if err != nil {
		return nil, err
	}
	if got := p.Metadata().Type; got != t {
		return nil, fmt.Errorf("%w: payload type %s does not match %s", ErrDecode, got, t)
	}
	return p, nil
}

func decodeEdit(b []byte) (*EditPayload, error) {
	edit := &EditPayload{}
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case fieldBody:
			raw, n, err := consumeBytes(num, typ, b)
			if err != nil {
				return 0, err
			}
			op, err := decodeOp(raw)
			if err != nil {
				return 0, fmt.Errorf("op %d: %w", len(edit.Ops), err)
			}
			edit.Ops = append(edit.Ops, op)
			return n, nil
		case fieldAuthors:
			v, n, err := consumeString(num, typ, b)
			if err != nil {
				return 0, err
			}
			edit.Authors = append(edit.Authors, v)
			return n, nil
		}
		return envelopeField(&edit.Envelope, num, typ, b)
	})
	if err != nil {
		return nil, err
	}
	return edit, nil
}

func decodeOp(b []byte) (Op, error) {
	var (
		op        Op
		hasTriple bool
		hasValue  bool
	)
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeEnum(num, typ, b)
			op.Type = OpType(v)
			return n, err
		case 2:
			raw, n, err := consumeBytes(num, typ, b)
			if err != nil {
				return 0, err
			}
			hasTriple = true
			hasValue, err = decodeTriple(raw, &op)
			return n, err
		}
		return -1, nil
	})
	if err != nil {
		return Op{}, err
	}

	if !hasTriple || op.Entity == "" || op.Attribute == "" {
		return Op{}, fmt.Errorf("%w: op is missing entity or attribute", ErrDecode)
	}
	switch op.Type {
	case OpSetTriple:
		if !hasValue {
			return Op{}, fmt.Errorf("%w: set op for %s/%s has no value", ErrDecode, op.Entity, op.Attribute)
		}
	case OpDeleteTriple:
		op.Value = Value{}
	default:
		return Op{}, fmt.Errorf("%w: op type %d", ErrDecode, int32(op.Type))
	}
	return op, nil
}

func decodeTriple(b []byte, op *Op) (bool, error) {
	hasValue := false
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			v, n, err := consumeString(num, typ, b)
			op.Entity = v
			return n, err
		case 2:
			v, n, err := consumeString(num, typ, b)
			op.Attribute = v
			return n, err
		case 3:
			raw, n, err := consumeBytes(num, typ, b)
			if err != nil {
				return 0, err
			}
			op.Value, err = decodeValue(raw)
			hasValue = err == nil
			return n, err
		}
		return -1, nil
	})
	return hasValue, err
}

func decodeValue(b []byte) (Value, error) {
	var v Value
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			t, n, err := consumeEnum(num, typ, b)
			v.Type = ValueType(t)
			return n, err
		case 2:
			s, n, err := consumeString(num, typ, b)
			v.Value = s
			return n, err
		}
		return -1, nil
	})
	if err != nil {
		return Value{}, err
	}
	if _, ok := valueNames[v.Type]; !ok {
		return Value{}, fmt.Errorf("%w: value type %d", ErrDecode, int32(v.Type))
	}
	return v, nil
}

func decodeSubspace(b []byte) (*SubspacePayload, error) {
	p := &SubspacePayload{}
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == fieldBody {
			v, n, err := consumeString(num, typ, b)
			p.Subspace = v
			return n, err
		}
		return envelopeField(&p.Envelope, num, typ, b)
	})
	if err != nil {
		return nil, err
	}
	if p.Subspace == "" {
		return nil, fmt.Errorf("%w: subspace payload has no subspace", ErrDecode)
	}
	return p, nil
}

func decodeUser(b []byte) (Envelope, string, error) {
	var (
		e    Envelope
		user string
	)
	err := walk(b, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == fieldBody {
			v, n, err := consumeString(num, typ, b)
			user = v
			return n, err
		}
		return envelopeField(&e, num, typ, b)
	})
	if err != nil {
		return Envelope{}, "", err
	}
	if user == "" {
		return Envelope{}, "", fmt.Errorf("%w: %s payload has no user", ErrDecode, e.Type)
	}
	return e, user, nil
}
