package payload

import "google.golang.org/protobuf/encoding/protowire"

func appendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendEnum(b []byte, num protowire.Number, v int32) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(v))
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

func appendEnvelope(b []byte, e Envelope) []byte {
	b = appendEnum(b, fieldType, int32(e.Type))
	b = appendString(b, fieldVersion, e.Version)
	b = appendString(b, fieldID, e.ID)
	return appendString(b, fieldName, e.Name)
}

func withType(e Envelope, t ActionType) Envelope {
	if e.Type == ActionDefault {
		e.Type = t
	}
	return e
}

// EncodeEdit serializes an edit. A zero envelope type is written as ADD_EDIT.
func EncodeEdit(p EditPayload) []byte {
	b := appendEnvelope(nil, withType(p.Envelope, ActionAddEdit))
	for _, op := range p.Ops {
		b = appendMessage(b, fieldBody, encodeOp(op))
	}
	for _, author := range p.Authors {
		b = protowire.AppendTag(b, fieldAuthors, protowire.BytesType)
		b = protowire.AppendString(b, author)
	}
	return b
}

func encodeOp(op Op) []byte {
	var triple []byte
	triple = appendString(triple, 1, op.Entity)
	triple = appendString(triple, 2, op.Attribute)
	if op.Type == OpSetTriple {
		var value []byte
		value = appendEnum(value, 1, int32(op.Value.Type))
		value = appendString(value, 2, op.Value.Value)
		triple = appendMessage(triple, 3, value)
	}

	var b []byte
	b = appendEnum(b, 1, int32(op.Type))
	return appendMessage(b, 2, triple)
}

// EncodeSubspace serializes a subspace change. A zero envelope type is written
// as ADD_SUBSPACE.
func EncodeSubspace(p SubspacePayload) []byte {
	b := appendEnvelope(nil, withType(p.Envelope, ActionAddSubspace))
	return appendString(b, fieldBody, p.Subspace)
}

// EncodeMembership serializes a membership change. A zero envelope type is
// written as ADD_MEMBER.
func EncodeMembership(p MembershipPayload) []byte {
	b := appendEnvelope(nil, withType(p.Envelope, ActionAddMember))
	return appendString(b, fieldBody, p.User)
}

// EncodeEditorship serializes an editorship change. A zero envelope type is
// written as ADD_EDITOR.
func EncodeEditorship(p EditorshipPayload) []byte {
	b := appendEnvelope(nil, withType(p.Envelope, ActionAddEditor))
	return appendString(b, fieldBody, p.User)
}
