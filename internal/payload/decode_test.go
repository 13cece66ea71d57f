package payload

import (
	"bytes"
	"errors"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"
)

func sampleEdit() EditPayload {
	return EditPayload{
		Envelope: Envelope{Version: "1.0.0", ID: "edit-1", Name: "Add people"},
		Ops: []Op{
			{Type: OpSetTriple, Entity: "alice", Attribute: "name", Value: Value{Type: ValueText, Value: "Alice"}},
			{Type: OpSetTriple, Entity: "alice", Attribute: "friend", Value: Value{Type: ValueEntity, Value: "bob"}},
			{Type: OpDeleteTriple, Entity: "alice", Attribute: "age"},
		},
		Authors: []string{"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"},
	}
}

func TestDecodeEnvelopeSkipsBody(t *testing.T) {
	b := EncodeEdit(sampleEdit())

	env, err := DecodeEnvelope(b)
	if err != nil {
		t.Fatalf("DecodeEnvelope failed: %v", err)
	}
	if env.Type != ActionAddEdit {
		t.Errorf("expected ADD_EDIT, got %s", env.Type)
	}
	if env.Name != "Add people" || env.ID != "edit-1" || env.Version != "1.0.0" {
		t.Errorf("unexpected envelope: %+v", env)
	}
}

func TestDecodeEdit(t *testing.T) {
	want := sampleEdit()
	p, err := Decode(EncodeEdit(want), ActionAddEdit)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	edit, ok := p.(*EditPayload)
	if !ok {
		t.Fatalf("expected *EditPayload, got %T", p)
	}
	if len(edit.Ops) != len(want.Ops) {
		t.Fatalf("expected %d ops, got %d", len(want.Ops), len(edit.Ops))
	}
	for i := range want.Ops {
		if edit.Ops[i] != want.Ops[i] {
			t.Errorf("op %d: got %+v, want %+v", i, edit.Ops[i], want.Ops[i])
		}
	}
	if len(edit.Authors) != 1 || edit.Authors[0] != want.Authors[0] {
		t.Errorf("unexpected authors: %v", edit.Authors)
	}
}

func TestDecodeIsDeterministic(t *testing.T) {
	b := EncodeEdit(sampleEdit())
	first, err := Decode(b, ActionAddEdit)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	second, err := Decode(b, ActionAddEdit)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	a, c := first.(*EditPayload), second.(*EditPayload)
	if !bytes.Equal(EncodeEdit(*a), EncodeEdit(*c)) {
		t.Fatal("decoding the same bytes twice produced different output")
	}
}

func TestDecodeGovernancePayloads(t *testing.T) {
	sub, err := Decode(EncodeSubspace(SubspacePayload{Envelope: Envelope{Type: ActionRemoveSubspace}, Subspace: "0xabc"}), ActionRemoveSubspace)
	if err != nil {
		t.Fatalf("decode subspace: %v", err)
	}
	if got := sub.(*SubspacePayload).Subspace; got != "0xabc" {
		t.Errorf("expected subspace 0xabc, got %q", got)
	}

	member, err := Decode(EncodeMembership(MembershipPayload{User: "0xdef"}), ActionAddMember)
	if err != nil {
		t.Fatalf("decode membership: %v", err)
	}
	if got := member.(*MembershipPayload).User; got != "0xdef" {
		t.Errorf("expected user 0xdef, got %q", got)
	}

	editor, err := Decode(EncodeEditorship(EditorshipPayload{Envelope: Envelope{Type: ActionRemoveEditor}, User: "0x123"}), ActionRemoveEditor)
	if err != nil {
		t.Fatalf("decode editorship: %v", err)
	}
	if _, ok := editor.(*EditorshipPayload); !ok {
		t.Errorf("expected *EditorshipPayload, got %T", editor)
	}
}

func TestDecodeUnsupportedType(t *testing.T) {
	b := appendEnvelope(nil, Envelope{Type: ActionImportSpace, Name: "import"})
	env, err := DecodeEnvelope(b)
	if err != nil {
		t.Fatalf("DecodeEnvelope failed: %v", err)
	}
	if _, err := Decode(b, env.Type); !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("expected ErrUnsupportedType, got %v", err)
	}

	empty, err := DecodeEnvelope(nil)
	if err != nil {
		t.Fatalf("DecodeEnvelope(nil) failed: %v", err)
	}
	if _, err := Decode(nil, empty.Type); !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("expected ErrUnsupportedType for empty payload, got %v", err)
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	cases := map[string][]byte{
		"truncated tag":   {0xff},
		"truncated bytes": protowire.AppendTag(nil, fieldName, protowire.BytesType),
		"wrong wire type": protowire.AppendVarint(protowire.AppendTag(nil, fieldName, protowire.VarintType), 3),
	}
	for name, b := range cases {
		if _, err := DecodeEnvelope(b); !errors.Is(err, ErrDecode) {
			t.Errorf("%s: expected ErrDecode, got %v", name, err)
		}
	}

	noValue := EncodeEdit(EditPayload{Ops: []Op{{Type: OpSetTriple, Entity: "e", Attribute: "a"}}})
	// A SET op with a zero value is encoded with an empty value message whose
	// type is UNKNOWN.
	if _, err := Decode(noValue, ActionAddEdit); !errors.Is(err, ErrDecode) {
		t.Errorf("expected ErrDecode for set op without value, got %v", err)
	}

	mismatch := EncodeSubspace(SubspacePayload{Subspace: "0xabc"})
	if _, err := Decode(mismatch, ActionRemoveSubspace); !errors.Is(err, ErrDecode) {
		t.Errorf("expected ErrDecode for mismatched type, got %v", err)
	}

	if _, err := Decode(EncodeMembership(MembershipPayload{}), ActionAddMember); !errors.Is(err, ErrDecode) {
		t.Errorf("expected ErrDecode for membership without user, got %v", err)
	}

	for name, value := range map[string]string{"invalid utf-8": "\xff\xfe", "nul byte": "a\x00b"} {
		bad := EncodeEdit(EditPayload{Ops: []Op{SetOp(Triple{Entity: "e", Attribute: "a", Value: Value{Type: ValueText, Value: value}})}})
		if _, err := Decode(bad, ActionAddEdit); !errors.Is(err, ErrDecode) {
			t.Errorf("%s: expected ErrDecode for string value, got %v", name, err)
		}
	}
	if _, err := DecodeEnvelope(EncodeEdit(EditPayload{Envelope: Envelope{Name: "caf\xe9"}})); !errors.Is(err, ErrDecode) {
		t.Errorf("expected ErrDecode for invalid utf-8 name, got %v", err)
	}
}
