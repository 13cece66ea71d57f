// Package payload decodes the binary documents referenced by governance
// proposals. Every document starts with the same envelope (type, version, id,
// name) so callers can discriminate cheaply before running the full decode.
package payload

import "errors"

var (
	ErrDecode          = errors.New("decode payload")
	ErrUnsupportedType = errors.New("unsupported payload type")
)

type ActionType int32

const (
	ActionDefault        ActionType = 0
	ActionAddEdit        ActionType = 1
	ActionAddSubspace    ActionType = 2
	ActionRemoveSubspace ActionType = 3
	ActionImportSpace    ActionType = 4
	ActionArchiveSpace   ActionType = 5
	ActionAddEditor      ActionType = 6
	ActionRemoveEditor   ActionType = 7
	ActionAddMember      ActionType = 8
	ActionRemoveMember   ActionType = 9
)

var actionNames = map[ActionType]string{
	ActionDefault:        "DEFAULT",
	ActionAddEdit:        "ADD_EDIT",
	ActionAddSubspace:    "ADD_SUBSPACE",
	ActionRemoveSubspace: "REMOVE_SUBSPACE",
	ActionImportSpace:    "IMPORT_SPACE",
	ActionArchiveSpace:   "ARCHIVE_SPACE",
	ActionAddEditor:      "ADD_EDITOR",
	ActionRemoveEditor:   "REMOVE_EDITOR",
	ActionAddMember:      "ADD_MEMBER",
	ActionRemoveMember:   "REMOVE_MEMBER",
}

func (t ActionType) String() string {
	if name, ok := actionNames[t]; ok {
		return name
	}
	return "UNKNOWN"
}

type OpType int32

const (
	OpNone         OpType = 0
	OpSetTriple    OpType = 1
	OpDeleteTriple OpType = 2
)

func (t OpType) String() string {
	switch t {
	case OpSetTriple:
		return "SET_TRIPLE"
	case OpDeleteTriple:
		return "DELETE_TRIPLE"
	default:
		return "NONE"
	}
}

type ValueType int32

const (
	ValueUnknown     ValueType = 0
	ValueText        ValueType = 1
	ValueNumber      ValueType = 2
	ValueEntity      ValueType = 3
	ValueURI         ValueType = 4
	ValueCheckbox    ValueType = 5
	ValueTime        ValueType = 6
	ValueGeoLocation ValueType = 7
)

var valueNames = map[ValueType]string{
	ValueText:        "TEXT",
	ValueNumber:      "NUMBER",
	ValueEntity:      "ENTITY",
	ValueURI:         "URI",
	ValueCheckbox:    "CHECKBOX",
	ValueTime:        "TIME",
	ValueGeoLocation: "GEO_LOCATION",
}

func (t ValueType) String() string {
	if name, ok := valueNames[t]; ok {
		return name
	}
	return "UNKNOWN"
}

// ParseValueType maps a stored value type name back to its enum value.
func ParseValueType(name string) (ValueType, bool) {
	for t, n := range valueNames {
		if n == name {
			return t, true
		}
	}
	return ValueUnknown, false
}

type Value struct {
	Type  ValueType
	Value string
}

// Op is a single intended mutation of one (entity, attribute) pair. Value is
// zero for deletes.
type Op struct {
	Type      OpType
	Entity    string
	Attribute string
	Value     Value
}

type Triple struct {
	Entity    string
	Attribute string
	Value     Value
}

// SetOp builds the SET_TRIPLE op that reproduces t.
func SetOp(t Triple) Op {
	return Op{Type: OpSetTriple, Entity: t.Entity, Attribute: t.Attribute, Value: t.Value}
}

type Envelope struct {
	Type    ActionType
	Version string
	ID      string
	Name    string
}

// Payload is implemented by the decoded document variants only.
type Payload interface {
	Metadata() Envelope
	isPayload()
}

type EditPayload struct {
	Envelope
	Ops     []Op
	Authors []string
}

type SubspacePayload struct {
	Envelope
	Subspace string
}

type MembershipPayload struct {
	Envelope
	User string
}

type EditorshipPayload struct {
	Envelope
	User string
}

func (p *EditPayload) Metadata() Envelope       { return p.Envelope }
func (p *SubspacePayload) Metadata() Envelope   { return p.Envelope }
func (p *MembershipPayload) Metadata() Envelope { return p.Envelope }
func (p *EditorshipPayload) Metadata() Envelope { return p.Envelope }

func (*EditPayload) isPayload()       {}
func (*SubspacePayload) isPayload()   {}
func (*MembershipPayload) isPayload() {}
func (*EditorshipPayload) isPayload() {}
