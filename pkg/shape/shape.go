// Package shape holds the catalog of known CQHTTP event shapes and the
// three-level registry that resolves (post_type, <post_type>_type, sub_type)
// triples to a concrete shape.
//
// Resolution never fails: an unknown post type resolves to the generic
// shape, an unknown detail type to the post type's own shape and an unknown
// sub type to the detail shape. The Match of a Resolution tells the caller
// how far the walk got.
package shape

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// FieldType is the semantic type of a shape field.
type FieldType int

const (
	TypeString FieldType = iota + 1
	TypeInt
	TypeBool
	TypeTag
	TypeMessage
	TypeRecord
)

var fieldTypeNames = map[FieldType]string{
	TypeString:  "string",
	TypeInt:     "int",
	TypeBool:    "bool",
	TypeTag:     "tag",
	TypeMessage: "message",
	TypeRecord:  "record",
}

func (t FieldType) String() string {
	if name, ok := fieldTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("FieldType(%d)", int(t))
}

// ParseFieldType converts a catalog type name into a FieldType.
func ParseFieldType(s string) (FieldType, error) {
	for t, name := range fieldTypeNames {
		if strings.EqualFold(name, s) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown field type %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (t FieldType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *FieldType) UnmarshalText(text []byte) error {
	parsed, err := ParseFieldType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (t *FieldType) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	return t.UnmarshalText([]byte(s))
}

// Field is one field contract of a shape or record.
type Field struct {
	Name string    `yaml:"name" json:"name"`
	Type FieldType `yaml:"type" json:"type"`

	// Tag is the literal value required for TypeTag fields.
	Tag string `yaml:"tag,omitempty" json:"tag,omitempty"`

	// Record names the nested record for TypeRecord fields.
	Record string `yaml:"record,omitempty" json:"record,omitempty"`

	// Nullable allows an explicit null in place of the value.
	Nullable bool `yaml:"nullable,omitempty" json:"nullable,omitempty"`

	// Optional fields are type checked only when present.
	Optional bool `yaml:"optional,omitempty" json:"optional,omitempty"`
}

// Level is the depth of a shape in the discriminator hierarchy.
type Level int

const (
	LevelGeneric Level = iota
	LevelPost
	LevelDetail
	LevelSub
)

func (l Level) String() string {
	switch l {
	case LevelGeneric:
		return "generic"
	case LevelPost:
		return "post"
	case LevelDetail:
		return "detail"
	case LevelSub:
		return "sub"
	default:
		return fmt.Sprintf("Level(%d)", int(l))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// Shape is a compiled, named event record definition. Fields holds the
// flattened contract including inherited fields and implied literal tags.
// Shapes are immutable once the registry is built.
type Shape struct {
	Name       string  `json:"name"`
	Version    string  `json:"version"`
	Level      Level   `json:"level"`
	PostType   string  `json:"post_type,omitempty"`
	DetailType string  `json:"detail_type,omitempty"`
	SubType    string  `json:"sub_type,omitempty"`
	Fields     []Field `json:"fields"`
	AllowExtra bool    `json:"allow_extra"`

	children []string
}

// Field returns the field contract with the given name.
func (s *Shape) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Requires reports whether the shape requires the named field.
func (s *Shape) Requires(name string) bool {
	f, ok := s.Field(name)
	return ok && !f.Optional
}

// Terminal reports whether no deeper discriminator level exists below the shape.
func (s *Shape) Terminal() bool {
	return len(s.children) == 0
}

// Path renders the discriminator triple of the shape, e.g. "notice.notify.poke".
func (s *Shape) Path() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{s.PostType, s.DetailType, s.SubType} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ".")
}

// Record is a flat nested record such as Sender, Anonymous or File.
type Record struct {
	Name       string  `json:"name"`
	Fields     []Field `json:"fields"`
	AllowExtra bool    `json:"allow_extra"`
}

// Match describes how specific a resolution is.
type Match int

const (
	// MatchExact means every supplied discriminator the catalog could consume matched.
	MatchExact Match = iota
	// MatchPartial means the walk stopped at a post or detail shape because a deeper key was absent or unknown.
	MatchPartial
	// MatchGeneric means the post type is unknown and the generic shape was used.
	MatchGeneric
)

func (m Match) String() string {
	switch m {
	case MatchExact:
		return "exact"
	case MatchPartial:
		return "partial"
	case MatchGeneric:
		return "generic"
	default:
		return fmt.Sprintf("Match(%d)", int(m))
	}
}

// Resolution is the result of a registry lookup.
type Resolution struct {
	Shape *Shape
	Match Match
}
