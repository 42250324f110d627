package shape

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// ExtraPolicy controls whether keys not declared by a shape are accepted.
// The empty policy inherits from the enclosing level.
type ExtraPolicy string

const (
	ExtraInherit ExtraPolicy = ""
	ExtraAllow   ExtraPolicy = "allow"
	ExtraForbid  ExtraPolicy = "forbid"
)

// Catalog is the data-driven description of the protocol's event shapes.
// It is the YAML document loaded by LoadCatalog and compiled by NewRegistry.
type Catalog struct {
	Version   string                   `yaml:"version"`
	Generic   string                   `yaml:"generic"`
	Base      []Field                  `yaml:"base"`
	Records   map[string]*RecordSpec   `yaml:"records"`
	PostTypes map[string]*PostTypeSpec `yaml:"post_types"`
}

// RecordSpec declares a nested record.
type RecordSpec struct {
	Extra  ExtraPolicy `yaml:"extra"`
	Fields []Field     `yaml:"fields"`
}

// PostTypeSpec is a level-1 node keyed by post_type.
type PostTypeSpec struct {
	Shape       string                     `yaml:"shape"`
	Extra       ExtraPolicy                `yaml:"extra"`
	Fields      []Field                    `yaml:"fields"`
	DetailTypes map[string]*DetailTypeSpec `yaml:"detail_types"`
}

// DetailTypeSpec is a level-2 node keyed by <post_type>_type.
type DetailTypeSpec struct {
	Shape    string                  `yaml:"shape"`
	Extra    ExtraPolicy             `yaml:"extra"`
	Fields   []Field                 `yaml:"fields"`
	SubTypes map[string]*SubTypeSpec `yaml:"sub_types"`
}

// SubTypeSpec is a level-3 node keyed by sub_type.
type SubTypeSpec struct {
	Shape  string      `yaml:"shape"`
	Extra  ExtraPolicy `yaml:"extra"`
	Fields []Field     `yaml:"fields"`
}

// LoadCatalog decodes a YAML catalog. Unknown keys are rejected.
func LoadCatalog(r io.Reader) (*Catalog, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var c Catalog
	if err := dec.Decode(&c); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("decode catalog: empty document")
		}
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return &c, nil
}

// LoadCatalogFile reads a YAML catalog from disk.
func LoadCatalogFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()

	c, err := LoadCatalog(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// DefaultCatalog returns a fresh copy of the built-in OneBot v11 catalog.
// Callers may Extend it without affecting other callers.
func DefaultCatalog() *Catalog {
	c, err := LoadCatalog(bytes.NewReader(defaultCatalog))
	if err != nil {
		panic(fmt.Sprintf("embedded catalog is invalid: %v", err))
	}
	return c
}

// Extend merges other into c. Scalars set in other win, fields are merged by
// name, records are replaced by name and the discriminator tree is merged
// node by node.
func (c *Catalog) Extend(other *Catalog) error {
	if other == nil {
		return nil
	}
	if other.Version != "" {
		c.Version = other.Version
	}
	if other.Generic != "" {
		c.Generic = other.Generic
	}
	c.Base = mergeFields(c.Base, other.Base)

	for name, rec := range other.Records {
		if rec == nil {
			return fmt.Errorf("record %s: empty definition", name)
		}
		if c.Records == nil {
			c.Records = make(map[string]*RecordSpec)
		}
		c.Records[name] = rec
	}

	for key, post := range other.PostTypes {
		if post == nil {
			return fmt.Errorf("post_type %s: empty definition", key)
		}
		if c.PostTypes == nil {
			c.PostTypes = make(map[string]*PostTypeSpec)
		}
		existing, ok := c.PostTypes[key]
		if !ok {
			c.PostTypes[key] = post
			continue
		}
		existing.merge(post)
	}
	return nil
}

func (p *PostTypeSpec) merge(other *PostTypeSpec) {
	if other.Shape != "" {
		p.Shape = other.Shape
	}
	if other.Extra != ExtraInherit {
		p.Extra = other.Extra
	}
	p.Fields = mergeFields(p.Fields, other.Fields)
	for key, detail := range other.DetailTypes {
		if detail == nil {
			continue
		}
		if p.DetailTypes == nil {
			p.DetailTypes = make(map[string]*DetailTypeSpec)
		}
		existing, ok := p.DetailTypes[key]
		if !ok {
			p.DetailTypes[key] = detail
			continue
		}
		existing.merge(detail)
	}
}

func (d *DetailTypeSpec) merge(other *DetailTypeSpec) {
	if other.Shape != "" {
		d.Shape = other.Shape
	}
	if other.Extra != ExtraInherit {
		d.Extra = other.Extra
	}
	d.Fields = mergeFields(d.Fields, other.Fields)
	for key, sub := range other.SubTypes {
		if sub == nil {
			continue
		}
		if d.SubTypes == nil {
			d.SubTypes = make(map[string]*SubTypeSpec)
		}
		existing, ok := d.SubTypes[key]
		if !ok {
			d.SubTypes[key] = sub
			continue
		}
		if sub.Shape != "" {
			existing.Shape = sub.Shape
		}
		if sub.Extra != ExtraInherit {
			existing.Extra = sub.Extra
		}
		existing.Fields = mergeFields(existing.Fields, sub.Fields)
	}
}

// mergeFields returns base with own applied on top. A field in own replaces
// the base field of the same name in place; new fields are appended.
func mergeFields(base []Field, own []Field) []Field {
	out := make([]Field, len(base), len(base)+len(own))
	copy(out, base)
	for _, f := range own {
		replaced := false
		for i := range out {
			if out[i].Name == f.Name {
				out[i] = f
				replaced = true
				break
			}
		}
		if !replaced {
			out = append(out, f)
		}
	}
	return out
}

func (p ExtraPolicy) resolve(parent bool) (bool, error) {
	switch p {
	case ExtraInherit:
		return parent, nil
	case ExtraAllow:
		return true, nil
	case ExtraForbid:
		return false, nil
	default:
		return false, fmt.Errorf("unknown extra policy %q", string(p))
	}
}
