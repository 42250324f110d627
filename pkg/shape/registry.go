package shape

import (
	"fmt"
	"sort"
)

// Registry resolves discriminator triples to compiled shapes. It is
// read-only after NewRegistry returns and safe for concurrent use.
type Registry struct {
	version string
	generic *Shape
	posts   map[string]*node
	byName  map[string]*Shape
	records map[string]*Record
	ordered []*Shape
}

type node struct {
	shape    *Shape
	children map[string]*node
}

// NewRegistry compiles a catalog into a registry.
func NewRegistry(c *Catalog) (*Registry, error) {
	if c == nil {
		return nil, fmt.Errorf("catalog is nil")
	}
	if c.Generic == "" {
		return nil, fmt.Errorf("catalog: generic shape name is required")
	}

	r := &Registry{
		version: c.Version,
		posts:   make(map[string]*node),
		byName:  make(map[string]*Shape),
		records: make(map[string]*Record),
	}

	if err := r.compileRecords(c.Records); err != nil {
		return nil, err
	}

	base := c.Base
	r.generic = &Shape{
		Name:       c.Generic,
		Version:    c.Version,
		Level:      LevelGeneric,
		Fields:     mergeFields(nil, base),
		AllowExtra: true,
	}
	if err := r.add(r.generic); err != nil {
		return nil, err
	}

	for _, postKey := range sortedKeys(c.PostTypes) {
		post := c.PostTypes[postKey]
		if postKey == "" || post == nil {
			return nil, fmt.Errorf("catalog: empty post_type entry")
		}
		detailKey := postKey + "_type"

		allow, err := post.Extra.resolve(true)
		if err != nil {
			return nil, fmt.Errorf("post_type %s: %w", postKey, err)
		}
		fields := mergeFields(base, []Field{
			{Name: "post_type", Type: TypeTag, Tag: postKey},
			{Name: detailKey, Type: TypeString},
		})
		fields = mergeFields(fields, post.Fields)
		postShape := &Shape{
			Name:       post.Shape,
			Version:    c.Version,
			Level:      LevelPost,
			PostType:   postKey,
			Fields:     fields,
			AllowExtra: allow,
		}
		if err := r.add(postShape); err != nil {
			return nil, fmt.Errorf("post_type %s: %w", postKey, err)
		}
		postNode := &node{shape: postShape, children: make(map[string]*node)}
		r.posts[postKey] = postNode

		for _, key := range sortedKeys(post.DetailTypes) {
			detail := post.DetailTypes[key]
			if key == "" || detail == nil {
				return nil, fmt.Errorf("post_type %s: empty detail type entry", postKey)
			}
			detailNode, err := r.compileDetail(c.Version, postShape, detailKey, key, detail)
			if err != nil {
				return nil, fmt.Errorf("%s %s: %w", detailKey, key, err)
			}
			postNode.children[key] = detailNode
			postShape.children = append(postShape.children, key)
		}
	}

	return r, nil
}

func (r *Registry) compileDetail(version string, parent *Shape, detailKey, key string, spec *DetailTypeSpec) (*node, error) {
	allow, err := spec.Extra.resolve(parent.AllowExtra)
	if err != nil {
		return nil, err
	}
	fields := mergeFields(parent.Fields, []Field{{Name: detailKey, Type: TypeTag, Tag: key}})
	fields = mergeFields(fields, spec.Fields)

	detailShape := &Shape{
		Name:       spec.Shape,
		Version:    version,
		Level:      LevelDetail,
		PostType:   parent.PostType,
		DetailType: key,
		Fields:     fields,
		AllowExtra: allow,
	}
	if err := r.add(detailShape); err != nil {
		return nil, err
	}

	n := &node{shape: detailShape, children: make(map[string]*node)}
	for _, subKey := range sortedKeys(spec.SubTypes) {
		sub := spec.SubTypes[subKey]
		if subKey == "" || sub == nil {
			return nil, fmt.Errorf("empty sub_type entry")
		}
		subAllow, err := sub.Extra.resolve(allow)
		if err != nil {
			return nil, fmt.Errorf("sub_type %s: %w", subKey, err)
		}
		subFields := mergeFields(fields, []Field{{Name: "sub_type", Type: TypeTag, Tag: subKey}})
		subFields = mergeFields(subFields, sub.Fields)

		subShape := &Shape{
			Name:       sub.Shape,
			Version:    version,
			Level:      LevelSub,
			PostType:   parent.PostType,
			DetailType: key,
			SubType:    subKey,
			Fields:     subFields,
			AllowExtra: subAllow,
		}
		if err := r.add(subShape); err != nil {
			return nil, fmt.Errorf("sub_type %s: %w", subKey, err)
		}
		n.children[subKey] = &node{shape: subShape}
		detailShape.children = append(detailShape.children, subKey)
	}
	return n, nil
}

func (r *Registry) compileRecords(specs map[string]*RecordSpec) error {
	for _, name := range sortedKeys(specs) {
		spec := specs[name]
		if spec == nil {
			return fmt.Errorf("record %s: empty definition", name)
		}
		allow, err := spec.Extra.resolve(true)
		if err != nil {
			return fmt.Errorf("record %s: %w", name, err)
		}
		r.records[name] = &Record{Name: name, Fields: mergeFields(nil, spec.Fields), AllowExtra: allow}
	}
	// Records are flat: nested records are not supported.
	for _, rec := range r.records {
		for _, f := range rec.Fields {
			if f.Type == TypeRecord {
				return fmt.Errorf("record %s: field %s: nested records are not supported", rec.Name, f.Name)
			}
			if err := checkField(f); err != nil {
				return fmt.Errorf("record %s: %w", rec.Name, err)
			}
		}
	}
	return nil
}

func (r *Registry) add(s *Shape) error {
	if s.Name == "" {
		return fmt.Errorf("shape name is required")
	}
	if _, dup := r.byName[s.Name]; dup {
		return fmt.Errorf("duplicate shape name %s", s.Name)
	}
	if err := r.checkFields(s.Name, s.Fields); err != nil {
		return err
	}
	r.byName[s.Name] = s
	r.ordered = append(r.ordered, s)
	return nil
}

func (r *Registry) checkFields(shapeName string, fields []Field) error {
	for _, f := range fields {
		if err := checkField(f); err != nil {
			return fmt.Errorf("shape %s: %w", shapeName, err)
		}
		if f.Type == TypeRecord {
			if _, ok := r.records[f.Record]; !ok {
				return fmt.Errorf("shape %s: field %s: unknown record %q", shapeName, f.Name, f.Record)
			}
		}
	}
	return nil
}

func checkField(f Field) error {
	if f.Name == "" {
		return fmt.Errorf("field without name")
	}
	if _, ok := fieldTypeNames[f.Type]; !ok {
		return fmt.Errorf("field %s: missing or invalid type", f.Name)
	}
	if f.Type == TypeTag && f.Tag == "" {
		return fmt.Errorf("field %s: tag fields need a literal value", f.Name)
	}
	if f.Type == TypeRecord && f.Record == "" {
		return fmt.Errorf("field %s: record fields need a record name", f.Name)
	}
	return nil
}

// Resolve walks the three discriminator levels. Empty strings mean the key is
// absent. It never fails: the worst case is the generic shape.
func (r *Registry) Resolve(postType, detailType, subType string) Resolution {
	post, ok := r.posts[postType]
	if !ok {
		return Resolution{Shape: r.generic, Match: MatchGeneric}
	}
	detail, ok := post.children[detailType]
	if !ok {
		return Resolution{Shape: post.shape, Match: MatchPartial}
	}
	if len(detail.children) == 0 || subType == "" {
		return Resolution{Shape: detail.shape, Match: MatchExact}
	}
	sub, ok := detail.children[subType]
	if !ok {
		return Resolution{Shape: detail.shape, Match: MatchPartial}
	}
	return Resolution{Shape: sub.shape, Match: MatchExact}
}

// Lookup returns the shape with the given name.
func (r *Registry) Lookup(name string) (*Shape, bool) {
	s, ok := r.byName[name]
	return s, ok
}

// Record returns the nested record with the given name.
func (r *Registry) Record(name string) (*Record, bool) {
	rec, ok := r.records[name]
	return rec, ok
}

// Generic returns the fallback shape for unknown post types.
func (r *Registry) Generic() *Shape {
	return r.generic
}

// Version returns the catalog version the registry was built from.
func (r *Registry) Version() string {
	return r.version
}

// Shapes lists every shape, generic first, then depth-first in key order.
func (r *Registry) Shapes() []*Shape {
	out := make([]*Shape, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Records lists every nested record sorted by name.
func (r *Registry) Records() []*Record {
	out := make([]*Record, 0, len(r.records))
	for _, name := range sortedKeys(r.records) {
		out = append(out, r.records[name])
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
