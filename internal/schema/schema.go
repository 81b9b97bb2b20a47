// Package schema holds the entity and relation declarations the import engine
// consumes. Declarations are plain immutable data: a Registry is built once
// and shared read-only by every component of a run.
package schema

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Any matches every entity type in a relation declaration.
const Any = "*"

// EntityDecl describes one entity type.
type EntityDecl struct {
	Type string
	// Key is the natural-key attribute treated as unique by the resolver.
	// Empty means entities of this type are never deduplicated.
	Key string
	// Required lists attributes that must be present and non-empty.
	Required []string
	// Restricted entities carry an in_assessment back-reference that drives
	// access control.
	Restricted bool
}

// RelationDecl describes one relation type.
type RelationDecl struct {
	Name      string
	From      []string
	To        []string
	Symmetric bool
}

// Registry is an immutable set of declarations.
type Registry struct {
	entities  map[string]EntityDecl
	relations map[string]RelationDecl
}

// NewRegistry validates and indexes the given declarations. Relation
// endpoints must name declared entity types (or Any).
func NewRegistry(entities []EntityDecl, relations []RelationDecl) (*Registry, error) {
	r := &Registry{
		entities:  make(map[string]EntityDecl, len(entities)),
		relations: make(map[string]RelationDecl, len(relations)),
	}
	for _, e := range entities {
		if e.Type == "" {
			return nil, fmt.Errorf("schema: entity declaration without type")
		}
		if _, dup := r.entities[e.Type]; dup {
			return nil, fmt.Errorf("schema: entity %s declared twice", e.Type)
		}
		e.Required = append([]string(nil), e.Required...)
		r.entities[e.Type] = e
	}
	for _, rel := range relations {
		if rel.Name == "" {
			return nil, fmt.Errorf("schema: relation declaration without name")
		}
		if _, dup := r.relations[rel.Name]; dup {
			return nil, fmt.Errorf("schema: relation %s declared twice", rel.Name)
		}
		for _, t := range append(append([]string(nil), rel.From...), rel.To...) {
			if t == Any {
				continue
			}
			if _, ok := r.entities[t]; !ok {
				return nil, fmt.Errorf("schema: relation %s references undeclared entity %s", rel.Name, t)
			}
		}
		rel.From = append([]string(nil), rel.From...)
		rel.To = append([]string(nil), rel.To...)
		r.relations[rel.Name] = rel
	}
	return r, nil
}

// MustRegistry is NewRegistry that panics on error. Intended for static
// declaration tables.
func MustRegistry(entities []EntityDecl, relations []RelationDecl) *Registry {
	r, err := NewRegistry(entities, relations)
	if err != nil {
		panic(err)
	}
	return r
}

// Entity returns the declaration for an entity type.
func (r *Registry) Entity(etype string) (EntityDecl, bool) {
	e, ok := r.entities[etype]
	return e, ok
}

// Relation returns the declaration for a relation type.
func (r *Registry) Relation(name string) (RelationDecl, bool) {
	rel, ok := r.relations[name]
	return rel, ok
}

// EntityTypes returns all declared entity types, sorted.
func (r *Registry) EntityTypes() []string {
	out := make([]string, 0, len(r.entities))
	for t := range r.entities {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// RelationNames returns all declared relation names, sorted.
func (r *Registry) RelationNames() []string {
	out := make([]string, 0, len(r.relations))
	for n := range r.relations {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// KeyOf returns the natural-key value of attrs for etype as text, or "" when
// the type has no natural key.
func (r *Registry) KeyOf(etype string, attrs map[string]any) string {
	e, ok := r.entities[etype]
	if !ok || e.Key == "" {
		return ""
	}
	v, ok := attrs[e.Key]
	if !ok || v == nil {
		return ""
	}
	return KeyString(v)
}

// ValidateEntity checks that etype is declared and that every required
// attribute is present and non-empty.
func (r *Registry) ValidateEntity(etype string, attrs map[string]any) error {
	e, ok := r.entities[etype]
	if !ok {
		return fmt.Errorf("unknown entity type %q", etype)
	}
	var missing []string
	for _, name := range e.Required {
		v, ok := attrs[name]
		if !ok || v == nil {
			missing = append(missing, name)
			continue
		}
		if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%s: missing required attribute(s) %s", etype, strings.Join(missing, ", "))
	}
	return nil
}

// ValidateRelation checks that the relation is declared and that it may link
// an entity of fromType to one of toType.
func (r *Registry) ValidateRelation(name, fromType, toType string) error {
	rel, ok := r.relations[name]
	if !ok {
		return fmt.Errorf("unknown relation %q", name)
	}
	if allows(rel.From, fromType) && allows(rel.To, toType) {
		return nil
	}
	if rel.Symmetric && allows(rel.From, toType) && allows(rel.To, fromType) {
		return nil
	}
	return fmt.Errorf("relation %s does not link %s to %s", name, fromType, toType)
}

func allows(types []string, t string) bool {
	for _, candidate := range types {
		if candidate == Any || candidate == t {
			return true
		}
	}
	return false
}

// KeyString renders a natural-key value as text. Integral floats (as decoded
// from JSON) render without a fractional part so 12 and 12.0 share a key.
func KeyString(v any) string {
	switch n := v.(type) {
	case string:
		return n
	case float64:
		if n == math.Trunc(n) && math.Abs(n) < 1e15 {
			return strconv.FormatInt(int64(n), 10)
		}
		return strconv.FormatFloat(n, 'g', -1, 64)
	case float32:
		return KeyString(float64(n))
	case int:
		return strconv.Itoa(n)
	case int64:
		return strconv.FormatInt(n, 10)
	case int32:
		return strconv.FormatInt(int64(n), 10)
	case bool:
		return strconv.FormatBool(n)
	default:
		return fmt.Sprint(v)
	}
}
