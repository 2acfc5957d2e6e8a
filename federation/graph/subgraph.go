package graph

import (
	"fmt"
	"strings"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
)

const (
	directiveKey          = "key"
	directiveExternal     = "external"
	directiveRequires     = "requires"
	directiveProvides     = "provides"
	directiveShareable    = "shareable"
	directiveOverride     = "override"
	directiveInaccessible = "inaccessible"
	directiveExtends      = "extends"
)

// federationDirectives are stripped from the composed public schema; clients
// never see them and subgraphs remain free to declare them however they like.
var federationDirectives = map[string]bool{
	directiveKey:          true,
	directiveExternal:     true,
	directiveRequires:     true,
	directiveProvides:     true,
	directiveShareable:    true,
	directiveOverride:     true,
	directiveInaccessible: true,
	directiveExtends:      true,
	"tag":              true,
	"link":             true,
	"composeDirective": true,
	"interfaceObject":  true,
}

// reservedTypes are per-subgraph federation machinery, excluded from the
// composed public schema.
var reservedTypes = map[string]bool{
	"_Service":      true,
	"_Any":          true,
	"_Entity":       true,
	"_FieldSet":     true,
	"FieldSet":      true,
	"link__Import":  true,
	"link__Purpose": true,
}

// reservedRootFields live on every subgraph's Query type for the federation
// protocol itself.
var reservedRootFields = map[string]bool{
	"_entities": true,
	"_service":  true,
}

// EntityKey is one @key directive on a type: the top-level field names of its
// FieldSet in declaration order, and whether the declaring subgraph can
// resolve a representation built from it.
type EntityKey struct {
	Fields     []string
	Resolvable bool
}

// Entity records the federation identity of one type within a subgraph.
type Entity struct {
	TypeName  string
	Keys      []EntityKey
	Extension bool
}

type fieldMeta struct {
	external     bool
	shareable    bool
	inaccessible bool
	overrideFrom string
	requires     []string
	provides     []string
}

// Subgraph is one downstream GraphQL service: its endpoint, its parsed schema
// document, and the federation metadata extracted from that document.
type Subgraph struct {
	Name string
	URL  string

	doc      *ast.SchemaDocument
	entities map[string]*Entity
	fields   map[string]fieldMeta // keyed "Type.field"
}

// ParseSubgraph parses a subgraph SDL and extracts its federation metadata:
// @key, @external, @requires, @provides, @shareable, @override,
// @inaccessible, and extend declarations. The SDL is only parsed here; schema
// validation happens once, against the composed supergraph.
func ParseSubgraph(name, url, sdl string) (*Subgraph, error) {
	doc, err := parser.ParseSchema(&ast.Source{Name: name, Input: sdl})
	if err != nil {
		return nil, fmt.Errorf("parse subgraph %q schema: %w", name, err)
	}

	sg := &Subgraph{
		Name:     name,
		URL:      url,
		doc:      doc,
		entities: map[string]*Entity{},
		fields:   map[string]fieldMeta{},
	}
	for _, def := range doc.Definitions {
		sg.scanDefinition(def, hasDirective(def.Directives, directiveExtends))
	}
	for _, def := range doc.Extensions {
		sg.scanDefinition(def, true)
	}
	return sg, nil
}

func (s *Subgraph) scanDefinition(def *ast.Definition, extension bool) {
	if def.Kind != ast.Object && def.Kind != ast.Interface {
		return
	}

	typeShareable := hasDirective(def.Directives, directiveShareable)
	typeInaccessible := hasDirective(def.Directives, directiveInaccessible)

	for _, d := range def.Directives {
		if d.Name != directiveKey {
			continue
		}
		key := EntityKey{Resolvable: true}
		if arg := d.Arguments.ForName("fields"); arg != nil {
			key.Fields = topLevelFields(arg.Value.Raw)
		}
		if arg := d.Arguments.ForName("resolvable"); arg != nil && arg.Value.Raw == "false" {
			key.Resolvable = false
		}
		ent := s.entities[def.Name]
		if ent == nil {
			ent = &Entity{TypeName: def.Name}
			s.entities[def.Name] = ent
		}
		ent.Keys = append(ent.Keys, key)
		ent.Extension = ent.Extension || extension
	}

	for _, f := range def.Fields {
		meta := fieldMeta{shareable: typeShareable, inaccessible: typeInaccessible}
		for _, d := range f.Directives {
			switch d.Name {
			case directiveExternal:
				meta.external = true
			case directiveShareable:
				meta.shareable = true
			case directiveInaccessible:
				meta.inaccessible = true
			case directiveOverride:
				if arg := d.Arguments.ForName("from"); arg != nil {
					meta.overrideFrom = arg.Value.Raw
				}
			case directiveRequires:
				if arg := d.Arguments.ForName("fields"); arg != nil {
					meta.requires = topLevelFields(arg.Value.Raw)
				}
			case directiveProvides:
				if arg := d.Arguments.ForName("fields"); arg != nil {
					meta.provides = topLevelFields(arg.Value.Raw)
				}
			}
		}
		s.fields[def.Name+"."+f.Name] = meta
	}
}

// Entity returns the federation metadata for typeName, or nil when this
// subgraph never declared a @key for it.
func (s *Subgraph) Entity(typeName string) *Entity {
	return s.entities[typeName]
}

// Keys returns the resolvable entity keys this subgraph declares for
// typeName, in declaration order.
func (s *Subgraph) Keys(typeName string) []EntityKey {
	ent := s.entities[typeName]
	if ent == nil {
		return nil
	}
	var keys []EntityKey
	for _, k := range ent.Keys {
		if k.Resolvable {
			keys = append(keys, k)
		}
	}
	return keys
}

func (s *Subgraph) meta(typeName, field string) fieldMeta {
	return s.fields[typeName+"."+field]
}

// Resolves reports whether this subgraph answers typeName.field itself.
// Fields marked @external are declared for key plumbing only.
func (s *Subgraph) Resolves(typeName, field string) bool {
	m, ok := s.fields[typeName+"."+field]
	return ok && !m.external
}

// Requires returns the extra parent fields this subgraph needs alongside the
// entity key before it can resolve typeName.field (@requires).
func (s *Subgraph) Requires(typeName, field string) []string {
	return s.meta(typeName, field).requires
}

// Provides returns the nested fields this subgraph resolves locally through
// typeName.field even though another service owns them (@provides).
func (s *Subgraph) Provides(typeName, field string) []string {
	return s.meta(typeName, field).provides
}

func hasDirective(list ast.DirectiveList, name string) bool {
	for _, d := range list {
		if d.Name == name {
			return true
		}
	}
	return false
}

// topLevelFields extracts the top-level field names of a FieldSet literal.
// Nested selections ("user { id }") contribute only their root name.
func topLevelFields(fieldSet string) []string {
	var (
		names []string
		depth int
	)
	spaced := strings.NewReplacer("{", " { ", "}", " } ").Replace(fieldSet)
	for _, tok := range strings.Fields(spaced) {
		switch tok {
		case "{":
			depth++
		case "}":
			depth--
		default:
			if depth == 0 {
				names = append(names, tok)
			}
		}
	}
	return names
}
