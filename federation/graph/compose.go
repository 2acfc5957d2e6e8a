package graph

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/vektah/gqlparser/v2"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/formatter"
)

// ErrSchemaConflict marks composition failures caused by subgraphs declaring
// the same schema member with different shapes.
var ErrSchemaConflict = errors.New("subgraph schema conflict")

var builtinScalars = map[string]bool{
	"Int":     true,
	"Float":   true,
	"String":  true,
	"Boolean": true,
	"ID":      true,
}

// builtinDirectives are declared by the gqlparser prelude and must not be
// redeclared by the composed document.
var builtinDirectives = map[string]bool{
	"skip":        true,
	"include":     true,
	"deprecated":  true,
	"specifiedBy": true,
}

type fieldOverride struct {
	winner *Subgraph
	from   string
}

type composer struct {
	graph     *SuperGraph
	merged    *ast.SchemaDocument
	overrides map[string]fieldOverride
}

// Compose merges the subgraph schema documents into one supergraph. Types
// declared by several subgraphs are merged member-wise; conflicting
// declarations (same field, different shape) abort composition. The merged
// document, with federation directives and machinery stripped, is rendered to
// SDL and loaded as the public schema. Field ownership is recorded in
// registration order, honoring @override and skipping @external and
// @inaccessible declarations.
func Compose(subgraphs []*Subgraph) (*SuperGraph, error) {
	if len(subgraphs) == 0 {
		return nil, fmt.Errorf("compose: no subgraphs registered")
	}

	c := &composer{
		graph: &SuperGraph{
			subgraphs: subgraphs,
			owners:    map[string][]*Subgraph{},
		},
		merged:    &ast.SchemaDocument{},
		overrides: map[string]fieldOverride{},
	}

	for _, sg := range subgraphs {
		if err := c.checkRootTypeNames(sg); err != nil {
			return nil, err
		}
		for _, dd := range sg.doc.Directives {
			c.mergeDirectiveDefinition(dd)
		}
		for _, def := range sg.doc.Definitions {
			if err := c.mergeDefinition(def, sg); err != nil {
				return nil, err
			}
		}
		for _, def := range sg.doc.Extensions {
			if err := c.mergeDefinition(def, sg); err != nil {
				return nil, err
			}
		}
	}
	c.applyOverrides()

	if c.merged.Definitions.ForName("Query") == nil {
		return nil, fmt.Errorf("compose: no subgraph declares a Query type")
	}

	var buf bytes.Buffer
	formatter.NewFormatter(&buf).FormatSchemaDocument(c.merged)
	c.graph.sdl = buf.String()

	schema, err := gqlparser.LoadSchema(&ast.Source{Name: "supergraph", Input: c.graph.sdl})
	if err != nil {
		return nil, fmt.Errorf("load composed schema: %w", err)
	}
	c.graph.schema = schema

	return c.graph, nil
}

// checkRootTypeNames rejects subgraphs that remap root operation types via a
// schema block; composition assumes the canonical Query/Mutation/Subscription
// names.
func (c *composer) checkRootTypeNames(sg *Subgraph) error {
	canonical := map[ast.Operation]string{
		ast.Query:        "Query",
		ast.Mutation:     "Mutation",
		ast.Subscription: "Subscription",
	}
	schemaDefs := append(ast.SchemaDefinitionList{}, sg.doc.Schema...)
	schemaDefs = append(schemaDefs, sg.doc.SchemaExtension...)
	for _, sd := range schemaDefs {
		for _, ot := range sd.OperationTypes {
			if ot.Type != canonical[ot.Operation] {
				return fmt.Errorf("subgraph %q: custom root operation type name %q is not supported", sg.Name, ot.Type)
			}
		}
	}
	return nil
}

func (c *composer) mergeDirectiveDefinition(dd *ast.DirectiveDefinition) {
	if federationDirectives[dd.Name] || builtinDirectives[dd.Name] {
		return
	}
	if c.merged.Directives.ForName(dd.Name) == nil {
		c.merged.Directives = append(c.merged.Directives, dd)
	}
}

func (c *composer) mergeDefinition(def *ast.Definition, sg *Subgraph) error {
	if reservedTypes[def.Name] || builtinScalars[def.Name] {
		return nil
	}
	if hasDirective(def.Directives, directiveInaccessible) {
		return nil
	}

	existing := c.merged.Definitions.ForName(def.Name)
	if existing == nil {
		existing = &ast.Definition{
			Kind:        def.Kind,
			Name:        def.Name,
			Description: def.Description,
			Directives:  cleanDirectives(def.Directives),
			Position:    def.Position,
		}
		c.merged.Definitions = append(c.merged.Definitions, existing)
	} else if existing.Kind != def.Kind {
		return fmt.Errorf("%w: type %q is %s in subgraph %q but was composed as %s",
			ErrSchemaConflict, def.Name, def.Kind, sg.Name, existing.Kind)
	}

	switch def.Kind {
	case ast.Object, ast.Interface, ast.InputObject:
		existing.Interfaces = mergeNames(existing.Interfaces, def.Interfaces)
		for _, f := range def.Fields {
			if err := c.mergeField(existing, def, f, sg); err != nil {
				return err
			}
		}
	case ast.Enum:
		for _, v := range def.EnumValues {
			if existing.EnumValues.ForName(v.Name) == nil {
				existing.EnumValues = append(existing.EnumValues, &ast.EnumValueDefinition{
					Name:        v.Name,
					Description: v.Description,
					Directives:  cleanDirectives(v.Directives),
					Position:    v.Position,
				})
			}
		}
	case ast.Union:
		existing.Types = mergeNames(existing.Types, def.Types)
	}

	return nil
}

func (c *composer) mergeField(existing, def *ast.Definition, f *ast.FieldDefinition, sg *Subgraph) error {
	if isRootType(def.Name) && reservedRootFields[f.Name] {
		return nil
	}
	meta := sg.meta(def.Name, f.Name)
	if meta.inaccessible {
		return nil
	}

	ex := existing.Fields.ForName(f.Name)
	if ex == nil {
		existing.Fields = append(existing.Fields, &ast.FieldDefinition{
			Name:         f.Name,
			Description:  f.Description,
			Arguments:    f.Arguments,
			DefaultValue: f.DefaultValue,
			Type:         f.Type,
			Directives:   cleanDirectives(f.Directives),
			Position:     f.Position,
		})
	} else if !typeEqual(ex.Type, f.Type) || !argumentsEqual(ex.Arguments, f.Arguments) {
		return fmt.Errorf("%w: field %s.%s declared as %s in subgraph %q conflicts with earlier declaration %s",
			ErrSchemaConflict, def.Name, f.Name, typeString(f.Type), sg.Name, typeString(ex.Type))
	}

	if def.Kind == ast.InputObject {
		return nil
	}
	if !meta.external {
		key := def.Name + "." + f.Name
		if !containsSubgraph(c.graph.owners[key], sg) {
			c.graph.owners[key] = append(c.graph.owners[key], sg)
		}
		if meta.overrideFrom != "" {
			c.overrides[key] = fieldOverride{winner: sg, from: meta.overrideFrom}
		}
	}
	return nil
}

// applyOverrides reorders ownership so an @override(from:) winner is
// consulted first and the named loser drops out entirely.
func (c *composer) applyOverrides() {
	for key, ov := range c.overrides {
		ordered := []*Subgraph{ov.winner}
		for _, sg := range c.graph.owners[key] {
			if sg == ov.winner || sg.Name == ov.from {
				continue
			}
			ordered = append(ordered, sg)
		}
		c.graph.owners[key] = ordered
	}
}

func cleanDirectives(list ast.DirectiveList) ast.DirectiveList {
	var out ast.DirectiveList
	for _, d := range list {
		if federationDirectives[d.Name] {
			continue
		}
		out = append(out, d)
	}
	return out
}

func isRootType(name string) bool {
	return name == "Query" || name == "Mutation" || name == "Subscription"
}

func containsSubgraph(list []*Subgraph, sg *Subgraph) bool {
	for _, s := range list {
		if s == sg {
			return true
		}
	}
	return false
}

func mergeNames(dst, src []string) []string {
	for _, name := range src {
		found := false
		for _, have := range dst {
			if have == name {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, name)
		}
	}
	return dst
}

func typeEqual(a, b *ast.Type) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.NamedType == b.NamedType && a.NonNull == b.NonNull && typeEqual(a.Elem, b.Elem)
}

func argumentsEqual(a, b ast.ArgumentDefinitionList) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Name != b[i].Name || !typeEqual(a[i].Type, b[i].Type) {
			return false
		}
	}
	return true
}

func typeString(t *ast.Type) string {
	if t == nil {
		return ""
	}
	var buf bytes.Buffer
	writeType(&buf, t)
	return buf.String()
}

func writeType(buf *bytes.Buffer, t *ast.Type) {
	if t.NamedType != "" {
		buf.WriteString(t.NamedType)
	} else {
		buf.WriteByte('[')
		writeType(buf, t.Elem)
		buf.WriteByte(']')
	}
	if t.NonNull {
		buf.WriteByte('!')
	}
}
