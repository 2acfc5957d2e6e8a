package executor

import (
	"strings"

	"github.com/vektah/gqlparser/v2/ast"

	"github.com/weftql/weft/federation/planner"
	"github.com/weftql/weft/federation/validation"
)

// buildQuery renders the operation text for one fetch node, plus the subset
// of variable values the rendered text references. Entity nodes render the
// federation _entities form; the representations value itself is attached by
// the caller at dispatch time.
func buildQuery(op *validation.Operation, node *planner.FetchNode, variables map[string]interface{}) (string, map[string]interface{}) {
	used := map[string]bool{}
	collectVariables(node.Selection, used)

	var b strings.Builder
	if op.Definition.Operation == ast.Mutation && node.Kind == planner.NodeQuery {
		b.WriteString("mutation")
	} else {
		b.WriteString("query")
	}
	writeVariableDefinitions(&b, op, node, used)
	b.WriteString(" ")

	if node.Kind == planner.NodeEntity {
		b.WriteString("{ _entities(representations: $representations) { ... on ")
		b.WriteString(node.ParentType)
		b.WriteString(" ")
		writeSelectionSet(&b, node.Selection)
		b.WriteString(" } }")
	} else {
		writeSelectionSet(&b, node.Selection)
	}

	vars := map[string]interface{}{}
	for name := range used {
		if v, ok := variables[name]; ok {
			vars[name] = v
		}
	}
	return b.String(), vars
}

// writeVariableDefinitions declares exactly the variables the sub-request
// uses; subgraphs reject operations that declare unused variables. Defaults
// are not re-rendered because the coerced values already carry them.
func writeVariableDefinitions(b *strings.Builder, op *validation.Operation, node *planner.FetchNode, used map[string]bool) {
	var defs []string
	if node.Kind == planner.NodeEntity {
		defs = append(defs, "$representations: [_Any!]!")
	}
	for _, decl := range op.Definition.VariableDefinitions {
		if used[decl.Variable] {
			defs = append(defs, "$"+decl.Variable+": "+typeString(decl.Type))
		}
	}
	if len(defs) == 0 {
		return
	}
	b.WriteString(" (")
	b.WriteString(strings.Join(defs, ", "))
	b.WriteString(")")
}

func collectVariables(sels ast.SelectionSet, used map[string]bool) {
	for _, sel := range sels {
		switch s := sel.(type) {
		case *ast.Field:
			for _, arg := range s.Arguments {
				collectValueVariables(arg.Value, used)
			}
			collectVariables(s.SelectionSet, used)
		case *ast.InlineFragment:
			collectVariables(s.SelectionSet, used)
		}
	}
}

func collectValueVariables(v *ast.Value, used map[string]bool) {
	if v == nil {
		return
	}
	if v.Kind == ast.Variable {
		used[v.Raw] = true
		return
	}
	for _, child := range v.Children {
		collectValueVariables(child.Value, used)
	}
}

func writeSelectionSet(b *strings.Builder, sels ast.SelectionSet) {
	b.WriteString("{")
	for _, sel := range sels {
		b.WriteString(" ")
		switch s := sel.(type) {
		case *ast.Field:
			writeField(b, s)
		case *ast.InlineFragment:
			b.WriteString("... on ")
			b.WriteString(s.TypeCondition)
			b.WriteString(" ")
			writeSelectionSet(b, s.SelectionSet)
		}
	}
	b.WriteString(" }")
}

func writeField(b *strings.Builder, f *ast.Field) {
	if f.Alias != "" && f.Alias != f.Name {
		b.WriteString(f.Alias)
		b.WriteString(": ")
	}
	b.WriteString(f.Name)
	if len(f.Arguments) > 0 {
		b.WriteString("(")
		for i, arg := range f.Arguments {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(arg.Name)
			b.WriteString(": ")
			b.WriteString(arg.Value.String())
		}
		b.WriteString(")")
	}
	if len(f.SelectionSet) > 0 {
		b.WriteString(" ")
		writeSelectionSet(b, f.SelectionSet)
	}
}

func typeString(t *ast.Type) string {
	if t == nil {
		return ""
	}
	if t.NamedType != "" {
		if t.NonNull {
			return t.NamedType + "!"
		}
		return t.NamedType
	}
	inner := "[" + typeString(t.Elem) + "]"
	if t.NonNull {
		inner += "!"
	}
	return inner
}
