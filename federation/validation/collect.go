package validation

import (
	"github.com/vektah/gqlparser/v2/ast"
)

// CollectFields flattens one selection set as seen by an instance of typeName:
// fragments whose type condition can apply are expanded in place, @skip and
// @include are evaluated against the operation's variables, and selections
// sharing a response key are folded into the first occurrence with their
// child selections concatenated. Field order is document order.
//
// Validation guarantees that same-key selections name the same field with
// identical arguments, so folding never loses information.
func (o *Operation) CollectFields(schema *ast.Schema, typeName string, sels ast.SelectionSet) []*ast.Field {
	var (
		fields []*ast.Field
		index  = map[string]int{}
	)
	o.collectFields(schema, typeName, sels, map[string]bool{}, &fields, index)
	return fields
}

func (o *Operation) collectFields(schema *ast.Schema, typeName string, sels ast.SelectionSet, seen map[string]bool, fields *[]*ast.Field, index map[string]int) {
	for _, sel := range sels {
		switch s := sel.(type) {
		case *ast.Field:
			if !o.includeSelection(s.Directives) {
				continue
			}
			key := ResponseKey(s)
			if at, ok := index[key]; ok {
				prev := (*fields)[at]
				prev.SelectionSet = append(prev.SelectionSet, s.SelectionSet...)
				continue
			}
			// copy so folding never mutates the client document
			f := *s
			f.SelectionSet = append(ast.SelectionSet{}, s.SelectionSet...)
			index[key] = len(*fields)
			*fields = append(*fields, &f)
		case *ast.InlineFragment:
			if !o.includeSelection(s.Directives) {
				continue
			}
			if s.TypeCondition != "" && !fragmentApplies(schema, s.TypeCondition, typeName) {
				continue
			}
			o.collectFields(schema, typeName, s.SelectionSet, seen, fields, index)
		case *ast.FragmentSpread:
			if !o.includeSelection(s.Directives) {
				continue
			}
			frag := o.Fragments.ForName(s.Name)
			if frag == nil || seen[s.Name] {
				continue
			}
			if !fragmentApplies(schema, frag.TypeCondition, typeName) {
				continue
			}
			seen[s.Name] = true
			o.collectFields(schema, typeName, frag.SelectionSet, seen, fields, index)
			delete(seen, s.Name)
		}
	}
}

// fragmentApplies reports whether a fragment conditioned on cond can produce
// fields for an instance of typeName.
func fragmentApplies(schema *ast.Schema, cond, typeName string) bool {
	if cond == typeName {
		return true
	}
	for _, t := range schema.PossibleTypes[cond] {
		if t.Name == typeName {
			return true
		}
	}
	return false
}

// includeSelection evaluates @skip and @include against the coerced variable
// values. Unresolvable conditions keep the selection.
func (o *Operation) includeSelection(directives ast.DirectiveList) bool {
	for _, d := range directives {
		var want bool
		switch d.Name {
		case "skip":
			want = false
		case "include":
			want = true
		default:
			continue
		}
		arg := d.Arguments.ForName("if")
		if arg == nil {
			continue
		}
		cond, err := goValue(arg.Value, o.Variables)
		if err != nil {
			continue
		}
		if b, ok := cond.(bool); ok && b != want {
			return false
		}
	}
	return true
}

// ResponseKey returns the key the field answers under: its alias when one is
// given, its name otherwise.
func ResponseKey(f *ast.Field) string {
	return responseKey(f)
}
