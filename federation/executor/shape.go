package executor

import (
	"fmt"
	"strings"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"

	"github.com/weftql/weft/federation/planner"
	"github.com/weftql/weft/federation/response"
	"github.com/weftql/weft/federation/validation"
)

// shaper projects merged subgraph data onto the client selection. recorded
// holds the errors already collected from fetches, so a null caused by a
// reported failure is not reported a second time; added collects the null
// violations the shaper itself finds.
type shaper struct {
	schema   *ast.Schema
	op       *validation.Operation
	recorded []recordedError
	added    gqlerror.List
}

// recordedError ties a fetch error back to the plan node that recorded it.
// The node scopes errors that carry no path of their own.
type recordedError struct {
	err  *gqlerror.Error
	node *planner.FetchNode
}

// shape returns the response data in client field order with non-null
// propagation applied. Key fields injected for entity fetches are dropped
// here because the supergraph schema has no definition for their aliases.
func shape(schema *ast.Schema, op *validation.Operation, rootDef *ast.Definition, data map[string]interface{}, recorded []recordedError) (*response.Object, gqlerror.List) {
	s := &shaper{schema: schema, op: op, recorded: recorded}
	obj, ok := s.shapeObject(rootDef.Name, op.Definition.SelectionSet, data, nil)
	if !ok {
		return nil, s.added
	}
	return obj, s.added
}

func (s *shaper) shapeObject(typeName string, sels ast.SelectionSet, m map[string]interface{}, path ast.Path) (*response.Object, bool) {
	obj := response.NewObject()
	for _, f := range s.op.CollectFields(s.schema, typeName, sels) {
		key := validation.ResponseKey(f)
		if f.Name == "__typename" {
			obj.Set(key, typeName)
			continue
		}
		// Introspection subtrees were resolved locally and arrive already
		// ordered by their selection.
		if f.Name == "__schema" || f.Name == "__type" {
			obj.Set(key, m[key])
			continue
		}
		def := s.fieldDefinition(typeName, f.Name)
		if def == nil {
			continue
		}
		value, ok := s.completeValue(typeName, def.Type, f, m[key], append(path, ast.PathName(key)))
		if !ok {
			return nil, false
		}
		obj.Set(key, value)
	}
	return obj, true
}

// completeValue applies the completion rules for one position: nulls at
// non-null positions raise a violation and propagate to the nearest
// nullable ancestor, lists complete element-wise, and composite values
// recurse with abstract positions dispatched on the fetched __typename.
func (s *shaper) completeValue(parentType string, t *ast.Type, f *ast.Field, value interface{}, path ast.Path) (interface{}, bool) {
	if value == nil {
		if t.NonNull {
			s.nullViolation(parentType, f, path)
			return nil, false
		}
		return nil, true
	}

	if t.NamedType == "" {
		list, ok := value.([]interface{})
		if !ok {
			if t.NonNull {
				s.nullViolation(parentType, f, path)
				return nil, false
			}
			return nil, true
		}
		out := make([]interface{}, len(list))
		for i, item := range list {
			v, ok := s.completeValue(parentType, t.Elem, f, item, append(path, ast.PathIndex(i)))
			if !ok {
				if t.NonNull {
					return nil, false
				}
				return nil, true
			}
			out[i] = v
		}
		return out, true
	}

	named := s.schema.Types[t.NamedType]
	if named == nil || named.Kind == ast.Scalar || named.Kind == ast.Enum {
		return value, true
	}

	m, ok := value.(map[string]interface{})
	if !ok {
		if t.NonNull {
			s.nullViolation(parentType, f, path)
			return nil, false
		}
		return nil, true
	}

	typeName := named.Name
	if named.Kind == ast.Interface || named.Kind == ast.Union {
		if tn, ok := m["__typename"].(string); ok {
			typeName = tn
		}
	}

	obj, ok := s.shapeObject(typeName, f.SelectionSet, m, path)
	if !ok {
		if t.NonNull {
			return nil, false
		}
		return nil, true
	}
	return obj, true
}

func (s *shaper) fieldDefinition(typeName, fieldName string) *ast.FieldDefinition {
	def := s.schema.Types[typeName]
	if def == nil {
		return nil
	}
	return def.Fields.ForName(fieldName)
}

func (s *shaper) nullViolation(parentType string, f *ast.Field, path ast.Path) {
	for _, rec := range s.recorded {
		if rec.explains(path) {
			return
		}
	}
	if addedExplains(s.added, path) {
		return
	}
	s.added = append(s.added, &gqlerror.Error{
		Message: fmt.Sprintf("cannot return null for non-nullable field %s.%s", parentType, f.Name),
		Path:    append(ast.Path(nil), path...),
	})
}

// explains reports whether this error already accounts for a null at path.
// An error under the path means the null bubbled up from it; an error at or
// above the path means the fetch that would have produced the value failed.
// An error that carries no path of its own is held to the fields its node
// fetched, so a failed service never absorbs violations from a subtree
// another service was responsible for.
func (rec recordedError) explains(path ast.Path) bool {
	if len(rec.err.Path) > 0 {
		return onOneChain(rec.err.Path, path)
	}
	for _, sel := range rec.node.Selection {
		f, ok := sel.(*ast.Field)
		if !ok {
			continue
		}
		key := validation.ResponseKey(f)
		if f.Name == "__typename" || strings.HasPrefix(key, planner.KeyAliasPrefix) {
			continue
		}
		if fieldChainMatches(rec.node.Path, key, path) {
			return true
		}
	}
	return false
}

func addedExplains(errs gqlerror.List, path ast.Path) bool {
	for _, e := range errs {
		if onOneChain(e.Path, path) {
			return true
		}
	}
	return false
}

// onOneChain reports whether one path is a prefix of the other, so the two
// positions lie on a single root-to-leaf chain.
func onOneChain(a, b ast.Path) bool {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// fieldChainMatches reports whether path lies on the field-name chain
// prefix followed by key. List indices in path are skipped; the scope
// names fields, not elements.
func fieldChainMatches(prefix []string, key string, path ast.Path) bool {
	scope := append(append(make([]string, 0, len(prefix)+1), prefix...), key)
	i := 0
	for _, seg := range path {
		name, ok := seg.(ast.PathName)
		if !ok {
			continue
		}
		if i == len(scope) {
			return true
		}
		if string(name) != scope[i] {
			return false
		}
		i++
	}
	return true
}
