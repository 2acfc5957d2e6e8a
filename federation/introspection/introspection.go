// Package introspection answers __schema and __type selections against the
// composed supergraph schema without touching any subgraph.
package introspection

import (
	"sort"

	"github.com/vektah/gqlparser/v2/ast"

	"github.com/weftql/weft/federation/response"
	"github.com/weftql/weft/federation/validation"
)

// Resolve executes an introspection selection locally and returns the data
// subtree it produces, keyed by response key. rootType names the operation
// root the selection was made on, so a bare __typename resolves correctly
// for both queries and mutations. Object subtrees marshal in selection
// order.
func Resolve(schema *ast.Schema, op *validation.Operation, rootType string, sels ast.SelectionSet) map[string]interface{} {
	r := &resolver{schema: schema, op: op}
	out := map[string]interface{}{}
	for _, f := range op.CollectFields(schema, rootType, sels) {
		key := validation.ResponseKey(f)
		switch f.Name {
		case "__typename":
			out[key] = rootType
		case "__schema":
			out[key] = r.schemaValue(f.SelectionSet)
		case "__type":
			name, _ := argumentValues(f, op.Variables)["name"].(string)
			out[key] = r.typeValue(r.namedRef(schema.Types[name]), f.SelectionSet)
		}
	}
	return out
}

type resolver struct {
	schema *ast.Schema
	op     *validation.Operation
}

// typeRef models one __Type value: either a named definition or a NON_NULL /
// LIST wrapper around another reference.
type typeRef struct {
	kind string
	def  *ast.Definition // nil for wrappers
	of   *typeRef        // nil for named references
}

func (r *resolver) namedRef(def *ast.Definition) *typeRef {
	if def == nil {
		return nil
	}
	return &typeRef{kind: kindName(def.Kind), def: def}
}

func (r *resolver) refOf(t *ast.Type) *typeRef {
	if t == nil {
		return nil
	}
	if t.NonNull {
		inner := *t
		inner.NonNull = false
		return &typeRef{kind: "NON_NULL", of: r.refOf(&inner)}
	}
	if t.NamedType == "" {
		return &typeRef{kind: "LIST", of: r.refOf(t.Elem)}
	}
	return r.namedRef(r.schema.Types[t.NamedType])
}

func kindName(k ast.DefinitionKind) string {
	switch k {
	case ast.Scalar:
		return "SCALAR"
	case ast.Object:
		return "OBJECT"
	case ast.Interface:
		return "INTERFACE"
	case ast.Union:
		return "UNION"
	case ast.Enum:
		return "ENUM"
	case ast.InputObject:
		return "INPUT_OBJECT"
	}
	return string(k)
}

func (r *resolver) schemaValue(sels ast.SelectionSet) *response.Object {
	out := response.NewObject()
	for _, f := range r.op.CollectFields(r.schema, "__Schema", sels) {
		key := validation.ResponseKey(f)
		switch f.Name {
		case "__typename":
			out.Set(key, "__Schema")
		case "description":
			out.Set(key, stringOrNil(r.schema.Description))
		case "queryType":
			out.Set(key, r.typeValue(r.namedRef(r.schema.Query), f.SelectionSet))
		case "mutationType":
			out.Set(key, r.typeValue(r.namedRef(r.schema.Mutation), f.SelectionSet))
		case "subscriptionType":
			out.Set(key, r.typeValue(r.namedRef(r.schema.Subscription), f.SelectionSet))
		case "types":
			names := make([]string, 0, len(r.schema.Types))
			for name := range r.schema.Types {
				names = append(names, name)
			}
			sort.Strings(names)
			list := make([]interface{}, 0, len(names))
			for _, name := range names {
				list = append(list, r.typeValue(r.namedRef(r.schema.Types[name]), f.SelectionSet))
			}
			out.Set(key, list)
		case "directives":
			names := make([]string, 0, len(r.schema.Directives))
			for name := range r.schema.Directives {
				names = append(names, name)
			}
			sort.Strings(names)
			list := make([]interface{}, 0, len(names))
			for _, name := range names {
				list = append(list, r.directiveValue(r.schema.Directives[name], f.SelectionSet))
			}
			out.Set(key, list)
		}
	}
	return out
}

func (r *resolver) typeValue(ref *typeRef, sels ast.SelectionSet) interface{} {
	if ref == nil {
		return nil
	}
	out := response.NewObject()
	for _, f := range r.op.CollectFields(r.schema, "__Type", sels) {
		key := validation.ResponseKey(f)
		switch f.Name {
		case "__typename":
			out.Set(key, "__Type")
		case "kind":
			out.Set(key, ref.kind)
		case "name":
			if ref.def != nil {
				out.Set(key, ref.def.Name)
			} else {
				out.Set(key, nil)
			}
		case "description":
			if ref.def != nil {
				out.Set(key, stringOrNil(ref.def.Description))
			} else {
				out.Set(key, nil)
			}
		case "fields":
			out.Set(key, r.typeFields(ref, f))
		case "interfaces":
			out.Set(key, r.typeInterfaces(ref, f.SelectionSet))
		case "possibleTypes":
			out.Set(key, r.possibleTypes(ref, f.SelectionSet))
		case "enumValues":
			out.Set(key, r.enumValues(ref, f))
		case "inputFields":
			out.Set(key, r.inputFields(ref, f))
		case "ofType":
			out.Set(key, r.typeValue(ref.of, f.SelectionSet))
		case "specifiedByURL":
			out.Set(key, nil)
		}
	}
	return out
}

func (r *resolver) typeFields(ref *typeRef, f *ast.Field) interface{} {
	if ref.def == nil || (ref.def.Kind != ast.Object && ref.def.Kind != ast.Interface) {
		return nil
	}
	includeDeprecated, _ := argumentValues(f, r.op.Variables)["includeDeprecated"].(bool)
	list := []interface{}{}
	for _, fd := range ref.def.Fields {
		if isIntrospectionField(fd.Name) {
			continue
		}
		deprecated, reason := deprecation(fd.Directives)
		if deprecated && !includeDeprecated {
			continue
		}
		list = append(list, r.fieldValue(fd, deprecated, reason, f.SelectionSet))
	}
	return list
}

func (r *resolver) fieldValue(fd *ast.FieldDefinition, deprecated bool, reason interface{}, sels ast.SelectionSet) *response.Object {
	out := response.NewObject()
	for _, f := range r.op.CollectFields(r.schema, "__Field", sels) {
		key := validation.ResponseKey(f)
		switch f.Name {
		case "__typename":
			out.Set(key, "__Field")
		case "name":
			out.Set(key, fd.Name)
		case "description":
			out.Set(key, stringOrNil(fd.Description))
		case "args":
			list := make([]interface{}, 0, len(fd.Arguments))
			for _, arg := range fd.Arguments {
				list = append(list, r.inputValue(arg.Name, arg.Description, arg.Type, arg.DefaultValue, arg.Directives, f.SelectionSet))
			}
			out.Set(key, list)
		case "type":
			out.Set(key, r.typeValue(r.refOf(fd.Type), f.SelectionSet))
		case "isDeprecated":
			out.Set(key, deprecated)
		case "deprecationReason":
			out.Set(key, reason)
		}
	}
	return out
}

func (r *resolver) typeInterfaces(ref *typeRef, sels ast.SelectionSet) interface{} {
	if ref.def == nil || (ref.def.Kind != ast.Object && ref.def.Kind != ast.Interface) {
		return nil
	}
	list := []interface{}{}
	for _, name := range ref.def.Interfaces {
		if def := r.schema.Types[name]; def != nil {
			list = append(list, r.typeValue(r.namedRef(def), sels))
		}
	}
	return list
}

func (r *resolver) possibleTypes(ref *typeRef, sels ast.SelectionSet) interface{} {
	if ref.def == nil || (ref.def.Kind != ast.Interface && ref.def.Kind != ast.Union) {
		return nil
	}
	defs := append([]*ast.Definition(nil), r.schema.PossibleTypes[ref.def.Name]...)
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	list := []interface{}{}
	for _, def := range defs {
		list = append(list, r.typeValue(r.namedRef(def), sels))
	}
	return list
}

func (r *resolver) enumValues(ref *typeRef, f *ast.Field) interface{} {
	if ref.def == nil || ref.def.Kind != ast.Enum {
		return nil
	}
	includeDeprecated, _ := argumentValues(f, r.op.Variables)["includeDeprecated"].(bool)
	list := []interface{}{}
	for _, ev := range ref.def.EnumValues {
		deprecated, reason := deprecation(ev.Directives)
		if deprecated && !includeDeprecated {
			continue
		}
		out := response.NewObject()
		for _, sub := range r.op.CollectFields(r.schema, "__EnumValue", f.SelectionSet) {
			key := validation.ResponseKey(sub)
			switch sub.Name {
			case "__typename":
				out.Set(key, "__EnumValue")
			case "name":
				out.Set(key, ev.Name)
			case "description":
				out.Set(key, stringOrNil(ev.Description))
			case "isDeprecated":
				out.Set(key, deprecated)
			case "deprecationReason":
				out.Set(key, reason)
			}
		}
		list = append(list, out)
	}
	return list
}

func (r *resolver) inputFields(ref *typeRef, f *ast.Field) interface{} {
	if ref.def == nil || ref.def.Kind != ast.InputObject {
		return nil
	}
	list := []interface{}{}
	for _, fd := range ref.def.Fields {
		list = append(list, r.inputValue(fd.Name, fd.Description, fd.Type, fd.DefaultValue, fd.Directives, f.SelectionSet))
	}
	return list
}

func (r *resolver) inputValue(name, description string, typ *ast.Type, def *ast.Value, directives ast.DirectiveList, sels ast.SelectionSet) *response.Object {
	out := response.NewObject()
	for _, f := range r.op.CollectFields(r.schema, "__InputValue", sels) {
		key := validation.ResponseKey(f)
		switch f.Name {
		case "__typename":
			out.Set(key, "__InputValue")
		case "name":
			out.Set(key, name)
		case "description":
			out.Set(key, stringOrNil(description))
		case "type":
			out.Set(key, r.typeValue(r.refOf(typ), f.SelectionSet))
		case "defaultValue":
			if def != nil {
				out.Set(key, def.String())
			} else {
				out.Set(key, nil)
			}
		case "isDeprecated":
			deprecated, _ := deprecation(directives)
			out.Set(key, deprecated)
		case "deprecationReason":
			_, reason := deprecation(directives)
			out.Set(key, reason)
		}
	}
	return out
}

func (r *resolver) directiveValue(dd *ast.DirectiveDefinition, sels ast.SelectionSet) *response.Object {
	out := response.NewObject()
	for _, f := range r.op.CollectFields(r.schema, "__Directive", sels) {
		key := validation.ResponseKey(f)
		switch f.Name {
		case "__typename":
			out.Set(key, "__Directive")
		case "name":
			out.Set(key, dd.Name)
		case "description":
			out.Set(key, stringOrNil(dd.Description))
		case "locations":
			list := make([]interface{}, 0, len(dd.Locations))
			for _, loc := range dd.Locations {
				list = append(list, string(loc))
			}
			out.Set(key, list)
		case "args":
			list := make([]interface{}, 0, len(dd.Arguments))
			for _, arg := range dd.Arguments {
				list = append(list, r.inputValue(arg.Name, arg.Description, arg.Type, arg.DefaultValue, arg.Directives, f.SelectionSet))
			}
			out.Set(key, list)
		case "isRepeatable":
			out.Set(key, dd.IsRepeatable)
		}
	}
	return out
}

// argumentValues resolves a field's literal arguments, reading variable
// references out of the coerced operation variables.
func argumentValues(f *ast.Field, vars map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(f.Arguments))
	for _, arg := range f.Arguments {
		v, err := arg.Value.Value(vars)
		if err != nil {
			continue
		}
		out[arg.Name] = v
	}
	return out
}

// deprecation reads the @deprecated directive. reason is nil when absent so
// it marshals as JSON null the way clients expect.
func deprecation(directives ast.DirectiveList) (bool, interface{}) {
	d := directives.ForName("deprecated")
	if d == nil {
		return false, nil
	}
	if arg := d.Arguments.ForName("reason"); arg != nil {
		return true, arg.Value.Raw
	}
	return true, "No longer supported"
}

func isIntrospectionField(name string) bool {
	return len(name) > 1 && name[0] == '_' && name[1] == '_'
}

func stringOrNil(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
