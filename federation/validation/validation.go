package validation

import (
	"sort"
	"strings"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"

	"github.com/weftql/weft/federation/graph"
)

// Operation is a validated, executable operation: the definition selected by
// operationName, the fragments it may spread and the coerced variable values.
type Operation struct {
	Definition *ast.OperationDefinition
	Document   *ast.QueryDocument
	Fragments  ast.FragmentDefinitionList
	Variables  map[string]interface{}
}

// Validate checks doc against the composed schema. It keeps walking after the
// first violation so a single round trip reports everything that is wrong,
// and only returns an executable operation when the error list is empty.
func Validate(g *graph.SuperGraph, doc *ast.QueryDocument, operationName string, variables map[string]interface{}) (*Operation, gqlerror.List) {
	w := &walker{
		schema:    g.Schema(),
		fragments: make(map[string]*ast.FragmentDefinition, len(doc.Fragments)),
	}

	op := w.resolveOperation(doc, operationName)
	w.operation = op
	w.checkFragments(doc)

	var coerced map[string]interface{}
	if op != nil {
		switch {
		case op.Operation == ast.Subscription:
			w.add(errf(CodeUnsupportedOperation, op.Position, "subscription operations are not supported"))
		default:
			root := w.rootType(op.Operation)
			if root == nil {
				w.add(errf(CodeUnknownOperation, op.Position, "schema does not define a %s root type", op.Operation))
				break
			}
			w.checkVariableDeclarations(op)
			coerced = w.coerceVariables(op, variables)
			w.walkSelectionSet(root, op.SelectionSet)
		}
	}

	if len(w.errs) > 0 {
		return nil, w.errs
	}
	return &Operation{
		Definition: op,
		Document:   doc,
		Fragments:  doc.Fragments,
		Variables:  coerced,
	}, nil
}

type walker struct {
	schema    *ast.Schema
	operation *ast.OperationDefinition
	fragments map[string]*ast.FragmentDefinition
	errs      gqlerror.List
}

func (w *walker) add(err *gqlerror.Error) {
	w.errs = append(w.errs, err)
}

func (w *walker) resolveOperation(doc *ast.QueryDocument, name string) *ast.OperationDefinition {
	if name == "" {
		switch len(doc.Operations) {
		case 0:
			w.add(errf(CodeUnknownOperation, nil, "document contains no operations"))
			return nil
		case 1:
			return doc.Operations[0]
		default:
			w.add(errf(CodeAmbiguousOperation, nil, "document contains %d operations, operationName must be given", len(doc.Operations)))
			return nil
		}
	}
	op := doc.Operations.ForName(name)
	if op == nil {
		w.add(errf(CodeUnknownOperation, nil, "operation %q is not defined in this document", name))
	}
	return op
}

func (w *walker) rootType(op ast.Operation) *ast.Definition {
	switch op {
	case ast.Query:
		return w.schema.Query
	case ast.Mutation:
		return w.schema.Mutation
	}
	return nil
}

// checkFragments registers declarations, rejects duplicates and cycles, and
// validates every fragment body once against its own type condition. Spread
// sites later only check that the condition can apply to the parent type.
func (w *walker) checkFragments(doc *ast.QueryDocument) {
	for _, frag := range doc.Fragments {
		if _, ok := w.fragments[frag.Name]; ok {
			w.add(errf(CodeDuplicateFragment, frag.Position, "fragment %q is declared more than once", frag.Name))
			continue
		}
		w.fragments[frag.Name] = frag
	}

	state := make(map[string]int, len(w.fragments))
	for _, frag := range doc.Fragments {
		w.checkFragmentCycles(frag, state)
	}

	for _, frag := range doc.Fragments {
		if w.fragments[frag.Name] != frag {
			continue // duplicate, already reported
		}
		cond := w.schema.Types[frag.TypeCondition]
		if cond == nil {
			w.add(errf(CodeFragmentTypeMismatch, frag.Position, "fragment %q is declared on unknown type %q", frag.Name, frag.TypeCondition))
			continue
		}
		if !isCompositeKind(cond.Kind) {
			w.add(errf(CodeFragmentTypeMismatch, frag.Position, "fragment %q must condition on an object, interface or union type, not %q", frag.Name, frag.TypeCondition))
			continue
		}
		w.walkSelectionSet(cond, frag.SelectionSet)
	}
}

const (
	fragUnvisited = iota
	fragVisiting
	fragDone
)

func (w *walker) checkFragmentCycles(frag *ast.FragmentDefinition, state map[string]int) {
	if state[frag.Name] != fragUnvisited {
		return
	}
	state[frag.Name] = fragVisiting
	for _, spread := range spreadsIn(frag.SelectionSet) {
		next := w.fragments[spread.Name]
		if next == nil {
			continue
		}
		if state[next.Name] == fragVisiting {
			w.add(errf(CodeFragmentCycle, spread.Position, "cannot spread fragment %q within itself", next.Name))
			continue
		}
		w.checkFragmentCycles(next, state)
	}
	state[frag.Name] = fragDone
}

func spreadsIn(sels ast.SelectionSet) []*ast.FragmentSpread {
	var out []*ast.FragmentSpread
	for _, sel := range sels {
		switch s := sel.(type) {
		case *ast.Field:
			out = append(out, spreadsIn(s.SelectionSet)...)
		case *ast.InlineFragment:
			out = append(out, spreadsIn(s.SelectionSet)...)
		case *ast.FragmentSpread:
			out = append(out, s)
		}
	}
	return out
}

func (w *walker) walkSelectionSet(parent *ast.Definition, sels ast.SelectionSet) {
	for _, sel := range sels {
		switch s := sel.(type) {
		case *ast.Field:
			w.walkField(parent, s)
		case *ast.InlineFragment:
			cond := parent
			if s.TypeCondition != "" {
				cond = w.checkTypeCondition(parent, s.TypeCondition, s.Position)
				if cond == nil {
					continue
				}
			}
			w.walkSelectionSet(cond, s.SelectionSet)
		case *ast.FragmentSpread:
			frag := w.fragments[s.Name]
			if frag == nil {
				w.add(errf(CodeUnknownFragment, s.Position, "fragment %q is not declared", s.Name))
				continue
			}
			w.checkTypeCondition(parent, frag.TypeCondition, s.Position)
		}
	}
	w.checkMergeability(parent, sels)
}

func (w *walker) walkField(parent *ast.Definition, f *ast.Field) {
	def := parent.Fields.ForName(f.Name)
	if def == nil {
		def = w.metaFieldDef(parent, f.Name)
	}
	if def == nil {
		w.add(errf(CodeUnknownField, f.Position, "field %q is not defined on type %q", f.Name, parent.Name))
		return
	}

	w.checkArguments(f, def)

	typeDef := w.schema.Types[namedType(def.Type)]
	if typeDef == nil {
		return
	}
	if isLeafKind(typeDef.Kind) {
		if len(f.SelectionSet) > 0 {
			w.add(errf(CodeInvalidLeafSelection, f.Position, "field %q of type %q must not select subfields", f.Name, typeString(def.Type)))
		}
		return
	}
	if len(f.SelectionSet) == 0 {
		w.add(errf(CodeInvalidLeafSelection, f.Position, "field %q of type %q must select subfields", f.Name, typeString(def.Type)))
		return
	}
	w.walkSelectionSet(typeDef, f.SelectionSet)
}

// metaFieldDef resolves __typename, __schema and __type. The schema pair only
// exists at the query root; __typename is valid on any composite type.
func (w *walker) metaFieldDef(parent *ast.Definition, name string) *ast.FieldDefinition {
	switch name {
	case "__typename":
		return &ast.FieldDefinition{Name: "__typename", Type: ast.NonNullNamedType("String", nil)}
	case "__schema":
		if w.atQueryRoot(parent) {
			return &ast.FieldDefinition{Name: "__schema", Type: ast.NonNullNamedType("__Schema", nil)}
		}
	case "__type":
		if w.atQueryRoot(parent) {
			return &ast.FieldDefinition{
				Name: "__type",
				Type: ast.NamedType("__Type", nil),
				Arguments: ast.ArgumentDefinitionList{
					{Name: "name", Type: ast.NonNullNamedType("String", nil)},
				},
			}
		}
	}
	return nil
}

func (w *walker) atQueryRoot(parent *ast.Definition) bool {
	return w.operation != nil && w.operation.Operation == ast.Query && parent == w.schema.Query
}

func (w *walker) checkArguments(f *ast.Field, def *ast.FieldDefinition) {
	for _, arg := range f.Arguments {
		decl := def.Arguments.ForName(arg.Name)
		if decl == nil {
			w.add(errf(CodeUnknownArgument, arg.Position, "argument %q is not defined on field %q", arg.Name, f.Name))
			continue
		}
		w.checkValue(arg.Value, decl.Type)
	}
	for _, decl := range def.Arguments {
		if !decl.Type.NonNull || decl.DefaultValue != nil {
			continue
		}
		if f.Arguments.ForName(decl.Name) == nil {
			w.add(errf(CodeMissingRequiredArgument, f.Position, "field %q is missing the required argument %q", f.Name, decl.Name))
		}
	}
}

// checkValue validates a literal against an input type. Variables are checked
// for declaration and type compatibility instead of their runtime value.
func (w *walker) checkValue(v *ast.Value, t *ast.Type) {
	if v == nil {
		return
	}
	if v.Kind == ast.Variable {
		w.checkVariableUsage(v, t)
		return
	}
	if v.Kind == ast.NullValue {
		if t.NonNull {
			w.add(errf(CodeArgumentTypeMismatch, v.Position, "null is not allowed for type %q", typeString(t)))
		}
		return
	}
	if t.NamedType == "" {
		if v.Kind == ast.ListValue {
			for _, child := range v.Children {
				w.checkValue(child.Value, t.Elem)
			}
			return
		}
		// a single value coerces to a one-element list
		w.checkValue(v, t.Elem)
		return
	}
	def := w.schema.Types[t.NamedType]
	if def == nil {
		return
	}
	switch def.Kind {
	case ast.Scalar:
		if !literalMatchesScalar(def.Name, v.Kind) {
			w.add(errf(CodeArgumentTypeMismatch, v.Position, "cannot coerce %s to %q", v.String(), def.Name))
		}
	case ast.Enum:
		if v.Kind != ast.EnumValue || def.EnumValues.ForName(v.Raw) == nil {
			w.add(errf(CodeArgumentTypeMismatch, v.Position, "%s is not a value of enum %q", v.String(), def.Name))
		}
	case ast.InputObject:
		if v.Kind != ast.ObjectValue {
			w.add(errf(CodeArgumentTypeMismatch, v.Position, "expected an object literal for input type %q", def.Name))
			return
		}
		for _, child := range v.Children {
			fd := def.Fields.ForName(child.Name)
			if fd == nil {
				w.add(errf(CodeArgumentTypeMismatch, child.Value.Position, "field %q is not defined on input type %q", child.Name, def.Name))
				continue
			}
			w.checkValue(child.Value, fd.Type)
		}
		for _, fd := range def.Fields {
			if !fd.Type.NonNull || fd.DefaultValue != nil {
				continue
			}
			if v.Children.ForName(fd.Name) == nil {
				w.add(errf(CodeArgumentTypeMismatch, v.Position, "required field %q of input type %q is not provided", fd.Name, def.Name))
			}
		}
	default:
		w.add(errf(CodeArgumentTypeMismatch, v.Position, "%q is not an input type", def.Name))
	}
}

func literalMatchesScalar(name string, kind ast.ValueKind) bool {
	switch name {
	case "Int":
		return kind == ast.IntValue
	case "Float":
		return kind == ast.IntValue || kind == ast.FloatValue
	case "String":
		return kind == ast.StringValue || kind == ast.BlockValue
	case "Boolean":
		return kind == ast.BooleanValue
	case "ID":
		return kind == ast.StringValue || kind == ast.BlockValue || kind == ast.IntValue
	}
	// custom scalars accept any literal
	return true
}

func (w *walker) checkVariableUsage(v *ast.Value, locType *ast.Type) {
	if w.operation == nil {
		return
	}
	decl := w.operation.VariableDefinitions.ForName(v.Raw)
	if decl == nil {
		w.add(errf(CodeUndefinedVariable, v.Position, "variable $%s is not declared by the operation", v.Raw))
		return
	}
	hasDefault := decl.DefaultValue != nil && decl.DefaultValue.Kind != ast.NullValue
	if !variableUsageAllowed(decl.Type, locType, hasDefault) {
		w.add(errf(CodeVariableTypeMismatch, v.Position, "variable $%s of type %q cannot be used where %q is expected", v.Raw, typeString(decl.Type), typeString(locType)))
	}
}

// variableUsageAllowed implements the variable usage rule: a nullable variable
// may feed a non-null position only when it carries a non-null default.
func variableUsageAllowed(varType, locType *ast.Type, hasNonNullDefault bool) bool {
	if locType.NonNull && !varType.NonNull {
		if !hasNonNullDefault {
			return false
		}
		return typeFlowsInto(varType, nullableOf(locType))
	}
	return typeFlowsInto(varType, locType)
}

// typeFlowsInto reports whether a value of the first type is acceptable where
// the second is expected. The value type may be stricter, never looser.
func typeFlowsInto(v, loc *ast.Type) bool {
	if loc.NonNull {
		if !v.NonNull {
			return false
		}
		return typeFlowsInto(nullableOf(v), nullableOf(loc))
	}
	if v.NonNull {
		return typeFlowsInto(nullableOf(v), loc)
	}
	if loc.NamedType != "" {
		return v.NamedType == loc.NamedType
	}
	if v.NamedType != "" {
		return false
	}
	return typeFlowsInto(v.Elem, loc.Elem)
}

func nullableOf(t *ast.Type) *ast.Type {
	if !t.NonNull {
		return t
	}
	return &ast.Type{NamedType: t.NamedType, Elem: t.Elem}
}

func (w *walker) checkVariableDeclarations(op *ast.OperationDefinition) {
	for _, decl := range op.VariableDefinitions {
		def := w.schema.Types[namedType(decl.Type)]
		if def == nil {
			w.add(errf(CodeVariableTypeMismatch, decl.Position, "variable $%s declares unknown type %q", decl.Variable, namedType(decl.Type)))
			continue
		}
		if !isInputKind(def.Kind) {
			w.add(errf(CodeVariableTypeMismatch, decl.Position, "variable $%s must declare an input type, %q is not one", decl.Variable, def.Name))
			continue
		}
		if decl.DefaultValue != nil {
			w.checkValue(decl.DefaultValue, decl.Type)
		}
	}
}

// coerceVariables resolves the values the operation will run with: provided
// values checked against their declared types, defaults filled in, and
// missing non-null variables reported.
func (w *walker) coerceVariables(op *ast.OperationDefinition, provided map[string]interface{}) map[string]interface{} {
	coerced := make(map[string]interface{}, len(op.VariableDefinitions))
	for _, decl := range op.VariableDefinitions {
		value, ok := provided[decl.Variable]
		if !ok {
			if decl.DefaultValue != nil {
				def, err := goValue(decl.DefaultValue, nil)
				if err == nil {
					coerced[decl.Variable] = def
				}
				continue
			}
			if decl.Type.NonNull {
				w.add(errf(CodeInvalidVariableValue, decl.Position, "variable $%s of required type %q was not provided", decl.Variable, typeString(decl.Type)))
			}
			continue
		}
		if value == nil && decl.Type.NonNull {
			w.add(errf(CodeInvalidVariableValue, decl.Position, "variable $%s of required type %q must not be null", decl.Variable, typeString(decl.Type)))
			continue
		}
		if err := w.checkInputValue(value, decl.Type); err != nil {
			w.add(errf(CodeInvalidVariableValue, decl.Position, "variable $%s: %s", decl.Variable, err))
			continue
		}
		coerced[decl.Variable] = value
	}
	return coerced
}

func (w *walker) checkTypeCondition(parent *ast.Definition, condName string, pos *ast.Position) *ast.Definition {
	cond := w.schema.Types[condName]
	if cond == nil {
		w.add(errf(CodeFragmentTypeMismatch, pos, "unknown type %q in fragment type condition", condName))
		return nil
	}
	if !isCompositeKind(cond.Kind) {
		w.add(errf(CodeFragmentTypeMismatch, pos, "fragments must condition on object, interface or union types, not %q", condName))
		return nil
	}
	if !w.typesOverlap(parent.Name, condName) {
		w.add(errf(CodeFragmentTypeMismatch, pos, "fragment on %q can never apply to type %q", condName, parent.Name))
		return nil
	}
	return cond
}

func (w *walker) typesOverlap(a, b string) bool {
	if a == b {
		return true
	}
	as := w.possibleTypeSet(a)
	for name := range w.possibleTypeSet(b) {
		if as[name] {
			return true
		}
	}
	return false
}

func (w *walker) possibleTypeSet(name string) map[string]bool {
	def := w.schema.Types[name]
	if def == nil {
		return nil
	}
	set := map[string]bool{}
	switch def.Kind {
	case ast.Object:
		set[def.Name] = true
	case ast.Interface, ast.Union:
		for _, t := range w.schema.PossibleTypes[def.Name] {
			set[t.Name] = true
		}
	}
	return set
}

type mergeCandidate struct {
	field *ast.Field
	owner string
}

// checkMergeability groups the selections of one set by response key,
// expanding fragments, and rejects groups whose members would respond with
// different fields or arguments on an overlapping runtime type.
func (w *walker) checkMergeability(parent *ast.Definition, sels ast.SelectionSet) {
	groups := map[string][]mergeCandidate{}
	var order []string
	w.collectMergeCandidates(parent.Name, sels, groups, &order, map[string]bool{})

	for _, key := range order {
		cands := groups[key]
	pairs:
		for i := 0; i < len(cands); i++ {
			for j := i + 1; j < len(cands); j++ {
				a, b := cands[i], cands[j]
				if a.owner != b.owner && !w.typesOverlap(a.owner, b.owner) {
					continue
				}
				if a.field.Name != b.field.Name {
					w.add(errf(CodeConflictingFieldNames, b.field.Position, "fields %q and %q for response key %q cannot be merged, use different aliases", a.field.Name, b.field.Name, key))
					break pairs
				}
				if !sameArguments(a.field.Arguments, b.field.Arguments) {
					w.add(errf(CodeConflictingFieldNames, b.field.Position, "field %q is selected twice with different arguments for response key %q", a.field.Name, key))
					break pairs
				}
			}
		}
	}
}

func (w *walker) collectMergeCandidates(owner string, sels ast.SelectionSet, groups map[string][]mergeCandidate, order *[]string, visited map[string]bool) {
	for _, sel := range sels {
		switch s := sel.(type) {
		case *ast.Field:
			key := responseKey(s)
			if _, seen := groups[key]; !seen {
				*order = append(*order, key)
			}
			groups[key] = append(groups[key], mergeCandidate{field: s, owner: owner})
		case *ast.InlineFragment:
			cond := owner
			if s.TypeCondition != "" {
				cond = s.TypeCondition
			}
			w.collectMergeCandidates(cond, s.SelectionSet, groups, order, visited)
		case *ast.FragmentSpread:
			frag := w.fragments[s.Name]
			if frag == nil || visited[s.Name] {
				continue
			}
			visited[s.Name] = true
			w.collectMergeCandidates(frag.TypeCondition, frag.SelectionSet, groups, order, visited)
		}
	}
}

func sameArguments(a, b ast.ArgumentList) bool {
	return canonicalArguments(a) == canonicalArguments(b)
}

func canonicalArguments(args ast.ArgumentList) string {
	parts := make([]string, 0, len(args))
	for _, arg := range args {
		parts = append(parts, arg.Name+":"+arg.Value.String())
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

func responseKey(f *ast.Field) string {
	if f.Alias != "" {
		return f.Alias
	}
	return f.Name
}

func isLeafKind(k ast.DefinitionKind) bool {
	return k == ast.Scalar || k == ast.Enum
}

func isCompositeKind(k ast.DefinitionKind) bool {
	return k == ast.Object || k == ast.Interface || k == ast.Union
}

func isInputKind(k ast.DefinitionKind) bool {
	return k == ast.Scalar || k == ast.Enum || k == ast.InputObject
}
