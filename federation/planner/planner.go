package planner

import (
	"errors"
	"fmt"

	"github.com/vektah/gqlparser/v2/ast"

	"github.com/weftql/weft/federation/graph"
	"github.com/weftql/weft/federation/validation"
)

// ErrInternal marks planning failures that can only arise from a validation
// or composition gap, never from client input. Callers surface it as an
// opaque server error instead of a GraphQL response error.
var ErrInternal = errors.New("planner: internal invariant violated")

// KeyAliasPrefix is the alias prefix under which the planner requests entity
// key fields it injects into a parent selection. The prefix keeps injected
// keys from ever colliding with a client alias; the executor reads them
// during representation harvest and the shaper strips them from the response.
const KeyAliasPrefix = "_key_"

// NodeKind classifies how a fetch node is executed.
type NodeKind int

const (
	// NodeQuery resolves root fields directly against a subgraph.
	NodeQuery NodeKind = iota
	// NodeEntity resolves entity representations via the _entities field.
	NodeEntity
	// NodeIntrospection resolves __schema and __type locally, no network.
	NodeIntrospection
)

func (k NodeKind) String() string {
	switch k {
	case NodeQuery:
		return "query"
	case NodeEntity:
		return "entity"
	case NodeIntrospection:
		return "introspection"
	}
	return fmt.Sprintf("NodeKind(%d)", int(k))
}

// FetchNode is one planned request: a selection addressed to one subgraph and
// the response position its result grafts into. Children depend on nothing
// but their parent's materialized result.
type FetchNode struct {
	ID       int
	Kind     NodeKind
	Subgraph *graph.Subgraph // nil for introspection nodes

	// ParentType is the type the selection is read against: the operation
	// root type for query nodes, the entity type condition for entity nodes.
	ParentType string
	Selection  ast.SelectionSet

	// Path is the response-key path at which results graft. Entity nodes
	// harvest representations at this path, fanning out over lists.
	Path []string

	// Keys names the fields harvested into each representation: the entity
	// key plus any @requires fields. They are requested from the parent's
	// service under KeyAliasPrefix aliases.
	Keys []string

	Children []int
}

// Plan is an execution plan: an arena of fetch nodes addressed by index.
// Roots lists the nodes with no dependencies; Serial forces them to run in
// document order (mutations). Identical inputs plan to identical arenas.
type Plan struct {
	Nodes     []*FetchNode
	Roots     []int
	Operation *validation.Operation
	Serial    bool
}

type planner struct {
	graph  *graph.SuperGraph
	schema *ast.Schema
	op     *validation.Operation
	plan   *Plan
}

// Build splits a validated operation into per-subgraph fetch nodes:
// consecutive root fields owned by the same service group into one node,
// and every nested field owned elsewhere becomes an entity-resolution child
// keyed by its parent's @key fields. Build never fails on an operation the
// validator accepted against the same supergraph; an error here means the
// composed schema and the ownership map disagree.
func Build(g *graph.SuperGraph, op *validation.Operation) (*Plan, error) {
	rootType := g.Schema().Query
	serial := false
	if op.Definition.Operation == ast.Mutation {
		rootType = g.Schema().Mutation
		serial = true
	}
	if rootType == nil {
		return nil, fmt.Errorf("schema has no %s root type: %w", op.Definition.Operation, ErrInternal)
	}

	p := &planner{
		graph:  g,
		schema: g.Schema(),
		op:     op,
		plan:   &Plan{Operation: op, Serial: serial},
	}

	fields := op.CollectFields(p.schema, rootType.Name, op.Definition.SelectionSet)
	runs, err := p.rootRuns(rootType.Name, fields)
	if err != nil {
		return nil, err
	}
	for _, r := range runs {
		if r.owner == nil {
			node := p.newNode(NodeIntrospection, nil, rootType.Name, nil)
			node.Selection = toSelectionSet(r.fields)
			p.plan.Roots = append(p.plan.Roots, node.ID)
			continue
		}
		node := p.newNode(NodeQuery, r.owner, rootType.Name, nil)
		sel, err := p.resident(node, rootType.Name, r.fields, nil, nil)
		if err != nil {
			return nil, err
		}
		node.Selection = sel
		p.plan.Roots = append(p.plan.Roots, node.ID)
	}
	return p.plan, nil
}

type rootRun struct {
	owner  *graph.Subgraph // nil groups __schema/__type into a local node
	fields []*ast.Field
}

// rootRuns partitions the collected root fields into consecutive same-owner
// runs, in document order. Splitting only at owner changes keeps the fetch
// count minimal without reordering anything a mutation relies on. Root
// __typename needs no fetch at all; the shaper answers it from the schema.
func (p *planner) rootRuns(rootType string, fields []*ast.Field) ([]rootRun, error) {
	var runs []rootRun
	for _, f := range fields {
		var owner *graph.Subgraph
		switch f.Name {
		case "__typename":
			continue
		case "__schema", "__type":
		default:
			o, ok := p.graph.Owner(rootType, f.Name)
			if !ok {
				return nil, fmt.Errorf("no subgraph resolves %s.%s: %w", rootType, f.Name, ErrInternal)
			}
			owner = o
		}
		if n := len(runs); n > 0 && runs[n-1].owner == owner {
			runs[n-1].fields = append(runs[n-1].fields, f)
			continue
		}
		runs = append(runs, rootRun{owner: owner, fields: []*ast.Field{f}})
	}
	return runs, nil
}

func (p *planner) newNode(kind NodeKind, sg *graph.Subgraph, parentType string, path []string) *FetchNode {
	n := &FetchNode{
		ID:         len(p.plan.Nodes),
		Kind:       kind,
		Subgraph:   sg,
		ParentType: parentType,
		Path:       path,
	}
	p.plan.Nodes = append(p.plan.Nodes, n)
	return n
}

// resident builds the selection node's service answers for fields read
// against parentType at path. Fields owned by another service are routed to
// an entity child node instead, and the keys that child will need are
// injected into the returned selection under KeyAliasPrefix aliases.
// provided lists field names the enclosing field resolves via @provides,
// which keeps them resident regardless of ownership.
func (p *planner) resident(node *FetchNode, parentType string, fields []*ast.Field, path []string, provided map[string]bool) (ast.SelectionSet, error) {
	var (
		out      ast.SelectionSet
		children = map[string]*FetchNode{}
		injected = map[string]bool{}
	)
	for _, f := range fields {
		if f.Name == "__typename" {
			if !injected["__typename"] {
				injected["__typename"] = true
				out = append(out, typenameField())
			}
			continue
		}
		def := p.fieldDef(parentType, f.Name)
		if def == nil {
			return nil, fmt.Errorf("field %s.%s is not in the composed schema: %w", parentType, f.Name, ErrInternal)
		}
		owners := p.graph.Owners(parentType, f.Name)
		if len(owners) == 0 {
			return nil, fmt.Errorf("no subgraph resolves %s.%s: %w", parentType, f.Name, ErrInternal)
		}
		// a field stays with the current service whenever it can answer it,
		// even if another service won the composition tie-break
		isResident := provided[f.Name]
		for _, o := range owners {
			if o.Name == node.Subgraph.Name {
				isResident = true
				break
			}
		}
		if isResident {
			planned, err := p.residentField(node, parentType, def, f, path)
			if err != nil {
				return nil, err
			}
			out = append(out, planned)
			continue
		}
		if err := p.boundaryField(node, parentType, owners[0], def, f, path, children, &out, injected); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// residentField copies one client field, recursively planning its selection.
// Directives are dropped: @skip and @include were already evaluated during
// field collection, and subgraphs need not know any others.
func (p *planner) residentField(node *FetchNode, parentType string, def *ast.FieldDefinition, f *ast.Field, path []string) (*ast.Field, error) {
	planned := &ast.Field{Alias: f.Alias, Name: f.Name, Arguments: f.Arguments}
	if len(f.SelectionSet) == 0 {
		return planned, nil
	}
	typeDef := p.schema.Types[def.Type.Name()]
	if typeDef == nil {
		return nil, fmt.Errorf("type %q of field %s.%s is not in the composed schema: %w", def.Type.Name(), parentType, f.Name, ErrInternal)
	}

	fieldPath := appendPath(path, validation.ResponseKey(f))
	provided := p.providedSet(node, parentType, f.Name)

	switch typeDef.Kind {
	case ast.Interface, ast.Union:
		sel, err := p.abstract(node, typeDef, f, fieldPath, provided)
		if err != nil {
			return nil, err
		}
		planned.SelectionSet = sel
	default:
		fields := p.op.CollectFields(p.schema, typeDef.Name, f.SelectionSet)
		sel, err := p.resident(node, typeDef.Name, fields, fieldPath, provided)
		if err != nil {
			return nil, err
		}
		planned.SelectionSet = sel
	}
	return planned, nil
}

// abstract plans a selection on an interface or union position. Concrete
// types are planned one by one under inline fragments so that ownership can
// differ per member; __typename is always requested so harvesting and
// shaping can dispatch on the runtime type.
func (p *planner) abstract(node *FetchNode, typeDef *ast.Definition, f *ast.Field, path []string, provided map[string]bool) (ast.SelectionSet, error) {
	sel := ast.SelectionSet{typenameField()}
	for _, possible := range p.schema.PossibleTypes[typeDef.Name] {
		fields := p.op.CollectFields(p.schema, possible.Name, f.SelectionSet)
		var trimmed []*ast.Field
		for _, child := range fields {
			if child.Name != "__typename" {
				trimmed = append(trimmed, child)
			}
		}
		if len(trimmed) == 0 {
			continue
		}
		inner, err := p.resident(node, possible.Name, trimmed, path, provided)
		if err != nil {
			return nil, err
		}
		if len(inner) == 0 {
			continue
		}
		sel = append(sel, &ast.InlineFragment{TypeCondition: possible.Name, SelectionSet: inner})
	}
	return sel, nil
}

// boundaryField routes one field to the service that owns it. The parent type
// must be an entity there; the child node resolves representations harvested
// at path and grafts the field into the same objects.
func (p *planner) boundaryField(node *FetchNode, parentType string, owner *graph.Subgraph, def *ast.FieldDefinition, f *ast.Field, path []string, children map[string]*FetchNode, out *ast.SelectionSet, injected map[string]bool) error {
	if !p.graph.IsEntity(parentType) {
		return fmt.Errorf("field %s.%s resolves on %q but %s declares no key, unreachable from %q: %w",
			parentType, f.Name, owner.Name, parentType, node.Subgraph.Name, ErrInternal)
	}
	keys := p.graph.EntityKeys(parentType, owner.Name)
	if len(keys) == 0 {
		return fmt.Errorf("entity %s has no resolvable key for subgraph %q: %w", parentType, owner.Name, ErrInternal)
	}
	harvest := append([]string(nil), keys...)
	for _, req := range owner.Requires(parentType, f.Name) {
		harvest = appendUnique(harvest, req)
	}

	childKey := owner.Name + "/" + parentType
	child, ok := children[childKey]
	if !ok {
		child = p.newNode(NodeEntity, owner, parentType, appendPath(path))
		node.Children = append(node.Children, child.ID)
		children[childKey] = child
	}
	for _, name := range harvest {
		child.Keys = appendUnique(child.Keys, name)
	}

	planned, err := p.residentField(child, parentType, def, f, path)
	if err != nil {
		return err
	}
	child.Selection = append(child.Selection, planned)

	if !injected["__typename"] {
		injected["__typename"] = true
		*out = append(*out, typenameField())
	}
	for _, name := range harvest {
		alias := KeyAliasPrefix + name
		if injected[alias] {
			continue
		}
		injected[alias] = true
		*out = append(*out, &ast.Field{Alias: alias, Name: name})
	}
	return nil
}

func (p *planner) providedSet(node *FetchNode, parentType, field string) map[string]bool {
	names := node.Subgraph.Provides(parentType, field)
	if len(names) == 0 {
		return nil
	}
	set := make(map[string]bool, len(names))
	for _, name := range names {
		set[name] = true
	}
	return set
}

func (p *planner) fieldDef(parentType, name string) *ast.FieldDefinition {
	def := p.schema.Types[parentType]
	if def == nil {
		return nil
	}
	return def.Fields.ForName(name)
}

func typenameField() *ast.Field {
	return &ast.Field{Name: "__typename"}
}

func toSelectionSet(fields []*ast.Field) ast.SelectionSet {
	sel := make(ast.SelectionSet, 0, len(fields))
	for _, f := range fields {
		sel = append(sel, f)
	}
	return sel
}

// appendPath copies so sibling paths never alias the same backing array.
func appendPath(path []string, keys ...string) []string {
	out := make([]string, 0, len(path)+len(keys))
	out = append(out, path...)
	return append(out, keys...)
}

func appendUnique(list []string, name string) []string {
	for _, have := range list {
		if have == name {
			return list
		}
	}
	return append(list, name)
}
