// Package executor runs query plans against subgraph services and assembles
// the federated response. Fetches for independent plan nodes run
// concurrently; entity fetches run after the parent fetch that produced
// their key values.
package executor

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"golang.org/x/sync/errgroup"

	"github.com/weftql/weft/federation/graph"
	"github.com/weftql/weft/federation/introspection"
	"github.com/weftql/weft/federation/planner"
	"github.com/weftql/weft/federation/validation"
)

type Executor struct {
	graph  *graph.SuperGraph
	client *http.Client
}

func New(g *graph.SuperGraph, client *http.Client) *Executor {
	if client == nil {
		client = http.DefaultClient
	}
	return &Executor{graph: g, client: client}
}

// Execute runs every node of the plan and returns the shaped response.
// Transport failures and subgraph errors become GraphQL errors in the
// response rather than Go errors; the returned response is always non-nil.
func (e *Executor) Execute(ctx context.Context, plan *planner.Plan, variables map[string]interface{}) *Response {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	ex := &execution{
		Executor: e,
		plan:     plan,
		vars:     variables,
		cancel:   cancel,
		data:     map[string]interface{}{},
		errs:     make([]gqlerror.List, len(plan.Nodes)),
	}

	if plan.Serial {
		for _, id := range plan.Roots {
			ex.run(ctx, plan.Nodes[id])
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		for _, id := range plan.Roots {
			node := plan.Nodes[id]
			g.Go(func() error {
				ex.run(gctx, node)
				return nil
			})
		}
		_ = g.Wait()
	}

	return ex.finish()
}

// execution is the per-request state. data holds the raw merged subgraph
// results before shaping; errs holds one error slot per plan node so the
// final error order follows plan order, not goroutine completion order.
type execution struct {
	*Executor
	plan   *planner.Plan
	vars   map[string]interface{}
	cancel context.CancelFunc

	mu   sync.Mutex
	data map[string]interface{}
	errs []gqlerror.List
}

func (ex *execution) run(ctx context.Context, node *planner.FetchNode) {
	if ctx.Err() != nil {
		return
	}
	switch node.Kind {
	case planner.NodeIntrospection:
		ex.runIntrospection(node)
	case planner.NodeEntity:
		ex.runEntity(ctx, node)
	default:
		ex.runQuery(ctx, node)
	}
}

func (ex *execution) runQuery(ctx context.Context, node *planner.FetchNode) {
	query, vars := buildQuery(ex.plan.Operation, node, ex.vars)
	result, err := ex.fetch(ctx, node.Subgraph, query, vars)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		ex.fail(node, err)
		return
	}

	if m, ok := result.Data.(map[string]interface{}); ok {
		ex.mu.Lock()
		for k, v := range m {
			ex.data[k] = mergeValue(ex.data[k], v)
		}
		ex.mu.Unlock()
	}
	ex.recordErrors(node, result.Errors, nil)
	ex.runChildren(ctx, node)
}

func (ex *execution) runEntity(ctx context.Context, node *planner.FetchNode) {
	reps, targets, targetPaths := ex.harvest(node)
	if len(reps) == 0 {
		return
	}

	query, vars := buildQuery(ex.plan.Operation, node, ex.vars)
	vars["representations"] = reps

	result, err := ex.fetch(ctx, node.Subgraph, query, vars)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		ex.fail(node, err)
		return
	}

	ex.mu.Lock()
	if m, ok := result.Data.(map[string]interface{}); ok {
		if entities, ok := m["_entities"].([]interface{}); ok {
			for i, entity := range entities {
				if i >= len(targets) {
					break
				}
				em, ok := entity.(map[string]interface{})
				if !ok {
					continue
				}
				for k, v := range em {
					targets[i][k] = mergeValue(targets[i][k], v)
				}
			}
		}
	}
	ex.mu.Unlock()

	ex.recordErrors(node, result.Errors, targetPaths)
	ex.runChildren(ctx, node)
}

func (ex *execution) runIntrospection(node *planner.FetchNode) {
	rootDef := rootDefinition(ex.graph.Schema(), ex.plan.Operation)
	values := introspection.Resolve(ex.graph.Schema(), ex.plan.Operation, rootDef.Name, node.Selection)
	ex.mu.Lock()
	for k, v := range values {
		ex.data[k] = v
	}
	ex.mu.Unlock()
}

func (ex *execution) runChildren(ctx context.Context, node *planner.FetchNode) {
	switch len(node.Children) {
	case 0:
	case 1:
		ex.run(ctx, ex.plan.Nodes[node.Children[0]])
	default:
		g, gctx := errgroup.WithContext(ctx)
		for _, id := range node.Children {
			child := ex.plan.Nodes[id]
			g.Go(func() error {
				ex.run(gctx, child)
				return nil
			})
		}
		_ = g.Wait()
	}
}

// harvest walks the merged data along the node's path and collects one
// representation per object of the node's parent type, fanning out across
// list positions. It also captures the object itself, so the entity result
// can be merged back in place, and the concrete response path of each
// object for error rebasing.
func (ex *execution) harvest(node *planner.FetchNode) ([]map[string]interface{}, []map[string]interface{}, []ast.Path) {
	ex.mu.Lock()
	defer ex.mu.Unlock()

	var reps []map[string]interface{}
	var targets []map[string]interface{}
	var paths []ast.Path

	var walk func(value interface{}, path ast.Path, depth int)
	walk = func(value interface{}, path ast.Path, depth int) {
		switch v := value.(type) {
		case []interface{}:
			for i, item := range v {
				walk(item, append(path, ast.PathIndex(i)), depth)
			}
		case map[string]interface{}:
			if depth == len(node.Path) {
				rep := representation(node, v)
				if rep == nil {
					return
				}
				reps = append(reps, rep)
				targets = append(targets, v)
				paths = append(paths, append(ast.Path(nil), path...))
				return
			}
			key := node.Path[depth]
			walk(v[key], append(path, ast.PathName(key)), depth+1)
		}
	}
	walk(ex.data, nil, 0)

	return reps, targets, paths
}

// representation builds the _Any value for one object. Objects whose
// __typename does not match the node's parent type belong to a different
// concrete branch and are skipped, as are objects whose key fields never
// arrived.
func representation(node *planner.FetchNode, obj map[string]interface{}) map[string]interface{} {
	if tn, ok := obj["__typename"].(string); !ok || tn != node.ParentType {
		return nil
	}
	rep := map[string]interface{}{"__typename": node.ParentType}
	for _, key := range node.Keys {
		v, ok := obj[planner.KeyAliasPrefix+key]
		if !ok || v == nil {
			return nil
		}
		rep[key] = v
	}
	return rep
}

type subgraphResult struct {
	Data   interface{}   `json:"data"`
	Errors gqlerror.List `json:"errors"`
}

func (ex *execution) fetch(ctx context.Context, sub *graph.Subgraph, query string, variables map[string]interface{}) (*subgraphResult, error) {
	body, err := json.Marshal(map[string]interface{}{
		"query":     query,
		"variables": variables,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := ex.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var result subgraphResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &result, nil
}

// fail records a synthesized error for a node whose fetch never produced a
// usable result. When the lost fields cannot be nulled without nulling the
// whole response, the remaining fetches are cancelled.
func (ex *execution) fail(node *planner.FetchNode, err error) {
	gqlErr := &gqlerror.Error{
		Message: fmt.Sprintf("subgraph %q request failed: %s", node.Subgraph.Name, err),
		Path:    pathNames(node.Path),
		Extensions: map[string]interface{}{
			"code":        "ServiceFetchFailed",
			"serviceName": node.Subgraph.Name,
		},
	}
	ex.mu.Lock()
	ex.errs[node.ID] = append(ex.errs[node.ID], gqlErr)
	ex.mu.Unlock()

	if ex.forcesRootNull(node) {
		ex.cancel()
	}
}

// recordErrors rebases subgraph error paths into response coordinates and
// tags each error with the service it came from. Locations refer to the
// sub-request text, which the client never saw, so they are dropped.
func (ex *execution) recordErrors(node *planner.FetchNode, errs gqlerror.List, targetPaths []ast.Path) {
	if len(errs) == 0 {
		return
	}
	list := make(gqlerror.List, 0, len(errs))
	for _, src := range errs {
		e := &gqlerror.Error{
			Message:    src.Message,
			Path:       rebasePath(node, src.Path, targetPaths),
			Extensions: map[string]interface{}{},
		}
		for k, v := range src.Extensions {
			e.Extensions[k] = v
		}
		e.Extensions["serviceName"] = node.Subgraph.Name
		list = append(list, e)
	}
	ex.mu.Lock()
	ex.errs[node.ID] = append(ex.errs[node.ID], list...)
	ex.mu.Unlock()
}

func rebasePath(node *planner.FetchNode, path ast.Path, targetPaths []ast.Path) ast.Path {
	if node.Kind == planner.NodeEntity && len(path) >= 2 {
		if name, ok := path[0].(ast.PathName); ok && name == "_entities" {
			if idx, ok := path[1].(ast.PathIndex); ok && int(idx) < len(targetPaths) {
				out := append(ast.Path(nil), targetPaths[idx]...)
				return append(out, path[2:]...)
			}
		}
	}
	if len(path) == 0 {
		return nil
	}
	out := make(ast.Path, 0, len(node.Path)+len(path))
	for _, seg := range node.Path {
		out = append(out, ast.PathName(seg))
	}
	return append(out, path...)
}

// forcesRootNull reports whether losing this node's fields would null the
// response root under non-null propagation. Any nullable or list position
// on the way down absorbs the null, so cancellation stays an optimization
// for the strictly non-null case.
func (ex *execution) forcesRootNull(node *planner.FetchNode) bool {
	schema := ex.graph.Schema()
	op := ex.plan.Operation
	rootDef := rootDefinition(schema, op)
	if rootDef == nil {
		return false
	}

	typeName := rootDef.Name
	sels := op.Definition.SelectionSet
	for _, seg := range node.Path {
		var match *ast.Field
		for _, f := range op.CollectFields(schema, typeName, sels) {
			if validation.ResponseKey(f) == seg {
				match = f
				break
			}
		}
		if match == nil {
			return false
		}
		def := fieldDefFor(schema, typeName, match.Name)
		if def == nil || !def.Type.NonNull || def.Type.NamedType == "" {
			return false
		}
		typeName = def.Type.Name()
		sels = match.SelectionSet
	}

	for _, sel := range node.Selection {
		f, ok := sel.(*ast.Field)
		if !ok || f.Name == "__typename" || strings.HasPrefix(f.Alias, planner.KeyAliasPrefix) {
			continue
		}
		if def := fieldDefFor(schema, typeName, f.Name); def != nil && def.Type.NonNull {
			return true
		}
	}
	return false
}

// finish flattens the per-node errors in plan order and shapes the merged
// data onto the client selection. Each error keeps a handle on its node so
// the shaper can scope pathless errors to the fields that node fetched.
func (ex *execution) finish() *Response {
	var errs gqlerror.List
	var recorded []recordedError
	var visit func(id int)
	visit = func(id int) {
		node := ex.plan.Nodes[id]
		for _, e := range ex.errs[id] {
			errs = append(errs, e)
			recorded = append(recorded, recordedError{err: e, node: node})
		}
		for _, child := range node.Children {
			visit(child)
		}
	}
	for _, id := range ex.plan.Roots {
		visit(id)
	}

	schema := ex.graph.Schema()
	rootDef := rootDefinition(schema, ex.plan.Operation)
	data, shapeErrs := shape(schema, ex.plan.Operation, rootDef, ex.data, recorded)
	errs = append(errs, shapeErrs...)
	return &Response{Data: data, Errors: errs}
}

func rootDefinition(schema *ast.Schema, op *validation.Operation) *ast.Definition {
	if op.Definition.Operation == ast.Mutation {
		return schema.Mutation
	}
	return schema.Query
}

func fieldDefFor(schema *ast.Schema, typeName, fieldName string) *ast.FieldDefinition {
	def := schema.Types[typeName]
	if def == nil {
		return nil
	}
	return def.Fields.ForName(fieldName)
}

func pathNames(segments []string) ast.Path {
	if len(segments) == 0 {
		return nil
	}
	path := make(ast.Path, 0, len(segments))
	for _, seg := range segments {
		path = append(path, ast.PathName(seg))
	}
	return path
}
