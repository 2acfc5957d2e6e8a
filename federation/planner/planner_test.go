package planner_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"

	"github.com/weftql/weft/federation/graph"
	"github.com/weftql/weft/federation/planner"
	"github.com/weftql/weft/federation/validation"
)

type subgraphDef struct {
	name string
	sdl  string
}

const productsSDL = `
type Query {
  topProducts: [Product!]!
  product(id: ID!): Product
}

type Product @key(fields: "id") {
  id: ID!
  name: String!
  weight: Int!
}
`

const reviewsSDL = `
type Product @key(fields: "id") {
  id: ID! @external
  reviews: [Review!]!
}

type Review {
  id: ID!
  body: String!
}
`

const shippingSDL = `
type Product @key(fields: "id") {
  id: ID! @external
  weight: Int! @external
  shippingEstimate: Int! @requires(fields: "weight")
}
`

func composeGraph(t *testing.T, defs []subgraphDef) *graph.SuperGraph {
	t.Helper()
	subgraphs := make([]*graph.Subgraph, 0, len(defs))
	for _, def := range defs {
		sg, err := graph.ParseSubgraph(def.name, "http://"+def.name, def.sdl)
		if err != nil {
			t.Fatalf("ParseSubgraph(%s): %v", def.name, err)
		}
		subgraphs = append(subgraphs, sg)
	}
	g, err := graph.Compose(subgraphs)
	if err != nil {
		t.Fatalf("Compose(): %v", err)
	}
	return g
}

func buildPlan(t *testing.T, g *graph.SuperGraph, query string) *planner.Plan {
	t.Helper()
	doc, err := parser.ParseQuery(&ast.Source{Input: query})
	if err != nil {
		t.Fatalf("ParseQuery(): %v", err)
	}
	op, errs := validation.Validate(g, doc, "", nil)
	if len(errs) > 0 {
		t.Fatalf("Validate(): %v", errs)
	}
	plan, planErr := planner.Build(g, op)
	if planErr != nil {
		t.Fatalf("Build(): %v", planErr)
	}
	return plan
}

// selectionKeys lists the response keys of the field selections, in order.
func selectionKeys(sels ast.SelectionSet) []string {
	var keys []string
	for _, sel := range sels {
		if f, ok := sel.(*ast.Field); ok {
			key := f.Name
			if f.Alias != "" {
				key = f.Alias
			}
			keys = append(keys, key)
		}
	}
	return keys
}

func findField(t *testing.T, sels ast.SelectionSet, key string) *ast.Field {
	t.Helper()
	for _, sel := range sels {
		f, ok := sel.(*ast.Field)
		if !ok {
			continue
		}
		if f.Alias == key || (f.Alias == "" && f.Name == key) {
			return f
		}
	}
	t.Fatalf("selection has no field %q, got %v", key, selectionKeys(sels))
	return nil
}

func TestPlanSingleService(t *testing.T) {
	g := composeGraph(t, []subgraphDef{{"products", productsSDL}})
	plan := buildPlan(t, g, `{ topProducts { id name } }`)

	if len(plan.Roots) != 1 || len(plan.Nodes) != 1 {
		t.Fatalf("expected a single fetch node, got roots=%v nodes=%d", plan.Roots, len(plan.Nodes))
	}
	node := plan.Nodes[plan.Roots[0]]
	if node.Kind != planner.NodeQuery {
		t.Errorf("node kind = %v, want %v", node.Kind, planner.NodeQuery)
	}
	if node.Subgraph.Name != "products" {
		t.Errorf("node subgraph = %q, want products", node.Subgraph.Name)
	}
	if len(node.Children) != 0 {
		t.Errorf("unexpected children %v", node.Children)
	}
	top := findField(t, node.Selection, "topProducts")
	if diff := cmp.Diff([]string{"id", "name"}, selectionKeys(top.SelectionSet)); diff != "" {
		t.Errorf("topProducts selection mismatch (-want +got):\n%s", diff)
	}
}

func TestPlanGroupsConsecutiveRootFields(t *testing.T) {
	accounts := subgraphDef{"accounts", `
type Query {
  me: User
  userCount: Int!
}

type User @key(fields: "id") {
  id: ID!
  username: String!
}
`}
	g := composeGraph(t, []subgraphDef{{"products", productsSDL}, accounts})

	plan := buildPlan(t, g, `{ me { username } userCount topProducts { name } }`)
	if len(plan.Roots) != 2 {
		t.Fatalf("expected 2 root nodes, got %d", len(plan.Roots))
	}
	first := plan.Nodes[plan.Roots[0]]
	second := plan.Nodes[plan.Roots[1]]
	if first.Subgraph.Name != "accounts" || second.Subgraph.Name != "products" {
		t.Fatalf("root owners = %q, %q; want accounts, products", first.Subgraph.Name, second.Subgraph.Name)
	}
	if diff := cmp.Diff([]string{"me", "userCount"}, selectionKeys(first.Selection)); diff != "" {
		t.Errorf("accounts run mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"topProducts"}, selectionKeys(second.Selection)); diff != "" {
		t.Errorf("products run mismatch (-want +got):\n%s", diff)
	}
}

func TestPlanEntityBoundary(t *testing.T) {
	g := composeGraph(t, []subgraphDef{{"products", productsSDL}, {"reviews", reviewsSDL}})
	plan := buildPlan(t, g, `{ topProducts { name reviews { body } } }`)

	if len(plan.Roots) != 1 {
		t.Fatalf("expected 1 root node, got %d", len(plan.Roots))
	}
	root := plan.Nodes[plan.Roots[0]]
	if root.Subgraph.Name != "products" {
		t.Fatalf("root owner = %q, want products", root.Subgraph.Name)
	}

	top := findField(t, root.Selection, "topProducts")
	want := []string{"name", "__typename", "_key_id"}
	if diff := cmp.Diff(want, selectionKeys(top.SelectionSet)); diff != "" {
		t.Errorf("parent selection mismatch (-want +got):\n%s", diff)
	}
	keyField := findField(t, top.SelectionSet, "_key_id")
	if keyField.Name != "id" {
		t.Errorf("key alias resolves %q, want id", keyField.Name)
	}

	if len(root.Children) != 1 {
		t.Fatalf("expected 1 entity child, got %v", root.Children)
	}
	child := plan.Nodes[root.Children[0]]
	if child.Kind != planner.NodeEntity {
		t.Errorf("child kind = %v, want %v", child.Kind, planner.NodeEntity)
	}
	if child.Subgraph.Name != "reviews" || child.ParentType != "Product" {
		t.Errorf("child targets %s on %q, want Product on reviews", child.ParentType, child.Subgraph.Name)
	}
	if diff := cmp.Diff([]string{"topProducts"}, child.Path); diff != "" {
		t.Errorf("child path mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"id"}, child.Keys); diff != "" {
		t.Errorf("child keys mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"reviews"}, selectionKeys(child.Selection)); diff != "" {
		t.Errorf("child selection mismatch (-want +got):\n%s", diff)
	}
}

func TestPlanFoldsBoundaryFieldsIntoOneChild(t *testing.T) {
	reviews := subgraphDef{"reviews", `
type Product @key(fields: "id") {
  id: ID! @external
  reviews: [Review!]!
  reviewCount: Int!
}

type Review {
  id: ID!
  body: String!
}
`}
	g := composeGraph(t, []subgraphDef{{"products", productsSDL}, reviews})
	plan := buildPlan(t, g, `{ topProducts { reviews { body } reviewCount } }`)

	root := plan.Nodes[plan.Roots[0]]
	if len(root.Children) != 1 {
		t.Fatalf("expected both boundary fields in one child, got %d children", len(root.Children))
	}
	child := plan.Nodes[root.Children[0]]
	if diff := cmp.Diff([]string{"reviews", "reviewCount"}, selectionKeys(child.Selection)); diff != "" {
		t.Errorf("child selection mismatch (-want +got):\n%s", diff)
	}
}

func TestPlanRequiresExtendHarvest(t *testing.T) {
	g := composeGraph(t, []subgraphDef{{"products", productsSDL}, {"shipping", shippingSDL}})
	plan := buildPlan(t, g, `{ topProducts { shippingEstimate } }`)

	root := plan.Nodes[plan.Roots[0]]
	top := findField(t, root.Selection, "topProducts")
	want := []string{"__typename", "_key_id", "_key_weight"}
	if diff := cmp.Diff(want, selectionKeys(top.SelectionSet)); diff != "" {
		t.Errorf("parent selection mismatch (-want +got):\n%s", diff)
	}

	child := plan.Nodes[root.Children[0]]
	if diff := cmp.Diff([]string{"id", "weight"}, child.Keys); diff != "" {
		t.Errorf("child keys mismatch (-want +got):\n%s", diff)
	}
}

func TestPlanProvidesKeepsFieldResident(t *testing.T) {
	defs := []subgraphDef{
		{"accounts", `
type Query {
  me: User
}

type User @key(fields: "id") {
  id: ID!
  username: String!
  email: String!
}
`},
		{"reviews", `
type Query {
  recentReviews: [Review!]!
}

type Review {
  id: ID!
  body: String!
  author: User! @provides(fields: "username")
}

type User @key(fields: "id") {
  id: ID! @external
  username: String! @external
}
`},
	}
	g := composeGraph(t, defs)

	plan := buildPlan(t, g, `{ recentReviews { author { username } } }`)
	if len(plan.Nodes) != 1 {
		t.Fatalf("provided field should not fan out, got %d nodes", len(plan.Nodes))
	}
	author := findField(t, findField(t, plan.Nodes[0].Selection, "recentReviews").SelectionSet, "author")
	if diff := cmp.Diff([]string{"username"}, selectionKeys(author.SelectionSet)); diff != "" {
		t.Errorf("author selection mismatch (-want +got):\n%s", diff)
	}

	plan = buildPlan(t, g, `{ recentReviews { author { email } } }`)
	if len(plan.Nodes) != 2 {
		t.Fatalf("unprovided field should fan out, got %d nodes", len(plan.Nodes))
	}
	child := plan.Nodes[plan.Nodes[0].Children[0]]
	if child.Subgraph.Name != "accounts" || child.ParentType != "User" {
		t.Errorf("child targets %s on %q, want User on accounts", child.ParentType, child.Subgraph.Name)
	}
	if diff := cmp.Diff([]string{"recentReviews", "author"}, child.Path); diff != "" {
		t.Errorf("child path mismatch (-want +got):\n%s", diff)
	}
}

func TestPlanIsDeterministic(t *testing.T) {
	g := composeGraph(t, []subgraphDef{{"products", productsSDL}, {"reviews", reviewsSDL}})
	doc, err := parser.ParseQuery(&ast.Source{Input: `{ topProducts { name reviews { body } } }`})
	if err != nil {
		t.Fatalf("ParseQuery(): %v", err)
	}
	op, errs := validation.Validate(g, doc, "", nil)
	if len(errs) > 0 {
		t.Fatalf("Validate(): %v", errs)
	}

	first, err := planner.Build(g, op)
	if err != nil {
		t.Fatalf("Build(): %v", err)
	}
	second, err := planner.Build(g, op)
	if err != nil {
		t.Fatalf("Build(): %v", err)
	}

	sameSubgraph := cmp.Comparer(func(a, b *graph.Subgraph) bool { return a == b })
	if diff := cmp.Diff(first.Nodes, second.Nodes, sameSubgraph); diff != "" {
		t.Errorf("plan arenas differ (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff(first.Roots, second.Roots); diff != "" {
		t.Errorf("plan roots differ (-first +second):\n%s", diff)
	}
	if first.Serial != second.Serial {
		t.Errorf("serial flags differ: %v vs %v", first.Serial, second.Serial)
	}
}

func TestPlanMutationIsSerial(t *testing.T) {
	defs := []subgraphDef{
		{"products", `
type Query {
  ping: String!
}

type Mutation {
  createProduct(name: String!): ID!
}
`},
		{"reviews", `
type Mutation {
  submitReview(body: String!): ID!
}
`},
	}
	g := composeGraph(t, defs)
	plan := buildPlan(t, g, `mutation { submitReview(body: "ok") createProduct(name: "x") }`)

	if !plan.Serial {
		t.Error("mutation plan should be serial")
	}
	if len(plan.Roots) != 2 {
		t.Fatalf("expected 2 root nodes, got %d", len(plan.Roots))
	}
	first := plan.Nodes[plan.Roots[0]]
	second := plan.Nodes[plan.Roots[1]]
	if first.Subgraph.Name != "reviews" || second.Subgraph.Name != "products" {
		t.Errorf("mutation order = %q, %q; want reviews, products", first.Subgraph.Name, second.Subgraph.Name)
	}
}

func TestPlanIntrospectionRunsLocally(t *testing.T) {
	g := composeGraph(t, []subgraphDef{{"products", productsSDL}})
	plan := buildPlan(t, g, `{ __schema { queryType { name } } topProducts { name } }`)

	if len(plan.Roots) != 2 {
		t.Fatalf("expected 2 root nodes, got %d", len(plan.Roots))
	}
	intro := plan.Nodes[plan.Roots[0]]
	if intro.Kind != planner.NodeIntrospection {
		t.Errorf("first node kind = %v, want %v", intro.Kind, planner.NodeIntrospection)
	}
	if intro.Subgraph != nil {
		t.Errorf("introspection node should carry no subgraph, got %q", intro.Subgraph.Name)
	}
	data := plan.Nodes[plan.Roots[1]]
	if data.Kind != planner.NodeQuery || data.Subgraph.Name != "products" {
		t.Errorf("second node = %v on %v, want query on products", data.Kind, data.Subgraph)
	}
}

func TestPlanRootTypenameNeedsNoFetch(t *testing.T) {
	g := composeGraph(t, []subgraphDef{{"products", productsSDL}})
	plan := buildPlan(t, g, `{ __typename }`)

	if len(plan.Nodes) != 0 {
		t.Fatalf("root __typename should plan no fetches, got %d nodes", len(plan.Nodes))
	}
}

func TestPlanAbstractSelection(t *testing.T) {
	g := composeGraph(t, []subgraphDef{{"catalog", `
type Query {
  search(term: String!): [Result!]!
}

union Result = Book | Movie

type Book {
  title: String!
}

type Movie {
  runtime: Int!
}
`}})
	plan := buildPlan(t, g, `{ search(term: "go") { ... on Book { title } ... on Movie { runtime } } }`)

	root := plan.Nodes[plan.Roots[0]]
	search := findField(t, root.Selection, "search")
	if diff := cmp.Diff([]string{"__typename"}, selectionKeys(search.SelectionSet)); diff != "" {
		t.Errorf("abstract selection should lead with __typename (-want +got):\n%s", diff)
	}
	var conditions []string
	for _, sel := range search.SelectionSet {
		if frag, ok := sel.(*ast.InlineFragment); ok {
			conditions = append(conditions, frag.TypeCondition)
		}
	}
	if diff := cmp.Diff([]string{"Book", "Movie"}, conditions); diff != "" {
		t.Errorf("fragment conditions mismatch (-want +got):\n%s", diff)
	}
}
