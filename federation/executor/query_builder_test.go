package executor

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"

	"github.com/weftql/weft/federation/graph"
	"github.com/weftql/weft/federation/planner"
	"github.com/weftql/weft/federation/validation"
)

func testPlan(t *testing.T, sdls [][2]string, query string, variables map[string]interface{}) *planner.Plan {
	t.Helper()
	subgraphs := make([]*graph.Subgraph, 0, len(sdls))
	for _, def := range sdls {
		sg, err := graph.ParseSubgraph(def[0], "http://"+def[0], def[1])
		if err != nil {
			t.Fatalf("ParseSubgraph(%s): %v", def[0], err)
		}
		subgraphs = append(subgraphs, sg)
	}
	g, err := graph.Compose(subgraphs)
	if err != nil {
		t.Fatalf("Compose(): %v", err)
	}
	doc, err := parser.ParseQuery(&ast.Source{Input: query})
	if err != nil {
		t.Fatalf("ParseQuery(): %v", err)
	}
	op, errs := validation.Validate(g, doc, "", variables)
	if len(errs) > 0 {
		t.Fatalf("Validate(): %v", errs)
	}
	plan, planErr := planner.Build(g, op)
	if planErr != nil {
		t.Fatalf("Build(): %v", planErr)
	}
	return plan
}

const storeSDL = `
type Query {
  topProducts: [Product!]!
  product(id: ID!): Product
}

type Product @key(fields: "id") {
  id: ID!
  name: String!
}
`

func TestBuildQueryRoot(t *testing.T) {
	plan := testPlan(t, [][2]string{{"products", storeSDL}}, `{ topProducts { id name } }`, nil)

	query, vars := buildQuery(plan.Operation, plan.Nodes[plan.Roots[0]], plan.Operation.Variables)
	if want := `query { topProducts { id name } }`; query != want {
		t.Errorf("query = %q, want %q", query, want)
	}
	if len(vars) != 0 {
		t.Errorf("vars = %v, want none", vars)
	}
}

func TestBuildQueryRendersAliasAndArguments(t *testing.T) {
	plan := testPlan(t, [][2]string{{"products", storeSDL}},
		`query ($id: ID!) { item: product(id: $id) { name } }`,
		map[string]interface{}{"id": "42"})

	query, vars := buildQuery(plan.Operation, plan.Nodes[plan.Roots[0]], plan.Operation.Variables)
	if want := `query ($id: ID!) { item: product(id: $id) { name } }`; query != want {
		t.Errorf("query = %q, want %q", query, want)
	}
	if diff := cmp.Diff(map[string]interface{}{"id": "42"}, vars); diff != "" {
		t.Errorf("vars mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildQueryDeclaresOnlyUsedVariables(t *testing.T) {
	sdls := [][2]string{
		{"products", storeSDL},
		{"reviews", `
type Query {
  review(id: ID!): Review
}

type Review {
  id: ID!
  body: String!
}
`},
	}
	plan := testPlan(t, sdls,
		`query ($p: ID!, $r: ID!) { product(id: $p) { name } review(id: $r) { body } }`,
		map[string]interface{}{"p": "1", "r": "9"})
	if len(plan.Roots) != 2 {
		t.Fatalf("expected 2 root nodes, got %d", len(plan.Roots))
	}

	query, vars := buildQuery(plan.Operation, plan.Nodes[plan.Roots[0]], plan.Operation.Variables)
	if want := `query ($p: ID!) { product(id: $p) { name } }`; query != want {
		t.Errorf("products query = %q, want %q", query, want)
	}
	if diff := cmp.Diff(map[string]interface{}{"p": "1"}, vars); diff != "" {
		t.Errorf("products vars mismatch (-want +got):\n%s", diff)
	}

	query, vars = buildQuery(plan.Operation, plan.Nodes[plan.Roots[1]], plan.Operation.Variables)
	if want := `query ($r: ID!) { review(id: $r) { body } }`; query != want {
		t.Errorf("reviews query = %q, want %q", query, want)
	}
	if diff := cmp.Diff(map[string]interface{}{"r": "9"}, vars); diff != "" {
		t.Errorf("reviews vars mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildQueryEntity(t *testing.T) {
	sdls := [][2]string{
		{"products", storeSDL},
		{"reviews", `
type Product @key(fields: "id") {
  id: ID! @external
  reviews: [Review!]!
}

type Review {
  body: String!
}
`},
	}
	plan := testPlan(t, sdls, `{ topProducts { reviews { body } } }`, nil)
	root := plan.Nodes[plan.Roots[0]]
	if len(root.Children) != 1 {
		t.Fatalf("expected 1 entity child, got %v", root.Children)
	}

	query, vars := buildQuery(plan.Operation, plan.Nodes[root.Children[0]], plan.Operation.Variables)
	want := `query ($representations: [_Any!]!) { _entities(representations: $representations) { ... on Product { reviews { body } } } }`
	if query != want {
		t.Errorf("query = %q, want %q", query, want)
	}
	if len(vars) != 0 {
		t.Errorf("vars = %v, representations are attached at dispatch", vars)
	}
}

func TestBuildQueryMutation(t *testing.T) {
	plan := testPlan(t, [][2]string{{"products", `
type Query {
  ping: String!
}

type Mutation {
  createProduct(name: String!): ID!
}
`}}, `mutation { createProduct(name: "Desk") }`, nil)

	query, _ := buildQuery(plan.Operation, plan.Nodes[plan.Roots[0]], plan.Operation.Variables)
	if want := `mutation { createProduct(name: "Desk") }`; query != want {
		t.Errorf("query = %q, want %q", query, want)
	}
}
