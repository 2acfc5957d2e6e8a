package graph

import (
	"github.com/vektah/gqlparser/v2/ast"
)

// SuperGraph is the composed gateway schema: the public type system plus the
// ownership and entity-key metadata needed to join types across services.
// It is built once by Compose and read-only afterwards.
type SuperGraph struct {
	schema    *ast.Schema
	sdl       string
	subgraphs []*Subgraph
	owners    map[string][]*Subgraph // "Type.field" -> candidates, first wins
}

// Schema returns the composed public schema.
func (g *SuperGraph) Schema() *ast.Schema {
	return g.schema
}

// SDL returns the composed public schema rendered as SDL, with federation
// directives and machinery stripped.
func (g *SuperGraph) SDL() string {
	return g.sdl
}

// Subgraphs returns the registered subgraphs in registration order.
func (g *SuperGraph) Subgraphs() []*Subgraph {
	return g.subgraphs
}

// Subgraph returns the registered subgraph with the given name.
func (g *SuperGraph) Subgraph(name string) *Subgraph {
	for _, sg := range g.subgraphs {
		if sg.Name == name {
			return sg
		}
	}
	return nil
}

// Owner returns the subgraph that resolves typeName.field. When several
// subgraphs declare the field (shareable value types), the composition-time
// winner is returned; the planner never re-negotiates this.
func (g *SuperGraph) Owner(typeName, field string) (*Subgraph, bool) {
	owners := g.owners[typeName+"."+field]
	if len(owners) == 0 {
		return nil, false
	}
	return owners[0], true
}

// Owners returns every subgraph able to resolve typeName.field, winner first.
func (g *SuperGraph) Owners(typeName, field string) []*Subgraph {
	return g.owners[typeName+"."+field]
}

// IsEntity reports whether any subgraph declared typeName as an entity.
func (g *SuperGraph) IsEntity(typeName string) bool {
	for _, sg := range g.subgraphs {
		if sg.Entity(typeName) != nil {
			return true
		}
	}
	return false
}

// EntityOwner returns the subgraph that hosts typeName's canonical
// definition: the first registration with a resolvable, non-extension @key.
// Extensions are considered only when no canonical definition exists.
func (g *SuperGraph) EntityOwner(typeName string) (*Subgraph, bool) {
	var fallback *Subgraph
	for _, sg := range g.subgraphs {
		ent := sg.Entity(typeName)
		if ent == nil || len(sg.Keys(typeName)) == 0 {
			continue
		}
		if !ent.Extension {
			return sg, true
		}
		if fallback == nil {
			fallback = sg
		}
	}
	if fallback != nil {
		return fallback, true
	}
	return nil, false
}

// EntityKeys returns the key field names to use when resolving typeName
// representations against the named subgraph: its first resolvable @key,
// falling back to the entity owner's when the target declares none.
func (g *SuperGraph) EntityKeys(typeName, subgraph string) []string {
	if sg := g.Subgraph(subgraph); sg != nil {
		if keys := sg.Keys(typeName); len(keys) > 0 {
			return keys[0].Fields
		}
	}
	if owner, ok := g.EntityOwner(typeName); ok {
		if keys := owner.Keys(typeName); len(keys) > 0 {
			return keys[0].Fields
		}
	}
	return nil
}
