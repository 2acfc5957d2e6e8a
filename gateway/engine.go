package gateway

import (
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/weftql/weft/federation/executor"
	"github.com/weftql/weft/federation/graph"
)

// Engine bundles the read-only pieces needed to serve requests against one
// composed supergraph. Engines are immutable once built; picking up a schema
// change means building a new engine and swapping it in.
type Engine struct {
	graph    *graph.SuperGraph
	executor *executor.Executor
}

// NewEngine composes the given subgraphs and wires an executor that sends
// fetches through client.
func NewEngine(subgraphs []*graph.Subgraph, client *http.Client) (*Engine, error) {
	superGraph, err := graph.Compose(subgraphs)
	if err != nil {
		return nil, err
	}
	return &Engine{
		graph:    superGraph,
		executor: executor.New(superGraph, client),
	}, nil
}

// Graph returns the composed supergraph the engine serves.
func (e *Engine) Graph() *graph.SuperGraph {
	return e.graph
}

// NewClient builds the HTTP client used for subgraph fetches: bounded by
// timeout, traced through otelhttp so outbound spans join the request trace.
func NewClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}
