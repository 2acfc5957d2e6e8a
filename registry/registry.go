// Package registry tracks the registered subgraphs and hot-swaps the gateway
// as the set changes. Requests read the live gateway from an atomic.Value and
// never contend with registrations, which are serialized through a channel.
package registry

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"

	json "github.com/goccy/go-json"

	"github.com/weftql/weft/federation/graph"
	"github.com/weftql/weft/gateway"
)

// entry is one registered subgraph. The slice order in state is registration
// order, which composition uses to settle field ownership.
type entry struct {
	name string
	url  string
	sdl  string
}

// state is an immutable snapshot of the registry: the subgraph set plus the
// gateway built from it. A new registration builds a whole new state.
type state struct {
	entries []entry
	handler http.Handler
	sdl     string
}

type registration struct {
	entry entry
	reply chan error
}

type Registry struct {
	client *http.Client
	logger *slog.Logger

	current  atomic.Value // *state
	incoming chan registration
}

func New(client *http.Client, logger *slog.Logger) *Registry {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		client:   client,
		logger:   logger,
		incoming: make(chan registration),
	}
}

// Start processes registrations until ctx is canceled. Every mutation of the
// subgraph set happens on this goroutine; Register blocks until it runs.
func (r *Registry) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case reg := <-r.incoming:
			reg.reply <- r.apply(reg.entry)
		}
	}
}

// Register adds or replaces the named subgraph and rebuilds the gateway. An
// empty schema means the subgraph is asked for its SDL first.
func (r *Registry) Register(ctx context.Context, name, url, schema string) error {
	if schema == "" {
		sdl, err := gateway.FetchSDL(ctx, r.client, url)
		if err != nil {
			return fmt.Errorf("fetch schema for subgraph %q: %w", name, err)
		}
		schema = sdl
	}

	reg := registration{
		entry: entry{name: name, url: url, sdl: schema},
		reply: make(chan error, 1),
	}
	select {
	case r.incoming <- reg:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reg.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// apply recomposes the supergraph with e added or replaced and swaps the
// rebuilt gateway in. On any failure the previous state keeps serving.
func (r *Registry) apply(e entry) error {
	entries := r.entriesWith(e)

	subgraphs := make([]*graph.Subgraph, 0, len(entries))
	for _, ent := range entries {
		sg, err := graph.ParseSubgraph(ent.name, ent.url, ent.sdl)
		if err != nil {
			return err
		}
		subgraphs = append(subgraphs, sg)
	}

	engine, err := gateway.NewEngine(subgraphs, r.client)
	if err != nil {
		return fmt.Errorf("compose supergraph: %w", err)
	}

	r.current.Store(&state{
		entries: entries,
		handler: gateway.New(engine, r.logger),
		sdl:     engine.Graph().SDL(),
	})
	r.logger.Info("gateway reloaded",
		slog.String("subgraph", e.name),
		slog.Int("subgraph_count", len(entries)))
	return nil
}

// entriesWith copies the current entry list with e replacing its previous
// registration, or appended when the name is new.
func (r *Registry) entriesWith(e entry) []entry {
	var current []entry
	if st := r.snapshot(); st != nil {
		current = st.entries
	}

	entries := make([]entry, len(current), len(current)+1)
	copy(entries, current)
	for i := range entries {
		if entries[i].name == e.name {
			entries[i] = e
			return entries
		}
	}
	return append(entries, e)
}

func (r *Registry) snapshot() *state {
	st, _ := r.current.Load().(*state)
	return st
}

// Handler returns the live GraphQL handler. Before the first successful
// registration every request is answered with 503.
func (r *Registry) Handler() http.Handler {
	if st := r.snapshot(); st != nil {
		return st.handler
	}
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "no subgraphs registered", http.StatusServiceUnavailable)
	})
}

// SDL returns the composed supergraph SDL, or "" before the first
// registration.
func (r *Registry) SDL() string {
	if st := r.snapshot(); st != nil {
		return st.sdl
	}
	return ""
}

type registrationRequest struct {
	Name   string `json:"name"`
	URL    string `json:"url"`
	Schema string `json:"schema"`
}

// HandleRegister implements POST /schema/registration.
func (r *Registry) HandleRegister(w http.ResponseWriter, req *http.Request) {
	var body registrationRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Name == "" || body.URL == "" {
		http.Error(w, "name and url are required", http.StatusBadRequest)
		return
	}

	if err := r.Register(req.Context(), body.Name, body.URL, body.Schema); err != nil {
		r.logger.Error("subgraph registration failed",
			slog.String("subgraph", body.Name),
			slog.String("error", err.Error()))
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleSchema implements GET /schema: the composed supergraph SDL as text.
func (r *Registry) HandleSchema(w http.ResponseWriter, _ *http.Request) {
	sdl := r.SDL()
	if sdl == "" {
		http.Error(w, "no schema registered", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, sdl)
}
