// Package gateway serves the federated GraphQL API over HTTP. A Gateway is
// bound to one composed supergraph; each request flows through parse,
// validate, plan and execute, with every phase traced.
package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"github.com/vektah/gqlparser/v2/parser"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/weftql/weft/federation/executor"
	"github.com/weftql/weft/federation/planner"
	"github.com/weftql/weft/federation/validation"
)

type Gateway struct {
	engine *Engine
	logger *slog.Logger
	tracer trace.Tracer
}

var _ http.Handler = (*Gateway)(nil)

func New(engine *Engine, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		engine: engine,
		logger: logger,
		tracer: otel.Tracer("github.com/weftql/weft/gateway"),
	}
}

type graphQLRequest struct {
	Query         string                 `json:"query"`
	OperationName string                 `json:"operationName"`
	Variables     map[string]interface{} `json:"variables"`
}

// rejectionResponse is the body for requests that never reach execution.
// There is no data key at all, only errors.
type rejectionResponse struct {
	Errors gqlerror.List `json:"errors"`
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()
	w.Header().Set("X-Request-Id", requestID)

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, span := g.tracer.Start(r.Context(), "graphql.request")
	defer span.End()

	logger := g.logger.With(slog.String("request_id", requestID))

	var req graphQLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Info("malformed request body", slog.String("error", err.Error()))
		writeRejection(w, http.StatusBadRequest, gqlerror.List{gqlerror.Errorf("invalid request body: %s", err)})
		return
	}
	span.SetAttributes(attribute.String("graphql.operation.name", req.OperationName))

	doc, rejected := g.parse(ctx, req.Query)
	if rejected != nil {
		writeRejection(w, http.StatusOK, rejected)
		return
	}

	op, rejected := g.validate(ctx, doc, req.OperationName, req.Variables)
	if rejected != nil {
		writeRejection(w, http.StatusOK, rejected)
		return
	}

	plan, err := g.plan(ctx, op)
	if err != nil {
		logger.Error("planning failed",
			slog.String("operation", req.OperationName),
			slog.String("error", err.Error()))
		writeRejection(w, http.StatusInternalServerError, gqlerror.List{gqlerror.Errorf("internal server error")})
		return
	}

	resp := g.execute(ctx, plan, op.Variables)
	if len(resp.Errors) > 0 {
		logger.Info("request completed with errors", slog.Int("error_count", len(resp.Errors)))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (g *Gateway) parse(ctx context.Context, query string) (*ast.QueryDocument, gqlerror.List) {
	_, span := g.tracer.Start(ctx, "graphql.parse")
	defer span.End()

	doc, err := parser.ParseQuery(&ast.Source{Input: query})
	if err != nil {
		span.RecordError(err)
		return nil, asErrorList(err)
	}
	return doc, nil
}

func (g *Gateway) validate(ctx context.Context, doc *ast.QueryDocument, operationName string, variables map[string]interface{}) (*validation.Operation, gqlerror.List) {
	_, span := g.tracer.Start(ctx, "graphql.validate")
	defer span.End()

	op, errs := validation.Validate(g.engine.graph, doc, operationName, variables)
	if len(errs) > 0 {
		span.SetAttributes(attribute.Int("graphql.validation.error_count", len(errs)))
		return nil, errs
	}
	return op, nil
}

func (g *Gateway) plan(ctx context.Context, op *validation.Operation) (*planner.Plan, error) {
	_, span := g.tracer.Start(ctx, "graphql.plan")
	defer span.End()

	plan, err := planner.Build(g.engine.graph, op)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("graphql.plan.node_count", len(plan.Nodes)))
	return plan, nil
}

func (g *Gateway) execute(ctx context.Context, plan *planner.Plan, variables map[string]interface{}) *executor.Response {
	ctx, span := g.tracer.Start(ctx, "graphql.execute")
	defer span.End()
	return g.engine.executor.Execute(ctx, plan, variables)
}

// asErrorList normalizes parser errors, which come back as a lone
// *gqlerror.Error, into the list shape responses carry.
func asErrorList(err error) gqlerror.List {
	var list gqlerror.List
	if errors.As(err, &list) {
		return list
	}
	var single *gqlerror.Error
	if errors.As(err, &single) {
		return gqlerror.List{single}
	}
	return gqlerror.List{gqlerror.Errorf("%s", err)}
}

func writeRejection(w http.ResponseWriter, status int, errs gqlerror.List) {
	writeJSON(w, status, rejectionResponse{Errors: errs})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
