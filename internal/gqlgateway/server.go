package gqlgateway

import (
	"encoding/json"
	"net/http"

	graphql "github.com/graph-gophers/graphql-go"
	"github.com/julienschmidt/httprouter"
	"github.com/pkg/errors"
	"github.com/rs/cors"

	"github.com/xloem/vartex/internal/querybuilder"
	"github.com/xloem/vartex/internal/vlog"
)

var logger = vlog.New("gqlgateway")

// NewHandler builds the HTTP surface: /graphql for POST and GET, with
// permissive CORS for browser-based GraphQL clients.
func NewHandler(qb *querybuilder.Builder) (http.Handler, error) {
	schema, err := graphql.ParseSchema(schemaString, NewResolver(qb))
	if err != nil {
		return nil, errors.Wrap(err, "parsing graphql schema")
	}

	router := httprouter.New()
	router.Handler(http.MethodPost, "/graphql", &gqlHandler{schema: schema})
	router.Handler(http.MethodGet, "/graphql", &gqlHandler{schema: schema})

	return cors.Default().Handler(router), nil
}

type gqlHandler struct {
	schema *graphql.Schema
}

type gqlRequest struct {
	Query         string                 `json:"query"`
	OperationName string                 `json:"operationName"`
	Variables     map[string]interface{} `json:"variables"`
}

func (h *gqlHandler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	var gr gqlRequest
	if err := json.NewDecoder(req.Body).Decode(&gr); err != nil {
		http.Error(w, "invalid graphql request body", http.StatusBadRequest)
		return
	}

	result := h.schema.Exec(req.Context(), gr.Query, gr.OperationName, gr.Variables)
	if len(result.Errors) > 0 {
		logger.Warn("graphql query returned errors", "errors", result.Errors)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(result); err != nil {
		logger.Error("failed to encode graphql response", "err", err)
	}
}
