package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/graphql-go/graphql/language/ast"
	"github.com/graphql-go/graphql/language/parser"
	"github.com/graphql-go/graphql/language/source"

	"github.com/leopoldkristjansson/keystone/internal/store"
)

// WriteBoundaryMiddleware installs a fresh write limiter on the context of
// every GraphQL mutation request. The limiter serializes store writes so
// that each item in the request commits exactly one write at a time.
func WriteBoundaryMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			query, operationName := extractGraphQLRequest(r)
			opType, ok := resolveOperationType(query, operationName)
			if !ok || opType != ast.OperationTypeMutation {
				next.ServeHTTP(w, r)
				return
			}

			ctx := store.WithWriteLimiter(r.Context(), store.NewWriteLimiter())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

type graphQLRequest struct {
	Query         string `json:"query"`
	OperationName string `json:"operationName"`
}

func extractGraphQLRequest(r *http.Request) (string, string) {
	if r.Method == http.MethodGet {
		return r.URL.Query().Get("query"), r.URL.Query().Get("operationName")
	}
	if r.Method != http.MethodPost {
		return "", ""
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return "", ""
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	contentType := r.Header.Get("Content-Type")
	if strings.Contains(contentType, "application/graphql") {
		return string(body), ""
	}

	var payload graphQLRequest
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", ""
	}
	return payload.Query, payload.OperationName
}

func resolveOperationType(query, operationName string) (string, bool) {
	if query == "" {
		return "", false
	}

	doc, err := parser.Parse(parser.ParseParams{
		Source: source.NewSource(&source.Source{
			Body: []byte(query),
			Name: "graphql",
		}),
	})
	if err != nil {
		return "", false
	}

	var first *ast.OperationDefinition
	ops := 0
	for _, def := range doc.Definitions {
		op, ok := def.(*ast.OperationDefinition)
		if !ok {
			continue
		}
		ops++
		if first == nil {
			first = op
		}
		if operationName != "" && op.Name != nil && op.Name.Value == operationName {
			return op.Operation, true
		}
	}

	if operationName != "" {
		return "", false
	}
	if ops == 1 && first != nil {
		return first.Operation, true
	}
	return "", false
}
