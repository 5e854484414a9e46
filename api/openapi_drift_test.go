package api

import (
	"net/http"
	"sort"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type openAPIOperation struct {
	Security []map[string][]string `yaml:"security"`
}

type openAPIDoc struct {
	Paths map[string]map[string]openAPIOperation `yaml:"paths"`
}

func loadOpenAPI(t *testing.T) openAPIDoc {
	t.Helper()
	var doc openAPIDoc
	require.NoError(t, yaml.Unmarshal(openapiSpec, &doc))
	return doc
}

// TestOpenAPIDrift compares the routes registered on the router with the
// embedded openapi.yaml in both directions.
func TestOpenAPIDrift(t *testing.T) {
	doc := loadOpenAPI(t)

	documented := make(map[string]bool)
	for path, methods := range doc.Paths {
		for method := range methods {
			documented[strings.ToUpper(method)+" "+path] = true
		}
	}

	// Router only registers routes, so a zero-value API is enough.
	a := &API{}
	registered := make(map[string]bool)
	err := chi.Walk(a.Router(), func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		route = strings.TrimRight(route, "/")
		if route == "/openapi.yaml" || strings.HasPrefix(route, "/docs") || strings.HasPrefix(route, "/redoc") {
			return nil
		}
		registered[method+" "+route] = true
		return nil
	})
	require.NoError(t, err)

	assert.Empty(t, diff(registered, documented), "routes missing from openapi.yaml")
	assert.Empty(t, diff(documented, registered), "stale routes in openapi.yaml")
}

func TestOpenAPIProtectedRoutesDeclareAccessToken(t *testing.T) {
	doc := loadOpenAPI(t)
	for _, path := range []string{"/me", "/items"} {
		for method, op := range doc.Paths[path] {
			require.NotEmpty(t, op.Security, "%s %s", method, path)
			_, ok := op.Security[0]["accessToken"]
			assert.True(t, ok, "%s %s must require an access token", method, path)
		}
	}
}

func diff(a, b map[string]bool) []string {
	var out []string
	for k := range a {
		if !b[k] {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
