package api

import (
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"strings"

	"gopkg.in/yaml.v3"

	"theological-agent/internal/auth"
)

//go:embed openapi.yaml
var openAPISpec string

//go:embed docs/*.html
var docsFS embed.FS

var swaggerPage = template.Must(template.ParseFS(docsFS, "docs/swagger.html"))

// SpecHandler serves the OpenAPI document with {oktaIssuer} replaced by the
// configured issuer. Clients asking for JSON get the same document converted.
func SpecHandler(oktaIssuer string) (http.HandlerFunc, error) {
	spec := strings.ReplaceAll(openAPISpec, "{oktaIssuer}", oktaIssuer)

	var doc map[string]any
	if err := yaml.Unmarshal([]byte(spec), &doc); err != nil {
		return nil, fmt.Errorf("parse openapi document: %w", err)
	}
	specJSON, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode openapi document: %w", err)
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.Header.Get("Accept"), "application/json") {
			w.Header().Set("Content-Type", "application/json")
			w.Write(specJSON)
			return
		}
		w.Header().Set("Content-Type", "application/yaml")
		w.Write([]byte(spec))
	}, nil
}

type swaggerParams struct {
	SpecURL     string
	RedirectURL string
	ClientID    string
	Scopes      string
}

// SwaggerHandler serves the Swagger UI configured for PKCE against the Okta
// issuer guarding the review endpoints.
func SwaggerHandler(clientID string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		params := swaggerParams{
			SpecURL:     "/openapi.yaml",
			RedirectURL: requestScheme(r) + "://" + r.Host + "/docs/oauth2-redirect.html",
			ClientID:    clientID,
			Scopes:      strings.Join(auth.AllScopes, " "),
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := swaggerPage.Execute(w, params); err != nil {
			http.Error(w, "failed to render docs", http.StatusInternalServerError)
		}
	}
}

// OAuth2RedirectHandler serves the page Swagger UI returns to after login.
func OAuth2RedirectHandler() http.HandlerFunc {
	page, _ := docsFS.ReadFile("docs/oauth2-redirect.html")
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(page)
	}
}

func requestScheme(r *http.Request) string {
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		return proto
	}
	if r.TLS != nil {
		return "https"
	}
	return "http"
}
