package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/gorillamux"
)

// loadOpenAPI loads and validates the OpenAPI document and builds a router over it.
func loadOpenAPI(t *testing.T) (*openapi3.T, routers.Router) {
	t.Helper()

	docPath := os.Getenv("OPENAPI_DOC_PATH")
	if docPath == "" {
		docPath = filepath.Join("..", "..", "docs", "api", "openapi.yaml")
	}

	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromFile(docPath)
	if err != nil {
		t.Fatalf("Failed to load OpenAPI document from %s: %v", docPath, err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		t.Fatalf("OpenAPI document validation failed: %v", err)
	}

	router, err := gorillamux.NewRouter(doc)
	if err != nil {
		t.Fatalf("Failed to create router from OpenAPI document: %v", err)
	}
	return doc, router
}

func TestOpenAPIPaths(t *testing.T) {
	doc, _ := loadOpenAPI(t)

	for _, path := range []string{
		"/healthz",
		"/readyz",
		"/api/v1/",
		"/api/v1/auth/signup",
		"/api/v1/auth/login",
		"/api/v1/users/me",
	} {
		if doc.Paths.Find(path) == nil {
			t.Errorf("Expected path %s not found in OpenAPI document", path)
		}
	}
}

// TestContract_Responses drives the real router and validates every
// response against the documented schema and status codes.
func TestContract_Responses(t *testing.T) {
	_, docRouter := loadOpenAPI(t)
	h, _ := newTestRouter(t)

	login := do(t, h, http.MethodPost, "/api/v1/auth/login", `{"email":"ada@example.com","password":"correct horse"}`, "")
	if login.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d", login.Code)
	}
	var token struct {
		AccessToken string `json:"access_token"`
	}
	if err := jsonDecode(login, &token); err != nil {
		t.Fatalf("decode login: %v", err)
	}

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		bearer string
		want   int
	}{
		{"Healthz", http.MethodGet, "/healthz", "", "", http.StatusOK},
		{"Readyz", http.MethodGet, "/readyz", "", "", http.StatusOK},
		{"Version", http.MethodGet, "/api/v1/", "", "", http.StatusOK},
		{"SignupCreated", http.MethodPost, "/api/v1/auth/signup", `{"email":"ada@example.com","password":"pw","full_name":"Ada"}`, "", http.StatusCreated},
		{"SignupUnknownField", http.MethodPost, "/api/v1/auth/signup", `{"email":"ada@example.com","password":"pw","full_name":"Ada","role":"admin"}`, "", http.StatusUnprocessableEntity},
		{"SignupTooLarge", http.MethodPost, "/api/v1/auth/signup", `{"full_name":"` + strings.Repeat("a", 2048) + `"}`, "", http.StatusRequestEntityTooLarge},
		{"LoginOK", http.MethodPost, "/api/v1/auth/login", `{"email":"ada@example.com","password":"correct horse"}`, "", http.StatusOK},
		{"LoginBadPassword", http.MethodPost, "/api/v1/auth/login", `{"email":"ada@example.com","password":"wrong"}`, "", http.StatusUnauthorized},
		{"MeOK", http.MethodGet, "/api/v1/users/me", "", token.AccessToken, http.StatusOK},
		{"MeNoToken", http.MethodGet, "/api/v1/users/me", "", "", http.StatusUnauthorized},
		{"PatchMe", http.MethodPatch, "/api/v1/users/me", `{"full_name":"Ada L"}`, token.AccessToken, http.StatusOK},
		{"DeleteMe", http.MethodDelete, "/api/v1/users/me", "", token.AccessToken, http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, tt.method, tt.path, tt.body, tt.bearer)
			if rec.Code != tt.want {
				t.Fatalf("expected status %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
			validateResponse(t, docRouter, tt.method, tt.path, rec)
		})
	}
}

func validateResponse(t *testing.T, docRouter routers.Router, method, path string, rec *httptest.ResponseRecorder) {
	t.Helper()

	req := httptest.NewRequest(method, path, nil)
	route, pathParams, err := docRouter.FindRoute(req)
	if err != nil {
		t.Fatalf("Could not find route in OpenAPI document: %v", err)
	}

	input := &openapi3filter.ResponseValidationInput{
		RequestValidationInput: &openapi3filter.RequestValidationInput{
			Request:    req,
			PathParams: pathParams,
			Route:      route,
		},
		Status:  rec.Code,
		Header:  rec.Header(),
		Body:    io.NopCloser(bytes.NewReader(rec.Body.Bytes())),
		Options: &openapi3filter.Options{IncludeResponseStatus: true},
	}

	if err := openapi3filter.ValidateResponse(context.Background(), input); err != nil {
		t.Errorf("Response validation failed: %v\nBody: %s", err, rec.Body.String())
	}
}
