package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cardresource/cardres/internal/resource"
)

func TestHandleVersion(t *testing.T) {
	// Save original values
	origVersion := Version
	origBuildTime := BuildTime
	origGitCommit := GitCommit

	// Set test values
	Version = "1.2.3-test"
	BuildTime = "2024-01-15T10:30:00Z"
	GitCommit = "abc1234"

	// Restore after test
	defer func() {
		Version = origVersion
		BuildTime = origBuildTime
		GitCommit = origGitCommit
	}()

	req := httptest.NewRequest(http.MethodGet, "/v1/version", nil)
	w := httptest.NewRecorder()

	handleVersion(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}

	var result map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if result["version"] != "1.2.3-test" {
		t.Errorf("expected version '1.2.3-test', got '%v'", result["version"])
	}
	if result["buildTime"] != "2024-01-15T10:30:00Z" {
		t.Errorf("expected buildTime '2024-01-15T10:30:00Z', got '%v'", result["buildTime"])
	}
	if result["gitCommit"] != "abc1234" {
		t.Errorf("expected gitCommit 'abc1234', got '%v'", result["gitCommit"])
	}
}

func TestHandleVersion_MethodNotAllowed(t *testing.T) {
	methods := []string{http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch}

	for _, method := range methods {
		t.Run(method, func(t *testing.T) {
			req := httptest.NewRequest(method, "/v1/version", nil)
			w := httptest.NewRecorder()

			handleVersion(w, req)

			if w.Code != http.StatusMethodNotAllowed {
				t.Errorf("expected status %d for %s, got %d", http.StatusMethodNotAllowed, method, w.Code)
			}
		})
	}
}

func TestHandleHealth(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	w := httptest.NewRecorder()

	handleHealth(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}

	var result map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if result["status"] != "ok" {
		t.Errorf("expected status 'ok', got '%v'", result["status"])
	}

	// readerCount should be a number (even if 0 when no readers connected)
	if _, ok := result["readerCount"].(float64); !ok {
		t.Errorf("expected readerCount to be a number, got %T", result["readerCount"])
	}
}

func TestHandleHealth_MethodNotAllowed(t *testing.T) {
	methods := []string{http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch}

	for _, method := range methods {
		t.Run(method, func(t *testing.T) {
			req := httptest.NewRequest(method, "/v1/health", nil)
			w := httptest.NewRecorder()

			handleHealth(w, req)

			if w.Code != http.StatusMethodNotAllowed {
				t.Errorf("expected status %d for %s, got %d", http.StatusMethodNotAllowed, method, w.Code)
			}
		})
	}
}

func TestCORSMiddleware(t *testing.T) {
	handler := corsMiddleware(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	tests := []struct {
		name           string
		method         string
		expectedStatus int
		checkCORS      bool
	}{
		{"GET request", http.MethodGet, http.StatusOK, true},
		{"POST request", http.MethodPost, http.StatusOK, true},
		{"PUT request", http.MethodPut, http.StatusOK, true},
		{"DELETE request", http.MethodDelete, http.StatusOK, true},
		{"OPTIONS preflight", http.MethodOptions, http.StatusOK, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/test", nil)
			w := httptest.NewRecorder()

			handler(w, req)

			if w.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d", tt.expectedStatus, w.Code)
			}

			if tt.checkCORS {
				if w.Header().Get("Access-Control-Allow-Origin") != "*" {
					t.Error("expected Access-Control-Allow-Origin header to be '*'")
				}
				if w.Header().Get("Access-Control-Allow-Methods") != "GET, POST, DELETE, OPTIONS" {
					t.Error("expected Access-Control-Allow-Methods header")
				}
				if w.Header().Get("Access-Control-Allow-Headers") != "Content-Type" {
					t.Error("expected Access-Control-Allow-Headers header")
				}
			}
		})
	}
}

func TestCORSMiddleware_PreflightResponse(t *testing.T) {
	handler := corsMiddleware(func(w http.ResponseWriter, r *http.Request) {
		// This should not be called for OPTIONS
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte("Handler called"))
	})

	req := httptest.NewRequest(http.MethodOptions, "/test", nil)
	w := httptest.NewRecorder()

	handler(w, req)

	// OPTIONS should return 200, not 201 from the inner handler
	if w.Code != http.StatusOK {
		t.Errorf("expected status %d for OPTIONS, got %d", http.StatusOK, w.Code)
	}

	// Body should be empty for preflight
	if w.Body.Len() > 0 {
		t.Errorf("expected empty body for OPTIONS preflight, got %s", w.Body.String())
	}
}

func TestRespondJSON(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		data       interface{}
		expectJSON bool
	}{
		{
			name:       "simple map",
			status:     http.StatusOK,
			data:       map[string]string{"message": "hello"},
			expectJSON: true,
		},
		{
			name:       "created status",
			status:     http.StatusCreated,
			data:       map[string]string{"id": "123"},
			expectJSON: true,
		},
		{
			name:       "error response",
			status:     http.StatusBadRequest,
			data:       map[string]string{"error": "invalid input"},
			expectJSON: true,
		},
		{
			name:       "complex struct",
			status:     http.StatusOK,
			data:       map[string]interface{}{"count": 42, "items": []string{"a", "b"}},
			expectJSON: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			respondJSON(w, tt.status, tt.data)

			if w.Code != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, w.Code)
			}

			if w.Header().Get("Content-Type") != "application/json" {
				t.Error("expected Content-Type to be application/json")
			}

			if tt.expectJSON {
				var result interface{}
				if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
					t.Fatalf("failed to decode JSON response: %v", err)
				}
			}
		})
	}
}

func TestNewMux(t *testing.T) {
	mux := NewMux()

	// Test that routes are registered
	routes := []string{
		"/v1/profiles",
		"/v1/readers",
		"/v1/version",
		"/v1/health",
		"/v1/metrics",
	}

	for _, route := range routes {
		req := httptest.NewRequest(http.MethodGet, route, nil)
		w := httptest.NewRecorder()

		mux.ServeHTTP(w, req)

		// Should not be 404
		if w.Code == http.StatusNotFound {
			t.Errorf("route %s not registered", route)
		}
	}
}

func TestNewMux_RootServesWebUI(t *testing.T) {
	mux := NewMux()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()

	mux.ServeHTTP(w, req)

	// Root should serve the web UI (not 404)
	if w.Code == http.StatusNotFound {
		t.Error("root route should serve web UI, got 404")
	}
}

func TestHandleProfiles(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/profiles", nil)
	w := httptest.NewRecorder()

	handleProfiles(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	if w.Header().Get("Content-Type") != "application/json" {
		t.Error("expected Content-Type to be application/json")
	}

	var result map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if _, ok := result["profiles"]; !ok {
		t.Error("response should contain 'profiles' key")
	}
}

func TestHandleProfiles_MethodNotAllowed(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/v1/profiles", nil)
	w := httptest.NewRecorder()

	handleProfiles(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected status %d, got %d", http.StatusMethodNotAllowed, w.Code)
	}
}

func TestHandleReaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/readers", nil)
	w := httptest.NewRecorder()

	handleReaders(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}

	var result map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if _, ok := result["readers"]; !ok {
		t.Error("response should contain 'readers' key")
	}
}

func TestHandleReaders_MethodNotAllowed(t *testing.T) {
	methods := []string{http.MethodPost, http.MethodPut, http.MethodDelete}

	for _, method := range methods {
		t.Run(method, func(t *testing.T) {
			req := httptest.NewRequest(method, "/v1/readers", nil)
			w := httptest.NewRecorder()

			handleReaders(w, req)

			if w.Code != http.StatusMethodNotAllowed {
				t.Errorf("expected status %d for %s, got %d", http.StatusMethodNotAllowed, method, w.Code)
			}
		})
	}
}

func TestHandleAllocate_MissingProfile(t *testing.T) {
	body := bytes.NewBufferString(`{}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/allocate", body)
	w := httptest.NewRecorder()

	handleAllocate(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
}

func TestHandleAllocate_InvalidJSON(t *testing.T) {
	body := bytes.NewBufferString("{invalid json}")
	req := httptest.NewRequest(http.MethodPost, "/v1/allocate", body)
	w := httptest.NewRecorder()

	handleAllocate(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status %d, got %d", http.StatusBadRequest, w.Code)
	}
}

func TestHandleAllocate_UnknownProfile(t *testing.T) {
	body := bytes.NewBufferString(`{"profile": "does-not-exist"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/allocate", body)
	w := httptest.NewRecorder()

	handleAllocate(w, req)

	// The service has no profile named this, so allocation must fail rather
	// than silently succeed.
	if w.Code == http.StatusOK {
		t.Error("allocating an unknown profile should not return 200 OK")
	}
}

func TestHandleAllocate_MethodNotAllowed(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/allocate", nil)
	w := httptest.NewRecorder()

	handleAllocate(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected status %d, got %d", http.StatusMethodNotAllowed, w.Code)
	}
}

func TestHandleResourceRoutes_UnknownID(t *testing.T) {
	req := httptest.NewRequest(http.MethodDelete, "/v1/resources/does-not-exist", nil)
	w := httptest.NewRecorder()

	handleResourceRoutes(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected status %d, got %d", http.StatusNotFound, w.Code)
	}
}

func TestHandleResourceRoutes_ReleaseUnknownID(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/v1/resources/does-not-exist/release", nil)
	w := httptest.NewRecorder()

	handleResourceRoutes(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected status %d, got %d", http.StatusNotFound, w.Code)
	}
}

func TestVersionVariables(t *testing.T) {
	// Test that version variables are initialized
	if Version == "" {
		t.Error("Version should have a default value")
	}

	// Save and restore
	origVersion := Version
	origBuildTime := BuildTime
	origGitCommit := GitCommit

	defer func() {
		Version = origVersion
		BuildTime = origBuildTime
		GitCommit = origGitCommit
	}()

	// Test modification
	Version = "test-version"
	BuildTime = "test-time"
	GitCommit = "test-commit"

	if Version != "test-version" {
		t.Errorf("Version should be modifiable, got %s", Version)
	}
	if BuildTime != "test-time" {
		t.Errorf("BuildTime should be modifiable, got %s", BuildTime)
	}
	if GitCommit != "test-commit" {
		t.Errorf("GitCommit should be modifiable, got %s", GitCommit)
	}
}

func TestHandleVersion_ContentType(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/version", nil)
	w := httptest.NewRecorder()

	handleVersion(w, req)

	contentType := w.Header().Get("Content-Type")
	if contentType != "application/json" {
		t.Errorf("expected Content-Type 'application/json', got '%s'", contentType)
	}
}

func TestHandleHealth_ContentType(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	w := httptest.NewRecorder()

	handleHealth(w, req)

	contentType := w.Header().Get("Content-Type")
	if contentType != "application/json" {
		t.Errorf("expected Content-Type 'application/json', got '%s'", contentType)
	}
}

func TestAllocationRegistryRoundTrip(t *testing.T) {
	reg := &allocationRegistry{resources: make(map[string]*resource.CardResource)}

	if got := reg.get("missing"); got != nil {
		t.Errorf("expected nil for a missing id, got %v", got)
	}

	reg.delete("missing") // must not panic on an id that was never stored
}

// Benchmark tests
func BenchmarkHandleVersion(b *testing.B) {
	for i := 0; i < b.N; i++ {
		req := httptest.NewRequest(http.MethodGet, "/v1/version", nil)
		w := httptest.NewRecorder()
		handleVersion(w, req)
	}
}

func BenchmarkHandleHealth(b *testing.B) {
	for i := 0; i < b.N; i++ {
		req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
		w := httptest.NewRecorder()
		handleHealth(w, req)
	}
}

func BenchmarkCORSMiddleware(b *testing.B) {
	handler := corsMiddleware(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	for i := 0; i < b.N; i++ {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		w := httptest.NewRecorder()
		handler(w, req)
	}
}

func BenchmarkRespondJSON(b *testing.B) {
	data := map[string]interface{}{
		"key":    "value",
		"number": 42,
		"array":  []string{"a", "b", "c"},
	}

	for i := 0; i < b.N; i++ {
		w := httptest.NewRecorder()
		respondJSON(w, http.StatusOK, data)
	}
}

func BenchmarkNewMux(b *testing.B) {
	for i := 0; i < b.N; i++ {
		NewMux()
	}
}
