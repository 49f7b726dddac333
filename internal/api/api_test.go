package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dreamware/tiaki/internal/registry"
)

// TestAcquireLockRequestWire tests the wire shape of the acquire request
func TestAcquireLockRequestWire(t *testing.T) {
	expected := int64(3)
	req := AcquireLockRequest{
		MemoryID:        "project-plan",
		Persona:         "architect",
		Project:         "a1b2c3",
		LockedBy:        "session-1",
		ExpectedVersion: &expected,
	}

	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("Failed to marshal AcquireLockRequest: %v", err)
	}

	var jsonMap map[string]interface{}
	if err := json.Unmarshal(data, &jsonMap); err != nil {
		t.Fatalf("Failed to unmarshal JSON: %v", err)
	}

	if jsonMap["memoryId"] != "project-plan" {
		t.Errorf("Expected memoryId 'project-plan', got %v", jsonMap["memoryId"])
	}
	if jsonMap["lockedBy"] != "session-1" {
		t.Errorf("Expected lockedBy 'session-1', got %v", jsonMap["lockedBy"])
	}
	if jsonMap["expectedVersion"] != float64(3) {
		t.Errorf("Expected expectedVersion 3, got %v", jsonMap["expectedVersion"])
	}

	// Optional fields stay off the wire when unset.
	bare, _ := json.Marshal(AcquireLockRequest{MemoryID: "plan", Persona: "architect", LockedBy: "s"})
	var bareMap map[string]interface{}
	_ = json.Unmarshal(bare, &bareMap)
	if _, ok := bareMap["expectedVersion"]; ok {
		t.Error("expectedVersion should be omitted when nil")
	}
	if _, ok := bareMap["project"]; ok {
		t.Error("project should be omitted when empty")
	}
}

// TestPostJSON tests the PostJSON function with various scenarios
func TestPostJSON(t *testing.T) {
	tests := []struct {
		name           string
		serverResponse int
		serverBody     string
		requestBody    interface{}
		responseBody   interface{}
		expectError    bool
		contextTimeout bool
	}{
		{
			name:           "successful POST with response",
			serverResponse: http.StatusOK,
			serverBody:     `{"status":"ok"}`,
			requestBody:    map[string]string{"test": "data"},
			responseBody:   &map[string]string{},
			expectError:    false,
		},
		{
			name:           "successful POST without response body",
			serverResponse: http.StatusNoContent,
			serverBody:     "",
			requestBody:    map[string]string{"test": "data"},
			responseBody:   nil,
			expectError:    false,
		},
		{
			name:           "server error response",
			serverResponse: http.StatusInternalServerError,
			serverBody:     `{"error":"internal error"}`,
			requestBody:    map[string]string{"test": "data"},
			responseBody:   nil,
			expectError:    true,
		},
		{
			name:           "context timeout",
			serverResponse: http.StatusOK,
			serverBody:     `{"status":"ok"}`,
			requestBody:    map[string]string{"test": "data"},
			responseBody:   nil,
			expectError:    true,
			contextTimeout: true,
		},
		{
			name:           "unmarshalable request body",
			serverResponse: http.StatusOK,
			serverBody:     `{"status":"ok"}`,
			requestBody:    make(chan int), // channels can't be marshaled
			responseBody:   nil,
			expectError:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					t.Errorf("Expected POST method, got %s", r.Method)
				}
				if ct := r.Header.Get("Content-Type"); ct != "application/json" {
					t.Errorf("Expected Content-Type application/json, got %s", ct)
				}

				if tt.contextTimeout {
					time.Sleep(100 * time.Millisecond)
				}

				w.WriteHeader(tt.serverResponse)
				if tt.serverBody != "" {
					w.Write([]byte(tt.serverBody))
				}
			}))
			defer server.Close()

			ctx := context.Background()
			if tt.contextTimeout {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, 1*time.Millisecond)
				defer cancel()
			}

			err := PostJSON(ctx, server.URL, tt.requestBody, tt.responseBody)

			if tt.expectError && err == nil {
				t.Errorf("Expected error but got none")
			}
			if !tt.expectError && err != nil {
				t.Errorf("Unexpected error: %v", err)
			}

			if !tt.expectError && tt.responseBody != nil {
				respMap := tt.responseBody.(*map[string]string)
				if (*respMap)["status"] != "ok" {
					t.Errorf("Expected response status 'ok', got %v", *respMap)
				}
			}
		})
	}
}

// TestGetJSON tests the GetJSON function with various scenarios
func TestGetJSON(t *testing.T) {
	tests := []struct {
		name           string
		serverResponse int
		serverBody     string
		expectError    bool
	}{
		{
			name:           "successful GET",
			serverResponse: http.StatusOK,
			serverBody:     `{"data":"test","value":123}`,
			expectError:    false,
		},
		{
			name:           "not found error",
			serverResponse: http.StatusNotFound,
			serverBody:     `{"error":"not found"}`,
			expectError:    true,
		},
		{
			name:           "invalid JSON response",
			serverResponse: http.StatusOK,
			serverBody:     `{invalid json}`,
			expectError:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodGet {
					t.Errorf("Expected GET method, got %s", r.Method)
				}
				w.WriteHeader(tt.serverResponse)
				if tt.serverBody != "" {
					w.Write([]byte(tt.serverBody))
				}
			}))
			defer server.Close()

			result := map[string]interface{}{}
			err := GetJSON(context.Background(), server.URL, &result)

			if tt.expectError && err == nil {
				t.Errorf("Expected error but got none")
			}
			if !tt.expectError && err != nil {
				t.Errorf("Unexpected error: %v", err)
			}

			if !tt.expectError {
				if result["data"] != "test" {
					t.Errorf("Expected data 'test', got %v", result["data"])
				}
				if result["value"] != float64(123) { // JSON numbers decode as float64
					t.Errorf("Expected value 123, got %v", result["value"])
				}
			}
		})
	}
}

// TestErrorEnvelope tests that failed calls decode the server's error
// envelope into *Error
func TestErrorEnvelope(t *testing.T) {
	t.Run("envelope with code", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusConflict)
			json.NewEncoder(w).Encode(ErrorResponse{
				Error: `memory "plan" is locked by session-1 until 2025-03-01T12:01:00Z`,
				Code:  "locked",
			})
		}))
		defer server.Close()

		client := NewClient(server.URL, "")
		_, err := client.AcquireLock(context.Background(), AcquireLockRequest{
			MemoryID: "plan", Persona: "architect", LockedBy: "session-2",
		})
		if err == nil {
			t.Fatal("Expected error but got none")
		}

		apiErr, ok := AsError(err)
		if !ok {
			t.Fatalf("Expected *Error, got %T: %v", err, err)
		}
		if apiErr.Status != http.StatusConflict {
			t.Errorf("Status = %d, want 409", apiErr.Status)
		}
		if apiErr.Code != "locked" {
			t.Errorf("Code = %q, want %q", apiErr.Code, "locked")
		}
		if apiErr.Message == "" {
			t.Error("Message should carry the server's error text")
		}
	})

	t.Run("non-envelope body falls back to status", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte("upstream exploded"))
		}))
		defer server.Close()

		err := GetJSON(context.Background(), server.URL, &map[string]any{})
		apiErr, ok := AsError(err)
		if !ok {
			t.Fatalf("Expected *Error, got %T: %v", err, err)
		}
		if apiErr.Status != http.StatusBadGateway {
			t.Errorf("Status = %d, want 502", apiErr.Status)
		}
		if apiErr.Code != "" {
			t.Errorf("Code = %q, want empty", apiErr.Code)
		}
	})
}

// TestClientAuth tests bearer token handling
func TestClientAuth(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode(HealthResponse{Status: "healthy"})
	}))
	defer server.Close()

	t.Run("token attached", func(t *testing.T) {
		client := NewClient(server.URL, "secret-token")
		if err := client.Health(context.Background()); err != nil {
			t.Fatalf("Health() error: %v", err)
		}
		if gotAuth != "Bearer secret-token" {
			t.Errorf("Authorization = %q, want %q", gotAuth, "Bearer secret-token")
		}
	})

	t.Run("no header without token", func(t *testing.T) {
		client := NewClient(server.URL, "")
		if err := client.Health(context.Background()); err != nil {
			t.Fatalf("Health() error: %v", err)
		}
		if gotAuth != "" {
			t.Errorf("Authorization = %q, want empty", gotAuth)
		}
	})
}

// TestClientQueries tests that read methods encode their parameters
func TestClientQueries(t *testing.T) {
	var gotPath string
	var gotQuery map[string][]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query()
		json.NewEncoder(w).Encode(HistoryResponse{MemoryID: "plan"})
	}))
	defer server.Close()

	client := NewClient(server.URL+"/", "") // Trailing slash is trimmed

	t.Run("history with limit", func(t *testing.T) {
		_, err := client.History(context.Background(), "plan", "architect", "a1b2c3", 5)
		if err != nil {
			t.Fatalf("History() error: %v", err)
		}
		if gotPath != PathMemoryHistory {
			t.Errorf("path = %q, want %q", gotPath, PathMemoryHistory)
		}
		if got := gotQuery["memoryId"]; len(got) != 1 || got[0] != "plan" {
			t.Errorf("memoryId query = %v, want [plan]", got)
		}
		if got := gotQuery["persona"]; len(got) != 1 || got[0] != "architect" {
			t.Errorf("persona query = %v, want [architect]", got)
		}
		if got := gotQuery["project"]; len(got) != 1 || got[0] != "a1b2c3" {
			t.Errorf("project query = %v, want [a1b2c3]", got)
		}
		if got := gotQuery["limit"]; len(got) != 1 || got[0] != "5" {
			t.Errorf("limit query = %v, want [5]", got)
		}
	})

	t.Run("persona scope omits project", func(t *testing.T) {
		_, err := client.History(context.Background(), "plan", "architect", "", 0)
		if err != nil {
			t.Fatalf("History() error: %v", err)
		}
		if _, ok := gotQuery["project"]; ok {
			t.Error("project query should be absent for persona scope")
		}
		if _, ok := gotQuery["limit"]; ok {
			t.Error("limit query should be absent when zero")
		}
	})

	t.Run("service filter", func(t *testing.T) {
		_, err := client.FindHealthy(context.Background(), registry.Filter{
			Type: registry.TypeMemory,
			Tags: []string{"primary", "fast"},
		})
		if err != nil {
			t.Fatalf("FindHealthy() error: %v", err)
		}
		if gotPath != PathServicesHealthy {
			t.Errorf("path = %q, want %q", gotPath, PathServicesHealthy)
		}
		if got := gotQuery["type"]; len(got) != 1 || got[0] != "memory" {
			t.Errorf("type query = %v, want [memory]", got)
		}
		if got := gotQuery["tag"]; len(got) != 2 {
			t.Errorf("tag query = %v, want two values", got)
		}
	})
}

// TestClientRoundTrip tests a full acquire/update exchange against a
// canned server
func TestClientRoundTrip(t *testing.T) {
	expires := time.Date(2025, 3, 1, 12, 1, 0, 0, time.UTC)
	mux := http.NewServeMux()
	mux.HandleFunc(PathLocksAcquire, func(w http.ResponseWriter, r *http.Request) {
		var req AcquireLockRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode acquire request: %v", err)
		}
		if req.MemoryID != "plan" || req.LockedBy != "session-1" {
			t.Errorf("unexpected acquire request: %+v", req)
		}
		json.NewEncoder(w).Encode(AcquireLockResponse{
			LockID:         "lock-1",
			CurrentVersion: 0,
			ExpiresAt:      expires,
		})
	})
	mux.HandleFunc(PathMemoryUpdate, func(w http.ResponseWriter, r *http.Request) {
		var req UpdateMemoryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode update request: %v", err)
		}
		if req.LockID != "lock-1" {
			t.Errorf("update lockId = %q, want lock-1", req.LockID)
		}
		json.NewEncoder(w).Encode(UpdateMemoryResponse{NewVersion: 1, Checksum: "abc"})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := NewClient(server.URL, "")
	ctx := context.Background()

	acquired, err := client.AcquireLock(ctx, AcquireLockRequest{
		MemoryID: "plan", Persona: "architect", LockedBy: "session-1",
	})
	if err != nil {
		t.Fatalf("AcquireLock() error: %v", err)
	}
	if acquired.LockID != "lock-1" {
		t.Errorf("LockID = %q, want lock-1", acquired.LockID)
	}
	if !acquired.ExpiresAt.Equal(expires) {
		t.Errorf("ExpiresAt = %v, want %v", acquired.ExpiresAt, expires)
	}

	updated, err := client.UpdateMemory(ctx, UpdateMemoryRequest{
		MemoryID: "plan", Persona: "architect", LockID: acquired.LockID,
		Content: "v1", Author: "architect",
	})
	if err != nil {
		t.Fatalf("UpdateMemory() error: %v", err)
	}
	if updated.NewVersion != 1 {
		t.Errorf("NewVersion = %d, want 1", updated.NewVersion)
	}
}

// TestHTTPClient tests that the HTTP client has proper timeout
func TestHTTPClient(t *testing.T) {
	if httpClient.Timeout != 5*time.Second {
		t.Errorf("Expected HTTP client timeout of 5s, got %v", httpClient.Timeout)
	}
}
