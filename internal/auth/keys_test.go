package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestGenerateAPIKey(t *testing.T) {
	key, err := GenerateAPIKey()
	if err != nil {
		t.Fatalf("GenerateAPIKey() error = %v", err)
	}

	if !strings.HasPrefix(key, KeyPrefix) {
		t.Errorf("GenerateAPIKey() = %v, want prefix %v", key, KeyPrefix)
	}

	// Base64 URL encoding without padding: 32 bytes -> 43 characters
	expectedLen := len(KeyPrefix) + 43
	if len(key) != expectedLen {
		t.Errorf("GenerateAPIKey() length = %v, want %v", len(key), expectedLen)
	}

	other, _ := GenerateAPIKey()
	if other == key {
		t.Error("GenerateAPIKey() returned the same key twice")
	}
}

func TestHashAndVerifyAPIKey(t *testing.T) {
	key := "test-api-key-12345"

	hash, err := hashAPIKey(key, bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hashAPIKey() error = %v", err)
	}
	if !IsHash(hash) {
		t.Errorf("IsHash(%q) = false", hash)
	}
	if !VerifyAPIKey(key, hash) {
		t.Error("VerifyAPIKey() failed for correct key")
	}
	if VerifyAPIKey("wrong-key", hash) {
		t.Error("VerifyAPIKey() succeeded for incorrect key")
	}
}

func TestVerifyAPIKeyConstantTime(t *testing.T) {
	tests := []struct {
		name     string
		got      string
		expected string
		want     bool
	}{
		{"equal", "track-123", "track-123", true},
		{"not equal", "track-456", "track-123", false},
		{"empty got", "", "track-123", false},
		{"empty expected", "track-123", "", false},
		{"both empty", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := VerifyAPIKeyConstantTime(tt.got, tt.expected); got != tt.want {
				t.Errorf("VerifyAPIKeyConstantTime() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name       string
		authHeader string
		want       string
	}{
		{"with Bearer prefix", "Bearer token123", "token123"},
		{"with bearer lowercase", "bearer token456", "token456"},
		{"with extra spaces", "Bearer  token789  ", "token789"},
		{"without Bearer prefix", "token999", "token999"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractBearerToken(tt.authHeader); got != tt.want {
				t.Errorf("ExtractBearerToken() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAuthenticate(t *testing.T) {
	hash, err := hashAPIKey("hashed-key", bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hashAPIKey() error = %v", err)
	}
	a := NewAuthenticator([]string{"plain-key", "", hash})

	tests := []struct {
		name   string
		header string
		want   bool
		reason string
	}{
		{"plain", "Bearer plain-key", true, ""},
		{"hashed", "Bearer hashed-key", true, ""},
		{"hash itself is not a key", "Bearer " + hash, false, "invalid token"},
		{"wrong", "Bearer nope", false, "invalid token"},
		{"missing", "", false, "missing bearer token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := a.Authenticate(tt.header)
			if got.Authenticated != tt.want || got.Error != tt.reason {
				t.Errorf("Authenticate() = %+v, want authenticated=%v error=%q", got, tt.want, tt.reason)
			}
		})
	}
}

func TestRequireAuth(t *testing.T) {
	a := NewAuthenticator([]string{"secret"})
	var failed string
	h := a.RequireAuth(func(w http.ResponseWriter, r *http.Request, reason string) {
		failed = reason
		w.WriteHeader(http.StatusUnauthorized)
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized || failed != "missing bearer token" {
		t.Errorf("Expected 401 with reason, got %d %q", rec.Code, failed)
	}

	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("Expected 204, got %d", rec.Code)
	}
}
