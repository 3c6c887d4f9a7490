package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAuthMiddleware(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		apiKey    string
		header    string
		wantCode  int
		wantError string
	}{
		{name: "disabled", apiKey: "", header: "", wantCode: http.StatusOK},
		{name: "missing header", apiKey: "secret", header: "", wantCode: http.StatusUnauthorized, wantError: "unauthorized"},
		{name: "wrong token", apiKey: "secret", header: "Bearer wrong-token", wantCode: http.StatusUnauthorized, wantError: "invalid_token"},
		{name: "prefix of token", apiKey: "secret", header: "Bearer secre", wantCode: http.StatusUnauthorized, wantError: "invalid_token"},
		{name: "correct token", apiKey: "secret", header: "Bearer secret", wantCode: http.StatusOK},
		{name: "lowercase scheme", apiKey: "secret", header: "bearer secret", wantCode: http.StatusOK},
		{name: "basic auth", apiKey: "secret", header: "Basic dXNlcjpwYXNz", wantCode: http.StatusUnauthorized, wantError: "unauthorized"},
		{name: "empty bearer", apiKey: "secret", header: "Bearer   ", wantCode: http.StatusUnauthorized, wantError: "unauthorized"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodPost, "/api/search", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			authMiddleware(tc.apiKey, okHandler).ServeHTTP(w, req)

			if w.Code != tc.wantCode {
				t.Fatalf("expected %d, got %d", tc.wantCode, w.Code)
			}
			if tc.wantError == "" {
				return
			}
			if w.Header().Get("WWW-Authenticate") == "" {
				t.Error("expected WWW-Authenticate header on 401")
			}
			var body errorResponse
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Code != tc.wantError {
				t.Errorf("error code = %q, want %q", body.Code, tc.wantError)
			}
		})
	}
}

func TestBearerToken(t *testing.T) {
	t.Parallel()

	cases := []struct {
		header string
		want   string
		ok     bool
	}{
		{"Bearer mytoken", "mytoken", true},
		{"BEARER mytoken", "mytoken", true},
		{"Bearer  spaced ", "spaced", true},
		{"Basic dXNlcjpwYXNz", "", false},
		{"", "", false},
		{"Bearer", "", false},
		{"Bearer ", "", false},
		{"token only", "", false},
	}

	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		got, ok := bearerToken(req)
		if got != tc.want || ok != tc.ok {
			t.Errorf("header=%q: got (%q, %t), want (%q, %t)", tc.header, got, ok, tc.want, tc.ok)
		}
	}
}
