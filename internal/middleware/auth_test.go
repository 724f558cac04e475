package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"evdetect/internal/auth"
	"evdetect/internal/config"
)

func protected(t *testing.T) (http.Handler, *auth.Sessions) {
	t.Helper()
	sessions := auth.NewSessions(&config.Config{Password: "pw", SessionSecret: "secret", SessionTTL: time.Hour})
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	return Auth(sessions)(ok), sessions
}

func TestAuth_ValidSession(t *testing.T) {
	h, sessions := protected(t)
	token, _, err := sessions.Issue()
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.AddCookie(&http.Cookie{Name: auth.CookieName, Value: token})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusTeapot {
		t.Errorf("Expected request to pass, got %d", rec.Code)
	}
}

func TestAuth_Rejections(t *testing.T) {
	h, _ := protected(t)

	tests := []struct {
		name   string
		header string
		value  string
		cookie string
		want   int
	}{
		{"browser redirected", "", "", "", http.StatusSeeOther},
		{"xhr unauthorized", "X-Requested-With", "XMLHttpRequest", "", http.StatusUnauthorized},
		{"json unauthorized", "Accept", "application/json", "", http.StatusUnauthorized},
		{"forged cookie", "Accept", "application/json", "true", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: auth.CookieName, Value: tt.cookie})
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Errorf("Expected %d, got %d", tt.want, rec.Code)
			}
			if tt.want == http.StatusSeeOther && rec.Header().Get("Location") != "/login" {
				t.Errorf("Expected redirect to /login, got %q", rec.Header().Get("Location"))
			}
		})
	}
}
