package identity

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ashureev/codetutor/internal/store"
)

const testSecret = "test-secret"

func newRepo(t *testing.T) *store.SQLiteStore {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "tutor.db"), 5*time.Second)
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func signToken(t *testing.T, method jwt.SigningMethod, subject string, expires time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(method, Claims{
		Username: "ada",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	})
	signed, err := token.SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func echoUser() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(UserIDFromContext(r.Context()) + "|" + UsernameFromContext(r.Context())))
	})
}

func TestBearerTokenIdentity(t *testing.T) {
	t.Parallel()
	repo := newRepo(t)
	h := Middleware(repo, Options{JWTSecret: testSecret})(echoUser())

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, jwt.SigningMethodHS256, "user-42", time.Now().Add(time.Hour)))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != "user-42|ada" {
		t.Fatalf("unexpected identity %q", rec.Body.String())
	}
	user, err := repo.GetUser(req.Context(), "user-42")
	if err != nil || user == nil {
		t.Fatalf("expected user row to be created: %v", err)
	}
	if user.Preferences.Difficulty != "beginner" {
		t.Fatalf("expected default preferences, got %+v", user.Preferences)
	}
}

func TestBearerTokenRejected(t *testing.T) {
	t.Parallel()
	repo := newRepo(t)
	h := Middleware(repo, Options{JWTSecret: testSecret})(echoUser())

	cases := map[string]string{
		"missing": "",
		"expired": "Bearer " + signToken(t, jwt.SigningMethodHS256, "u", time.Now().Add(-time.Hour)),
		"wrong":   "Bearer " + signToken(t, jwt.SigningMethodHS512, "u", time.Now().Add(time.Hour)),
		"no-sub":  "Bearer " + signToken(t, jwt.SigningMethodHS256, "", time.Now().Add(time.Hour)),
		"scheme":  "Basic abc",
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rec.Code)
			}
			if !strings.Contains(rec.Body.String(), `"code":"authentication_error"`) {
				t.Fatalf("unexpected body %s", rec.Body.String())
			}
		})
	}
}

func TestTokenQueryParameter(t *testing.T) {
	t.Parallel()
	h := Middleware(newRepo(t), Options{JWTSecret: testSecret})(echoUser())

	req := httptest.NewRequest(http.MethodGet, "/ws/chat?token="+signToken(t, jwt.SigningMethodHS256, "ws-user", time.Now().Add(time.Hour)), nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if !strings.HasPrefix(rec.Body.String(), "ws-user|") {
		t.Fatalf("unexpected identity %q", rec.Body.String())
	}
}

func TestAnonymousCookieIsReused(t *testing.T) {
	t.Parallel()
	h := Middleware(newRepo(t), Options{IsDev: true})(echoUser())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/me", nil))
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || !isValidAnonID(cookies[0].Value) {
		t.Fatalf("expected anonymous cookie, got %+v", cookies)
	}
	first := rec.Body.String()

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.AddCookie(cookies[0])
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Body.String() != first {
		t.Fatalf("expected same identity, got %q then %q", first, rec.Body.String())
	}
	if !strings.HasPrefix(first, cookies[0].Value+"|learner-") {
		t.Fatalf("unexpected identity %q", first)
	}
}
