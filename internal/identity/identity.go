// Package identity puts the authenticated user id into the request context.
// Tokens are issued elsewhere; this package only verifies them. Without a
// signing secret it falls back to an anonymous per-device cookie.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ashureev/codetutor/internal/apperr"
	"github.com/ashureev/codetutor/internal/domain"
	"github.com/ashureev/codetutor/internal/store"
)

const (
	AnonCookieName   = "codetutor_anon_id"
	anonCookieMaxAge = 30 * 24 * time.Hour

	// lastSeenResolution limits last_seen_at writes to one per window.
	lastSeenResolution = 5 * time.Minute
)

type contextKey int

const (
	userIDKey contextKey = iota
	usernameKey
)

var (
	anonIDPattern = regexp.MustCompile(`^anon_[a-f0-9]{32}$`)

	errMissingToken = errors.New("missing bearer token")
	errInvalidToken = errors.New("invalid or expired token")
)

// Claims are the token claims this service reads.
type Claims struct {
	Username string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

// Options configure the identity middleware.
type Options struct {
	// JWTSecret enables HS256 bearer tokens. Empty means anonymous cookies.
	JWTSecret string
	IsDev     bool
	Logger    *slog.Logger
}

// UserIDFromContext extracts the user ID from the request context.
func UserIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(userIDKey).(string); ok {
		return v
	}
	return ""
}

// UsernameFromContext extracts the username from the request context.
func UsernameFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(usernameKey).(string); ok {
		return v
	}
	return ""
}

// WithUser returns ctx carrying userID and username.
func WithUser(ctx context.Context, userID, username string) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	return context.WithValue(ctx, usernameKey, username)
}

// Middleware resolves the caller, makes sure a user row exists and stores
// the identity in the request context.
func Middleware(repo store.Repository, opts Options) func(http.Handler) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var userID, username string
			if opts.JWTSecret != "" {
				claims, err := ParseToken(tokenFromRequest(r), opts.JWTSecret)
				if err != nil {
					writeAuthError(w, err.Error())
					return
				}
				userID = claims.Subject
				username = claims.Username
			} else {
				id, err := getOrCreateAnonID(w, r, opts.IsDev)
				if err != nil {
					logger.Error("Failed to establish anonymous identity", "error", err)
					writeAuthError(w, "failed to establish anonymous identity")
					return
				}
				userID = id
			}
			if username == "" {
				username = deriveUsername(userID)
			}

			if err := ensureUser(r.Context(), repo, userID, username); err != nil {
				logger.Error("Failed to initialize user", "user_id", userID, "error", err)
				apperr.WriteHTTP(w, apperr.Database(err, "failed to initialize user"), false)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), userID, username)))
		})
	}
}

// ParseToken verifies an HS256 token and returns its claims. The subject
// is the user id and must be present.
func ParseToken(token, secret string) (*Claims, error) {
	if token == "" {
		return nil, errMissingToken
	}
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		return nil, errInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, fmt.Errorf("%w: missing subject", errInvalidToken)
	}
	return claims, nil
}

// tokenFromRequest reads the Authorization header, or the token query
// parameter for websocket upgrades that cannot set headers.
func tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if scheme, token, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}

func writeAuthError(w http.ResponseWriter, message string) {
	apperr.WriteHTTP(w, apperr.Authentication("%s", message), false)
}

func generateAnonID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate anonymous id: %w", err)
	}
	return "anon_" + hex.EncodeToString(buf), nil
}

func isValidAnonID(id string) bool {
	return anonIDPattern.MatchString(id)
}

func deriveUsername(userID string) string {
	if len(userID) > 13 {
		return "learner-" + userID[len(userID)-8:]
	}
	return "learner"
}

func ensureUser(ctx context.Context, repo store.Repository, userID, username string) error {
	user, err := repo.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	now := time.Now()
	if user != nil {
		if now.Sub(user.LastSeenAt) < lastSeenResolution {
			return nil
		}
		return repo.UpdateLastSeen(ctx, userID, now)
	}

	return repo.UpsertUser(ctx, &domain.User{
		UserID:      userID,
		Username:    username,
		Preferences: domain.DefaultPreferences(),
		LastSeenAt:  now,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
}

func getOrCreateAnonID(w http.ResponseWriter, r *http.Request, isDev bool) (string, error) {
	id := ""
	if c, err := r.Cookie(AnonCookieName); err == nil && isValidAnonID(c.Value) {
		id = c.Value
	} else {
		id, err = generateAnonID()
		if err != nil {
			return "", err
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     AnonCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(anonCookieMaxAge.Seconds()),
		Expires:  time.Now().Add(anonCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
	return id, nil
}
