package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/points-engine/session"
)

// =============================================================================
// SESSION MIDDLEWARE
// =============================================================================
//
// Each browser gets an opaque token (cookie pt_session, or the
// X-Session-Token header for non-browser clients). The token selects a
// session slot; the slot holds the logged-in email, just like the
// currentUserEmail entry a page would keep in localStorage.

const (
	SessionCookie = "pt_session"
	SessionHeader = "X-Session-Token"
)

// SlotFactory returns the slot for a session token.
type SlotFactory interface {
	Slot(token string) session.Slot
}

// SessionOptions configures the session middleware.
type SessionOptions struct {
	Slots        SlotFactory
	TTL          time.Duration
	SecureCookie bool
	Logger       *zap.Logger
}

// Sessions attaches a *session.Holder to every request context, issuing a
// fresh token when the request carries none.
func Sessions(opts SessionOptions) func(http.Handler) http.Handler {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	slots := opts.Slots
	if slots == nil {
		slots = session.NewMemorySlots()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := requestToken(r)
			if token == "" {
				token = uuid.NewString()
				cookie := &http.Cookie{
					Name:     SessionCookie,
					Value:    token,
					Path:     "/",
					HttpOnly: true,
					Secure:   opts.SecureCookie,
					SameSite: http.SameSiteLaxMode,
				}
				if opts.TTL > 0 {
					cookie.MaxAge = int(opts.TTL / time.Second)
				}
				http.SetCookie(w, cookie)
			}
			w.Header().Set(SessionHeader, token)

			holder := session.NewHolder(slots.Slot(token), log)
			next.ServeHTTP(w, r.WithContext(session.WithHolder(r.Context(), holder)))
		})
	}
}

// requestToken returns a well-formed token from the header or cookie.
// Anything that is not a UUID is ignored so clients cannot pick keys.
func requestToken(r *http.Request) string {
	candidates := []string{strings.TrimSpace(r.Header.Get(SessionHeader))}
	if c, err := r.Cookie(SessionCookie); err == nil {
		candidates = append(candidates, c.Value)
	}
	for _, c := range candidates {
		if _, err := uuid.Parse(c); err == nil && c != "" {
			return c
		}
	}
	return ""
}
