/*
Package session holds "who is currently authenticated".

PURPOSE:
  One durable slot stores the current user's email. The slot survives
  restarts (a file for the CLI, Redis for browser sessions behind the
  HTTP API) and is read on every authenticated operation.

LIFECYCLE:
  SetCurrent  on successful signup or login
  Clear       on logout
  Current     on every authenticated call

CONTEXT:
  There is no process-wide session. A *Holder travels in the request
  context and services pull it out with FromContext / RequireKey, so
  concurrent requests for different users never share state.

SEE ALSO:
  - slot.go:  Slot interface, file and memory slots
  - redis.go: Redis-backed slot
*/
package session

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/warp/points-engine/errs"
	"github.com/warp/points-engine/keycodec"
)

// SlotName is the key under which the current email is stored.
const SlotName = "currentUserEmail"

// ErrNoHolder is returned by Establish and End when ctx carries no Holder.
var ErrNoHolder = errors.New("session: no holder in context")

// Holder wraps a Slot with the session lifecycle.
type Holder struct {
	slot Slot
	log  *zap.Logger
}

// NewHolder returns a Holder over slot. log may be nil.
func NewHolder(slot Slot, log *zap.Logger) *Holder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Holder{slot: slot, log: log}
}

// SetCurrent records identifier as the authenticated user.
func (h *Holder) SetCurrent(ctx context.Context, identifier string) error {
	return h.slot.Store(ctx, strings.TrimSpace(identifier))
}

// Current returns the authenticated identifier, or "" when there is none.
// A failing slot reads as logged out.
func (h *Holder) Current(ctx context.Context) string {
	v, err := h.slot.Load(ctx)
	if err != nil {
		h.log.Warn("session slot unreadable", zap.Error(err))
		return ""
	}
	return strings.TrimSpace(v)
}

// Clear ends the session.
func (h *Holder) Clear(ctx context.Context) error {
	return h.slot.Clear(ctx)
}

// IsAuthenticated reports whether Current is non-empty.
func (h *Holder) IsAuthenticated(ctx context.Context) bool {
	return h.Current(ctx) != ""
}

// =============================================================================
// CONTEXT
// =============================================================================

type contextKey struct{}

// WithHolder attaches h to ctx.
func WithHolder(ctx context.Context, h *Holder) context.Context {
	return context.WithValue(ctx, contextKey{}, h)
}

// FromContext returns the Holder attached to ctx, or nil.
func FromContext(ctx context.Context) *Holder {
	h, _ := ctx.Value(contextKey{}).(*Holder)
	return h
}

// CurrentEmail returns the authenticated email in ctx, or "".
func CurrentEmail(ctx context.Context) string {
	h := FromContext(ctx)
	if h == nil {
		return ""
	}
	return h.Current(ctx)
}

// Establish makes identifier the current user of the Holder in ctx.
func Establish(ctx context.Context, identifier string) error {
	h := FromContext(ctx)
	if h == nil {
		return ErrNoHolder
	}
	return h.SetCurrent(ctx, identifier)
}

// End clears the Holder in ctx.
func End(ctx context.Context) error {
	h := FromContext(ctx)
	if h == nil {
		return ErrNoHolder
	}
	return h.Clear(ctx)
}

// RequireKey returns the current email and its storage key, failing with
// errs.ErrNotAuthenticated when no session is active.
func RequireKey(ctx context.Context) (email, key string, err error) {
	email = CurrentEmail(ctx)
	key = keycodec.ToKey(email)
	if email == "" || key == "" {
		return "", "", errs.ErrNotAuthenticated
	}
	return email, key, nil
}
