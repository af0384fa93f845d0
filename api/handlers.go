/*
handlers.go - HTTP API handlers for the points engine

PURPOSE:
  Exposes account, ledger, redemption, admin and reporting operations as
  JSON endpoints. Handlers decode the request, call one service operation
  with the request context (which carries the session) and encode the
  result.

ENDPOINTS:
  Auth:
    POST   /api/auth/signup                 Create account and log in
    POST   /api/auth/login                  Log in
    POST   /api/auth/logout[?redirect=]     Log out (204, or 303 to redirect)
    GET    /api/auth/status                 Nav bar state

  Current user:
    POST   /api/me/ensure                   Repair/upgrade own record
    GET    /api/me/profile                  Profile (null when absent)
    GET    /api/me/points                   Balance
    PUT    /api/me/points                   Overwrite balance
    POST   /api/me/points/add               Add points with history
    GET    /api/me/history                  Points history, oldest first
    GET    /api/me/courses                  Completed courses
    POST   /api/me/courses/{id}/complete    Award a course once
    GET    /api/me/stickers                 Stickers and unlocks
    GET    /api/me/redemptions              Own redemptions
    POST   /api/me/redemptions              Redeem a reward

  Reporting:
    GET    /api/leaderboard?limit=          Top users by points
    GET    /api/leaderboard/friends         Always empty

  Admin (role "admin" required):
    POST   /api/admin/stickers                          Grant sticker
    GET    /api/admin/redemptions                       All redemptions
    PATCH  /api/admin/redemptions/{email}/{rewardId}    Set status
    POST   /api/admin/adjustments                       Overwrite a balance

ERROR HANDLING:
  Service errors map to status codes in statusFor:
  - 400: validation, missing identifier, rejected path
  - 401: not logged in, wrong password
  - 403: not an admin
  - 404: unknown account or user
  - 409: account already exists
  - 502: record store failure
  - 500: anything else

SEE ALSO:
  - dto.go:     Request/response data structures
  - server.go:  Router setup and middleware
  - session.go: Session middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/warp/points-engine/account"
	"github.com/warp/points-engine/admin"
	"github.com/warp/points-engine/errs"
	"github.com/warp/points-engine/ledger"
	"github.com/warp/points-engine/record"
	"github.com/warp/points-engine/redemption"
	"github.com/warp/points-engine/reporting"
	"github.com/warp/points-engine/session"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Accounts    *account.Service
	Ledger      *ledger.Service
	Redemptions *redemption.Service
	Admin       *admin.Gateway
	Reports     *reporting.Views
	Log         *zap.Logger
}

// NewHandler wires the services and builds the admin gateway over them.
func NewHandler(accounts *account.Service, l *ledger.Service, r *redemption.Service, views *reporting.Views, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		Accounts:    accounts,
		Ledger:      l,
		Redemptions: r,
		Admin:       admin.New(accounts, l, r, log),
		Reports:     views,
		Log:         log,
	}
}

// =============================================================================
// AUTH HANDLERS
// =============================================================================

// SignUp creates an account and logs the session in.
func (h *Handler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req SignUpRequest
	if !decode(w, r, &req) {
		return
	}
	id, err := h.Accounts.SignUp(r.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, id)
}

// LogIn logs the session in.
func (h *Handler) LogIn(w http.ResponseWriter, r *http.Request) {
	var req LogInRequest
	if !decode(w, r, &req) {
		return
	}
	id, err := h.Accounts.LogIn(r.Context(), req.Email, req.Password)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, id)
}

// LogOut clears the session. With ?redirect=<local path> it answers 303
// to that path, the way the nav bar's logout control navigates away.
func (h *Handler) LogOut(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("redirect")
	if target != "" && !localPath(target) {
		writeError(w, http.StatusBadRequest, "Redirect must be a local path starting with /", nil)
		return
	}
	if err := h.Accounts.LogOut(r.Context()); err != nil {
		h.fail(w, r, err)
		return
	}
	if target != "" {
		w.Header().Set("Location", target)
		w.WriteHeader(http.StatusSeeOther)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// localPath accepts "/x" but not "//host" or anything with a backslash,
// which browsers treat as a scheme-relative URL.
func localPath(target string) bool {
	if !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") {
		return false
	}
	if strings.ContainsAny(target, "\\\x00\r\n") {
		return false
	}
	u, err := url.Parse(target)
	return err == nil && !u.IsAbs() && u.Host == ""
}

// AuthStatus reports whether the session is logged in and as whom.
func (h *Handler) AuthStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	email := session.CurrentEmail(ctx)
	writeJSON(w, http.StatusOK, AuthStatusDTO{
		Authenticated: email != "",
		Email:         email,
		Admin:         email != "" && h.Accounts.IsAdmin(ctx),
	})
}

// =============================================================================
// CURRENT USER HANDLERS
// =============================================================================

// EnsureAccount repairs the current user's record.
func (h *Handler) EnsureAccount(w http.ResponseWriter, r *http.Request) {
	if err := h.Accounts.EnsureAccountExists(r.Context()); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetProfile returns the current user's profile or null.
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	p, err := h.Accounts.Profile(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// GetPoints returns the balance.
func (h *Handler) GetPoints(w http.ResponseWriter, r *http.Request) {
	n, err := h.Ledger.Balance(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceDTO{Points: n})
}

// SetPoints overwrites the balance.
func (h *Handler) SetPoints(w http.ResponseWriter, r *http.Request) {
	var req SetPointsRequest
	if !decode(w, r, &req) {
		return
	}
	n, err := h.Ledger.SetBalance(r.Context(), req.Points)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceDTO{Points: n})
}

// AddPoints adds to the balance and records history.
func (h *Handler) AddPoints(w http.ResponseWriter, r *http.Request) {
	var req AddPointsRequest
	if !decode(w, r, &req) {
		return
	}
	n, err := h.Ledger.AddPoints(r.Context(), req.Delta, req.Meta)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceDTO{Points: n})
}

// GetHistory returns the points history.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Ledger.History(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// GetCourses returns completed courses.
func (h *Handler) GetCourses(w http.ResponseWriter, r *http.Request) {
	courses, err := h.Ledger.Courses(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, courses)
}

// CompleteCourse awards a course the first time it is completed.
func (h *Handler) CompleteCourse(w http.ResponseWriter, r *http.Request) {
	var req CompleteCourseRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.Ledger.AwardCourseOnce(r.Context(), pathParam(r, "courseId"), req.CourseName, req.Points)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GetStickers returns stickers and unlock flags.
func (h *Handler) GetStickers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	stickers, err := h.Ledger.Stickers(ctx)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	unlocks, err := h.Ledger.Unlocks(ctx)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, StickersDTO{Stickers: stickers, Unlocks: unlocks})
}

// ListRedemptions returns the current user's redemptions.
func (h *Handler) ListRedemptions(w http.ResponseWriter, r *http.Request) {
	all, err := h.Redemptions.List(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, all)
}

// Redeem records a redemption. It does not deduct points.
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	var req RedeemRequest
	if !decode(w, r, &req) {
		return
	}
	rec, err := h.Redemptions.Redeem(r.Context(), req.RewardID, req.Cost, req.RewardName)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// =============================================================================
// REPORTING HANDLERS
// =============================================================================

// Leaderboard returns the top users by points.
func (h *Handler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	rows, err := h.Reports.Leaderboard(r.Context(), queryLimit(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// FriendsLeaderboard is always empty.
func (h *Handler) FriendsLeaderboard(w http.ResponseWriter, r *http.Request) {
	rows, err := h.Reports.FriendsLeaderboard(r.Context(), queryLimit(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// GrantSticker records a sticker for another user.
func (h *Handler) GrantSticker(w http.ResponseWriter, r *http.Request) {
	var req GrantStickerRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.Admin.GrantStickerToUser(r.Context(), req.Email, req.StickerID, req.EventName)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ListAllRedemptions returns every user's redemptions.
func (h *Handler) ListAllRedemptions(w http.ResponseWriter, r *http.Request) {
	rows, err := h.Admin.ListAllRedemptions(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// UpdateRedemptionStatus sets SENT / NOT_SENT on one redemption.
func (h *Handler) UpdateRedemptionStatus(w http.ResponseWriter, r *http.Request) {
	var req UpdateStatusRequest
	if !decode(w, r, &req) {
		return
	}
	status, err := h.Admin.UpdateRedemptionStatus(r.Context(),
		pathParam(r, "email"), pathParam(r, "rewardId"), req.Status)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, StatusDTO{Status: string(status)})
}

// CreateAdjustment overwrites another user's balance.
func (h *Handler) CreateAdjustment(w http.ResponseWriter, r *http.Request) {
	var req AdjustmentRequest
	if !decode(w, r, &req) {
		return
	}
	n, err := h.Admin.AdjustBalance(r.Context(), req.Email, req.Points)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceDTO{Points: n})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// fail maps a service error to its status and writes it.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= 500 {
		h.Log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err))
	}
	switch status {
	case http.StatusBadGateway:
		writeError(w, status, "Database request failed", err)
	case http.StatusInternalServerError:
		writeError(w, status, "Internal error", err)
	default:
		writeError(w, status, err.Error(), nil)
	}
}

func statusFor(err error) int {
	var readErr *record.ReadError
	var writeErr *record.WriteError
	switch {
	case errs.IsClientError(err):
		return http.StatusBadRequest
	case errors.Is(err, errs.ErrNotAuthenticated), errors.Is(err, errs.ErrInvalidCredential):
		return http.StatusUnauthorized
	case errors.Is(err, errs.ErrAccessDenied):
		return http.StatusForbidden
	case errs.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, errs.ErrAccountExists):
		return http.StatusConflict
	case errors.As(err, &readErr) && readErr.Status == http.StatusBadRequest,
		errors.As(err, &writeErr) && writeErr.Status == http.StatusBadRequest:
		return http.StatusBadRequest
	case errors.Is(err, record.ErrStoreRead), errors.Is(err, record.ErrStoreWrite):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// decode reads a JSON body into v. An empty body leaves v zero.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return true
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

func pathParam(r *http.Request, name string) string {
	v := chi.URLParam(r, name)
	if unescaped, err := url.PathUnescape(v); err == nil {
		return unescaped
	}
	return v
}

func queryLimit(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil {
		return 0
	}
	return n
}
