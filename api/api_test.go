package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/points-engine/account"
	"github.com/warp/points-engine/errs"
	"github.com/warp/points-engine/ledger"
	"github.com/warp/points-engine/record"
	"github.com/warp/points-engine/record/memory"
	"github.com/warp/points-engine/redemption"
	"github.com/warp/points-engine/reporting"
	"github.com/warp/points-engine/session"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

func newTestServer(t *testing.T) (http.Handler, *memory.Memory) {
	t.Helper()
	store := memory.New()
	h := NewHandler(
		account.New(store, account.Options{}),
		ledger.New(store, ledger.Options{}),
		redemption.New(store, redemption.Options{}),
		reporting.New(store, nil),
		nil,
	)
	router := NewRouter(h, RouterOptions{Session: SessionOptions{Slots: session.NewMemorySlots()}})
	return router, store
}

// client plays one browser: it keeps the session token between calls.
type client struct {
	t     *testing.T
	h     http.Handler
	token string
}

func (c *client) do(method, path string, body any) *httptest.ResponseRecorder {
	c.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(c.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set(SessionHeader, c.token)
	}
	rec := httptest.NewRecorder()
	c.h.ServeHTTP(rec, req)
	if tok := rec.Header().Get(SessionHeader); tok != "" {
		c.token = tok
	}
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func signUp(t *testing.T, h http.Handler, email string) *client {
	t.Helper()
	c := &client{t: t, h: h}
	rec := c.do(http.MethodPost, "/api/auth/signup", SignUpRequest{Email: email, Password: "pass1234"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return c
}

// =============================================================================
// AUTH
// =============================================================================

func TestAuthFlow(t *testing.T) {
	h, _ := newTestServer(t)
	c := &client{t: t, h: h}

	// GIVEN: a fresh browser
	status := decodeBody[AuthStatusDTO](t, c.do(http.MethodGet, "/api/auth/status", nil))
	assert.False(t, status.Authenticated)
	assert.NotEmpty(t, c.token)

	// WHEN: signing up
	rec := c.do(http.MethodPost, "/api/auth/signup", SignUpRequest{Email: "A@B.com", Password: "pass1234"})
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decodeBody[account.Identity](t, rec)
	assert.Equal(t, "a@b,com", id.Key)

	// THEN: the same browser is logged in
	status = decodeBody[AuthStatusDTO](t, c.do(http.MethodGet, "/api/auth/status", nil))
	assert.True(t, status.Authenticated)
	assert.Equal(t, "A@B.com", status.Email)
	assert.False(t, status.Admin)

	// AND: another browser is not
	other := &client{t: t, h: h}
	status = decodeBody[AuthStatusDTO](t, other.do(http.MethodGet, "/api/auth/status", nil))
	assert.False(t, status.Authenticated)

	// WHEN: logging out
	rec = c.do(http.MethodPost, "/api/auth/logout", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	status = decodeBody[AuthStatusDTO](t, c.do(http.MethodGet, "/api/auth/status", nil))
	assert.False(t, status.Authenticated)

	// AND: logging back in
	rec = c.do(http.MethodPost, "/api/auth/login", LogInRequest{Email: "a@b.com", Password: "pass1234"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthErrors(t *testing.T) {
	h, _ := newTestServer(t)
	signUp(t, h, "a@b.com")
	c := &client{t: t, h: h}

	tests := []struct {
		name   string
		path   string
		body   any
		status int
	}{
		{"short password", "/api/auth/signup", SignUpRequest{Email: "x@b.com", Password: "abc"}, http.StatusBadRequest},
		{"duplicate", "/api/auth/signup", SignUpRequest{Email: "a@b.com", Password: "pass1234"}, http.StatusConflict},
		{"wrong password", "/api/auth/login", LogInRequest{Email: "a@b.com", Password: "nope"}, http.StatusUnauthorized},
		{"unknown", "/api/auth/login", LogInRequest{Email: "nouser@x.com", Password: "x"}, http.StatusNotFound},
		{"bad json", "/api/auth/login", "not an object", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := c.do(http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decodeBody[ErrorResponse](t, rec).Error)
		})
	}
}

func TestLogOut_Redirect(t *testing.T) {
	h, _ := newTestServer(t)
	c := signUp(t, h, "a@b.com")

	rejected := []string{
		"https://evil.example",
		"//evil.example",
		"/\\evil.example",
		"\\\\evil.example",
		"/ok\\..\\evil",
		"login.html",
		"javascript:alert(1)",
	}
	for _, target := range rejected {
		rec := c.do(http.MethodPost, "/api/auth/logout?redirect="+url.QueryEscape(target), nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}

	// A rejected redirect leaves the session logged in.
	rec := c.do(http.MethodGet, "/api/auth/status", nil)
	assert.Equal(t, "a@b.com", decodeBody[AuthStatusDTO](t, rec).Email)

	rec = c.do(http.MethodPost, "/api/auth/logout?redirect="+url.QueryEscape("/login.html"), nil)
	assert.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/login.html", rec.Header().Get("Location"))
}

func TestLocalPath(t *testing.T) {
	assert.True(t, localPath("/"))
	assert.True(t, localPath("/login.html?next=/me"))
	assert.False(t, localPath(""))
	assert.False(t, localPath("//evil.example"))
	assert.False(t, localPath("/\\evil.example"))
	assert.False(t, localPath("\\\\evil.example"))
}

func TestSessionCookie(t *testing.T) {
	h, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/auth/status", nil))

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, SessionCookie, cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)

	// A garbage token is replaced rather than used as a key.
	req := httptest.NewRequest(http.MethodGet, "/api/auth/status", nil)
	req.Header.Set(SessionHeader, "../../etc")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.NotEqual(t, "../../etc", rec.Header().Get(SessionHeader))
}

func TestAnonymousRequestsHoldNoSessions(t *testing.T) {
	// GIVEN: a router backed by in-memory slots
	slots := session.NewMemorySlots()
	store := memory.New()
	h := NewHandler(
		account.New(store, account.Options{}),
		ledger.New(store, ledger.Options{}),
		redemption.New(store, redemption.Options{}),
		reporting.New(store, nil),
		nil,
	)
	router := NewRouter(h, RouterOptions{Session: SessionOptions{Slots: slots}})

	// WHEN: many cookie-less requests arrive
	for i := 0; i < 50; i++ {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/auth/status", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		rec = httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/me/points", nil))
	}

	// THEN: no slot was allocated
	assert.Equal(t, 0, slots.Len())

	// AND: a login allocates one, a logout releases it
	c := &client{t: t, h: router}
	rec := c.do(http.MethodPost, "/api/auth/signup", SignUpRequest{Email: "a@b.com", Password: "pass1234"})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, 1, slots.Len())
	c.do(http.MethodPost, "/api/auth/logout", nil)
	assert.Equal(t, 0, slots.Len())
}

// =============================================================================
// POINTS
// =============================================================================

func TestPointsEndpoints(t *testing.T) {
	h, _ := newTestServer(t)
	c := signUp(t, h, "a@b.com")

	bal := decodeBody[BalanceDTO](t, c.do(http.MethodGet, "/api/me/points", nil))
	assert.Equal(t, int64(50), bal.Points)

	// Numeric strings are accepted.
	rec := c.do(http.MethodPost, "/api/me/points/add", map[string]any{"delta": "10", "meta": map[string]any{"source": "quiz"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, int64(60), decodeBody[BalanceDTO](t, rec).Points)

	rec = c.do(http.MethodPost, "/api/me/points/add", map[string]any{"delta": 10})
	assert.Equal(t, int64(70), decodeBody[BalanceDTO](t, rec).Points)

	history := decodeBody[[]ledger.HistoryEntry](t, c.do(http.MethodGet, "/api/me/history", nil))
	require.Len(t, history, 2)
	assert.Equal(t, int64(60), history[0].After)
	assert.Equal(t, int64(70), history[1].After)

	rec = c.do(http.MethodPut, "/api/me/points", map[string]any{"points": -4})
	assert.Equal(t, int64(0), decodeBody[BalanceDTO](t, rec).Points)
}

func TestMeRequiresLogin(t *testing.T) {
	h, _ := newTestServer(t)
	c := &client{t: t, h: h}

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/me/points"},
		{http.MethodGet, "/api/me/profile"},
		{http.MethodPost, "/api/me/ensure"},
		{http.MethodGet, "/api/me/redemptions"},
		{http.MethodPost, "/api/me/courses/c1/complete"},
	} {
		rec := c.do(tc.method, tc.path, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, tc.path)
	}
}

func TestCourseAward(t *testing.T) {
	h, _ := newTestServer(t)
	c := signUp(t, h, "a@b.com")

	body := CompleteCourseRequest{CourseName: "Intro", Points: decimal.NewFromInt(25)}

	res := decodeBody[ledger.AwardResult](t, c.do(http.MethodPost, "/api/me/courses/c1/complete", body))
	assert.Equal(t, ledger.AwardResult{Awarded: true, Total: 75}, res)

	res = decodeBody[ledger.AwardResult](t, c.do(http.MethodPost, "/api/me/courses/c1/complete", body))
	assert.Equal(t, ledger.AwardResult{Awarded: false, Total: 75}, res)

	courses := decodeBody[map[string]ledger.CourseCompletion](t, c.do(http.MethodGet, "/api/me/courses", nil))
	assert.Equal(t, "Intro", courses["c1"].CourseName)

	// Path segments the store forbids are a client error.
	rec := c.do(http.MethodPost, "/api/me/courses/bad.id/complete", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProfileAndEnsure(t *testing.T) {
	h, _ := newTestServer(t)
	c := signUp(t, h, "a@b.com")

	rec := c.do(http.MethodPost, "/api/me/ensure", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	p := decodeBody[account.Profile](t, c.do(http.MethodGet, "/api/me/profile", nil))
	assert.Equal(t, "a", p.Name)
	assert.Equal(t, "user", p.Role)
}

// =============================================================================
// REDEMPTIONS / ADMIN
// =============================================================================

func TestRedeemAndAdminFlow(t *testing.T) {
	h, store := newTestServer(t)
	user := signUp(t, h, "a@b.com")
	boss := signUp(t, h, "boss@b.com")
	_, err := store.Patch(context.Background(), "users/boss@b,com/profile", map[string]any{"role": "admin"})
	require.NoError(t, err)

	// User redeems; balance is untouched.
	rec := user.do(http.MethodPost, "/api/me/redemptions", map[string]any{"reward_id": "mug", "cost": 30, "reward_name": "Mug"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, redemption.StatusNotSent, decodeBody[redemption.Record](t, rec).Status)
	assert.Equal(t, int64(50), decodeBody[BalanceDTO](t, user.do(http.MethodGet, "/api/me/points", nil)).Points)

	mine := decodeBody[map[string]redemption.Record](t, user.do(http.MethodGet, "/api/me/redemptions", nil))
	assert.Contains(t, mine, "mug")

	// Regular users are refused admin routes.
	rec = user.do(http.MethodGet, "/api/admin/redemptions", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Admin sees it and marks it sent.
	status := decodeBody[AuthStatusDTO](t, boss.do(http.MethodGet, "/api/auth/status", nil))
	assert.True(t, status.Admin)

	rows := decodeBody[[]redemption.Row](t, boss.do(http.MethodGet, "/api/admin/redemptions", nil))
	require.Len(t, rows, 1)
	assert.Equal(t, "a@b.com", rows[0].Email)

	rec = boss.do(http.MethodPatch, "/api/admin/redemptions/a@b.com/mug", UpdateStatusRequest{Status: "SENT"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "SENT", decodeBody[StatusDTO](t, rec).Status)

	// Sticker grant credits the user.
	rec = boss.do(http.MethodPost, "/api/admin/stickers", GrantStickerRequest{Email: "a@b.com", StickerID: "s1", EventName: "Launch"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, int64(60), decodeBody[ledger.StickerResult](t, rec).Total)

	stickers := decodeBody[StickersDTO](t, user.do(http.MethodGet, "/api/me/stickers", nil))
	assert.Len(t, stickers.Stickers, 1)
	assert.False(t, stickers.Unlocks.Certificate)

	rec = boss.do(http.MethodPost, "/api/admin/stickers", GrantStickerRequest{Email: "ghost@b.com", StickerID: "s1"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Adjustment.
	rec = boss.do(http.MethodPost, "/api/admin/adjustments", map[string]any{"email": "a@b.com", "points": 5})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, int64(5), decodeBody[BalanceDTO](t, user.do(http.MethodGet, "/api/me/points", nil)).Points)
}

// =============================================================================
// REPORTING
// =============================================================================

func TestLeaderboard(t *testing.T) {
	h, store := newTestServer(t)
	a := signUp(t, h, "a@b.com")
	signUp(t, h, "b@b.com")
	_, err := store.Put(context.Background(), "users/b@b,com/points", 90)
	require.NoError(t, err)

	rows := decodeBody[[]reporting.Row](t, a.do(http.MethodGet, "/api/leaderboard?limit=1", nil))
	require.Len(t, rows, 1)
	assert.Equal(t, reporting.Row{Name: "b", Points: 90}, rows[0])

	friends := decodeBody[[]reporting.Row](t, a.do(http.MethodGet, "/api/leaderboard/friends", nil))
	assert.Empty(t, friends)
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", errs.Invalid("email", "required"), http.StatusBadRequest},
		{"missing id", &errs.MissingIdentifierError{Name: "courseId"}, http.StatusBadRequest},
		{"not logged in", errs.ErrNotAuthenticated, http.StatusUnauthorized},
		{"wrong password", errs.ErrInvalidCredential, http.StatusUnauthorized},
		{"not admin", errs.ErrAccessDenied, http.StatusForbidden},
		{"no account", errs.ErrAccountNotFound, http.StatusNotFound},
		{"unknown user", errs.ErrUnknownUser, http.StatusNotFound},
		{"exists", errs.ErrAccountExists, http.StatusConflict},
		{"store read", &record.ReadError{Path: "users", Status: 500}, http.StatusBadGateway},
		{"store write", &record.WriteError{Op: "put", Path: "users", Status: 401}, http.StatusBadGateway},
		{"rejected path", &record.WriteError{Op: "put", Path: "a.b", Status: 400}, http.StatusBadRequest},
		{"no holder", session.ErrNoHolder, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

func TestHealthz(t *testing.T) {
	h, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
