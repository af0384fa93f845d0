package ledger_test

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/points-engine/errs"
	"github.com/warp/points-engine/ledger"
	"github.com/warp/points-engine/record"
	"github.com/warp/points-engine/record/memory"
	"github.com/warp/points-engine/session"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

const userKey = "a@b,com"

type clock struct{ t time.Time }

func (c *clock) now() time.Time {
	c.t = c.t.Add(time.Millisecond)
	return c.t
}

func newLedger(t *testing.T, store record.Store) *ledger.Service {
	t.Helper()
	c := &clock{t: time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)}
	return ledger.New(store, ledger.Options{Now: c.now})
}

func loggedIn(t *testing.T, email string) context.Context {
	t.Helper()
	h := session.NewHolder(&session.MemorySlot{}, nil)
	ctx := session.WithHolder(context.Background(), h)
	require.NoError(t, h.SetCurrent(ctx, email))
	return ctx
}

func anonymous() context.Context {
	return session.WithHolder(context.Background(), session.NewHolder(&session.MemorySlot{}, nil))
}

func seedPoints(t *testing.T, store record.Store, value any) {
	t.Helper()
	_, err := store.Put(context.Background(), "users/"+userKey+"/points", value)
	require.NoError(t, err)
}

func pts(n int64) decimal.Decimal { return decimal.NewFromInt(n) }

// failingStore fails writes whose path contains failOn.
type failingStore struct {
	record.Store
	failOn string
}

var errInjected = errors.New("injected")

func (f *failingStore) Put(ctx context.Context, path string, v any) (json.RawMessage, error) {
	if strings.Contains(path, f.failOn) {
		return nil, &record.WriteError{Op: "put", Path: path, Status: 503, Err: errInjected}
	}
	return f.Store.Put(ctx, path, v)
}

// interleavingStore runs next, once, between the first Get of a path
// ending in suffix and the return of that Get's (now stale) value.
type interleavingStore struct {
	record.Store
	suffix string
	next   func()
}

func (s *interleavingStore) Get(ctx context.Context, path string) (json.RawMessage, error) {
	raw, err := s.Store.Get(ctx, path)
	if s.next != nil && strings.HasSuffix(path, s.suffix) {
		next := s.next
		s.next = nil
		next()
	}
	return raw, err
}

// =============================================================================
// BALANCE
// =============================================================================

func TestBalance_NotLoggedIn(t *testing.T) {
	svc := newLedger(t, memory.New())

	_, err := svc.Balance(anonymous())
	assert.ErrorIs(t, err, errs.ErrNotAuthenticated)
	_, err = svc.AddPoints(context.Background(), pts(5), nil)
	assert.ErrorIs(t, err, errs.ErrNotAuthenticated)
	_, err = svc.SetBalance(anonymous(), pts(5))
	assert.ErrorIs(t, err, errs.ErrNotAuthenticated)
}

func TestBalance_ValidValues(t *testing.T) {
	tests := []struct {
		name   string
		stored any
		want   int64
	}{
		{"integer", 75, 75},
		{"fraction floors", 12.9, 12},
		{"zero", 0, 0},
		{"numeric string", " 42 ", 42},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.New()
			seedPoints(t, store, tt.stored)
			svc := newLedger(t, store)

			got, err := svc.Balance(loggedIn(t, "a@b.com"))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBalance_SelfHeals(t *testing.T) {
	tests := []struct {
		name   string
		stored any
	}{
		{"missing", nil},
		{"negative", -5},
		{"garbage string", "abc"},
		{"bool", true},
		{"object", map[string]any{"x": 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// GIVEN: an invalid stored balance
			store := memory.New()
			if tt.stored != nil {
				seedPoints(t, store, tt.stored)
			}
			svc := newLedger(t, store)
			ctx := loggedIn(t, "a@b.com")
			before := store.Writes()

			// WHEN: reading it twice
			first, err := svc.Balance(ctx)
			require.NoError(t, err)
			healed := store.Writes()
			second, err := svc.Balance(ctx)
			require.NoError(t, err)

			// THEN: the default is returned, written once, and stable
			assert.Equal(t, int64(50), first)
			assert.Equal(t, first, second)
			assert.Equal(t, before+1, healed)
			assert.Equal(t, healed, store.Writes())
		})
	}
}

func TestSetBalance_Clamps(t *testing.T) {
	store := memory.New()
	svc := newLedger(t, store)
	ctx := loggedIn(t, "a@b.com")

	got, err := svc.SetBalance(ctx, decimal.RequireFromString("-3"))
	require.NoError(t, err)
	assert.Equal(t, int64(0), got)

	got, err = svc.SetBalance(ctx, decimal.RequireFromString("19.99"))
	require.NoError(t, err)
	assert.Equal(t, int64(19), got)

	bal, err := svc.Balance(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(19), bal)
}

func TestBalance_OutOfRangeSelfHeals(t *testing.T) {
	// GIVEN: a stored balance larger than an int64
	store := memory.New()
	seedPoints(t, store, json.RawMessage("1e30"))
	svc := newLedger(t, store)

	// WHEN: reading the balance
	got, err := svc.Balance(loggedIn(t, "a@b.com"))

	// THEN: it is treated as invalid and reset to the default
	require.NoError(t, err)
	assert.Equal(t, int64(50), got)
	raw, err := store.Get(context.Background(), "users/"+userKey+"/points")
	require.NoError(t, err)
	assert.JSONEq(t, "50", string(raw))
}

func TestSetBalance_HugeValueSaturates(t *testing.T) {
	store := memory.New()
	svc := newLedger(t, store)

	got, err := svc.SetBalance(loggedIn(t, "a@b.com"), decimal.RequireFromString("1e19"))

	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), got)
	raw, err := store.Get(context.Background(), "users/"+userKey+"/points")
	require.NoError(t, err)
	assert.JSONEq(t, "9223372036854775807", string(raw))
}

// =============================================================================
// ADD POINTS
// =============================================================================

func TestAddPoints_TwoSequentialAdds(t *testing.T) {
	// GIVEN: a balance of 50
	store := memory.New()
	seedPoints(t, store, 50)
	svc := newLedger(t, store)
	ctx := loggedIn(t, "a@b.com")

	// WHEN: adding 10 twice
	first, err := svc.AddPoints(ctx, pts(10), ledger.Metadata{"source": "test"})
	require.NoError(t, err)
	second, err := svc.AddPoints(ctx, pts(10), nil)
	require.NoError(t, err)

	// THEN: 60 then 70, with one history entry each
	assert.Equal(t, int64(60), first)
	assert.Equal(t, int64(70), second)

	history, err := svc.History(ctx)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, int64(10), history[0].Delta)
	assert.Equal(t, int64(60), history[0].After)
	assert.Equal(t, "test", history[0].Meta["source"])
	assert.Equal(t, int64(70), history[1].After)
	assert.NotEqual(t, history[0].ID, history[1].ID)
	assert.Regexp(t, `^\d+_[0-9a-f]{12}$`, history[0].ID)
}

func TestAddPoints_NonPositiveIsNoOp(t *testing.T) {
	for _, delta := range []string{"0", "-10", "0.9"} {
		t.Run(delta, func(t *testing.T) {
			store := memory.New()
			seedPoints(t, store, 50)
			svc := newLedger(t, store)
			ctx := loggedIn(t, "a@b.com")
			writes := store.Writes()

			got, err := svc.AddPoints(ctx, decimal.RequireFromString(delta), nil)
			require.NoError(t, err)

			assert.Equal(t, int64(50), got)
			assert.Equal(t, writes, store.Writes())
			history, err := svc.History(ctx)
			require.NoError(t, err)
			assert.Empty(t, history)
		})
	}
}

func TestAddPoints_FloorsDelta(t *testing.T) {
	store := memory.New()
	seedPoints(t, store, 50)
	svc := newLedger(t, store)

	got, err := svc.AddPoints(loggedIn(t, "a@b.com"), decimal.RequireFromString("7.8"), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(57), got)
}

func TestAddPoints_SaturatesInsteadOfWrapping(t *testing.T) {
	// GIVEN: a balance just below the int64 limit
	store := memory.New()
	seedPoints(t, store, int64(math.MaxInt64-7))
	svc := newLedger(t, store)
	ctx := loggedIn(t, "a@b.com")

	// WHEN: adding 100
	got, err := svc.AddPoints(ctx, pts(100), nil)

	// THEN: the balance stops at the limit and never turns negative
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), got)
	bal, err := svc.Balance(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), bal)
}

func TestAddPoints_NoRollbackWhenHistoryFails(t *testing.T) {
	// GIVEN: a store that rejects history writes
	mem := memory.New()
	seedPoints(t, mem, 50)
	svc := newLedger(t, &failingStore{Store: mem, failOn: "pointsHistory"})
	ctx := loggedIn(t, "a@b.com")

	// WHEN: adding points
	_, err := svc.AddPoints(ctx, pts(10), nil)

	// THEN: the error surfaces and the balance write stays
	require.Error(t, err)
	assert.ErrorIs(t, err, record.ErrStoreWrite)
	assert.ErrorIs(t, err, errInjected)

	bal, err := newLedger(t, mem).Balance(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(60), bal)
}

// =============================================================================
// COURSE AWARDS
// =============================================================================

func TestAwardCourseOnce(t *testing.T) {
	store := memory.New()
	seedPoints(t, store, 50)
	svc := newLedger(t, store)
	ctx := loggedIn(t, "a@b.com")

	// WHEN: completing a course twice
	first, err := svc.AwardCourseOnce(ctx, " c1 ", "", pts(25))
	require.NoError(t, err)
	second, err := svc.AwardCourseOnce(ctx, "c1", "Intro", pts(25))
	require.NoError(t, err)

	// THEN: points are credited once
	assert.Equal(t, ledger.AwardResult{Awarded: true, Total: 75}, first)
	assert.Equal(t, ledger.AwardResult{Awarded: false, Total: 75}, second)

	courses, err := svc.Courses(ctx)
	require.NoError(t, err)
	require.Contains(t, courses, "c1")
	assert.True(t, courses["c1"].Completed)
	assert.Equal(t, "c1", courses["c1"].CourseName)
	assert.Equal(t, int64(25), courses["c1"].Points)

	history, err := svc.History(ctx)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, ledger.SourceCourse, history[0].Meta["source"])
	assert.Equal(t, "c1", history[0].Meta["courseId"])
}

func TestAwardCourseOnce_Errors(t *testing.T) {
	svc := newLedger(t, memory.New())

	_, err := svc.AwardCourseOnce(anonymous(), "c1", "", pts(5))
	assert.ErrorIs(t, err, errs.ErrNotAuthenticated)

	_, err = svc.AwardCourseOnce(loggedIn(t, "a@b.com"), "   ", "", pts(5))
	assert.ErrorIs(t, err, errs.ErrMissingIdentifier)
}

func TestAwardCourseOnce_ZeroPointsStillMarksCompletion(t *testing.T) {
	store := memory.New()
	seedPoints(t, store, 50)
	svc := newLedger(t, store)
	ctx := loggedIn(t, "a@b.com")

	res, err := svc.AwardCourseOnce(ctx, "free", "Free course", pts(0))
	require.NoError(t, err)
	assert.Equal(t, ledger.AwardResult{Awarded: true, Total: 50}, res)

	res, err = svc.AwardCourseOnce(ctx, "free", "Free course", pts(0))
	require.NoError(t, err)
	assert.False(t, res.Awarded)
}

func TestAddPoints_ConcurrentWritersLoseAnUpdate(t *testing.T) {
	// GIVEN: a balance of 50 and a second writer that lands between the
	// first writer's balance read and its write
	mem := memory.New()
	seedPoints(t, mem, 50)
	store := &interleavingStore{Store: mem, suffix: "/points"}
	svc := newLedger(t, store)
	ctx := loggedIn(t, "a@b.com")
	store.next = func() {
		total, err := svc.AddPoints(ctx, pts(10), nil)
		require.NoError(t, err)
		assert.Equal(t, int64(60), total)
	}

	// WHEN
	total, err := svc.AddPoints(ctx, pts(10), nil)

	// THEN: last write wins; one credit is lost but both are logged
	require.NoError(t, err)
	assert.Equal(t, int64(60), total)
	balance, err := svc.Balance(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(60), balance)
	history, err := svc.History(ctx)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestAwardCourseOnce_ConcurrentAwardsBothCredit(t *testing.T) {
	// GIVEN: a second award of the same course that runs between the
	// first award's completion check and its credit
	mem := memory.New()
	seedPoints(t, mem, 50)
	store := &interleavingStore{Store: mem, suffix: "/coursesCompleted/c1"}
	svc := newLedger(t, store)
	ctx := loggedIn(t, "a@b.com")
	store.next = func() {
		res, err := svc.AwardCourseOnce(ctx, "c1", "Intro", pts(10))
		require.NoError(t, err)
		assert.Equal(t, ledger.AwardResult{Awarded: true, Total: 60}, res)
	}

	// WHEN
	res, err := svc.AwardCourseOnce(ctx, "c1", "Intro", pts(10))

	// THEN: both saw the course as new, so it is credited twice
	require.NoError(t, err)
	assert.Equal(t, ledger.AwardResult{Awarded: true, Total: 70}, res)
	history, err := svc.History(ctx)
	require.NoError(t, err)
	assert.Len(t, history, 2)

	// AND: a later, sequential award is refused
	res, err = svc.AwardCourseOnce(ctx, "c1", "Intro", pts(10))
	require.NoError(t, err)
	assert.Equal(t, ledger.AwardResult{Awarded: false, Total: 70}, res)
}

// =============================================================================
// STICKERS
// =============================================================================

func TestRecordSticker_DuplicateIsIdempotent(t *testing.T) {
	store := memory.New()
	seedPoints(t, store, 50)
	svc := newLedger(t, store)
	ctx := context.Background()

	first, err := svc.RecordSticker(ctx, userKey, "s1", "Launch", "boss@b.com")
	require.NoError(t, err)
	assert.Equal(t, ledger.StickerResult{OK: true, Count: 1, Total: 60}, first)
	writes := store.Writes()

	second, err := svc.RecordSticker(ctx, userKey, "s1", "Launch", "boss@b.com")
	require.NoError(t, err)
	assert.Equal(t, ledger.StickerResult{OK: true, Duplicate: true}, second)
	assert.Equal(t, writes, store.Writes())

	bal, err := svc.BalanceOf(ctx, userKey)
	require.NoError(t, err)
	assert.Equal(t, int64(60), bal)
}

func TestRecordSticker_Thresholds(t *testing.T) {
	// GIVEN: a user collecting stickers one by one
	store := memory.New()
	seedPoints(t, store, 50)
	svc := newLedger(t, store)
	ctx := loggedIn(t, "a@b.com")

	var last ledger.StickerResult
	for i, id := range []string{"s1", "s2", "s3"} {
		res, err := svc.RecordSticker(ctx, userKey, id, "Event", "boss@b.com")
		require.NoError(t, err)
		assert.Equal(t, i+1, res.Count)
		last = res
	}

	// THEN: three stickers unlock the certificate only
	assert.Equal(t, []string{ledger.UnlockCertificate}, last.Unlocked)
	unlocks, err := svc.Unlocks(ctx)
	require.NoError(t, err)
	assert.Equal(t, ledger.Unlocks{Certificate: true}, unlocks)

	// WHEN: the fourth arrives
	res, err := svc.RecordSticker(ctx, userKey, "s4", "Event", "boss@b.com")
	require.NoError(t, err)

	// THEN: both flags are set and 40 points were credited in total
	assert.Equal(t, []string{ledger.UnlockAllCollected, ledger.UnlockCertificate}, res.Unlocked)
	assert.Equal(t, int64(90), res.Total)
	unlocks, err = svc.Unlocks(ctx)
	require.NoError(t, err)
	assert.Equal(t, ledger.Unlocks{Certificate: true, AllCollected: true}, unlocks)

	stickers, err := svc.Stickers(ctx)
	require.NoError(t, err)
	assert.Len(t, stickers, 4)
	assert.Equal(t, "boss@b.com", stickers["s4"].VerifiedBy)

	history, err := svc.History(ctx)
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, ledger.SourceSticker, history[3].Meta["source"])
	assert.Equal(t, "s4", history[3].Meta["stickerId"])
}

func TestRecordSticker_JumpStraightToFour(t *testing.T) {
	// GIVEN: three stickers already present without unlocks
	store := memory.New()
	seedPoints(t, store, 50)
	_, err := store.Put(context.Background(), "users/"+userKey+"/stickers", map[string]any{
		"a": map[string]any{"collectedAt": 1},
		"b": map[string]any{"collectedAt": 1},
		"c": map[string]any{"collectedAt": 1},
	})
	require.NoError(t, err)
	svc := newLedger(t, store)

	// WHEN
	res, err := svc.RecordSticker(context.Background(), userKey, "d", "", "boss@b.com")

	// THEN: both thresholds fire in one call
	require.NoError(t, err)
	assert.Equal(t, 4, res.Count)
	assert.Len(t, res.Unlocked, 2)
}

func TestRecordSticker_Validation(t *testing.T) {
	svc := newLedger(t, memory.New())
	_, err := svc.RecordSticker(context.Background(), "", "s1", "", "boss@b.com")
	assert.ErrorIs(t, err, errs.ErrValidation)
	_, err = svc.RecordSticker(context.Background(), userKey, "  ", "", "boss@b.com")
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestRecordSticker_CustomAward(t *testing.T) {
	store := memory.New()
	seedPoints(t, store, 50)
	svc := ledger.New(store, ledger.Options{StickerAward: 25})

	res, err := svc.RecordSticker(context.Background(), userKey, "s1", "", "boss@b.com")
	require.NoError(t, err)
	assert.Equal(t, int64(75), res.Total)
}
