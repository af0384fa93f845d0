/*
ledger.go - Points balance, history and one-time awards

PURPOSE:
  Keeps users/<key>/points and its audit trail. Awards that must happen
  at most once (course completion, sticker collection) are guarded by a
  marker written next to the balance.

BALANCE INVARIANT:
  points is always floor(max(0, value)). A missing, non-numeric or
  negative balance is not an error: Balance writes the default and
  returns it. The next read finds a valid value and writes nothing.

NOT ATOMIC:
  AddPoints reads the balance, writes balance+delta and then appends a
  history entry: three round trips with nothing held in between.

    session A: read 50 ──────────── write 60
    session B:        read 50 ──────────── write 60   (A's +10 is lost)

  The store offers no conditional write, so this is the documented
  behavior. If a later step fails, earlier writes stay (balance updated,
  history entry missing) and the error is returned unchanged.

AWARD STATE:
  Each course id or sticker id goes Unverified -> Recorded exactly once.
  The check and the marker write are separate calls, so two concurrent
  awards for the same id can both pass the check.

SEE ALSO:
  - points.go: balance parsing and clamping
  - admin/:    the role-gated sticker grant that calls RecordSticker
*/
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/points-engine/account"
	"github.com/warp/points-engine/errs"
	"github.com/warp/points-engine/record"
	"github.com/warp/points-engine/session"
)

// Options configures a Service. Zero values pick the defaults.
type Options struct {
	DefaultPoints int64
	StickerAward  int64
	Logger        *zap.Logger
	Now           func() time.Time
}

// Service implements the points ledger over a record.Store.
type Service struct {
	store         record.Store
	defaultPoints int64
	stickerAward  int64
	log           *zap.Logger
	now           func() time.Time
}

func New(store record.Store, opts Options) *Service {
	s := &Service{
		store:         store,
		defaultPoints: opts.DefaultPoints,
		stickerAward:  opts.StickerAward,
		log:           opts.Logger,
		now:           opts.Now,
	}
	if s.defaultPoints <= 0 {
		s.defaultPoints = account.DefaultPoints
	}
	if s.stickerAward <= 0 {
		s.stickerAward = DefaultStickerAward
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// =============================================================================
// BALANCE
// =============================================================================

// Balance returns the current user's balance, healing an invalid one.
func (s *Service) Balance(ctx context.Context) (int64, error) {
	_, key, err := session.RequireKey(ctx)
	if err != nil {
		return 0, err
	}
	return s.BalanceOf(ctx, key)
}

// BalanceOf is Balance for an arbitrary key.
func (s *Service) BalanceOf(ctx context.Context, key string) (int64, error) {
	raw, err := s.store.Get(ctx, account.UserPath(key, "points"))
	if err != nil {
		return 0, err
	}
	if v, ok := ParsePoints(raw); ok && InRange(v) {
		return v.Floor().IntPart(), nil
	}

	s.log.Warn("invalid balance reset to default",
		zap.String("key", key),
		zap.ByteString("stored", raw),
		zap.Int64("default", s.defaultPoints))
	if _, err := s.store.Put(ctx, account.UserPath(key, "points"), s.defaultPoints); err != nil {
		return 0, err
	}
	return s.defaultPoints, nil
}

// SetBalance overwrites the current user's balance with floor(max(0, value)).
// There is no check against a previous read.
func (s *Service) SetBalance(ctx context.Context, value decimal.Decimal) (int64, error) {
	_, key, err := session.RequireKey(ctx)
	if err != nil {
		return 0, err
	}
	return s.SetBalanceOf(ctx, key, value)
}

// SetBalanceOf is SetBalance for an arbitrary key.
func (s *Service) SetBalanceOf(ctx context.Context, key string, value decimal.Decimal) (int64, error) {
	safe := Clamp(value)
	if _, err := s.store.Put(ctx, account.UserPath(key, "points"), safe); err != nil {
		return 0, err
	}
	return safe, nil
}

// AddPoints adds floor(max(0, delta)) and appends one history entry.
// A delta that clamps to zero changes nothing and returns the balance.
func (s *Service) AddPoints(ctx context.Context, delta decimal.Decimal, meta Metadata) (int64, error) {
	_, key, err := session.RequireKey(ctx)
	if err != nil {
		return 0, err
	}
	return s.addPoints(ctx, key, delta, meta)
}

func (s *Service) addPoints(ctx context.Context, key string, delta decimal.Decimal, meta Metadata) (int64, error) {
	add := Clamp(delta)
	if add <= 0 {
		return s.BalanceOf(ctx, key)
	}

	current, err := s.BalanceOf(ctx, key)
	if err != nil {
		return 0, err
	}
	next := addSaturating(current, add)
	if _, err := s.store.Put(ctx, account.UserPath(key, "points"), next); err != nil {
		return 0, err
	}

	now := s.now()
	if meta == nil {
		meta = Metadata{}
	}
	entry := map[string]any{
		"delta": add,
		"after": next,
		"meta":  meta,
		"at":    now.UnixMilli(),
	}
	if _, err := s.store.Put(ctx, account.UserPath(key, "pointsHistory", newLogID(now)), entry); err != nil {
		return 0, fmt.Errorf("balance is %d but history was not written: %w", next, err)
	}
	return next, nil
}

// newLogID builds <unixMillis>_<random hex>. Unique within one session's
// sequential writes, not guaranteed across sessions.
func newLogID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("%d_%s", now.UnixMilli(), suffix[:12])
}

// =============================================================================
// ONE-TIME AWARDS
// =============================================================================

// AwardCourseOnce credits a course the first time it is completed.
func (s *Service) AwardCourseOnce(ctx context.Context, courseID, courseName string, points decimal.Decimal) (AwardResult, error) {
	_, key, err := session.RequireKey(ctx)
	if err != nil {
		return AwardResult{}, err
	}
	courseID = strings.TrimSpace(courseID)
	if courseID == "" {
		return AwardResult{}, &errs.MissingIdentifierError{Name: "courseId"}
	}

	var done CourseCompletion
	raw, err := s.store.Get(ctx, account.UserPath(key, "coursesCompleted", courseID))
	if err != nil {
		return AwardResult{}, err
	}
	if _, err := record.Decode(raw, &done); err != nil {
		return AwardResult{}, err
	}
	if done.Completed {
		total, err := s.BalanceOf(ctx, key)
		if err != nil {
			return AwardResult{}, err
		}
		return AwardResult{Awarded: false, Total: total}, nil
	}

	name := strings.TrimSpace(courseName)
	if name == "" {
		name = courseID
	}
	total, err := s.addPoints(ctx, key, points, Metadata{
		"source":     SourceCourse,
		"courseId":   courseID,
		"courseName": name,
	})
	if err != nil {
		return AwardResult{}, err
	}

	marker := CourseCompletion{
		Completed:   true,
		CourseName:  name,
		Points:      Clamp(points),
		CompletedAt: s.now().UnixMilli(),
	}
	if _, err := s.store.Put(ctx, account.UserPath(key, "coursesCompleted", courseID), marker); err != nil {
		return AwardResult{}, err
	}

	s.log.Info("course awarded",
		zap.String("key", key),
		zap.String("course", courseID),
		zap.Int64("total", total))
	return AwardResult{Awarded: true, Total: total}, nil
}

// RecordSticker stores a sticker for targetKey, credits the sticker award
// and sets unlock flags at the thresholds. It does no role check; callers
// gate it (see admin.Gateway).
func (s *Service) RecordSticker(ctx context.Context, targetKey, stickerID, eventName, verifiedBy string) (StickerResult, error) {
	targetKey = strings.TrimSpace(targetKey)
	stickerID = strings.TrimSpace(stickerID)
	if targetKey == "" || stickerID == "" {
		return StickerResult{}, errs.Invalid("", "target and sticker id are required")
	}
	eventName = strings.TrimSpace(eventName)
	stickerPath := account.UserPath(targetKey, "stickers", stickerID)

	existing, err := s.store.Get(ctx, stickerPath)
	if err != nil {
		return StickerResult{}, err
	}
	if !record.IsNull(existing) {
		return StickerResult{OK: true, Duplicate: true}, nil
	}

	sticker := Sticker{
		CollectedAt: s.now().UnixMilli(),
		EventName:   eventName,
		VerifiedBy:  verifiedBy,
	}
	if _, err := s.store.Put(ctx, stickerPath, sticker); err != nil {
		return StickerResult{}, err
	}

	// Count from a fresh read of the whole set.
	var all map[string]json.RawMessage
	if err := s.read(ctx, account.UserPath(targetKey, "stickers"), &all); err != nil {
		return StickerResult{}, err
	}
	count := len(all)

	total, err := s.addPoints(ctx, targetKey, decimal.NewFromInt(s.stickerAward), Metadata{
		"source":    SourceSticker,
		"stickerId": stickerID,
		"eventName": eventName,
	})
	if err != nil {
		return StickerResult{}, err
	}

	flags := map[string]any{}
	if count >= CertificateThreshold {
		flags[UnlockCertificate] = true
	}
	if count >= AllCollectedThreshold {
		flags[UnlockAllCollected] = true
	}
	var unlocked []string
	if len(flags) > 0 {
		if _, err := s.store.Patch(ctx, account.UserPath(targetKey, "unlocks"), flags); err != nil {
			return StickerResult{}, err
		}
		for name := range flags {
			unlocked = append(unlocked, name)
		}
		sort.Strings(unlocked)
	}

	s.log.Info("sticker recorded",
		zap.String("key", targetKey),
		zap.String("sticker", stickerID),
		zap.String("verifiedBy", verifiedBy),
		zap.Int("count", count))
	return StickerResult{OK: true, Count: count, Total: total, Unlocked: unlocked}, nil
}

// =============================================================================
// READ VIEWS
// =============================================================================

// History returns the current user's entries oldest first.
func (s *Service) History(ctx context.Context) ([]HistoryEntry, error) {
	_, key, err := session.RequireKey(ctx)
	if err != nil {
		return nil, err
	}
	var byID map[string]HistoryEntry
	if err := s.read(ctx, account.UserPath(key, "pointsHistory"), &byID); err != nil {
		return nil, err
	}
	out := make([]HistoryEntry, 0, len(byID))
	for id, e := range byID {
		e.ID = id
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].At != out[j].At {
			return out[i].At < out[j].At
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Courses returns the current user's completed courses.
func (s *Service) Courses(ctx context.Context) (map[string]CourseCompletion, error) {
	_, key, err := session.RequireKey(ctx)
	if err != nil {
		return nil, err
	}
	out := map[string]CourseCompletion{}
	if err := s.read(ctx, account.UserPath(key, "coursesCompleted"), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Stickers returns the current user's collected stickers.
func (s *Service) Stickers(ctx context.Context) (map[string]Sticker, error) {
	_, key, err := session.RequireKey(ctx)
	if err != nil {
		return nil, err
	}
	out := map[string]Sticker{}
	if err := s.read(ctx, account.UserPath(key, "stickers"), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Unlocks returns the current user's unlock flags.
func (s *Service) Unlocks(ctx context.Context) (Unlocks, error) {
	_, key, err := session.RequireKey(ctx)
	if err != nil {
		return Unlocks{}, err
	}
	var u Unlocks
	err = s.read(ctx, account.UserPath(key, "unlocks"), &u)
	return u, err
}

func (s *Service) read(ctx context.Context, path string, v any) error {
	raw, err := s.store.Get(ctx, path)
	if err != nil {
		return err
	}
	_, err = record.Decode(raw, v)
	return err
}

// Raw exposes the stored JSON at a user path. Used by the CLI's dump command.
func (s *Service) Raw(ctx context.Context, key string, sub ...string) (json.RawMessage, error) {
	return s.store.Get(ctx, account.UserPath(key, sub...))
}
