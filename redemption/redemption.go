/*
redemption.go - Reward redemption records and fulfillment status

PURPOSE:
  Records that a user redeemed a reward and tracks whether it was sent.

  users/<key>/rewardsRedeemed/<rewardId> = {cost, rewardName, redeemedAt, status, updatedAt?, updatedBy?}

SEMANTICS:
  - Redeeming the same reward again overwrites the previous record.
  - Cost is recorded for audit only. The balance is neither checked nor
    deducted here; a caller that charges for rewards must do that itself.
  - Status is NOT_SENT or SENT. Anything other than the exact literal
    "SENT" normalizes to NOT_SENT.

STATE MACHINE:
  NOT_SENT <-> SENT   (admins may move either way)
*/
package redemption

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/points-engine/account"
	"github.com/warp/points-engine/errs"
	"github.com/warp/points-engine/keycodec"
	"github.com/warp/points-engine/ledger"
	"github.com/warp/points-engine/record"
	"github.com/warp/points-engine/session"
)

// Status is the fulfillment state of a redemption.
type Status string

const (
	StatusNotSent Status = "NOT_SENT"
	StatusSent    Status = "SENT"
)

// UnknownReward replaces an empty reward id.
const UnknownReward = "reward_unknown"

// NormalizeStatus maps the exact literal "SENT" to StatusSent and anything
// else to StatusNotSent.
func NormalizeStatus(s string) Status {
	if s == string(StatusSent) {
		return StatusSent
	}
	return StatusNotSent
}

// Record is one stored redemption.
type Record struct {
	Cost       int64  `json:"cost"`
	RewardName string `json:"rewardName"`
	RedeemedAt int64  `json:"redeemedAt"`
	Status     Status `json:"status"`
	UpdatedAt  int64  `json:"updatedAt,omitempty"`
	UpdatedBy  string `json:"updatedBy,omitempty"`
}

// Row is a redemption flattened with its owner for admin listings.
type Row struct {
	Key        string `json:"key"`
	Email      string `json:"email"`
	Name       string `json:"name"`
	RewardID   string `json:"rewardId"`
	RewardName string `json:"rewardName"`
	Cost       int64  `json:"cost"`
	RedeemedAt int64  `json:"redeemedAt"`
	Status     Status `json:"status"`
	UpdatedAt  int64  `json:"updatedAt,omitempty"`
	UpdatedBy  string `json:"updatedBy,omitempty"`
}

// Service implements redemption operations over a record.Store.
type Service struct {
	store record.Store
	log   *zap.Logger
	now   func() time.Time
}

// Options configures a Service.
type Options struct {
	Logger *zap.Logger
	Now    func() time.Time
}

func New(store record.Store, opts Options) *Service {
	s := &Service{store: store, log: opts.Logger, now: opts.Now}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// List returns the current user's redemptions keyed by reward id.
func (s *Service) List(ctx context.Context) (map[string]Record, error) {
	_, key, err := session.RequireKey(ctx)
	if err != nil {
		return nil, err
	}
	raw, err := s.store.Get(ctx, account.UserPath(key, "rewardsRedeemed"))
	if err != nil {
		return nil, err
	}
	out := map[string]Record{}
	for rewardID, recRaw := range record.Fields(raw) {
		out[rewardID] = readRecord(recRaw)
	}
	return out, nil
}

// readRecord decodes one stored redemption field by field. Off-type values
// fall back to zero values instead of hiding the redemption.
func readRecord(raw json.RawMessage) Record {
	f := record.Fields(raw)
	return Record{
		Cost:       ledger.Amount(f["cost"]),
		RewardName: record.String(f["rewardName"]),
		RedeemedAt: ledger.Amount(f["redeemedAt"]),
		Status:     NormalizeStatus(record.String(f["status"])),
		UpdatedAt:  ledger.Amount(f["updatedAt"]),
		UpdatedBy:  record.String(f["updatedBy"]),
	}
}

// Redeem writes (or overwrites) the current user's record for rewardID.
func (s *Service) Redeem(ctx context.Context, rewardID string, cost decimal.Decimal, rewardName string) (Record, error) {
	_, key, err := session.RequireKey(ctx)
	if err != nil {
		return Record{}, err
	}
	rewardID = strings.TrimSpace(rewardID)
	if rewardID == "" {
		rewardID = UnknownReward
	}
	name := strings.TrimSpace(rewardName)
	if name == "" {
		name = rewardID
	}

	rec := Record{
		Cost:       ledger.Clamp(cost),
		RewardName: name,
		RedeemedAt: s.now().UnixMilli(),
		Status:     StatusNotSent,
	}
	if _, err := s.store.Put(ctx, account.UserPath(key, "rewardsRedeemed", rewardID), rec); err != nil {
		return Record{}, err
	}
	s.log.Info("reward redeemed",
		zap.String("key", key),
		zap.String("reward", rewardID),
		zap.Int64("cost", rec.Cost))
	return rec, nil
}

// ListAll scans every user and returns all redemptions, newest first.
// Records without a timestamp sort last. Malformed fields read as zero
// values; a user is never dropped for them. No role check; see admin.Gateway.
func (s *Service) ListAll(ctx context.Context) ([]Row, error) {
	raw, err := s.store.Get(ctx, "users")
	if err != nil {
		return nil, err
	}
	var users map[string]json.RawMessage
	if _, err := record.Decode(raw, &users); err != nil {
		return nil, err
	}

	rows := []Row{}
	for key, userRaw := range users {
		user := record.Fields(userRaw)
		profile := record.Fields(user["profile"])
		email := record.String(profile["email"])
		if email == "" {
			email = keycodec.ToIdentifier(key)
		}
		name := record.String(profile["name"])
		if name == "" {
			name = keycodec.DisplayName(email)
		}
		for rewardID, recRaw := range record.Fields(user["rewardsRedeemed"]) {
			rec := readRecord(recRaw)
			rows = append(rows, Row{
				Key:        key,
				Email:      email,
				Name:       name,
				RewardID:   rewardID,
				RewardName: rec.RewardName,
				Cost:       rec.Cost,
				RedeemedAt: rec.RedeemedAt,
				Status:     rec.Status,
				UpdatedAt:  rec.UpdatedAt,
				UpdatedBy:  rec.UpdatedBy,
			})
		}
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].RedeemedAt != rows[j].RedeemedAt {
			return rows[i].RedeemedAt > rows[j].RedeemedAt
		}
		if rows[i].Key != rows[j].Key {
			return rows[i].Key < rows[j].Key
		}
		return rows[i].RewardID < rows[j].RewardID
	})
	return rows, nil
}

// UpdateStatus sets the fulfillment status of one redemption. No role
// check; see admin.Gateway.
func (s *Service) UpdateStatus(ctx context.Context, targetKey, rewardID, status, updatedBy string) (Status, error) {
	targetKey = strings.TrimSpace(targetKey)
	rewardID = strings.TrimSpace(rewardID)
	if targetKey == "" || rewardID == "" {
		return "", errs.Invalid("", "user and reward id are required")
	}
	next := NormalizeStatus(status)
	fields := map[string]any{
		"status":    next,
		"updatedAt": s.now().UnixMilli(),
		"updatedBy": updatedBy,
	}
	if _, err := s.store.Patch(ctx, account.UserPath(targetKey, "rewardsRedeemed", rewardID), fields); err != nil {
		return "", err
	}
	s.log.Info("redemption status updated",
		zap.String("key", targetKey),
		zap.String("reward", rewardID),
		zap.String("status", string(next)),
		zap.String("by", updatedBy))
	return next, nil
}
