/*
Package admin gates the operations that act on other users' records.

Every call first checks that the caller in ctx has the admin role and
fails with errs.ErrAccessDenied otherwise, including when nobody is
logged in. The acting admin's email is recorded as verifiedBy /
updatedBy on the records it writes.
*/
package admin

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/points-engine/account"
	"github.com/warp/points-engine/errs"
	"github.com/warp/points-engine/keycodec"
	"github.com/warp/points-engine/ledger"
	"github.com/warp/points-engine/redemption"
	"github.com/warp/points-engine/session"
)

// Gateway wraps the un-gated service cores with the admin check.
type Gateway struct {
	accounts    *account.Service
	ledger      *ledger.Service
	redemptions *redemption.Service
	log         *zap.Logger
}

func New(accounts *account.Service, l *ledger.Service, r *redemption.Service, log *zap.Logger) *Gateway {
	if log == nil {
		log = zap.NewNop()
	}
	return &Gateway{accounts: accounts, ledger: l, redemptions: r, log: log}
}

// requireAdmin returns the caller's email or errs.ErrAccessDenied.
func (g *Gateway) requireAdmin(ctx context.Context) (string, error) {
	email, key, err := session.RequireKey(ctx)
	if err != nil || !g.accounts.IsAdminKey(ctx, key) {
		return "", errs.ErrAccessDenied
	}
	return email, nil
}

// targetKey resolves an email to a key whose profile exists.
func (g *Gateway) targetKey(ctx context.Context, email string) (string, error) {
	key := keycodec.ToKey(email)
	profile, err := g.accounts.ProfileOf(ctx, key)
	if err != nil {
		return "", err
	}
	if profile == nil {
		return "", errs.ErrUnknownUser
	}
	return key, nil
}

// GrantStickerToUser records a sticker for targetEmail, verified by the caller.
func (g *Gateway) GrantStickerToUser(ctx context.Context, targetEmail, stickerID, eventName string) (ledger.StickerResult, error) {
	adminEmail, err := g.requireAdmin(ctx)
	if err != nil {
		return ledger.StickerResult{}, err
	}
	targetEmail = strings.TrimSpace(targetEmail)
	stickerID = strings.TrimSpace(stickerID)
	if targetEmail == "" {
		return ledger.StickerResult{}, errs.Invalid("email", "target email is required")
	}
	if stickerID == "" {
		return ledger.StickerResult{}, errs.Invalid("stickerId", "sticker id is required")
	}
	key, err := g.targetKey(ctx, targetEmail)
	if err != nil {
		return ledger.StickerResult{}, err
	}

	res, err := g.ledger.RecordSticker(ctx, key, stickerID, eventName, adminEmail)
	if err != nil {
		return ledger.StickerResult{}, err
	}
	g.log.Info("admin granted sticker",
		zap.String("admin", adminEmail),
		zap.String("target", key),
		zap.String("sticker", stickerID),
		zap.Bool("duplicate", res.Duplicate))
	return res, nil
}

// ListAllRedemptions returns every user's redemptions, newest first.
func (g *Gateway) ListAllRedemptions(ctx context.Context) ([]redemption.Row, error) {
	if _, err := g.requireAdmin(ctx); err != nil {
		return nil, err
	}
	return g.redemptions.ListAll(ctx)
}

// UpdateRedemptionStatus sets a redemption's status on behalf of the caller.
func (g *Gateway) UpdateRedemptionStatus(ctx context.Context, targetEmail, rewardID, status string) (redemption.Status, error) {
	adminEmail, err := g.requireAdmin(ctx)
	if err != nil {
		return "", err
	}
	return g.redemptions.UpdateStatus(ctx, keycodec.ToKey(targetEmail), rewardID, status, adminEmail)
}

// AdjustBalance overwrites a user's balance.
func (g *Gateway) AdjustBalance(ctx context.Context, targetEmail string, value decimal.Decimal) (int64, error) {
	adminEmail, err := g.requireAdmin(ctx)
	if err != nil {
		return 0, err
	}
	targetEmail = strings.TrimSpace(targetEmail)
	if targetEmail == "" {
		return 0, errs.Invalid("email", "target email is required")
	}
	key, err := g.targetKey(ctx, targetEmail)
	if err != nil {
		return 0, err
	}
	got, err := g.ledger.SetBalanceOf(ctx, key, value)
	if err != nil {
		return 0, err
	}
	g.log.Info("admin adjusted balance",
		zap.String("admin", adminEmail),
		zap.String("target", key),
		zap.Int64("balance", got))
	return got, nil
}
