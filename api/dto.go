/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON bodies the HTTP API accepts and returns. Stored records
  (profile, history entries, redemptions) are returned in their stored
  camelCase shape so a page can use them exactly as it used the database
  directly; request bodies follow the API's snake_case convention.

NUMBERS:
  Point amounts in requests decode into decimal.Decimal, which accepts both
  JSON numbers and numeric strings ("12", 12, 12.5). Services clamp them.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"github.com/shopspring/decimal"

	"github.com/warp/points-engine/ledger"
)

// =============================================================================
// AUTH
// =============================================================================

type SignUpRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type LogInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthStatusDTO drives the navigation bar: which controls to show.
type AuthStatusDTO struct {
	Authenticated bool   `json:"authenticated"`
	Email         string `json:"email,omitempty"`
	Admin         bool   `json:"admin"`
}

// =============================================================================
// POINTS
// =============================================================================

type BalanceDTO struct {
	Points int64 `json:"points"`
}

type SetPointsRequest struct {
	Points decimal.Decimal `json:"points"`
}

type AddPointsRequest struct {
	Delta decimal.Decimal `json:"delta"`
	Meta  ledger.Metadata `json:"meta,omitempty"`
}

type CompleteCourseRequest struct {
	CourseName string          `json:"course_name"`
	Points     decimal.Decimal `json:"points"`
}

type StickersDTO struct {
	Stickers map[string]ledger.Sticker `json:"stickers"`
	Unlocks  ledger.Unlocks            `json:"unlocks"`
}

// =============================================================================
// REDEMPTIONS
// =============================================================================

type RedeemRequest struct {
	RewardID   string          `json:"reward_id"`
	Cost       decimal.Decimal `json:"cost"`
	RewardName string          `json:"reward_name"`
}

// =============================================================================
// ADMIN
// =============================================================================

type GrantStickerRequest struct {
	Email     string `json:"email"`
	StickerID string `json:"sticker_id"`
	EventName string `json:"event_name"`
}

type UpdateStatusRequest struct {
	Status string `json:"status"`
}

type StatusDTO struct {
	Status string `json:"status"`
}

type AdjustmentRequest struct {
	Email  string          `json:"email"`
	Points decimal.Decimal `json:"points"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
