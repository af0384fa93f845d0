/*
Package reporting builds read-only projections over all user records.

The store has no query language, so each view fetches the whole "users"
subtree and ranks it in memory. Fine for a campus-sized user base; a
larger deployment would need a precomputed index.
*/
package reporting

import (
	"context"
	"encoding/json"
	"sort"

	"go.uber.org/zap"

	"github.com/warp/points-engine/keycodec"
	"github.com/warp/points-engine/ledger"
	"github.com/warp/points-engine/record"
)

// DefaultLimit is used when a caller passes a limit ≤ 0.
const DefaultLimit = 5

// Row is one leaderboard line.
type Row struct {
	Name   string  `json:"name"`
	Points float64 `json:"points"`
}

type Views struct {
	store record.Store
	log   *zap.Logger
}

func New(store record.Store, log *zap.Logger) *Views {
	if log == nil {
		log = zap.NewNop()
	}
	return &Views{store: store, log: log}
}

// Leaderboard returns the top limit users by points, highest first.
// Unparseable balances count as 0; they are not healed here.
func (v *Views) Leaderboard(ctx context.Context, limit int) ([]Row, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	raw, err := v.store.Get(ctx, "users")
	if err != nil {
		return nil, err
	}
	var users map[string]json.RawMessage
	if _, err := record.Decode(raw, &users); err != nil {
		return nil, err
	}

	rows := make([]Row, 0, len(users))
	for key, userRaw := range users {
		user := record.Fields(userRaw)
		profile := record.Fields(user["profile"])
		name := record.String(profile["name"])
		if name == "" {
			name = keycodec.DisplayName(record.String(profile["email"]))
		}
		points, ok := ledger.ParsePoints(user["points"])
		if !ok {
			v.log.Debug("leaderboard counts unreadable balance as 0", zap.String("key", key))
		}
		rows = append(rows, Row{Name: name, Points: points.InexactFloat64()})
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Points != rows[j].Points {
			return rows[i].Points > rows[j].Points
		}
		return rows[i].Name < rows[j].Name
	})
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

// FriendsLeaderboard is a placeholder: there is no friends graph yet, so it
// is always empty.
func (v *Views) FriendsLeaderboard(_ context.Context, _ int) ([]Row, error) {
	return []Row{}, nil
}
