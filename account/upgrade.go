package account

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/warp/points-engine/keycodec"
	"github.com/warp/points-engine/record"
	"github.com/warp/points-engine/session"
)

// =============================================================================
// RECORD UPGRADE
// =============================================================================
//
// Records written by older clients may lack a profile, a role or a balance.
// Instead of checking each field on every read path, a record is loaded once,
// brought to CurrentSchema in a single patch and stamped with schemaVersion.
//
//   version 0  anything written before versioning
//   version 1  profile with role, points present
//
// Records already at CurrentSchema with all fields present cost one read.

// CurrentSchema is the record layout version this code writes.
const CurrentSchema = 1

type storedRecord struct {
	Profile       map[string]json.RawMessage `json:"profile"`
	Points        json.RawMessage            `json:"points"`
	SchemaVersion int                        `json:"schemaVersion"`
}

// readRecord decodes the fields the upgrade looks at. Each field is read on
// its own so one malformed field never hides the others.
func readRecord(raw json.RawMessage) storedRecord {
	var rec storedRecord
	top := record.Fields(raw)
	if top == nil {
		return rec
	}
	rec.Profile = record.Fields(top["profile"])
	_ = json.Unmarshal(top["schemaVersion"], &rec.SchemaVersion)
	rec.Points = top["points"]
	return rec
}

// EnsureAccountExists repairs the current user's record. It never touches
// the password and is safe to call on every page load.
func (s *Service) EnsureAccountExists(ctx context.Context) error {
	email, key, err := session.RequireKey(ctx)
	if err != nil {
		return err
	}

	raw, err := s.store.Get(ctx, UserPath(key))
	if err != nil {
		return err
	}
	rec := readRecord(raw)

	fields := s.upgrade(rec, email)
	if len(fields) == 0 {
		return nil
	}
	if _, err := s.store.Patch(ctx, UserPath(key), fields); err != nil {
		return err
	}
	s.log.Info("user record upgraded",
		zap.String("key", key),
		zap.Int("from", rec.SchemaVersion),
		zap.Int("to", CurrentSchema))
	return nil
}

// upgrade returns the patch that brings rec to CurrentSchema. Keys may be
// multi-segment so one patch covers nested fixes.
func (s *Service) upgrade(rec storedRecord, email string) map[string]any {
	fields := map[string]any{}

	switch {
	case len(rec.Profile) == 0:
		fields["profile"] = Profile{
			Email:     email,
			Name:      keycodec.DisplayName(email),
			CreatedAt: s.now().UnixMilli(),
			Role:      RoleUser,
		}
		fields["points"] = s.defaultPoints
	case strings.TrimSpace(record.String(rec.Profile["role"])) == "":
		fields["profile/role"] = RoleUser
	}

	if _, set := fields["points"]; !set && record.IsNull(rec.Points) {
		fields["points"] = s.defaultPoints
	}

	if rec.SchemaVersion < CurrentSchema || len(fields) > 0 {
		fields["schemaVersion"] = CurrentSchema
	}
	return fields
}
