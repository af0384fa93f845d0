/*
account.go - Signup, login and record upkeep

PURPOSE:
  Owns the user record's identity part: profile, password and the
  bootstrap balance. Every operation runs against the session Holder found
  in the request context.

OPERATIONS:
  SignUp               validate, refuse existing profile, write full record, log in
  LogIn                check stored password, log in
  LogOut               clear the session (no store call)
  EnsureAccountExists  run the record upgrade for the current user
  Profile / IsAdmin    read helpers

RACES:
  SignUp checks for an existing profile and then writes the record in a
  second call. Two concurrent signups for one email can both pass the check;
  the later write wins. There is no conditional write to prevent it.

SEE ALSO:
  - upgrade.go:     versioned record upgrade
  - credentials.go: password policies
*/
package account

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/warp/points-engine/errs"
	"github.com/warp/points-engine/keycodec"
	"github.com/warp/points-engine/record"
	"github.com/warp/points-engine/session"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"

	// DefaultPoints is the opening balance of a new account.
	DefaultPoints int64 = 50

	minPasswordLength = 4
)

// Identity is what a successful signup or login returns.
type Identity struct {
	Email string `json:"email"`
	Key   string `json:"key"`
}

// Profile is users/<key>/profile.
type Profile struct {
	Email     string `json:"email"`
	Name      string `json:"name"`
	CreatedAt int64  `json:"createdAt"`
	Role      string `json:"role,omitempty"`
}

// Options configures a Service. Zero values pick the defaults.
type Options struct {
	DefaultPoints int64
	Credentials   Credentials
	Logger        *zap.Logger
	Now           func() time.Time
}

// Service implements account operations over a record.Store.
type Service struct {
	store         record.Store
	defaultPoints int64
	creds         Credentials
	log           *zap.Logger
	now           func() time.Time
}

func New(store record.Store, opts Options) *Service {
	s := &Service{
		store:         store,
		defaultPoints: opts.DefaultPoints,
		creds:         opts.Credentials,
		log:           opts.Logger,
		now:           opts.Now,
	}
	if s.defaultPoints <= 0 {
		s.defaultPoints = DefaultPoints
	}
	if s.creds == nil {
		s.creds = PlaintextCredentials{}
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// UserPath returns users/<key>[/<sub>...].
func UserPath(key string, sub ...string) string {
	return record.Join(append([]string{"users", key}, sub...)...)
}

// =============================================================================
// AUTH FLOW
// =============================================================================

// SignUp creates an account and logs it in.
func (s *Service) SignUp(ctx context.Context, email, password, name string) (Identity, error) {
	email = strings.TrimSpace(email)
	name = strings.TrimSpace(name)
	if email == "" || len(password) < minPasswordLength {
		return Identity{}, errs.Invalid("", "enter a valid email and password (min 4 chars)")
	}
	key := keycodec.ToKey(email)

	existing, err := s.store.Get(ctx, UserPath(key, "profile"))
	if err != nil {
		return Identity{}, err
	}
	if !record.IsNull(existing) {
		return Identity{}, errs.ErrAccountExists
	}

	sealed, err := s.creds.Seal(password)
	if err != nil {
		return Identity{}, err
	}
	if name == "" {
		name = keycodec.DisplayName(email)
	}
	doc := map[string]any{
		"profile": Profile{
			Email:     email,
			Name:      name,
			CreatedAt: s.now().UnixMilli(),
			Role:      RoleUser,
		},
		"password":        sealed,
		"points":          s.defaultPoints,
		"events":          map[string]any{},
		"pointsHistory":   map[string]any{},
		"rewardsRedeemed": map[string]any{},
		"stickers":        map[string]any{},
		"unlocks":         map[string]any{},
		"schemaVersion":   CurrentSchema,
	}
	if _, err := s.store.Put(ctx, UserPath(key), doc); err != nil {
		return Identity{}, err
	}
	if err := session.Establish(ctx, email); err != nil {
		return Identity{}, err
	}

	s.log.Info("account created", zap.String("key", key))
	return Identity{Email: email, Key: key}, nil
}

// LogIn checks the password stored for email and logs it in.
func (s *Service) LogIn(ctx context.Context, email, password string) (Identity, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return Identity{}, errs.Invalid("", "enter email & password")
	}
	key := keycodec.ToKey(email)

	raw, err := s.store.Get(ctx, UserPath(key))
	if err != nil {
		return Identity{}, err
	}
	if record.IsNull(raw) {
		return Identity{}, errs.ErrAccountNotFound
	}
	var doc struct {
		Password json.RawMessage `json:"password"`
	}
	if _, err := record.Decode(raw, &doc); err != nil {
		return Identity{}, err
	}
	if !s.creds.Verify(record.String(doc.Password), password) {
		s.log.Info("login rejected", zap.String("key", key))
		return Identity{}, errs.ErrInvalidCredential
	}
	if err := session.Establish(ctx, email); err != nil {
		return Identity{}, err
	}
	return Identity{Email: email, Key: key}, nil
}

// LogOut ends the session in ctx.
func (s *Service) LogOut(ctx context.Context) error {
	return session.End(ctx)
}

// =============================================================================
// PROFILE
// =============================================================================

// Profile returns the current user's profile, or nil when none is stored.
func (s *Service) Profile(ctx context.Context) (*Profile, error) {
	_, key, err := session.RequireKey(ctx)
	if err != nil {
		return nil, err
	}
	return s.ProfileOf(ctx, key)
}

// ProfileOf returns the profile stored under key, or nil.
func (s *Service) ProfileOf(ctx context.Context, key string) (*Profile, error) {
	raw, err := s.store.Get(ctx, UserPath(key, "profile"))
	if err != nil {
		return nil, err
	}
	var p Profile
	ok, err := record.Decode(raw, &p)
	if err != nil || !ok {
		return nil, err
	}
	return &p, nil
}

// IsAdmin reports whether the current user has the admin role. It never
// fails: no session or an unreadable profile reads as false.
func (s *Service) IsAdmin(ctx context.Context) bool {
	_, key, err := session.RequireKey(ctx)
	if err != nil {
		return false
	}
	return s.IsAdminKey(ctx, key)
}

// IsAdminKey reports whether the record under key has the admin role.
func (s *Service) IsAdminKey(ctx context.Context, key string) bool {
	raw, err := s.store.Get(ctx, UserPath(key, "profile", "role"))
	if err != nil {
		s.log.Warn("role lookup failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return strings.EqualFold(strings.TrimSpace(record.String(raw)), RoleAdmin)
}
