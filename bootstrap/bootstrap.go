/*
Package bootstrap turns a config.Config into running services. Both
binaries (cmd/server and cmd/ptctl) start here so they agree on which
backend and which defaults are in effect.
*/
package bootstrap

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/warp/points-engine/account"
	"github.com/warp/points-engine/api"
	"github.com/warp/points-engine/config"
	"github.com/warp/points-engine/ledger"
	"github.com/warp/points-engine/record"
	"github.com/warp/points-engine/record/memory"
	"github.com/warp/points-engine/redemption"
	"github.com/warp/points-engine/reporting"
	"github.com/warp/points-engine/session"
	"github.com/warp/points-engine/store/mongo"
	"github.com/warp/points-engine/store/rest"
	"github.com/warp/points-engine/store/sqlite"
)

// CloseFunc releases a backend.
type CloseFunc func(ctx context.Context) error

func noClose(context.Context) error { return nil }

// OpenStore connects the configured record store.
func OpenStore(ctx context.Context, cfg config.StoreConfig, log *zap.Logger) (record.Store, CloseFunc, error) {
	switch cfg.Backend {
	case config.StoreREST:
		client, err := rest.New(rest.Options{
			URL:     cfg.REST.URL,
			Auth:    cfg.REST.Auth,
			Timeout: cfg.REST.Timeout,
			Logger:  log.Named("rest"),
		})
		if err != nil {
			return nil, nil, err
		}
		return client, noClose, nil

	case config.StoreSQLite:
		store, err := sqlite.New(cfg.SQLite.Path)
		if err != nil {
			return nil, nil, err
		}
		return store, func(context.Context) error { return store.Close() }, nil

	case config.StoreMongo:
		store, err := mongo.Connect(ctx, cfg.Mongo.URI, cfg.Mongo.Database, log.Named("mongo"))
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil

	case config.StoreMemory:
		return memory.New(), noClose, nil

	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// SessionSlots returns the per-token slot factory for the HTTP server.
func SessionSlots(ctx context.Context, cfg config.SessionConfig) (api.SlotFactory, CloseFunc, error) {
	switch cfg.Backend {
	case config.SessionRedis:
		client, err := session.Dial(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		slots := session.RedisSlots{Client: client, Prefix: cfg.KeyPrefix, TTL: cfg.TTL}
		return slots, func(context.Context) error { return client.Close() }, nil
	case config.SessionMemory:
		return session.NewMemorySlots(), noClose, nil
	case config.SessionFile:
		return nil, nil, fmt.Errorf("session backend %q holds one user and cannot serve HTTP sessions", cfg.Backend)
	default:
		return nil, nil, fmt.Errorf("unknown session backend %q", cfg.Backend)
	}
}

// Services bundles the domain services built over one store.
type Services struct {
	Accounts    *account.Service
	Ledger      *ledger.Service
	Redemptions *redemption.Service
	Reports     *reporting.Views
}

// NewServices builds every service with the configured defaults.
func NewServices(store record.Store, cfg *config.Config, log *zap.Logger) (*Services, error) {
	creds, err := account.CredentialsFor(cfg.Auth.Credentials)
	if err != nil {
		return nil, err
	}
	return &Services{
		Accounts: account.New(store, account.Options{
			DefaultPoints: cfg.Points.Default,
			Credentials:   creds,
			Logger:        log.Named("account"),
		}),
		Ledger: ledger.New(store, ledger.Options{
			DefaultPoints: cfg.Points.Default,
			StickerAward:  cfg.Points.StickerAward,
			Logger:        log.Named("ledger"),
		}),
		Redemptions: redemption.New(store, redemption.Options{Logger: log.Named("redemption")}),
		Reports:     reporting.New(store, log.Named("reporting")),
	}, nil
}
