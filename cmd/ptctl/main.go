/*
main.go - command-line client for the points engine

PURPOSE:
  Drives the same services as the HTTP server directly against the record
  store. The logged-in email is kept in a small JSON file (session.file),
  so a login survives between invocations the way localStorage survives a
  page reload.

USAGE:
  ptctl [-config points.yaml] <command> [args]

  signup EMAIL PASSWORD [NAME]      create an account and log in
  login EMAIL PASSWORD              log in
  logout                            forget the current user
  whoami                            print the current user
  ensure                            repair/upgrade the current record
  profile                           print the current profile
  points                            print the balance
  set-points N                      overwrite the balance
  add DELTA [NOTE]                  add points with a history entry
  history | courses | stickers      list ledger entries
  complete COURSE_ID NAME POINTS    award a course once
  redeem REWARD_ID COST [NAME]      record a redemption
  redemptions                       list own redemptions
  leaderboard [N]                   top N users (default 5)
  dump [FIELD...]                   raw JSON of the current record
  admin grant EMAIL STICKER [EVENT] grant a sticker
  admin redemptions                 list every redemption
  admin status EMAIL REWARD STATUS  set a redemption status
  admin adjust EMAIL POINTS         overwrite a user's balance
*/
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/points-engine/admin"
	"github.com/warp/points-engine/bootstrap"
	"github.com/warp/points-engine/config"
	"github.com/warp/points-engine/errs"
	"github.com/warp/points-engine/ledger"
	"github.com/warp/points-engine/logging"
	"github.com/warp/points-engine/reporting"
	"github.com/warp/points-engine/session"
)

var errUsage = errors.New("usage")

func main() {
	configPath := flag.String("config", "", "Path to a config file (yaml, json, toml)")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: ptctl [-config FILE] <command> [args]")
		flag.PrintDefaults()
	}
	flag.Parse()

	if err := run(*configPath, flag.Args(), os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			flag.Usage()
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "ptctl: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, args []string, out io.Writer) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	// Routine service logs stay off the terminal at the default level.
	level := cfg.Log.Level
	if level == "info" {
		level = "warn"
	}
	log, err := logging.New(level, "console")
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx := context.Background()
	store, closeStore, err := bootstrap.OpenStore(ctx, cfg.Store, log)
	if err != nil {
		return err
	}
	defer closeStore(context.Background())

	services, err := bootstrap.NewServices(store, cfg, log)
	if err != nil {
		return err
	}
	holder := session.NewHolder(session.NewFileSlot(cfg.Session.File), log.Named("session"))

	a := newApp(services, out, log)
	return a.run(session.WithHolder(ctx, holder), args)
}

// =============================================================================
// COMMANDS
// =============================================================================

type app struct {
	svc   *bootstrap.Services
	admin *admin.Gateway
	out   io.Writer
}

func newApp(svc *bootstrap.Services, out io.Writer, log *zap.Logger) *app {
	return &app{
		svc:   svc,
		admin: admin.New(svc.Accounts, svc.Ledger, svc.Redemptions, log.Named("admin")),
		out:   out,
	}
}

func (a *app) run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	cmd, rest := args[0], args[1:]

	switch cmd {
	case "signup":
		if len(rest) < 2 {
			return errUsage
		}
		name := ""
		if len(rest) > 2 {
			name = rest[2]
		}
		id, err := a.svc.Accounts.SignUp(ctx, rest[0], rest[1], name)
		if err != nil {
			return err
		}
		return a.print(id)

	case "login":
		if len(rest) != 2 {
			return errUsage
		}
		id, err := a.svc.Accounts.LogIn(ctx, rest[0], rest[1])
		if err != nil {
			return err
		}
		return a.print(id)

	case "logout":
		return a.svc.Accounts.LogOut(ctx)

	case "whoami":
		email := session.CurrentEmail(ctx)
		if email == "" {
			return errs.ErrNotAuthenticated
		}
		return a.print(map[string]any{"email": email, "admin": a.svc.Accounts.IsAdmin(ctx)})

	case "ensure":
		return a.svc.Accounts.EnsureAccountExists(ctx)

	case "profile":
		p, err := a.svc.Accounts.Profile(ctx)
		if err != nil {
			return err
		}
		return a.print(p)

	case "points":
		n, err := a.svc.Ledger.Balance(ctx)
		if err != nil {
			return err
		}
		return a.print(map[string]int64{"points": n})

	case "set-points":
		v, err := number(rest, 0)
		if err != nil {
			return err
		}
		n, err := a.svc.Ledger.SetBalance(ctx, v)
		if err != nil {
			return err
		}
		return a.print(map[string]int64{"points": n})

	case "add":
		v, err := number(rest, 0)
		if err != nil {
			return err
		}
		meta := ledger.Metadata{"source": "cli"}
		if len(rest) > 1 {
			meta["note"] = rest[1]
		}
		n, err := a.svc.Ledger.AddPoints(ctx, v, meta)
		if err != nil {
			return err
		}
		return a.print(map[string]int64{"points": n})

	case "history":
		return a.printResult(a.svc.Ledger.History(ctx))
	case "courses":
		return a.printResult(a.svc.Ledger.Courses(ctx))
	case "stickers":
		return a.printResult(a.svc.Ledger.Stickers(ctx))

	case "complete":
		if len(rest) != 3 {
			return errUsage
		}
		v, err := number(rest, 2)
		if err != nil {
			return err
		}
		return a.printResult(a.svc.Ledger.AwardCourseOnce(ctx, rest[0], rest[1], v))

	case "redeem":
		if len(rest) < 2 {
			return errUsage
		}
		cost, err := number(rest, 1)
		if err != nil {
			return err
		}
		name := ""
		if len(rest) > 2 {
			name = rest[2]
		}
		return a.printResult(a.svc.Redemptions.Redeem(ctx, rest[0], cost, name))

	case "redemptions":
		return a.printResult(a.svc.Redemptions.List(ctx))

	case "leaderboard":
		limit := reporting.DefaultLimit
		if len(rest) > 0 {
			n, err := strconv.Atoi(rest[0])
			if err != nil || n <= 0 {
				return fmt.Errorf("leaderboard size %q: %w", rest[0], errUsage)
			}
			limit = n
		}
		return a.printResult(a.svc.Reports.Leaderboard(ctx, limit))

	case "dump":
		_, key, err := session.RequireKey(ctx)
		if err != nil {
			return err
		}
		raw, err := a.svc.Ledger.Raw(ctx, key, rest...)
		if err != nil {
			return err
		}
		if raw == nil {
			raw = json.RawMessage("null")
		}
		return a.print(raw)

	case "admin":
		return a.runAdmin(ctx, rest)

	default:
		return fmt.Errorf("unknown command %q: %w", cmd, errUsage)
	}
}

func (a *app) runAdmin(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	cmd, rest := args[0], args[1:]

	switch cmd {
	case "grant":
		if len(rest) < 2 {
			return errUsage
		}
		event := ""
		if len(rest) > 2 {
			event = rest[2]
		}
		return a.printResult(a.admin.GrantStickerToUser(ctx, rest[0], rest[1], event))

	case "redemptions":
		return a.printResult(a.admin.ListAllRedemptions(ctx))

	case "status":
		if len(rest) != 3 {
			return errUsage
		}
		status, err := a.admin.UpdateRedemptionStatus(ctx, rest[0], rest[1], rest[2])
		if err != nil {
			return err
		}
		return a.print(map[string]any{"status": status})

	case "adjust":
		if len(rest) != 2 {
			return errUsage
		}
		v, err := number(rest, 1)
		if err != nil {
			return err
		}
		n, err := a.admin.AdjustBalance(ctx, rest[0], v)
		if err != nil {
			return err
		}
		return a.print(map[string]int64{"points": n})

	default:
		return fmt.Errorf("unknown admin command %q: %w", cmd, errUsage)
	}
}

// =============================================================================
// HELPERS
// =============================================================================

func number(args []string, i int) (decimal.Decimal, error) {
	if len(args) <= i {
		return decimal.Zero, errUsage
	}
	v, err := decimal.NewFromString(args[i])
	if err != nil {
		return decimal.Zero, errs.Invalid("points", fmt.Sprintf("%q is not a number", args[i]))
	}
	return v, nil
}

func (a *app) print(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *app) printResult(v any, err error) error {
	if err != nil {
		return err
	}
	return a.print(v)
}
