package cli

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/iliyamo/hub-lending/internal/clock"
	"github.com/iliyamo/hub-lending/internal/config"
	"github.com/iliyamo/hub-lending/internal/coordinator"
	"github.com/iliyamo/hub-lending/internal/database"
	"github.com/iliyamo/hub-lending/internal/extension"
	"github.com/iliyamo/hub-lending/internal/handler"
	"github.com/iliyamo/hub-lending/internal/observability"
	"github.com/iliyamo/hub-lending/internal/repository"
	"github.com/iliyamo/hub-lending/internal/router"
	"github.com/iliyamo/hub-lending/internal/scheduler"
	"github.com/iliyamo/hub-lending/internal/standing"
)

// app is the service graph the commands share.
type app struct {
	cfg      config.Config
	log      *zap.Logger
	db       *database.DB
	clock    clock.Clock
	hubs     *repository.HubRepo
	standing *standing.Service
	coord    *coordinator.Coordinator
	ext      *extension.Negotiator
}

// openApp loads configuration, builds the logger and connects to the
// database.  The caller must Close the result.
func openApp(ctx context.Context, opts *RootOptions) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if opts.Verbose {
		cfg.Telemetry.LogLevel = "debug"
	}
	log, err := observability.NewLogger(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	db, err := database.Open(ctx, cfg)
	if err != nil {
		_ = log.Sync()
		return nil, fmt.Errorf("open database: %w", err)
	}

	clk := clock.System{}
	st := standing.NewService(repository.NewStandingRepo(db), standing.Policy{
		Threshold:         cfg.Scheduler.RestrictionThreshold,
		WarningThreshold:  cfg.Scheduler.WarningThreshold,
		RestrictionPeriod: cfg.Scheduler.RestrictionPeriod,
	})
	return &app{
		cfg:      cfg,
		log:      log,
		db:       db,
		clock:    clk,
		hubs:     repository.NewHubRepo(db),
		standing: st,
		coord: coordinator.New(db, st, clk, log, coordinator.Options{
			LockTimeout: cfg.LockTimeout,
			AutoConfirm: cfg.AutoConfirm,
		}),
		ext: extension.New(db, clk, log, cfg.LockTimeout),
	}, nil
}

func (a *app) Close() {
	_ = a.db.Close()
	_ = a.log.Sync()
}

func (a *app) scheduler() *scheduler.Scheduler {
	return scheduler.New(a.coord, repository.NewReservationRepo(a.db), a.standing, a.cfg.Scheduler, a.log)
}

func (a *app) handlers() router.Handlers {
	return router.Handlers{
		Public:   handler.NewPublicHandler(a.hubs, repository.NewItemRepo(a.db), a.log),
		Borrower: handler.NewBorrowerHandler(a.coord, a.ext, a.standing, a.log),
		Steward:  handler.NewStewardHandler(a.coord, a.ext, a.log),
		Admin:    handler.NewAdminHandler(a.hubs, a.coord, a.standing, a.clock, a.log),
	}
}
