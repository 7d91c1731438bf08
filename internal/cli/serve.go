package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/iliyamo/hub-lending/internal/config"
	"github.com/iliyamo/hub-lending/internal/database"
	"github.com/iliyamo/hub-lending/internal/observability"
	"github.com/iliyamo/hub-lending/internal/queue"
	"github.com/iliyamo/hub-lending/internal/repository"
	"github.com/iliyamo/hub-lending/internal/router"
)

const shutdownGrace = 10 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Migrate     bool
	NoScheduler bool
	Consume     bool
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the sweep scheduler and the outbox relay",
		Long: `Run the HTTP API together with the background sweep and the outbox
relay.  SIGINT or SIGTERM drains in-flight requests and stops the
background loops before exiting.

Example:
  hublend serve --migrate
  hublend serve --consume --env-file prod.env`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Migrate, "migrate", false, "apply the schema before serving")
	cmd.Flags().BoolVar(&opts.NoScheduler, "no-scheduler", false, "do not run the periodic sweep in this process")
	cmd.Flags().BoolVar(&opts.Consume, "consume", false, "run the notification consumer (rabbitmq broker only)")

	return cmd
}

func runServe(ctx context.Context, opts *ServeOptions) error {
	a, err := openApp(ctx, opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.Close()
	log := a.log

	shutdownTracing, err := observability.SetupTracing(ctx, a.cfg.Telemetry)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Warn("tracer shutdown", zap.Error(err))
		}
	}()

	if opts.Migrate {
		if err := database.Migrate(ctx, a.db); err != nil {
			return err
		}
	}

	pub, err := queue.NewPublisher(a.cfg.Broker, log)
	if err != nil {
		return err
	}
	defer pub.Close()
	relay := queue.NewRelay(repository.NewOutboxRepo(a.db), pub, log, a.clock, a.cfg.Scheduler.OutboxRelayInterval)
	relay.Start(ctx)
	defer relay.Stop()

	if !opts.NoScheduler {
		sched := a.scheduler()
		go sched.Start(ctx)
		defer sched.Stop()
	}

	if opts.Consume {
		if a.cfg.Broker.Kind != config.BrokerRabbitMQ {
			log.Warn("notification consumer needs the rabbitmq broker", zap.String("broker", a.cfg.Broker.Kind))
		} else {
			go func() {
				b := a.cfg.Broker
				if err := queue.StartNotificationConsumer(ctx, b.RabbitURL, b.Queue, b.NotifyLog, log); err != nil && ctx.Err() == nil {
					log.Error("notification consumer stopped", zap.Error(err))
				}
			}()
		}
	}

	rdb := config.NewRedisClient(ctx)
	if rdb == nil {
		log.Warn("redis unreachable, rate limiting and catalogue cache disabled")
	} else {
		defer rdb.Close()
	}

	e := router.New(a.db, a.handlers(), router.Options{
		JWTSecret: a.cfg.JWTSecret,
		RateLimit: config.LoadRateLimitConfig(),
		Cache:     config.LoadCacheConfig(),
		Redis:     rdb,
		Log:       log,
	})

	addr := ":" + a.cfg.Port
	errCh := make(chan error, 1)
	go func() { errCh <- e.Start(addr) }()
	log.Info("listening", zap.String("addr", addr), zap.String("env", a.cfg.Env), zap.String("db", a.cfg.DBDriver))

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return e.Shutdown(sctx)
}
