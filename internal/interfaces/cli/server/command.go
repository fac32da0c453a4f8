package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/orris-inc/sidecar/internal/application/registry"
	"github.com/orris-inc/sidecar/internal/application/sidecar"
	"github.com/orris-inc/sidecar/internal/application/transit"
	"github.com/orris-inc/sidecar/internal/domain/runtime"
	"github.com/orris-inc/sidecar/internal/infrastructure/broker"
	"github.com/orris-inc/sidecar/internal/infrastructure/config"
	"github.com/orris-inc/sidecar/internal/infrastructure/pubsub"
	"github.com/orris-inc/sidecar/internal/infrastructure/scheduler"
	"github.com/orris-inc/sidecar/internal/infrastructure/store"
	"github.com/orris-inc/sidecar/internal/interfaces/cli/bootstrap"
	httpRouter "github.com/orris-inc/sidecar/internal/interfaces/http"
	"github.com/orris-inc/sidecar/internal/shared/goroutine"
	"github.com/orris-inc/sidecar/internal/shared/logger"
	"github.com/orris-inc/sidecar/internal/shared/telemetry"
	"github.com/orris-inc/sidecar/internal/shared/version"
)

const (
	nodeEventPattern = "$sidecar-node.*"
	// peerEventPrefix names node events relayed from other sidecar instances,
	// so they never match nodeEventPattern and loop back into the relay.
	peerEventPrefix = "$sidecar-peer."
)

var (
	env        string
	configPath string
)

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"server"},
		Short:   "Start the sidecar",
		Long:    `Start the local runtime, the node registry, the transit layer and the HTTP listener remote gateways post to.`,
		RunE:    run,
	}

	cmd.Flags().StringVarP(&env, "env", "e", "", "Environment (development, test, production)")
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to config file (default: ./configs/config.yaml)")

	return cmd
}

func run(cmd *cobra.Command, args []string) error {
	cfg, log, err := bootstrap.Init(env, configPath)
	if err != nil {
		return err
	}

	log.Infow("starting sidecar",
		"environment", env,
		"version", version.Current(),
		"store", cfg.Store.Driver,
	)
	telemetry.SetBuildInfo(version.Current())

	gin.DefaultWriter = io.Discard
	gin.DebugPrintRouteFunc = func(httpMethod, absolutePath, handlerName string, nuHandlers int) {}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := build(ctx, cfg, log)
	if err != nil {
		return err
	}

	config.Watch(func(c *config.Config) {
		logger.SetLevel(logger.ParseLevel(c.Logger.Level))
		log.Infow("configuration reloaded", "log_level", c.Logger.Level)
	}, func(err error) {
		log.Warnw("ignoring invalid configuration change", "error", err)
	})

	if err := app.start(ctx); err != nil {
		app.shutdown(cfg.Server.ShutdownTimeout)
		return err
	}

	<-ctx.Done()
	log.Infow("shutting down sidecar...")
	if err := app.shutdown(cfg.Server.ShutdownTimeout); err != nil {
		log.Errorw("sidecar forced to shutdown", "error", err)
		return err
	}

	log.Infow("sidecar exited gracefully")
	return nil
}

type application struct {
	log      logger.Interface
	cfg      *config.Config
	broker   *broker.Broker
	registry *registry.Registry
	srv      *http.Server
	redis    *redis.Client
	relay    *pubsub.NodeEventRelay
	cleanups []func()
}

func build(ctx context.Context, cfg *config.Config, log logger.Interface) (*application, error) {
	st, err := store.Open(ctx, cfg, log.Named("store"))
	if err != nil {
		return nil, fmt.Errorf("failed to open node store: %w", err)
	}

	b := broker.New(broker.Options{
		NodeID:   cfg.Node.ID,
		Metadata: cfg.Node.Metadata,
	}, log.Named("broker"))

	tr, err := transit.New(cfg.Transit, b, log.Named("transit"))
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to create transit: %w", err)
	}

	sched, err := scheduler.NewSchedulerManager(log.Named("scheduler"))
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	reg := registry.New(cfg.Registry, b, st, tr, log.Named("registry"), registry.WithScheduler(sched))
	tr.AttachRegistry(reg)

	if err := b.CreateService(ctx, sidecar.New(reg, tr, log.Named("sidecar")).Schema()); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to register %s service: %w", sidecar.ServiceName, err)
	}

	router := httpRouter.NewRouter(httpRouter.RouterDeps{
		Server:   cfg.Server,
		Auth:     cfg.Auth,
		Metrics:  cfg.Metrics,
		NodeID:   b.NodeID(),
		Transit:  tr,
		Registry: reg,
		Broker:   b,
		Logger:   log,
	})
	router.SetupRoutes()

	app := &application{
		log:      log,
		cfg:      cfg,
		broker:   b,
		registry: reg,
		srv: &http.Server{
			Addr:         cfg.Server.GetAddr(),
			Handler:      router.GetEngine(),
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  60 * time.Second,
		},
	}

	if cfg.PubSub.Enabled {
		app.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.GetAddr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		app.relay = pubsub.NewNodeEventRelay(app.redis, cfg.PubSub.Channel, log.Named("pubsub"))
	}
	return app, nil
}

func (a *application) start(ctx context.Context) error {
	if err := a.broker.Start(ctx); err != nil {
		return fmt.Errorf("failed to start broker: %w", err)
	}
	if err := a.registry.Start(ctx); err != nil {
		return fmt.Errorf("failed to start registry: %w", err)
	}
	if a.relay != nil {
		a.startRelay(ctx)
	}

	goroutine.SafeGo(a.log, "http-listener", func() {
		a.log.Infow("listener starting",
			"address", a.srv.Addr,
			"root_path", a.cfg.Server.RootPath,
			"node_id", a.broker.NodeID(),
		)
		if err := a.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("failed to start listener", "error", err)
		}
	})
	return nil
}

// startRelay forwards local node notifications to the other instances and
// re-broadcasts theirs locally under peerEventPrefix.
func (a *application) startRelay(ctx context.Context) {
	unsubscribe := a.broker.Subscribe(nodeEventPattern, func(event string, data any) {
		nodeID := ""
		if ev, ok := data.(registry.NodeEvent); ok {
			nodeID = ev.Node.ID
		}
		if err := a.relay.Publish(context.WithoutCancel(ctx), event, nodeID, data); err != nil {
			a.log.Warnw("failed to relay node event", "event", event, "node_id", nodeID, "error", err)
		}
	})
	a.cleanups = append(a.cleanups, unsubscribe)

	goroutine.SafeGo(a.log, "node-event-relay", func() {
		err := a.relay.Subscribe(ctx, func(ev pubsub.NodeEvent) {
			name := peerEventPrefix + strings.TrimPrefix(ev.Event, "$sidecar-node.")
			if err := a.broker.BroadcastLocal(ctx, name, ev, runtime.EventOptions{}); err != nil {
				a.log.Warnw("failed to broadcast peer node event", "event", name, "error", err)
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			a.log.Errorw("node event relay stopped", "error", err)
		}
	})
}

func (a *application) shutdown(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	for _, cleanup := range a.cleanups {
		cleanup()
	}

	var err error
	if shutdownErr := a.srv.Shutdown(ctx); shutdownErr != nil && !errors.Is(shutdownErr, http.ErrServerClosed) {
		err = fmt.Errorf("listener shutdown: %w", shutdownErr)
	}

	a.registry.AnnounceShutdown(ctx)
	// also closes the node store
	if stopErr := a.registry.Stop(ctx); stopErr != nil {
		err = errors.Join(err, stopErr)
	}

	if stopErr := a.broker.Stop(ctx); stopErr != nil {
		err = errors.Join(err, stopErr)
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	return err
}
