package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"tapline/internal/app"
	"tapline/internal/bus"
	"tapline/internal/inbound"
	"tapline/internal/outbox"
	"tapline/internal/server"
	"tapline/internal/sweep"
)

func sweepCmd() *cobra.Command {
	var loop bool
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Recompute statuses of ended occurrences and stale authorisations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				runner, err := newSweepRunner(rt)
				if err != nil {
					return err
				}
				if loop {
					return ignoreCancel(runner.Run(ctx))
				}
				res, err := runner.Once(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().BoolVar(&loop, "loop", false, "keep sweeping every sweep.interval")
	return cmd
}

func publishCmd() *cobra.Command {
	var loop bool
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Deliver unpublished outbox events to the configured bus",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				pub, closeFn, err := newPublisher(ctx, rt)
				if err != nil {
					return err
				}
				defer closeFn()
				if loop {
					return ignoreCancel(pub.Run(ctx))
				}
				n, err := pub.Drain(ctx)
				fmt.Printf("published %d events\n", n)
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&loop, "loop", false, "keep publishing every outbox.poll_interval")
	return cmd
}

func consumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "consume",
		Short: "Apply person notifications from the inbound Redis stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				c, closeFn, err := newConsumer(rt)
				if err != nil {
					return err
				}
				defer closeFn()
				return ignoreCancel(c.Run(ctx))
			})
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				store, closeStore, err := rt.OutboxStore(ctx)
				if err != nil {
					return err
				}
				defer closeStore()
				srv, err := newHTTPServer(rt, store, addr, basePath)
				if err != nil {
					return err
				}
				return serveUntilDone(ctx, srv)
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (defaults to server.base_path)")
	return cmd
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the API server, status sweep, outbox publisher and inbound consumer together",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				store, closeStore, err := rt.OutboxStore(ctx)
				if err != nil {
					return err
				}
				defer closeStore()
				srv, err := newHTTPServer(rt, store, "", "")
				if err != nil {
					return err
				}
				runner, err := newSweepRunner(rt)
				if err != nil {
					return err
				}
				pub, closeBus, err := newPublisherWithStore(rt, store)
				if err != nil {
					return err
				}
				defer closeBus()

				g, ctx := errgroup.WithContext(ctx)
				g.Go(func() error { return serveUntilDone(ctx, srv) })
				g.Go(func() error { return ignoreCancel(runner.Run(ctx)) })
				g.Go(func() error { return ignoreCancel(pub.Run(ctx)) })
				if rt.Config.Inbound.Enabled {
					c, closeRedis, err := newConsumer(rt)
					if err != nil {
						return err
					}
					defer closeRedis()
					g.Go(func() error { return ignoreCancel(c.Run(ctx)) })
				}
				return g.Wait()
			})
		},
	}
}

func workerLogger(rt *app.Runtime, component string) *logrus.Entry {
	if rt.Engine.Logger != nil {
		return rt.Engine.Logger.WithField("component", component)
	}
	return newLogger().WithField("component", component)
}

func newSweepRunner(rt *app.Runtime) (*sweep.Runner, error) {
	return sweep.NewRunner(rt.Engine, sweep.Options{
		Interval: rt.Config.Sweep.Interval,
		PageSize: rt.Config.Sweep.PageSize,
		ClaimTTL: rt.Config.Sweep.ClaimTTL,
		Logger:   workerLogger(rt, "sweep"),
	})
}

func newPublisher(ctx context.Context, rt *app.Runtime) (*outbox.Publisher, func(), error) {
	store, closeStore, err := rt.OutboxStore(ctx)
	if err != nil {
		return nil, nil, err
	}
	pub, closeBus, err := newPublisherWithStore(rt, store)
	if err != nil {
		closeStore()
		return nil, nil, err
	}
	return pub, func() { closeBus(); closeStore() }, nil
}

func newPublisherWithStore(rt *app.Runtime, store outbox.Store) (*outbox.Publisher, func(), error) {
	logger := workerLogger(rt, "outbox")
	b, closeBus, err := bus.New(rt.Config.Bus, logger)
	if err != nil {
		return nil, nil, err
	}
	oc := rt.Config.Outbox
	pub, err := outbox.NewPublisher(store, b, outbox.Options{
		BatchSize:    oc.BatchSize,
		PollInterval: oc.PollInterval,
		MaxAttempts:  oc.MaxAttempts,
		MaxBackoff:   oc.MaxBackoff,
		ClaimTTL:     oc.ClaimTTL,
		Logger:       logger,
	})
	if err != nil {
		closeBus()
		return nil, nil, err
	}
	return pub, closeBus, nil
}

func newConsumer(rt *app.Runtime) (*inbound.Consumer, func(), error) {
	ic := rt.Config.Inbound
	opts, err := redis.ParseURL(ic.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("inbound redis url: %w", err)
	}
	client := redis.NewClient(opts)
	c, err := inbound.NewConsumer(client, inbound.EngineHandler{Engine: rt.Engine}, inbound.Options{
		Stream:        ic.Stream,
		Group:         ic.Group,
		Consumer:      ic.Consumer,
		ClaimIdle:     time.Duration(ic.ClaimIdleSeconds) * time.Second,
		MaxDeliveries: ic.MaxDeliveries,
		Logger:        workerLogger(rt, "inbound"),
	})
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return c, func() { client.Close() }, nil
}

func newHTTPServer(rt *app.Runtime, store outbox.Store, addr, basePath string) (*http.Server, error) {
	if addr == "" {
		addr = rt.Config.Server.Addr
	}
	if basePath == "" {
		basePath = rt.Config.Server.BasePath
	}
	handler, err := server.New(server.Config{
		Engine:   rt.Engine,
		Events:   store,
		BasePath: basePath,
		Logger:   workerLogger(rt, "http"),
	})
	if err != nil {
		return nil, err
	}
	fmt.Printf("Serving tapline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs, metrics at /metrics)\n", addr, basePath, basePath)
	return &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}, nil
}

func serveUntilDone(ctx context.Context, srv *http.Server) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
