package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/wavetree/discovery"
	"github.com/ryandielhenn/wavetree/internal/config"
	"github.com/ryandielhenn/wavetree/internal/logging"
	"github.com/ryandielhenn/wavetree/internal/telemetry"
	"github.com/ryandielhenn/wavetree/pkg/coordinator"
	"github.com/ryandielhenn/wavetree/pkg/topology"
	"github.com/ryandielhenn/wavetree/pkg/wave"
)

var (
	version = "dev"
	gitSHA  = "unknown"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "wave:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("wave", flag.ContinueOnError)
	cfgPath := fs.String("config", "", "TOML config file")
	graph := fs.String("graph", "", "adjacency file (overrides config)")
	root := fs.String("root", "", "root vertex id (overrides config)")
	settle := fs.Duration("settle", -1, "wait after triggering the root (overrides config)")
	initTimeout := fs.Duration("init-timeout", 0, "bound on each Init/InitAck round trip (overrides config)")
	jitter := fs.Duration("jitter", -1, "random per-message link delay (overrides config)")
	metricsAddr := fs.String("metrics-addr", "", "serve /metrics and /healthz on this address")
	publish := fs.Bool("publish", false, "write the graph file to etcd and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}

	// 1. Resolve configuration: defaults, file, env, flags.
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return err
	}
	if *graph != "" {
		cfg.GraphFile = *graph
	}
	if *root != "" {
		cfg.Root = *root
	}
	if *settle >= 0 {
		cfg.Settle.Duration = *settle
	}
	if *initTimeout > 0 {
		cfg.InitTimeout.Duration = *initTimeout
	}
	if *jitter >= 0 {
		cfg.Jitter.Duration = *jitter
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	log, err := logging.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = log.Sync() }()
	telemetry.SetBuildInfo(version, gitSHA)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *publish {
		return publishGraph(ctx, cfg, log)
	}

	// 2. Load the topology.
	g, err := loadGraph(ctx, cfg, log)
	if err != nil {
		return err
	}
	log.Info("topology loaded", zap.Int("vertices", g.Len()), zap.Int("edges", g.Edges()))

	// 3. Observability listener.
	status := &runStatus{}
	if cfg.MetricsAddr != "" {
		srv := newObservabilityServer(listenAddr(cfg.MetricsAddr, "9102"), status)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics listener", zap.Error(err))
			}
		}()
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = srv.Shutdown(sctx)
		}()
		log.Info("metrics listening", zap.String("addr", srv.Addr))
	}

	// 4. Run the wave.
	c := coordinator.New(g, coordinator.Options{
		Root:        wave.NodeID(cfg.Root),
		InitTimeout: cfg.InitTimeout.Duration,
		Settle:      cfg.Settle.Duration,
		Jitter:      cfg.Jitter.Duration,
		Logger:      log,
	})
	status.set("running", nil)
	tree, err := c.Run(ctx)
	if err != nil {
		status.set("failed", nil)
		return err
	}
	status.set("done", &tree)

	// 5. Report.
	if err := tree.Format(os.Stdout); err != nil {
		return err
	}
	if err := tree.Validate(); err != nil {
		log.Warn("tree check failed", zap.Error(err))
	}
	if missing := tree.Missing(); len(missing) > 0 {
		log.Warn("wave did not reach every reachable vertex before teardown",
			zap.Int("missing", len(missing)), zap.Duration("settle", cfg.Settle.Duration))
	}
	return nil
}

func loadGraph(ctx context.Context, cfg config.Config, log *zap.Logger) (topology.Graph, error) {
	if !cfg.UsesEtcd() {
		if cfg.GraphFile == "" {
			return topology.Graph{}, errors.New("no topology: set graph_file, -graph or etcd endpoints")
		}
		return topology.LoadFile(cfg.GraphFile)
	}
	log.Info("loading topology from etcd", zap.Strings("endpoints", cfg.Etcd.Endpoints), zap.String("prefix", cfg.Etcd.Prefix))
	cli, err := discovery.NewClient(cfg.Etcd.Endpoints)
	if err != nil {
		return topology.Graph{}, fmt.Errorf("etcd client: %w", err)
	}
	defer cli.Close()
	return discovery.LoadTopology(ctx, cli, cfg.Etcd.Prefix)
}

func publishGraph(ctx context.Context, cfg config.Config, log *zap.Logger) error {
	if !cfg.UsesEtcd() {
		return errors.New("-publish needs etcd endpoints")
	}
	if cfg.GraphFile == "" {
		return errors.New("-publish needs a graph file")
	}
	g, err := topology.LoadFile(cfg.GraphFile)
	if err != nil {
		return err
	}
	cli, err := discovery.NewClient(cfg.Etcd.Endpoints)
	if err != nil {
		return fmt.Errorf("etcd client: %w", err)
	}
	defer cli.Close()
	if err := discovery.PublishTopology(ctx, cli, cfg.Etcd.Prefix, g); err != nil {
		return err
	}
	log.Info("topology published", zap.Int("vertices", g.Len()), zap.String("prefix", cfg.Etcd.Prefix))
	return nil
}
