package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/cfx-go/cfxcore/config"
	"github.com/cfx-go/cfxcore/internal/blockdata"
	"github.com/cfx-go/cfxcore/internal/p2p"
	"github.com/cfx-go/cfxcore/internal/statesync"
	chainsync "github.com/cfx-go/cfxcore/internal/sync"
	"github.com/cfx-go/cfxcore/internal/sync/request"
	"github.com/cfx-go/cfxcore/libs/log"
)

const metricsShutdownTimeout = 5 * time.Second

// Node owns the database and the sync reactor of a single peer.
type Node struct {
	config *config.Config
	logger log.Logger

	db      *blockdata.DBManager
	reactor *chainsync.Reactor

	metricsListener net.Listener
	metricsServer   *http.Server
}

// New opens the database selected by cfg and builds the sync reactor on
// top of channel. Restored snapshots are passed to sink.
func New(cfg *config.Config, logger log.Logger, channel *p2p.Channel, sink statesync.StateSink) (*Node, error) {
	if err := cfg.ValidateBasic(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	var (
		dbMetrics        = blockdata.NopMetrics()
		requestMetrics   = request.NopMetrics()
		stateSyncMetrics = statesync.NopMetrics()
	)
	if cfg.Instrumentation.Prometheus {
		ns := cfg.Instrumentation.Namespace
		dbMetrics = blockdata.PrometheusMetrics(ns, "moniker", cfg.Moniker)
		requestMetrics = request.PrometheusMetrics(ns, "moniker", cfg.Moniker)
		stateSyncMetrics = statesync.PrometheusMetrics(ns, "moniker", cfg.Moniker)
	}

	db, err := blockdata.OpenDBManager(cfg.Storage, logger, dbMetrics)
	if err != nil {
		return nil, err
	}

	n := &Node{
		config: cfg,
		logger: logger,
		db:     db,
		reactor: chainsync.NewReactor(
			logger.With("module", "sync"),
			cfg,
			db,
			sink,
			channel,
			chainsync.WithRequestMetrics(requestMetrics),
			chainsync.WithStateSyncMetrics(stateSyncMetrics),
		),
	}

	if cfg.Instrumentation.Prometheus {
		ln, err := net.Listen("tcp", cfg.Instrumentation.PrometheusListenAddr)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to listen for metrics: %w", err)
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		n.metricsListener = ln
		n.metricsServer = &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
	}
	return n, nil
}

// Run starts the reactor and the metrics server and blocks until ctx is
// done. The database is closed before Run returns.
func (n *Node) Run(ctx context.Context) error {
	defer func() {
		if err := n.db.Close(); err != nil {
			n.logger.Error("failed to close database", "err", err)
		}
	}()

	if err := n.reactor.Start(ctx); err != nil {
		if n.metricsListener != nil {
			n.metricsListener.Close()
		}
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	if n.metricsServer != nil {
		g.Go(func() error {
			n.logger.Info("serving metrics", "addr", n.metricsListener.Addr().String())
			if err := n.metricsServer.Serve(n.metricsListener); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
			defer cancel()
			return n.metricsServer.Shutdown(sctx)
		})
	}

	<-gctx.Done()
	n.reactor.Stop()
	n.reactor.Wait()
	return g.Wait()
}

// MetricsAddr returns the address the metrics server listens on, or nil
// when Prometheus is disabled.
func (n *Node) MetricsAddr() net.Addr {
	if n.metricsListener == nil {
		return nil
	}
	return n.metricsListener.Addr()
}

// DB returns the node's database.
func (n *Node) DB() *blockdata.DBManager { return n.db }

// Reactor returns the node's sync reactor.
func (n *Node) Reactor() *chainsync.Reactor { return n.reactor }
