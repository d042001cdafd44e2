// Package app wires the catalog, the namespace guard, the projector and the
// front ends into one service lifecycle.
package app

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	grpcapi "github.com/sysview/sysview/internal/api/grpc"
	httpapi "github.com/sysview/sysview/internal/api/http"
	"github.com/sysview/sysview/internal/api/wire"
	"github.com/sysview/sysview/internal/catalog"
	"github.com/sysview/sysview/internal/config"
	"github.com/sysview/sysview/internal/namespace"
	"github.com/sysview/sysview/internal/observability"
	"github.com/sysview/sysview/internal/projector"
	"github.com/sysview/sysview/internal/router"
	"github.com/sysview/sysview/internal/server"
)

// schemaStore is a catalog that can be read, written and closed.
type schemaStore interface {
	catalog.SnapshotReader
	catalog.SchemaManager
	Close() error
}

// App manages the service lifecycle.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	catalog  schemaStore
	stats    *observability.AccessStats
	router   *router.Router
	shutdown *server.ShutdownManager

	httpServer   *http.Server
	httpListener net.Listener
	grpcServer   *grpc.Server
	grpcListener net.Listener

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a new App with the given configuration. logger may be nil.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{cfg: cfg, logger: logger}, nil
}

// Start opens the catalog and starts the configured front ends.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("app is already running")
	}
	a.running = true
	a.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if err := a.initSharedResources(ctx); err != nil {
		a.cleanup()
		return fmt.Errorf("failed to initialize shared resources: %w", err)
	}

	dispatcher := wire.NewDispatcher(a.router)

	if err := a.startHTTP(dispatcher); err != nil {
		a.cleanup()
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	if a.cfg.GRPC.Enabled {
		if err := a.startGRPC(dispatcher); err != nil {
			a.cleanup()
			return fmt.Errorf("failed to start gRPC server: %w", err)
		}
	}

	a.startStatsPruner(ctx)
	a.watchSchemaChanges(ctx)

	a.logger.Info("sysview started",
		zap.String("http_addr", a.HTTPAddr()),
		zap.Bool("grpc_enabled", a.cfg.GRPC.Enabled),
		zap.String("catalog", a.cfg.Catalog.Type),
		zap.String("prefix", a.cfg.Namespace.Prefix))
	return nil
}

// initSharedResources opens the catalog and builds the router.
func (a *App) initSharedResources(ctx context.Context) error {
	switch a.cfg.Catalog.Type {
	case config.CatalogSQLite:
		cat, err := catalog.NewCatalog(a.cfg.Catalog.Path)
		if err != nil {
			return fmt.Errorf("failed to open catalog: %w", err)
		}
		a.catalog = cat
		if err := catalog.Bootstrap(ctx, cat); err != nil {
			return fmt.Errorf("failed to bootstrap catalog: %w", err)
		}
		a.logger.Info("catalog initialized", zap.String("path", a.cfg.Catalog.Path))
	case config.CatalogCQL:
		cqlCfg := a.cfg.Catalog.CQL
		cat, err := catalog.NewCQLCatalog(catalog.CQLConfig{
			Hosts:       cqlCfg.Hosts,
			Timeout:     cqlCfg.Timeout,
			Consistency: cqlCfg.Consistency,
			Username:    cqlCfg.Username,
			Password:    cqlCfg.Password,
		})
		if err != nil {
			return err
		}
		a.catalog = cat
		a.logger.Info("cql catalog connected", zap.Strings("hosts", cqlCfg.Hosts))
	default:
		return fmt.Errorf("unsupported catalog type: %s", a.cfg.Catalog.Type)
	}

	opts := []namespace.Option{namespace.WithPrefix(a.cfg.Namespace.Prefix)}
	if !a.cfg.Namespace.VirtualTablesEnabled {
		opts = append(opts, namespace.WithVirtualTablesDisabled())
	}
	known, err := projector.KnownTables(ctx, a.catalog)
	if err != nil {
		return fmt.Errorf("failed to list virtual tables: %w", err)
	}
	guard := namespace.NewGuard(known, opts...)
	a.logger.Info("virtual tables registered", zap.Int("count", len(known)))

	a.stats = observability.NewAccessStats(a.cfg.Stats.Window)
	a.router = router.New(
		guard,
		projector.New(a.catalog),
		router.NewCatalogTables(a.catalog, a.catalog),
		a.stats,
		a.logger,
	)

	a.shutdown = server.NewShutdownManager(server.DefaultShutdownConfig(), a.logger)
	return nil
}

// startHTTP starts the DynamoDB JSON endpoint along with /health and /stats.
func (a *App) startHTTP(dispatcher *wire.Dispatcher) error {
	handler := httpapi.NewHandler(dispatcher, a.cfg.IsPrivileged, a.logger)

	middleware := httpapi.ChainMiddleware(
		server.ShutdownMiddleware(a.shutdown),
		httpapi.RecoveryMiddleware(a.logger),
		httpapi.RequestIDMiddleware,
	)

	mux := http.NewServeMux()
	mux.Handle("/", middleware(handler))
	mux.HandleFunc("/health", a.healthHandler())
	mux.Handle("/stats", httpapi.StatsHandler(a.stats))

	a.httpServer = &http.Server{
		Handler:      mux,
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
		IdleTimeout:  a.cfg.HTTP.IdleTimeout,
	}

	var err error
	a.httpListener, err = net.Listen("tcp", a.cfg.HTTP.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.cfg.HTTP.Addr, err)
	}
	a.shutdown.RegisterCloser("http", server.HTTPServerCloser(a.httpServer, 10*time.Second))

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.logger.Info("HTTP server listening", zap.String("addr", a.httpListener.Addr().String()))
		if err := a.httpServer.Serve(a.httpListener); err != nil && err != http.ErrServerClosed {
			a.logger.Error("HTTP server error", zap.Error(err))
		}
	}()
	return nil
}

// startGRPC starts the VirtualTables gRPC service.
func (a *App) startGRPC(dispatcher *wire.Dispatcher) error {
	a.grpcServer = grpc.NewServer(grpc.ChainUnaryInterceptor(server.UnaryInterceptor(a.shutdown)))
	grpcapi.Register(a.grpcServer, grpcapi.NewServer(dispatcher, a.cfg.IsPrivileged, a.logger))

	var err error
	a.grpcListener, err = net.Listen("tcp", a.cfg.GRPC.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on gRPC address: %w", err)
	}

	a.shutdown.RegisterCloser("grpc", server.CloserFunc(func() error {
		a.grpcServer.GracefulStop()
		return nil
	}))

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.logger.Info("gRPC server listening", zap.String("addr", a.grpcListener.Addr().String()))
		if err := a.grpcServer.Serve(a.grpcListener); err != nil {
			a.logger.Error("gRPC server error", zap.Error(err))
		}
	}()
	return nil
}

// startStatsPruner drops idle tables from the access statistics until ctx
// is cancelled.
func (a *App) startStatsPruner(ctx context.Context) {
	interval := a.cfg.Stats.PruneInterval
	if interval <= 0 || a.cfg.Stats.Window <= 0 {
		return
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.stats.Prune()
			}
		}
	}()
}

// watchSchemaChanges logs user table changes and forgets the statistics of
// deleted tables.
func (a *App) watchSchemaChanges(ctx context.Context) {
	notifier := a.router.Notifier()
	sub := notifier.SubscribeAutoID()
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer notifier.Unsubscribe(sub.ID)
		for {
			select {
			case <-ctx.Done():
				return
			case change := <-sub.Ch:
				a.logger.Info("schema changed",
					zap.Stringer("type", change.Type),
					zap.String("table", change.TableName),
					zap.String("keyspace", change.Keyspace))
				if change.Type == router.TableDeleted {
					a.stats.Forget(change.TableName)
				}
			}
		}
	}()
}

// HTTPAddr returns the address the HTTP server listens on, or the configured
// address before Start.
func (a *App) HTTPAddr() string {
	if a.httpListener != nil {
		return a.httpListener.Addr().String()
	}
	return a.cfg.HTTP.Addr
}

// GRPCAddr returns the address the gRPC server listens on, or the configured
// address before Start.
func (a *App) GRPCAddr() string {
	if a.grpcListener != nil {
		return a.grpcListener.Addr().String()
	}
	return a.cfg.GRPC.Addr
}

// Stop gracefully stops the servers and releases resources.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	a.mu.Unlock()

	a.logger.Info("initiating graceful shutdown")

	err := a.shutdown.Shutdown(ctx, "stop requested")

	if a.cancel != nil {
		a.cancel()
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		a.logger.Warn("shutdown timeout, some goroutines may not have finished")
	}

	a.cleanup()
	a.logger.Info("sysview stopped")
	return err
}

// cleanup releases shared resources after a failed Start or a Stop.
func (a *App) cleanup() {
	if a.shutdown != nil {
		a.shutdown.Shutdown(context.Background(), "cleanup")
	}
	if a.cancel != nil {
		a.cancel()
	}
	if a.catalog != nil {
		if err := a.catalog.Close(); err != nil {
			a.logger.Warn("failed to close catalog", zap.Error(err))
		}
		a.catalog = nil
	}
	a.mu.Lock()
	a.running = false
	a.mu.Unlock()
}

func (a *App) healthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if a.shutdown.IsShuttingDown() {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, `{"status":"shutting_down","service":"sysview"}`)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"healthy","service":"sysview","catalog":"%s"}`, a.cfg.Catalog.Type)
	}
}

// WaitForShutdown blocks until a shutdown signal is received or ctx is
// cancelled, then stops the app.
func (a *App) WaitForShutdown(ctx context.Context) error {
	if err := a.shutdown.ListenForSignals(ctx); err != nil {
		a.logger.Error("shutdown error", zap.Error(err))
	}
	return a.Stop(context.Background())
}
