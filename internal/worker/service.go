// Package worker provides the synapse HTTP and websocket service.
package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm/logger"

	"github.com/thebtf/synapse/internal/clustering"
	"github.com/thebtf/synapse/internal/config"
	gormdb "github.com/thebtf/synapse/internal/db/gorm"
	"github.com/thebtf/synapse/internal/maintenance"
	"github.com/thebtf/synapse/internal/physics"
	"github.com/thebtf/synapse/internal/watcher"
	"github.com/thebtf/synapse/internal/worker/ratelimit"
	"github.com/thebtf/synapse/internal/worker/realtime"
	"github.com/thebtf/synapse/internal/worker/session"
	"github.com/thebtf/synapse/pkg/models"
)

// Service configuration constants
const (
	// DefaultHTTPTimeout is the default timeout for REST requests.
	DefaultHTTPTimeout = 30 * time.Second

	// ReadyPollInterval is how often WaitReady checks initialization status.
	ReadyPollInterval = 50 * time.Millisecond

	// MaxRequestBody bounds REST request bodies.
	MaxRequestBody = 4 << 20
)

// Embedder turns item text into an embedding vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Dependencies are optional collaborators supplied by the caller.
type Dependencies struct {
	// Store is used instead of opening one from the config.
	Store *gormdb.Store
	// Namer names clusters when a request asks for external naming.
	Namer clustering.Namer
	// Embedder fills in embeddings for bodies added without one.
	Embedder Embedder
	// Meter receives realtime metrics; nil uses the global provider.
	Meter metric.Meter
	// SettingsPath is watched for physics changes; empty disables hot reload.
	SettingsPath string
}

// Service is the main synapse service orchestrator.
type Service struct {
	version string
	config  *config.Config
	deps    Dependencies
	log     zerolog.Logger

	// Database
	store      *gormdb.Store
	workspaces *gormdb.WorkspaceStore
	items      *gormdb.ItemStore
	clusters   *gormdb.ClusterStore

	// Domain services
	registry    *physics.Registry
	rooms       *session.Manager
	broadcaster *realtime.Broadcaster
	clusterer   *clustering.Engine
	checkpoint  *maintenance.Service

	// Request protection
	auth            *TokenAuth
	requestLimiter  *ratelimit.PerClient
	cursorLimiter   *ratelimit.PerClient
	computeCooldown *Cooldown
	computeGroup    singleflight.Group

	// HTTP server
	router    *chi.Mux
	server    *http.Server
	startTime time.Time

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Initialization state (for deferred init)
	ready     atomic.Bool
	initError error
	initMu    sync.RWMutex

	configWatcher *watcher.Watcher
}

// NewService creates the service with deferred initialization. The health
// endpoint answers immediately while the database is opened and the physics
// registry is seeded in the background.
func NewService(version string, cfg *config.Config, deps Dependencies, log zerolog.Logger) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	log = log.With().Str("component", "worker").Logger()

	svc := &Service{
		version:         version,
		config:          cfg,
		deps:            deps,
		log:             log,
		registry:        physics.NewRegistry(cfg.Physics),
		rooms:           session.NewManager(),
		clusterer:       clustering.NewEngine(deps.Namer, log),
		auth:            NewTokenAuth(cfg.APIToken),
		requestLimiter:  ratelimit.NewPerClient(cfg.RequestRate, cfg.RequestBurst),
		cursorLimiter:   ratelimit.NewPerClient(cfg.CursorRate, cfg.CursorBurst),
		computeCooldown: NewCooldown(cfg.ClusterCooldown),
		router:          chi.NewRouter(),
		ctx:             ctx,
		cancel:          cancel,
		startTime:       time.Now(),
	}

	svc.setupMiddleware()
	svc.setupRoutes()

	go svc.initializeAsync()

	return svc
}

// initializeAsync opens storage, rebuilds physics state and starts the tick loop.
func (s *Service) initializeAsync() {
	s.log.Info().Msg("Starting async initialization...")

	store := s.deps.Store
	if store == nil {
		if s.config.DatabaseDSN == "" {
			if err := config.EnsureDataDir(); err != nil {
				s.setInitError(fmt.Errorf("ensure data dir: %w", err))
				return
			}
		}
		var err error
		store, err = gormdb.NewStore(gormdb.Config{
			DSN:      s.config.DatabaseDSN,
			Path:     s.config.DBPath,
			MaxConns: s.config.MaxConns,
			LogLevel: logger.Warn,
		})
		if err != nil {
			s.setInitError(fmt.Errorf("init database: %w", err))
			return
		}
	}

	workspaces := gormdb.NewWorkspaceStore(store)
	items := gormdb.NewItemStore(store)
	clusters := gormdb.NewClusterStore(store)

	broadcaster, err := realtime.NewBroadcaster(s.rooms, s.registry, s.log,
		realtime.WithTickInterval(s.config.TickInterval),
		realtime.WithSendBuffer(s.config.SendBuffer),
		realtime.WithItemWriter(items),
		realtime.WithCursorLimiter(s.cursorLimiter),
		realtime.WithAllowedOrigins(s.config.AllowedOrigins),
		realtime.WithMeter(s.deps.Meter),
	)
	if err != nil {
		s.setInitError(fmt.Errorf("init broadcaster: %w", err))
		return
	}
	checkpoint := maintenance.NewService(s.registry, items, s.config.CheckpointInterval, s.log)

	s.initMu.Lock()
	s.store = store
	s.workspaces = workspaces
	s.items = items
	s.clusters = clusters
	s.broadcaster = broadcaster
	s.checkpoint = checkpoint
	s.initMu.Unlock()

	if err := s.seed(s.ctx); err != nil {
		s.setInitError(err)
		return
	}

	s.rooms.SetOnRoomOpened(func(workspaceID string) {
		s.log.Debug().Str("workspace", workspaceID).Msg("Room opened")
	})
	s.rooms.SetOnRoomClosed(func(workspaceID string) {
		dropped := s.registry.DropEmpty(workspaceID)
		s.log.Debug().Str("workspace", workspaceID).Bool("engineDropped", dropped).Msg("Room closed")
	})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		broadcaster.Start(s.ctx)
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		checkpoint.Start(s.ctx)
	}()

	s.ready.Store(true)
	s.log.Info().
		Int("workspaces", s.registry.Len()).
		Str("dialect", store.Dialect()).
		Msg("Async initialization complete - service ready")

	s.startWatchers()
}

// seed rebuilds every workspace engine from stored item positions.
func (s *Service) seed(ctx context.Context) error {
	var (
		workspaces []*models.Workspace
		items      []*models.Item
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		workspaces, err = s.workspaces.ListWorkspaces(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		items, err = s.items.ListAllItems(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("seed physics: %w", err)
	}

	for _, ws := range workspaces {
		s.registry.SetOverrides(ws.ID, workspaceOverrides(ws))
	}
	for _, item := range items {
		s.registry.AddBody(item.WorkspaceID, bodyFromItem(item))
	}

	s.log.Info().
		Int("workspaces", len(workspaces)).
		Int("bodies", len(items)).
		Msg("Physics state rebuilt from store")
	return nil
}

// workspaceOverrides maps stored workspace settings onto engine overrides.
// Unset (non-positive) values keep the global configuration.
func workspaceOverrides(ws *models.Workspace) physics.Overrides {
	var o physics.Overrides
	if ws.GravityStrength > 0 {
		g := ws.GravityStrength
		o.GravityStrength = &g
	}
	if ws.SimilarityThreshold > 0 {
		t := ws.SimilarityThreshold
		o.SimilarityThreshold = &t
	}
	return o
}

func bodyFromItem(item *models.Item) physics.Body {
	return physics.Body{
		ID:        item.ID,
		X:         item.PositionX,
		Y:         item.PositionY,
		VX:        item.VelocityX,
		VY:        item.VelocityY,
		Mass:      item.Mass,
		Radius:    item.Radius,
		Embedding: []float32(item.Embedding),
		ClusterID: item.ClusterID,
	}
}

// startWatchers starts the settings file watcher for physics hot reload.
func (s *Service) startWatchers() {
	path := s.deps.SettingsPath
	if path == "" {
		return
	}

	configWatcher, err := watcher.New(path, func() {
		s.log.Info().Str("path", path).Msg("Settings file changed, reloading physics...")
		s.reloadPhysics(path)
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to create config watcher")
		return
	}
	if err := configWatcher.Start(); err != nil {
		s.log.Warn().Err(err).Msg("Failed to start config watcher")
		return
	}

	s.initMu.Lock()
	s.configWatcher = configWatcher
	s.initMu.Unlock()
	s.log.Info().Str("path", path).Msg("Config file watcher started")
}

// reloadPhysics re-reads physics tunables and applies them to every engine.
// Keys missing from the file fall back to the startup configuration.
func (s *Service) reloadPhysics(path string) {
	cfg, err := config.LoadPhysics(path, s.config.Physics)
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to reload physics settings, keeping current values")
		return
	}
	s.registry.SetConfig(cfg)
	s.log.Info().
		Float64("gravity", cfg.GravityStrength).
		Float64("threshold", cfg.SimilarityThreshold).
		Msg("Physics settings reloaded")
}

// setInitError records an initialization error.
func (s *Service) setInitError(err error) {
	s.initMu.Lock()
	s.initError = err
	s.initMu.Unlock()
	s.log.Error().Err(err).Msg("Async initialization failed")
}

// GetInitError returns any initialization error.
func (s *Service) GetInitError() error {
	s.initMu.RLock()
	defer s.initMu.RUnlock()
	return s.initError
}

// WaitReady blocks until initialization finishes, fails, or ctx ends.
func (s *Service) WaitReady(ctx context.Context) error {
	ticker := time.NewTicker(ReadyPollInterval)
	defer ticker.Stop()
	for {
		if s.ready.Load() {
			return nil
		}
		if err := s.GetInitError(); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Handler returns the root HTTP handler.
func (s *Service) Handler() http.Handler {
	return s.router
}

// setupMiddleware configures HTTP middleware shared by every route.
func (s *Service) setupMiddleware() {
	s.router.Use(RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(SecurityHeaders(s.config.AllowedOrigins))
	s.router.Use(s.auth.Middleware)
	s.router.Use(ratelimit.Middleware(s.requestLimiter))
}

// setupRoutes configures HTTP routes.
func (s *Service) setupRoutes() {
	// Health answers during init so orchestration can poll early.
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/api/health", s.handleHealth)
	s.router.Get("/api/ready", s.handleReady)

	// Websocket connections are long lived and stay outside the REST timeout.
	s.router.With(s.requireReady).Get("/ws", s.handleWS)

	s.router.Group(func(r chi.Router) {
		r.Use(s.requireReady)
		r.Use(middleware.Timeout(DefaultHTTPTimeout))
		r.Use(MaxBodySize(MaxRequestBody))
		r.Use(RequireJSONContentType)

		r.Get("/api/stats", s.handleStats)

		r.Route("/api/workspaces/{workspaceID}", func(r chi.Router) {
			r.Use(requireWorkspaceID)

			r.Get("/physics/state", s.handlePhysicsState)
			r.Put("/physics/settings", s.handleUpdatePhysicsSettings)
			r.Post("/physics/bodies", s.handleAddBody)
			r.Delete("/physics/bodies/{itemID}", s.handleRemoveBody)
			r.Put("/physics/bodies/{itemID}/position", s.handleRepositionBody)
			r.Post("/physics/suggest", s.handleSuggestPosition)
			r.Get("/items/{itemID}/neighbors", s.handleNeighbors)
		})

		r.Route("/api/clusters", func(r chi.Router) {
			r.With(requireWorkspaceID).Get("/workspace/{workspaceID}", s.handleListClusters)
			r.With(requireWorkspaceID).Post("/workspace/{workspaceID}", s.handleCreateCluster)
			r.With(requireWorkspaceID).Post("/workspace/{workspaceID}/compute", s.handleComputeClusters)

			r.Get("/{clusterID}", s.handleGetCluster)
			r.Patch("/{clusterID}", s.handleUpdateCluster)
			r.Delete("/{clusterID}", s.handleDeleteCluster)
			r.Post("/{clusterID}/items/{itemID}", s.handleAddClusterItem)
			r.Delete("/{clusterID}/items/{itemID}", s.handleRemoveClusterItem)
		})
	})
}

// Start starts the HTTP server. Database initialization continues in the
// background.
func (s *Service) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("HTTP server error")
		}
	}()

	s.log.Info().
		Int("port", s.config.Port).
		Int("pid", os.Getpid()).
		Bool("auth", s.auth.IsEnabled()).
		Msg("Synapse HTTP server started (initialization in progress)")

	return nil
}

// Shutdown stops the tick loop and the HTTP server, writes a final position
// checkpoint and closes the store.
func (s *Service) Shutdown(ctx context.Context) error {
	s.cancel()

	s.initMu.RLock()
	configWatcher := s.configWatcher
	broadcaster := s.broadcaster
	checkpoint := s.checkpoint
	store := s.store
	s.initMu.RUnlock()

	if configWatcher != nil {
		_ = configWatcher.Stop()
	}

	if broadcaster != nil {
		broadcaster.Stop()
	}
	if checkpoint != nil {
		checkpoint.Stop()
	}

	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			s.log.Error().Err(err).Msg("HTTP server shutdown error")
		}
	}

	s.wg.Wait()

	if checkpoint != nil && checkpoint.Enabled() {
		if saved, err := checkpoint.RunOnce(ctx); err != nil {
			s.log.Error().Err(err).Msg("Final checkpoint failed")
		} else {
			s.log.Info().Int64("saved", saved).Msg("Final checkpoint written")
		}
	}

	if store != nil {
		if err := store.Close(); err != nil {
			s.log.Error().Err(err).Msg("Database close error")
		}
	}

	s.log.Info().Msg("Synapse service shutdown complete")
	return nil
}
