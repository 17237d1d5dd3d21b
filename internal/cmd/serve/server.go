package serve

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/chirino/conversation-tree/internal/config"
	"github.com/chirino/conversation-tree/internal/plugin/route/branches"
	"github.com/chirino/conversation-tree/internal/plugin/route/conversations"
	"github.com/chirino/conversation-tree/internal/plugin/route/fork"
	"github.com/chirino/conversation-tree/internal/plugin/route/messages"
	"github.com/chirino/conversation-tree/internal/plugin/route/shares"
	routesystem "github.com/chirino/conversation-tree/internal/plugin/route/system"
	storemetrics "github.com/chirino/conversation-tree/internal/plugin/store/metrics"
	registrycache "github.com/chirino/conversation-tree/internal/registry/cache"
	registrymigrate "github.com/chirino/conversation-tree/internal/registry/migrate"
	registryroute "github.com/chirino/conversation-tree/internal/registry/route"
	registrystore "github.com/chirino/conversation-tree/internal/registry/store"
	"github.com/chirino/conversation-tree/internal/security"
	"github.com/gin-gonic/gin"
)

// Server holds the running server and its subsystems.
type Server struct {
	Config          *config.Config
	Store           registrystore.Store
	Router          *gin.Engine
	Running         *RunningServers
	closeManagement func(context.Context) error
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.closeManagement != nil {
		_ = s.closeManagement(ctx)
	}
	return s.Running.Close(ctx)
}

// StartServer initializes all subsystems and starts HTTP on a single port.
// Use cfg.Listener.Port=0 for a random port. Actual port: Server.Running.Port.
func StartServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	log.Info("Starting conversation-tree service",
		"httpPort", cfg.Listener.Port,
		"db", cfg.DatastoreType,
		"cache", cfg.CacheType,
	)

	// Initialize Prometheus metrics with configured constant labels.
	metricsLabels, err := security.ParseMetricsLabels(cfg.MetricsLabels)
	if err != nil {
		return nil, fmt.Errorf("invalid --metrics-labels: %w", err)
	}
	security.InitMetrics(metricsLabels)

	ctx = config.WithContext(ctx, cfg)

	// Run migrations
	if cfg.DatastoreMigrateAtStart {
		if err := registrymigrate.RunAll(ctx); err != nil {
			return nil, fmt.Errorf("migrations failed: %w", err)
		}
	}

	// Initialize cache and inject into context so the store loader can read it.
	if cacheLoader, err := registrycache.Select(cfg.CacheType); err != nil {
		log.Warn("Cache not available", "cache", cfg.CacheType, "err", err)
	} else if lineageCache, err := cacheLoader(ctx); err != nil {
		log.Warn("Failed to initialize cache", "cache", cfg.CacheType, "err", err)
	} else {
		ctx = registrycache.WithLineageCacheContext(ctx, lineageCache)
	}

	// Initialize store
	storeLoader, err := registrystore.Select(cfg.DatastoreType)
	if err != nil {
		return nil, err
	}
	store, err := storeLoader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	store = storemetrics.Wrap(store)

	// Set up gin
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.ManagementAccessLog {
		router.Use(security.AccessLogMiddleware())
	} else {
		router.Use(security.AccessLogMiddleware("/health", "/ready", "/metrics"))
	}
	router.Use(security.MetricsMiddleware())
	router.Use(maxBodySizeMiddleware(cfg.MaxBodySize))
	if cfg.CORSEnabled {
		router.Use(corsMiddleware(cfg.CORSOrigins))
	}

	// Mount the conversation-tree HTTP surface.
	conversations.MountRoutes(router, store)
	messages.MountRoutes(router, store)
	branches.MountRoutes(router, store)
	fork.MountRoutes(router, store)
	shares.MountRoutes(router, store)

	// Mount management route plugins. If a dedicated management port is
	// configured, run them on a bare gin engine served by the management
	// server. Otherwise, mount them on the main router so single-port
	// behaviour is unchanged.
	var closeManagement func(context.Context) error
	if cfg.ManagementListenerEnabled {
		mgmtRouter := gin.New()
		mgmtRouter.Use(gin.Recovery())
		if cfg.ManagementAccessLog {
			mgmtRouter.Use(security.AccessLogMiddleware())
		}
		for _, loader := range registryroute.ManagementRouteLoaders() {
			if err := loader(mgmtRouter); err != nil {
				return nil, fmt.Errorf("failed to load management routes: %w", err)
			}
		}
		// Management listener shares TLS cert/key with the main listener.
		mgmtCfg := cfg.ManagementListener
		mgmtCfg.TLSCertFile = cfg.Listener.TLSCertFile
		mgmtCfg.TLSKeyFile = cfg.Listener.TLSKeyFile
		_, closeManagement, err = startManagementServer(mgmtCfg, mgmtRouter)
		if err != nil {
			return nil, fmt.Errorf("failed to start management server: %w", err)
		}
	} else {
		for _, loader := range registryroute.ManagementRouteLoaders() {
			if err := loader(router); err != nil {
				return nil, fmt.Errorf("failed to load management routes: %w", err)
			}
		}
	}

	// Start single-port HTTP
	running, err := StartSinglePortHTTP(ctx, cfg.Listener, router)
	if err != nil {
		return nil, err
	}

	log.Info("Server listening",
		"port", running.Port,
		"plaintext", cfg.Listener.EnablePlainText,
		"tls", cfg.Listener.EnableTLS,
	)

	routesystem.MarkReady()
	return &Server{
		Config:          cfg,
		Store:           store,
		Router:          router,
		Running:         running,
		closeManagement: closeManagement,
	}, nil
}
