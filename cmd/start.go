package cmd

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"remote-cache/core/backing"
	"remote-cache/core/config"
	"remote-cache/core/index"
	"remote-cache/core/loader"
	"remote-cache/core/logger"
	"remote-cache/core/middleware/auth"
	"remote-cache/core/middleware/rayid"
	"remote-cache/core/refresh"

	"remote-cache/feature/cache"
	"remote-cache/feature/debuglog"

	"github.com/gofiber/fiber/v2"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var refreshOnStart bool

// startCmd represents the start command
var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the remote cache server",
	Long:  `Starts the HTTP server and initializes all enabled features.`,
	Run: func(cmd *cobra.Command, args []string) {
		// 1. Load Configuration
		cfg, err := config.LoadConfig(".")
		if err != nil {
			log.Fatalf("Failed to load configuration: %v", err)
		}

		// 2. Initialize Logger
		logg, err := logger.New(&cfg.Log)
		if err != nil {
			log.Fatalf("Failed to initialize logger: %v", err)
		}
		defer logg.Sync()
		zap.ReplaceGlobals(logg)

		// 3. Open the Index
		// The index is the source of truth for existence checks. A database
		// that cannot be opened or migrated means the server would answer
		// queries from nothing, so this is fatal rather than degraded.
		idx, err := index.Open(cfg.Index)
		if err != nil {
			logg.Fatal("Failed to open index", zap.Error(err))
		}

		// 4. Initialize Backing Store
		store, err := backing.NewStore(cfg.Backing)
		if err != nil {
			logg.Fatal("Failed to create backing store", zap.Error(err))
		}

		// 5. Refresh Coordinator
		coordinator := refresh.NewCoordinator(
			refresh.NewReconciler(idx, store, logg, 0), logg)

		// 6. Initialize Fiber App
		app := fiber.New(fiber.Config{
			DisableStartupMessage: true, // We will log our own startup message
		})

		// 7. Initialize Feature Loader
		mgr := loader.NewManager()

		// Register Features
		cacheFeature := cache.NewFeature(idx, store, coordinator, logg)
		mgr.Register(cacheFeature)
		mgr.Register(debuglog.NewFeature(logg))

		// Middleware Registration
		// 1. RayID (Must be first to trace everything)
		app.Use(rayid.New())

		// 2. Logging Middleware (Custom to use Zap + RayID)
		app.Use(func(c *fiber.Ctx) error {
			l := logger.WithRayID(logg, c)
			l.Info("Request started",
				zap.String("method", c.Method()),
				zap.String("path", c.Path()),
				zap.String("ip", c.IP()),
			)
			err := c.Next()
			if err != nil {
				l.Error("Request error", zap.Error(err))
			}
			return err
		})

		// 3. Endpoint index (Public)
		app.Get("/", handleEndpointIndex)

		// 4. Auth (Protect API)
		app.Use(auth.New(auth.Config{ApiKey: cfg.Server.ApiKey}))

		// 5. Load Features
		if err := mgr.LoadAll(app); err != nil {
			logg.Fatal("Failed to load features", zap.Error(err))
		}

		logStartupBanner(logg, cfg, cacheFeature.Service())

		// Optionally warm the index before traffic arrives
		if refreshOnStart {
			if err := coordinator.Trigger(refresh.ModeAuto); err != nil {
				logg.Warn("Startup refresh not triggered", zap.Error(err))
			}
		}

		// 6. Start Server
		go func() {
			logg.Info("Starting server", zap.String("port", cfg.Server.Port))
			if err := app.Listen(":" + cfg.Server.Port); err != nil {
				logg.Fatal("Server failed to start", zap.Error(err))
			}
		}()

		// 7. Graceful Shutdown
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)
		<-c
		logg.Info("Shutting down server...")
		_ = app.Shutdown()
	},
}

func init() {
	startCmd.Flags().BoolVar(&refreshOnStart, "refresh", false, "Trigger an auto reconciliation scan on startup")
	RootCmd.AddCommand(startCmd)
}

// logStartupBanner reports where the server points and how full the index is.
func logStartupBanner(logg *zap.Logger, cfg *config.Config, svc *cache.Service) {
	stats, err := svc.HealthStats(context.Background())
	if err != nil {
		logg.Warn("Failed to read index stats", zap.Error(err))
		return
	}
	fields := []zap.Field{
		zap.String("port", cfg.Server.Port),
		zap.String("backing_driver", cfg.Backing.Driver),
		zap.Int64("entries", stats.EntryCount),
		zap.Int("batch_limit", svc.BatchLimit()),
	}
	if cfg.Backing.Driver == backing.DriverS3 {
		fields = append(fields,
			zap.String("endpoint", cfg.Backing.Endpoint),
			zap.String("bucket", cfg.Backing.Bucket))
	} else {
		fields = append(fields, zap.String("root", cfg.Backing.Root))
	}
	if stats.LastRefresh != nil {
		fields = append(fields, zap.Time("last_refresh", *stats.LastRefresh))
	}
	logg.Info("Remote cache server ready", fields...)
}

// handleEndpointIndex lists the available routes for humans poking the
// server with a browser.
func handleEndpointIndex(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"service": "remote-cache",
		"endpoints": []fiber.Map{
			{"method": "GET", "path": "/health", "description": "Index and server statistics"},
			{"method": "GET", "path": "/exists", "description": "Check one key (?key=X)"},
			{"method": "POST", "path": "/exists_batch", "description": "Check many keys (JSON body)"},
			{"method": "GET", "path": "/lookup", "description": "Entry metadata (?key=X)"},
			{"method": "GET", "path": "/get", "description": "Fetch content (?key=X)"},
			{"method": "POST", "path": "/put", "description": "Store content (?key=X)"},
			{"method": "POST", "path": "/refresh", "description": "Trigger a scan (?mode=auto|full|incremental)"},
			{"method": "GET", "path": "/refresh/status", "description": "Latest scan status"},
			{"method": "POST", "path": "/debug/log", "description": "Post a debug snapshot"},
			{"method": "GET", "path": "/debug/log", "description": "Get debug snapshots (?machine=X)"},
			{"method": "GET", "path": "/debug/log/list", "description": "List machines with snapshots"},
			{"method": "GET", "path": "/debug/compare", "description": "Diff two machines (?m1=X&m2=Y)"},
		},
	})
}
