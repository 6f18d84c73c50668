package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mgoffinet/linktrack/cmd"
	"github.com/mgoffinet/linktrack/internal/api"
	"github.com/mgoffinet/linktrack/internal/auth"
	"github.com/mgoffinet/linktrack/internal/cache"
	"github.com/mgoffinet/linktrack/internal/config"
	"github.com/mgoffinet/linktrack/internal/geo"
	"github.com/mgoffinet/linktrack/internal/models"
	"github.com/mgoffinet/linktrack/internal/monitor"
	"github.com/mgoffinet/linktrack/internal/repository"
	"github.com/mgoffinet/linktrack/internal/services"
	"github.com/mgoffinet/linktrack/internal/workers"
	"github.com/spf13/cobra"
)

// RunServerCmd starts the HTTP server and the background processes: the
// visit worker pool and the destination monitor.
var RunServerCmd = &cobra.Command{
	Use:   "run-server",
	Short: "Starts the redirection/tracking API server and background workers.",
	Long: `Initializes the database, the optional Redis resolve cache, the
geolocation provider and the visit worker pool, then serves the public
resolution endpoints and the owner management API.`,
	Run: func(cobraCmd *cobra.Command, args []string) {
		cfg, err := config.LoadConfig()
		if err != nil {
			log.Fatalf("Failed to load configuration: %v", err)
		}

		db, err := repository.OpenDatabase(cfg.Database.Name)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		if err := db.AutoMigrate(&models.Link{}, &models.Visit{}); err != nil {
			log.Fatalf("Failed to migrate database: %v", err)
		}

		linkRepo := repository.NewLinkRepository(db)
		visitRepo := repository.NewVisitRepository(db)
		log.Println("Repositories initialized.")

		// Resolve cache is optional; an empty address runs without Redis.
		var resolveCache *cache.Cache
		if cfg.Cache.RedisAddr != "" {
			resolveCache, err = cache.ConnectRedis(cfg.Cache.RedisAddr, cfg.Cache.RedisPassword, cfg.CacheTTL())
			if err != nil {
				log.Fatalf("Failed to connect to Redis: %v", err)
			}
			defer resolveCache.Close()
			log.Printf("Resolve cache connected at %s.", cfg.Cache.RedisAddr)
		}

		linkService := services.NewLinkService(linkRepo, visitRepo, resolveCache)

		provider := buildGeoProvider(cfg)

		pool := workers.NewPool(cfg.Analytics.BufferSize, linkService, provider, cfg.GeoTimeout())
		pool.Start(cfg.Analytics.WorkerCount)
		log.Printf("Visit pipeline started: buffer=%d, %d worker(s).",
			cfg.Analytics.BufferSize, cfg.Analytics.WorkerCount)

		issuer, err := auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.TokenTTL())
		if err != nil {
			log.Fatalf("Failed to initialize token issuer: %v", err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		destMonitor := monitor.NewDestinationMonitor(linkRepo, time.Duration(cfg.Monitor.IntervalMinutes)*time.Minute)
		go destMonitor.Start(ctx)

		router := gin.Default()
		api.SetupRoutes(router, linkService, pool, issuer, cfg.Server.BaseURL)
		log.Println("API routes configured.")

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
			Handler: router,
		}

		go func() {
			log.Printf("Starting server on %s", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("Failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("Shutdown signal received. Stopping server...")

		// Stop accepting requests first, then drain the visit pipeline so
		// every queued event is persisted before exit.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
		pool.Stop()

		log.Println("Server stopped cleanly.")
	},
}

// buildGeoProvider picks the enrichment backend: the local MaxMind database
// when configured, the HTTP provider otherwise, or none at all.
func buildGeoProvider(cfg *config.Config) geo.Provider {
	if cfg.Geo.MMDBPath != "" {
		p, err := geo.NewMaxMindProvider(cfg.Geo.MMDBPath)
		if err != nil {
			log.Printf("Failed to open MaxMind database, falling back to HTTP provider: %v", err)
		} else {
			log.Printf("Geo enrichment using local MaxMind database %s.", cfg.Geo.MMDBPath)
			return p
		}
	}
	if cfg.Geo.ProviderURL == "" {
		log.Println("Geo enrichment disabled (no provider configured).")
		return nil
	}
	log.Printf("Geo enrichment using HTTP provider %s.", cfg.Geo.ProviderURL)
	return geo.NewHTTPProvider(cfg.Geo.ProviderURL, cfg.GeoTimeout())
}

func init() {
	cmd.RootCmd.AddCommand(RunServerCmd)
}
