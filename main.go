package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kmedia-resolver/work/cache"
	"kmedia-resolver/work/config"
	"kmedia-resolver/work/handlers"
	"kmedia-resolver/work/livestream"
	"kmedia-resolver/work/logger"
	"kmedia-resolver/work/probe"
	"kmedia-resolver/work/providers/hls"
	"kmedia-resolver/work/providers/xtream"
	"kmedia-resolver/work/refresh"
	"kmedia-resolver/work/registry"
	"kmedia-resolver/work/resolver"
	"kmedia-resolver/work/store"
	"kmedia-resolver/work/types"
)

var (
	Version = "v0.1.0" // default version
)

func main() {

	// load our config
	cfg := config.LoadConfig()
	logger.SetLogLevel(cfg.LogLevel)

	appLogger := logger.New(cfg.LogLevel)

	// worker pool shared by provider fan-out
	workerPool, err := ants.NewPool(cfg.WorkerThreads, ants.WithPreAlloc(true))
	if err != nil {
		log.Fatalf("Failed to create worker pool: %v", err)
	}
	defer workerPool.Release()

	// persistence
	st, err := store.Open(cfg.DatabasePath, appLogger, cfg.SubstitutePath)
	if err != nil {
		log.Fatalf("Failed to open store at %s: %v", cfg.DatabasePath, err)
	}
	defer st.Close()

	// dynamic source providers from config
	providerRegistry := registry.New()
	if err := providerRegistry.Register(buildProviders(cfg)); err != nil {
		log.Fatalf("Failed to register providers: %v", err)
	}

	// prober, refresher, caches
	prober := probe.NewFFProbe(cfg.ProbeTimeout, cfg.ProbesPerSec, cfg.ObfuscateUrls)
	resolvedCache := cache.New(cfg.CacheEnabled, cfg.CacheMaxItems, cfg.CacheDuration)
	refresher := refresh.New(st, prober, cfg.ObfuscateUrls, resolvedCache.InvalidateItem)

	// live stream sessions and the aggregation pipeline
	sessions := livestream.New(providerRegistry, prober, st)
	resolverInstance := resolver.New(st, providerRegistry, refresher, sessions, workerPool, resolvedCache, cfg.ProviderCall)

	// HTTP routes
	router := mux.NewRouter()
	apiHandler := handlers.New(resolverInstance, sessions)
	apiHandler.RegisterRoutes(router)
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	setupAdminRoutes(router, cfg, providerRegistry, sessions, refresher)

	addr := fmt.Sprintf(":%d", cfg.ListenPort)

	// show info
	logger.Info("Starting kmedia-resolver %s", Version)
	logger.Info("Server configuration:")
	logger.Info("  - Base URL: %s", cfg.BaseURL)
	logger.Info("  - Listen Port: %d", cfg.ListenPort)
	logger.Info("  - Database: %s", cfg.DatabasePath)
	logger.Info("  - Worker Threads: %d", cfg.WorkerThreads)
	logger.Info("  - Providers: %d", providerRegistry.Count())
	logger.Info("  - Cache Enabled: %v", cfg.CacheEnabled)
	logger.Info("  - Cache Duration: %s", cfg.CacheDuration)
	logger.Info("  - Probe Timeout: %s", cfg.ProbeTimeout)
	logger.Info("  - Debug Enabled: %v", cfg.Debug)
	logger.Info("  - URL Obfuscation: %v", cfg.ObfuscateUrls)

	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	// shut down on SIGINT/SIGTERM, closing every live session first so
	// providers get to tear their upstream streams down
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		logger.Info("Shutdown requested, closing live sessions...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		sessions.Shutdown(shutdownCtx)
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown: %v", err)
		}
	}()

	// fire us up
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server failed to start: %v", err)
	}
}

// buildProviders instantiates the configured dynamic source providers.
// Unknown types abort startup since a silently missing provider would strand
// every open token minted under its fingerprint.
func buildProviders(cfg *config.Config) []types.SourceProvider {
	providers := make([]types.SourceProvider, 0, len(cfg.Providers))
	for _, pc := range cfg.Providers {
		switch pc.Type {
		case "hls":
			providers = append(providers, hls.New(pc, cfg.ObfuscateUrls))
		case "xtream":
			providers = append(providers, xtream.New(pc, cfg.ObfuscateUrls))
		default:
			log.Fatalf("Unknown provider type %q for provider %q", pc.Type, pc.Name)
		}
	}
	return providers
}
