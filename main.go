package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/panjf2000/ants/v2"

	"iptv-gate/work/accesscode"
	"iptv-gate/work/auth"
	"iptv-gate/work/buffer"
	"iptv-gate/work/cache"
	"iptv-gate/work/catalog"
	"iptv-gate/work/client"
	"iptv-gate/work/config"
	"iptv-gate/work/database"
	"iptv-gate/work/handlers"
	"iptv-gate/work/logger"
	"iptv-gate/work/playlist"
	"iptv-gate/work/proxy"
	"iptv-gate/work/token"
	"iptv-gate/work/utils"
)

var (
	Version = "v0.1.0" // default version
)

func main() {
	configPath := flag.String("config", config.DefaultPath, "path to the JSON settings file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("{main - main} failed to load configuration: %v", err)
		os.Exit(1)
	}
	logger.SetLogLevel(cfg.LogLevel)

	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		logger.Error("{main - main} failed to open database %s: %v", cfg.DatabasePath, err)
		os.Exit(1)
	}
	defer db.Close()

	codec, err := token.NewCodec(cfg.SigningSecret)
	if err != nil {
		logger.Error("{main - main} failed to initialise token codec: %v", err)
		os.Exit(1)
	}

	authSvc, err := auth.NewService(db, cfg.SigningSecret, cfg.SessionTTL)
	if err != nil {
		logger.Error("{main - main} failed to initialise sessions: %v", err)
		os.Exit(1)
	}
	if err := authSvc.Bootstrap(context.Background(), cfg.AdminUsername, cfg.AdminEmail, cfg.AdminPassword); err != nil {
		logger.Error("{main - main} %v", err)
		os.Exit(1)
	}

	// Worker pool for origin probes during bulk channel imports
	workerPool, err := ants.NewPool(cfg.WorkerThreads, ants.WithPreAlloc(true))
	if err != nil {
		logger.Error("{main - main} failed to create worker pool: %v", err)
		os.Exit(1)
	}
	defer workerPool.Release()

	upstream := client.NewUpstreamClient(cfg)

	cat := catalog.New(catalog.Options{
		Repo:          db,
		Cache:         cache.NewChannelCache(cfg.ChannelCacheDuration),
		Prober:        upstream,
		Pool:          workerPool,
		ValidateURLs:  cfg.ValidateChannelURLs,
		ObfuscateURLs: cfg.ObfuscateUrls,
	})

	var codeRepo accesscode.Repository = db
	if cfg.AccessCodeBackend == "memory" {
		logger.Warn("{main - main} access codes are kept in memory and will not survive a restart")
		codeRepo = accesscode.NewMemoryRepository()
	}

	app := &handlers.App{
		Codes:    accesscode.NewStore(codeRepo, db, cfg.AccessCodeDefaultTTL),
		Catalog:  cat,
		Renderer: playlist.NewRenderer(codec, cfg.BaseURL, cfg.ProxyTokenTTL),
		Gateway: proxy.New(proxy.Options{
			Tokens:        codec,
			Upstream:      upstream,
			Buffers:       buffer.NewBufferPool(buffer.DefaultChunkSize),
			RateLimit:     cfg.UpstreamRateLimit,
			IdleTimeout:   cfg.UpstreamIdleTimeout,
			ObfuscateURLs: cfg.ObfuscateUrls,
		}),
		Auth: authSvc,
		DB:   db,
	}

	router := handlers.NewRouter(app, func(api *mux.Router) {
		setupAdminRoutes(api, app, cfg)
	})

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	logger.Info("{main - main} starting iptv-gate %s", Version)
	logger.Info("{main - main} server configuration:")
	logger.Info("{main - main}   - Base URL: %s", cfg.BaseURL)
	logger.Info("{main - main}   - Listen Address: %s", cfg.ListenAddr)
	logger.Info("{main - main}   - Access Code Backend: %s", cfg.AccessCodeBackend)
	logger.Info("{main - main}   - Proxy Token TTL: %s", cfg.ProxyTokenTTL)
	logger.Info("{main - main}   - Default Code TTL: %s", cfg.AccessCodeDefaultTTL)
	logger.Info("{main - main}   - Upstream Idle Timeout: %s", cfg.UpstreamIdleTimeout)
	logger.Info("{main - main}   - Upstream Rate Limit: %d req/s per host", cfg.UpstreamRateLimit)
	logger.Info("{main - main}   - Relay Chunk Size: %s", utils.FormatBytes(buffer.DefaultChunkSize))
	logger.Info("{main - main}   - Worker Threads: %d", cfg.WorkerThreads)
	logger.Info("{main - main}   - Validate Channel URLs: %v", cfg.ValidateChannelURLs)
	logger.Info("{main - main}   - URL Obfuscation: %v", cfg.ObfuscateUrls)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("{main - main} server failed: %v", err)
			os.Exit(1)
		}
	}()

	<-stop
	logger.Info("{main - main} shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("{main - main} graceful shutdown incomplete: %v", err)
	}
}
