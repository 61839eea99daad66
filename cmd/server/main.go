package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"challenge-system/internal/auth"
	"challenge-system/internal/challenge"
	"challenge-system/internal/config"
	"challenge-system/internal/generator"
	"challenge-system/internal/middleware"
	"challenge-system/internal/quota"
	"challenge-system/internal/webhook"
	"challenge-system/pkg/cache"
	"challenge-system/pkg/database"
	"challenge-system/pkg/logger"
	"challenge-system/pkg/metrics"
	"challenge-system/pkg/websocket"

	"github.com/gorilla/mux"
)

func main() {
	// Load environment variables
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}

	log := logger.New(cfg.LogLevel, os.Stdout)
	if envErr != nil {
		log.Warn(".env file not found")
	}
	m := metrics.New()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Initialize database
	db, err := openDatabase(cfg)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to database")
	}
	if err := database.Migrate(db); err != nil {
		log.WithError(err).Fatal("failed to migrate database")
	}

	authn, err := auth.NewClerkAuthenticator(ctx, auth.Options{
		JWTKey:            cfg.ClerkJWTKey,
		SecretKey:         cfg.ClerkSecretKey,
		APIURL:            cfg.ClerkAPIURL,
		AuthorizedParties: cfg.AllowedOrigins,
	})
	if err != nil {
		log.WithError(err).Fatal("failed to initialize authenticator")
	}

	model, err := generator.NewGeminiModel(ctx, cfg.GoogleAPIKey, cfg.GeminiModel)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize gemini client")
	}
	challengeGenerator := generator.NewGenerator(model, cfg.GeneratorTimeout, log, m)

	verifier, err := webhook.NewVerifier(cfg.ClerkWebhookSecret)
	if err != nil {
		log.WithError(err).Fatal("invalid webhook signing secret")
	}

	// Initialize repositories and services
	quotaRepo := quota.NewRepository(db)
	quotaService := quota.NewService(db, quotaRepo, log)
	challengeRepo := challenge.NewRepository(db)
	challengeService := challenge.NewService(db, challengeRepo, quotaService, quotaRepo, challengeGenerator, log, m)

	// Initialize Redis cache
	var redisCache *cache.RedisCache
	if cfg.RedisAddr != "" {
		redisCache = cache.NewRedisCache(cfg.RedisAddr)
		if err := redisCache.Ping(ctx); err != nil {
			log.WithError(err).WithField("addr", cfg.RedisAddr).Warn("redis unreachable, history cache disabled")
			redisCache.Close()
			redisCache = nil
		} else {
			challengeService.SetCache(redisCache)
		}
	}

	// Initialize WebSocket hub
	wsHub := websocket.NewHub(authn.VerifyToken, cfg.AllowedOrigins, log)
	go wsHub.Run()
	challengeService.SetNotifier(wsHub)

	// Initialize handlers
	challengeHandler := challenge.NewHandler(challengeService, log)
	webhookHandler := webhook.NewHandler(verifier, quotaService, log)

	// Setup router
	router := mux.NewRouter()
	router.Use(middleware.RequestLogger(log, m), middleware.Recoverer(log))

	apiRouter := router.PathPrefix("/api").Subrouter()
	challengeHandler.RegisterRoutes(apiRouter, authn)
	webhookHandler.RegisterRoutes(router)

	router.HandleFunc("/ws", wsHub.HandleWebSocket)
	router.Handle("/metrics", m.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/healthz", healthHandler(db)).Methods(http.MethodGet)

	// CORS middleware configuration
	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Requested-With", "X-Request-ID"},
		ExposedHeaders:   []string{"Content-Length", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      corsMiddleware.Handler(router),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.GeneratorTimeout + 15*time.Second,
	}

	go func() {
		log.WithField("port", cfg.ServerPort).Info("server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("failed to start server")
		}
	}()

	// Graceful shutdown setup
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("server forced to shutdown")
	}
	wsHub.Stop()
	if redisCache != nil {
		if err := redisCache.Close(); err != nil {
			log.WithError(err).Warn("failed to close redis client")
		}
	}
	if err := database.Close(db); err != nil {
		log.WithError(err).Warn("failed to close database")
	}

	log.Info("server shutdown gracefully")
}

func openDatabase(cfg *config.Config) (*gorm.DB, error) {
	if cfg.DBDriver == config.DriverSQLite {
		return database.NewSQLiteDB(cfg.DBPath)
	}
	return database.NewPostgresDB(&cfg.Database)
}

func healthHandler(db *gorm.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		w.Header().Set("Content-Type", "application/json")
		if err := database.Ping(ctx, db); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{"status": "unavailable"})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}
