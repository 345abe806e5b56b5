package main

import (
	"context"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"chorus/internal/auth"
	"chorus/internal/config"
	"chorus/internal/handler"
	"chorus/internal/httputil"
	"chorus/internal/middleware"
	"chorus/internal/pricing"
	"chorus/internal/repository/postgres"
	postgresChat "chorus/internal/repository/postgres/chat"
	serviceChat "chorus/internal/service/chat"
	serviceLLM "chorus/internal/service/llm"

	"github.com/joho/godotenv"
	"github.com/rs/cors"
)

func main() {
	// Load .env file (silently ignore if it doesn't exist - for production)
	_ = godotenv.Load()

	// Load configuration
	cfg := config.Load()

	// Setup structured logging
	logLevel := slog.LevelInfo
	if cfg.Environment == "dev" {
		logLevel = slog.LevelDebug
	}

	logOutput := io.Writer(os.Stdout)
	if cfg.LogDir != "" {
		logFile, err := config.SetupLogFile(cfg.LogDir, 10)
		if err != nil {
			log.Fatalf("Failed to set up log file: %v", err)
		}
		defer logFile.Close()
		logOutput = io.MultiWriter(os.Stdout, logFile)
	}

	logger := slog.New(slog.NewJSONHandler(logOutput, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("server starting",
		"environment", cfg.Environment,
		"port", cfg.Port,
		"table_prefix", cfg.TablePrefix,
	)

	// Create JWT verifier
	jwtVerifier, err := auth.NewJWTVerifier(cfg.JWKSURL, logger)
	if err != nil {
		log.Fatalf("Failed to create JWT verifier: %v", err)
	}
	defer jwtVerifier.Close()

	// Create pgx connection pool
	ctx := context.Background()
	pool, err := postgres.CreateConnectionPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to create connection pool: %v", err)
	}
	defer pool.Close()

	logger.Info("database connected",
		"max_conns", 25,
		"min_conns", 5,
	)

	// Create table names
	tables := postgres.NewTableNames(cfg.TablePrefix)

	// Create repositories
	repoConfig := &postgres.RepositoryConfig{
		Pool:   pool,
		Tables: tables,
		Logger: logger,
	}
	conversationRepo := postgresChat.NewConversationRepository(repoConfig)
	turnRepo := postgresChat.NewTurnRepository(repoConfig)
	membershipRepo := postgresChat.NewMembershipRepository(repoConfig)
	txManager := postgres.NewTransactionManager(pool)

	// Setup LLM providers
	providerRegistry := serviceLLM.SetupProviders(cfg, logger)

	// Load the pricing table (embedded by default, file override for ops)
	var priceTable *pricing.Registry
	if cfg.PricingTablePath != "" {
		priceTable, err = pricing.NewRegistryFromFile(cfg.PricingTablePath)
	} else {
		priceTable, err = pricing.NewRegistry()
	}
	if err != nil {
		log.Fatalf("Failed to load pricing table: %v", err)
	}
	logger.Info("pricing table loaded", "models", priceTable.Len())

	// Create services
	conversationService := serviceChat.NewConversationService(conversationRepo, turnRepo, membershipRepo, txManager, logger)
	registryService := serviceChat.NewRegistryService(conversationRepo, membershipRepo, logger)
	dispatcher := serviceChat.NewDispatcher(conversationRepo, turnRepo, membershipRepo, providerRegistry, logger)
	regenerator := serviceChat.NewRegenerator(conversationRepo, turnRepo, membershipRepo, dispatcher, registryService, txManager, logger)
	metricsService := serviceChat.NewMetricsService(conversationRepo, turnRepo, priceTable, logger)

	// Create handlers
	conversationHandler := handler.NewConversationHandler(conversationService, logger)
	dispatchHandler := handler.NewDispatchHandler(dispatcher, regenerator, logger)
	modelsHandler := handler.NewModelsHandler(registryService, logger)
	metricsHandler := handler.NewMetricsHandler(metricsService, logger)

	logger.Info("services initialized")

	// Create HTTP router (Go 1.22+ enhanced patterns)
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			httputil.RespondError(w, http.StatusServiceUnavailable, "database unreachable")
			return
		}
		httputil.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Conversation routes
	mux.HandleFunc("POST /api/conversations", conversationHandler.CreateConversation)
	mux.HandleFunc("GET /api/conversations", conversationHandler.ListConversations)
	mux.HandleFunc("GET /api/conversations/{id}", conversationHandler.GetConversation)
	mux.HandleFunc("DELETE /api/conversations/{id}", conversationHandler.DeleteConversation)
	mux.HandleFunc("GET /api/conversations/{id}/turns", conversationHandler.GetTurns)

	// Dispatch routes
	mux.HandleFunc("POST /api/conversations/{id}/dispatch", dispatchHandler.Dispatch)
	mux.HandleFunc("POST /api/conversations/{id}/regenerate", dispatchHandler.Regenerate)

	// Model membership routes
	mux.HandleFunc("GET /api/conversations/{id}/models", modelsHandler.ListModels)
	mux.HandleFunc("POST /api/conversations/{id}/models", modelsHandler.AddModel)
	mux.HandleFunc("PATCH /api/conversations/{id}/models/{model}", modelsHandler.PatchModel)
	mux.HandleFunc("DELETE /api/conversations/{id}/models/{model}", modelsHandler.RemoveModel)

	// Metrics routes
	mux.HandleFunc("GET /api/conversations/{id}/metrics", metricsHandler.GetConversationMetrics)

	// Build middleware chain
	var root http.Handler = mux

	// Apply middleware in reverse order (they wrap each other)
	// Order: CORS → Recovery → Auth → Routes
	root = middleware.AuthMiddleware(jwtVerifier)(root)
	root = middleware.Recovery(logger)(root)

	// CORS - Must be before auth to handle OPTIONS pre-flight requests
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   strings.Split(cfg.CORSOrigins, ","),
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowCredentials: true,
	})
	root = corsHandler.Handler(root)

	// Create HTTP server
	server := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     root,
		ReadTimeout: 15 * time.Second,
		// Writes stay open for the duration of a fan-out, which is bounded
		// by the per-branch timeout rather than a server-wide write deadline
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	// Start server
	logger.Info("server listening", "port", cfg.Port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Failed to start server: %v", err)
	}
}
