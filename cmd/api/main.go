// Package main is the entry point for the messaging API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/collabhub/messaging-platform/internal/config"
	"github.com/collabhub/messaging-platform/internal/handler"
	"github.com/collabhub/messaging-platform/internal/middleware"
	"github.com/collabhub/messaging-platform/internal/moderation"
	natsclient "github.com/collabhub/messaging-platform/internal/nats"
	"github.com/collabhub/messaging-platform/internal/policy"
	"github.com/collabhub/messaging-platform/internal/presence"
	"github.com/collabhub/messaging-platform/internal/service"
	"github.com/collabhub/messaging-platform/internal/store"
	"github.com/collabhub/messaging-platform/pkg/logger"
	"github.com/collabhub/messaging-platform/pkg/tracing"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("starting messaging API server")

	// Initialize tracing if enabled
	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "messaging-platform", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// Open the chat store
	chatStore, err := store.Open(store.Options{
		Path:     cfg.BadgerPath,
		InMemory: cfg.BadgerInMemory,
	}, log)
	if err != nil {
		log.Error("failed to open chat store", zap.Error(err))
		os.Exit(1)
	}
	defer chatStore.Close()

	// Connect to NATS
	nc, err := natsclient.Connect(natsclient.Config{
		URL:      cfg.NATSURL,
		CAFile:   cfg.NATSCAFile,
		CertFile: cfg.NATSCertFile,
		KeyFile:  cfg.NATSKeyFile,
		Token:    cfg.NATSToken,
	}, log)
	if err != nil {
		log.Error("failed to connect to NATS", zap.Error(err))
		os.Exit(1)
	}
	defer nc.Close()

	broadcaster := natsclient.NewBroadcaster(nc, log)

	// Presence registry broadcasts transitions through the same bus
	tracker := presence.NewTracker(broadcaster)

	// External collaborators: block lists (read-only here) and the content gate
	blockList := policy.NewBlockListStore(chatStore.DB())
	gate, err := moderation.NewTermGate(cfg.BannedTerms())
	if err != nil {
		log.Error("failed to build content gate", zap.Error(err))
		os.Exit(1)
	}

	// Initialize services
	chatSvc := service.NewChatService(chatStore, broadcaster, log, cfg.StoreTimeout)
	messageSvc := service.NewMessageService(
		chatStore, tracker, blockList, gate, broadcaster, log,
		cfg.PendingMessageQuota, cfg.StoreTimeout,
	)

	// Initialize handlers
	healthHandler := handler.NewHealthHandler(nc, chatStore)
	chatHandler := handler.NewChatHandler(chatSvc, log)
	messageHandler := handler.NewMessageHandler(messageSvc, log, cfg.MaxMessageBytes)
	wsHandler := handler.NewWSHandler(chatSvc, messageSvc, tracker, broadcaster, log, cfg.JWTSecret, cfg.MaxMessageBytes)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"Link", "X-Correlation-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// Push channel (authenticates during the upgrade handshake)
	r.Get("/ws", wsHandler.Serve)

	// API routes with authentication
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

		r.Get("/presence", wsHandler.OnlineUsers)

		// Chats
		r.Route("/chats", func(r chi.Router) {
			r.Post("/", chatHandler.OpenOrCreate)
			r.Get("/", chatHandler.List)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", chatHandler.Get)
				r.Delete("/", chatHandler.Delete)
				r.Post("/approve", chatHandler.Approve)
				r.Post("/reject", chatHandler.Reject)
				r.Post("/read", messageHandler.MarkRead)

				// Messages
				r.Get("/messages", messageHandler.List)
				r.Post("/messages", messageHandler.Send)
				r.Delete("/messages/{messageID}", messageHandler.Delete)
			})
		})
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}
