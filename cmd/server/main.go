package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/muhammadhasnaindev/chat/internal/chat"
	"github.com/muhammadhasnaindev/chat/internal/config"
	"github.com/muhammadhasnaindev/chat/internal/db"
	myMiddleware "github.com/muhammadhasnaindev/chat/internal/middleware"
	"github.com/muhammadhasnaindev/chat/internal/user"
)

func main() {
	// 1. Config (defaults < config.yaml < CHAT_* env)
	cfg, err := config.Load()
	if err != nil {
		boot := zerolog.New(os.Stderr)
		boot.Fatal().Err(err).Msg("invalid configuration")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 2. Connect to PostgreSQL (Platform Layer)
	database, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to PostgreSQL")
	}
	defer database.Close()
	log.Info().Msg("connected to PostgreSQL")

	if err := database.AutoMigrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}
	log.Info().Msg("database schema initialized")

	// 3. Connect to Redis (broadcast bus)
	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Redis")
	}
	log.Info().Msg("connected to Redis")

	// 4. User feature (credential collaborator)
	userRepo := user.NewRepository(database.Pool)
	userService := user.NewService(userRepo, cfg.JWTSecret)
	userHandler := user.NewHandler(userService)

	// 5. Messaging core
	chatRepo := chat.NewRepository(database.Pool)
	presence := chat.NewPresence()
	hub := chat.NewHub(presence, log)
	bus := chat.NewRedisBroadcaster(redisClient, hub, "chat-events", log)
	pipeline := chat.NewPipeline(chatRepo, bus, log)
	calls := chat.NewCallCoordinator(chatRepo, bus, log)
	gateway := chat.NewGateway(hub, presence, pipeline, calls, bus, chatRepo, log)
	chatHandler := chat.NewHandler(chatRepo)

	// Every instance delivers bus envelopes to its own sessions.
	go func() {
		if err := bus.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("broadcast bus subscriber stopped")
		}
	}()

	authMiddleware := myMiddleware.NewAuthMiddleware(userService)

	// 6. Routes
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// Public
	r.Post("/register", userHandler.Register)
	r.Post("/login", userHandler.Login)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := database.Pool.Ping(r.Context()); err != nil {
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	// Protected (JWT required; websocket upgrades included)
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.Handle)
		r.Get("/api/users/search", userHandler.SearchUsers)

		r.Get("/ws", gateway.ServeWs)

		r.Post("/api/conversations", chatHandler.StartConversation)
		r.Get("/api/messages", chatHandler.GetChatHistory)
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Info().Str("addr", cfg.Addr).Msg("server starting")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server failed")
	}
	log.Info().Msg("server stopped")
}

// requestLogger logs completed HTTP requests with zerolog.
func requestLogger(log zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				log.Info().
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", ww.Status()).
					Dur("latency", time.Since(start)).
					Str("request_id", middleware.GetReqID(r.Context())).
					Msg("request completed")
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
