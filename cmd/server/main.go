package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"market-chat/internal/ad"
	"market-chat/internal/badgerstore"
	"market-chat/internal/chat"
	"market-chat/internal/config"
	"market-chat/internal/db"
	myMiddleware "market-chat/internal/middleware"
	"market-chat/internal/moderation"
	"market-chat/internal/user"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
)

const (
	exitOK = iota
	exitConfig
	exitRuntime
)

func main() {
	os.Exit(run())
}

// run returns an exit code so deferred cleanup happens before the process exits.
func run() int {
	// 1. Config & Flags
	addr := flag.String("addr", "", "http service address (overrides ADDR)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("❌ Invalid configuration", "error", err)
		return exitConfig
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	censorChar, _ := cfg.CensorRune()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	// 2. Connect to Database (Platform Layer)
	database, err := db.NewDatabase(cfg.DBDSN)
	if err != nil {
		logger.Error("❌ Failed to connect to DB", "error", err)
		return exitRuntime
	}
	defer func() {
		logger.Info("Closing PostgreSQL...")
		_ = database.Close()
	}()
	logger.Info("✅ Connected to PostgreSQL")

	migrateCtx, cancelMigrate := context.WithTimeout(context.Background(), 30*time.Second)
	err = database.AutoMigrate(migrateCtx)
	cancelMigrate()
	if err != nil {
		logger.Error("❌ Migration failed", "error", err)
		return exitRuntime
	}
	logger.Info("✅ Database Schema Initialized")

	// 3. Broker (Platform Layer)
	var broker chat.Broker
	switch cfg.Broker {
	case config.BrokerRedis:
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer func() {
			logger.Info("Closing Redis...")
			_ = redisClient.Close()
		}()
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Error("❌ Failed to connect to Redis", "addr", cfg.RedisAddr, "error", err)
			return exitRuntime
		}
		logger.Info("✅ Connected to Redis", "addr", cfg.RedisAddr)
		broker = chat.NewRedisBroker(redisClient)
	default:
		local := chat.NewLocalBroker()
		defer local.Close()
		logger.Info("✅ Using in-process broker (single instance)")
		broker = local
	}

	// 4. Message store
	var store chat.Store
	switch cfg.MessageStore {
	case config.StoreBadger:
		bs, err := badgerstore.Open(cfg.BadgerPath, logger)
		if err != nil {
			logger.Error("❌ Failed to open BadgerDB", "path", cfg.BadgerPath, "error", err)
			return exitRuntime
		}
		defer func() {
			logger.Info("Closing BadgerDB...")
			_ = bs.Close()
		}()
		logger.Info("✅ Messages stored in BadgerDB", "path", cfg.BadgerPath)
		store = bs
	default:
		store = chat.NewRepository(database.Conn)
		logger.Info("✅ Messages stored in PostgreSQL")
	}

	// 5. User Feature
	userRepo := user.NewRepository(database.Conn)
	userService := user.NewService(userRepo, cfg.JWTSecret, cfg.TokenTTL)
	userHandler := user.NewHandler(userService, logger)

	// 6. Chat Feature
	var censor chat.Censor
	if words := cfg.Words(); len(words) > 0 {
		mod, err := moderation.NewModerator(words, censorChar)
		if err != nil {
			logger.Error("❌ Failed to build moderator", "error", err)
			return exitConfig
		}
		censor = mod
		logger.Info("✅ Moderation enabled", "words", len(words))
	}

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	hub := chat.NewHub(broker, logger)
	if err := hub.Start(hubCtx); err != nil {
		logger.Error("❌ Failed to start hub", "error", err)
		return exitRuntime
	}

	authorizer := chat.NewAuthorizer(ad.NewRepository(database.Conn))
	chatHandler := chat.NewHandler(hub, store, authorizer, censor, chat.Options{
		SendBuffer:     cfg.SendBuffer,
		MaxMessageSize: int64(cfg.MaxMessageSize),
		MaxBodyLength:  cfg.MaxBodyLength,
		StoreTimeout:   cfg.StoreTimeout,
	}, logger)

	authMiddleware := myMiddleware.NewAuthMiddleware(userService)

	// 7. Define Routes
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Public Routes
	r.Post("/register", userHandler.Register)
	r.Post("/login", userHandler.Login)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := hub.Stopped(); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		if err := database.Conn.PingContext(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		_, _ = fmt.Fprintf(w, "ok rooms=%d\n", hub.Rooms())
	})

	// Protected Routes (Require JWT)
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.Handle)
		r.Get("/api/users/search", userHandler.SearchUsers)

		r.Get("/api/chat/rooms", chatHandler.Rooms)
		r.Get("/api/chat/rooms/{room}/messages", chatHandler.History)

		// WebSocket (Real-time)
		r.Get("/ws/chat/ad/{adID}", chatHandler.ServeAdChat)
		r.Get("/ws/chat/support/{room}", chatHandler.ServeSupportChat)
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("🚀 Server starting", "addr", cfg.Addr, "broker", cfg.Broker, "store", cfg.MessageStore)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Connections are hijacked, so Shutdown alone would leave them open.
	wait := gfshutdown.GracefulShutdown(context.Background(), cfg.ShutdownTimeout, map[string]gfshutdown.Operation{
		"http-server": func(ctx context.Context) error {
			logger.Info("Graceful shutdown initiated...")
			chatHandler.Close()
			err := srv.Shutdown(ctx)
			stopHub()
			hub.Wait()
			return err
		},
	})

	// serveErr closes without a value once Shutdown has started; the
	// shutdown operation still has to finish.
	if err := <-serveErr; err != nil {
		logger.Error("❌ Server failed", "error", err)
		return exitRuntime
	}
	code := <-wait
	logger.Info("Server stopped", "code", code)
	if code != 0 {
		return exitRuntime
	}
	return exitOK
}
