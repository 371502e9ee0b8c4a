package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"peerlink/internal/batch"
	"peerlink/internal/chat"
	"peerlink/internal/config"
	"peerlink/internal/db"
	"peerlink/internal/gateway"
	"peerlink/internal/middleware"
	"peerlink/internal/presence"
	"peerlink/internal/queue"
	"peerlink/internal/store"
	"peerlink/internal/user"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("zap.NewProduction: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	cfg, err := config.Load()
	if err != nil {
		sugar.Fatalf("Cannot parse config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// Platform layer.
	pool, err := db.New(ctx, logger, cfg.DatabaseDSN)
	if err != nil {
		sugar.Fatalf("Cannot connect to Postgres: %v", err)
	}
	if err := db.Migrate(ctx, pool); err != nil {
		sugar.Fatalf("Migration failed: %v", err)
	}
	sugar.Info("Connected to Postgres")

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		sugar.Fatalf("Cannot connect to Redis: %v", err)
	}
	sugar.Info("Connected to Redis")

	chatStore := store.New(sugar, pool)

	// Intake queues, one stream per job kind.
	sendQueue := queue.New(sugar, redisClient, "peer:send", cfg.WorkerConcurrency, cfg.SendRatePerSec)
	seenQueue := queue.New(sugar, redisClient, "peer:seen", cfg.WorkerConcurrency, cfg.SeenRatePerSec)

	// Gateway. The hub doubles as the notification sink for the workers and
	// is handed to them explicitly at construction; no startup-timing guesses.
	dir := presence.NewDirectory()
	hub := gateway.NewHub(sugar, dir, chatStore, sendQueue, seenQueue)
	go hub.Run()

	sendWorker := batch.NewSendWorker(sugar, chatStore, hub, cfg.MaxBatchSize, cfg.SendFlushInterval)
	seenWorker := batch.NewSeenWorker(sugar, chatStore, hub, cfg.MaxBatchSize, cfg.SeenFlushInterval)

	consumersDone := make(chan struct{}, 2)
	go func() {
		defer func() { consumersDone <- struct{}{} }()
		if err := sendQueue.Run(ctx, sendWorker.Handle); err != nil && ctx.Err() == nil {
			sugar.Errorf("send consumer stopped: %v", err)
		}
	}()
	go func() {
		defer func() { consumersDone <- struct{}{} }()
		if err := seenQueue.Run(ctx, seenWorker.Handle); err != nil && ctx.Err() == nil {
			sugar.Errorf("seen consumer stopped: %v", err)
		}
	}()

	// Features.
	userRepo := user.NewRepository(pool)
	userService := user.NewService(userRepo, cfg.JWTSecret)
	userHandler := user.NewHandler(userService)

	wsHandler := gateway.NewHandler(hub)
	chatHandler := chat.NewHandler(sugar, chatStore, hub)

	authMiddleware := middleware.NewAuthMiddleware(userService)

	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	r.Post("/register", userHandler.Register)
	r.Post("/login", userHandler.Login)

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.Handle)

		r.Get("/api/users/search", userHandler.SearchUsers)
		r.Get("/ws", wsHandler.ServeWs)

		r.Post("/api/peer-chat/{peerId}", chatHandler.CreateChat)
		r.Get("/api/peer-chat/all", chatHandler.GetChats)
		r.Delete("/api/peer-chat/{chatId}", chatHandler.DeleteChat)

		r.Get("/api/peer-message/all/{chatId}", chatHandler.GetMessages)
		r.Get("/api/peer-message/unread/{chatId}", chatHandler.GetUnreadCount)
		r.Delete("/api/peer-message/delete/for-me/{messageId}", chatHandler.DeleteForMe)
		r.Delete("/api/peer-message/delete/for-everyone/{messageId}", chatHandler.DeleteForEveryone)
		r.Delete("/api/peer-message/clear/{chatId}", chatHandler.ClearChat)
	})

	srv := &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:     r,
		ReadTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		sugar.Info("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			sugar.Errorf("srv.Shutdown: %v", err)
		}
	}()

	sugar.Infof("Starting HTTP server on %s", srv.Addr)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		sugar.Fatalf("srv.ListenAndServe: %v", err)
	}

	// Drain: wait for both consumers, then flush whatever is still buffered
	// so a clean shutdown loses nothing that was already acknowledged.
	<-consumersDone
	<-consumersDone

	drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	sendWorker.Flush(drainCtx)
	seenWorker.Flush(drainCtx)

	sugar.Info("Closing store")
	chatStore.Close()
	redisClient.Close()
	sugar.Info("Server stopped")
}
