package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"rollcall/internal/analytics"
	"rollcall/internal/attendance"
	"rollcall/internal/config"
	"rollcall/internal/queue"
	"rollcall/internal/session"
	"rollcall/internal/store"
	"rollcall/internal/user"
)

// Worker consumes attendance events and keeps the cached analytics
// summary warm so dashboard reads stay cheap.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "rollcall:events")
	}

	users := user.NewRepository(db.Client)
	sessions := session.NewRepository(db.Client)
	records := attendance.NewRepository(db.Client)
	analyticsSvc := analytics.NewService(sessions, users, records, redisClient.Client, cfg.AnalyticsCacheTTL)

	msgs, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume failed: %v", err)
	}

	log.Println("worker started")
	for msg := range msgs {
		if msg.Type != queue.TypeAttendanceRecorded {
			continue
		}
		if _, err := analyticsSvc.Refresh(ctx); err != nil {
			log.Printf("analytics refresh failed (session %s): %v", string(msg.Body), err)
			continue
		}
		log.Printf("analytics refreshed after session %s", string(msg.Body))
	}
	log.Println("worker stopped")
}
