package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/Thiagopc02/site-imperio-sub000/internal/config"
	kafkax "github.com/Thiagopc02/site-imperio-sub000/internal/kafka"
	"github.com/Thiagopc02/site-imperio-sub000/internal/orders"
	"github.com/Thiagopc02/site-imperio-sub000/internal/redisx"
	"github.com/Thiagopc02/site-imperio-sub000/internal/tracker"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	svc := &tracker.Service{Redis: rdb}

	group := getenv("TRACKER_GROUP", "order-tracker")
	workers := mustAtoi(os.Getenv("TRACKER_WORKERS"), "4")
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, group, orders.TopicOrderStatus, workers)

	go func() {
		log.Printf("tracker consumer started: group=%s topic=%s workers=%d", group, orders.TopicOrderStatus, workers)
		if err := cons.Start(ctx, svc.HandleEvent); err != nil {
			log.Printf("consumer exit: %v", err)
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case <-ctx.Done():
	}
	log.Println("shutting down tracker...")
	cancel()
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func mustAtoi(s, def string) int {
	if s == "" {
		s = def
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return 1
	}
	return i
}
