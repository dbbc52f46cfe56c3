package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/Thiagopc02/site-imperio-sub000/internal/config"
	"github.com/Thiagopc02/site-imperio-sub000/internal/httpx"
	kafkax "github.com/Thiagopc02/site-imperio-sub000/internal/kafka"
	"github.com/Thiagopc02/site-imperio-sub000/internal/lifecycle"
	"github.com/Thiagopc02/site-imperio-sub000/internal/mercadopago"
	"github.com/Thiagopc02/site-imperio-sub000/internal/orders"
	"github.com/Thiagopc02/site-imperio-sub000/internal/postgres"
	"github.com/Thiagopc02/site-imperio-sub000/internal/redisx"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producer
	prod := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderStatus, 1024)
	prod.Start(ctx)

	// Mercado Pago client
	mp := mercadopago.NewClient(cfg.MPBaseURL, cfg.MPAccessToken, cfg.MPTimeout)

	repo := &orders.Repo{DB: db}
	svc := &lifecycle.Service{
		Store:         repo,
		Payments:      mp,
		Producer:      prod,
		ServiceName:   cfg.ServiceName,
		PaymentWindow: cfg.PaymentWindow,
	}

	router := httpx.NewRouter()
	oh := &httpx.OrdersHandler{
		Svc:    svc,
		Orders: repo,
		Admins: &orders.AdminRepo{DB: db},
		Redis:  rdb,
	}
	oh.Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	go func() {
		log.Printf("HTTP listening at %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	prod.Close()
	prod.WaitClosed()
}
