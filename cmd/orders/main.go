package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lending-service/config"
	"lending-service/internal/api"
	"lending-service/internal/broker"
	"lending-service/internal/clock"
	"lending-service/internal/redisclient"
	"lending-service/internal/service"
	"lending-service/internal/store"
	"lending-service/internal/util"
	"lending-service/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger("orders-service", cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting orders service")

	tp, err := util.InitTracer("orders-service", cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	db, err := store.NewStore(cfg.Database.OrdersURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	redisClient, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()
	log.Println("Redis connected")

	producer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicOrder)
	defer producer.Close()
	log.Println("Kafka producer initialized")

	eventPublisher := broker.NewEventPublisher(producer)
	clk := clock.System()

	stockClient := service.NewStockClient(cfg.External.LedgerBaseURL, cfg.External.DependencyTimeout, redisClient)
	subscriptionClient := service.NewSubscriptionClient(cfg.External.SubscriptionBaseURL, cfg.External.DependencyTimeout)
	addressClient := service.NewAddressClient(cfg.External.AddressBaseURL, cfg.External.DependencyTimeout)

	cartService := service.NewCartService(db, subscriptionClient, stockClient, eventPublisher, clk, cfg.Business.CartTTL)
	deliveryService := service.NewDeliveryService(db, addressClient, clk,
		cfg.Business.DeliveryMinLeadDays, cfg.Business.DeliveryCycleDays)
	saga := service.NewSaga(db, stockClient)
	orderService := service.NewOrderService(db, db, deliveryService, subscriptionClient,
		stockClient, saga, eventPublisher, redisClient, clk)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	expiryWorker := worker.NewExpiryWorker(cartService, cfg.Business.ExpirySweepInterval)
	go func() {
		if err := expiryWorker.Start(workerCtx); err != nil && err != context.Canceled {
			log.Printf("Expiry worker error: %v", err)
		}
	}()

	stockConsumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicStock, cfg.Kafka.ConsumerGroup)
	stockCacheWorker := worker.NewStockCacheWorker(stockConsumer, redisClient)
	go func() {
		if err := stockCacheWorker.Start(workerCtx); err != nil && err != context.Canceled {
			log.Printf("Stock cache worker error: %v", err)
		}
	}()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	handler := api.NewOrdersHandler(cartService, orderService, deliveryService)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	workerCancel()
	stockCacheWorker.Stop()

	log.Println("Server exited")
}
