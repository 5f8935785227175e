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

	"release-tracker/config"
	"release-tracker/internal/api"
	"release-tracker/internal/broker"
	"release-tracker/internal/docstore"
	"release-tracker/internal/ingest"
	"release-tracker/internal/journal"
	"release-tracker/internal/limiter"
	"release-tracker/internal/normalizer"
	"release-tracker/internal/stats"
	"release-tracker/internal/store"
	"release-tracker/internal/util"
	"release-tracker/internal/worker"

	"github.com/gin-gonic/gin"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting release tracker")

	tp, err := util.InitTracer("release-tracker", cfg.Observ.JaegerEndpoint)
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

	db, err := store.NewStore(cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected, migrations applied")

	docs, err := docstore.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer docs.Close()
	log.Println("Document store connected")

	alertProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicAlerts)
	defer alertProducer.Close()
	intakeProducer := broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicRaw)
	defer intakeProducer.Close()
	log.Println("Kafka producers initialized")

	publisher := broker.NewEventPublisher(alertProducer, intakeProducer)

	storeLimiter := limiter.New(limiter.Config{
		Concurrency: cfg.Ingest.SourceConcurrency,
		MinSpacing:  cfg.Ingest.MinRequestSpacing,
		MaxAttempts: cfg.Ingest.RetryMaxAttempts,
		BaseDelay:   cfg.Ingest.RetryBaseDelay,
		MaxDelay:    cfg.Ingest.RetryMaxDelay,
		Timeout:     cfg.Ingest.RequestTimeout,
	})

	fallback := journal.New(cfg.Ingest.JournalPath)
	defer fallback.Close()

	aggregator := stats.NewAggregator(docs, db, cfg.Ingest.StatsFlushInterval)

	committer := ingest.NewCommitter(docs, db, storeLimiter, fallback)
	ingestService := ingest.NewService(
		normalizer.New(normalizer.NewBrandTable(cfg.Ingest.BrandAliasPath)),
		ingest.NewResolver(db),
		ingest.NewTracker(db),
		committer,
		aggregator,
		publisher,
		fallback,
		cfg.Ingest.MaxBatchSize,
	)

	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()

	// backfill recent release documents so reads survive a cache flush
	syncer := ingest.NewSyncer(db, docs, cfg.Ingest.StoreBatchSize)
	if synced, err := syncer.SyncDocuments(workerCtx, time.Now().AddDate(0, 0, -7)); err != nil {
		log.Printf("Failed to sync release documents: %v", err)
	} else {
		log.Printf("Synced %d release documents to document store", synced)
	}

	committer.StartRepairWorker(workerCtx)
	go aggregator.Run(workerCtx)

	intakeHandler := broker.NewIntakeHandler(ingestService, db)
	intakeWorkers := make([]*worker.IntakeWorker, 0, cfg.Ingest.WorkersPerSource)
	for i := 0; i < cfg.Ingest.WorkersPerSource; i++ {
		consumer := broker.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TopicRaw, cfg.Kafka.ConsumerGroup)
		w := worker.NewIntakeWorker(consumer, intakeHandler)
		intakeWorkers = append(intakeWorkers, w)
		go func() {
			if err := w.Start(workerCtx); err != nil && workerCtx.Err() == nil {
				log.Printf("Intake worker error: %v", err)
			}
		}()
	}

	finalizer := worker.NewFinalizerWorker(aggregator, cfg.Ingest.FinalizerInterval)
	go finalizer.Start(workerCtx)

	importer := worker.NewImporterWorker(fallback, ingestService, time.Minute)
	go importer.Start(workerCtx)

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	handler := api.NewHandler(ingestService, db)
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
	for _, w := range intakeWorkers {
		w.Stop()
	}

	log.Println("Server exited")
}
