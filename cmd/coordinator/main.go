package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"ndjson-pipeline/internal/alert"
	"ndjson-pipeline/internal/api"
	"ndjson-pipeline/internal/batch"
	"ndjson-pipeline/internal/config"
	"ndjson-pipeline/internal/ingest"
	"ndjson-pipeline/internal/lease"
	"ndjson-pipeline/internal/manifest"
	"ndjson-pipeline/internal/metrics"
	"ndjson-pipeline/internal/reconcile"
	"ndjson-pipeline/internal/runner"
	"ndjson-pipeline/internal/storage"
	"ndjson-pipeline/internal/track"
	"ndjson-pipeline/internal/validate"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	if cfg.ManifestBucket == "" {
		log.Fatal("MANIFEST_BUCKET is required")
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	objects, err := storage.New(ctx, cfg)
	if err != nil {
		log.Fatalf("init object storage: %v", err)
	}

	store := track.New(redisClient, cfg.PendingRetention, cfg.QuarantineRetention)
	leases := lease.NewManager(redisClient, cfg.LeaseTTL)
	emitter := manifest.NewEmitter(objects, cfg.ManifestBucket)
	coordinator := batch.New(store, leases, emitter, cfg.BatchTargetBytes(), cfg.PendingPageSize)

	validator := validate.New(".ndjson", cfg.ExpectedFileSizeMB, cfg.SizeTolerancePct)
	ingestSvc := ingest.New(validator, store, coordinator, objects, cfg.QuarantineBucket)

	var runClient runner.Client
	if cfg.RunnerBaseURL != "" {
		runClient = runner.NewHTTPClient(cfg.RunnerBaseURL, cfg.RunnerTimeout)
	} else {
		log.Print("RUNNER_BASE_URL not set, reconciliation uses notification fields only")
	}

	var alerts alert.Sink
	if cfg.AlertTopicARN != "" {
		sink, err := alert.NewSNSSink(ctx, cfg.AWSRegion, cfg.AlertTopicARN, cfg.Env)
		if err != nil {
			log.Fatalf("init alert sink: %v", err)
		}
		alerts = sink
	} else {
		log.Print("ALERT_TOPIC_ARN not set, alerts degrade to logs")
	}

	var recorder reconcile.RunRecorder
	if cfg.MetricsDSN != "" {
		rec, err := metrics.NewRecorder(ctx, cfg.MetricsDSN)
		if err != nil {
			log.Fatalf("connect metrics store: %v", err)
		}
		defer rec.Close()
		if err := rec.RunMigrations(ctx); err != nil {
			log.Fatalf("metrics migrations: %v", err)
		}
		recorder = rec
	} else {
		log.Print("METRICS_DSN not set, skipping durable metric records")
	}

	reconciler := reconcile.New(store, manifest.NewReader(objects), runClient, alerts, recorder, reconcile.Config{
		ExpectedRunMin:    cfg.ExpectedRunMin,
		ExpectedRunMax:    cfg.ExpectedRunMax,
		CostPerWorkerHour: cfg.CostPerWorkerHour,
	})

	server := api.New(ingestSvc, reconciler)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	log.Printf("coordinator listening on :%s (target=%.2fGB lease_ttl=%s)",
		cfg.HTTPPort, cfg.BatchTargetGB, cfg.LeaseTTL)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}
