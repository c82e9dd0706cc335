// Command orchestrator is the erasure-orchestrator process: it consumes
// C1's DynamoDB Streams change feed, dispatches every fresh APPROVED
// transition through the C3->C4->C5 pipeline, and serves a /metrics and
// /health endpoint for operators (spec §4, §4.6).
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

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodbstreams"
	"github.com/aws/aws-sdk-go-v2/service/glue"
	"github.com/aws/aws-sdk-go-v2/service/redshiftdata"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/healthlake/erasure-orchestrator/internal/audit"
	orchestratorconfig "github.com/healthlake/erasure-orchestrator/internal/config"
	"github.com/healthlake/erasure-orchestrator/internal/deadletter"
	"github.com/healthlake/erasure-orchestrator/internal/locator"
	"github.com/healthlake/erasure-orchestrator/internal/logging"
	"github.com/healthlake/erasure-orchestrator/internal/metrics"
	"github.com/healthlake/erasure-orchestrator/internal/objectstore"
	"github.com/healthlake/erasure-orchestrator/internal/orchestrator"
	"github.com/healthlake/erasure-orchestrator/internal/queryengine"
	"github.com/healthlake/erasure-orchestrator/internal/requestlog"
	"github.com/healthlake/erasure-orchestrator/internal/rewriter"
	"github.com/healthlake/erasure-orchestrator/internal/trigger"
	"github.com/healthlake/erasure-orchestrator/internal/warehouse"
)

func main() {
	httpAddr := os.Getenv("HTTP_ADDR")
	if httpAddr == "" {
		httpAddr = ":8090"
	}

	cfg, err := orchestratorconfig.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	logger.Info("starting erasure orchestrator", "environment", cfg.EnvironmentName)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	dynamoClient := dynamodb.NewFromConfig(awsCfg)
	streamsClient := dynamodbstreams.NewFromConfig(awsCfg)
	athenaClient := athena.NewFromConfig(awsCfg)
	glueClient := glue.NewFromConfig(awsCfg)
	s3Client := s3.NewFromConfig(awsCfg)
	redshiftClient := redshiftdata.NewFromConfig(awsCfg)

	store := requestlog.NewStore(dynamoClient, cfg.RequestsTable)
	streamer := requestlog.NewStreamer(streamsClient, cfg.RequestsStreamArn, logger, cfg.PollInterval)

	engine := queryengine.New(athenaClient, glueClient, cfg.AthenaWorkgroup, cfg.QueryEngineTimeout, cfg.PollInterval)
	loc := locator.New(engine, cfg.GlueDatabase, cfg.GlueTable)
	objStore := objectstore.New(s3Client, cfg.CuratedBucket)
	rw := rewriter.New(engine, objStore, logger, cfg.GlueDatabase, cfg.GlueTable, cfg.StagingDatabase, cfg.CuratedBucket, destPrefixFor(), stagePrefixFor())
	wh := warehouse.New(redshiftClient, cfg.RedshiftClusterID, cfg.RedshiftDatabase, cfg.RedshiftDBUser, cfg.RedshiftWorkgroup, cfg.WarehouseTable, cfg.WarehouseTimeout, cfg.PollInterval)

	registry := prometheus.NewRegistry()
	rec := metrics.New(registry, cfg.EnvironmentName)

	dl, err := deadletter.Open(ctx, cfg.DeadLetterDSN)
	if err != nil {
		logger.Error("failed to open dead-letter store", "error", err)
		os.Exit(1)
	}
	defer dl.Close()

	pipeline := orchestrator.New(store, loc, rw, wh, rec, dl, logger, cfg.RequestDeadline)

	dispatcher, err := trigger.NewDispatcher(cfg.WorkerCount, pipeline.Process, logger)
	if err != nil {
		logger.Error("failed to build dispatcher", "error", err)
		os.Exit(1)
	}

	events := make(chan requestlog.ChangeEvent, 64)
	go streamer.Run(ctx, events)
	go dispatcher.Run(ctx, events)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	server := &http.Server{Addr: httpAddr, Handler: mux}

	go func() {
		logger.Info("operational HTTP server starting", "addr", httpAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("operational HTTP server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("operational HTTP server shutdown error", "error", err)
	}

	dispatcher.Stop()
	logger.Info("shutdown complete")
}

// destPrefixFor and stagePrefixFor build the fixed key layout spec §4.4
// and §5 require: the orchestrator only ever mutates object keys under
// the curated/ and temp-erasure/ prefixes of the curated bucket. The
// staging prefix is named after the same S_p staging table name the
// rewriter uses for the staging catalog entry, so the two never drift
// apart.
func destPrefixFor() func(audit.Partition) string {
	return func(p audit.Partition) string {
		return fmt.Sprintf("curated/year=%s/month=%s/day=%s/", p.Year, p.Month, p.Day)
	}
}

func stagePrefixFor() func(audit.Partition, string) string {
	return func(p audit.Partition, nonce string) string {
		return fmt.Sprintf("temp-erasure/%s/", rewriter.StagingTableName(p, nonce))
	}
}
