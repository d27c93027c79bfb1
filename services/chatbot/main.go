// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianConverse/services/chatbot/config"
	"github.com/AleutianAI/AleutianConverse/services/chatbot/conversation"
	"github.com/AleutianAI/AleutianConverse/services/chatbot/routes"
	"github.com/AleutianAI/AleutianConverse/services/chatbot/session"
	"github.com/AleutianAI/AleutianConverse/services/guardrails"
	"github.com/AleutianAI/AleutianConverse/services/index"
	"github.com/AleutianAI/AleutianConverse/services/llm"
	badgerstore "github.com/AleutianAI/AleutianConverse/services/storage/badger"

	// --- OpenTelemetry imports ---
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func initTracer() (func(context.Context), error) {
	ctx := context.Background()

	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint == "" {
		otelEndpoint = "converse-otel-collector:4317"
	}
	conn, err := grpc.NewClient(otelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("chatbot-service")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.
		TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

// buildLLMClient picks the backend from config. Every backend returned here
// implements both generation and embedding.
func buildLLMClient(cfg *config.Config) (llm.LLMClient, llm.Embedder, error) {
	switch cfg.LLMBackend {
	case "openai":
		client, err := llm.NewOpenAIClient()
		if err != nil {
			return nil, nil, err
		}
		slog.Info("Using OpenAI LLM backend")
		return client, client, nil
	default:
		client, err := llm.NewOllamaClient()
		if err != nil {
			return nil, nil, err
		}
		slog.Info("Using Ollama LLM backend")
		return client, client, nil
	}
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("FATAL: invalid configuration: %v", err)
	}

	// --- Init the tracer ---
	cleanup, err := initTracer()
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	// --- Durable session layer ---
	var durable session.DurableStore
	if cfg.DataDir != "" {
		db, err := badgerstore.OpenWithPath(cfg.DataDir)
		if err != nil {
			log.Fatalf("FATAL: could not open the session database: %v", err)
		}
		defer db.Close()
		durable = session.NewBadgerStore(db)
	} else {
		slog.Warn("DATA_DIR not set. Running in lightweight mode (sessions are process-local).")
	}
	sessionCfg := session.DefaultConfig()
	sessionCfg.TTL = time.Duration(cfg.SessionTTLSeconds) * time.Second
	sessions := session.NewStore(durable, sessionCfg)

	// --- Guardrails ---
	engine, err := guardrails.NewEngine(guardrails.Config{
		MaxInputLength:       cfg.MaxInputLength,
		MaxOutputLength:      cfg.MaxOutputLength,
		EnableContentFilter:  cfg.EnableContentFilter,
		EnablePIIDetection:   cfg.EnablePIIDetection,
		EnableToxicityFilter: cfg.EnableToxicityFilter,
		PIIInputSeverity:     guardrails.Severity(cfg.PIIInputSeverity),
		ToxicityThreshold:    1,
	})
	if err != nil {
		log.Fatalf("FATAL: could not initialize the guardrails engine: %v", err)
	}

	// --- LLM and embeddings ---
	log.Println("Configuring the LLM Client")
	client, embedder, err := buildLLMClient(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize LLM client: %v", err)
	}
	if cfg.LLMRateLimitRPS > 0 {
		client = llm.NewRateLimitedClient(client, cfg.LLMRateLimitRPS, 1)
	}

	// --- Vector index and ingestion ---
	ix := index.NewIndex(embedder)
	ingestor := index.NewIngestor(ix, cfg.ChunkSize, cfg.ChunkOverlap, index.TextLoader{})
	if cfg.DocsDir != "" {
		chunks, err := ingestor.IngestDirectory(context.Background(), cfg.DocsDir)
		if err != nil {
			slog.Error("Startup ingestion failed", "dir", cfg.DocsDir, "error", err)
		} else {
			slog.Info("Startup ingestion complete", "dir", cfg.DocsDir, "chunks", chunks)
		}
		if cfg.WatchDocs {
			watcher, err := index.NewDocumentWatcher(cfg.DocsDir, ingestor, 2*time.Second)
			if err != nil {
				slog.Error("Could not watch the docs directory", "dir", cfg.DocsDir, "error", err)
			} else if err := watcher.Start(context.Background()); err != nil {
				slog.Error("Document watcher failed to start", "error", err)
			} else {
				defer watcher.Stop()
			}
		}
	}

	orch := conversation.NewOrchestrator(engine, ix, client, sessions, conversation.Config{
		TopK:         cfg.TopK,
		MaxRetries:   cfg.LLMMaxRetries,
		RetryBackoff: cfg.LLMRetryBackoff,
		TurnDeadline: cfg.TurnDeadline,
	})

	router := gin.Default()
	router.Use(otelgin.Middleware("chatbot-service"))
	routes.SetupRoutes(router, orch, ingestor, ix, sessions)

	log.Println("Starting the chatbot server on port ", cfg.Port)
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
