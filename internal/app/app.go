package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"edusocial/apps/rag/features/ingest"
	"edusocial/apps/rag/features/query"
	"edusocial/apps/rag/features/stats"
	"edusocial/apps/rag/internal/chunker"
	"edusocial/apps/rag/internal/config"
	"edusocial/apps/rag/internal/credential"
	"edusocial/apps/rag/internal/embedding"
	"edusocial/apps/rag/internal/middleware"
	"edusocial/apps/rag/internal/queue"
	"edusocial/apps/rag/internal/retrieval"
	"edusocial/apps/rag/internal/vector"
	"edusocial/apps/rag/internal/worker"
)

type App struct {
	Handler   http.Handler
	Processor *worker.Processor
	Consumer  *worker.ContentConsumer
	Pool      *credential.Pool

	port    int
	cleanup []func()
}

func New(cfg *config.Config, db *sql.DB, producer worker.Publisher) (*App, error) {
	// Credential pool + embedding client
	pool := credential.NewPool(credential.LoadKeys(cfg.EmbedCredentials), credential.NewErrorLog(db))
	if pool.Size() == 0 {
		slog.Warn("no embedding credentials configured, calls will be unauthenticated")
	}
	embedClient := embedding.NewClient(cfg.E5ServerURL, cfg.BGEServerURL, pool)

	// Core services
	textChunker := chunker.New(chunker.Config{
		MaxChunkSize: cfg.MaxChunkSize,
		MinChunkSize: cfg.MinChunkSize,
		OverlapSize:  cfg.OverlapSize,
	})
	queueStore := queue.NewStore(db)
	vecStore := vector.NewStore(db)

	queryLogger, err := retrieval.NewFileQueryLogger(cfg.QueryLogPath)
	if err != nil {
		slog.Warn("failed to create query logger, falling back to stdout", "error", err)
		queryLogger = retrieval.NewQueryLogger(os.Stdout)
	}
	retrievalService := retrieval.NewService(embedClient, vecStore, queryLogger)

	// Feature handlers
	ingestHandler := ingest.NewHandler(queueStore)
	queryHandler := query.NewHandler(retrievalService)
	statsHandler := stats.NewHandler(queueStore, vecStore, embedClient, pool)

	// Middleware: CORS
	enableCORS := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next(w, r)
		}
	}

	rl, stopRL := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
	wrap := func(h http.HandlerFunc) http.Handler {
		return middleware.CorrelationID(rl.Middleware(enableCORS(h)))
	}

	// Routes
	mux := http.NewServeMux()
	mux.Handle("POST /embeddings/queue", wrap(ingestHandler.Enqueue))
	mux.Handle("POST /context", wrap(queryHandler.GetContext))

	mux.Handle("GET /queue/status", wrap(statsHandler.QueueStatus))
	mux.Handle("GET /embeddings/stats", wrap(statsHandler.EmbeddingStats))
	mux.Handle("GET /credentials/status", wrap(statsHandler.CredentialStatus))
	mux.Handle("POST /credentials/{name}/reset", wrap(statsHandler.ResetCredential))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	// Background workers
	processor := worker.NewProcessor(queueStore, textChunker, embedClient, vecStore, producer, worker.ProcessorConfig{
		BatchSize:            cfg.ProcessorBatchSize,
		Interval:             time.Duration(cfg.ProcessorIntervalSeconds) * time.Second,
		MaxConcurrentBatches: cfg.ProcessorMaxBatches,
		StaleAfter:           time.Duration(cfg.StaleClaimMinutes) * time.Minute,
		FailedRequeueAfter:   time.Duration(cfg.FailedRequeueHours) * time.Hour,
		Retention:            time.Duration(cfg.QueueRetentionDays) * 24 * time.Hour,
	})

	return &App{
		Handler:   mux,
		Processor: processor,
		Consumer:  worker.NewContentConsumer(queueStore),
		Pool:      pool,
		port:      cfg.ServerPort,
		cleanup:   []func(){stopRL},
	}, nil
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.port),
		Handler: a.Handler,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server...")
		if err := srv.Shutdown(context.Background()); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
	}()

	slog.Info("server starting", "port", a.port)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (a *App) Close() {
	for _, fn := range a.cleanup {
		fn()
	}
}
