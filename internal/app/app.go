package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"walter/apps/backend/features/job"
	"walter/apps/backend/features/ledger"
	"walter/apps/backend/features/receipt"
	"walter/apps/backend/features/stats"
	"walter/apps/backend/internal/adapter/gemini"
	"walter/apps/backend/internal/adapter/objstore"
	"walter/apps/backend/internal/adapter/ocr"
	"walter/apps/backend/internal/config"
	"walter/apps/backend/internal/middleware"
	"walter/apps/backend/internal/settings"
	"walter/apps/backend/internal/worker"
)

type TaskPublisher interface {
	Publish(topic string, body []byte) error
}

type App struct {
	Handler        http.Handler
	ReceiptService *receipt.Service
	Worker         *worker.Worker
	WakeConsumer   *worker.WakeConsumer

	port int
}

func New(
	cfg *config.Config,
	db *sql.DB,
	objects *objstore.Store,
	taskPub TaskPublisher,
	logger *slog.Logger,
) (*App, error) {

	// Feature: Settings
	settingsRepo := settings.NewPostgresRepo(db)
	settingsService := settings.NewService(settingsRepo)

	// Seed Gemini API Key from Config
	if cfg.GeminiAPIKey != "" {
		ctx := context.Background()
		set, err := settingsService.Get(ctx)
		if err == nil {
			if set.GeminiAPIKey == "" {
				set.GeminiAPIKey = cfg.GeminiAPIKey
				if err := settingsService.Update(ctx, set); err != nil {
					slog.Warn("failed to seed gemini api key", "error", err)
				} else {
					slog.Info("seeded gemini api key from environment")
				}
			}
		} else {
			slog.Warn("failed to fetch settings for seeding", "error", err)
		}
	}

	settingsHandler := settings.NewHandler(settingsService)

	// Adapters
	ocrClient := ocr.NewClient(cfg.OCRServiceURL)
	receiptParser := gemini.NewDynamicParser(settingsService)

	// Feature: Job
	jobRepo := job.NewPostgresRepo(db)
	jobService := job.NewService(jobRepo, taskPub, settingsService, cfg.JobMaxAttempts)
	jobHandler := job.NewHandler(jobService)

	// Feature: Receipt
	presignExpiry := time.Duration(cfg.PresignExpiryMins) * time.Minute
	receiptRepo := receipt.NewPostgresRepo(db)
	receiptService := receipt.NewService(receiptRepo, objects, jobService, ocrClient, receiptParser, presignExpiry)
	receiptHandler := receipt.NewHandler(receiptService, cfg.MaxUploadSizeMB<<20)

	// Feature: Ledger
	ledgerRepo := ledger.NewPostgresRepo(db)
	ledgerService := ledger.NewService(ledgerRepo)
	ledgerHandler := ledger.NewHandler(ledgerService)

	// Feature: Stats
	statsHandler := stats.NewHandler(receiptRepo, jobRepo, ledgerRepo)

	// Middleware: CORS
	enableCORS := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-User-ID")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next(w, r)
		}
	}

	// Routes
	mux := http.NewServeMux()

	mux.Handle("POST /receipts/presign", middleware.CorrelationID(enableCORS(receiptHandler.Presign)))
	mux.Handle("POST /receipts/scan", middleware.CorrelationID(enableCORS(receiptHandler.Scan)))
	mux.Handle("POST /receipts/{id}/confirm", middleware.CorrelationID(enableCORS(receiptHandler.Confirm)))
	mux.Handle("GET /receipts", middleware.CorrelationID(enableCORS(receiptHandler.List)))
	mux.Handle("GET /receipts/{id}", middleware.CorrelationID(enableCORS(receiptHandler.Get)))
	mux.Handle("GET /receipts/{id}/download", middleware.CorrelationID(enableCORS(receiptHandler.Download)))
	mux.Handle("GET /receipts/{id}/job", middleware.CorrelationID(enableCORS(jobHandler.GetByReceipt)))
	mux.Handle("DELETE /receipts/{id}", middleware.CorrelationID(enableCORS(receiptHandler.Delete)))

	mux.Handle("GET /jobs/failed", middleware.CorrelationID(enableCORS(jobHandler.ListFailed)))
	mux.Handle("GET /jobs/{id}", middleware.CorrelationID(enableCORS(jobHandler.GetStatus)))

	mux.Handle("GET /records", middleware.CorrelationID(enableCORS(ledgerHandler.List)))
	mux.Handle("GET /records/totals", middleware.CorrelationID(enableCORS(ledgerHandler.Totals)))
	mux.Handle("GET /records/{id}", middleware.CorrelationID(enableCORS(ledgerHandler.Get)))
	mux.Handle("DELETE /records/{id}", middleware.CorrelationID(enableCORS(ledgerHandler.Delete)))

	mux.Handle("GET /settings", middleware.CorrelationID(enableCORS(settingsHandler.GetSettings)))
	mux.Handle("PUT /settings", middleware.CorrelationID(enableCORS(settingsHandler.UpdateSettings)))

	mux.Handle("GET /stats", middleware.CorrelationID(enableCORS(statsHandler.GetStats)))

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	// Pipeline worker
	workerID := cfg.WorkerID
	if workerID == "" {
		workerID = "worker-" + uuid.New().String()[:8]
	}

	pipelineWorker := worker.New(worker.Config{
		ID:            workerID,
		PollInterval:  time.Duration(cfg.WorkerPollIntervalSec) * time.Second,
		LeaseDuration: time.Duration(cfg.WorkerLeaseSec) * time.Second,
		StageTimeout:  time.Duration(cfg.StageTimeoutSec) * time.Second,
		OCRMaxChars:   cfg.OCRTextMaxChars,
	}, jobRepo, receiptRepo, objects, ocrClient, receiptParser, ledgerRepo)

	return &App{
		Handler:        mux,
		ReceiptService: receiptService,
		Worker:         pipelineWorker,
		WakeConsumer:   worker.NewWakeConsumer(pipelineWorker),
		port:           cfg.ServerPort,
	}, nil
}

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
