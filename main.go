package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nsqio/go-nsq"

	"walter/apps/backend/internal/app"
	"walter/apps/backend/internal/config"
	"walter/apps/backend/internal/logger"
)

func main() {
	slogger := slog.New(logger.NewContextHandler(slog.NewJSONHandler(os.Stdout, nil)))
	slog.SetDefault(slogger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, slogger); err != nil {
		slog.Error("run failed", "error", err)
		os.Exit(1)
	}

	slog.Info("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, slogger *slog.Logger) error {
	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.DB.Close()

	a, err := app.New(cfg, deps.DB, deps.ObjectStore, deps.NSQProducer, slogger)
	if err != nil {
		return err
	}

	var workerDone chan struct{}
	if cfg.EnableWorker {
		workerDone = make(chan struct{})
		go func() {
			defer close(workerDone)
			a.Worker.Run(ctx)
		}()

		// Queue events only wake the poller early; the claim query is
		// what hands out work.
		consumer, err := nsq.NewConsumer(config.TopicReceiptJob, "worker", nsq.NewConfig())
		if err != nil {
			slog.Error("failed to create NSQ consumer", "error", err)
		} else {
			consumer.AddHandler(a.WakeConsumer)
			if err := consumer.ConnectToNSQLookupd(cfg.NSQLookupd); err != nil {
				slog.Error("failed to connect to NSQLookupd", "error", err)
			} else {
				slog.Info("NSQ wake consumer connected", "topic", config.TopicReceiptJob)
			}
			defer consumer.Stop()
		}
	}

	var runErr error
	if cfg.EnableAPI {
		runErr = a.Run(ctx)
	} else {
		<-ctx.Done()
	}

	// Let an in-flight stage finish before the process exits.
	if workerDone != nil {
		<-workerDone
	}
	return runErr
}
