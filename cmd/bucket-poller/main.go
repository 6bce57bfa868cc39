// bucket-poller is the development trigger: instead of relying on storage
// notifications it scans the intake bucket on an interval and submits every
// object it finds. StartOrResume is idempotent per object, so re-submitting
// the same listing every tick is harmless.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"github.com/panjf2000/ants/v2"
	"google.golang.org/api/iterator"

	"github.com/Lllllllleong/fileinsightpipeline/internal/adapters"
	"github.com/Lllllllleong/fileinsightpipeline/internal/classify"
	"github.com/Lllllllleong/fileinsightpipeline/internal/config"
	"github.com/Lllllllleong/fileinsightpipeline/internal/executor"
	"github.com/Lllllllleong/fileinsightpipeline/internal/models"
	"github.com/Lllllllleong/fileinsightpipeline/internal/orchestrator"
	"github.com/Lllllllleong/fileinsightpipeline/internal/store/firestoredb"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger); err != nil {
		logger.Error("Poller exited with error.", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := config.NewResolver(config.Options{
		ConfigFile: config.GetEnv("CONFIG_FILE", ""),
		SecretDir:  config.GetEnv("SECRET_DIR", ""),
	})
	if err != nil {
		return err
	}

	intakeBucket, ok := cfg.Get("intake.bucket")
	if !ok {
		return errors.New("intake.bucket must be configured")
	}
	interval, err := time.ParseDuration(cfg.GetDefault("poll.interval", "30s"))
	if err != nil {
		return err
	}

	set, closeSet, err := adapters.NewGCPSet(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSet()

	projectID, _ := cfg.Get("project.id")
	st, err := firestoredb.New(ctx, projectID, cfg.GetDefault("firestore.collection", ""))
	if err != nil {
		return err
	}
	defer st.Close()

	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return err
	}
	defer storageClient.Close()

	fanOut, _ := strconv.Atoi(cfg.GetDefault("fanout.limit", "8"))
	exec := executor.New(executor.DefaultRetryPolicy(), fanOut, logger)
	classifier := classify.Classifier{
		Multimodal: cfg.GetDefault("multimodal.enabled", "false") == "true",
	}
	orch := orchestrator.New(st, set, classifier, exec, logger)

	workers, _ := strconv.Atoi(cfg.GetDefault("poll.workers", "4"))
	pool, err := ants.NewPool(workers, ants.WithLogger(antsLogger{logger}))
	if err != nil {
		return err
	}
	defer pool.Release()

	logger.Info("Polling intake bucket.", "bucket", intakeBucket, "interval", interval.String(), "workers", workers)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := sweep(ctx, logger, storageClient, intakeBucket, pool, orch); err != nil {
			logger.Error("Sweep failed.", "error", err)
		}
		select {
		case <-ctx.Done():
			logger.Info("Shutting down.")
			return nil
		case <-ticker.C:
		}
	}
}

// sweep lists every object in the intake bucket and submits each one to the
// worker pool. Objects already processed converge as no-ops.
func sweep(ctx context.Context, logger *slog.Logger, client *storage.Client, bucket string, pool *ants.Pool, orch *orchestrator.Orchestrator) error {
	it := client.Bucket(bucket).Objects(ctx, nil)
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return err
		}

		d := models.NewInputDescriptor(bucket, attrs.Name, attrs.Size)
		if err := pool.Submit(func() {
			inst, err := orch.StartOrResume(ctx, d)
			if err != nil {
				logger.Error("Orchestration failed for object.", "object", d.Name, "error", err)
				return
			}
			logger.Info("Object handled.", "object", d.Name, "instanceKey", inst.Key, "status", inst.Status)
		}); err != nil {
			return err
		}
	}
}

// antsLogger adapts the pool's logger interface to slog.
type antsLogger struct {
	logger *slog.Logger
}

func (l antsLogger) Printf(format string, args ...interface{}) {
	l.logger.Info("worker pool", "message", fmt.Sprintf(format, args...))
}
