package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/Lllllllleong/fileinsightpipeline/internal/adapters"
	"github.com/Lllllllleong/fileinsightpipeline/internal/classify"
	"github.com/Lllllllleong/fileinsightpipeline/internal/config"
	"github.com/Lllllllleong/fileinsightpipeline/internal/executor"
	"github.com/Lllllllleong/fileinsightpipeline/internal/orchestrator"
	"github.com/Lllllllleong/fileinsightpipeline/internal/store/firestoredb"
	"github.com/Lllllllleong/fileinsightpipeline/internal/trigger"
)

var (
	frontDoor *trigger.FrontDoor
	once      sync.Once
	initErr   error
)

func init() {
	// --- Set up structured logging ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Register the entry points. The framework routes the storage
	// notification and the HTTP endpoints here by entry point name.
	functions.CloudEvent("ProcessObject", processObject)
	functions.HTTP("HandleStart", handleStart)
	functions.HTTP("HandleStatus", handleStatus)
	functions.HTTP("HandleRerun", handleRerun)
}

// main is required by the Go Functions Framework.
func main() {}

// initFrontDoor builds the shared clients exactly once per process.
func initFrontDoor() {
	ctx := context.Background()

	cfg, err := config.NewResolver(config.Options{
		ConfigFile: config.GetEnv("CONFIG_FILE", ""),
		SecretDir:  config.GetEnv("SECRET_DIR", ""),
	})
	if err != nil {
		initErr = err
		return
	}

	set, _, err := adapters.NewGCPSet(ctx, cfg)
	if err != nil {
		initErr = err
		return
	}

	projectID, _ := cfg.Get("project.id")
	st, err := firestoredb.New(ctx, projectID, cfg.GetDefault("firestore.collection", ""))
	if err != nil {
		initErr = err
		return
	}

	fanOut, _ := strconv.Atoi(cfg.GetDefault("fanout.limit", "8"))
	exec := executor.New(executor.DefaultRetryPolicy(), fanOut, slog.Default())

	classifier := classify.Classifier{
		Multimodal: cfg.GetDefault("multimodal.enabled", "false") == "true",
	}

	orch := orchestrator.New(st, set, classifier, exec, slog.Default())
	frontDoor = trigger.New(orch, slog.Default(), cfg.GetDefault("service.base.url", ""))
}

// processObject is the storage notification entry point.
func processObject(ctx context.Context, e cloudevents.Event) error {
	once.Do(initFrontDoor)
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}
	return frontDoor.HandleGCSEvent(ctx, e)
}

func handleStart(w http.ResponseWriter, r *http.Request) {
	once.Do(initFrontDoor)
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		http.Error(w, "failed to initialize service", http.StatusInternalServerError)
		return
	}
	frontDoor.HandleStart(w, r)
}

func handleStatus(w http.ResponseWriter, r *http.Request) {
	once.Do(initFrontDoor)
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		http.Error(w, "failed to initialize service", http.StatusInternalServerError)
		return
	}
	frontDoor.HandleStatus(w, r)
}

func handleRerun(w http.ResponseWriter, r *http.Request) {
	once.Do(initFrontDoor)
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		http.Error(w, "failed to initialize service", http.StatusInternalServerError)
		return
	}
	frontDoor.HandleRerun(w, r)
}
