// pipectl is the operator tool: start a run against a local or remote
// instance store, inspect instance status, list recent instances, and clear
// failed instances for re-run.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/urfave/cli/v2"

	"github.com/Lllllllleong/fileinsightpipeline/internal/adapters"
	"github.com/Lllllllleong/fileinsightpipeline/internal/classify"
	"github.com/Lllllllleong/fileinsightpipeline/internal/config"
	"github.com/Lllllllleong/fileinsightpipeline/internal/executor"
	"github.com/Lllllllleong/fileinsightpipeline/internal/models"
	"github.com/Lllllllleong/fileinsightpipeline/internal/orchestrator"
	"github.com/Lllllllleong/fileinsightpipeline/internal/store"
	"github.com/Lllllllleong/fileinsightpipeline/internal/store/badgerdb"
	"github.com/Lllllllleong/fileinsightpipeline/internal/store/firestoredb"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	app := &cli.App{
		Name:  "pipectl",
		Usage: "operate the file insight pipeline",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "badger-path",
				Usage:   "path of a local badger instance store; overrides firestore",
				EnvVars: []string{"FIP_BADGER_PATH"},
			},
			&cli.StringFlag{
				Name:    "config",
				Usage:   "path of the YAML config file",
				EnvVars: []string{"CONFIG_FILE"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "run",
				Usage:     "start or resume processing of one object",
				ArgsUsage: "<container> <name>",
				Flags: []cli.Flag{
					&cli.Int64Flag{Name: "size", Usage: "object size in bytes"},
					&cli.BoolFlag{Name: "multimodal", Usage: "route renderable documents through vision inference"},
				},
				Action: runAction,
			},
			{
				Name:      "status",
				Usage:     "print the persisted state of one instance",
				ArgsUsage: "<key>",
				Action:    statusAction,
			},
			{
				Name:      "rerun",
				Usage:     "clear a failed instance and resume it",
				ArgsUsage: "<key>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "multimodal", Usage: "route renderable documents through vision inference"},
				},
				Action: rerunAction,
			},
			{
				Name:  "list",
				Usage: "list recent instances",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Value: 20, Usage: "maximum instances to print"},
				},
				Action: listAction,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		logger.Error("Command failed.", "error", err)
		os.Exit(1)
	}
}

func newResolver(c *cli.Context) (*config.Resolver, error) {
	return config.NewResolver(config.Options{
		ConfigFile: c.String("config"),
		SecretDir:  config.GetEnv("SECRET_DIR", ""),
	})
}

// openStore selects the instance store: a local badger database when
// --badger-path is set, firestore otherwise.
func openStore(ctx context.Context, c *cli.Context, cfg config.Lookup) (store.Store, error) {
	if path := c.String("badger-path"); path != "" {
		return badgerdb.Open(path)
	}
	projectID, ok := cfg.Get("project.id")
	if !ok {
		return nil, fmt.Errorf("project.id must be configured when no --badger-path is given")
	}
	return firestoredb.New(ctx, projectID, cfg.GetDefault("firestore.collection", ""))
}

func newOrchestrator(ctx context.Context, c *cli.Context, multimodal bool) (*orchestrator.Orchestrator, func(), error) {
	cfg, err := newResolver(c)
	if err != nil {
		return nil, nil, err
	}
	st, err := openStore(ctx, c, cfg)
	if err != nil {
		return nil, nil, err
	}
	set, closeSet, err := adapters.NewGCPSet(ctx, cfg)
	if err != nil {
		st.Close()
		return nil, nil, err
	}

	fanOut, _ := strconv.Atoi(cfg.GetDefault("fanout.limit", "8"))
	exec := executor.New(executor.DefaultRetryPolicy(), fanOut, slog.Default())
	orch := orchestrator.New(st, set, classify.Classifier{Multimodal: multimodal}, exec, slog.Default())
	cleanup := func() {
		closeSet()
		st.Close()
	}
	return orch, cleanup, nil
}

func runAction(c *cli.Context) error {
	if c.NArg() != 2 {
		return cli.Exit("usage: pipectl run <container> <name>", 2)
	}
	orch, cleanup, err := newOrchestrator(c.Context, c, c.Bool("multimodal"))
	if err != nil {
		return err
	}
	defer cleanup()

	d := models.NewInputDescriptor(c.Args().Get(0), c.Args().Get(1), c.Int64("size"))
	inst, err := orch.StartOrResume(c.Context, d)
	if err != nil {
		return err
	}
	return printJSON(models.StatusResponse(inst, ""))
}

func statusAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: pipectl status <key>", 2)
	}
	cfg, err := newResolver(c)
	if err != nil {
		return err
	}
	st, err := openStore(c.Context, c, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	inst, err := st.Get(c.Context, c.Args().First())
	if err != nil {
		return err
	}
	return printJSON(models.StatusResponse(inst, ""))
}

func rerunAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("usage: pipectl rerun <key>", 2)
	}
	orch, cleanup, err := newOrchestrator(c.Context, c, c.Bool("multimodal"))
	if err != nil {
		return err
	}
	defer cleanup()

	inst, err := orch.Rerun(c.Context, c.Args().First())
	if err != nil {
		return err
	}
	return printJSON(models.StatusResponse(inst, ""))
}

func listAction(c *cli.Context) error {
	cfg, err := newResolver(c)
	if err != nil {
		return err
	}
	st, err := openStore(c.Context, c, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	instances, err := st.List(c.Context, c.Int("limit"))
	if err != nil {
		return err
	}
	views := make([]models.InstanceStatusResponse, len(instances))
	for i, inst := range instances {
		views[i] = models.StatusResponse(inst, "")
	}
	return printJSON(views)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
