package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/easel-labs/easel-go/internal/comfy"
	"github.com/easel-labs/easel-go/internal/platform/env"
	"github.com/easel-labs/easel-go/internal/platform/httpserver"
	"github.com/easel-labs/easel-go/internal/platform/objectstore"
	"github.com/easel-labs/easel-go/internal/platform/postgres"
	runspg "github.com/easel-labs/easel-go/internal/repo/postgres"
	"github.com/easel-labs/easel-go/internal/service/gallery"
	"github.com/easel-labs/easel-go/internal/service/runs"
	"github.com/easel-labs/easel-go/internal/workflow"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := env.String("EASEL_GENERATION_HTTP_ADDR", ":8087")
	shutdownTimeout, err := env.Duration("EASEL_GENERATION_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}

	dbCfg, err := postgres.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid database config", "error", err)
		os.Exit(2)
	}
	db, err := postgres.Open(ctx, dbCfg)
	if err != nil {
		logger.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	storeCfg, err := objectstore.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid object store config", "error", err)
		os.Exit(2)
	}
	storeClient, err := objectstore.NewMinIOClient(storeCfg)
	if err != nil {
		logger.Error("object store client init failed", "error", err)
		os.Exit(2)
	}
	startupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := objectstore.EnsureBucket(startupCtx, storeClient, storeCfg); err != nil {
		cancel()
		logger.Error("object store unavailable", "error", err)
		os.Exit(1)
	}
	cancel()

	comfyCfg, err := comfy.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid engine config", "error", err)
		os.Exit(2)
	}
	engine, err := comfy.NewClient(comfyCfg)
	if err != nil {
		logger.Error("engine client init failed", "error", err)
		os.Exit(2)
	}

	templatePath := env.String("EASEL_WORKFLOW_TEMPLATE", "templates/generate.json")
	roles := workflow.DefaultNodeRoles()
	if rolesPath := env.String("EASEL_WORKFLOW_ROLES", ""); rolesPath != "" {
		roles, err = workflow.LoadNodeRoles(rolesPath)
		if err != nil {
			logger.Error("invalid node roles", "error", err)
			os.Exit(2)
		}
	}
	templates := workflow.NewStore(templatePath, roles)
	if templates == nil {
		logger.Error("missing workflow template path", "env", "EASEL_WORKFLOW_TEMPLATE")
		os.Exit(2)
	}

	inputDir := env.String("EASEL_COMFY_INPUT_DIR", "/data/comfy/input")
	inputs := runs.NewDirInputStore(inputDir)
	if inputs == nil {
		logger.Error("missing engine input dir", "env", "EASEL_COMFY_INPUT_DIR")
		os.Exit(2)
	}

	grace, err := env.Duration("EASEL_RUN_HISTORY_GRACE", 600*time.Second)
	if err != nil {
		logger.Error("invalid grace window", "error", err)
		os.Exit(2)
	}

	mirror := gallery.NewMirror(logger, storeClient, storeCfg, engine)
	if mirror == nil {
		logger.Error("mirror init failed")
		os.Exit(2)
	}

	runStore := runspg.NewRunStore(db)
	service := runs.New(logger, runStore, engine, templates, inputs, mirror, grace)
	if service == nil {
		logger.Error("service init failed")
		os.Exit(2)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", httpserver.Healthz("generation"))
	mux.HandleFunc(
		"/readyz",
		httpserver.ReadyzWithChecks(
			"generation",
			httpserver.ReadinessCheck{
				Name: "postgres",
				Check: func(ctx context.Context) error {
					checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
					defer cancel()
					return db.PingContext(checkCtx)
				},
			},
			httpserver.ReadinessCheck{
				Name: "minio",
				Check: func(ctx context.Context) error {
					checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
					defer cancel()
					return objectstore.CheckBucket(checkCtx, storeClient, storeCfg)
				},
			},
		),
	)

	api := newGenerationAPI(logger, db, service, engine)
	api.register(mux)

	cfg := httpserver.Config{
		Service:         "generation",
		Addr:            addr,
		ShutdownTimeout: shutdownTimeout,
	}
	if err := httpserver.Run(ctx, logger, cfg, httpserver.Wrap(logger, "generation", mux)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}
