package main

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/easel-labs/easel-go/internal/domain"
	"github.com/easel-labs/easel-go/internal/platform/auditlog"
	"github.com/easel-labs/easel-go/internal/repo"
	"github.com/easel-labs/easel-go/internal/service/runs"
	"github.com/easel-labs/easel-go/internal/workflow"
)

const maxInitImageBytes = 32 << 20

// runService is the slice of the runs service the handlers use.
type runService interface {
	Create(ctx context.Context, in runs.CreateRunInput) (domain.Run, error)
	Get(ctx context.Context, id string) (domain.Run, error)
	List(ctx context.Context, filter repo.RunFilter) ([]domain.Run, error)
	Reconcile(ctx context.Context, id string) (domain.Run, error)
	Defaults() (workflow.Defaults, error)
}

// artifactViewer proxies artifact bytes from the engine.
type artifactViewer interface {
	View(ctx context.Context, filename, subfolder, artifactType string) (io.ReadCloser, string, error)
}

type generationAPI struct {
	logger  *slog.Logger
	db      *sql.DB
	service runService
	viewer  artifactViewer
}

func newGenerationAPI(logger *slog.Logger, db *sql.DB, service runService, viewer artifactViewer) *generationAPI {
	return &generationAPI{
		logger:  logger,
		db:      db,
		service: service,
		viewer:  viewer,
	}
}

func (api *generationAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /runs", api.handleCreateRun)
	mux.HandleFunc("GET /runs", api.handleListRuns)
	mux.HandleFunc("GET /runs/{run_id}", api.handleGetRun)
	mux.HandleFunc("POST /runs/{run_id}/reconcile", api.handleReconcileRun)

	mux.HandleFunc("GET /defaults", api.handleDefaults)
	mux.HandleFunc("GET /view", api.handleView)
}

type createRunRequest struct {
	RecipeID     string                `json:"recipe_id,omitempty"`
	Params       domain.GenerateParams `json:"params"`
	InitImage    string                `json:"init_image_b64,omitempty"`
	ControlImage string                `json:"control_image_b64,omitempty"`
}

type runResponse struct {
	RunID        string          `json:"run_id"`
	RecipeID     string          `json:"recipe_id,omitempty"`
	Status       string          `json:"status"`
	PromptID     string          `json:"prompt_id,omitempty"`
	Request      domain.Metadata `json:"request,omitempty"`
	History      domain.Metadata `json:"history,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	FinishedAt   *time.Time      `json:"finished_at,omitempty"`
}

func runToResponse(run domain.Run) runResponse {
	return runResponse{
		RunID:        run.ID,
		RecipeID:     run.RecipeID,
		Status:       string(run.Status),
		PromptID:     run.PromptID,
		Request:      run.Request,
		History:      run.History,
		ErrorMessage: run.ErrorMessage,
		CreatedAt:    run.CreatedAt,
		UpdatedAt:    run.UpdatedAt,
		StartedAt:    run.StartedAt,
		FinishedAt:   run.FinishedAt,
	}
}

func (api *generationAPI) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	if err := decodeJSON(r, &req); err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_json")
		return
	}

	initImage, err := decodeImageField(req.InitImage)
	if err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_init_image")
		return
	}
	controlImage, err := decodeImageField(req.ControlImage)
	if err != nil {
		api.writeError(w, r, http.StatusBadRequest, "invalid_control_image")
		return
	}

	run, err := api.service.Create(r.Context(), runs.CreateRunInput{
		RecipeID:     strings.TrimSpace(req.RecipeID),
		Params:       req.Params,
		InitImage:    initImage,
		ControlImage: controlImage,
	})
	if err != nil {
		switch {
		case errors.Is(err, runs.ErrInitImageRequired):
			api.writeError(w, r, http.StatusBadRequest, "init_image_required")
		case errors.Is(err, runs.ErrWorkflowPrepare):
			api.writeError(w, r, http.StatusBadRequest, "workflow_prepare_failed")
		case errors.Is(err, runs.ErrInvalidParams):
			api.writeError(w, r, http.StatusBadRequest, "invalid_params")
		default:
			api.logger.Error("create run failed", "error", err)
			api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		}
		return
	}

	api.audit(r, "generation.run.create", run.ID, map[string]any{
		"status":    string(run.Status),
		"prompt_id": run.PromptID,
	})
	api.writeJSON(w, http.StatusCreated, runToResponse(run))
}

func (api *generationAPI) handleListRuns(w http.ResponseWriter, r *http.Request) {
	filter := repo.RunFilter{
		RecipeID: strings.TrimSpace(r.URL.Query().Get("recipe_id")),
		Limit:    clampInt(parseIntQuery(r, "limit", 100), 1, 500),
	}
	if status := strings.TrimSpace(r.URL.Query().Get("status")); status != "" {
		if domain.NormalizeRunStatus(status) == "" {
			api.writeError(w, r, http.StatusBadRequest, "invalid_status")
			return
		}
		filter.Status = string(domain.NormalizeRunStatus(status))
	}

	items, err := api.service.List(r.Context(), filter)
	if err != nil {
		api.logger.Error("list runs failed", "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	out := make([]runResponse, 0, len(items))
	for _, run := range items {
		out = append(out, runToResponse(run))
	}
	api.writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

func (api *generationAPI) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("run_id"))
	if id == "" {
		api.writeError(w, r, http.StatusBadRequest, "run_id_required")
		return
	}
	run, err := api.service.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			api.writeError(w, r, http.StatusNotFound, "not_found")
			return
		}
		api.logger.Error("get run failed", "run_id", id, "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}
	api.writeJSON(w, http.StatusOK, runToResponse(run))
}

func (api *generationAPI) handleReconcileRun(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("run_id"))
	if id == "" {
		api.writeError(w, r, http.StatusBadRequest, "run_id_required")
		return
	}
	before, err := api.service.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			api.writeError(w, r, http.StatusNotFound, "not_found")
			return
		}
		api.logger.Error("get run failed", "run_id", id, "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "internal_error")
		return
	}

	run, err := api.service.Reconcile(r.Context(), id)
	if err != nil {
		api.logger.Error("reconcile failed", "run_id", id, "error", err)
		api.writeError(w, r, http.StatusBadGateway, "engine_unavailable")
		return
	}
	if run.Status != before.Status {
		api.audit(r, "generation.run.transition", run.ID, map[string]any{
			"from": string(before.Status),
			"to":   string(run.Status),
		})
	}
	api.writeJSON(w, http.StatusOK, runToResponse(run))
}

func (api *generationAPI) handleDefaults(w http.ResponseWriter, r *http.Request) {
	defaults, err := api.service.Defaults()
	if err != nil {
		api.logger.Error("template defaults failed", "error", err)
		api.writeError(w, r, http.StatusInternalServerError, "template_unavailable")
		return
	}
	api.writeJSON(w, http.StatusOK, defaults)
}

// handleView streams one artifact straight from the engine so clients
// never talk to it directly.
func (api *generationAPI) handleView(w http.ResponseWriter, r *http.Request) {
	filename := strings.TrimSpace(r.URL.Query().Get("filename"))
	if filename == "" {
		api.writeError(w, r, http.StatusBadRequest, "filename_required")
		return
	}
	subfolder := r.URL.Query().Get("subfolder")
	artifactType := r.URL.Query().Get("type")

	body, contentType, err := api.viewer.View(r.Context(), filename, subfolder, artifactType)
	if err != nil {
		api.logger.Warn("artifact fetch failed", "filename", filename, "error", err)
		api.writeError(w, r, http.StatusBadGateway, "engine_unavailable")
		return
	}
	defer body.Close()

	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, body)
}

func (api *generationAPI) audit(r *http.Request, action, resourceID string, payload map[string]any) {
	if api.db == nil {
		return
	}
	actor := strings.TrimSpace(r.Header.Get("X-Forwarded-User"))
	if actor == "" {
		actor = "system"
	}
	_, err := auditlog.Insert(r.Context(), api.db, auditlog.Event{
		OccurredAt:   time.Now().UTC(),
		Actor:        actor,
		Action:       action,
		ResourceType: "generation_run",
		ResourceID:   resourceID,
		RequestID:    r.Header.Get("X-Request-Id"),
		IP:           requestIP(r.RemoteAddr),
		UserAgent:    r.UserAgent(),
		Payload:      payload,
	})
	if err != nil {
		api.logger.Warn("audit insert failed", "action", action, "error", err)
	}
}

func decodeImageField(value string) ([]byte, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, err
	}
	if len(raw) > maxInitImageBytes {
		return nil, errors.New("image too large")
	}
	return raw, nil
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 64<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("multiple JSON values")
	}
	return nil
}

func (api *generationAPI) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(body)
}

func (api *generationAPI) writeError(w http.ResponseWriter, r *http.Request, status int, code string) {
	api.writeJSON(w, status, map[string]any{
		"error":      code,
		"request_id": r.Header.Get("X-Request-Id"),
	})
}

func requestIP(remoteAddr string) net.IP {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return nil
	}
	return net.ParseIP(host)
}

func parseIntQuery(r *http.Request, key string, def int) int {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return parsed
}

func clampInt(v int, min int, max int) int {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
