package runs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/easel-labs/easel-go/internal/comfy"
	"github.com/easel-labs/easel-go/internal/domain"
	"github.com/easel-labs/easel-go/internal/repo"
	"github.com/easel-labs/easel-go/internal/workflow"
)

const defaultGraceWindow = 10 * time.Minute

var (
	// ErrInvalidParams wraps request validation failures.
	ErrInvalidParams = errors.New("invalid_params")
	// ErrInitImageRequired rejects refine runs submitted without a
	// reference image.
	ErrInitImageRequired = errors.New("init_image_required")
	// ErrWorkflowPrepare wraps template and patching failures. Nothing
	// is persisted when it is returned.
	ErrWorkflowPrepare = errors.New("workflow_prepare_failed")
)

// Service owns the run lifecycle: workflow preparation, submission to
// the engine, and queue/history reconciliation.
type Service struct {
	logger    *slog.Logger
	runs      repo.RunRepository
	engine    EngineClient
	templates *workflow.Store
	inputs    InputStore
	bridge    SyncBridge
	grace     time.Duration

	now      func() time.Time
	randSeed func() int64
}

// New wires the service. The bridge may be nil when artifact mirroring
// is not configured.
func New(logger *slog.Logger, runRepo repo.RunRepository, engine EngineClient, templates *workflow.Store, inputs InputStore, bridge SyncBridge, grace time.Duration) *Service {
	if logger == nil || runRepo == nil || engine == nil || templates == nil {
		return nil
	}
	if grace <= 0 {
		grace = defaultGraceWindow
	}
	return &Service{
		logger:    logger,
		runs:      runRepo,
		engine:    engine,
		templates: templates,
		inputs:    inputs,
		bridge:    bridge,
		grace:     grace,
		now:       time.Now,
		randSeed:  func() int64 { return rand.Int63n(1 << 31) },
	}
}

// CreateRunInput carries one generation request. Image payloads arrive
// decoded; the service assigns their engine-side filenames.
type CreateRunInput struct {
	RecipeID     string
	Params       domain.GenerateParams
	InitImage    []byte
	ControlImage []byte
}

// Create prepares a workflow from the request, persists the run, and
// submits it. Submission failures still leave a terminal failed row
// behind so the caller can inspect what happened.
func (s *Service) Create(ctx context.Context, in CreateRunInput) (domain.Run, error) {
	params := in.Params
	params.Mode = domain.NormalizeRunMode(string(params.Mode))
	if err := params.Validate(); err != nil {
		return domain.Run{}, fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}

	id := uuid.NewString()
	if len(in.InitImage) > 0 {
		name, err := s.saveInput("run_"+id+"_init.png", in.InitImage)
		if err != nil {
			return domain.Run{}, err
		}
		params.InitImage = name
	}
	if len(in.ControlImage) > 0 {
		name, err := s.saveInput("run_"+id+"_control.png", in.ControlImage)
		if err != nil {
			return domain.Run{}, err
		}
		params.Control.Image = name
	}
	if params.Mode == domain.ModeRefine && strings.TrimSpace(params.InitImage) == "" {
		return domain.Run{}, ErrInitImageRequired
	}

	// Snapshot before seed resolution so the sentinel survives in the
	// stored request.
	request, err := requestSnapshot(params)
	if err != nil {
		return domain.Run{}, fmt.Errorf("snapshot request: %w", err)
	}
	if params.Sampler != nil && params.Sampler.Seed != nil && *params.Sampler.Seed == -1 {
		seed := s.randSeed()
		overrides := *params.Sampler
		overrides.Seed = &seed
		params.Sampler = &overrides
		request["resolved_seed"] = seed
	}

	template, err := s.templates.Template()
	if err != nil {
		return domain.Run{}, fmt.Errorf("%w: %v", ErrWorkflowPrepare, err)
	}
	graph, err := workflow.BuildWorkflow(template, s.templates.Roles(), params)
	if err != nil {
		return domain.Run{}, fmt.Errorf("%w: %v", ErrWorkflowPrepare, err)
	}

	now := s.now().UTC()
	run := domain.Run{
		ID:        id,
		RecipeID:  in.RecipeID,
		Status:    domain.RunStatusCreated,
		Request:   request,
		Workflow:  graph,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.runs.CreateRun(ctx, run); err != nil {
		return domain.Run{}, fmt.Errorf("persist run: %w", err)
	}

	// Bookkeeping after the engine call must land even when the caller
	// disconnects mid-submission, or the run is stuck in created.
	recordCtx := context.WithoutCancel(ctx)

	promptID, err := s.engine.SubmitPrompt(ctx, graph)
	if err != nil {
		msg := submitFailureMessage(err)
		finished := s.now().UTC()
		if markErr := s.runs.MarkFailed(recordCtx, id, msg, finished); markErr != nil {
			return run, fmt.Errorf("record submission failure: %w", markErr)
		}
		s.logger.Warn("run submission failed", "run_id", id, "error", msg)
		run.Status = domain.RunStatusFailed
		run.ErrorMessage = msg
		run.UpdatedAt = finished
		run.FinishedAt = &finished
		return run, nil
	}

	started := s.now().UTC()
	if err := s.runs.MarkSubmitted(recordCtx, id, promptID, started); err != nil {
		return run, fmt.Errorf("record submission: %w", err)
	}
	s.logger.Info("run submitted", "run_id", id, "prompt_id", promptID)
	run.Status = domain.RunStatusQueued
	run.PromptID = promptID
	run.UpdatedAt = started
	run.StartedAt = &started
	return run, nil
}

func (s *Service) Get(ctx context.Context, id string) (domain.Run, error) {
	return s.runs.GetRun(ctx, id)
}

func (s *Service) List(ctx context.Context, filter repo.RunFilter) ([]domain.Run, error) {
	return s.runs.ListRuns(ctx, filter)
}

// Defaults exposes the template's baked-in parameters.
func (s *Service) Defaults() (workflow.Defaults, error) {
	return s.templates.Defaults()
}

// Reconcile polls the engine once for one run and persists whatever
// changed. Engine call failures leave the run untouched and are
// returned to the caller.
func (s *Service) Reconcile(ctx context.Context, id string) (domain.Run, error) {
	run, err := s.runs.GetRun(ctx, id)
	if err != nil {
		return domain.Run{}, err
	}
	run.Status = domain.NormalizeRunStatus(string(run.Status))
	if run.PromptID == "" {
		return run, nil
	}
	if run.Status.IsTerminal() && !retriable(run) {
		return run, nil
	}

	snapshot, err := s.engine.Queue(ctx)
	if err != nil {
		return run, fmt.Errorf("query queue: %w", err)
	}
	history, found, err := s.engine.History(ctx, run.PromptID)
	if err != nil {
		return run, fmt.Errorf("query history: %w", err)
	}

	now := s.now().UTC()
	next := run.Status
	var errMsg *string

	var outputs []domain.OutputDescriptor
	verdict := verdictInconclusive
	detail := ""
	if found {
		outputs = workflow.ExtractOutputs(history, workflow.Classify(run.Workflow), controlEnabledFrom(run.Request))
		verdict, detail = historyVerdict(history, len(outputs) > 0)
	}

	reference := run.CreatedAt
	if run.StartedAt != nil {
		reference = *run.StartedAt
	}
	withinGrace := now.Sub(reference) <= s.grace
	position := snapshot.Classify(run.PromptID)

	switch {
	case verdict == verdictFailed:
		next = domain.RunStatusFailed
		if detail == "" {
			detail = domain.ErrMsgComfyFailed
		}
		errMsg = &detail
	case verdict == verdictSucceeded:
		next = domain.RunStatusSucceeded
		errMsg = strPtr("")
	case position == comfy.QueueRunning:
		next = domain.RunStatusRunning
	case position == comfy.QueuePending:
		next = domain.RunStatusQueued
	case found:
		// Completed per history but with nothing usable in it.
		if withinGrace && retriable(run) {
			next = domain.RunStatusQueued
			errMsg = strPtr("")
		} else {
			next = domain.RunStatusFailed
			errMsg = strPtr(domain.ErrMsgHistoryEmpty)
		}
	default:
		// Gone from the queue with no history at all.
		if !withinGrace {
			next = domain.RunStatusStale
			errMsg = strPtr(domain.ErrMsgHistoryMissing)
		} else if retriable(run) {
			next = domain.RunStatusQueued
			errMsg = strPtr("")
		}
	}

	patch := repo.ReconcilePatch{}
	if next != run.Status {
		patch.Status = &next
	}
	if errMsg != nil && *errMsg != run.ErrorMessage {
		patch.ErrorMessage = errMsg
	}
	if found {
		patch.History = storedHistory(history, outputs)
	}
	if next == domain.RunStatusRunning && run.StartedAt == nil {
		patch.StartedAt = &now
	}
	if next != run.Status && next.IsTerminal() {
		patch.FinishedAt = &now
	}
	if next == domain.RunStatusQueued && run.FinishedAt != nil {
		// A requeued run sheds its old completion timestamp along
		// with its error message.
		patch.ClearFinishedAt = true
	}
	if !patch.Empty() {
		if err := s.runs.ApplyReconcile(ctx, run.ID, patch); err != nil {
			return run, fmt.Errorf("persist reconcile: %w", err)
		}
		s.logger.Info("run reconciled",
			"run_id", run.ID, "from", string(run.Status), "to", string(next), "outputs", len(outputs))
	}

	transitioned := next != run.Status
	run.UpdatedAt = now
	run.Status = next
	if errMsg != nil {
		run.ErrorMessage = *errMsg
	}
	if patch.History != nil {
		run.History = patch.History
	}
	if patch.StartedAt != nil {
		run.StartedAt = patch.StartedAt
	}
	if patch.FinishedAt != nil {
		run.FinishedAt = patch.FinishedAt
	}
	if patch.ClearFinishedAt {
		run.FinishedAt = nil
	}

	if transitioned && next == domain.RunStatusSucceeded && len(outputs) > 0 && s.bridge != nil {
		// Mirroring is best effort; the run already succeeded.
		if err := s.bridge.SyncOutputs(ctx, run, outputs); err != nil {
			s.logger.Warn("output sync failed", "run_id", run.ID, "error", err)
		}
	}
	return run, nil
}

func (s *Service) saveInput(name string, data []byte) (string, error) {
	if s.inputs == nil {
		return "", errors.New("input store not configured")
	}
	if err := s.inputs.Save(name, data); err != nil {
		return "", fmt.Errorf("persist %s: %w", name, err)
	}
	return name, nil
}

// retriable marks the one terminal state the reconciler may reverse.
func retriable(run domain.Run) bool {
	return run.Status == domain.RunStatusFailed && run.ErrorMessage == domain.ErrMsgHistoryEmpty
}

func strPtr(v string) *string { return &v }

func requestSnapshot(params domain.GenerateParams) (domain.Metadata, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return domain.Metadata{"params": m}, nil
}

func controlEnabledFrom(request domain.Metadata) bool {
	params, ok := request["params"].(map[string]any)
	if !ok {
		return false
	}
	control, ok := params["control"].(map[string]any)
	if !ok {
		return false
	}
	enabled, _ := control["enabled"].(bool)
	return enabled
}

func storedHistory(history domain.Metadata, outputs []domain.OutputDescriptor) domain.Metadata {
	stored := make(domain.Metadata, len(history)+1)
	for k, v := range history {
		stored[k] = v
	}
	if len(outputs) > 0 {
		stored["resolved_outputs"] = outputs
	}
	return stored
}

func submitFailureMessage(err error) string {
	var call *comfy.CallError
	if errors.As(err, &call) {
		return string(call.Kind)
	}
	if errors.Is(err, comfy.ErrPromptIDMissing) {
		return domain.ErrMsgPromptIDMissing
	}
	var rejected *comfy.PromptRejectedError
	if errors.As(err, &rejected) {
		return rejected.Error()
	}
	return err.Error()
}

type historyOutcome int

const (
	verdictInconclusive historyOutcome = iota
	verdictFailed
	verdictSucceeded
)

// historyVerdict reads the loosely-shaped status section of a history
// entry. An explicit error always wins; otherwise completion markers or
// the presence of outputs decide.
func historyVerdict(history domain.Metadata, hasOutputs bool) (historyOutcome, string) {
	if msg, ok := historyError(history); ok {
		return verdictFailed, msg
	}
	statusText, completed := historyStatus(history)
	lower := strings.ToLower(statusText)
	switch {
	case strings.Contains(lower, "error") || strings.Contains(lower, "fail"):
		return verdictFailed, statusText
	case completed || strings.Contains(lower, "success") || strings.Contains(lower, "complete"):
		return verdictSucceeded, ""
	case hasOutputs:
		return verdictSucceeded, ""
	}
	return verdictInconclusive, ""
}

func historyStatus(history domain.Metadata) (string, bool) {
	switch v := history["status"].(type) {
	case string:
		return v, false
	case map[string]any:
		text, _ := v["status_str"].(string)
		completed, _ := v["completed"].(bool)
		return text, completed
	}
	return "", false
}

func historyError(history domain.Metadata) (string, bool) {
	switch e := history["error"].(type) {
	case string:
		if strings.TrimSpace(e) != "" {
			return e, true
		}
	case map[string]any:
		msg, _ := e["message"].(string)
		if strings.TrimSpace(msg) == "" {
			msg = domain.ErrMsgComfyFailed
		}
		return msg, true
	}
	return "", false
}
