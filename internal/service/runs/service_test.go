package runs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/easel-labs/easel-go/internal/comfy"
	"github.com/easel-labs/easel-go/internal/domain"
	"github.com/easel-labs/easel-go/internal/repo"
	"github.com/easel-labs/easel-go/internal/workflow"
)

type fakeRepo struct {
	runs        map[string]domain.Run
	createCalls int
	patches     []repo.ReconcilePatch
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{runs: map[string]domain.Run{}}
}

func (r *fakeRepo) CreateRun(_ context.Context, run domain.Run) error {
	r.createCalls++
	r.runs[run.ID] = run
	return nil
}

func (r *fakeRepo) GetRun(_ context.Context, id string) (domain.Run, error) {
	run, ok := r.runs[id]
	if !ok {
		return domain.Run{}, repo.ErrNotFound
	}
	return run, nil
}

func (r *fakeRepo) ListRuns(_ context.Context, _ repo.RunFilter) ([]domain.Run, error) {
	out := make([]domain.Run, 0, len(r.runs))
	for _, run := range r.runs {
		out = append(out, run)
	}
	return out, nil
}

func (r *fakeRepo) MarkSubmitted(_ context.Context, id, promptID string, startedAt time.Time) error {
	run := r.runs[id]
	run.Status = domain.RunStatusQueued
	run.PromptID = promptID
	run.StartedAt = &startedAt
	r.runs[id] = run
	return nil
}

func (r *fakeRepo) MarkFailed(_ context.Context, id, message string, finishedAt time.Time) error {
	run := r.runs[id]
	run.Status = domain.RunStatusFailed
	run.ErrorMessage = message
	run.FinishedAt = &finishedAt
	r.runs[id] = run
	return nil
}

func (r *fakeRepo) ApplyReconcile(_ context.Context, id string, patch repo.ReconcilePatch) error {
	r.patches = append(r.patches, patch)
	run := r.runs[id]
	if patch.Status != nil {
		run.Status = *patch.Status
	}
	if patch.ErrorMessage != nil {
		run.ErrorMessage = *patch.ErrorMessage
	}
	if patch.History != nil {
		run.History = patch.History
	}
	if patch.StartedAt != nil && run.StartedAt == nil {
		run.StartedAt = patch.StartedAt
	}
	if patch.FinishedAt != nil {
		run.FinishedAt = patch.FinishedAt
	}
	if patch.ClearFinishedAt {
		run.FinishedAt = nil
	}
	r.runs[id] = run
	return nil
}

type fakeEngine struct {
	promptID     string
	submitErr    error
	submitFn     func(ctx context.Context) (string, error)
	submitted    []domain.Graph
	queue        comfy.QueueSnapshot
	queueErr     error
	history      domain.Metadata
	historyFound bool
	historyErr   error
	queueCalls   int
}

func (e *fakeEngine) SubmitPrompt(ctx context.Context, graph domain.Graph) (string, error) {
	e.submitted = append(e.submitted, graph)
	if e.submitFn != nil {
		return e.submitFn(ctx)
	}
	if e.submitErr != nil {
		return "", e.submitErr
	}
	return e.promptID, nil
}

func (e *fakeEngine) Queue(_ context.Context) (comfy.QueueSnapshot, error) {
	e.queueCalls++
	return e.queue, e.queueErr
}

func (e *fakeEngine) History(_ context.Context, _ string) (domain.Metadata, bool, error) {
	return e.history, e.historyFound, e.historyErr
}

type fakeBridge struct {
	calls   int
	run     domain.Run
	outputs []domain.OutputDescriptor
	err     error
}

func (b *fakeBridge) SyncOutputs(_ context.Context, run domain.Run, outputs []domain.OutputDescriptor) error {
	b.calls++
	b.run = run
	b.outputs = outputs
	return b.err
}

type memInputs struct {
	files map[string][]byte
}

func (m *memInputs) Save(name string, data []byte) error {
	if m.files == nil {
		m.files = map[string][]byte{}
	}
	m.files[name] = data
	return nil
}

func serviceTemplate(t *testing.T) *workflow.Store {
	t.Helper()
	graph := map[string]any{
		"11": map[string]any{"class_type": "Efficient Loader", "inputs": map[string]any{
			"ckpt_name": "base.safetensors", "positive": "p", "negative": "n",
			"empty_latent_width": 512, "empty_latent_height": 512,
		}},
		"16": map[string]any{"class_type": "Efficient Loader", "inputs": map[string]any{
			"ckpt_name": "base.safetensors", "positive": "p", "negative": "n",
		}},
		"10": map[string]any{"class_type": "LoRA Stacker", "inputs": map[string]any{"lora_count": 0}},
		"3": map[string]any{"class_type": "KSampler (Efficient)", "inputs": map[string]any{
			"seed": 1, "steps": 20, "cfg": 7, "sampler_name": "euler", "scheduler": "normal", "denoise": 1,
		}},
		"14": map[string]any{"class_type": "LoadImage", "inputs": map[string]any{"image": "placeholder.png"}},
		"22": map[string]any{"class_type": "ControlNetLoader", "inputs": map[string]any{"control_net_name": "canny.pth"}},
		"23": map[string]any{"class_type": "AIO_Preprocessor", "inputs": map[string]any{"preprocessor": "Canny"}},
		"24": map[string]any{"class_type": "Control Net Stacker", "inputs": map[string]any{"strength": 0.9}},
		"25": map[string]any{"class_type": "LoadImage", "inputs": map[string]any{"image": "control.png"}},
		"9": map[string]any{"class_type": "SaveImage", "inputs": map[string]any{
			"images": []any{"3", 0},
		}},
	}
	raw, err := json.Marshal(graph)
	if err != nil {
		t.Fatalf("marshal template: %v", err)
	}
	path := filepath.Join(t.TempDir(), "generate.json")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("write template: %v", err)
	}
	store := workflow.NewStore(path, workflow.DefaultNodeRoles())
	if store == nil {
		t.Fatalf("expected store")
	}
	return store
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newTestService(t *testing.T, store *fakeRepo, engine *fakeEngine, bridge SyncBridge) *Service {
	t.Helper()
	svc := New(testLogger(), store, engine, serviceTemplate(t), &memInputs{}, bridge, 600*time.Second)
	if svc == nil {
		t.Fatalf("expected service")
	}
	return svc
}

func TestCreateSubmitsAndQueues(t *testing.T) {
	store := newFakeRepo()
	engine := &fakeEngine{promptID: "prompt-1"}
	svc := newTestService(t, store, engine, nil)

	seed := int64(-1)
	svc.randSeed = func() int64 { return 12345 }
	run, err := svc.Create(t.Context(), CreateRunInput{
		RecipeID: "recipe-1",
		Params: domain.GenerateParams{
			Mode:           domain.ModePrimary,
			PositivePrompt: "a castle",
			Sampler:        &domain.SamplerOverrides{Seed: &seed},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.Status != domain.RunStatusQueued || run.PromptID != "prompt-1" {
		t.Fatalf("run not queued: %+v", run)
	}
	if run.StartedAt == nil {
		t.Fatalf("expected started timestamp")
	}
	if store.createCalls != 1 {
		t.Fatalf("createCalls = %d", store.createCalls)
	}

	// The stored request keeps the sentinel; the resolved seed lands
	// beside it and in the submitted graph.
	params := run.Request["params"].(map[string]any)
	sampler := params["sampler"].(map[string]any)
	if sampler["seed"] != float64(-1) {
		t.Fatalf("snapshot seed = %v, want sentinel", sampler["seed"])
	}
	if run.Request["resolved_seed"] != int64(12345) {
		t.Fatalf("resolved_seed = %v", run.Request["resolved_seed"])
	}
	if len(engine.submitted) != 1 {
		t.Fatalf("submitted %d graphs", len(engine.submitted))
	}
	if engine.submitted[0]["3"].Inputs["seed"] != int64(12345) {
		t.Fatalf("graph seed = %v", engine.submitted[0]["3"].Inputs["seed"])
	}
}

func TestCreateRefineRequiresInitImage(t *testing.T) {
	store := newFakeRepo()
	svc := newTestService(t, store, &fakeEngine{promptID: "p"}, nil)

	_, err := svc.Create(t.Context(), CreateRunInput{
		Params: domain.GenerateParams{Mode: domain.ModeRefine, PositivePrompt: "x"},
	})
	if !errors.Is(err, ErrInitImageRequired) {
		t.Fatalf("expected ErrInitImageRequired, got %v", err)
	}
	if store.createCalls != 0 {
		t.Fatalf("run persisted despite rejection")
	}
}

func TestCreateRefineStoresInitImage(t *testing.T) {
	store := newFakeRepo()
	engine := &fakeEngine{promptID: "p"}
	inputs := &memInputs{}
	svc := New(testLogger(), store, engine, serviceTemplate(t), inputs, nil, time.Minute)
	if svc == nil {
		t.Fatalf("expected service")
	}

	run, err := svc.Create(t.Context(), CreateRunInput{
		Params:    domain.GenerateParams{Mode: domain.ModeRefine, PositivePrompt: "x"},
		InitImage: []byte("png-bytes"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	name := "run_" + run.ID + "_init.png"
	if _, ok := inputs.files[name]; !ok {
		t.Fatalf("init image not stored: %v", inputs.files)
	}
	if engine.submitted[0]["14"].Inputs["image"] != name {
		t.Fatalf("init image not wired: %v", engine.submitted[0]["14"].Inputs["image"])
	}
}

func TestCreateWorkflowPrepareFailure(t *testing.T) {
	store := newFakeRepo()
	path := filepath.Join(t.TempDir(), "broken.json")
	if err := os.WriteFile(path, []byte(`[]`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	svc := New(testLogger(), store, &fakeEngine{}, workflow.NewStore(path, workflow.DefaultNodeRoles()), &memInputs{}, nil, time.Minute)

	_, err := svc.Create(t.Context(), CreateRunInput{
		Params: domain.GenerateParams{Mode: domain.ModePrimary, PositivePrompt: "x"},
	})
	if !errors.Is(err, ErrWorkflowPrepare) {
		t.Fatalf("expected ErrWorkflowPrepare, got %v", err)
	}
	if store.createCalls != 0 {
		t.Fatalf("run persisted despite prepare failure")
	}
}

func TestCreateSubmissionFailureMarksRunFailed(t *testing.T) {
	store := newFakeRepo()
	engine := &fakeEngine{submitErr: &comfy.CallError{Kind: comfy.KindTimeout, Err: errors.New("deadline")}}
	svc := newTestService(t, store, engine, nil)

	run, err := svc.Create(t.Context(), CreateRunInput{
		Params: domain.GenerateParams{Mode: domain.ModePrimary, PositivePrompt: "x"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.Status != domain.RunStatusFailed || run.ErrorMessage != "timeout" {
		t.Fatalf("run = %+v", run)
	}
	stored := store.runs[run.ID]
	if stored.Status != domain.RunStatusFailed || stored.FinishedAt == nil {
		t.Fatalf("stored run = %+v", stored)
	}
}

// cancelAwareRepo refuses writes on a done context, the way a real
// driver would.
type cancelAwareRepo struct {
	*fakeRepo
}

func (r *cancelAwareRepo) MarkFailed(ctx context.Context, id, message string, finishedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.fakeRepo.MarkFailed(ctx, id, message, finishedAt)
}

func TestCreateCallerAbortStillRecordsFailure(t *testing.T) {
	store := newFakeRepo()
	ctx, cancel := context.WithCancel(t.Context())
	engine := &fakeEngine{submitFn: func(context.Context) (string, error) {
		// The caller walks away while the engine call is in flight.
		cancel()
		return "", &comfy.CallError{Kind: comfy.KindUnreachable, Err: errors.New("gone")}
	}}
	svc := New(testLogger(), &cancelAwareRepo{store}, engine, serviceTemplate(t), &memInputs{}, nil, 600*time.Second)

	run, err := svc.Create(ctx, CreateRunInput{
		Params: domain.GenerateParams{Mode: domain.ModePrimary, PositivePrompt: "x"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	stored := store.runs[run.ID]
	if stored.Status != domain.RunStatusFailed {
		t.Fatalf("stored status = %q, want failed", stored.Status)
	}
	if stored.ErrorMessage != "unreachable" || stored.FinishedAt == nil {
		t.Fatalf("stored run = %+v", stored)
	}
}

func TestCreateRejectionMessagePreserved(t *testing.T) {
	store := newFakeRepo()
	engine := &fakeEngine{submitErr: &comfy.PromptRejectedError{Message: "invalid prompt"}}
	svc := newTestService(t, store, engine, nil)

	run, err := svc.Create(t.Context(), CreateRunInput{
		Params: domain.GenerateParams{Mode: domain.ModePrimary, PositivePrompt: "x"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.ErrorMessage != "prompt_error: invalid prompt" {
		t.Fatalf("message = %q", run.ErrorMessage)
	}
}

func reconcileFixture(status domain.RunStatus, started *time.Time) domain.Run {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return domain.Run{
		ID:       "run-1",
		Status:   status,
		PromptID: "prompt-1",
		Request: domain.Metadata{"params": map[string]any{
			"control": map[string]any{"enabled": false},
		}},
		Workflow: domain.Graph{
			"3": {ClassType: "KSampler", Inputs: map[string]any{}},
			"9": {ClassType: "SaveImage", Inputs: map[string]any{"images": []any{"3", 0.0}}},
		},
		CreatedAt: created,
		StartedAt: started,
	}
}

func TestReconcileQueueRunning(t *testing.T) {
	store := newFakeRepo()
	store.runs["run-1"] = reconcileFixture(domain.RunStatusQueued, nil)
	engine := &fakeEngine{queue: comfy.QueueSnapshot{Running: []string{"prompt-1"}}}
	svc := newTestService(t, store, engine, nil)
	svc.now = func() time.Time { return time.Date(2026, 3, 1, 12, 1, 0, 0, time.UTC) }

	run, err := svc.Reconcile(t.Context(), "run-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.Status != domain.RunStatusRunning {
		t.Fatalf("status = %s", run.Status)
	}
	if run.StartedAt == nil {
		t.Fatalf("expected started timestamp")
	}
	if len(store.patches) != 1 {
		t.Fatalf("patches = %d", len(store.patches))
	}
}

func TestReconcileSucceededSyncsOutputs(t *testing.T) {
	store := newFakeRepo()
	started := time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC)
	store.runs["run-1"] = reconcileFixture(domain.RunStatusRunning, &started)
	engine := &fakeEngine{
		historyFound: true,
		history: domain.Metadata{
			"status": map[string]any{"status_str": "success", "completed": true},
			"outputs": map[string]any{
				"9": map[string]any{"images": []any{
					map[string]any{"filename": "result.png", "type": "output"},
				}},
			},
		},
	}
	bridge := &fakeBridge{}
	svc := newTestService(t, store, engine, bridge)
	svc.now = func() time.Time { return started.Add(time.Minute) }

	run, err := svc.Reconcile(t.Context(), "run-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.Status != domain.RunStatusSucceeded {
		t.Fatalf("status = %s", run.Status)
	}
	if run.FinishedAt == nil {
		t.Fatalf("expected finished timestamp")
	}
	if bridge.calls != 1 || len(bridge.outputs) != 1 || bridge.outputs[0].Filename != "result.png" {
		t.Fatalf("bridge calls = %d outputs = %+v", bridge.calls, bridge.outputs)
	}
	stored := store.runs["run-1"]
	if stored.History["resolved_outputs"] == nil {
		t.Fatalf("resolved outputs not persisted")
	}
}

func TestReconcileBridgeFailureDoesNotFailRun(t *testing.T) {
	store := newFakeRepo()
	started := time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC)
	store.runs["run-1"] = reconcileFixture(domain.RunStatusRunning, &started)
	engine := &fakeEngine{
		historyFound: true,
		history: domain.Metadata{
			"outputs": map[string]any{
				"9": map[string]any{"images": []any{
					map[string]any{"filename": "result.png", "type": "output"},
				}},
			},
		},
	}
	svc := newTestService(t, store, engine, &fakeBridge{err: errors.New("bucket down")})
	svc.now = func() time.Time { return started.Add(time.Minute) }

	run, err := svc.Reconcile(t.Context(), "run-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.Status != domain.RunStatusSucceeded {
		t.Fatalf("status = %s", run.Status)
	}
}

func TestReconcileHistoryFailed(t *testing.T) {
	store := newFakeRepo()
	started := time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC)
	store.runs["run-1"] = reconcileFixture(domain.RunStatusRunning, &started)
	engine := &fakeEngine{
		historyFound: true,
		history: domain.Metadata{
			"status": map[string]any{"status_str": "error"},
			"error":  map[string]any{"message": "CUDA out of memory"},
		},
	}
	svc := newTestService(t, store, engine, nil)
	svc.now = func() time.Time { return started.Add(time.Minute) }

	run, err := svc.Reconcile(t.Context(), "run-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.Status != domain.RunStatusFailed || run.ErrorMessage != "CUDA out of memory" {
		t.Fatalf("run = %+v", run)
	}
}

func TestReconcileGraceWindow(t *testing.T) {
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	grace := 600 * time.Second
	cases := []struct {
		name       string
		now        time.Time
		wantStatus domain.RunStatus
		wantErrMsg string
		wantPatch  bool
	}{
		{"within window", started.Add(grace - time.Millisecond), domain.RunStatusRunning, "", false},
		{"at boundary", started.Add(grace), domain.RunStatusRunning, "", false},
		{"past boundary", started.Add(grace + time.Millisecond), domain.RunStatusStale, domain.ErrMsgHistoryMissing, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newFakeRepo()
			store.runs["run-1"] = reconcileFixture(domain.RunStatusRunning, &started)
			svc := newTestService(t, store, &fakeEngine{}, nil)
			svc.now = func() time.Time { return tc.now }

			run, err := svc.Reconcile(t.Context(), "run-1")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if run.Status != tc.wantStatus || run.ErrorMessage != tc.wantErrMsg {
				t.Fatalf("run = %s / %q", run.Status, run.ErrorMessage)
			}
			if got := len(store.patches) > 0; got != tc.wantPatch {
				t.Fatalf("patched = %v, want %v", got, tc.wantPatch)
			}
		})
	}
}

func TestReconcileRetriesHistoryEmptyWithinGrace(t *testing.T) {
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeRepo()
	fixture := reconcileFixture(domain.RunStatusFailed, &started)
	fixture.ErrorMessage = domain.ErrMsgHistoryEmpty
	finished := started.Add(30 * time.Second)
	fixture.FinishedAt = &finished
	store.runs["run-1"] = fixture
	svc := newTestService(t, store, &fakeEngine{}, nil)
	svc.now = func() time.Time { return started.Add(time.Minute) }

	run, err := svc.Reconcile(t.Context(), "run-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.Status != domain.RunStatusQueued || run.ErrorMessage != "" {
		t.Fatalf("run = %s / %q", run.Status, run.ErrorMessage)
	}
	if run.FinishedAt != nil {
		t.Fatalf("requeued run kept finished_at %v", run.FinishedAt)
	}
	if stored := store.runs["run-1"]; stored.FinishedAt != nil {
		t.Fatalf("stored run kept finished_at %v", stored.FinishedAt)
	}
}

func TestReconcileTerminalRunSkipsEngine(t *testing.T) {
	store := newFakeRepo()
	fixture := reconcileFixture(domain.RunStatusSucceeded, nil)
	store.runs["run-1"] = fixture
	engine := &fakeEngine{}
	svc := newTestService(t, store, engine, nil)

	run, err := svc.Reconcile(t.Context(), "run-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if run.Status != domain.RunStatusSucceeded {
		t.Fatalf("status = %s", run.Status)
	}
	if engine.queueCalls != 0 {
		t.Fatalf("engine polled for terminal run")
	}
}

func TestReconcileQueueFailureLeavesRunUntouched(t *testing.T) {
	store := newFakeRepo()
	store.runs["run-1"] = reconcileFixture(domain.RunStatusQueued, nil)
	engine := &fakeEngine{queueErr: &comfy.CallError{Kind: comfy.KindUnreachable, Err: errors.New("refused")}}
	svc := newTestService(t, store, engine, nil)

	_, err := svc.Reconcile(t.Context(), "run-1")
	if err == nil {
		t.Fatalf("expected error")
	}
	if len(store.patches) != 0 {
		t.Fatalf("run mutated on engine failure")
	}
	if store.runs["run-1"].Status != domain.RunStatusQueued {
		t.Fatalf("stored status changed")
	}
}

func TestRunLifecycle(t *testing.T) {
	store := newFakeRepo()
	engine := &fakeEngine{promptID: "prompt-9"}
	bridge := &fakeBridge{}
	svc := newTestService(t, store, engine, bridge)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	now := base
	svc.now = func() time.Time { return now }

	run, err := svc.Create(t.Context(), CreateRunInput{
		Params: domain.GenerateParams{Mode: domain.ModePrimary, PositivePrompt: "a harbor"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if run.Status != domain.RunStatusQueued {
		t.Fatalf("status after create = %s", run.Status)
	}

	now = base.Add(5 * time.Second)
	engine.queue = comfy.QueueSnapshot{Running: []string{"prompt-9"}}
	run, err = svc.Reconcile(t.Context(), run.ID)
	if err != nil {
		t.Fatalf("reconcile running: %v", err)
	}
	if run.Status != domain.RunStatusRunning {
		t.Fatalf("status = %s, want running", run.Status)
	}

	now = base.Add(30 * time.Second)
	engine.queue = comfy.QueueSnapshot{}
	engine.historyFound = true
	engine.history = domain.Metadata{
		"status": map[string]any{"status_str": "success", "completed": true},
		"outputs": map[string]any{
			"9": map[string]any{"images": []any{
				map[string]any{"filename": "harbor_00001.png", "type": "output"},
			}},
		},
	}
	run, err = svc.Reconcile(t.Context(), run.ID)
	if err != nil {
		t.Fatalf("reconcile succeeded: %v", err)
	}
	if run.Status != domain.RunStatusSucceeded || run.FinishedAt == nil {
		t.Fatalf("run = %+v", run)
	}
	if bridge.calls != 1 || len(bridge.outputs) != 1 {
		t.Fatalf("bridge calls = %d outputs = %+v", bridge.calls, bridge.outputs)
	}

	// A later poll is a no-op: the run is terminal.
	queueCalls := engine.queueCalls
	run, err = svc.Reconcile(t.Context(), run.ID)
	if err != nil {
		t.Fatalf("reconcile terminal: %v", err)
	}
	if run.Status != domain.RunStatusSucceeded || engine.queueCalls != queueCalls {
		t.Fatalf("terminal run re-polled")
	}
}

func TestReconcileNotFound(t *testing.T) {
	svc := newTestService(t, newFakeRepo(), &fakeEngine{}, nil)
	if _, err := svc.Reconcile(t.Context(), "missing"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
