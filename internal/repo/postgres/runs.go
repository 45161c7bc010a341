package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/easel-labs/easel-go/internal/domain"
	"github.com/easel-labs/easel-go/internal/repo"
)

const runColumns = `run_id, recipe_id, status, prompt_id, request, workflow, history,
	error_message, created_at, updated_at, started_at, finished_at`

type RunStore struct {
	db DB
}

func NewRunStore(db DB) *RunStore {
	if db == nil {
		return nil
	}
	return &RunStore{db: db}
}

func (s *RunStore) CreateRun(ctx context.Context, run domain.Run) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("run store not initialized")
	}
	if err := run.Validate(); err != nil {
		return err
	}
	requestJSON, err := encodeJSON(run.Request)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	workflowJSON, err := encodeJSON(run.Workflow)
	if err != nil {
		return fmt.Errorf("encode workflow: %w", err)
	}
	createdAt := normalizeTime(run.CreatedAt)
	updatedAt := run.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO generation_runs (
			run_id,
			recipe_id,
			status,
			prompt_id,
			request,
			workflow,
			history,
			error_message,
			created_at,
			updated_at,
			started_at,
			finished_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		strings.TrimSpace(run.ID),
		nullIfEmpty(run.RecipeID),
		string(run.Status),
		nullIfEmpty(run.PromptID),
		requestJSON,
		workflowJSON,
		nil,
		nullIfEmpty(run.ErrorMessage),
		createdAt,
		updatedAt.UTC(),
		nullTime(run.StartedAt),
		nullTime(run.FinishedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return repo.ErrAlreadyExists
		}
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (s *RunStore) GetRun(ctx context.Context, id string) (domain.Run, error) {
	if s == nil || s.db == nil {
		return domain.Run{}, fmt.Errorf("run store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Run{}, fmt.Errorf("run id is required")
	}
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+runColumns+` FROM generation_runs WHERE run_id = $1`,
		id,
	)
	run, err := scanRun(row)
	if err != nil {
		return domain.Run{}, handleNotFound(err)
	}
	return run, nil
}

func (s *RunStore) ListRuns(ctx context.Context, filter repo.RunFilter) ([]domain.Run, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("run store not initialized")
	}
	clauses := make([]string, 0, 2)
	args := make([]any, 0, 3)

	if strings.TrimSpace(filter.Status) != "" {
		args = append(args, strings.TrimSpace(filter.Status))
		clauses = append(clauses, fmt.Sprintf("status = $%d", len(args)))
	}
	if strings.TrimSpace(filter.RecipeID) != "" {
		args = append(args, strings.TrimSpace(filter.RecipeID))
		clauses = append(clauses, fmt.Sprintf("recipe_id = $%d", len(args)))
	}

	query := `SELECT ` + runColumns + ` FROM generation_runs`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]domain.Run, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

func (s *RunStore) MarkSubmitted(ctx context.Context, id, promptID string, startedAt time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("run store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("run id is required")
	}
	promptID = strings.TrimSpace(promptID)
	if promptID == "" {
		return fmt.Errorf("prompt id is required")
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE generation_runs
		 SET status = $1, prompt_id = $2, started_at = $3, updated_at = $3
		 WHERE run_id = $4 AND status = $5`,
		string(domain.RunStatusQueued),
		promptID,
		normalizeTime(startedAt),
		id,
		string(domain.RunStatusCreated),
	)
	if err != nil {
		return fmt.Errorf("mark submitted: %w", err)
	}
	return requireAffected(res)
}

func (s *RunStore) MarkFailed(ctx context.Context, id, message string, finishedAt time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("run store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("run id is required")
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE generation_runs
		 SET status = $1, error_message = $2, finished_at = $3, updated_at = $3
		 WHERE run_id = $4`,
		string(domain.RunStatusFailed),
		nullIfEmpty(message),
		normalizeTime(finishedAt),
		id,
	)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return requireAffected(res)
}

func (s *RunStore) ApplyReconcile(ctx context.Context, id string, patch repo.ReconcilePatch) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("run store not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("run id is required")
	}
	if patch.Empty() {
		return nil
	}

	now := time.Now().UTC()
	sets := make([]string, 0, 6)
	args := make([]any, 0, 7)

	args = append(args, now)
	sets = append(sets, fmt.Sprintf("updated_at = $%d", len(args)))

	if patch.Status != nil {
		args = append(args, string(*patch.Status))
		sets = append(sets, fmt.Sprintf("status = $%d", len(args)))
	}
	if patch.History != nil {
		historyJSON, err := encodeJSON(patch.History)
		if err != nil {
			return fmt.Errorf("encode history: %w", err)
		}
		args = append(args, historyJSON)
		sets = append(sets, fmt.Sprintf("history = $%d", len(args)))
	}
	if patch.ErrorMessage != nil {
		args = append(args, nullIfEmpty(*patch.ErrorMessage))
		sets = append(sets, fmt.Sprintf("error_message = $%d", len(args)))
	}
	if patch.StartedAt != nil {
		args = append(args, patch.StartedAt.UTC())
		sets = append(sets, fmt.Sprintf("started_at = COALESCE(started_at, $%d)", len(args)))
	}
	if patch.FinishedAt != nil {
		args = append(args, patch.FinishedAt.UTC())
		sets = append(sets, fmt.Sprintf("finished_at = $%d", len(args)))
	} else if patch.ClearFinishedAt {
		sets = append(sets, "finished_at = NULL")
	}

	args = append(args, id)
	query := fmt.Sprintf(
		"UPDATE generation_runs SET %s WHERE run_id = $%d",
		strings.Join(sets, ", "),
		len(args),
	)
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("apply reconcile: %w", err)
	}
	return requireAffected(res)
}

func requireAffected(res sql.Result) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return repo.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (domain.Run, error) {
	var run domain.Run
	var recipeID sql.NullString
	var status string
	var promptID sql.NullString
	var requestJSON []byte
	var workflowJSON []byte
	var historyJSON []byte
	var errorMessage sql.NullString
	var startedAt sql.NullTime
	var finishedAt sql.NullTime

	if err := row.Scan(&run.ID, &recipeID, &status, &promptID, &requestJSON, &workflowJSON,
		&historyJSON, &errorMessage, &run.CreatedAt, &run.UpdatedAt, &startedAt, &finishedAt); err != nil {
		return domain.Run{}, err
	}

	run.Status = domain.RunStatus(status)
	if recipeID.Valid {
		run.RecipeID = recipeID.String
	}
	if promptID.Valid {
		run.PromptID = promptID.String
	}
	if errorMessage.Valid {
		run.ErrorMessage = errorMessage.String
	}
	if startedAt.Valid {
		started := startedAt.Time.UTC()
		run.StartedAt = &started
	}
	if finishedAt.Valid {
		finished := finishedAt.Time.UTC()
		run.FinishedAt = &finished
	}

	request, err := decodeMetadata(requestJSON)
	if err != nil {
		return domain.Run{}, fmt.Errorf("decode request: %w", err)
	}
	workflow, err := decodeGraph(workflowJSON)
	if err != nil {
		return domain.Run{}, fmt.Errorf("decode workflow: %w", err)
	}
	history, err := decodeMetadata(historyJSON)
	if err != nil {
		return domain.Run{}, fmt.Errorf("decode history: %w", err)
	}
	run.Request = request
	run.Workflow = workflow
	run.History = history
	return run, nil
}
