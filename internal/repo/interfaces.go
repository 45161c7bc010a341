package repo

import (
	"context"
	"errors"
	"time"

	"github.com/easel-labs/easel-go/internal/domain"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

type RunFilter struct {
	Status   string
	RecipeID string
	Limit    int
}

// ReconcilePatch carries only the fields a reconciliation pass actually
// changed. Nil fields are left untouched; StartedAt is applied
// set-if-null so the first observed transition to running wins.
type ReconcilePatch struct {
	Status       *domain.RunStatus
	History      domain.Metadata
	ErrorMessage *string
	StartedAt    *time.Time
	FinishedAt   *time.Time
	// ClearFinishedAt nulls finished_at; a requeued run is no longer
	// finished. Mutually exclusive with FinishedAt.
	ClearFinishedAt bool
}

func (p ReconcilePatch) Empty() bool {
	return p.Status == nil && p.History == nil && p.ErrorMessage == nil &&
		p.StartedAt == nil && p.FinishedAt == nil && !p.ClearFinishedAt
}

// RunRepository persists generation runs. Runs are never deleted here;
// deletion belongs to an external collaborator.
type RunRepository interface {
	CreateRun(ctx context.Context, run domain.Run) error
	GetRun(ctx context.Context, id string) (domain.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]domain.Run, error)

	// MarkSubmitted moves a created run to queued with its prompt id.
	MarkSubmitted(ctx context.Context, id, promptID string, startedAt time.Time) error
	// MarkFailed records a terminal submission failure.
	MarkFailed(ctx context.Context, id, message string, finishedAt time.Time) error
	// ApplyReconcile persists the changed fields of a reconciliation pass.
	ApplyReconcile(ctx context.Context, id string, patch ReconcilePatch) error
}
