package runs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/easel-labs/easel-go/internal/comfy"
	"github.com/easel-labs/easel-go/internal/domain"
)

// EngineClient is the slice of the generation engine the service needs.
type EngineClient interface {
	SubmitPrompt(ctx context.Context, graph domain.Graph) (string, error)
	Queue(ctx context.Context) (comfy.QueueSnapshot, error)
	History(ctx context.Context, promptID string) (domain.Metadata, bool, error)
}

// SyncBridge mirrors a finished run's artifacts to durable storage.
type SyncBridge interface {
	SyncOutputs(ctx context.Context, run domain.Run, outputs []domain.OutputDescriptor) error
}

// InputStore persists uploaded reference images where the engine can
// read them by bare filename.
type InputStore interface {
	Save(name string, data []byte) error
}

// DirInputStore writes inputs into the engine's input directory.
type DirInputStore struct {
	dir string
}

func NewDirInputStore(dir string) *DirInputStore {
	if strings.TrimSpace(dir) == "" {
		return nil
	}
	return &DirInputStore{dir: dir}
}

func (s *DirInputStore) Save(name string, data []byte) error {
	if name != filepath.Base(name) {
		return fmt.Errorf("input name %q is not a bare filename", name)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create input dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, name), data, 0o644); err != nil {
		return fmt.Errorf("write input: %w", err)
	}
	return nil
}
