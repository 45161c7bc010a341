// Package gallery mirrors finished run artifacts from the generation
// engine's local disk into the outputs bucket, where the indexing
// collaborator picks them up.
package gallery

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"

	"github.com/minio/minio-go/v7"

	"github.com/easel-labs/easel-go/internal/domain"
	"github.com/easel-labs/easel-go/internal/platform/objectstore"
)

// ArtifactSource streams one artifact's bytes and content type.
type ArtifactSource interface {
	View(ctx context.Context, filename, subfolder, artifactType string) (io.ReadCloser, string, error)
}

// Mirror copies artifacts into object storage under runs/{run_id}/.
type Mirror struct {
	logger *slog.Logger
	client *minio.Client
	bucket string
	source ArtifactSource
}

func NewMirror(logger *slog.Logger, client *minio.Client, cfg objectstore.Config, source ArtifactSource) *Mirror {
	if logger == nil || client == nil || source == nil {
		return nil
	}
	if err := cfg.Validate(); err != nil {
		return nil
	}
	return &Mirror{
		logger: logger,
		client: client,
		bucket: cfg.BucketOutputs,
		source: source,
	}
}

// SyncOutputs uploads each artifact in turn. The first failure aborts
// the pass; uploads are idempotent by key, so the caller may retry.
func (m *Mirror) SyncOutputs(ctx context.Context, run domain.Run, outputs []domain.OutputDescriptor) error {
	for _, out := range outputs {
		if err := m.syncOne(ctx, run.ID, out); err != nil {
			return err
		}
	}
	m.logger.Info("outputs mirrored", "run_id", run.ID, "count", len(outputs))
	return nil
}

func (m *Mirror) syncOne(ctx context.Context, runID string, out domain.OutputDescriptor) error {
	body, contentType, err := m.source.View(ctx, out.Filename, out.Subfolder, out.Type)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", out.Filename, err)
	}
	defer body.Close()

	key := path.Join("runs", runID, out.Filename)
	_, err = m.client.PutObject(ctx, m.bucket, key, body, -1, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}
