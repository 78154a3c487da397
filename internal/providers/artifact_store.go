package providers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/osvaldoandrade/pfmea/internal/metrics"
	"github.com/osvaldoandrade/pfmea/pkg/domain"
)

var ErrArtifactNotFound = errors.New("artifact not found")

// ArtifactStore holds the downloadable spreadsheet produced by a submission.
// Artifacts are scoped to a session so one session can never open another's.
type ArtifactStore interface {
	Put(ctx context.Context, sessionID, name, contentType string, data []byte) (domain.ArtifactRef, error)
	Open(ctx context.Context, sessionID string, ref domain.ArtifactRef) (io.ReadSeekCloser, error)
	Release(ctx context.Context, sessionID string, ref domain.ArtifactRef) error
}

type localArtifactStore struct {
	rootDir string
	now     func() time.Time
	create  func(name string) (io.WriteCloser, error)
}

func NewLocalArtifactStore(rootDir string) ArtifactStore {
	return &localArtifactStore{rootDir: rootDir, now: time.Now, create: createFile}
}

func createFile(name string) (io.WriteCloser, error) { return os.Create(name) }

func (s *localArtifactStore) path(sessionID string, id string) (string, error) {
	if uuid.Validate(sessionID) != nil || uuid.Validate(id) != nil {
		return "", ErrArtifactNotFound
	}
	return filepath.Join(s.rootDir, sessionID, id+".xlsx"), nil
}

func (s *localArtifactStore) Put(ctx context.Context, sessionID, name, contentType string, data []byte) (domain.ArtifactRef, error) {
	if err := ctx.Err(); err != nil {
		return domain.ArtifactRef{}, err
	}
	id := uuid.NewString()
	dst, err := s.path(sessionID, id)
	if err != nil {
		return domain.ArtifactRef{}, fmt.Errorf("invalid session id %q", sessionID)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return domain.ArtifactRef{}, err
	}
	f, err := s.create(dst)
	if err != nil {
		return domain.ArtifactRef{}, err
	}
	_, err = io.Copy(f, bytes.NewReader(data))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(dst)
		return domain.ArtifactRef{}, fmt.Errorf("write artifact: %w", err)
	}
	if strings.TrimSpace(contentType) == "" {
		contentType = domain.SpreadsheetContentType
	}
	return domain.ArtifactRef{
		ID:          id,
		Name:        name,
		ContentType: contentType,
		Size:        int64(len(data)),
		CreatedAt:   s.now().UTC(),
	}, nil
}

func (s *localArtifactStore) Open(ctx context.Context, sessionID string, ref domain.ArtifactRef) (io.ReadSeekCloser, error) {
	if ref.Empty() {
		return nil, ErrArtifactNotFound
	}
	p, err := s.path(sessionID, ref.ID)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrArtifactNotFound
	}
	return f, err
}

// Release deletes the artifact. Releasing an empty or already removed ref is
// a no-op.
func (s *localArtifactStore) Release(ctx context.Context, sessionID string, ref domain.ArtifactRef) error {
	if ref.Empty() {
		return nil
	}
	p, err := s.path(sessionID, ref.ID)
	if err != nil {
		return nil
	}
	if err := os.Remove(p); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	metrics.ArtifactsReleasedTotal.Inc()
	// Best effort: drop the session directory once it is empty.
	_ = os.Remove(filepath.Dir(p))
	return nil
}
