// Package artifacts implements the ArtifactService: it writes step and
// final content into a BlobStore, mints an Artifact record, and returns
// the artifact id and public URL. Small objects are stored inline in the
// record itself; everything else goes to the BlobStore.
package artifacts

import (
	"bytes"
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/grandcanyonsmith/leadmagnet-worker/internal/blobstore"
	"github.com/grandcanyonsmith/leadmagnet-worker/internal/models"
	"github.com/grandcanyonsmith/leadmagnet-worker/internal/recordstore"
)

// MaxInlineDataBytes is the maximum size (in bytes) for storing artifact
// data directly in the record store rather than the blob store.
const MaxInlineDataBytes int64 = 1024 * 1024

// GetDefaultTTL returns the default retention for an artifact type. Final
// deliverables and images are retained longer than intermediate step
// output, which exists mainly to thread context into later steps.
func GetDefaultTTL(artifactType models.ArtifactType) time.Duration {
	switch artifactType {
	case models.ArtifactTypeHTMLFinal, models.ArtifactTypeMarkdownFinal, models.ArtifactTypeReportMarkdown:
		return 90 * 24 * time.Hour
	case models.ArtifactTypeImage:
		return 30 * 24 * time.Hour
	default:
		return 7 * 24 * time.Hour
	}
}

// NewID mints a new lexicographically sortable artifact id.
func NewID() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}

// Service is the ArtifactService: it persists content, either inline or
// to a BlobStore, and records an Artifact row.
type Service struct {
	store  recordstore.ArtifactStore
	blobs  blobstore.Store
	logger *slog.Logger

	mu          sync.RWMutex
	inlineData  map[string][]byte
	inlineUntil map[string]time.Time
}

// NewService constructs an ArtifactService.
func NewService(store recordstore.ArtifactStore, blobs blobstore.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:       store,
		blobs:       blobs,
		logger:      logger,
		inlineData:  make(map[string][]byte),
		inlineUntil: make(map[string]time.Time),
	}
}

// PruneExpired releases in-memory inline bytes past their TTL. Artifact
// records and blob-store objects are expected to carry their own TTL
// policy (the record store's row TTL, the blob store's lifecycle rule);
// this only reclaims the process-local inline cache.
func (s *Service) PruneExpired(ctx context.Context) (int, error) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for id, expiresAt := range s.inlineUntil {
		if now.After(expiresAt) {
			delete(s.inlineData, id)
			delete(s.inlineUntil, id)
			count++
		}
	}
	return count, nil
}

// PutParams describes a content write.
type PutParams struct {
	TenantID     string
	JobID        string
	ArtifactType models.ArtifactType
	Name         string
	MimeType     string
	Data         []byte
	// Key, if set, overrides the generated blob key (e.g.
	// "images/<ulid>.png"). Left empty, one is derived
	// from the artifact id and mime type.
	Key string
}

// Put writes content as an artifact, inline if small enough, otherwise
// to the BlobStore, and persists the Artifact record.
func (s *Service) Put(ctx context.Context, p PutParams) (*models.Artifact, error) {
	id := NewID()
	now := time.Now()

	artifact := &models.Artifact{
		ArtifactID:    id,
		TenantID:      p.TenantID,
		JobID:         p.JobID,
		ArtifactType:  p.ArtifactType,
		ArtifactName:  p.Name,
		MimeType:      p.MimeType,
		FileSizeBytes: int64(len(p.Data)),
		CreatedAt:     now,
	}

	inline := int64(len(p.Data)) < MaxInlineDataBytes

	key := p.Key
	if key == "" {
		key = fmt.Sprintf("artifacts/%s", id)
	}

	if s.blobs != nil {
		publicURL, err := s.blobs.Put(ctx, key, bytes.NewReader(p.Data), blobstore.PutOptions{
			MimeType: p.MimeType,
			TTL:      GetDefaultTTL(p.ArtifactType),
			Public:   true,
		})
		if err != nil {
			return nil, fmt.Errorf("put artifact blob: %w", err)
		}
		artifact.S3Key = key
		artifact.PublicURL = publicURL
	} else if !inline {
		return nil, fmt.Errorf("artifact exceeds inline size and no blob store is configured")
	} else {
		artifact.S3Key = fmt.Sprintf("inline://%s", id)
	}

	if inline {
		s.mu.Lock()
		s.inlineData[id] = p.Data
		s.inlineUntil[id] = now.Add(GetDefaultTTL(p.ArtifactType))
		s.mu.Unlock()
	}

	if err := s.store.Create(ctx, artifact); err != nil {
		return nil, fmt.Errorf("create artifact record: %w", err)
	}

	s.logger.Info("artifact stored",
		"id", id,
		"type", p.ArtifactType,
		"size", len(p.Data),
		"job_id", p.JobID)

	return artifact, nil
}

// Get retrieves an artifact's metadata and bytes.
func (s *Service) Get(ctx context.Context, artifactID string) (*models.Artifact, io.ReadCloser, error) {
	artifact, err := s.store.Get(ctx, artifactID)
	if err != nil {
		return nil, nil, fmt.Errorf("get artifact record: %w", err)
	}

	s.mu.RLock()
	data, inline := s.inlineData[artifactID]
	s.mu.RUnlock()
	if inline {
		return artifact, io.NopCloser(bytes.NewReader(data)), nil
	}

	body, err := s.blobs.Get(ctx, artifact.S3Key)
	if err != nil {
		return nil, nil, fmt.Errorf("get artifact blob: %w", err)
	}
	return artifact, body, nil
}

// ListByJob returns every artifact belonging to a job.
func (s *Service) ListByJob(ctx context.Context, jobID string) ([]*models.Artifact, error) {
	return s.store.ListByJob(ctx, jobID)
}

// Metadata returns an artifact's record without touching its blob
// bytes, for callers (e.g. the shell loop's S3-upload convention) that
// only need the PublicURL.
func (s *Service) Metadata(ctx context.Context, artifactID string) (*models.Artifact, error) {
	return s.store.Get(ctx, artifactID)
}
