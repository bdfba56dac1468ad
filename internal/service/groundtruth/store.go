package groundtruth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/tessen-ai/kanshi/internal/model"
)

// objectPrefix namespaces artifacts inside the bucket.
const objectPrefix = "ground_truth/"

// Store persists ground-truth artifacts keyed by filename.
type Store interface {
	Save(ctx context.Context, filename string, artifact *model.GroundTruthArtifact) error
	// Load returns ok=false when the artifact does not exist.
	Load(ctx context.Context, filename string) (*model.GroundTruthArtifact, bool, error)
	Exists(ctx context.Context, filename string) bool
}

// ArtifactFilename is the per-agent object key.
func ArtifactFilename(agentName string) string {
	return model.NormalizeAgentName(agentName) + "_queries.json"
}

// StoreConfig selects and configures the artifact store backend.
type StoreConfig struct {
	Bucket    string
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	LocalDir  string
}

// NewStore returns an object store when a bucket is configured, otherwise
// the local-filesystem fallback.
func NewStore(cfg StoreConfig, logger *slog.Logger) (Store, error) {
	if cfg.Bucket == "" {
		logger.Info("ground truth store: using local filesystem", "dir", cfg.LocalDir)
		return &LocalStore{dir: cfg.LocalDir}, nil
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("groundtruth: object store client: %w", err)
	}
	logger.Info("ground truth store: using object store", "endpoint", cfg.Endpoint, "bucket", cfg.Bucket)
	return &ObjectStore{client: client, bucket: cfg.Bucket}, nil
}

// ObjectStore keeps artifacts in an S3-compatible bucket.
type ObjectStore struct {
	client *minio.Client
	bucket string
}

func (s *ObjectStore) key(filename string) string {
	return objectPrefix + filename
}

// Save uploads the artifact as pretty-printed JSON.
func (s *ObjectStore) Save(ctx context.Context, filename string, artifact *model.GroundTruthArtifact) error {
	body, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return fmt.Errorf("groundtruth: marshal artifact: %w", err)
	}
	_, err = s.client.PutObject(ctx, s.bucket, s.key(filename),
		bytes.NewReader(body), int64(len(body)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return fmt.Errorf("groundtruth: put %s: %w", filename, err)
	}
	return nil
}

// Load fetches and decodes an artifact.
func (s *ObjectStore) Load(ctx context.Context, filename string) (*model.GroundTruthArtifact, bool, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.key(filename), minio.GetObjectOptions{})
	if err != nil {
		return nil, false, fmt.Errorf("groundtruth: get %s: %w", filename, err)
	}
	defer obj.Close()

	body, err := io.ReadAll(obj)
	if err != nil {
		if resp := minio.ToErrorResponse(err); resp.Code == "NoSuchKey" {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("groundtruth: read %s: %w", filename, err)
	}
	var artifact model.GroundTruthArtifact
	if err := json.Unmarshal(body, &artifact); err != nil {
		return nil, false, fmt.Errorf("groundtruth: decode %s: %w", filename, err)
	}
	return &artifact, true, nil
}

// Exists checks object presence without downloading.
func (s *ObjectStore) Exists(ctx context.Context, filename string) bool {
	_, err := s.client.StatObject(ctx, s.bucket, s.key(filename), minio.StatObjectOptions{})
	return err == nil
}

// LocalStore keeps artifacts as JSON files under a directory.
type LocalStore struct {
	dir string
}

// NewLocalStore creates a filesystem-backed store rooted at dir.
func NewLocalStore(dir string) *LocalStore {
	return &LocalStore{dir: dir}
}

func (s *LocalStore) path(filename string) string {
	return filepath.Join(s.dir, filename)
}

// Save writes the artifact atomically via a temp file rename.
func (s *LocalStore) Save(_ context.Context, filename string, artifact *model.GroundTruthArtifact) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("groundtruth: create dir: %w", err)
	}
	body, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return fmt.Errorf("groundtruth: marshal artifact: %w", err)
	}

	tmp := s.path(filename) + ".tmp"
	if err := os.WriteFile(tmp, body, 0o644); err != nil {
		return fmt.Errorf("groundtruth: write %s: %w", filename, err)
	}
	if err := os.Rename(tmp, s.path(filename)); err != nil {
		return fmt.Errorf("groundtruth: rename %s: %w", filename, err)
	}
	return nil
}

// Load reads and decodes an artifact file.
func (s *LocalStore) Load(_ context.Context, filename string) (*model.GroundTruthArtifact, bool, error) {
	body, err := os.ReadFile(s.path(filename))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("groundtruth: read %s: %w", filename, err)
	}
	var artifact model.GroundTruthArtifact
	if err := json.Unmarshal(body, &artifact); err != nil {
		return nil, false, fmt.Errorf("groundtruth: decode %s: %w", filename, err)
	}
	return &artifact, true, nil
}

// Exists reports whether the artifact file is present.
func (s *LocalStore) Exists(_ context.Context, filename string) bool {
	_, err := os.Stat(s.path(filename))
	return err == nil
}
