package server

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	minio "github.com/minio/minio-go/v7"
	credentials "github.com/minio/minio-go/v7/pkg/credentials"

	config "github.com/i-am-bee/acp-go/server/config"
)

// ContentStore persists message part content outside the run record, so
// large payloads travel as URLs instead of inline strings.
type ContentStore interface {
	// Store writes part content and returns the URL it is reachable under
	Store(ctx context.Context, runID string, partName string, data io.Reader) (string, error)

	// Retrieve reads previously stored part content
	Retrieve(ctx context.Context, runID string, partName string) (io.ReadCloser, error)

	// Delete removes stored part content
	Delete(ctx context.Context, runID string, partName string) error

	// Exists checks whether part content is stored
	Exists(ctx context.Context, runID string, partName string) (bool, error)

	// GetURL returns the public URL for stored part content
	GetURL(runID string, partName string) string

	// Close releases underlying resources
	Close() error
}

// NewContentStore creates a content store from configuration. The "none"
// provider returns nil, meaning all part content stays inline.
func NewContentStore(cfg config.ContentConfig) (ContentStore, error) {
	switch cfg.Provider {
	case "", "none":
		return nil, nil
	case "filesystem":
		return NewFilesystemContentStore(cfg.BasePath, cfg.BaseURL)
	case "minio":
		return NewMinIOContentStore(cfg.Endpoint, cfg.AccessKey, cfg.SecretKey, cfg.BucketName, cfg.BaseURL, cfg.UseSSL)
	default:
		return nil, fmt.Errorf("unsupported content store provider: %s", cfg.Provider)
	}
}

// FilesystemContentStore implements ContentStore using the local filesystem
type FilesystemContentStore struct {
	basePath string
	baseURL  string
}

var _ ContentStore = (*FilesystemContentStore)(nil)

// NewFilesystemContentStore creates a filesystem-based content store
func NewFilesystemContentStore(basePath, baseURL string) (*FilesystemContentStore, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create content directory: %w", err)
	}

	return &FilesystemContentStore{
		basePath: basePath,
		baseURL:  strings.TrimSuffix(baseURL, "/"),
	}, nil
}

// Store writes part content to the local filesystem
func (fs *FilesystemContentStore) Store(ctx context.Context, runID string, partName string, data io.Reader) (string, error) {
	runID = sanitizePathSegment(runID)
	partName = sanitizePathSegment(partName)

	if runID == "" || partName == "" {
		return "", fmt.Errorf("invalid run ID or part name")
	}

	runDir := filepath.Join(fs.basePath, runID)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create content directory: %w", err)
	}

	filePath := filepath.Join(runDir, partName)
	file, err := os.Create(filePath)
	if err != nil {
		return "", fmt.Errorf("failed to create content file: %w", err)
	}
	defer func() {
		_ = file.Close()
	}()

	if _, err := io.Copy(file, data); err != nil {
		_ = os.Remove(filePath)
		return "", fmt.Errorf("failed to write part content: %w", err)
	}

	return fs.GetURL(runID, partName), nil
}

// Retrieve reads part content from the local filesystem
func (fs *FilesystemContentStore) Retrieve(ctx context.Context, runID string, partName string) (io.ReadCloser, error) {
	runID = sanitizePathSegment(runID)
	partName = sanitizePathSegment(partName)

	if runID == "" || partName == "" {
		return nil, fmt.Errorf("invalid run ID or part name")
	}

	file, err := os.Open(filepath.Join(fs.basePath, runID, partName))
	if err != nil {
		return nil, fmt.Errorf("failed to open part content: %w", err)
	}

	return file, nil
}

// Delete removes part content from the local filesystem
func (fs *FilesystemContentStore) Delete(ctx context.Context, runID string, partName string) error {
	runID = sanitizePathSegment(runID)
	partName = sanitizePathSegment(partName)

	if runID == "" || partName == "" {
		return fmt.Errorf("invalid run ID or part name")
	}

	if err := os.Remove(filepath.Join(fs.basePath, runID, partName)); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to delete part content: %w", err)
	}

	return nil
}

// Exists checks whether part content is stored on the local filesystem
func (fs *FilesystemContentStore) Exists(ctx context.Context, runID string, partName string) (bool, error) {
	runID = sanitizePathSegment(runID)
	partName = sanitizePathSegment(partName)

	if runID == "" || partName == "" {
		return false, fmt.Errorf("invalid run ID or part name")
	}

	if _, err := os.Stat(filepath.Join(fs.basePath, runID, partName)); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check part content existence: %w", err)
	}

	return true, nil
}

// GetURL returns the public URL for stored part content
func (fs *FilesystemContentStore) GetURL(runID string, partName string) string {
	runID = sanitizePathSegment(runID)
	partName = sanitizePathSegment(partName)
	return fmt.Sprintf("%s/content/%s/%s", fs.baseURL, runID, partName)
}

// Close cleans up the filesystem store (no-op)
func (fs *FilesystemContentStore) Close() error {
	return nil
}

// MinIOContentStore implements ContentStore using MinIO/S3
type MinIOContentStore struct {
	client     *minio.Client
	bucketName string
	baseURL    string
}

var _ ContentStore = (*MinIOContentStore)(nil)

// NewMinIOContentStore creates a MinIO-based content store, creating the
// bucket when it does not exist yet
func NewMinIOContentStore(endpoint, accessKey, secretKey, bucketName, baseURL string, useSSL bool) (*MinIOContentStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	store := &MinIOContentStore{
		client:     client,
		bucketName: bucketName,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
	}

	ctx := context.Background()
	exists, err := client.BucketExists(ctx, bucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		if err := client.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return store, nil
}

// Store writes part content to MinIO
func (m *MinIOContentStore) Store(ctx context.Context, runID string, partName string, data io.Reader) (string, error) {
	runID = sanitizePathSegment(runID)
	partName = sanitizePathSegment(partName)

	if runID == "" || partName == "" {
		return "", fmt.Errorf("invalid run ID or part name")
	}

	objectName := fmt.Sprintf("%s/%s", runID, partName)

	if _, err := m.client.PutObject(ctx, m.bucketName, objectName, data, -1, minio.PutObjectOptions{}); err != nil {
		return "", fmt.Errorf("failed to store part content in MinIO: %w", err)
	}

	return m.GetURL(runID, partName), nil
}

// Retrieve reads part content from MinIO
func (m *MinIOContentStore) Retrieve(ctx context.Context, runID string, partName string) (io.ReadCloser, error) {
	runID = sanitizePathSegment(runID)
	partName = sanitizePathSegment(partName)

	if runID == "" || partName == "" {
		return nil, fmt.Errorf("invalid run ID or part name")
	}

	objectName := fmt.Sprintf("%s/%s", runID, partName)

	object, err := m.client.GetObject(ctx, m.bucketName, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve part content from MinIO: %w", err)
	}

	return object, nil
}

// Delete removes part content from MinIO
func (m *MinIOContentStore) Delete(ctx context.Context, runID string, partName string) error {
	runID = sanitizePathSegment(runID)
	partName = sanitizePathSegment(partName)

	if runID == "" || partName == "" {
		return fmt.Errorf("invalid run ID or part name")
	}

	objectName := fmt.Sprintf("%s/%s", runID, partName)

	if err := m.client.RemoveObject(ctx, m.bucketName, objectName, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete part content from MinIO: %w", err)
	}

	return nil
}

// Exists checks whether part content is stored in MinIO
func (m *MinIOContentStore) Exists(ctx context.Context, runID string, partName string) (bool, error) {
	runID = sanitizePathSegment(runID)
	partName = sanitizePathSegment(partName)

	if runID == "" || partName == "" {
		return false, fmt.Errorf("invalid run ID or part name")
	}

	objectName := fmt.Sprintf("%s/%s", runID, partName)

	if _, err := m.client.StatObject(ctx, m.bucketName, objectName, minio.StatObjectOptions{}); err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}
		return false, fmt.Errorf("failed to check part content existence in MinIO: %w", err)
	}

	return true, nil
}

// GetURL returns the public URL for stored part content
func (m *MinIOContentStore) GetURL(runID string, partName string) string {
	runID = sanitizePathSegment(runID)
	partName = sanitizePathSegment(partName)
	return fmt.Sprintf("%s/content/%s/%s", m.baseURL, runID, partName)
}

// Close closes the MinIO connection (no-op, connections are pooled)
func (m *MinIOContentStore) Close() error {
	return nil
}

// sanitizePathSegment removes dangerous characters and path traversal attempts
func sanitizePathSegment(segment string) string {
	segment = strings.ReplaceAll(segment, "/", "")
	segment = strings.ReplaceAll(segment, "\\", "")
	segment = strings.ReplaceAll(segment, "..", "")
	segment = strings.TrimSpace(segment)
	return segment
}
