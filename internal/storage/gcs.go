package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

type GCSOptions struct {
	Bucket        string
	CaptionObject string
	LocalCacheDir string
	// Endpoint overrides the storage API host, e.g. for an emulator.
	Endpoint string
}

type GCSStorage struct {
	client        *storage.Client
	bucket        string
	captionObject string
	localCacheDir string
}

func NewGCSStorage(ctx context.Context, opts GCSOptions) (*GCSStorage, error) {
	var clientOpts []option.ClientOption
	if opts.Endpoint != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(opts.Endpoint), option.WithoutAuthentication())
	}

	client, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	return &GCSStorage{
		client:        client,
		bucket:        opts.Bucket,
		captionObject: opts.CaptionObject,
		localCacheDir: opts.LocalCacheDir,
	}, nil
}

func (s *GCSStorage) Close() error {
	return s.client.Close()
}

func (s *GCSStorage) Caption(ctx context.Context) (string, error) {
	if s.captionObject == "" {
		return "", fmt.Errorf("no caption object configured for gs://%s", s.bucket)
	}

	r, err := s.client.Bucket(s.bucket).Object(s.captionObject).NewReader(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to open gs://%s/%s: %w", s.bucket, s.captionObject, err)
	}
	defer func() { _ = r.Close() }()

	data, err := io.ReadAll(io.LimitReader(r, maxCaptionBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read caption object: %w", err)
	}

	return strings.TrimSpace(string(data)), nil
}

// StageVideo downloads a gs:// video into the local cache and returns the
// local path. A reference ending in "/" picks the most recently updated video
// under that prefix. Plain paths are returned unchanged.
func (s *GCSStorage) StageVideo(ctx context.Context, ref string) (string, error) {
	if !IsGCSRef(ref) {
		return ref, nil
	}

	bucket, object, err := ParseGCSRef(ref)
	if err != nil {
		return "", err
	}

	if object == "" || strings.HasSuffix(object, "/") {
		object, err = s.latestVideo(ctx, bucket, object)
		if err != nil {
			return "", err
		}
	}

	attrs, err := s.client.Bucket(bucket).Object(object).Attrs(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to stat gs://%s/%s: %w", bucket, object, err)
	}

	localPath := filepath.Join(s.localCacheDir, bucket, filepath.Base(object))
	if info, err := os.Stat(localPath); err == nil && info.Size() == attrs.Size {
		return localPath, nil
	}

	if err := s.downloadFile(ctx, bucket, object, localPath); err != nil {
		return "", fmt.Errorf("failed to download video: %w", err)
	}

	return localPath, nil
}

func (s *GCSStorage) latestVideo(ctx context.Context, bucket, prefix string) (string, error) {
	it := s.client.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: prefix})

	var latest *storage.ObjectAttrs
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("failed to list objects: %w", err)
		}

		if !isVideo(attrs.Name) || attrs.Size == 0 {
			continue
		}
		if latest == nil || attrs.Updated.After(latest.Updated) {
			latest = attrs
		}
	}

	if latest == nil {
		return "", fmt.Errorf("no video found in gs://%s/%s", bucket, prefix)
	}

	return latest.Name, nil
}

func (s *GCSStorage) downloadFile(ctx context.Context, bucket, object, localPath string) error {
	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	r, err := s.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return fmt.Errorf("failed to create reader: %w", err)
	}
	defer func() { _ = r.Close() }()

	partPath := localPath + ".part"
	f, err := os.Create(partPath)
	if err != nil {
		return fmt.Errorf("failed to create local file: %w", err)
	}

	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		_ = os.Remove(partPath)
		return fmt.Errorf("failed to download file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(partPath)
		return fmt.Errorf("failed to close local file: %w", err)
	}

	return os.Rename(partPath, localPath)
}

func isVideo(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".mp4", ".mov", ".mkv", ".webm":
		return true
	default:
		return false
	}
}
