package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
)

// maxCaptionBytes bounds how much of the cached caption file is read.
const maxCaptionBytes = 64 * 1024

type LocalStorage struct {
	captionPath string
}

func NewLocalStorage(captionPath string) *LocalStorage {
	return &LocalStorage{captionPath: captionPath}
}

func (s *LocalStorage) Caption(ctx context.Context) (string, error) {
	if s.captionPath == "" {
		return "", fmt.Errorf("no caption path configured")
	}

	f, err := os.Open(s.captionPath)
	if err != nil {
		return "", fmt.Errorf("failed to open caption file: %w", err)
	}
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(io.LimitReader(f, maxCaptionBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read caption file: %w", err)
	}

	return strings.TrimSpace(string(data)), nil
}

func (s *LocalStorage) StageVideo(ctx context.Context, ref string) (string, error) {
	if IsGCSRef(ref) {
		return "", fmt.Errorf("cannot stage %s without a GCS bucket configured", ref)
	}
	return ref, nil
}
