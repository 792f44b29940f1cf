package app

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"reelcast/internal/metadata"
	"reelcast/internal/upload"
)

// receipt records a completed upload next to the produced reels.
type receipt struct {
	VideoID     string    `json:"video_id"`
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	Visibility  string    `json:"visibility"`
	MadeForKids bool      `json:"made_for_kids"`
	Source      string    `json:"source"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

type receiptWriter struct {
	dir string
}

var sanitizeRegex = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

func newReceiptWriter(dir string) *receiptWriter {
	return &receiptWriter{dir: dir}
}

func newReceipt(o upload.Outcome, meta metadata.Metadata, source string, now time.Time) receipt {
	return receipt{
		VideoID:     o.ResourceID,
		URL:         o.URL,
		Title:       meta.Title,
		Visibility:  string(meta.Visibility),
		MadeForKids: meta.MadeForKids,
		Source:      source,
		UploadedAt:  now.UTC(),
	}
}

func (w *receiptWriter) path(r receipt) string {
	id := sanitizeForPath(r.VideoID)
	if id == "" {
		id = "unknown"
	}
	if len(id) > 50 {
		id = id[:50]
	}
	return filepath.Join(w.dir, fmt.Sprintf("%s_%s.json", r.UploadedAt.Format("20060102_150405"), id))
}

func (w *receiptWriter) write(r receipt) error {
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return fmt.Errorf("create %s: %w", w.dir, err)
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal receipt: %w", err)
	}

	return os.WriteFile(w.path(r), data, 0644)
}

func sanitizeForPath(s string) string {
	s = sanitizeRegex.ReplaceAllString(s, "_")
	return strings.Trim(s, "_")
}
