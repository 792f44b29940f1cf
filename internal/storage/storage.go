package storage

import (
	"context"
	"fmt"
	"strings"
)

type CaptionSource interface {
	Caption(ctx context.Context) (string, error)
}

// VideoStager turns a video reference into a readable local path.
type VideoStager interface {
	StageVideo(ctx context.Context, ref string) (string, error)
}

const gcsScheme = "gs://"

func IsGCSRef(ref string) bool {
	return strings.HasPrefix(ref, gcsScheme)
}

// ParseGCSRef splits gs://bucket/object into its parts. The object may be
// empty or end in "/", which selects a prefix.
func ParseGCSRef(ref string) (bucket, object string, err error) {
	rest, ok := strings.CutPrefix(ref, gcsScheme)
	if !ok {
		return "", "", fmt.Errorf("not a gs:// reference: %q", ref)
	}
	bucket, object, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("missing bucket in %q", ref)
	}
	return bucket, object, nil
}
