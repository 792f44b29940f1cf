package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"google.golang.org/api/youtube/v3"

	"reelcast/internal/credential"
	"reelcast/internal/metadata"
	"reelcast/internal/upload"
	"reelcast/pkg/config"
)

var fixedNow = time.Date(2026, time.October, 16, 6, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T, baseURL string) *config.Config {
	t.Helper()
	kids := true
	retries := 3
	return &config.Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RefreshToken: "refresh-token",
		Upload: config.UploadConfig{
			VideoPath:         filepath.Join(t.TempDir(), "missing.mp4"),
			CaptionPath:       filepath.Join(t.TempDir(), "krishna_line.txt"),
			TokenURL:          baseURL + "/token",
			Endpoint:          baseURL + "/upload",
			WatchURL:          "https://www.youtube.com/watch?v=",
			ChunkSize:         8 * 1024 * 1024,
			Timeout:           5 * time.Second,
			MaxRetries:        &retries,
			RetryInitialDelay: time.Millisecond,
			RetryMaxDelay:     time.Millisecond,
			Visibility:        "public",
			MadeForKids:       &kids,
			Category:          "22",
			ReceiptDir:        filepath.Join(t.TempDir(), "uploads"),
		},
	}
}

func writeVideo(t *testing.T, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "reel.mp4")
	if err := os.WriteFile(path, make([]byte, size), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

// fakeGoogle serves the token endpoint and the resumable upload endpoint.
type fakeGoogle struct {
	t      *testing.T
	server *httptest.Server
	id     string

	tokenStatus int
	tokenBody   string
	failChunks  int

	mu       sync.Mutex
	total    int64
	received int64
	tokens   int
	inits    int
	chunks   int
	statuses int
}

func newFakeGoogle(t *testing.T, id string) *fakeGoogle {
	t.Helper()
	f := &fakeGoogle{
		t:           t,
		id:          id,
		tokenStatus: http.StatusOK,
		tokenBody:   `{"access_token":"ya29.test","token_type":"Bearer","expires_in":3599}`,
	}
	f.server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeGoogle) handle(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch r.URL.Path {
	case "/token":
		f.tokens++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.tokenStatus)
		_, _ = io.WriteString(w, f.tokenBody)

	case "/upload":
		f.inits++
		if got := r.Header.Get("Authorization"); got != "Bearer ya29.test" {
			f.t.Errorf("Authorization = %q", got)
		}
		_, _ = fmt.Sscan(r.Header.Get("X-Upload-Content-Length"), &f.total)
		w.Header().Set("Location", f.server.URL+"/session")
		w.WriteHeader(http.StatusOK)

	case "/session":
		cr := r.Header.Get("Content-Range")
		if strings.HasPrefix(cr, "bytes */") {
			f.statuses++
			f.reply(w)
			return
		}

		f.chunks++
		body, _ := io.ReadAll(r.Body)
		if f.failChunks > 0 {
			f.failChunks--
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var first int64
		_, _ = fmt.Sscanf(cr, "bytes %d-", &first)
		f.received = max(f.received, first+int64(len(body)))
		f.reply(w)

	default:
		http.NotFound(w, r)
	}
}

func (f *fakeGoogle) reply(w http.ResponseWriter) {
	if f.received == f.total {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"id": f.id})
		return
	}
	if f.received > 0 {
		w.Header().Set("Range", fmt.Sprintf("bytes=0-%d", f.received-1))
	}
	w.WriteHeader(http.StatusPermanentRedirect)
}

func (f *fakeGoogle) requests() (tokens, uploads int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tokens, f.inits + f.chunks + f.statuses
}

func buildService(t *testing.T, cfg *config.Config, progress upload.ProgressFunc) *Service {
	t.Helper()
	result, err := BuildService(context.Background(), cfg, BuildOptions{
		Progress: progress,
		Logger:   quietLogger(),
	})
	if err != nil {
		t.Fatalf("BuildService() error: %v", err)
	}
	t.Cleanup(func() { _ = result.Close() })
	result.Service.now = func() time.Time { return fixedNow }
	return result.Service
}

func TestUploadEndToEnd(t *testing.T) {
	tests := []struct {
		name        string
		size        int
		setup       func(f *fakeGoogle, cfg *config.Config)
		missingFile bool
		wantID      string
		wantKind    upload.Kind
		wantExit    int
		wantTokens  int
		wantUploads bool
	}{
		{
			name:        "success",
			size:        10 * 1000 * 1000,
			wantID:      "abc123",
			wantExit:    0,
			wantTokens:  1,
			wantUploads: true,
		},
		{
			name: "tokenRejected",
			size: 1000,
			setup: func(f *fakeGoogle, _ *config.Config) {
				f.tokenStatus = http.StatusBadRequest
				f.tokenBody = `{"error":"invalid_grant","error_description":"Bad Request"}`
			},
			wantKind:   upload.KindAuth,
			wantExit:   1,
			wantTokens: 1,
		},
		{
			name:        "missingFile",
			missingFile: true,
			wantKind:    upload.KindInput,
			wantExit:    1,
		},
		{
			name: "resumeAfterUnavailable",
			size: 1000,
			setup: func(f *fakeGoogle, _ *config.Config) {
				f.id = "xyz"
				f.failChunks = 1
			},
			wantID:      "xyz",
			wantExit:    0,
			wantTokens:  1,
			wantUploads: true,
		},
		{
			name: "missingRefreshToken",
			size: 1000,
			setup: func(_ *fakeGoogle, cfg *config.Config) {
				cfg.RefreshToken = ""
			},
			wantKind: upload.KindConfig,
			wantExit: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeGoogle(t, "abc123")
			cfg := testConfig(t, f.server.URL)
			if tt.setup != nil {
				tt.setup(f, cfg)
			}

			path := cfg.Upload.VideoPath
			if !tt.missingFile {
				path = writeVideo(t, tt.size)
			}

			out := buildService(t, cfg, nil).Upload(context.Background(), path)

			if got := ExitCode(out); got != tt.wantExit {
				t.Errorf("ExitCode() = %d, want %d (err: %v)", got, tt.wantExit, out.Err)
			}
			if tt.wantID != "" {
				if out.ResourceID != tt.wantID {
					t.Errorf("ResourceID = %q, want %q", out.ResourceID, tt.wantID)
				}
				if out.URL != "https://www.youtube.com/watch?v="+tt.wantID {
					t.Errorf("URL = %q", out.URL)
				}
			} else if out.Kind() != tt.wantKind {
				t.Errorf("Kind = %v, want %v", out.Kind(), tt.wantKind)
			}

			tokens, uploads := f.requests()
			if tokens != tt.wantTokens {
				t.Errorf("token requests = %d, want %d", tokens, tt.wantTokens)
			}
			if (uploads > 0) != tt.wantUploads {
				t.Errorf("upload requests = %d, wantUploads %v", uploads, tt.wantUploads)
			}
		})
	}
}

func TestUploadReportsProgress(t *testing.T) {
	f := newFakeGoogle(t, "prog")
	cfg := testConfig(t, f.server.URL)
	cfg.Upload.ChunkSize = 256 * 1024

	var last upload.Progress
	calls := 0
	svc := buildService(t, cfg, func(p upload.Progress) {
		if p.Sent < last.Sent {
			t.Errorf("progress went backwards: %d after %d", p.Sent, last.Sent)
		}
		last = p
		calls++
	})

	out := svc.Upload(context.Background(), writeVideo(t, 600*1024))
	if !out.Succeeded() {
		t.Fatalf("Upload() failed: %v", out.Err)
	}
	if calls != 3 {
		t.Errorf("progress calls = %d, want 3", calls)
	}
	if last.Fraction() != 1 {
		t.Errorf("final fraction = %v, want 1", last.Fraction())
	}
}

func TestUploadWritesReceipt(t *testing.T) {
	f := newFakeGoogle(t, "abc-123")
	cfg := testConfig(t, f.server.URL)

	out := buildService(t, cfg, nil).Upload(context.Background(), writeVideo(t, 1000))
	if !out.Succeeded() {
		t.Fatalf("Upload() failed: %v", out.Err)
	}

	data, err := os.ReadFile(filepath.Join(cfg.Upload.ReceiptDir, "20261016_060000_abc-123.json"))
	if err != nil {
		t.Fatalf("receipt not written: %v", err)
	}
	var r receipt
	if err := json.Unmarshal(data, &r); err != nil {
		t.Fatalf("Unmarshal() error: %v", err)
	}
	if r.VideoID != "abc-123" || r.Visibility != "public" || !r.MadeForKids {
		t.Errorf("receipt = %+v", r)
	}
}

type fakeTokens struct {
	calls int
	token string
	err   error
}

func (f *fakeTokens) AccessToken(context.Context, *credential.Credential) (string, error) {
	f.calls++
	return f.token, f.err
}

type fakeCaptions struct {
	caption string
	err     error
}

func (f *fakeCaptions) Caption(context.Context) (string, error) {
	return f.caption, f.err
}

type fakeSession struct {
	calls   int
	token   string
	video   *youtube.Video
	outcome upload.Outcome
}

func (f *fakeSession) Run(_ context.Context, _, token string, video *youtube.Video) upload.Outcome {
	f.calls++
	f.token = token
	f.video = video
	return f.outcome
}

func newTestService(t *testing.T, tokens *fakeTokens, captions *fakeCaptions, session *fakeSession, caption string) *Service {
	t.Helper()
	cfg := testConfig(t, "http://unused.invalid")
	cfg.Upload.ReceiptDir = ""
	return NewService(ServiceOptions{
		Config:     cfg,
		Credential: &credential.Credential{},
		Tokens:     tokens,
		Captions:   captions,
		NewSession: func() SessionRunner { return session },
		Caption:    caption,
		Now:        func() time.Time { return fixedNow },
		Logger:     quietLogger(),
	})
}

func TestServiceCaption(t *testing.T) {
	tests := []struct {
		name      string
		captions  *fakeCaptions
		override  string
		wantTitle string
	}{
		{name: "fromSource", captions: &fakeCaptions{caption: "सब अच्छा होगा"}, wantTitle: "सब अच्छा होगा"},
		{name: "sourceFails", captions: &fakeCaptions{err: errors.New("no file")}, wantTitle: metadata.FallbackCaption},
		{name: "sourceEmpty", captions: &fakeCaptions{caption: ""}, wantTitle: metadata.FallbackCaption},
		{name: "override", captions: &fakeCaptions{caption: "ignored"}, override: "राधे राधे", wantTitle: "राधे राधे"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tokens := &fakeTokens{token: "tok"}
			session := &fakeSession{outcome: upload.Outcome{ResourceID: "id", URL: "u"}}
			svc := newTestService(t, tokens, tt.captions, session, tt.override)

			out := svc.Upload(context.Background(), writeVideo(t, 10))
			if !out.Succeeded() {
				t.Fatalf("Upload() failed: %v", out.Err)
			}
			if session.token != "tok" {
				t.Errorf("session token = %q, want tok", session.token)
			}
			if !strings.HasPrefix(session.video.Snippet.Title, tt.wantTitle) {
				t.Errorf("Title = %q, want prefix %q", session.video.Snippet.Title, tt.wantTitle)
			}
			if !strings.HasSuffix(session.video.Snippet.Title, "16 Oct 2026") {
				t.Errorf("Title = %q, want date from clock", session.video.Snippet.Title)
			}
		})
	}
}

func TestServiceShortCircuits(t *testing.T) {
	t.Run("missingFileSkipsToken", func(t *testing.T) {
		tokens := &fakeTokens{token: "tok"}
		session := &fakeSession{}
		svc := newTestService(t, tokens, &fakeCaptions{}, session, "")

		out := svc.Upload(context.Background(), filepath.Join(t.TempDir(), "nope.mp4"))

		if out.Kind() != upload.KindInput {
			t.Errorf("Kind = %v, want InputError", out.Kind())
		}
		if tokens.calls != 0 || session.calls != 0 {
			t.Errorf("tokens/sessions = %d/%d, want 0/0", tokens.calls, session.calls)
		}
	})

	t.Run("tokenFailureSkipsSession", func(t *testing.T) {
		tokens := &fakeTokens{err: &upload.Error{Kind: upload.KindAuth, Status: 400}}
		session := &fakeSession{}
		svc := newTestService(t, tokens, &fakeCaptions{}, session, "")

		out := svc.Upload(context.Background(), writeVideo(t, 10))

		if out.Kind() != upload.KindAuth {
			t.Errorf("Kind = %v, want AuthError", out.Kind())
		}
		if session.calls != 0 {
			t.Errorf("session ran %d times, want 0", session.calls)
		}
	})

	t.Run("invalidVisibility", func(t *testing.T) {
		tokens := &fakeTokens{token: "tok"}
		svc := newTestService(t, tokens, &fakeCaptions{}, &fakeSession{}, "")
		svc.cfg.Upload.Visibility = "friends"

		out := svc.Upload(context.Background(), writeVideo(t, 10))

		if ExitCode(out) != 2 {
			t.Errorf("ExitCode() = %d, want 2", ExitCode(out))
		}
		if tokens.calls != 0 {
			t.Errorf("tokens = %d, want 0", tokens.calls)
		}
	})

	t.Run("gcsRefWithoutBucket", func(t *testing.T) {
		tokens := &fakeTokens{token: "tok"}
		svc := newTestService(t, tokens, &fakeCaptions{}, &fakeSession{}, "")
		svc.stager = failingStager{}

		out := svc.Upload(context.Background(), "gs://reels/today.mp4")

		if out.Kind() != upload.KindInput {
			t.Errorf("Kind = %v, want InputError", out.Kind())
		}
		if tokens.calls != 0 {
			t.Errorf("tokens = %d, want 0", tokens.calls)
		}
	})
}

type fakeNotifier struct {
	completed []string
	failed    []error
	err       error
}

func (f *fakeNotifier) NotifyUploadComplete(_ context.Context, _, videoURL string) error {
	f.completed = append(f.completed, videoURL)
	return f.err
}

func (f *fakeNotifier) NotifyUploadFailed(_ context.Context, _ string, err error) error {
	f.failed = append(f.failed, err)
	return f.err
}

func TestServiceNotifies(t *testing.T) {
	quota := &upload.Error{Kind: upload.KindQuota, Status: 403, Message: "quotaExceeded"}

	tests := []struct {
		name          string
		outcome       upload.Outcome
		notifyErr     error
		wantCompleted int
		wantFailed    int
	}{
		{name: "success", outcome: upload.Outcome{ResourceID: "abc", URL: "https://youtu.be/abc"}, wantCompleted: 1},
		{name: "failure", outcome: upload.Failure(quota), wantFailed: 1},
		{name: "noVideoID", outcome: upload.Outcome{}, wantFailed: 1},
		{name: "notifierErrorIgnored", outcome: upload.Outcome{ResourceID: "abc", URL: "u"}, notifyErr: errors.New("bot blocked"), wantCompleted: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			notifier := &fakeNotifier{err: tt.notifyErr}
			svc := newTestService(t, &fakeTokens{token: "tok"}, &fakeCaptions{}, &fakeSession{outcome: tt.outcome}, "")
			svc.notifier = notifier

			out := svc.Upload(context.Background(), writeVideo(t, 10))

			if out.Succeeded() != tt.outcome.Succeeded() {
				t.Errorf("Succeeded() = %v, want %v", out.Succeeded(), tt.outcome.Succeeded())
			}
			if len(notifier.completed) != tt.wantCompleted || len(notifier.failed) != tt.wantFailed {
				t.Errorf("completed/failed = %d/%d, want %d/%d",
					len(notifier.completed), len(notifier.failed), tt.wantCompleted, tt.wantFailed)
			}
		})
	}

	t.Run("notCalledBeforeSession", func(t *testing.T) {
		notifier := &fakeNotifier{}
		svc := newTestService(t, &fakeTokens{token: "tok"}, &fakeCaptions{}, &fakeSession{}, "")
		svc.notifier = notifier

		svc.Upload(context.Background(), filepath.Join(t.TempDir(), "missing.mp4"))

		if len(notifier.completed)+len(notifier.failed) != 0 {
			t.Errorf("notifier called for a run that never reached YouTube")
		}
	})
}

type failingStager struct{}

func (failingStager) StageVideo(context.Context, string) (string, error) {
	return "", errors.New("no bucket")
}

func TestServicePreview(t *testing.T) {
	tokens := &fakeTokens{token: "tok"}
	session := &fakeSession{}
	svc := newTestService(t, tokens, &fakeCaptions{caption: "कृष्ण"}, session, "")
	svc.cfg.Upload.Visibility = "unlisted"

	meta, err := svc.Preview(context.Background(), writeVideo(t, 10))
	if err != nil {
		t.Fatalf("Preview() error: %v", err)
	}
	if meta.Visibility != metadata.Unlisted {
		t.Errorf("Visibility = %q, want unlisted", meta.Visibility)
	}
	if !strings.HasPrefix(meta.Title, "कृष्ण") {
		t.Errorf("Title = %q", meta.Title)
	}
	if tokens.calls != 0 || session.calls != 0 {
		t.Error("Preview() must not authenticate or upload")
	}

	if _, err := svc.Preview(context.Background(), filepath.Join(t.TempDir(), "nope.mp4")); upload.KindOf(err) != upload.KindInput {
		t.Errorf("Preview() missing file error = %v, want InputError", err)
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name    string
		outcome upload.Outcome
		want    int
	}{
		{name: "success", outcome: upload.Outcome{ResourceID: "abc123"}, want: 0},
		{name: "config", outcome: upload.Failure(&upload.Error{Kind: upload.KindConfig}), want: 2},
		{name: "input", outcome: upload.Failure(&upload.Error{Kind: upload.KindInput}), want: 1},
		{name: "auth", outcome: upload.Failure(&upload.Error{Kind: upload.KindAuth}), want: 1},
		{name: "quota", outcome: upload.Failure(&upload.Error{Kind: upload.KindQuota}), want: 1},
		{name: "server", outcome: upload.Failure(&upload.Error{Kind: upload.KindServer}), want: 1},
		{name: "canceled", outcome: upload.Failure(&upload.Error{Kind: upload.KindCanceled}), want: 1},
		{name: "untyped", outcome: upload.Failure(errors.New("boom")), want: 1},
		{name: "emptyID", outcome: upload.Outcome{}, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.outcome); got != tt.want {
				t.Errorf("ExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestSessionRetries(t *testing.T) {
	tests := []struct {
		name   string
		budget int
		want   int
	}{
		{name: "disabled", budget: 0, want: -1},
		{name: "configured", budget: 2, want: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sessionRetries(tt.budget); got != tt.want {
				t.Errorf("sessionRetries(%d) = %d, want %d", tt.budget, got, tt.want)
			}
		})
	}
}

func TestSanitizeForPath(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "videoID", input: "dQw4w9WgXcQ", want: "dQw4w9WgXcQ"},
		{name: "slashes", input: "../etc/passwd", want: "etc_passwd"},
		{name: "devanagari", input: "कृष्ण", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizeForPath(tt.input); got != tt.want {
				t.Errorf("sanitizeForPath(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
