package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"google.golang.org/api/youtube/v3"

	"reelcast/pkg/httputil"
)

const (
	DefaultEndpoint   = "https://www.googleapis.com/upload/youtube/v3/videos"
	DefaultWatchURL   = "https://www.youtube.com/watch?v="
	DefaultChunkSize  = 8 * 1024 * 1024
	DefaultTimeout    = 60 * time.Second
	DefaultMaxRetries = 5

	// Every chunk except the last must be a multiple of 256 KiB.
	chunkAlignment = 256 * 1024

	videoContentType   = "video/mp4"
	statusQueryRetries = 2
	maxResponseBody    = 1 << 20
)

type Options struct {
	Endpoint   string
	WatchURL   string
	ChunkSize  int64
	Timeout    time.Duration
	// Retry bounds transient failures. Zero MaxRetries uses DefaultMaxRetries,
	// a negative value disables retries.
	Retry      httputil.RetryConfig
	HTTPClient *http.Client
	Progress   ProgressFunc
	Logger     *slog.Logger
}

// Session drives a single resumable upload from NotStarted to Completed or
// Failed. A Session is not reusable: once terminal, Run returns the stored
// outcome without touching the network.
type Session struct {
	endpoint  string
	watchURL  string
	chunkSize int64
	timeout   time.Duration
	retry     httputil.RetryConfig
	client    *http.Client
	status    *httputil.RetryClient
	progress  ProgressFunc
	logger    *slog.Logger
	sleep     func(ctx context.Context, d time.Duration) error

	state      State
	path       string
	total      int64
	sent       int64
	location   string
	resourceID string
	retries    int
	outcome    Outcome
}

type ack struct {
	next int64
	id   string
	done bool
}

func NewSession(opts Options) *Session {
	if opts.Endpoint == "" {
		opts.Endpoint = DefaultEndpoint
	}
	if opts.WatchURL == "" {
		opts.WatchURL = DefaultWatchURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.Retry.MaxRetries == 0 {
		opts.Retry.MaxRetries = DefaultMaxRetries
	}

	// 308 is the protocol's "resume incomplete" reply, not a redirect.
	client := *opts.HTTPClient
	client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	retry := opts.Retry.WithDefaults()

	return &Session{
		endpoint:  opts.Endpoint,
		watchURL:  opts.WatchURL,
		chunkSize: normalizeChunkSize(opts.ChunkSize),
		timeout:   opts.Timeout,
		retry:     retry,
		client:    &client,
		status: httputil.NewRetryClient(&client, httputil.RetryConfig{
			MaxRetries:   statusQueryRetries,
			InitialDelay: retry.InitialDelay,
			MaxDelay:     retry.MaxDelay,
			Multiplier:   retry.Multiplier,
		}),
		progress: opts.Progress,
		logger:   opts.Logger,
		sleep:    httputil.Sleep,
	}
}

func normalizeChunkSize(size int64) int64 {
	if size <= 0 {
		return DefaultChunkSize
	}
	if size > chunkAlignment {
		return size - size%chunkAlignment
	}
	return size
}

func (s *Session) State() State       { return s.state }
func (s *Session) Sent() int64        { return s.sent }
func (s *Session) Total() int64       { return s.total }
func (s *Session) Retries() int       { return s.retries }
func (s *Session) ResourceID() string { return s.resourceID }
func (s *Session) Location() string   { return s.location }
func (s *Session) Progress() Progress { return Progress{Sent: s.sent, Total: s.total} }
func (s *Session) Outcome() Outcome   { return s.outcome }

// Run uploads the file at path with the given bearer token and video resource
// as metadata.
func (s *Session) Run(ctx context.Context, path, accessToken string, video *youtube.Video) Outcome {
	if s.state.Terminal() {
		return s.outcome
	}

	f, total, err := openSource(path)
	if err != nil {
		return s.fail(err)
	}
	defer func() { _ = f.Close() }()

	s.path = path
	s.total = total

	if err := s.open(ctx, accessToken, video); err != nil {
		return s.fail(err)
	}

	id, err := s.transfer(ctx, f, accessToken)
	if err != nil {
		return s.fail(err)
	}

	return s.complete(id)
}

// CheckSource validates that path names a non-empty regular file and returns
// its size.
func CheckSource(path string) (int64, error) {
	if path == "" {
		return 0, newError(KindInput, "no video path given", nil)
	}

	info, err := os.Stat(path)
	if err != nil {
		return 0, newError(KindInput, fmt.Sprintf("video file not found: %s", path), err)
	}
	if !info.Mode().IsRegular() {
		return 0, newError(KindInput, fmt.Sprintf("not a regular file: %s", path), nil)
	}
	if info.Size() == 0 {
		return 0, newError(KindInput, fmt.Sprintf("video file is empty: %s", path), nil)
	}

	return info.Size(), nil
}

func openSource(path string) (*os.File, int64, error) {
	if _, err := CheckSource(path); err != nil {
		return nil, 0, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, 0, newError(KindInput, fmt.Sprintf("cannot open video file: %s", path), err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, newError(KindInput, fmt.Sprintf("cannot stat video file: %s", path), err)
	}
	if info.Size() == 0 {
		_ = f.Close()
		return nil, 0, newError(KindInput, fmt.Sprintf("video file is empty: %s", path), nil)
	}

	return f, info.Size(), nil
}

func (s *Session) open(ctx context.Context, accessToken string, video *youtube.Video) error {
	if err := ctx.Err(); err != nil {
		return canceled(err)
	}

	body, err := json.Marshal(video)
	if err != nil {
		return newError(KindInput, "encoding video metadata", err)
	}

	u, err := url.Parse(s.endpoint)
	if err != nil {
		return newError(KindConfig, fmt.Sprintf("invalid upload endpoint %q", s.endpoint), err)
	}
	q := u.Query()
	q.Set("uploadType", "resumable")
	q.Set("part", "snippet,status")
	u.RawQuery = q.Encode()

	reqCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return newError(KindServer, "creating session request", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")
	req.Header.Set("X-Upload-Content-Length", strconv.FormatInt(s.total, 10))
	req.Header.Set("X-Upload-Content-Type", videoContentType)

	s.logger.Info("opening upload session",
		slog.String("path", s.path),
		slog.Int64("size", s.total),
	)

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return canceled(ctx.Err())
		}
		return newError(KindServer, "session request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		uerr := classifyResponse(resp, "session initiation")
		if uerr.Kind == KindTransient {
			uerr.Kind = KindServer
		}
		return uerr
	}

	loc, err := resp.Location()
	if err != nil {
		return &Error{
			Kind:    KindServer,
			Status:  resp.StatusCode,
			Message: "session response has no upload location",
			Err:     err,
		}
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBody))

	s.location = loc.String()
	s.state = StateSessionOpened

	s.logger.Debug("upload session opened", slog.String("location", s.location))

	return nil
}

func (s *Session) transfer(ctx context.Context, f io.ReaderAt, accessToken string) (string, error) {
	s.state = StateUploading

	limit := s.iterationLimit()
	for i := 0; i < limit; i++ {
		if err := ctx.Err(); err != nil {
			return "", canceled(err)
		}

		a, err := s.sendChunk(ctx, f, accessToken)
		if err != nil {
			if KindOf(err) != KindTransient {
				return "", err
			}
			if a, err = s.resume(ctx, accessToken, err); err != nil {
				return "", err
			}
		}

		if a.done {
			return a.id, nil
		}
		if err := s.acknowledge(a.next); err != nil {
			return "", err
		}
	}

	return "", &Error{
		Kind:    KindServer,
		Message: fmt.Sprintf("upload did not complete after %d requests", limit),
	}
}

func (s *Session) iterationLimit() int {
	chunks := (s.total + s.chunkSize - 1) / s.chunkSize
	return int(2*chunks) + s.retry.MaxRetries + 1
}

// resume waits out a transient failure and asks the server how many bytes it
// holds. If the status itself cannot be learned the upload continues from the
// last acknowledged offset, which is always safe to resend.
func (s *Session) resume(ctx context.Context, accessToken string, cause error) (ack, error) {
	if s.retries >= s.retry.MaxRetries {
		uerr := &Error{
			Kind:    KindServer,
			Message: fmt.Sprintf("giving up after %d retries", s.retries),
			Err:     cause,
		}
		var last *Error
		if errors.As(cause, &last) {
			uerr.Status = last.Status
		}
		return ack{}, uerr
	}

	delay := s.retry.Delay(s.retries)
	s.retries++

	s.logger.Warn("chunk transfer failed, resuming",
		slog.Int("attempt", s.retries),
		slog.Int64("acknowledged", s.sent),
		slog.Duration("backoff", delay),
		slog.String("error", cause.Error()),
	)

	if err := s.sleep(ctx, delay); err != nil {
		return ack{}, canceled(err)
	}

	a, err := s.queryStatus(ctx, accessToken)
	if err != nil {
		if KindOf(err) != KindTransient {
			return ack{}, err
		}
		s.logger.Warn("upload status unknown, resending from last acknowledged offset",
			slog.Int64("offset", s.sent),
			slog.String("error", err.Error()),
		)
		return ack{next: s.sent}, nil
	}

	return a, nil
}

func (s *Session) sendChunk(ctx context.Context, f io.ReaderAt, accessToken string) (ack, error) {
	offset := s.sent
	length := min(s.chunkSize, s.total-offset)

	buf := make([]byte, length)
	if n, err := f.ReadAt(buf, offset); int64(n) < length {
		return ack{}, newError(KindInput, fmt.Sprintf("reading %d bytes at offset %d", length, offset), err)
	}

	// An in-flight chunk is allowed to finish; cancellation is observed
	// between chunks.
	reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPut, s.location, bytes.NewReader(buf))
	if err != nil {
		return ack{}, newError(KindServer, "creating chunk request", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", videoContentType)
	req.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", offset, offset+length-1, s.total))

	s.logger.Debug("uploading chunk",
		slog.Int64("offset", offset),
		slog.Int64("length", length),
		slog.Int64("total", s.total),
	)

	resp, err := s.client.Do(req)
	if err != nil {
		return ack{}, newError(KindTransient, "chunk request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	return readAck(resp, "chunk upload")
}

func (s *Session) queryStatus(ctx context.Context, accessToken string) (ack, error) {
	reqCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPut, s.location, http.NoBody)
	if err != nil {
		return ack{}, newError(KindServer, "creating status request", err)
	}
	req.ContentLength = 0
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Range", fmt.Sprintf("bytes */%d", s.total))

	s.logger.Debug("querying upload status", slog.String("location", s.location))

	resp, err := s.status.Do(req)
	if ctx.Err() != nil {
		if resp != nil {
			_ = resp.Body.Close()
		}
		return ack{}, canceled(ctx.Err())
	}
	if err != nil {
		return ack{}, newError(KindTransient, "status query failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	return readAck(resp, "status query")
}

// readAck decodes a chunk or status response: 308 carries the next expected
// offset, 200/201 carries the created video.
func readAck(resp *http.Response, stage string) (ack, error) {
	switch resp.StatusCode {
	case http.StatusPermanentRedirect:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBody))

		next, err := parseRange(resp.Header.Get("Range"))
		if err != nil {
			return ack{}, &Error{
				Kind:    KindServer,
				Status:  resp.StatusCode,
				Message: "malformed Range header",
				Err:     err,
			}
		}
		return ack{next: next}, nil

	case http.StatusOK, http.StatusCreated:
		var video youtube.Video
		if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBody)).Decode(&video); err != nil {
			return ack{}, &Error{
				Kind:    KindServer,
				Status:  resp.StatusCode,
				Message: "decoding upload response",
				Err:     err,
			}
		}
		if video.Id == "" {
			return ack{}, &Error{
				Kind:    KindServer,
				Status:  resp.StatusCode,
				Message: "upload response has no video id",
			}
		}
		return ack{done: true, id: video.Id}, nil

	default:
		uerr := classifyResponse(resp, stage)
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			uerr.Kind = KindTransient
		case uerr.Kind != KindTransient:
			uerr.Kind = KindServer
		}
		return ack{}, uerr
	}
}

// parseRange reads a "bytes=0-N" header and returns N+1. An absent header
// means the server holds nothing yet.
func parseRange(header string) (int64, error) {
	if header == "" {
		return 0, nil
	}

	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return 0, fmt.Errorf("unexpected range unit in %q", header)
	}

	first, last, ok := strings.Cut(spec, "-")
	if !ok || first != "0" {
		return 0, fmt.Errorf("range %q does not start at zero", header)
	}

	end, err := strconv.ParseInt(last, 10, 64)
	if err != nil || end < 0 {
		return 0, fmt.Errorf("invalid range end in %q", header)
	}

	return end + 1, nil
}

func (s *Session) acknowledge(next int64) error {
	switch {
	case next > s.total:
		return &Error{
			Kind:    KindServer,
			Message: fmt.Sprintf("server acknowledged %d bytes of a %d byte upload", next, s.total),
		}
	case next < s.sent:
		return &Error{
			Kind:    KindServer,
			Message: fmt.Sprintf("server acknowledged offset %d below previously acknowledged %d", next, s.sent),
		}
	case next == s.total:
		return &Error{
			Kind:    KindServer,
			Message: "server holds every byte but did not complete the upload",
		}
	}

	if next > s.sent {
		s.sent = next
		s.report()
	}

	return nil
}

func (s *Session) report() {
	if s.progress != nil {
		s.progress(s.Progress())
	}
}

func (s *Session) complete(id string) Outcome {
	s.sent = s.total
	s.resourceID = id
	s.state = StateCompleted
	s.report()

	s.outcome = Outcome{
		ResourceID: id,
		URL:        s.watchURL + url.QueryEscape(id),
	}

	s.logger.Info("upload complete",
		slog.String("video_id", id),
		slog.Int64("size", s.total),
		slog.Int("retries", s.retries),
	)

	return s.outcome
}

func (s *Session) fail(err error) Outcome {
	s.state = StateFailed
	s.outcome = Failure(err)

	s.logger.Debug("upload session failed",
		slog.String("kind", KindOf(err).String()),
		slog.String("error", err.Error()),
	)

	return s.outcome
}

func canceled(err error) *Error {
	return &Error{Kind: KindCanceled, Message: "upload canceled", Err: err}
}
