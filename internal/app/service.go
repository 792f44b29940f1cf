package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"google.golang.org/api/youtube/v3"

	"reelcast/internal/credential"
	"reelcast/internal/metadata"
	"reelcast/internal/storage"
	"reelcast/internal/upload"
	"reelcast/pkg/config"
)

type TokenSource interface {
	AccessToken(ctx context.Context, cred *credential.Credential) (string, error)
}

type SessionRunner interface {
	Run(ctx context.Context, path, accessToken string, video *youtube.Video) upload.Outcome
}

// Notifier is told about the result of every upload that reached YouTube.
type Notifier interface {
	NotifyUploadComplete(ctx context.Context, title, videoURL string) error
	NotifyUploadFailed(ctx context.Context, title string, err error) error
}

// Service runs one upload: file check, token, caption, metadata, session.
type Service struct {
	cfg        *config.Config
	credential *credential.Credential
	tokens     TokenSource
	captions   storage.CaptionSource
	stager     storage.VideoStager
	newSession func() SessionRunner
	notifier   Notifier
	receipts   *receiptWriter
	caption    string
	now        func() time.Time
	logger     *slog.Logger
}

type ServiceOptions struct {
	Config     *config.Config
	Credential *credential.Credential
	Tokens     TokenSource
	Captions   storage.CaptionSource
	Stager     storage.VideoStager
	NewSession func() SessionRunner
	Notifier   Notifier
	// Caption, when set, is used instead of the caption source.
	Caption string
	Now     func() time.Time
	Logger  *slog.Logger
}

func NewService(opts ServiceOptions) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	var receipts *receiptWriter
	if opts.Config != nil && opts.Config.Upload.ReceiptDir != "" {
		receipts = newReceiptWriter(opts.Config.Upload.ReceiptDir)
	}

	return &Service{
		cfg:        opts.Config,
		credential: opts.Credential,
		tokens:     opts.Tokens,
		captions:   opts.Captions,
		stager:     opts.Stager,
		newSession: opts.NewSession,
		notifier:   opts.Notifier,
		receipts:   receipts,
		caption:    opts.Caption,
		now:        opts.Now,
		logger:     opts.Logger,
	}
}

// Upload drives one upload of the video at path to completion. The first
// failing step ends the run.
func (s *Service) Upload(ctx context.Context, path string) upload.Outcome {
	if err := s.validate(); err != nil {
		return upload.Failure(err)
	}

	md, err := s.metadataOptions()
	if err != nil {
		return upload.Failure(err)
	}

	path, err = s.resolveVideo(ctx, path)
	if err != nil {
		return upload.Failure(err)
	}

	token, err := s.tokens.AccessToken(ctx, s.credential)
	if err != nil {
		return upload.Failure(err)
	}

	meta := metadata.Build(s.readCaption(ctx), s.now(), md)
	s.logger.Info("Uploading video",
		"path", path,
		"title", meta.Title,
		"visibility", meta.Visibility,
	)

	outcome := s.newSession().Run(ctx, path, token, meta.Video())
	if outcome.Succeeded() && s.receipts != nil {
		if err := s.receipts.write(newReceipt(outcome, meta, path, s.now())); err != nil {
			s.logger.Warn("Failed to write upload receipt", "error", err)
		}
	}
	s.notify(ctx, meta.Title, outcome)

	return outcome
}

func (s *Service) notify(ctx context.Context, title string, outcome upload.Outcome) {
	if s.notifier == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)

	var err error
	if outcome.Succeeded() {
		err = s.notifier.NotifyUploadComplete(ctx, title, outcome.URL)
	} else {
		reason := outcome.Err
		if reason == nil {
			reason = errors.New("no video id returned")
		}
		err = s.notifier.NotifyUploadFailed(ctx, title, reason)
	}
	if err != nil {
		s.logger.Warn("Failed to send upload notification", "error", err)
	}
}

// Preview builds the metadata an upload of path would send, without any
// request to YouTube.
func (s *Service) Preview(ctx context.Context, path string) (metadata.Metadata, error) {
	md, err := s.metadataOptions()
	if err != nil {
		return metadata.Metadata{}, err
	}
	if !storage.IsGCSRef(s.videoPath(path)) {
		if _, err := upload.CheckSource(s.videoPath(path)); err != nil {
			return metadata.Metadata{}, err
		}
	}
	return metadata.Build(s.readCaption(ctx), s.now(), md), nil
}

func (s *Service) validate() error {
	if s.cfg == nil {
		return &upload.Error{Kind: upload.KindConfig, Message: "no configuration loaded"}
	}
	if err := s.cfg.Validate(); err != nil {
		return configError(err)
	}
	return nil
}

func (s *Service) metadataOptions() (metadata.Options, error) {
	visibility, err := metadata.ParseVisibility(s.cfg.Upload.Visibility)
	if err != nil {
		return metadata.Options{}, &upload.Error{Kind: upload.KindConfig, Message: err.Error(), Err: err}
	}
	return metadata.Options{
		Visibility:  visibility,
		MadeForKids: s.cfg.Upload.KidsContent(),
		Category:    s.cfg.Upload.Category,
	}, nil
}

func (s *Service) videoPath(path string) string {
	if path == "" {
		return s.cfg.Upload.VideoPath
	}
	return path
}

func (s *Service) resolveVideo(ctx context.Context, path string) (string, error) {
	path = s.videoPath(path)

	if s.stager != nil && storage.IsGCSRef(path) {
		staged, err := s.stager.StageVideo(ctx, path)
		if err != nil {
			if ctx.Err() != nil {
				return "", &upload.Error{Kind: upload.KindCanceled, Message: "upload canceled", Err: ctx.Err()}
			}
			return "", &upload.Error{Kind: upload.KindInput, Message: "staging " + path, Err: err}
		}
		s.logger.Debug("Staged video", "ref", path, "path", staged)
		path = staged
	}

	if _, err := upload.CheckSource(path); err != nil {
		return "", err
	}
	return path, nil
}

func (s *Service) readCaption(ctx context.Context) string {
	if s.caption != "" {
		return s.caption
	}
	if s.captions == nil {
		return ""
	}

	caption, err := s.captions.Caption(ctx)
	if err != nil {
		s.logger.Warn("Caption unavailable, using fallback", "error", err)
		return ""
	}
	return caption
}

func configError(err error) error {
	var cerr *config.ConfigError
	if errors.As(err, &cerr) {
		return &upload.Error{Kind: upload.KindConfig, Message: cerr.Error(), Err: cerr}
	}
	return &upload.Error{Kind: upload.KindConfig, Message: err.Error(), Err: err}
}

// ExitCode maps an outcome to the process exit status.
func ExitCode(o upload.Outcome) int {
	if o.Succeeded() {
		return 0
	}
	if o.Kind() == upload.KindConfig {
		return 2
	}
	return 1
}
