package app

import (
	"context"
	"log/slog"
	"net/http"

	"reelcast/internal/credential"
	"reelcast/internal/storage"
	"reelcast/internal/telegram"
	"reelcast/internal/upload"
	"reelcast/pkg/config"
	"reelcast/pkg/httputil"
)

type BuildOptions struct {
	Caption    string
	Progress   upload.ProgressFunc
	HTTPClient *http.Client
	Logger     *slog.Logger
}

type BuildResult struct {
	Service *Service
	close   func() error
}

func (r *BuildResult) Close() error {
	if r.close == nil {
		return nil
	}
	return r.close()
}

func BuildService(ctx context.Context, cfg *config.Config, opts BuildOptions) (*BuildResult, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	tokenClient := *httpClient
	tokenClient.Timeout = cfg.Upload.Timeout

	cred := &credential.Credential{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RefreshToken: cfg.RefreshToken,
		TokenURL:     cfg.Upload.TokenURL,
	}

	result := &BuildResult{}

	local := storage.NewLocalStorage(cfg.Upload.CaptionPath)
	var captions storage.CaptionSource = local
	var stager storage.VideoStager = local

	if cfg.GCSEnabled() {
		gcs, err := storage.NewGCSStorage(ctx, storage.GCSOptions{
			Bucket:        cfg.GCS.Bucket,
			CaptionObject: cfg.GCS.CaptionObject,
			LocalCacheDir: cfg.GCS.CacheDir,
			Endpoint:      cfg.GCS.Endpoint,
		})
		if err != nil {
			return nil, err
		}
		result.close = gcs.Close
		stager = gcs
		if cfg.GCS.CaptionObject != "" {
			captions = gcs
		}
	}

	retry := httputil.RetryConfig{
		MaxRetries:   sessionRetries(cfg.Upload.RetryBudget()),
		InitialDelay: cfg.Upload.RetryInitialDelay,
		MaxDelay:     cfg.Upload.RetryMaxDelay,
	}

	newSession := func() SessionRunner {
		return upload.NewSession(upload.Options{
			Endpoint:   cfg.Upload.Endpoint,
			WatchURL:   cfg.Upload.WatchURL,
			ChunkSize:  cfg.Upload.ChunkSize,
			Timeout:    cfg.Upload.Timeout,
			Retry:      retry,
			HTTPClient: httpClient,
			Progress:   opts.Progress,
			Logger:     logger,
		})
	}

	var notifier Notifier
	if cfg.TelegramEnabled() {
		notifier = telegram.NewNotifier(telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.APIURL), cfg.Telegram.ChatID)
	}

	result.Service = NewService(ServiceOptions{
		Config:     cfg,
		Credential: cred,
		Tokens:     credential.NewProvider(&tokenClient, logger),
		Captions:   captions,
		Stager:     stager,
		NewSession: newSession,
		Notifier:   notifier,
		Caption:    opts.Caption,
		Logger:     logger,
	})

	return result, nil
}

// sessionRetries maps a configured budget onto upload.Options, where zero
// means "use the default" and a negative value disables retries.
func sessionRetries(budget int) int {
	if budget == 0 {
		return -1
	}
	return budget
}
