package config

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
)

type secretFetcher interface {
	Fetch(ctx context.Context, name string) (string, error)
	Close() error
}

var newSecretFetcher = func(ctx context.Context) (secretFetcher, error) {
	client, err := secretmanager.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create secret manager client: %w", err)
	}
	return &secretManagerFetcher{client: client}, nil
}

type secretManagerFetcher struct {
	client *secretmanager.Client
}

func (f *secretManagerFetcher) Fetch(ctx context.Context, name string) (string, error) {
	resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: name,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(resp.GetPayload().GetData())), nil
}

func (f *secretManagerFetcher) Close() error {
	return f.client.Close()
}

// secretVersionName accepts a bare secret id or a full resource name.
func secretVersionName(project, secret string) string {
	if strings.HasPrefix(secret, "projects/") {
		return secret
	}
	return fmt.Sprintf("projects/%s/secrets/%s/versions/latest", project, secret)
}

// resolveSecrets fills empty OAuth settings from Secret Manager. Failures are
// logged and leave the value empty so Validate reports it.
func resolveSecrets(ctx context.Context, cfg *Config) {
	targets := []struct {
		value  *string
		secret string
	}{
		{&cfg.ClientID, cfg.Secrets.ClientID},
		{&cfg.ClientSecret, cfg.Secrets.ClientSecret},
		{&cfg.RefreshToken, cfg.Secrets.RefreshToken},
	}

	var pending []int
	for i, t := range targets {
		if *t.value == "" && t.secret != "" {
			pending = append(pending, i)
		}
	}
	if len(pending) == 0 {
		return
	}

	if cfg.GCPProject == "" {
		slog.Warn("Secrets configured but GOOGLE_CLOUD_PROJECT is not set")
		return
	}

	fetcher, err := newSecretFetcher(ctx)
	if err != nil {
		slog.Warn("Secret Manager unavailable", "error", err)
		return
	}
	defer func() { _ = fetcher.Close() }()

	for _, i := range pending {
		name := secretVersionName(cfg.GCPProject, targets[i].secret)
		value, err := fetcher.Fetch(ctx, name)
		if err != nil {
			slog.Warn("Failed to read secret", "secret", targets[i].secret, "error", err)
			continue
		}
		*targets[i].value = value
		slog.Debug("Loaded secret", "secret", targets[i].secret)
	}
}
