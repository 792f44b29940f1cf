package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/oauth2"

	"reelcast/internal/upload"
)

const DefaultTokenURL = "https://oauth2.googleapis.com/token"

var Scopes = []string{
	"https://www.googleapis.com/auth/youtube.upload",
}

// Credential holds the long-lived refresh credential for one run. The access
// token is set once by a successful refresh and never persisted.
type Credential struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	TokenURL     string

	token *oauth2.Token
}

func (c *Credential) Validate() error {
	var missing []string
	if strings.TrimSpace(c.ClientID) == "" {
		missing = append(missing, "client id")
	}
	if strings.TrimSpace(c.ClientSecret) == "" {
		missing = append(missing, "client secret")
	}
	if strings.TrimSpace(c.RefreshToken) == "" {
		missing = append(missing, "refresh token")
	}
	if len(missing) > 0 {
		return &upload.Error{
			Kind:    upload.KindConfig,
			Message: "missing " + strings.Join(missing, ", "),
		}
	}
	return nil
}

func (c *Credential) Token() *oauth2.Token {
	return c.token
}

func (c *Credential) config() *oauth2.Config {
	tokenURL := c.TokenURL
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL: tokenURL,
			// Credentials go in the POST body so a rejection costs exactly
			// one request instead of auto-detect's two.
			AuthStyle: oauth2.AuthStyleInParams,
		},
		Scopes: Scopes,
	}
}

type Provider struct {
	httpClient *http.Client
	logger     *slog.Logger
}

func NewProvider(httpClient *http.Client, logger *slog.Logger) *Provider {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{httpClient: httpClient, logger: logger}
}

// AccessToken exchanges the refresh token for a bearer token. Missing
// settings fail before any request is made; a rejected exchange is not
// retried.
func (p *Provider) AccessToken(ctx context.Context, cred *Credential) (string, error) {
	if err := cred.Validate(); err != nil {
		return "", err
	}
	if cred.token != nil {
		return cred.token.AccessToken, nil
	}

	cfg := cred.config()
	p.logger.Debug("refreshing access token", slog.String("token_url", cfg.Endpoint.TokenURL))

	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	token, err := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: cred.RefreshToken}).Token()
	if err != nil {
		return "", authError(err)
	}
	if token.AccessToken == "" {
		return "", &upload.Error{
			Kind:    upload.KindAuth,
			Message: "token endpoint returned no access token",
		}
	}

	cred.token = token
	p.logger.Debug("access token obtained", slog.Time("expiry", token.Expiry))

	return token.AccessToken, nil
}

func authError(err error) error {
	uerr := &upload.Error{
		Kind:    upload.KindAuth,
		Message: "token refresh failed",
		Err:     err,
	}

	var retrieveErr *oauth2.RetrieveError
	if !errors.As(err, &retrieveErr) {
		return uerr
	}

	if retrieveErr.Response != nil {
		uerr.Status = retrieveErr.Response.StatusCode
	}
	switch {
	case retrieveErr.ErrorDescription != "":
		uerr.Message = fmt.Sprintf("token refresh rejected: %s (%s)", retrieveErr.ErrorDescription, retrieveErr.ErrorCode)
	case retrieveErr.ErrorCode != "":
		uerr.Message = fmt.Sprintf("token refresh rejected: %s", retrieveErr.ErrorCode)
	default:
		uerr.Message = "token refresh rejected"
	}

	return uerr
}
