package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/browser"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"reelcast/internal/credential"
	"reelcast/pkg/config"
)

const (
	callbackAddr = "localhost:8085"
	envFile      = ".env"
)

var authSave bool

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Obtain a YouTube refresh token",
	Long: `Run the browser OAuth consent flow with the client id and secret from .env
and print the refresh token for YT_REFRESH_TOKEN.`,
	RunE: runAuth,
}

var authStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check that the configured refresh token still works",
	RunE:  runAuthStatus,
}

func init() {
	authCmd.Flags().BoolVar(&authSave, "save", false, "Write the refresh token to .env")
	authCmd.AddCommand(authStatusCmd)
	rootCmd.AddCommand(authCmd)
}

func runAuth(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := config.Load(ctx)
	if err != nil {
		return &exitError{code: 2, err: err}
	}

	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return &exitError{code: 2, err: errors.New("YT_CLIENT_ID and YT_CLIENT_SECRET must be set in .env")}
	}

	token, err := runYouTubeAuth(ctx, cfg.ClientID, cfg.ClientSecret)
	if err != nil {
		return err
	}

	fmt.Println(successStyle.Render("✓ YouTube authentication complete"))
	fmt.Println(infoStyle.Render("YT_REFRESH_TOKEN=" + token.RefreshToken))

	if authSave {
		if err := saveEnv(map[string]string{"YT_REFRESH_TOKEN": token.RefreshToken}); err != nil {
			return err
		}
		fmt.Println(successStyle.Render("✓ Saved refresh token to " + envFile))
	}

	return nil
}

func runAuthStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := config.Load(ctx)
	if err != nil {
		return &exitError{code: 2, err: err}
	}
	if err := cfg.Validate(); err != nil {
		return &exitError{code: 2, err: err}
	}

	fmt.Println(infoStyle.Render("\nYouTube credentials:\n"))

	err = runWithSpinner("Refreshing access token", func() error {
		_, err := verifyRefreshToken(ctx, cfg)
		return err
	})
	if err != nil {
		fmt.Println(infoStyle.Render("  Run: reelcast auth --save"))
		return &exitError{code: 1, err: err}
	}

	fmt.Println(successStyle.Render("✓ Refresh token is valid"))
	if cfg.GCSEnabled() {
		fmt.Println(infoStyle.Render("○ GCS bucket: " + cfg.GCS.Bucket))
	}
	if cfg.TelegramEnabled() {
		fmt.Println(successStyle.Render("✓ Telegram: notifications enabled"))
	} else {
		fmt.Println(infoStyle.Render("○ Telegram: not configured (optional)"))
	}
	return nil
}

func verifyRefreshToken(ctx context.Context, cfg *config.Config) (string, error) {
	cred := &credential.Credential{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RefreshToken: cfg.RefreshToken,
		TokenURL:     cfg.Upload.TokenURL,
	}
	provider := credential.NewProvider(&http.Client{Timeout: cfg.Upload.Timeout}, nil)
	return provider.AccessToken(ctx, cred)
}

func runYouTubeAuth(ctx context.Context, clientID, clientSecret string) (*oauth2.Token, error) {
	oauthConfig := &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       credential.Scopes,
		RedirectURL:  "http://" + callbackAddr + "/callback",
	}

	state := oauth2.GenerateVerifier()
	verifier := oauth2.GenerateVerifier()

	codeChan := make(chan string, 1)
	errChan := make(chan error, 1)

	listener, err := net.Listen("tcp", callbackAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to start callback server: %w", err)
	}

	server := &http.Server{
		ReadHeaderTimeout: 10 * time.Second,
	}

	server.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/callback" {
			http.NotFound(w, r)
			return
		}

		if r.URL.Query().Get("state") != state {
			http.Error(w, "state mismatch", http.StatusBadRequest)
			return
		}

		code := r.URL.Query().Get("code")
		if code == "" {
			select {
			case errChan <- fmt.Errorf("no code in callback: %s", r.URL.Query().Get("error")):
			default:
			}
			_, _ = fmt.Fprintf(w, "<html><body><h1>Error</h1><p>No authorization code received.</p></body></html>")
			return
		}

		select {
		case codeChan <- code:
		default:
		}
		_, _ = fmt.Fprintf(w, "<html><body><h1>Success!</h1><p>You can close this window and return to the terminal.</p></body></html>")
	})

	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)
	}()

	authURL := oauthConfig.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.ApprovalForce,
		oauth2.S256ChallengeOption(verifier),
	)
	fmt.Println(infoStyle.Render("\nOpening browser for YouTube authentication..."))
	fmt.Println(infoStyle.Render("If browser doesn't open, visit:\n" + authURL))

	_ = browser.OpenURL(authURL)

	fmt.Println(infoStyle.Render("\nWaiting for authentication..."))

	select {
	case code := <-codeChan:
		token, err := oauthConfig.Exchange(ctx, code, oauth2.VerifierOption(verifier))
		if err != nil {
			return nil, fmt.Errorf("failed to exchange code: %w", err)
		}
		if token.RefreshToken == "" {
			return nil, errors.New("no refresh token returned; revoke the app's access and retry")
		}
		return token, nil

	case err := <-errChan:
		return nil, err

	case <-ctx.Done():
		return nil, ctx.Err()

	case <-time.After(5 * time.Minute):
		return nil, fmt.Errorf("authentication timed out")
	}
}

// saveEnv merges values into the .env file, keeping unrelated keys.
func saveEnv(values map[string]string) error {
	env := map[string]string{}
	if _, err := os.Stat(envFile); err == nil {
		existing, err := godotenv.Read(envFile)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", envFile, err)
		}
		env = existing
	}

	for k, v := range values {
		if v != "" {
			env[k] = v
		}
	}

	if err := godotenv.Write(env, envFile); err != nil {
		return fmt.Errorf("failed to write %s: %w", envFile, err)
	}
	return os.Chmod(envFile, 0600)
}
