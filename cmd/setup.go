package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/huh/spinner"
	"github.com/spf13/cobra"

	"reelcast/pkg/config"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Interactive setup wizard for Reelcast",
	Long:  `Collect YouTube OAuth credentials, verify them, and write them to .env.`,
	RunE:  runSetup,
}

func init() {
	rootCmd.AddCommand(setupCmd)
}

func runSetup(cmd *cobra.Command, args []string) error {
	fmt.Println(titleStyle.Render("🦚 Reelcast Setup"))

	env := make(map[string]string)

	steps := []struct {
		name string
		fn   func() error
	}{
		{"Creating directories", createDirectories},
		{"Configuring YouTube OAuth", func() error { return configureYouTube(cmd, env) }},
		{"Configuring Cloud Storage", func() error { return configureGCS(env) }},
		{"Configuring Telegram", func() error { return configureTelegram(env) }},
		{"Writing environment", func() error { return writeEnvFile(env) }},
	}

	for _, step := range steps {
		if err := step.fn(); err != nil {
			return fmt.Errorf("%s: %w", step.name, err)
		}
	}

	printNextSteps()
	return nil
}

func createDirectories() error {
	dirs := []string{"output", "output/uploads"}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	fmt.Println(successStyle.Render("✓ Created directories"))
	return nil
}

func configureYouTube(cmd *cobra.Command, env map[string]string) error {
	fmt.Println(infoStyle.Render(`
To create OAuth credentials:
1. Go to https://console.cloud.google.com/apis/credentials
2. Click "Create Credentials" → "OAuth client ID"
3. Choose "Desktop app" as application type
4. Copy the Client ID and Client Secret
`))

	var clientID, clientSecret, refreshToken string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("YouTube Client ID").
				Value(&clientID).
				Validate(required("Client ID")),
			huh.NewInput().
				Title("YouTube Client Secret").
				EchoMode(huh.EchoModePassword).
				Value(&clientSecret).
				Validate(required("Client Secret")),
			huh.NewInput().
				Title("Refresh Token").
				Description("Leave empty to sign in with the browser").
				EchoMode(huh.EchoModePassword).
				Value(&refreshToken),
		),
	)

	if err := form.Run(); err != nil {
		return err
	}

	clientID = strings.TrimSpace(clientID)
	clientSecret = strings.TrimSpace(clientSecret)
	refreshToken = strings.TrimSpace(refreshToken)

	if refreshToken == "" {
		token, err := runYouTubeAuth(cmd.Context(), clientID, clientSecret)
		if err != nil {
			fmt.Println(warnStyle.Render(fmt.Sprintf("OAuth flow failed: %v", err)))
			fmt.Println(infoStyle.Render("You can retry later with: reelcast auth --save"))
		} else {
			refreshToken = token.RefreshToken
		}
	}

	env["YT_CLIENT_ID"] = clientID
	env["YT_CLIENT_SECRET"] = clientSecret
	env["YT_REFRESH_TOKEN"] = refreshToken

	if refreshToken == "" {
		return nil
	}

	cfg, err := config.Load(cmd.Context())
	if err != nil {
		return err
	}
	cfg.ClientID = clientID
	cfg.ClientSecret = clientSecret
	cfg.RefreshToken = refreshToken

	err = runWithSpinner("Verifying refresh token", func() error {
		_, err := verifyRefreshToken(cmd.Context(), cfg)
		return err
	})
	if err != nil {
		fmt.Println(warnStyle.Render(fmt.Sprintf("Refresh token check failed: %v", err)))
	}

	return nil
}

func configureGCS(env map[string]string) error {
	var setup bool
	if err := huh.NewConfirm().
		Title("Read reels from Cloud Storage?").
		Description("Upload gs://bucket/object videos and read captions from a bucket (optional)").
		Value(&setup).
		Run(); err != nil {
		return err
	}

	if !setup {
		return nil
	}

	var bucket, project string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("GCS Bucket").
				Value(&bucket).
				Validate(required("Bucket")),
			huh.NewInput().
				Title("Google Cloud Project").
				Description("Needed for Secret Manager lookups").
				Value(&project),
		),
	)

	if err := form.Run(); err != nil {
		return err
	}

	env["GCS_BUCKET"] = strings.TrimSpace(bucket)
	if project = strings.TrimSpace(project); project != "" {
		env["GOOGLE_CLOUD_PROJECT"] = project
	}
	return nil
}

func configureTelegram(env map[string]string) error {
	var setup bool
	if err := huh.NewConfirm().
		Title("Setup Telegram bot?").
		Description("Get a message when an upload finishes or fails (optional)").
		Value(&setup).
		Run(); err != nil {
		return err
	}

	if !setup {
		return nil
	}

	var token, chatID string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Telegram Bot Token").
				Description("Get from @BotFather → https://t.me/BotFather").
				EchoMode(huh.EchoModePassword).
				Value(&token).
				Validate(required("Bot token")),
			huh.NewInput().
				Title("Chat ID").
				Description("Numeric id of the chat or channel to notify").
				Value(&chatID).
				Validate(func(s string) error {
					if _, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err != nil {
						return fmt.Errorf("chat id must be a number")
					}
					return nil
				}),
		),
	)

	if err := form.Run(); err != nil {
		return err
	}

	env["TELEGRAM_BOT_TOKEN"] = strings.TrimSpace(token)
	env["TELEGRAM_CHAT_ID"] = strings.TrimSpace(chatID)
	return nil
}

func writeEnvFile(env map[string]string) error {
	if _, err := os.Stat(envFile); err == nil {
		var overwrite bool
		if err := huh.NewConfirm().
			Title("Found existing .env file").
			Description("Update it with these values?").
			Value(&overwrite).
			Run(); err != nil {
			return err
		}
		if !overwrite {
			fmt.Println(infoStyle.Render("Kept existing .env"))
			return nil
		}
	}

	if err := saveEnv(env); err != nil {
		return err
	}

	fmt.Println(successStyle.Render("✓ Wrote .env file"))
	return nil
}

func printNextSteps() {
	fmt.Println()
	fmt.Println(titleStyle.Render("Next steps:"))
	fmt.Println("  1. Render a reel to: output/reel.mp4")
	fmt.Println("  2. Put today's caption in: output/krishna_line.txt")
	fmt.Println("  3. Run: reelcast upload")
}

func required(field string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", field)
		}
		return nil
	}
}

func runWithSpinner(title string, fn func() error) error {
	var err error
	_ = spinner.New().
		Title(title).
		Action(func() { err = fn() }).
		Run()
	if err != nil {
		return err
	}
	fmt.Println(successStyle.Render("✓ " + title))
	return nil
}
