package cmd

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"reelcast/internal/app"
	"reelcast/pkg/config"
)

var (
	uploadCaption     string
	uploadVisibility  string
	uploadChunkSize   int64
	uploadTimeout     time.Duration
	uploadMadeForKids bool
	uploadDryRun      bool
)

var uploadCmd = &cobra.Command{
	Use:   "upload [video-path]",
	Short: "Upload a reel to YouTube",
	Long: `Upload a rendered reel with a resumable upload session. The path defaults
to output/reel.mp4 and may be a gs://bucket/object reference when a GCS bucket
is configured.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runUpload,
}

func init() {
	uploadCmd.Flags().StringVarP(&uploadCaption, "caption", "c", "", "Caption line to use instead of the cached one")
	uploadCmd.Flags().StringVar(&uploadVisibility, "visibility", "", "public, unlisted or private")
	uploadCmd.Flags().Int64Var(&uploadChunkSize, "chunk-size", 0, "Chunk size in bytes (multiple of 256 KiB)")
	uploadCmd.Flags().DurationVar(&uploadTimeout, "timeout", 0, "Per-request timeout")
	uploadCmd.Flags().BoolVar(&uploadMadeForKids, "made-for-kids", true, "Declare the video as made for kids")
	uploadCmd.Flags().BoolVar(&uploadDryRun, "dry-run", false, "Print the metadata without uploading")
	rootCmd.AddCommand(uploadCmd)
}

func runUpload(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := config.Load(ctx)
	if err != nil {
		return &exitError{code: 2, err: err}
	}
	applyUploadFlags(cmd, cfg)

	if !uploadDryRun {
		if err := cfg.Validate(); err != nil {
			return &exitError{code: 2, err: err}
		}
	}

	var path string
	if len(args) > 0 {
		path = args[0]
	}

	reporter := newProgressReporter(cmd.OutOrStdout())
	result, err := app.BuildService(ctx, cfg, app.BuildOptions{
		Caption:  uploadCaption,
		Progress: reporter.report,
	})
	if err != nil {
		return &exitError{code: 1, err: err}
	}
	defer func() { _ = result.Close() }()

	if uploadDryRun {
		meta, err := result.Service.Preview(ctx, path)
		if err != nil {
			return &exitError{code: 1, err: err}
		}
		printMetadata(cmd.OutOrStdout(), meta)
		return nil
	}

	if path == "" {
		path = cfg.Upload.VideoPath
	}
	reporter.start(path)

	outcome := result.Service.Upload(ctx, path)
	reporter.finish(outcome)

	if code := app.ExitCode(outcome); code != 0 {
		err := outcome.Err
		if err == nil {
			err = errors.New("upload returned no video id")
		}
		return &exitError{code: code, err: err, reported: true}
	}
	return nil
}

func applyUploadFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("visibility") {
		cfg.Upload.Visibility = uploadVisibility
	}
	if flags.Changed("chunk-size") {
		cfg.Upload.ChunkSize = uploadChunkSize
	}
	if flags.Changed("timeout") {
		cfg.Upload.Timeout = uploadTimeout
	}
	if flags.Changed("made-for-kids") {
		kids := uploadMadeForKids
		cfg.Upload.MadeForKids = &kids
	}
}
