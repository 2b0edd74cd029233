// Package main provides a local CLI for the thumbnail pipeline: replay an S3
// event file through the same handler the Lambda runs, render a single
// thumbnail from disk, or preview the key a source object maps to.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/s3-thumbnail-notifier/internal/config"
	"github.com/fpang/s3-thumbnail-notifier/internal/lambdaboot"
	"github.com/fpang/s3-thumbnail-notifier/internal/logging"
	"github.com/fpang/s3-thumbnail-notifier/internal/notify"
	"github.com/fpang/s3-thumbnail-notifier/internal/thumbkey"
	"github.com/fpang/s3-thumbnail-notifier/internal/thumbnail"
)

var version = "dev"

// CLI flags
var (
	envFileFlag string
	eventFlag   string
	dryRunFlag  bool
	inFlag      string
	outFlag     string
	widthFlag   int
	heightFlag  int
	qualityFlag int
	pixelsFlag  int
)

var rootCmd = &cobra.Command{
	Use:   "thumbnail-cli",
	Short: "Run the S3 thumbnail pipeline locally",
	Long: `thumbnail-cli exercises the thumbnail pipeline outside Lambda.

Configuration is read from the environment, after loading an optional .env
file. Run "thumbnail-cli config" to list every variable.

Examples:
  thumbnail-cli process --event cmd/thumbnail-cli/testdata/put-event.json
  thumbnail-cli process --event event.json --dry-run
  thumbnail-cli render --in photo.png --out thumb.jpg --width 320
  thumbnail-cli key "uploads/2026/IMG_0042.HEIC.png"`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if err := godotenv.Load(envFileFlag); err != nil && cmd.Flags().Changed("env-file") {
			fmt.Fprintf(os.Stderr, "warning: %v\n", err)
		}
		logging.Init()
	},
}

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Replay an S3 event JSON file through the handler",
	Long: `Replay an S3 event JSON file through the same handler the Lambda runs.

With --dry-run, notifications are logged instead of published and no
notification channel needs to be configured.`,
	Args:  cobra.NoArgs,
	RunE:  runProcess,
}

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Generate one thumbnail from a local image",
	Args:  cobra.NoArgs,
	RunE:  runRender,
}

var keyCmd = &cobra.Command{
	Use:   "key <source-key>",
	Short: "Print the thumbnail key derived from a source key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := thumbkey.Derive(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), key)
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "List supported environment variables",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), config.Usage())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFileFlag, "env-file", ".env", "Environment file to load before reading configuration")

	processCmd.Flags().StringVarP(&eventFlag, "event", "e", "", "Path to an S3 event notification JSON file")
	processCmd.Flags().BoolVar(&dryRunFlag, "dry-run", false, "Log notifications instead of publishing them")
	_ = processCmd.MarkFlagRequired("event")

	renderCmd.Flags().StringVarP(&inFlag, "in", "i", "", "Source image path")
	renderCmd.Flags().StringVarP(&outFlag, "out", "o", "", "Output JPEG path")
	renderCmd.Flags().IntVar(&widthFlag, "width", thumbnail.DefaultMaxWidth, "Maximum thumbnail width")
	renderCmd.Flags().IntVar(&heightFlag, "height", thumbnail.DefaultMaxHeight, "Maximum thumbnail height")
	renderCmd.Flags().IntVarP(&qualityFlag, "quality", "q", thumbnail.DefaultQuality, "JPEG quality (1-100)")
	renderCmd.Flags().IntVar(&pixelsFlag, "max-pixels", thumbnail.DefaultMaxPixels, "Largest source image (width*height) to decode")
	_ = renderCmd.MarkFlagRequired("in")
	_ = renderCmd.MarkFlagRequired("out")

	rootCmd.AddCommand(processCmd, renderCmd, keyCmd, configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runProcess(cmd *cobra.Command, args []string) error {
	raw, err := os.ReadFile(eventFlag)
	if err != nil {
		return fmt.Errorf("read event: %w", err)
	}

	opts := lambdaboot.Options{Name: "thumbnail-cli", Version: version}
	if dryRunFlag {
		opts.Publisher = notify.LogPublisher{}
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, cfgErr := config.Load()
	boot := lambdaboot.Build(ctx, cfg, cfgErr, opts)
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := boot.Shutdown(sctx); err != nil {
			log.Warn().Err(err).Msg("Tracing shutdown failed")
		}
	}()

	resp, err := boot.Handler.Handle(ctx, json.RawMessage(raw))
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(resp); err != nil {
		return err
	}
	if resp.StatusCode != 200 {
		return fmt.Errorf("handler returned status %d", resp.StatusCode)
	}
	return nil
}

func runRender(cmd *cobra.Command, args []string) error {
	tr, err := thumbnail.New(
		thumbnail.WithBounds(widthFlag, heightFlag),
		thumbnail.WithQuality(qualityFlag),
		thumbnail.WithMaxPixels(pixelsFlag),
	)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(inFlag)
	if err != nil {
		return fmt.Errorf("read source: %w", err)
	}

	start := time.Now()
	res, err := tr.Transform(data)
	if err != nil {
		return err
	}
	if err := os.WriteFile(outFlag, res.Data, 0o644); err != nil {
		return fmt.Errorf("write thumbnail: %w", err)
	}

	log.Info().
		Str("format", res.Format).
		Str("colorMode", string(res.ColorMode)).
		Str("camera", res.Camera.String()).
		Int("sourceWidth", res.SourceWidth).
		Int("sourceHeight", res.SourceHeight).
		Int("width", res.Width).
		Int("height", res.Height).
		Int("sourceBytes", len(data)).
		Int("thumbnailBytes", len(res.Data)).
		Dur("duration", time.Since(start)).
		Msg("Thumbnail written")
	fmt.Fprintln(cmd.OutOrStdout(), outFlag)
	return nil
}
