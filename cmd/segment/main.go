// Command segment sends one image to a Grounded-SAM service and prints the
// decoded result. It is an example, not a stable interface.
package main

import (
	"fmt"
	"image/png"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/example/groundedsam/internal/config"
	"github.com/example/groundedsam/internal/groundedsam"
	"github.com/example/groundedsam/internal/logging"
)

type segmentFlags struct {
	endpoint     string
	image        string
	mask         string
	prompt       string
	taskType     string
	inpaint      string
	inpaintMode  string
	scribbleMode string
	boxThreshold float64
	textThresh   float64
	iouThreshold float64
	out          string
	verbose      bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var f segmentFlags

	cmd := &cobra.Command{
		Use:   "segment --image PATH --prompt TEXT",
		Short: "Run one Grounded-SAM call and print the decoded masks",
		Example: `  segment --image street.jpg --prompt "blue tape"
  segment --image room.png --mask scribble.png --task scribble --scribble-mode split
  segment --image desk.jpg --prompt cup --task inpainting --inpaint-prompt "a plant" --inpaint-mode first`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSegment(cmd, f)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.endpoint, "endpoint", "", "service base URL (default $GROUNDED_SAM_ENDPOINT)")
	flags.StringVar(&f.image, "image", "", "input image path")
	flags.StringVar(&f.mask, "mask", "", "optional mask image path")
	flags.StringVar(&f.prompt, "prompt", "", "text prompt")
	flags.StringVar(&f.taskType, "task", string(groundedsam.TaskSegmentation), "task type")
	flags.StringVar(&f.inpaint, "inpaint-prompt", "", "inpainting prompt")
	flags.StringVar(&f.inpaintMode, "inpaint-mode", "", "inpaint mode (merge or first)")
	flags.StringVar(&f.scribbleMode, "scribble-mode", "", "scribble mode (merge or split)")
	flags.Float64Var(&f.boxThreshold, "box-threshold", groundedsam.DefaultBoxThreshold, "box confidence threshold")
	flags.Float64Var(&f.textThresh, "text-threshold", groundedsam.DefaultTextThreshold, "text confidence threshold")
	flags.Float64Var(&f.iouThreshold, "iou-threshold", groundedsam.DefaultIoUThreshold, "IoU threshold")
	flags.StringVar(&f.out, "out", "", "write the full image as PNG to this path")
	flags.BoolVarP(&f.verbose, "verbose", "v", false, "log requests")
	_ = cmd.MarkFlagRequired("image")

	return cmd
}

func runSegment(cmd *cobra.Command, f segmentFlags) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	endpoint := f.endpoint
	if endpoint == "" {
		endpoint = cfg.GroundedSAMEndpoint
	}

	opts := []groundedsam.Option{groundedsam.WithTimeout(cfg.GroundedSAMTimeout)}
	if f.verbose {
		logger, err := logging.NewLogger("debug")
		if err != nil {
			return err
		}
		defer logger.Sync() //nolint:errcheck
		opts = append(opts, groundedsam.WithLogger(logger))
	}
	client := groundedsam.New(endpoint, opts...)

	params := groundedsam.Params{
		TextPrompt:   f.prompt,
		TaskType:     groundedsam.TaskTypeOf(f.taskType),
		OpenAIAPIKey: cfg.OpenAIKey(),
	}
	if f.inpaint != "" {
		params.InpaintPrompt = groundedsam.String(f.inpaint)
	}
	if f.inpaintMode != "" {
		params.InpaintMode = groundedsam.InpaintModeOf(f.inpaintMode)
	}
	if f.scribbleMode != "" {
		params.ScribbleMode = groundedsam.ScribbleModeOf(f.scribbleMode)
	}
	flags := cmd.Flags()
	if flags.Changed("box-threshold") {
		params.BoxThreshold = groundedsam.Float(f.boxThreshold)
	}
	if flags.Changed("text-threshold") {
		params.TextThreshold = groundedsam.Float(f.textThresh)
	}
	if flags.Changed("iou-threshold") {
		params.IoUThreshold = groundedsam.Float(f.iouThreshold)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	out, err := client.CallWithFilepath(ctx, f.image, f.mask, params)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	b := out.FullImage.Bounds()
	fmt.Fprintf(w, "full image: %dx%d\n", b.Dx(), b.Dy())
	if out.MaskImage != nil {
		mb := out.MaskImage.Bounds()
		fmt.Fprintf(w, "mask image: %dx%d\n", mb.Dx(), mb.Dy())
	}
	if !out.HasMasks() {
		fmt.Fprintln(w, "masks: none")
	} else {
		fmt.Fprintf(w, "masks: %d\n", len(out.Masks))
		for i, m := range out.Masks {
			fmt.Fprintf(w, "  [%d] dtype=%s shape=%v\n", i, m.DType, m.Shape)
		}
	}

	if f.out != "" {
		file, err := os.Create(f.out)
		if err != nil {
			return err
		}
		defer file.Close()
		if err := png.Encode(file, out.FullImage); err != nil {
			return fmt.Errorf("write %s: %w", f.out, err)
		}
	}
	return nil
}
