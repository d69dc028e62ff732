package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-cardsense/pkg/camera"
	"github.com/teslashibe/go-cardsense/pkg/cards"
	"github.com/teslashibe/go-cardsense/pkg/detection"
	"github.com/teslashibe/go-cardsense/pkg/detection/yolo"
	"github.com/teslashibe/go-cardsense/pkg/recognition"
)

func newDetectCommand(ctx *commandContext) *cobra.Command {
	var modelPath string
	var threshold float64

	cmd := &cobra.Command{
		Use:   "detect <image.jpg>",
		Short: "Run the detector on a JPEG and show matched cards",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if modelPath == "" {
				modelPath = cfg.Detector.ModelPath
			}
			if !cmd.Flags().Changed("threshold") {
				threshold = cfg.Session.ConfidenceThreshold
			}

			table, err := cards.Load(cfg.Cards.Database)
			if err != nil {
				return err
			}
			frame, err := readFrame(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			ycfg := yolo.DefaultConfig()
			ycfg.ModelPath = modelPath
			ycfg.ConfidenceThresh = float32(cfg.Detector.MinConfidence)
			ycfg.NMSThresh = float32(cfg.Detector.NMSThreshold)
			ycfg.InputWidth, ycfg.InputHeight = cfg.Detector.InputSize, cfg.Detector.InputSize

			results, err := detectFrame(cmd.Context(), yolo.Loader(ycfg), table, frame, cfg.Detector.MinConfidence)
			if err != nil {
				return err
			}
			printDetections(cmd.OutOrStdout(), results, threshold)
			return nil
		},
	}

	cmd.Flags().StringVar(&modelPath, "model", "", "ONNX model path (overrides detector.model_path)")
	cmd.Flags().Float64Var(&threshold, "threshold", 0.6, "Confidence threshold for the narrated card")
	return cmd
}

func readFrame(ctx context.Context, path string) (camera.Frame, error) {
	src, err := camera.NewStaticFile(path)
	if err != nil {
		return camera.Frame{}, err
	}
	defer src.Close()
	if err := src.Open(ctx, camera.DefaultConfig()); err != nil {
		return camera.Frame{}, err
	}
	return src.CaptureFrame(ctx)
}

// detectFrame loads the model, runs one detection and matches the results.
func detectFrame(ctx context.Context, loader detection.Loader, table *cards.Table, frame camera.Frame, minConfidence float64) ([]detection.Result, error) {
	adapter := detection.NewAdapter(loader,
		detection.WithMinConfidence(minConfidence),
		detection.WithLogger(slog.Default()),
	)
	svc := recognition.New(adapter, recognition.WithLogger(slog.Default()))
	svc.LoadCardDatabase(table)
	if err := svc.Initialize(ctx); err != nil {
		return nil, err
	}
	defer svc.Dispose()
	return svc.Detect(ctx, frame)
}

func printDetections(out io.Writer, results []detection.Result, threshold float64) {
	if len(results) == 0 {
		fmt.Fprintln(out, "No objects detected.")
		return
	}

	rows := make([][]string, 0, len(results))
	for _, r := range results {
		text := r.NarrationText
		if text == "" {
			text = "-"
		}
		rows = append(rows, []string{
			r.Label,
			fmt.Sprintf("%.2f", r.Confidence),
			fmt.Sprintf("%.2f,%.2f %.2fx%.2f", r.Box.X, r.Box.Y, r.Box.W, r.Box.H),
			text,
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Label", "Confidence", "Box", "Card"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignRight, alignLeft},
	))

	if best, ok := cards.Select(results, threshold); ok {
		fmt.Fprintf(out, "Narrate: %s\n", best.NarrationText)
	} else {
		fmt.Fprintf(out, "No card above %.2f.\n", threshold)
	}
}
