package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-cardsense/pkg/app"
	"github.com/teslashibe/go-cardsense/pkg/audioio"
	"github.com/teslashibe/go-cardsense/pkg/narration"
)

func newSayCommand(ctx *commandContext) *cobra.Command {
	var volume, rate float64

	cmd := &cobra.Command{
		Use:   "say <text>",
		Short: "Speak text through the configured speech provider",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("volume") {
				volume = cfg.TTS.Volume
			}
			logger := slog.Default()

			provider, err := app.NewSpeechProvider(cfg.TTS, logger)
			if err != nil {
				return err
			}
			defer provider.Close()

			sink, err := audioio.NewSink(app.AudioConfig(cfg.Audio), logger)
			if err != nil {
				return err
			}
			defer sink.Close()

			queue := narration.NewQueue(narration.NewTTSChannel(provider, sink, logger), narration.WithLogger(logger))
			defer queue.Close()

			text := strings.Join(args, " ")
			req, err := queue.Speak(cmd.Context(), text, narration.Options{Volume: volume, Rate: rate})
			if err != nil {
				return err
			}
			if err := req.Wait(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Spoke %d characters via %s.\n", len([]rune(text)), provider.Name())
			return nil
		},
	}

	cmd.Flags().Float64Var(&volume, "volume", 1.0, "Speech volume in [0, 1]")
	cmd.Flags().Float64Var(&rate, "rate", 0, "Speaking rate multiplier (0 keeps the configured speed)")
	return cmd
}
