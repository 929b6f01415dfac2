package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/voiceguard-lab/internal/capture"
	"github.com/voiceguard-lab/internal/inference"
	"github.com/voiceguard-lab/internal/voice"
)

func newAnalyzeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "analyze <file.wav>",
		Short: "Classify a single recording",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			samples, rate, err := capture.ReadWAVFile(args[0])
			if err != nil {
				return err
			}
			threshold := a.settings.Stream.ClipAIThreshold
			res, err := voice.AnalyzeClip(cmd.Context(), inference.NewClient(a.settings.Inference), samples, rate, threshold)
			if err != nil {
				return fmt.Errorf("analyze %s: %w", args[0], err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(voice.ClipReport{File: args[0], Result: res, Threshold: threshold})
		},
	}
}
