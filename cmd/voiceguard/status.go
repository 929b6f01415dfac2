package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/spf13/cobra"

	"github.com/voiceguard-lab/internal/mcp"
)

func newStatusCmd() *cobra.Command {
	var (
		url     string
		clip    string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Query a running stream over its MCP endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			c, err := mcp.Dial(ctx, url, version)
			if err != nil {
				return err
			}
			defer c.Close()

			var out any
			if clip != "" {
				out, err = c.AnalyzeClip(ctx, clip)
			} else {
				out, err = c.Status(ctx)
			}
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&url, "mcp-url", "ws://127.0.0.1:9464/mcp/ws", "MCP endpoint of a running stream")
	fl.StringVar(&clip, "clip", "", "ask the stream to classify this WAV path instead of reporting status")
	fl.DurationVar(&timeout, "timeout", 30*time.Second, "overall request timeout")
	return cmd
}
