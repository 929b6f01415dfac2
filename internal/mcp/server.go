// Package mcp exposes a running detector as Model Context Protocol tools
// over a websocket, and provides the matching client.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/voiceguard-lab/internal/capture"
	"github.com/voiceguard-lab/internal/detect"
	"github.com/voiceguard-lab/internal/logging"
	"github.com/voiceguard-lab/internal/voice"
)

const (
	ToolStatus      = "detector_status"
	ToolAnalyzeClip = "analyze_clip"
)

// StatusSource is the read-only view of a detector the status tool reports.
type StatusSource interface {
	Status() string
	Running() bool
	History() []detect.Result
}

// Tools selects what the server exposes. A nil Detector or Classifier
// leaves the matching tool unregistered.
type Tools struct {
	Detector      StatusSource
	Classifier    voice.Classifier
	ClipThreshold float64
}

// StatusReport is the detector_status payload.
type StatusReport struct {
	Status  string          `json:"status"`
	Running bool            `json:"running"`
	History []detect.Result `json:"history"`
}

type analyzeArgs struct {
	Path string `json:"path" jsonschema:"path of a PCM WAV file readable by the server"`
}

// NewServer builds an MCP server with the tools t enables.
func NewServer(t Tools, version string) *sdk.Server {
	server := sdk.NewServer(&sdk.Implementation{Name: "voiceguard", Version: version}, nil)
	if t.Detector != nil {
		sdk.AddTool(server, &sdk.Tool{
			Name:        ToolStatus,
			Description: "Current detector status and the most recent chunk results, newest first.",
		}, func(ctx context.Context, _ *sdk.CallToolRequest, _ struct{}) (*sdk.CallToolResult, any, error) {
			rep := StatusReport{Status: t.Detector.Status(), Running: t.Detector.Running(), History: t.Detector.History()}
			return jsonResult(rep)
		})
	}
	if t.Classifier != nil {
		sdk.AddTool(server, &sdk.Tool{
			Name:        ToolAnalyzeClip,
			Description: "Classify a whole WAV recording as AI generated or real voice.",
		}, func(ctx context.Context, _ *sdk.CallToolRequest, args analyzeArgs) (*sdk.CallToolResult, any, error) {
			if args.Path == "" {
				return nil, nil, errors.New("path is required")
			}
			samples, rate, err := capture.ReadWAVFile(args.Path)
			if err != nil {
				return nil, nil, err
			}
			res, err := voice.AnalyzeClip(ctx, t.Classifier, samples, rate, t.ClipThreshold)
			if err != nil {
				return nil, nil, fmt.Errorf("analyze %s: %w", args.Path, err)
			}
			return jsonResult(voice.ClipReport{File: args.Path, Result: res, Threshold: t.ClipThreshold})
		})
	}
	return server
}

func jsonResult(v any) (*sdk.CallToolResult, any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, nil, err
	}
	return &sdk.CallToolResult{Content: []sdk.Content{&sdk.TextContent{Text: string(b)}}}, nil, nil
}

// Handler upgrades each request to a websocket and serves one MCP session
// on it until the client disconnects.
func Handler(server *sdk.Server) http.Handler {
	upgrader := websocket.Upgrader{}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logging.Warnw("mcp: websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
			return
		}
		ss, err := server.Connect(r.Context(), NewWebSocketTransport(conn), nil)
		if err != nil {
			logging.Warnw("mcp: session connect failed", "error", err)
			_ = conn.Close()
			return
		}
		logging.Debugw("mcp: session started", "remote", r.RemoteAddr)
		if err := ss.Wait(); err != nil {
			logging.Debugw("mcp: session ended", "error", err)
		}
	})
}
