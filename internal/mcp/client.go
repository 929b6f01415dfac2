package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/voiceguard-lab/internal/voice"
)

// Client talks to a voiceguard MCP endpoint over websocket.
type Client struct {
	session *sdk.ClientSession
}

// Dial connects to rawurl. http and https URLs are rewritten to ws and wss.
func Dial(ctx context.Context, rawurl, version string) (*Client, error) {
	u, err := url.Parse(rawurl)
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("mcp: unsupported scheme %q", u.Scheme)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("mcp: dial %s: %w", u.Redacted(), err)
	}
	c := sdk.NewClient(&sdk.Implementation{Name: "voiceguard-cli", Version: version}, nil)
	sess, err := c.Connect(ctx, NewWebSocketTransport(conn), nil)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &Client{session: sess}, nil
}

// Status calls detector_status.
func (c *Client) Status(ctx context.Context) (StatusReport, error) {
	var rep StatusReport
	err := c.call(ctx, ToolStatus, map[string]any{}, &rep)
	return rep, err
}

// AnalyzeClip calls analyze_clip for a path on the server's filesystem.
func (c *Client) AnalyzeClip(ctx context.Context, path string) (voice.ClipReport, error) {
	var rep voice.ClipReport
	err := c.call(ctx, ToolAnalyzeClip, map[string]any{"path": path}, &rep)
	return rep, err
}

func (c *Client) call(ctx context.Context, name string, args map[string]any, out any) error {
	res, err := c.session.CallTool(ctx, &sdk.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		return fmt.Errorf("mcp: %s: %w", name, err)
	}
	text := resultText(res)
	if res.IsError {
		return fmt.Errorf("mcp: %s: %s", name, text)
	}
	if text == "" {
		return fmt.Errorf("mcp: %s: empty result", name)
	}
	return json.Unmarshal([]byte(text), out)
}

func resultText(res *sdk.CallToolResult) string {
	var parts []string
	for _, c := range res.Content {
		if tc, ok := c.(*sdk.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func (c *Client) Close() error {
	if c == nil || c.session == nil {
		return nil
	}
	return c.session.Close()
}
