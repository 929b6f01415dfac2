//go:build !opus
// +build !opus

package capture

import (
	"context"
	"errors"
)

// DiscordSampleRate is the only rate Discord voice delivers.
const DiscordSampleRate = 48000

// ErrNoOpus is returned by the Discord source in builds without libopus.
var ErrNoOpus = errors.New("discord capture requires a build with the opus tag")

// Discord is unavailable without the opus build tag; Open always fails.
type Discord struct {
	Token     string
	GuildID   string
	ChannelID string
}

func NewDiscord(token, guildID, channelID string) *Discord {
	return &Discord{Token: token, GuildID: guildID, ChannelID: channelID}
}

func (d *Discord) Open() error                                { return ErrNoOpus }
func (d *Discord) Run(context.Context, func([]float32)) error { return ErrNoOpus }
func (d *Discord) Close() error                               { return nil }
