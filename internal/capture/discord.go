//go:build opus
// +build opus

package capture

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/hraban/opus"

	"github.com/voiceguard-lab/internal/logging"
	"github.com/voiceguard-lab/internal/voice"
)

// DiscordSampleRate is the only rate Discord voice delivers.
const DiscordSampleRate = 48000

// Discord sends 20ms Opus frames.
const frameDuration = 20 * time.Millisecond

var _ voice.Source = (*Discord)(nil)

// Discord joins a voice channel and decodes every speaker's Opus stream.
// Simultaneous speakers are mixed into one mono 48 kHz stream, one 20ms slot
// per tick, so the sample count tracks wall time.
type Discord struct {
	Token     string
	GuildID   string
	ChannelID string

	session  *discordgo.Session
	vc       *discordgo.VoiceConnection
	decoders map[uint32]*opus.Decoder
}

func NewDiscord(token, guildID, channelID string) *Discord {
	return &Discord{Token: token, GuildID: guildID, ChannelID: channelID}
}

func (d *Discord) Open() error {
	if d.Token == "" || d.GuildID == "" || d.ChannelID == "" {
		return errors.New("discord source needs token, guild and channel")
	}
	dg, err := discordgo.New("Bot " + d.Token)
	if err != nil {
		return fmt.Errorf("discordgo.New: %w", err)
	}
	dg.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates
	if err := dg.Open(); err != nil {
		return fmt.Errorf("discord gateway: %w", err)
	}
	// muted, not deafened: we only listen
	vc, err := dg.ChannelVoiceJoin(d.GuildID, d.ChannelID, true, false)
	if err != nil {
		_ = dg.Close()
		return fmt.Errorf("voice join: %w", err)
	}
	vc.AddHandler(func(_ *discordgo.VoiceConnection, su *discordgo.VoiceSpeakingUpdate) {
		logging.Debugw("capture: discord speaking update", "user_id", su.UserID, "ssrc", su.SSRC, "speaking", su.Speaking)
	})
	d.session = dg
	d.vc = vc
	d.decoders = make(map[uint32]*opus.Decoder)
	logging.Infow("capture: joined discord voice", "guild", d.GuildID, "channel", d.ChannelID)
	return nil
}

func (d *Discord) Run(ctx context.Context, sink func([]float32)) error {
	if d.vc == nil {
		return errors.New("discord source not open")
	}
	pcm := make([]int16, DiscordSampleRate/50*3) // up to 60ms frames
	mix := newFrameMixer()
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case pkt, ok := <-d.vc.OpusRecv:
			if !ok {
				return errors.New("discord voice connection closed")
			}
			samples, err := d.decode(pkt, pcm)
			if err != nil {
				logging.Debugw("capture: opus decode error", "ssrc", pkt.SSRC, "err", err)
				continue
			}
			mix.Add(pkt.SSRC, samples)
		case <-ticker.C:
			if out := mix.Mix(); out != nil {
				sink(out)
			}
		}
	}
}

func (d *Discord) decode(pkt *discordgo.Packet, pcm []int16) ([]float32, error) {
	dec, ok := d.decoders[pkt.SSRC]
	if !ok {
		var err error
		dec, err = opus.NewDecoder(DiscordSampleRate, 1)
		if err != nil {
			return nil, err
		}
		d.decoders[pkt.SSRC] = dec
	}
	n, err := dec.Decode(pkt.Opus, pcm)
	if err != nil {
		return nil, err
	}
	out := make([]float32, n)
	for i, s := range pcm[:n] {
		out[i] = float32(s) / 32768
	}
	return out, nil
}

func (d *Discord) Close() error {
	var errs []error
	if d.vc != nil {
		errs = append(errs, d.vc.Disconnect())
		d.vc = nil
	}
	if d.session != nil {
		errs = append(errs, d.session.Close())
		d.session = nil
	}
	return errors.Join(errs...)
}
