// Package capture provides the audio sources a detector can listen to.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/voiceguard-lab/internal/voice"
)

var _ voice.Source = (*WAVFile)(nil)

// WAVFile replays a PCM WAV file as a live source. Only the first channel is
// used and the file's rate must match SampleRate; nothing is resampled.
type WAVFile struct {
	Path       string
	SampleRate int
	// Realtime paces delivery at the file's own rate; otherwise samples are
	// delivered as fast as the sink takes them.
	Realtime bool
	// BlockSize is the number of frames per delivery. Defaults to 1/10 s.
	BlockSize int

	file     *os.File
	dec      *wav.Decoder
	divisor  float32
	channels int
}

func NewWAVFile(path string, sampleRate int, realtime bool) *WAVFile {
	return &WAVFile{Path: path, SampleRate: sampleRate, Realtime: realtime}
}

func (w *WAVFile) Open() error {
	f, err := os.Open(w.Path)
	if err != nil {
		return err
	}
	dec, err := openDecoder(f)
	if err != nil {
		f.Close()
		return fmt.Errorf("%s: %w", w.Path, err)
	}
	if w.SampleRate > 0 && int(dec.SampleRate) != w.SampleRate {
		f.Close()
		return fmt.Errorf("%s: sample rate %d Hz does not match configured %d Hz", w.Path, dec.SampleRate, w.SampleRate)
	}
	divisor, err := audioDivisor(int(dec.BitDepth))
	if err != nil {
		f.Close()
		return err
	}
	w.file = f
	w.dec = dec
	w.divisor = divisor
	w.channels = int(dec.NumChans)
	if w.BlockSize <= 0 {
		w.BlockSize = int(dec.SampleRate) / 10
	}
	return nil
}

func (w *WAVFile) Run(ctx context.Context, sink func([]float32)) error {
	if w.dec == nil {
		return errors.New("wav source not open")
	}
	buf := &audio.IntBuffer{
		Data:   make([]int, w.BlockSize*w.channels),
		Format: &audio.Format{SampleRate: int(w.dec.SampleRate), NumChannels: w.channels},
	}
	blockDur := time.Duration(w.BlockSize) * time.Second / time.Duration(w.dec.SampleRate)
	next := time.Now()
	for {
		if ctx.Err() != nil {
			return nil
		}
		n, err := w.dec.PCMBuffer(buf)
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("decode %s: %w", w.Path, err)
		}
		if n == 0 {
			return nil
		}
		sink(firstChannel(buf.Data[:n], w.channels, w.divisor))

		if w.Realtime {
			next = next.Add(blockDur)
			t := time.NewTimer(time.Until(next))
			select {
			case <-ctx.Done():
				t.Stop()
				return nil
			case <-t.C:
			}
		}
	}
}

func (w *WAVFile) Close() error {
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	w.dec = nil
	return err
}

// ReadWAVFile decodes the first channel of a PCM WAV file and returns it with
// the file's sample rate.
func ReadWAVFile(path string) ([]float32, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()
	dec, err := openDecoder(f)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: %w", path, err)
	}
	divisor, err := audioDivisor(int(dec.BitDepth))
	if err != nil {
		return nil, 0, err
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("decode %s: %w", path, err)
	}
	return firstChannel(buf.Data, int(dec.NumChans), divisor), int(dec.SampleRate), nil
}

func openDecoder(r io.ReadSeeker) (*wav.Decoder, error) {
	dec := wav.NewDecoder(r)
	dec.ReadInfo()
	if !dec.IsValidFile() {
		return nil, errors.New("not a valid WAV file")
	}
	if dec.WavAudioFormat != 1 {
		return nil, fmt.Errorf("unsupported WAV format %d, want PCM", dec.WavAudioFormat)
	}
	return dec, nil
}

func audioDivisor(bitDepth int) (float32, error) {
	switch bitDepth {
	case 16:
		return 32768.0, nil
	case 24:
		return 8388608.0, nil
	case 32:
		return 2147483648.0, nil
	default:
		return 0, fmt.Errorf("unsupported bit depth: %d", bitDepth)
	}
}

func firstChannel(data []int, channels int, divisor float32) []float32 {
	if channels < 1 {
		channels = 1
	}
	out := make([]float32, 0, len(data)/channels)
	for i := 0; i < len(data); i += channels {
		out = append(out, float32(data[i])/divisor)
	}
	return out
}
