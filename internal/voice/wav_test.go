package voice

import (
	"bytes"
	"encoding/binary"
	"math"
	"testing"

	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeWAVHeader(t *testing.T) {
	for _, n := range []int{1, 2, 441, 22050} {
		samples := make([]float32, n)
		for i := range samples {
			samples[i] = float32(i%200)/100 - 1
		}
		b := EncodeWAV(samples, 22050)
		require.Len(t, b, 44+2*n)

		dec := wav.NewDecoder(bytes.NewReader(b))
		require.True(t, dec.IsValidFile(), "n=%d", n)
		assert.Equal(t, uint16(1), dec.WavAudioFormat)
		assert.Equal(t, uint16(1), dec.NumChans)
		assert.Equal(t, uint16(16), dec.BitDepth)
		assert.Equal(t, uint32(22050), dec.SampleRate)

		assert.Equal(t, "RIFF", string(b[0:4]))
		assert.Equal(t, uint32(36+2*n), binary.LittleEndian.Uint32(b[4:8]))
		assert.Equal(t, uint32(44100), binary.LittleEndian.Uint32(b[28:32]))
		assert.Equal(t, uint16(2), binary.LittleEndian.Uint16(b[32:34]))
		assert.Equal(t, "data", string(b[36:40]))
		assert.Equal(t, uint32(2*n), binary.LittleEndian.Uint32(b[40:44]))
	}
}

func TestEncodeWAVSamples(t *testing.T) {
	in := []float32{0, 0.5, -0.5, 1, -1, 2, -2, 0.99999}
	want := []int{0, 16383, -16383, 32767, -32767, 32767, -32767, 32766}

	buf, err := wav.NewDecoder(bytes.NewReader(EncodeWAV(in, 8000))).FullPCMBuffer()
	require.NoError(t, err)
	assert.Equal(t, want, buf.Data)
	assert.Equal(t, 1, buf.Format.NumChannels)
	assert.Equal(t, 8000, buf.Format.SampleRate)
}

func TestEncodeWAVDeterministic(t *testing.T) {
	in := []float32{0.1, -0.2, 0.3}
	assert.Equal(t, EncodeWAV(in, 16000), EncodeWAV(in, 16000))
	assert.Len(t, EncodeWAV(nil, 16000), 44)
}

func TestRMS(t *testing.T) {
	assert.Zero(t, RMS(nil))
	assert.Zero(t, RMS(make([]float32, 100)))
	assert.InDelta(t, 0.5, RMS([]float32{0.5, -0.5, 0.5, -0.5}), 1e-9)
	assert.InDelta(t, math.Sqrt(0.5), RMS([]float32{1, 0, -1, 0}), 1e-9)
}

func TestWAVHeaderSize(t *testing.T) {
	assert.Equal(t, wavHeaderSize, binary.Size(wavHeader{}))
	h := newWAVHeader(10, 48000, 2, 16)
	assert.Equal(t, uint32(192000), h.ByteRate)
	assert.Equal(t, uint16(4), h.BlockAlign)
	assert.Equal(t, uint32(46), h.RIFFSize)
}
