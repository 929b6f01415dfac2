package voice

import (
	"bytes"
	"encoding/binary"
	"math"
)

const wavHeaderSize = 44

// wavHeader is the canonical 44-byte RIFF/WAVE header for integer PCM.
type wavHeader struct {
	RIFF          [4]byte
	RIFFSize      uint32 // file size - 8
	WAVE          [4]byte
	Fmt           [4]byte
	FmtSize       uint32 // 16 for PCM
	AudioFormat   uint16 // 1 = PCM
	Channels      uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Data          [4]byte
	DataSize      uint32
}

func newWAVHeader(dataLen, sampleRate, channels, bitsPerSample int) wavHeader {
	frame := channels * bitsPerSample / 8
	return wavHeader{
		RIFF:          [4]byte{'R', 'I', 'F', 'F'},
		RIFFSize:      uint32(wavHeaderSize - 8 + dataLen),
		WAVE:          [4]byte{'W', 'A', 'V', 'E'},
		Fmt:           [4]byte{'f', 'm', 't', ' '},
		FmtSize:       16,
		AudioFormat:   1,
		Channels:      uint16(channels),
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * frame),
		BlockAlign:    uint16(frame),
		BitsPerSample: uint16(bitsPerSample),
		Data:          [4]byte{'d', 'a', 't', 'a'},
		DataSize:      uint32(dataLen),
	}
}

// buildWAV prefixes pcm with a header describing it.
func buildWAV(pcm []byte, sampleRate, channels, bitsPerSample int) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+len(pcm)))
	// fixed-size struct; writes to a bytes.Buffer cannot fail
	_ = binary.Write(buf, binary.LittleEndian, newWAVHeader(len(pcm), sampleRate, channels, bitsPerSample))
	buf.Write(pcm)
	return buf.Bytes()
}

// EncodeWAV renders mono float samples as a 16-bit PCM WAV. Samples are
// clamped to [-1,1] and scaled by 32767 with truncation toward zero; NaN
// encodes as silence. The result is always 44+2*len(samples) bytes.
func EncodeWAV(samples []float32, sampleRate int) []byte {
	pcm := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[2*i:], uint16(toPCM16(s)))
	}
	return buildWAV(pcm, sampleRate, 1, 16)
}

func toPCM16(s float32) int16 {
	switch {
	case math.IsNaN(float64(s)):
		return 0
	case s > 1:
		s = 1
	case s < -1:
		s = -1
	}
	return int16(s * 32767)
}
