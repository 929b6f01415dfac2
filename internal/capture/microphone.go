package capture

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/voiceguard-lab/internal/logging"
	"github.com/voiceguard-lab/internal/voice"
)

var _ voice.Source = (*Microphone)(nil)

// Microphone captures mono signed 16-bit audio from a system input device.
type Microphone struct {
	SampleRate int
	// Device selects an input by name substring; empty means the default.
	Device string

	mctx   *malgo.AllocatedContext
	device *malgo.Device

	mu      sync.Mutex
	sink    func([]float32)
	closing bool
	failed  chan error
}

func NewMicrophone(sampleRate int, device string) *Microphone {
	return &Microphone{SampleRate: sampleRate, Device: device}
}

func (m *Microphone) Open() error {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {
		logging.Debugw("malgo", "message", strings.TrimSpace(msg))
	})
	if err != nil {
		return fmt.Errorf("init audio context: %w", err)
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = 1
	cfg.SampleRate = uint32(m.SampleRate)
	cfg.Alsa.NoMMap = 1
	if m.Device != "" {
		info, err := findDevice(mctx, m.Device)
		if err != nil {
			_ = mctx.Uninit()
			mctx.Free()
			return err
		}
		cfg.Capture.DeviceID = info.ID.Pointer()
	}

	m.failed = make(chan error, 1)
	device, err := malgo.InitDevice(mctx.Context, cfg, malgo.DeviceCallbacks{
		Data: m.onData,
		Stop: m.onStop,
	})
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return fmt.Errorf("init capture device: %w", err)
	}
	if err := checkDeviceRate(m.SampleRate, device.SampleRate()); err != nil {
		device.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		return err
	}
	m.mctx = mctx
	m.device = device
	logging.Infow("capture: microphone opened", "device", m.Device, "sample_rate", m.SampleRate)
	return nil
}

// checkDeviceRate rejects a device that opened at a rate other than the
// requested one; captured samples are not resampled.
func checkDeviceRate(requested int, actual uint32) error {
	if actual != uint32(requested) {
		return fmt.Errorf("capture device runs at %d Hz, configured %d Hz", actual, requested)
	}
	return nil
}

func findDevice(mctx *malgo.AllocatedContext, name string) (*malgo.DeviceInfo, error) {
	devices, err := mctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("enumerate capture devices: %w", err)
	}
	for i := range devices {
		if strings.Contains(strings.ToLower(devices[i].Name()), strings.ToLower(name)) {
			return &devices[i], nil
		}
	}
	return nil, fmt.Errorf("capture device %q not found", name)
}

func (m *Microphone) Run(ctx context.Context, sink func([]float32)) error {
	if m.device == nil {
		return errors.New("microphone not open")
	}
	m.mu.Lock()
	m.sink = sink
	m.mu.Unlock()
	if err := m.device.Start(); err != nil {
		return fmt.Errorf("start capture device: %w", err)
	}
	select {
	case <-ctx.Done():
		return nil
	case err := <-m.failed:
		return err
	}
}

func (m *Microphone) onData(_, input []byte, frames uint32) {
	m.mu.Lock()
	sink := m.sink
	m.mu.Unlock()
	if sink == nil {
		return
	}
	sink(s16ToFloat(input, int(frames)))
}

func (m *Microphone) onStop() {
	m.mu.Lock()
	closing := m.closing
	m.mu.Unlock()
	if closing {
		return
	}
	select {
	case m.failed <- errors.New("audio device stopped unexpectedly"):
	default:
	}
}

func (m *Microphone) Close() error {
	m.mu.Lock()
	m.closing = true
	m.sink = nil
	m.mu.Unlock()

	var err error
	if m.device != nil {
		_ = m.device.Stop()
		m.device.Uninit()
		m.device = nil
	}
	if m.mctx != nil {
		err = m.mctx.Uninit()
		m.mctx.Free()
		m.mctx = nil
	}
	return err
}

// s16ToFloat converts little-endian mono S16 frames to [-1,1).
func s16ToFloat(b []byte, frames int) []float32 {
	if n := len(b) / 2; frames > n || frames <= 0 {
		frames = n
	}
	out := make([]float32, frames)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(b[2*i:]))) / 32768
	}
	return out
}
