package capture

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"voice-session/internal/audio/config"
	"voice-session/internal/audio/convert"
)

// MalgoCapture records the default input device in fixed-size frames.
type MalgoCapture struct {
	frames chan []int16
	device *malgo.Device
	paused atomic.Bool
	once   sync.Once
	logger zerolog.Logger
}

// NewMalgoCapture opens and starts the default capture device on ctx.
func NewMalgoCapture(ctx *malgo.AllocatedContext, audiocfg config.AudioConfig) (*MalgoCapture, error) {
	mc := &MalgoCapture{
		frames: make(chan []int16, audiocfg.BufferSize),
		logger: log.With().Str("module", "capture").Logger(),
	}

	capCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	capCfg.Capture.Format = malgo.FormatS16
	capCfg.Capture.Channels = uint32(audiocfg.Channels)
	capCfg.SampleRate = audiocfg.SampleRate

	// alsa specific settings for linux
	if runtime.GOOS == "linux" {
		capCfg.Alsa.NoMMap = 1
	}

	frameSamples := audiocfg.FrameSamples * int(audiocfg.Channels)
	var pending []int16
	onCapture := func(_, input []byte, _ uint32) {
		if mc.paused.Load() {
			pending = pending[:0]
			return
		}
		pending = append(pending, convert.BytesToInt16(input)...)

		for len(pending) >= frameSamples {
			frame := make([]int16, frameSamples)
			copy(frame, pending[:frameSamples])
			pending = pending[frameSamples:]
			select {
			case mc.frames <- frame:
			default:
				// consumer is behind, drop the frame
			}
		}
	}

	device, err := malgo.InitDevice(ctx.Context, capCfg, malgo.DeviceCallbacks{Data: onCapture})
	if err != nil {
		return nil, fmt.Errorf("failed to open capture device: %w", err)
	}
	mc.device = device

	if err := mc.device.Start(); err != nil {
		mc.device.Uninit()
		return nil, fmt.Errorf("failed to start capture device: %w", err)
	}

	mc.logger.Info().Uint32("sample_rate", audiocfg.SampleRate).Msg("Capture device started")
	return mc, nil
}

func (mc *MalgoCapture) Frames() <-chan []int16 { return mc.frames }

// SetPaused mutes the microphone without closing the device.
func (mc *MalgoCapture) SetPaused(paused bool) { mc.paused.Store(paused) }

func (mc *MalgoCapture) Close() error {
	mc.once.Do(func() {
		if mc.device != nil {
			mc.device.Uninit()
		}
		close(mc.frames)
		mc.logger.Debug().Msg("Capture device closed")
	})
	return nil
}
