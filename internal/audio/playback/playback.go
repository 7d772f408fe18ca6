package playback

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"voice-session/internal/audio/config"
	"voice-session/internal/audio/convert"
	"voice-session/internal/audio/devices"
)

var _ devices.Retargetable = (*MalgoPlayback)(nil)

// Resolver maps a registry device id to a malgo device.
type Resolver func(id string) (malgo.DeviceID, bool)

// MalgoPlayback plays frames written to it on one output device and can be
// moved to another device while playing.
type MalgoPlayback struct {
	id      string
	cfg     config.AudioConfig
	ctx     *malgo.AllocatedContext
	resolve Resolver
	logger  zerolog.Logger

	in     chan []int16
	paused atomic.Bool

	mu       sync.Mutex
	device   *malgo.Device
	deviceID string
	closed   bool

	// two devices briefly overlap while moving
	pendingMu sync.Mutex
	pending   []int16
}

// NewMalgoPlayback starts playback on the system default output device.
func NewMalgoPlayback(ctx *malgo.AllocatedContext, id string, audiocfg config.AudioConfig, resolve Resolver) (*MalgoPlayback, error) {
	mp := &MalgoPlayback{
		id:      id,
		cfg:     audiocfg,
		ctx:     ctx,
		resolve: resolve,
		logger:  log.With().Str("module", "playback").Str("sink", id).Logger(),
		in:      make(chan []int16, audiocfg.BufferSize),
	}
	device, err := mp.open(nil)
	if err != nil {
		return nil, err
	}
	mp.device = device
	mp.logger.Info().Msg("Playback device started")
	return mp, nil
}

func (mp *MalgoPlayback) ID() string { return mp.id }

// DeviceID is the output device currently in use, empty for the default.
func (mp *MalgoPlayback) DeviceID() string {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	return mp.deviceID
}

// Write queues a frame for playout, dropping it when the queue is full.
func (mp *MalgoPlayback) Write(frame []int16) {
	select {
	case mp.in <- frame:
	default:
	}
}

func (mp *MalgoPlayback) SetPaused(paused bool) { mp.paused.Store(paused) }

// SetSinkID moves playback to deviceID. On failure the current device
// keeps playing.
func (mp *MalgoPlayback) SetSinkID(_ context.Context, deviceID string) error {
	if mp.resolve == nil {
		return fmt.Errorf("sink %s: %w", mp.id, devices.ErrUnknownDevice)
	}
	devID, ok := mp.resolve(deviceID)
	if !ok {
		return fmt.Errorf("sink %s: %w: %s", mp.id, devices.ErrUnknownDevice, deviceID)
	}

	mp.mu.Lock()
	defer mp.mu.Unlock()
	if mp.closed {
		return fmt.Errorf("sink %s is closed", mp.id)
	}
	if mp.deviceID == deviceID {
		return nil
	}
	next, err := mp.open(&devID)
	if err != nil {
		return err
	}
	prev := mp.device
	mp.device = next
	mp.deviceID = deviceID
	if prev != nil {
		prev.Uninit()
	}
	mp.logger.Info().Str("device", deviceID).Msg("Playback moved")
	return nil
}

func (mp *MalgoPlayback) open(devID *malgo.DeviceID) (*malgo.Device, error) {
	playCfg := malgo.DefaultDeviceConfig(malgo.Playback)
	playCfg.Playback.Format = malgo.FormatS16
	playCfg.Playback.Channels = uint32(mp.cfg.Channels)
	playCfg.SampleRate = mp.cfg.SampleRate
	if devID != nil {
		playCfg.Playback.DeviceID = devID.Pointer()
	}

	device, err := malgo.InitDevice(mp.ctx.Context, playCfg, malgo.DeviceCallbacks{Data: mp.onPlay})
	if err != nil {
		return nil, fmt.Errorf("failed to open playback device: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return nil, fmt.Errorf("failed to start playback device: %w", err)
	}
	return device, nil
}

// onPlay fills out with queued samples and pads with silence.
func (mp *MalgoPlayback) onPlay(out, _ []byte, _ uint32) {
	if mp.paused.Load() {
		clear(out)
		return
	}
	mp.pendingMu.Lock()
	defer mp.pendingMu.Unlock()
	want := len(out) / 2
	written := 0
	for written < want {
		if len(mp.pending) == 0 {
			select {
			case frame := <-mp.in:
				mp.pending = frame
			default:
			}
			if len(mp.pending) == 0 {
				break
			}
		}
		n := convert.PutInt16(out[written*2:], mp.pending)
		mp.pending = mp.pending[n:]
		written += n
	}
	clear(out[written*2:])
}

func (mp *MalgoPlayback) Close() error {
	mp.mu.Lock()
	defer mp.mu.Unlock()
	if mp.closed {
		return nil
	}
	mp.closed = true
	if mp.device != nil {
		mp.device.Uninit()
		mp.device = nil
	}
	mp.logger.Debug().Msg("Playback closed")
	return nil
}
