package devices

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"runtime"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/rs/zerolog/log"
)

// MalgoBackend enumerates playback devices through miniaudio. It owns the
// malgo context shared by capture and playback.
type MalgoBackend struct {
	ctx *malgo.AllocatedContext

	mu  sync.Mutex
	ids map[string]malgo.DeviceID
}

func NewMalgoBackend() (*MalgoBackend, error) {
	logger := log.With().Str("module", "malgo").Logger()
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {
		logger.Debug().Msg(msg)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init malgo context: %w", err)
	}
	return &MalgoBackend{ctx: ctx, ids: make(map[string]malgo.DeviceID)}, nil
}

// Context is the shared miniaudio context.
func (b *MalgoBackend) Context() *malgo.AllocatedContext { return b.ctx }

// deviceKey derives a short stable id from the backend-specific device id.
func deviceKey(id malgo.DeviceID) string {
	sum := sha256.Sum256(id[:])
	return hex.EncodeToString(sum[:8])
}

func (b *MalgoBackend) Outputs(context.Context) ([]Descriptor, error) {
	infos, err := b.ctx.Devices(malgo.Playback)
	if err != nil {
		return nil, err
	}
	out := make([]Descriptor, 0, len(infos))
	ids := make(map[string]malgo.DeviceID, len(infos))
	for _, info := range infos {
		key := deviceKey(info.ID)
		ids[key] = info.ID
		out = append(out, Descriptor{
			ID:      key,
			Label:   info.Name(),
			Kind:    KindOutput,
			Default: info.IsDefault != 0,
		})
	}
	b.mu.Lock()
	b.ids = ids
	b.mu.Unlock()
	return out, nil
}

// Resolve maps a descriptor id back to the malgo device.
func (b *MalgoBackend) Resolve(id string) (malgo.DeviceID, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	devID, ok := b.ids[id]
	return devID, ok
}

// RequestPermission opens the default capture device once. On platforms
// with an audio permission prompt this is what triggers it.
func (b *MalgoBackend) RequestPermission(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = 1
	cfg.SampleRate = 48000
	if runtime.GOOS == "linux" {
		cfg.Alsa.NoMMap = 1
	}
	device, err := malgo.InitDevice(b.ctx.Context, cfg, malgo.DeviceCallbacks{
		Data: func(_, _ []byte, _ uint32) {},
	})
	if err != nil {
		return err
	}
	device.Uninit()
	return nil
}

func (b *MalgoBackend) Close() error {
	if err := b.ctx.Uninit(); err != nil {
		return err
	}
	b.ctx.Free()
	return nil
}
