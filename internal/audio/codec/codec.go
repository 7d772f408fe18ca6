package codec

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"

	"voice-session/internal/audio/config"
)

var ErrUnsupportedCodec = errors.New("unsupported codec")

type Encoder interface {
	// Encode returns nil, nil for frames the encoder chose not to send.
	Encode(pcm []int16) ([]byte, error)
}

type Decoder interface {
	Decode(encoded []byte) ([]int16, error)
}

// NewEncoder creates the encoder for cfg. Only opus is sent.
func NewEncoder(cfg config.AudioConfig) (Encoder, error) {
	switch cfg.Type {
	case config.AudioCodecOpus:
		return NewOpusEncoder(int(cfg.SampleRate), int(cfg.Channels), cfg.FrameSamples)
	default:
		return nil, fmt.Errorf("encode %s: %w", cfg.Type, ErrUnsupportedCodec)
	}
}

// ConfigForMime returns the audio config matching a remote track's codec.
func ConfigForMime(mimeType string) (config.AudioConfig, error) {
	switch {
	case strings.EqualFold(mimeType, webrtc.MimeTypeOpus):
		return config.NewOpusConfig(), nil
	case strings.EqualFold(mimeType, webrtc.MimeTypePCMU):
		return config.NewPCMUConfig(), nil
	default:
		return config.AudioConfig{}, fmt.Errorf("decode %s: %w", mimeType, ErrUnsupportedCodec)
	}
}

// NewDecoder creates a decoder for cfg.
func NewDecoder(cfg config.AudioConfig) (Decoder, error) {
	switch cfg.Type {
	case config.AudioCodecOpus:
		return NewOpusDecoder(int(cfg.SampleRate), int(cfg.Channels))
	case config.AudioCodecPCMU:
		return PCMUDecoder{}, nil
	default:
		return nil, fmt.Errorf("decode %s: %w", cfg.Type, ErrUnsupportedCodec)
	}
}
