package codec

import (
	"errors"
	"fmt"

	"gopkg.in/hraban/opus.v2"

	"voice-session/internal/audio/config"
	"voice-session/internal/audio/convert"
)

var ErrInvalidFrameSize = errors.New("invalid opus frame size for given sample rate")

type OpusEncoder struct {
	enc       *opus.Encoder
	frameSize int
	buf       []byte
}

// NewOpusEncoder creates a VoIP encoder with DTX enabled.
func NewOpusEncoder(sampleRate, channels, frameSize int) (*OpusEncoder, error) {
	if !convert.IsFrameSizeValid(sampleRate, frameSize) {
		return nil, ErrInvalidFrameSize
	}
	enc, err := opus.NewEncoder(sampleRate, channels, opus.AppVoIP)
	if err != nil {
		return nil, err
	}
	if err := enc.SetDTX(true); err != nil {
		return nil, fmt.Errorf("failed to enable DTX: %w", err)
	}
	return &OpusEncoder{
		enc:       enc,
		frameSize: frameSize * channels,
		buf:       make([]byte, 4000),
	}, nil
}

func (e *OpusEncoder) Encode(samples []int16) ([]byte, error) {
	if len(samples) != e.frameSize {
		return nil, fmt.Errorf("%w: got %d samples, want %d", ErrInvalidFrameSize, len(samples), e.frameSize)
	}
	n, err := e.enc.Encode(samples, e.buf)
	if err != nil {
		return nil, err
	}
	if n < 3 {
		// DTX frame, nothing worth sending
		return nil, nil
	}
	packet := make([]byte, n)
	copy(packet, e.buf[:n])
	return packet, nil
}

type OpusDecoder struct {
	dec      *opus.Decoder
	channels int
	buf      []int16
}

func NewOpusDecoder(sampleRate, channels int) (*OpusDecoder, error) {
	dec, err := opus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, err
	}
	return &OpusDecoder{
		dec:      dec,
		channels: channels,
		buf:      make([]int16, config.MaxFrameSamplesOpus*channels),
	}, nil
}

// Decode returns interleaved samples for one packet.
func (d *OpusDecoder) Decode(packet []byte) ([]int16, error) {
	n, err := d.dec.Decode(packet, d.buf)
	if err != nil {
		return nil, err
	}
	out := make([]int16, n*d.channels)
	copy(out, d.buf)
	return out, nil
}
