package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"voice-session/internal/audio/codec"
	"voice-session/internal/audio/config"
	"voice-session/internal/audio/convert"
	"voice-session/internal/metrics"
)

var (
	ErrEncoderNil = errors.New("encoder cannot be nil")
	ErrDecoderNil = errors.New("decoder cannot be nil")
)

// PacketReader returns the payload of the next RTP packet.
type PacketReader func() ([]byte, error)

// SampleWriter sends one encoded frame.
type SampleWriter func(media.Sample) error

// FrameSink accepts PCM for playout without blocking.
type FrameSink interface {
	Write(frame []int16)
}

// FrameSource yields captured PCM frames.
type FrameSource interface {
	Frames() <-chan []int16
}

const feedCapacity = 4

// Receiver decodes a remote track into a playout sink and a Feed for
// level metering.
type Receiver struct {
	read    PacketReader
	decoder codec.Decoder
	sink    FrameSink
	feed    *Feed
	jitter  *jitterBuffer
	cfg     config.AudioConfig
	logger  zerolog.Logger
	metrics *metrics.Collector
}

func NewReceiver(read PacketReader, dec codec.Decoder, sink FrameSink, cfg config.AudioConfig, m *metrics.Collector) *Receiver {
	return &Receiver{
		read:    read,
		decoder: dec,
		sink:    sink,
		feed:    NewFeed(feedCapacity),
		jitter:  newJitterBuffer(cfg.JitterMin, cfg.JitterMax),
		cfg:     cfg,
		logger:  log.With().Str("module", "pipeline").Str("direction", "recv").Logger(),
		metrics: m,
	}
}

// Media is the decoded stream for level metering.
func (r *Receiver) Media() *Feed { return r.feed }

// Run reads until the track ends or ctx is done.
// receive -> decode -> jitter buffer -> playback
func (r *Receiver) Run(ctx context.Context) error {
	defer r.feed.Close()
	if r.decoder == nil {
		return ErrDecoderNil
	}
	defer r.logger.Debug().Msg("Receiving pipeline stopped")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if r.sink != nil {
		go r.playout(ctx)
	}

	for ctx.Err() == nil {
		payload, err := r.read()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read rtp: %w", err)
		}
		if len(payload) == 0 {
			continue
		}
		pcm, err := r.decoder.Decode(payload)
		if err != nil {
			r.logger.Debug().Err(err).Msg("Failed to decode packet")
			continue
		}
		mono := convert.DownmixInt16(pcm, int(r.cfg.Channels))
		if r.feed.Push(convert.Int16ToFloat32(mono)) {
			r.metrics.DroppedFrame("meter")
		}
		if dropped := r.jitter.add(pcm); dropped > 0 {
			r.metrics.DroppedFrame("jitter")
			r.logger.Debug().Int("dropped", dropped).Msg("Jitter buffer overflow, dropping old frames")
		}
	}
	return nil
}

// playout moves one frame per frame interval from the jitter buffer to the sink.
func (r *Receiver) playout(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.FrameDuration())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if frame, ok := r.jitter.pop(); ok {
				r.sink.Write(frame)
			}
		}
	}
}

// Sender encodes captured audio onto a local track and taps it for
// level metering.
type Sender struct {
	source  FrameSource
	encoder codec.Encoder
	write   SampleWriter
	feed    *Feed
	cfg     config.AudioConfig
	logger  zerolog.Logger
}

func NewSender(source FrameSource, enc codec.Encoder, write SampleWriter, cfg config.AudioConfig) *Sender {
	return &Sender{
		source:  source,
		encoder: enc,
		write:   write,
		feed:    NewFeed(feedCapacity),
		cfg:     cfg,
		logger:  log.With().Str("module", "pipeline").Str("direction", "send").Logger(),
	}
}

func (s *Sender) Media() *Feed { return s.feed }

// Run sends until the capture closes or ctx is done.
// capture -> encode -> send
func (s *Sender) Run(ctx context.Context) error {
	defer s.feed.Close()
	if s.encoder == nil {
		return ErrEncoderNil
	}
	defer s.logger.Debug().Msg("Sending pipeline stopped")

	duration := s.cfg.FrameDuration()
	frames := s.source.Frames()
	for {
		select {
		case <-ctx.Done():
			return nil
		case pcm, ok := <-frames:
			if !ok {
				return nil
			}
			s.feed.Push(convert.Int16ToFloat32(convert.DownmixInt16(pcm, int(s.cfg.Channels))))

			encoded, err := s.encoder.Encode(pcm)
			if err != nil {
				s.logger.Debug().Err(err).Msg("Failed to encode frame")
				continue
			}
			if encoded == nil {
				continue
			}
			if err := s.write(media.Sample{Data: encoded, Duration: duration}); err != nil {
				return fmt.Errorf("write sample: %w", err)
			}
		}
	}
}
