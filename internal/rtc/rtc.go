// Package rtc joins LiveKit rooms and bridges their media and participant
// events into a session.
package rtc

import (
	"context"
	"errors"
	"fmt"
	"time"

	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"voice-session/internal/audio/config"
	"voice-session/internal/audio/devices"
	"voice-session/internal/metrics"
	"voice-session/internal/session"
)

var (
	ErrRoomClosed = errors.New("room closed")
	ErrAckTimeout = errors.New("attribute update not acknowledged")
)

const defaultAckTimeout = 5 * time.Second

// PlaybackSink plays one remote track and can be moved between outputs.
type PlaybackSink interface {
	devices.Retargetable
	Write(frame []int16)
	Close() error
}

// Capture is the local microphone.
type Capture interface {
	Frames() <-chan []int16
	SetPaused(paused bool)
	Close() error
}

// SinkRegistry routes new playback sinks to the selected output.
type SinkRegistry interface {
	AddSink(ctx context.Context, s devices.Sink) func()
}

type PlaybackFactory func(id string, cfg config.AudioConfig) (PlaybackSink, error)

type CaptureFactory func(cfg config.AudioConfig) (Capture, error)

type Option func(*Transport)

func WithAudioConfig(cfg config.AudioConfig) Option {
	return func(t *Transport) { t.audio = cfg }
}

func WithSinkRegistry(r SinkRegistry) Option {
	return func(t *Transport) { t.sinks = r }
}

func WithPlayback(f PlaybackFactory) Option {
	return func(t *Transport) { t.newPlayback = f }
}

func WithCapture(f CaptureFactory) Option {
	return func(t *Transport) { t.newCapture = f }
}

func WithAckTimeout(d time.Duration) Option {
	return func(t *Transport) { t.ackTimeout = d }
}

func WithMetrics(m *metrics.Collector) Option {
	return func(t *Transport) { t.metrics = m }
}

func WithLogger(l zerolog.Logger) Option {
	return func(t *Transport) { t.logger = l }
}

// Transport implements session.Transport on top of the LiveKit Go SDK.
type Transport struct {
	audio       config.AudioConfig
	sinks       SinkRegistry
	newPlayback PlaybackFactory
	newCapture  CaptureFactory
	ackTimeout  time.Duration
	metrics     *metrics.Collector
	logger      zerolog.Logger
}

var _ session.Transport = (*Transport)(nil)

func NewTransport(opts ...Option) *Transport {
	t := &Transport{
		audio:      config.NewOpusConfig(),
		ackTimeout: defaultAckTimeout,
		logger:     log.With().Str("module", "rtc").Logger(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

type joinResult struct {
	lk  *lksdk.Room
	err error
}

// Join connects to the room named in creds. The SDK call itself cannot be
// cancelled, so a room that arrives after ctx is done is disconnected in
// the background.
func (t *Transport) Join(ctx context.Context, creds session.Credentials, sink session.EventSink) (session.Room, error) {
	r := newRoom(t, sink)

	done := make(chan joinResult, 1)
	go func() {
		lk, err := lksdk.ConnectToRoomWithToken(creds.ServerURL, creds.Token, r.callbacks(),
			lksdk.WithAutoSubscribe(true))
		done <- joinResult{lk: lk, err: err}
	}()

	t.logger.Info().Str("url", creds.ServerURL).Str("room", creds.Room).Msg("Joining room")

	select {
	case res := <-done:
		if res.err != nil {
			r.close()
			return nil, fmt.Errorf("join %s: %w", creds.ServerURL, res.err)
		}
		r.attach(res.lk)
		return r, nil
	case <-ctx.Done():
		go func() {
			res := <-done
			if res.lk != nil {
				t.logger.Debug().Msg("Releasing room joined after cancel")
				res.lk.Disconnect()
			}
			r.close()
		}()
		return nil, ctx.Err()
	}
}
