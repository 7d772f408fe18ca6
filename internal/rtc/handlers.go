package rtc

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog"

	"voice-session/internal/audio/codec"
	"voice-session/internal/audio/pipeline"
	"voice-session/internal/session"
)

const micTrackName = "microphone"

type remoteTrack struct {
	info     session.Track
	cancel   context.CancelFunc
	release  func()
	playback PlaybackSink
}

type localMic struct {
	info    session.Track
	sid     string
	capture Capture
	cancel  context.CancelFunc
}

type ackWaiter struct {
	want map[string]string
	done chan struct{}
}

// room adapts one joined LiveKit room to session.Room. Events are
// delivered to the sink outside of mu.
type room struct {
	t      *Transport
	sink   session.EventSink
	logger zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	lk      *lksdk.Room
	remote  map[string]*remoteTrack
	mic     *localMic
	waiters []*ackWaiter
	closed  bool
}

var _ session.Room = (*room)(nil)

func newRoom(t *Transport, sink session.EventSink) *room {
	ctx, cancel := context.WithCancel(context.Background())
	return &room{
		t:      t,
		sink:   sink,
		logger: t.logger,
		ctx:    ctx,
		cancel: cancel,
		remote: make(map[string]*remoteTrack),
	}
}

func (r *room) callbacks() *lksdk.RoomCallback {
	return &lksdk.RoomCallback{
		ParticipantCallback: lksdk.ParticipantCallback{
			OnTrackSubscribed: func(track *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				r.handleTrackSubscribed(track, pub, rp)
			},
			OnTrackUnsubscribed: func(track *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				r.handleTrackUnsubscribed(pub.SID())
			},
			OnAttributesChanged: func(changed map[string]string, p lksdk.Participant) {
				r.handleAttributesChanged(p)
			},
		},
		OnParticipantConnected: func(rp *lksdk.RemoteParticipant) {
			r.handleParticipantConnected(rp)
		},
		OnParticipantDisconnected: func(rp *lksdk.RemoteParticipant) {
			r.handleParticipantDisconnected(rp)
		},
		OnReconnecting: func() {
			r.logger.Warn().Msg("Room reconnecting...")
			r.emit(session.Event{Kind: session.EventStateChanged, State: session.Reconnecting})
		},
		OnReconnected: func() {
			r.logger.Info().Msg("Room reconnected")
			r.emit(session.Event{Kind: session.EventStateChanged, State: session.Connected})
		},
		OnDisconnected: func() {
			r.logger.Info().Msg("Room disconnected")
			r.close()
			r.emit(session.Event{Kind: session.EventStateChanged, State: session.Disconnected})
		},
	}
}

// attach records the joined room and reports participants that were
// already present, since the SDK does not announce them.
func (r *room) attach(lk *lksdk.Room) {
	r.mu.Lock()
	r.lk = lk
	r.mu.Unlock()

	r.logger.Info().
		Str("room", lk.Name()).
		Str("identity", lk.LocalParticipant.Identity()).
		Msg("Room joined")

	for _, rp := range lk.GetRemoteParticipants() {
		r.handleParticipantConnected(rp)
	}
}

func (r *room) emit(ev session.Event) {
	if r.ctx.Err() != nil && ev.Kind != session.EventStateChanged {
		return
	}
	r.sink(ev)
}

func (r *room) participantOf(rp *lksdk.RemoteParticipant) (session.Participant, map[string]string) {
	attrs := cloneAttrs(rp.Attributes())
	return remoteParticipant(rp.Identity(), rp.Name(), serverKind(rp), attrs), attrs
}

// serverKind is the participant kind carried in the server's
// participant info.
func serverKind(p lksdk.Participant) livekit.ParticipantInfo_Kind {
	rp, ok := p.(*lksdk.RemoteParticipant)
	if !ok {
		return livekit.ParticipantInfo_STANDARD
	}
	return livekit.ParticipantInfo_Kind(rp.Kind())
}

func (r *room) handleParticipantConnected(rp *lksdk.RemoteParticipant) {
	p, attrs := r.participantOf(rp)
	r.logger.Info().
		Str("identity", p.Identity).
		Bool("agent", p.IsAgent()).
		Msg("Participant joined")
	r.emit(session.Event{Kind: session.EventParticipantJoined, Participant: p, Attributes: attrs})
}

func (r *room) handleParticipantDisconnected(rp *lksdk.RemoteParticipant) {
	p, _ := r.participantOf(rp)

	r.mu.Lock()
	var gone []*remoteTrack
	for sid, rt := range r.remote {
		if rt.info.Participant.Identity == p.Identity {
			gone = append(gone, rt)
			delete(r.remote, sid)
		}
	}
	r.mu.Unlock()

	for _, rt := range gone {
		rt.stop()
	}
	r.logger.Info().Str("identity", p.Identity).Msg("Participant left")
	r.emit(session.Event{Kind: session.EventParticipantLeft, Participant: p})
}

func (r *room) handleAttributesChanged(p lksdk.Participant) {
	r.mu.Lock()
	lk := r.lk
	r.mu.Unlock()

	if lk != nil && p.Identity() == lk.LocalParticipant.Identity() {
		r.resolveAcks(p.Attributes())
		return
	}

	attrs := cloneAttrs(p.Attributes())
	participant := remoteParticipant(p.Identity(), p.Name(), serverKind(p), attrs)
	r.logger.Debug().
		Str("identity", participant.Identity).
		Int("count", len(attrs)).
		Msg("Attributes changed")
	r.emit(session.Event{Kind: session.EventAttributesChanged, Participant: participant, Attributes: attrs})
}

func (r *room) handleTrackSubscribed(track *webrtc.TrackRemote, pub *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
	if track.Kind() != webrtc.RTPCodecTypeAudio {
		r.logger.Debug().Str("track_id", track.ID()).Str("type", track.Kind().String()).Msg("Ignoring non-audio track")
		return
	}
	owner, _ := r.participantOf(rp)
	info := session.Track{
		ID:          pub.SID(),
		Source:      trackSource(owner, pub.Source()),
		Participant: owner,
	}
	logger := r.logger.With().
		Str("track_id", info.ID).
		Str("participant", owner.Identity).
		Str("codec", track.Codec().MimeType).
		Logger()

	rt, err := r.startReceiver(track, info, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to start remote audio")
		r.emit(session.Event{Kind: session.EventError, Err: err})
		return
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		rt.stop()
		return
	}
	if old, ok := r.remote[info.ID]; ok {
		defer old.stop()
	}
	r.remote[info.ID] = rt
	r.mu.Unlock()

	logger.Info().Str("source", info.Source.String()).Msg("Audio track subscribed")
	r.emit(session.Event{Kind: session.EventTrackSubscribed, Participant: owner, Track: rt.info})
}

// startReceiver decodes a remote track into a playback sink that follows
// the selected output device.
func (r *room) startReceiver(track *webrtc.TrackRemote, info session.Track, logger zerolog.Logger) (*remoteTrack, error) {
	cfg, err := codec.ConfigForMime(track.Codec().MimeType)
	if err != nil {
		return nil, err
	}
	dec, err := codec.NewDecoder(cfg)
	if err != nil {
		return nil, err
	}

	rt := &remoteTrack{info: info, release: func() {}}
	var sink pipeline.FrameSink = discardSink{}
	if r.t.newPlayback != nil {
		pb, err := r.t.newPlayback(info.ID, cfg)
		if err != nil {
			return nil, fmt.Errorf("open playback: %w", err)
		}
		rt.playback = pb
		sink = pb
		if r.t.sinks != nil {
			rt.release = r.t.sinks.AddSink(r.ctx, pb)
		}
	}

	read := func() ([]byte, error) {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return nil, err
		}
		return pkt.Payload, nil
	}
	recv := pipeline.NewReceiver(read, dec, sink, cfg, r.t.metrics)
	rt.info.Media = recv.Media()

	ctx, cancel := context.WithCancel(r.ctx)
	rt.cancel = cancel
	go func() {
		if err := recv.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Warn().Err(err).Msg("Remote audio ended")
		}
	}()
	return rt, nil
}

func (r *room) handleTrackUnsubscribed(sid string) {
	r.mu.Lock()
	rt, ok := r.remote[sid]
	delete(r.remote, sid)
	r.mu.Unlock()
	if !ok {
		return
	}
	rt.stop()
	r.logger.Info().Str("track_id", sid).Msg("Audio track unsubscribed")
	r.emit(session.Event{Kind: session.EventTrackUnsubscribed, Participant: rt.info.Participant, Track: rt.info})
}

func (rt *remoteTrack) stop() {
	if rt.cancel != nil {
		rt.cancel()
	}
	rt.release()
	if rt.playback != nil {
		_ = rt.playback.Close()
	}
}

func (r *room) LocalParticipant() session.Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lk == nil {
		return session.Participant{Local: true}
	}
	lp := r.lk.LocalParticipant
	return session.Participant{Identity: lp.Identity(), Name: lp.Name(), Local: true}
}

func (r *room) LocalAttributes() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lk == nil {
		return map[string]string{}
	}
	return cloneAttrs(r.lk.LocalParticipant.Attributes())
}

// SetAttributes waits for the server to echo the update back. When no echo
// arrives in time the local view is checked once before giving up.
func (r *room) SetAttributes(ctx context.Context, attrs map[string]string) error {
	w := &ackWaiter{want: cloneAttrs(attrs), done: make(chan struct{})}

	r.mu.Lock()
	if r.closed || r.lk == nil {
		r.mu.Unlock()
		return ErrRoomClosed
	}
	lk := r.lk
	r.waiters = append(r.waiters, w)
	r.mu.Unlock()
	defer r.dropWaiter(w)

	lk.LocalParticipant.SetAttributes(w.want)

	timer := time.NewTimer(r.t.ackTimeout)
	defer timer.Stop()

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-r.ctx.Done():
		return ErrRoomClosed
	case <-timer.C:
		if acknowledged(lk.LocalParticipant.Attributes(), w.want) {
			return nil
		}
		return ErrAckTimeout
	}
}

func (r *room) resolveAcks(have map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.waiters = slices.DeleteFunc(r.waiters, func(w *ackWaiter) bool {
		if acknowledged(have, w.want) {
			close(w.done)
			return true
		}
		return false
	})
}

func (r *room) dropWaiter(w *ackWaiter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.waiters = slices.DeleteFunc(r.waiters, func(x *ackWaiter) bool { return x == w })
}

// SetMicrophoneEnabled publishes the microphone on first enable. Later
// calls pause or resume capture without unpublishing.
func (r *room) SetMicrophoneEnabled(ctx context.Context, enabled bool) error {
	r.mu.Lock()
	if r.closed || r.lk == nil {
		r.mu.Unlock()
		return ErrRoomClosed
	}
	if r.mic != nil {
		r.mic.capture.SetPaused(!enabled)
		r.mu.Unlock()
		return nil
	}
	lk := r.lk
	r.mu.Unlock()

	if !enabled {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	mic, err := r.publishMicrophone(lk)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if r.closed || r.mic != nil {
		r.mu.Unlock()
		mic.stop(lk, r.logger)
		if r.closed {
			return ErrRoomClosed
		}
		return nil
	}
	r.mic = mic
	r.mu.Unlock()

	r.emit(session.Event{Kind: session.EventTrackSubscribed, Participant: mic.info.Participant, Track: mic.info})
	return nil
}

func (r *room) publishMicrophone(lk *lksdk.Room) (*localMic, error) {
	if r.t.newCapture == nil {
		return nil, fmt.Errorf("microphone: no capture device configured")
	}
	cfg := r.t.audio
	enc, err := codec.NewEncoder(cfg)
	if err != nil {
		return nil, err
	}
	capture, err := r.t.newCapture(cfg)
	if err != nil {
		return nil, fmt.Errorf("open capture: %w", err)
	}
	track, err := lksdk.NewLocalSampleTrack(cfg.Codec())
	if err != nil {
		_ = capture.Close()
		return nil, fmt.Errorf("create microphone track: %w", err)
	}
	pub, err := lk.LocalParticipant.PublishTrack(track, &lksdk.TrackPublicationOptions{
		Name:   micTrackName,
		Source: livekit.TrackSource_MICROPHONE,
	})
	if err != nil {
		_ = capture.Close()
		return nil, fmt.Errorf("publish microphone: %w", err)
	}

	lp := lk.LocalParticipant
	owner := session.Participant{Identity: lp.Identity(), Name: lp.Name(), Local: true}
	sender := pipeline.NewSender(capture, enc, func(s media.Sample) error {
		return track.WriteSample(s, nil)
	}, cfg)

	ctx, cancel := context.WithCancel(r.ctx)
	mic := &localMic{
		info: session.Track{
			ID:          pub.SID(),
			Source:      trackSource(owner, livekit.TrackSource_MICROPHONE),
			Participant: owner,
			Media:       sender.Media(),
		},
		sid:     pub.SID(),
		capture: capture,
		cancel:  cancel,
	}
	go func() {
		if err := sender.Run(ctx); err != nil && ctx.Err() == nil {
			r.logger.Warn().Err(err).Msg("Microphone stream ended")
		}
	}()

	r.logger.Info().Str("track_sid", mic.sid).Str("codec", cfg.Type.String()).Msg("Microphone published")
	return mic, nil
}

func (m *localMic) stop(lk *lksdk.Room, logger zerolog.Logger) {
	m.cancel()
	if lk != nil {
		if err := lk.LocalParticipant.UnpublishTrack(m.sid); err != nil {
			logger.Debug().Err(err).Str("track_sid", m.sid).Msg("Unpublish microphone")
		}
	}
	if err := m.capture.Close(); err != nil {
		logger.Warn().Err(err).Msg("Close capture")
	}
}

// close releases all media. It is safe to call more than once.
func (r *room) close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	lk := r.lk
	mic := r.mic
	r.mic = nil
	tracks := r.remote
	r.remote = make(map[string]*remoteTrack)
	r.mu.Unlock()

	r.cancel()
	for _, rt := range tracks {
		rt.stop()
	}
	if mic != nil {
		mic.stop(lk, r.logger)
	}
}

func (r *room) Disconnect() {
	r.mu.Lock()
	lk := r.lk
	r.mu.Unlock()

	r.close()
	if lk != nil {
		lk.Disconnect()
	}
}

type discardSink struct{}

func (discardSink) Write([]int16) {}
