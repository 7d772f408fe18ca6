package session

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"voice-session/internal/metrics"
)

const defaultSubscriberBuffer = 32

// Connection owns the room session: its state machine, the current
// session Context, and the participants and tracks it reports.
// All methods are safe for concurrent use.
type Connection struct {
	transport Transport
	creds     CredentialSource
	logger    zerolog.Logger
	metrics   *metrics.Collector

	mu           sync.Mutex
	state        ConnectionState
	generation   uint64
	current      *Context
	lastErr      error
	participants map[string]Participant
	attributes   map[string]map[string]string
	tracks       map[string]Track
	subs         map[uint64]chan Event
	nextSub      uint64
}

type Option func(*Connection)

func WithLogger(l zerolog.Logger) Option {
	return func(c *Connection) { c.logger = l }
}

func WithMetrics(m *metrics.Collector) Option {
	return func(c *Connection) { c.metrics = m }
}

func NewConnection(transport Transport, creds CredentialSource, opts ...Option) *Connection {
	c := &Connection{
		transport:    transport,
		creds:        creds,
		logger:       log.With().Str("module", "session").Logger(),
		participants: make(map[string]Participant),
		attributes:   make(map[string]map[string]string),
		tracks:       make(map[string]Track),
		subs:         make(map[uint64]chan Event),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect fetches credentials and joins the room. It blocks until the
// session is Connected or the attempt fails; run it in a goroutine to
// keep the caller responsive. Connect is only valid from Disconnected.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != Disconnected {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("connect while %s: %w", state, ErrAlreadyActive)
	}
	c.generation++
	sessionCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	connectCtx, abort := context.WithCancel(ctx)
	sc := &Context{
		ID:           uuid.NewString(),
		Generation:   c.generation,
		CreatedAt:    time.Now(),
		ctx:          sessionCtx,
		cancel:       cancel,
		abortConnect: abort,
	}
	c.current = sc
	c.lastErr = nil
	c.setStateLocked(Connecting)
	c.mu.Unlock()
	defer abort()

	logger := c.logger.With().Str("session_id", sc.ID).Uint64("generation", sc.Generation).Logger()
	logger.Info().Msg("Connecting")
	c.metrics.ConnectAttempt()

	creds, err := c.creds.Fetch(connectCtx)
	if err != nil {
		return c.fail(sc, fmt.Errorf("fetch credentials: %w", err))
	}

	room, err := c.transport.Join(connectCtx, creds, func(ev Event) { c.handle(sc, ev) })
	if err != nil {
		return c.fail(sc, fmt.Errorf("join room: %w", err))
	}

	c.mu.Lock()
	if c.current != sc {
		c.mu.Unlock()
		logger.Debug().Msg("Join finished after teardown, releasing room")
		room.Disconnect()
		return ErrSuperseded
	}
	sc.creds = creds
	sc.room = room
	c.setStateLocked(Connected)
	needMic := c.claimMicLocked(sc)
	c.mu.Unlock()

	logger.Info().Str("room", creds.Room).Str("identity", creds.Identity).Msg("Connected")
	if needMic {
		c.enableMicrophone(sc, room)
	}
	return nil
}

// fail records err for sc if sc is still current and returns to Disconnected.
func (c *Connection) fail(sc *Context, err error) error {
	c.mu.Lock()
	if c.current != sc {
		c.mu.Unlock()
		c.logger.Debug().Err(err).Str("session_id", sc.ID).Msg("Discarding failure of superseded attempt")
		return ErrSuperseded
	}
	connErr := &ConnectionError{Message: err.Error(), Err: err}
	c.current = nil
	c.lastErr = connErr
	c.resetLocked()
	c.setStateLocked(Disconnected)
	c.emitLocked(Event{Kind: EventError, SessionID: sc.ID, Err: connErr})
	c.mu.Unlock()

	sc.cancel()
	c.metrics.ConnectFailure()
	c.logger.Error().Err(err).Str("session_id", sc.ID).Msg("Connection failed")
	return connErr
}

// Disconnect tears down the current session, or abandons the in-flight
// connect attempt. Calling it while Disconnected is a no-op.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	sc := c.current
	if sc == nil {
		c.mu.Unlock()
		return
	}
	room := sc.room
	c.current = nil
	c.resetLocked()
	c.setStateLocked(Disconnected)
	c.mu.Unlock()

	sc.abortConnect()
	sc.cancel()
	if room != nil {
		room.Disconnect()
	}
	c.logger.Info().Str("session_id", sc.ID).Msg("Disconnected")
}

// Toggle connects when Disconnected and disconnects otherwise.
func (c *Connection) Toggle(ctx context.Context) error {
	if c.State() == Disconnected {
		return c.Connect(ctx)
	}
	c.Disconnect()
	return nil
}

// handle applies a transport event reported for sc.
func (c *Connection) handle(sc *Context, ev Event) {
	ev.SessionID = sc.ID

	c.mu.Lock()
	if c.current != sc {
		c.mu.Unlock()
		c.logger.Debug().Str("session_id", sc.ID).Stringer("event", ev.Kind).Msg("Ignoring event from stale session")
		return
	}

	switch ev.Kind {
	case EventStateChanged:
		switch ev.State {
		case Disconnected:
			c.current = nil
			c.resetLocked()
			c.setStateLocked(Disconnected)
			c.mu.Unlock()
			sc.cancel()
			c.logger.Warn().Str("session_id", sc.ID).Msg("Room closed by remote")
			return
		case Connected:
			// Connect() finishes the transition itself once Join returns.
			if sc.room == nil {
				c.mu.Unlock()
				return
			}
			c.setStateLocked(Connected)
			needMic := c.claimMicLocked(sc)
			room := sc.room
			c.mu.Unlock()
			if needMic {
				go c.enableMicrophone(sc, room)
			}
			return
		case Reconnecting:
			c.setStateLocked(Reconnecting)
		}

	case EventParticipantJoined:
		c.participants[ev.Participant.Identity] = ev.Participant
		if ev.Attributes != nil {
			c.attributes[ev.Participant.Identity] = maps.Clone(ev.Attributes)
		}
		c.reclassifyTracksLocked(ev.Participant)
		c.emitLocked(ev)

	case EventParticipantLeft:
		identity := ev.Participant.Identity
		for id, t := range c.tracks {
			if t.Participant.Identity == identity {
				delete(c.tracks, id)
				c.emitLocked(Event{Kind: EventTrackUnsubscribed, SessionID: sc.ID, Participant: t.Participant, Track: t})
			}
		}
		delete(c.participants, identity)
		delete(c.attributes, identity)
		c.emitLocked(ev)

	case EventTrackSubscribed:
		if _, ok := c.participants[ev.Track.Participant.Identity]; !ok && !ev.Track.IsLocal() {
			c.participants[ev.Track.Participant.Identity] = ev.Track.Participant
		}
		c.tracks[ev.Track.ID] = ev.Track
		c.emitLocked(ev)

	case EventTrackUnsubscribed:
		if _, ok := c.tracks[ev.Track.ID]; ok {
			delete(c.tracks, ev.Track.ID)
			c.emitLocked(ev)
		}

	case EventAttributesChanged:
		attrs := maps.Clone(ev.Attributes)
		if attrs == nil {
			attrs = map[string]string{}
		}
		c.attributes[ev.Participant.Identity] = attrs
		if !ev.Participant.Local {
			c.participants[ev.Participant.Identity] = ev.Participant
			c.reclassifyTracksLocked(ev.Participant)
		}
		ev.Attributes = maps.Clone(attrs)
		c.emitLocked(ev)

	case EventError:
		c.logger.Warn().Err(ev.Err).Str("session_id", sc.ID).Msg("Transport error")
		c.emitLocked(ev)
	}
	c.mu.Unlock()
}

// reclassifyTracksLocked brings the tracks of p in line with its current
// kind. An agent can be recognized after its audio was subscribed.
func (c *Connection) reclassifyTracksLocked(p Participant) {
	if p.Local {
		return
	}
	for id, t := range c.tracks {
		if t.Participant.Identity != p.Identity {
			continue
		}
		prev := t.Source
		t.Participant = p
		switch {
		case p.IsAgent():
			t.Source = SourceAgentOutput
		case t.Source == SourceAgentOutput:
			// agents publish their voice as a microphone track
			t.Source = SourceMicrophone
		}
		c.tracks[id] = t
		if prev != t.Source {
			c.logger.Debug().Str("track_id", id).Stringer("from", prev).Stringer("to", t.Source).Msg("Track reclassified")
		}
	}
}

// claimMicLocked reports whether the caller should enable the microphone
// for sc. It is true at most once per session unless enabling fails.
func (c *Connection) claimMicLocked(sc *Context) bool {
	if c.current != sc || c.state != Connected || sc.micEnabled || sc.room == nil {
		return false
	}
	sc.micEnabled = true
	return true
}

func (c *Connection) enableMicrophone(sc *Context, room Room) {
	if err := room.SetMicrophoneEnabled(sc.ctx, true); err != nil {
		c.mu.Lock()
		if c.current == sc {
			sc.micEnabled = false
		}
		c.mu.Unlock()
		c.logger.Warn().Err(err).Str("session_id", sc.ID).Msg("Failed to enable microphone")
		return
	}
	c.logger.Debug().Str("session_id", sc.ID).Msg("Microphone enabled")
}

func (c *Connection) setStateLocked(s ConnectionState) {
	if c.state == s {
		return
	}
	prev := c.state
	c.state = s
	c.metrics.SetState(int(s))
	var id string
	if c.current != nil {
		id = c.current.ID
	}
	c.logger.Debug().Stringer("from", prev).Stringer("to", s).Msg("State changed")
	c.emitLocked(Event{Kind: EventStateChanged, SessionID: id, State: s})
}

func (c *Connection) resetLocked() {
	clear(c.participants)
	clear(c.attributes)
	clear(c.tracks)
}

// emitLocked fans ev out without blocking. A full subscriber loses its
// oldest pending event.
func (c *Connection) emitLocked(ev Event) {
	for _, ch := range c.subs {
		select {
		case ch <- ev:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe returns a stream of session events and a function that ends
// the subscription and closes the channel. buffer <= 0 picks a default.
func (c *Connection) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	ch := make(chan Event, buffer)

	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = ch
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			close(ch)
			c.mu.Unlock()
		})
	}
}

func (c *Connection) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastError is the failure that ended the most recent attempt, cleared by
// the next Connect.
func (c *Connection) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Current returns the session context, joined or still connecting.
func (c *Connection) Current() (*Context, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current, c.current != nil
}

// Active returns the session context and its room when Connected.
func (c *Connection) Active() (*Context, Room, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil || c.state != Connected || c.current.room == nil {
		return nil, nil, false
	}
	return c.current, c.current.room, true
}

// IsCurrent reports whether sc is still the live session.
func (c *Connection) IsCurrent(sc *Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return sc != nil && c.current == sc
}

func (c *Connection) Participants() []Participant {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Participant, 0, len(c.participants))
	for _, p := range c.participants {
		out = append(out, p)
	}
	return out
}

// Agent returns the agent participant, if one is in the room.
func (c *Connection) Agent() (Participant, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.participants {
		if p.IsAgent() {
			return p, true
		}
	}
	return Participant{}, false
}

// Attributes returns a copy of the last attribute set seen for identity.
func (c *Connection) Attributes(identity string) map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return maps.Clone(c.attributes[identity])
}

// AgentTrack returns the agent's audio output track, if subscribed.
func (c *Connection) AgentTrack() (Track, bool) {
	return c.findTrack(func(t Track) bool {
		return !t.IsLocal() && t.Participant.IsAgent() && t.Source == SourceAgentOutput
	})
}

// LocalMicrophoneTrack returns the published local microphone track.
func (c *Connection) LocalMicrophoneTrack() (Track, bool) {
	return c.findTrack(func(t Track) bool {
		return t.IsLocal() && t.Source == SourceMicrophone
	})
}

func (c *Connection) findTrack(match func(Track) bool) (Track, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.tracks {
		if match(t) {
			return t, true
		}
	}
	return Track{}, false
}

// IsConnectionError reports whether err came from a failed session.
func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}
