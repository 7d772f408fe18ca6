// Package controller ties the session, attribute sync, output devices and
// volume meters together behind the actions a user can take.
package controller

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"voice-session/internal/attributes"
	"voice-session/internal/audio/devices"
	"voice-session/internal/audio/volume"
	"voice-session/internal/session"
)

const (
	DefaultAssistantName = "Assistant"
	DefaultPrompt        = "You are an employee at a company. respond as such. Here is what you need to know for the zoom call:__"

	DefaultAgentBands = 5
	DefaultMicBands   = 9
)

var ErrNoVoiceDraft = errors.New("no voice chosen")

// Connection is the session lifecycle as the controller drives it.
type Connection interface {
	Connect(ctx context.Context) error
	Disconnect()
	Toggle(ctx context.Context) error
	State() session.ConnectionState
	LastError() error
	Subscribe(buffer int) (<-chan session.Event, func())
	Agent() (session.Participant, bool)
	AgentTrack() (session.Track, bool)
	LocalMicrophoneTrack() (session.Track, bool)
}

// Attributes is the shared configuration channel with the agent.
type Attributes interface {
	Run(ctx context.Context) error
	Apply(ctx context.Context, partial map[string]string) error
	SelectVoice(ctx context.Context, id string) error
	SelectedVoice() string
	Voices() []attributes.Voice
}

// Outputs is the set of playback devices.
type Outputs interface {
	List() []devices.Descriptor
	Selected() string
	Select(ctx context.Context, id string) error
}

type Option func(*Controller)

func WithBands(agent, mic int) Option {
	return func(c *Controller) {
		c.agentBands = agent
		c.micBands = mic
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

type Controller struct {
	conn    Connection
	attrs   Attributes
	outputs Outputs
	logger  zerolog.Logger

	agentBands int
	micBands   int
	agent      *volume.Sampler
	mic        *volume.Sampler

	mu         sync.Mutex
	name       string
	prompt     string
	voiceDraft string
	agentMedia session.Media
	micMedia   session.Media
}

func New(conn Connection, attrs Attributes, outputs Outputs, opts ...Option) *Controller {
	c := &Controller{
		conn:       conn,
		attrs:      attrs,
		outputs:    outputs,
		logger:     log.With().Str("module", "controller").Logger(),
		agentBands: DefaultAgentBands,
		micBands:   DefaultMicBands,
		name:       DefaultAssistantName,
		prompt:     DefaultPrompt,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.agent = volume.NewSampler(c.agentBands, c.logger.With().Str("meter", "agent").Logger())
	c.mic = volume.NewSampler(c.micBands, c.logger.With().Str("meter", "mic").Logger())
	return c
}

// Run keeps the volume meters attached to the current tracks and the
// voice catalog in sync until ctx is done.
func (c *Controller) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.attrs.Run(ctx) })
	g.Go(func() error { return c.follow(ctx) })
	err := g.Wait()

	c.agent.Detach()
	c.mic.Detach()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (c *Controller) follow(ctx context.Context) error {
	events, dispose := c.conn.Subscribe(32)
	defer dispose()

	c.retarget(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			switch ev.Kind {
			case session.EventStateChanged, session.EventTrackSubscribed,
				session.EventTrackUnsubscribed, session.EventParticipantJoined,
				session.EventParticipantLeft, session.EventAttributesChanged:
				c.retarget(ctx)
			case session.EventError:
				c.logger.Warn().Err(ev.Err).Str("session", ev.SessionID).Msg("Session error")
			}
		}
	}
}

// retarget points each meter at its current track, leaving a meter alone
// when its track has not changed.
func (c *Controller) retarget(ctx context.Context) {
	var agentMedia, micMedia session.Media
	if t, ok := c.conn.AgentTrack(); ok {
		agentMedia = t.Media
	}
	if t, ok := c.conn.LocalMicrophoneTrack(); ok {
		micMedia = t.Media
	}

	c.mu.Lock()
	agentChanged := agentMedia != c.agentMedia
	micChanged := micMedia != c.micMedia
	c.agentMedia, c.micMedia = agentMedia, micMedia
	c.mu.Unlock()

	if agentChanged {
		c.logger.Debug().Bool("attached", agentMedia != nil).Msg("Agent meter retargeted")
		c.agent.Attach(ctx, sourceOf(agentMedia))
	}
	if micChanged {
		c.logger.Debug().Bool("attached", micMedia != nil).Msg("Mic meter retargeted")
		c.mic.Attach(ctx, sourceOf(micMedia))
	}
}

func sourceOf(m session.Media) volume.Source {
	if m == nil {
		return nil
	}
	return m
}

func (c *Controller) Connect(ctx context.Context) error { return c.conn.Connect(ctx) }

func (c *Controller) Disconnect() { c.conn.Disconnect() }

// Toggle connects when disconnected and disconnects otherwise.
func (c *Controller) Toggle(ctx context.Context) error { return c.conn.Toggle(ctx) }

func (c *Controller) SetAssistantName(name string) {
	c.mu.Lock()
	c.name = name
	c.mu.Unlock()
}

func (c *Controller) SetPrompt(prompt string) {
	c.mu.Lock()
	c.prompt = prompt
	c.mu.Unlock()
}

func (c *Controller) SetVoiceDraft(id string) {
	c.mu.Lock()
	c.voiceDraft = id
	c.mu.Unlock()
}

// ApplyChanges pushes the drafted voice first, then name and prompt in a
// single merge. A failed voice push does not stop the second push.
func (c *Controller) ApplyChanges(ctx context.Context) error {
	c.mu.Lock()
	voice, name, prompt := c.voiceDraft, c.name, c.prompt
	c.mu.Unlock()

	var errs error
	if voice != "" {
		if err := c.attrs.SelectVoice(ctx, voice); err != nil {
			c.logger.Warn().Err(err).Str("voice", voice).Msg("Voice push failed")
			errs = multierr.Append(errs, err)
		}
	}
	err := c.attrs.Apply(ctx, map[string]string{
		attributes.KeyAssistantName: name,
		attributes.KeyCustomPrompt:  prompt,
	})
	if err != nil {
		c.logger.Warn().Err(err).Msg("Assistant settings push failed")
		errs = multierr.Append(errs, err)
	}
	return errs
}

// SelectVoice selects and pushes a voice immediately.
func (c *Controller) SelectVoice(ctx context.Context, id string) error {
	if id == "" {
		return ErrNoVoiceDraft
	}
	c.SetVoiceDraft(id)
	return c.attrs.SelectVoice(ctx, id)
}

func (c *Controller) SelectOutput(ctx context.Context, id string) error {
	return c.outputs.Select(ctx, id)
}

func (c *Controller) Outputs() []devices.Descriptor { return c.outputs.List() }

// View is a point-in-time snapshot for rendering.
type View struct {
	State          session.ConnectionState
	AgentPresent   bool
	Loading        bool
	AgentBands     volume.Frame
	MicBands       volume.Frame
	Voices         []attributes.Voice
	SelectedVoice  string
	VoiceDraft     string
	AssistantName  string
	Prompt         string
	Outputs        []devices.Descriptor
	SelectedOutput string
	Error          string
}

func (c *Controller) View() View {
	state := c.conn.State()
	_, agentPresent := c.conn.Agent()
	_, agentTrack := c.conn.AgentTrack()

	v := View{
		State:          state,
		AgentPresent:   agentPresent,
		Loading:        state == session.Connecting || (state == session.Connected && !agentTrack),
		AgentBands:     c.agent.Frame(),
		MicBands:       c.mic.Frame(),
		SelectedVoice:  c.attrs.SelectedVoice(),
		Outputs:        c.outputs.List(),
		SelectedOutput: c.outputs.Selected(),
	}
	if agentPresent {
		v.Voices = c.attrs.Voices()
	}
	if err := c.conn.LastError(); err != nil {
		v.Error = err.Error()
	}

	c.mu.Lock()
	v.VoiceDraft, v.AssistantName, v.Prompt = c.voiceDraft, c.name, c.prompt
	c.mu.Unlock()
	return v
}
