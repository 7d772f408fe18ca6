package attributes

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"voice-session/internal/metrics"
	"voice-session/internal/session"
)

// Attribute keys shared with the agent.
const (
	KeyAssistantName = "assistant_name"
	KeyCustomPrompt  = "custom_prompt"
	KeyVoice         = "voice"
	KeyVoices        = "voices"
)

// ErrStale is returned when a push was acknowledged after its session
// ended. The acknowledgement is discarded.
var ErrStale = errors.New("attribute push outlived its session")

// Session is the part of session.Connection the sync depends on.
type Session interface {
	Active() (*session.Context, session.Room, bool)
	IsCurrent(sc *session.Context) bool
	Subscribe(buffer int) (<-chan session.Event, func())
	Agent() (session.Participant, bool)
	Attributes(identity string) map[string]string
}

// Snapshot is the full attribute set of a participant after a change.
type Snapshot struct {
	Participant session.Participant
	Attributes  map[string]string
}

// Sync pushes local participant attributes and tracks the agent's.
type Sync struct {
	conn    Session
	logger  zerolog.Logger
	metrics *metrics.Collector

	// pushMu serializes local writes so merges never interleave.
	pushMu sync.Mutex
	// last set pushed in mirrorOwner, used when the room reports none
	mirrorOwner *session.Context
	mirror      map[string]string

	catalog atomic.Pointer[Catalog]

	mu        sync.Mutex
	selected  string
	observers map[uint64]chan Snapshot
	nextObs   uint64
}

type Option func(*Sync)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Sync) { s.logger = l }
}

func WithMetrics(m *metrics.Collector) Option {
	return func(s *Sync) { s.metrics = m }
}

func NewSync(conn Session, opts ...Option) *Sync {
	s := &Sync{
		conn:      conn,
		logger:    log.With().Str("module", "attributes").Logger(),
		observers: make(map[uint64]chan Snapshot),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Apply merges partial over the local attributes and pushes the result.
// The current set is read from the room on every call, so keys written
// by others and pushes whose ack was lost are kept. Without a Connected
// session nothing is sent and session.ErrNotConnected is returned.
func (s *Sync) Apply(ctx context.Context, partial map[string]string) error {
	s.pushMu.Lock()
	defer s.pushMu.Unlock()

	sc, room, ok := s.conn.Active()
	if !ok {
		s.logger.Debug().Strs("keys", keys(partial)).Msg("Attribute update dropped, not connected")
		s.metrics.AttributePush("rejected")
		return session.ErrNotConnected
	}

	merged := room.LocalAttributes()
	if merged == nil {
		// the room has no view yet; fall back to what this session last pushed
		if s.mirrorOwner == sc {
			merged = maps.Clone(s.mirror)
		} else {
			merged = map[string]string{}
		}
	}
	maps.Copy(merged, partial)

	err := room.SetAttributes(ctx, merged)
	if !s.conn.IsCurrent(sc) {
		s.logger.Debug().Str("session_id", sc.ID).Msg("Discarding attribute ack from ended session")
		s.metrics.AttributePush("stale")
		return ErrStale
	}
	if err != nil {
		s.metrics.AttributePush("error")
		s.logger.Warn().Err(err).Strs("keys", keys(partial)).Msg("Attribute push failed")
		return fmt.Errorf("push attributes: %w", err)
	}
	s.mirror = merged
	s.mirrorOwner = sc
	s.metrics.AttributePush("ok")
	s.logger.Debug().Strs("keys", keys(partial)).Msg("Attributes pushed")
	return nil
}

// SelectVoice records id as the selection and pushes it. The local
// selection is kept even if the push fails.
func (s *Sync) SelectVoice(ctx context.Context, id string) error {
	s.mu.Lock()
	s.selected = id
	s.mu.Unlock()

	if err := s.Apply(ctx, map[string]string{KeyVoice: id}); err != nil {
		s.logger.Warn().Err(err).Str("voice", id).Msg("Voice selection kept locally only")
		return err
	}
	return nil
}

func (s *Sync) SelectedVoice() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

// Catalog returns the last well-formed voice catalog, or nil.
func (s *Sync) Catalog() *Catalog { return s.catalog.Load() }

// Voices returns the current catalog entries.
func (s *Sync) Voices() []Voice {
	if c := s.catalog.Load(); c != nil {
		return c.Voices
	}
	return nil
}

// Observe streams snapshots of remote attribute changes until ctx ends.
// Each call starts a fresh stream seeded with the agent's current set.
// Slow observers only see the newest snapshot.
func (s *Sync) Observe(ctx context.Context) <-chan Snapshot {
	ch := make(chan Snapshot, 1)

	// registering and seeding under mu orders the seed against handle
	s.mu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = ch
	if agent, ok := s.conn.Agent(); ok {
		if attrs := s.conn.Attributes(agent.Identity); attrs != nil {
			s.offer(ch, Snapshot{Participant: agent, Attributes: attrs})
		}
	}
	s.mu.Unlock()

	context.AfterFunc(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.observers[id]; ok {
			delete(s.observers, id)
			close(ch)
		}
	})
	return ch
}

// Run consumes session events until ctx ends, keeping the voice catalog
// current and feeding observers.
func (s *Sync) Run(ctx context.Context) error {
	events, dispose := s.conn.Subscribe(64)
	defer dispose()

	if agent, ok := s.conn.Agent(); ok {
		if raw, ok := s.conn.Attributes(agent.Identity)[KeyVoices]; ok {
			s.updateCatalog(raw)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			s.handle(ev)
		}
	}
}

func (s *Sync) handle(ev session.Event) {
	switch ev.Kind {
	case session.EventAttributesChanged, session.EventParticipantJoined:
	default:
		return
	}
	if ev.Participant.Local || ev.Attributes == nil {
		return
	}
	if ev.Participant.IsAgent() {
		if raw, ok := ev.Attributes[KeyVoices]; ok {
			s.updateCatalog(raw)
		}
	}

	snap := Snapshot{Participant: ev.Participant, Attributes: ev.Attributes}
	s.mu.Lock()
	for _, ch := range s.observers {
		s.offer(ch, snap)
	}
	s.mu.Unlock()
}

func (s *Sync) updateCatalog(raw string) {
	if cur := s.catalog.Load(); cur != nil && cur.Raw == raw {
		return
	}
	voices, err := ParseCatalog(raw)
	if err != nil {
		s.metrics.CatalogRejected()
		s.logger.Debug().Err(err).Msg("Keeping previous voice catalog")
		return
	}
	s.catalog.Store(&Catalog{Voices: voices, Raw: raw, UpdatedAt: time.Now()})
	s.logger.Info().Int("voices", len(voices)).Msg("Voice catalog updated")
}

// offer replaces any pending snapshot with snap.
func (s *Sync) offer(ch chan Snapshot, snap Snapshot) {
	snap.Attributes = maps.Clone(snap.Attributes)
	select {
	case ch <- snap:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- snap:
	default:
	}
}

func keys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
