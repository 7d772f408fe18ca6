package session

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotConnected  = errors.New("no active session")
	ErrAlreadyActive = errors.New("session already active")
	// ErrSuperseded is returned by Connect when Disconnect ran before the
	// attempt finished. The late result has been torn down.
	ErrSuperseded = errors.New("connect attempt superseded")
)

// ConnectionState is the lifecycle state of the room connection.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Reconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// ParticipantKind tells the agent apart from ordinary participants.
type ParticipantKind int

const (
	KindStandard ParticipantKind = iota
	KindAgent
)

type Participant struct {
	Identity string
	Name     string
	Kind     ParticipantKind
	Local    bool
}

func (p Participant) IsAgent() bool { return p.Kind == KindAgent }

type TrackSource int

const (
	SourceUnknown TrackSource = iota
	SourceMicrophone
	SourceAgentOutput
)

func (s TrackSource) String() string {
	switch s {
	case SourceMicrophone:
		return "microphone"
	case SourceAgentOutput:
		return "agent_output"
	default:
		return "unknown"
	}
}

// Media yields decoded mono PCM frames, normalized to [-1, 1].
type Media interface {
	ReadFrame(ctx context.Context) ([]float32, error)
}

// Track is an audio track known to the session, local or remote.
type Track struct {
	ID          string
	Source      TrackSource
	Participant Participant
	Media       Media
}

func (t Track) IsLocal() bool { return t.Participant.Local }

// Credentials are issued by the token endpoint for a single join.
type Credentials struct {
	ServerURL string
	Token     string
	Identity  string
	Room      string
	ExpiresAt time.Time
}

// ConnectionError is the user-visible failure of a session.
type ConnectionError struct {
	Message string
	Err     error
}

func (e *ConnectionError) Error() string { return e.Message }
func (e *ConnectionError) Unwrap() error { return e.Err }

type EventKind int

const (
	EventStateChanged EventKind = iota
	EventParticipantJoined
	EventParticipantLeft
	EventTrackSubscribed
	EventTrackUnsubscribed
	EventAttributesChanged
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventStateChanged:
		return "state_changed"
	case EventParticipantJoined:
		return "participant_joined"
	case EventParticipantLeft:
		return "participant_left"
	case EventTrackSubscribed:
		return "track_subscribed"
	case EventTrackUnsubscribed:
		return "track_unsubscribed"
	case EventAttributesChanged:
		return "attributes_changed"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is both what a transport reports and what subscribers receive.
// SessionID is filled in by the Connection before fan-out.
type Event struct {
	Kind        EventKind
	SessionID   string
	State       ConnectionState
	Participant Participant
	Track       Track
	Attributes  map[string]string
	Err         error
}

// EventSink receives transport events for one session.
type EventSink func(Event)

// CredentialSource issues join credentials.
type CredentialSource interface {
	Fetch(ctx context.Context) (Credentials, error)
}

// Transport joins rooms. Join must honor ctx cancellation: a room that
// finishes joining after ctx is done must be released by the transport.
type Transport interface {
	Join(ctx context.Context, creds Credentials, sink EventSink) (Room, error)
}

// Room is a joined room as seen from the local participant.
type Room interface {
	LocalParticipant() Participant
	LocalAttributes() map[string]string
	// SetAttributes replaces the local attribute set and returns once the
	// server acknowledged it.
	SetAttributes(ctx context.Context, attrs map[string]string) error
	SetMicrophoneEnabled(ctx context.Context, enabled bool) error
	Disconnect()
}
