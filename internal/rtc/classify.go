package rtc

import (
	"maps"

	"github.com/livekit/protocol/livekit"

	"voice-session/internal/session"
)

const (
	attrParticipantKind = "lk.participant.kind"
	attrAgentState      = "lk.agent.state"
	kindAgent           = "agent"
)

// participantKind classifies a remote participant by the kind the server
// reports, falling back to the attributes the agent framework sets on its
// workers.
func participantKind(kind livekit.ParticipantInfo_Kind, attrs map[string]string) session.ParticipantKind {
	if kind == livekit.ParticipantInfo_AGENT {
		return session.KindAgent
	}
	if attrs[attrParticipantKind] == kindAgent {
		return session.KindAgent
	}
	if _, ok := attrs[attrAgentState]; ok {
		return session.KindAgent
	}
	return session.KindStandard
}

func remoteParticipant(identity, name string, kind livekit.ParticipantInfo_Kind, attrs map[string]string) session.Participant {
	return session.Participant{
		Identity: identity,
		Name:     name,
		Kind:     participantKind(kind, attrs),
	}
}

// trackSource maps a published audio track to its role in the session.
// Agents publish their voice as a microphone track.
func trackSource(owner session.Participant, src livekit.TrackSource) session.TrackSource {
	switch {
	case owner.IsAgent() && !owner.Local:
		return session.SourceAgentOutput
	case src == livekit.TrackSource_MICROPHONE:
		return session.SourceMicrophone
	default:
		return session.SourceUnknown
	}
}

// acknowledged reports whether every key in want is present in have with
// the same value.
func acknowledged(have, want map[string]string) bool {
	for k, v := range want {
		if got, ok := have[k]; !ok || got != v {
			return false
		}
	}
	return true
}

func cloneAttrs(attrs map[string]string) map[string]string {
	if attrs == nil {
		return map[string]string{}
	}
	return maps.Clone(attrs)
}
