package devices

import (
	"context"
	"errors"
)

var (
	ErrUnknownDevice    = errors.New("unknown output device")
	ErrUnsupported      = errors.New("output selection not supported")
	ErrPermissionDenied = errors.New("audio permission denied")
)

type Kind string

const KindOutput Kind = "audiooutput"

// Descriptor is one output device. Label is empty until audio permission
// has been granted.
type Descriptor struct {
	ID      string
	Label   string
	Kind    Kind
	Default bool
}

// DisplayName is the label, or a short stand-in derived from the id.
func (d Descriptor) DisplayName() string {
	if d.Label != "" {
		return d.Label
	}
	id := d.ID
	if len(id) > 4 {
		id = id[:4]
	}
	return "Speaker " + id
}

// Backend enumerates output devices.
type Backend interface {
	Outputs(ctx context.Context) ([]Descriptor, error)
	// RequestPermission blocks until audio access is granted or refused.
	RequestPermission(ctx context.Context) error
}

// Sink is an active audio output, one per playing track.
type Sink interface {
	ID() string
}

// Retargetable sinks can be moved to another output device.
type Retargetable interface {
	Sink
	SetSinkID(ctx context.Context, deviceID string) error
}
