package desktop

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voice-session/internal/attributes"
	"voice-session/internal/audio/devices"
	"voice-session/internal/controller"
	"voice-session/internal/session"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		line string
		want Command
		err  error
	}{
		{"voice v1", Command{Name: "voice", Arg: "v1"}, nil},
		{"  PROMPT  Be brief and kind. ", Command{Name: "prompt", Arg: "Be brief and kind."}, nil},
		{"name", Command{}, ErrMissingArg},
		{"apply", Command{Name: "apply"}, nil},
		{"exit", Command{Name: "quit"}, nil},
		{"dance", Command{}, ErrUnknownCommand},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, err := ParseCommand(tt.line)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMeter(t *testing.T) {
	assert.Equal(t, "  ", Meter([]float32{0, -1}))
	assert.Equal(t, "█▄", Meter([]float32{1.5, 0.5}))
	assert.Equal(t, "", Meter(nil))
}

type recorder struct {
	mu    sync.Mutex
	calls []string
	view  controller.View
}

func (r *recorder) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, s)
}

func (r *recorder) Connect(context.Context) error { r.add("connect"); return nil }
func (r *recorder) Disconnect()                   { r.add("disconnect") }
func (r *recorder) SetAssistantName(n string)     { r.add("name:" + n) }
func (r *recorder) SetPrompt(p string)            { r.add("prompt:" + p) }
func (r *recorder) SetVoiceDraft(id string)       { r.add("draft:" + id) }
func (r *recorder) ApplyChanges(context.Context) error {
	r.add("apply")
	return session.ErrNotConnected
}
func (r *recorder) SelectVoice(_ context.Context, id string) error {
	r.add("voice:" + id)
	return nil
}
func (r *recorder) SelectOutput(_ context.Context, id string) error {
	r.add("output:" + id)
	return devices.ErrUnknownDevice
}
func (r *recorder) Outputs() []devices.Descriptor {
	return []devices.Descriptor{{ID: "abcdef", Default: true}}
}
func (r *recorder) View() controller.View { return r.view }

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func TestStartDesktopInterface(t *testing.T) {
	rec := &recorder{view: controller.View{
		State:  session.Connected,
		Voices: []attributes.Voice{{ID: "v1", Name: "Nova"}},
	}}
	var out bytes.Buffer
	di, err := NewDesktopInterface(rec, &out, time.Hour)
	require.NoError(t, err)

	in := strings.NewReader("name Ada\nprompt Be brief.\nvoice v1\napply\noutput zz\ndevices\nvoices\nbogus\ndisconnect\nquit\nname ignored\n")
	require.NoError(t, di.StartDesktopInterface(context.Background(), in))

	assert.Equal(t, []string{
		"name:Ada", "prompt:Be brief.", "draft:v1", "voice:v1", "apply", "output:zz", "disconnect",
	}, rec.snapshot())

	text := out.String()
	assert.Contains(t, text, session.ErrNotConnected.Error())
	assert.Contains(t, text, devices.ErrUnknownDevice.Error())
	assert.Contains(t, text, "Speaker abcd")
	assert.Contains(t, text, "Nova")
	assert.Contains(t, text, ErrUnknownCommand.Error())
	assert.Contains(t, text, "Exiting...")
}

func TestNewDesktopInterfaceRequiresActions(t *testing.T) {
	_, err := NewDesktopInterface(nil, &bytes.Buffer{}, 0)
	assert.Error(t, err)
}

func TestStatusLine(t *testing.T) {
	line := StatusLine(controller.View{
		State:      session.Connecting,
		Loading:    true,
		AgentBands: []float32{0, 1},
		Error:      "boom",
	})
	assert.Contains(t, line, "connecting")
	assert.Contains(t, line, "waiting for agent")
	assert.Contains(t, line, "boom")
}
