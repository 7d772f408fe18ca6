package controller

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voice-session/internal/attributes"
	"voice-session/internal/audio/devices"
	"voice-session/internal/session"
)

type fakeConn struct {
	mu       sync.Mutex
	state    session.ConnectionState
	lastErr  error
	agent    *session.Participant
	agentTr  *session.Track
	micTr    *session.Track
	subs     []chan session.Event
	connects int
}

func (f *fakeConn) Connect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	f.state = session.Connected
	return nil
}

func (f *fakeConn) Disconnect() {
	f.mu.Lock()
	f.state = session.Disconnected
	f.agentTr, f.micTr, f.agent = nil, nil, nil
	f.mu.Unlock()
	f.publish(session.Event{Kind: session.EventStateChanged, State: session.Disconnected})
}

func (f *fakeConn) Toggle(ctx context.Context) error {
	if f.State() == session.Disconnected {
		return f.Connect(ctx)
	}
	f.Disconnect()
	return nil
}

func (f *fakeConn) State() session.ConnectionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeConn) LastError() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastErr
}

func (f *fakeConn) Subscribe(buffer int) (<-chan session.Event, func()) {
	ch := make(chan session.Event, buffer)
	f.mu.Lock()
	f.subs = append(f.subs, ch)
	f.mu.Unlock()
	return ch, func() {}
}

func (f *fakeConn) publish(ev session.Event) {
	f.mu.Lock()
	subs := append([]chan session.Event(nil), f.subs...)
	f.mu.Unlock()
	for _, ch := range subs {
		ch <- ev
	}
}

func (f *fakeConn) Agent() (session.Participant, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.agent == nil {
		return session.Participant{}, false
	}
	return *f.agent, true
}

func (f *fakeConn) AgentTrack() (session.Track, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.agentTr == nil {
		return session.Track{}, false
	}
	return *f.agentTr, true
}

func (f *fakeConn) LocalMicrophoneTrack() (session.Track, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.micTr == nil {
		return session.Track{}, false
	}
	return *f.micTr, true
}

func (f *fakeConn) subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

type fakeAttrs struct {
	mu       sync.Mutex
	calls    []string
	applied  []map[string]string
	selected string
	voices   []attributes.Voice
	voiceErr error
	applyErr error
}

func (f *fakeAttrs) Run(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (f *fakeAttrs) Apply(_ context.Context, partial map[string]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "apply")
	f.applied = append(f.applied, partial)
	return f.applyErr
}

func (f *fakeAttrs) SelectVoice(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "voice:"+id)
	f.selected = id
	return f.voiceErr
}

func (f *fakeAttrs) SelectedVoice() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.selected
}

func (f *fakeAttrs) Voices() []attributes.Voice { return f.voices }

type fakeOutputs struct {
	list     []devices.Descriptor
	selected string
	err      error
}

func (f *fakeOutputs) List() []devices.Descriptor { return f.list }
func (f *fakeOutputs) Selected() string           { return f.selected }
func (f *fakeOutputs) Select(_ context.Context, id string) error {
	if f.err != nil {
		return f.err
	}
	f.selected = id
	return nil
}

// toneMedia repeats a loud 4 kHz frame until ctx is done.
type toneMedia struct{}

func (*toneMedia) ReadFrame(ctx context.Context) ([]float32, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(5 * time.Millisecond):
	}
	pcm := make([]float32, 960)
	for i := range pcm {
		pcm[i] = float32(0.8 * math.Sin(2*math.Pi*4000*float64(i)/48000))
	}
	return pcm, nil
}

func newTestController() (*Controller, *fakeConn, *fakeAttrs, *fakeOutputs) {
	conn := &fakeConn{}
	attrs := &fakeAttrs{voices: []attributes.Voice{{ID: "v1", Name: "Nova"}}}
	outs := &fakeOutputs{list: []devices.Descriptor{{ID: "a", Kind: devices.KindOutput}}, selected: "a"}
	return New(conn, attrs, outs), conn, attrs, outs
}

func sum(f []float32) float32 {
	var s float32
	for _, v := range f {
		s += v
	}
	return s
}

func TestDefaults(t *testing.T) {
	c, _, _, _ := newTestController()
	v := c.View()

	assert.Equal(t, DefaultAssistantName, v.AssistantName)
	assert.Equal(t, DefaultPrompt, v.Prompt)
	assert.Len(t, v.AgentBands, DefaultAgentBands)
	assert.Len(t, v.MicBands, DefaultMicBands)
	assert.Zero(t, sum(v.AgentBands))
	assert.False(t, v.Loading)
	assert.Equal(t, session.Disconnected, v.State)
}

func TestWithBands(t *testing.T) {
	c := New(&fakeConn{}, &fakeAttrs{}, &fakeOutputs{}, WithBands(3, 7))
	v := c.View()
	assert.Len(t, v.AgentBands, 3)
	assert.Len(t, v.MicBands, 7)
}

func TestViewLoadingAndVoices(t *testing.T) {
	c, conn, _, _ := newTestController()

	conn.state = session.Connecting
	v := c.View()
	assert.True(t, v.Loading)
	assert.Empty(t, v.Voices, "voices hidden without an agent")

	conn.state = session.Connected
	conn.agent = &session.Participant{Identity: "agent", Kind: session.KindAgent}
	v = c.View()
	assert.True(t, v.Loading, "connected without agent audio is still loading")
	assert.Len(t, v.Voices, 1)

	conn.agentTr = &session.Track{ID: "TR_1", Source: session.SourceAgentOutput, Media: &toneMedia{}}
	assert.False(t, c.View().Loading)
}

func TestViewError(t *testing.T) {
	c, conn, _, _ := newTestController()
	conn.lastErr = &session.ConnectionError{Message: "could not reach the server"}
	assert.Equal(t, "could not reach the server", c.View().Error)
}

func TestApplyChangesPushesVoiceFirst(t *testing.T) {
	c, _, attrs, _ := newTestController()
	c.SetAssistantName("Ada")
	c.SetPrompt("Be brief.")
	c.SetVoiceDraft("v1")

	require.NoError(t, c.ApplyChanges(context.Background()))

	assert.Equal(t, []string{"voice:v1", "apply"}, attrs.calls)
	assert.Equal(t, map[string]string{
		attributes.KeyAssistantName: "Ada",
		attributes.KeyCustomPrompt:  "Be brief.",
	}, attrs.applied[0])
}

func TestApplyChangesWithoutVoice(t *testing.T) {
	c, _, attrs, _ := newTestController()
	require.NoError(t, c.ApplyChanges(context.Background()))
	assert.Equal(t, []string{"apply"}, attrs.calls)
}

func TestApplyChangesCollectsErrors(t *testing.T) {
	c, _, attrs, _ := newTestController()
	attrs.voiceErr = errors.New("voice rejected")
	attrs.applyErr = session.ErrNotConnected
	c.SetVoiceDraft("v1")

	err := c.ApplyChanges(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, session.ErrNotConnected)
	assert.Contains(t, err.Error(), "voice rejected")
	assert.Len(t, attrs.calls, 2, "second push still attempted")
}

func TestSelectVoice(t *testing.T) {
	c, _, attrs, _ := newTestController()

	assert.ErrorIs(t, c.SelectVoice(context.Background(), ""), ErrNoVoiceDraft)
	require.NoError(t, c.SelectVoice(context.Background(), "v1"))
	assert.Equal(t, "v1", attrs.SelectedVoice())
	assert.Equal(t, "v1", c.View().VoiceDraft)
}

func TestSelectOutput(t *testing.T) {
	c, _, _, outs := newTestController()
	require.NoError(t, c.SelectOutput(context.Background(), "b"))
	assert.Equal(t, "b", c.View().SelectedOutput)

	outs.err = devices.ErrUnsupported
	assert.ErrorIs(t, c.SelectOutput(context.Background(), "a"), devices.ErrUnsupported)
	assert.Len(t, c.Outputs(), 1)
}

func TestToggle(t *testing.T) {
	c, conn, _, _ := newTestController()
	require.NoError(t, c.Toggle(context.Background()))
	assert.Equal(t, session.Connected, conn.State())
	require.NoError(t, c.Toggle(context.Background()))
	assert.Equal(t, session.Disconnected, conn.State())
}

func TestMetersFollowTracks(t *testing.T) {
	c, conn, _, _ := newTestController()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool { return conn.subscribers() == 1 }, time.Second, 5*time.Millisecond)

	conn.mu.Lock()
	conn.state = session.Connected
	conn.agent = &session.Participant{Identity: "agent", Kind: session.KindAgent}
	conn.agentTr = &session.Track{ID: "TR_1", Source: session.SourceAgentOutput, Media: &toneMedia{}}
	conn.mu.Unlock()
	conn.publish(session.Event{Kind: session.EventTrackSubscribed})

	require.Eventually(t, func() bool { return sum(c.View().AgentBands) > 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, sum(c.View().MicBands), "no microphone track yet")

	conn.Disconnect()
	require.Eventually(t, func() bool { return sum(c.View().AgentBands) == 0 }, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}

func TestMeterFollowsAgentRecognizedLate(t *testing.T) {
	c, conn, _, _ := newTestController()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	require.Eventually(t, func() bool { return conn.subscribers() == 1 }, time.Second, 5*time.Millisecond)

	conn.mu.Lock()
	conn.state = session.Connected
	conn.mu.Unlock()
	conn.publish(session.Event{Kind: session.EventTrackSubscribed})
	assert.True(t, c.View().Loading)

	// the track only turns into the agent's once its role attribute lands
	agent := session.Participant{Identity: "agent", Kind: session.KindAgent}
	conn.mu.Lock()
	conn.agent = &agent
	conn.agentTr = &session.Track{ID: "TR_1", Source: session.SourceAgentOutput, Participant: agent, Media: &toneMedia{}}
	conn.mu.Unlock()
	conn.publish(session.Event{Kind: session.EventAttributesChanged, Participant: agent})

	require.Eventually(t, func() bool { return sum(c.View().AgentBands) > 0 }, 2*time.Second, 10*time.Millisecond)
	assert.False(t, c.View().Loading)
}
