package devices

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	mu      sync.Mutex
	outputs []Descriptor
	permErr error
	listErr error
}

func (b *fakeBackend) Outputs(context.Context) ([]Descriptor, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Descriptor(nil), b.outputs...), b.listErr
}

func (b *fakeBackend) RequestPermission(context.Context) error { return b.permErr }

func (b *fakeBackend) set(outputs ...Descriptor) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.outputs = outputs
}

type fakeSink struct {
	id     string
	err    error
	mu     sync.Mutex
	device string
}

func (s *fakeSink) ID() string { return s.id }

func (s *fakeSink) SetSinkID(_ context.Context, deviceID string) error {
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.device = deviceID
	return nil
}

func (s *fakeSink) current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.device
}

// legacySink cannot be retargeted.
type legacySink struct{ id string }

func (s legacySink) ID() string { return s.id }

type chanWatcher chan struct{}

func (w chanWatcher) Events() <-chan struct{} { return w }
func (w chanWatcher) Close() error            { return nil }

func TestLabelsHiddenUntilPermission(t *testing.T) {
	backend := &fakeBackend{outputs: []Descriptor{{ID: "abcdef", Label: "USB Speakers"}}}
	r := NewRegistry(context.Background(), backend)

	list := r.List()
	require.Len(t, list, 1)
	assert.Empty(t, list[0].Label)
	assert.Equal(t, "Speaker abcd", list[0].DisplayName())
	assert.Equal(t, KindOutput, list[0].Kind)

	require.NoError(t, r.RequestPermission(context.Background()))
	assert.True(t, r.PermissionGranted())
	assert.Equal(t, "USB Speakers", r.List()[0].DisplayName())
}

func TestPermissionDenied(t *testing.T) {
	backend := &fakeBackend{permErr: errors.New("no capture device")}
	r := NewRegistry(context.Background(), backend)

	err := r.RequestPermission(context.Background())
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.ErrorIs(t, r.PermissionError(), ErrPermissionDenied)
	assert.False(t, r.PermissionGranted())
}

func TestDefaultSelection(t *testing.T) {
	backend := &fakeBackend{outputs: []Descriptor{{ID: "a"}, {ID: "b", Default: true}}}
	r := NewRegistry(context.Background(), backend)
	assert.Equal(t, "b", r.Selected())

	backend.set(Descriptor{ID: "c"})
	require.NoError(t, r.Refresh(context.Background()))
	assert.Equal(t, "c", r.Selected(), "vanished selection falls back")
}

func TestSelectPartialFailure(t *testing.T) {
	backend := &fakeBackend{outputs: []Descriptor{{ID: "a"}, {ID: "b"}}}
	r := NewRegistry(context.Background(), backend)

	first := &fakeSink{id: "el-1"}
	second := &fakeSink{id: "el-2", err: errors.New("setSinkId rejected")}
	defer r.AddSink(context.Background(), first)()
	defer r.AddSink(context.Background(), second)()

	err := r.Select(context.Background(), "b")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "el-2")
	assert.NotContains(t, err.Error(), "el-1")
	assert.Equal(t, "b", r.Selected())
	assert.Equal(t, "b", first.current(), "successful retarget persists")
}

func TestSelectAllUnsupportedAborts(t *testing.T) {
	backend := &fakeBackend{outputs: []Descriptor{{ID: "a"}, {ID: "b"}}}
	r := NewRegistry(context.Background(), backend)
	dispose := r.AddSink(context.Background(), legacySink{id: "el-1"})
	defer dispose()

	err := r.Select(context.Background(), "b")
	assert.ErrorIs(t, err, ErrUnsupported)
	assert.Equal(t, "a", r.Selected())
}

func TestSelectUnknownDevice(t *testing.T) {
	r := NewRegistry(context.Background(), &fakeBackend{outputs: []Descriptor{{ID: "a"}}})
	assert.ErrorIs(t, r.Select(context.Background(), "zz"), ErrUnknownDevice)
}

func TestSelectWithoutSinks(t *testing.T) {
	r := NewRegistry(context.Background(), &fakeBackend{outputs: []Descriptor{{ID: "a"}, {ID: "b"}}})
	require.NoError(t, r.Select(context.Background(), "b"))
	assert.Equal(t, "b", r.Selected())

	late := &fakeSink{id: "el-9"}
	dispose := r.AddSink(context.Background(), late)
	assert.Equal(t, "b", late.current(), "new sinks follow the selection")
	assert.Equal(t, 1, r.SinkCount())
	dispose()
	dispose()
	assert.Equal(t, 0, r.SinkCount())
}

func TestHotplugRefreshesWholesale(t *testing.T) {
	backend := &fakeBackend{outputs: []Descriptor{{ID: "a"}}}
	w := make(chanWatcher, 1)
	r := NewRegistry(context.Background(), backend, WithWatcher(w))
	updates, stop := r.Subscribe()
	defer stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = r.Run(ctx) }()

	backend.set(Descriptor{ID: "x"}, Descriptor{ID: "y"})
	w <- struct{}{}

	require.Eventually(t, func() bool { return len(r.List()) == 2 }, time.Second, 5*time.Millisecond)
	var last []Descriptor
	require.Eventually(t, func() bool {
		select {
		case last = <-updates:
		default:
		}
		return len(last) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "x", last[0].ID)
}

func TestSubscribeDisposeOnce(t *testing.T) {
	r := NewRegistry(context.Background(), &fakeBackend{})
	ch, stop := r.Subscribe()
	stop()
	stop()
	_, ok := <-ch
	assert.False(t, ok)
	require.NoError(t, r.Refresh(context.Background()))
}
