package session

import (
	"context"
	"maps"
	"sync"
)

type fakeCreds struct {
	creds Credentials
	err   error
	block chan struct{}
}

func (f *fakeCreds) Fetch(ctx context.Context) (Credentials, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return Credentials{}, ctx.Err()
		}
	}
	return f.creds, f.err
}

type fakeRoom struct {
	mu           sync.Mutex
	local        Participant
	attrs        map[string]string
	micCalls     int
	micErr       error
	disconnected int
	pushes       []map[string]string
}

func (r *fakeRoom) LocalParticipant() Participant { return r.local }

func (r *fakeRoom) LocalAttributes() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return maps.Clone(r.attrs)
}

func (r *fakeRoom) SetAttributes(_ context.Context, attrs map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pushes = append(r.pushes, maps.Clone(attrs))
	r.attrs = maps.Clone(attrs)
	return nil
}

func (r *fakeRoom) SetMicrophoneEnabled(context.Context, bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.micCalls++
	return r.micErr
}

func (r *fakeRoom) Disconnect() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disconnected++
}

func (r *fakeRoom) mics() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.micCalls
}

func (r *fakeRoom) disconnects() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.disconnected
}

type fakeTransport struct {
	room  *fakeRoom
	err   error
	block chan struct{}

	mu    sync.Mutex
	sink  EventSink
	joins int
}

func (t *fakeTransport) Join(ctx context.Context, _ Credentials, sink EventSink) (Room, error) {
	t.mu.Lock()
	t.sink = sink
	t.joins++
	t.mu.Unlock()
	if t.block != nil {
		// the room finishes joining regardless of ctx, like a slow server
		<-t.block
	}
	if t.err != nil {
		return nil, t.err
	}
	return t.room, nil
}

func (t *fakeTransport) emit(ev Event) {
	t.mu.Lock()
	sink := t.sink
	t.mu.Unlock()
	sink(ev)
}
