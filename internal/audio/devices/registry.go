package devices

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"

	"voice-session/internal/metrics"
)

// Registry keeps the list of output devices and the selected one, and
// moves every registered sink when the selection changes.
type Registry struct {
	backend Backend
	watcher Watcher
	logger  zerolog.Logger
	metrics *metrics.Collector

	mu       sync.RWMutex
	devices  []Descriptor
	granted  bool
	permErr  error
	selected string
	sinks    map[uint64]Sink
	subs     map[uint64]chan []Descriptor
	nextID   uint64
}

type Option func(*Registry)

func WithWatcher(w Watcher) Option {
	return func(r *Registry) { r.watcher = w }
}

func WithLogger(l zerolog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

func WithMetrics(m *metrics.Collector) Option {
	return func(r *Registry) { r.metrics = m }
}

// NewRegistry builds a registry and performs the first enumeration.
func NewRegistry(ctx context.Context, backend Backend, opts ...Option) *Registry {
	r := &Registry{
		backend: backend,
		logger:  log.With().Str("module", "devices").Logger(),
		sinks:   make(map[uint64]Sink),
		subs:    make(map[uint64]chan []Descriptor),
	}
	for _, opt := range opts {
		opt(r)
	}
	if err := r.Refresh(ctx); err != nil {
		r.logger.Warn().Err(err).Msg("Initial device enumeration failed")
	}
	return r
}

// Run requests audio permission and then refreshes on every hot-plug
// notification until ctx ends.
func (r *Registry) Run(ctx context.Context) error {
	go func() {
		if err := r.RequestPermission(ctx); err != nil {
			r.logger.Warn().Err(err).Msg("Device labels unavailable")
		}
	}()

	if r.watcher == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	defer r.watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case _, ok := <-r.watcher.Events():
			if !ok {
				<-ctx.Done()
				return ctx.Err()
			}
			if err := r.Refresh(ctx); err != nil {
				r.logger.Warn().Err(err).Msg("Device refresh failed")
			}
		}
	}
}

// RequestPermission asks the backend for audio access and re-enumerates
// once granted so labels become available.
func (r *Registry) RequestPermission(ctx context.Context) error {
	if err := r.backend.RequestPermission(ctx); err != nil {
		err = fmt.Errorf("%w: %v", ErrPermissionDenied, err)
		r.mu.Lock()
		r.permErr = err
		r.mu.Unlock()
		return err
	}
	r.mu.Lock()
	r.granted = true
	r.permErr = nil
	r.mu.Unlock()
	r.logger.Debug().Msg("Audio permission granted")
	return r.Refresh(ctx)
}

func (r *Registry) PermissionGranted() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.granted
}

// PermissionError is the last refusal, if any.
func (r *Registry) PermissionError() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.permErr
}

// Refresh replaces the device list with a fresh enumeration.
func (r *Registry) Refresh(ctx context.Context) error {
	outputs, err := r.backend.Outputs(ctx)
	if err != nil {
		return fmt.Errorf("enumerate outputs: %w", err)
	}

	r.mu.Lock()
	list := make([]Descriptor, 0, len(outputs))
	for _, d := range outputs {
		d.Kind = KindOutput
		if !r.granted {
			d.Label = ""
		}
		list = append(list, d)
	}
	r.devices = list
	if !containsID(list, r.selected) {
		r.selected = initialSelection(list)
	}
	snapshot := slices.Clone(list)
	for _, ch := range r.subs {
		offer(ch, snapshot)
	}
	r.mu.Unlock()

	r.logger.Debug().Int("outputs", len(list)).Msg("Devices refreshed")
	return nil
}

// initialSelection picks the system default, else the first device.
func initialSelection(list []Descriptor) string {
	for _, d := range list {
		if d.Default {
			return d.ID
		}
	}
	if len(list) > 0 {
		return list[0].ID
	}
	return ""
}

func containsID(list []Descriptor, id string) bool {
	return id != "" && slices.ContainsFunc(list, func(d Descriptor) bool { return d.ID == id })
}

func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.devices)
}

func (r *Registry) Selected() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.selected
}

// Select moves every registered sink to deviceID. Sinks that fail keep
// their old device and sinks that succeeded are not rolled back. The
// selection changes when at least one sink moved, or when there are no
// sinks to move. If every sink failed the selection is unchanged.
func (r *Registry) Select(ctx context.Context, deviceID string) error {
	r.mu.RLock()
	known := containsID(r.devices, deviceID)
	sinks := make([]Sink, 0, len(r.sinks))
	for _, s := range r.sinks {
		sinks = append(sinks, s)
	}
	r.mu.RUnlock()

	if !known {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}
	slices.SortFunc(sinks, func(a, b Sink) int { return cmp.Compare(a.ID(), b.ID()) })

	var errs error
	moved := 0
	for _, s := range sinks {
		if err := r.retarget(ctx, s, deviceID); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		moved++
	}

	if len(sinks) > 0 && moved == 0 {
		r.logger.Warn().Err(errs).Str("device", deviceID).Msg("Output selection failed")
		return errs
	}

	r.mu.Lock()
	r.selected = deviceID
	r.mu.Unlock()

	if errs != nil {
		r.logger.Warn().Err(errs).Str("device", deviceID).Int("moved", moved).Msg("Output partially selected")
	} else {
		r.logger.Info().Str("device", deviceID).Int("moved", moved).Msg("Output selected")
	}
	return errs
}

func (r *Registry) retarget(ctx context.Context, s Sink, deviceID string) error {
	rt, ok := s.(Retargetable)
	if !ok {
		r.metrics.RetargetFailure()
		return fmt.Errorf("sink %s: %w", s.ID(), ErrUnsupported)
	}
	if err := rt.SetSinkID(ctx, deviceID); err != nil {
		r.metrics.RetargetFailure()
		return fmt.Errorf("sink %s: %w", s.ID(), err)
	}
	return nil
}

// AddSink registers s and moves it to the current selection. The returned
// function unregisters it and may be called more than once.
func (r *Registry) AddSink(ctx context.Context, s Sink) func() {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.sinks[id] = s
	selected := r.selected
	r.mu.Unlock()

	if selected != "" {
		if err := r.retarget(ctx, s, selected); err != nil {
			r.logger.Warn().Err(err).Msg("New sink stays on default output")
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.sinks, id)
			r.mu.Unlock()
		})
	}
}

func (r *Registry) SinkCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sinks)
}

// Subscribe streams the device list after every refresh, latest first.
// The returned function ends the subscription exactly once.
func (r *Registry) Subscribe() (<-chan []Descriptor, func()) {
	ch := make(chan []Descriptor, 1)
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.subs[id] = ch
	r.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, id)
			close(ch)
			r.mu.Unlock()
		})
	}
}

func offer(ch chan []Descriptor, list []Descriptor) {
	select {
	case ch <- list:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- list:
	default:
	}
}
