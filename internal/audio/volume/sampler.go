package volume

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Frame is one reading of N band levels, each in [0, 1].
type Frame []float32

// Source yields decoded mono PCM in [-1, 1].
type Source interface {
	ReadFrame(ctx context.Context) ([]float32, error)
}

// Sampler turns the frames of one source into band levels. It computes a
// new Frame for every source frame; readers only ever see the latest one.
type Sampler struct {
	bands  int
	logger zerolog.Logger

	latest  atomic.Pointer[Frame]
	current atomic.Pointer[run]

	// serializes Attach
	mu sync.Mutex
}

type run struct {
	cancel context.CancelFunc
	done   chan struct{}
	ended  atomic.Bool
}

func NewSampler(bands int, logger ...zerolog.Logger) *Sampler {
	if bands <= 0 {
		bands = 1
	}
	s := &Sampler{
		bands:  bands,
		logger: log.With().Str("module", "volume").Logger(),
	}
	if len(logger) > 0 {
		s.logger = logger[0]
	}
	s.latest.Store(s.zero())
	return s
}

func (s *Sampler) Bands() int { return s.bands }

func (s *Sampler) zero() *Frame {
	f := make(Frame, s.bands)
	return &f
}

// Frame returns a copy of the latest levels.
func (s *Sampler) Frame() Frame {
	f := *s.latest.Load()
	out := make(Frame, len(f))
	copy(out, f)
	return out
}

// Attach starts sampling src, replacing any previous source. A nil src
// stops sampling and resets the levels to zero.
func (s *Sampler) Attach(ctx context.Context, src Source) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old := s.current.Swap(nil); old != nil {
		old.cancel()
		<-old.done
	}
	s.latest.Store(s.zero())
	if src == nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	r := &run{cancel: cancel, done: make(chan struct{})}
	s.current.Store(r)
	go s.loop(runCtx, r, src)
}

// Detach is Attach with no source.
func (s *Sampler) Detach() { s.Attach(context.Background(), nil) }

// Active reports whether a source is being sampled.
func (s *Sampler) Active() bool {
	r := s.current.Load()
	return r != nil && !r.ended.Load()
}

func (s *Sampler) loop(ctx context.Context, r *run, src Source) {
	defer close(r.done)
	a := newAnalyser()
	for {
		pcm, err := src.ReadFrame(ctx)
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				s.logger.Debug().Err(err).Msg("Volume source failed")
			}
			if s.current.Load() == r {
				r.ended.Store(true)
				s.latest.Store(s.zero())
			}
			return
		}
		a.push(pcm)
		a.update()
		f := Frame(a.bands(s.bands))
		// Attach waits for done before resetting, so a late store is overwritten.
		if s.current.Load() == r {
			s.latest.Store(&f)
		}
	}
}
