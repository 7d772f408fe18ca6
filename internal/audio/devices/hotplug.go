package devices

import (
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// DefaultHotplugDir holds the ALSA device nodes on Linux.
const DefaultHotplugDir = "/dev/snd"

// Watcher signals that the set of devices may have changed.
type Watcher interface {
	Events() <-chan struct{}
	Close() error
}

// FSWatcher turns device node creation and removal into change signals.
type FSWatcher struct {
	w      *fsnotify.Watcher
	events chan struct{}
	once   sync.Once
}

func NewFSWatcher(dir string) (*FSWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	fw := &FSWatcher{w: w, events: make(chan struct{}, 1)}
	go fw.loop()
	return fw, nil
}

func (fw *FSWatcher) loop() {
	defer close(fw.events)
	logger := log.With().Str("module", "devices").Logger()
	for {
		select {
		case ev, ok := <-fw.w.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) {
				continue
			}
			logger.Debug().Str("path", ev.Name).Str("op", ev.Op.String()).Msg("Device node changed")
			// coalesce bursts: one pending signal is enough
			select {
			case fw.events <- struct{}{}:
			default:
			}
		case err, ok := <-fw.w.Errors:
			if !ok {
				return
			}
			logger.Warn().Err(err).Msg("Hot-plug watcher error")
		}
	}
}

func (fw *FSWatcher) Events() <-chan struct{} { return fw.events }

func (fw *FSWatcher) Close() error {
	var err error
	fw.once.Do(func() { err = fw.w.Close() })
	return err
}
