package localhost

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const (
	retryInterval = 500 * time.Millisecond
	maxRetries    = 2
)

// watcher calls reload whenever the watched file may have changed. The parent
// directory is watched so editors that replace the file by rename are noticed.
type watcher struct {
	path      string
	reload    func() error
	fs        *fsnotify.Watcher
	logger    zerolog.Logger
	closeCh   chan struct{}
	closeOnce sync.Once
}

func newWatcher(path string, reload func() error, logger zerolog.Logger) (*watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("watch localhost file: %w", err)
	}
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch localhost file: %w", err)
	}
	if err := fs.Add(filepath.Dir(abs)); err != nil {
		fs.Close()
		return nil, fmt.Errorf("watch localhost file: %w", err)
	}

	w := &watcher{
		path:    abs,
		reload:  reload,
		fs:      fs,
		logger:  logger,
		closeCh: make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Close stops the watch loop.
func (w *watcher) Close() {
	w.closeOnce.Do(func() {
		close(w.closeCh)
	})
}

func (w *watcher) run() {
	retryCh := make(chan struct{}, 1)
	retries := 0

	scheduleRetry := func() {
		time.AfterFunc(retryInterval, func() {
			select {
			case retryCh <- struct{}{}:
			default:
			}
		})
	}

	attempt := func() {
		if err := w.reload(); err != nil {
			// a partially written file fails to parse; try again shortly
			if retries < maxRetries {
				retries++
				scheduleRetry()
			}
			return
		}
		retries = 0
	}

	for {
		select {
		case <-w.closeCh:
			w.fs.Close()
			return

		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			w.logger.Debug().Str("op", event.Op.String()).Msg("localhost file event")
			w.consumeExtraEvents()
			retries = 0
			attempt()

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("localhost file watcher error")

		case <-retryCh:
			attempt()
		}
	}
}

func (w *watcher) consumeExtraEvents() {
	for {
		select {
		case <-w.fs.Events:
		default:
			return
		}
	}
}
