package prefs

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher signals when the preferences file is written. The parent directory
// is watched so that editors replacing the file are noticed too.
type Watcher struct {
	inner *fsnotify.Watcher
	name  string

	signal chan struct{}
	done   chan struct{}
}

// NewWatcher starts watching path.
func NewWatcher(path string) (*Watcher, error) {
	inner, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		inner.Close()
		return nil, err
	}

	if err := inner.Add(filepath.Dir(abs)); err != nil {
		inner.Close()
		return nil, err
	}

	w := &Watcher{
		inner:  inner,
		name:   abs,
		signal: make(chan struct{}),
		done:   make(chan struct{}),
	}

	go w.run()
	return w, nil
}

// Close stops the watcher.
func (w *Watcher) Close() {
	go func() {
		for range w.signal {
		}
	}()
	w.inner.Close()
	<-w.done
}

func (w *Watcher) run() {
	defer close(w.done)

outer:
	for {
		select {
		case event, ok := <-w.inner.Events:
			if !ok {
				break outer
			}
			if filepath.Clean(event.Name) != w.name {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				// wait some additional time to avoid reading a partial file
				time.Sleep(10 * time.Millisecond)
				w.signal <- struct{}{}
			}

		case _, ok := <-w.inner.Errors:
			if !ok {
				break outer
			}
		}
	}

	close(w.signal)
}

// Watch returns a channel that receives a value after every change.
func (w *Watcher) Watch() chan struct{} {
	return w.signal
}
