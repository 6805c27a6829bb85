package catalog

import (
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher refreshes a catalog whenever its models directory changes, so a
// model downloaded (or deleted) while the daemon runs becomes visible
// without a restart.
type Watcher struct {
	c  *Catalog
	fw *fsnotify.Watcher

	closeOnce sync.Once
	done      chan struct{}
	loopDone  chan struct{}
}

// Watch starts watching the catalog's directory. Close stops it.
func Watch(c *Catalog) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fw.Add(c.Dir()); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", c.Dir(), err)
	}
	w := &Watcher{c: c, fw: fw, done: make(chan struct{}), loopDone: make(chan struct{})}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	defer close(w.loopDone)
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename|fsnotify.Write) == 0 {
				continue
			}
			if err := w.c.Refresh(); err != nil {
				w.c.log.Warn().Err(err).Msg("catalog refresh failed")
			}
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.c.log.Warn().Err(err).Msg("catalog watcher error")
		}
	}
}

// Close stops the watcher. Safe to call more than once.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.fw.Close()
		<-w.loopDone
	})
	return err
}
