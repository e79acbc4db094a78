package config

import (
	"errors"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/spaghettifunk/lumen/engine/core"
)

/**
 * @brief Watches a configuration file and re-parses it whenever it is
 * written. Reload snapshots are delivered over Updates; a parse failure
 * keeps the previous snapshot and only logs.
 */
type Watcher struct {
	path string

	fsnotify *fsnotify.Watcher
	updates  chan Config
	done     chan struct{}
	isClosed bool
}

func NewWatcher(path string) (*Watcher, error) {
	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		path:     path,
		fsnotify: fsWatch,
		updates:  make(chan Config, 1),
		done:     make(chan struct{}),
	}

	// Watch the directory, not the file: editors commonly replace the file
	// on save, which drops a file-level watch.
	if err := fsWatch.Add(filepath.Dir(path)); err != nil {
		fsWatch.Close()
		return nil, err
	}

	go w.start()
	return w, nil
}

// Updates delivers a fresh Config after every successful reload.
func (w *Watcher) Updates() <-chan Config {
	return w.updates
}

func (w *Watcher) Close() error {
	if w.isClosed {
		return errors.New("config watcher already closed")
	}
	w.isClosed = true
	close(w.done)
	return nil
}

func (w *Watcher) start() {
	for {
		select {
		case e := <-w.fsnotify.Events:
			if filepath.Clean(e.Name) != filepath.Clean(w.path) {
				continue
			}
			if e.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				core.LogError("config reload failed: %s", err.Error())
				continue
			}
			core.LogInfo("config '%s' reloaded", w.path)
			// Drop the stale snapshot if the consumer has not drained it.
			select {
			case <-w.updates:
			default:
			}
			w.updates <- cfg

		case e := <-w.fsnotify.Errors:
			if e != nil {
				core.LogError(e.Error())
			}

		case <-w.done:
			w.fsnotify.Close()
			close(w.updates)
			return
		}
	}
}
