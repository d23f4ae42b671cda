package config

import (
	"errors"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/spaghettifunk/lumerender/engine/core"
)

/**
 * @brief Watches a render node graph file and fires
 * EVENT_CODE_RENDER_GRAPH_RELOAD with the new description when it changes.
 */
type Watcher struct {
	path     string
	fsnotify *fsnotify.Watcher
	done     chan struct{}
	wg       sync.WaitGroup
	isClosed bool
	mutex    sync.Mutex
}

func NewWatcher(path string) (*Watcher, error) {
	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// editors replace files, so watch the directory and filter by name
	if err := fsWatch.Add(filepath.Dir(path)); err != nil {
		fsWatch.Close()
		return nil, err
	}
	w := &Watcher{
		path:     filepath.Clean(path),
		fsnotify: fsWatch,
		done:     make(chan struct{}),
	}
	w.wg.Add(1)
	go w.start()
	return w, nil
}

func (w *Watcher) start() {
	defer w.wg.Done()
	for {
		select {
		case e, ok := <-w.fsnotify.Events:
			if !ok {
				return
			}
			if filepath.Clean(e.Name) != w.path {
				continue
			}
			if e.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				w.reload()
			}
		case err, ok := <-w.fsnotify.Errors:
			if !ok {
				return
			}
			core.LogError(err.Error())
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) reload() {
	desc, err := LoadRenderNodeGraph(w.path)
	if err != nil {
		core.LogError("render graph reload %s: %s", w.path, err.Error())
		return
	}
	core.LogInfo("render graph %s changed, %d nodes", w.path, len(desc.Nodes))
	core.EventFire(core.EVENT_CODE_RENDER_GRAPH_RELOAD, w, core.EventContext{
		Type: core.EVENT_CODE_RENDER_GRAPH_RELOAD,
		Data: desc,
	})
}

func (w *Watcher) Close() error {
	w.mutex.Lock()
	if w.isClosed {
		w.mutex.Unlock()
		return errors.New("watcher already closed")
	}
	w.isClosed = true
	w.mutex.Unlock()

	close(w.done)
	w.wg.Wait()
	return w.fsnotify.Close()
}
