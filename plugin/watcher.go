package plugin

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"adbdesk/models"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const DefaultDebounce = 300 * time.Millisecond

type reloader interface {
	Root() string
	Reload() []models.LoadedPlugin
}

// Watcher reloads the catalog when files under its root change. Bursts of
// events are collapsed into one reload.
type Watcher struct {
	catalog  reloader
	debounce time.Duration
	// OnReload, when set, receives the plugins loaded by each reload.
	OnReload func([]models.LoadedPlugin)

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	done    chan struct{}
}

func NewWatcher(catalog *Catalog) *Watcher {
	return newWatcher(catalog, DefaultDebounce)
}

func newWatcher(catalog reloader, debounce time.Duration) *Watcher {
	return &Watcher{catalog: catalog, debounce: debounce}
}

// Start watches the root and each plugin directory directly below it.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher != nil {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "create watcher")
	}
	root := w.catalog.Root()
	if err := watcher.Add(root); err != nil {
		watcher.Close()
		return errors.Wrapf(err, "watch %s", root)
	}
	entries, err := os.ReadDir(root)
	if err == nil {
		for _, entry := range entries {
			if entry.IsDir() {
				w.add(watcher, filepath.Join(root, entry.Name()))
			}
		}
	}

	w.watcher = watcher
	w.stopCh = make(chan struct{})
	w.done = make(chan struct{})
	go w.watch(watcher, w.stopCh, w.done)

	log.Info().Str("module", "plugin_watcher").Str("path", root).Msg("started watching plugins directory")
	return nil
}

// Stop ends the watch loop and waits for it. A pending reload is dropped.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher == nil {
		return
	}
	close(w.stopCh)
	<-w.done
	w.watcher.Close()
	w.watcher = nil
	log.Info().Str("module", "plugin_watcher").Msg("stopped watching plugins directory")
}

func (w *Watcher) add(watcher *fsnotify.Watcher, dir string) {
	if err := watcher.Add(dir); err != nil {
		log.Warn().Str("module", "plugin_watcher").Str("dir", dir).Err(err).Msg("watch plugin dir")
	}
}

func (w *Watcher) watch(watcher *fsnotify.Watcher, stopCh, done chan struct{}) {
	defer close(done)

	var timer *time.Timer
	fire := make(chan struct{}, 1)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-stopCh:
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op == fsnotify.Chmod {
				continue
			}
			// New plugin directories need their own watch to see manifest edits.
			if event.Op&fsnotify.Create == fsnotify.Create {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					w.add(watcher, event.Name)
				}
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})

		case <-fire:
			loaded := w.catalog.Reload()
			log.Debug().Str("module", "plugin_watcher").Int("plugins", len(loaded)).Msg("plugins reloaded")
			if w.OnReload != nil {
				w.OnReload(loaded)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Error().Str("module", "plugin_watcher").Err(err).Msg("watcher error")
		}
	}
}
