package relay

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/asheshgoplani/cursor-relay/internal/platform"
)

// notifyDebounce is how long after the last store-file event the nudge
// fires. SQLite touches the wal in bursts during a write transaction.
const notifyDebounce = 300 * time.Millisecond

// StoreNotifier watches the store file for writes and nudges the watcher
// ahead of its next tick. Opt-in; the poll cadence itself never changes,
// and a nudged cycle still goes through change suppression.
type StoreNotifier struct {
	fsw     *fsnotify.Watcher
	nudge   func()
	targets map[string]bool

	closeCh   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// WatchStore watches dbPath and its -wal sibling and runs nudge debounced
// after each burst of write events. The parent directory is watched rather
// than the files themselves so the watch survives the store being replaced
// in place.
func WatchStore(dbPath string, nudge func()) (*StoreNotifier, error) {
	if warn := platform.CheckFsnotifySupport(dbPath); warn != "" {
		log.Warn("store_watch_degraded", slog.String("reason", warn))
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("relay: watch store: %w", err)
	}
	if err := fsw.Add(filepath.Dir(dbPath)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("relay: watch store: %w", err)
	}

	clean := filepath.Clean(dbPath)
	n := &StoreNotifier{
		fsw:   fsw,
		nudge: nudge,
		targets: map[string]bool{
			clean:          true,
			clean + "-wal": true,
		},
		closeCh: make(chan struct{}),
	}
	n.wg.Add(1)
	go n.eventLoop()

	log.Info("store_watch_started", slog.String("path", dbPath))
	return n, nil
}

func (n *StoreNotifier) eventLoop() {
	defer n.wg.Done()

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-n.closeCh:
			return
		case event, ok := <-n.fsw.Events:
			if !ok {
				return
			}
			if !n.targets[filepath.Clean(event.Name)] {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(notifyDebounce, n.nudge)
		case err, ok := <-n.fsw.Errors:
			if !ok {
				return
			}
			log.Warn("store_watch_error", slog.String("error", err.Error()))
		}
	}
}

// Close stops the watch. Safe to call multiple times. A debounce timer
// already armed may still fire one nudge after Close returns.
func (n *StoreNotifier) Close() error {
	n.closeOnce.Do(func() {
		n.fsw.Close()
		close(n.closeCh)
	})
	n.wg.Wait()
	return nil
}
