package config

import (
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// debounceInterval coalesces the burst of write/chmod/rename events most
// editors and volume mounts produce for a single logical save (§4.5 "Hot
// reload") into one reconcile trigger.
const debounceInterval = 200 * time.Millisecond

// WatchStaticFile watches path for changes and sends to changed whenever the
// file was created, written, or renamed, debounced by debounceInterval. It
// runs until ctx-less stop is closed. A missing file at watch-start is not
// an error: the watch is placed on the file's parent directory, so a file
// created later is still picked up, mirroring loadStaticFile's treatment
// of ENOENT as "no static config yet".
func WatchStaticFile(path string, changed chan<- struct{}, stop <-chan struct{}, log *logrus.Entry) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	dir := parentDir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}

	go runWatch(watcher, path, changed, stop, log)
	return nil
}

func runWatch(watcher *fsnotify.Watcher, path string, changed chan<- struct{}, stop <-chan struct{}, log *logrus.Entry) {
	defer watcher.Close()

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-stop:
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Name != path {
				continue
			}
			if !(event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounceInterval)
			} else {
				if !timer.Stop() {
					<-timerC
				}
				timer.Reset(debounceInterval)
			}
			timerC = timer.C

		case <-timerC:
			timer, timerC = nil, nil
			select {
			case changed <- struct{}{}:
			default:
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.WithError(err).Warn("config: watch error")
		}
	}
}

func parentDir(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}
