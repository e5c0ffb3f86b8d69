/*
 * Copyright (C) 2023-2025, The mailmapd authors
 *
 * This file is part of mailmapd.
 *
 * mailmapd is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * mailmapd is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <https://www.gnu.org/licenses/>.
 */

package dict

import (
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/openmx/mailmapd/mlog"
)

// File-backed tables register their sources here. Changed flips once any
// registered source is written, removed or replaced on disk, and stays set
// until the process restarts with fresh handles.
var watcher struct {
	mu      sync.Mutex
	fs      *fsnotify.Watcher
	changed bool
}

// WatchFile registers path with the change tracker. Called by file-backed
// table types at open time.
func WatchFile(path string) error {
	watcher.mu.Lock()
	defer watcher.mu.Unlock()

	if watcher.fs == nil {
		fs, err := fsnotify.NewWatcher()
		if err != nil {
			return err
		}
		watcher.fs = fs
		go watchLoop(fs)
	}
	return watcher.fs.Add(path)
}

func watchLoop(fs *fsnotify.Watcher) {
	for {
		select {
		case ev, ok := <-fs.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Remove|fsnotify.Rename|fsnotify.Create) != 0 {
				mlog.L().Debug("table source changed: " + ev.Name)
				markChanged()
			}
		case err, ok := <-fs.Errors:
			if !ok {
				return
			}
			mlog.L().Warn("table watcher error: " + err.Error())
		}
	}
}

func markChanged() {
	watcher.mu.Lock()
	watcher.changed = true
	watcher.mu.Unlock()
}

// Changed reports whether any registered table source changed on disk
// since it was registered.
func Changed() bool {
	watcher.mu.Lock()
	defer watcher.mu.Unlock()
	return watcher.changed
}
