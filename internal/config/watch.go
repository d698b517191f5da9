package config

import (
	"context"
	"errors"
	"math/rand"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "motorsched/pkg/logx"
)

const (
	reloadDebounce  = 250 * time.Millisecond
	watchBackoff    = 250 * time.Millisecond
	watchBackoffCap = 5 * time.Second
)

const relevantOps = fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove

// Watch reloads the config whenever the file changes, until ctx is done.
// The directory is watched rather than the file so rename-on-save editors
// keep working. Bursts of events collapse into one reload. A failing
// watcher is rebuilt with jittered backoff.
func (m *ConfigManager) Watch(ctx context.Context) error {
	if m.path == "" {
		return nil
	}
	dir, file := filepath.Dir(m.path), filepath.Base(m.path)
	deb := &debouncer{wait: reloadDebounce, fn: func() { m.reload(ctx) }}
	defer deb.stop()

	backoff := watchBackoff
	for ctx.Err() == nil {
		err := m.watchOnce(ctx, dir, file, deb.trigger, func() { backoff = watchBackoff })
		if ctx.Err() != nil {
			return nil
		}
		wait := backoff + time.Duration(rand.Int63n(int64(backoff/2+1)))
		m.log.Warn("config watcher failed; retrying", logx.String("dir", dir), logx.Err(err), logx.Duration("backoff", wait))
		backoff = min(backoff*2, watchBackoffCap)
		select {
		case <-ctx.Done():
		case <-time.After(wait):
		}
	}
	return nil
}

// watchOnce runs one fsnotify watcher until it fails or ctx is done.
// healthy is called once the watch is established.
func (m *ConfigManager) watchOnce(ctx context.Context, dir, file string, onChange, healthy func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return err
	}
	healthy()
	m.log.Debug("watching config", logx.String("dir", dir), logx.String("file", file))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return errors.New("watcher events closed")
			}
			if ev.Op&relevantOps != 0 && filepath.Base(ev.Name) == file {
				m.log.Debug("config file event", logx.String("op", ev.Op.String()))
				onChange()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return errors.New("watcher errors closed")
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				// Events were lost; the file may have changed.
				onChange()
				continue
			}
			m.log.Warn("config watch error", logx.Err(err))
		}
	}
}

// debouncer runs fn once, wait after the last trigger.
type debouncer struct {
	wait time.Duration
	fn   func()

	mu    sync.Mutex
	timer *time.Timer
}

func (d *debouncer) trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer == nil {
		d.timer = time.AfterFunc(d.wait, d.fn)
		return
	}
	d.timer.Reset(d.wait)
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
}
