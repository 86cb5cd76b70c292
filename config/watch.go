package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher 监听配置文件变化，只把可热更新的参数回调给上层。
// 监听所在目录，以兼容编辑器的"写临时文件再改名"。
type Watcher struct {
	path     string
	envFile  string
	cooldown time.Duration
	logger   *zap.Logger
	onUpdate func(Reloadable)
	now      func() time.Time

	watcher *fsnotify.Watcher
	done    chan struct{}

	mu         sync.Mutex
	current    Reloadable
	lastReload time.Time
}

// NewWatcher 创建监听器；initial 为当前生效的参数，相同的参数不会重复回调。
func NewWatcher(path, envFile string, cooldown time.Duration, initial Reloadable, logger *zap.Logger, onUpdate func(Reloadable)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		path:     filepath.Clean(path),
		envFile:  envFile,
		cooldown: cooldown,
		logger:   logger.Named("config"),
		onUpdate: onUpdate,
		now:      time.Now,
		watcher:  fw,
		done:     make(chan struct{}),
		current:  initial,
	}, nil
}

// Start 启动监听，ctx 结束或 Stop 后退出。
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch config dir: %w", err)
	}
	go w.loop(ctx)
	return nil
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				w.reload()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", zap.Error(err))
		}
	}
}

// reload 重新加载并在参数变化时回调，返回是否回调。
func (w *Watcher) reload() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	if w.cooldown > 0 && now.Sub(w.lastReload) < w.cooldown {
		return false
	}
	cfg, err := LoadWithEnvOverrides(w.path, w.envFile)
	if err != nil {
		// 写入过程中的半截文件也会走到这里，等待下一次事件
		w.logger.Warn("config reload rejected", zap.Error(err))
		return false
	}
	next := cfg.Reloadable()
	if next == w.current {
		return false
	}
	w.logger.Info("config reloaded",
		zap.Float64("typicalOrderSize", next.TypicalOrderSize),
		zap.Float64("nc2l", next.NC2L),
		zap.Float64("killSwitchMaxDrawdown", next.KillSwitchMaxDrawdown))
	w.current = next
	w.lastReload = now
	if w.onUpdate != nil {
		w.onUpdate(next)
	}
	return true
}

// Stop 关闭底层 watcher。
func (w *Watcher) Stop() error {
	err := w.watcher.Close()
	select {
	case <-w.done:
	case <-time.After(time.Second):
	}
	return err
}
