package library

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/zhouzirui/tongue-twister/backend/pkg/logger"
)

const defaultDebounce = 500 * time.Millisecond

// Watcher 监听目录文件变化并重新加载到 Library，加载失败时保留旧内容
type Watcher struct {
	lib      *Library
	path     string
	debounce time.Duration
	logger   *zap.Logger

	watcher *fsnotify.Watcher
	wg      sync.WaitGroup
	// reloaded 每次重新加载完成后通知（测试用），可为 nil
	reloaded chan error
}

// NewWatcher 创建文件监听器，需调用 Start 开始监听
func NewWatcher(lib *Library, path string, log *zap.Logger) *Watcher {
	return &Watcher{
		lib:      lib,
		path:     path,
		debounce: defaultDebounce,
		logger:   logger.OrNop(log).Named("library"),
	}
}

// Start 监听目录文件所在的目录；编辑器以重命名方式保存时仍能收到事件
func (w *Watcher) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("创建文件监听失败: %w", err)
	}
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("监听绕口令目录失败: %w", err)
	}
	w.watcher = watcher

	w.wg.Add(1)
	go w.loop(ctx)

	w.logger.Info("watching twister catalogue", zap.String("path", w.path))
	return nil
}

// Stop 停止监听并等待后台协程退出
func (w *Watcher) Stop() {
	if w.watcher != nil {
		_ = w.watcher.Close()
	}
	w.wg.Wait()
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()

	name := filepath.Base(w.path)
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				timer.Reset(w.debounce)
			}
		case <-timer.C:
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("twister catalogue watch error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload() {
	items, err := LoadFile(w.path)
	if err != nil {
		w.logger.Error("twister catalogue reload failed", zap.Error(err))
	} else {
		w.lib.Replace(items)
		w.logger.Info("twister catalogue reloaded", zap.Int("count", len(items)))
	}

	if w.reloaded != nil {
		select {
		case w.reloaded <- err:
		default:
		}
	}
}
