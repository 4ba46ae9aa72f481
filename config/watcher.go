package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ReloadCallback 配置热更新回调函数类型
type ReloadCallback func(oldConfig, newConfig *Config)

// ConfigWatcher 配置文件监控器
// 只监控文件变化并重新加载，可热更新的字段由回调方自行应用
type ConfigWatcher struct {
	configPath  string
	watcher     *fsnotify.Watcher
	mu          sync.RWMutex
	current     *Config
	callbacks   []ReloadCallback
	isWatching  bool
	lastModTime time.Time
}

// NewConfigWatcher 创建配置监控器
func NewConfigWatcher(configPath string, initialConfig *Config) (*ConfigWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("创建文件监控器失败: %v", err)
	}

	// 获取配置文件所在目录（监控目录而不是文件，兼容编辑器的原子替换写入）
	configDir := filepath.Dir(configPath)
	if configDir == "" || configDir == "." {
		configDir, err = os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("获取当前目录失败: %v", err)
		}
		configPath = filepath.Join(configDir, filepath.Base(configPath))
	}

	var lastModTime time.Time
	if info, err := os.Stat(configPath); err == nil {
		lastModTime = info.ModTime()
	}

	return &ConfigWatcher{
		configPath:  configPath,
		watcher:     watcher,
		current:     initialConfig,
		lastModTime: lastModTime,
	}, nil
}

// RegisterCallback 注册配置更新回调
func (cw *ConfigWatcher) RegisterCallback(callback ReloadCallback) {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.callbacks = append(cw.callbacks, callback)
}

// Current 获取当前配置
func (cw *ConfigWatcher) Current() *Config {
	cw.mu.RLock()
	defer cw.mu.RUnlock()
	return cw.current
}

// Start 开始监控配置文件
func (cw *ConfigWatcher) Start(ctx context.Context) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if cw.isWatching {
		return fmt.Errorf("配置监控器已经在运行")
	}

	configDir := filepath.Dir(cw.configPath)
	if err := cw.watcher.Add(configDir); err != nil {
		return fmt.Errorf("添加监控目录失败: %v", err)
	}

	cw.isWatching = true
	go cw.watchLoop(ctx)

	return nil
}

// Stop 停止监控
func (cw *ConfigWatcher) Stop() error {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	if !cw.isWatching {
		return nil
	}
	cw.isWatching = false
	return cw.watcher.Close()
}

// watchLoop 监控循环
func (cw *ConfigWatcher) watchLoop(ctx context.Context) {
	// 去抖：编辑器保存常触发多个事件，合并 500ms 内的变更
	var debounce *time.Timer

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(cw.configPath) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(500*time.Millisecond, cw.reload)

		case _, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// reload 重新加载配置并通知回调
func (cw *ConfigWatcher) reload() {
	info, err := os.Stat(cw.configPath)
	if err != nil {
		return
	}

	cw.mu.Lock()
	if !info.ModTime().After(cw.lastModTime) {
		cw.mu.Unlock()
		return
	}
	cw.lastModTime = info.ModTime()
	cw.mu.Unlock()

	newCfg, err := LoadConfig(cw.configPath)
	if err != nil {
		// 配置非法时保留旧配置继续运行
		return
	}

	cw.mu.Lock()
	oldCfg := cw.current
	cw.current = newCfg
	callbacks := make([]ReloadCallback, len(cw.callbacks))
	copy(callbacks, cw.callbacks)
	cw.mu.Unlock()

	for _, cb := range callbacks {
		cb(oldCfg, newCfg)
	}
}
