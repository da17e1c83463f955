package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// snapshot 配置文件在加载时的原始内容，保护模式的恢复来源
type snapshot struct {
	content []byte
}

// startWatch 挂接 fsnotify 变更回调并启动 viper 的文件监控。
// 调用方必须持有 mu 锁。
func (c *Config) startWatch() {
	c.viper.OnConfigChange(func(e fsnotify.Event) {
		// 恢复写入自身触发的事件直接忽略
		if c.restoring.Load() {
			return
		}

		c.mu.RLock()
		watching := c.watching
		protected := c.protected
		onChange := c.onChange
		snapContent := c.copySnapContent()
		c.mu.RUnlock()

		// StopWatch 之后回调不再生效
		if !watching {
			return
		}

		if protected {
			c.restoreFromContent(snapContent)
		} else if onChange != nil {
			onChange()
		}
	})
	c.viper.WatchConfig()
	c.watching = true
}

// StopWatch 停止响应配置文件变更。
// viper 不提供停掉底层 fsnotify watcher 的入口，这里只清除
// watching 标记让回调短路；watcher 本身随 Config 生命周期存续。
func (c *Config) StopWatch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.watching = false
}

// StartWatch 开始监控配置文件变更，重复调用是无害的 no-op
func (c *Config) StartWatch() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.watching {
		return nil
	}

	c.startWatch()
	return nil
}

// SetProtected 动态切换保护模式，开启时以当前文件内容重建快照
func (c *Config) SetProtected(protected bool) {
	c.mu.Lock()
	c.protected = protected

	var snapErr error
	if protected {
		snapErr = c.saveSnapshot()
	}
	c.mu.Unlock()

	// 释放锁后报告快照错误，避免在锁内调用用户回调
	if snapErr != nil {
		c.reportError(snapErr)
	}
}

// IsProtected 查询是否处于保护模式
func (c *Config) IsProtected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.protected
}

// saveSnapshot 读取配置文件并保存为快照。
// 调用方必须持有 mu 锁；错误交由调用方在释放锁后报告，
// 锁内回调用户代码会死锁。
func (c *Config) saveSnapshot() error {
	file := c.viper.ConfigFileUsed()
	if file == "" {
		return nil
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("保存快照失败: %w", err)
	}

	c.snap = &snapshot{content: data}
	return nil
}

// copySnapContent 复制快照内容，调用方必须持有 mu.RLock
func (c *Config) copySnapContent() []byte {
	if c.snap == nil {
		return nil
	}
	cp := make([]byte, len(c.snap.content))
	copy(cp, c.snap.content)
	return cp
}

// restoreFromContent 把配置文件写回快照内容，
// 同目录临时文件 + rename 原子替换
func (c *Config) restoreFromContent(content []byte) {
	if content == nil {
		return
	}

	file := c.viper.ConfigFileUsed()
	if file == "" {
		return
	}

	// restoring 标记挡住恢复写入自身触发的变更事件
	c.restoring.Store(true)
	defer c.restoring.Store(false)

	dir := filepath.Dir(file)
	tmp, err := os.CreateTemp(dir, ".config-restore-*")
	if err != nil {
		c.reportError(fmt.Errorf("创建临时文件失败: %w", err))
		return
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		c.reportError(fmt.Errorf("写入临时文件失败: %w", err))
		return
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		c.reportError(fmt.Errorf("关闭临时文件失败: %w", err))
		return
	}

	if err := os.Rename(tmpName, file); err != nil {
		os.Remove(tmpName)
		c.reportError(fmt.Errorf("恢复配置文件失败: %w", err))
		return
	}

	// 重新读取，让 viper 内存状态与恢复后的文件一致
	c.mu.Lock()
	err = c.viper.ReadInConfig()
	c.mu.Unlock()
	if err != nil {
		c.reportError(fmt.Errorf("恢复后重新加载配置失败: %w", err))
	}
}

// reportError 上报错误：有 onError 回调走回调，否则落到 stderr
func (c *Config) reportError(err error) {
	c.mu.RLock()
	onError := c.onError
	c.mu.RUnlock()

	if onError != nil {
		onError(err)
	} else {
		fmt.Fprintf(os.Stderr, "[config] %v\n", err)
	}
}
