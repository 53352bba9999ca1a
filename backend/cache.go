package backend

import (
	"fmt"
	"io"
	"sync"

	"github.com/getcharzp/go-autolabel"
	"github.com/getcharzp/go-autolabel/yolo"
	"github.com/sirupsen/logrus"
)

// CacheKey 引擎缓存键
//
// IOU 阈值不在键内, 每次调用单独传入
type CacheKey struct {
	ModelPath      string
	UseAccelerator bool
	ConfThreshold  float32
}

func (k CacheKey) String() string {
	return fmt.Sprintf("%s:%t:%g", k.ModelPath, k.UseAccelerator, k.ConfThreshold)
}

// Handle 缓存中的一个已加载引擎
type Handle struct {
	key    CacheKey
	engine *yolo.Engine
	refs   int // 由 EngineCache.mu 保护
}

// Engine 已加载的引擎
func (h *Handle) Engine() *yolo.Engine {
	return h.engine
}

// Key 缓存键
func (h *Handle) Key() CacheKey {
	return h.key
}

// EngineCache 进程级的热引擎缓存
//
// 缓存持有每个引擎的一个引用, 每个进行中的调用各持有一个引用;
// Clear 只丢弃缓存的引用, 最后一个引用释放时才销毁会话.
// 同一个键最多加载一次: 加载期间持有锁, 其他调用等待.
// 锁是整个缓存共享的, 首次加载较慢的模型时, 其他键 (包括已缓存的) 的获取也会阻塞.
type EngineCache struct {
	mu      sync.Mutex
	entries map[CacheKey]*Handle
	closed  bool

	runtime yolo.Runtime
	base    yolo.Config
	logger  *logrus.Logger
}

// CacheOption EngineCache 可选参数
type CacheOption func(*EngineCache)

// WithRuntime 指定模型运行时, 默认 ONNX Runtime
func WithRuntime(rt yolo.Runtime) CacheOption {
	return func(c *EngineCache) {
		c.runtime = rt
	}
}

// WithBaseConfig 指定加载模型时的基础配置 (运行库路径、线程数等)
func WithBaseConfig(cfg yolo.Config) CacheOption {
	return func(c *EngineCache) {
		c.base = cfg
	}
}

// WithCacheLogger 指定日志
func WithCacheLogger(logger *logrus.Logger) CacheOption {
	return func(c *EngineCache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewEngineCache 创建空缓存
func NewEngineCache(opts ...CacheOption) *EngineCache {
	discard := logrus.New()
	discard.SetOutput(io.Discard)

	c := &EngineCache{
		entries: make(map[CacheKey]*Handle),
		base:    yolo.DefaultConfig(),
		logger:  discard,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Acquire 取出 (必要时加载) 引擎, 返回句柄和释放函数
//
// 释放函数必须调用且只生效一次
func (c *EngineCache) Acquire(key CacheKey) (*Handle, func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, nil, autolabel.Errorf(autolabel.KindBackendUnavailable, "load model", "engine cache closed")
	}

	h, ok := c.entries[key]
	if !ok {
		cfg := c.base
		cfg.ModelPath = key.ModelPath
		cfg.UseCuda = key.UseAccelerator
		cfg.ConfThreshold = key.ConfThreshold

		engine, err := yolo.NewEngine(c.runtime, cfg)
		if err != nil {
			c.logger.WithField("model_path", key.ModelPath).WithError(err).Error("failed to load model")
			return nil, nil, err
		}
		w, hgt := engine.InputSize()
		c.logger.WithFields(logrus.Fields{
			"model_path":  key.ModelPath,
			"input_size":  fmt.Sprintf("%dx%d", w, hgt),
			"classes":     len(engine.ClassNames()),
			"accelerated": engine.Accelerated(),
		}).Info("model loaded")
		if key.UseAccelerator && !engine.Accelerated() {
			c.logger.WithField("key", key.String()).Warn("accelerator unavailable, running on cpu")
		}
		h = &Handle{key: key, engine: engine, refs: 1}
		c.entries[key] = h
	} else {
		c.logger.WithField("key", key.String()).Debug("engine cache hit")
	}

	h.refs++
	var once sync.Once
	release := func() {
		once.Do(func() { c.release(h) })
	}
	return h, release, nil
}

func (c *EngineCache) release(h *Handle) {
	c.mu.Lock()
	h.refs--
	last := h.refs == 0
	c.mu.Unlock()

	if last {
		c.destroy(h)
	}
}

func (c *EngineCache) destroy(h *Handle) {
	if err := h.engine.Destroy(); err != nil {
		c.logger.WithField("key", h.key.String()).WithError(err).Warn("failed to destroy engine")
		return
	}
	c.logger.WithField("key", h.key.String()).Debug("engine destroyed")
}

// Clear 清空缓存, 返回丢弃的条目数
//
// 进行中的调用不受影响, 它们结束后引擎才被销毁
func (c *EngineCache) Clear() int {
	c.mu.Lock()
	var idle []*Handle
	n := len(c.entries)
	for key, h := range c.entries {
		delete(c.entries, key)
		h.refs--
		if h.refs == 0 {
			idle = append(idle, h)
		}
	}
	c.mu.Unlock()

	for _, h := range idle {
		c.destroy(h)
	}
	c.logger.WithField("entries", n).Info("engine cache cleared")
	return n
}

// Len 缓存条目数
func (c *EngineCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Close 清空缓存并拒绝后续加载
func (c *EngineCache) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.Clear()
	return nil
}
