package inference

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/getcharzp/go-autolabel"
	"github.com/getcharzp/go-autolabel/annotation"
	"github.com/getcharzp/go-autolabel/backend"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/up-zero/gotool/imageutil"
)

// Result 单张图片的推理结果
type Result struct {
	ImagePath       string              `json:"image_path"`
	Annotations     []annotation.Record `json:"annotations"`
	InferenceTimeMs float64             `json:"inference_time_ms"`
}

// BatchResult 批量推理结果
type BatchResult struct {
	Results      []*Result `json:"results"`
	TotalTimeMs  float64   `json:"total_time_ms"`
	SuccessCount int       `json:"success_count"`
	ErrorCount   int       `json:"error_count"`
}

// ModelSummary 本地模型信息
type ModelSummary struct {
	ModelPath  string   `json:"model_path"`
	InputSize  [2]int   `json:"input_size"`
	ClassNames []string `json:"class_names"`
}

// Manager 推理编排器
//
// 引擎缓存是唯一长期存在的共享状态, 由 Manager 持有, 可被多个调用并发使用
type Manager struct {
	cache      *backend.EngineCache
	store      annotation.Store
	httpClient *http.Client
	logger     *logrus.Logger
	now        func() time.Time
	newID      func() string
}

// Option Manager 可选参数
type Option func(*Manager)

// WithEngineCache 使用指定的引擎缓存
func WithEngineCache(c *backend.EngineCache) Option {
	return func(m *Manager) { m.cache = c }
}

// WithStore 使用指定的标注存储
func WithStore(s annotation.Store) Option {
	return func(m *Manager) { m.store = s }
}

// WithHTTPClient 远程后端使用的 http.Client
func WithHTTPClient(c *http.Client) Option {
	return func(m *Manager) { m.httpClient = c }
}

// WithLogger 指定日志
func WithLogger(l *logrus.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithClock 指定时间来源
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithIDGenerator 指定标注 id 生成器
func WithIDGenerator(f func() string) Option {
	return func(m *Manager) { m.newID = f }
}

// NewManager 创建推理编排器
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		httpClient: &http.Client{},
		now:        time.Now,
		newID:      func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = logrus.New()
		m.logger.SetOutput(io.Discard)
	}
	if m.cache == nil {
		m.cache = backend.NewEngineCache(backend.WithCacheLogger(m.logger))
	}
	if m.store == nil {
		m.store = annotation.NewFileStore()
	}
	return m
}

// EngineCache 引擎缓存
func (m *Manager) EngineCache() *backend.EngineCache {
	return m.cache
}

// InferSingle 推理单张图片并覆盖保存其标注
//
// 只有全部成功时才写入标注
func (m *Manager) InferSingle(ctx context.Context, imagePath string, cfg Config) (*Result, error) {
	img, err := imageutil.Open(imagePath)
	if err != nil {
		return nil, autolabel.NewError(autolabel.KindInput, "load image",
			fmt.Errorf("failed to open %s: %w", imagePath, err))
	}

	b, err := m.backendFor(cfg.Mode)
	if err != nil {
		return nil, err
	}
	dets, elapsed, err := b.Infer(ctx, img)
	if err != nil {
		return nil, err
	}

	records := ToRecords(dets, img.Bounds(), m.now(), m.newID)
	if err := m.store.Save(ctx, imagePath, records); err != nil {
		return nil, autolabel.NewError(autolabel.KindExecution, "save annotations", err)
	}

	m.logger.WithFields(logrus.Fields{
		"image_path": imagePath,
		"detections": len(records),
		"time_ms":    durationMs(elapsed),
	}).Debug("inference done")

	return &Result{
		ImagePath:       imagePath,
		Annotations:     records,
		InferenceTimeMs: durationMs(elapsed),
	}, nil
}

// InferBatch 按顺序推理 paths[start : min(start+count, len(paths))]
//
// 单张失败只计数并记录日志, 不中断整个批次; start 越界时结果为空.
// ctx 取消时返回已处理部分的结果和 ctx.Err()
func (m *Manager) InferBatch(ctx context.Context, paths []string, start, count int, cfg Config) (*BatchResult, error) {
	begin := time.Now()
	if start < 0 {
		start = 0
	}
	if start > len(paths) {
		start = len(paths)
	}
	if count < 0 {
		count = 0
	}
	end := len(paths)
	if count < end-start {
		end = start + count
	}

	res := &BatchResult{Results: make([]*Result, 0, end-start)}
	for _, path := range paths[start:end] {
		if err := ctx.Err(); err != nil {
			res.TotalTimeMs = durationMs(time.Since(begin))
			return res, err
		}
		r, err := m.InferSingle(ctx, path, cfg)
		if err != nil {
			res.ErrorCount++
			m.logger.WithFields(logrus.Fields{
				"image_path": path,
				"stage":      stageOf(err),
				"error":      err.Error(),
			}).Warn("inference failed")
			continue
		}
		res.Results = append(res.Results, r)
		res.SuccessCount++
	}
	res.TotalTimeMs = durationMs(time.Since(begin))

	m.logger.WithFields(logrus.Fields{
		"success": res.SuccessCount,
		"failed":  res.ErrorCount,
		"time_ms": res.TotalTimeMs,
	}).Info("batch inference done")
	return res, nil
}

// ClearEngineCache 清空本地引擎缓存, 返回清除的条目数
func (m *Manager) ClearEngineCache() int {
	return m.cache.Clear()
}

// InspectModel 加载 (或复用已缓存的) 本地模型并返回模型信息
func (m *Manager) InspectModel(local Local) (*ModelSummary, error) {
	h, release, err := m.cache.Acquire(backend.CacheKey{
		ModelPath:      local.ModelPath,
		UseAccelerator: local.UseAccelerator,
		ConfThreshold:  local.ConfThreshold,
	})
	if err != nil {
		return nil, err
	}
	defer release()

	w, hgt := h.Engine().InputSize()
	return &ModelSummary{
		ModelPath:  local.ModelPath,
		InputSize:  [2]int{w, hgt},
		ClassNames: h.Engine().ClassNames(),
	}, nil
}

// RemoteHealth 检查远程服务是否可用
func (m *Manager) RemoteHealth(ctx context.Context, remote Remote) error {
	return m.remote(remote).Health(ctx)
}

// RemoteModelInfo 获取远程服务的模型信息
func (m *Manager) RemoteModelInfo(ctx context.Context, remote Remote) (*backend.ModelInfo, error) {
	return m.remote(remote).ModelInfo(ctx)
}

// Close 释放缓存的引擎
func (m *Manager) Close() error {
	return m.cache.Close()
}

func (m *Manager) remote(r Remote) *backend.Remote {
	return backend.NewRemote(r.Endpoint, r.ConfThreshold, r.IOUThreshold, backend.WithHTTPClient(m.httpClient))
}

func (m *Manager) backendFor(mode Mode) (backend.Backend, error) {
	switch c := mode.(type) {
	case Remote:
		return m.remote(c), nil
	case *Remote:
		return m.remote(*c), nil
	case Local:
		return backend.NewLocal(m.cache, c.ModelPath, c.UseAccelerator, c.ConfThreshold, c.IOUThreshold), nil
	case *Local:
		return backend.NewLocal(m.cache, c.ModelPath, c.UseAccelerator, c.ConfThreshold, c.IOUThreshold), nil
	default:
		return nil, autolabel.Errorf(autolabel.KindUnsupported, "dispatch", "unsupported backend %T", mode)
	}
}

// ToRecords 检测结果 -> 标注记录
//
// 普通框裁剪到图片范围; 旋转框只裁剪中心点, 角度由度转为弧度.
// 宽高至少为 1, X/Y 为左上角
func ToRecords(dets []autolabel.Detection, bounds image.Rectangle, now time.Time, newID func() string) []annotation.Record {
	imgW, imgH := float64(bounds.Dx()), float64(bounds.Dy())
	created := now.UTC().Format(time.RFC3339)

	records := make([]annotation.Record, 0, len(dets))
	for _, d := range dets {
		r := annotation.Record{
			ID:      newID(),
			Label:   d.ClassName,
			Created: created,
			Visible: true,
		}
		if d.Oriented() {
			cx := clamp(float64(d.Box[0]), 0, imgW)
			cy := clamp(float64(d.Box[1]), 0, imgH)
			w := math.Max(float64(d.Box[2]), 1)
			h := math.Max(float64(d.Box[3]), 1)
			rad := float64(*d.Angle) * math.Pi / 180

			r.Type = annotation.TypeRotatedRectangle
			r.X, r.Y = cx-w/2, cy-h/2
			r.Width, r.Height = w, h
			r.Rotation = &rad
		} else {
			x1 := clamp(float64(d.Box[0]), 0, imgW)
			y1 := clamp(float64(d.Box[1]), 0, imgH)
			x2 := clamp(float64(d.Box[2]), 0, imgW)
			y2 := clamp(float64(d.Box[3]), 0, imgH)

			r.Type = annotation.TypeRectangle
			r.X, r.Y = x1, y1
			r.Width = math.Max(x2-x1, 1)
			r.Height = math.Max(y2-y1, 1)
		}
		records = append(records, r)
	}
	return records
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(v, hi))
}

func durationMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func stageOf(err error) string {
	var ae *autolabel.Error
	if errors.As(err, &ae) {
		return ae.Stage
	}
	return ""
}
