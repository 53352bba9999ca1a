package yolo

import (
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/getcharzp/go-autolabel"
)

// Engine YOLO 检测引擎 (普通框 / 旋转框)
//
// 构造后只读; 会话执行由互斥锁串行化, 同一引擎同一时刻最多一次推理,
// 并发调用会阻塞等待. 提升吞吐应在单次执行内做 batch, 而不是增加并发持锁者.
// 本地执行没有超时, 运行库卡住时调用方会一直阻塞.
type Engine struct {
	mu      sync.Mutex
	session Session

	config      Config
	inputW      int
	inputH      int
	classNames  []string
	accelerated bool
}

// Prediction 一次推理的结果
type Prediction struct {
	Detections []autolabel.Detection
	// RunTime 仅模型执行耗时, 不含预处理/后处理
	RunTime     time.Duration
	Preprocess  time.Duration
	Postprocess time.Duration
}

// NewEngine 加载模型并初始化引擎
//
// 输入尺寸取自模型声明的输入形状 [N,C,H,W], 未声明时使用 cfg.InputSize (默认 640);
// 类别表取自模型元数据 "names", 缺失时使用 COCO 80 类
func NewEngine(rt Runtime, cfg Config) (*Engine, error) {
	if rt == nil {
		rt = OnnxRuntime{}
	}
	if cfg.InputSize <= 0 {
		cfg.InputSize = 640
	}

	session, err := rt.Open(cfg)
	if err != nil {
		var ae *autolabel.Error
		if errors.As(err, &ae) {
			return nil, err
		}
		return nil, autolabel.NewError(autolabel.KindBackendUnavailable, "load model",
			fmt.Errorf("failed to load model %s: %w", cfg.ModelPath, err))
	}

	info := session.Info()
	inputW, inputH := cfg.InputSize, cfg.InputSize
	if len(info.InputShape) == 4 {
		if h := info.InputShape[2]; h > 0 {
			inputH = int(h)
		}
		if w := info.InputShape[3]; w > 0 {
			inputW = int(w)
		}
	}

	return &Engine{
		session:     session,
		config:      cfg,
		inputW:      inputW,
		inputH:      inputH,
		classNames:  ParseClassNames(info.Names),
		accelerated: info.Accelerated,
	}, nil
}

// Destroy 释放相关资源
func (e *Engine) Destroy() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil
	}
	err := e.session.Destroy()
	e.session = nil
	return err
}

// InputSize 模型输入宽高
func (e *Engine) InputSize() (int, int) {
	return e.inputW, e.inputH
}

// ClassNames 类别表副本
func (e *Engine) ClassNames() []string {
	return append([]string(nil), e.classNames...)
}

// Accelerated 是否运行在加速器上
func (e *Engine) Accelerated() bool {
	return e.accelerated
}

// Config 引擎配置
func (e *Engine) Config() Config {
	return e.config
}

// Predict 使用配置中的阈值执行检测
func (e *Engine) Predict(img image.Image) (*Prediction, error) {
	return e.PredictWithThresholds(img, e.config.ConfThreshold, e.config.IOUThreshold)
}

// PredictWithThresholds 执行检测推理: 预处理 -> 模型执行 -> 解码 -> NMS
//
// # Params:
//
//	img: 待检测图片
//	confThresh: 置信度阈值
//	iouThresh: NMS IOU 阈值
func (e *Engine) PredictWithThresholds(img image.Image, confThresh, iouThresh float32) (*Prediction, error) {
	// 预处理
	start := time.Now()
	input, lb, err := Letterbox(img, e.inputW, e.inputH)
	if err != nil {
		return nil, autolabel.NewError(autolabel.KindInput, "preprocess", err)
	}
	pred := &Prediction{Preprocess: time.Since(start)}

	// 推理
	output, runTime, err := e.run(input)
	if err != nil {
		return nil, err
	}
	pred.RunTime = runTime

	// 后处理
	start = time.Now()
	dets, err := Decode(output, lb, e.classNames, confThresh)
	if err != nil {
		return nil, autolabel.NewError(autolabel.KindBackendProtocol, "postprocess", err)
	}
	pred.Detections = NMS(dets, iouThresh)
	pred.Postprocess = time.Since(start)

	return pred, nil
}

// run 串行执行模型, 只统计持锁后的执行时间
func (e *Engine) run(input *Tensor) (*Tensor, time.Duration, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session == nil {
		return nil, 0, autolabel.Errorf(autolabel.KindExecution, "run", "engine destroyed")
	}
	start := time.Now()
	output, err := e.session.Run(input)
	elapsed := time.Since(start)
	if err != nil {
		return nil, elapsed, autolabel.NewError(autolabel.KindExecution, "run", err)
	}
	return output, elapsed, nil
}
