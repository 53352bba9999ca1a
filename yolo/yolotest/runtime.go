// Package yolotest 提供不依赖 ONNX Runtime 动态库的 yolo.Runtime 实现, 供测试使用
package yolotest

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/getcharzp/go-autolabel/yolo"
)

// Runtime 可编程的假运行时
type Runtime struct {
	InputShape  []int64
	Names       string
	Accelerated bool

	// Output 根据输入生成输出, 为空时返回全零的 (1, 84, 0) 张量
	Output func(input *yolo.Tensor) (*yolo.Tensor, error)
	// OpenErr 非空时 Open 直接失败
	OpenErr error
	// OpenDelay / RunDelay 模拟加载和执行耗时
	OpenDelay time.Duration
	RunDelay  time.Duration

	mu        sync.Mutex
	opened    []yolo.Config
	running   atomic.Int32
	maxActive atomic.Int32
	runs      atomic.Int32
	destroyed atomic.Int32
}

// Open 实现 yolo.Runtime
func (r *Runtime) Open(cfg yolo.Config) (yolo.Session, error) {
	if r.OpenDelay > 0 {
		time.Sleep(r.OpenDelay)
	}
	if r.OpenErr != nil {
		return nil, r.OpenErr
	}
	r.mu.Lock()
	r.opened = append(r.opened, cfg)
	r.mu.Unlock()
	return &session{rt: r}, nil
}

// Opens 返回 Open 成功的次数
func (r *Runtime) Opens() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.opened)
}

// Opened 返回每次 Open 收到的配置
func (r *Runtime) Opened() []yolo.Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]yolo.Config(nil), r.opened...)
}

// Runs 执行次数
func (r *Runtime) Runs() int { return int(r.runs.Load()) }

// MaxConcurrentRuns 观察到的最大并发执行数
func (r *Runtime) MaxConcurrentRuns() int { return int(r.maxActive.Load()) }

// Destroyed 被销毁的会话数
func (r *Runtime) Destroyed() int { return int(r.destroyed.Load()) }

type session struct {
	rt        *Runtime
	destroyed atomic.Bool
}

func (s *session) Info() yolo.SessionInfo {
	return yolo.SessionInfo{
		InputShape:  s.rt.InputShape,
		Names:       s.rt.Names,
		Accelerated: s.rt.Accelerated,
	}
}

func (s *session) Run(input *yolo.Tensor) (*yolo.Tensor, error) {
	if s.destroyed.Load() {
		return nil, errors.New("session destroyed")
	}
	active := s.rt.running.Add(1)
	defer s.rt.running.Add(-1)
	for {
		cur := s.rt.maxActive.Load()
		if active <= cur || s.rt.maxActive.CompareAndSwap(cur, active) {
			break
		}
	}
	s.rt.runs.Add(1)

	if s.rt.RunDelay > 0 {
		time.Sleep(s.rt.RunDelay)
	}
	if s.rt.Output == nil {
		return &yolo.Tensor{Shape: []int64{1, 84, 0}}, nil
	}
	return s.rt.Output(input)
}

func (s *session) Destroy() error {
	if s.destroyed.CompareAndSwap(false, true) {
		s.rt.destroyed.Add(1)
	}
	return nil
}

// AnchorTensor 由逐 anchor 的特征行构造 (1, F, A) 输出张量
//
// rows[i] 为第 i 个 anchor 的 [cx, cy, w, h, scores..., (angle)]
func AnchorTensor(rows [][]float32) *yolo.Tensor {
	if len(rows) == 0 {
		return &yolo.Tensor{Shape: []int64{1, 84, 0}}
	}
	features, anchors := len(rows[0]), len(rows)
	data := make([]float32, features*anchors)
	for a, row := range rows {
		for f, v := range row {
			data[f*anchors+a] = v
		}
	}
	return &yolo.Tensor{Shape: []int64{1, int64(features), int64(anchors)}, Data: data}
}

// Row 构造一行特征: 框 + 指定类别的分数, 其余类别为 0
func Row(cx, cy, w, h float32, numClasses, classID int, score float32) []float32 {
	row := make([]float32, 4+numClasses)
	row[0], row[1], row[2], row[3] = cx, cy, w, h
	row[4+classID] = score
	return row
}

// OrientedRow 在 Row 的基础上追加角度 (弧度)
func OrientedRow(cx, cy, w, h float32, numClasses, classID int, score, angle float32) []float32 {
	return append(Row(cx, cy, w, h, numClasses, classID, score), angle)
}
