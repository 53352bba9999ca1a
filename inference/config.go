// Package inference 推理编排: 读取图片, 分发到远程或本地后端, 生成并保存标注
package inference

import "fmt"

// Mode 推理后端配置, 只有 Remote 和 Local 两种
type Mode interface {
	isMode()
}

// Remote 远程推理服务
type Remote struct {
	Endpoint      string  `json:"base_url"`
	ConfThreshold float32 `json:"conf_threshold"`
	IOUThreshold  float32 `json:"iou_threshold"`
}

// Local 本地 ONNX 模型
type Local struct {
	ModelPath      string  `json:"model_path"`
	ConfThreshold  float32 `json:"conf_threshold"`
	IOUThreshold   float32 `json:"iou_threshold"`
	UseAccelerator bool    `json:"use_gpu"`
}

func (Remote) isMode() {}
func (Local) isMode()  {}

// Count 批量推理数量策略
type Count struct {
	All bool
	N   int
}

// CountAll 推理全部
func CountAll() Count {
	return Count{All: true}
}

// CountN 推理指定数量
func CountN(n int) Count {
	return Count{N: n}
}

// Resolve 从 start 开始实际要处理的数量
func (c Count) Resolve(total, start int) int {
	if start < 0 {
		start = 0
	}
	remaining := total - start
	if remaining <= 0 {
		return 0
	}
	if c.All || c.N > remaining {
		return remaining
	}
	if c.N < 0 {
		return 0
	}
	return c.N
}

func (c Count) String() string {
	if c.All {
		return "all"
	}
	return fmt.Sprintf("%d", c.N)
}

// Config 一次调用的推理配置, 每次调用单独传入
type Config struct {
	Mode  Mode
	Count Count
}
