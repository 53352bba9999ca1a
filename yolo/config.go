package yolo

import (
	"github.com/getcharzp/go-autolabel"
)

// Config 引擎的初始化参数
type Config struct {
	ModelPath          string // ONNX 模型路径
	OnnxRuntimeLibPath string // ONNX Runtime 动态库路径

	// 推理参数
	ConfThreshold float32 // 置信度阈值 (默认 0.25)
	IOUThreshold  float32 // NMS IOU 阈值 (默认 0.45)

	// 模型参数
	InputSize int // 模型未声明输入尺寸时使用, 默认 640

	// 可选参数
	UseCuda    bool // (可选) 是否启用 CUDA, 不可用时回退 CPU
	NumThreads int  // (可选) ONNX 线程数, 默认 4
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		OnnxRuntimeLibPath: autolabel.DefaultLibraryPath(),
		ConfThreshold:      0.25,
		IOUThreshold:       0.45,
		InputSize:          640,
		NumThreads:         4,
	}
}

// DefaultOBBConfig 旋转框模型的默认配置
func DefaultOBBConfig() Config {
	cfg := DefaultConfig()
	cfg.InputSize = 1024
	return cfg
}

// Tensor 模型输入/输出张量, 数据按行优先存放
type Tensor struct {
	Shape []int64
	Data  []float32
}
