//go:build noonnx

package yolo

import "github.com/getcharzp/go-autolabel"

// OnnxRuntime 未编译 ONNX 支持, Open 总是返回 autolabel.ErrUnsupported 类别的错误
type OnnxRuntime struct{}

// Open 返回不支持错误
func (OnnxRuntime) Open(cfg Config) (Session, error) {
	oc := &autolabel.OnnxConfig{OnnxRuntimeLibPath: cfg.OnnxRuntimeLibPath}
	return nil, oc.New()
}
