//go:build noonnx

package autolabel

// OnnxConfig 未编译 ONNX 支持时的占位配置
type OnnxConfig struct {
	OnnxRuntimeLibPath string
	UseCuda            bool
	NumThreads         int
	Accelerated        bool
}

// New 总是返回 ErrUnsupported
func (cfg *OnnxConfig) New() error {
	return Errorf(KindUnsupported, "load model", "local backend unsupported in this build (noonnx)")
}

// Destroy 无操作
func (cfg *OnnxConfig) Destroy() {}
