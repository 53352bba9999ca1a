package yolo

// Runtime 打开模型会话
//
// 默认实现为 OnnxRuntime, 测试可替换为不依赖动态库的实现
type Runtime interface {
	Open(cfg Config) (Session, error)
}

// SessionInfo 会话打开时读取到的模型信息
type SessionInfo struct {
	InputShape  []int64 // 声明的输入形状 [N, C, H, W], 动态维度 <= 0
	Names       string  // 元数据 "names" 原始字符串, 可能为空
	Accelerated bool    // 是否运行在加速器上
}

// Session 已加载的模型会话
//
// Run 不保证可重入, 由 Engine 负责串行化调用
type Session interface {
	Info() SessionInfo
	Run(input *Tensor) (*Tensor, error)
	Destroy() error
}
