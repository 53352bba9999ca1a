//go:build !noonnx

package yolo

import (
	"fmt"

	"github.com/getcharzp/go-autolabel"
	"github.com/up-zero/gotool/convertutil"
	ort "github.com/yalue/onnxruntime_go"
)

// OnnxRuntime 基于 ONNX Runtime 的 Runtime 实现
type OnnxRuntime struct{}

// Open 加载模型并创建会话
func (OnnxRuntime) Open(cfg Config) (Session, error) {
	oc := new(autolabel.OnnxConfig)
	if err := convertutil.CopyProperties(cfg, oc); err != nil {
		return nil, fmt.Errorf("复制参数失败: %w", err)
	}
	// 初始化 ONNX
	if err := oc.New(); err != nil {
		return nil, err
	}
	defer oc.Destroy()

	inputs, outputs, err := ort.GetInputOutputInfo(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("读取模型输入输出信息失败: %w", err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return nil, fmt.Errorf("模型输入输出异常 (in:%d out:%d)", len(inputs), len(outputs))
	}

	// 创建 Session
	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath,
		[]string{inputs[0].Name}, []string{outputs[0].Name}, oc.SessionOptions)
	if err != nil {
		return nil, fmt.Errorf("创建 ONNX 会话失败: %w", err)
	}

	return &onnxSession{
		session: session,
		info: SessionInfo{
			InputShape:  append([]int64(nil), inputs[0].Dimensions...),
			Names:       readNamesMetadata(cfg.ModelPath),
			Accelerated: oc.Accelerated,
		},
	}, nil
}

// readNamesMetadata 读取自定义元数据中的类别表, 失败时返回空串
func readNamesMetadata(modelPath string) string {
	md, err := ort.GetModelMetadata(modelPath)
	if err != nil {
		return ""
	}
	defer md.Destroy()

	names, ok, err := md.LookupCustomMetadataMap(namesMetadataKey)
	if err != nil || !ok {
		return ""
	}
	return names
}

type onnxSession struct {
	session *ort.DynamicAdvancedSession
	info    SessionInfo
}

func (s *onnxSession) Info() SessionInfo {
	return s.info
}

// Run 执行一次推理, 输出数据会被复制, 调用方无需管理 ONNX 内存
func (s *onnxSession) Run(input *Tensor) (*Tensor, error) {
	inputTensor, err := ort.NewTensor(ort.NewShape(input.Shape...), input.Data)
	if err != nil {
		return nil, fmt.Errorf("创建 Input Tensor 失败: %w", err)
	}
	defer inputTensor.Destroy()

	outputs := []ort.Value{nil}
	if err := s.session.Run([]ort.Value{inputTensor}, outputs); err != nil {
		return nil, fmt.Errorf("推理失败: %w", err)
	}
	defer outputs[0].Destroy()

	t, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("输出类型异常: %T", outputs[0])
	}
	return &Tensor{
		Shape: append([]int64(nil), t.GetShape()...),
		Data:  append([]float32(nil), t.GetData()...),
	}, nil
}

// Destroy 释放相关资源
func (s *onnxSession) Destroy() error {
	if s.session == nil {
		return nil
	}
	err := s.session.Destroy()
	s.session = nil
	return err
}
