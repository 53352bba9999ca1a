// Package backend 推理后端: 远程 REST 服务与本地 ONNX 模型
package backend

import (
	"context"
	"image"
	"time"

	"github.com/getcharzp/go-autolabel"
)

// Backend 推理能力: 输入图片, 输出检测结果和模型耗时
//
// 远程后端的耗时由服务端报告, 本地后端只统计模型执行时间,
// 两者口径一致; 端到端耗时由调用方自行测量
type Backend interface {
	Infer(ctx context.Context, img image.Image) ([]autolabel.Detection, time.Duration, error)
}

// ModelInfo 模型信息
type ModelInfo struct {
	ModelName  string   `json:"model_name"`
	ClassNames []string `json:"class_names"`
	InputSize  []int    `json:"input_size"` // [w, h]
}
