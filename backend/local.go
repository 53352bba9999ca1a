package backend

import (
	"context"
	"image"
	"time"

	"github.com/getcharzp/go-autolabel"
)

// Local 本地模型后端, 引擎来自 EngineCache
type Local struct {
	cache *EngineCache
	key   CacheKey
	iou   float32
}

// NewLocal 创建本地后端
//
// # Params:
//
//	cache: 引擎缓存
//	modelPath: 模型路径
//	useAccelerator: 是否尝试 CUDA
//	confThreshold, iouThreshold: 阈值
func NewLocal(cache *EngineCache, modelPath string, useAccelerator bool, confThreshold, iouThreshold float32) *Local {
	return &Local{
		cache: cache,
		key: CacheKey{
			ModelPath:      modelPath,
			UseAccelerator: useAccelerator,
			ConfThreshold:  confThreshold,
		},
		iou: iouThreshold,
	}
}

// Infer 返回检测结果与模型执行耗时
func (l *Local) Infer(ctx context.Context, img image.Image) ([]autolabel.Detection, time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, autolabel.NewError(autolabel.KindExecution, "run", err)
	}

	h, release, err := l.cache.Acquire(l.key)
	if err != nil {
		return nil, 0, err
	}
	defer release()

	pred, err := h.Engine().PredictWithThresholds(img, l.key.ConfThreshold, l.iou)
	if err != nil {
		return nil, 0, err
	}
	return pred.Detections, pred.RunTime, nil
}
