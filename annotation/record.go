// Package annotation 标注记录、标注存储以及预览绘制
package annotation

import (
	"context"
)

// 标注类型
const (
	TypeRectangle        = "rectangle"
	TypeRotatedRectangle = "rotated-rectangle"
)

// Record 单条标注
//
// X, Y 始终为左上角坐标; Rotation 仅旋转矩形使用, 单位为弧度
type Record struct {
	ID       string   `json:"id"`
	Type     string   `json:"type"`
	X        float64  `json:"x"`
	Y        float64  `json:"y"`
	Width    float64  `json:"width"`
	Height   float64  `json:"height"`
	Rotation *float64 `json:"rotation,omitempty"`
	Label    string   `json:"label"`
	Created  string   `json:"created,omitempty"` // RFC3339
	Visible  bool     `json:"visible"`
}

// Rotated 是否为旋转矩形
func (r Record) Rotated() bool {
	return r.Type == TypeRotatedRectangle
}

// Store 标注持久化
type Store interface {
	// Save 覆盖写入图片对应的全部标注
	Save(ctx context.Context, imagePath string, records []Record) error
	// Load 读取图片对应的标注, 不存在时返回空切片
	Load(ctx context.Context, imagePath string) ([]Record, error)
}
