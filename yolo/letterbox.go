package yolo

import (
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"
)

// padValue 填充区域的像素值 (114/255)
const padValue = float32(114.0 / 255.0)

// LetterboxInfo 记录 letterbox 变换参数, 后处理时用于把坐标映射回原图
type LetterboxInfo struct {
	OrigW, OrigH    int     // 原图尺寸
	InputW, InputH  int     // 模型输入尺寸
	ResizedW        int     // 缩放后的宽
	ResizedH        int     // 缩放后的高
	Ratio           float64 // 缩放比例
	PadLeft, PadTop int     // 像素偏移
}

// NewLetterboxInfo 计算 letterbox 参数
//
// ratio = min(inputW/origW, inputH/origH), 缩放尺寸四舍五入,
// 偏移为 round(d - 0.1), 与 Python letterbox 的取整方式一致
func NewLetterboxInfo(origW, origH, inputW, inputH int) (LetterboxInfo, error) {
	if origW <= 0 || origH <= 0 {
		return LetterboxInfo{}, fmt.Errorf("图片尺寸无效: %dx%d", origW, origH)
	}
	if inputW <= 0 || inputH <= 0 {
		return LetterboxInfo{}, fmt.Errorf("模型输入尺寸无效: %dx%d", inputW, inputH)
	}

	ratio := min(float64(inputW)/float64(origW), float64(inputH)/float64(origH))
	newW := max(1, min(inputW, int(math.Round(float64(origW)*ratio))))
	newH := max(1, min(inputH, int(math.Round(float64(origH)*ratio))))

	dw := float64(inputW-newW) / 2
	dh := float64(inputH-newH) / 2

	return LetterboxInfo{
		OrigW:    origW,
		OrigH:    origH,
		InputW:   inputW,
		InputH:   inputH,
		ResizedW: newW,
		ResizedH: newH,
		Ratio:    ratio,
		PadLeft:  max(0, int(math.Round(dw-0.1))),
		PadTop:   max(0, int(math.Round(dh-0.1))),
	}, nil
}

// Scale 原图坐标 -> 模型输入坐标
func (lb LetterboxInfo) Scale(x, y float32) (float32, float32) {
	return float32(float64(x)*lb.Ratio) + float32(lb.PadLeft),
		float32(float64(y)*lb.Ratio) + float32(lb.PadTop)
}

// Unscale 模型输入坐标 -> 原图坐标: 先减偏移再除以缩放比例
func (lb LetterboxInfo) Unscale(x, y float32) (float32, float32) {
	return float32(float64(x-float32(lb.PadLeft)) / lb.Ratio),
		float32(float64(y-float32(lb.PadTop)) / lb.Ratio)
}

// UnscaleLength 模型输入中的长度 -> 原图长度
func (lb LetterboxInfo) UnscaleLength(v float32) float32 {
	return float32(float64(v) / lb.Ratio)
}

// Letterbox 预处理: 等比缩放 + 居中填充 + 归一化, 输出 (1,3,H,W) 张量
//
// # Params:
//
//	img: 原图
//	inputW, inputH: 模型输入尺寸
func Letterbox(img image.Image, inputW, inputH int) (*Tensor, LetterboxInfo, error) {
	bounds := img.Bounds()
	lb, err := NewLetterboxInfo(bounds.Dx(), bounds.Dy(), inputW, inputH)
	if err != nil {
		return nil, lb, err
	}

	// 三角滤波 (双线性) 缩放, 输出为 NRGBA
	resized := imaging.Resize(img, lb.ResizedW, lb.ResizedH, imaging.Linear)

	plane := inputW * inputH
	data := make([]float32, 3*plane)
	for i := range data {
		data[i] = padValue
	}

	// 准备 Tensor 数据 (CHW + Normalize 0-1)
	for y := 0; y < lb.ResizedH; y++ {
		row := resized.Pix[y*resized.Stride:]
		base := (y+lb.PadTop)*inputW + lb.PadLeft
		for x := 0; x < lb.ResizedW; x++ {
			idx := base + x
			data[idx] = float32(row[x*4]) / 255.0           // R
			data[plane+idx] = float32(row[x*4+1]) / 255.0   // G
			data[2*plane+idx] = float32(row[x*4+2]) / 255.0 // B
		}
	}

	return &Tensor{
		Shape: []int64{1, 3, int64(inputH), int64(inputW)},
		Data:  data,
	}, lb, nil
}
