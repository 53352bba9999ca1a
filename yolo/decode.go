package yolo

import (
	"fmt"
	"math"

	"github.com/getcharzp/go-autolabel"
)

// Geometry 输出框的几何类型
type Geometry int

const (
	AxisAligned Geometry = iota // [cx, cy, w, h, c0..cN]
	Oriented                    // [cx, cy, w, h, c0..cN, angle]
)

// DetectGeometry 根据特征数判断输出类型
//
// F == 4 + numClasses + 1 时为旋转框, 其余按普通框处理 (分数通道数为 F-4)
func DetectGeometry(features, numClasses int) (Geometry, int) {
	if numClasses > 0 && features == 4+numClasses+1 {
		return Oriented, numClasses
	}
	return AxisAligned, features - 4
}

// CorrectAngle 修正旋转框角度 (弧度) 并转为 [0,360) 的角度
//
// 0.5π <= angle <= 0.75π 时减去 π
func CorrectAngle(rad float32) float32 {
	r := float64(rad)
	if r >= 0.5*math.Pi && r <= 0.75*math.Pi {
		r -= math.Pi
	}
	deg := math.Mod(r*180/math.Pi, 360)
	if deg < 0 {
		deg += 360
	}
	out := float32(deg)
	// float32 舍入可能得到 360
	if out >= 360 {
		out = 0
	}
	return out
}

// Decode 解析 (1, F, A) 原始输出为检测结果 (NMS 之前)
//
// # Params:
//
//	out: 模型输出张量
//	lb: 预处理时的 letterbox 参数
//	classNames: 类别表
//	confThresh: 置信度阈值, 低于阈值的 anchor 被丢弃
func Decode(out *Tensor, lb LetterboxInfo, classNames []string, confThresh float32) ([]autolabel.Detection, error) {
	if out == nil || len(out.Shape) != 3 {
		return nil, fmt.Errorf("输出形状异常: %v", shapeOf(out))
	}
	if out.Shape[0] != 1 {
		return nil, fmt.Errorf("仅支持 batch=1, 实际为 %d", out.Shape[0])
	}
	features, anchors := int(out.Shape[1]), int(out.Shape[2])
	if features < 5 || anchors < 0 {
		return nil, fmt.Errorf("输出形状异常: %v", out.Shape)
	}
	if len(out.Data) != features*anchors {
		return nil, fmt.Errorf("输出数据长度 %d 与形状 %v 不符", len(out.Data), out.Shape)
	}

	geometry, numScores := DetectGeometry(features, len(classNames))
	data := out.Data
	dets := make([]autolabel.Detection, 0)

	for i := 0; i < anchors; i++ {
		// 找最大类别分数
		classID := 0
		maxScore := data[4*anchors+i]
		for c := 1; c < numScores; c++ {
			if score := data[(4+c)*anchors+i]; score > maxScore || isNaN(maxScore) && !isNaN(score) {
				maxScore = score
				classID = c
			}
		}
		// NaN 分数同样丢弃
		if !(maxScore >= confThresh) {
			continue
		}

		// 提取坐标
		cx := data[0*anchors+i]
		cy := data[1*anchors+i]
		w := data[2*anchors+i]
		h := data[3*anchors+i]

		det := autolabel.Detection{
			ClassID:    classID,
			ClassName:  className(classNames, classID),
			Confidence: maxScore,
		}

		if geometry == Oriented {
			angle := CorrectAngle(data[(features-1)*anchors+i])
			ocx, ocy := lb.Unscale(cx, cy)
			det.Box = [4]float32{ocx, ocy, lb.UnscaleLength(w), lb.UnscaleLength(h)}
			det.Angle = &angle
		} else {
			x1, y1 := lb.Unscale(cx-w/2, cy-h/2)
			x2, y2 := lb.Unscale(cx+w/2, cy+h/2)
			ow, oh := float32(lb.OrigW), float32(lb.OrigH)
			det.Box = [4]float32{clamp(x1, 0, ow), clamp(y1, 0, oh), clamp(x2, 0, ow), clamp(y2, 0, oh)}
		}
		dets = append(dets, det)
	}
	return dets, nil
}

func isNaN(v float32) bool {
	return v != v
}

func clamp(v, lo, hi float32) float32 {
	return min(max(v, lo), hi)
}

func shapeOf(t *Tensor) []int64 {
	if t == nil {
		return nil
	}
	return t.Shape
}
