package yolo

import (
	"sort"

	"github.com/getcharzp/go-autolabel"
)

// NMS 按类别的非极大值抑制
//
// 按置信度降序, 保留当前最高分框, 抑制同类别中 IoU >= iouThresh 的框.
// 旋转框使用 (cx, cy, w, h) 直接得到的未旋转外接框计算 IoU
//
// # Params:
//
//	dets: 候选框
//	iouThresh: IOU 阈值
func NMS(dets []autolabel.Detection, iouThresh float32) []autolabel.Detection {
	cands := make([]autolabel.Detection, len(dets))
	copy(cands, dets)
	sort.SliceStable(cands, func(i, j int) bool {
		return cands[i].Confidence > cands[j].Confidence
	})

	keep := make([]autolabel.Detection, 0, len(cands))
	suppressed := make([]bool, len(cands))

	for i := range cands {
		if suppressed[i] {
			continue
		}
		keep = append(keep, cands[i])
		bi := cands[i].Bounds()

		for j := i + 1; j < len(cands); j++ {
			if suppressed[j] || cands[j].ClassID != cands[i].ClassID {
				continue
			}
			if IoU(bi, cands[j].Bounds()) >= iouThresh {
				suppressed[j] = true
			}
		}
	}
	return keep
}

// IoU 两个 [x_min, y_min, x_max, y_max] 框的交并比
func IoU(a, b [4]float32) float32 {
	interW := max(0, min(a[2], b[2])-max(a[0], b[0]))
	interH := max(0, min(a[3], b[3])-max(a[1], b[1]))
	inter := interW * interH

	union := (a[2]-a[0])*(a[3]-a[1]) + (b[2]-b[0])*(b[3]-b[1]) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}
