package yolo

import (
	"fmt"
	"regexp"
)

// namesMetadataKey Ultralytics 导出 ONNX 时写入类别表的元数据键
const namesMetadataKey = "names"

// cocoClassNames 模型未携带类别表时使用的 COCO 80 类
//
//	https://github.com/ultralytics/ultralytics/blob/main/ultralytics/cfg/datasets/coco.yaml
var cocoClassNames = []string{
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck", "boat",
	"traffic light", "fire hydrant", "stop sign", "parking meter", "bench", "bird", "cat",
	"dog", "horse", "sheep", "cow", "elephant", "bear", "zebra", "giraffe", "backpack",
	"umbrella", "handbag", "tie", "suitcase", "frisbee", "skis", "snowboard", "sports ball",
	"kite", "baseball bat", "baseball glove", "skateboard", "surfboard", "tennis racket",
	"bottle", "wine glass", "cup", "fork", "knife", "spoon", "bowl", "banana", "apple",
	"sandwich", "orange", "broccoli", "carrot", "hot dog", "pizza", "donut", "cake", "chair",
	"couch", "potted plant", "bed", "dining table", "toilet", "tv", "laptop", "mouse", "remote",
	"keyboard", "cell phone", "microwave", "oven", "toaster", "sink", "refrigerator", "book",
	"clock", "vase", "scissors", "teddy bear", "hair drier", "toothbrush",
}

// quotedName 匹配 {0: 'person', 1: "bicycle", ...} 中的引号内容
var quotedName = regexp.MustCompile(`['"]([^'"]+)['"]`)

// DefaultClassNames 返回默认类别表的副本
func DefaultClassNames() []string {
	return append([]string(nil), cocoClassNames...)
}

// ParseClassNames 解析元数据中的类别表, 解析不到时返回默认 COCO 类别
func ParseClassNames(raw string) []string {
	matches := quotedName.FindAllStringSubmatch(raw, -1)
	if len(matches) == 0 {
		return DefaultClassNames()
	}
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, m[1])
	}
	return names
}

// className 按索引取类别名, 越界时返回 class_<id>
func className(names []string, id int) string {
	if id >= 0 && id < len(names) {
		return names[id]
	}
	return fmt.Sprintf("class_%d", id)
}
