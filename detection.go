package autolabel

// Detection 后端输出的单个检测结果
//
// 普通框: Box 为 [x_min, y_min, x_max, y_max], Angle 为空
// 旋转框: Box 为 [cx, cy, w, h], Angle 为角度 (度, [0,360))
type Detection struct {
	ClassID    int        `json:"class_id"`
	ClassName  string     `json:"class_name"`
	Confidence float32    `json:"confidence"`
	Box        [4]float32 `json:"bbox"`
	Angle      *float32   `json:"angle,omitempty"`
}

// Oriented 是否为旋转框
func (d Detection) Oriented() bool {
	return d.Angle != nil
}

// Bounds 轴对齐外接范围 [x_min, y_min, x_max, y_max]
//
// 旋转框直接由 (cx, cy, w, h) 计算, 不考虑角度
func (d Detection) Bounds() [4]float32 {
	if d.Angle == nil {
		return d.Box
	}
	cx, cy, w, h := d.Box[0], d.Box[1], d.Box[2], d.Box[3]
	return [4]float32{cx - w/2, cy - h/2, cx + w/2, cy + h/2}
}
