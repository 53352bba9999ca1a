package annotation

import (
	"hash/fnv"
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/getcharzp/go-autolabel"
	"github.com/up-zero/gotool/imageutil"
)

// palette 标签颜色表
var palette = []color.RGBA{
	{R: 255, G: 56, B: 56, A: 255},
	{R: 255, G: 157, B: 151, A: 255},
	{R: 255, G: 112, B: 31, A: 255},
	{R: 255, G: 178, B: 29, A: 255},
	{R: 207, G: 210, B: 49, A: 255},
	{R: 72, G: 249, B: 10, A: 255},
	{R: 26, G: 147, B: 52, A: 255},
	{R: 0, G: 212, B: 187, A: 255},
	{R: 44, G: 153, B: 168, A: 255},
	{R: 0, G: 194, B: 255, A: 255},
	{R: 52, G: 69, B: 147, A: 255},
	{R: 100, G: 115, B: 255, A: 255},
	{R: 132, G: 56, B: 255, A: 255},
	{R: 203, G: 56, B: 255, A: 255},
	{R: 255, G: 149, B: 200, A: 255},
}

// LabelColor 同一标签始终使用同一颜色
func LabelColor(label string) color.RGBA {
	h := fnv.New32a()
	h.Write([]byte(label))
	return palette[h.Sum32()%uint32(len(palette))]
}

// Corners 标注的 4 个顶点: TopLeft, TopRight, BottomRight, BottomLeft
//
// 旋转矩形绕中心旋转 Rotation 弧度
func (r Record) Corners() [4][2]float64 {
	if !r.Rotated() || r.Rotation == nil {
		return [4][2]float64{
			{r.X, r.Y},
			{r.X + r.Width, r.Y},
			{r.X + r.Width, r.Y + r.Height},
			{r.X, r.Y + r.Height},
		}
	}
	cx, cy := r.X+r.Width/2, r.Y+r.Height/2
	return rotatedCorners(cx, cy, r.Width, r.Height, *r.Rotation)
}

// rotatedCorners 计算旋转矩形的4个角点
func rotatedCorners(cx, cy, w, h, angle float64) [4][2]float64 {
	cosA, sinA := math.Cos(angle), math.Sin(angle)

	// 未旋转时相对中心的半宽半高向量
	dx := [4]float64{-w / 2, w / 2, w / 2, -w / 2}
	dy := [4]float64{-h / 2, -h / 2, h / 2, h / 2}

	var corners [4][2]float64
	for i := 0; i < 4; i++ {
		// x' = x*cos - y*sin
		// y' = x*sin + y*cos
		corners[i][0] = cx + dx[i]*cosA - dy[i]*sinA
		corners[i][1] = cy + dx[i]*sinA + dy[i]*cosA
	}
	return corners
}

// Draw 将标注绘制到图片副本上
//
// # Params:
//
//	img: 原图
//	records: 标注, 不可见的跳过
//	td: 标签字体, 为空时不绘制文字
//	thickness: 线宽
func Draw(img image.Image, records []Record, td *autolabel.TextDrawer, thickness int) *image.RGBA {
	dst := image.NewRGBA(img.Bounds())
	draw.Draw(dst, img.Bounds(), img, img.Bounds().Min, draw.Src)
	if thickness <= 0 {
		thickness = 2
	}

	for _, r := range records {
		if !r.Visible {
			continue
		}
		c := LabelColor(r.Label)
		corners := r.Corners()

		var pts [4]image.Point
		for i, p := range corners {
			pts[i] = image.Point{X: int(math.Round(p[0])), Y: int(math.Round(p[1]))}
		}
		for i := range pts {
			imageutil.DrawThickLine(dst, pts[i], pts[(i+1)%4], thickness, c)
		}

		if td != nil && r.Label != "" {
			td.DrawLabel(dst, r.Label, pts[0].X, pts[0].Y, color.White, c)
		}
	}
	return dst
}
