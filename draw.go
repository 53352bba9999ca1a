package autolabel

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"os"

	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// TextDrawer 文本绘制工具, 用于在预览图上标注类别名称
type TextDrawer struct {
	font     *opentype.Font
	face     font.Face
	fontSize float64
}

// NewTextDrawer 从字体文件创建文本绘制工具
//
// # Params:
//
//	fontPath: 字体路径, 为空时使用内置的 Go Regular 字体
func NewTextDrawer(fontPath string) (*TextDrawer, error) {
	if fontPath == "" {
		return NewTextDrawerFromBytes(goregular.TTF)
	}
	fontBytes, err := os.ReadFile(fontPath)
	if err != nil {
		return nil, fmt.Errorf("打开字体文件失败：%w", err)
	}
	return NewTextDrawerFromBytes(fontBytes)
}

// NewTextDrawerFromBytes 从字体数据创建文本绘制工具
func NewTextDrawerFromBytes(fontBytes []byte) (*TextDrawer, error) {
	ttFont, err := opentype.Parse(fontBytes)
	if err != nil {
		return nil, fmt.Errorf("解析字体文件失败：%w", err)
	}

	d := &TextDrawer{font: ttFont}
	if err := d.SetSize(12); err != nil {
		return nil, err
	}
	return d, nil
}

// SetSize 动态调整字体大小
func (d *TextDrawer) SetSize(fontSize float64) error {
	if d.face != nil && d.fontSize == fontSize {
		return nil
	}

	nf, err := opentype.NewFace(d.font, &opentype.FaceOptions{
		Size:    fontSize,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return err
	}

	// 释放旧 Face
	if d.face != nil {
		d.face.Close()
	}
	d.face = nf
	d.fontSize = fontSize
	return nil
}

// Measure 返回文本的像素宽度和行高
func (d *TextDrawer) Measure(text string) (width, height int) {
	adv := font.MeasureString(d.face, text)
	m := d.face.Metrics()
	return adv.Ceil(), (m.Ascent + m.Descent).Ceil()
}

// DrawText 绘制文本, (x, y) 为基线起点
func (d *TextDrawer) DrawText(img draw.Image, text string, x, y int, c color.Color) {
	dr := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: d.face,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	dr.DrawString(text)
}

// DrawLabel 在 (x, y) 左上角绘制带底色的标签
func (d *TextDrawer) DrawLabel(img draw.Image, text string, x, y int, fg, bg color.Color) {
	w, h := d.Measure(text)
	top := y - h
	if top < img.Bounds().Min.Y {
		top = y
	}
	rect := image.Rect(x, top, x+w+4, top+h)
	draw.Draw(img, rect, image.NewUniform(bg), image.Point{}, draw.Src)
	d.DrawText(img, text, x+2, top+d.face.Metrics().Ascent.Ceil(), fg)
}

// Close 释放资源
func (d *TextDrawer) Close() {
	if d.face != nil {
		d.face.Close()
	}
}
