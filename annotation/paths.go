package annotation

import (
	"path/filepath"
	"strings"
)

// SupportedImageExtensions 支持的图片格式
var SupportedImageExtensions = []string{"jpg", "jpeg", "png", "bmp", "gif", "tiff", "tif", "webp"}

// IsImageFile 根据扩展名判断是否为支持的图片
func IsImageFile(path string) bool {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	for _, e := range SupportedImageExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// FilePath 图片对应的标注文件路径: 同目录下 <文件名>.json
func FilePath(imagePath string) string {
	dir := filepath.Dir(imagePath)
	base := filepath.Base(imagePath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(dir, stem+".json")
}
