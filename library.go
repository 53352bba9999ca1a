package autolabel

import (
	"fmt"
	"os"
	"runtime"
)

// LibraryPathEnv 覆盖默认 ONNX Runtime 动态库路径的环境变量
const LibraryPathEnv = "ONNXRUNTIME_LIB_PATH"

// DefaultLibraryPath 根据运行时环境判断加载哪个库文件
func DefaultLibraryPath() string {
	if p := os.Getenv(LibraryPathEnv); p != "" {
		return p
	}

	baseDir := "./lib/"
	libName := "onnxruntime"

	// windows onnxruntime.dll
	if runtime.GOOS == "windows" {
		return baseDir + libName + ".dll"
	}

	var ext string
	switch runtime.GOOS {
	case "darwin":
		ext = "dylib"
	case "linux":
		ext = "so"
	default:
		return baseDir + libName + "_amd64.so"
	}

	// ./lib/onnxruntime_amd64.so
	return fmt.Sprintf("%s%s_%s.%s", baseDir, libName, runtime.GOARCH, ext)
}
