// Package config 从环境变量 (以及可选的 .env 文件) 读取服务配置
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/getcharzp/go-autolabel"
	"github.com/getcharzp/go-autolabel/inference"
	"github.com/getcharzp/go-autolabel/yolo"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// 环境变量
const (
	EnvAddr       = "AUTOLABEL_ADDR"
	EnvLogLevel   = "AUTOLABEL_LOG_LEVEL"
	EnvLogFile    = "AUTOLABEL_LOG_FILE"
	EnvMode       = "AUTOLABEL_MODE"
	EnvRemoteURL  = "AUTOLABEL_REMOTE_URL"
	EnvModelPath  = "AUTOLABEL_MODEL_PATH"
	EnvConf       = "AUTOLABEL_CONF"
	EnvIOU        = "AUTOLABEL_IOU"
	EnvUseGPU     = "AUTOLABEL_USE_GPU"
	EnvNumThreads = "AUTOLABEL_NUM_THREADS"
)

// 推理模式
const (
	ModeRemote = "remote"
	ModeLocal  = "local"
)

// Config 服务配置
type Config struct {
	Addr     string `validate:"required"`
	LogLevel string `validate:"oneof=trace debug info warn warning error"`
	LogFile  string

	OnnxRuntimeLibPath string
	NumThreads         int `validate:"gte=1"`

	Mode          string  `validate:"oneof=remote local"`
	RemoteURL     string  `validate:"required_if=Mode remote"`
	ModelPath     string  `validate:"required_if=Mode local"`
	ConfThreshold float32 `validate:"gte=0,lte=1"`
	IOUThreshold  float32 `validate:"gte=0,lte=1"`
	UseGPU        bool
}

// Default 默认配置
func Default() *Config {
	def := yolo.DefaultConfig()
	return &Config{
		Addr:               ":8080",
		LogLevel:           "info",
		OnnxRuntimeLibPath: def.OnnxRuntimeLibPath,
		NumThreads:         def.NumThreads,
		Mode:               ModeRemote,
		RemoteURL:          "http://127.0.0.1:8000",
		ConfThreshold:      def.ConfThreshold,
		IOUThreshold:       def.IOUThreshold,
	}
}

// NewValidator 创建校验器
func NewValidator() *validator.Validate {
	return validator.New()
}

// Load 读取 .env 文件 (不存在时忽略) 和环境变量, 并校验
//
// # Params:
//
//	files: .env 文件, 为空时读取当前目录的 .env
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}

	cfg := Default()
	cfg.Addr = envString(EnvAddr, cfg.Addr)
	cfg.LogLevel = strings.ToLower(envString(EnvLogLevel, cfg.LogLevel))
	cfg.LogFile = envString(EnvLogFile, cfg.LogFile)
	cfg.OnnxRuntimeLibPath = envString(autolabel.LibraryPathEnv, cfg.OnnxRuntimeLibPath)
	cfg.Mode = strings.ToLower(envString(EnvMode, cfg.Mode))
	cfg.RemoteURL = envString(EnvRemoteURL, cfg.RemoteURL)
	cfg.ModelPath = envString(EnvModelPath, cfg.ModelPath)

	var err error
	if cfg.NumThreads, err = envInt(EnvNumThreads, cfg.NumThreads); err != nil {
		return nil, err
	}
	if cfg.ConfThreshold, err = envFloat(EnvConf, cfg.ConfThreshold); err != nil {
		return nil, err
	}
	if cfg.IOUThreshold, err = envFloat(EnvIOU, cfg.IOUThreshold); err != nil {
		return nil, err
	}
	if cfg.UseGPU, err = envBool(EnvUseGPU, cfg.UseGPU); err != nil {
		return nil, err
	}

	if err := cfg.Validate(NewValidator()); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验配置
func (c *Config) Validate(v *validator.Validate) error {
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Mode == ModeRemote {
		if err := v.Var(c.RemoteURL, "url"); err != nil {
			return fmt.Errorf("invalid config: %s: %w", EnvRemoteURL, err)
		}
	}
	return nil
}

// Remote 远程推理配置
func (c *Config) Remote() inference.Remote {
	return inference.Remote{
		Endpoint:      c.RemoteURL,
		ConfThreshold: c.ConfThreshold,
		IOUThreshold:  c.IOUThreshold,
	}
}

// Local 本地推理配置
func (c *Config) Local() inference.Local {
	return inference.Local{
		ModelPath:      c.ModelPath,
		ConfThreshold:  c.ConfThreshold,
		IOUThreshold:   c.IOUThreshold,
		UseAccelerator: c.UseGPU,
	}
}

// InferenceMode 按 Mode 选择推理后端
func (c *Config) InferenceMode() inference.Mode {
	if c.Mode == ModeLocal {
		return c.Local()
	}
	return c.Remote()
}

// EngineConfig 加载本地模型时使用的基础配置
func (c *Config) EngineConfig() yolo.Config {
	cfg := yolo.DefaultConfig()
	cfg.OnnxRuntimeLibPath = c.OnnxRuntimeLibPath
	cfg.NumThreads = c.NumThreads
	return cfg
}

func envString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := envString(key, "")
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func envFloat(key string, def float32) (float32, error) {
	v := envString(key, "")
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return float32(f), nil
}

func envBool(key string, def bool) (bool, error) {
	v := envString(key, "")
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}
