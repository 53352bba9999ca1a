// Package server 推理服务的 HTTP 接口
package server

import (
	"fmt"

	"github.com/getcharzp/go-autolabel/inference"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
)

// bodyLimit 请求体上限
const bodyLimit = 4 * 1024 * 1024

// Option Server 可选参数
type Option func(*Server) error

// Server HTTP 服务
type Server struct {
	app       *fiber.App
	manager   *inference.Manager
	log       *logrus.Logger
	validator *validator.Validate
	remote    inference.Remote // 未指定 base_url 时使用
}

// New 创建服务并注册路由
func New(options ...Option) (*Server, error) {
	s := &Server{}
	for _, option := range options {
		if err := option(s); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if s.manager == nil {
		return nil, fmt.Errorf("inference manager is required")
	}
	if s.log == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if s.validator == nil {
		s.validator = validator.New()
	}

	s.app = newFiber(s.errorHandler)
	s.routes()
	return s, nil
}

// WithManager 推理编排器
func WithManager(m *inference.Manager) Option {
	return func(s *Server) error {
		s.manager = m
		return nil
	}
}

// WithLogger 日志
func WithLogger(logger *logrus.Logger) Option {
	return func(s *Server) error {
		s.log = logger
		return nil
	}
}

// WithValidator 请求校验器
func WithValidator(v *validator.Validate) Option {
	return func(s *Server) error {
		s.validator = v
		return nil
	}
}

// WithDefaultRemote 默认远程服务配置
func WithDefaultRemote(r inference.Remote) Option {
	return func(s *Server) error {
		s.remote = r
		return nil
	}
}

func newFiber(errorHandler fiber.ErrorHandler) *fiber.App {
	return fiber.New(fiber.Config{
		AppName:               "autolabel",
		BodyLimit:             bodyLimit,
		StrictRouting:         true,
		CaseSensitive:         true,
		DisableStartupMessage: true,
		JSONEncoder:           jsoniter.Marshal,
		JSONDecoder:           jsoniter.Unmarshal,
		ErrorHandler:          errorHandler,
	})
}

func (s *Server) routes() {
	s.app.Use(newRequestIDMiddleware())
	s.app.Use(newAccessLogMiddleware(s.log))

	api := s.app.Group("/api")
	api.Get("/health", s.health)

	infer := api.Group("/inference")
	infer.Post("/single", s.inferSingle)
	infer.Post("/batch", s.inferBatch)
	infer.Delete("/cache", s.clearCache)

	remote := api.Group("/remote")
	remote.Get("/health", s.remoteHealth)
	remote.Get("/model-info", s.remoteModelInfo)

	api.Post("/models/inspect", s.inspectModel)
}

// App fiber 应用
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen 监听地址并阻塞
func (s *Server) Listen(addr string) error {
	s.log.WithField("addr", addr).Info("server listening")
	return s.app.Listen(addr)
}

// Shutdown 停止接收新请求并等待已有请求结束
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
