package server

import (
	"github.com/getcharzp/go-autolabel/inference"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// 未传阈值时使用的默认值
const (
	defaultConf float32 = 0.25
	defaultIOU  float32 = 0.45
)

// ModeRequest 推理模式, type 为 remote 或 local
type ModeRequest struct {
	Type          string   `json:"type" validate:"required,oneof=remote local"`
	BaseURL       string   `json:"base_url" validate:"required_if=Type remote,omitempty,url"`
	ModelPath     string   `json:"model_path" validate:"required_if=Type local"`
	ConfThreshold *float32 `json:"conf_threshold" validate:"omitempty,gte=0,lte=1"`
	IOUThreshold  *float32 `json:"iou_threshold" validate:"omitempty,gte=0,lte=1"`
	UseGPU        bool     `json:"use_gpu"`
}

// CountRequest 数量策略, type 为 all (缺省) 或 count
type CountRequest struct {
	Type  string `json:"type" validate:"omitempty,oneof=all count"`
	Value int    `json:"value" validate:"gte=0"`
}

// SingleRequest 单张推理请求
type SingleRequest struct {
	ImagePath string      `json:"image_path" validate:"required"`
	Mode      ModeRequest `json:"mode"`
}

// BatchRequest 批量推理请求
type BatchRequest struct {
	ImagePaths []string     `json:"image_paths" validate:"required,min=1,dive,required"`
	StartIndex int          `json:"start_index" validate:"gte=0"`
	Count      CountRequest `json:"count"`
	Mode       ModeRequest  `json:"mode"`
}

// InspectRequest 模型信息请求
type InspectRequest struct {
	ModelPath string `json:"model_path" validate:"required"`
	UseGPU    bool   `json:"use_gpu"`
}

func (r ModeRequest) toMode() inference.Mode {
	conf, iou := defaultConf, defaultIOU
	if r.ConfThreshold != nil {
		conf = *r.ConfThreshold
	}
	if r.IOUThreshold != nil {
		iou = *r.IOUThreshold
	}
	if r.Type == "local" {
		return inference.Local{ModelPath: r.ModelPath, ConfThreshold: conf, IOUThreshold: iou, UseAccelerator: r.UseGPU}
	}
	return inference.Remote{Endpoint: r.BaseURL, ConfThreshold: conf, IOUThreshold: iou}
}

func (r CountRequest) toCount() inference.Count {
	if r.Type == "count" {
		return inference.CountN(r.Value)
	}
	return inference.CountAll()
}

// bind 解析并校验请求体
func (s *Server) bind(c *fiber.Ctx, out any) error {
	if err := c.BodyParser(out); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body: "+err.Error())
	}
	return s.validator.Struct(out)
}

func (s *Server) health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":        "ok",
		"cached_models": s.manager.EngineCache().Len(),
	})
}

func (s *Server) inferSingle(c *fiber.Ctx) error {
	var req SingleRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}

	res, err := s.manager.InferSingle(c.UserContext(), req.ImagePath, inference.Config{Mode: req.Mode.toMode()})
	if err != nil {
		return err
	}
	return c.JSON(res)
}

func (s *Server) inferBatch(c *fiber.Ctx) error {
	var req BatchRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}

	count := req.Count.toCount()
	n := count.Resolve(len(req.ImagePaths), req.StartIndex)
	s.log.WithFields(logrus.Fields{
		"request_id": requestID(c),
		"images":     len(req.ImagePaths),
		"start":      req.StartIndex,
		"count":      count.String(),
	}).Info("batch inference")

	cfg := inference.Config{Mode: req.Mode.toMode(), Count: count}
	res, err := s.manager.InferBatch(c.UserContext(), req.ImagePaths, req.StartIndex, n, cfg)
	if err != nil {
		return err
	}
	return c.JSON(res)
}

func (s *Server) clearCache(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"cleared": s.manager.ClearEngineCache()})
}

// remoteFromQuery 查询参数 base_url 覆盖默认远程地址
func (s *Server) remoteFromQuery(c *fiber.Ctx) (inference.Remote, error) {
	r := s.remote
	if u := c.Query("base_url"); u != "" {
		r.Endpoint = u
	}
	if err := s.validator.Var(r.Endpoint, "required,url"); err != nil {
		return r, fiber.NewError(fiber.StatusBadRequest, "invalid base_url")
	}
	return r, nil
}

func (s *Server) remoteHealth(c *fiber.Ctx) error {
	r, err := s.remoteFromQuery(c)
	if err != nil {
		return err
	}
	if err := s.manager.RemoteHealth(c.UserContext(), r); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"status": "ok", "base_url": r.Endpoint})
}

func (s *Server) remoteModelInfo(c *fiber.Ctx) error {
	r, err := s.remoteFromQuery(c)
	if err != nil {
		return err
	}
	info, err := s.manager.RemoteModelInfo(c.UserContext(), r)
	if err != nil {
		return err
	}
	return c.JSON(info)
}

func (s *Server) inspectModel(c *fiber.Ctx) error {
	var req InspectRequest
	if err := s.bind(c, &req); err != nil {
		return err
	}
	info, err := s.manager.InspectModel(inference.Local{
		ModelPath:      req.ModelPath,
		ConfThreshold:  defaultConf,
		UseAccelerator: req.UseGPU,
	})
	if err != nil {
		return err
	}
	return c.JSON(info)
}
