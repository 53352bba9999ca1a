package server

import (
	"errors"

	"github.com/getcharzp/go-autolabel"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

// ErrorResponse 错误响应
type ErrorResponse struct {
	Error     string `json:"error"`
	Kind      string `json:"kind,omitempty"`
	Stage     string `json:"stage,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// statusOf 错误类别 -> HTTP 状态码
func statusOf(err error) int {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		return fiber.StatusBadRequest
	}

	switch autolabel.KindOf(err) {
	case autolabel.KindInput:
		return fiber.StatusBadRequest
	case autolabel.KindUnsupported:
		return fiber.StatusNotImplemented
	case autolabel.KindBackendUnavailable:
		return fiber.StatusServiceUnavailable
	case autolabel.KindBackendProtocol:
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

func (s *Server) errorHandler(c *fiber.Ctx, err error) error {
	resp := ErrorResponse{
		Error:     err.Error(),
		RequestID: requestID(c),
	}
	var ae *autolabel.Error
	if errors.As(err, &ae) {
		resp.Kind = ae.Kind.String()
		resp.Stage = ae.Stage
	}
	return c.Status(statusOf(err)).JSON(resp)
}
