package server

import (
	"crypto/rand"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

// RequestIDHeader 请求 id 头
const RequestIDHeader = "X-Request-ID"

func newRequestIDMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		requestID := c.Get(RequestIDHeader)
		if requestID == "" {
			id, err := ulid.New(ulid.Timestamp(time.Now()), rand.Reader)
			if err == nil {
				requestID = id.String()
			}
		}

		c.Locals(RequestIDHeader, requestID)
		c.Set(RequestIDHeader, requestID)
		return c.Next()
	}
}

func requestID(c *fiber.Ctx) string {
	id, ok := c.Locals(RequestIDHeader).(string)
	if !ok || id == "" {
		return "unknown"
	}
	return id
}

func newAccessLogMiddleware(logger *logrus.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()
		if err != nil {
			// 先写出错误响应, 日志中才有最终状态码
			if herr := c.App().ErrorHandler(c, err); herr != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
		}

		status := c.Response().StatusCode()
		entry := logger.WithFields(logrus.Fields{
			"request_id": requestID(c),
			"method":     c.Method(),
			"path":       c.Path(),
			"status":     status,
			"latency_ms": time.Since(start).Milliseconds(),
		})
		switch {
		case status >= 500:
			entry.Error("server error")
		case status >= 400:
			entry.Warn("client error")
		default:
			entry.Info("success")
		}
		return nil
	}
}
