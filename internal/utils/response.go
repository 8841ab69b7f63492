package utils

import "github.com/gofiber/fiber/v2"

// APIResponse is the envelope every REST endpoint answers with. The chat
// websocket has its own frame format; this wrapper covers the HTTP surface
// only. CorrelationID echoes the request's correlation identifier so mobile
// clients can attach it to support reports.
type APIResponse struct {
	Success       bool        `json:"success"`
	Data          interface{} `json:"data,omitempty"`
	Message       string      `json:"message"`
	CorrelationID string      `json:"correlation_id,omitempty"`
}

// SendSuccess answers 200 with the standard envelope.
func SendSuccess(c *fiber.Ctx, message string, data interface{}) error {
	return SendSuccessWithStatus(c, fiber.StatusOK, message, data)
}

// SendSuccessWithStatus answers with the given status, for endpoints that
// create resources (201) or accept work for later (202).
func SendSuccessWithStatus(c *fiber.Ctx, status int, message string, data interface{}) error {
	if message == "" {
		message = "success"
	}
	if status == 0 {
		status = fiber.StatusOK
	}

	return c.Status(status).JSON(APIResponse{
		Success:       true,
		Data:          data,
		Message:       message,
		CorrelationID: correlationFromLocals(c),
	})
}

// SendError answers with a failure envelope. Message is client-facing:
// callers map internal errors to a safe phrase before reaching here.
func SendError(c *fiber.Ctx, status int, message string) error {
	if message == "" {
		message = "error"
	}

	return c.Status(status).JSON(APIResponse{
		Success:       false,
		Message:       message,
		CorrelationID: correlationFromLocals(c),
	})
}

// correlationFromLocals reads the identifier the correlation middleware
// stashed on the request. Reading the local directly avoids an import cycle
// with the middleware package.
func correlationFromLocals(c *fiber.Ctx) string {
	if c == nil {
		return ""
	}
	if id, ok := c.Locals("correlation_id").(string); ok {
		return id
	}
	return ""
}
