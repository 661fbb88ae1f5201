package httputil

import (
	"github.com/gofiber/fiber/v3"

	"github.com/netsblox/cloud-go/internal/errs"
)

// SuccessResponse wraps successful API responses.
type SuccessResponse struct {
	Data any `json:"data"`
}

// ErrorBody holds structured error details.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse wraps failed API responses.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// Success sends a 200 JSON response with the given data.
func Success(c fiber.Ctx, data any) error {
	return c.JSON(SuccessResponse{Data: data})
}

// SuccessStatus sends a JSON response with a custom status code.
func SuccessStatus(c fiber.Ctx, status int, data any) error {
	return c.Status(status).JSON(SuccessResponse{Data: data})
}

// Fail sends a JSON error response with the given status, code, and message.
func Fail(c fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(ErrorResponse{
		Error: ErrorBody{
			Code:    code,
			Message: message,
		},
	})
}

// FailErr renders err according to the error taxonomy. Unrecognized errors are
// rendered as internal errors so driver details never reach the wire.
func FailErr(c fiber.Ctx, err error) error {
	e, ok := errs.As(err)
	if !ok {
		e = errs.Wrap(errs.KindInternal, err)
	}
	return Fail(c, e.Status(), e.Code(), e.Message())
}
