// Package apiutil holds request parsing and error mapping shared by handlers.
package apiutil

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"warehouse-backend/internal/stock"
	"warehouse-backend/internal/workflow"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	DateLayout     = "2006-01-02"
	DateTimeLayout = "2006-01-02 15:04:05"
)

// ParamID reads a positive numeric route parameter.
func ParamID(c *fiber.Ctx, name string) (uint, error) {
	v, err := strconv.ParseUint(c.Params(name), 10, 64)
	if err != nil || v == 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "Invalid "+name)
	}
	return uint(v), nil
}

// QueryID reads an optional positive numeric query value. 0 means absent.
func QueryID(c *fiber.Ctx, name string) (uint, error) {
	s := strings.TrimSpace(c.Query(name))
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil || v == 0 {
		return 0, fiber.NewError(fiber.StatusBadRequest, "Invalid "+name)
	}
	return uint(v), nil
}

// QueryDate parses an optional YYYY-MM-DD query value.
func QueryDate(c *fiber.Ctx, name string) (*time.Time, error) {
	s := strings.TrimSpace(c.Query(name))
	if s == "" {
		return nil, nil
	}
	d, err := time.Parse(DateLayout, s)
	if err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, name+" must be YYYY-MM-DD")
	}
	return &d, nil
}

// EndOfDay returns the last second of d's day.
func EndOfDay(d time.Time) time.Time {
	return d.Add(24*time.Hour - time.Second)
}

// FormatTime renders an optional timestamp.
func FormatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(DateTimeLayout)
	return &s
}

// DomainError maps stock and workflow errors to HTTP errors. Anything unknown
// is logged and reported as a 500 with the fallback message.
func DomainError(err error, fallback string) error {
	var fe *fiber.Error
	switch {
	case err == nil:
		return nil
	case errors.As(err, &fe):
		return fe
	case errors.Is(err, gorm.ErrRecordNotFound), errors.Is(err, stock.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, stock.ErrInsufficient),
		errors.Is(err, workflow.ErrInvalidTransition):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, stock.ErrInvalidMove), errors.Is(err, stock.ErrInvariant):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	zap.L().Error(fallback, zap.Error(err))
	return fiber.NewError(fiber.StatusInternalServerError, fallback)
}

// ErrorHandler renders every error as {"error": message}.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	msg := "Internal server error"

	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		msg = fe.Message
	} else {
		zap.L().Error("unhandled error",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Error(err),
		)
	}
	return c.Status(code).JSON(fiber.Map{"error": msg})
}
