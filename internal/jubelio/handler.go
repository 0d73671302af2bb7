package jubelio

import (
	"encoding/json"
	"errors"

	"warehouse-backend/internal/apiutil"
	"warehouse-backend/internal/database"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type SyncResponse struct {
	Lines  int             `json:"lines"`
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body,omitempty"`
	Reason string          `json:"reason,omitempty"`
}

func notConfigured() error {
	return fiber.NewError(fiber.StatusServiceUnavailable, "Jubelio relay is not configured")
}

// POST /api/save-stock-data
// Relays the JSON body unchanged and answers with the ERP's status and body.
func RelayHandler(client *Client) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if client == nil {
			return notConfigured()
		}
		body := c.Body()
		if len(body) == 0 || !json.Valid(body) {
			return fiber.NewError(fiber.StatusBadRequest, "Request body must be JSON")
		}

		res, err := client.Push(c.UserContext(), body)
		if err != nil {
			zap.L().Error("jubelio relay failed", zap.Error(err))
			return fiber.NewError(fiber.StatusBadGateway, "Jubelio is unreachable")
		}
		if !res.OK() {
			zap.L().Warn("jubelio rejected relay", zap.String("answer", describe(res)))
		}

		if res.ContentType != "" {
			c.Set(fiber.HeaderContentType, res.ContentType)
		}
		return c.Status(res.Status).Send(res.Body)
	}
}

// POST /api/save-stock-data/sync
// Builds the stock payload from the database and pushes it now.
func SyncHandler(client *Client) fiber.Handler {
	return func(c *fiber.Ctx) error {
		lines, res, err := Sync(c.UserContext(), database.DB, client)
		switch {
		case errors.Is(err, ErrNotConfigured):
			return notConfigured()
		case errors.Is(err, ErrUnreachable):
			zap.L().Error("jubelio sync failed", zap.Error(err))
			return fiber.NewError(fiber.StatusBadGateway, "Jubelio is unreachable")
		case err != nil:
			return apiutil.DomainError(err, "Failed to build stock payload")
		}

		out := SyncResponse{Lines: lines, Status: res.Status, Reason: res.Reason}
		if json.Valid(res.Body) {
			out.Body = res.Body
		}
		status := fiber.StatusOK
		if !res.OK() {
			status = fiber.StatusBadGateway
		}
		return c.Status(status).JSON(out)
	}
}
