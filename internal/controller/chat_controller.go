package controller

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"docchat-client/internal/dto"
	"docchat-client/internal/pkg/logger"
	"docchat-client/internal/pkg/serverutils"
	"docchat-client/internal/service"

	"github.com/gofiber/fiber/v2"
)

type IChatController interface {
	RegisterRoutes(r fiber.Router)
	SendChat(ctx *fiber.Ctx) error
}

type chatController struct {
	chatService service.IChatService
	jwtSecret   string
	logger      logger.ILogger
}

func NewChatController(chatService service.IChatService, jwtSecret string, log logger.ILogger) IChatController {
	return &chatController{
		chatService: chatService,
		jwtSecret:   jwtSecret,
		logger:      log,
	}
}

func (c *chatController) RegisterRoutes(r fiber.Router) {
	h := r.Group("/chat")
	h.Use(serverutils.JwtMiddleware(c.jwtSecret))
	h.Post("", c.SendChat)
}

func (c *chatController) SendChat(ctx *fiber.Ctx) error {
	deviceId, _ := ctx.Locals(serverutils.LocalsDeviceId).(string)

	var req dto.SendChatRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}

	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res, err := c.chatService.SendChat(ctx.UserContext(), deviceId, &req)
	if err != nil {
		if errors.Is(err, service.ErrSessionOwnedByAnotherDevice) {
			return fiber.NewError(fiber.StatusForbidden, err.Error())
		}
		return err
	}

	if !strings.Contains(ctx.Get(fiber.HeaderAccept), "text/event-stream") {
		return ctx.JSON(res)
	}

	ctx.Set(fiber.HeaderContentType, "text/event-stream")
	ctx.Set(fiber.HeaderCacheControl, "no-cache")
	ctx.Set(fiber.HeaderConnection, "keep-alive")

	ctx.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		streamCtx, cancel := context.WithCancel(context.Background())
		defer cancel()

		err := c.chatService.StreamChat(streamCtx, res, func(chunk dto.StreamChunk) error {
			data, err := json.Marshal(chunk)
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return err
			}
			// a failed flush means the widget went away
			return w.Flush()
		})
		if err != nil {
			c.logger.Warn("ChatController", "Stream ended early", map[string]interface{}{
				"session_id": res.SessionId.String(),
				"error":      err.Error(),
			})
		}
	})
	return nil
}
