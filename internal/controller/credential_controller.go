package controller

import (
	"docchat-client/internal/dto"
	"docchat-client/internal/pkg/serverutils"
	"docchat-client/internal/service"

	"github.com/gofiber/fiber/v2"
)

type ICredentialController interface {
	RegisterRoutes(r fiber.Router)
	CreateSession(ctx *fiber.Ctx) error
	ListMigrations(ctx *fiber.Ctx) error
}

type credentialController struct {
	credentialService service.ICredentialService
	migrationService  *service.MigrationService
	jwtSecret         string
}

func NewCredentialController(credentialService service.ICredentialService, migrationService *service.MigrationService, jwtSecret string) ICredentialController {
	return &credentialController{
		credentialService: credentialService,
		migrationService:  migrationService,
		jwtSecret:         jwtSecret,
	}
}

func (c *credentialController) RegisterRoutes(r fiber.Router) {
	h := r.Group("/chatkit")
	h.Post("/session", c.CreateSession)
	h.Get("/migrations", serverutils.JwtMiddleware(c.jwtSecret), c.ListMigrations)
}

func (c *credentialController) CreateSession(ctx *fiber.Ctx) error {
	var req dto.CreateChatSessionRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}

	if err := serverutils.ValidateRequest(req); err != nil {
		return err
	}

	res, err := c.credentialService.Issue(ctx.UserContext(), &req)
	if err != nil {
		return err
	}

	return ctx.Status(fiber.StatusCreated).JSON(res)
}

// ListMigrations returns the session exports received for the caller's device.
func (c *credentialController) ListMigrations(ctx *fiber.Ctx) error {
	deviceId, _ := ctx.Locals(serverutils.LocalsDeviceId).(string)
	return ctx.JSON(serverutils.SuccessResponse("Success list migrations", c.migrationService.Migrations(deviceId)))
}
