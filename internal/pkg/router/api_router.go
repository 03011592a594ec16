package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/mbeckert/subhub/app/controllers"
	"github.com/mbeckert/subhub/internal/pkg/middleware"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New())
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	v1 := api.Group("/v1")

	billing := v1.Group("/billing")
	billing.Get("/plans", controllers.HandleListPlans)

	authed := billing.Group("", middleware.APIKeyAuthMiddleware())
	authed.Get("/me", controllers.HandleCurrentSubscription)
	authed.Post("/subscribe", controllers.HandleSubscribe)
	authed.Post("/cancel", controllers.HandleCancel)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
