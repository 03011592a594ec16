package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/mbeckert/subhub/app/controllers"
	"github.com/mbeckert/subhub/internal/pkg/payments"
)

type WebhookRouter struct {
}

func (h WebhookRouter) InstallRouter(app *fiber.App) {
	app.Post(payments.WebhookPath(), controllers.HandleStripeWebhook)
}

func NewWebhookRouter() *WebhookRouter {
	return &WebhookRouter{}
}
