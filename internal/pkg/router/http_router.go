package router

import (
	"github.com/MichaelBrandt/CourseGate/app/controllers"
	"github.com/MichaelBrandt/CourseGate/internal/pkg/constants"
	"github.com/MichaelBrandt/CourseGate/internal/pkg/middleware"
	"github.com/MichaelBrandt/CourseGate/internal/pkg/oauth"
	"github.com/MichaelBrandt/CourseGate/internal/pkg/session"

	"github.com/gofiber/fiber/v2"
)

type HttpRouter struct {
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	// init session
	session.NewSessionStore()

	// init oauth providers
	oauth.Setup()

	// Apply UserContext middleware globally as first middleware
	app.Use(middleware.UserContextMiddleware)

	// Provider webhooks authenticate with their own signatures, not sessions.
	app.Post(constants.StripeWebhookRoute, controllers.HandleStripeWebhook)
	app.Post(constants.PayPalWebhookRoute, controllers.HandlePayPalWebhook)

	// Discord account linking. goth_fiber resolves the provider from the
	// route param; the callback path must match the redirect URL registered
	// with the provider.
	app.Get("/auth/:provider", controllers.HandleDiscordLink)
	app.Get("/auth/:provider/callback", controllers.HandleDiscordCallback)
}

func NewHttpRouter() *HttpRouter {
	return &HttpRouter{}
}
