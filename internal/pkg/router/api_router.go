package router

import (
	"time"

	"github.com/MichaelBrandt/CourseGate/app/controllers"
	"github.com/MichaelBrandt/CourseGate/internal/pkg/env"
	"github.com/MichaelBrandt/CourseGate/internal/pkg/middleware"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New(limiter.Config{
		Max:        60,
		Expiration: 1 * time.Minute,
	}))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	v1 := api.Group("/v1")
	v1.Post("/auth/register", controllers.HandleRegister)
	v1.Post("/auth/login", controllers.HandleLogin)
	v1.Post("/auth/logout", controllers.HandleLogout)

	v1.Get("/membership", middleware.RequireAPISessionAuth, controllers.HandleGetMembership)
	v1.Post("/billing/paypal/claim", middleware.RequireAPISessionAuth, controllers.HandleClaimPayPalSubscription)
	v1.Post("/billing/discord/unlink", middleware.RequireAPISessionAuth, controllers.HandleDiscordUnlink)

	admin := v1.Group("/admin", middleware.RequireAPIAdmin)
	admin.Post("/videos", controllers.HandleCreateVideo)
	admin.Post("/videos/announce", controllers.HandleAnnounceVideo)
	admin.Post("/paypal/import", controllers.HandlePayPalImport)

	// Internal routes for the scheduler and operators, guarded by a shared
	// secret instead of a session.
	internal := api.Group("/internal", middleware.RequireInternalSecret(env.GetEnv("INTERNAL_API_SECRET", "")))
	internal.Get("/reconcile/paypal", controllers.HandleReconcileSweep)
	internal.Post("/videos", controllers.HandleCreateVideo)
	internal.Post("/videos/announce", controllers.HandleAnnounceVideo)
	internal.Post("/paypal/import", controllers.HandlePayPalImport)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
